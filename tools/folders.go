package tools

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/ggoodman/mcp-vault-server/mcpservice"
	"github.com/ggoodman/mcp-vault-server/vault"
)

type createFolderArgs struct {
	Path string `json:"path" jsonschema:"description=Vault-relative folder path (e.g. 'Projects/SerialMan/Research')"`
}

func createFolderTool(e *Env) mcpservice.StaticTool {
	return mcpservice.NewTool("create_folder", track(e, "create_folder", e.createFolder),
		mcpservice.WithToolDescription("Create a new folder at the specified path. Creates intermediate folders if needed (like mkdir -p)."),
		mcpservice.WithToolAnnotations(Write),
	)
}

func (e *Env) createFolder(ctx context.Context, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[createFolderArgs]) error {
	p := r.Args().Path
	if !e.Rules.IsPathAllowed(p) {
		e.warn(ctx, "create_folder: access denied", "path", p)
		return ErrAccessDenied
	}
	if ent, err := e.Vault.Stat(p); err == nil {
		if ent.IsDir {
			return w.AppendText("Folder already exists at " + p)
		}
		return fmt.Errorf("A file already exists at %s", p)
	}
	if err := e.Vault.CreateFolder(p); err != nil {
		switch {
		case errors.Is(err, vault.ErrNotDir):
			return fmt.Errorf("A file already exists at %s", p)
		case errors.Is(err, vault.ErrInvalidPath), errors.Is(err, vault.ErrNotFound):
			return ErrAccessDenied
		}
		return err
	}
	return w.AppendText("Created folder " + p)
}

// FileInfo is one entry of a folder listing.
type FileInfo struct {
	Name string `json:"name"`
	Path string `json:"path"`
	Type string `json:"type" jsonschema:"enum=file,enum=folder"`
}

type listFolderArgs struct {
	Path      string   `json:"path,omitempty" jsonschema:"default=/,description=Directory path (default: root)"`
	SortBy    string   `json:"sort_by,omitempty" jsonschema:"enum=name,enum=modified,enum=created,enum=size,description=Sort results by this field"`
	SortOrder string   `json:"sort_order,omitempty" jsonschema:"enum=asc,enum=desc,default=asc,description=Sort direction (default: asc)"`
	FileTypes []string `json:"file_types,omitempty" jsonschema:"description=Filter to files with these extensions (e.g. ['.md']). Folders are always included."`
	Recursive bool     `json:"recursive,omitempty" jsonschema:"default=false,description=List contents of subdirectories recursively"`
	Depth     *int     `json:"depth,omitempty" jsonschema:"minimum=1,description=Max recursion depth (only when recursive is true). Default: unlimited."`
}

type listFolderResult struct {
	Items []FileInfo `json:"items"`
}

func listFolderTool(e *Env) mcpservice.StaticTool {
	return mcpservice.NewToolWithOutput("list_folder", track(e, "list_folder", e.listFolder),
		mcpservice.WithToolDescription("List files and folders inside a specific directory. Supports sorting, file type filtering, and recursive listing."),
		mcpservice.WithToolAnnotations(ReadOnly),
	)
}

type listedEntry struct {
	FileInfo
	entry vault.Entry
}

func (e *Env) listFolder(ctx context.Context, w mcpservice.ToolResponseWriterTyped[listFolderResult], r *mcpservice.ToolRequest[listFolderArgs]) error {
	args := r.Args()
	if args.Path == "" {
		args.Path = "/"
	}
	switch args.SortBy {
	case "", "name", "modified", "created", "size":
	default:
		return errors.New("sort_by must be one of name, modified, created, size")
	}
	desc := false
	switch args.SortOrder {
	case "", "asc":
	case "desc":
		desc = true
	default:
		return errors.New(`sort_order must be "asc" or "desc"`)
	}
	if args.Depth != nil && *args.Depth < 1 {
		return errors.New("depth must be at least 1")
	}

	if !e.Rules.IsPathAllowed(args.Path) {
		e.warn(ctx, "list_folder: access denied", "path", args.Path)
		return ErrAccessDenied
	}
	folder, err := e.Vault.Stat(args.Path)
	if err != nil || !folder.IsDir {
		return ErrAccessDenied
	}

	maxDepth := 1
	if args.Recursive {
		maxDepth = -1
		if args.Depth != nil {
			maxDepth = *args.Depth
		}
	}
	items, err := e.collectChildren(folder.Path, maxDepth, 1)
	if err != nil {
		return err
	}

	if len(args.FileTypes) > 0 {
		kept := items[:0]
		for _, it := range items {
			if it.Type == "folder" || hasAnySuffix(it.Name, args.FileTypes) {
				kept = append(kept, it)
			}
		}
		items = kept
	}

	if args.SortBy != "" {
		sort.SliceStable(items, func(i, j int) bool {
			c := compareEntries(items[i], items[j], args.SortBy)
			if desc {
				return c > 0
			}
			return c < 0
		})
	}

	out := make([]FileInfo, 0, len(items))
	for _, it := range items {
		out = append(out, it.FileInfo)
	}
	w.SetStructured(listFolderResult{Items: out})
	return writeJSON(w, out, "")
}

// collectChildren lists p depth first, descending while depth allows.
// A negative maxDepth is unlimited.
func (e *Env) collectChildren(p string, maxDepth, depth int) ([]listedEntry, error) {
	children, err := e.Vault.ListChildren(p)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", p, err)
	}
	var out []listedEntry
	for _, c := range children {
		if !e.Rules.IsPathAllowed(c.Path) {
			continue
		}
		kind := "file"
		if c.IsDir {
			kind = "folder"
		}
		out = append(out, listedEntry{FileInfo: FileInfo{Name: c.Name, Path: c.Path, Type: kind}, entry: c})
		if c.IsDir && (maxDepth < 0 || depth < maxDepth) {
			nested, err := e.collectChildren(c.Path, maxDepth, depth+1)
			if err != nil {
				return nil, err
			}
			out = append(out, nested...)
		}
	}
	return out, nil
}

// compareEntries orders by name, or by a file stat where folders count as
// zero.
func compareEntries(a, b listedEntry, by string) int {
	if by == "name" {
		if c := strings.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name)); c != 0 {
			return c
		}
		return strings.Compare(a.Name, b.Name)
	}
	stat := func(le listedEntry) int64 {
		if le.entry.IsDir {
			return 0
		}
		switch by {
		case "modified":
			return le.entry.ModTime.UnixMilli()
		case "created":
			return le.entry.Created.UnixMilli()
		default:
			return le.entry.Size
		}
	}
	av, bv := stat(a), stat(b)
	switch {
	case av < bv:
		return -1
	case av > bv:
		return 1
	}
	return 0
}

func hasAnySuffix(name string, suffixes []string) bool {
	for _, s := range suffixes {
		if strings.HasSuffix(name, s) {
			return true
		}
	}
	return false
}
