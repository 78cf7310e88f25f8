package tools

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/ggoodman/mcp-vault-server/mcpservice"
	"github.com/ggoodman/mcp-vault-server/vault"
)

// NoteMetadata is the structure of a note without its body.
type NoteMetadata struct {
	Path        string          `json:"path"`
	Name        string          `json:"name"`
	CreatedAt   string          `json:"createdAt"`
	ModifiedAt  string          `json:"modifiedAt"`
	SizeBytes   int64           `json:"sizeBytes"`
	Frontmatter map[string]any  `json:"frontmatter"`
	Tags        []string        `json:"tags"`
	Headings    []vault.Heading `json:"headings"`
	Links       []string        `json:"links"`
}

func getNoteMetadataTool(e *Env) mcpservice.StaticTool {
	return mcpservice.NewToolWithOutput("get_note_metadata", track(e, "get_note_metadata", e.getNoteMetadata),
		mcpservice.WithToolDescription("Get metadata of a note (frontmatter, tags, headings, links) without its full content."),
		mcpservice.WithToolAnnotations(ReadOnly),
	)
}

func (e *Env) getNoteMetadata(ctx context.Context, w mcpservice.ToolResponseWriterTyped[NoteMetadata], r *mcpservice.ToolRequest[pathArgs]) error {
	ent, err := e.lookupFile(ctx, "get_note_metadata", r.Args().Path)
	if err != nil {
		return err
	}
	meta, err := e.Vault.MetadataFor(ent.Path)
	if err != nil {
		return ErrAccessDenied
	}
	res := NoteMetadata{
		Path:        ent.Path,
		Name:        ent.Name,
		CreatedAt:   formatTime(ent.Created),
		ModifiedAt:  formatTime(ent.ModTime),
		SizeBytes:   ent.Size,
		Frontmatter: meta.Frontmatter,
		Tags:        vault.TagsOf(e.Vault, ent.Path),
		Headings:    meta.Headings,
		Links:       make([]string, 0, len(meta.Links)),
	}
	if res.Frontmatter == nil {
		res.Frontmatter = map[string]any{}
	}
	if res.Tags == nil {
		res.Tags = []string{}
	}
	if res.Headings == nil {
		res.Headings = []vault.Heading{}
	}
	for _, l := range meta.Links {
		res.Links = append(res.Links, l.Target)
	}
	w.SetStructured(res)
	return writeJSON(w, res, "")
}

// Backlink is one note linking to the requested one.
type Backlink struct {
	Source  string `json:"source"`
	Context string `json:"context"`
}

type backlinksResult struct {
	Backlinks []Backlink `json:"backlinks"`
	Count     int        `json:"count"`
}

func getBacklinksTool(e *Env) mcpservice.StaticTool {
	return mcpservice.NewToolWithOutput("get_backlinks", track(e, "get_backlinks", e.getBacklinks),
		mcpservice.WithToolDescription("Get incoming links (backlinks) to a note: which other notes link to it."),
		mcpservice.WithToolAnnotations(ReadOnly),
	)
}

func (e *Env) getBacklinks(ctx context.Context, w mcpservice.ToolResponseWriterTyped[backlinksResult], r *mcpservice.ToolRequest[pathArgs]) error {
	ent, err := e.lookupFile(ctx, "get_backlinks", r.Args().Path)
	if err != nil {
		return err
	}
	resolved, err := e.Vault.ResolvedLinks(ctx)
	if err != nil {
		return fmt.Errorf("resolve links: %w", err)
	}
	sources := make([]string, 0, len(resolved))
	for src, targets := range resolved {
		if _, ok := targets[ent.Path]; ok {
			sources = append(sources, src)
		}
	}
	sort.Strings(sources)

	target := ent.Basename()
	links := make([]Backlink, 0)
	for _, src := range sources {
		if len(links) >= MaxBacklinks {
			break
		}
		srcEnt, err := e.Vault.Stat(src)
		if err != nil || srcEnt.IsDir || !e.EntryAllowed(srcEnt) {
			continue
		}
		content, err := e.Vault.Read(src)
		if err != nil {
			e.warn(ctx, "get_backlinks: failed to read source file for context", "sourcePath", src, "error", err.Error())
		}
		links = append(links, Backlink{Source: src, Context: linkContext(content, target)})
	}

	res := backlinksResult{Backlinks: links, Count: len(links)}
	w.SetStructured(res)
	return writeJSON(w, res, "")
}

// linkContext returns the first line of content linking to target.
func linkContext(content, target string) string {
	plain, aliased := "[["+target+"]]", "[["+target+"|"
	for _, line := range strings.Split(content, "\n") {
		if strings.Contains(line, plain) || strings.Contains(line, aliased) {
			return truncate(strings.TrimSpace(line), MaxBacklinkContextLength)
		}
	}
	return ""
}

// VaultOverview summarizes the visible part of the vault.
type VaultOverview struct {
	Name           string         `json:"name"`
	FileCount      int            `json:"fileCount"`
	FolderCount    int            `json:"folderCount"`
	TotalSizeBytes int64          `json:"totalSizeBytes"`
	FileTypes      map[string]int `json:"fileTypes"`
	TopFolders     []string       `json:"topFolders"`
	TagCount       int            `json:"tagCount"`
}

func describeVaultTool(e *Env) mcpservice.StaticTool {
	return mcpservice.NewTool("describe_vault", track(e, "describe_vault", e.describeVault),
		mcpservice.WithToolDescription("Get an overview of the vault: name, file/folder counts, total size, file type breakdown, and tag count."),
		mcpservice.WithToolAnnotations(ReadOnly),
	)
}

func (e *Env) describeVault(ctx context.Context, w mcpservice.ToolResponseWriter, _ *mcpservice.ToolRequest[noArgs]) error {
	ov, err := Describe(ctx, e)
	if err != nil {
		return err
	}
	return writeJSON(w, ov, "")
}

// Describe computes the overview of what e may see.
func Describe(ctx context.Context, e *Env) (VaultOverview, error) {
	all, err := e.Vault.AllEntries(ctx)
	if err != nil {
		return VaultOverview{}, fmt.Errorf("list vault: %w", err)
	}
	ov := VaultOverview{
		Name:       e.Vault.Name(),
		FileTypes:  map[string]int{},
		TopFolders: []string{},
	}
	for _, ent := range all {
		if ent.IsDir {
			if !e.Rules.IsPathAllowed(ent.Path) {
				continue
			}
			ov.FolderCount++
			if vault.Parent(ent.Path) == "" {
				ov.TopFolders = append(ov.TopFolders, ent.Name)
			}
			continue
		}
		if !e.EntryAllowed(ent) {
			continue
		}
		ov.FileCount++
		ov.TotalSizeBytes += ent.Size
		ext := ent.Ext()
		if ext == "" {
			ext = "unknown"
		}
		ov.FileTypes[ext]++
	}
	sort.Strings(ov.TopFolders)

	tags, err := e.AllowedTags(ctx)
	if err != nil {
		return VaultOverview{}, err
	}
	ov.TagCount = len(tags)
	return ov, nil
}

func listSessionsTool(e *Env) mcpservice.StaticTool {
	return mcpservice.NewTool("list_sessions", track(e, "list_sessions", e.listSessions),
		mcpservice.WithToolDescription("List active MCP sessions with client info and per-session tool usage stats."),
		mcpservice.WithToolAnnotations(ReadOnly),
	)
}

func (e *Env) listSessions(ctx context.Context, w mcpservice.ToolResponseWriter, _ *mcpservice.ToolRequest[noArgs]) error {
	if e.Sessions == nil {
		return writeJSON(w, []any{}, "")
	}
	summaries := e.Sessions.Summaries()
	e.info(ctx, "list_sessions", "count", len(summaries))
	return writeJSON(w, summaries, "")
}
