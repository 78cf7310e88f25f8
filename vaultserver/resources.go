package vaultserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/ggoodman/mcp-vault-server/config"
	"github.com/ggoodman/mcp-vault-server/mcp"
	"github.com/ggoodman/mcp-vault-server/mcpservice"
	"github.com/ggoodman/mcp-vault-server/tools"
	"github.com/ggoodman/mcp-vault-server/vault"
)

// Resource URIs and templates.
const (
	OverviewURI     = "vault://overview"
	NotesTemplate   = "vault://notes/{path}"
	TagsTemplate    = "vault://tags/{tag}"
	DailyTemplate   = "vault://daily/{date}"
	FoldersTemplate = "vault://folders/{path}"
)

const (
	mimeJSON     = "application/json"
	mimeMarkdown = "text/markdown"

	maxCompletions = 50
	recentDays     = 7
)

// Texts returned in place of content when a resource cannot be served.
const (
	resourceDenied      = "Access denied."
	resourceNotFound    = "File not found."
	folderNotFound      = "Folder not found."
	invalidDate         = "Invalid date format. Use YYYY-MM-DD."
	dailyNoteNotFoundAt = "No daily note found for %s."
)

// NoteURI returns the resource URI of the note at p.
func NoteURI(p string) string { return "vault://notes/" + url.PathEscape(p) }

func tagURI(tag string) string  { return "vault://tags/" + url.PathEscape(tag) }
func folderURI(p string) string { return "vault://folders/" + url.PathEscape(p) }

// decodeVar undoes the escaping applied by NoteURI and friends.
func decodeVar(v string) string {
	if s, err := url.PathUnescape(v); err == nil {
		return s
	}
	return v
}

func textContents(uri, text string) []mcp.ResourceContents {
	return []mcp.ResourceContents{{URI: uri, Text: text}}
}

func jsonContents(uri string, v any) ([]mcp.ResourceContents, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", uri, err)
	}
	return []mcp.ResourceContents{{URI: uri, MimeType: mimeJSON, Text: string(b)}}, nil
}

func prefixFilter(values []string, prefix string) []string {
	prefix = strings.ToLower(prefix)
	out := make([]string, 0)
	for _, v := range values {
		if len(out) >= maxCompletions {
			break
		}
		if strings.HasPrefix(strings.ToLower(v), prefix) {
			out = append(out, v)
		}
	}
	return out
}

func capped[T any](items []T, n int) []T {
	if n > 0 && len(items) > n {
		return items[:n]
	}
	return items
}

// resources builds the vault:// resource set of one session.
func (f *Facade) resources(env *tools.Env, s config.Settings) (*mcpservice.ResourcesContainer, error) {
	r := &vaultResources{env: env, maxListed: s.MaxResourcesListed, now: f.now}
	overview := mcpservice.StaticResource{
		Descriptor: mcp.Resource{
			URI:         OverviewURI,
			Name:        "vault-overview",
			Description: "Overview of the vault: name, file counts, folder structure, and tag summary.",
			MimeType:    mimeJSON,
		},
		Read: r.readOverview,
	}
	templates := []mcpservice.TemplateResource{
		{
			Descriptor: mcp.ResourceTemplate{URITemplate: NotesTemplate, Name: "note", Description: "Read a note from the vault by its path.", MimeType: mimeMarkdown},
			List:       r.listNotes,
			Read:       r.readNote,
			Complete:   map[string]mcpservice.Completer{"path": r.completeNotes},
		},
		{
			Descriptor: mcp.ResourceTemplate{URITemplate: TagsTemplate, Name: "tag", Description: "List notes that have a specific tag.", MimeType: mimeJSON},
			List:       r.listTags,
			Read:       r.readTag,
			Complete:   map[string]mcpservice.Completer{"tag": r.completeTags},
		},
		{
			Descriptor: mcp.ResourceTemplate{URITemplate: DailyTemplate, Name: "daily-note", Description: "Read a daily note by date (YYYY-MM-DD format).", MimeType: mimeMarkdown},
			Read:       r.readDaily,
			Complete:   map[string]mcpservice.Completer{"date": r.completeDates},
		},
		{
			Descriptor: mcp.ResourceTemplate{URITemplate: FoldersTemplate, Name: "folder", Description: "List files and subfolders in a vault folder.", MimeType: mimeJSON},
			List:       r.listFolders,
			Read:       r.readFolder,
			Complete:   map[string]mcpservice.Completer{"path": r.completeFolders},
		},
	}
	return mcpservice.NewResourcesContainer(templates,
		mcpservice.WithStaticResources(overview),
		mcpservice.WithSubscriptions(s.EnableResourceSubscriptions),
	)
}

type vaultResources struct {
	env       *tools.Env
	maxListed int
	now       func() time.Time
}

func (r *vaultResources) readOverview(ctx context.Context, uri string) ([]mcp.ResourceContents, error) {
	ov, err := tools.Describe(ctx, r.env)
	if err != nil {
		return nil, err
	}
	return jsonContents(uri, ov)
}

func (r *vaultResources) notes(ctx context.Context) ([]vault.Entry, error) {
	return r.env.AllowedFiles(ctx, true)
}

func (r *vaultResources) listNotes(ctx context.Context) ([]mcp.Resource, error) {
	files, err := r.notes(ctx)
	if err != nil {
		return nil, err
	}
	files = capped(files, r.maxListed)
	out := make([]mcp.Resource, 0, len(files))
	for _, f := range files {
		out = append(out, mcp.Resource{URI: NoteURI(f.Path), Name: f.Name, MimeType: mimeMarkdown})
	}
	return out, nil
}

func (r *vaultResources) completeNotes(ctx context.Context, value string) ([]string, error) {
	files, err := r.notes(ctx)
	if err != nil {
		return nil, err
	}
	paths := make([]string, 0, len(files))
	for _, f := range files {
		paths = append(paths, f.Path)
	}
	return prefixFilter(paths, value), nil
}

func (r *vaultResources) readNote(_ context.Context, uri string, vars mcpservice.TemplateVars) ([]mcp.ResourceContents, error) {
	p := decodeVar(vars["path"])
	if !r.env.Rules.IsPathAllowed(p) {
		return textContents(uri, resourceDenied), nil
	}
	ent, err := r.env.Vault.Stat(p)
	if err != nil || ent.IsDir {
		return textContents(uri, resourceNotFound), nil
	}
	if !r.env.EntryAllowed(ent) {
		return textContents(uri, resourceDenied), nil
	}
	content, err := r.env.Vault.Read(ent.Path)
	if err != nil {
		return textContents(uri, resourceNotFound), nil
	}
	return []mcp.ResourceContents{{URI: uri, MimeType: mimeMarkdown, Text: content}}, nil
}

func (r *vaultResources) tags(ctx context.Context) ([]string, error) {
	counts, err := r.env.AllowedTags(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(counts))
	for t := range counts {
		out = append(out, t)
	}
	sort.Strings(out)
	return out, nil
}

func (r *vaultResources) listTags(ctx context.Context) ([]mcp.Resource, error) {
	tags, err := r.tags(ctx)
	if err != nil {
		return nil, err
	}
	tags = capped(tags, r.maxListed)
	out := make([]mcp.Resource, 0, len(tags))
	for _, t := range tags {
		out = append(out, mcp.Resource{URI: tagURI(t), Name: t, MimeType: mimeJSON})
	}
	return out, nil
}

func (r *vaultResources) completeTags(ctx context.Context, value string) ([]string, error) {
	tags, err := r.tags(ctx)
	if err != nil {
		return nil, err
	}
	return prefixFilter(tags, value), nil
}

type taggedNote struct {
	Path       string `json:"path"`
	Name       string `json:"name"`
	ModifiedAt string `json:"modifiedAt"`
}

func (r *vaultResources) readTag(ctx context.Context, uri string, vars mcpservice.TemplateVars) ([]mcp.ResourceContents, error) {
	tag := decodeVar(vars["tag"])
	if !r.env.Rules.IsTagAllowed(tag) {
		return textContents(uri, resourceDenied), nil
	}
	files, err := r.env.AllowedFiles(ctx, false)
	if err != nil {
		return nil, err
	}
	results := make([]taggedNote, 0)
	for _, f := range files {
		if r.maxListed > 0 && len(results) >= r.maxListed {
			break
		}
		for _, t := range vault.TagsOf(r.env.Vault, f.Path) {
			if strings.HasPrefix(t, tag) {
				results = append(results, taggedNote{Path: f.Path, Name: f.Name, ModifiedAt: f.ModTime.Local().Format(time.RFC3339)})
				break
			}
		}
	}
	return jsonContents(uri, results)
}

func (r *vaultResources) readDaily(ctx context.Context, uri string, vars mcpservice.TemplateVars) ([]mcp.ResourceContents, error) {
	date := decodeVar(vars["date"])
	day, err := time.ParseInLocation(time.DateOnly, date, time.Local)
	if err != nil {
		return textContents(uri, invalidDate), nil
	}
	p, ok := r.findDaily(ctx, day)
	if !ok {
		return textContents(uri, fmt.Sprintf(dailyNoteNotFoundAt, date)), nil
	}
	content, err := r.env.Vault.Read(p)
	if err != nil {
		return textContents(uri, fmt.Sprintf(dailyNoteNotFoundAt, date)), nil
	}
	return []mcp.ResourceContents{{URI: uri, MimeType: mimeMarkdown, Text: content}}, nil
}

// findDaily looks in the daily folder first, then for any visible note
// named after the date.
func (r *vaultResources) findDaily(ctx context.Context, day time.Time) (string, bool) {
	if ent, err := r.env.Vault.Stat(r.env.Vault.DailyNotePath(day)); err == nil && !ent.IsDir && r.env.EntryAllowed(ent) {
		return ent.Path, true
	}
	files, err := r.notes(ctx)
	if err != nil {
		return "", false
	}
	name := day.Format(time.DateOnly)
	for _, f := range files {
		if f.Basename() == name {
			return f.Path, true
		}
	}
	return "", false
}

func (r *vaultResources) completeDates(_ context.Context, value string) ([]string, error) {
	today := r.now()
	dates := make([]string, 0, recentDays)
	for i := 0; i < recentDays; i++ {
		dates = append(dates, today.AddDate(0, 0, -i).Format(time.DateOnly))
	}
	return prefixFilter(dates, value), nil
}

func (r *vaultResources) folders(ctx context.Context) ([]string, error) {
	all, err := r.env.Vault.AllEntries(ctx)
	if err != nil {
		return nil, fmt.Errorf("list vault: %w", err)
	}
	var out []string
	for _, e := range all {
		if e.IsDir && r.env.Rules.IsPathAllowed(e.Path) {
			out = append(out, e.Path)
		}
	}
	return out, nil
}

func (r *vaultResources) listFolders(ctx context.Context) ([]mcp.Resource, error) {
	folders, err := r.folders(ctx)
	if err != nil {
		return nil, err
	}
	folders = capped(folders, r.maxListed)
	out := make([]mcp.Resource, 0, len(folders))
	for _, p := range folders {
		out = append(out, mcp.Resource{URI: folderURI(p), Name: p, MimeType: mimeJSON})
	}
	return out, nil
}

func (r *vaultResources) completeFolders(ctx context.Context, value string) ([]string, error) {
	folders, err := r.folders(ctx)
	if err != nil {
		return nil, err
	}
	return prefixFilter(folders, value), nil
}

func (r *vaultResources) readFolder(_ context.Context, uri string, vars mcpservice.TemplateVars) ([]mcp.ResourceContents, error) {
	p := decodeVar(vars["path"])
	if !r.env.Rules.IsPathAllowed(p) {
		return textContents(uri, resourceDenied), nil
	}
	ent, err := r.env.Vault.Stat(p)
	if err != nil || !ent.IsDir {
		return textContents(uri, folderNotFound), nil
	}
	children, err := r.env.Vault.ListChildren(ent.Path)
	if err != nil {
		return textContents(uri, folderNotFound), nil
	}
	items := make([]tools.FileInfo, 0, len(children))
	for _, c := range children {
		if !r.env.Rules.IsPathAllowed(c.Path) {
			continue
		}
		kind := "file"
		if c.IsDir {
			kind = "folder"
		}
		items = append(items, tools.FileInfo{Name: c.Name, Path: c.Path, Type: kind})
	}
	return jsonContents(uri, items)
}
