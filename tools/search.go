package tools

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ggoodman/mcp-vault-server/mcpservice"
	"github.com/ggoodman/mcp-vault-server/vault"
)

type noArgs struct{}

func listAllTagsTool(e *Env) mcpservice.StaticTool {
	return mcpservice.NewTool("list_all_tags", track(e, "list_all_tags", e.listAllTags),
		mcpservice.WithToolDescription("List all hashtags used in the vault with their usage count."),
		mcpservice.WithToolAnnotations(ReadOnly),
	)
}

func (e *Env) listAllTags(ctx context.Context, w mcpservice.ToolResponseWriter, _ *mcpservice.ToolRequest[noArgs]) error {
	counts, err := e.AllowedTags(ctx)
	if err != nil {
		return err
	}
	return writeJSON(w, counts, "")
}

// AllowedTags returns tag counts over the notes passing the two-stage check,
// minus blocked tags.
func (e *Env) AllowedTags(ctx context.Context) (map[string]int, error) {
	counts, err := e.Vault.Tags(ctx, e.EntryAllowed)
	if err != nil {
		return nil, fmt.Errorf("count tags: %w", err)
	}
	out := make(map[string]int, len(counts))
	for tag, n := range counts {
		if e.Rules.IsTagAllowed(tag) {
			out[tag] = n
		}
	}
	return out, nil
}

type searchNotesArgs struct {
	StartDate string   `json:"start_date,omitempty" jsonschema:"description=ISO date string (YYYY-MM-DD). Filter notes modified after this date."`
	EndDate   string   `json:"end_date,omitempty" jsonschema:"description=ISO date string. Filter notes modified before this date."`
	Tags      []string `json:"tags,omitempty" jsonschema:"description=List of tags to filter by (e.g. ['#work'])"`
}

// SearchResult is one match of search_notes.
type SearchResult struct {
	Path  string   `json:"path"`
	Mtime string   `json:"mtime"`
	Tags  []string `json:"tags"`
}

func searchNotesTool(e *Env) mcpservice.StaticTool {
	return mcpservice.NewTool("search_notes", track(e, "search_notes", e.searchNotes),
		mcpservice.WithToolDescription("Search for notes by time range and tags. Returns a list of file paths."),
		mcpservice.WithToolAnnotations(ReadOnly),
	)
}

func (e *Env) searchNotes(ctx context.Context, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[searchNotesArgs]) error {
	args := r.Args()
	var start, end time.Time
	if args.StartDate != "" {
		t, err := ParseDate(args.StartDate)
		if err != nil {
			return fmt.Errorf("invalid start_date: %w", err)
		}
		start = t
	}
	if args.EndDate != "" {
		t, err := ParseDate(args.EndDate)
		if err != nil {
			return fmt.Errorf("invalid end_date: %w", err)
		}
		end = t
	}

	files, err := e.AllowedFiles(ctx, false)
	if err != nil {
		return err
	}
	results := make([]SearchResult, 0)
	for _, f := range files {
		if !start.IsZero() && f.ModTime.Before(start) {
			continue
		}
		if !end.IsZero() && f.ModTime.After(end) {
			continue
		}
		tags := vault.TagsOf(e.Vault, f.Path)
		if !hasAllTags(tags, args.Tags) {
			continue
		}
		if tags == nil {
			tags = []string{}
		}
		results = append(results, SearchResult{Path: f.Path, Mtime: formatTime(f.ModTime), Tags: tags})
	}

	suffix := ""
	if len(results) > MaxSearchResults {
		suffix = fmt.Sprintf("\n...(and %d more)", len(results)-MaxSearchResults)
		results = results[:MaxSearchResults]
	}
	return writeJSON(w, results, suffix)
}

// hasAllTags reports whether every required tag prefixes one of tags.
func hasAllTags(tags, required []string) bool {
	for _, req := range required {
		found := false
		for _, t := range tags {
			if strings.HasPrefix(t, req) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// ParseDate accepts YYYY-MM-DD, read as local midnight, or RFC 3339.
func ParseDate(s string) (time.Time, error) {
	if t, err := time.ParseInLocation(time.DateOnly, s, time.Local); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("%q is not YYYY-MM-DD or RFC 3339", s)
}

type searchContentArgs struct {
	Query string `json:"query" jsonschema:"minLength=1,description=Text to search for (case-insensitive)"`
}

// LineMatch is one matching line of search_content.
type LineMatch struct {
	Line int    `json:"line"`
	Text string `json:"text"`
}

// ContentSearchResult groups the matches of one note.
type ContentSearchResult struct {
	Path    string      `json:"path"`
	Matches []LineMatch `json:"matches"`
}

func searchContentTool(e *Env) mcpservice.StaticTool {
	return mcpservice.NewTool("search_content", track(e, "search_content", e.searchContent),
		mcpservice.WithToolDescription("Search for text content across all notes. Returns matching files with line-number snippets. Case-insensitive."),
		mcpservice.WithToolAnnotations(ReadOnly),
	)
}

func (e *Env) searchContent(ctx context.Context, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[searchContentArgs]) error {
	query := r.Args().Query
	if query == "" {
		return errors.New("query must not be empty")
	}
	files, err := e.AllowedFiles(ctx, true)
	if err != nil {
		return err
	}

	needle := strings.ToLower(query)
	results := make([]ContentSearchResult, 0)
	for _, f := range files {
		if len(results) >= MaxContentSearchResults {
			break
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		content, err := e.Vault.Read(f.Path)
		if err != nil {
			continue
		}
		var matches []LineMatch
		for i, line := range strings.Split(content, "\n") {
			if strings.Contains(strings.ToLower(line), needle) {
				matches = append(matches, LineMatch{Line: i + 1, Text: truncate(line, MaxSnippetLength)})
			}
		}
		if len(matches) > 0 {
			results = append(results, ContentSearchResult{Path: f.Path, Matches: matches})
		}
	}

	suffix := ""
	if len(results) >= MaxContentSearchResults {
		suffix = fmt.Sprintf("\n...(results limited to %d files)", MaxContentSearchResults)
	}
	return writeJSON(w, results, suffix)
}

// truncate cuts s to n characters, marking the cut with "...".
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

type listRecentNotesArgs struct {
	Count *int `json:"count,omitempty" jsonschema:"minimum=1,maximum=50,default=10,description=Number of recent notes to return (default: 10; max: 50)"`
}

// RecentNote is one entry of list_recent_notes.
type RecentNote struct {
	Path       string `json:"path"`
	Name       string `json:"name"`
	ModifiedAt string `json:"modifiedAt"`
	SizeBytes  int64  `json:"sizeBytes"`
}

type recentNotesResult struct {
	Notes []RecentNote `json:"notes"`
}

func listRecentNotesTool(e *Env) mcpservice.StaticTool {
	return mcpservice.NewToolWithOutput("list_recent_notes", track(e, "list_recent_notes", e.listRecentNotes),
		mcpservice.WithToolDescription("List the most recently modified markdown notes in the vault, sorted newest-first."),
		mcpservice.WithToolAnnotations(ReadOnly),
	)
}

func (e *Env) listRecentNotes(ctx context.Context, w mcpservice.ToolResponseWriterTyped[recentNotesResult], r *mcpservice.ToolRequest[listRecentNotesArgs]) error {
	count := DefaultRecentNotes
	if c := r.Args().Count; c != nil {
		count = *c
	}
	if count < 1 || count > MaxRecentNotes {
		return fmt.Errorf("count must be between 1 and %d", MaxRecentNotes)
	}
	files, err := e.AllowedFiles(ctx, true)
	if err != nil {
		return err
	}
	sort.SliceStable(files, func(i, j int) bool { return files[i].ModTime.After(files[j].ModTime) })
	if len(files) > count {
		files = files[:count]
	}
	notes := make([]RecentNote, 0, len(files))
	for _, f := range files {
		notes = append(notes, RecentNote{Path: f.Path, Name: f.Name, ModifiedAt: formatTime(f.ModTime), SizeBytes: f.Size})
	}
	w.SetStructured(recentNotesResult{Notes: notes})
	return writeJSON(w, notes, "")
}
