package tools

import (
	"fmt"
	"math"
	"strings"
	"unicode/utf8"

	"github.com/ggoodman/mcp-vault-server/mcp"
)

const maxListedBrokenLinks = 5

// noteAnnotations returns the assistant-only hints for a note: draft
// status, large size and unresolved links, most important first.
func (e *Env) noteAnnotations(p, content string) []mcp.ContentBlock {
	var out []mcp.ContentBlock

	meta, err := e.Vault.MetadataFor(p)
	if err == nil && meta != nil {
		if status, ok := meta.Frontmatter["status"].(string); ok && strings.EqualFold(status, "draft") {
			out = append(out, hint(0.8, "[Note Status: DRAFT] This note is marked as draft and may contain incomplete or unverified content."))
		}
	}

	if n := utf8.RuneCountInString(content); n > LargeNoteThreshold {
		kb := int(math.Round(float64(n) / 1024))
		out = append(out, hint(0.6, fmt.Sprintf("[Large Note: %dKB] This is a large note. Consider using get_note_metadata first to check structure before reading full content.", kb)))
	}

	if broken, err := e.Vault.UnresolvedLinks(p); err == nil && len(broken) > 0 {
		listed := broken
		suffix := ""
		if len(broken) > maxListedBrokenLinks {
			listed = broken[:maxListedBrokenLinks]
			suffix = fmt.Sprintf(" and %d more", len(broken)-maxListedBrokenLinks)
		}
		out = append(out, hint(0.5, fmt.Sprintf("[Broken Links: %d] Unresolved wikilinks: %s%s", len(broken), strings.Join(listed, ", "), suffix)))
	}
	return out
}

func hint(priority float64, text string) mcp.ContentBlock {
	return mcp.ContentBlock{
		Type: mcp.ContentTypeText,
		Text: text,
		Annotations: &mcp.Annotations{
			Audience: []mcp.Role{mcp.RoleAssistant},
			Priority: priority,
		},
	}
}
