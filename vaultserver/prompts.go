package vaultserver

import (
	_ "embed"

	"github.com/ggoodman/mcp-vault-server/config"
	"github.com/ggoodman/mcp-vault-server/mcpservice"
)

var (
	//go:embed guides/markdown.md
	markdownGuide string
	//go:embed guides/canvas.md
	canvasGuide string
	//go:embed guides/bases.md
	basesGuide string
)

// Prompt names.
const (
	MarkdownGuidePrompt = "obsidian-markdown-guide"
	CanvasGuidePrompt   = "json-canvas-guide"
	BasesGuidePrompt    = "obsidian-bases-guide"
)

// Prompts returns the format guides enabled in s.
func Prompts(s config.Settings) []mcpservice.StaticPrompt {
	if !s.EnablePrompts {
		return nil
	}
	var out []mcpservice.StaticPrompt
	if s.EnableMarkdownGuide {
		out = append(out, mcpservice.TextPrompt(MarkdownGuidePrompt,
			"Reference guide for Obsidian Markdown syntax including wikilinks, embeds, callouts, frontmatter, tags, and properties.",
			markdownGuide))
	}
	if s.EnableCanvasGuide {
		out = append(out, mcpservice.TextPrompt(CanvasGuidePrompt,
			"Reference guide for Obsidian JSON Canvas (.canvas) file format including node types, edges, and structure.",
			canvasGuide))
	}
	if s.EnableBasesGuide {
		out = append(out, mcpservice.TextPrompt(BasesGuidePrompt,
			"Reference guide for Obsidian Bases (.base) file format including filters, formulas, views, and summaries.",
			basesGuide))
	}
	return out
}
