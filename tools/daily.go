package tools

import (
	"context"
	"errors"

	"github.com/ggoodman/mcp-vault-server/mcpservice"
	"github.com/ggoodman/mcp-vault-server/vault"
)

type appendDailyNoteArgs struct {
	Text string `json:"text" jsonschema:"description=Text to append"`
}

func appendDailyNoteTool(e *Env) mcpservice.StaticTool {
	return mcpservice.NewTool("append_daily_note", track(e, "append_daily_note", e.appendDailyNote),
		mcpservice.WithToolDescription("Append text to today's daily note."),
		mcpservice.WithToolAnnotations(Write),
	)
}

// appendDailyNote creates today's note when missing. The path rules are
// checked before anything is created.
func (e *Env) appendDailyNote(ctx context.Context, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[appendDailyNoteArgs]) error {
	text := r.Args().Text
	if err := checkLength("Text", text, MaxAppendLength); err != nil {
		return err
	}
	p := e.Vault.DailyNotePath(e.now())
	if !e.Rules.IsPathAllowed(p) {
		e.warn(ctx, "append_daily_note: access denied", "path", p)
		return ErrAccessDenied
	}
	if !e.Vault.Exists(p) {
		if err := e.Vault.Create(p, ""); err != nil && !errors.Is(err, vault.ErrExists) {
			e.Log.Error(ctx, LoggerName, "append_daily_note: failed to resolve daily note")
			return errors.New("Failed to resolve daily note.")
		}
	}
	ent, err := e.Vault.Stat(p)
	if err != nil || ent.IsDir {
		e.Log.Error(ctx, LoggerName, "append_daily_note: failed to resolve daily note")
		return errors.New("Failed to resolve daily note.")
	}
	if !e.EntryAllowed(ent) {
		e.warn(ctx, "append_daily_note: access denied", "path", p)
		return ErrAccessDenied
	}
	existing, err := e.Vault.Read(ent.Path)
	if err != nil {
		return ErrAccessDenied
	}
	if err := e.Vault.Modify(ent.Path, existing+"\n"+text); err != nil {
		return err
	}
	return w.AppendText("Appended to " + ent.Path)
}
