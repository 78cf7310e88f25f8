package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ggoodman/mcp-vault-server/mcpservice"
	"github.com/ggoodman/mcp-vault-server/vault"
)

type pathArgs struct {
	Path string `json:"path" jsonschema:"description=Vault-relative path (e.g. 'Notes/Meeting.md')"`
}

func readNoteTool(e *Env) mcpservice.StaticTool {
	return mcpservice.NewTool("read_note", track(e, "read_note", e.readNote),
		mcpservice.WithToolDescription("Read a note by path."),
		mcpservice.WithToolAnnotations(ReadOnly),
	)
}

func (e *Env) readNote(ctx context.Context, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[pathArgs]) error {
	p := r.Args().Path
	ent, err := e.lookupFile(ctx, "read_note", p)
	if err != nil {
		return err
	}
	content, err := e.Vault.Read(ent.Path)
	if err != nil {
		return ErrAccessDenied
	}
	if err := w.AppendText(content); err != nil {
		return err
	}
	if !e.SmartAnnotations {
		return nil
	}
	return w.AppendBlocks(e.noteAnnotations(ent.Path, content)...)
}

type createNoteArgs struct {
	Path    string `json:"path" jsonschema:"description=Vault-relative path for the new note (e.g. 'Notes/NewNote.md')"`
	Content string `json:"content" jsonschema:"description=Content of the note"`
}

func createNoteTool(e *Env) mcpservice.StaticTool {
	return mcpservice.NewTool("create_note", track(e, "create_note", e.createNote),
		mcpservice.WithToolDescription("Create a new note at the specified path. Fails if a file already exists at that path."),
		mcpservice.WithToolAnnotations(Write),
	)
}

func (e *Env) createNote(ctx context.Context, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[createNoteArgs]) error {
	args := r.Args()
	if err := checkLength("Content", args.Content, MaxCreateLength); err != nil {
		return err
	}
	if !e.Rules.IsPathAllowed(args.Path) {
		e.warn(ctx, "create_note: access denied", "path", args.Path)
		return ErrAccessDenied
	}
	if e.Vault.Exists(args.Path) {
		return fmt.Errorf("File already exists at %s", args.Path)
	}
	if err := e.Vault.Create(args.Path, args.Content); err != nil {
		if errors.Is(err, vault.ErrExists) {
			return fmt.Errorf("File already exists at %s", args.Path)
		}
		if errors.Is(err, vault.ErrInvalidPath) {
			return ErrAccessDenied
		}
		return err
	}
	return w.AppendText("Created " + args.Path)
}

type editNoteArgs struct {
	Path    string `json:"path" jsonschema:"description=Vault-relative path of the note to edit (e.g. 'Notes/Meeting.md')"`
	Content string `json:"content" jsonschema:"description=New content to replace the existing content"`
}

func editNoteTool(e *Env) mcpservice.StaticTool {
	return mcpservice.NewTool("edit_note", track(e, "edit_note", e.editNote),
		mcpservice.WithToolDescription("Replace the entire content of an existing note."),
		mcpservice.WithToolAnnotations(WriteIdempotent),
	)
}

func (e *Env) editNote(ctx context.Context, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[editNoteArgs]) error {
	args := r.Args()
	if err := checkLength("Content", args.Content, MaxEditLength); err != nil {
		return err
	}
	ent, err := e.lookupFile(ctx, "edit_note", args.Path)
	if err != nil {
		return err
	}
	if err := e.Vault.Modify(ent.Path, args.Content); err != nil {
		return err
	}
	return w.AppendText("Updated " + args.Path)
}

type appendNoteArgs struct {
	Path    string `json:"path" jsonschema:"description=Vault-relative path (e.g. 'Notes/Meeting.md')"`
	Content string `json:"content" jsonschema:"description=Content to append (or prepend)"`
	Mode    string `json:"mode,omitempty" jsonschema:"enum=append,enum=prepend,default=append,description=Whether to add content at the end (append) or beginning (prepend) of the note"`
}

func appendNoteTool(e *Env) mcpservice.StaticTool {
	return mcpservice.NewTool("append_note", track(e, "append_note", e.appendNote),
		mcpservice.WithToolDescription(`Append text to an existing note. Adds content to the end (or beginning with mode "prepend") without replacing the note.`),
		mcpservice.WithToolAnnotations(Write),
	)
}

func (e *Env) appendNote(ctx context.Context, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[appendNoteArgs]) error {
	args := r.Args()
	if err := checkLength("Content", args.Content, MaxAppendLength); err != nil {
		return err
	}
	prepend := false
	switch args.Mode {
	case "", "append":
	case "prepend":
		prepend = true
	default:
		return errors.New(`mode must be "append" or "prepend"`)
	}
	ent, err := e.lookupFile(ctx, "append_note", args.Path)
	if err != nil {
		return err
	}
	existing, err := e.Vault.Read(ent.Path)
	if err != nil {
		return ErrAccessDenied
	}
	updated, verb := existing+"\n"+args.Content, "Appended to"
	if prepend {
		updated, verb = args.Content+"\n"+existing, "Prepended to"
	}
	if err := e.Vault.Modify(ent.Path, updated); err != nil {
		return err
	}
	return w.AppendText(verb + " " + args.Path)
}

type patchNoteArgs struct {
	Path      string `json:"path" jsonschema:"description=Vault-relative path (e.g. 'Notes/project.md')"`
	OldString string `json:"old_string" jsonschema:"minLength=1,description=Exact text to find in the note"`
	NewString string `json:"new_string" jsonschema:"description=Text to replace it with"`
}

func patchNoteTool(e *Env) mcpservice.StaticTool {
	return mcpservice.NewTool("patch_note", track(e, "patch_note", e.patchNote),
		mcpservice.WithToolDescription("Perform a find-and-replace edit on a note. Replaces the first occurrence of old_string with new_string without rewriting the entire note."),
		mcpservice.WithToolAnnotations(WriteIdempotent),
	)
}

func (e *Env) patchNote(ctx context.Context, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[patchNoteArgs]) error {
	args := r.Args()
	if args.OldString == "" {
		return errors.New("old_string must not be empty")
	}
	if err := checkLength("Replacement", args.NewString, MaxEditLength); err != nil {
		return err
	}
	ent, err := e.lookupFile(ctx, "patch_note", args.Path)
	if err != nil {
		return err
	}
	content, err := e.Vault.Read(ent.Path)
	if err != nil {
		return ErrAccessDenied
	}
	first := strings.Index(content, args.OldString)
	if first < 0 {
		return fmt.Errorf("old_string not found in %s", args.Path)
	}
	if strings.Contains(content[first+len(args.OldString):], args.OldString) {
		return fmt.Errorf("old_string matches multiple locations in %s. Provide more context to make the match unique.", args.Path)
	}
	patched := content[:first] + args.NewString + content[first+len(args.OldString):]
	if err := e.Vault.Modify(ent.Path, patched); err != nil {
		return err
	}
	return w.AppendText("Patched " + args.Path)
}

type deleteNoteArgs struct {
	Path string `json:"path" jsonschema:"description=Vault-relative path of the note to delete (e.g. 'Notes/OldNote.md')"`
}

func deleteNoteTool(e *Env) mcpservice.StaticTool {
	return mcpservice.NewTool("delete_note", track(e, "delete_note", e.deleteNote),
		mcpservice.WithToolDescription("Delete a note by path."),
		mcpservice.WithToolAnnotations(Destructive),
	)
}

func (e *Env) deleteNote(ctx context.Context, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[deleteNoteArgs]) error {
	p := r.Args().Path
	ent, err := e.lookupFile(ctx, "delete_note", p)
	if err != nil {
		return err
	}
	if err := e.Vault.Delete(ent.Path); err != nil {
		return err
	}
	return w.AppendText("Deleted " + p)
}

type renameNoteArgs struct {
	Path    string `json:"path" jsonschema:"description=Current vault-relative path (e.g. 'Inbox/raw-idea.md')"`
	NewPath string `json:"new_path" jsonschema:"description=New vault-relative path (e.g. 'Projects/idea-validated.md')"`
}

func renameNoteTool(e *Env) mcpservice.StaticTool {
	return mcpservice.NewTool("rename_note", track(e, "rename_note", e.renameNote),
		mcpservice.WithToolDescription("Rename or move a note to a new path. Links in other notes are not rewritten."),
		mcpservice.WithToolAnnotations(Write),
	)
}

func (e *Env) renameNote(ctx context.Context, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[renameNoteArgs]) error {
	args := r.Args()
	if !e.Rules.IsPathAllowed(args.Path) {
		e.warn(ctx, "rename_note: access denied on source", "path", args.Path)
		return ErrAccessDenied
	}
	if !e.Rules.IsPathAllowed(args.NewPath) {
		e.warn(ctx, "rename_note: access denied on destination", "new_path", args.NewPath)
		return ErrAccessDenied
	}
	ent, err := e.lookupFile(ctx, "rename_note", args.Path)
	if err != nil {
		return err
	}
	if e.Vault.Exists(args.NewPath) {
		return fmt.Errorf("A file already exists at %s", args.NewPath)
	}
	if err := e.Vault.Rename(ent.Path, args.NewPath); err != nil {
		switch {
		case errors.Is(err, vault.ErrExists):
			return fmt.Errorf("A file already exists at %s", args.NewPath)
		case errors.Is(err, vault.ErrInvalidPath):
			return ErrAccessDenied
		}
		return err
	}
	return w.AppendText(fmt.Sprintf("Renamed %s → %s", args.Path, args.NewPath))
}
