// Package tools implements the vault operations offered to agents as MCP
// tools.
//
// Every tool that touches an existing entry runs the same two-stage check:
// the requested path against the path rules, then the resolved entry with
// its tags. Denials and missing entries are indistinguishable to the
// caller. Every tool is counted by the usage tracker under its name and
// attributed to the calling session.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/ggoodman/mcp-vault-server/access"
	"github.com/ggoodman/mcp-vault-server/mcp"
	"github.com/ggoodman/mcp-vault-server/mcpservice"
	"github.com/ggoodman/mcp-vault-server/sessions"
	"github.com/ggoodman/mcp-vault-server/usage"
	"github.com/ggoodman/mcp-vault-server/vault"
)

// AccessDeniedMessage is the only answer given for blocked or missing
// entries.
const AccessDeniedMessage = "Access denied or resource not found."

// ErrAccessDenied is returned by tool handlers for blocked or missing
// entries. Its text is what the agent sees.
var ErrAccessDenied = errors.New(AccessDeniedMessage)

// Limits applied to tool input and output.
const (
	MaxSearchResults         = 100
	MaxAppendLength          = 50000
	MaxEditLength            = 100000
	MaxCreateLength          = 100000
	MaxContentSearchResults  = 50
	MaxSnippetLength         = 200
	MaxRecentNotes           = 50
	DefaultRecentNotes       = 10
	MaxBacklinks             = 50
	MaxBacklinkContextLength = 200
	MaxAttachmentSize        = 10 * 1024 * 1024
	LargeNoteThreshold       = 50 * 1024
)

// LoggerName is the logger name on notifications/message sent by tools.
const LoggerName = "vault-mcp"

// Behaviour hints shared by the tools. No tool reaches outside the vault.
var (
	ReadOnly        = mcp.ToolAnnotations{ReadOnlyHint: true, IdempotentHint: true}
	Write           = mcp.ToolAnnotations{}
	WriteIdempotent = mcp.ToolAnnotations{IdempotentHint: true}
	Destructive     = mcp.ToolAnnotations{DestructiveHint: true, IdempotentHint: true}
)

// SessionLister reports the live sessions for list_sessions.
type SessionLister interface {
	Summaries() []sessions.Summary
}

// Env is what the tools of one session operate on.
type Env struct {
	Vault    vault.Store
	Rules    *access.Rules
	Tracker  *usage.Tracker
	Sessions SessionLister
	// Log forwards warnings to the agent. Nil disables it.
	Log *mcpservice.SessionLogger
	// SessionID attributes tool calls in the usage listener.
	SessionID string
	// SmartAnnotations adds hints about drafts, large notes and broken
	// links to read_note results.
	SmartAnnotations bool
	// Now defaults to time.Now.
	Now func() time.Time
}

func (e *Env) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// All returns every tool, in listing order.
func All(e *Env) []mcpservice.StaticTool {
	return []mcpservice.StaticTool{
		readNoteTool(e),
		createNoteTool(e),
		editNoteTool(e),
		appendNoteTool(e),
		patchNoteTool(e),
		deleteNoteTool(e),
		renameNoteTool(e),
		createFolderTool(e),
		listFolderTool(e),
		listAllTagsTool(e),
		searchNotesTool(e),
		searchContentTool(e),
		getNoteMetadataTool(e),
		getBacklinksTool(e),
		listRecentNotesTool(e),
		describeVaultTool(e),
		listSessionsTool(e),
		readAttachmentTool(e),
		addAttachmentTool(e),
		appendDailyNoteTool(e),
	}
}

type trackedCall[W, A any] struct {
	w W
	r *mcpservice.ToolRequest[A]
}

// track counts fn under op and attributes it to the session of e. A
// returned error, which the agent sees as an error result, is a failure.
func track[W, A any](e *Env, op string, fn func(context.Context, W, *mcpservice.ToolRequest[A]) error) func(context.Context, W, *mcpservice.ToolRequest[A]) error {
	if e.Tracker == nil {
		return fn
	}
	run := usage.Track(e.Tracker, op, func(ctx context.Context, c trackedCall[W, A]) (struct{}, error) {
		return struct{}{}, fn(ctx, c.w, c.r)
	})
	return func(ctx context.Context, w W, r *mcpservice.ToolRequest[A]) error {
		if e.SessionID != "" {
			ctx = usage.WithSessionID(ctx, e.SessionID)
		}
		_, err := run(ctx, trackedCall[W, A]{w: w, r: r})
		return err
	}
}

func (e *Env) warn(ctx context.Context, msg string, kv ...any) {
	e.Log.Warning(ctx, LoggerName, logData(msg, kv))
}

func (e *Env) info(ctx context.Context, msg string, kv ...any) {
	e.Log.Info(ctx, LoggerName, logData(msg, kv))
}

func logData(msg string, kv []any) any {
	if len(kv) == 0 {
		return msg
	}
	data := map[string]any{"message": msg}
	for i := 0; i+1 < len(kv); i += 2 {
		if k, ok := kv[i].(string); ok {
			data[k] = kv[i+1]
		}
	}
	return data
}

// lookupFile runs the two-stage check for an existing file at p.
func (e *Env) lookupFile(ctx context.Context, op, p string) (vault.Entry, error) {
	if !e.Rules.IsPathAllowed(p) {
		e.warn(ctx, op+": access denied", "path", p)
		return vault.Entry{}, ErrAccessDenied
	}
	ent, err := e.Vault.Stat(p)
	if err != nil || ent.IsDir {
		e.warn(ctx, op+": file not found", "path", p)
		return vault.Entry{}, ErrAccessDenied
	}
	if !e.EntryAllowed(ent) {
		e.warn(ctx, op+": access denied by tag rule", "path", p)
		return vault.Entry{}, ErrAccessDenied
	}
	return ent, nil
}

// EntryAllowed checks a resolved entry with its tags.
func (e *Env) EntryAllowed(ent vault.Entry) bool {
	if ent.IsDir || !vault.IsMarkdown(ent.Path) {
		return e.Rules.IsPathAllowed(ent.Path)
	}
	return e.Rules.IsEntryAllowed(ent.Path, vault.TagsOf(e.Vault, ent.Path))
}

// AllowedFiles returns the visible files passing the two-stage check.
func (e *Env) AllowedFiles(ctx context.Context, markdownOnly bool) ([]vault.Entry, error) {
	all, err := e.Vault.AllEntries(ctx)
	if err != nil {
		return nil, fmt.Errorf("list vault: %w", err)
	}
	out := make([]vault.Entry, 0, len(all))
	for _, ent := range all {
		if ent.IsDir || (markdownOnly && !vault.IsMarkdown(ent.Path)) {
			continue
		}
		if e.EntryAllowed(ent) {
			out = append(out, ent)
		}
	}
	return out, nil
}

func checkLength(field, s string, limit int) error {
	if utf8.RuneCountInString(s) > limit {
		return fmt.Errorf("%s exceeds maximum length of %d characters", field, limit)
	}
	return nil
}

func writeJSON(w mcpservice.ToolResponseWriter, v any, suffix string) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	return w.AppendText(string(b) + suffix)
}

func formatTime(t time.Time) string {
	return t.Local().Format(time.RFC3339)
}
