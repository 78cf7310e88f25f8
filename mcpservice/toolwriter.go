package mcpservice

import (
	"context"
	"errors"
	"sync"

	"github.com/ggoodman/mcp-vault-server/mcp"
)

// ToolResponseWriter lets a tool handler compose a CallToolResult
// incrementally.
//
// Writes after Result are rejected with ErrFinalized. Mutating methods
// return the context error once the request is cancelled.
type ToolResponseWriter interface {
	AppendText(text string) error
	AppendBlocks(blocks ...mcp.ContentBlock) error
	SetError(isError bool)
	// Result finalizes and returns the accumulated result. It is idempotent.
	Result() *mcp.CallToolResult
}

// ToolResponseWriterTyped extends ToolResponseWriter for tools declaring an
// output schema.
type ToolResponseWriterTyped[O any] interface {
	ToolResponseWriter
	SetStructured(v O)
}

// ErrFinalized is returned when writing after Result was called.
var ErrFinalized = errors.New("result already finalized")

type toolResponseWriter struct {
	ctx context.Context

	mu        sync.Mutex
	finalized bool
	blocks    []mcp.ContentBlock
	isError   bool
}

var _ ToolResponseWriter = (*toolResponseWriter)(nil)

func newToolResponseWriter(ctx context.Context) *toolResponseWriter {
	return &toolResponseWriter{ctx: ctx}
}

func (w *toolResponseWriter) AppendText(text string) error {
	return w.AppendBlocks(mcp.ContentBlock{Type: mcp.ContentTypeText, Text: text})
}

func (w *toolResponseWriter) AppendBlocks(blocks ...mcp.ContentBlock) error {
	if err := w.ctx.Err(); err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.finalized {
		return ErrFinalized
	}
	w.blocks = append(w.blocks, blocks...)
	return nil
}

func (w *toolResponseWriter) SetError(isError bool) {
	w.mu.Lock()
	w.isError = isError
	w.mu.Unlock()
}

func (w *toolResponseWriter) Result() *mcp.CallToolResult {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.finalized = true
	content := append([]mcp.ContentBlock{}, w.blocks...)
	return &mcp.CallToolResult{Content: content, IsError: w.isError}
}

type toolResponseWriterTyped[O any] struct {
	*toolResponseWriter

	mu         sync.Mutex
	structured *O
}

func (tw *toolResponseWriterTyped[O]) SetStructured(v O) {
	tw.mu.Lock()
	tw.structured = &v
	tw.mu.Unlock()
}
