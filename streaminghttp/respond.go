package streaminghttp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
)

// Rejection codes carried in the "code" field of gateway error bodies.
const (
	CodeUnauthorized           = "UNAUTHORIZED"
	CodeServerMisconfigured    = "SERVER_MISCONFIGURED"
	CodeSessionExpired         = "SESSION_EXPIRED"
	CodeInitializationRequired = "INITIALIZATION_REQUIRED"
	CodeSessionNotFound        = "SESSION_NOT_FOUND"
	CodeInvalidSession         = "INVALID_SESSION"
	CodeMethodNotAllowed       = "METHOD_NOT_ALLOWED"
	CodeInternalError          = "INTERNAL_ERROR"
	CodeDeprecatedEndpoint     = "DEPRECATED_ENDPOINT"
	CodeInvalidRequest         = "INVALID_REQUEST"
)

// Rejection texts.
const (
	msgSessionExpired = "Session not found. It may have expired or the server may have restarted. " +
		"To recover, send a new \"initialize\" request (method: \"initialize\") without " +
		"the mcp-session-id header to create a fresh session, then use the returned " +
		"mcp-session-id for subsequent requests."
	msgInitializationRequired = "Missing session. The MCP protocol requires a session before calling tools. " +
		"Send a POST to /mcp with method \"initialize\" (no mcp-session-id header) first, " +
		"then include the mcp-session-id from the response header in all subsequent requests."
	msgInvalidSession     = "Invalid or missing session."
	msgSessionNotFound    = "Session not found."
	msgMethodNotAllowed   = "Method not allowed."
	msgInternal           = "Internal server error."
	msgDeprecatedEndpoint = "The /sse endpoint is deprecated. Use /mcp with Streamable HTTP transport."
)

// ErrorBody is the JSON shape of every HTTP-level rejection. JSON-RPC
// errors travel inside normal responses instead.
type ErrorBody struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// writeJSONError emits a rejection. It must run before anything else was
// written to w.
func writeJSONError(w http.ResponseWriter, status int, code, msg string) {
	w.Header().Set("Content-Type", jsonMediaType.String())
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorBody{Error: msg, Code: code})
}

// trackingWriter remembers whether the response has started so the panic
// boundary knows if a 500 can still be sent.
type trackingWriter struct {
	http.ResponseWriter
	started atomic.Bool
}

func (w *trackingWriter) WriteHeader(code int) {
	w.started.Store(true)
	w.ResponseWriter.WriteHeader(code)
}

func (w *trackingWriter) Write(p []byte) (int, error) {
	w.started.Store(true)
	return w.ResponseWriter.Write(p)
}

func (w *trackingWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		w.started.Store(true)
		f.Flush()
	}
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (w *trackingWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }

// lockedWriteFlusher serializes SSE frames onto one response. Once closed,
// or once ctx is done, writes fail instead of touching the response.
type lockedWriteFlusher struct {
	w      http.ResponseWriter
	f      http.Flusher
	ctx    context.Context
	mu     sync.Mutex
	closed bool
}

func newLockedWriteFlusher(ctx context.Context, w http.ResponseWriter) (*lockedWriteFlusher, bool) {
	f, ok := w.(http.Flusher)
	if !ok {
		return nil, false
	}
	return &lockedWriteFlusher{w: w, f: f, ctx: ctx}, true
}

// writeEvent writes one Server-Sent Event whose data field is payload and
// flushes it.
func (l *lockedWriteFlusher) writeEvent(payload []byte) error {
	var buf bytes.Buffer
	buf.Grow(len(payload) + 8)
	buf.WriteString("data: ")
	buf.Write(payload)
	buf.WriteString("\n\n")

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return errStreamClosed
	}
	if err := l.ctx.Err(); err != nil {
		return err
	}
	if _, err := l.w.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("failed to write SSE event: %w", err)
	}
	l.f.Flush()
	return nil
}

func (l *lockedWriteFlusher) flush() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.closed {
		l.f.Flush()
	}
}

// close forbids further writes. The handler that owns the response calls it
// before returning.
func (l *lockedWriteFlusher) close() {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
}
