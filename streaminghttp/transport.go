package streaminghttp

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"github.com/elnormous/contenttype"
	"github.com/ggoodman/mcp-vault-server/internal/engine"
	"github.com/ggoodman/mcp-vault-server/internal/jsonrpc"
	"github.com/ggoodman/mcp-vault-server/mcp"
	"github.com/ggoodman/mcp-vault-server/mcpservice"
	"github.com/ggoodman/mcp-vault-server/sessions"
)

var (
	// ErrNoStream is returned by Notify when the client has no standalone
	// GET stream open. The notification is dropped.
	ErrNoStream = errors.New("no open event stream")

	errStreamClosed = errors.New("event stream closed")
)

var (
	_ sessions.Transport  = (*sessionTransport)(nil)
	_ mcpservice.Notifier = (*sessionTransport)(nil)
)

// sessionTransport is the per-session half of the gateway: it feeds POST
// bodies to the session's engine, owns the standalone GET stream and
// delivers server-initiated notifications on it.
type sessionTransport struct {
	id  string
	eng *engine.Engine
	log *slog.Logger

	// ctx is cancelled by Close and ends every stream of the session.
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	stream *lockedWriteFlusher
}

func newSessionTransport(id string, log *slog.Logger) *sessionTransport {
	ctx, cancel := context.WithCancel(context.Background())
	return &sessionTransport{id: id, log: log, ctx: ctx, cancel: cancel}
}

// Close ends the session's streams. It is safe to call more than once.
func (t *sessionTransport) Close() error {
	t.cancel()
	return nil
}

// Notify sends a notification on the standalone stream.
func (t *sessionTransport) Notify(ctx context.Context, method mcp.Method, params any) error {
	if err := t.ctx.Err(); err != nil {
		return err
	}
	n, err := jsonrpc.NewNotification(string(method), params)
	if err != nil {
		return err
	}
	b, err := json.Marshal(n)
	if err != nil {
		return err
	}

	t.mu.Lock()
	stream := t.stream
	t.mu.Unlock()
	if stream == nil {
		return ErrNoStream
	}
	return stream.writeEvent(b)
}

// servePost answers the messages of one POST body. Requests are answered in
// the negotiated format; notifications and responses alone get 202.
func (t *sessionTransport) servePost(ctx context.Context, w http.ResponseWriter, r *http.Request, msgs []jsonrpc.AnyMessage, batch bool) {
	var requests []*jsonrpc.Request
	for i := range msgs {
		switch msgs[i].Type() {
		case "request":
			requests = append(requests, msgs[i].AsRequest())
		case "notification":
			t.eng.HandleNotification(ctx, msgs[i].AsRequest())
		default:
			// Server never sends requests of its own.
			t.log.DebugContext(ctx, "rpc.response.ignored", slog.String("id", msgs[i].ID.String()))
		}
	}

	if len(requests) == 0 {
		t.setProtocolVersion(w)
		w.WriteHeader(http.StatusAccepted)
		return
	}

	mediaType, _, err := contenttype.GetAcceptableMediaType(r, postResponseMediaTypes)
	if err != nil {
		writeJSONError(w, http.StatusNotAcceptable, CodeInvalidRequest, "Client must accept application/json or text/event-stream.")
		t.log.WarnContext(ctx, "accept.unsupported", slog.String("accept", r.Header.Get("Accept")))
		return
	}

	responses := make([]*jsonrpc.Response, 0, len(requests))
	for _, req := range requests {
		res, err := t.eng.HandleRequest(ctx, req)
		if err != nil {
			t.log.ErrorContext(ctx, "rpc.inbound.fail", slog.String("method", req.Method), slog.String("err", err.Error()))
			res = jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "internal server error", nil)
		}
		responses = append(responses, res)
	}
	t.setProtocolVersion(w)

	if mediaType.Matches(eventStreamMediaType) {
		t.writeSSE(ctx, w, responses)
		return
	}

	var body any = responses[0]
	if batch {
		body = responses
	}
	w.Header().Set("Content-Type", jsonMediaType.String())
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		t.log.ErrorContext(ctx, "rpc.response.write.fail", slog.String("err", err.Error()))
	}
}

func (t *sessionTransport) writeSSE(ctx context.Context, w http.ResponseWriter, responses []*jsonrpc.Response) {
	wf, ok := newLockedWriteFlusher(ctx, w)
	if !ok {
		writeJSONError(w, http.StatusInternalServerError, CodeInternalError, msgInternal)
		t.log.ErrorContext(ctx, "flusher.missing")
		return
	}
	defer wf.close()

	setEventStreamHeaders(w)
	w.WriteHeader(http.StatusOK)
	for _, res := range responses {
		b, err := json.Marshal(res)
		if err != nil {
			t.log.ErrorContext(ctx, "rpc.response.marshal.fail", slog.String("err", err.Error()))
			continue
		}
		if err := wf.writeEvent(b); err != nil {
			t.log.InfoContext(ctx, "sse.write.fail", slog.String("err", err.Error()))
			return
		}
	}
}

// serveStream holds the standalone GET stream open until the client goes
// away or the session closes. Only one such stream may be open at a time.
func (t *sessionTransport) serveStream(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	if _, _, err := contenttype.GetAcceptableMediaType(r, eventStreamMediaTypes); err != nil {
		writeJSONError(w, http.StatusNotAcceptable, CodeInvalidRequest, "Client must accept text/event-stream.")
		t.log.WarnContext(ctx, "accept.unsupported", slog.String("accept", r.Header.Get("Accept")))
		return
	}
	wf, ok := newLockedWriteFlusher(ctx, w)
	if !ok {
		writeJSONError(w, http.StatusInternalServerError, CodeInternalError, msgInternal)
		t.log.ErrorContext(ctx, "flusher.missing")
		return
	}

	t.mu.Lock()
	if t.stream != nil {
		t.mu.Unlock()
		writeJSONError(w, http.StatusConflict, CodeInvalidRequest, "Only one event stream is allowed per session.")
		t.log.InfoContext(ctx, "sse.stream.conflict")
		return
	}
	t.stream = wf
	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		if t.stream == wf {
			t.stream = nil
		}
		t.mu.Unlock()
		wf.close()
	}()

	t.setProtocolVersion(w)
	setEventStreamHeaders(w)
	w.WriteHeader(http.StatusOK)
	wf.flush()
	t.log.InfoContext(ctx, "sse.stream.start")

	select {
	case <-ctx.Done():
		t.log.InfoContext(ctx, "sse.stream.end", slog.String("reason", "client"))
	case <-t.ctx.Done():
		t.log.InfoContext(ctx, "sse.stream.end", slog.String("reason", "session_closed"))
	}
}

func (t *sessionTransport) setProtocolVersion(w http.ResponseWriter) {
	if v := t.eng.ProtocolVersion(); v != "" {
		w.Header().Set(mcpProtocolVersionHeader, v)
	}
}

func setEventStreamHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", eventStreamMediaType.String())
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}
