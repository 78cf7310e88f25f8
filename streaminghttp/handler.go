package streaminghttp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"runtime/debug"
	"slices"
	"strings"
	"time"

	"github.com/elnormous/contenttype"
	"github.com/ggoodman/mcp-vault-server/auth"
	"github.com/ggoodman/mcp-vault-server/internal/engine"
	"github.com/ggoodman/mcp-vault-server/internal/jsonrpc"
	"github.com/ggoodman/mcp-vault-server/internal/logctx"
	"github.com/ggoodman/mcp-vault-server/mcp"
	"github.com/ggoodman/mcp-vault-server/mcpservice"
	"github.com/ggoodman/mcp-vault-server/sessions"
	"github.com/google/uuid"
)

var (
	_ http.Handler = (*StreamingHTTPHandler)(nil)
)

var (
	jsonMediaType         = contenttype.NewMediaType("application/json")
	eventStreamMediaType  = contenttype.NewMediaType("text/event-stream")
	eventStreamMediaTypes = []contenttype.MediaType{eventStreamMediaType}
	// Streams are preferred when the client accepts both.
	postResponseMediaTypes = []contenttype.MediaType{eventStreamMediaType, jsonMediaType}
)

const (
	mcpSessionIDHeader       = "Mcp-Session-Id"
	mcpProtocolVersionHeader = "Mcp-Protocol-Version"
	authorizationHeader      = "Authorization"
	wwwAuthenticateHeader    = "WWW-Authenticate"
	clientNameHeader         = "X-Client-Name"
)

// Endpoint paths.
const (
	MCPPath = "/mcp"
	SSEPath = "/sse"
)

// DefaultMaxBodyBytes bounds POST bodies. add_attachment carries up to
// 10 MiB base64-encoded.
const DefaultMaxBodyBytes = 32 << 20

// Binder builds the capability set of a new session and forgets it again.
// vaultserver.Facade implements it.
type Binder interface {
	Bind(id string, n mcpservice.Notifier) (*mcpservice.Server, error)
	Release(id string)
}

// Option configures the StreamingHTTPHandler.
type Option func(*newConfig)

type newConfig struct {
	logger       *slog.Logger
	maxBodyBytes int64
}

// WithLogger sets the slog handler used by the server. If not provided, logs are discarded.
func WithLogger(h *slog.Logger) Option {
	return func(c *newConfig) { c.logger = h }
}

// WithMaxBodyBytes overrides DefaultMaxBodyBytes.
func WithMaxBodyBytes(n int64) Option {
	return func(c *newConfig) {
		if n > 0 {
			c.maxBodyBytes = n
		}
	}
}

// StreamingHTTPHandler is the gateway in front of every session: it
// authenticates each request, routes it to its session, bootstraps new
// sessions on initialize and rejects everything else with instructions a
// client can act on.
type StreamingHTTPHandler struct {
	mux          *http.ServeMux
	log          *slog.Logger
	auth         auth.Authenticator
	registry     *sessions.Registry
	binder       Binder
	maxBodyBytes int64
}

// New constructs a StreamingHTTPHandler.
//
// Required:
//   - registry: the live sessions
//   - binder: builds each new session's server
//   - authenticator: checks the credential of every request
func New(registry *sessions.Registry, binder Binder, authenticator auth.Authenticator, opts ...Option) (*StreamingHTTPHandler, error) {
	if registry == nil {
		return nil, fmt.Errorf("session registry is required")
	}
	if binder == nil {
		return nil, fmt.Errorf("binder is required")
	}
	if authenticator == nil {
		return nil, fmt.Errorf("authenticator is required")
	}

	cfg := &newConfig{logger: slog.New(slog.DiscardHandler), maxBodyBytes: DefaultMaxBodyBytes}
	for _, opt := range opts {
		opt(cfg)
	}

	h := &StreamingHTTPHandler{
		log:          slog.New(logctx.Handler{Handler: cfg.logger.Handler()}),
		auth:         authenticator,
		registry:     registry,
		binder:       binder,
		maxBodyBytes: cfg.maxBodyBytes,
	}

	mux := http.NewServeMux()
	mux.HandleFunc(MCPPath, h.handleMCP)
	mux.HandleFunc(SSEPath, h.handleDeprecatedSSE)
	h.mux = mux
	return h, nil
}

// ServeHTTP authenticates the request, then dispatches it. A panic below
// this point becomes a 500 if the response has not started.
func (h *StreamingHTTPHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := logctx.WithRequestData(r.Context(), &logctx.RequestData{
		RequestID:  uuid.NewString(),
		Method:     r.Method,
		UserAgent:  r.UserAgent(),
		RemoteAddr: r.RemoteAddr,
		Path:       r.URL.Path,
	})
	r = r.WithContext(ctx)
	tw := &trackingWriter{ResponseWriter: w}

	defer func() {
		p := recover()
		if p == nil {
			return
		}
		if p == http.ErrAbortHandler {
			panic(p)
		}
		h.log.ErrorContext(ctx, "http.panic", slog.Any("panic", p), slog.String("stack", string(debug.Stack())))
		if !tw.started.Load() {
			writeJSONError(tw, http.StatusInternalServerError, CodeInternalError, msgInternal)
		}
	}()

	if !h.checkAuthentication(ctx, tw, r) {
		return
	}
	h.mux.ServeHTTP(tw, r)
}

func (h *StreamingHTTPHandler) checkAuthentication(ctx context.Context, w http.ResponseWriter, r *http.Request) bool {
	var tok string
	if authHeader := r.Header.Get(authorizationHeader); strings.HasPrefix(authHeader, "Bearer ") {
		tok = authHeader[len("Bearer "):]
	} else {
		tok = r.URL.Query().Get("token")
	}

	if _, err := h.auth.CheckAuthentication(ctx, tok); err != nil {
		c := auth.ChallengeFor(err)
		if c.Status == http.StatusInternalServerError {
			h.log.ErrorContext(ctx, "auth.fail", slog.String("err", err.Error()))
		} else {
			h.log.InfoContext(ctx, "auth.fail", slog.String("err", err.Error()))
		}
		if c.WWWAuthenticate != "" {
			w.Header().Set(wwwAuthenticateHeader, c.WWWAuthenticate)
		}
		writeJSONError(w, c.Status, c.Code, c.Message)
		return false
	}
	return true
}

func (h *StreamingHTTPHandler) handleDeprecatedSSE(w http.ResponseWriter, r *http.Request) {
	h.log.InfoContext(r.Context(), "http.sse.deprecated")
	writeJSONError(w, http.StatusGone, CodeDeprecatedEndpoint, msgDeprecatedEndpoint)
}

func (h *StreamingHTTPHandler) handleMCP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.handleGetMCP(w, r)
	case http.MethodDelete:
		h.handleDeleteMCP(w, r)
	case http.MethodPost:
		h.handlePostMCP(w, r)
	default:
		w.Header().Set("Allow", "GET, POST, DELETE")
		writeJSONError(w, http.StatusMethodNotAllowed, CodeMethodNotAllowed, msgMethodNotAllowed)
	}
}

// liveSession touches and returns the session named by the request header.
func (h *StreamingHTTPHandler) liveSession(r *http.Request) (*sessions.Session, *sessionTransport, bool) {
	id := r.Header.Get(mcpSessionIDHeader)
	if id == "" || !h.registry.Touch(id) {
		return nil, nil, false
	}
	sess, ok := h.registry.Get(id)
	if !ok {
		return nil, nil, false
	}
	t, ok := sess.Transport().(*sessionTransport)
	if !ok {
		return nil, nil, false
	}
	return sess, t, true
}

func withSession(ctx context.Context, sess *sessions.Session, t *sessionTransport) context.Context {
	return logctx.WithSessionData(ctx, &logctx.SessionData{
		SessionID:       sess.ID(),
		ClientName:      sess.Identity().Name,
		ProtocolVersion: t.eng.ProtocolVersion(),
	})
}

// checkProtocolVersion rejects requests declaring a protocol revision the
// server does not speak.
func checkProtocolVersion(w http.ResponseWriter, r *http.Request) bool {
	pv := r.Header.Get(mcpProtocolVersionHeader)
	if pv == "" || slices.Contains(mcp.SupportedProtocolVersions, pv) {
		return true
	}
	writeJSONError(w, http.StatusBadRequest, CodeInvalidRequest, "Unsupported protocol version: "+pv)
	return false
}

// handleGetMCP opens the standalone event stream of a live session.
func (h *StreamingHTTPHandler) handleGetMCP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()

	sess, t, ok := h.liveSession(r)
	if !ok {
		writeJSONError(w, http.StatusBadRequest, CodeInvalidSession, msgInvalidSession)
		h.log.InfoContext(ctx, "session.load.miss")
		return
	}
	ctx = withSession(ctx, sess, t)
	if !checkProtocolVersion(w, r) {
		h.log.WarnContext(ctx, "protocol.version.unsupported")
		return
	}

	t.serveStream(ctx, w, r)
	h.log.InfoContext(ctx, "http.get.ok", slog.Duration("dur", time.Since(start)))
}

// handleDeleteMCP closes a live session: close hooks first, then removal
// from the registry, then its streams.
func (h *StreamingHTTPHandler) handleDeleteMCP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	sess, t, ok := h.liveSession(r)
	if !ok {
		writeJSONError(w, http.StatusNotFound, CodeSessionNotFound, msgSessionNotFound)
		h.log.InfoContext(ctx, "session.delete.miss")
		return
	}
	ctx = withSession(ctx, sess, t)

	if err := h.registry.Close(sess.ID()); err != nil {
		// Closed concurrently by a sweep or an eviction.
		writeJSONError(w, http.StatusNotFound, CodeSessionNotFound, msgSessionNotFound)
		h.log.InfoContext(ctx, "session.delete.miss", slog.String("err", err.Error()))
		return
	}
	t.setProtocolVersion(w)
	w.WriteHeader(http.StatusOK)
	h.log.InfoContext(ctx, "http.delete.ok")
}

// handlePostMCP routes a POST body to its session, or bootstraps a session
// when the body is an initialize request.
func (h *StreamingHTTPHandler) handlePostMCP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	h.log.DebugContext(ctx, "http.post.start")

	ctype, err := contenttype.GetMediaType(r)
	if err != nil || !ctype.Matches(jsonMediaType) {
		writeJSONError(w, http.StatusUnsupportedMediaType, CodeInvalidRequest, "Content-Type must be application/json.")
		h.log.WarnContext(ctx, "content_type.unsupported")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSONError(w, http.StatusRequestEntityTooLarge, CodeInvalidRequest, "Request body too large.")
		} else {
			writeJSONError(w, http.StatusBadRequest, CodeInvalidRequest, "Could not read request body.")
		}
		h.log.WarnContext(ctx, "http.body.read.fail", slog.String("err", err.Error()))
		return
	}
	msgs, batch, parseErr := jsonrpc.DecodeMessages(body)
	valid := json.Valid(body)

	if sess, t, ok := h.liveSession(r); ok {
		ctx = withSession(ctx, sess, t)
		if !checkProtocolVersion(w, r) {
			h.log.WarnContext(ctx, "protocol.version.unsupported")
			return
		}
		if parseErr != nil {
			writeParseError(w, parseErr, valid)
			h.log.InfoContext(ctx, "jsonrpc.message.invalid", slog.String("err", parseErr.Error()))
			return
		}
		t.servePost(ctx, w, r, msgs, batch)
		h.log.InfoContext(ctx, "http.post.ok", slog.Duration("dur", time.Since(start)))
		return
	}

	var initMsg *jsonrpc.AnyMessage
	if parseErr == nil {
		initMsg = jsonrpc.FindRequest(msgs, string(mcp.InitializeMethod))
	}
	if initMsg == nil {
		if r.Header.Get(mcpSessionIDHeader) != "" {
			writeJSONError(w, http.StatusNotFound, CodeSessionExpired, msgSessionExpired)
			h.log.InfoContext(ctx, "session.expired")
			return
		}
		writeJSONError(w, http.StatusBadRequest, CodeInitializationRequired, msgInitializationRequired)
		h.log.InfoContext(ctx, "session.initialize.required")
		return
	}

	sess, t, err := h.bootstrap(clientIdentity(r, initMsg))
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, CodeInternalError, msgInternal)
		h.log.ErrorContext(ctx, "session.initialize.fail", slog.String("err", err.Error()))
		return
	}
	ctx = withSession(ctx, sess, t)
	w.Header().Set(mcpSessionIDHeader, sess.ID())
	t.servePost(ctx, w, r, msgs, batch)
	h.log.InfoContext(ctx, "session.initialize.ok", slog.Duration("dur", time.Since(start)))
}

// bootstrap admits a new session, evicting the least recently used one when
// the registry is full, and binds its server.
func (h *StreamingHTTPHandler) bootstrap(ident sessions.Identity) (*sessions.Session, *sessionTransport, error) {
	var t *sessionTransport
	sess, err := h.registry.Create(func(s *sessions.Session) (sessions.Transport, error) {
		t = newSessionTransport(s.ID(), h.log)
		srv, err := h.binder.Bind(s.ID(), t)
		if err != nil {
			t.Close()
			return nil, err
		}
		t.eng = engine.New(srv, engine.WithLogger(h.log))
		s.OnClose(func() { h.binder.Release(s.ID()) })
		return t, nil
	}, ident)
	if err != nil {
		return nil, nil, err
	}
	return sess, t, nil
}

// clientIdentity prefers the X-Client-Name header, then the declared
// clientInfo, then "Unknown".
func clientIdentity(r *http.Request, initMsg *jsonrpc.AnyMessage) sessions.Identity {
	var params mcp.InitializeRequest
	if initMsg != nil && len(initMsg.Params) > 0 {
		// Malformed params are answered by the engine; identity falls back.
		_ = json.Unmarshal(initMsg.Params, &params)
	}
	name := r.Header.Get(clientNameHeader)
	if name == "" {
		name = params.ClientInfo.Name
	}
	if name == "" {
		name = "Unknown"
	}
	return sessions.Identity{
		Name:    sessions.ClampIdentity(name),
		Version: sessions.ClampIdentity(params.ClientInfo.Version),
	}
}

// writeParseError answers a body that is not JSON-RPC: -32700 when it is
// not JSON at all, -32600 otherwise.
func writeParseError(w http.ResponseWriter, err error, validJSON bool) {
	code, msg := jsonrpc.ErrorCodeParseError, "Parse error"
	if validJSON {
		code, msg = jsonrpc.ErrorCodeInvalidRequest, "Invalid Request"
	}
	w.Header().Set("Content-Type", jsonMediaType.String())
	w.WriteHeader(http.StatusBadRequest)
	_ = json.NewEncoder(w).Encode(jsonrpc.NewErrorResponse(nil, code, msg, err.Error()))
}
