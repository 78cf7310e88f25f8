// Package engine answers the JSON-RPC requests of one MCP session against
// the session's mcpservice.Server.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/ggoodman/mcp-vault-server/internal/jsonrpc"
	"github.com/ggoodman/mcp-vault-server/internal/logctx"
	"github.com/ggoodman/mcp-vault-server/mcp"
	"github.com/ggoodman/mcp-vault-server/mcpservice"
)

// ErrCancelled is the cause attached to requests cancelled by the client.
var ErrCancelled = errors.New("operation cancelled")

// Engine is the protocol state of one session: whether initialize ran, the
// negotiated version and the requests in flight.
type Engine struct {
	srv *mcpservice.Server
	log *slog.Logger

	mu              sync.Mutex
	initialized     bool
	protocolVersion string
	client          mcp.ImplementationInfo

	inflightMu sync.Mutex
	inflight   map[string]context.CancelCauseFunc
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// New returns an Engine serving srv.
func New(srv *mcpservice.Server, opts ...Option) *Engine {
	e := &Engine{
		srv:      srv,
		log:      slog.Default(),
		inflight: make(map[string]context.CancelCauseFunc),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ProtocolVersion returns the negotiated version, empty before initialize.
func (e *Engine) ProtocolVersion() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.protocolVersion
}

// Client returns what the client declared in initialize.
func (e *Engine) Client() mcp.ImplementationInfo {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.client
}

// HandleRequest answers one request. The returned error is reserved for
// failures to build a response at all.
func (e *Engine) HandleRequest(ctx context.Context, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	ctx = logctx.WithRPCMessage(ctx, &logctx.RPCMessage{Method: req.Method, ID: req.ID.String(), Type: "request"})

	reqCtx, done := e.track(ctx, req.ID)
	defer done()

	switch mcp.Method(req.Method) {
	case mcp.InitializeMethod:
		return e.handleInitialize(reqCtx, req)
	case mcp.PingMethod:
		return jsonrpc.NewResultResponse(req.ID, &mcp.EmptyResult{})
	case mcp.ToolsListMethod:
		return e.handleToolsList(reqCtx, req)
	case mcp.ToolsCallMethod:
		return e.handleToolCall(reqCtx, req)
	case mcp.PromptsListMethod:
		return e.handlePromptsList(reqCtx, req)
	case mcp.PromptsGetMethod:
		return e.handlePromptsGet(reqCtx, req)
	case mcp.ResourcesListMethod:
		return e.handleResourcesList(reqCtx, req)
	case mcp.ResourcesTemplatesListMethod:
		return e.handleResourcesTemplatesList(reqCtx, req)
	case mcp.ResourcesReadMethod:
		return e.handleResourcesRead(reqCtx, req)
	case mcp.ResourcesSubscribeMethod:
		return e.handleResourcesSubscribe(reqCtx, req, true)
	case mcp.ResourcesUnsubscribeMethod:
		return e.handleResourcesSubscribe(reqCtx, req, false)
	case mcp.CompletionCompleteMethod:
		return e.handleCompletionsComplete(reqCtx, req)
	case mcp.LoggingSetLevelMethod:
		return e.handleSetLoggingLevel(reqCtx, req)
	}

	e.log.InfoContext(ctx, "engine.handle_request.unknown_method")
	return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeMethodNotFound, "Method not found", nil), nil
}

// HandleNotification processes a client notification. Unknown
// notifications are ignored.
func (e *Engine) HandleNotification(ctx context.Context, note *jsonrpc.Request) {
	switch mcp.Method(note.Method) {
	case mcp.InitializedNotificationMethod:
		e.log.InfoContext(ctx, "engine.session.initialized")
	case mcp.CancelledNotificationMethod:
		var params mcp.CancelledNotification
		if err := json.Unmarshal(note.Params, &params); err != nil {
			e.log.InfoContext(ctx, "engine.handle_notification.invalid", slog.String("err", err.Error()))
			return
		}
		var id jsonrpc.RequestID
		if err := json.Unmarshal(params.RequestID, &id); err != nil {
			e.log.InfoContext(ctx, "engine.handle_notification.invalid", slog.String("err", err.Error()))
			return
		}
		if e.cancel(id.String()) {
			e.log.InfoContext(ctx, "engine.request.cancelled", slog.String("request_id", id.String()), slog.String("reason", params.Reason))
		}
	default:
		e.log.DebugContext(ctx, "engine.handle_notification.ignored", slog.String("method", note.Method))
	}
}

// track registers req for cancellation until done is called.
func (e *Engine) track(ctx context.Context, id *jsonrpc.RequestID) (context.Context, func()) {
	key := id.String()
	reqCtx, cancel := context.WithCancelCause(ctx)
	e.inflightMu.Lock()
	e.inflight[key] = cancel
	e.inflightMu.Unlock()
	return reqCtx, func() {
		e.inflightMu.Lock()
		delete(e.inflight, key)
		e.inflightMu.Unlock()
		cancel(context.Canceled)
	}
}

func (e *Engine) cancel(key string) bool {
	e.inflightMu.Lock()
	cancel, ok := e.inflight[key]
	e.inflightMu.Unlock()
	if ok {
		cancel(ErrCancelled)
	}
	return ok
}

func (e *Engine) handleInitialize(ctx context.Context, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	var params mcp.InitializeRequest
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			e.log.InfoContext(ctx, "engine.handle_request.invalid", slog.String("err", err.Error()))
			return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "invalid params", nil), nil
		}
	}

	e.mu.Lock()
	if e.initialized {
		e.mu.Unlock()
		e.log.InfoContext(ctx, "engine.handle_request.invalid", slog.String("err", "already initialized"))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidRequest, "Invalid Request: Server already initialized", nil), nil
	}
	e.initialized = true
	e.protocolVersion = mcp.NegotiateProtocolVersion(params.ProtocolVersion)
	e.client = params.ClientInfo
	version := e.protocolVersion
	e.mu.Unlock()

	e.log.InfoContext(ctx, "engine.initialize.ok",
		slog.String("client", params.ClientInfo.Name),
		slog.String("requested_version", params.ProtocolVersion),
		slog.String("protocol_version", version),
	)

	return jsonrpc.NewResultResponse(req.ID, &mcp.InitializeResult{
		ProtocolVersion: version,
		Capabilities:    e.srv.Capabilities(),
		ServerInfo:      e.srv.Info(),
		Instructions:    e.srv.Instructions(),
	})
}

func decodeParams(req *jsonrpc.Request, dst any) error {
	if len(req.Params) == 0 {
		return nil
	}
	return json.Unmarshal(req.Params, dst)
}

func (e *Engine) handleToolsList(ctx context.Context, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	var params mcp.ListToolsRequest
	if err := decodeParams(req, &params); err != nil {
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "invalid params", nil), nil
	}
	page := e.srv.Tools().ListTools(ctx, params.Cursor)
	return jsonrpc.NewResultResponse(req.ID, &mcp.ListToolsResult{
		Tools:           page.Items,
		PaginatedResult: mcp.PaginatedResult{NextCursor: page.NextCursor},
	})
}

func (e *Engine) handleToolCall(ctx context.Context, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	start := time.Now()
	var params mcp.CallToolRequestReceived
	if err := decodeParams(req, &params); err != nil || params.Name == "" {
		e.log.InfoContext(ctx, "engine.handle_request.invalid", slog.Int64("dur_ms", time.Since(start).Milliseconds()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "invalid params", nil), nil
	}
	ctx = logctx.WithToolCallData(ctx, &logctx.ToolCallData{ToolName: params.Name})

	res, err := e.srv.Tools().Call(ctx, &params)
	if err != nil {
		if errors.Is(err, mcpservice.ErrToolNotFound) {
			e.log.InfoContext(ctx, "engine.handle_request.invalid", slog.String("err", err.Error()))
			return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "Tool "+params.Name+" not found", nil), nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, ErrCancelled) || errors.Is(err, context.DeadlineExceeded) {
			e.log.InfoContext(ctx, "engine.handle_request.cancelled", slog.Int64("dur_ms", time.Since(start).Milliseconds()))
			return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "cancelled", nil), nil
		}
		e.log.ErrorContext(ctx, "engine.handle_request.fail", slog.String("err", err.Error()), slog.Int64("dur_ms", time.Since(start).Milliseconds()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "internal error", nil), nil
	}

	e.log.InfoContext(ctx, "engine.handle_request.ok", slog.Bool("is_error", res.IsError), slog.Int64("dur_ms", time.Since(start).Milliseconds()))
	return jsonrpc.NewResultResponse(req.ID, res)
}

func (e *Engine) handlePromptsList(ctx context.Context, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	prompts := e.srv.Prompts()
	if prompts == nil {
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeMethodNotFound, "prompts capability not supported", nil), nil
	}
	var params mcp.ListPromptsRequest
	if err := decodeParams(req, &params); err != nil {
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "invalid params", nil), nil
	}
	page := prompts.ListPrompts(ctx, params.Cursor)
	return jsonrpc.NewResultResponse(req.ID, &mcp.ListPromptsResult{
		Prompts:         page.Items,
		PaginatedResult: mcp.PaginatedResult{NextCursor: page.NextCursor},
	})
}

func (e *Engine) handlePromptsGet(ctx context.Context, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	prompts := e.srv.Prompts()
	if prompts == nil {
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeMethodNotFound, "prompts capability not supported", nil), nil
	}
	var params mcp.GetPromptRequest
	if err := decodeParams(req, &params); err != nil || params.Name == "" {
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "invalid params", nil), nil
	}
	res, err := prompts.GetPrompt(ctx, &params)
	if err != nil {
		if errors.Is(err, mcpservice.ErrPromptNotFound) {
			return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "Prompt "+params.Name+" not found", nil), nil
		}
		e.log.ErrorContext(ctx, "engine.handle_request.fail", slog.String("err", err.Error()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "internal error", nil), nil
	}
	return jsonrpc.NewResultResponse(req.ID, res)
}

func (e *Engine) handleResourcesList(ctx context.Context, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	res := e.srv.Resources()
	if res == nil {
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeMethodNotFound, "resources capability not supported", nil), nil
	}
	var params mcp.ListResourcesRequest
	if err := decodeParams(req, &params); err != nil {
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "invalid params", nil), nil
	}
	page, err := res.ListResources(ctx, params.Cursor)
	if err != nil {
		e.log.ErrorContext(ctx, "engine.handle_request.fail", slog.String("err", err.Error()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "internal error", nil), nil
	}
	return jsonrpc.NewResultResponse(req.ID, &mcp.ListResourcesResult{
		Resources:       page.Items,
		PaginatedResult: mcp.PaginatedResult{NextCursor: page.NextCursor},
	})
}

func (e *Engine) handleResourcesTemplatesList(ctx context.Context, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	res := e.srv.Resources()
	if res == nil {
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeMethodNotFound, "resources capability not supported", nil), nil
	}
	var params mcp.ListResourceTemplatesRequest
	if err := decodeParams(req, &params); err != nil {
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "invalid params", nil), nil
	}
	page := res.ListResourceTemplates(ctx, params.Cursor)
	return jsonrpc.NewResultResponse(req.ID, &mcp.ListResourceTemplatesResult{
		ResourceTemplates: page.Items,
		PaginatedResult:   mcp.PaginatedResult{NextCursor: page.NextCursor},
	})
}

func (e *Engine) handleResourcesRead(ctx context.Context, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	res := e.srv.Resources()
	if res == nil {
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeMethodNotFound, "resources capability not supported", nil), nil
	}
	var params mcp.ReadResourceRequest
	if err := decodeParams(req, &params); err != nil || params.URI == "" {
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "invalid params", nil), nil
	}
	contents, err := res.ReadResource(ctx, params.URI)
	if err != nil {
		if errors.Is(err, mcpservice.ErrResourceNotFound) {
			return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeResourceNotFound, "Resource "+params.URI+" not found", map[string]string{"uri": params.URI}), nil
		}
		e.log.ErrorContext(ctx, "engine.handle_request.fail", slog.String("err", err.Error()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "internal error", nil), nil
	}
	return jsonrpc.NewResultResponse(req.ID, &mcp.ReadResourceResult{Contents: contents})
}

func (e *Engine) handleResourcesSubscribe(ctx context.Context, req *jsonrpc.Request, subscribe bool) (*jsonrpc.Response, error) {
	res := e.srv.Resources()
	if res == nil || !res.SubscriptionsEnabled() {
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeMethodNotFound, "subscriptions not supported", nil), nil
	}
	var params mcp.SubscribeRequest
	if err := decodeParams(req, &params); err != nil || params.URI == "" {
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "invalid params", nil), nil
	}
	if subscribe {
		res.Subscribe(params.URI)
	} else {
		res.Unsubscribe(params.URI)
	}
	e.log.DebugContext(ctx, "engine.subscription.update", slog.String("uri", params.URI), slog.Bool("subscribed", subscribe))
	return jsonrpc.NewResultResponse(req.ID, &mcp.EmptyResult{})
}

func (e *Engine) handleCompletionsComplete(ctx context.Context, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	var params mcp.CompleteRequest
	if err := decodeParams(req, &params); err != nil {
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "invalid params", nil), nil
	}
	empty := mcp.Completion{Values: []string{}}
	switch params.Ref.Type {
	case mcp.RefTypeResource:
		res := e.srv.Resources()
		if res == nil {
			return jsonrpc.NewResultResponse(req.ID, &mcp.CompleteResult{Completion: empty})
		}
		c, err := res.Complete(ctx, params.Ref.URI, params.Argument)
		if err != nil {
			e.log.ErrorContext(ctx, "engine.handle_request.fail", slog.String("err", err.Error()))
			return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "internal error", nil), nil
		}
		return jsonrpc.NewResultResponse(req.ID, &mcp.CompleteResult{Completion: c})
	case mcp.RefTypePrompt:
		// No prompt takes arguments.
		return jsonrpc.NewResultResponse(req.ID, &mcp.CompleteResult{Completion: empty})
	default:
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "invalid params", nil), nil
	}
}

func (e *Engine) handleSetLoggingLevel(ctx context.Context, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	logger := e.srv.Logger()
	if logger == nil {
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeMethodNotFound, "logging not supported", nil), nil
	}
	var params mcp.SetLevelRequest
	if err := decodeParams(req, &params); err != nil {
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "invalid params", nil), nil
	}
	if err := logger.SetLevel(params.Level); err != nil {
		e.log.InfoContext(ctx, "engine.handle_request.invalid", slog.String("err", err.Error()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "invalid params", nil), nil
	}
	return jsonrpc.NewResultResponse(req.ID, &mcp.EmptyResult{})
}
