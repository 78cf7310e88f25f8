// Package streaminghttp implements the MCP Streamable HTTP transport as the
// single gateway in front of every vault session. It mounts as a standard
// net/http handler.
//
// Every request is authenticated first. Requests to /mcp are then routed by
// their Mcp-Session-Id header:
//
//   - GET and DELETE need a live session: GET opens the session's
//     standalone event stream and DELETE closes the session.
//   - POST to a live session is forwarded to that session's engine.
//   - POST of an initialize request without a live session bootstraps a new
//     one; the id comes back in the Mcp-Session-Id response header.
//   - Anything else is rejected with a JSON body whose "code" tells the
//     client how to recover (SESSION_EXPIRED, INITIALIZATION_REQUIRED, ...).
//
// The legacy /sse endpoint answers 410 Gone.
//
// Construction
//
//	h, err := streaminghttp.New(
//	    registry,                   // *sessions.Registry
//	    facade,                     // Binder, e.g. *vaultserver.Facade
//	    auth.NewStaticToken(token), // auth.Authenticator
//	    streaminghttp.WithLogger(log),
//	)
//	http.ListenAndServe("127.0.0.1:27123", h)
//
// # Responses
//
// POST bodies hold one JSON-RPC message or a batch. Requests are answered
// as application/json or as a text/event-stream, whichever the Accept
// header prefers; a body of only notifications gets 202 Accepted.
// Server-initiated notifications (log messages, resource updates) travel on
// the GET stream; at most one is open per session.
//
// # Error Handling
//
// Transport-level errors map to HTTP status codes; MCP-level errors are
// serialized as JSON-RPC error responses. A panic while serving becomes a
// 500 if nothing was written yet.
package streaminghttp
