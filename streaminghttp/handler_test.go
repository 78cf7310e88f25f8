package streaminghttp_test

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ggoodman/mcp-vault-server/access"
	"github.com/ggoodman/mcp-vault-server/auth"
	"github.com/ggoodman/mcp-vault-server/config"
	"github.com/ggoodman/mcp-vault-server/sessions"
	"github.com/ggoodman/mcp-vault-server/streaminghttp"
	"github.com/ggoodman/mcp-vault-server/usage"
	"github.com/ggoodman/mcp-vault-server/vault"
	"github.com/ggoodman/mcp-vault-server/vaultserver"
)

const testToken = "0123456789abcdef0123456789abcdef"

const initBody = `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-06-18","capabilities":{},"clientInfo":{"name":"test-client","version":"1.0.0"}}}`

type harness struct {
	srv      *httptest.Server
	registry *sessions.Registry
	subs     *vaultserver.Subscriptions
}

func newHarness(t *testing.T, authn auth.Authenticator, regOpts ...sessions.Option) *harness {
	t.Helper()
	root := t.TempDir()
	files := map[string]string{
		"Welcome.md":     "# Welcome\n\nHello from the vault.\n",
		"Secret/plan.md": "hidden",
	}
	for p, content := range files {
		abs := filepath.Join(root, filepath.FromSlash(p))
		if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	d, err := vault.Open(root, vault.WithName("Test"))
	if err != nil {
		t.Fatalf("open vault: %v", err)
	}

	rules := access.New(config.DefaultBlacklist)
	registry := sessions.NewRegistry(regOpts...)
	tracker := usage.NewTracker(nil, usage.WithDebounce(time.Hour))
	tracker.SetListener(registry.RecordToolCall)
	subs := vaultserver.NewSubscriptions(rules, nil)
	facade := vaultserver.New(d, rules,
		vaultserver.WithTracker(tracker),
		vaultserver.WithSessions(registry),
		vaultserver.WithSubscriptions(subs),
	)

	if authn == nil {
		authn = auth.NewStaticToken(testToken)
	}
	h, err := streaminghttp.New(registry, facade, authn)
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	// Runs first: ends open event streams so srv.Close does not block.
	t.Cleanup(registry.CloseAll)
	return &harness{srv: srv, registry: registry, subs: subs}
}

// do sends an authenticated request. mod may adjust it before sending.
func (h *harness) do(t *testing.T, method, path, sessionID, body string, mod ...func(*http.Request)) *http.Response {
	t.Helper()
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, h.srv.URL+path, rdr)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+testToken)
	req.Header.Set("Accept", "application/json")
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if sessionID != "" {
		req.Header.Set("Mcp-Session-Id", sessionID)
	}
	for _, m := range mod {
		m(req)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (h *harness) initialize(t *testing.T, mod ...func(*http.Request)) string {
	t.Helper()
	resp := h.do(t, http.MethodPost, "/mcp", "", initBody, mod...)
	if want, got := http.StatusOK, resp.StatusCode; want != got {
		t.Fatalf("initialize: want status %d, got %d", want, got)
	}
	id := resp.Header.Get("Mcp-Session-Id")
	if id == "" {
		t.Fatalf("initialize: missing Mcp-Session-Id header")
	}
	return id
}

func expectRejection(t *testing.T, resp *http.Response, status int, code string) streaminghttp.ErrorBody {
	t.Helper()
	if want, got := status, resp.StatusCode; want != got {
		t.Fatalf("want status %d, got %d", want, got)
	}
	var body streaminghttp.ErrorBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if want, got := code, body.Code; want != got {
		t.Fatalf("want code %q, got %q (error %q)", want, got, body.Error)
	}
	return body
}

type rpcResponse struct {
	ID     json.RawMessage `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func decodeRPC(t *testing.T, resp *http.Response) rpcResponse {
	t.Helper()
	if want, got := http.StatusOK, resp.StatusCode; want != got {
		t.Fatalf("want status %d, got %d", want, got)
	}
	var out rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode rpc response: %v", err)
	}
	return out
}

func withHeader(k, v string) func(*http.Request) {
	return func(r *http.Request) { r.Header.Set(k, v) }
}

func TestAuthentication(t *testing.T) {
	h := newHarness(t, nil)

	t.Run("a request without a token is unauthorized", func(t *testing.T) {
		resp := h.do(t, http.MethodPost, "/mcp", "", initBody, func(r *http.Request) { r.Header.Del("Authorization") })
		body := expectRejection(t, resp, http.StatusUnauthorized, streaminghttp.CodeUnauthorized)
		if want, got := "Unauthorized.", body.Error; want != got {
			t.Fatalf("want error %q, got %q", want, got)
		}
		if want, got := "Bearer", resp.Header.Get("WWW-Authenticate"); want != got {
			t.Fatalf("want WWW-Authenticate %q, got %q", want, got)
		}
	})

	t.Run("a wrong bearer token is unauthorized", func(t *testing.T) {
		resp := h.do(t, http.MethodPost, "/mcp", "", initBody, withHeader("Authorization", "Bearer nope"))
		expectRejection(t, resp, http.StatusUnauthorized, streaminghttp.CodeUnauthorized)
	})

	t.Run("the token may travel in the query string", func(t *testing.T) {
		resp := h.do(t, http.MethodPost, "/mcp?token="+testToken, "", initBody, func(r *http.Request) { r.Header.Del("Authorization") })
		if want, got := http.StatusOK, resp.StatusCode; want != got {
			t.Fatalf("want status %d, got %d", want, got)
		}
	})

	t.Run("authentication runs before routing", func(t *testing.T) {
		resp := h.do(t, http.MethodGet, "/sse", "", "", func(r *http.Request) { r.Header.Del("Authorization") })
		expectRejection(t, resp, http.StatusUnauthorized, streaminghttp.CodeUnauthorized)
	})

	t.Run("a server without a token is misconfigured", func(t *testing.T) {
		bare := newHarness(t, auth.NewStaticToken(""))
		resp := bare.do(t, http.MethodPost, "/mcp", "", initBody)
		body := expectRejection(t, resp, http.StatusInternalServerError, streaminghttp.CodeServerMisconfigured)
		if want, got := "Server misconfigured: no auth token.", body.Error; want != got {
			t.Fatalf("want error %q, got %q", want, got)
		}
	})
}

func TestRouting(t *testing.T) {
	h := newHarness(t, nil)
	const listTools = `{"jsonrpc":"2.0","id":2,"method":"tools/list"}`

	t.Run("the legacy sse endpoint is gone", func(t *testing.T) {
		body := expectRejection(t, h.do(t, http.MethodGet, "/sse", "", ""), http.StatusGone, streaminghttp.CodeDeprecatedEndpoint)
		if want, got := "The /sse endpoint is deprecated. Use /mcp with Streamable HTTP transport.", body.Error; want != got {
			t.Fatalf("want error %q, got %q", want, got)
		}
	})

	t.Run("other verbs are not allowed", func(t *testing.T) {
		expectRejection(t, h.do(t, http.MethodPut, "/mcp", "", listTools), http.StatusMethodNotAllowed, streaminghttp.CodeMethodNotAllowed)
	})

	t.Run("a request without a session must initialize first", func(t *testing.T) {
		body := expectRejection(t, h.do(t, http.MethodPost, "/mcp", "", listTools), http.StatusBadRequest, streaminghttp.CodeInitializationRequired)
		if !strings.HasPrefix(body.Error, "Missing session.") {
			t.Fatalf("unexpected error text %q", body.Error)
		}
	})

	t.Run("a request for an unknown session has expired", func(t *testing.T) {
		body := expectRejection(t, h.do(t, http.MethodPost, "/mcp", "stale-session", listTools), http.StatusNotFound, streaminghttp.CodeSessionExpired)
		if !strings.HasPrefix(body.Error, "Session not found. It may have expired") {
			t.Fatalf("unexpected error text %q", body.Error)
		}
		if !strings.Contains(body.Error, `send a new "initialize" request`) {
			t.Fatalf("unexpected error text %q", body.Error)
		}
	})

	t.Run("an initialize notification does not bootstrap", func(t *testing.T) {
		note := `{"jsonrpc":"2.0","method":"initialize"}`
		expectRejection(t, h.do(t, http.MethodPost, "/mcp", "", note), http.StatusBadRequest, streaminghttp.CodeInitializationRequired)
	})

	t.Run("get without a session is invalid", func(t *testing.T) {
		body := expectRejection(t, h.do(t, http.MethodGet, "/mcp", "", ""), http.StatusBadRequest, streaminghttp.CodeInvalidSession)
		if want, got := "Invalid or missing session.", body.Error; want != got {
			t.Fatalf("want error %q, got %q", want, got)
		}
	})

	t.Run("delete of an unknown session is not found", func(t *testing.T) {
		body := expectRejection(t, h.do(t, http.MethodDelete, "/mcp", "nope", ""), http.StatusNotFound, streaminghttp.CodeSessionNotFound)
		if want, got := "Session not found.", body.Error; want != got {
			t.Fatalf("want error %q, got %q", want, got)
		}
	})

	t.Run("initialize with a stale session id issues a fresh session", func(t *testing.T) {
		resp := h.do(t, http.MethodPost, "/mcp", "stale-session", initBody)
		if want, got := http.StatusOK, resp.StatusCode; want != got {
			t.Fatalf("want status %d, got %d", want, got)
		}
		id := resp.Header.Get("Mcp-Session-Id")
		if id == "" || id == "stale-session" {
			t.Fatalf("expected a fresh session id, got %q", id)
		}
	})

	t.Run("initialize on a live session is a protocol error", func(t *testing.T) {
		id := h.initialize(t)
		res := decodeRPC(t, h.do(t, http.MethodPost, "/mcp", id, initBody))
		if res.Error == nil {
			t.Fatalf("expected a JSON-RPC error, got result %s", res.Result)
		}
		if want, got := -32600, res.Error.Code; want != got {
			t.Fatalf("want code %d, got %d", want, got)
		}
	})

	t.Run("a batch containing initialize bootstraps", func(t *testing.T) {
		batch := `[{"jsonrpc":"2.0","method":"notifications/initialized"},` + initBody + `]`
		resp := h.do(t, http.MethodPost, "/mcp", "", batch)
		if want, got := http.StatusOK, resp.StatusCode; want != got {
			t.Fatalf("want status %d, got %d", want, got)
		}
		var out []struct {
			Result struct {
				ServerInfo struct {
					Name string `json:"name"`
				} `json:"serverInfo"`
			} `json:"result"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			t.Fatalf("decode batch: %v", err)
		}
		if want, got := 1, len(out); want != got {
			t.Fatalf("want %d responses, got %d", want, got)
		}
		if want, got := vaultserver.ServerName, out[0].Result.ServerInfo.Name; want != got {
			t.Fatalf("want server %q, got %q", want, got)
		}
	})

	t.Run("garbage on a live session is a parse error", func(t *testing.T) {
		id := h.initialize(t)
		resp := h.do(t, http.MethodPost, "/mcp", id, "{not json")
		if want, got := http.StatusBadRequest, resp.StatusCode; want != got {
			t.Fatalf("want status %d, got %d", want, got)
		}
		var out rpcResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if out.Error == nil || out.Error.Code != -32700 {
			t.Fatalf("want parse error, got %+v", out.Error)
		}
	})

	t.Run("an unsupported protocol version is rejected", func(t *testing.T) {
		id := h.initialize(t)
		resp := h.do(t, http.MethodPost, "/mcp", id, listTools, withHeader("Mcp-Protocol-Version", "1999-01-01"))
		expectRejection(t, resp, http.StatusBadRequest, streaminghttp.CodeInvalidRequest)
	})
}

func TestSessionLifecycle(t *testing.T) {
	t.Run("initialize admits a session with the declared identity", func(t *testing.T) {
		h := newHarness(t, nil)
		resp := h.do(t, http.MethodPost, "/mcp", "", initBody)
		res := decodeRPC(t, resp)
		if res.Error != nil {
			t.Fatalf("initialize failed: %+v", res.Error)
		}
		if want, got := "2025-06-18", resp.Header.Get("Mcp-Protocol-Version"); want != got {
			t.Fatalf("want protocol version %q, got %q", want, got)
		}
		if want, got := 1, h.registry.Len(); want != got {
			t.Fatalf("want %d sessions, got %d", want, got)
		}
		sum := h.registry.Summaries()[0]
		if want, got := "test-client", sum.ClientName; want != got {
			t.Fatalf("want client %q, got %q", want, got)
		}
		if want, got := "1.0.0", sum.ClientVersion; want != got {
			t.Fatalf("want version %q, got %q", want, got)
		}
	})

	t.Run("the client name header wins over clientInfo", func(t *testing.T) {
		h := newHarness(t, nil)
		h.initialize(t, withHeader("X-Client-Name", "claude-desktop"))
		if want, got := "claude-desktop", h.registry.Summaries()[0].ClientName; want != got {
			t.Fatalf("want client %q, got %q", want, got)
		}
	})

	t.Run("a missing name falls back to Unknown", func(t *testing.T) {
		h := newHarness(t, nil)
		body := `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-06-18","capabilities":{},"clientInfo":{"name":"","version":""}}}`
		resp := h.do(t, http.MethodPost, "/mcp", "", body)
		if want, got := http.StatusOK, resp.StatusCode; want != got {
			t.Fatalf("want status %d, got %d", want, got)
		}
		if want, got := "Unknown", h.registry.Summaries()[0].ClientName; want != got {
			t.Fatalf("want client %q, got %q", want, got)
		}
	})

	t.Run("notifications are accepted without a body", func(t *testing.T) {
		h := newHarness(t, nil)
		id := h.initialize(t)
		resp := h.do(t, http.MethodPost, "/mcp", id, `{"jsonrpc":"2.0","method":"notifications/initialized"}`)
		if want, got := http.StatusAccepted, resp.StatusCode; want != got {
			t.Fatalf("want status %d, got %d", want, got)
		}
	})

	t.Run("tool calls are answered and attributed to the session", func(t *testing.T) {
		h := newHarness(t, nil)
		id := h.initialize(t)
		call := `{"jsonrpc":"2.0","id":3,"method":"tools/call","params":{"name":"read_note","arguments":{"path":"Welcome.md"}}}`
		res := decodeRPC(t, h.do(t, http.MethodPost, "/mcp", id, call))
		if res.Error != nil {
			t.Fatalf("tools/call failed: %+v", res.Error)
		}
		if !strings.Contains(string(res.Result), "Hello from the vault.") {
			t.Fatalf("unexpected result %s", res.Result)
		}
		if want, got := 1, h.registry.Summaries()[0].ToolCalls.Total; want != got {
			t.Fatalf("want %d tool calls, got %d", want, got)
		}
	})

	t.Run("delete closes the session", func(t *testing.T) {
		h := newHarness(t, nil)
		id := h.initialize(t)
		resp := h.do(t, http.MethodDelete, "/mcp", id, "")
		if want, got := http.StatusOK, resp.StatusCode; want != got {
			t.Fatalf("want status %d, got %d", want, got)
		}
		if want, got := 0, h.registry.Len(); want != got {
			t.Fatalf("want %d sessions, got %d", want, got)
		}
		if want, got := 0, h.subs.Len(); want != got {
			t.Fatalf("want %d subscribers, got %d", want, got)
		}
		expectRejection(t, h.do(t, http.MethodPost, "/mcp", id, `{"jsonrpc":"2.0","id":2,"method":"ping"}`), http.StatusNotFound, streaminghttp.CodeSessionExpired)
	})

	t.Run("the least recently used session is evicted at capacity", func(t *testing.T) {
		var tick atomic.Int64
		base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
		clock := func() time.Time { return base.Add(time.Duration(tick.Add(1)) * time.Second) }
		h := newHarness(t, nil, sessions.WithCapacity(2), sessions.WithClock(clock))

		first := h.initialize(t)
		second := h.initialize(t)
		// Touch the first so the second becomes the oldest.
		if resp := h.do(t, http.MethodPost, "/mcp", first, `{"jsonrpc":"2.0","id":2,"method":"ping"}`); resp.StatusCode != http.StatusOK {
			t.Fatalf("ping: status %d", resp.StatusCode)
		}
		h.initialize(t)

		if want, got := 2, h.registry.Len(); want != got {
			t.Fatalf("want %d sessions, got %d", want, got)
		}
		if _, ok := h.registry.Get(second); ok {
			t.Fatalf("expected %s to be evicted", second)
		}
		if _, ok := h.registry.Get(first); !ok {
			t.Fatalf("expected %s to survive", first)
		}
	})
}

func TestEventStreams(t *testing.T) {
	t.Run("requests may be answered as an event stream", func(t *testing.T) {
		h := newHarness(t, nil)
		id := h.initialize(t)
		resp := h.do(t, http.MethodPost, "/mcp", id, `{"jsonrpc":"2.0","id":7,"method":"ping"}`, withHeader("Accept", "text/event-stream"))
		if want, got := "text/event-stream", resp.Header.Get("Content-Type"); want != got {
			t.Fatalf("want content type %q, got %q", want, got)
		}
		b, err := io.ReadAll(resp.Body)
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if !strings.HasPrefix(string(b), "data: ") || !strings.Contains(string(b), `"id":7`) {
			t.Fatalf("unexpected stream %q", b)
		}
	})

	t.Run("the standalone stream carries resource notifications", func(t *testing.T) {
		h := newHarness(t, nil)
		id := h.initialize(t)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		resp := h.do(t, http.MethodGet, "/mcp", id, "", withHeader("Accept", "text/event-stream"), func(r *http.Request) {
			*r = *r.WithContext(ctx)
		})
		if want, got := http.StatusOK, resp.StatusCode; want != got {
			t.Fatalf("want status %d, got %d", want, got)
		}

		t.Run("a second stream conflicts", func(t *testing.T) {
			again := h.do(t, http.MethodGet, "/mcp", id, "", withHeader("Accept", "text/event-stream"))
			expectRejection(t, again, http.StatusConflict, streaminghttp.CodeInvalidRequest)
		})

		h.subs.Handle(vault.Event{Kind: vault.Created, Path: "New.md"})
		h.subs.Handle(vault.Event{Kind: vault.Created, Path: "Secret/hidden.md"})

		sc := bufio.NewScanner(resp.Body)
		var line string
		for sc.Scan() {
			if line = sc.Text(); line != "" {
				break
			}
		}
		if !strings.HasPrefix(line, "data: ") || !strings.Contains(line, "notifications/resources/list_changed") {
			t.Fatalf("unexpected event %q (err %v)", line, sc.Err())
		}

		if resp := h.do(t, http.MethodDelete, "/mcp", id, ""); resp.StatusCode != http.StatusOK {
			t.Fatalf("delete: status %d", resp.StatusCode)
		}
		for sc.Scan() {
			if sc.Text() != "" {
				t.Fatalf("unexpected event after close %q", sc.Text())
			}
		}
	})
}
