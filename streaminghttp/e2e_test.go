package streaminghttp_test

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// authRT injects an Authorization header for test requests.
type authRT struct{ base http.RoundTripper }

func (t authRT) RoundTrip(req *http.Request) (*http.Response, error) {
	r := req.Clone(req.Context())
	r.Header.Set("Authorization", "Bearer "+testToken)
	return t.base.RoundTrip(r)
}

func TestSDKClient_E2E(t *testing.T) {
	ctx := t.Context()
	h := newHarness(t, nil)

	client := sdk.NewClient(&sdk.Implementation{Name: "e2e", Version: "0.0.1"}, &sdk.ClientOptions{})
	transport := &sdk.StreamableClientTransport{
		Endpoint:   h.srv.URL + "/mcp",
		HTTPClient: &http.Client{Transport: authRT{base: http.DefaultTransport}},
	}
	cs, err := client.Connect(ctx, transport, &sdk.ClientSessionOptions{})
	if err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	defer cs.Close()

	if want, got := 1, h.registry.Len(); want != got {
		t.Fatalf("want %d sessions, got %d", want, got)
	}
	if want, got := "e2e", h.registry.Summaries()[0].ClientName; want != got {
		t.Fatalf("want client %q, got %q", want, got)
	}

	lt, err := cs.ListTools(ctx, &sdk.ListToolsParams{})
	if err != nil {
		t.Fatalf("ListTools failed: %v", err)
	}
	var found bool
	for _, tool := range lt.Tools {
		if tool.Name == "read_note" {
			found = true
		}
	}
	if !found {
		t.Fatalf("read_note missing from %d tools", len(lt.Tools))
	}

	res, err := cs.CallTool(ctx, &sdk.CallToolParams{
		Name:      "read_note",
		Arguments: map[string]any{"path": "Welcome.md"},
	})
	if err != nil {
		t.Fatalf("CallTool failed: %v", err)
	}
	if res.IsError {
		t.Fatalf("read_note reported an error: %+v", res)
	}
	b, err := json.Marshal(res.Content)
	if err != nil {
		t.Fatalf("marshal content: %v", err)
	}
	if !strings.Contains(string(b), "Hello from the vault.") {
		t.Fatalf("unexpected content %s", b)
	}

	t.Run("blocked notes stay hidden", func(t *testing.T) {
		res, err := cs.CallTool(ctx, &sdk.CallToolParams{
			Name:      "read_note",
			Arguments: map[string]any{"path": "Secret/plan.md"},
		})
		if err != nil {
			t.Fatalf("CallTool failed: %v", err)
		}
		if !res.IsError {
			t.Fatalf("expected an error result for a blocked note")
		}
		sum := h.registry.Summaries()[0]
		if want, got := 2, sum.ToolCalls.Total; want != got {
			t.Fatalf("want %d tool calls, got %d", want, got)
		}
		if want, got := 1, sum.ToolCalls.Failed; want != got {
			t.Fatalf("want %d failed calls, got %d", want, got)
		}
	})

	t.Run("resources are listed and readable", func(t *testing.T) {
		lr, err := cs.ListResources(ctx, &sdk.ListResourcesParams{})
		if err != nil {
			t.Fatalf("ListResources failed: %v", err)
		}
		if len(lr.Resources) == 0 {
			t.Fatalf("expected some resources; got none")
		}
		for _, r := range lr.Resources {
			if strings.Contains(r.URI, "Secret") {
				t.Fatalf("blocked resource listed: %s", r.URI)
			}
		}
		rr, err := cs.ReadResource(ctx, &sdk.ReadResourceParams{URI: lr.Resources[0].URI})
		if err != nil {
			t.Fatalf("ReadResource failed: %v", err)
		}
		if len(rr.Contents) == 0 {
			t.Fatalf("expected contents for %s", lr.Resources[0].URI)
		}
	})
}
