package logctx

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestHandlerAddsContextGroups(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(Handler{Handler: slog.NewJSONHandler(&buf, nil)}).With("component", "test")

	ctx := WithRequestData(context.Background(), &RequestData{RequestID: "r1", Method: "POST", Path: "/mcp"})
	ctx = WithSessionData(ctx, &SessionData{SessionID: "s1", ClientName: "Claude"})
	ctx = WithToolCallData(ctx, &ToolCallData{ToolName: "read_note"})

	log.InfoContext(ctx, "tool.call.ok")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("decode log record: %v", err)
	}
	req, _ := rec["req"].(map[string]any)
	if want, got := "r1", req["id"]; want != got {
		t.Fatalf("expected req.id %v, got %v", want, got)
	}
	sess, _ := rec["sess"].(map[string]any)
	if want, got := "Claude", sess["client"]; want != got {
		t.Fatalf("expected sess.client %v, got %v", want, got)
	}
	tool, _ := rec["tool"].(map[string]any)
	if want, got := "read_note", tool["name"]; want != got {
		t.Fatalf("expected tool.name %v, got %v", want, got)
	}
	if want, got := "test", rec["component"]; want != got {
		t.Fatalf("expected component %v, got %v", want, got)
	}
}
