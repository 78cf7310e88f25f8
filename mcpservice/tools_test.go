package mcpservice

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/ggoodman/mcp-vault-server/mcp"
	"github.com/ggoodman/mcp-vault-server/usage"
)

type echoArgs struct {
	Message string `json:"message" jsonschema:"description=Text to echo"`
	Times   int    `json:"times,omitempty" jsonschema:"minimum=1,maximum=5"`
}

type echoOut struct {
	Echoed string `json:"echoed"`
}

func newEchoTool() StaticTool {
	return NewTool[echoArgs]("echo", func(ctx context.Context, w ToolResponseWriter, r *ToolRequest[echoArgs]) error {
		if r.Args().Message == "fail" {
			return errors.New("Access denied or resource not found.")
		}
		return w.AppendText(r.Args().Message)
	},
		WithToolDescription("echo tool"),
		WithToolAnnotations(mcp.ToolAnnotations{ReadOnlyHint: true, IdempotentHint: true}),
	)
}

func TestNewToolDescriptor(t *testing.T) {
	tool := newEchoTool()
	d := tool.Descriptor

	if want, got := "echo tool", d.Description; want != got {
		t.Fatalf("expected description %q, got %q", want, got)
	}
	if d.Annotations == nil || !d.Annotations.ReadOnlyHint || d.Annotations.DestructiveHint {
		t.Fatalf("unexpected annotations %+v", d.Annotations)
	}
	if want, got := []string{"message"}, d.InputSchema.Required; len(got) != 1 || got[0] != want[0] {
		t.Fatalf("expected required %v, got %v", want, got)
	}
	if d.InputSchema.AdditionalProperties {
		t.Fatalf("expected strict schema")
	}
	times := d.InputSchema.Properties["times"]
	if times.Type != "integer" || times.Minimum == nil || *times.Minimum != 1 || times.Maximum == nil || *times.Maximum != 5 {
		t.Fatalf("unexpected times schema %+v", times)
	}
	if want, got := "Text to echo", d.InputSchema.Properties["message"].Description; want != got {
		t.Fatalf("expected description %q, got %q", want, got)
	}

	b, err := json.Marshal(d)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var raw map[string]any
	_ = json.Unmarshal(b, &raw)
	ann, ok := raw["annotations"].(map[string]any)
	if !ok {
		t.Fatalf("expected annotations in %s", b)
	}
	if _, ok := ann["openWorldHint"]; !ok {
		t.Fatalf("expected every hint to be serialized, got %s", b)
	}
}

func TestNewToolCall(t *testing.T) {
	c := NewToolsContainer(newEchoTool())
	ctx := context.Background()

	t.Run("successful call returns text", func(t *testing.T) {
		res, err := c.Call(ctx, &mcp.CallToolRequestReceived{Name: "echo", Arguments: json.RawMessage(`{"message":"hi"}`)})
		if err != nil {
			t.Fatalf("call: %v", err)
		}
		if res.IsError || len(res.Content) != 1 || res.Content[0].Text != "hi" {
			t.Fatalf("unexpected result %+v", res)
		}
	})

	t.Run("handler error becomes an error result", func(t *testing.T) {
		res, err := c.Call(ctx, &mcp.CallToolRequestReceived{Name: "echo", Arguments: json.RawMessage(`{"message":"fail"}`)})
		if err != nil {
			t.Fatalf("call: %v", err)
		}
		if !res.IsError || res.Content[0].Text != "Access denied or resource not found." {
			t.Fatalf("unexpected result %+v", res)
		}
	})

	t.Run("unknown fields are rejected", func(t *testing.T) {
		res, err := c.Call(ctx, &mcp.CallToolRequestReceived{Name: "echo", Arguments: json.RawMessage(`{"message":"hi","extra":1}`)})
		if err != nil {
			t.Fatalf("call: %v", err)
		}
		if !res.IsError {
			t.Fatalf("expected error result, got %+v", res)
		}
	})

	t.Run("missing required property is rejected", func(t *testing.T) {
		res, err := c.Call(ctx, &mcp.CallToolRequestReceived{Name: "echo"})
		if err != nil {
			t.Fatalf("call: %v", err)
		}
		if !res.IsError {
			t.Fatalf("expected error result, got %+v", res)
		}
	})

	t.Run("a panicking handler becomes a counted error result", func(t *testing.T) {
		tracker := usage.NewTracker(nil, usage.WithDebounce(time.Hour))
		run := usage.Track(tracker, "explode", func(context.Context, struct{}) (struct{}, error) {
			var m map[string]int
			m["x"] = 1
			return struct{}{}, nil
		})
		tool := NewTool[struct{}]("explode", func(ctx context.Context, _ ToolResponseWriter, _ *ToolRequest[struct{}]) error {
			_, err := run(ctx, struct{}{})
			return err
		})

		res, err := NewToolsContainer(tool).Call(ctx, &mcp.CallToolRequestReceived{Name: "explode"})
		if err != nil {
			t.Fatalf("call: %v", err)
		}
		if !res.IsError || res.Content[0].Text != ErrToolPanicked.Error() {
			t.Fatalf("unexpected result %+v", res)
		}
		if want, got := (usage.Counters{Total: 1, Failed: 1}), tracker.Ledger()["explode"]; want != got {
			t.Fatalf("expected %+v, got %+v", want, got)
		}
	})

	t.Run("unknown tool is a protocol error", func(t *testing.T) {
		_, err := c.Call(ctx, &mcp.CallToolRequestReceived{Name: "nope"})
		if !errors.Is(err, ErrToolNotFound) {
			t.Fatalf("expected ErrToolNotFound, got %v", err)
		}
	})
}

func TestNewToolWithOutput(t *testing.T) {
	tool := NewToolWithOutput[echoArgs, echoOut]("produce", func(ctx context.Context, w ToolResponseWriterTyped[echoOut], r *ToolRequest[echoArgs]) error {
		w.SetStructured(echoOut{Echoed: r.Args().Message})
		return w.AppendText(r.Args().Message)
	})
	if tool.Descriptor.OutputSchema == nil || tool.Descriptor.OutputSchema.Type != "object" {
		t.Fatalf("expected object output schema, got %+v", tool.Descriptor.OutputSchema)
	}
	if _, ok := tool.Descriptor.OutputSchema.Properties["echoed"]; !ok {
		t.Fatalf("expected echoed property in output schema")
	}

	res, err := tool.Handler(context.Background(), &mcp.CallToolRequestReceived{Name: "produce", Arguments: json.RawMessage(`{"message":"x"}`)})
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if want, got := "x", res.StructuredContent["echoed"]; want != got {
		t.Fatalf("expected structured %q, got %v", want, got)
	}
}

func TestToolResponseWriterFinalizes(t *testing.T) {
	w := newToolResponseWriter(context.Background())
	if err := w.AppendText("a"); err != nil {
		t.Fatalf("append: %v", err)
	}
	res := w.Result()
	if len(res.Content) != 1 {
		t.Fatalf("expected one block, got %d", len(res.Content))
	}
	if err := w.AppendText("b"); !errors.Is(err, ErrFinalized) {
		t.Fatalf("expected ErrFinalized, got %v", err)
	}
}

func TestToolsPagination(t *testing.T) {
	var defs []StaticTool
	for _, name := range []string{"a", "b", "c"} {
		defs = append(defs, NewTool[struct{}](name, func(context.Context, ToolResponseWriter, *ToolRequest[struct{}]) error { return nil }))
	}
	c := NewToolsContainer(defs...)
	c.pageSize = 2

	first := c.ListTools(context.Background(), "")
	if len(first.Items) != 2 || first.NextCursor != "2" {
		t.Fatalf("unexpected first page %+v", first)
	}
	second := c.ListTools(context.Background(), first.NextCursor)
	if len(second.Items) != 1 || second.NextCursor != "" || second.Items[0].Name != "c" {
		t.Fatalf("unexpected second page %+v", second)
	}
}
