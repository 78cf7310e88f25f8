package jsonrpc

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestDecodeMessages(t *testing.T) {
	t.Run("single request", func(t *testing.T) {
		msgs, batch, err := DecodeMessages([]byte(`{"jsonrpc":"2.0","id":1,"method":"ping"}`))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if batch {
			t.Fatalf("expected single message")
		}
		if want, got := "request", msgs[0].Type(); want != got {
			t.Fatalf("expected %q, got %q", want, got)
		}
		if want, got := "1", msgs[0].ID.String(); want != got {
			t.Fatalf("expected id %q, got %q", want, got)
		}
	})

	t.Run("batch with initialize", func(t *testing.T) {
		body := `[{"jsonrpc":"2.0","method":"notifications/initialized"},{"jsonrpc":"2.0","id":"a","method":"initialize","params":{}}]`
		msgs, batch, err := DecodeMessages([]byte(body))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !batch || len(msgs) != 2 {
			t.Fatalf("expected batch of 2, got batch=%v len=%d", batch, len(msgs))
		}
		if init := FindRequest(msgs, "initialize"); init == nil || init.ID.String() != "a" {
			t.Fatalf("expected initialize in batch, got %+v", init)
		}
		if FindRequest(msgs, "notifications/initialized") != nil {
			t.Fatalf("notifications must not count as requests")
		}
		if want, got := "notification", msgs[0].Type(); want != got {
			t.Fatalf("expected %q, got %q", want, got)
		}
	})

	t.Run("empty batch", func(t *testing.T) {
		_, _, err := DecodeMessages([]byte(`[]`))
		if !errors.Is(err, ErrEmptyBatch) {
			t.Fatalf("expected ErrEmptyBatch, got %v", err)
		}
	})

	t.Run("wrong version", func(t *testing.T) {
		if _, _, err := DecodeMessages([]byte(`{"jsonrpc":"1.0","id":1,"method":"ping"}`)); err == nil {
			t.Fatalf("expected error")
		}
	})

	t.Run("response with both result and error", func(t *testing.T) {
		if _, _, err := DecodeMessages([]byte(`{"jsonrpc":"2.0","id":1,"result":{},"error":{"code":1,"message":"x"}}`)); err == nil {
			t.Fatalf("expected error")
		}
	})
}

func TestErrorResponseWithoutIDEncodesNull(t *testing.T) {
	b, err := json.Marshal(NewErrorResponse(nil, ErrorCodeParseError, "parse error", nil))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"jsonrpc":"2.0","error":{"code":-32700,"message":"parse error"},"id":null}`
	if got := string(b); got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
}
