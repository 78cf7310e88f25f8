package mcpservice

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/ggoodman/mcp-vault-server/mcp"
)

type sentNotification struct {
	method mcp.Method
	params any
}

func TestSessionLoggerFiltersByLevel(t *testing.T) {
	var sent []sentNotification
	n := NotifierFunc(func(_ context.Context, method mcp.Method, params any) error {
		sent = append(sent, sentNotification{method, params})
		return nil
	})
	lv := new(slog.LevelVar)
	l := NewSessionLogger(n, WithLevelVar(lv))
	ctx := context.Background()

	l.Debug(ctx, "read_note", "before any level is set")
	if len(sent) != 1 {
		t.Fatalf("expected unfiltered delivery before setLevel, got %d", len(sent))
	}

	if err := l.SetLevel(mcp.LoggingLevelWarning); err != nil {
		t.Fatalf("set level: %v", err)
	}
	if want, got := slog.LevelWarn, lv.Level(); want != got {
		t.Fatalf("expected slog level %v, got %v", want, got)
	}

	l.Info(ctx, "read_note", "dropped")
	l.Error(ctx, "read_note", "kept")
	if len(sent) != 2 {
		t.Fatalf("expected 2 notifications, got %d", len(sent))
	}
	msg, ok := sent[1].params.(mcp.LoggingMessageNotification)
	if !ok || sent[1].method != mcp.LoggingMessageNotificationMethod {
		t.Fatalf("unexpected notification %+v", sent[1])
	}
	if msg.Level != mcp.LoggingLevelError || msg.Logger != "read_note" || msg.Data != "kept" {
		t.Fatalf("unexpected message %+v", msg)
	}
}

func TestSessionLoggerSwallowsDeliveryErrors(t *testing.T) {
	n := NotifierFunc(func(context.Context, mcp.Method, any) error { return errors.New("stream closed") })
	l := NewSessionLogger(n)
	l.Warning(context.Background(), "x", "y")
}

func TestSessionLoggerRejectsUnknownLevel(t *testing.T) {
	l := NewSessionLogger(nil)
	if err := l.SetLevel("loud"); !errors.Is(err, ErrInvalidLoggingLevel) {
		t.Fatalf("expected ErrInvalidLoggingLevel, got %v", err)
	}
}
