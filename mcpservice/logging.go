package mcpservice

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/ggoodman/mcp-vault-server/mcp"
)

// Notifier delivers server-initiated notifications to one session.
type Notifier interface {
	Notify(ctx context.Context, method mcp.Method, params any) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, method mcp.Method, params any) error

func (f NotifierFunc) Notify(ctx context.Context, method mcp.Method, params any) error {
	return f(ctx, method, params)
}

// ErrInvalidLoggingLevel indicates the provided level is not one of the
// protocol-defined LoggingLevel values.
var ErrInvalidLoggingLevel = errors.New("invalid logging level")

// SessionLogger sends notifications/message to the client of one session.
// Messages below the level set with logging/setLevel are dropped; until a
// level is set everything is sent. Delivery failures are ignored.
type SessionLogger struct {
	notifier Notifier
	levelVar *slog.LevelVar
	log      *slog.Logger

	mu    sync.Mutex
	level mcp.LoggingLevel
}

// SessionLoggerOption configures a SessionLogger.
type SessionLoggerOption func(*SessionLogger)

// WithLevelVar also applies logging/setLevel to a process-wide slog level.
func WithLevelVar(lv *slog.LevelVar) SessionLoggerOption {
	return func(l *SessionLogger) { l.levelVar = lv }
}

// WithSessionLoggerLogger sets where delivery failures are reported.
func WithSessionLoggerLogger(log *slog.Logger) SessionLoggerOption {
	return func(l *SessionLogger) { l.log = log }
}

// NewSessionLogger returns a SessionLogger writing through n.
func NewSessionLogger(n Notifier, opts ...SessionLoggerOption) *SessionLogger {
	l := &SessionLogger{notifier: n, log: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// SetLevel sets the minimum level forwarded to the client.
func (l *SessionLogger) SetLevel(level mcp.LoggingLevel) error {
	if !mcp.IsValidLoggingLevel(level) {
		return ErrInvalidLoggingLevel
	}
	l.mu.Lock()
	l.level = level
	l.mu.Unlock()
	if l.levelVar != nil {
		sl, err := SlogLevel(level)
		if err != nil {
			return err
		}
		l.levelVar.Set(sl)
	}
	return nil
}

// Level returns the current threshold, empty when unset.
func (l *SessionLogger) Level() mcp.LoggingLevel {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.level
}

// Log sends data at level under the given logger name.
func (l *SessionLogger) Log(ctx context.Context, level mcp.LoggingLevel, logger string, data any) {
	if l == nil || l.notifier == nil || !l.Level().Enabled(level) {
		return
	}
	err := l.notifier.Notify(ctx, mcp.LoggingMessageNotificationMethod, mcp.LoggingMessageNotification{
		Level:  level,
		Logger: logger,
		Data:   data,
	})
	if err != nil {
		l.log.DebugContext(ctx, "mcp.log.drop", slog.String("err", err.Error()))
	}
}

func (l *SessionLogger) Debug(ctx context.Context, logger string, data any) {
	l.Log(ctx, mcp.LoggingLevelDebug, logger, data)
}

func (l *SessionLogger) Info(ctx context.Context, logger string, data any) {
	l.Log(ctx, mcp.LoggingLevelInfo, logger, data)
}

func (l *SessionLogger) Warning(ctx context.Context, logger string, data any) {
	l.Log(ctx, mcp.LoggingLevelWarning, logger, data)
}

func (l *SessionLogger) Error(ctx context.Context, logger string, data any) {
	l.Log(ctx, mcp.LoggingLevelError, logger, data)
}

// SlogLevel maps an MCP level onto slog. Notice folds into info and
// everything above error into error.
func SlogLevel(level mcp.LoggingLevel) (slog.Level, error) {
	switch level {
	case mcp.LoggingLevelDebug:
		return slog.LevelDebug, nil
	case mcp.LoggingLevelInfo, mcp.LoggingLevelNotice:
		return slog.LevelInfo, nil
	case mcp.LoggingLevelWarning:
		return slog.LevelWarn, nil
	case mcp.LoggingLevelError, mcp.LoggingLevelCritical, mcp.LoggingLevelAlert, mcp.LoggingLevelEmergency:
		return slog.LevelError, nil
	default:
		return 0, ErrInvalidLoggingLevel
	}
}
