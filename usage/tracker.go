package usage

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultDebounce is how long the Tracker waits after the first unsaved
// update before persisting.
const DefaultDebounce = 5 * time.Second

// Saver persists a ledger snapshot. It is supplied by the host.
type Saver func(ctx context.Context, l Ledger) error

// Listener observes each completed call. sessionID is empty for calls
// that did not carry one.
type Listener func(sessionID, op string, success bool)

// Timer is the subset of *time.Timer the Tracker needs.
type Timer interface {
	Stop() bool
}

// AfterFunc schedules f after d. time.AfterFunc satisfies it once wrapped.
type AfterFunc func(d time.Duration, f func()) Timer

// Option configures a Tracker.
type Option func(*Tracker)

// WithDebounce overrides DefaultDebounce.
func WithDebounce(d time.Duration) Option {
	return func(t *Tracker) { t.delay = d }
}

// WithLogger sets the logger used for save failures.
func WithLogger(log *slog.Logger) Option {
	return func(t *Tracker) { t.log = log }
}

// WithInitial seeds the process-wide ledger, typically from a loaded snapshot.
func WithInitial(l Ledger) Option {
	return func(t *Tracker) { t.ledger = l.Clone() }
}

// WithAfterFunc replaces the timer factory. Tests use it to fire the
// debounce deterministically.
func WithAfterFunc(fn AfterFunc) Option {
	return func(t *Tracker) { t.afterFunc = fn }
}

// Tracker holds the process-wide ledger and coordinates its persistence.
type Tracker struct {
	saver     Saver
	delay     time.Duration
	afterFunc AfterFunc
	log       *slog.Logger

	mu       sync.Mutex
	ledger   Ledger
	dirty    bool
	timer    Timer
	listener Listener
}

// NewTracker returns a Tracker that persists through saver.
func NewTracker(saver Saver, opts ...Option) *Tracker {
	t := &Tracker{
		saver:  saver,
		delay:  DefaultDebounce,
		ledger: Ledger{},
		afterFunc: func(d time.Duration, f func()) Timer {
			return time.AfterFunc(d, f)
		},
		log: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// SetListener registers the per-call observer, replacing any previous one.
func (t *Tracker) SetListener(l Listener) {
	t.mu.Lock()
	t.listener = l
	t.mu.Unlock()
}

// Ledger returns the current process-wide ledger.
func (t *Tracker) Ledger() Ledger {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ledger
}

// Reset clears the process-wide ledger and schedules a save.
func (t *Tracker) Reset() {
	t.mu.Lock()
	t.ledger = Ledger{}
	t.scheduleLocked()
	t.mu.Unlock()
}

func (t *Tracker) apply(fn func(Ledger, string) Ledger, op string) {
	t.mu.Lock()
	t.ledger = fn(t.ledger, op)
	t.mu.Unlock()
}

func (t *Tracker) complete(ctx context.Context, op string, success bool) {
	t.mu.Lock()
	if success {
		t.ledger = RecordSuccess(t.ledger, op)
	} else {
		t.ledger = RecordFailure(t.ledger, op)
	}
	t.scheduleLocked()
	listener := t.listener
	t.mu.Unlock()

	if listener != nil {
		if sid := SessionIDFrom(ctx); sid != "" {
			listener(sid, op, success)
		}
	}
}

// scheduleLocked marks the ledger dirty and arms the debounce timer unless
// one is already pending. The timer is never pushed back: a burst of
// updates is written once, when the first update's window closes.
func (t *Tracker) scheduleLocked() {
	t.dirty = true
	if t.timer != nil {
		return
	}
	t.timer = t.afterFunc(t.delay, t.fire)
}

func (t *Tracker) fire() {
	t.mu.Lock()
	t.timer = nil
	t.mu.Unlock()
	if err := t.save(context.Background()); err != nil {
		t.log.Error("stats.save.fail", slog.String("err", err.Error()))
	}
}

// Flush cancels the pending debounce and saves immediately when there are
// unsaved updates. Without pending updates it does nothing.
func (t *Tracker) Flush(ctx context.Context) error {
	t.mu.Lock()
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.mu.Unlock()
	return t.save(ctx)
}

func (t *Tracker) save(ctx context.Context) error {
	t.mu.Lock()
	if !t.dirty {
		t.mu.Unlock()
		return nil
	}
	t.dirty = false
	snapshot := t.ledger
	t.mu.Unlock()

	if t.saver == nil {
		return nil
	}
	if err := t.saver(ctx, snapshot); err != nil {
		return err
	}
	t.log.Debug("stats.save.ok", slog.Int("ops", len(snapshot)))
	return nil
}

// Track wraps fn so each call is counted under op. Total is incremented
// before fn runs; a nil error counts as a success and anything else as a
// failure. A panic in fn counts as a failure and keeps unwinding. fn's
// results are returned unchanged.
func Track[Req, Res any](t *Tracker, op string, fn func(context.Context, Req) (Res, error)) func(context.Context, Req) (Res, error) {
	return func(ctx context.Context, req Req) (Res, error) {
		t.apply(RecordCall, op)
		returned := false
		defer func() {
			if !returned {
				t.complete(ctx, op, false)
			}
		}()
		res, err := fn(ctx, req)
		returned = true
		t.complete(ctx, op, err == nil)
		return res, err
	}
}

type sessionIDKey struct{}

// WithSessionID attributes calls made with ctx to a session.
func WithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionIDKey{}, id)
}

// SessionIDFrom returns the session id attached by WithSessionID.
func SessionIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(sessionIDKey{}).(string)
	return id
}
