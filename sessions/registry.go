package sessions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Registry defaults.
const (
	DefaultCapacity      = 10
	DefaultTTL           = 30 * time.Minute
	DefaultSweepInterval = 5 * time.Minute
)

// ErrSessionNotFound is returned for ids the registry does not hold.
var ErrSessionNotFound = errors.New("session not found")

// TransportFactory builds the transport for a session that is about to be
// admitted. The session is not yet visible through Get when it runs.
type TransportFactory func(s *Session) (Transport, error)

// Option configures a Registry.
type Option func(*Registry)

// WithCapacity caps concurrent sessions. Values below one are ignored.
func WithCapacity(n int) Option {
	return func(r *Registry) {
		if n > 0 {
			r.capacity = n
		}
	}
}

// WithTTL sets the idle time after which a sweep closes a session.
func WithTTL(d time.Duration) Option {
	return func(r *Registry) { r.ttl = d }
}

// WithSweepInterval sets how often Run sweeps.
func WithSweepInterval(d time.Duration) Option {
	return func(r *Registry) { r.sweepInterval = d }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithIDGenerator replaces the uuid session id generator.
func WithIDGenerator(fn func() string) Option {
	return func(r *Registry) { r.newID = fn }
}

// WithLogger sets the registry logger.
func WithLogger(log *slog.Logger) Option {
	return func(r *Registry) { r.log = log }
}

// Registry holds the live sessions.
type Registry struct {
	capacity      int
	ttl           time.Duration
	sweepInterval time.Duration
	now           func() time.Time
	newID         func() string
	log           *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewRegistry returns an empty Registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		capacity:      DefaultCapacity,
		ttl:           DefaultTTL,
		sweepInterval: DefaultSweepInterval,
		now:           time.Now,
		newID:         uuid.NewString,
		log:           slog.New(slog.DiscardHandler),
		sessions:      make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Create admits a new session. When the registry is full, the session with
// the oldest last access is closed to make room. The caller has already
// validated that the triggering request is a bootstrap.
func (r *Registry) Create(factory TransportFactory, ident Identity) (*Session, error) {
	now := r.now()
	s := &Session{
		createdAt:  now,
		lastAccess: now,
		identity: Identity{
			Name:    ClampIdentity(ident.Name),
			Version: ClampIdentity(ident.Version),
		},
		stats: nil,
	}

	r.mu.Lock()
	for {
		s.id = r.newID()
		if _, taken := r.sessions[s.id]; !taken {
			break
		}
	}
	r.mu.Unlock()

	t, err := factory(s)
	if err != nil {
		return nil, fmt.Errorf("create transport: %w", err)
	}
	s.transport = t

	var evicted []Transport
	r.mu.Lock()
	for len(r.sessions) >= r.capacity {
		victim := r.oldestLocked()
		if victim == nil {
			break
		}
		r.log.Info("registry.capacity.evict",
			slog.String("session_id", victim.id),
			slog.Time("last_access", victim.LastAccess()),
		)
		if vt := r.closeLocked(victim); vt != nil {
			evicted = append(evicted, vt)
		}
	}
	r.sessions[s.id] = s
	size := len(r.sessions)
	r.mu.Unlock()

	for _, vt := range evicted {
		BestEffort(r.log, "transport.close", vt.Close)
	}

	r.log.Info("session.create.ok",
		slog.String("session_id", s.id),
		slog.String("client", s.identity.Name),
		slog.Int("size", size),
	)
	return s, nil
}

// Get returns a live session.
func (r *Registry) Get(id string) (*Session, bool) {
	if id == "" {
		return nil, false
	}
	r.mu.Lock()
	s, ok := r.sessions[id]
	r.mu.Unlock()
	if !ok || s.Closed() {
		return nil, false
	}
	return s, true
}

// Touch refreshes a session's last access. It reports whether the session
// is live.
func (r *Registry) Touch(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok || s.Closed() {
		return false
	}
	s.touch(r.now())
	return true
}

// Close closes and removes a session. Transport failures are swallowed.
func (r *Registry) Close(id string) error {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if !ok {
		r.mu.Unlock()
		return ErrSessionNotFound
	}
	t := r.closeLocked(s)
	r.mu.Unlock()

	if t != nil {
		BestEffort(r.log, "transport.close", t.Close)
	}
	r.log.Info("session.close.ok", slog.String("session_id", id))
	return nil
}

// SweepExpired closes every session idle for longer than the TTL and
// returns how many it closed.
func (r *Registry) SweepExpired() int {
	now := r.now()
	var closed []Transport

	r.mu.Lock()
	n := 0
	for id, s := range r.sessions {
		if now.Sub(s.LastAccess()) <= r.ttl {
			continue
		}
		r.log.Info("registry.sweep.evict", slog.String("session_id", id))
		if t := r.closeLocked(s); t != nil {
			closed = append(closed, t)
		}
		n++
	}
	r.mu.Unlock()

	for _, t := range closed {
		BestEffort(r.log, "transport.close", t.Close)
	}
	return n
}

// CloseAll closes every session. Used at shutdown.
func (r *Registry) CloseAll() {
	var closed []Transport
	r.mu.Lock()
	for _, s := range r.sessions {
		if t := r.closeLocked(s); t != nil {
			closed = append(closed, t)
		}
	}
	r.mu.Unlock()

	for _, t := range closed {
		BestEffort(r.log, "transport.close", t.Close)
	}
}

// Run sweeps on the configured interval until ctx is done.
func (r *Registry) Run(ctx context.Context) {
	if r.sweepInterval <= 0 {
		return
	}
	ticker := time.NewTicker(r.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.SweepExpired(); n > 0 {
				r.log.InfoContext(ctx, "registry.sweep.ok", slog.Int("closed", n))
			}
		}
	}
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// RecordToolCall applies one completed call to the session's private
// ledger. Unknown sessions are ignored. It matches usage.Listener.
func (r *Registry) RecordToolCall(id, op string, success bool) {
	if s, ok := r.Get(id); ok {
		s.record(op, success)
	}
}

// closeLocked runs the session's close hooks and removes it. The returned
// transport, if any, must be closed after the lock is released.
func (r *Registry) closeLocked(s *Session) Transport {
	hooks, t, ok := s.markClosed()
	if ok {
		for _, h := range hooks {
			h()
		}
	}
	delete(r.sessions, s.id)
	return t
}

func (r *Registry) oldestLocked() *Session {
	var oldest *Session
	var oldestAt time.Time
	for _, s := range r.sessions {
		la := s.LastAccess()
		if oldest == nil || la.Before(oldestAt) {
			oldest, oldestAt = s, la
		}
	}
	return oldest
}

// snapshot returns the live sessions ordered by creation time.
func (r *Registry) snapshot() []*Session {
	r.mu.Lock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].createdAt.Equal(out[j].createdAt) {
			return out[i].id < out[j].id
		}
		return out[i].createdAt.Before(out[j].createdAt)
	})
	return out
}

// BestEffort runs fn and logs, rather than returns, its error. It is for
// cleanup against peers that may already be gone.
func BestEffort(log *slog.Logger, what string, fn func() error) {
	if err := fn(); err != nil {
		log.Debug("best_effort.fail", slog.String("op", what), slog.String("err", err.Error()))
	}
}
