package sessions

import (
	"sync"
	"time"
	"unicode/utf8"

	"github.com/ggoodman/mcp-vault-server/usage"
)

// MaxIdentityLength bounds client-declared names and versions.
const MaxIdentityLength = 128

// Transport is the per-session connection handle. Close may be called on an
// already-closed transport.
type Transport interface {
	Close() error
}

// Identity is what a client says about itself during bootstrap. It is
// untrusted input.
type Identity struct {
	Name    string
	Version string
}

// ClampIdentity truncates s to MaxIdentityLength characters.
func ClampIdentity(s string) string {
	if utf8.RuneCountInString(s) <= MaxIdentityLength {
		return s
	}
	r := []rune(s)
	return string(r[:MaxIdentityLength])
}

// Session is one continuous conversation with one remote agent.
type Session struct {
	id        string
	createdAt time.Time
	identity  Identity

	mu         sync.Mutex
	transport  Transport
	lastAccess time.Time
	stats      usage.Ledger
	hooks      []func()
	closed     bool
}

// ID returns the full session identifier.
func (s *Session) ID() string { return s.id }

// CreatedAt returns when the session was admitted.
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// Identity returns the clamped client identity.
func (s *Session) Identity() Identity { return s.identity }

// LastAccess returns the last time a request was routed to the session.
func (s *Session) LastAccess() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastAccess
}

// Transport returns the bound transport.
func (s *Session) Transport() Transport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transport
}

// Stats returns the session's private ledger.
func (s *Session) Stats() usage.Ledger {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Closed reports whether the session has started closing.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// OnClose registers fn to run when the session closes, before the registry
// forgets it. Hooks run while the registry is locked and must not call back
// into it. Hooks registered on a closed session run immediately.
func (s *Session) OnClose(fn func()) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		fn()
		return
	}
	s.hooks = append(s.hooks, fn)
	s.mu.Unlock()
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	if now.After(s.lastAccess) {
		s.lastAccess = now
	}
	s.mu.Unlock()
}

func (s *Session) record(op string, success bool) {
	s.mu.Lock()
	s.stats = usage.RecordCall(s.stats, op)
	if success {
		s.stats = usage.RecordSuccess(s.stats, op)
	} else {
		s.stats = usage.RecordFailure(s.stats, op)
	}
	s.mu.Unlock()
}

// markClosed flips the session to closed and hands back its hooks and
// transport. It returns ok=false if the session was already closed.
func (s *Session) markClosed() (hooks []func(), t Transport, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, nil, false
	}
	s.closed = true
	hooks, s.hooks = s.hooks, nil
	return hooks, s.transport, true
}
