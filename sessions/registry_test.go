package sessions

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fakeTransport struct {
	closes atomic.Int32
	err    error
}

func (f *fakeTransport) Close() error {
	f.closes.Add(1)
	return f.err
}

func newTransportFactory(made *[]*fakeTransport) TransportFactory {
	return func(*Session) (Transport, error) {
		t := &fakeTransport{}
		if made != nil {
			*made = append(*made, t)
		}
		return t, nil
	}
}

func mustCreate(t *testing.T, r *Registry, name string) *Session {
	t.Helper()
	s, err := r.Create(newTransportFactory(nil), Identity{Name: name})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	return s
}

func TestCreateIssuesDistinctIDs(t *testing.T) {
	r := NewRegistry()
	seen := map[string]bool{}
	for i := 0; i < 5; i++ {
		s := mustCreate(t, r, "client")
		if seen[s.ID()] {
			t.Fatalf("duplicate id %s", s.ID())
		}
		seen[s.ID()] = true
		if got, ok := r.Get(s.ID()); !ok || got != s {
			t.Fatalf("expected created session to be retrievable")
		}
	}
	if want, got := 5, r.Len(); want != got {
		t.Fatalf("expected %d sessions, got %d", want, got)
	}
}

func TestCreateRetriesIDCollisions(t *testing.T) {
	ids := []string{"dup", "dup", "fresh"}
	var i int
	r := NewRegistry(WithIDGenerator(func() string { id := ids[i]; i++; return id }))
	mustCreate(t, r, "a")
	s := mustCreate(t, r, "b")
	if want, got := "fresh", s.ID(); want != got {
		t.Fatalf("expected id %q, got %q", want, got)
	}
}

func TestCapacityEvictsLeastRecentlyAccessed(t *testing.T) {
	clock := newFakeClock()
	var made []*fakeTransport
	r := NewRegistry(WithClock(clock.Now), WithCapacity(10))

	var ids []string
	for i := 0; i < 10; i++ {
		s, err := r.Create(newTransportFactory(&made), Identity{Name: fmt.Sprintf("c%d", i)})
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		ids = append(ids, s.ID())
		clock.Advance(time.Second)
	}

	// Session 0 is the oldest by creation but gets touched; session 1 becomes the LRU.
	r.Touch(ids[0])
	clock.Advance(time.Second)

	if _, err := r.Create(newTransportFactory(&made), Identity{Name: "c10"}); err != nil {
		t.Fatalf("create: %v", err)
	}

	if want, got := 10, r.Len(); want != got {
		t.Fatalf("expected size %d, got %d", want, got)
	}
	if _, ok := r.Get(ids[1]); ok {
		t.Fatalf("expected least recently accessed session to be evicted")
	}
	if _, ok := r.Get(ids[0]); !ok {
		t.Fatalf("expected touched session to survive")
	}
	if want, got := int32(1), made[1].closes.Load(); want != got {
		t.Fatalf("expected evicted transport closed %d time, got %d", want, got)
	}
	for i, tr := range made {
		if i == 1 {
			continue
		}
		if n := tr.closes.Load(); n != 0 {
			t.Fatalf("transport %d closed unexpectedly", i)
		}
	}
}

func TestTouchIsMonotonic(t *testing.T) {
	clock := newFakeClock()
	r := NewRegistry(WithClock(clock.Now))
	s := mustCreate(t, r, "a")

	clock.Advance(time.Minute)
	if !r.Touch(s.ID()) {
		t.Fatalf("expected touch to find session")
	}
	after := s.LastAccess()

	clock.Advance(-30 * time.Second)
	r.Touch(s.ID())
	if got := s.LastAccess(); !got.Equal(after) {
		t.Fatalf("last access moved backwards: %v -> %v", after, got)
	}

	if r.Touch("missing") {
		t.Fatalf("expected touch of unknown id to report false")
	}
}

func TestClose(t *testing.T) {
	var made []*fakeTransport
	r := NewRegistry()
	s, _ := r.Create(newTransportFactory(&made), Identity{})

	var order []string
	s.OnClose(func() {
		order = append(order, "hook")
		if _, ok := r.sessions[s.ID()]; !ok {
			t.Errorf("hook ran after the entry was removed")
		}
		if made[0].closes.Load() != 0 {
			t.Errorf("hook ran after the transport closed")
		}
	})

	if err := r.Close(s.ID()); err != nil {
		t.Fatalf("close: %v", err)
	}
	if len(order) != 1 {
		t.Fatalf("expected hook to run once, got %d", len(order))
	}
	if _, ok := r.Get(s.ID()); ok {
		t.Fatalf("expected session to be gone")
	}
	if want, got := int32(1), made[0].closes.Load(); want != got {
		t.Fatalf("expected %d transport close, got %d", want, got)
	}
	if err := r.Close(s.ID()); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}

	ran := false
	s.OnClose(func() { ran = true })
	if !ran {
		t.Fatalf("expected hook on closed session to run immediately")
	}
}

func TestCloseSwallowsTransportErrors(t *testing.T) {
	r := NewRegistry()
	s, err := r.Create(func(*Session) (Transport, error) {
		return &fakeTransport{err: errors.New("already gone")}, nil
	}, Identity{})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := r.Close(s.ID()); err != nil {
		t.Fatalf("expected transport error to be swallowed, got %v", err)
	}
}

func TestCreateFailsWhenFactoryFails(t *testing.T) {
	r := NewRegistry()
	_, err := r.Create(func(*Session) (Transport, error) { return nil, errors.New("nope") }, Identity{})
	if err == nil {
		t.Fatalf("expected error")
	}
	if r.Len() != 0 {
		t.Fatalf("expected nothing admitted")
	}
}

func TestSweepExpired(t *testing.T) {
	clock := newFakeClock()
	var made []*fakeTransport
	r := NewRegistry(WithClock(clock.Now), WithTTL(30*time.Minute))

	idle, _ := r.Create(newTransportFactory(&made), Identity{Name: "idle"})
	active, _ := r.Create(newTransportFactory(&made), Identity{Name: "active"})

	clock.Advance(20 * time.Minute)
	r.Touch(active.ID())
	clock.Advance(11 * time.Minute)

	if want, got := 1, r.SweepExpired(); want != got {
		t.Fatalf("expected %d swept, got %d", want, got)
	}
	if _, ok := r.Get(idle.ID()); ok {
		t.Fatalf("expected idle session to be swept")
	}
	if _, ok := r.Get(active.ID()); !ok {
		t.Fatalf("expected active session to survive")
	}
	for _, s := range r.Summaries() {
		if s.ClientName == "idle" {
			t.Fatalf("expected idle session to be absent from summaries")
		}
	}
	if want, got := int32(1), made[0].closes.Load(); want != got {
		t.Fatalf("expected idle transport closed %d time, got %d", want, got)
	}

	r.SweepExpired()
	if want, got := int32(1), made[0].closes.Load(); want != got {
		t.Fatalf("expected no second close, got %d", got)
	}
}

func TestSweepDoesNotExpireExactlyAtTTL(t *testing.T) {
	clock := newFakeClock()
	r := NewRegistry(WithClock(clock.Now), WithTTL(time.Minute))
	mustCreate(t, r, "a")
	clock.Advance(time.Minute)
	if n := r.SweepExpired(); n != 0 {
		t.Fatalf("expected no sweep at exactly the TTL, got %d", n)
	}
}

func TestSummaries(t *testing.T) {
	clock := newFakeClock()
	ids := []string{"11111111-aaaa-bbbb-cccc-0000deadbeef", "22222222-aaaa-bbbb-cccc-0000cafef00d"}
	var i int
	r := NewRegistry(
		WithClock(clock.Now),
		WithIDGenerator(func() string { id := ids[i]; i++; return id }),
	)

	a, _ := r.Create(newTransportFactory(nil), Identity{Name: "Claude", Version: "1.2"})
	clock.Advance(2 * time.Second)
	mustCreate(t, r, strings.Repeat("x", 300))
	clock.Advance(1500 * time.Millisecond)

	r.RecordToolCall(a.ID(), "read_note", true)
	r.RecordToolCall(a.ID(), "read_note", false)
	r.RecordToolCall(a.ID(), "create_note", true)
	r.RecordToolCall("unknown", "read_note", true)

	sums := r.Summaries()
	if want, got := 2, len(sums); want != got {
		t.Fatalf("expected %d summaries, got %d", want, got)
	}
	first := sums[0]
	if want, got := "deadbeef", first.SessionID; want != got {
		t.Fatalf("expected redacted id %q, got %q", want, got)
	}
	if first.ClientName != "Claude" || first.ClientVersion != "1.2" {
		t.Fatalf("unexpected identity %q %q", first.ClientName, first.ClientVersion)
	}
	if want, got := int64(4), first.DurationSeconds; want != got {
		t.Fatalf("expected duration %d, got %d", want, got)
	}
	if first.ToolCalls.Total != 3 || first.ToolCalls.Successful != 2 || first.ToolCalls.Failed != 1 {
		t.Fatalf("unexpected totals %+v", first.ToolCalls)
	}
	if want, got := 2, first.ToolCalls.ByTool["read_note"].Total; want != got {
		t.Fatalf("expected read_note total %d, got %d", want, got)
	}
	if want, got := "2025-01-02T03:04:05Z", first.ConnectedAt; want != got {
		t.Fatalf("expected connectedAt %q, got %q", want, got)
	}
	if want, got := MaxIdentityLength, len(sums[1].ClientName); want != got {
		t.Fatalf("expected clamped name length %d, got %d", want, got)
	}
}

func TestCloseAll(t *testing.T) {
	var made []*fakeTransport
	r := NewRegistry()
	for i := 0; i < 3; i++ {
		if _, err := r.Create(newTransportFactory(&made), Identity{}); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	r.CloseAll()
	if r.Len() != 0 {
		t.Fatalf("expected empty registry")
	}
	for i, tr := range made {
		if tr.closes.Load() != 1 {
			t.Fatalf("transport %d not closed", i)
		}
	}
}

func TestConcurrentTouchAndSweep(t *testing.T) {
	clock := newFakeClock()
	r := NewRegistry(WithClock(clock.Now), WithTTL(time.Millisecond))
	var ids []string
	for i := 0; i < 10; i++ {
		ids = append(ids, mustCreate(t, r, "c").ID())
	}
	clock.Advance(time.Second)

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				r.Touch(id)
			}
		}(id)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		r.SweepExpired()
	}()
	wg.Wait()

	for _, id := range ids {
		if s, ok := r.Get(id); ok && s.Closed() {
			t.Fatalf("Get returned a closed session")
		}
	}
}

func TestClampIdentity(t *testing.T) {
	if got := ClampIdentity("short"); got != "short" {
		t.Fatalf("expected unchanged, got %q", got)
	}
	long := strings.Repeat("é", 200)
	if got := []rune(ClampIdentity(long)); len(got) != MaxIdentityLength {
		t.Fatalf("expected %d runes, got %d", MaxIdentityLength, len(got))
	}
}
