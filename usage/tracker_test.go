package usage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeTimer struct {
	mu      sync.Mutex
	fn      func()
	armed   int
	stopped int
}

func (f *fakeTimer) afterFunc(d time.Duration, fn func()) Timer {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fn = fn
	f.armed++
	return stopper{f}
}

// fire runs the pending callback as if the window elapsed.
func (f *fakeTimer) fire(t *testing.T) {
	t.Helper()
	f.mu.Lock()
	fn := f.fn
	f.fn = nil
	f.mu.Unlock()
	if fn == nil {
		t.Fatalf("no timer armed")
	}
	fn()
}

type stopper struct{ f *fakeTimer }

func (s stopper) Stop() bool {
	s.f.mu.Lock()
	defer s.f.mu.Unlock()
	s.f.stopped++
	s.f.fn = nil
	return true
}

type recordingSaver struct {
	mu    sync.Mutex
	saves []Ledger
	err   error
}

func (r *recordingSaver) save(_ context.Context, l Ledger) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saves = append(r.saves, l)
	return r.err
}

func (r *recordingSaver) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.saves)
}

func newTestTracker() (*Tracker, *fakeTimer, *recordingSaver) {
	ft := &fakeTimer{}
	rs := &recordingSaver{}
	return NewTracker(rs.save, WithAfterFunc(ft.afterFunc)), ft, rs
}

func echo(_ context.Context, s string) (string, error) { return s, nil }

func TestTrackCountsSuccessAndFailure(t *testing.T) {
	tr, _, _ := newTestTracker()
	boom := errors.New("boom")

	ok := Track(tr, "h", echo)
	fail := Track(tr, "h", func(context.Context, string) (string, error) { return "", boom })

	for i := 0; i < 3; i++ {
		if res, err := ok(context.Background(), "x"); err != nil || res != "x" {
			t.Fatalf("unexpected result %q, %v", res, err)
		}
	}
	if _, err := fail(context.Background(), "x"); !errors.Is(err, boom) {
		t.Fatalf("expected boom to propagate unchanged, got %v", err)
	}

	c := tr.Ledger()["h"]
	if want := (Counters{Total: 4, Successful: 3, Failed: 1}); c != want {
		t.Fatalf("expected %+v, got %+v", want, c)
	}
}

func TestTrackSingleFailure(t *testing.T) {
	tr, _, _ := newTestTracker()
	h := Track(tr, "h", func(context.Context, struct{}) (int, error) { return 0, errors.New("boom") })

	_, err := h(context.Background(), struct{}{})
	if err == nil || err.Error() != "boom" {
		t.Fatalf("expected boom, got %v", err)
	}
	if want, got := (Counters{Total: 1, Failed: 1}), tr.Ledger()["h"]; want != got {
		t.Fatalf("expected %+v, got %+v", want, got)
	}
}

func TestTrackCountsPanicAsFailure(t *testing.T) {
	tr, _, rs := newTestTracker()
	var calls []bool
	tr.SetListener(func(_, _ string, success bool) { calls = append(calls, success) })

	h := Track(tr, "h", func(context.Context, string) (string, error) {
		var m map[string]int
		m["x"] = 1
		return "", nil
	})

	func() {
		defer func() {
			if recover() == nil {
				t.Fatalf("expected the panic to keep unwinding")
			}
		}()
		_, _ = h(WithSessionID(context.Background(), "s1"), "x")
	}()

	c := tr.Ledger()["h"]
	if want := (Counters{Total: 1, Failed: 1}); c != want {
		t.Fatalf("expected %+v, got %+v", want, c)
	}
	if want, got := c.Total, c.Successful+c.Failed; want != got {
		t.Fatalf("expected successful+failed %d, got %d", want, got)
	}
	if want, got := 1, len(calls); want != got || calls[0] {
		t.Fatalf("expected one failed listener call, got %v", calls)
	}
	if err := tr.Flush(context.Background()); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if want, got := 1, rs.count(); want != got {
		t.Fatalf("expected %d save, got %d", want, got)
	}
}

func TestTotalIsCountedBeforeHandlerRuns(t *testing.T) {
	tr, _, _ := newTestTracker()
	var during Counters
	h := Track(tr, "h", func(context.Context, string) (string, error) {
		during = tr.Ledger()["h"]
		return "", nil
	})
	if _, err := h(context.Background(), ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := (Counters{Total: 1}); during != want {
		t.Fatalf("expected %+v while running, got %+v", want, during)
	}
}

func TestBurstCollapsesIntoOneSave(t *testing.T) {
	tr, ft, rs := newTestTracker()
	h := Track(tr, "h", echo)

	for i := 0; i < 5; i++ {
		if _, err := h(context.Background(), ""); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if want, got := 1, ft.armed; want != got {
		t.Fatalf("expected %d timer, got %d", want, got)
	}
	if want, got := 0, rs.count(); want != got {
		t.Fatalf("expected no save before the window elapses, got %d", got)
	}

	ft.fire(t)

	if want, got := 1, rs.count(); want != got {
		t.Fatalf("expected %d save, got %d", want, got)
	}
	if want, got := 5, rs.saves[0]["h"].Successful; want != got {
		t.Fatalf("expected saved ledger to hold %d successes, got %d", want, got)
	}
}

func TestDebounceWithRealTimer(t *testing.T) {
	rs := &recordingSaver{}
	tr := NewTracker(rs.save, WithDebounce(20*time.Millisecond))
	h := Track(tr, "h", echo)
	for i := 0; i < 5; i++ {
		_, _ = h(context.Background(), "")
	}

	deadline := time.Now().Add(2 * time.Second)
	for rs.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	time.Sleep(50 * time.Millisecond)
	if want, got := 1, rs.count(); want != got {
		t.Fatalf("expected %d save, got %d", want, got)
	}
}

func TestFlush(t *testing.T) {
	t.Run("saves pending updates and cancels the timer", func(t *testing.T) {
		tr, ft, rs := newTestTracker()
		_, _ = Track(tr, "h", echo)(context.Background(), "")

		if err := tr.Flush(context.Background()); err != nil {
			t.Fatalf("flush: %v", err)
		}
		if want, got := 1, rs.count(); want != got {
			t.Fatalf("expected %d save, got %d", want, got)
		}
		if want, got := 1, ft.stopped; want != got {
			t.Fatalf("expected timer stopped once, got %d", got)
		}
	})

	t.Run("is a no-op without pending updates", func(t *testing.T) {
		tr, _, rs := newTestTracker()
		if err := tr.Flush(context.Background()); err != nil {
			t.Fatalf("flush: %v", err)
		}
		_, _ = Track(tr, "h", echo)(context.Background(), "")
		_ = tr.Flush(context.Background())
		_ = tr.Flush(context.Background())
		if want, got := 1, rs.count(); want != got {
			t.Fatalf("expected %d save, got %d", want, got)
		}
	})

	t.Run("reports save errors", func(t *testing.T) {
		tr, _, rs := newTestTracker()
		rs.err = errors.New("disk full")
		_, _ = Track(tr, "h", echo)(context.Background(), "")
		if err := tr.Flush(context.Background()); err == nil {
			t.Fatalf("expected save error")
		}
	})
}

func TestSaveFailureDoesNotReachCaller(t *testing.T) {
	tr, ft, rs := newTestTracker()
	rs.err = errors.New("disk full")
	h := Track(tr, "h", echo)

	if res, err := h(context.Background(), "ok"); err != nil || res != "ok" {
		t.Fatalf("unexpected result %q, %v", res, err)
	}
	ft.fire(t)
	if want, got := 1, rs.count(); want != got {
		t.Fatalf("expected %d save attempt, got %d", want, got)
	}
}

func TestListenerReceivesSessionOutcome(t *testing.T) {
	tr, _, _ := newTestTracker()
	type call struct {
		sid, op string
		ok      bool
	}
	var calls []call
	tr.SetListener(func(sid, op string, ok bool) { calls = append(calls, call{sid, op, ok}) })

	h := Track(tr, "read_note", func(_ context.Context, fail bool) (struct{}, error) {
		if fail {
			return struct{}{}, errors.New("nope")
		}
		return struct{}{}, nil
	})

	ctx := WithSessionID(context.Background(), "sess-1")
	_, _ = h(ctx, false)
	_, _ = h(ctx, true)
	_, _ = h(context.Background(), false)

	want := []call{{"sess-1", "read_note", true}, {"sess-1", "read_note", false}}
	if len(calls) != len(want) {
		t.Fatalf("expected %d listener calls, got %d", len(want), len(calls))
	}
	for i := range want {
		if calls[i] != want[i] {
			t.Fatalf("call %d: expected %+v, got %+v", i, want[i], calls[i])
		}
	}
}

func TestResetClearsAndSchedulesSave(t *testing.T) {
	tr, ft, rs := newTestTracker()
	_, _ = Track(tr, "h", echo)(context.Background(), "")
	ft.fire(t)

	tr.Reset()
	if got := len(tr.Ledger()); got != 0 {
		t.Fatalf("expected empty ledger, got %d ops", got)
	}
	ft.fire(t)
	if want, got := 2, rs.count(); want != got {
		t.Fatalf("expected %d saves, got %d", want, got)
	}
}

func TestWithInitialSeedsLedger(t *testing.T) {
	seed := Ledger{"h": {Total: 3, Successful: 3}}
	tr := NewTracker(nil, WithInitial(seed))
	_, _ = Track(tr, "h", echo)(context.Background(), "")
	if want, got := 4, tr.Ledger()["h"].Total; want != got {
		t.Fatalf("expected %d, got %d", want, got)
	}
	if want, got := 3, seed["h"].Total; want != got {
		t.Fatalf("seed mutated: expected %d, got %d", want, got)
	}
}
