package netwatch

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeProber struct {
	up    atomic.Bool
	calls atomic.Int32
}

func (p *fakeProber) Ping(ctx context.Context) bool {
	p.calls.Add(1)
	return p.up.Load()
}

func TestSet_NotifiesOnTransitionOnly(t *testing.T) {
	m := New(nil, 0, true)

	var got []bool
	m.Subscribe(func(c bool) { got = append(got, c) })

	m.Set(true) // no change
	m.Set(false)
	m.Set(false) // no change
	m.Set(true)

	if len(got) != 2 || got[0] != false || got[1] != true {
		t.Errorf("notifications = %v, want [false true]", got)
	}
	if !m.IsConnected() {
		t.Error("IsConnected() = false, want true")
	}
}

func TestSubscribe_OrderAndUnsubscribe(t *testing.T) {
	m := New(nil, 0, false)

	var calls []string
	h1 := m.Subscribe(func(bool) { calls = append(calls, "a") })
	m.Subscribe(func(bool) { calls = append(calls, "b") })
	m.Subscribe(func(bool) { calls = append(calls, "c") })

	m.Set(true)
	m.Unsubscribe(h1)
	m.Set(false)

	want := "a b c b c"
	if got := strings.Join(calls, " "); got != want {
		t.Errorf("calls = %q, want %q", got, want)
	}

	// Unknown and repeated handles are ignored.
	m.Unsubscribe(h1)
}

func TestHandlesAreUnique(t *testing.T) {
	m := New(nil, 0, false)
	seen := make(map[Handle]bool)
	for i := 0; i < 100; i++ {
		h := m.Subscribe(func(bool) {})
		if seen[h] {
			t.Fatalf("duplicate handle %s", h)
		}
		seen[h] = true
	}
}

func TestCallbackMayUnsubscribeItself(t *testing.T) {
	m := New(nil, 0, false)

	var h Handle
	var n int
	h = m.Subscribe(func(bool) {
		n++
		m.Unsubscribe(h)
	})

	m.Set(true)
	m.Set(false)

	if n != 1 {
		t.Errorf("callback ran %d times, want 1", n)
	}
}

func TestCallbackMaySubscribe(t *testing.T) {
	m := New(nil, 0, false)

	var late int
	m.Subscribe(func(bool) {
		m.Subscribe(func(bool) { late++ })
	})

	m.Set(true)
	if late != 0 {
		t.Errorf("subscriber added during notify ran %d times in the same round", late)
	}
	m.Set(false)
	if late != 1 {
		t.Errorf("late subscriber ran %d times, want 1", late)
	}
}

func TestConcurrentSetAndSubscribe(t *testing.T) {
	m := New(nil, 0, false)
	var notified atomic.Int32
	m.Subscribe(func(bool) { notified.Add(1) })

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			m.Set(i%2 == 0)
		}(i)
		go func() {
			defer wg.Done()
			h := m.Subscribe(func(bool) {})
			m.Unsubscribe(h)
			m.IsConnected()
		}()
	}
	wg.Wait()

	if notified.Load() == 0 {
		t.Error("expected at least one transition notification")
	}
}

func TestConcurrentSet_NotificationsFollowState(t *testing.T) {
	m := New(nil, 0, false)

	var mu sync.Mutex
	var seen []bool
	m.Subscribe(func(c bool) {
		mu.Lock()
		seen = append(seen, c)
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			m.Set(i%2 == 0)
		}(i)
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if len(seen) == 0 {
		t.Fatal("no notifications")
	}
	prev := false
	for i, c := range seen {
		if c == prev {
			t.Fatalf("notification %d repeats state %v: %v", i, c, seen)
		}
		prev = c
	}
	if last := seen[len(seen)-1]; last != m.IsConnected() {
		t.Errorf("last notification = %v, IsConnected() = %v", last, m.IsConnected())
	}
}

func TestCheck(t *testing.T) {
	p := &fakeProber{}
	m := New(p, time.Second, true)

	var got []bool
	m.Subscribe(func(c bool) { got = append(got, c) })

	if m.Check(context.Background()) {
		t.Error("Check() = true with a failing probe")
	}
	if m.IsConnected() {
		t.Error("IsConnected() = true after failed probe")
	}

	p.up.Store(true)
	if !m.Check(context.Background()) {
		t.Error("Check() = false with a passing probe")
	}
	if len(got) != 2 {
		t.Errorf("notifications = %v, want two transitions", got)
	}
}

func TestCheck_CancelledKeepsState(t *testing.T) {
	p := &fakeProber{}
	m := New(p, time.Second, true)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if !m.Check(ctx) {
		t.Error("cancelled probe should report the previous state")
	}
	if !m.IsConnected() {
		t.Error("cancelled probe must not flip state")
	}
}

func TestCheck_NilProber(t *testing.T) {
	m := New(nil, 0, false)
	if m.Check(context.Background()) {
		t.Error("Check() without prober should return current state")
	}
}

func TestRun_PollsUntilCancelled(t *testing.T) {
	p := &fakeProber{}
	p.up.Store(true)
	m := New(p, 10*time.Millisecond, false)

	changed := make(chan bool, 4)
	m.Subscribe(func(c bool) { changed <- c })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()

	select {
	case c := <-changed:
		if !c {
			t.Errorf("first transition = %v, want true", c)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for first transition")
	}

	p.up.Store(false)
	select {
	case c := <-changed:
		if c {
			t.Errorf("second transition = %v, want false", c)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for second transition")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if p.calls.Load() < 2 {
		t.Errorf("probe calls = %d, want >= 2", p.calls.Load())
	}
}
