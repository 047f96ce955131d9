package netwatch

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Prober reports whether the upstream service can currently be reached.
type Prober interface {
	Ping(ctx context.Context) bool
}

// Handle identifies a subscription returned by Subscribe.
type Handle uuid.UUID

// String returns the handle in canonical UUID form.
func (h Handle) String() string { return uuid.UUID(h).String() }

// Monitor tracks reachability and notifies subscribers on every transition.
//
// The zero value is not usable; construct with New.
type Monitor struct {
	prober   Prober
	interval time.Duration
	logger   *slog.Logger

	// notifyMu serializes transitions with their notifications so
	// subscribers observe states in the order they were recorded.
	notifyMu sync.Mutex

	mu        sync.Mutex
	connected bool
	changedAt time.Time
	subs      map[Handle]func(bool)
	order     []Handle
}

// New creates a Monitor starting in the initial state. prober may be nil,
// in which case state only changes through Set.
// If interval is <= 0, it defaults to 10s.
func New(prober Prober, interval time.Duration, initial bool) *Monitor {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Monitor{
		prober:    prober,
		interval:  interval,
		logger:    slog.Default(),
		connected: initial,
		changedAt: time.Now(),
		subs:      make(map[Handle]func(bool)),
	}
}

// IsConnected reports the most recently observed reachability.
func (m *Monitor) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

// Since returns when the current state was entered.
func (m *Monitor) Since() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.changedAt
}

// Subscribe registers fn to be called with the new state on each transition.
func (m *Monitor) Subscribe(fn func(connected bool)) Handle {
	h := Handle(uuid.New())
	m.mu.Lock()
	m.subs[h] = fn
	m.order = append(m.order, h)
	m.mu.Unlock()
	return h
}

// Unsubscribe removes a subscription. Unknown handles are ignored.
func (m *Monitor) Unsubscribe(h Handle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.subs[h]; !ok {
		return
	}
	delete(m.subs, h)
	for i, o := range m.order {
		if o == h {
			m.order = append(m.order[:i:i], m.order[i+1:]...)
			break
		}
	}
}

// Set records a newly observed state. Subscribers are notified only when
// the state actually changes, in subscription order. Concurrent transitions
// are delivered one at a time in the order they were recorded, so the last
// notification always matches IsConnected. Callbacks may Subscribe,
// Unsubscribe and read state but must not call Set.
func (m *Monitor) Set(connected bool) {
	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()

	m.mu.Lock()
	if m.connected == connected {
		m.mu.Unlock()
		return
	}
	m.connected = connected
	m.changedAt = time.Now()
	fns := make([]func(bool), 0, len(m.order))
	for _, h := range m.order {
		fns = append(fns, m.subs[h])
	}
	m.mu.Unlock()

	for _, fn := range fns {
		fn(connected)
	}
}

// Check runs a single probe and records the result.
func (m *Monitor) Check(ctx context.Context) bool {
	if m.prober == nil {
		return m.IsConnected()
	}
	ok := m.prober.Ping(ctx)
	if errors.Is(ctx.Err(), context.Canceled) {
		// A cancelled probe says nothing about the network; a timed out one does.
		return m.IsConnected()
	}
	m.Set(ok)
	return ok
}

// Run probes on the configured interval until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	if m.prober == nil {
		return
	}
	for {
		if ctx.Err() != nil {
			return
		}

		probeCtx, cancel := context.WithTimeout(ctx, m.interval)
		before := m.IsConnected()
		if now := m.Check(probeCtx); now != before {
			m.logger.Debug("connectivity probe changed state", "connected", now)
		}
		cancel()

		select {
		case <-ctx.Done():
			return
		case <-time.After(m.interval):
		}
	}
}
