// Package connectivity tracks whether the weather provider is reachable and
// notifies subscribers when that changes.
package connectivity

import (
	"sync"
	"time"

	"github.com/kjstillabower/weather-lookup/internal/observability"
)

// Transition is one change of connectivity state.
type Transition struct {
	Online bool
	At     time.Time
}

// Monitor holds the process-wide best-known connectivity state.
//
// Subscribers are called synchronously, in transition order, from the
// goroutine that called Set. A subscriber must not call Set.
type Monitor struct {
	mu     sync.RWMutex
	online bool
	subs   map[uint64]func(Transition)
	nextID uint64

	// deliverMu serializes Set so subscribers see transitions in order.
	deliverMu sync.Mutex
}

// NewMonitor creates a Monitor with the given initial state.
func NewMonitor(initialOnline bool) *Monitor {
	m := &Monitor{online: initialOnline, subs: make(map[uint64]func(Transition))}
	if initialOnline {
		observability.ConnectivityOnline.Set(1)
	} else {
		observability.ConnectivityOnline.Set(0)
	}
	return m
}

// Online returns the current best-known state without blocking on I/O.
func (m *Monitor) Online() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.online
}

// Set records the observed state. Setting the current state again is a no-op;
// a real change is delivered to every subscriber exactly once. Reports
// whether the state changed.
func (m *Monitor) Set(online bool) bool {
	m.deliverMu.Lock()
	defer m.deliverMu.Unlock()

	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return false
	}
	m.online = online
	subs := make([]func(Transition), 0, len(m.subs))
	for id := uint64(0); id < m.nextID; id++ {
		if fn, ok := m.subs[id]; ok {
			subs = append(subs, fn)
		}
	}
	m.mu.Unlock()

	observability.SetConnectivity(online)
	tr := Transition{Online: online, At: time.Now()}
	for _, fn := range subs {
		fn(tr)
	}
	return true
}

// Subscribe registers fn for future transitions and returns a function that
// removes it. Subscribers are called in registration order.
func (m *Monitor) Subscribe(fn func(Transition)) (unsubscribe func()) {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.subs[id] = fn
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs, id)
			m.mu.Unlock()
		})
	}
}
