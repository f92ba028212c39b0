package connectivity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// TestMonitor_OneEventPerTransition verifies repeated Set calls with the same
// value produce no events and each real change produces exactly one.
func TestMonitor_OneEventPerTransition(t *testing.T) {
	m := NewMonitor(true)
	var got []bool
	m.Subscribe(func(tr Transition) { got = append(got, tr.Online) })

	for _, v := range []bool{true, false, false, false, true, true, false} {
		m.Set(v)
	}

	want := []bool{false, true, false}
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("events[%d] = %v, want %v", i, got[i], want[i])
		}
	}
	if m.Online() {
		t.Error("Online() = true, want false")
	}
}

func TestMonitor_AllSubscribersInOrder(t *testing.T) {
	m := NewMonitor(false)
	var order []string
	m.Subscribe(func(Transition) { order = append(order, "first") })
	m.Subscribe(func(Transition) { order = append(order, "second") })

	if !m.Set(true) {
		t.Fatal("Set(true) = false, want change")
	}
	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Errorf("delivery order = %v", order)
	}
}

func TestMonitor_Unsubscribe(t *testing.T) {
	m := NewMonitor(true)
	calls := 0
	unsubscribe := m.Subscribe(func(Transition) { calls++ })
	m.Set(false)
	unsubscribe()
	unsubscribe()
	m.Set(true)
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

// TestMonitor_ConcurrentSet verifies concurrent writers never produce two
// consecutive events with the same value.
func TestMonitor_ConcurrentSet(t *testing.T) {
	m := NewMonitor(true)
	var mu sync.Mutex
	var events []bool
	m.Subscribe(func(tr Transition) {
		mu.Lock()
		events = append(events, tr.Online)
		mu.Unlock()
		_ = m.Online()
	})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			m.Set(i%2 == 0)
		}(i)
	}
	wg.Wait()

	prev := true
	for i, e := range events {
		if e == prev {
			t.Fatalf("event %d repeats state %v: %v", i, e, events)
		}
		prev = e
	}
}

func TestProber_Probe(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodHead {
			t.Errorf("method = %s, want HEAD", r.Method)
		}
		w.WriteHeader(http.StatusForbidden)
	}))

	core, logs := observer.New(zapcore.InfoLevel)
	m := NewMonitor(true)
	p := NewProber(m, server.URL, time.Minute, time.Second, zap.New(core))

	if !p.Probe(context.Background()) {
		t.Fatal("Probe() = false, want true for any HTTP response")
	}
	if logs.Len() != 0 {
		t.Errorf("unexpected logs on steady online: %v", logs.All())
	}

	server.Close()
	for i := 0; i < 3; i++ {
		if p.Probe(context.Background()) {
			t.Fatal("Probe() = true after server closed")
		}
	}
	if m.Online() {
		t.Error("monitor still online after failed probe")
	}
	if n := logs.FilterMessage("provider unreachable, switching to offline mode").Len(); n != 1 {
		t.Errorf("offline log count = %d, want 1", n)
	}
}

func TestProber_RunStopsOnCancel(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer server.Close()

	m := NewMonitor(false)
	p := NewProber(m, server.URL, 10*time.Millisecond, time.Second, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for !m.Online() {
		select {
		case <-deadline:
			t.Fatal("monitor never went online")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

// TestProber_CanceledProbeKeepsState verifies a probe aborted by shutdown does
// not report a transition to offline.
func TestProber_CanceledProbeKeepsState(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer server.Close()

	core, logs := observer.New(zapcore.InfoLevel)
	m := NewMonitor(true)
	var events []Transition
	m.Subscribe(func(tr Transition) { events = append(events, tr) })
	p := NewProber(m, server.URL, time.Minute, time.Second, zap.New(core))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if !p.Probe(ctx) {
		t.Error("Probe() = false, want last known state (online)")
	}
	if !m.Online() {
		t.Error("monitor went offline on a canceled probe")
	}
	if len(events) != 0 || logs.Len() != 0 {
		t.Errorf("events = %v, logs = %v, want none", events, logs.All())
	}
}
