// Package search debounces location queries and applies only the result of
// the most recently issued search.
package search

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kjstillabower/weather-lookup/internal/models"
	"github.com/kjstillabower/weather-lookup/internal/observability"
)

// DefaultDelay is the quiet period after the last keystroke before a query is issued.
const DefaultDelay = 1000 * time.Millisecond

// SearchFunc performs the actual lookup, e.g. WeatherService.SearchLocations.
type SearchFunc func(ctx context.Context, query string) ([]models.Location, error)

// Result is delivered for the latest issued search only.
type Result struct {
	Query     string
	Seq       uint64
	Locations []models.Location
	Err       error
}

// Debouncer delays queries until input has been quiet for the configured
// delay. Every issued search takes a sequence number; a result is delivered
// only if no newer search was issued while it was in flight.
type Debouncer struct {
	delay    time.Duration
	search   SearchFunc
	onResult func(Result)

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	timer   *time.Timer
	gen     uint64
	pending string
	stopped bool

	seq       atomic.Uint64
	deliverMu sync.Mutex
}

// NewDebouncer creates a Debouncer. A delay <= 0 uses DefaultDelay. ctx bounds
// every search it issues; Stop cancels it.
func NewDebouncer(ctx context.Context, delay time.Duration, search SearchFunc, onResult func(Result)) *Debouncer {
	if delay <= 0 {
		delay = DefaultDelay
	}
	ctx, cancel := context.WithCancel(ctx)
	return &Debouncer{
		delay:    delay,
		search:   search,
		onResult: onResult,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Submit records query as the latest input and restarts the quiet timer.
func (d *Debouncer) Submit(query string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	d.pending = query
	if d.timer != nil {
		d.timer.Stop()
	}
	d.gen++
	gen := d.gen
	d.timer = time.AfterFunc(d.delay, func() { d.fire(gen) })
}

// Flush issues the pending query now, if any, and waits for it to finish.
func (d *Debouncer) Flush() {
	d.mu.Lock()
	if d.stopped || d.timer == nil || !d.timer.Stop() {
		d.mu.Unlock()
		return
	}
	d.timer = nil
	q := d.pending
	d.mu.Unlock()
	d.run(q)
}

// Stop cancels any pending query and in-flight search. Results are no longer delivered.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.mu.Unlock()
	d.cancel()
}

// Latest returns the sequence number of the most recently issued search.
func (d *Debouncer) Latest() uint64 {
	return d.seq.Load()
}

// fire runs for the timer started by Submit generation gen. A timer that
// fired while a newer Submit held the lock is stale and issues nothing.
func (d *Debouncer) fire(gen uint64) {
	d.mu.Lock()
	if d.stopped || gen != d.gen {
		d.mu.Unlock()
		return
	}
	d.timer = nil
	q := d.pending
	d.mu.Unlock()
	d.run(q)
}

func (d *Debouncer) run(query string) {
	seq := d.seq.Add(1)
	locations, err := d.search(d.ctx, query)

	d.deliverMu.Lock()
	defer d.deliverMu.Unlock()
	if seq != d.seq.Load() || d.ctx.Err() != nil {
		observability.SearchSupersededTotal.Inc()
		return
	}
	if d.onResult != nil {
		d.onResult(Result{Query: query, Seq: seq, Locations: locations, Err: err})
	}
}
