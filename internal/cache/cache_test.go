package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/kjstillabower/weather-lookup/internal/models"
	"github.com/kjstillabower/weather-lookup/internal/storage"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
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

// failingStore fails every operation with err.
type failingStore struct {
	storage.Store
	err error
}

func (f failingStore) Get(context.Context, string) ([]byte, bool, error) { return nil, false, f.err }
func (f failingStore) Set(context.Context, string, []byte) error         { return f.err }

func sampleForecast(name string) models.ForecastResult {
	return models.ForecastResult{
		Location: &models.LocationInfo{Name: name, Country: "Saudi Arabia"},
		Current:  &models.Current{TempC: 31},
		Forecast: &models.Forecast{ForecastDay: []models.ForecastDay{{Date: "2026-10-19"}}},
	}
}

func newTestCache(t *testing.T) (*ForecastCache, *fakeClock, storage.Store) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)}
	store := storage.NewMemoryStore()
	return New(store, WithClock(clock)), clock, store
}

// TestForecastCache_FreshnessBoundary verifies an entry is served strictly
// inside the validity window and not at or after it.
func TestForecastCache_FreshnessBoundary(t *testing.T) {
	tests := []struct {
		name      string
		age       time.Duration
		wantFresh bool
	}{
		{"just written", 0, true},
		{"29 minutes", 29 * time.Minute, true},
		{"one nanosecond before window", ValidityWindow - time.Nanosecond, true},
		{"exactly 30 minutes", ValidityWindow, false},
		{"31 minutes", 31 * time.Minute, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, clock, _ := newTestCache(t)
			ctx := context.Background()
			if err := c.Put(ctx, "Riyadh", sampleForecast("Riyadh")); err != nil {
				t.Fatalf("Put() error = %v", err)
			}
			clock.Advance(tt.age)
			_, ok := c.Get(ctx, "Riyadh")
			if ok != tt.wantFresh {
				t.Errorf("Get() after %v ok = %v, want %v", tt.age, ok, tt.wantFresh)
			}
		})
	}
}

// TestForecastCache_StaleEntryKeptUntilOverwrite verifies a stale read does not
// delete the record and a new Put makes it fresh again.
func TestForecastCache_StaleEntryKeptUntilOverwrite(t *testing.T) {
	c, clock, store := newTestCache(t)
	ctx := context.Background()

	_ = c.Put(ctx, "Riyadh", sampleForecast("Riyadh"))
	clock.Advance(45 * time.Minute)
	if _, ok := c.Get(ctx, "Riyadh"); ok {
		t.Fatal("Get() on stale entry ok = true")
	}
	if _, ok, _ := store.Get(ctx, "forecast:riyadh"); !ok {
		t.Error("stale record was removed from the store")
	}

	if err := c.Put(ctx, "Riyadh", sampleForecast("Riyadh")); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	e, ok := c.Get(ctx, "Riyadh")
	if !ok {
		t.Fatal("Get() after overwrite ok = false")
	}
	if !e.StoredAt.Equal(clock.Now()) {
		t.Errorf("StoredAt = %v, want %v", e.StoredAt, clock.Now())
	}
}

func TestForecastCache_CaseInsensitiveKey(t *testing.T) {
	c, _, _ := newTestCache(t)
	ctx := context.Background()

	if err := c.Put(ctx, "Riyadh", sampleForecast("Riyadh")); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	e, ok := c.Get(ctx, "  riyadh ")
	if !ok {
		t.Fatal("Get(riyadh) ok = false, want hit for Riyadh")
	}
	if e.Payload.Location.Name != "Riyadh" {
		t.Errorf("Payload.Location.Name = %q, want original casing", e.Payload.Location.Name)
	}
}

// TestForecastCache_ReadErrorIsMiss verifies backend failures degrade to a
// miss and are logged.
func TestForecastCache_ReadErrorIsMiss(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	c := New(failingStore{err: errors.New("disk gone")}, WithLogger(zap.New(core)))

	if _, ok := c.Get(context.Background(), "Riyadh"); ok {
		t.Error("Get() ok = true on failing store")
	}
	if logs.FilterMessage("forecast cache read failed").Len() != 1 {
		t.Errorf("expected one read-failure log, got %v", logs.All())
	}
}

func TestForecastCache_UndecodableIsMiss(t *testing.T) {
	c, _, store := newTestCache(t)
	ctx := context.Background()
	_ = store.Set(ctx, "forecast:riyadh", []byte("not json"))

	if _, ok := c.Get(ctx, "Riyadh"); ok {
		t.Error("Get() ok = true for undecodable record")
	}
}

func TestForecastCache_PutErrors(t *testing.T) {
	writeErr := errors.New("read-only filesystem")
	c := New(failingStore{err: writeErr})

	err := c.Put(context.Background(), "Riyadh", sampleForecast("Riyadh"))
	if !errors.Is(err, writeErr) {
		t.Errorf("Put() error = %v, want wrapped %v", err, writeErr)
	}
	if err := c.Put(context.Background(), "   ", sampleForecast("")); !errors.Is(err, ErrEmptyCity) {
		t.Errorf("Put(blank) error = %v, want ErrEmptyCity", err)
	}
}

func TestForecastCache_WithValidity(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	c := New(storage.NewMemoryStore(), WithClock(clock), WithValidity(time.Minute))
	if c.Validity() != time.Minute {
		t.Fatalf("Validity() = %v, want 1m", c.Validity())
	}
	ctx := context.Background()
	_ = c.Put(ctx, "London", sampleForecast("London"))
	clock.Advance(time.Minute)
	if _, ok := c.Get(ctx, "London"); ok {
		t.Error("Get() ok = true after custom window elapsed")
	}
}
