package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/kjstillabower/weather-lookup/internal/cache"
	"github.com/kjstillabower/weather-lookup/internal/client"
	"github.com/kjstillabower/weather-lookup/internal/history"
	"github.com/kjstillabower/weather-lookup/internal/models"
	"github.com/kjstillabower/weather-lookup/internal/storage"
)

type mockWeatherClient struct {
	mu            sync.Mutex
	forecast      func(city string) (models.ForecastResult, error)
	searchResult  []models.Location
	searchErr     error
	forecastCalls []string
	searchCalls   []string
}

func (m *mockWeatherClient) Forecast(ctx context.Context, city string, days int) (models.ForecastResult, error) {
	m.mu.Lock()
	m.forecastCalls = append(m.forecastCalls, city)
	m.mu.Unlock()
	if m.forecast == nil {
		return completeForecast(city), nil
	}
	return m.forecast(city)
}

func (m *mockWeatherClient) Search(ctx context.Context, query string) ([]models.Location, error) {
	m.mu.Lock()
	m.searchCalls = append(m.searchCalls, query)
	m.mu.Unlock()
	return m.searchResult, m.searchErr
}

type mockConnectivity struct {
	mu     sync.Mutex
	online bool
}

func (c *mockConnectivity) Online() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.online
}

func (c *mockConnectivity) set(v bool) {
	c.mu.Lock()
	c.online = v
	c.mu.Unlock()
}

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

// failingStore fails writes and deletes; reads go to the embedded memory store.
type failingStore struct {
	*storage.MemoryStore
	err error
}

func (f failingStore) Set(context.Context, string, []byte) error { return f.err }
func (f failingStore) Delete(context.Context, string) error      { return f.err }

func completeForecast(city string) models.ForecastResult {
	return models.ForecastResult{
		Location: &models.LocationInfo{Name: city, Country: "Saudi Arabia"},
		Current:  &models.Current{TempC: 31, TempF: 87.8, Condition: models.Condition{Text: "Sunny"}},
		Forecast: &models.Forecast{ForecastDay: []models.ForecastDay{{Date: "2026-10-19"}, {Date: "2026-10-20"}}},
	}
}

type fixture struct {
	svc     *WeatherService
	client  *mockWeatherClient
	conn    *mockConnectivity
	clock   *fakeClock
	history *history.History
	logs    *observer.ObservedLogs
}

func newFixture(t *testing.T, store storage.Store) *fixture {
	t.Helper()
	if store == nil {
		store = storage.NewMemoryStore()
	}
	core, logs := observer.New(zapcore.DebugLevel)
	logger := zap.New(core)
	clock := &fakeClock{now: time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)}
	fc := cache.New(store, cache.WithClock(clock), cache.WithLogger(logger))
	h := history.New(store, 5, logger)
	mc := &mockWeatherClient{}
	conn := &mockConnectivity{online: true}
	return &fixture{
		svc:     NewWeatherService(mc, fc, h, conn, Options{}, logger),
		client:  mc,
		conn:    conn,
		clock:   clock,
		history: h,
		logs:    logs,
	}
}

func historyNames(ls []models.Location) []string {
	out := make([]string, len(ls))
	for i, l := range ls {
		out[i] = l.Name
	}
	return out
}

// TestGetForecast_OfflineNoCache verifies that an offline lookup for a city
// that was never fetched fails without calling the provider.
func TestGetForecast_OfflineNoCache(t *testing.T) {
	f := newFixture(t, nil)
	f.conn.set(false)

	for _, city := range []string{"Riyadh", "London", "Tokyo"} {
		_, err := f.svc.GetForecast(context.Background(), city, OriginSelection)
		if !errors.Is(err, ErrOfflineNoCache) {
			t.Errorf("GetForecast(%s) error = %v, want ErrOfflineNoCache", city, err)
		}
	}
	if len(f.client.forecastCalls) != 0 {
		t.Errorf("provider called %d times while offline", len(f.client.forecastCalls))
	}
	if len(f.history.Entries()) != 0 {
		t.Errorf("history = %v, want empty after failures", f.history.Entries())
	}
}

// TestGetForecast_OfflineFreshnessWindow verifies the cached payload is served
// offline until 30 minutes after the fetch and not after.
func TestGetForecast_OfflineFreshnessWindow(t *testing.T) {
	tests := []struct {
		name    string
		elapsed time.Duration
		wantErr error
	}{
		{"immediately", 0, nil},
		{"29m59s", 30*time.Minute - time.Second, nil},
		{"30m", 30 * time.Minute, ErrOfflineNoCache},
		{"2h", 2 * time.Hour, ErrOfflineNoCache},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil)
			ctx := context.Background()
			online, err := f.svc.GetForecast(ctx, "Riyadh", OriginSelection)
			if err != nil {
				t.Fatalf("online GetForecast() error = %v", err)
			}

			f.conn.set(false)
			f.clock.now = f.clock.now.Add(tt.elapsed)
			got, err := f.svc.GetForecast(ctx, "Riyadh", OriginRefresh)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("offline GetForecast() error = %v, want %v", err, tt.wantErr)
			}
			if tt.wantErr != nil {
				return
			}
			if !got.FromCache || !got.Offline {
				t.Errorf("FromCache=%v Offline=%v, want both true", got.FromCache, got.Offline)
			}
			if got.Data.Current.TempC != online.Data.Current.TempC || got.Data.Location.Name != "Riyadh" {
				t.Errorf("offline payload = %+v, want the fetched payload", got.Data)
			}
		})
	}
}

// TestScenario_RiyadhCaseInsensitiveOffline: fetch "Riyadh" online, go offline,
// ask for "riyadh" ten minutes later and get the cached payload.
func TestScenario_RiyadhCaseInsensitiveOffline(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	if _, err := f.svc.GetForecast(ctx, "Riyadh", OriginSelection); err != nil {
		t.Fatalf("GetForecast(Riyadh) error = %v", err)
	}
	f.conn.set(false)
	f.clock.now = f.clock.now.Add(10 * time.Minute)

	got, err := f.svc.GetForecast(ctx, "riyadh", OriginSelection)
	if err != nil {
		t.Fatalf("GetForecast(riyadh) offline error = %v", err)
	}
	if got.Data.Location == nil || got.Data.Location.Name != "Riyadh" {
		t.Errorf("Location = %+v, want cached Riyadh payload", got.Data.Location)
	}
	if len(f.client.forecastCalls) != 1 {
		t.Errorf("provider calls = %d, want 1", len(f.client.forecastCalls))
	}
	if names := historyNames(f.history.Entries()); len(names) != 1 {
		t.Errorf("history = %v, want one entry for Riyadh", names)
	}
}

// TestGetForecast_MissingSection verifies a payload without a required
// section fails with ErrIncompleteData and is neither cached nor recorded.
func TestGetForecast_MissingSection(t *testing.T) {
	tests := []struct {
		name  string
		strip func(*models.ForecastResult)
	}{
		{"forecast", func(r *models.ForecastResult) { r.Forecast = nil }},
		{"current", func(r *models.ForecastResult) { r.Current = nil }},
		{"location", func(r *models.ForecastResult) { r.Location = nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil)
			f.client.forecast = func(city string) (models.ForecastResult, error) {
				r := completeForecast(city)
				tt.strip(&r)
				return r, nil
			}
			ctx := context.Background()

			_, err := f.svc.GetForecast(ctx, "Riyadh", OriginSelection)
			if !errors.Is(err, ErrIncompleteData) {
				t.Fatalf("GetForecast() error = %v, want ErrIncompleteData", err)
			}
			if KindOf(err) != KindIncompleteData {
				t.Errorf("KindOf() = %q", KindOf(err))
			}
			if len(f.history.Entries()) != 0 {
				t.Error("history updated after incomplete response")
			}
			f.conn.set(false)
			if _, err := f.svc.GetForecast(ctx, "Riyadh", OriginRefresh); !errors.Is(err, ErrOfflineNoCache) {
				t.Errorf("incomplete payload was cached: offline error = %v", err)
			}
		})
	}
}

// TestGetForecast_CacheWriteFailureSwallowed verifies the fetched forecast is
// returned even when persisting it fails.
func TestGetForecast_CacheWriteFailureSwallowed(t *testing.T) {
	f := newFixture(t, failingStore{MemoryStore: storage.NewMemoryStore(), err: errors.New("disk full")})

	got, err := f.svc.GetForecast(context.Background(), "Riyadh", OriginRefresh)
	if err != nil {
		t.Fatalf("GetForecast() error = %v, want nil despite cache write failure", err)
	}
	if got.Data.Location.Name != "Riyadh" || got.FromCache {
		t.Errorf("GetForecast() = %+v, want fresh network payload", got)
	}
	if f.logs.FilterMessage("forecast cache write failed").Len() != 1 {
		t.Error("expected cache write failure to be logged")
	}
}

// TestGetForecast_HistoryWriteFailureSwallowed verifies a failed history
// write does not fail a selection.
func TestGetForecast_HistoryWriteFailureSwallowed(t *testing.T) {
	f := newFixture(t, failingStore{MemoryStore: storage.NewMemoryStore(), err: errors.New("read-only")})

	if _, err := f.svc.GetForecast(context.Background(), "Riyadh", OriginSelection); err != nil {
		t.Fatalf("GetForecast() error = %v", err)
	}
	if f.logs.FilterMessage("save search history failed").Len() != 1 {
		t.Error("expected history write failure to be logged")
	}
}

func TestGetForecast_ErrorNormalization(t *testing.T) {
	tests := []struct {
		name       string
		clientErr  error
		wantErr    error
		wantKind   Kind
		wantReason Reason
	}{
		{
			name:      "transport",
			clientErr: fmt.Errorf("%w: dial tcp: connection refused", client.ErrTransport),
			wantErr:   ErrNetwork,
			wantKind:  KindNetwork,
		},
		{
			name:      "deadline",
			clientErr: fmt.Errorf("%w: request timeout: %w", client.ErrTransport, context.DeadlineExceeded),
			wantErr:   ErrNetwork,
			wantKind:  KindNetwork,
		},
		{
			name:       "no matching location",
			clientErr:  &client.APIError{Status: 400, Code: 1006, Message: "No matching location found."},
			wantErr:    ErrProvider,
			wantKind:   KindProvider,
			wantReason: ReasonNotFound,
		},
		{
			name:       "quota",
			clientErr:  fmt.Errorf("exhausted retries: %w", &client.APIError{Status: 403, Code: 2007, Message: "quota exceeded"}),
			wantErr:    ErrProvider,
			wantKind:   KindProvider,
			wantReason: ReasonRateLimited,
		},
		{
			name:       "invalid key",
			clientErr:  &client.APIError{Status: 401, Code: 2006, Message: "API key is invalid."},
			wantErr:    ErrProvider,
			wantKind:   KindProvider,
			wantReason: ReasonAuth,
		},
		{
			name:      "malformed body",
			clientErr: fmt.Errorf("%w: parse forecast response: unexpected EOF", client.ErrMalformedResponse),
			wantErr:   ErrIncompleteData,
			wantKind:  KindIncompleteData,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil)
			f.client.forecast = func(string) (models.ForecastResult, error) {
				return models.ForecastResult{}, tt.clientErr
			}
			_, err := f.svc.GetForecast(context.Background(), "Nowhere", OriginSelection)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("error = %v, want %v", err, tt.wantErr)
			}
			if got := KindOf(err); got != tt.wantKind {
				t.Errorf("KindOf() = %q, want %q", got, tt.wantKind)
			}
			var apiErr *client.APIError
			if errors.As(err, &apiErr) {
				t.Error("client.APIError leaked past the service boundary")
			}
			if errors.Is(err, client.ErrTransport) {
				t.Error("client.ErrTransport leaked past the service boundary")
			}
			if tt.wantReason != "" {
				var pe *ProviderError
				if !errors.As(err, &pe) {
					t.Fatalf("error = %T, want *ProviderError", err)
				}
				if pe.Reason != tt.wantReason {
					t.Errorf("Reason = %q, want %q", pe.Reason, tt.wantReason)
				}
				if Message(err) != pe.Message {
					t.Errorf("Message() = %q, want provider message %q", Message(err), pe.Message)
				}
			}
		})
	}
}

// TestHistory_SelectionOnly verifies only selections change history and that
// re-selection moves a city to the front with a cap of five.
func TestHistory_SelectionOnly(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	for _, c := range []string{"Riyadh", "London", "Paris", "Tokyo", "Cairo"} {
		if _, err := f.svc.SelectLocation(ctx, models.Location{Name: c, Country: "X"}); err != nil {
			t.Fatalf("SelectLocation(%s) error = %v", c, err)
		}
	}
	if _, err := f.svc.GetForecast(ctx, "Lima", OriginRefresh); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.GetForecast(ctx, "Quito", OriginLookup); err != nil {
		t.Fatal(err)
	}
	if err := f.svc.Prefetch(ctx, "Oslo"); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.GetForecast(ctx, "london", OriginSelection); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.GetForecast(ctx, "Berlin", OriginSelection); err != nil {
		t.Fatal(err)
	}

	got := historyNames(f.svc.History())
	want := []string{"Berlin", "london", "Cairo", "Tokyo", "Paris"}
	if len(got) != len(want) {
		t.Fatalf("History() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("History()[%d] = %q, want %q (full %v)", i, got[i], want[i], got)
		}
	}
}

func TestSelectLocation_FillsCountry(t *testing.T) {
	f := newFixture(t, nil)
	if _, err := f.svc.SelectLocation(context.Background(), models.Location{Name: "Riyadh"}); err != nil {
		t.Fatal(err)
	}
	latest, _ := f.history.Latest()
	if latest.Country != "Saudi Arabia" {
		t.Errorf("Country = %q, want filled from payload", latest.Country)
	}
}

// TestRefresh_UsesLatestOrDefault verifies Refresh loads the default city
// with empty history, then the most recent selection, without changing history.
func TestRefresh_UsesLatestOrDefault(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	got, err := f.svc.Refresh(ctx)
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if got.City != "Riyadh" {
		t.Errorf("Refresh() city = %q, want default Riyadh", got.City)
	}
	if len(f.svc.History()) != 0 {
		t.Error("Refresh() changed history")
	}

	_, _ = f.svc.SelectLocation(ctx, models.Location{Name: "London", Country: "UK"})
	got, err = f.svc.Refresh(ctx)
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if got.City != "London" {
		t.Errorf("Refresh() city = %q, want London", got.City)
	}
	if n := len(f.svc.History()); n != 1 {
		t.Errorf("len(History()) = %d, want 1", n)
	}
}

func TestPrefetch_OfflineIsNoop(t *testing.T) {
	f := newFixture(t, nil)
	f.conn.set(false)
	if err := f.svc.Prefetch(context.Background(), "Riyadh"); err != nil {
		t.Errorf("Prefetch() offline error = %v, want nil", err)
	}
	if len(f.client.forecastCalls) != 0 {
		t.Error("Prefetch() called provider while offline")
	}
}

func TestSearchLocations(t *testing.T) {
	t.Run("short query makes no network call", func(t *testing.T) {
		f := newFixture(t, nil)
		for _, q := range []string{"", "L", "Lo", " Lo ", "a?", "!!", "<>"} {
			got, err := f.svc.SearchLocations(context.Background(), q)
			if err != nil {
				t.Fatalf("SearchLocations(%q) error = %v", q, err)
			}
			if got == nil || len(got) != 0 {
				t.Errorf("SearchLocations(%q) = %v, want empty non-nil list", q, got)
			}
		}
		if len(f.client.searchCalls) != 0 {
			t.Errorf("search calls = %v, want none", f.client.searchCalls)
		}
	})

	t.Run("offline fails", func(t *testing.T) {
		f := newFixture(t, nil)
		f.conn.set(false)
		_, err := f.svc.SearchLocations(context.Background(), "London")
		if !errors.Is(err, ErrOfflineSearch) {
			t.Errorf("error = %v, want ErrOfflineSearch", err)
		}
		if len(f.client.searchCalls) != 0 {
			t.Error("search called while offline")
		}
	})

	t.Run("returns provider results without side effects", func(t *testing.T) {
		f := newFixture(t, nil)
		f.client.searchResult = []models.Location{{Name: "London", Country: "United Kingdom"}}
		got, err := f.svc.SearchLocations(context.Background(), "Lon")
		if err != nil {
			t.Fatalf("error = %v", err)
		}
		if len(got) != 1 || got[0].Name != "London" {
			t.Errorf("SearchLocations() = %v", got)
		}
		if len(f.svc.History()) != 0 || len(f.client.forecastCalls) != 0 {
			t.Error("search had side effects on history or forecasts")
		}
	})

	t.Run("provider error normalized", func(t *testing.T) {
		f := newFixture(t, nil)
		f.client.searchErr = fmt.Errorf("%w: timeout", client.ErrTransport)
		if _, err := f.svc.SearchLocations(context.Background(), "London"); !errors.Is(err, ErrNetwork) {
			t.Errorf("error = %v, want ErrNetwork", err)
		}
	})

	t.Run("invalid characters", func(t *testing.T) {
		f := newFixture(t, nil)
		if _, err := f.svc.SearchLocations(context.Background(), "Lon<don>"); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("error = %v, want ErrInvalidInput", err)
		}
	})
}

func TestGetForecast_InvalidInput(t *testing.T) {
	f := newFixture(t, nil)
	for _, c := range []string{"", "   ", "a/b"} {
		_, err := f.svc.GetForecast(context.Background(), c, OriginSelection)
		if !errors.Is(err, ErrInvalidInput) {
			t.Errorf("GetForecast(%q) error = %v, want ErrInvalidInput", c, err)
		}
	}
	if len(f.client.forecastCalls) != 0 {
		t.Error("provider called for invalid input")
	}
}

func TestClearHistory(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	_, _ = f.svc.GetForecast(ctx, "Riyadh", OriginSelection)
	if err := f.svc.ClearHistory(ctx); err != nil {
		t.Fatalf("ClearHistory() error = %v", err)
	}
	if len(f.svc.History()) != 0 {
		t.Error("history not empty after clear")
	}

	failing := newFixture(t, failingStore{MemoryStore: storage.NewMemoryStore(), err: errors.New("locked")})
	err := failing.svc.ClearHistory(ctx)
	if !errors.Is(err, ErrPersistence) {
		t.Errorf("ClearHistory() error = %v, want ErrPersistence", err)
	}
	if Message(err) != "Failed to clear search history." {
		t.Errorf("Message() = %q", Message(err))
	}
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		err  error
		want Kind
	}{
		{nil, KindNone},
		{fmt.Errorf("wrap: %w", ErrNetwork), KindNetwork},
		{&ProviderError{Code: 1006}, KindProvider},
		{ErrIncompleteData, KindIncompleteData},
		{ErrOfflineNoCache, KindOfflineNoCache},
		{ErrOfflineSearch, KindOfflineSearch},
		{ErrPersistence, KindPersistence},
		{ErrInvalidInput, KindInvalidInput},
		{errors.New("boom"), KindUnknown},
	}
	for _, tt := range tests {
		if got := KindOf(tt.err); got != tt.want {
			t.Errorf("KindOf(%v) = %q, want %q", tt.err, got, tt.want)
		}
		if tt.err != nil && Message(tt.err) == "" {
			t.Errorf("Message(%v) is empty", tt.err)
		}
	}
}
