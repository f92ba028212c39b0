package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-lookup/internal/models"
	"github.com/kjstillabower/weather-lookup/internal/observability"
	"github.com/kjstillabower/weather-lookup/internal/storage"
)

// ValidityWindow is how long after a write a cached forecast may be served.
const ValidityWindow = 30 * time.Minute

const keyPrefix = "forecast:"

// ErrEmptyCity is returned by Put when the city normalizes to "".
var ErrEmptyCity = errors.New("cache: empty city")

// Clock abstracts time for freshness checks.
type Clock interface {
	Now() time.Time
}

type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// Entry is one cached forecast. Only the latest successful fetch per city is kept.
type Entry struct {
	Payload  models.ForecastResult `json:"payload"`
	StoredAt time.Time             `json:"storedAt"`
}

// ForecastCache stores the last successful forecast per city in a Store.
// Staleness is evaluated when reading; stale records are left in place and
// overwritten by the next successful fetch.
type ForecastCache struct {
	store    storage.Store
	clock    Clock
	validity time.Duration
	logger   *zap.Logger
}

type Option func(*ForecastCache)

func WithClock(c Clock) Option {
	return func(fc *ForecastCache) { fc.clock = c }
}

func WithValidity(d time.Duration) Option {
	return func(fc *ForecastCache) {
		if d > 0 {
			fc.validity = d
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(fc *ForecastCache) {
		if l != nil {
			fc.logger = l
		}
	}
}

func New(store storage.Store, opts ...Option) *ForecastCache {
	fc := &ForecastCache{
		store:    store,
		clock:    RealClock{},
		validity: ValidityWindow,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(fc)
	}
	return fc
}

func key(city string) string {
	return keyPrefix + models.NormalizeCity(city)
}

// Get returns the cached forecast for city only if it is still fresh.
// Backend errors and undecodable records are logged and reported as a miss.
func (c *ForecastCache) Get(ctx context.Context, city string) (Entry, bool) {
	if models.NormalizeCity(city) == "" {
		return Entry{}, false
	}
	raw, ok, err := c.store.Get(ctx, key(city))
	if err != nil {
		observability.CacheLookupsTotal.WithLabelValues("error").Inc()
		c.logger.Warn("forecast cache read failed", zap.String("city", city), zap.Error(err))
		return Entry{}, false
	}
	if !ok {
		observability.CacheLookupsTotal.WithLabelValues("miss").Inc()
		c.logger.Debug("forecast cache miss", zap.String("city", city))
		return Entry{}, false
	}

	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		observability.CacheLookupsTotal.WithLabelValues("error").Inc()
		c.logger.Warn("forecast cache record undecodable", zap.String("city", city), zap.Error(err))
		return Entry{}, false
	}

	age := c.clock.Now().Sub(e.StoredAt)
	if age >= c.validity {
		observability.CacheLookupsTotal.WithLabelValues("stale").Inc()
		c.logger.Debug("forecast cache stale", zap.String("city", city), zap.Duration("age", age))
		return Entry{}, false
	}

	observability.CacheLookupsTotal.WithLabelValues("hit").Inc()
	c.logger.Debug("forecast cache hit", zap.String("city", city), zap.Duration("age", age))
	return e, true
}

// Put overwrites the entry for city, stamped with the current time.
func (c *ForecastCache) Put(ctx context.Context, city string, payload models.ForecastResult) error {
	if models.NormalizeCity(city) == "" {
		return ErrEmptyCity
	}
	raw, err := json.Marshal(Entry{Payload: payload, StoredAt: c.clock.Now().UTC()})
	if err != nil {
		return fmt.Errorf("cache: encode forecast: %w", err)
	}
	if err := c.store.Set(ctx, key(city), raw); err != nil {
		return fmt.Errorf("cache: write forecast for %q: %w", city, err)
	}
	return nil
}

// Validity returns the configured freshness window.
func (c *ForecastCache) Validity() time.Duration {
	return c.validity
}
