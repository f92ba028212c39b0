package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-lookup/internal/observability"
)

// WeatherFetcher is implemented by the service layer to fetch (and cache) a
// forecast without touching search history. Used by CacheWarmer to avoid a
// circular dependency on the service package.
type WeatherFetcher interface {
	Prefetch(ctx context.Context, city string) error
}

// CacheWarmer warms the cache by prefetching forecasts for a list of cities.
type CacheWarmer struct {
	fetcher WeatherFetcher
	logger  *zap.Logger
}

// NewCacheWarmer creates a CacheWarmer that uses the given fetcher and logger.
func NewCacheWarmer(fetcher WeatherFetcher, logger *zap.Logger) *CacheWarmer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CacheWarmer{fetcher: fetcher, logger: logger}
}

// Warm fetches each city concurrently. Returns the joined per-city errors.
func (w *CacheWarmer) Warm(ctx context.Context, cities []string) error {
	if len(cities) == 0 {
		return nil
	}
	start := time.Now()
	observability.CacheWarmingTotal.Inc()
	w.logger.Info("warming cache", zap.Int("locations", len(cities)))

	var wg sync.WaitGroup
	errCh := make(chan error, len(cities))
	for _, city := range cities {
		wg.Add(1)
		go func(city string) {
			defer wg.Done()
			if err := w.fetcher.Prefetch(ctx, city); err != nil {
				errCh <- fmt.Errorf("warm %s: %w", city, err)
			}
		}(city)
	}
	wg.Wait()
	close(errCh)

	var errs []error
	for err := range errCh {
		errs = append(errs, err)
	}
	duration := time.Since(start).Seconds()
	observability.CacheWarmingDurationSeconds.Observe(duration)
	w.logger.Info("cache warming complete",
		zap.Int("locations", len(cities)),
		zap.Int("errors", len(errs)),
		zap.Float64("duration_seconds", duration))

	if len(errs) > 0 {
		observability.CacheWarmingErrorsTotal.Inc()
		return fmt.Errorf("cache warming: %w", errors.Join(errs...))
	}
	return nil
}
