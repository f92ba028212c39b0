// Package scheduler runs periodic cache warming so recently viewed and
// configured cities stay fresh for offline use.
package scheduler

import (
	"context"
	"time"

	"github.com/go-co-op/gocron"
	"go.uber.org/zap"

	"github.com/kjstillabower/weather-lookup/internal/models"
)

// Warmer warms the forecast cache for a list of cities.
type Warmer interface {
	Warm(ctx context.Context, cities []string) error
}

// CitySource returns the cities to warm on each run.
type CitySource func() []string

// Scheduler periodically warms the cache.
type Scheduler struct {
	scheduler *gocron.Scheduler
	warmer    Warmer
	source    CitySource
	interval  time.Duration
	timeout   time.Duration
	logger    *zap.Logger
}

// New creates a Scheduler. interval <= 0 uses 15 minutes, which keeps entries
// inside the 30 minute validity window.
func New(warmer Warmer, source CitySource, interval time.Duration, logger *zap.Logger) *Scheduler {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		scheduler: gocron.NewScheduler(time.UTC),
		warmer:    warmer,
		source:    source,
		interval:  interval,
		timeout:   30 * time.Second,
		logger:    logger,
	}
}

// Start schedules the warming job, runs it once immediately, and starts the
// scheduler in the background.
func (s *Scheduler) Start() error {
	_, err := s.scheduler.Every(s.interval).SingletonMode().Do(s.run)
	if err != nil {
		return err
	}
	s.scheduler.StartAsync()
	s.logger.Info("cache warming scheduled", zap.Duration("interval", s.interval))
	return nil
}

// Stop stops the scheduler and cancels any future jobs.
func (s *Scheduler) Stop() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}

func (s *Scheduler) run() {
	cities := Dedupe(s.source())
	if len(cities) == 0 {
		s.logger.Debug("cache warming skipped: no cities")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if err := s.warmer.Warm(ctx, cities); err != nil {
		s.logger.Warn("scheduled cache warm failed", zap.Error(err))
	}
}

// Dedupe drops blank and case-insensitive duplicate city names, keeping the
// first spelling seen.
func Dedupe(cities []string) []string {
	seen := make(map[string]struct{}, len(cities))
	out := make([]string, 0, len(cities))
	for _, c := range cities {
		k := models.NormalizeCity(c)
		if k == "" {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, c)
	}
	return out
}
