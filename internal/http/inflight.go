package http

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// InFlightTracker counts requests currently being served so shutdown can
// wait for them after the listener closes.
type InFlightTracker struct {
	count atomic.Int64
}

func (t *InFlightTracker) Increment() { t.count.Add(1) }

func (t *InFlightTracker) Decrement() { t.count.Add(-1) }

func (t *InFlightTracker) Count() int64 { return t.count.Load() }

// WaitForZero polls every checkInterval until the count is zero or ctx ends.
func (t *InFlightTracker) WaitForZero(ctx context.Context, checkInterval time.Duration) error {
	if checkInterval <= 0 {
		checkInterval = 50 * time.Millisecond
	}
	ticker := time.NewTicker(checkInterval)
	defer ticker.Stop()
	for t.Count() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

// globalInFlightTracker is maintained by MetricsMiddleware.
var globalInFlightTracker = &InFlightTracker{}

// InFlightCount returns the number of requests MetricsMiddleware is serving.
func InFlightCount() int64 {
	return globalInFlightTracker.Count()
}

// DrainInFlight waits for in-flight requests and logs what was left behind
// when ctx expires first.
func DrainInFlight(ctx context.Context, logger *zap.Logger) {
	if n := InFlightCount(); n > 0 {
		logger.Info("waiting for in-flight requests", zap.Int64("count", n))
	}
	if err := globalInFlightTracker.WaitForZero(ctx, 50*time.Millisecond); err != nil {
		logger.Warn("in-flight requests not completed", zap.Error(err), zap.Int64("remaining", InFlightCount()))
	}
}
