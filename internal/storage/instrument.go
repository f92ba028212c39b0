package storage

import (
	"context"
	"time"

	"github.com/kjstillabower/weather-lookup/internal/observability"
)

type instrumented struct {
	Store
}

// Instrument wraps s so every operation records latency and errors.
func Instrument(s Store) Store {
	if _, ok := s.(*instrumented); ok {
		return s
	}
	return &instrumented{Store: s}
}

func observe(op string, start time.Time, err error) {
	result := "success"
	if err != nil {
		result = "error"
		observability.CacheErrorsTotal.WithLabelValues(op).Inc()
	}
	observability.CacheOperationDurationSeconds.WithLabelValues(op, result).Observe(time.Since(start).Seconds())
}

func (i *instrumented) Get(ctx context.Context, key string) ([]byte, bool, error) {
	start := time.Now()
	v, ok, err := i.Store.Get(ctx, key)
	observe("get", start, err)
	return v, ok, err
}

func (i *instrumented) Set(ctx context.Context, key string, value []byte) error {
	start := time.Now()
	err := i.Store.Set(ctx, key, value)
	observe("set", start, err)
	return err
}

func (i *instrumented) Delete(ctx context.Context, key string) error {
	start := time.Now()
	err := i.Store.Delete(ctx, key)
	observe("delete", start, err)
	return err
}
