//go:build integration
// +build integration

// Package testhelpers builds live stacks for integration tests.
package testhelpers

import (
	"context"
	"os"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/kjstillabower/weather-lookup/internal/cache"
	"github.com/kjstillabower/weather-lookup/internal/client"
	"github.com/kjstillabower/weather-lookup/internal/connectivity"
	"github.com/kjstillabower/weather-lookup/internal/history"
	"github.com/kjstillabower/weather-lookup/internal/service"
	"github.com/kjstillabower/weather-lookup/internal/storage"
)

// IntegrationTestConfig holds configuration for integration tests.
type IntegrationTestConfig struct {
	APIKey         string
	APIURL         string
	StorageBackend string
	MemcachedAddr  string
}

// GetIntegrationConfig loads integration test configuration from environment.
// Skips test if WEATHER_API_KEY is not set.
func GetIntegrationConfig(t *testing.T) IntegrationTestConfig {
	t.Helper()
	apiKey := os.Getenv("WEATHER_API_KEY")
	if apiKey == "" {
		t.Skip("WEATHER_API_KEY not set, skipping integration test")
	}

	apiURL := os.Getenv("WEATHER_API_URL")
	if apiURL == "" {
		apiURL = "https://api.weatherapi.com/v1"
	}
	backend := os.Getenv("INTEGRATION_STORAGE_BACKEND")
	if backend == "" {
		backend = storage.BackendMemory
	}
	memcachedAddr := os.Getenv("MEMCACHED_ADDRS")
	if memcachedAddr == "" {
		memcachedAddr = "localhost:11211"
	}

	return IntegrationTestConfig{
		APIKey:         apiKey,
		APIURL:         apiURL,
		StorageBackend: backend,
		MemcachedAddr:  memcachedAddr,
	}
}

// Stack is a live retrieval policy and the pieces tests poke at.
type Stack struct {
	Service *service.WeatherService
	Client  *client.WeatherAPIClient
	Store   storage.Store
	Cache   *cache.ForecastCache
	Monitor *connectivity.Monitor
}

// SetupIntegrationStack wires the real provider client to the configured
// store. A memcached backend that cannot be reached falls back to memory.
func SetupIntegrationStack(t *testing.T, cfg IntegrationTestConfig) *Stack {
	t.Helper()
	logger := zaptest.NewLogger(t)

	weatherClient, err := client.NewWeatherAPIClient(cfg.APIKey, cfg.APIURL, 5*time.Second)
	if err != nil {
		t.Fatalf("NewWeatherAPIClient() error = %v", err)
	}
	t.Cleanup(func() { _ = weatherClient.Close() })

	opts := storage.Options{
		Backend:          cfg.StorageBackend,
		SQLitePath:       t.TempDir() + "/integration.db",
		MemcachedAddrs:   cfg.MemcachedAddr,
		MemcachedTimeout: 500 * time.Millisecond,
	}
	store, err := storage.Open(context.Background(), opts)
	if err != nil {
		t.Logf("storage backend %q not available (%v), using memory", cfg.StorageBackend, err)
		store = storage.NewMemoryStore()
	}
	t.Cleanup(func() { _ = store.Close() })

	fc := cache.New(store, cache.WithLogger(logger))
	h := history.New(store, history.DefaultMaxEntries, logger)
	monitor := connectivity.NewMonitor(true)

	return &Stack{
		Service: service.NewWeatherService(weatherClient, fc, h, monitor, service.Options{}, logger),
		Client:  weatherClient,
		Store:   store,
		Cache:   fc,
		Monitor: monitor,
	}
}
