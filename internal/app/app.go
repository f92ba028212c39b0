// Package app wires configuration, storage, the provider client and the
// retrieval policy into a runnable process shared by the CLI and HTTP hosts.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/weather-lookup/internal/cache"
	"github.com/kjstillabower/weather-lookup/internal/circuitbreaker"
	"github.com/kjstillabower/weather-lookup/internal/client"
	"github.com/kjstillabower/weather-lookup/internal/config"
	"github.com/kjstillabower/weather-lookup/internal/connectivity"
	"github.com/kjstillabower/weather-lookup/internal/history"
	httphandler "github.com/kjstillabower/weather-lookup/internal/http"
	"github.com/kjstillabower/weather-lookup/internal/observability"
	"github.com/kjstillabower/weather-lookup/internal/scheduler"
	"github.com/kjstillabower/weather-lookup/internal/service"
	"github.com/kjstillabower/weather-lookup/internal/session"
	"github.com/kjstillabower/weather-lookup/internal/storage"
)

const breakerComponent = "weather_api"

// Options adjusts wiring per host.
type Options struct {
	// ForceOffline starts offline and disables the connectivity prober.
	ForceOffline bool
}

// App holds the wired components.
type App struct {
	Config  *config.Config
	Logger  *zap.Logger
	Store   storage.Store
	Client  *client.WeatherAPIClient
	History *history.History
	Monitor *connectivity.Monitor
	Prober  *connectivity.Prober
	Service *service.WeatherService
	Warmer  *cache.CacheWarmer
}

// New builds an App. The caller owns Close.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts Options) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(cfg.TrackedLocations) > 0 {
		observability.SetTrackedLocations(cfg.TrackedLocations)
	}

	weatherClient, err := client.NewWeatherAPIClientWithRetry(
		cfg.WeatherAPIKey,
		cfg.WeatherAPIURL,
		cfg.WeatherAPITimeout,
		cfg.RetryAttempts,
		cfg.RetryBaseDelay,
		cfg.RetryMaxDelay,
	)
	if err != nil {
		return nil, fmt.Errorf("weather client: %w", err)
	}
	weatherClient.SetCircuitBreaker(newBreaker(cfg, logger))

	store, err := storage.Open(ctx, storage.Options{
		Backend:               cfg.StorageBackend,
		SQLitePath:            cfg.SQLitePath,
		MySQLDSN:              cfg.MySQLDSN,
		MemcachedAddrs:        cfg.MemcachedAddrs,
		MemcachedTimeout:      cfg.MemcachedTimeout,
		MemcachedMaxIdleConns: cfg.MemcachedMaxIdleConns,
	})
	if err != nil {
		_ = weatherClient.Close()
		return nil, fmt.Errorf("storage: %w", err)
	}

	hist := history.New(store, cfg.HistoryMaxEntries, logger)
	if err := hist.Load(ctx); err != nil {
		logger.Warn("load search history failed, starting empty", zap.Error(err))
	}

	forecastCache := cache.New(store, cache.WithValidity(cfg.CacheValidity), cache.WithLogger(logger))
	logger.Info("storage backend ready",
		zap.String("backend", cfg.StorageBackend),
		zap.Duration("cache_validity", forecastCache.Validity()))
	monitor := connectivity.NewMonitor(!(cfg.StartOffline || opts.ForceOffline))

	svc := service.NewWeatherService(weatherClient, forecastCache, hist, monitor, service.Options{
		ForecastDays:   cfg.ForecastDays,
		MinQueryLength: cfg.SearchMinQueryLength,
		DefaultCity:    cfg.DefaultCity,
	}, logger)

	a := &App{
		Config:  cfg,
		Logger:  logger,
		Store:   store,
		Client:  weatherClient,
		History: hist,
		Monitor: monitor,
		Service: svc,
		Warmer:  cache.NewCacheWarmer(svc, logger),
	}
	if !opts.ForceOffline && cfg.ProbeURL != "" {
		a.Prober = connectivity.NewProber(monitor, cfg.ProbeURL, cfg.ProbeInterval, cfg.ProbeTimeout, logger)
	}
	return a, nil
}

func newBreaker(cfg *config.Config, logger *zap.Logger) *circuitbreaker.CircuitBreaker {
	observability.CircuitBreakerState.WithLabelValues(breakerComponent).Set(observability.CircuitBreakerStateValue(int(circuitbreaker.StateClosed)))
	return circuitbreaker.New(circuitbreaker.Config{
		FailureThreshold: cfg.BreakerFailureThreshold,
		SuccessThreshold: cfg.BreakerSuccessThreshold,
		Timeout:          cfg.BreakerTimeout,
		Component:        breakerComponent,
		IsFailure:        client.IsBreakerFailure,
		OnStateChange: func(from, to circuitbreaker.State) {
			observability.RecordCircuitBreakerTransition(breakerComponent, from.String(), to.String(), int(to))
			logger.Warn("circuit breaker state change", zap.String("from", from.String()), zap.String("to", to.String()))
		},
	})
}

// DetectConnectivity runs one probe so one-shot commands start with the real
// state. It is a no-op when offline is forced.
func (a *App) DetectConnectivity(ctx context.Context) bool {
	if a.Prober == nil {
		return a.Monitor.Online()
	}
	return a.Prober.Probe(ctx)
}

// WarmCities is the warming set: configured cities plus current history.
func (a *App) WarmCities() []string {
	cities := append([]string(nil), a.Config.CacheWarmCities...)
	for _, loc := range a.History.Entries() {
		cities = append(cities, loc.Name)
	}
	return scheduler.Dedupe(cities)
}

// Serve runs the HTTP host, the connectivity prober and the warming schedule
// until ctx is cancelled, then shuts down gracefully.
func (a *App) Serve(ctx context.Context) error {
	cfg := a.Config
	logger := a.Logger

	if a.Prober != nil {
		go a.Prober.Run(ctx)
	}
	if a.Monitor.Online() {
		if err := a.Client.ValidateAPIKey(ctx); err != nil {
			logger.Warn("weather API key check failed", zap.Error(err))
		}
	}

	if cfg.CacheWarmInterval > 0 {
		sched := scheduler.New(a.Warmer, a.WarmCities, cfg.CacheWarmInterval, logger)
		if err := sched.Start(); err != nil {
			return fmt.Errorf("cache warming schedule: %w", err)
		}
		defer sched.Stop()
	}

	sess := session.New(ctx, a.Service, a.Monitor, cfg.SearchDebounce, logger)
	defer sess.Close()
	if _, err := sess.Start(ctx); err != nil {
		logger.Warn("initial forecast load failed", zap.String("kind", string(service.KindOf(err))), zap.Error(err))
	}

	handler := httphandler.NewHandler(a.Service, sess, a.Monitor, &httphandler.HealthConfig{
		DegradedWindow:   cfg.DegradedWindow,
		DegradedErrorPct: cfg.DegradedErrorPct,
		ProviderPing:     a.Client.Ping,
		StorePing:        a.Store.Ping,
	}, logger)

	var limiter *rate.Limiter
	if cfg.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)
	}
	router := httphandler.NewRouter(handler, logger, httphandler.RouterConfig{
		RequestTimeout: cfg.RequestTimeout,
		Limiter:        limiter,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("graceful shutdown triggered")
	handler.SetShuttingDown(true)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	httphandler.DrainInFlight(shutdownCtx, logger)
	logger.Info("shutdown complete")
	return nil
}

// Close releases the store and the client's idle connections, then flushes logs.
func (a *App) Close() error {
	var errs []error
	if err := a.Store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close store: %w", err))
	}
	if err := a.Client.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close client: %w", err))
	}
	flushCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := observability.FlushTelemetry(flushCtx, a.Logger); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
