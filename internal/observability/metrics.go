package observability

import (
	"net/http"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registry *prometheus.Registry

	// HTTP request rate. Watch for: sudden drops (service down) or spikes (traffic surge).
	HTTPRequestsTotal *prometheus.CounterVec

	// HTTP request latency per request. Watch for: p95/p99 latency increases.
	HTTPRequestDuration *prometheus.HistogramVec

	// Concurrent requests in flight.
	HTTPRequestsInFlight prometheus.Gauge

	// Provider call rate by endpoint (forecast, search) and status label.
	ProviderCallsTotal *prometheus.CounterVec

	// Provider latency per call. Watch for: p95 > 2s (upstream degradation).
	ProviderDuration *prometheus.HistogramVec

	// Retry attempts against the provider. High retries = unstable upstream.
	ProviderRetriesTotal *prometheus.CounterVec

	// Provider failures by stable category (see client.CategorizeError).
	ProviderErrorsTotal *prometheus.CounterVec

	// Circuit breaker state per component: 0 closed, 1 open, 2 half-open.
	CircuitBreakerState *prometheus.GaugeVec

	// Circuit breaker transitions per component.
	CircuitBreakerTransitionsTotal *prometheus.CounterVec

	// Forecast cache lookups by result (hit, miss, stale, error).
	CacheLookupsTotal *prometheus.CounterVec

	// Forecast cache and history store errors by operation (get, set, delete).
	CacheErrorsTotal *prometheus.CounterVec

	// Store operation latency by operation and result.
	CacheOperationDurationSeconds *prometheus.HistogramVec

	// Forecasts served from cache because connectivity was down.
	OfflineServesTotal prometheus.Counter

	// Forecast requests by origin (selection, lookup, refresh, background) and outcome (error kind or "success").
	ForecastRequestsTotal *prometheus.CounterVec

	// Per-city forecast count (allow-list; others go to "other").
	ForecastQueriesByLocationTotal *prometheus.CounterVec

	// Search requests by outcome (network, short_query, offline, error).
	SearchRequestsTotal *prometheus.CounterVec

	// Search results discarded because a newer search had started.
	SearchSupersededTotal prometheus.Counter

	// Search history mutations by action (select, clear).
	HistoryMutationsTotal *prometheus.CounterVec

	// 1 when the connectivity monitor considers the provider reachable.
	ConnectivityOnline prometheus.Gauge

	// Connectivity transitions by target state (online, offline).
	ConnectivityTransitionsTotal *prometheus.CounterVec

	// Cache warming runs, failures and duration.
	CacheWarmingTotal           prometheus.Counter
	CacheWarmingErrorsTotal     prometheus.Counter
	CacheWarmingDurationSeconds prometheus.Histogram

	// Rate limit denials. Watch for: overload, capacity exceeded.
	RateLimitDeniedTotal prometheus.Counter

	// trackedLocations is built from config; used to resolve location for metrics.
	trackedLocationsMu sync.RWMutex
	trackedLocations   map[string]struct{}
)

func init() {
	registry = prometheus.NewRegistry()

	registry.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "httpRequestsTotal",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "statusCode"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "httpRequestDurationSeconds",
			Help:    "HTTP request latency in seconds (per request)",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
	HTTPRequestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "httpRequestsInFlight",
			Help: "Number of HTTP requests currently being served",
		},
	)
	ProviderCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "providerCallsTotal",
			Help: "Total number of weather provider calls",
		},
		[]string{"endpoint", "status"},
	)
	ProviderDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "providerDurationSeconds",
			Help:    "Weather provider latency in seconds (per call)",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"endpoint", "status"},
	)
	ProviderRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "providerRetriesTotal",
			Help: "Total number of retry attempts for weather provider calls",
		},
		[]string{"endpoint"},
	)
	ProviderErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "providerErrorsTotal",
			Help: "Weather provider failures by category",
		},
		[]string{"category"},
	)
	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuitBreakerState",
			Help: "Circuit breaker state (0 closed, 1 open, 2 half-open)",
		},
		[]string{"component"},
	)
	CircuitBreakerTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuitBreakerTransitionsTotal",
			Help: "Circuit breaker state transitions",
		},
		[]string{"component", "from", "to"},
	)
	CacheLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheLookupsTotal",
			Help: "Forecast cache lookups by result (hit, miss, stale, error)",
		},
		[]string{"result"},
	)
	CacheErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheErrorsTotal",
			Help: "Persistent store errors by operation",
		},
		[]string{"operation"},
	)
	CacheOperationDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cacheOperationDurationSeconds",
			Help:    "Persistent store operation latency in seconds",
			Buckets: []float64{.0005, .001, .005, .01, .05, .1, .5},
		},
		[]string{"operation", "result"},
	)
	OfflineServesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "offlineServesTotal",
			Help: "Forecasts served from cache while offline",
		},
	)
	ForecastRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forecastRequestsTotal",
			Help: "Forecast requests by origin and outcome",
		},
		[]string{"origin", "outcome"},
	)
	ForecastQueriesByLocationTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forecastQueriesByLocationTotal",
			Help: "Forecast queries by city (allow-list; others use location=other)",
		},
		[]string{"location"},
	)
	SearchRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "searchRequestsTotal",
			Help: "Location searches by outcome",
		},
		[]string{"outcome"},
	)
	SearchSupersededTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "searchSupersededTotal",
			Help: "Search results discarded because a newer search had started",
		},
	)
	HistoryMutationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "historyMutationsTotal",
			Help: "Search history mutations by action",
		},
		[]string{"action"},
	)
	ConnectivityOnline = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "connectivityOnline",
			Help: "1 when the provider is considered reachable, 0 when offline",
		},
	)
	ConnectivityTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "connectivityTransitionsTotal",
			Help: "Connectivity transitions by target state",
		},
		[]string{"to"},
	)
	CacheWarmingTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cacheWarmingTotal",
			Help: "Total number of cache warming runs",
		},
	)
	CacheWarmingErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cacheWarmingErrorsTotal",
			Help: "Cache warming runs with at least one failed city",
		},
	)
	CacheWarmingDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cacheWarmingDurationSeconds",
			Help:    "Cache warming run duration in seconds",
			Buckets: []float64{.5, 1, 2.5, 5, 10, 30},
		},
	)
	RateLimitDeniedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rateLimitDeniedTotal",
			Help: "Total number of requests denied by rate limiter (429)",
		},
	)

	registry.MustRegister(
		HTTPRequestsTotal, HTTPRequestDuration, HTTPRequestsInFlight,
		ProviderCallsTotal, ProviderDuration, ProviderRetriesTotal, ProviderErrorsTotal,
		CircuitBreakerState, CircuitBreakerTransitionsTotal,
		CacheLookupsTotal, CacheErrorsTotal, CacheOperationDurationSeconds,
		OfflineServesTotal, ForecastRequestsTotal, ForecastQueriesByLocationTotal,
		SearchRequestsTotal, SearchSupersededTotal, HistoryMutationsTotal,
		ConnectivityOnline, ConnectivityTransitionsTotal,
		CacheWarmingTotal, CacheWarmingErrorsTotal, CacheWarmingDurationSeconds,
		RateLimitDeniedTotal,
	)
}

// CircuitBreakerStateValue maps a breaker state ordinal to the gauge value.
func CircuitBreakerStateValue(state int) float64 {
	return float64(state)
}

// RecordCircuitBreakerTransition counts a breaker transition and updates the state gauge.
func RecordCircuitBreakerTransition(component, from, to string, toValue int) {
	CircuitBreakerTransitionsTotal.WithLabelValues(component, from, to).Inc()
	CircuitBreakerState.WithLabelValues(component).Set(CircuitBreakerStateValue(toValue))
}

// SetConnectivity updates the connectivity gauge and counts the transition.
func SetConnectivity(online bool) {
	if online {
		ConnectivityOnline.Set(1)
		ConnectivityTransitionsTotal.WithLabelValues("online").Inc()
		return
	}
	ConnectivityOnline.Set(0)
	ConnectivityTransitionsTotal.WithLabelValues("offline").Inc()
}

// SetTrackedLocations sets the allow-list for location metrics. Non-tracked locations increment "other".
func SetTrackedLocations(locations []string) {
	trackedLocationsMu.Lock()
	defer trackedLocationsMu.Unlock()
	trackedLocations = make(map[string]struct{}, len(locations))
	for _, loc := range locations {
		trackedLocations[normalizeLocationForMetrics(loc)] = struct{}{}
	}
}

// MetricLocationLabel returns the location label for metrics: the normalized
// city when it is on the allow-list, "other" otherwise.
func MetricLocationLabel(location string) string {
	loc := normalizeLocationForMetrics(location)
	trackedLocationsMu.RLock()
	_, ok := trackedLocations[loc] // nil map read is safe in Go
	trackedLocationsMu.RUnlock()
	if ok {
		return loc
	}
	return "other"
}

// RecordForecastQuery records a forecast lookup for the given city.
func RecordForecastQuery(location string) {
	ForecastQueriesByLocationTotal.WithLabelValues(MetricLocationLabel(location)).Inc()
}

func normalizeLocationForMetrics(s string) string {
	s = strings.TrimSpace(s)
	s = strings.ToLower(s)
	return s
}

// MetricsHandler returns an http.Handler that serves application and runtime metrics.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
