package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/kjstillabower/weather-lookup/internal/client"
	"github.com/kjstillabower/weather-lookup/internal/connectivity"
	"github.com/kjstillabower/weather-lookup/internal/models"
	"github.com/kjstillabower/weather-lookup/internal/observability"
	"github.com/kjstillabower/weather-lookup/internal/service"
	"github.com/kjstillabower/weather-lookup/internal/session"
	"github.com/kjstillabower/weather-lookup/internal/traffic"
)

// HealthConfig holds thresholds and dependency checks for the health handler.
type HealthConfig struct {
	DegradedWindow   time.Duration
	DegradedErrorPct int
	// ProviderPing, when set, is called while online to check the API key.
	ProviderPing func(ctx context.Context) error
	// StorePing, when set, checks that the cache and history store is reachable.
	StorePing func(ctx context.Context) error
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	weatherService *service.WeatherService
	session        *session.Session
	monitor        *connectivity.Monitor
	healthConfig   *HealthConfig
	logger         *zap.Logger

	shuttingDown     atomic.Bool
	healthStatusMu   sync.Mutex
	healthStatusPrev string
}

// NewHandler returns a new Handler.
func NewHandler(
	weatherService *service.WeatherService,
	sess *session.Session,
	monitor *connectivity.Monitor,
	healthConfig *HealthConfig,
	logger *zap.Logger,
) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		weatherService: weatherService,
		session:        sess,
		monitor:        monitor,
		healthConfig:   healthConfig,
		logger:         logger,
	}
}

// SetShuttingDown flips the health endpoint to 503 shutting-down while the
// server drains.
func (h *Handler) SetShuttingDown(v bool) {
	h.shuttingDown.Store(v)
}

// GetForecast handles GET /forecast/{city}. It is a read-only lookup through
// the same online/offline policy; history is not changed.
func (h *Handler) GetForecast(w http.ResponseWriter, r *http.Request) {
	city := strings.TrimSpace(mux.Vars(r)["city"])
	if city == "" {
		writeError(w, r, http.StatusBadRequest, "INVALID_INPUT", "city is required")
		return
	}

	result, err := h.weatherService.GetForecast(r.Context(), city, service.OriginLookup)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// PostSelect handles POST /select with a location body. It is a selection: on
// success the city moves to the front of the search history and the session
// state shows the forecast.
func (h *Handler) PostSelect(w http.ResponseWriter, r *http.Request) {
	var loc models.Location
	if err := json.NewDecoder(r.Body).Decode(&loc); err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_INPUT", `body must be a location {"name": "...", "country": "..."}`)
		return
	}
	loc.Name = strings.TrimSpace(loc.Name)
	loc.Region = strings.TrimSpace(loc.Region)
	loc.Country = strings.TrimSpace(loc.Country)
	if loc.Name == "" {
		writeError(w, r, http.StatusBadRequest, "INVALID_INPUT", "name is required")
		return
	}

	result, err := h.session.Select(r.Context(), loc)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// GetLocations handles GET /locations?q=. The search runs immediately; use
// PUT /search for debounced typing.
func (h *Handler) GetLocations(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	locations, err := h.weatherService.SearchLocations(r.Context(), query)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"query":     query,
		"locations": locations,
	})
}

// PutSearch handles PUT /search. The query is fed to the session debouncer and
// suggestions show up in GET /state once typing settles.
func (h *Handler) PutSearch(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Query *string `json:"query"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Query == nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_INPUT", `body must be {"query": "..."}`)
		return
	}
	h.session.Search(*body.Query)
	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"query":  *body.Query,
		"status": "pending",
	})
}

// GetHistory handles GET /history.
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"history": h.weatherService.History(),
	})
}

// DeleteHistory handles DELETE /history.
func (h *Handler) DeleteHistory(w http.ResponseWriter, r *http.Request) {
	if err := h.session.ClearHistory(r.Context()); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// PostRefresh handles POST /refresh: reload the most recent city, or the
// default city when history is empty. History is not changed.
func (h *Handler) PostRefresh(w http.ResponseWriter, r *http.Request) {
	result, err := h.session.Refresh(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// GetState handles GET /state. Pending notices are included once and then cleared.
func (h *Handler) GetState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.session.TakeState())
}

// PutConnectivity handles PUT /connectivity {"online": bool}, letting the host
// override the prober.
func (h *Handler) PutConnectivity(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Online *bool `json:"online"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Online == nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_INPUT", `body must be {"online": true|false}`)
		return
	}
	changed := h.monitor.Set(*body.Online)
	if changed {
		observability.LoggerFromContext(r.Context(), h.logger).Info("connectivity overridden", zap.Bool("online", *body.Online))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"online":  *body.Online,
		"changed": changed,
	})
}

// healthResult holds the computed health status and metadata for logging.
type healthResult struct {
	status     string
	statusCode int
	reason     string
	checks     map[string]string
}

// GetHealth handles GET /health.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	result := h.computeHealthStatus(r.Context())

	h.healthStatusMu.Lock()
	prev := h.healthStatusPrev
	if prev != "" && prev != result.status {
		h.logger.Info("health status transition",
			zap.String("previous_status", prev),
			zap.String("current_status", result.status),
			zap.String("reason", result.reason))
	}
	h.healthStatusPrev = result.status
	h.healthStatusMu.Unlock()

	resp := map[string]interface{}{
		"status":    result.status,
		"service":   "weather-lookup",
		"version":   "dev",
		"online":    h.monitor.Online(),
		"checks":    result.checks,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if result.reason != "" {
		resp["reason"] = result.reason
	}
	if window := h.trafficWindow(); window > 0 {
		errCount, total := traffic.ErrorRate(window)
		resp["traffic"] = map[string]interface{}{
			"window":        window.String(),
			"requests":      traffic.RequestCount(window),
			"errors":        errCount,
			"providerCalls": total,
			"offlineServes": traffic.OfflineServeCount(window),
			"denied":        traffic.DenialCount(window),
			"inFlight":      InFlightCount(),
		}
	}
	writeJSON(w, result.statusCode, resp)
}

func (h *Handler) trafficWindow() time.Duration {
	if h.healthConfig == nil {
		return 0
	}
	return h.healthConfig.DegradedWindow
}

// computeHealthStatus evaluates conditions in priority order:
// shutting-down > api key invalid > store unreachable > degraded > offline > healthy.
func (h *Handler) computeHealthStatus(ctx context.Context) healthResult {
	online := h.monitor.Online()
	checks := map[string]string{"connectivity": "online"}
	if !online {
		checks["connectivity"] = "offline"
	}

	if h.shuttingDown.Load() {
		return healthResult{"shutting-down", http.StatusServiceUnavailable, "signal", checks}
	}

	cfg := h.healthConfig
	if cfg == nil {
		cfg = &HealthConfig{}
	}

	if cfg.ProviderPing != nil && online {
		err := cfg.ProviderPing(ctx)
		switch {
		case err == nil:
			checks["weatherApi"] = "healthy"
		case errors.Is(err, client.ErrInvalidAPIKey):
			checks["weatherApi"] = "unhealthy"
			return healthResult{"degraded", http.StatusServiceUnavailable, "api_key_invalid", checks}
		default:
			checks["weatherApi"] = "unhealthy"
		}
	}

	if cfg.StorePing != nil {
		if err := cfg.StorePing(ctx); err != nil {
			checks["store"] = "unhealthy"
			return healthResult{"degraded", http.StatusServiceUnavailable, "store_unreachable", checks}
		}
		checks["store"] = "healthy"
	}

	if cfg.DegradedWindow > 0 && cfg.DegradedErrorPct > 0 {
		errCount, total := traffic.ErrorRate(cfg.DegradedWindow)
		if total > 0 {
			pct := float64(errCount) * 100 / float64(total)
			if pct >= float64(cfg.DegradedErrorPct) {
				return healthResult{"degraded", http.StatusServiceUnavailable, "error_rate_breach", checks}
			}
		}
	}

	if !online {
		return healthResult{"offline", http.StatusOK, "serving_cache_only", checks}
	}
	return healthResult{"healthy", http.StatusOK, "", checks}
}

// writeJSON writes a JSON response with the specified HTTP status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes an error response in the standard error format with code, message,
// and requestId (correlation ID) if available in request context.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{
			"code":      code,
			"message":   message,
			"requestId": observability.CorrelationID(r.Context()),
		},
	})
}

// writeServiceError maps a service error kind to an HTTP status and the
// user-facing message.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusForError(err)
	writeError(w, r, status, code, service.Message(err))

	logger := observability.LoggerFromContext(r.Context(), nil)
	if status >= 500 && status != http.StatusServiceUnavailable {
		logger.Warn("request failed", zap.Int("status", status), zap.Error(err))
	} else {
		logger.Debug("request failed", zap.Int("status", status), zap.Error(err))
	}
}

func statusForError(err error) (int, string) {
	switch service.KindOf(err) {
	case service.KindInvalidInput:
		return http.StatusBadRequest, "INVALID_INPUT"
	case service.KindOfflineNoCache:
		return http.StatusServiceUnavailable, "OFFLINE_NO_CACHE"
	case service.KindOfflineSearch:
		return http.StatusServiceUnavailable, "OFFLINE_SEARCH"
	case service.KindNetwork:
		return http.StatusServiceUnavailable, "UPSTREAM_UNAVAILABLE"
	case service.KindIncompleteData:
		return http.StatusBadGateway, "INCOMPLETE_DATA"
	case service.KindPersistence:
		return http.StatusInternalServerError, "PERSISTENCE_FAILED"
	case service.KindProvider:
		var pe *service.ProviderError
		if errors.As(err, &pe) {
			switch pe.Reason {
			case service.ReasonNotFound:
				return http.StatusNotFound, "LOCATION_NOT_FOUND"
			case service.ReasonRateLimited:
				return http.StatusTooManyRequests, "PROVIDER_RATE_LIMITED"
			}
		}
		return http.StatusBadGateway, "PROVIDER_ERROR"
	default:
		return http.StatusInternalServerError, "INTERNAL"
	}
}
