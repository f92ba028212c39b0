package http

import (
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/weather-lookup/internal/observability"
)

// RouterConfig configures the middleware applied to the API routes.
type RouterConfig struct {
	RequestTimeout time.Duration
	// Limiter is nil when rate limiting is disabled.
	Limiter *rate.Limiter
}

// NewRouter wires the handler's routes. /health and /metrics skip the rate
// limiter and request timeout.
func NewRouter(h *Handler, logger *zap.Logger, cfg RouterConfig) *mux.Router {
	router := mux.NewRouter()
	router.Use(CorrelationIDMiddleware(logger))
	router.Use(MetricsMiddleware)
	router.HandleFunc("/health", h.GetHealth).Methods("GET")
	router.Handle("/metrics", observability.MetricsHandler()).Methods("GET")

	api := router.NewRoute().Subrouter()
	api.Use(RateLimitMiddleware(cfg.Limiter))
	if cfg.RequestTimeout > 0 {
		api.Use(TimeoutMiddleware(cfg.RequestTimeout))
	}
	api.HandleFunc("/forecast/{city}", h.GetForecast).Methods("GET")
	api.HandleFunc("/select", h.PostSelect).Methods("POST")
	api.HandleFunc("/locations", h.GetLocations).Methods("GET")
	api.HandleFunc("/search", h.PutSearch).Methods("PUT")
	api.HandleFunc("/history", h.GetHistory).Methods("GET")
	api.HandleFunc("/history", h.DeleteHistory).Methods("DELETE")
	api.HandleFunc("/refresh", h.PostRefresh).Methods("POST")
	api.HandleFunc("/state", h.GetState).Methods("GET")
	api.HandleFunc("/connectivity", h.PutConnectivity).Methods("PUT")
	return router
}
