package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"time"

	"resty.dev/v3"

	"github.com/kjstillabower/weather-lookup/internal/circuitbreaker"
	"github.com/kjstillabower/weather-lookup/internal/models"
	"github.com/kjstillabower/weather-lookup/internal/observability"
)

// WeatherClient is the remote forecast provider as seen by the service layer.
type WeatherClient interface {
	Forecast(ctx context.Context, city string, days int) (models.ForecastResult, error)
	Search(ctx context.Context, query string) ([]models.Location, error)
}

const (
	endpointForecast = "forecast"
	endpointSearch   = "search"
)

// WeatherAPIClient talks to the WeatherAPI.com v1 REST API.
type WeatherAPIClient struct {
	apiKey         string
	timeout        time.Duration
	http           *resty.Client
	breaker        *circuitbreaker.CircuitBreaker
	retryAttempts  int
	retryBaseDelay time.Duration
	retryMaxDelay  time.Duration
}

func NewWeatherAPIClient(apiKey, baseURL string, timeout time.Duration) (*WeatherAPIClient, error) {
	return NewWeatherAPIClientWithRetry(apiKey, baseURL, timeout, 3, 100*time.Millisecond, 2*time.Second)
}

func NewWeatherAPIClientWithRetry(apiKey, baseURL string, timeout time.Duration, retryAttempts int, retryBaseDelay, retryMaxDelay time.Duration) (*WeatherAPIClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: API key is required", ErrInvalidAPIKey)
	}
	if len(apiKey) < 10 {
		return nil, fmt.Errorf("%w: API key appears invalid (too short)", ErrInvalidAPIKey)
	}
	if retryAttempts <= 0 {
		retryAttempts = 1
	}

	return &WeatherAPIClient{
		apiKey:         apiKey,
		timeout:        timeout,
		retryAttempts:  retryAttempts,
		retryBaseDelay: retryBaseDelay,
		retryMaxDelay:  retryMaxDelay,
		http: resty.New().
			SetBaseURL(strings.TrimRight(baseURL, "/")).
			SetHeader("Accept", "application/json"),
	}, nil
}

// SetCircuitBreaker installs a breaker around every provider call. Only
// transport failures and upstream 5xx responses count against it.
func (c *WeatherAPIClient) SetCircuitBreaker(cb *circuitbreaker.CircuitBreaker) {
	c.breaker = cb
}

// Close releases idle connections held by the transport.
func (c *WeatherAPIClient) Close() error {
	return c.http.Close()
}

// Forecast fetches current conditions plus a days-long forecast for city.
// The payload is returned as decoded; checking that the required sections are
// present is the caller's job.
func (c *WeatherAPIClient) Forecast(ctx context.Context, city string, days int) (models.ForecastResult, error) {
	params := map[string]string{
		"q":      city,
		"days":   strconv.Itoa(days),
		"aqi":    "yes",
		"alerts": "yes",
	}
	body, err := c.get(ctx, endpointForecast, "/forecast.json", params)
	if err != nil {
		return models.ForecastResult{}, err
	}

	var result models.ForecastResult
	if err := json.Unmarshal(body, &result); err != nil {
		return models.ForecastResult{}, fmt.Errorf("%w: parse forecast response: %v", ErrMalformedResponse, err)
	}
	return result, nil
}

// Search returns provider location candidates for a partial city name.
func (c *WeatherAPIClient) Search(ctx context.Context, query string) ([]models.Location, error) {
	body, err := c.get(ctx, endpointSearch, "/search.json", map[string]string{"q": query})
	if err != nil {
		return nil, err
	}

	var locations []models.Location
	if err := json.Unmarshal(body, &locations); err != nil {
		return nil, fmt.Errorf("%w: parse search response: %v", ErrMalformedResponse, err)
	}
	return locations, nil
}

// Ping makes a single search call, bypassing retries and the breaker, and
// reports whether the provider answered successfully.
func (c *WeatherAPIClient) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := c.callAPI(ctx, endpointSearch, "/search.json", map[string]string{"q": "London"})
	return err
}

// ValidateAPIKey reports whether the provider accepts the configured key.
func (c *WeatherAPIClient) ValidateAPIKey(ctx context.Context) error {
	err := c.Ping(ctx)
	if err != nil && errors.Is(err, ErrInvalidAPIKey) {
		return fmt.Errorf("%w: API key is invalid or not activated", ErrInvalidAPIKey)
	}
	if err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	return nil
}

func (c *WeatherAPIClient) get(ctx context.Context, endpoint, path string, params map[string]string) ([]byte, error) {
	var lastErr error

	for attempt := 0; attempt < c.retryAttempts; attempt++ {
		if attempt > 0 {
			observability.ProviderRetriesTotal.WithLabelValues(endpoint).Inc()
			delay := c.calculateBackoff(attempt)
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("%w: %w", ErrTransport, ctx.Err())
			case <-time.After(delay):
			}
		}

		body, err := c.callWithBreaker(ctx, endpoint, path, params)
		if err == nil {
			return body, nil
		}

		lastErr = err
		if ctx.Err() != nil || !isRetryable(err) {
			observability.ProviderErrorsTotal.WithLabelValues(string(CategorizeError(err))).Inc()
			return nil, err
		}
	}

	observability.ProviderErrorsTotal.WithLabelValues(string(CategorizeError(lastErr))).Inc()
	return nil, fmt.Errorf("exhausted retries: %w", lastErr)
}

func (c *WeatherAPIClient) callWithBreaker(ctx context.Context, endpoint, path string, params map[string]string) ([]byte, error) {
	if c.breaker == nil {
		return c.callAPI(ctx, endpoint, path, params)
	}
	var body []byte
	err := c.breaker.Call(ctx, func() error {
		var callErr error
		body, callErr = c.callAPI(ctx, endpoint, path, params)
		return callErr
	})
	if errors.Is(err, circuitbreaker.ErrOpen) {
		return nil, fmt.Errorf("%w: %w", ErrTransport, err)
	}
	if err != nil && !errors.Is(err, ErrTransport) && ctx.Err() != nil {
		return nil, fmt.Errorf("%w: %w", ErrTransport, err)
	}
	return body, err
}

func (c *WeatherAPIClient) callAPI(ctx context.Context, endpoint, path string, params map[string]string) ([]byte, error) {
	start := time.Now()

	reqCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	query := make(map[string]string, len(params)+1)
	for k, v := range params {
		query[k] = v
	}
	query["key"] = c.apiKey

	req := c.http.R().
		SetContext(reqCtx).
		SetQueryParams(query)
	if corrID := extractCorrelationID(ctx); corrID != "" {
		req.SetHeader("X-Correlation-ID", corrID)
	}

	resp, err := req.Get(path)
	if err != nil {
		duration := time.Since(start).Seconds()
		observability.ProviderCallsTotal.WithLabelValues(endpoint, "error").Inc()
		observability.ProviderDuration.WithLabelValues(endpoint, "error").Observe(duration)

		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, fmt.Errorf("%w: request timeout: %w", ErrTransport, err)
		}
		return nil, fmt.Errorf("%w: http request failed: %w", ErrTransport, err)
	}

	duration := time.Since(start).Seconds()
	status := statusLabel(resp.StatusCode())
	observability.ProviderCallsTotal.WithLabelValues(endpoint, status).Inc()
	observability.ProviderDuration.WithLabelValues(endpoint, status).Observe(duration)

	body := resp.Bytes()
	if err := handleErrorResponse(resp.StatusCode(), body); err != nil {
		return nil, err
	}
	return body, nil
}

// errorEnvelope is the provider's error body: {"error":{"code":1006,"message":"..."}}.
type errorEnvelope struct {
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// handleErrorResponse converts an HTTP error status, or a 2xx body that
// carries an error object, into an *APIError.
func handleErrorResponse(statusCode int, body []byte) error {
	var env errorEnvelope
	trimmed := strings.TrimSpace(string(body))
	if strings.HasPrefix(trimmed, "{") {
		_ = json.Unmarshal(body, &env)
	}

	if statusCode < 200 || statusCode >= 300 {
		apiErr := &APIError{Status: statusCode, Message: http.StatusText(statusCode)}
		if env.Error != nil {
			apiErr.Code = env.Error.Code
			if env.Error.Message != "" {
				apiErr.Message = env.Error.Message
			}
		}
		return apiErr
	}

	if env.Error != nil {
		return &APIError{Status: statusCode, Code: env.Error.Code, Message: env.Error.Message}
	}
	return nil
}

func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, circuitbreaker.ErrOpen) {
		return false
	}
	if errors.Is(err, ErrTransport) {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Temporary()
	}
	return false
}

func (c *WeatherAPIClient) calculateBackoff(attempt int) time.Duration {
	delay := float64(c.retryBaseDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(c.retryMaxDelay) {
		delay = float64(c.retryMaxDelay)
	}

	jitter := delay * 0.1 * rand.Float64()
	return time.Duration(delay + jitter)
}

func extractCorrelationID(ctx context.Context) string {
	if corrIDVal := ctx.Value(observability.CorrelationIDKey); corrIDVal != nil {
		if corrID, ok := corrIDVal.(string); ok {
			return corrID
		}
	}
	return ""
}

func statusLabel(statusCode int) string {
	if statusCode >= 200 && statusCode < 300 {
		return "success"
	}
	if statusCode == http.StatusTooManyRequests {
		return "rate_limited"
	}
	if statusCode >= 400 && statusCode < 500 {
		return "client_error"
	}
	if statusCode >= 500 {
		return "server_error"
	}
	return "error"
}
