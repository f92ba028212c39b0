package client

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrTransport means no usable response reached us: DNS, connect, timeout,
	// or the circuit breaker short-circuited the call.
	ErrTransport = errors.New("transport failure")

	// ErrMalformedResponse means the provider answered 2xx with a body that
	// could not be decoded.
	ErrMalformedResponse = errors.New("malformed provider response")

	ErrInvalidAPIKey    = errors.New("invalid API key")
	ErrLocationNotFound = errors.New("location not found")
	ErrUpstreamFailure  = errors.New("upstream failure")
	ErrRateLimited      = errors.New("rate limited")
)

// Provider error codes documented by WeatherAPI.com.
const (
	codeKeyNotProvided  = 1002
	codeNoLocationFound = 1006
	codeInvalidKey      = 2006
	codeQuotaExceeded   = 2007
	codeKeyDisabled     = 2008
	codeNoAccess        = 2009
	codeInternalError   = 9999
)

// APIError is a structured error reported by the provider, either with an
// HTTP error status or inside a 2xx body.
type APIError struct {
	Status  int
	Code    int
	Message string
}

func (e *APIError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("provider error %d (HTTP %d): %s", e.Code, e.Status, e.Message)
	}
	return fmt.Sprintf("provider error (HTTP %d): %s", e.Status, e.Message)
}

// Is lets callers match an APIError against the package sentinels.
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrInvalidAPIKey:
		return e.Status == http.StatusUnauthorized ||
			e.Code == codeKeyNotProvided || e.Code == codeInvalidKey ||
			e.Code == codeKeyDisabled || e.Code == codeNoAccess
	case ErrLocationNotFound:
		return e.Status == http.StatusNotFound || e.Code == codeNoLocationFound
	case ErrRateLimited:
		return e.Status == http.StatusTooManyRequests || e.Code == codeQuotaExceeded
	case ErrUpstreamFailure:
		return e.Status >= 500 || e.Code == codeInternalError
	}
	return false
}

// Temporary reports whether retrying the same request may succeed.
// Monthly quota exhaustion (2007) is not temporary even though it is a rate limit.
func (e *APIError) Temporary() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= 500
}

// IsBreakerFailure reports whether err should count against the provider
// circuit breaker. Client-side problems (bad city, bad key) do not.
func IsBreakerFailure(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTransport) {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status >= 500
	}
	return false
}
