package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/kjstillabower/weather-lookup/internal/client"
)

var (
	// ErrNetwork means the provider could not be reached. Potentially transient.
	ErrNetwork = errors.New("network error")
	// ErrProvider is matched by every *ProviderError.
	ErrProvider = errors.New("provider error")
	// ErrIncompleteData means the provider answered without a required section.
	ErrIncompleteData = errors.New("incomplete forecast data")
	// ErrOfflineNoCache means connectivity is down and no fresh cached forecast exists.
	ErrOfflineNoCache = errors.New("offline and no cached forecast")
	// ErrOfflineSearch means a search was attempted while offline.
	ErrOfflineSearch = errors.New("search unavailable offline")
	// ErrPersistence means a history write or clear failed.
	ErrPersistence = errors.New("persistence error")
	// ErrInvalidInput means the city or query was rejected before any I/O.
	ErrInvalidInput = errors.New("invalid input")
)

// Reason refines a ProviderError for presentation (HTTP status, CLI exit code).
type Reason string

const (
	ReasonNotFound    Reason = "not_found"
	ReasonRateLimited Reason = "rate_limited"
	ReasonAuth        Reason = "auth"
	ReasonUpstream    Reason = "upstream"
	ReasonOther       Reason = "other"
)

// ProviderError is a structured error reported by the weather provider.
type ProviderError struct {
	Status  int
	Code    int
	Message string
	Reason  Reason
}

func (e *ProviderError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("provider error %d: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("provider error: %s", e.Message)
}

func (e *ProviderError) Is(target error) bool {
	return target == ErrProvider
}

// Kind is the stable error classification exposed to presentation hosts.
type Kind string

const (
	KindNone           Kind = ""
	KindNetwork        Kind = "network"
	KindProvider       Kind = "provider"
	KindIncompleteData Kind = "incomplete_data"
	KindOfflineNoCache Kind = "offline_no_cache"
	KindOfflineSearch  Kind = "offline_search"
	KindPersistence    Kind = "persistence"
	KindInvalidInput   Kind = "invalid_input"
	KindUnknown        Kind = "unknown"
)

// KindOf classifies err. Nil yields KindNone.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrInvalidInput):
		return KindInvalidInput
	case errors.Is(err, ErrOfflineNoCache):
		return KindOfflineNoCache
	case errors.Is(err, ErrOfflineSearch):
		return KindOfflineSearch
	case errors.Is(err, ErrIncompleteData):
		return KindIncompleteData
	case errors.Is(err, ErrProvider):
		return KindProvider
	case errors.Is(err, ErrNetwork):
		return KindNetwork
	case errors.Is(err, ErrPersistence):
		return KindPersistence
	default:
		return KindUnknown
	}
}

// Message returns the user-facing text for err.
func Message(err error) string {
	var pe *ProviderError
	switch KindOf(err) {
	case KindNone:
		return ""
	case KindNetwork:
		return "Failed to fetch weather data. Please check your connection or try again."
	case KindProvider:
		if errors.As(err, &pe) && pe.Message != "" {
			return pe.Message
		}
		return "The weather service rejected the request."
	case KindIncompleteData:
		return "Failed to fetch weather data for this location. Please try another city."
	case KindOfflineNoCache:
		return "You are offline and no cached data available for this city."
	case KindOfflineSearch:
		return "You are offline. Cannot perform live searches."
	case KindPersistence:
		return "Failed to clear search history."
	case KindInvalidInput:
		return err.Error()
	default:
		return "Something went wrong. Please try again."
	}
}

// normalizeClientError converts client failures into the service taxonomy so
// no client error type reaches presentation code.
func normalizeClientError(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *client.APIError
	switch {
	case errors.As(err, &apiErr):
		return &ProviderError{
			Status:  apiErr.Status,
			Code:    apiErr.Code,
			Message: apiErr.Message,
			Reason:  providerReason(apiErr),
		}
	case errors.Is(err, client.ErrMalformedResponse):
		return fmt.Errorf("%w: %v", ErrIncompleteData, err)
	case errors.Is(err, client.ErrTransport),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return fmt.Errorf("%w: %v", ErrNetwork, err)
	default:
		return fmt.Errorf("%w: %v", ErrNetwork, err)
	}
}

func providerReason(apiErr *client.APIError) Reason {
	switch {
	case errors.Is(apiErr, client.ErrLocationNotFound):
		return ReasonNotFound
	case errors.Is(apiErr, client.ErrRateLimited):
		return ReasonRateLimited
	case errors.Is(apiErr, client.ErrInvalidAPIKey):
		return ReasonAuth
	case errors.Is(apiErr, client.ErrUpstreamFailure):
		return ReasonUpstream
	default:
		return ReasonOther
	}
}
