package provider

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// APIError is an error response from the streaming provider.
type APIError struct {
	StatusCode int
	Reason     string
	Message    string
}

func (e *APIError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("provider API error %d (%s): %s", e.StatusCode, e.Reason, e.Message)
	}
	return fmt.Sprintf("provider API error %d: %s", e.StatusCode, e.Message)
}

// IsAlreadyLive reports whether the error means the broadcast is already in
// the requested lifecycle state. Callers treat this as success.
func IsAlreadyLive(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Reason == "redundantTransition" ||
		strings.Contains(apiErr.Message, "already in the requested state")
}

// IsProcessing reports whether the provider has not yet finished preparing
// the broadcast for the requested transition. Retryable after a delay.
func IsProcessing(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Reason == "errorStreamInactive" || apiErr.Reason == "invalidTransition"
}

// IsCredentialExpired reports whether the access token was rejected.
func IsCredentialExpired(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.StatusCode == http.StatusUnauthorized
}

// IsTransient reports whether the error is worth retrying later: rate
// limiting, server-side failures, or network-level errors. Anything else
// (bad request, forbidden, not found) is permanent.
func IsTransient(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		// Network-level errors carry no status code.
		return true
	}
	switch {
	case apiErr.StatusCode == http.StatusTooManyRequests:
		return true
	case apiErr.StatusCode >= 500:
		return true
	default:
		return false
	}
}
