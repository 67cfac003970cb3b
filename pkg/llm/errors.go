package llm

import (
	"errors"
	"fmt"
	"net"
)

// APIError is a non-2xx response from the provider.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("llm api error (status %d): %s", e.StatusCode, e.Message)
}

// Retryable reports whether the status indicates a transient condition.
// Rate limits and server-side errors retry; auth and bad-request do not.
func (e *APIError) Retryable() bool {
	return e.StatusCode == 429 || e.StatusCode >= 500
}

// ErrEmptyResponse is returned when the provider sends no choices.
var ErrEmptyResponse = errors.New("llm returned no choices")

// isRetryable classifies an error for the backoff loop: network-level
// failures and retryable API statuses retry, everything else is permanent.
func isRetryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable()
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return false
}
