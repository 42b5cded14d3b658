package daily

import (
	"errors"
	"fmt"
)

// ErrNotConfigured indicates the client has no API key.
var ErrNotConfigured = errors.New("daily: API key not configured")

// APIError is a non-2xx response from the Daily REST API.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("daily: API error (%d): %s", e.Status, e.Body)
}

// Retryable reports whether the status is worth retrying.
func (e *APIError) Retryable() bool {
	return e.Status == 429 || e.Status >= 500
}

// retryableError marks transport failures that may succeed on retry.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }

func isRetryable(err error) bool {
	var re *retryableError
	if errors.As(err, &re) {
		return true
	}
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Retryable()
}
