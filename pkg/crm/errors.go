package crm

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when the CRM has no record for the requested id
var ErrNotFound = errors.New("organization not found")

// UpstreamError represents a non-2xx response or a malformed payload from the CRM
type UpstreamError struct {
	Op         string
	StatusCode int
	Message    string
	Err        error
}

func (e *UpstreamError) Error() string {
	msg := fmt.Sprintf("crm %s failed", e.Op)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" with status code %d", e.StatusCode)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// IsNotFound checks if an error reports a missing organization
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsUpstream checks if an error is an upstream error
func IsUpstream(err error) bool {
	var upstreamErr *UpstreamError
	return errors.As(err, &upstreamErr)
}

// retryable reports whether a failed round trip may be attempted again.
// Transport errors (status 0), throttling and server errors are retryable.
func (e *UpstreamError) retryable() bool {
	return e.StatusCode == 0 || e.StatusCode == 429 || e.StatusCode >= 500
}
