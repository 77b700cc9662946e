package analysis

import (
	"errors"
	"fmt"
	"net/http"
)

// APIError is a non-2xx answer from the analysis API.
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("analysis %s %s status %d: %s", e.Method, e.Path, e.StatusCode, e.Message)
}

// Transient is true for 408, 429 and 5xx. Any other status is a verdict.
func (e *APIError) Transient() bool {
	return e.StatusCode == http.StatusRequestTimeout ||
		e.StatusCode == http.StatusTooManyRequests ||
		e.StatusCode >= 500
}

func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// TransportError is a failure after the request left: a body cut short or a
// payload that arrived garbled. Another attempt can succeed.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("analysis %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

func (e *TransportError) Transient() bool { return true }
