package api

import (
	"errors"
	"fmt"
)

// TransportError wraps a failure below the HTTP layer: DNS, connect, TLS,
// timeouts, or a body that could not be read.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: transport: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ErrorResponse is a well-formed API error body.
type ErrorResponse struct {
	StatusCode int
	Type       string
	Message    string
	RequestID  string
}

func (e *ErrorResponse) Error() string {
	return fmt.Sprintf("api error (%s): %s [request_id: %s]", e.Type, e.Message, e.RequestID)
}

// UnrecognizedResponseError is returned when a body matches neither the
// success schema nor the error schema. Body is kept verbatim for diagnosis.
type UnrecognizedResponseError struct {
	StatusCode int
	Body       string
}

func (e *UnrecognizedResponseError) Error() string {
	return fmt.Sprintf("unrecognized response (status %d): %s", e.StatusCode, truncate(e.Body, 512))
}

// StatusError is a non-2xx response. Body is kept verbatim; API is set when
// the body was also a structured error.
type StatusError struct {
	StatusCode int
	Body       string
	API        *ErrorResponse
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("status %d: %s", e.StatusCode, e.Body)
}

func (e *StatusError) Unwrap() error {
	if e.API == nil {
		return nil
	}
	return e.API
}

// Kind returns a short, stable label for err suitable for log fields and
// metric labels.
func Kind(err error) string {
	var (
		transport    *TransportError
		apiErr       *ErrorResponse
		unrecognized *UnrecognizedResponseError
		status       *StatusError
	)
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &transport):
		return "transport"
	case errors.As(err, &apiErr):
		return "error_response"
	case errors.As(err, &unrecognized):
		return "unrecognized_response"
	case errors.As(err, &status):
		return "status"
	default:
		return "other"
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
