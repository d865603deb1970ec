package dbtcloud

import (
	"errors"
	"fmt"
	"net/http"
)

// TransportError indicates a network-level failure before a response
// was received. Transient; the request may be retried as-is.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// RequestError indicates the server rejected the request (HTTP 4xx).
// Retrying without changing the request will not succeed.
type RequestError struct {
	StatusCode int
	// Message is the server-provided user message.
	Message string
	// Detail carries the validation detail from the response body,
	// when present.
	Detail string
}

func (e *RequestError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}

	if e.Detail != "" {
		return fmt.Sprintf("request rejected with status %d: %s (%s)", e.StatusCode, msg, e.Detail)
	}

	return fmt.Sprintf("request rejected with status %d: %s", e.StatusCode, msg)
}

// ServerError indicates an upstream failure (HTTP 5xx). Transient;
// retried with backoff.
type ServerError struct {
	StatusCode int
	Message    string
}

func (e *ServerError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("server error with status %d: %s", e.StatusCode, e.Message)
	}

	return fmt.Sprintf("server error with status %d", e.StatusCode)
}

// ConfigurationError indicates an invalid local parameter, detected
// before any network call is made.
type ConfigurationError struct {
	Message string
}

func (e *ConfigurationError) Error() string {
	return "configuration error: " + e.Message
}

// IsRetryable reports whether the error is transient (transport or
// server-side) and the request may be retried unchanged.
func IsRetryable(err error) bool {
	var transportErr *TransportError
	if errors.As(err, &transportErr) {
		return true
	}

	var serverErr *ServerError

	return errors.As(err, &serverErr)
}

// IsAuthError reports whether the error is an authentication or
// authorization rejection. Auth failures are fatal for the whole
// invocation rather than per-run.
func IsAuthError(err error) bool {
	var reqErr *RequestError
	if !errors.As(err, &reqErr) {
		return false
	}

	return reqErr.StatusCode == http.StatusUnauthorized ||
		reqErr.StatusCode == http.StatusForbidden
}
