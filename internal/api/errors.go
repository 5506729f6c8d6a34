// Package api implements the HTTP client for the in-app message backend.
// This file centralizes the transport error taxonomy so callers can branch
// on failure class with errors.As/errors.Is rather than string matching.
package api

import "fmt"

// NetworkError wraps a transport-level failure (DNS, dial, timeout) where no
// HTTP response was received at all.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string { return fmt.Sprintf("network error: %v", e.Err) }

// Unwrap exposes the underlying transport error.
func (e *NetworkError) Unwrap() error { return e.Err }

// HTTPError reports a response with an unexpected status code (anything
// other than 2xx, or 304 where the caller handles it).
type HTTPError struct {
	Status int
}

func (e *HTTPError) Error() string { return fmt.Sprintf("unexpected http status %d", e.Status) }

// APIError reports a well-formed backend error payload (2xx transport with
// success=false, or a structured error body).
type APIError struct {
	Message string
}

func (e *APIError) Error() string { return "api error: " + e.Message }

// DecodeError reports a malformed response or cache body.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string { return fmt.Sprintf("decode error: %v", e.Err) }

// Unwrap exposes the underlying decoding error.
func (e *DecodeError) Unwrap() error { return e.Err }
