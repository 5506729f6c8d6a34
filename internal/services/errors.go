// Package services defines the business logic for catalog retrieval and
// lifecycle event dispatch. This file centralizes common service-level error
// values so they can be consistently returned by service methods and checked
// by callers.
package services

import "errors"

var (
	// ErrNoCatalog indicates that a fetch failed and no cached catalog was
	// available to fall back on. The transport error is wrapped alongside.
	ErrNoCatalog = errors.New("no catalog available")

	// ErrDispatchExhausted is returned when an event could not be delivered
	// within the configured retry budget. The event stays queued for a later
	// flush.
	ErrDispatchExhausted = errors.New("event dispatch retries exhausted")

	// ErrUnknownEventKind is returned for event kinds outside show/close/cta.
	ErrUnknownEventKind = errors.New("unknown event kind")
)
