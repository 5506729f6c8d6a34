// Package observability wires tracing and metrics for the engine.
//
// This file exposes Prometheus instrumentation for the engine's operations
// with careful attention to label cardinality:
//
//   - result:  catalog fetch outcome (fresh|not_modified|stale_fallback|error)
//   - kind:    lifecycle event kind (show|close|cta)
//   - outcome: event dispatch outcome (delivered|failed)
//
// All collectors are safe for concurrent use and registered once at init.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// fetches counts catalog fetch cycles by outcome.
	fetches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inapp_catalog_fetches_total",
			Help: "Total number of catalog fetch cycles by outcome.",
		},
		[]string{"result"},
	)

	// fetchLat records catalog fetch duration in seconds.
	fetchLat = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "inapp_catalog_fetch_duration_seconds",
			Help:    "Duration of catalog fetch cycles in seconds.",
			Buckets: prometheus.DefBuckets,
		},
	)

	// displays counts messages handed to the renderer.
	displays = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "inapp_displays_total",
			Help: "Total number of messages handed to the renderer.",
		},
	)

	// dismissals counts completed dismissals.
	dismissals = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "inapp_dismissals_total",
			Help: "Total number of completed message dismissals.",
		},
	)

	// dispatches counts lifecycle event deliveries by kind and outcome.
	dispatches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inapp_event_dispatches_total",
			Help: "Total number of lifecycle event dispatch completions.",
		},
		[]string{"kind", "outcome"},
	)

	// dispatchRetries counts individual failed delivery attempts that were
	// retried.
	dispatchRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "inapp_event_dispatch_retries_total",
			Help: "Total number of retried event delivery attempts.",
		},
	)
)

func init() {
	prometheus.MustRegister(fetches, fetchLat, displays, dismissals, dispatches, dispatchRetries)
}

// Fetch outcome labels.
const (
	FetchFresh         = "fresh"
	FetchNotModified   = "not_modified"
	FetchStaleFallback = "stale_fallback"
	FetchError         = "error"
)

// ObserveFetch records one completed catalog fetch cycle.
func ObserveFetch(result string, elapsed time.Duration) {
	fetches.WithLabelValues(result).Inc()
	fetchLat.Observe(elapsed.Seconds())
}

// ObserveDisplay records a message handed to the renderer.
func ObserveDisplay() { displays.Inc() }

// ObserveDismissal records a completed dismissal.
func ObserveDismissal() { dismissals.Inc() }

// ObserveDispatch records a finished event delivery attempt sequence.
func ObserveDispatch(kind string, delivered bool) {
	outcome := "delivered"
	if !delivered {
		outcome = "failed"
	}
	dispatches.WithLabelValues(kind, outcome).Inc()
}

// ObserveDispatchRetry records one retried delivery attempt.
func ObserveDispatchRetry() { dispatchRetries.Inc() }
