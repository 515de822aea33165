package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RouterRequests counts requests routed, labeled by direction (e_to_i, i_to_e) and outcome.
	RouterRequests = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "router",
			Name:      "requests_total",
			Help:      "Total number of requests routed between peers.",
		},
		[]string{"direction", "outcome"},
	)

	// RouterCorrelationTimeouts counts pending requests that aged out before a response arrived.
	RouterCorrelationTimeouts = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "router",
			Name:      "correlation_timeouts_total",
			Help:      "Total number of requests that timed out waiting for a correlated response.",
		},
	)

	// RouterPendingRequests reports the current size of the pending correlation table.
	RouterPendingRequests = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "router",
			Name:      "pending_requests",
			Help:      "Current number of requests awaiting a correlated response.",
		},
	)

	// RouterRequestDuration measures request-to-response latency.
	RouterRequestDuration = promauto.With(Registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "router",
			Name:      "request_duration_seconds",
			Help:      "Duration from request dispatch to correlated response.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"direction"},
	)
)
