package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HandshakesInitiated tracks handshakes started, labeled by peer role (e, i).
	HandshakesInitiated = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "handshakes",
			Name:      "initiated_total",
			Help:      "Total number of peer handshakes initiated.",
		},
		[]string{"peer"},
	)

	// HandshakesCompleted tracks handshakes that reached the ready state.
	HandshakesCompleted = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "handshakes",
			Name:      "completed_total",
			Help:      "Total number of peer handshakes that reached ready.",
		},
		[]string{"peer"},
	)

	// HandshakesFailed tracks handshakes that aborted, labeled by reason.
	HandshakesFailed = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "handshakes",
			Name:      "failed_total",
			Help:      "Total number of peer handshakes that failed.",
		},
		[]string{"peer", "reason"},
	)

	// HandshakeDuration measures time from init_sent to ready.
	HandshakeDuration = promauto.With(Registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "handshakes",
			Name:      "duration_seconds",
			Help:      "Duration of a completed peer handshake.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"peer"},
	)

	// ReconnectAttempts tracks backoff-scheduled reconnect attempts.
	ReconnectAttempts = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "handshakes",
			Name:      "reconnect_attempts_total",
			Help:      "Total number of reconnect attempts scheduled by backoff.",
		},
		[]string{"peer"},
	)
)
