package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ValidationFailures counts messages rejected by the validator, labeled by reason.
	ValidationFailures = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "validate",
			Name:      "failures_total",
			Help:      "Total number of messages rejected by the validator.",
		},
		[]string{"reason"},
	)

	// ReplayAttacksDetected counts message ids found in the bounded replay cache.
	ReplayAttacksDetected = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "validate",
			Name:      "replay_detected_total",
			Help:      "Total number of replayed message ids detected.",
		},
	)

	// SignatureVerifications counts HMAC signature checks, labeled by outcome.
	SignatureVerifications = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "validate",
			Name:      "signature_verifications_total",
			Help:      "Total number of inbound HMAC signature verifications.",
		},
		[]string{"outcome"},
	)

	// ValidationDuration measures the cost of a full validation pass.
	ValidationDuration = promauto.With(Registry).NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "validate",
			Name:      "duration_seconds",
			Help:      "Duration of a validation pass (structural + signature + replay).",
			Buckets:   prometheus.DefBuckets,
		},
	)
)
