package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SessionsCreated counts E-side sessions accepted by the AcceptorServer.
	SessionsCreated = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sessions",
			Name:      "created_total",
			Help:      "Total number of E-side sessions accepted.",
		},
	)

	// SessionsActive reports the current number of open E-side sessions.
	SessionsActive = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sessions",
			Name:      "active",
			Help:      "Current number of open E-side sessions.",
		},
	)

	// SessionsClosed counts sessions that ended, labeled by reason (closed when the read loop ends, shutdown during graceful stop).
	SessionsClosed = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sessions",
			Name:      "closed_total",
			Help:      "Total number of E-side sessions closed.",
		},
		[]string{"reason"},
	)

	// SessionDuration measures session lifetime from accept to close.
	SessionDuration = promauto.With(Registry).NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sessions",
			Name:      "duration_seconds",
			Help:      "Duration of an E-side session from accept to close.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		},
	)
)
