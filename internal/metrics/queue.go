package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// QueueDepth reports the current number of entries waiting per peer.
	QueueDepth = promauto.With(Registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "depth",
			Help:      "Current number of durable queue entries pending delivery.",
		},
		[]string{"peer"},
	)

	// QueueEnqueued counts entries appended to the durable queue.
	QueueEnqueued = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "enqueued_total",
			Help:      "Total number of messages enqueued for durable delivery.",
		},
		[]string{"peer"},
	)

	// QueueDrained counts entries removed from the queue by successful delivery.
	QueueDrained = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "drained_total",
			Help:      "Total number of queue entries delivered and removed.",
		},
		[]string{"peer"},
	)

	// QueueExpired counts entries dropped for exceeding the max-age window.
	QueueExpired = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "expired_total",
			Help:      "Total number of queue entries dropped for exceeding max age.",
		},
		[]string{"peer"},
	)

	// QueuePersistDuration measures the cost of the atomic persist-to-disk write.
	QueuePersistDuration = promauto.With(Registry).NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "persist_duration_seconds",
			Help:      "Duration of queue state persistence to disk.",
			Buckets:   prometheus.DefBuckets,
		},
	)
)
