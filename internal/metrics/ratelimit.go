package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RateLimitAdmitted counts requests admitted by a token bucket, labeled by category.
	RateLimitAdmitted = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ratelimit",
			Name:      "admitted_total",
			Help:      "Total number of requests admitted by the rate limiter.",
		},
		[]string{"category"},
	)

	// RateLimitDenied counts requests denied for lack of tokens, labeled by category.
	RateLimitDenied = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ratelimit",
			Name:      "denied_total",
			Help:      "Total number of requests denied by the rate limiter.",
		},
		[]string{"category"},
	)

	// RateLimitAbuseEvents counts abuse-auditing events raised after repeated denials.
	RateLimitAbuseEvents = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ratelimit",
			Name:      "abuse_events_total",
			Help:      "Total number of abuse-auditing events raised for a rate-limit category.",
		},
	)

	// RateLimitTokens reports the current token count per bucket.
	RateLimitTokens = promauto.With(Registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ratelimit",
			Name:      "tokens",
			Help:      "Current number of tokens available in a bucket.",
		},
		[]string{"category"},
	)
)
