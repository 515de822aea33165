// Package metrics exposes Prometheus collectors for every bridge subsystem,
// grouped the way the component that owns them is grouped: handshakes,
// queue, router, ratelimit, sessions, validate.
package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "bridge"

// Registry is the process-wide collector registry. Every metric in this
// package is registered against it via promauto.With(Registry) rather than
// the global default registry, so tests can spin up an isolated bridge
// without colliding with another instance in the same process.
var Registry = prometheus.NewRegistry()
