// Package metrics exposes the engine's Prometheus collectors, registered
// the way cuemby-warren/pkg/metrics wires its own node/task gauges and
// counters: package-level collectors, a Handler for the HTTP exposition
// endpoint, and small helper functions call sites use instead of touching
// the collectors directly.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	OrdersProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pagekv",
		Name:      "orders_processed_total",
		Help:      "Orders dispatched to a worker, by order name and outcome.",
	}, []string{"order", "outcome"})

	QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "pagekv",
		Name:      "worker_queue_depth",
		Help:      "Current order queue depth per worker.",
	}, []string{"worker"})

	CacheFlushes = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "pagekv",
		Name:      "cache_flushes_total",
		Help:      "Number of times a Cache drained tranFlush to the block store.",
	})

	FlushDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "pagekv",
		Name:      "cache_flush_duration_seconds",
		Help:      "Time spent writing a Cache's tranFlush stage to disk.",
		Buckets:   prometheus.DefBuckets,
	})
)

// RecordOrder increments the processed-orders counter for one dispatch.
func RecordOrder(order string, committed bool) {
	outcome := "rollback"
	if committed {
		outcome = "commit"
	}
	OrdersProcessed.WithLabelValues(order, outcome).Inc()
}

// Handler returns the HTTP handler serving Prometheus's text exposition
// format, mounted by cmd/pagekvd alongside the gRPC gateway.
func Handler() http.Handler { return promhttp.Handler() }
