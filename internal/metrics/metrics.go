// Package metrics provides Prometheus metrics for the tree browser loader.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Drop stages for RecordDrop.
const (
	DropQueued = "queued" // node disposed before its turn
	DropResult = "result" // node disposed while its fetch was running
	DropClosed = "closed" // session closed
)

var (
	// Fetch metrics
	fetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "browser_fetches_total",
			Help: "Total directory listing fetches",
		},
		[]string{"backend", "status"},
	)

	fetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "browser_fetch_duration_seconds",
			Help:    "Directory listing fetch duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend"},
	)

	fetchEntries = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "browser_fetch_entries",
			Help:    "Number of entries returned per successful listing",
			Buckets: prometheus.ExponentialBuckets(1, 4, 8),
		},
	)

	// Queue metrics
	queueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "browser_queue_depth",
			Help: "Pending load requests per session",
		},
		[]string{"session"},
	)

	droppedRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "browser_dropped_requests_total",
			Help: "Load requests or results discarded because their node or session went away",
		},
		[]string{"stage"},
	)

	// Cache metrics
	cacheRecords = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "browser_cache_records",
			Help: "Cached listing records per session",
		},
		[]string{"session"},
	)

	// Backend operation metrics
	backendOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "browser_backend_operation_duration_seconds",
			Help:    "Listing backend operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend", "operation"},
	)

	backendOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "browser_backend_operations_total",
			Help: "Total listing backend operations",
		},
		[]string{"backend", "operation", "status"},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordFetch records one completed fetch.
func RecordFetch(backend string, duration time.Duration, entries int, success bool) {
	status := "success"
	if !success {
		status = "error"
	} else {
		fetchEntries.Observe(float64(entries))
	}
	fetchesTotal.WithLabelValues(backend, status).Inc()
	fetchDuration.WithLabelValues(backend).Observe(duration.Seconds())
}

// SetQueueDepth sets the pending request count for a session.
func SetQueueDepth(session string, depth int) {
	queueDepth.WithLabelValues(session).Set(float64(depth))
}

// RecordDrop counts a discarded request or result.
func RecordDrop(stage string) {
	droppedRequests.WithLabelValues(stage).Inc()
}

// DroppedRequests exposes the drop counter for tests.
func DroppedRequests(stage string) prometheus.Counter {
	return droppedRequests.WithLabelValues(stage)
}

// SetCacheRecords sets the cached record count for a session.
func SetCacheRecords(session string, n int) {
	cacheRecords.WithLabelValues(session).Set(float64(n))
}

// ForgetSession removes per-session series once a session is closed.
func ForgetSession(session string) {
	queueDepth.DeleteLabelValues(session)
	cacheRecords.DeleteLabelValues(session)
}

// RecordBackendOperation records a listing backend call.
func RecordBackendOperation(backend, operation string, duration time.Duration, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	backendOperationsTotal.WithLabelValues(backend, operation, status).Inc()
	backendOperationDuration.WithLabelValues(backend, operation).Observe(duration.Seconds())
}
