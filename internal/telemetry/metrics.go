package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP API metrics
	APIRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "plm_api_requests_total",
		Help: "Total HTTP API requests.",
	}, []string{"method", "endpoint", "status"})

	APIRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "plm_api_request_duration_seconds",
		Help:    "HTTP API request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "endpoint", "status"})

	APIActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "plm_api_active_connections",
		Help: "Number of in-flight HTTP API requests.",
	})

	// Database metrics
	DatabaseQueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "plm_database_query_duration_seconds",
		Help:    "Database operation duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "table"})

	DatabaseErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "plm_database_errors_total",
		Help: "Total database operation errors.",
	}, []string{"operation", "reason"})

	DatabaseConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "plm_database_connections_active",
		Help: "Open database connections.",
	})

	// Deduplication scan metrics
	ScanRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "plm_scan_runs_total",
		Help: "Total deduplication scan runs by outcome.",
	}, []string{"outcome"})

	ScanErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "plm_scan_errors_total",
		Help: "Errors skipped during scans.",
	}, []string{"stage"})

	ScanDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "plm_scan_duration_seconds",
		Help:    "Full scan run duration in seconds.",
		Buckets: prometheus.ExponentialBuckets(1, 4, 10),
	})

	FingerprintsGeneratedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "plm_fingerprints_generated_total",
		Help: "Fingerprints stored by the generator.",
	})

	ItemsSkippedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "plm_items_skipped_total",
		Help: "Library items skipped for missing size or duration.",
	})

	MatchesCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "plm_duplicate_matches_created_total",
		Help: "Duplicate matches created by the matcher.",
	})

	MatchesReviewedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "plm_duplicate_matches_reviewed_total",
		Help: "Duplicate matches confirmed or rejected.",
	}, []string{"status"})
)

// Handler exposes the metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
