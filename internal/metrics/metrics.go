package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "archive_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "archive_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "archive_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)
)

// Database metrics
var (
	DBQueryTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "archive_db_queries_total",
			Help: "Total number of index queries",
		},
		[]string{"operation", "status"},
	)

	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "archive_db_query_duration_seconds",
			Help:    "Index query duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"operation"},
	)

	DBTransactionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "archive_db_transaction_duration_seconds",
			Help:    "Index transaction duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"type"},
	)

	DBConnectionsOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "archive_db_connections_open",
			Help: "Number of open index database connections",
		},
	)
)

// Ingest metrics
var (
	IngestFilesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "archive_ingest_files_total",
			Help: "Total number of files processed by ingest, by asset kind and outcome",
		},
		[]string{"kind", "outcome"}, // outcome: stored, duplicate, failed
	)

	IngestStageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "archive_ingest_stage_duration_seconds",
			Help:    "Time spent in each ingest stage",
			Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"stage"}, // hash, dedup_wait, process, place, sidecar, commit
	)

	IngestInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "archive_ingest_files_in_flight",
			Help: "Number of files currently inside the ingest state machine",
		},
	)

	IngestDigestContention = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "archive_ingest_digest_contention_total",
			Help: "Number of times a worker waited for another worker holding the same digest",
		},
	)

	IngestBytesStored = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "archive_ingest_bytes_stored_total",
			Help: "Bytes of new canonical content placed in the archive",
		},
	)

	IngestSessionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "archive_ingest_sessions_total",
			Help: "Total number of import sessions by final status",
		},
		[]string{"status"}, // completed, cancelled
	)

	IngestSessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "archive_ingest_sessions_active",
			Help: "Number of import sessions currently running",
		},
	)
)

// Derivative metrics
var (
	DerivativeGenerationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "archive_derivative_generations_total",
			Help: "Total number of derivative generations by tier and status",
		},
		[]string{"tier", "status"}, // status: success, skipped, error
	)

	DerivativeGenerationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "archive_derivative_generation_duration_seconds",
			Help:    "Derivative generation duration by phase",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"phase"}, // decode, resize, encode, frame
	)
)

// Extractor metrics
var (
	ExtractorInvocationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "archive_extractor_invocations_total",
			Help: "External metadata tool invocations by tool and status",
		},
		[]string{"tool", "status"}, // status: success, missing, timeout, error
	)

	ExtractorDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "archive_extractor_duration_seconds",
			Help:    "External metadata tool run time",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"tool"},
	)
)

// Sidecar metrics
var (
	SidecarReconcileTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "archive_sidecar_reconcile_total",
			Help: "Sidecar reconcile results by action",
		},
		[]string{"action"}, // unchanged, pulled, pushed, restored, conflict, error
	)

	SidecarWritesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "archive_sidecar_writes_total",
			Help: "Sidecar file writes by status",
		},
		[]string{"status"},
	)
)

// Cache metrics
var (
	CacheHitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "archive_cache_hits_total",
			Help: "Cache hits by derivative kind",
		},
		[]string{"kind"},
	)

	CacheMissesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "archive_cache_misses_total",
			Help: "Cache misses by derivative kind",
		},
		[]string{"kind"},
	)

	CacheEvictionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "archive_cache_evictions_total",
			Help: "Entries evicted to stay within the byte budget",
		},
	)

	CacheResidentBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "archive_cache_resident_bytes",
			Help: "Bytes currently held by the cache",
		},
	)

	CacheEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "archive_cache_entries",
			Help: "Number of entries currently held by the cache",
		},
	)

	CacheLoadDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "archive_cache_load_duration_seconds",
			Help:    "Time to load a cache miss from the content store",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		},
		[]string{"priority"}, // direct, preload
	)

	PreloadTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "archive_preload_sequences_total",
			Help: "Preload sequences by final status",
		},
		[]string{"status"}, // completed, cancelled
	)
)

// Archive content metrics, refreshed by the Collector
var (
	ArchiveAssetsTotal = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "archive_assets_total",
			Help: "Number of indexed assets by kind",
		},
		[]string{"kind"},
	)

	ArchiveBytesTotal = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "archive_bytes_total",
			Help: "Total bytes of canonical content referenced by the index",
		},
	)

	ArchivePendingSidecars = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "archive_pending_sidecars",
			Help: "Assets whose index revision has not been flushed to the sidecar",
		},
	)
)

// Filesystem metrics
var (
	FilesystemOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "archive_filesystem_operation_duration_seconds",
			Help:    "Filesystem operation duration by volume and operation",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		},
		[]string{"volume", "operation"},
	)

	FilesystemOperationErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "archive_filesystem_operation_errors_total",
			Help: "Filesystem operation errors by volume and operation",
		},
		[]string{"volume", "operation"},
	)

	FilesystemRetryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "archive_filesystem_retry_attempts_total",
			Help: "Retries after stale NFS file handle errors",
		},
		[]string{"operation", "volume"},
	)

	FilesystemRetrySuccess = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "archive_filesystem_retry_success_total",
			Help: "Operations that succeeded after at least one retry",
		},
		[]string{"operation", "volume"},
	)

	FilesystemRetryFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "archive_filesystem_retry_failures_total",
			Help: "Operations that failed after exhausting retries",
		},
		[]string{"operation", "volume"},
	)

	FilesystemRetryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "archive_filesystem_retry_duration_seconds",
			Help:    "Total time spent in retrying filesystem operations",
			Buckets: []float64{0.0001, 0.001, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2},
		},
		[]string{"operation", "volume"},
	)

	FilesystemStaleErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "archive_filesystem_stale_errors_total",
			Help: "ESTALE errors observed",
		},
		[]string{"operation", "volume"},
	)
)

// Memory metrics
var (
	MemoryUsageRatio = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "archive_memory_usage_ratio",
			Help: "Heap allocation as a fraction of the configured memory limit",
		},
	)

	MemoryPaused = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "archive_memory_paused",
			Help: "1 when ingest is paused due to memory pressure",
		},
	)

	MemoryGCPauses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "archive_memory_gc_pauses_total",
			Help: "Number of times processing was paused for memory pressure",
		},
	)
)

// Application info metric
var (
	AppInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "archive_app_info",
			Help: "Application information",
		},
		[]string{"version", "commit", "go_version"},
	)
)

// SetAppInfo sets the application info metric
func SetAppInfo(version, commit, goVersion string) {
	AppInfo.WithLabelValues(version, commit, goVersion).Set(1)
}
