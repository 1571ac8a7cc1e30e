// Package metrics provides Prometheus instrumentation for the media archive.
//
// All metrics are package-level promauto collectors prefixed with "archive_"
// and are served by promhttp on the metrics port.
//
// # Metric Categories
//
//   - HTTP: request counts, durations and in-flight requests for the API.
//   - Database: index query counts/durations and transaction durations.
//   - Ingest: per-file outcomes by asset kind, stage durations, files in
//     flight, digest lock contention, stored bytes and session counts.
//   - Derivative: generations by tier and status, phase durations.
//   - Extractor: exiftool/ffprobe/ffmpeg invocations by status and run time.
//   - Sidecar: reconcile actions and sidecar writes.
//   - Cache: hits/misses by kind, evictions, resident bytes, load latency by
//     priority and preload sequence outcomes.
//   - Archive: asset counts and bytes, refreshed by a Collector.
//   - Filesystem: operation latency and ESTALE retry behaviour per volume.
//   - Memory: heap usage ratio and backpressure pauses.
//
// InitializeMetrics pre-populates label combinations so dashboards see every
// series from the first scrape. NewFilesystemObserver adapts these collectors
// to the filesystem.Observer interface.
package metrics
