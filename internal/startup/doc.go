// Package startup handles application initialization, configuration loading,
// and startup/shutdown logging.
//
// # Configuration
//
// [Resolve] builds a [Config] from built-in defaults, then the TOML file
// named by ARCHIVE_CONFIG (if set), then environment variables. The result
// is checked with validator struct tags before anything is opened.
// [LoadConfig] additionally logs the banner and configuration and makes
// sure the archive and database directories exist and are writable.
//
// Supported environment variables:
//
//   - ARCHIVE_DIR: Root of the content store (default: /archive)
//   - DATABASE_DIR: Directory holding archive.db (default: /database)
//   - PORT: HTTP API port (default: 8080)
//   - METRICS_PORT: Prometheus metrics port (default: 9090)
//   - METRICS_ENABLED: Enable or disable the metrics server (default: true)
//   - INGEST_WORKERS: Ingest pool size, or "auto" (default: auto)
//   - CACHE_BUDGET: Cache byte budget, e.g. 256MiB or 1GB (default: 256MiB)
//   - PRELOAD_WORKERS: Speculative cache loaders (default: 2)
//   - TOOL_TIMEOUT: Deadline for each external tool run (default: 30s)
//   - EXIFTOOL_PATH, FFPROBE_PATH, FFMPEG_PATH: External tools
//   - THUMB_SMALL, THUMB_LARGE, THUMB_PREVIEW: Shortest-edge targets (default: 400/800/1920)
//   - POSTER_OFFSET: Video poster frame offset (default: 1s)
//   - LOG_LEVEL: debug, info, warn, error (default: info)
//   - LOG_HEALTH_CHECKS: Log health check requests (default: true)
//   - MEMORY_LIMIT, MEMORY_RATIO, GOMEMLIMIT: Memory backpressure (see package memory)
//
// The TOML file uses the snake_case form of each key, for example:
//
//	archive_dir   = "/srv/archive"
//	cache_budget  = "1GiB"
//	tool_timeout  = "45s"
//	thumb_preview = 2048
//
// # Build Information
//
// Build-time variables are injected via ldflags and exposed via [GetBuildInfo].
package startup
