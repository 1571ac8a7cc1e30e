package metrics

// Label values shared with the packages that record them.
var (
	AssetKinds      = []string{"image", "video", "document"}
	IngestOutcomes  = []string{"stored", "duplicate", "failed"}
	IngestStages    = []string{"hash", "dedup_wait", "process", "place", "sidecar", "commit"}
	DerivativeTiers = []string{"small", "large", "preview", "poster"}
	CacheKinds      = []string{"small", "large", "preview", "poster", "original"}
	ReconcileResult = []string{"unchanged", "pulled", "pushed", "restored", "conflict", "error"}
	ExtractorTools  = []string{"exiftool", "ffprobe", "ffmpeg", "native"}
	Volumes         = []string{"archive", "database", "source", "unknown"}
)

// InitializeMetrics pre-populates all expected label combinations so that
// every metric is exported from the first Prometheus scrape.
// Call this once at startup after metric registration.
func InitializeMetrics() {
	for _, kind := range AssetKinds {
		ArchiveAssetsTotal.WithLabelValues(kind)
		for _, outcome := range IngestOutcomes {
			IngestFilesTotal.WithLabelValues(kind, outcome)
		}
	}

	for _, stage := range IngestStages {
		IngestStageDuration.WithLabelValues(stage)
	}

	for _, status := range []string{"completed", "cancelled"} {
		IngestSessionsTotal.WithLabelValues(status)
		PreloadTotal.WithLabelValues(status)
	}

	for _, tier := range DerivativeTiers {
		for _, status := range []string{"success", "skipped", "error"} {
			DerivativeGenerationsTotal.WithLabelValues(tier, status)
		}
	}
	for _, phase := range []string{"decode", "resize", "encode", "frame"} {
		DerivativeGenerationDuration.WithLabelValues(phase)
	}

	for _, tool := range ExtractorTools {
		ExtractorDuration.WithLabelValues(tool)
		for _, status := range []string{"success", "missing", "timeout", "error"} {
			ExtractorInvocationsTotal.WithLabelValues(tool, status)
		}
	}

	for _, action := range ReconcileResult {
		SidecarReconcileTotal.WithLabelValues(action)
	}
	for _, status := range []string{"success", "error"} {
		SidecarWritesTotal.WithLabelValues(status)
	}

	for _, kind := range CacheKinds {
		CacheHitsTotal.WithLabelValues(kind)
		CacheMissesTotal.WithLabelValues(kind)
	}
	for _, p := range []string{"direct", "preload"} {
		CacheLoadDuration.WithLabelValues(p)
	}

	// --- Filesystem operation metrics (per volume × operation) ---
	fsOps := []string{"stat", "open", "rename"}
	retryOps := []string{"stat", "open", "rename"}
	for _, vol := range Volumes {
		for _, op := range fsOps {
			FilesystemOperationDuration.WithLabelValues(vol, op)
			FilesystemOperationErrors.WithLabelValues(vol, op)
		}
		for _, op := range retryOps {
			FilesystemRetryAttempts.WithLabelValues(op, vol)
			FilesystemRetrySuccess.WithLabelValues(op, vol)
			FilesystemRetryFailures.WithLabelValues(op, vol)
			FilesystemStaleErrors.WithLabelValues(op, vol)
			FilesystemRetryDuration.WithLabelValues(op, vol)
		}
	}

	for _, op := range []string{"commit_asset", "add_observation", "get_asset", "asset_exists",
		"list_assets", "update_user_metadata", "mark_sidecar_synced", "update_derivatives",
		"replace_all_assets", "delete_asset", "save_session", "get_session", "stats"} {
		DBQueryTotal.WithLabelValues(op, "success")
		DBQueryTotal.WithLabelValues(op, "error")
		DBQueryDuration.WithLabelValues(op)
	}

	for _, t := range []string{"commit", "rollback"} {
		DBTransactionDuration.WithLabelValues(t)
	}
}
