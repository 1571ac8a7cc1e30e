package metrics

import "media-archive/internal/filesystem"

// NewFilesystemObserver records filesystem ops into the Filesystem*
// collectors.
func NewFilesystemObserver() filesystem.Observer {
	return filesystem.ObserverFunc(observeFilesystemOp)
}

func observeFilesystemOp(op filesystem.Op) {
	FilesystemOperationDuration.WithLabelValues(op.Volume, op.Name).Observe(op.Duration.Seconds())
	if op.Err != nil {
		FilesystemOperationErrors.WithLabelValues(op.Volume, op.Name).Inc()
	}
	if op.Stale == 0 {
		return
	}

	FilesystemStaleErrors.WithLabelValues(op.Name, op.Volume).Add(float64(op.Stale))
	FilesystemRetryDuration.WithLabelValues(op.Name, op.Volume).Observe(op.Duration.Seconds())
	if retries := op.Attempts - 1; retries > 0 {
		FilesystemRetryAttempts.WithLabelValues(op.Name, op.Volume).Add(float64(retries))
	}
	switch {
	case op.Err == nil:
		FilesystemRetrySuccess.WithLabelValues(op.Name, op.Volume).Inc()
	case op.Exhausted():
		FilesystemRetryFailures.WithLabelValues(op.Name, op.Volume).Inc()
	}
}
