package metrics

import (
	"syscall"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"media-archive/internal/filesystem"
)

func TestMetricsExist(t *testing.T) {
	tests := []struct {
		name   string
		metric interface{}
	}{
		{"HTTPRequestsTotal", HTTPRequestsTotal},
		{"DBQueryTotal", DBQueryTotal},
		{"IngestFilesTotal", IngestFilesTotal},
		{"IngestStageDuration", IngestStageDuration},
		{"DerivativeGenerationsTotal", DerivativeGenerationsTotal},
		{"ExtractorInvocationsTotal", ExtractorInvocationsTotal},
		{"SidecarReconcileTotal", SidecarReconcileTotal},
		{"CacheResidentBytes", CacheResidentBytes},
		{"PreloadTotal", PreloadTotal},
		{"FilesystemRetryAttempts", FilesystemRetryAttempts},
		{"MemoryUsageRatio", MemoryUsageRatio},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.metric == nil {
				t.Errorf("%s metric is nil", tt.name)
			}
		})
	}
}

func TestInitializeMetricsPopulatesLabels(t *testing.T) {
	InitializeMetrics()

	tests := []struct {
		name string
		got  int
		min  int
	}{
		{"IngestFilesTotal", testutil.CollectAndCount(IngestFilesTotal), len(AssetKinds) * len(IngestOutcomes)},
		{"DerivativeGenerationsTotal", testutil.CollectAndCount(DerivativeGenerationsTotal), len(DerivativeTiers) * 3},
		{"SidecarReconcileTotal", testutil.CollectAndCount(SidecarReconcileTotal), len(ReconcileResult)},
		{"CacheHitsTotal", testutil.CollectAndCount(CacheHitsTotal), len(CacheKinds)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got < tt.min {
				t.Errorf("%s has %d series, want at least %d", tt.name, tt.got, tt.min)
			}
		})
	}
}

func TestCounterOperations(t *testing.T) {
	before := testutil.ToFloat64(IngestFilesTotal.WithLabelValues("image", "stored"))
	IngestFilesTotal.WithLabelValues("image", "stored").Inc()
	after := testutil.ToFloat64(IngestFilesTotal.WithLabelValues("image", "stored"))

	if after != before+1 {
		t.Errorf("IngestFilesTotal{image,stored} = %v, want %v", after, before+1)
	}

	CacheResidentBytes.Set(4096)
	if got := testutil.ToFloat64(CacheResidentBytes); got != 4096 {
		t.Errorf("CacheResidentBytes = %v, want 4096", got)
	}
}

func TestFilesystemObserver(t *testing.T) {
	o := NewFilesystemObserver()
	count := func(c *prometheus.CounterVec, labels ...string) float64 {
		return testutil.ToFloat64(c.WithLabelValues(labels...))
	}

	tests := []struct {
		name     string
		op       filesystem.Op
		stale    float64
		retries  float64
		success  float64
		failures float64
		opErrors float64
	}{
		{"clean", filesystem.Op{Name: "open", Volume: "archive", Attempts: 1}, 0, 0, 0, 0, 0},
		{"plain error", filesystem.Op{Name: "open", Volume: "archive", Attempts: 1, Err: syscall.ENOENT}, 0, 0, 0, 0, 1},
		{"recovered", filesystem.Op{Name: "open", Volume: "archive", Attempts: 3, Stale: 2}, 2, 2, 1, 0, 0},
		{"exhausted", filesystem.Op{Name: "open", Volume: "archive", Attempts: 4, Stale: 4, Err: syscall.ESTALE}, 4, 3, 0, 1, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stale := count(FilesystemStaleErrors, "open", "archive")
			retries := count(FilesystemRetryAttempts, "open", "archive")
			success := count(FilesystemRetrySuccess, "open", "archive")
			failures := count(FilesystemRetryFailures, "open", "archive")
			opErrors := count(FilesystemOperationErrors, "archive", "open")

			o.ObserveOp(tt.op)

			checks := []struct {
				name      string
				got, want float64
			}{
				{"stale", count(FilesystemStaleErrors, "open", "archive") - stale, tt.stale},
				{"retries", count(FilesystemRetryAttempts, "open", "archive") - retries, tt.retries},
				{"success", count(FilesystemRetrySuccess, "open", "archive") - success, tt.success},
				{"failures", count(FilesystemRetryFailures, "open", "archive") - failures, tt.failures},
				{"errors", count(FilesystemOperationErrors, "archive", "open") - opErrors, tt.opErrors},
			}
			for _, c := range checks {
				if c.got != c.want {
					t.Errorf("%s delta = %v, want %v", c.name, c.got, c.want)
				}
			}
		})
	}
}

func TestSetAppInfo(t *testing.T) {
	SetAppInfo("1.0.0", "abc123", "go1.25")
	if got := testutil.ToFloat64(AppInfo.WithLabelValues("1.0.0", "abc123", "go1.25")); got != 1 {
		t.Errorf("AppInfo = %v, want 1", got)
	}
}
