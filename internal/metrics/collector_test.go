package metrics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCollectorCollect(t *testing.T) {
	c := NewCollector(func(context.Context) (Stats, error) {
		return Stats{Images: 7, Videos: 2, Documents: 1, TotalBytes: 1 << 20, PendingSidecars: 3}, nil
	}, time.Second)

	c.collect()

	if got := testutil.ToFloat64(ArchiveAssetsTotal.WithLabelValues("image")); got != 7 {
		t.Errorf("images = %v, want 7", got)
	}
	if got := testutil.ToFloat64(ArchiveAssetsTotal.WithLabelValues("video")); got != 2 {
		t.Errorf("videos = %v, want 2", got)
	}
	if got := testutil.ToFloat64(ArchiveBytesTotal); got != 1<<20 {
		t.Errorf("bytes = %v, want %d", got, 1<<20)
	}
	if got := testutil.ToFloat64(ArchivePendingSidecars); got != 3 {
		t.Errorf("pending sidecars = %v, want 3", got)
	}
}

func TestCollectorKeepsLastValueOnError(t *testing.T) {
	ArchiveBytesTotal.Set(42)

	c := NewCollector(func(context.Context) (Stats, error) {
		return Stats{}, errors.New("database is locked")
	}, time.Second)
	c.collect()

	if got := testutil.ToFloat64(ArchiveBytesTotal); got != 42 {
		t.Errorf("bytes = %v, want unchanged 42", got)
	}
}

func TestCollectorNilStats(_ *testing.T) {
	c := NewCollector(nil, time.Second)
	c.collect()
}

func TestCollectorStartStop(t *testing.T) {
	calls := make(chan struct{}, 16)
	c := NewCollector(func(context.Context) (Stats, error) {
		calls <- struct{}{}
		return Stats{}, nil
	}, time.Hour)
	c.Start()

	select {
	case <-calls:
	case <-time.After(time.Second):
		t.Fatal("no collection on Start")
	}
	c.Stop()
	if len(calls) != 0 {
		t.Errorf("%d extra collections within one interval", len(calls))
	}
}
