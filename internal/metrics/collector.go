package metrics

import (
	"context"
	"time"

	"media-archive/internal/logging"
)

// Stats is a point-in-time summary of the archive's contents.
type Stats struct {
	Images          int
	Videos          int
	Documents       int
	TotalBytes      int64
	PendingSidecars int
}

// StatsFunc produces the current archive summary.
type StatsFunc func(ctx context.Context) (Stats, error)

// Collector refreshes the archive gauges from a StatsFunc on a fixed
// interval. Counting rows is too slow to do on every scrape.
type Collector struct {
	stats    StatsFunc
	interval time.Duration
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
}

func NewCollector(stats StatsFunc, interval time.Duration) *Collector {
	ctx, cancel := context.WithCancel(context.Background())
	return &Collector{
		stats:    stats,
		interval: interval,
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
}

// Start collects once immediately and then every interval until Stop.
func (c *Collector) Start() {
	go func() {
		defer close(c.done)
		t := time.NewTicker(c.interval)
		defer t.Stop()
		for {
			c.collect()
			select {
			case <-t.C:
			case <-c.ctx.Done():
				return
			}
		}
	}()
}

// Stop ends collection and waits for an in-flight collect to return. It
// must follow Start.
func (c *Collector) Stop() {
	c.cancel()
	<-c.done
}

func (c *Collector) collect() {
	if c.stats == nil {
		return
	}
	ctx, cancel := context.WithTimeout(c.ctx, c.interval)
	defer cancel()

	s, err := c.stats(ctx)
	if err != nil {
		if c.ctx.Err() == nil {
			logging.Warn("Archive stats collection failed: %v", err)
		}
		return
	}

	for kind, n := range map[string]int{"image": s.Images, "video": s.Videos, "document": s.Documents} {
		ArchiveAssetsTotal.WithLabelValues(kind).Set(float64(n))
	}
	ArchiveBytesTotal.Set(float64(s.TotalBytes))
	ArchivePendingSidecars.Set(float64(s.PendingSidecars))
	logging.Debug("Archive stats: %+v", s)
}
