package memory

import (
	"context"
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"media-archive/internal/logging"
	"media-archive/internal/metrics"
)

// Config holds memory management configuration
type Config struct {
	// MemoryLimitBytes is the heap budget. Zero falls back to GOMEMLIMIT.
	MemoryLimitBytes int64

	// HighWaterMark is the usage fraction at which pressure handlers run.
	HighWaterMark float64

	// CriticalWaterMark is the usage fraction at which ingest pauses. It
	// resumes once usage drops back under HighWaterMark.
	CriticalWaterMark float64

	CheckInterval time.Duration
}

// DefaultConfig returns sensible defaults for memory management
func DefaultConfig() Config {
	return Config{
		HighWaterMark:     0.7,
		CriticalWaterMark: 0.85,
		CheckInterval:     5 * time.Second,
	}
}

// Level is the monitor's view of heap pressure.
type Level int

const (
	LevelNormal Level = iota
	LevelHigh
	LevelCritical
)

func (l Level) String() string {
	switch l {
	case LevelHigh:
		return "high"
	case LevelCritical:
		return "critical"
	}
	return "normal"
}

// PressureFunc is called with the current usage ratio on every check that
// finds usage at or above the high water mark.
type PressureFunc func(usage float64)

// Sample is the result of the most recent check.
type Sample struct {
	Alloc uint64
	Limit int64
	Usage float64
	Level Level
}

// Monitor samples the heap and gates ingest. Workers call Wait before each
// file; it blocks while the level is critical. The cache registers a
// PressureFunc so it can shed entries before that happens.
type Monitor struct {
	config    Config
	limit     int64
	readAlloc func() uint64

	stopOnce sync.Once
	stopped  chan struct{}

	mu       sync.RWMutex
	last     Sample
	resume   chan struct{} // closed when a critical level clears
	handlers []PressureFunc
}

// NewMonitor creates a new memory monitor
func NewMonitor(config Config) *Monitor {
	limit := config.MemoryLimitBytes
	if limit == 0 {
		if l := debug.SetMemoryLimit(-1); l > 0 && l < 1<<62 {
			limit = l
			logging.Info("Memory monitor using GOMEMLIMIT: %s", humanize.IBytes(uint64(limit)))
		}
	}
	if limit == 0 {
		logging.Warn("Memory monitor: no memory limit configured, backpressure disabled")
	}

	return &Monitor{
		config:    config,
		limit:     limit,
		readAlloc: heapAlloc,
		stopped:   make(chan struct{}),
		last:      Sample{Limit: limit},
	}
}

func heapAlloc() uint64 {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return ms.Alloc
}

// OnPressure registers fn to run when usage crosses the high water mark.
func (m *Monitor) OnPressure(fn PressureFunc) {
	m.mu.Lock()
	m.handlers = append(m.handlers, fn)
	m.mu.Unlock()
}

// Start samples every CheckInterval until Stop. Without a limit there is
// nothing to compare against and it does nothing.
func (m *Monitor) Start() {
	if m.limit == 0 {
		return
	}
	go func() {
		t := time.NewTicker(m.config.CheckInterval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				m.sample()
			case <-m.stopped:
				return
			}
		}
	}()
}

// Stop ends sampling and releases any waiters. Safe to call more than once.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.stopped) })
}

// classify applies hysteresis: critical holds until usage falls below the
// high water mark.
func (m *Monitor) classify(usage float64, prev Level) Level {
	switch {
	case usage >= m.config.CriticalWaterMark:
		return LevelCritical
	case prev == LevelCritical && usage >= m.config.HighWaterMark:
		return LevelCritical
	case usage >= m.config.HighWaterMark:
		return LevelHigh
	}
	return LevelNormal
}

func (m *Monitor) sample() {
	alloc := m.readAlloc()
	if m.limit <= 0 {
		return
	}
	usage := float64(alloc) / float64(m.limit)

	m.mu.Lock()
	prev := m.last.Level
	level := m.classify(usage, prev)
	m.last = Sample{Alloc: alloc, Limit: m.limit, Usage: usage, Level: level}

	switch {
	case level == LevelCritical && prev != LevelCritical:
		m.resume = make(chan struct{})
		logging.Warn("Memory critical (%.1f%% of limit), pausing ingest", usage*100)
		metrics.MemoryPaused.Set(1)
		metrics.MemoryGCPauses.Inc()
		go runtime.GC()
	case level != LevelCritical && prev == LevelCritical:
		close(m.resume)
		m.resume = nil
		logging.Info("Memory recovered (%.1f%% of limit), resuming ingest", usage*100)
		metrics.MemoryPaused.Set(0)
	}
	var handlers []PressureFunc
	if level >= LevelHigh {
		handlers = append(handlers, m.handlers...)
	}
	m.mu.Unlock()

	metrics.MemoryUsageRatio.Set(usage)
	if level != prev {
		logging.Debug("Memory level %s -> %s at %s", prev, level, humanize.IBytes(alloc))
	}
	for _, fn := range handlers {
		fn(usage)
	}
}

// Wait blocks while the level is critical. It returns ctx.Err() if the
// context ends first and context.Canceled once the monitor is stopped.
// A nil Monitor never blocks.
func (m *Monitor) Wait(ctx context.Context) error {
	if m == nil {
		return nil
	}
	m.mu.RLock()
	resume := m.resume
	m.mu.RUnlock()
	if resume == nil {
		return nil
	}

	select {
	case <-resume:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-m.stopped:
		return context.Canceled
	}
}

// Last returns the most recent sample.
func (m *Monitor) Last() Sample {
	if m == nil {
		return Sample{}
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.last
}
