package memory

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func testMonitor(limit int64, alloc *atomic.Uint64) *Monitor {
	m := NewMonitor(Config{
		MemoryLimitBytes:  limit,
		HighWaterMark:     0.7,
		CriticalWaterMark: 0.85,
		CheckInterval:     10 * time.Millisecond,
	})
	m.readAlloc = alloc.Load
	return m
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.MemoryLimitBytes != 0 {
		t.Errorf("MemoryLimitBytes = %d, want 0", cfg.MemoryLimitBytes)
	}
	if cfg.HighWaterMark != 0.7 {
		t.Errorf("HighWaterMark = %f, want 0.7", cfg.HighWaterMark)
	}
	if cfg.CriticalWaterMark != 0.85 {
		t.Errorf("CriticalWaterMark = %f, want 0.85", cfg.CriticalWaterMark)
	}
	if cfg.CheckInterval != 5*time.Second {
		t.Errorf("CheckInterval = %v, want 5s", cfg.CheckInterval)
	}
}

func TestMonitorPauseAndResume(t *testing.T) {
	var alloc atomic.Uint64
	m := testMonitor(1000, &alloc)

	alloc.Store(900)
	m.sample()
	if m.Last().Level != LevelCritical {
		t.Fatal("expected monitor to pause at 90% usage")
	}

	released := make(chan error, 1)
	go func() { released <- m.Wait(context.Background()) }()

	select {
	case <-released:
		t.Fatal("Wait returned while paused")
	case <-time.After(20 * time.Millisecond):
	}

	// Between the water marks the pause holds.
	alloc.Store(800)
	m.sample()
	if m.Last().Level != LevelCritical {
		t.Fatal("expected pause to hold between water marks")
	}

	alloc.Store(100)
	m.sample()

	select {
	case err := <-released:
		if err != nil {
			t.Errorf("Wait() = %v, want nil", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Wait did not return after memory recovered")
	}
}

func TestMonitorWaitHonoursContext(t *testing.T) {
	var alloc atomic.Uint64
	m := testMonitor(1000, &alloc)
	alloc.Store(950)
	m.sample()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := m.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Wait() = %v, want DeadlineExceeded", err)
	}
}

func TestMonitorWaitAfterStop(t *testing.T) {
	var alloc atomic.Uint64
	m := testMonitor(1000, &alloc)
	alloc.Store(950)
	m.sample()

	m.Stop()
	m.Stop() // idempotent

	if err := m.Wait(context.Background()); !errors.Is(err, context.Canceled) {
		t.Errorf("Wait() after Stop = %v, want Canceled", err)
	}
}

func TestMonitorPressureHandlers(t *testing.T) {
	var alloc atomic.Uint64
	m := testMonitor(1000, &alloc)

	var calls atomic.Int32
	var lastUsage atomic.Value
	m.OnPressure(func(usage float64) {
		calls.Add(1)
		lastUsage.Store(usage)
	})

	alloc.Store(500)
	m.sample()
	if calls.Load() != 0 {
		t.Fatalf("pressure handler ran below high water mark")
	}

	alloc.Store(750)
	m.sample()
	if calls.Load() != 1 {
		t.Fatalf("pressure handler calls = %d, want 1", calls.Load())
	}
	if got := lastUsage.Load().(float64); got != 0.75 {
		t.Errorf("usage = %v, want 0.75", got)
	}
	if lvl := m.Last().Level; lvl != LevelHigh {
		t.Errorf("level = %s, want high", lvl)
	}
}

func TestMonitorLast(t *testing.T) {
	var alloc atomic.Uint64
	m := testMonitor(2000, &alloc)
	if got := m.Last(); got.Limit != 2000 || got.Level != LevelNormal {
		t.Errorf("initial sample = %+v", got)
	}

	alloc.Store(500)
	m.sample()
	want := Sample{Alloc: 500, Limit: 2000, Usage: 0.25, Level: LevelNormal}
	if got := m.Last(); got != want {
		t.Errorf("Last() = %+v, want %+v", got, want)
	}
}

func TestMonitorClassify(t *testing.T) {
	m := testMonitor(1000, new(atomic.Uint64))
	tests := []struct {
		usage float64
		prev  Level
		want  Level
	}{
		{0.1, LevelNormal, LevelNormal},
		{0.7, LevelNormal, LevelHigh},
		{0.85, LevelHigh, LevelCritical},
		{0.8, LevelCritical, LevelCritical},
		{0.69, LevelCritical, LevelNormal},
		{0.8, LevelHigh, LevelHigh},
	}
	for _, tt := range tests {
		if got := m.classify(tt.usage, tt.prev); got != tt.want {
			t.Errorf("classify(%v, %s) = %s, want %s", tt.usage, tt.prev, got, tt.want)
		}
	}
}

func TestNilMonitorIsPermissive(t *testing.T) {
	var m *Monitor
	if err := m.Wait(context.Background()); err != nil {
		t.Errorf("nil Wait() = %v", err)
	}
	if m.Last() != (Sample{}) {
		t.Error("nil monitor reported a sample")
	}
}

func TestMonitorStartStop(_ *testing.T) {
	var alloc atomic.Uint64
	m := testMonitor(1<<30, &alloc)
	m.Start()
	time.Sleep(30 * time.Millisecond)
	m.Stop()
}
