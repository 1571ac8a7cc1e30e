// Package memory controls the archive's Go heap in containerized
// environments and turns heap usage into backpressure.
//
// # Configuration
//
// Call [ConfigureFromEnv] early in main, before significant allocations:
//
//   - GOMEMLIMIT: standard Go variable; takes precedence when set.
//   - MEMORY_LIMIT: container limit in bytes, usually injected through the
//     Kubernetes Downward API (resourceFieldRef: limits.memory).
//   - MEMORY_RATIO: share of MEMORY_LIMIT given to the Go heap (default
//     0.85). Lower it when many exiftool/ffmpeg subprocesses or libvips
//     allocations run alongside ingest, since GOMEMLIMIT only covers the Go
//     heap.
//
// # Monitoring
//
//	monitor := memory.NewMonitor(memory.DefaultConfig())
//	monitor.OnPressure(func(usage float64) { cache.Shrink(0.5) })
//	monitor.Start()
//	defer monitor.Stop()
//
//	// in each ingest worker, before starting a file:
//	if err := monitor.Wait(ctx); err != nil {
//	    return err
//	}
//
// Above the high water mark every registered PressureFunc runs on each
// check. Above the critical water mark Wait blocks until usage drops below
// the high water mark again.
package memory
