package workers

import (
	"os"
	"runtime"
	"strconv"
)

// OverrideEnv pins every pool size computed here. Operators set it when
// GOMAXPROCS does not reflect the storage the archive sits on.
const OverrideEnv = "INGEST_WORKERS"

// Profile scales GOMAXPROCS to a pool size for one kind of work.
type Profile float64

const (
	CPU   Profile = 1.0 // decoding, resizing, hashing
	IO    Profile = 2.0 // sidecar reads and writes, tool subprocesses
	Mixed Profile = 1.5 // per-file ingest: read, hash, decode, write
)

// Count returns the pool size for p, at least one and at most limit when
// limit is positive. A valid OverrideEnv replaces the CPU heuristic.
func (p Profile) Count(limit int) int {
	n := int(float64(runtime.GOMAXPROCS(0)) * float64(p))
	if v, err := strconv.Atoi(os.Getenv(OverrideEnv)); err == nil && v > 0 {
		n = v
	}
	n = max(n, 1)
	if limit > 0 {
		n = min(n, limit)
	}
	return n
}

// Count is Profile(multiplier).Count(limit).
func Count(multiplier float64, limit int) int {
	return Profile(multiplier).Count(limit)
}

// ForCPU sizes a pool for CPU-bound work.
func ForCPU(limit int) int { return CPU.Count(limit) }

// ForIO sizes a pool for work that mostly waits on the filesystem.
func ForIO(limit int) int { return IO.Count(limit) }

// ForMixed sizes a pool for work that alternates between the two.
func ForMixed(limit int) int { return Mixed.Count(limit) }

// Resolve returns configured when it is positive and otherwise the Mixed
// count capped at limit, so an explicit pool size always wins.
func Resolve(configured, limit int) int {
	if configured > 0 {
		return configured
	}
	return Mixed.Count(limit)
}
