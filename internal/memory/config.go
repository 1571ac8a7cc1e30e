package memory

import (
	"math"
	"os"
	"runtime/debug"
	"strconv"

	"github.com/dustin/go-humanize"

	"media-archive/internal/logging"
)

// DefaultMemoryRatio is the share of the container limit given to the Go
// heap. The remainder covers exiftool, ffmpeg, libvips and stacks.
const DefaultMemoryRatio = 0.85

// Limit sources reported in ConfigResult.Source.
const (
	SourceGOMEMLIMIT   = "GOMEMLIMIT"
	SourceContainer    = "MEMORY_LIMIT"
	SourceUnconfigured = "none"
)

// ConfigResult describes the heap limit ConfigureFromEnv settled on.
type ConfigResult struct {
	Configured     bool
	Source         string
	ContainerLimit int64   // bytes, from MEMORY_LIMIT
	GoMemLimit     int64   // bytes, as applied to the runtime
	Ratio          float64 // share of ContainerLimit, when that was the source
}

// ConfigureFromEnv applies a soft heap limit before the process allocates
// much. An explicit GOMEMLIMIT wins. Otherwise MEMORY_LIMIT (typically
// injected by the Kubernetes downward API) is scaled by MEMORY_RATIO.
func ConfigureFromEnv() ConfigResult {
	if v := os.Getenv("GOMEMLIMIT"); v != "" {
		res := ConfigResult{Source: SourceGOMEMLIMIT}
		// The runtime already parsed it; read it back.
		if l := debug.SetMemoryLimit(-1); l > 0 && l < math.MaxInt64 {
			res.Configured = true
			res.GoMemLimit = l
		}
		logging.Info("GOMEMLIMIT set via environment: %s", v)
		return res
	}

	raw := os.Getenv("MEMORY_LIMIT")
	if raw == "" {
		logging.Debug("MEMORY_LIMIT not set, leaving the heap unbounded")
		return ConfigResult{Source: SourceUnconfigured}
	}
	container, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || container <= 0 {
		logging.Warn("Ignoring MEMORY_LIMIT %q: not a positive byte count", raw)
		return ConfigResult{Source: SourceUnconfigured}
	}

	ratio := ratioFromEnv()
	heap := int64(float64(container) * ratio)
	debug.SetMemoryLimit(heap)

	logging.Info("GOMEMLIMIT set to %s (%.0f%% of the %s container limit)",
		humanize.IBytes(uint64(heap)), ratio*100, humanize.IBytes(uint64(container)))

	return ConfigResult{
		Configured:     true,
		Source:         SourceContainer,
		ContainerLimit: container,
		GoMemLimit:     heap,
		Ratio:          ratio,
	}
}

// ratioFromEnv reads MEMORY_RATIO, falling back to DefaultMemoryRatio for
// anything outside (0, 1].
func ratioFromEnv() float64 {
	raw := os.Getenv("MEMORY_RATIO")
	if raw == "" {
		return DefaultMemoryRatio
	}
	r, err := strconv.ParseFloat(raw, 64)
	if err != nil || r <= 0 || r > 1 {
		logging.Warn("Ignoring MEMORY_RATIO %q, using %.2f", raw, DefaultMemoryRatio)
		return DefaultMemoryRatio
	}
	return r
}
