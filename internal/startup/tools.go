package startup

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"media-archive/internal/logging"
)

const toolProbeTimeout = 5 * time.Second

// ToolStatus is the result of probing one external tool.
type ToolStatus struct {
	Name    string
	Path    string
	Version string
	Err     error
}

// Available reports whether the tool ran.
func (t ToolStatus) Available() bool { return t.Err == nil }

// CheckTools looks up and runs each external tool once. Missing tools are
// not fatal: the affected metadata and derivative paths degrade instead.
func CheckTools(ctx context.Context, cfg *Config) []ToolStatus {
	section("EXTERNAL TOOLS")

	probes := []struct {
		name, bin, flag string
	}{
		{"exiftool", cfg.ExiftoolPath, "-ver"},
		{"ffprobe", cfg.FFprobePath, "-version"},
		{"ffmpeg", cfg.FFmpegPath, "-version"},
	}

	statuses := make([]ToolStatus, len(probes))
	for i, p := range probes {
		st := probeTool(ctx, p.name, p.bin, p.flag)
		if st.Available() {
			ok("%-9s %s", st.Name, st.Version)
		} else {
			logging.Warn("  %-9s unavailable: %v", st.Name, st.Err)
		}
		statuses[i] = st
	}
	return statuses
}

// probeTool resolves bin on PATH and records the first line of its
// version output.
func probeTool(ctx context.Context, name, bin, flag string) ToolStatus {
	st := ToolStatus{Name: name}

	path, err := exec.LookPath(bin)
	if err != nil {
		st.Err = fmt.Errorf("%s not found", bin)
		return st
	}
	st.Path = path
	logging.Debug("  %s resolved to %s", name, path)

	ctx, cancel := context.WithTimeout(ctx, toolProbeTimeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, path, flag).Output()
	if err != nil {
		st.Err = fmt.Errorf("running %s %s: %w", name, flag, err)
		return st
	}
	first, _, _ := strings.Cut(string(out), "\n")
	st.Version = strings.TrimSpace(first)
	return st
}
