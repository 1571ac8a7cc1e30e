// Package extractor obtains technical metadata and embedded previews by
// running exiftool and ffprobe as isolated subprocesses. It never writes
// to the filesystem; every failure mode (tool missing, timeout, non-zero
// exit, unparsable output) is reported as ErrUnavailable.
package extractor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"media-archive/internal/logging"
	"media-archive/internal/mediatypes"
	"media-archive/internal/metrics"
)

// ErrUnavailable marks metadata or previews that could not be obtained.
// Callers treat it as degraded, never fatal.
var ErrUnavailable = errors.New("metadata unavailable")

// ErrNoPreview is returned when a file carries no usable embedded preview.
var ErrNoPreview = fmt.Errorf("%w: no embedded preview", ErrUnavailable)

var log = logging.For("extractor")

// Config names the external tools and bounds their run time.
type Config struct {
	ExiftoolPath string
	FFprobePath  string
	Timeout      time.Duration
}

// DefaultConfig resolves tools from PATH with a 30 second deadline.
func DefaultConfig() Config {
	return Config{
		ExiftoolPath: "exiftool",
		FFprobePath:  "ffprobe",
		Timeout:      30 * time.Second,
	}
}

// runFunc executes a tool and returns its stdout.
type runFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

// Extractor probes files through external tools.
type Extractor struct {
	cfg Config
	run runFunc
}

// New creates an Extractor.
func New(cfg Config) *Extractor {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	if cfg.ExiftoolPath == "" {
		cfg.ExiftoolPath = "exiftool"
	}
	if cfg.FFprobePath == "" {
		cfg.FFprobePath = "ffprobe"
	}
	return &Extractor{cfg: cfg, run: runTool}
}

// Tools reports which configured tools are on PATH.
func (e *Extractor) Tools() map[string]bool {
	out := make(map[string]bool, 2)
	for label, path := range map[string]string{"exiftool": e.cfg.ExiftoolPath, "ffprobe": e.cfg.FFprobePath} {
		_, err := exec.LookPath(path)
		out[label] = err == nil
	}
	return out
}

// Result is what one probe yields.
type Result struct {
	Meta mediatypes.TechnicalMetadata
	// Preview is the embedded JPEG for images whose own pixels are not
	// decoded (RAW and other non-browser formats). Nil when the file has
	// none or the format decodes natively.
	Preview []byte
	// Raw is the tool's record with binary fields removed.
	Raw map[string]any
}

// NeedsPreview reports whether derivatives of format come from an
// embedded preview rather than the file's own pixels.
func NeedsPreview(format mediatypes.Format) bool {
	return format.Kind == mediatypes.KindImage && (format.Raw || !format.Decodable)
}

// Probe returns normalized technical metadata for the file, plus the
// embedded preview for formats that need one, from a single tool run.
// When the preferred tool fails, fallbacks are tried (exiftool for video,
// Go decoders for plain images). The returned metadata is usable even
// when err wraps ErrUnavailable; it then holds whatever the fallback
// found.
func (e *Extractor) Probe(ctx context.Context, path string, format mediatypes.Format) (Result, error) {
	var res Result
	var err error

	switch format.Kind {
	case mediatypes.KindVideo:
		res, err = e.probeFFprobe(ctx, path)
		if err != nil {
			log.Debug("ffprobe failed for %s, trying exiftool: %v", path, err)
			if r, exifErr := e.probeExiftool(ctx, path, false); exifErr == nil {
				res, err = r, nil
			}
		}
	default:
		res, err = e.probeExiftool(ctx, path, NeedsPreview(format))
		if err != nil && format.Decodable {
			if m, nativeErr := probeNative(ctx, path); nativeErr == nil {
				res.Meta = m
				err = fmt.Errorf("%w: exiftool failed, used native decoder: %v", ErrUnavailable, err)
			}
		}
	}

	if res.Meta.MimeType == "" {
		res.Meta.MimeType = format.MimeType
	}
	return res, err
}

// EmbeddedPreview extracts the largest JPEG preview a RAW (or other)
// file carries, trying the tags cameras commonly use.
func (e *Extractor) EmbeddedPreview(ctx context.Context, path string) ([]byte, error) {
	var lastErr error
	for _, tag := range previewTags {
		out, err := e.exec(ctx, "exiftool", e.cfg.ExiftoolPath, "-b", "-"+tag, path)
		if err != nil {
			lastErr = err
			if errors.Is(err, exec.ErrNotFound) || errors.Is(ctx.Err(), context.Canceled) {
				break
			}
			continue
		}
		if mediatypes.DetectMagic(out) == "jpeg" {
			return out, nil
		}
	}
	if lastErr != nil {
		return nil, fmt.Errorf("%w (%v)", ErrNoPreview, lastErr)
	}
	return nil, ErrNoPreview
}

// exec runs a tool under the configured deadline and records metrics.
func (e *Extractor) exec(ctx context.Context, label, name string, args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	start := time.Now()
	out, err := e.run(ctx, name, args...)
	metrics.ExtractorDuration.WithLabelValues(label).Observe(time.Since(start).Seconds())

	status := "success"
	switch {
	case err == nil:
	case errors.Is(err, exec.ErrNotFound):
		status = "missing"
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		status = "timeout"
		err = fmt.Errorf("%s timed out after %v: %w", label, e.cfg.Timeout, err)
	default:
		status = "error"
	}
	metrics.ExtractorInvocationsTotal.WithLabelValues(label, status).Inc()

	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrUnavailable, label, err)
	}
	return out, nil
}

func runTool(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	// Kill is sent on ctx end; WaitDelay bounds how long we wait for pipes
	// held open by grandchildren.
	cmd.WaitDelay = 2 * time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if msg := bytes.TrimSpace(stderr.Bytes()); len(msg) > 0 {
			return nil, fmt.Errorf("%w - %s", err, truncate(msg, 200))
		}
		return nil, err
	}
	return stdout.Bytes(), nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
