package derivative

import (
	"bytes"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/davidbyttow/govips/v2/vips"
	"github.com/disintegration/imaging"

	"media-archive/internal/logging"
)

// libvips can be started once per process; after Shutdown it stays off.
type vipsState int

const (
	vipsOff vipsState = iota
	vipsRunning
	vipsStopped
)

var (
	vipsMu     sync.Mutex
	vipsStatus vipsState
)

var errVipsUnavailable = errors.New("libvips not running")

// InitVips starts libvips. Calling it again while it runs is a no-op;
// calling it after ShutdownVips fails.
func InitVips() error {
	vipsMu.Lock()
	defer vipsMu.Unlock()

	switch vipsStatus {
	case vipsRunning:
		return nil
	case vipsStopped:
		return errors.New("libvips cannot be restarted after shutdown")
	}

	// Logging has to be configured before Startup to take effect.
	vips.LoggingSettings(vipsLogHandler, vipsThreshold(logging.GetLevel()))
	vips.Startup(&vips.Config{
		ConcurrencyLevel: 1,
		MaxCacheMem:      50 << 20,
		MaxCacheSize:     100,
	})
	vipsStatus = vipsRunning
	log.Info("libvips %s started", vips.Version)
	return nil
}

// ShutdownVips releases libvips. Decoding falls back to Go afterwards.
func ShutdownVips() {
	vipsMu.Lock()
	defer vipsMu.Unlock()
	if vipsStatus == vipsRunning {
		vips.Shutdown()
		vipsStatus = vipsStopped
		log.Info("libvips stopped")
	}
}

func vipsEnabled() bool {
	vipsMu.Lock()
	defer vipsMu.Unlock()
	return vipsStatus == vipsRunning
}

// vipsThreshold is the least severe libvips message worth emitting at our
// level. govips passes through messages at or above it in severity.
func vipsThreshold(l logging.LogLevel) vips.LogLevel {
	switch l {
	case logging.LevelDebug:
		return vips.LogLevelInfo
	case logging.LevelInfo:
		return vips.LogLevelWarning
	case logging.LevelWarn:
		return vips.LogLevelError
	}
	return vips.LogLevelCritical
}

func vipsLogHandler(domain string, l vips.LogLevel, msg string) {
	switch l {
	case vips.LogLevelError, vips.LogLevelCritical:
		logging.Error("[%s] %s", domain, msg)
	case vips.LogLevelWarning:
		logging.Warn("[%s] %s", domain, msg)
	default:
		logging.Debug("[%s] %s", domain, msg)
	}
}

// vipsDecode loads path through libvips, applying EXIF orientation and
// shrinking during decode so the shorter edge is at most edge. The
// returned short edge is the original's.
func vipsDecode(path string, edge int) (decoded, error) {
	if !vipsEnabled() {
		return decoded{}, errVipsUnavailable
	}

	ref, err := vips.LoadImageFromFile(path, vips.NewImportParams())
	if err != nil {
		return decoded{}, fmt.Errorf("vips load: %w", err)
	}
	defer ref.Close()

	if err := ref.AutoRotate(); err != nil {
		return decoded{}, fmt.Errorf("vips rotate: %w", err)
	}

	w, h := ref.Width(), ref.Height()
	short := min(w, h)
	if short > edge {
		tw, th := scaleToShortEdge(w, h, edge)
		log.Debug("vips shrinking %s from %dx%d to %dx%d", filepath.Base(path), w, h, tw, th)
		if err := ref.Thumbnail(tw, th, vips.InterestingNone); err != nil {
			return decoded{}, fmt.Errorf("vips shrink: %w", err)
		}
	}

	// Orientation is already applied, so metadata is stripped to keep the
	// Go decoder from rotating a second time.
	buf, _, err := ref.ExportJpeg(&vips.JpegExportParams{
		Quality:        95,
		StripMetadata:  true,
		OptimizeCoding: true,
	})
	if err != nil {
		return decoded{}, fmt.Errorf("vips export: %w", err)
	}
	img, err := imaging.Decode(bytes.NewReader(buf))
	if err != nil {
		return decoded{}, fmt.Errorf("decode vips output: %w", err)
	}
	return decoded{img: img, shortEdge: short}, nil
}
