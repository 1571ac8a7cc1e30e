package derivative

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"os/exec"
	"time"

	"media-archive/internal/metrics"
)

// posterFrame grabs one frame at the configured offset, falling back to
// the first frame for clips shorter than the offset.
func (g *Generator) posterFrame(ctx context.Context, path string) (image.Image, error) {
	start := time.Now()
	defer func() {
		metrics.DerivativeGenerationDuration.WithLabelValues("frame").Observe(time.Since(start).Seconds())
	}()

	offset := fmt.Sprintf("%.3f", g.cfg.PosterOffset.Seconds())
	img, err := g.extractFrame(ctx, path, "-ss", offset)
	if err == nil {
		return img, nil
	}
	if ctx.Err() != nil || errors.Is(err, exec.ErrNotFound) {
		return nil, err
	}
	log.Debug("frame at %ss failed for %s, using first frame: %v", offset, path, err)

	return g.extractFrame(ctx, path)
}

func (g *Generator) extractFrame(ctx context.Context, path string, seek ...string) (image.Image, error) {
	ctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	args := []string{"-hide_banner", "-loglevel", "error", "-i", path}
	args = append(args, seek...)
	args = append(args, "-frames:v", "1", "-f", "image2pipe", "-vcodec", "png", "-")

	out, err := g.run(ctx, g.cfg.FFmpegPath, args...)
	status := "success"
	switch {
	case err == nil && len(out) == 0:
		err = fmt.Errorf("ffmpeg produced no output for %s", path)
		status = "error"
	case err == nil:
	case errors.Is(err, exec.ErrNotFound):
		status = "missing"
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		status = "timeout"
	default:
		status = "error"
	}
	metrics.ExtractorInvocationsTotal.WithLabelValues("ffmpeg", status).Inc()
	if err != nil {
		return nil, err
	}

	img, _, err := image.Decode(bytes.NewReader(out))
	if err != nil {
		return nil, fmt.Errorf("failed to decode ffmpeg output: %w", err)
	}
	return img, nil
}

func runFFmpeg(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.WaitDelay = 2 * time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffmpeg failed: %w, stderr: %s", err, bytes.TrimSpace(stderr.Bytes()))
	}
	return stdout.Bytes(), nil
}
