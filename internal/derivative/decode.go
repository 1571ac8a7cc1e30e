package derivative

import (
	"context"
	"fmt"
	"image"
	"math"

	_ "image/gif"  // register GIF decoder
	_ "image/jpeg" // register JPEG decoder
	_ "image/png"  // register PNG decoder

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"  // register BMP decoder
	_ "golang.org/x/image/tiff" // register TIFF decoder
	_ "golang.org/x/image/webp" // register WebP decoder

	"media-archive/internal/filesystem"
)

// Bounds on a decoded original when libvips is not available. A 20MP RGBA
// frame is about 80MB.
const (
	DefaultMaxDimension = 4096
	DefaultMaxPixels    = 20_000_000
)

// headerSize reads the pixel size from the file header without decoding
// the image. The size is before EXIF orientation is applied.
func headerSize(ctx context.Context, path string) (int, int, error) {
	f, err := filesystem.DefaultPolicy().Open(ctx, path)
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()

	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return 0, 0, err
	}
	return cfg.Width, cfg.Height, nil
}

// boundedSize scales w x h down, keeping the aspect ratio, so neither edge
// exceeds maxDim and the area stays within maxPixels. The long-edge limit
// never pushes the short edge below minShort; the area limit may. Sizes
// already inside the bounds are returned unchanged.
func boundedSize(w, h, maxDim, maxPixels, minShort int) (int, int) {
	if w <= 0 || h <= 0 {
		return w, h
	}
	scale := 1.0
	if long := max(w, h); maxDim > 0 && long > maxDim {
		scale = float64(maxDim) / float64(long)
		if minShort > 0 {
			scale = max(scale, min(1, float64(minShort)/float64(min(w, h))))
		}
	}
	if area := float64(w) * float64(h) * scale * scale; maxPixels > 0 && area > float64(maxPixels) {
		scale *= math.Sqrt(float64(maxPixels) / area)
	}
	if scale >= 1 {
		return w, h
	}
	return max(1, int(float64(w)*scale)), max(1, int(float64(h)*scale))
}

// decodeBounded decodes an original with its EXIF orientation applied and
// downsamples it to the generator's bounds. shortEdge in the result is the
// original's shorter side unless bounding left fewer rows than that, in
// which case it is the decoded one, so no tier is stretched past the
// pixels actually held.
func (g *Generator) decodeBounded(ctx context.Context, path string) (decoded, error) {
	w, h, headerErr := headerSize(ctx, path)

	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return decoded{}, fmt.Errorf("decode %s: %w", path, err)
	}
	b := img.Bounds()
	if headerErr != nil {
		w, h = b.Dx(), b.Dy()
	}
	short := min(w, h)

	tw, th := boundedSize(b.Dx(), b.Dy(), g.cfg.MaxDimension, g.cfg.MaxPixels, g.cfg.PreviewEdge)
	if tw != b.Dx() || th != b.Dy() {
		log.Info("bounding large image %s from %dx%d to %dx%d", path, b.Dx(), b.Dy(), tw, th)
		img = imaging.Resize(img, tw, th, imaging.Lanczos)
		short = min(short, tw, th)
	}
	return decoded{img: img, shortEdge: short}, nil
}
