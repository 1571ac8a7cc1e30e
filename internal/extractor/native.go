package extractor

import (
	"context"
	"image"
	_ "image/gif"  // register GIF decoder
	_ "image/jpeg" // register JPEG decoder
	_ "image/png"  // register PNG decoder

	_ "golang.org/x/image/bmp"  // register BMP decoder
	_ "golang.org/x/image/tiff" // register TIFF decoder
	_ "golang.org/x/image/webp" // register WebP decoder

	"media-archive/internal/filesystem"
	"media-archive/internal/mediatypes"
	"media-archive/internal/metrics"
)

// probeNative reads dimensions from the image header with Go's decoders.
// It is the fallback when exiftool is not installed.
func probeNative(ctx context.Context, path string) (mediatypes.TechnicalMetadata, error) {
	f, err := filesystem.DefaultPolicy().Open(ctx, path)
	if err != nil {
		return mediatypes.TechnicalMetadata{}, err
	}
	defer f.Close()

	cfg, format, err := image.DecodeConfig(f)
	if err != nil {
		metrics.ExtractorInvocationsTotal.WithLabelValues("native", "error").Inc()
		return mediatypes.TechnicalMetadata{}, err
	}
	metrics.ExtractorInvocationsTotal.WithLabelValues("native", "success").Inc()

	return mediatypes.TechnicalMetadata{
		Width:    cfg.Width,
		Height:   cfg.Height,
		MimeType: "image/" + format,
		Source:   "native",
	}, nil
}
