// Package derivative produces the display tiers of an asset: small, large
// and preview thumbnails sized by shortest edge, plus a poster frame for
// videos. Outputs are staged as temp files inside the content store and
// promoted by the caller once the original is in place.
package derivative

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/disintegration/imaging"
	"golang.org/x/sync/errgroup"

	"media-archive/internal/contentstore"
	"media-archive/internal/hasher"
	"media-archive/internal/logging"
	"media-archive/internal/mediatypes"
	"media-archive/internal/metrics"
)

var log = logging.For("derivative")

// errNoSource is returned when an asset has nothing the image pipeline
// can read (RAW without an embedded preview, or a document).
var errNoSource = errors.New("no decodable source")

// Config sets tier sizes and tool locations.
type Config struct {
	SmallEdge    int
	LargeEdge    int
	PreviewEdge  int
	PosterOffset time.Duration
	FFmpegPath   string
	Timeout      time.Duration

	// MaxDimension and MaxPixels bound the decoded image when libvips is
	// not available.
	MaxDimension int
	MaxPixels    int
}

// DefaultConfig returns the standard tier sizes.
func DefaultConfig() Config {
	return Config{
		SmallEdge:    400,
		LargeEdge:    800,
		PreviewEdge:  1920,
		PosterOffset: time.Second,
		FFmpegPath:   "ffmpeg",
		Timeout:      30 * time.Second,
		MaxDimension: DefaultMaxDimension,
		MaxPixels:    DefaultMaxPixels,
	}
}

// Tier is one resampled output.
type Tier struct {
	Kind    mediatypes.DerivativeKind
	Edge    int
	Quality int
}

// Tiers returns the resampled tiers in generation order. The poster is
// handled separately because it only exists for videos.
func (c Config) Tiers() []Tier {
	return []Tier{
		{Kind: mediatypes.DerivativeSmall, Edge: c.SmallEdge, Quality: 70},
		{Kind: mediatypes.DerivativeLarge, Edge: c.LargeEdge, Quality: 85},
		{Kind: mediatypes.DerivativePreview, Edge: c.PreviewEdge, Quality: 90},
	}
}

const posterQuality = 90

// Previewer extracts embedded JPEG previews from formats the pipeline
// cannot decode.
type Previewer interface {
	EmbeddedPreview(ctx context.Context, path string) ([]byte, error)
}

// Source identifies what to generate from.
type Source struct {
	Digest hasher.Digest
	Path   string
	Format mediatypes.Format
	// Preview overrides the generator's Previewer, e.g. with bytes already
	// extracted during metadata probing.
	Preview func(ctx context.Context) ([]byte, error)
}

// Output is one staged tier.
type Output struct {
	// Path is the staged temp file; empty when Err is set.
	Path   string
	Width  int
	Height int
	Size   int64
	Err    error
}

// Set maps tier to output. Tiers omitted to avoid upscaling are absent.
type Set map[mediatypes.DerivativeKind]Output

// Staged lists the kinds that produced a file, in generation order.
func (s Set) Staged() []mediatypes.DerivativeKind {
	var kinds []mediatypes.DerivativeKind
	for _, k := range mediatypes.DerivativeKinds {
		if o, ok := s[k]; ok && o.Err == nil && o.Path != "" {
			kinds = append(kinds, k)
		}
	}
	return kinds
}

// Discard removes every staged file.
func (s Set) Discard() {
	for _, o := range s {
		if o.Path != "" {
			_ = os.Remove(o.Path)
		}
	}
}

// Promote moves every staged tier into the store and returns the
// store-relative path of each tier now on disk. A tier that fails to
// promote is dropped from the result and its error joined into err.
func (s Set) Promote(store *contentstore.Store, d hasher.Digest, replace bool) (map[mediatypes.DerivativeKind]string, error) {
	paths := make(map[mediatypes.DerivativeKind]string)
	var errs []error
	for _, k := range s.Staged() {
		dst, err := store.PromoteDerivative(d, k, s[k].Path, replace)
		if err != nil {
			errs = append(errs, fmt.Errorf("promote %s: %w", k, err))
			continue
		}
		paths[k] = store.RelPath(dst)
	}
	return paths, errors.Join(errs...)
}

type runFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

// Generator produces derivative sets.
type Generator struct {
	cfg      Config
	store    *contentstore.Store
	previews Previewer
	run      runFunc
}

// New creates a Generator staging into store. previews may be nil, in which
// case formats needing an embedded preview yield no derivatives unless the
// Source supplies one.
func New(cfg Config, store *contentstore.Store, previews Previewer) *Generator {
	def := DefaultConfig()
	if cfg.SmallEdge <= 0 {
		cfg.SmallEdge = def.SmallEdge
	}
	if cfg.LargeEdge <= 0 {
		cfg.LargeEdge = def.LargeEdge
	}
	if cfg.PreviewEdge <= 0 {
		cfg.PreviewEdge = def.PreviewEdge
	}
	if cfg.FFmpegPath == "" {
		cfg.FFmpegPath = def.FFmpegPath
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxDimension <= 0 {
		cfg.MaxDimension = def.MaxDimension
	}
	if cfg.MaxPixels <= 0 {
		cfg.MaxPixels = def.MaxPixels
	}
	return &Generator{cfg: cfg, store: store, previews: previews, run: runFFmpeg}
}

// Config returns the effective configuration.
func (g *Generator) Config() Config { return g.cfg }

// decoded is a source image plus the shorter edge of the original it
// came from, which bounds every tier.
type decoded struct {
	img       image.Image
	shortEdge int
}

// Generate builds every applicable tier concurrently. Failures are
// recorded per tier and never abort the other tiers. If ctx is cancelled
// all staged files are removed and an empty Set is returned.
func (g *Generator) Generate(ctx context.Context, src Source) Set {
	set := Set{}
	if !src.Format.HasDerivatives() {
		return set
	}

	start := time.Now()
	base, err := g.load(ctx, src)
	if err != nil {
		if ctx.Err() == nil {
			if errors.Is(err, errNoSource) {
				log.Debug("%s: no derivatives (%v)", src.Digest.Short(), err)
			} else {
				log.Warn("%s: cannot load source for derivatives: %v", src.Digest.Short(), err)
			}
			for _, t := range g.cfg.Tiers() {
				metrics.DerivativeGenerationsTotal.WithLabelValues(string(t.Kind), "error").Inc()
			}
		}
		return set
	}
	metrics.DerivativeGenerationDuration.WithLabelValues("decode").Observe(time.Since(start).Seconds())

	var mu sync.Mutex
	record := func(kind mediatypes.DerivativeKind, out Output) {
		mu.Lock()
		set[kind] = out
		mu.Unlock()
	}

	eg, gctx := errgroup.WithContext(ctx)

	if src.Format.Kind == mediatypes.KindVideo {
		edge := min(base.shortEdge, g.cfg.PreviewEdge)
		eg.Go(func() error {
			record(mediatypes.DerivativePoster, g.render(gctx, src.Digest, base.img, Tier{
				Kind: mediatypes.DerivativePoster, Edge: edge, Quality: posterQuality,
			}))
			return nil
		})
	}

	for _, tier := range g.cfg.Tiers() {
		if tier.Edge > base.shortEdge {
			metrics.DerivativeGenerationsTotal.WithLabelValues(string(tier.Kind), "skipped").Inc()
			continue
		}
		eg.Go(func() error {
			record(tier.Kind, g.render(gctx, src.Digest, base.img, tier))
			return nil
		})
	}

	_ = eg.Wait()

	if ctx.Err() != nil {
		set.Discard()
		return Set{}
	}
	return set
}

// render resizes img to tier's shortest edge and stages a JPEG.
func (g *Generator) render(ctx context.Context, d hasher.Digest, img image.Image, tier Tier) Output {
	out := g.renderTier(ctx, d, img, tier)
	status := "success"
	if out.Err != nil {
		status = "error"
		if ctx.Err() == nil {
			log.Warn("%s: %s derivative failed: %v", d.Short(), tier.Kind, out.Err)
		}
	}
	metrics.DerivativeGenerationsTotal.WithLabelValues(string(tier.Kind), status).Inc()
	return out
}

func (g *Generator) renderTier(ctx context.Context, d hasher.Digest, img image.Image, tier Tier) Output {
	if err := ctx.Err(); err != nil {
		return Output{Err: err}
	}

	start := time.Now()
	b := img.Bounds()
	resized := img
	if min(b.Dx(), b.Dy()) != tier.Edge {
		w, h := scaleToShortEdge(b.Dx(), b.Dy(), tier.Edge)
		resized = imaging.Resize(img, w, h, imaging.Lanczos)
	}
	metrics.DerivativeGenerationDuration.WithLabelValues("resize").Observe(time.Since(start).Seconds())

	if err := ctx.Err(); err != nil {
		return Output{Err: err}
	}

	start = time.Now()
	f, err := g.store.NewTemp(fmt.Sprintf("%s_%s_*%s", d.Short(), tier.Kind, contentstore.DerivativeExt))
	if err != nil {
		return Output{Err: err}
	}
	path := f.Name()

	if err := imaging.Encode(f, resized, imaging.JPEG, imaging.JPEGQuality(tier.Quality)); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return Output{Err: fmt.Errorf("encode: %w", err)}
	}
	info, err := f.Stat()
	if err == nil {
		err = f.Close()
	} else {
		_ = f.Close()
	}
	if err != nil {
		_ = os.Remove(path)
		return Output{Err: err}
	}
	metrics.DerivativeGenerationDuration.WithLabelValues("encode").Observe(time.Since(start).Seconds())

	rb := resized.Bounds()
	return Output{Path: path, Width: rb.Dx(), Height: rb.Dy(), Size: info.Size()}
}

// load returns the image every tier is derived from.
func (g *Generator) load(ctx context.Context, src Source) (decoded, error) {
	switch src.Format.Kind {
	case mediatypes.KindVideo:
		img, err := g.posterFrame(ctx, src.Path)
		if err != nil {
			return decoded{}, err
		}
		return fromImage(img), nil

	case mediatypes.KindImage:
		if src.Format.Decodable && !src.Format.Raw {
			dec, err := g.decodeFile(ctx, src.Path)
			if err == nil {
				return dec, nil
			}
			log.Debug("%s: decode failed, trying embedded preview: %v", src.Digest.Short(), err)
		}
		return g.loadPreview(ctx, src)
	}
	return decoded{}, fmt.Errorf("%w: %s", errNoSource, src.Format.Kind)
}

// loadPreview decodes the embedded preview. RAW sensor data is never read.
func (g *Generator) loadPreview(ctx context.Context, src Source) (decoded, error) {
	fetch := src.Preview
	if fetch == nil && g.previews != nil {
		fetch = func(ctx context.Context) ([]byte, error) {
			return g.previews.EmbeddedPreview(ctx, src.Path)
		}
	}
	if fetch == nil {
		return decoded{}, fmt.Errorf("%w: no preview source for %s", errNoSource, src.Format.Extension)
	}

	data, err := fetch(ctx)
	if err != nil {
		return decoded{}, fmt.Errorf("%w: %v", errNoSource, err)
	}
	if len(data) == 0 {
		return decoded{}, fmt.Errorf("%w: empty preview", errNoSource)
	}
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return decoded{}, fmt.Errorf("decode preview: %w", err)
	}
	return fromImage(img), nil
}

// decodeFile decodes an original, using libvips decode-time shrinking
// when it is available and the bounded Go decoder otherwise.
func (g *Generator) decodeFile(ctx context.Context, path string) (decoded, error) {
	if vipsEnabled() {
		d, err := vipsDecode(path, g.cfg.PreviewEdge)
		if err == nil {
			return d, nil
		}
		log.Debug("vips failed for %s, using Go decoders: %v", path, err)
	}
	return g.decodeBounded(ctx, path)
}

func fromImage(img image.Image) decoded {
	b := img.Bounds()
	return decoded{img: img, shortEdge: min(b.Dx(), b.Dy())}
}

// scaleToShortEdge returns dimensions whose shorter side equals edge,
// keeping the aspect ratio.
func scaleToShortEdge(w, h, edge int) (int, int) {
	if w <= 0 || h <= 0 {
		return edge, edge
	}
	if w <= h {
		return edge, max(1, int(math.Round(float64(h)*float64(edge)/float64(w))))
	}
	return max(1, int(math.Round(float64(w)*float64(edge)/float64(h)))), edge
}

// Regenerate builds the tiers of an archived asset that are missing on
// disk and returns the store-relative paths of every tier present
// afterwards.
func (g *Generator) Regenerate(ctx context.Context, d hasher.Digest) (map[mediatypes.DerivativeKind]string, error) {
	path, err := g.store.Locate(d)
	if err != nil {
		return nil, err
	}
	format, ok := mediatypes.LookupExtension(filepath.Ext(path))
	if !ok || !format.HasDerivatives() {
		return map[mediatypes.DerivativeKind]string{}, nil
	}

	set := g.Generate(ctx, Source{Digest: d, Path: path, Format: format})
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Drop tiers already on disk so existing files are left alone.
	for k, o := range set {
		if g.store.DerivativeExists(d, k) {
			if o.Path != "" {
				_ = os.Remove(o.Path)
			}
			delete(set, k)
		}
	}
	_, promoteErr := set.Promote(g.store, d, false)

	present := make(map[mediatypes.DerivativeKind]string)
	for _, k := range mediatypes.DerivativeKinds {
		if g.store.DerivativeExists(d, k) {
			present[k] = g.store.RelPath(g.store.DerivativePath(d, k))
		}
	}
	return present, promoteErr
}
