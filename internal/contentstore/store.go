// Package contentstore owns the on-disk archive: canonical originals in a
// bucketed, content-addressed tree, their derivative files and sidecars,
// and the staging directory that makes every write atomic.
//
// Layout under the root:
//
//	originals/ab/cd/<digest><ext>        canonical bytes
//	originals/ab/cd/<digest>.xmp         sidecar
//	derivatives/ab/cd/<digest>_<kind>.jpg
//	tmp/                                 staging
package contentstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/zeebo/blake3"

	"media-archive/internal/filesystem"
	"media-archive/internal/hasher"
	"media-archive/internal/mediatypes"
)

const (
	originalsDir   = "originals"
	derivativesDir = "derivatives"
	tmpDir         = "tmp"

	// SidecarExt is the extension of the per-asset sidecar file.
	SidecarExt = ".xmp"
	// DerivativeExt is the extension of every derivative file.
	DerivativeExt = ".jpg"
)

var (
	// ErrNotFound is returned when no canonical file exists for a digest.
	ErrNotFound = errors.New("content not found")
	// ErrDigestMismatch is returned by Place when the bytes written do not
	// hash to the digest the caller claimed, typically because the source
	// changed after it was hashed.
	ErrDigestMismatch = errors.New("content digest mismatch")
)

// Store maps digests to paths and performs all placement.
type Store struct {
	root  string
	files filesystem.Policy
}

// PlaceResult describes the outcome of Place.
type PlaceResult struct {
	Path string
	// Placed is false when a canonical file for the digest already existed;
	// the existing file is never overwritten.
	Placed bool
	Size   int64
}

// New opens (creating if needed) a store rooted at root.
func New(root string) (*Store, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, fmt.Errorf("content store root is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	for _, dir := range []string{originalsDir, derivativesDir, tmpDir} {
		if err := os.MkdirAll(filepath.Join(abs, dir), 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return &Store{root: abs, files: filesystem.DefaultPolicy()}, nil
}

// Root returns the absolute store root.
func (s *Store) Root() string { return s.root }

func bucket(d hasher.Digest) string {
	return filepath.FromSlash(d.Bucket())
}

func (s *Store) originalsBucket(d hasher.Digest) string {
	return filepath.Join(s.root, originalsDir, bucket(d))
}

// CanonicalPath returns where the original with the given extension lives.
func (s *Store) CanonicalPath(d hasher.Digest, ext string) string {
	return filepath.Join(s.originalsBucket(d), string(d)+strings.ToLower(ext))
}

// SidecarPath returns the sidecar location for d.
func (s *Store) SidecarPath(d hasher.Digest) string {
	return filepath.Join(s.originalsBucket(d), string(d)+SidecarExt)
}

// DerivativePath returns the location of one derivative tier of d.
func (s *Store) DerivativePath(d hasher.Digest, kind mediatypes.DerivativeKind) string {
	return filepath.Join(s.root, derivativesDir, bucket(d), fmt.Sprintf("%s_%s%s", d, kind, DerivativeExt))
}

// Locate finds the canonical original for d regardless of its extension.
func (s *Store) Locate(d hasher.Digest) (string, error) {
	if !d.Valid() {
		return "", fmt.Errorf("%w: %q", hasher.ErrInvalidDigest, d)
	}
	entries, err := os.ReadDir(s.originalsBucket(d))
	if errors.Is(err, fs.ErrNotExist) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}

	prefix := string(d)
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, prefix) {
			continue
		}
		rest := name[len(prefix):]
		// Skips the sidecar and anything quarantined next to it.
		if strings.HasPrefix(rest, SidecarExt) || (rest != "" && !strings.HasPrefix(rest, ".")) {
			continue
		}
		return filepath.Join(s.originalsBucket(d), name), nil
	}
	return "", ErrNotFound
}

// Exists reports whether a canonical original for d is present.
func (s *Store) Exists(d hasher.Digest) (bool, error) {
	_, err := s.Locate(d)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// DerivativeExists reports whether the given tier of d is on disk.
func (s *Store) DerivativeExists(d hasher.Digest, kind mediatypes.DerivativeKind) bool {
	_, err := s.files.Stat(context.Background(), s.DerivativePath(d, kind))
	return err == nil
}

// NewTemp creates a staging file inside the store so later renames stay on
// one filesystem.
func (s *Store) NewTemp(pattern string) (*os.File, error) {
	return os.CreateTemp(filepath.Join(s.root, tmpDir), pattern)
}

// Place writes r under d's canonical name. Bytes go to a staging file
// first, are hashed while copying, and are linked into place only if the
// hash matches d. An existing canonical file is left untouched.
func (s *Store) Place(ctx context.Context, d hasher.Digest, r io.Reader, ext string) (PlaceResult, error) {
	if !d.Valid() {
		return PlaceResult{}, fmt.Errorf("%w: %q", hasher.ErrInvalidDigest, d)
	}
	if err := ctx.Err(); err != nil {
		return PlaceResult{}, err
	}

	if existing, err := s.Locate(d); err == nil {
		return PlaceResult{Path: existing}, nil
	} else if !errors.Is(err, ErrNotFound) {
		return PlaceResult{}, err
	}

	tmp, err := s.NewTemp("place-*")
	if err != nil {
		return PlaceResult{}, err
	}
	tmpPath := tmp.Name()
	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
	}

	h := blake3.New()
	n, err := io.Copy(io.MultiWriter(tmp, h), &ctxReader{ctx: ctx, r: r})
	if err != nil {
		cleanup()
		return PlaceResult{}, err
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return PlaceResult{}, err
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return PlaceResult{}, err
	}

	if got := hasher.Digest(fmt.Sprintf("%x", h.Sum(nil))); got != d {
		_ = os.Remove(tmpPath)
		return PlaceResult{}, fmt.Errorf("%w: expected %s, wrote %s", ErrDigestMismatch, d.Short(), got.Short())
	}

	dst := s.CanonicalPath(d, ext)
	placed, err := s.promote(ctx, tmpPath, dst, false)
	if err != nil {
		return PlaceResult{}, err
	}
	return PlaceResult{Path: dst, Placed: placed, Size: n}, nil
}

// PlaceFile is Place for a file on disk.
func (s *Store) PlaceFile(ctx context.Context, d hasher.Digest, srcPath, ext string) (PlaceResult, error) {
	f, err := s.files.Open(ctx, srcPath)
	if err != nil {
		return PlaceResult{}, err
	}
	defer f.Close()
	return s.Place(ctx, d, f, ext)
}

// PromoteDerivative moves a staged derivative into its final location.
// Unless replace is set an existing derivative is kept and the staged file
// discarded.
func (s *Store) PromoteDerivative(d hasher.Digest, kind mediatypes.DerivativeKind, tmpPath string, replace bool) (string, error) {
	dst := s.DerivativePath(d, kind)
	if _, err := s.promote(context.Background(), tmpPath, dst, replace); err != nil {
		return "", err
	}
	return dst, nil
}

// promote moves src to dst. Without replace it uses a hard link, which
// fails rather than overwrite, and falls back to stat+rename on filesystems
// without link support.
func (s *Store) promote(ctx context.Context, src, dst string, replace bool) (bool, error) {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		_ = os.Remove(src)
		return false, err
	}

	if replace {
		if err := s.files.Rename(ctx, src, dst); err != nil {
			_ = os.Remove(src)
			return false, err
		}
		return true, nil
	}

	err := os.Link(src, dst)
	switch {
	case err == nil:
		_ = os.Remove(src)
		return true, nil
	case errors.Is(err, fs.ErrExist):
		_ = os.Remove(src)
		return false, nil
	}

	if _, statErr := os.Stat(dst); statErr == nil {
		_ = os.Remove(src)
		return false, nil
	}
	if err := s.files.Rename(ctx, src, dst); err != nil {
		_ = os.Remove(src)
		return false, err
	}
	return true, nil
}

// WriteFileAtomic replaces path with data via a staging file and rename,
// so readers see either the old or the new content.
func (s *Store) WriteFileAtomic(path string, data []byte) error {
	tmp, err := s.NewTemp(filepath.Base(path) + ".*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	if err := s.files.Rename(context.Background(), tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	return nil
}

// Open opens the canonical original for d.
func (s *Store) Open(d hasher.Digest) (*os.File, error) {
	path, err := s.Locate(d)
	if err != nil {
		return nil, err
	}
	return s.files.Open(context.Background(), path)
}

// ReadDerivative returns the bytes of one derivative tier.
func (s *Store) ReadDerivative(d hasher.Digest, kind mediatypes.DerivativeKind) ([]byte, error) {
	data, err := os.ReadFile(s.DerivativePath(d, kind))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	return data, err
}

// RelPath returns path relative to the store root with forward slashes,
// the form stored in the index.
func (s *Store) RelPath(path string) string {
	rel, err := filepath.Rel(s.root, path)
	if err != nil {
		return path
	}
	return filepath.ToSlash(rel)
}

// AbsPath is the inverse of RelPath.
func (s *Store) AbsPath(rel string) string {
	if filepath.IsAbs(rel) {
		return rel
	}
	return filepath.Join(s.root, filepath.FromSlash(rel))
}

// Remove deletes d's original, sidecar and derivatives. It is only used by
// the orphan sweep when garbage-collecting unreferenced content.
func (s *Store) Remove(d hasher.Digest) error {
	var errs []error
	if path, err := s.Locate(d); err == nil {
		errs = append(errs, removeIfExists(path))
	}
	errs = append(errs, removeIfExists(s.SidecarPath(d)))
	for _, kind := range mediatypes.DerivativeKinds {
		errs = append(errs, removeIfExists(s.DerivativePath(d, kind)))
	}
	return errors.Join(errs...)
}

func removeIfExists(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// CleanTemp removes staging files older than maxAge, left behind by a crash
// or cancelled ingest. It returns the number removed.
func (s *Store) CleanTemp(maxAge time.Duration) (int, error) {
	dir := filepath.Join(s.root, tmpDir)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, e := range entries {
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(dir, e.Name())); err == nil {
			removed++
		}
	}
	return removed, nil
}

// WalkOriginals calls fn for every canonical original in the store.
// Sidecars and stray files whose stem is not a digest are skipped.
func (s *Store) WalkOriginals(ctx context.Context, fn func(d hasher.Digest, path string) error) error {
	return filepath.WalkDir(filepath.Join(s.root, originalsDir), func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if entry.IsDir() {
			return nil
		}
		name := entry.Name()
		if mediatypes.IsSidecar(name) {
			return nil
		}
		d := hasher.Digest(strings.TrimSuffix(name, filepath.Ext(name)))
		if !d.Valid() {
			return nil
		}
		return fn(d, path)
	})
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
