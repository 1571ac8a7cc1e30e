package cache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"

	"media-archive/internal/contentstore"
	"media-archive/internal/database"
	"media-archive/internal/filesystem"
	"media-archive/internal/hasher"
	"media-archive/internal/mediatypes"
)

// AssetIndex resolves the canonical path of an original.
type AssetIndex interface {
	GetAsset(ctx context.Context, d hasher.Digest) (*database.Asset, error)
}

// StoreLoader reads derivatives from the content store and originals
// through their index row.
type StoreLoader struct {
	Store *contentstore.Store
	Index AssetIndex
	// MaxOriginalBytes refuses to load larger originals; 0 means no limit.
	MaxOriginalBytes int64
}

// Load implements Loader.
func (l StoreLoader) Load(ctx context.Context, d hasher.Digest, kind mediatypes.DerivativeKind) ([]byte, error) {
	if kind != mediatypes.CacheKindOriginal {
		data, err := l.Store.ReadDerivative(d, kind)
		if errors.Is(err, contentstore.ErrNotFound) {
			return nil, fmt.Errorf("%s %s: %w", d.Short(), kind, ErrNotFound)
		}
		return data, err
	}

	a, err := l.Index.GetAsset(ctx, d)
	if errors.Is(err, database.ErrNotFound) {
		return nil, fmt.Errorf("%s: %w", d.Short(), ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if l.MaxOriginalBytes > 0 && a.Size > l.MaxOriginalBytes {
		return nil, fmt.Errorf("%s: original too large to cache (%d bytes)", d.Short(), a.Size)
	}

	f, err := filesystem.DefaultPolicy().Open(ctx, l.Store.AbsPath(a.ArchivePath))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s original: %w", d.Short(), ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}
