package sidecar

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"media-archive/internal/database"
	"media-archive/internal/hasher"
	"media-archive/internal/mediatypes"
)

// RebuildReport summarizes RebuildIndexFromSidecars.
type RebuildReport struct {
	Assets          int           `json:"assets"`
	WithSidecar     int           `json:"withSidecar"`
	MissingSidecar  int           `json:"missingSidecar"`
	CorruptSidecar  int           `json:"corruptSidecar"`
	Skipped         int           `json:"skipped"`
	Duration        time.Duration `json:"duration"`
	SkippedFailures []Failure     `json:"skippedFailures,omitempty"`
}

type original struct {
	digest hasher.Digest
	path   string
}

// RebuildIndexFromSidecars recreates every index row from the archive on
// disk. Technical metadata is re-probed, user fields come only from
// sidecars, and derivative files found on disk are recorded. The asset
// table is replaced in a single transaction, so rows whose original no
// longer exists are dropped.
func (r *Reconciler) RebuildIndexFromSidecars(ctx context.Context) (RebuildReport, error) {
	start := time.Now()
	var rep RebuildReport

	var originals []original
	err := r.store.WalkOriginals(ctx, func(d hasher.Digest, path string) error {
		originals = append(originals, original{digest: d, path: path})
		return nil
	})
	if err != nil {
		return rep, fmt.Errorf("walk originals: %w", err)
	}

	var mu sync.Mutex
	assets := make([]database.Asset, 0, len(originals))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for _, o := range originals {
		g.Go(func() error {
			a, corrupt, err := r.rebuildOne(gctx, o)
			if gctx.Err() != nil {
				return gctx.Err()
			}

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				log.Warn("rebuild skipped %s: %v", o.path, err)
				rep.Skipped++
				rep.SkippedFailures = append(rep.SkippedFailures, Failure{Digest: o.digest, Reason: err.Error()})
				return nil
			}
			switch {
			case corrupt:
				rep.CorruptSidecar++
			case a.SidecarState == database.SidecarMissing:
				rep.MissingSidecar++
			default:
				rep.WithSidecar++
			}
			assets = append(assets, a)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return rep, err
	}

	sort.Slice(assets, func(i, j int) bool { return assets[i].Digest < assets[j].Digest })
	if err := r.index.ReplaceAllAssets(ctx, assets); err != nil {
		return rep, fmt.Errorf("replace index: %w", err)
	}
	if err := r.index.SetTimestamp(ctx, database.KeyLastRebuild, time.Now()); err != nil {
		log.Warn("failed to record rebuild time: %v", err)
	}

	rep.Assets = len(assets)
	rep.Duration = time.Since(start)
	log.Info("rebuilt index: %d assets (%d with sidecar, %d missing, %d corrupt, %d skipped) in %v",
		rep.Assets, rep.WithSidecar, rep.MissingSidecar, rep.CorruptSidecar, rep.Skipped, rep.Duration)
	return rep, nil
}

// rebuildOne builds the row for one original. corrupt reports a sidecar
// that existed but was unreadable; the row is still produced.
func (r *Reconciler) rebuildOne(ctx context.Context, o original) (a database.Asset, corrupt bool, err error) {
	ext := filepath.Ext(o.path)
	format, ok := mediatypes.LookupExtension(ext)
	if !ok {
		return database.Asset{}, false, fmt.Errorf("%w: %s", mediatypes.ErrUnsupported, ext)
	}
	info, err := os.Stat(o.path)
	if err != nil {
		return database.Asset{}, false, err
	}

	a = database.Asset{
		Digest:       o.digest,
		Kind:         format.Kind,
		OriginalName: filepath.Base(o.path),
		Extension:    format.Extension,
		Size:         info.Size(),
		MimeType:     format.MimeType,
		ArchivePath:  r.store.RelPath(o.path),
		ImportedAt:   info.ModTime().UTC(),
		SidecarState: database.SidecarMissing,
	}

	if r.prober != nil {
		probe, err := r.prober.Probe(ctx, o.path, format)
		tech := probe.Meta
		if err != nil {
			log.Debug("probe %s degraded: %v", o.digest.Short(), err)
		}
		a.Technical = tech
		if tech.MimeType != "" {
			a.MimeType = tech.MimeType
		}
	}

	for _, kind := range mediatypes.DerivativeKinds {
		if r.store.DerivativeExists(o.digest, kind) {
			if a.Derivatives == nil {
				a.Derivatives = make(map[mediatypes.DerivativeKind]string)
			}
			a.Derivatives[kind] = r.store.RelPath(r.store.DerivativePath(o.digest, kind))
		}
	}

	s, sidecarErr := r.Read(o.digest)
	if sidecarErr != nil {
		if !errors.Is(sidecarErr, ErrMalformed) {
			return database.Asset{}, false, sidecarErr
		}
		r.quarantine(o.digest, sidecarErr)
		return a, true, nil
	}
	if s != nil {
		a.User = s.User
		a.SidecarRevision = s.Revision
		a.SidecarHash = s.Hash
		a.SidecarState = database.SidecarSynced
		if s.OriginalName != "" {
			a.OriginalName = s.OriginalName
		}
		if !s.ImportedAt.IsZero() {
			a.ImportedAt = s.ImportedAt
		}
	}
	return a, false, nil
}
