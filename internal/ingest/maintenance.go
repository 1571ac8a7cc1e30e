package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"media-archive/internal/database"
	"media-archive/internal/derivative"
	"media-archive/internal/hasher"
	"media-archive/internal/mediatypes"
)

const pageSize = 500

// BackfillReport summarizes a Backfill run.
type BackfillReport struct {
	Scanned     int `json:"scanned"`
	Candidates  int `json:"candidates"`
	Regenerated int `json:"regenerated"`
	// Unchanged counts candidates whose attempt produced no new tier,
	// e.g. a RAW whose embedded preview is missing or too small.
	Unchanged int `json:"unchanged"`
	Failed    int `json:"failed"`
}

// Backfill regenerates derivative tiers that are missing for image and
// video assets: recorded files gone from disk, tiers the source is large
// enough for, and video posters.
func (c *Coordinator) Backfill(ctx context.Context) (BackfillReport, error) {
	var rep BackfillReport
	tiers := c.deps.Generator.Config().Tiers()

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.workers)

	err := c.eachAsset(gctx, func(a database.Asset) error {
		rep.Scanned++
		if !c.needsBackfill(&a, tiers) {
			return nil
		}
		rep.Candidates++
		d, had := a.Digest, c.presentKinds(&a)
		g.Go(func() error {
			gained, err := c.backfillOne(gctx, d, had)
			if gctx.Err() != nil {
				return gctx.Err()
			}
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				log.Warn("backfill %s failed: %v", d.Short(), err)
				rep.Failed++
			case gained > 0:
				rep.Regenerated++
			default:
				log.Debug("backfill %s: no tier could be produced", d.Short())
				rep.Unchanged++
			}
			return nil
		})
		return nil
	})
	if werr := g.Wait(); err == nil {
		err = werr
	}
	if err != nil {
		return rep, err
	}

	if err := c.deps.DB.SetTimestamp(ctx, database.KeyLastBackfill, time.Now()); err != nil {
		log.Warn("failed to record backfill time: %v", err)
	}
	log.Info("backfill: scanned %d, %d candidates, %d regenerated, %d unchanged, %d failed",
		rep.Scanned, rep.Candidates, rep.Regenerated, rep.Unchanged, rep.Failed)
	return rep, nil
}

// backfillOne regenerates d's missing tiers and returns how many tiers
// are now on disk that were not in had.
func (c *Coordinator) backfillOne(ctx context.Context, d hasher.Digest, had map[mediatypes.DerivativeKind]bool) (int, error) {
	unlock, _, err := c.digest.Lock(ctx, string(d))
	if err != nil {
		return 0, err
	}
	defer unlock()

	paths, err := c.deps.Generator.Regenerate(ctx, d)
	if paths == nil {
		return 0, err
	}
	gained := 0
	for k := range paths {
		if !had[k] {
			gained++
		}
	}
	// Partial results are still recorded.
	if uerr := c.deps.DB.UpdateDerivatives(ctx, d, paths); uerr != nil {
		return gained, errors.Join(err, uerr)
	}
	return gained, err
}

// presentKinds lists the recorded tiers of a that are still on disk.
func (c *Coordinator) presentKinds(a *database.Asset) map[mediatypes.DerivativeKind]bool {
	had := make(map[mediatypes.DerivativeKind]bool, len(a.Derivatives))
	for k := range a.Derivatives {
		if c.deps.Store.DerivativeExists(a.Digest, k) {
			had[k] = true
		}
	}
	return had
}

// needsBackfill reports whether a is missing a tier it should have:
// a recorded file gone from disk, a video poster, or a tier the source's
// short edge is large enough for. Assets too small for any tier, or of
// unknown size, are left alone.
func (c *Coordinator) needsBackfill(a *database.Asset, tiers []derivative.Tier) bool {
	if a.Kind != mediatypes.KindImage && a.Kind != mediatypes.KindVideo {
		return false
	}
	for k := range a.Derivatives {
		if !c.deps.Store.DerivativeExists(a.Digest, k) {
			return true
		}
	}
	if a.Kind == mediatypes.KindVideo {
		if _, ok := a.Derivatives[mediatypes.DerivativePoster]; !ok {
			return true
		}
	}
	short := a.Technical.ShortEdge()
	if short == 0 {
		return false
	}
	for _, t := range tiers {
		if _, ok := a.Derivatives[t.Kind]; !ok && t.Edge <= short {
			return true
		}
	}
	return false
}

// eachAsset pages through the index in digest order.
func (c *Coordinator) eachAsset(ctx context.Context, fn func(database.Asset) error) error {
	var after hasher.Digest
	for {
		page, err := c.deps.DB.ListAssets(ctx, after, pageSize)
		if err != nil {
			return fmt.Errorf("list assets: %w", err)
		}
		for _, a := range page {
			if err := fn(a); err != nil {
				return err
			}
		}
		if len(page) < pageSize {
			return nil
		}
		after = page[len(page)-1].Digest
	}
}

// SweepReport summarizes SweepOrphans.
type SweepReport struct {
	Originals        int             `json:"originals"`
	Orphans          int             `json:"orphans"`
	Adopted          int             `json:"adopted"`
	Removed          int             `json:"removed"`
	MissingOriginals []hasher.Digest `json:"missingOriginals,omitempty"`
	TempRemoved      int             `json:"tempRemoved"`
	Failed           int             `json:"failed"`
}

// SweepOrphans reconciles the content store with the index. Canonical
// files without a row, typically left by a failed commit, are adopted
// (probed, given a sidecar and committed) or, with gc set, removed along
// with their derivatives and sidecar. Rows whose original is gone are
// reported, never deleted. Abandoned staging files are cleaned.
func (c *Coordinator) SweepOrphans(ctx context.Context, gc bool) (SweepReport, error) {
	var rep SweepReport

	var orphans []hasher.Digest
	err := c.deps.Store.WalkOriginals(ctx, func(d hasher.Digest, _ string) error {
		rep.Originals++
		exists, err := c.deps.DB.AssetExists(ctx, d)
		if err != nil {
			return err
		}
		if !exists {
			orphans = append(orphans, d)
		}
		return nil
	})
	if err != nil {
		return rep, fmt.Errorf("walk originals: %w", err)
	}
	rep.Orphans = len(orphans)

	for _, d := range orphans {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		var err error
		if gc {
			err = c.removeOrphan(ctx, d)
		} else {
			err = c.adopt(ctx, d)
		}
		switch {
		case err != nil:
			log.Warn("sweep %s failed: %v", d.Short(), err)
			rep.Failed++
		case gc:
			rep.Removed++
		default:
			rep.Adopted++
		}
	}

	err = c.eachAsset(ctx, func(a database.Asset) error {
		ok, err := c.deps.Store.Exists(a.Digest)
		if err != nil {
			return err
		}
		if !ok {
			rep.MissingOriginals = append(rep.MissingOriginals, a.Digest)
		}
		return nil
	})
	if err != nil {
		return rep, err
	}
	for _, d := range rep.MissingOriginals {
		log.Error("index row %s has no original in the archive", d.Short())
	}

	if n, err := c.deps.Store.CleanTemp(time.Hour); err != nil {
		log.Warn("failed to clean staging directory: %v", err)
	} else {
		rep.TempRemoved = n
	}

	if err := c.deps.DB.SetTimestamp(ctx, database.KeyLastSweep, time.Now()); err != nil {
		log.Warn("failed to record sweep time: %v", err)
	}
	log.Info("sweep: %d originals, %d orphans (%d adopted, %d removed, %d failed), %d rows without original",
		rep.Originals, rep.Orphans, rep.Adopted, rep.Removed, rep.Failed, len(rep.MissingOriginals))
	return rep, nil
}

func (c *Coordinator) removeOrphan(ctx context.Context, d hasher.Digest) error {
	unlock, _, err := c.digest.Lock(ctx, string(d))
	if err != nil {
		return err
	}
	defer unlock()

	// An ingest may have committed it since the walk.
	if exists, err := c.deps.DB.AssetExists(ctx, d); err != nil || exists {
		return err
	}
	return c.deps.Store.Remove(d)
}

// adopt commits a row for an unreferenced original. It never creates a
// second row for the same digest.
func (c *Coordinator) adopt(ctx context.Context, d hasher.Digest) error {
	unlock, _, err := c.digest.Lock(ctx, string(d))
	if err != nil {
		return err
	}
	defer unlock()

	if exists, err := c.deps.DB.AssetExists(ctx, d); err != nil || exists {
		return err
	}
	path, err := c.deps.Store.Locate(d)
	if err != nil {
		return err
	}
	format, ok := mediatypes.LookupExtension(filepath.Ext(path))
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnsupported, filepath.Ext(path))
	}
	info, err := os.Stat(path)
	if err != nil {
		return err
	}

	probe, err := c.deps.Extractor.Probe(ctx, path, format)
	if err != nil {
		log.Debug("adopt %s: %v", d.Short(), err)
	}
	tech := probe.Meta
	mime := tech.MimeType
	if mime == "" {
		mime = format.MimeType
	}
	asset := &database.Asset{
		Digest:       d,
		Kind:         format.Kind,
		OriginalName: filepath.Base(path),
		Extension:    format.Extension,
		Size:         info.Size(),
		MimeType:     mime,
		Technical:    tech,
		ArchivePath:  c.deps.Store.RelPath(path),
		ImportedAt:   info.ModTime().UTC(),
	}
	if format.HasDerivatives() {
		paths, err := c.deps.Generator.Regenerate(ctx, d)
		if err != nil {
			log.Warn("adopt %s: derivatives incomplete: %v", d.Short(), err)
		}
		asset.Derivatives = paths
	}
	if err := c.deps.Sidecars.WriteInitial(ctx, asset); err != nil {
		log.Warn("adopt %s: sidecar deferred: %v", d.Short(), err)
	}

	err = c.deps.DB.CommitAsset(ctx, asset, database.Observation{})
	if errors.Is(err, database.ErrAssetExists) {
		return nil
	}
	if err == nil {
		log.Info("adopted orphan %s", d.Short())
	}
	return err
}
