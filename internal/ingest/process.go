package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"media-archive/internal/contentstore"
	"media-archive/internal/database"
	"media-archive/internal/derivative"
	"media-archive/internal/discovery"
	"media-archive/internal/extractor"
	"media-archive/internal/hasher"
	"media-archive/internal/mediatypes"
	"media-archive/internal/metrics"
)

func failed(path string, d hasher.Digest, err error) Outcome {
	return Outcome{Path: path, Status: StatusFailed, Digest: d, Reason: err.Error(), err: err}
}

// cancelledOr classifies err as a cancellation when ctx is done and
// wraps it with class otherwise.
func cancelledOr(ctx context.Context, class error, what string, err error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("%w: %s: %v", ErrCancelled, what, ctx.Err())
	}
	return fmt.Errorf("%w: %s: %v", class, what, err)
}

func observe(stage string, start time.Time) {
	metrics.IngestStageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}

// process runs one file through the state machine and returns its
// terminal outcome.
func (c *Coordinator) process(ctx context.Context, s *Session, cand discovery.Candidate) (out Outcome) {
	path := cand.Path
	kind := string(cand.Format.Kind)
	defer func() {
		metrics.IngestFilesTotal.WithLabelValues(kind, string(out.Status)).Inc()
		if out.Status == StatusFailed {
			log.Warn("%s: %s", path, out.Reason)
		}
	}()

	if err := ctx.Err(); err != nil {
		return failed(path, "", fmt.Errorf("%w: %v", ErrCancelled, err))
	}
	if c.deps.Monitor != nil {
		if err := c.deps.Monitor.Wait(ctx); err != nil {
			return failed(path, "", fmt.Errorf("%w: %v", ErrCancelled, err))
		}
	}

	// Hashed
	start := time.Now()
	d, size, err := hasher.SumFile(ctx, path)
	observe("hash", start)
	if err != nil {
		return failed(path, "", cancelledOr(ctx, ErrIOFailure, "hash", err))
	}
	s.emit(path, StageHashed, d, nil)

	// The digest lock spans DedupChecked through Committed/Failed.
	start = time.Now()
	unlock, contended, err := c.digest.Lock(ctx, string(d))
	observe("dedup_wait", start)
	if err != nil {
		return failed(path, d, fmt.Errorf("%w: %v", ErrCancelled, err))
	}
	defer unlock()
	if contended {
		metrics.IngestDigestContention.Inc()
	}
	metrics.IngestInFlight.Inc()
	defer metrics.IngestInFlight.Dec()

	exists, err := c.deps.DB.AssetExists(ctx, d)
	if err != nil {
		return failed(path, d, cancelledOr(ctx, ErrIOFailure, "dedup lookup", err))
	}
	s.emit(path, StageDedupChecked, d, nil)
	if exists {
		return c.duplicate(ctx, s, path, d)
	}
	return c.store(ctx, s, cand, d, size)
}

// duplicate records a path whose content is already archived.
func (c *Coordinator) duplicate(ctx context.Context, s *Session, path string, d hasher.Digest) Outcome {
	out := Outcome{Path: path, Status: StatusDuplicate, Digest: d}
	if a, err := c.deps.DB.GetAsset(ctx, d); err == nil {
		out.Kind = a.Kind
	}

	if !s.options.SkipIfDuplicate {
		err := c.deps.DB.AddObservation(ctx, database.Observation{
			Digest:     d,
			SourcePath: path,
			SessionID:  s.id,
			ObservedAt: time.Now(),
		})
		if err != nil {
			return failed(path, d, cancelledOr(ctx, ErrIndexCommit, "link duplicate", err))
		}
	}
	log.Debug("%s is a duplicate of %s", path, d.Short())

	if s.options.DeleteSourceOnSuccess {
		if w := c.deleteSource(path, d); w != "" {
			out.Warnings = append(out.Warnings, w)
		}
	}
	return out
}

// store handles new content: extraction and derivatives in parallel,
// then placement, sidecar and index commit.
func (c *Coordinator) store(ctx context.Context, s *Session, cand discovery.Candidate, d hasher.Digest, size int64) Outcome {
	path := cand.Path
	var warnings []string

	start := time.Now()
	var (
		probe  extractor.Result
		set    derivative.Set
		probed = make(chan struct{})
	)
	src := derivative.Source{Digest: d, Path: path, Format: cand.Format}
	if extractor.NeedsPreview(cand.Format) {
		// The probe reads the embedded preview in the same tool run.
		src.Preview = func(ctx context.Context) ([]byte, error) {
			select {
			case <-probed:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			if len(probe.Preview) == 0 {
				return nil, extractor.ErrNoPreview
			}
			return probe.Preview, nil
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(probed)
		var err error
		probe, err = c.deps.Extractor.Probe(gctx, path, cand.Format)
		if err != nil && gctx.Err() == nil {
			warnings = append(warnings, fmt.Errorf("%w: %v", ErrExtractionUnavailable, err).Error())
		}
		s.emit(path, StageMetadataExtracted, d, nil)
		return nil
	})
	g.Go(func() error {
		set = c.deps.Generator.Generate(gctx, src)
		s.emit(path, StageDerivativesGenerated, d, nil)
		return nil
	})
	_ = g.Wait()
	observe("process", start)

	if err := ctx.Err(); err != nil {
		set.Discard()
		return failed(path, d, fmt.Errorf("%w: %v", ErrCancelled, err))
	}
	for _, k := range mediatypes.DerivativeKinds {
		if o, ok := set[k]; ok && o.Err != nil {
			warnings = append(warnings, fmt.Errorf("%w: %s: %v", ErrDerivativeGeneration, k, o.Err).Error())
		}
	}

	// Stored: canonical bytes, then derivatives.
	start = time.Now()
	placed, err := c.deps.Store.PlaceFile(ctx, d, path, cand.Format.Extension)
	if err != nil {
		set.Discard()
		if errors.Is(err, contentstore.ErrDigestMismatch) {
			return failed(path, d, fmt.Errorf("%w: source changed during import: %v", ErrIOFailure, err))
		}
		return failed(path, d, cancelledOr(ctx, ErrIOFailure, "place", err))
	}
	if placed.Placed {
		metrics.IngestBytesStored.Add(float64(placed.Size))
	}
	derivs, err := set.Promote(c.deps.Store, d, false)
	if err != nil {
		warnings = append(warnings, fmt.Errorf("%w: %v", ErrDerivativeGeneration, err).Error())
	}
	observe("place", start)
	s.emit(path, StageStored, d, nil)

	tech := probe.Meta
	mime := tech.MimeType
	if mime == "" {
		mime = cand.Format.MimeType
	}
	asset := &database.Asset{
		Digest:       d,
		Kind:         cand.Format.Kind,
		OriginalName: filepath.Base(path),
		Extension:    cand.Format.Extension,
		Size:         size,
		MimeType:     mime,
		Technical:    tech,
		ArchivePath:  c.deps.Store.RelPath(placed.Path),
		Derivatives:  derivs,
		ImportedAt:   time.Now().UTC(),
	}

	start = time.Now()
	if err := c.deps.Sidecars.WriteInitial(ctx, asset); err != nil {
		if ctx.Err() != nil {
			return failed(path, d, fmt.Errorf("%w: %v", ErrCancelled, ctx.Err()))
		}
		// The row is committed as pending; reconcile restores the file.
		warnings = append(warnings, fmt.Sprintf("sidecar deferred: %v", err))
	}
	observe("sidecar", start)
	s.emit(path, StageSidecarWritten, d, nil)

	start = time.Now()
	err = c.deps.DB.CommitAsset(ctx, asset, database.Observation{
		Digest:     d,
		SourcePath: path,
		SessionID:  s.id,
		ObservedAt: time.Now(),
	})
	observe("commit", start)
	if errors.Is(err, database.ErrAssetExists) {
		// Another process committed the same content first.
		return c.duplicate(ctx, s, path, d)
	}
	if err != nil {
		return failed(path, d, cancelledOr(ctx, ErrIndexCommit, "commit", err))
	}

	out := Outcome{
		Path:        path,
		Status:      StatusStored,
		Digest:      d,
		Kind:        cand.Format.Kind,
		Derivatives: derivativeKinds(derivs),
		Warnings:    warnings,
	}
	log.Debug("stored %s as %s (%d derivatives)", path, d.Short(), len(derivs))

	if s.options.DeleteSourceOnSuccess {
		if w := c.deleteSource(path, d); w != "" {
			out.Warnings = append(out.Warnings, w)
		}
	}
	return out
}

func derivativeKinds(m map[mediatypes.DerivativeKind]string) []mediatypes.DerivativeKind {
	var kinds []mediatypes.DerivativeKind
	for _, k := range mediatypes.DerivativeKinds {
		if _, ok := m[k]; ok {
			kinds = append(kinds, k)
		}
	}
	return kinds
}

// deleteSource removes an ingested source once the canonical copy is
// confirmed on disk. It returns a warning instead of failing the file.
func (c *Coordinator) deleteSource(path string, d hasher.Digest) string {
	exists, err := c.deps.Store.Exists(d)
	if err != nil || !exists {
		return fmt.Sprintf("source kept: canonical copy of %s not confirmed", d.Short())
	}
	if err := os.Remove(path); err != nil {
		return fmt.Sprintf("source kept: %v", err)
	}
	log.Debug("deleted source %s", path)
	return ""
}
