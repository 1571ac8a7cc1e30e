package main

import (
	"context"
	"fmt"

	"media-archive/internal/contentstore"
	"media-archive/internal/database"
	"media-archive/internal/derivative"
	"media-archive/internal/extractor"
	"media-archive/internal/ingest"
	"media-archive/internal/logging"
	"media-archive/internal/sidecar"
	"media-archive/internal/startup"
	"media-archive/internal/workers"
)

// archive is the set of components a command works against, opened
// in-process on the configured directories.
type archive struct {
	db       *database.Database
	store    *contentstore.Store
	sidecars *sidecar.Reconciler
	coord    *ingest.Coordinator
}

// withArchive opens the archive, runs fn and closes everything again.
func withArchive(ctx context.Context, cfg *startup.Config, fn func(*archive) error) error {
	a, err := openArchive(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()
	return fn(a)
}

func openArchive(ctx context.Context, cfg *startup.Config) (*archive, error) {
	if err := startup.PrepareDirs(cfg); err != nil {
		return nil, err
	}

	db, err := database.New(ctx, cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("opening index: %w", err)
	}
	store, err := contentstore.New(cfg.ArchiveDir)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("opening content store: %w", err)
	}

	// libvips cannot be restarted once shut down, so main shuts it down
	// when the process exits.
	if err := derivative.InitVips(); err != nil {
		logging.Debug("libvips unavailable, using Go decoders: %v", err)
	}

	a := &archive{db: db, store: store}

	ext := extractor.New(cfg.Extractor())
	gen := derivative.New(cfg.Derivative(), store, ext)
	a.sidecars = sidecar.New(db, store, ext, workers.ForIO(8))

	a.coord, err = ingest.New(ingest.Deps{
		DB:        db,
		Store:     store,
		Extractor: ext,
		Generator: gen,
		Sidecars:  a.sidecars,
	}, ingest.Config{Workers: cfg.IngestWorkers})
	if err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *archive) close() {
	if a.coord != nil {
		a.coord.Close()
	}
	if err := a.db.Close(); err != nil {
		logging.Warn("closing index: %v", err)
	}
}
