// Package ingest moves files into the archive. A Coordinator owns a
// bounded worker pool shared by all sessions; each file runs the state
// machine under a per-digest lock so concurrent submissions of the same
// content store it at most once.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"media-archive/internal/contentstore"
	"media-archive/internal/database"
	"media-archive/internal/derivative"
	"media-archive/internal/discovery"
	"media-archive/internal/extractor"
	"media-archive/internal/hasher"
	"media-archive/internal/keylock"
	"media-archive/internal/logging"
	"media-archive/internal/mediatypes"
	"media-archive/internal/memory"
	"media-archive/internal/metrics"
	"media-archive/internal/workers"
)

var log = logging.For("ingest")

// Index is the subset of the database the coordinator uses.
type Index interface {
	AssetExists(ctx context.Context, d hasher.Digest) (bool, error)
	GetAsset(ctx context.Context, d hasher.Digest) (*database.Asset, error)
	CommitAsset(ctx context.Context, a *database.Asset, obs database.Observation) error
	AddObservation(ctx context.Context, obs database.Observation) error
	UpdateDerivatives(ctx context.Context, d hasher.Digest, paths map[mediatypes.DerivativeKind]string) error
	ListAssets(ctx context.Context, after hasher.Digest, limit int) ([]database.Asset, error)
	DeleteAsset(ctx context.Context, d hasher.Digest) error
	SaveSession(ctx context.Context, rec *database.SessionRecord) error
	GetSessionRecord(ctx context.Context, id string) (*database.SessionRecord, error)
	SetTimestamp(ctx context.Context, key string, t time.Time) error
}

// Extractor probes technical metadata.
type Extractor interface {
	Probe(ctx context.Context, path string, format mediatypes.Format) (extractor.Result, error)
}

// Generator produces derivative tiers.
type Generator interface {
	Generate(ctx context.Context, src derivative.Source) derivative.Set
	Regenerate(ctx context.Context, d hasher.Digest) (map[mediatypes.DerivativeKind]string, error)
	Config() derivative.Config
}

// Sidecars writes the initial sidecar of a new asset.
type Sidecars interface {
	WriteInitial(ctx context.Context, a *database.Asset) error
}

// Deps are the collaborators a Coordinator is built from. Monitor and
// Walker are optional.
type Deps struct {
	DB        Index
	Store     *contentstore.Store
	Extractor Extractor
	Generator Generator
	Sidecars  Sidecars
	Monitor   *memory.Monitor
	Walker    *discovery.Walker
}

// Config tunes the coordinator.
type Config struct {
	// Workers is the pool size; 0 picks a size from the CPU count.
	Workers int
	// Retention is how long finished sessions stay queryable in memory.
	// Older sessions are served from the index.
	Retention time.Duration
}

// DefaultConfig returns the default pool settings.
func DefaultConfig() Config {
	return Config{Retention: 30 * time.Minute}
}

type job struct {
	ctx       context.Context
	session   *Session
	candidate discovery.Candidate
	done      func()
}

// Coordinator runs import sessions.
type Coordinator struct {
	deps    Deps
	cfg     Config
	walker  *discovery.Walker
	workers int

	jobs   chan job
	wg     sync.WaitGroup
	digest keylock.Map

	mu       sync.Mutex
	sessions map[string]*Session
	closed   bool
}

// New validates deps and starts the worker pool.
func New(deps Deps, cfg Config) (*Coordinator, error) {
	switch {
	case deps.DB == nil:
		return nil, fmt.Errorf("%w: index is required", ErrInvalidConfig)
	case deps.Store == nil:
		return nil, fmt.Errorf("%w: content store is required", ErrInvalidConfig)
	case deps.Extractor == nil:
		return nil, fmt.Errorf("%w: extractor is required", ErrInvalidConfig)
	case deps.Generator == nil:
		return nil, fmt.Errorf("%w: derivative generator is required", ErrInvalidConfig)
	case deps.Sidecars == nil:
		return nil, fmt.Errorf("%w: sidecar writer is required", ErrInvalidConfig)
	}
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultConfig().Retention
	}

	c := &Coordinator{
		deps:     deps,
		cfg:      cfg,
		walker:   deps.Walker,
		workers:  workers.Resolve(cfg.Workers, 16),
		sessions: make(map[string]*Session),
	}
	if c.walker == nil {
		c.walker = discovery.New(discovery.DefaultConfig())
	}
	c.jobs = make(chan job)
	for i := 0; i < c.workers; i++ {
		c.wg.Add(1)
		go c.worker(i)
	}
	log.Info("ingest pool started with %d workers", c.workers)
	return c, nil
}

// Workers returns the pool size.
func (c *Coordinator) Workers() int { return c.workers }

func (c *Coordinator) worker(id int) {
	defer c.wg.Done()
	log.Debug("worker %d started", id)
	for j := range c.jobs {
		o := c.process(j.ctx, j.session, j.candidate)
		j.session.record(o)
		j.done()
	}
	log.Debug("worker %d finished", id)
}

// Submit starts a session for paths. Directories are expanded. The call
// returns once the session is registered; progress is observed through
// the Session. Only configuration problems fail the whole batch.
func (c *Coordinator) Submit(ctx context.Context, paths []string, opts Options) (*Session, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("%w: no paths submitted", ErrInvalidConfig)
	}
	if err := c.checkDestination(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	sctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s := newSession(paths, opts, cancel)
	c.sessions[s.id] = s
	c.mu.Unlock()

	if err := c.deps.DB.SaveSession(ctx, s.toRecord()); err != nil {
		log.Warn("failed to persist session %s: %v", s.id, err)
	}
	metrics.IngestSessionsActive.Inc()
	log.Info("session %s: %d paths submitted (delete source: %v, skip duplicates: %v)",
		s.id, len(paths), opts.DeleteSourceOnSuccess, opts.SkipIfDuplicate)

	go c.run(sctx, s)
	return s, nil
}

// checkDestination rejects a batch when the archive cannot be written.
func (c *Coordinator) checkDestination() error {
	f, err := c.deps.Store.NewTemp("probe-*")
	if err != nil {
		return fmt.Errorf("%w: archive not writable: %v", ErrInvalidConfig, err)
	}
	name := f.Name()
	_ = f.Close()
	_ = os.Remove(name)
	return nil
}

func (c *Coordinator) run(ctx context.Context, s *Session) {
	defer s.cancel()
	defer metrics.IngestSessionsActive.Dec()

	candidates, err := c.walker.Expand(ctx, s.paths)
	if err != nil {
		// Expansion only fails on cancellation; report every submitted path.
		candidates = make([]discovery.Candidate, len(s.paths))
		for i, p := range s.paths {
			candidates[i] = discovery.Candidate{Path: p, Err: err}
		}
	}
	s.setDiscovered(len(candidates))

	var pending sync.WaitGroup
	for _, cand := range candidates {
		s.emit(cand.Path, StageDiscovered, "", nil)
		if cand.Err != nil {
			s.record(failCandidate(ctx, cand))
			continue
		}

		pending.Add(1)
		select {
		case c.jobs <- job{ctx: ctx, session: s, candidate: cand, done: pending.Done}:
		case <-ctx.Done():
			pending.Done()
			s.record(failed(cand.Path, "", fmt.Errorf("%w: %v", ErrCancelled, ctx.Err())))
		}
	}
	pending.Wait()

	status := SessionCompleted
	if ctx.Err() != nil {
		status = SessionCancelled
	}
	s.finish(status)
	metrics.IngestSessionsTotal.WithLabelValues(status).Inc()

	// Persist before waiters are released so a finished session is
	// always readable from the index.
	saveCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := c.deps.DB.SaveSession(saveCtx, s.toRecord()); err != nil {
		log.Error("failed to persist session %s: %v", s.id, err)
	}
	cancel()
	close(s.done)

	r := s.result()
	log.Info("session %s %s: %d stored, %d duplicates, %d failed",
		s.id, status, r.Stored, r.Duplicates, r.Failed)

	time.AfterFunc(c.cfg.Retention, func() {
		c.mu.Lock()
		delete(c.sessions, s.id)
		c.mu.Unlock()
	})
}

func failCandidate(ctx context.Context, cand discovery.Candidate) Outcome {
	switch {
	case errors.Is(cand.Err, context.Canceled) || ctx.Err() != nil:
		return failed(cand.Path, "", fmt.Errorf("%w: %v", ErrCancelled, cand.Err))
	case errors.Is(cand.Err, mediatypes.ErrUnsupported):
		return failed(cand.Path, "", cand.Err)
	default:
		return failed(cand.Path, "", fmt.Errorf("%w: %v", ErrIOFailure, cand.Err))
	}
}

// Session returns a live or recently finished session.
func (c *Coordinator) Session(id string) (*Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sessions[id]
	return s, ok
}

// Snapshot returns the state of a session, falling back to the index
// for sessions no longer held in memory.
func (c *Coordinator) Snapshot(ctx context.Context, id string) (Snapshot, error) {
	if s, ok := c.Session(id); ok {
		return s.Snapshot(), nil
	}
	rec, err := c.deps.DB.GetSessionRecord(ctx, id)
	if errors.Is(err, database.ErrNotFound) {
		return Snapshot{}, ErrSessionNotFound
	}
	if err != nil {
		return Snapshot{}, err
	}
	return snapshotFromRecord(rec), nil
}

// Active returns the number of sessions still running.
func (c *Coordinator) Active() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, s := range c.sessions {
		select {
		case <-s.Done():
		default:
			n++
		}
	}
	return n
}

// Cancel cancels a running session.
func (c *Coordinator) Cancel(id string) error {
	s, ok := c.Session(id)
	if !ok {
		return ErrSessionNotFound
	}
	s.Cancel()
	return nil
}

// Close cancels all sessions, waits for them to record their outcomes and
// stops the pool.
func (c *Coordinator) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	live := make([]*Session, 0, len(c.sessions))
	for _, s := range c.sessions {
		live = append(live, s)
	}
	c.mu.Unlock()

	for _, s := range live {
		s.Cancel()
	}
	for _, s := range live {
		<-s.Done()
	}
	close(c.jobs)
	c.wg.Wait()
	log.Info("ingest pool stopped")
}
