// Package sidecar keeps the index and the per-asset XMP sidecars in
// agreement. The sidecar is the durable source of truth for user-assigned
// metadata; the index holds a fast copy that may be ahead of it while a
// write is pending.
package sidecar

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"media-archive/internal/contentstore"
	"media-archive/internal/database"
	"media-archive/internal/extractor"
	"media-archive/internal/hasher"
	"media-archive/internal/keylock"
	"media-archive/internal/logging"
	"media-archive/internal/mediatypes"
	"media-archive/internal/metrics"
)

var log = logging.For("sidecar")

// Action is the outcome of reconciling one asset.
type Action string

const (
	ActionUnchanged Action = "unchanged"
	// ActionPulled means the sidecar changed and its fields replaced the
	// index copy.
	ActionPulled Action = "pulled"
	// ActionPushed means a pending index change was flushed to the sidecar.
	ActionPushed Action = "pushed"
	// ActionRestored means the sidecar was missing or unreadable and was
	// rewritten from the index.
	ActionRestored Action = "restored"
)

// Index is the subset of the database the reconciler needs.
type Index interface {
	GetAsset(ctx context.Context, d hasher.Digest) (*database.Asset, error)
	UpdateUserMetadata(ctx context.Context, d hasher.Digest, meta mediatypes.UserMetadata, revision int64, state database.SidecarState) error
	MarkSidecarSynced(ctx context.Context, d hasher.Digest, revision int64, contentHash string) error
	ListDigests(ctx context.Context, states ...database.SidecarState) ([]hasher.Digest, error)
	ReplaceAllAssets(ctx context.Context, assets []database.Asset) error
	SetTimestamp(ctx context.Context, key string, t time.Time) error
}

// Prober re-reads technical metadata during a rebuild.
type Prober interface {
	Probe(ctx context.Context, path string, format mediatypes.Format) (extractor.Result, error)
}

// Reconciler reads, writes and reconciles sidecars. All mutations of one
// digest are serialized; different digests proceed in parallel.
type Reconciler struct {
	index       Index
	store       *contentstore.Store
	prober      Prober
	concurrency int
	locks       keylock.Map
}

// New creates a Reconciler. concurrency bounds ReconcileAll and rebuild
// parallelism; values below 1 mean 1.
func New(index Index, store *contentstore.Store, prober Prober, concurrency int) *Reconciler {
	return &Reconciler{
		index:       index,
		store:       store,
		prober:      prober,
		concurrency: max(concurrency, 1),
	}
}

func (r *Reconciler) lock(ctx context.Context, d hasher.Digest) (func(), error) {
	unlock, _, err := r.locks.Lock(ctx, string(d))
	return unlock, err
}

// Read loads the sidecar for d. It returns nil, nil when none exists and
// an error wrapping ErrMalformed when the file cannot be parsed or belongs
// to another digest.
func (r *Reconciler) Read(d hasher.Digest) (*Sidecar, error) {
	data, err := os.ReadFile(r.store.SidecarPath(d))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read sidecar %s: %w", d.Short(), err)
	}

	s, err := Unmarshal(data)
	if err != nil {
		return nil, err
	}
	switch {
	case s.Digest == "":
		s.Digest = d
	case s.Digest != d:
		return nil, fmt.Errorf("%w: sidecar names digest %s", ErrMalformed, s.Digest.Short())
	}
	s.Hash = string(hasher.SumBytes(data))
	return s, nil
}

// Write atomically replaces the sidecar for s.Digest and sets s.Hash to the
// digest of the bytes written.
func (r *Reconciler) Write(s *Sidecar) (string, error) {
	data := Marshal(s)
	if err := r.store.WriteFileAtomic(r.store.SidecarPath(s.Digest), data); err != nil {
		metrics.SidecarWritesTotal.WithLabelValues("error").Inc()
		return "", fmt.Errorf("write sidecar %s: %w", s.Digest.Short(), err)
	}
	metrics.SidecarWritesTotal.WithLabelValues("success").Inc()
	s.Hash = string(hasher.SumBytes(data))
	return s.Hash, nil
}

func fromAsset(a *database.Asset, revision int64) *Sidecar {
	return &Sidecar{
		Digest:       a.Digest,
		Revision:     revision,
		User:         a.User,
		OriginalName: a.OriginalName,
		Kind:         a.Kind,
		ImportedAt:   a.ImportedAt,
	}
}

// WriteInitial runs during ingest, before the index row exists. A sidecar
// already on disk (left by an interrupted run or copied in with the
// archive) is adopted: its user fields and revision replace those in a.
// Otherwise revision 1 is written from a. On return a carries the sidecar
// revision, hash and state to commit. A write failure leaves a pending so
// a later reconcile restores the file.
func (r *Reconciler) WriteInitial(ctx context.Context, a *database.Asset) error {
	unlock, err := r.lock(ctx, a.Digest)
	if err != nil {
		return err
	}
	defer unlock()

	existing, err := r.Read(a.Digest)
	if errors.Is(err, ErrMalformed) {
		r.quarantine(a.Digest, err)
		existing, err = nil, nil
	}
	if err != nil {
		a.SidecarState = database.SidecarPending
		return err
	}

	if existing != nil {
		log.Debug("adopting existing sidecar for %s at revision %d", a.Digest.Short(), existing.Revision)
		a.User = existing.User
		a.SidecarRevision = existing.Revision
		a.SidecarHash = existing.Hash
		a.SidecarState = database.SidecarSynced
		return nil
	}

	s := fromAsset(a, 1)
	hash, err := r.Write(s)
	if err != nil {
		a.SidecarRevision = 1
		a.SidecarState = database.SidecarPending
		return err
	}
	a.User = s.User.Normalize()
	a.SidecarRevision = 1
	a.SidecarHash = hash
	a.SidecarState = database.SidecarSynced
	return nil
}

// Update applies a user edit: the index is written first in the pending
// state, then the sidecar is flushed and the row marked synced. External
// sidecar edits are pulled in before the new values are applied.
func (r *Reconciler) Update(ctx context.Context, d hasher.Digest, meta mediatypes.UserMetadata) (*database.Asset, error) {
	if meta.Rating < -1 || meta.Rating > 5 {
		return nil, fmt.Errorf("%w: rating %d out of range", ErrInvalidMetadata, meta.Rating)
	}
	unlock, err := r.lock(ctx, d)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if _, _, err := r.reconcileLocked(ctx, d); err != nil {
		return nil, err
	}
	a, err := r.index.GetAsset(ctx, d)
	if err != nil {
		return nil, err
	}

	a.User = meta.Normalize()
	a.SidecarRevision++
	if err := r.index.UpdateUserMetadata(ctx, d, a.User, a.SidecarRevision, database.SidecarPending); err != nil {
		return nil, err
	}
	a.SidecarState = database.SidecarPending

	out := fromAsset(a, a.SidecarRevision)
	out.Foreign = r.foreign(d)
	hash, err := r.Write(out)
	if err != nil {
		log.Warn("sidecar flush for %s deferred: %v", d.Short(), err)
		return a, nil
	}
	if err := r.index.MarkSidecarSynced(ctx, d, a.SidecarRevision, hash); err != nil {
		return nil, err
	}
	a.SidecarHash = hash
	a.SidecarState = database.SidecarSynced
	return a, nil
}

// Unsynced lists assets whose sidecar is pending or missing, the ones a
// crash between the index write and the sidecar flush leaves behind.
func (r *Reconciler) Unsynced(ctx context.Context) ([]hasher.Digest, error) {
	return r.index.ListDigests(ctx, database.SidecarPending, database.SidecarMissing)
}

// Reconcile brings one asset's index row and sidecar into agreement.
func (r *Reconciler) Reconcile(ctx context.Context, d hasher.Digest) (Action, error) {
	unlock, err := r.lock(ctx, d)
	if err != nil {
		return "", err
	}
	defer unlock()

	action, conflict, err := r.reconcileLocked(ctx, d)
	record(action, conflict, err)
	return action, err
}

func record(action Action, conflict bool, err error) {
	if err != nil {
		metrics.SidecarReconcileTotal.WithLabelValues("error").Inc()
		return
	}
	metrics.SidecarReconcileTotal.WithLabelValues(string(action)).Inc()
	if conflict {
		metrics.SidecarReconcileTotal.WithLabelValues("conflict").Inc()
	}
}

// reconcileLocked applies the precedence rules. A sidecar whose revision
// is ahead of the index, or whose bytes differ from the last synced hash,
// wins over the index even when the index has a pending change.
func (r *Reconciler) reconcileLocked(ctx context.Context, d hasher.Digest) (Action, bool, error) {
	a, err := r.index.GetAsset(ctx, d)
	if err != nil {
		return "", false, err
	}

	s, err := r.Read(d)
	if errors.Is(err, ErrMalformed) {
		r.quarantine(d, err)
		s, err = nil, nil
	}
	if err != nil {
		return "", false, err
	}

	if s == nil {
		rev := max(a.SidecarRevision, 1)
		if err := r.flush(ctx, a, rev, Foreign{}); err != nil {
			return "", false, err
		}
		log.Info("restored sidecar for %s at revision %d", d.Short(), rev)
		return ActionRestored, false, nil
	}

	if s.Revision > a.SidecarRevision || s.Hash != a.SidecarHash {
		conflict := a.SidecarState == database.SidecarPending
		if conflict {
			log.Info("sidecar conflict on %s: index revision %d pending, sidecar revision %d wins",
				d.Short(), a.SidecarRevision, s.Revision)
		}
		if err := r.pull(ctx, a, s); err != nil {
			return "", conflict, err
		}
		return ActionPulled, conflict, nil
	}

	if a.SidecarState != database.SidecarSynced {
		if err := r.flush(ctx, a, a.SidecarRevision, s.Foreign); err != nil {
			return "", false, err
		}
		return ActionPushed, false, nil
	}
	return ActionUnchanged, false, nil
}

// pull copies sidecar fields into the index. An external edit that kept
// the revision is given the next revision and rewritten so the revision
// stays monotonic.
func (r *Reconciler) pull(ctx context.Context, a *database.Asset, s *Sidecar) error {
	rev := s.Revision
	if rev <= a.SidecarRevision {
		rev = a.SidecarRevision + 1
	}
	if err := r.index.UpdateUserMetadata(ctx, a.Digest, s.User, rev, database.SidecarPending); err != nil {
		return err
	}

	hash := s.Hash
	if rev != s.Revision {
		a.User = s.User
		out := fromAsset(a, rev)
		out.Foreign = s.Foreign
		if s.OriginalName != "" {
			out.OriginalName = s.OriginalName
		}
		var err error
		if hash, err = r.Write(out); err != nil {
			return err
		}
	}
	return r.index.MarkSidecarSynced(ctx, a.Digest, rev, hash)
}

func (r *Reconciler) flush(ctx context.Context, a *database.Asset, rev int64, foreign Foreign) error {
	out := fromAsset(a, rev)
	out.Foreign = foreign
	hash, err := r.Write(out)
	if err != nil {
		return err
	}
	return r.index.MarkSidecarSynced(ctx, a.Digest, rev, hash)
}

// foreign returns the other tools' content of d's current sidecar, or
// nothing when it cannot be read.
func (r *Reconciler) foreign(d hasher.Digest) Foreign {
	s, err := r.Read(d)
	if err != nil || s == nil {
		return Foreign{}
	}
	return s.Foreign
}

// quarantine moves an unreadable sidecar aside so it can be inspected
// and is not silently overwritten.
func (r *Reconciler) quarantine(d hasher.Digest, cause error) {
	path := r.store.SidecarPath(d)
	if err := os.Rename(path, path+".corrupt"); err != nil {
		log.Error("failed to quarantine sidecar %s: %v", path, err)
		return
	}
	log.Warn("quarantined unreadable sidecar for %s: %v", d.Short(), cause)
}

// Failure is one digest that could not be reconciled.
type Failure struct {
	Digest hasher.Digest `json:"digest"`
	Reason string        `json:"reason"`
}

// Report summarizes a ReconcileAll run.
type Report struct {
	Total     int       `json:"total"`
	Unchanged int       `json:"unchanged"`
	Pulled    int       `json:"pulled"`
	Pushed    int       `json:"pushed"`
	Restored  int       `json:"restored"`
	Conflicts int       `json:"conflicts"`
	Failed    int       `json:"failed"`
	Failures  []Failure `json:"failures,omitempty"`
}

func (rep *Report) add(d hasher.Digest, action Action, conflict bool, err error) {
	rep.Total++
	if err != nil {
		rep.Failed++
		rep.Failures = append(rep.Failures, Failure{Digest: d, Reason: err.Error()})
		return
	}
	switch action {
	case ActionUnchanged:
		rep.Unchanged++
	case ActionPulled:
		rep.Pulled++
	case ActionPushed:
		rep.Pushed++
	case ActionRestored:
		rep.Restored++
	}
	if conflict {
		rep.Conflicts++
	}
}

// ReconcileAll reconciles the given digests, or every asset when none are
// given. Per-asset failures are collected in the report; only
// cancellation or a failure to list the index aborts the run.
func (r *Reconciler) ReconcileAll(ctx context.Context, digests []hasher.Digest) (Report, error) {
	var rep Report
	if len(digests) == 0 {
		all, err := r.index.ListDigests(ctx)
		if err != nil {
			return rep, fmt.Errorf("list assets: %w", err)
		}
		digests = all
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for _, d := range digests {
		g.Go(func() error {
			unlock, err := r.lock(gctx, d)
			if err != nil {
				return err
			}
			action, conflict, err := r.reconcileLocked(gctx, d)
			unlock()
			if err != nil && gctx.Err() != nil {
				return gctx.Err()
			}
			record(action, conflict, err)
			if err != nil {
				log.Warn("reconcile %s failed: %v", d.Short(), err)
			}

			mu.Lock()
			rep.add(d, action, conflict, err)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return rep, err
	}

	if err := r.index.SetTimestamp(ctx, database.KeyLastReconcile, time.Now()); err != nil {
		log.Warn("failed to record reconcile time: %v", err)
	}
	log.Info("reconciled %d assets: %d unchanged, %d pulled, %d pushed, %d restored, %d conflicts, %d failed",
		rep.Total, rep.Unchanged, rep.Pulled, rep.Pushed, rep.Restored, rep.Conflicts, rep.Failed)
	return rep, nil
}
