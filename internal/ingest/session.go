package ingest

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"media-archive/internal/database"
	"media-archive/internal/hasher"
	"media-archive/internal/mediatypes"
)

// Stage is a point in the per-file state machine:
//
//	Discovered → Hashed → DedupChecked → {MetadataExtracted ∥ DerivativesGenerated}
//	  → Stored → SidecarWritten → Committed
//
// with Failed reachable from any stage.
type Stage string

const (
	StageDiscovered           Stage = "discovered"
	StageHashed               Stage = "hashed"
	StageDedupChecked         Stage = "dedup_checked"
	StageMetadataExtracted    Stage = "metadata_extracted"
	StageDerivativesGenerated Stage = "derivatives_generated"
	StageStored               Stage = "stored"
	StageSidecarWritten       Stage = "sidecar_written"
	StageCommitted            Stage = "committed"
	StageFailed               Stage = "failed"
)

// Status is the terminal result for one path.
type Status string

const (
	StatusStored    Status = "stored"
	StatusDuplicate Status = "duplicate"
	StatusFailed    Status = "failed"
)

// Session states.
const (
	SessionRunning   = "running"
	SessionCompleted = "completed"
	SessionCancelled = "cancelled"
)

// Options control a batch.
type Options struct {
	// DeleteSourceOnSuccess removes each source after it is committed or
	// confirmed as a duplicate, and only once the canonical file exists.
	DeleteSourceOnSuccess bool `json:"deleteSourceOnSuccess"`
	// SkipIfDuplicate records duplicates without linking the new path to
	// the existing asset.
	SkipIfDuplicate bool `json:"skipIfDuplicate"`
}

// Outcome is the terminal result for one discovered file.
type Outcome struct {
	Path        string                      `json:"path"`
	Status      Status                      `json:"status"`
	Digest      hasher.Digest               `json:"digest,omitempty"`
	Kind        mediatypes.Kind             `json:"kind,omitempty"`
	Reason      string                      `json:"reason,omitempty"`
	Derivatives []mediatypes.DerivativeKind `json:"derivatives,omitempty"`
	// Warnings lists non-fatal problems such as missing tools.
	Warnings []string `json:"warnings,omitempty"`

	err error
}

// Err returns the classified failure, or nil.
func (o Outcome) Err() error { return o.err }

// Event is one progress notification.
type Event struct {
	Seq     int           `json:"seq"`
	Path    string        `json:"path"`
	Stage   Stage         `json:"stage"`
	Digest  hasher.Digest `json:"digest,omitempty"`
	Outcome *Outcome      `json:"outcome,omitempty"`
	Time    time.Time     `json:"time"`
}

// Result summarizes a finished session.
type Result struct {
	Stored     int       `json:"stored"`
	Duplicates int       `json:"duplicates"`
	Failed     int       `json:"failed"`
	Outcomes   []Outcome `json:"outcomes"`
}

// Snapshot is a point-in-time view of a session.
type Snapshot struct {
	ID         string     `json:"id"`
	Status     string     `json:"status"`
	StartedAt  time.Time  `json:"startedAt"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
	Options    Options    `json:"options"`
	Discovered int        `json:"discovered"`
	Result
}

// Session tracks one submitted batch. It is immutable once Done is closed.
type Session struct {
	id        string
	startedAt time.Time
	options   Options
	paths     []string
	cancel    context.CancelFunc

	mu         sync.Mutex
	status     string
	finishedAt *time.Time
	discovered int
	outcomes   []Outcome
	events     []Event
	notify     chan struct{} // closed and replaced on every new event
	done       chan struct{}
}

func newSession(paths []string, opts Options, cancel context.CancelFunc) *Session {
	return &Session{
		id:        uuid.NewString(),
		startedAt: time.Now().UTC(),
		options:   opts,
		paths:     append([]string(nil), paths...),
		cancel:    cancel,
		status:    SessionRunning,
		notify:    make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Cancel stops the session. Files not yet committed fail with ErrCancelled.
func (s *Session) Cancel() { s.cancel() }

// Done is closed when every file has an outcome.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) emit(path string, stage Stage, d hasher.Digest, outcome *Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, Event{
		Seq:     len(s.events),
		Path:    path,
		Stage:   stage,
		Digest:  d,
		Outcome: outcome,
		Time:    time.Now().UTC(),
	})
	close(s.notify)
	s.notify = make(chan struct{})
}

func (s *Session) setDiscovered(n int) {
	s.mu.Lock()
	s.discovered = n
	s.mu.Unlock()
}

func (s *Session) record(o Outcome) {
	s.mu.Lock()
	s.outcomes = append(s.outcomes, o)
	s.mu.Unlock()

	stage := StageCommitted
	if o.Status == StatusFailed {
		stage = StageFailed
	}
	s.emit(o.Path, stage, o.Digest, &o)
}

func (s *Session) finish(status string) {
	s.mu.Lock()
	now := time.Now().UTC()
	s.status = status
	s.finishedAt = &now
	close(s.notify)
	s.notify = make(chan struct{})
	s.mu.Unlock()
}

// Events streams every event of the session from the first, then closes
// once the session is done and all events were delivered, or when ctx
// ends. Any number of subscribers may read independently.
func (s *Session) Events(ctx context.Context) <-chan Event {
	ch := make(chan Event)
	go func() {
		defer close(ch)
		next := 0
		for {
			s.mu.Lock()
			pending := s.events[next:]
			notify := s.notify
			finished := s.finishedAt != nil
			s.mu.Unlock()

			for _, e := range pending {
				select {
				case ch <- e:
					next++
				case <-ctx.Done():
					return
				}
			}
			if len(pending) > 0 {
				continue
			}
			if finished {
				return
			}
			select {
			case <-notify:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch
}

// Wait blocks until the session finishes or ctx ends.
func (s *Session) Wait(ctx context.Context) (Result, error) {
	select {
	case <-s.done:
		return s.result(), nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

func (s *Session) result() Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := Result{Outcomes: append([]Outcome(nil), s.outcomes...)}
	for _, o := range s.outcomes {
		switch o.Status {
		case StatusStored:
			r.Stored++
		case StatusDuplicate:
			r.Duplicates++
		case StatusFailed:
			r.Failed++
		}
	}
	return r
}

// Snapshot returns the current progress.
func (s *Session) Snapshot() Snapshot {
	r := s.result()
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		ID:         s.id,
		Status:     s.status,
		StartedAt:  s.startedAt,
		FinishedAt: s.finishedAt,
		Options:    s.options,
		Discovered: s.discovered,
		Result:     r,
	}
}

func (s *Session) toRecord() *database.SessionRecord {
	snap := s.Snapshot()
	rec := &database.SessionRecord{
		ID:             snap.ID,
		Status:         snap.Status,
		StartedAt:      snap.StartedAt,
		FinishedAt:     snap.FinishedAt,
		DeleteSource:   snap.Options.DeleteSourceOnSuccess,
		SkipDuplicates: snap.Options.SkipIfDuplicate,
		Stored:         snap.Stored,
		Duplicates:     snap.Duplicates,
		Failed:         snap.Failed,
	}
	for _, o := range snap.Outcomes {
		rec.Outcomes = append(rec.Outcomes, database.OutcomeRecord{
			Path:   o.Path,
			Status: string(o.Status),
			Digest: o.Digest,
			Reason: o.Reason,
		})
	}
	return rec
}

// snapshotFromRecord rebuilds a view of a session persisted by an
// earlier process.
func snapshotFromRecord(rec *database.SessionRecord) Snapshot {
	snap := Snapshot{
		ID:         rec.ID,
		Status:     rec.Status,
		StartedAt:  rec.StartedAt,
		FinishedAt: rec.FinishedAt,
		Options:    Options{DeleteSourceOnSuccess: rec.DeleteSource, SkipIfDuplicate: rec.SkipDuplicates},
		Discovered: len(rec.Outcomes),
		Result: Result{
			Stored:     rec.Stored,
			Duplicates: rec.Duplicates,
			Failed:     rec.Failed,
		},
	}
	for _, o := range rec.Outcomes {
		snap.Outcomes = append(snap.Outcomes, Outcome{
			Path:   o.Path,
			Status: Status(o.Status),
			Digest: o.Digest,
			Reason: o.Reason,
		})
	}
	return snap
}
