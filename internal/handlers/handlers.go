package handlers

import (
	"sync/atomic"
	"time"

	"media-archive/internal/cache"
	"media-archive/internal/contentstore"
	"media-archive/internal/database"
	"media-archive/internal/ingest"
	"media-archive/internal/logging"
	"media-archive/internal/memory"
	"media-archive/internal/sidecar"
	"media-archive/internal/startup"
)

var log = logging.For("http")

// Handlers serves the archive API. It holds no state of its own beyond the
// readiness flag; every request goes to the component that owns the data.
type Handlers struct {
	db       *database.Database
	store    *contentstore.Store
	ingest   *ingest.Coordinator
	sidecars *sidecar.Reconciler
	cache    *cache.Engine
	monitor  *memory.Monitor
	tools    []ToolInfo

	startTime time.Time
	ready     atomic.Bool
}

// Deps bundles the components the API fronts.
type Deps struct {
	DB       *database.Database
	Store    *contentstore.Store
	Ingest   *ingest.Coordinator
	Sidecars *sidecar.Reconciler
	Cache    *cache.Engine
	// Monitor is optional; /api/stats reports its last sample.
	Monitor *memory.Monitor
	// Tools is the external tool check made at startup, reported by
	// /version.
	Tools []startup.ToolStatus
}

func New(deps Deps) *Handlers {
	return &Handlers{
		db:        deps.DB,
		store:     deps.Store,
		ingest:    deps.Ingest,
		sidecars:  deps.Sidecars,
		cache:     deps.Cache,
		monitor:   deps.Monitor,
		tools:     toolInfo(deps.Tools),
		startTime: time.Now(),
	}
}

// SetReady flips the readiness probe. main sets it once startup
// reconciliation has finished.
func (h *Handlers) SetReady(ready bool) { h.ready.Store(ready) }

// IsReady reports the readiness flag.
func (h *Handlers) IsReady() bool { return h.ready.Load() }
