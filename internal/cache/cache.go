// Package cache holds asset bytes in memory under a byte budget. Entries
// are evicted in strict least-recently-used order. Concurrent misses for
// the same entry share one load. Speculative preloads only start loads
// while no direct request is loading, and cancelling a sequence aborts
// the loads it already started.
package cache

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/singleflight"

	"media-archive/internal/hasher"
	"media-archive/internal/logging"
	"media-archive/internal/mediatypes"
	"media-archive/internal/metrics"
)

var log = logging.For("cache")

// ErrNotFound is returned (wrapped) by loaders when an asset or tier does
// not exist. Callers usually fall back to a placeholder.
var ErrNotFound = errors.New("not found")

// Loader fetches bytes on a miss.
type Loader interface {
	Load(ctx context.Context, d hasher.Digest, kind mediatypes.DerivativeKind) ([]byte, error)
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(ctx context.Context, d hasher.Digest, kind mediatypes.DerivativeKind) ([]byte, error)

// Load calls f.
func (f LoaderFunc) Load(ctx context.Context, d hasher.Digest, kind mediatypes.DerivativeKind) ([]byte, error) {
	return f(ctx, d, kind)
}

// Config sizes the engine.
type Config struct {
	BudgetBytes    int64
	PreloadWorkers int
}

// DefaultConfig returns a 256 MiB budget with two preload workers.
func DefaultConfig() Config {
	return Config{BudgetBytes: 256 << 20, PreloadWorkers: 2}
}

type key struct {
	digest hasher.Digest
	kind   mediatypes.DerivativeKind
}

func (k key) String() string { return string(k.digest) + "/" + string(k.kind) }

type entry struct {
	key  key
	data []byte
}

// Stats is a point-in-time view of the engine.
type Stats struct {
	Entries       int    `json:"entries"`
	ResidentBytes int64  `json:"residentBytes"`
	BudgetBytes   int64  `json:"budgetBytes"`
	Hits          uint64 `json:"hits"`
	Misses        uint64 `json:"misses"`
	Evictions     uint64 `json:"evictions"`
	Preloading    bool   `json:"preloading"`
}

// Engine is the cache. It is owned by the hosting process and passed to
// whoever needs it.
type Engine struct {
	cfg    Config
	loader Loader
	group  singleflight.Group

	mu       sync.Mutex
	ll       *list.List // front is most recent
	items    map[key]*list.Element
	resident int64
	hits     uint64
	misses   uint64
	evicted  uint64

	// direct counts Get loads in flight; idle is closed and replaced each
	// time it drops to zero.
	loadMu sync.Mutex
	direct int
	idle   chan struct{}

	preloadMu     sync.Mutex
	preloadCancel context.CancelFunc
	preloadDone   chan struct{}
}

// New creates an engine. A non-positive budget disables caching but loads
// still go through the loader.
func New(cfg Config, loader Loader) *Engine {
	if cfg.PreloadWorkers <= 0 {
		cfg.PreloadWorkers = 1
	}
	log.Info("cache budget %s, %d preload workers", humanize.IBytes(uint64(max(cfg.BudgetBytes, 0))), cfg.PreloadWorkers)
	return &Engine{
		cfg:    cfg,
		loader: loader,
		ll:     list.New(),
		items:  make(map[key]*list.Element),
		idle:   make(chan struct{}),
	}
}

// Get returns the bytes for (d, kind), loading them on a miss. The
// returned slice is shared and must not be modified.
func (e *Engine) Get(ctx context.Context, d hasher.Digest, kind mediatypes.DerivativeKind) ([]byte, error) {
	k := key{digest: d, kind: kind}
	if data, ok := e.lookup(k); ok {
		metrics.CacheHitsTotal.WithLabelValues(string(kind)).Inc()
		return data, nil
	}
	metrics.CacheMissesTotal.WithLabelValues(string(kind)).Inc()

	e.beginDirect()
	defer e.endDirect()
	return e.load(ctx, k, false)
}

// errPreloadCancelled is returned from a shared load that a preload
// started and its sequence then cancelled.
var errPreloadCancelled = fmt.Errorf("preload cancelled: %w", context.Canceled)

// load coalesces concurrent loads of k. A direct load is detached from any
// one caller's cancellation and each caller stops waiting on its own ctx.
// A speculative load runs under the preload sequence's ctx; a direct
// caller that joined it when it was cancelled loads again directly.
func (e *Engine) load(ctx context.Context, k key, speculative bool) ([]byte, error) {
	for {
		data, err := e.loadShared(ctx, k, speculative)
		if speculative || !errors.Is(err, errPreloadCancelled) || ctx.Err() != nil {
			return data, err
		}
		log.Debug("%s: joined preload was cancelled, loading directly", k)
	}
}

func (e *Engine) loadShared(ctx context.Context, k key, speculative bool) ([]byte, error) {
	path, loadCtx := "direct", context.WithoutCancel(ctx)
	if speculative {
		path, loadCtx = "preload", ctx
	}
	ch := e.group.DoChan(k.String(), func() (any, error) {
		if data, ok := e.peek(k); ok {
			return data, nil
		}
		start := time.Now()
		data, err := e.loader.Load(loadCtx, k.digest, k.kind)
		metrics.CacheLoadDuration.WithLabelValues(path).Observe(time.Since(start).Seconds())
		if speculative && loadCtx.Err() != nil {
			// Whatever the loader returned, a cancelled sequence inserts
			// nothing.
			return nil, errPreloadCancelled
		}
		if err != nil {
			return nil, err
		}
		e.insert(k, data)
		return data, nil
	})

	select {
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		return r.Val.([]byte), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (e *Engine) lookup(k key) ([]byte, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	el, ok := e.items[k]
	if !ok {
		e.misses++
		return nil, false
	}
	e.hits++
	e.ll.MoveToFront(el)
	return el.Value.(*entry).data, true
}

// peek checks presence without touching recency or counters.
func (e *Engine) peek(k key) ([]byte, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if el, ok := e.items[k]; ok {
		return el.Value.(*entry).data, true
	}
	return nil, false
}

// Contains reports whether (d, kind) is resident.
func (e *Engine) Contains(d hasher.Digest, kind mediatypes.DerivativeKind) bool {
	_, ok := e.peek(key{digest: d, kind: kind})
	return ok
}

func (e *Engine) insert(k key, data []byte) {
	size := int64(len(data))
	e.mu.Lock()
	defer e.mu.Unlock()

	if size > e.cfg.BudgetBytes {
		log.Debug("%s (%s) exceeds the cache budget, not cached", k, humanize.IBytes(uint64(size)))
		return
	}
	if el, ok := e.items[k]; ok {
		old := el.Value.(*entry)
		e.resident += size - int64(len(old.data))
		old.data = data
		e.ll.MoveToFront(el)
	} else {
		e.items[k] = e.ll.PushFront(&entry{key: k, data: data})
		e.resident += size
	}
	e.evictLocked(e.cfg.BudgetBytes)
}

// evictLocked drops least-recently-used entries until resident <= limit.
func (e *Engine) evictLocked(limit int64) int {
	n := 0
	for e.resident > limit {
		el := e.ll.Back()
		if el == nil {
			break
		}
		e.removeLocked(el)
		e.evicted++
		n++
		metrics.CacheEvictionsTotal.Inc()
	}
	e.updateGauges()
	return n
}

func (e *Engine) removeLocked(el *list.Element) {
	ent := e.ll.Remove(el).(*entry)
	delete(e.items, ent.key)
	e.resident -= int64(len(ent.data))
}

func (e *Engine) updateGauges() {
	metrics.CacheResidentBytes.Set(float64(e.resident))
	metrics.CacheEntries.Set(float64(e.ll.Len()))
}

// Invalidate drops every cached kind of d, e.g. after its derivatives were
// regenerated.
func (e *Engine) Invalidate(d hasher.Digest) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for k, el := range e.items {
		if k.digest == d {
			e.removeLocked(el)
		}
	}
	e.updateGauges()
}

// Shrink evicts least-recently-used entries until at most (1-fraction) of
// the current resident bytes remain. It is the memory pressure hook.
func (e *Engine) Shrink(fraction float64) int {
	fraction = min(max(fraction, 0), 1)
	e.mu.Lock()
	defer e.mu.Unlock()
	target := int64(float64(e.resident) * (1 - fraction))
	n := e.evictLocked(target)
	if n > 0 {
		log.Info("shed %d entries under memory pressure, %s resident", n, humanize.IBytes(uint64(e.resident)))
	}
	return n
}

// Stats returns counters and occupancy.
func (e *Engine) Stats() Stats {
	e.preloadMu.Lock()
	preloading := e.preloadDone != nil
	if preloading {
		select {
		case <-e.preloadDone:
			preloading = false
		default:
		}
	}
	e.preloadMu.Unlock()

	e.mu.Lock()
	defer e.mu.Unlock()
	return Stats{
		Entries:       e.ll.Len(),
		ResidentBytes: e.resident,
		BudgetBytes:   e.cfg.BudgetBytes,
		Hits:          e.hits,
		Misses:        e.misses,
		Evictions:     e.evicted,
		Preloading:    preloading,
	}
}

func (e *Engine) beginDirect() {
	e.loadMu.Lock()
	e.direct++
	e.loadMu.Unlock()
}

func (e *Engine) endDirect() {
	e.loadMu.Lock()
	e.direct--
	if e.direct == 0 {
		close(e.idle)
		e.idle = make(chan struct{})
	}
	e.loadMu.Unlock()
}

// waitIdle blocks until no direct load is in flight.
func (e *Engine) waitIdle(ctx context.Context) error {
	for {
		e.loadMu.Lock()
		if e.direct == 0 {
			e.loadMu.Unlock()
			return nil
		}
		ch := e.idle
		e.loadMu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
