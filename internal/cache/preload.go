package cache

import (
	"context"
	"sync"

	"media-archive/internal/hasher"
	"media-archive/internal/mediatypes"
	"media-archive/internal/metrics"
)

// Preload loads digests in order at lower priority than Get, replacing any
// sequence already running. It returns immediately; the returned channel
// is closed when the sequence completes or is cancelled.
func (e *Engine) Preload(digests []hasher.Digest, kind mediatypes.DerivativeKind) <-chan struct{} {
	e.preloadMu.Lock()
	defer e.preloadMu.Unlock()

	if e.preloadCancel != nil {
		e.preloadCancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	e.preloadCancel = cancel
	e.preloadDone = done

	seq := append([]hasher.Digest(nil), digests...)
	go e.runPreload(ctx, cancel, seq, kind, done)
	return done
}

// CancelPreload stops the running sequence, if any.
func (e *Engine) CancelPreload() {
	e.preloadMu.Lock()
	defer e.preloadMu.Unlock()
	if e.preloadCancel != nil {
		e.preloadCancel()
		e.preloadCancel = nil
	}
}

// Close stops preloading.
func (e *Engine) Close() {
	e.CancelPreload()
}

func (e *Engine) runPreload(ctx context.Context, cancel context.CancelFunc, seq []hasher.Digest, kind mediatypes.DerivativeKind, done chan struct{}) {
	defer close(done)
	defer cancel()

	next := make(chan hasher.Digest)
	var wg sync.WaitGroup
	for i := 0; i < e.cfg.PreloadWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for d := range next {
				e.preloadOne(ctx, d, kind)
			}
		}()
	}

feed:
	for _, d := range seq {
		select {
		case next <- d:
		case <-ctx.Done():
			break feed
		}
	}
	close(next)
	wg.Wait()

	status := "completed"
	if ctx.Err() != nil {
		status = "cancelled"
	}
	metrics.PreloadTotal.WithLabelValues(status).Inc()
	log.Debug("preload of %d %s entries %s", len(seq), kind, status)
}

func (e *Engine) preloadOne(ctx context.Context, d hasher.Digest, kind mediatypes.DerivativeKind) {
	k := key{digest: d, kind: kind}
	if _, ok := e.peek(k); ok {
		return
	}
	if err := e.waitIdle(ctx); err != nil {
		return
	}
	if ctx.Err() != nil {
		return
	}
	if _, err := e.load(ctx, k, true); err != nil && ctx.Err() == nil {
		log.Debug("preload %s failed: %v", k, err)
	}
}
