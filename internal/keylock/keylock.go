// Package keylock provides a refcounted keyed mutex: callers serialize on
// a string key while unrelated keys proceed in parallel. Entries exist only
// while a key is held or awaited, so the map never grows with history.
package keylock

import (
	"context"
	"sync"
)

type entry struct {
	ch   chan struct{} // buffered(1); holding the token means holding the lock
	refs int
}

// Map is a set of per-key locks. The zero value is ready to use.
type Map struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// Lock blocks until key is acquired or ctx is done. On success the
// returned func releases the lock; it must be called exactly once.
// Contended reports whether the caller had to wait.
func (m *Map) Lock(ctx context.Context, key string) (unlock func(), contended bool, err error) {
	m.mu.Lock()
	if m.entries == nil {
		m.entries = make(map[string]*entry)
	}
	e, ok := m.entries[key]
	if !ok {
		e = &entry{ch: make(chan struct{}, 1)}
		m.entries[key] = e
	}
	e.refs++
	m.mu.Unlock()

	select {
	case e.ch <- struct{}{}:
	default:
		contended = true
		select {
		case e.ch <- struct{}{}:
		case <-ctx.Done():
			m.release(key, e)
			return nil, true, ctx.Err()
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.ch
			m.release(key, e)
		})
	}, contended, nil
}

func (m *Map) release(key string, e *entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(m.entries, key)
	}
}

// Len returns the number of keys currently held or awaited.
func (m *Map) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
