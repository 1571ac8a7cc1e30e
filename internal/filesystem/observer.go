package filesystem

import (
	"sync/atomic"
	"time"
)

// Op describes one finished filesystem call, retries included.
type Op struct {
	Name     string // stat, open, rename or remove
	Path     string
	Volume   string
	Attempts int // 1 when the first call settled it
	Stale    int // ESTALE results seen
	Duration time.Duration
	Err      error
}

// Exhausted reports whether the op gave up while still getting ESTALE.
func (o Op) Exhausted() bool {
	return IsStale(o.Err)
}

// Observer receives every finished Op. Package metrics provides the
// Prometheus implementation; filesystem cannot import it directly.
type Observer interface {
	ObserveOp(Op)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Op)

// ObserveOp calls f.
func (f ObserverFunc) ObserveOp(op Op) { f(op) }

type observerBox struct{ Observer }

var observer atomic.Pointer[observerBox]

// SetObserver installs o for all policies. nil disables recording, which
// is the default so tests stay free of Prometheus state.
func SetObserver(o Observer) {
	observer.Store(&observerBox{o})
}

func report(op Op) {
	if b := observer.Load(); b != nil && b.Observer != nil {
		b.ObserveOp(op)
	}
}
