package streaming

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// Sentinel errors for event streams.
var (
	// ErrWriteTimeout means a single event could not be delivered in time,
	// usually because the client stopped reading.
	ErrWriteTimeout = errors.New("write timeout exceeded")

	// ErrClientGone means the request context ended before the stream did.
	ErrClientGone = errors.New("client disconnected")

	// ErrStreamClosed is returned by Send after Close or once MaxDuration
	// has elapsed.
	ErrStreamClosed = errors.New("stream closed")
)

// Config bounds an event stream.
type Config struct {
	// WriteTimeout is the deadline for delivering one event. Zero disables it.
	WriteTimeout time.Duration
	// MaxDuration caps the whole stream. Zero means unlimited.
	MaxDuration time.Duration
}

// DefaultConfig returns the limits used for import progress streams.
func DefaultConfig() Config {
	return Config{
		WriteTimeout: 30 * time.Second,
		MaxDuration:  0,
	}
}

// EventWriter writes newline-delimited JSON to a response, flushing after
// every event. Each write carries its own deadline on the connection, so a
// stalled reader fails the next Send instead of holding the handler.
type EventWriter struct {
	w          http.ResponseWriter
	rc         *http.ResponseController
	ctx        context.Context
	config     Config
	start      time.Time
	noDeadline bool

	mu     sync.Mutex
	closed bool
	events int
	bytes  int64
}

// NewEventWriter sets the NDJSON headers and commits a 200 response.
func NewEventWriter(ctx context.Context, w http.ResponseWriter, config Config) *EventWriter {
	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusOK)

	return &EventWriter{
		w:      w,
		rc:     http.NewResponseController(w),
		ctx:    ctx,
		config: config,
		start:  time.Now(),
	}
}

// Send encodes v as one line and flushes it to the client.
func (ew *EventWriter) Send(v any) error {
	line, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	line = append(line, '\n')

	ew.mu.Lock()
	defer ew.mu.Unlock()

	if ew.closed {
		return ErrStreamClosed
	}
	if err := ew.ctx.Err(); err != nil {
		return ErrClientGone
	}
	if ew.config.MaxDuration > 0 && time.Since(ew.start) > ew.config.MaxDuration {
		ew.closed = true
		return ErrStreamClosed
	}

	ew.setDeadline()
	n, err := ew.w.Write(line)
	ew.bytes += int64(n)
	if err == nil {
		err = ew.rc.Flush()
		if errors.Is(err, http.ErrNotSupported) {
			err = nil
		}
	}
	if err != nil {
		ew.closed = true
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			return ErrWriteTimeout
		}
		if ew.ctx.Err() != nil {
			return ErrClientGone
		}
		return err
	}
	ew.events++
	return nil
}

// setDeadline arms the per-event deadline. Writers that cannot carry one,
// such as test recorders, are written to without it.
func (ew *EventWriter) setDeadline() {
	if ew.config.WriteTimeout <= 0 || ew.noDeadline {
		return
	}
	if err := ew.rc.SetWriteDeadline(time.Now().Add(ew.config.WriteTimeout)); err != nil {
		ew.noDeadline = true
	}
}

func isTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}

// Close stops the stream and clears the write deadline. It is safe to call
// more than once.
func (ew *EventWriter) Close() error {
	ew.mu.Lock()
	defer ew.mu.Unlock()

	if ew.closed {
		return nil
	}
	ew.closed = true
	if ew.config.WriteTimeout > 0 && !ew.noDeadline {
		_ = ew.rc.SetWriteDeadline(time.Time{})
	}
	return nil
}

// Stats reports what was delivered so far.
func (ew *EventWriter) Stats() (events int, bytesWritten int64, duration time.Duration) {
	ew.mu.Lock()
	defer ew.mu.Unlock()
	return ew.events, ew.bytes, time.Since(ew.start)
}
