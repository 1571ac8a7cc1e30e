/*
Package streaming writes long-lived NDJSON event streams to HTTP clients.

The server runs without a global write timeout because import progress
streams and large originals can legitimately outlive any fixed deadline.
An [EventWriter] restores the protection per event instead: every Send
arms a fresh write deadline through [http.ResponseController], so a
client that stops reading fails the next Send with [ErrWriteTimeout]
rather than pinning the handler goroutine.

	ew := streaming.NewEventWriter(r.Context(), w, streaming.DefaultConfig())
	defer ew.Close()
	for ev := range session.Events(r.Context()) {
		if err := ew.Send(ev); err != nil {
			return
		}
	}

Middleware wrappers must implement Unwrap for the deadline to reach the
connection. When no deadline can be set, as with httptest recorders,
events are still written and flushed.
*/
package streaming
