package handlers

import (
	"errors"
	"net/http"

	"media-archive/internal/ingest"
	"media-archive/internal/streaming"

	"github.com/gorilla/mux"
)

// ImportRequest is the body of POST /api/imports.
type ImportRequest struct {
	Paths                 []string `json:"paths"`
	DeleteSourceOnSuccess bool     `json:"deleteSourceOnSuccess"`
	SkipIfDuplicate       bool     `json:"skipIfDuplicate"`
	// Wait holds the response until the session finishes.
	Wait bool `json:"wait"`
}

// SubmitImport starts an import session. The response is the session
// snapshot: 202 while running, 200 when Wait was requested.
func (h *Handlers) SubmitImport(w http.ResponseWriter, r *http.Request) {
	var req ImportRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	s, err := h.ingest.Submit(r.Context(), req.Paths, ingest.Options{
		DeleteSourceOnSuccess: req.DeleteSourceOnSuccess,
		SkipIfDuplicate:       req.SkipIfDuplicate,
	})
	switch {
	case errors.Is(err, ingest.ErrInvalidConfig):
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	case errors.Is(err, ingest.ErrClosed):
		writeJSONError(w, err.Error(), http.StatusServiceUnavailable)
		return
	case err != nil:
		log.Error("submit failed: %v", err)
		writeJSONError(w, "failed to start import", http.StatusInternalServerError)
		return
	}

	log.Info("import %s submitted with %d path(s)", s.ID(), len(req.Paths))

	if req.Wait {
		if _, err := s.Wait(r.Context()); err != nil {
			// The client went away; the session keeps running.
			return
		}
		writeJSONStatus(w, http.StatusOK, s.Snapshot())
		return
	}

	w.Header().Set("Location", "/api/imports/"+s.ID())
	writeJSONStatus(w, http.StatusAccepted, s.Snapshot())
}

// GetImport returns a session snapshot, live or persisted.
func (h *Handlers) GetImport(w http.ResponseWriter, r *http.Request) {
	snap, err := h.ingest.Snapshot(r.Context(), mux.Vars(r)["id"])
	if errors.Is(err, ingest.ErrSessionNotFound) {
		writeJSONError(w, "import session not found", http.StatusNotFound)
		return
	}
	if err != nil {
		log.Error("snapshot failed: %v", err)
		writeJSONError(w, "failed to read import session", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Cache-Control", "no-cache")
	writeJSONStatus(w, http.StatusOK, snap)
}

// StreamImportEvents writes the session's events as newline-delimited JSON,
// flushing after each one. Only sessions still held in memory can be
// streamed; older ones are available through GetImport.
func (h *Handlers) StreamImportEvents(w http.ResponseWriter, r *http.Request) {
	s, ok := h.ingest.Session(mux.Vars(r)["id"])
	if !ok {
		writeJSONError(w, "import session not found", http.StatusNotFound)
		return
	}

	ew := streaming.NewEventWriter(r.Context(), w, streaming.DefaultConfig())
	defer ew.Close()
	for ev := range s.Events(r.Context()) {
		if err := ew.Send(ev); err != nil {
			log.Debug("event stream for %s closed: %v", s.ID(), err)
			return
		}
	}
	events, _, d := ew.Stats()
	log.Debug("event stream for %s finished: %d events in %v", s.ID(), events, d)
}

// CancelImport cancels a running session. Files already committed stay
// committed.
func (h *Handlers) CancelImport(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.ingest.Cancel(id); errors.Is(err, ingest.ErrSessionNotFound) {
		writeJSONError(w, "import session not found", http.StatusNotFound)
		return
	}
	log.Info("import %s cancel requested", id)
	writeJSONStatus(w, http.StatusAccepted, map[string]string{"status": "cancelling"})
}
