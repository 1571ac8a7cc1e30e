package handlers

import (
	"net/http"
	"strconv"

	"media-archive/internal/mediatypes"
)

// PreloadRequest is the body of POST /api/preload.
type PreloadRequest struct {
	Digests []string `json:"digests"`
	Kind    string   `json:"kind"`
}

// Preload replaces the speculative load sequence. It returns immediately;
// loads run in the background and yield to direct requests.
func (h *Handlers) Preload(w http.ResponseWriter, r *http.Request) {
	var req PreloadRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	digests, err := parseDigests(req.Digests)
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	kind := mediatypes.DerivativeSmall
	if req.Kind != "" {
		k, ok := mediatypes.ParseDerivativeKind(req.Kind)
		if !ok {
			writeJSONError(w, "unknown kind", http.StatusBadRequest)
			return
		}
		kind = k
	}

	h.cache.Preload(digests, kind)
	writeJSONStatus(w, http.StatusAccepted, map[string]any{"status": "preloading", "count": len(digests)})
}

// ReconcileRequest is the body of POST /api/reconcile. An empty list
// reconciles every asset.
type ReconcileRequest struct {
	Digests []string `json:"digests"`
}

// Reconcile runs sidecar reconciliation and returns the report.
func (h *Handlers) Reconcile(w http.ResponseWriter, r *http.Request) {
	var req ReconcileRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	digests, err := parseDigests(req.Digests)
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	rep, err := h.sidecars.ReconcileAll(r.Context(), digests)
	if err != nil {
		log.Error("reconcile: %v", err)
		writeJSONError(w, "reconcile failed", http.StatusInternalServerError)
		return
	}
	writeJSONStatus(w, http.StatusOK, rep)
}

// Rebuild replaces the index with the state recorded in the store and its
// sidecars. It is refused while imports are running because rows they
// commit could be lost.
func (h *Handlers) Rebuild(w http.ResponseWriter, r *http.Request) {
	if n := h.ingest.Active(); n > 0 {
		writeJSONError(w, strconv.Itoa(n)+" import session(s) running", http.StatusConflict)
		return
	}
	rep, err := h.sidecars.RebuildIndexFromSidecars(r.Context())
	if err != nil {
		log.Error("rebuild: %v", err)
		writeJSONError(w, "rebuild failed", http.StatusInternalServerError)
		return
	}
	writeJSONStatus(w, http.StatusOK, rep)
}

// Backfill regenerates missing derivative tiers.
func (h *Handlers) Backfill(w http.ResponseWriter, r *http.Request) {
	rep, err := h.ingest.Backfill(r.Context())
	if err != nil {
		log.Error("backfill: %v", err)
		writeJSONError(w, "backfill failed", http.StatusInternalServerError)
		return
	}
	writeJSONStatus(w, http.StatusOK, rep)
}

// Sweep reconciles the store with the index. With ?gc=true orphaned
// originals are deleted instead of adopted.
func (h *Handlers) Sweep(w http.ResponseWriter, r *http.Request) {
	gc, _ := strconv.ParseBool(r.URL.Query().Get("gc"))
	rep, err := h.ingest.SweepOrphans(r.Context(), gc)
	if err != nil {
		log.Error("sweep: %v", err)
		writeJSONError(w, "sweep failed", http.StatusInternalServerError)
		return
	}
	writeJSONStatus(w, http.StatusOK, rep)
}

// memoryStats is the JSON view of a memory.Sample.
type memoryStats struct {
	Alloc uint64  `json:"alloc"`
	Limit int64   `json:"limit"`
	Usage float64 `json:"usage"`
	Level string  `json:"level"`
}

// GetStats returns index, cache and heap statistics.
func (h *Handlers) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.db.Stats(r.Context())
	if err != nil {
		log.Error("stats: %v", err)
		writeJSONError(w, "failed to read stats", http.StatusInternalServerError)
		return
	}
	mem := h.monitor.Last()
	writeJSONStatus(w, http.StatusOK, map[string]any{
		"index": stats,
		"cache": h.cache.Stats(),
		"memory": memoryStats{
			Alloc: mem.Alloc,
			Limit: mem.Limit,
			Usage: mem.Usage,
			Level: mem.Level.String(),
		},
	})
}
