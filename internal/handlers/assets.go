package handlers

import (
	"bytes"
	"errors"
	"net/http"
	"strconv"
	"time"

	"media-archive/internal/cache"
	"media-archive/internal/database"
	"media-archive/internal/mediatypes"
	"media-archive/internal/sidecar"

	"github.com/gorilla/mux"
)

// GetAsset returns the index row for one digest.
func (h *Handlers) GetAsset(w http.ResponseWriter, r *http.Request) {
	d, err := digestVar(r)
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	a, err := h.db.GetAsset(r.Context(), d)
	if errors.Is(err, database.ErrNotFound) {
		writeJSONError(w, "asset not found", http.StatusNotFound)
		return
	}
	if err != nil {
		log.Error("get asset %s: %v", d.Short(), err)
		writeJSONError(w, "failed to read asset", http.StatusInternalServerError)
		return
	}
	writeJSONStatus(w, http.StatusOK, a)
}

// GetAssetContent serves the bytes of one tier, or of the original, via
// the cache. A missing tier is a plain 404 so callers can fall back to a
// placeholder.
func (h *Handlers) GetAssetContent(w http.ResponseWriter, r *http.Request) {
	d, err := digestVar(r)
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	kind, ok := mediatypes.ParseDerivativeKind(mux.Vars(r)["kind"])
	if !ok {
		writeJSONError(w, "unknown kind", http.StatusBadRequest)
		return
	}

	etag := strconv.Quote(string(d) + "-" + string(kind))
	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	data, err := h.cache.Get(r.Context(), d, kind)
	if errors.Is(err, cache.ErrNotFound) {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		if r.Context().Err() != nil {
			return
		}
		log.Error("load %s/%s: %v", d.Short(), kind, err)
		writeJSONError(w, "failed to load content", http.StatusInternalServerError)
		return
	}

	contentType := "image/jpeg"
	if kind == mediatypes.CacheKindOriginal {
		contentType = "application/octet-stream"
		if a, err := h.db.GetAsset(r.Context(), d); err == nil && a.MimeType != "" {
			contentType = a.MimeType
		}
	}

	// Content is addressed by digest and never changes.
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("ETag", etag)
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	http.ServeContent(w, r, "", time.Time{}, bytes.NewReader(data))
}

// UpdateAssetMetadata replaces the user metadata of an asset. The index is
// updated first and the sidecar rewritten; the response carries the new
// sidecar state.
func (h *Handlers) UpdateAssetMetadata(w http.ResponseWriter, r *http.Request) {
	d, err := digestVar(r)
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	var meta mediatypes.UserMetadata
	if err := decodeJSON(r, &meta); err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	a, err := h.sidecars.Update(r.Context(), d, meta)
	switch {
	case errors.Is(err, sidecar.ErrInvalidMetadata):
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	case errors.Is(err, database.ErrNotFound):
		writeJSONError(w, "asset not found", http.StatusNotFound)
		return
	case err != nil:
		log.Error("update metadata %s: %v", d.Short(), err)
		writeJSONError(w, "failed to update metadata", http.StatusInternalServerError)
		return
	}
	writeJSONStatus(w, http.StatusOK, a)
}
