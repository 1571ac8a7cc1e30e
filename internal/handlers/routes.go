package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
)

// digestPattern restricts {digest} to the 64 hex characters of a BLAKE3 id
// so malformed ids never reach the handlers.
const digestPattern = "{digest:[0-9a-f]{64}}"

// Router builds the API routes.
func (h *Handlers) Router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/health", h.HealthCheck).Methods(http.MethodGet)
	r.HandleFunc("/livez", h.LivenessCheck).Methods(http.MethodGet, http.MethodHead)
	r.HandleFunc("/readyz", h.ReadinessCheck).Methods(http.MethodGet)
	r.HandleFunc("/version", h.GetVersion).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()

	api.HandleFunc("/imports", h.SubmitImport).Methods(http.MethodPost).Name("submit-import")
	api.HandleFunc("/imports/{id}", h.GetImport).Methods(http.MethodGet)
	api.HandleFunc("/imports/{id}", h.CancelImport).Methods(http.MethodDelete)
	api.HandleFunc("/imports/{id}/events", h.StreamImportEvents).Methods(http.MethodGet)

	api.HandleFunc("/assets/"+digestPattern, h.GetAsset).Methods(http.MethodGet)
	api.HandleFunc("/assets/"+digestPattern+"/metadata", h.UpdateAssetMetadata).Methods(http.MethodPut)
	api.HandleFunc("/assets/"+digestPattern+"/{kind}", h.GetAssetContent).Methods(http.MethodGet, http.MethodHead)

	api.HandleFunc("/preload", h.Preload).Methods(http.MethodPost)
	api.HandleFunc("/reconcile", h.Reconcile).Methods(http.MethodPost)
	api.HandleFunc("/rebuild", h.Rebuild).Methods(http.MethodPost)
	api.HandleFunc("/maintenance/backfill", h.Backfill).Methods(http.MethodPost)
	api.HandleFunc("/maintenance/sweep", h.Sweep).Methods(http.MethodPost)
	api.HandleFunc("/stats", h.GetStats).Methods(http.MethodGet)

	return r
}
