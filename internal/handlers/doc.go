// Package handlers provides the HTTP API of the archive.
//
// It includes handlers for:
//   - Submitting import batches, following their progress and cancelling them
//   - Reading asset rows and serving original and derivative bytes through the cache
//   - Editing user metadata, which is mirrored to the asset's XMP sidecar
//   - Preloading, sidecar reconciliation, index rebuild and store maintenance
//   - Health, liveness and readiness probes
//
// Progress for an import session is streamed as newline-delimited JSON from
// GET /api/imports/{id}/events: one [ingest.Event] per line, starting with
// the first event of the session, until the session is done.
package handlers
