package ingest

import (
	"errors"

	"media-archive/internal/mediatypes"
)

// Per-file failure classes. Reasons recorded in a session wrap exactly one
// of these so callers can classify them with errors.Is.
var (
	// ErrIOFailure covers unreadable sources and failed placement. Fatal for
	// the file.
	ErrIOFailure = errors.New("io failure")
	// ErrExtractionUnavailable means no tool could describe the file. The
	// asset is stored with whatever metadata was recovered.
	ErrExtractionUnavailable = errors.New("metadata extraction unavailable")
	// ErrDerivativeGeneration marks a tier that failed. Never fatal.
	ErrDerivativeGeneration = errors.New("derivative generation failed")
	// ErrIndexCommit is a failed index transaction. The canonical bytes may
	// remain on disk unreferenced until the next orphan sweep.
	ErrIndexCommit = errors.New("index commit failed")
	// ErrUnsupported is a file whose type the archive does not accept.
	ErrUnsupported = mediatypes.ErrUnsupported
	// ErrCancelled is recorded for files the session did not finish.
	ErrCancelled = errors.New("import cancelled")

	// ErrInvalidConfig rejects a whole batch before any file is touched.
	ErrInvalidConfig = errors.New("invalid import configuration")
	// ErrSessionNotFound is returned for unknown session ids.
	ErrSessionNotFound = errors.New("import session not found")
	// ErrClosed is returned by Submit after Close.
	ErrClosed = errors.New("coordinator closed")
)
