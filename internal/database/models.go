package database

import (
	"time"

	"media-archive/internal/hasher"
	"media-archive/internal/mediatypes"
)

// SidecarState tracks whether the index copy of user fields has been
// flushed to the sidecar.
type SidecarState string

const (
	SidecarSynced  SidecarState = "synced"
	SidecarPending SidecarState = "pending"
	SidecarMissing SidecarState = "missing"
)

// Asset is one index row.
type Asset struct {
	Digest       hasher.Digest                `json:"digest"`
	Kind         mediatypes.Kind              `json:"kind"`
	OriginalName string                       `json:"originalName"`
	Extension    string                       `json:"extension"`
	Size         int64                        `json:"size"`
	MimeType     string                       `json:"mimeType"`
	Technical    mediatypes.TechnicalMetadata `json:"technical"`
	// ArchivePath is relative to the content store root.
	ArchivePath string `json:"archivePath"`
	// Derivatives holds store-relative paths; a missing kind is a valid,
	// displayable state.
	Derivatives     map[mediatypes.DerivativeKind]string `json:"derivatives,omitempty"`
	User            mediatypes.UserMetadata              `json:"user"`
	SidecarRevision int64                                `json:"sidecarRevision"`
	SidecarHash     string                               `json:"-"`
	SidecarState    SidecarState                         `json:"sidecarState"`
	ImportedAt      time.Time                            `json:"importedAt"`
}

// Observation records one source path that fed an asset.
type Observation struct {
	Digest     hasher.Digest `json:"digest"`
	SourcePath string        `json:"sourcePath"`
	SessionID  string        `json:"sessionId,omitempty"`
	ObservedAt time.Time     `json:"observedAt"`
}

// SessionRecord is the persisted form of an import session.
type SessionRecord struct {
	ID             string          `json:"id"`
	Status         string          `json:"status"`
	StartedAt      time.Time       `json:"startedAt"`
	FinishedAt     *time.Time      `json:"finishedAt,omitempty"`
	DeleteSource   bool            `json:"deleteSource"`
	SkipDuplicates bool            `json:"skipDuplicates"`
	Stored         int             `json:"stored"`
	Duplicates     int             `json:"duplicates"`
	Failed         int             `json:"failed"`
	Outcomes       []OutcomeRecord `json:"outcomes"`
}

// OutcomeRecord is the persisted result for one submitted path.
type OutcomeRecord struct {
	Path   string        `json:"path"`
	Status string        `json:"status"`
	Digest hasher.Digest `json:"digest,omitempty"`
	Reason string        `json:"reason,omitempty"`
}

// Stats summarizes the index.
type Stats struct {
	TotalAssets     int   `json:"totalAssets"`
	Images          int   `json:"images"`
	Videos          int   `json:"videos"`
	Documents       int   `json:"documents"`
	TotalBytes      int64 `json:"totalBytes"`
	PendingSidecars int   `json:"pendingSidecars"`
	Observations    int   `json:"observations"`
	Sessions        int   `json:"sessions"`
}
