package mediatypes

import (
	"sort"
	"strings"
	"time"
)

// DerivativeKind names one tier of an asset's DerivativeSet.
type DerivativeKind string

const (
	DerivativeSmall   DerivativeKind = "small"
	DerivativeLarge   DerivativeKind = "large"
	DerivativePreview DerivativeKind = "preview"
	// DerivativePoster is a single video frame; it only exists for videos.
	DerivativePoster DerivativeKind = "poster"

	// CacheKindOriginal addresses the canonical bytes of an asset through
	// the cache. It is never a stored derivative.
	CacheKindOriginal DerivativeKind = "original"
)

// DerivativeKinds lists the stored tiers in generation order.
var DerivativeKinds = []DerivativeKind{DerivativeSmall, DerivativeLarge, DerivativePreview, DerivativePoster}

// ParseDerivativeKind validates a kind name, accepting "original".
func ParseDerivativeKind(s string) (DerivativeKind, bool) {
	k := DerivativeKind(strings.ToLower(s))
	switch k {
	case DerivativeSmall, DerivativeLarge, DerivativePreview, DerivativePoster, CacheKindOriginal:
		return k, true
	}
	return "", false
}

// GPS is a position in signed decimal degrees.
type GPS struct {
	Latitude  float64  `json:"latitude"`
	Longitude float64  `json:"longitude"`
	Altitude  *float64 `json:"altitude,omitempty"`
}

// TechnicalMetadata is the normalized result of probing an asset. Every
// field is optional; extraction failures leave fields zero.
type TechnicalMetadata struct {
	Width       int           `json:"width,omitempty"`
	Height      int           `json:"height,omitempty"`
	Duration    time.Duration `json:"duration,omitempty"`
	Codec       string        `json:"codec,omitempty"`
	CaptureTime *time.Time    `json:"captureTime,omitempty"`
	GPS         *GPS          `json:"gps,omitempty"`
	Make        string        `json:"make,omitempty"`
	Model       string        `json:"model,omitempty"`
	Orientation int           `json:"orientation,omitempty"`
	MimeType    string        `json:"mimeType,omitempty"`
	// Source names the tool that produced the metadata ("exiftool",
	// "ffprobe", "native") or is empty when nothing was available.
	Source string `json:"source,omitempty"`
}

// ShortEdge returns the smaller of width and height, or 0 when unknown.
func (m TechnicalMetadata) ShortEdge() int {
	if m.Width <= 0 || m.Height <= 0 {
		return 0
	}
	return min(m.Width, m.Height)
}

// UserMetadata holds the user-assigned fields whose source of truth is the
// sidecar.
type UserMetadata struct {
	Rating   int      `json:"rating"`
	Label    string   `json:"label,omitempty"`
	Keywords []string `json:"keywords,omitempty"`
}

// Normalize clamps the rating into the XMP range (-1 rejected, 0 unrated,
// 1-5 stars) and returns keywords trimmed, deduplicated and sorted so two
// equal sets always serialize identically.
func (u UserMetadata) Normalize() UserMetadata {
	out := UserMetadata{Rating: u.Rating, Label: strings.TrimSpace(u.Label)}
	if out.Rating < -1 {
		out.Rating = -1
	}
	if out.Rating > 5 {
		out.Rating = 5
	}

	seen := make(map[string]bool, len(u.Keywords))
	for _, k := range u.Keywords {
		k = strings.TrimSpace(k)
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		out.Keywords = append(out.Keywords, k)
	}
	sort.Strings(out.Keywords)
	return out
}

// Equal compares two normalized values field by field.
func (u UserMetadata) Equal(o UserMetadata) bool {
	a, b := u.Normalize(), o.Normalize()
	if a.Rating != b.Rating || a.Label != b.Label || len(a.Keywords) != len(b.Keywords) {
		return false
	}
	for i := range a.Keywords {
		if a.Keywords[i] != b.Keywords[i] {
			return false
		}
	}
	return true
}
