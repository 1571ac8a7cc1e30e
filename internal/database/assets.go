package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"media-archive/internal/hasher"
	"media-archive/internal/mediatypes"
)

var assetColumns = []string{
	"digest", "kind", "original_name", "extension", "size", "mime_type",
	"width", "height", "duration_ms", "codec", "orientation", "camera_make", "camera_model",
	"gps_latitude", "gps_longitude", "gps_altitude", "metadata_source", "captured_at",
	"archive_path", "small_path", "large_path", "preview_path", "poster_path",
	"rating", "label", "keywords", "sidecar_revision", "sidecar_hash", "sidecar_state",
	"imported_at",
}

var (
	selectAsset = "SELECT " + strings.Join(assetColumns, ", ") + " FROM assets"

	insertAsset = fmt.Sprintf("INSERT INTO assets (%s) VALUES (%s)",
		strings.Join(assetColumns, ", "),
		strings.TrimSuffix(strings.Repeat("?, ", len(assetColumns)), ", "))

	upsertAsset = insertAsset + " ON CONFLICT(digest) DO UPDATE SET " + upsertAssignments()
)

func upsertAssignments() string {
	var sets []string
	for _, c := range assetColumns[1:] {
		sets = append(sets, c+" = excluded."+c)
	}
	sets = append(sets, "updated_at = strftime('%s', 'now')")
	return strings.Join(sets, ", ")
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func unixOrNil(t *time.Time) any {
	if t == nil || t.IsZero() {
		return nil
	}
	return t.Unix()
}

func encodeKeywords(k []string) (string, error) {
	if k == nil {
		k = []string{}
	}
	b, err := json.Marshal(k)
	return string(b), err
}

func assetArgs(a *Asset) ([]any, error) {
	user := a.User.Normalize()
	keywords, err := encodeKeywords(user.Keywords)
	if err != nil {
		return nil, err
	}

	var lat, lon, alt any
	if g := a.Technical.GPS; g != nil {
		lat, lon = g.Latitude, g.Longitude
		if g.Altitude != nil {
			alt = *g.Altitude
		}
	}

	state := a.SidecarState
	if state == "" {
		state = SidecarPending
	}
	imported := a.ImportedAt
	if imported.IsZero() {
		imported = time.Now()
	}

	t := a.Technical
	return []any{
		string(a.Digest), string(a.Kind), a.OriginalName, a.Extension, a.Size, a.MimeType,
		t.Width, t.Height, t.Duration.Milliseconds(), t.Codec, t.Orientation, t.Make, t.Model,
		lat, lon, alt, t.Source, unixOrNil(t.CaptureTime),
		a.ArchivePath,
		nullString(a.Derivatives[mediatypes.DerivativeSmall]),
		nullString(a.Derivatives[mediatypes.DerivativeLarge]),
		nullString(a.Derivatives[mediatypes.DerivativePreview]),
		nullString(a.Derivatives[mediatypes.DerivativePoster]),
		user.Rating, user.Label, keywords, a.SidecarRevision, a.SidecarHash, string(state),
		imported.Unix(),
	}, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAsset(row rowScanner) (*Asset, error) {
	var (
		a                             Asset
		digest, kind, keywords, state string
		durationMS                    int64
		lat, lon, alt                 sql.NullFloat64
		captured                      sql.NullInt64
		small, large, preview, poster sql.NullString
		imported                      int64
	)
	t := &a.Technical

	err := row.Scan(
		&digest, &kind, &a.OriginalName, &a.Extension, &a.Size, &a.MimeType,
		&t.Width, &t.Height, &durationMS, &t.Codec, &t.Orientation, &t.Make, &t.Model,
		&lat, &lon, &alt, &t.Source, &captured,
		&a.ArchivePath, &small, &large, &preview, &poster,
		&a.User.Rating, &a.User.Label, &keywords, &a.SidecarRevision, &a.SidecarHash, &state,
		&imported,
	)
	if err != nil {
		return nil, err
	}

	a.Digest = hasher.Digest(digest)
	a.Kind = mediatypes.Kind(kind)
	a.SidecarState = SidecarState(state)
	a.ImportedAt = time.Unix(imported, 0).UTC()
	t.Duration = time.Duration(durationMS) * time.Millisecond
	t.MimeType = a.MimeType

	if captured.Valid {
		ct := time.Unix(captured.Int64, 0).UTC()
		t.CaptureTime = &ct
	}
	if lat.Valid && lon.Valid {
		t.GPS = &mediatypes.GPS{Latitude: lat.Float64, Longitude: lon.Float64}
		if alt.Valid {
			v := alt.Float64
			t.GPS.Altitude = &v
		}
	}

	if err := json.Unmarshal([]byte(keywords), &a.User.Keywords); err != nil {
		return nil, fmt.Errorf("decode keywords of %s: %w", digest, err)
	}
	if len(a.User.Keywords) == 0 {
		a.User.Keywords = nil
	}

	for kind, col := range map[mediatypes.DerivativeKind]sql.NullString{
		mediatypes.DerivativeSmall:   small,
		mediatypes.DerivativeLarge:   large,
		mediatypes.DerivativePreview: preview,
		mediatypes.DerivativePoster:  poster,
	} {
		if col.Valid && col.String != "" {
			if a.Derivatives == nil {
				a.Derivatives = make(map[mediatypes.DerivativeKind]string)
			}
			a.Derivatives[kind] = col.String
		}
	}
	return &a, nil
}

// CommitAsset inserts the asset row and its first observation in one
// transaction. It returns ErrAssetExists, leaving the index unchanged,
// when the digest is already present.
func (d *Database) CommitAsset(ctx context.Context, a *Asset, obs Observation) error {
	start := time.Now()
	var err error
	defer func() { recordQuery("commit_asset", start, err) }()

	args, err := assetArgs(a)
	if err != nil {
		return err
	}
	if obs.Digest == "" {
		obs.Digest = a.Digest
	}

	err = d.withTx(ctx, func(tx *sql.Tx) error {
		var exists bool
		if err := tx.QueryRowContext(ctx, "SELECT EXISTS(SELECT 1 FROM assets WHERE digest = ?)", string(a.Digest)).Scan(&exists); err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("%w: %s", ErrAssetExists, a.Digest)
		}
		if _, err := tx.ExecContext(ctx, insertAsset, args...); err != nil {
			return fmt.Errorf("insert asset: %w", err)
		}
		if obs.SourcePath != "" {
			if err := insertObservation(ctx, tx, obs); err != nil {
				return fmt.Errorf("insert observation: %w", err)
			}
		}
		return nil
	})
	return err
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertObservation(ctx context.Context, db execer, obs Observation) error {
	observed := obs.ObservedAt
	if observed.IsZero() {
		observed = time.Now()
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO observations (digest, source_path, session_id, observed_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(digest, source_path) DO UPDATE SET
			session_id = excluded.session_id,
			observed_at = excluded.observed_at
	`, string(obs.Digest), obs.SourcePath, obs.SessionID, observed.Unix())
	return err
}

// AddObservation links another source path to an indexed asset. Linking
// the same path twice refreshes the existing observation.
func (d *Database) AddObservation(ctx context.Context, obs Observation) error {
	start := time.Now()
	var err error
	defer func() { recordQuery("add_observation", start, err) }()

	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	err = insertObservation(ctx, d.db, obs)
	return err
}

// ListObservations returns every path recorded for d, oldest first.
func (d *Database) ListObservations(ctx context.Context, digest hasher.Digest) ([]Observation, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	rows, err := d.db.QueryContext(ctx, `
		SELECT digest, source_path, session_id, observed_at
		FROM observations WHERE digest = ? ORDER BY observed_at, id
	`, string(digest))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Observation
	for rows.Next() {
		var o Observation
		var dg string
		var observed int64
		if err := rows.Scan(&dg, &o.SourcePath, &o.SessionID, &observed); err != nil {
			return nil, err
		}
		o.Digest = hasher.Digest(dg)
		o.ObservedAt = time.Unix(observed, 0).UTC()
		out = append(out, o)
	}
	return out, rows.Err()
}

// GetAsset returns the row for digest or ErrNotFound.
func (d *Database) GetAsset(ctx context.Context, digest hasher.Digest) (*Asset, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("get_asset", start, err) }()

	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	a, err := scanAsset(d.db.QueryRowContext(ctx, selectAsset+" WHERE digest = ?", string(digest)))
	if errors.Is(err, sql.ErrNoRows) {
		err = ErrNotFound
		return nil, err
	}
	return a, err
}

// AssetExists reports whether digest is indexed.
func (d *Database) AssetExists(ctx context.Context, digest hasher.Digest) (bool, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("asset_exists", start, err) }()

	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var exists bool
	err = d.db.QueryRowContext(ctx, "SELECT EXISTS(SELECT 1 FROM assets WHERE digest = ?)", string(digest)).Scan(&exists)
	return exists, err
}

// ListAssets pages through assets in digest order, starting after the
// given digest ("" for the first page).
func (d *Database) ListAssets(ctx context.Context, after hasher.Digest, limit int) ([]Asset, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("list_assets", start, err) }()

	if limit <= 0 || limit > 1000 {
		limit = 1000
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	rows, err := d.db.QueryContext(ctx, selectAsset+" WHERE digest > ? ORDER BY digest LIMIT ?", string(after), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Asset
	for rows.Next() {
		a, scanErr := scanAsset(rows)
		if scanErr != nil {
			err = scanErr
			return nil, err
		}
		out = append(out, *a)
	}
	err = rows.Err()
	return out, err
}

// ListDigests returns every indexed digest, optionally limited to assets
// in the given sidecar states.
func (d *Database) ListDigests(ctx context.Context, states ...SidecarState) ([]hasher.Digest, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	query := "SELECT digest FROM assets"
	var args []any
	if len(states) > 0 {
		query += " WHERE sidecar_state IN (" + strings.TrimSuffix(strings.Repeat("?, ", len(states)), ", ") + ")"
		for _, s := range states {
			args = append(args, string(s))
		}
	}
	query += " ORDER BY digest"

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []hasher.Digest
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, hasher.Digest(s))
	}
	return out, rows.Err()
}

// UpdateUserMetadata stores user fields with the given revision and
// sidecar state.
func (d *Database) UpdateUserMetadata(ctx context.Context, digest hasher.Digest, meta mediatypes.UserMetadata, revision int64, state SidecarState) error {
	start := time.Now()
	var err error
	defer func() { recordQuery("update_user_metadata", start, err) }()

	meta = meta.Normalize()
	keywords, err := encodeKeywords(meta.Keywords)
	if err != nil {
		return err
	}

	changed, err := d.exec(ctx, `
		UPDATE assets SET rating = ?, label = ?, keywords = ?, sidecar_revision = ?, sidecar_state = ?,
			updated_at = strftime('%s', 'now')
		WHERE digest = ?
	`, meta.Rating, meta.Label, keywords, revision, string(state), string(digest))
	if err == nil && !changed {
		err = ErrNotFound
	}
	return err
}

// MarkSidecarSynced records that the sidecar on disk holds revision with
// the given content hash.
func (d *Database) MarkSidecarSynced(ctx context.Context, digest hasher.Digest, revision int64, contentHash string) error {
	start := time.Now()
	var err error
	defer func() { recordQuery("mark_sidecar_synced", start, err) }()

	changed, err := d.exec(ctx, `
		UPDATE assets SET sidecar_state = 'synced', sidecar_revision = ?, sidecar_hash = ?,
			updated_at = strftime('%s', 'now')
		WHERE digest = ?
	`, revision, contentHash, string(digest))
	if err == nil && !changed {
		err = ErrNotFound
	}
	return err
}

// SetSidecarState changes only the sync state.
func (d *Database) SetSidecarState(ctx context.Context, digest hasher.Digest, state SidecarState) error {
	changed, err := d.exec(ctx, "UPDATE assets SET sidecar_state = ? WHERE digest = ?", string(state), string(digest))
	if err == nil && !changed {
		return ErrNotFound
	}
	return err
}

// UpdateDerivatives replaces the derivative path set. Kinds missing from
// paths are cleared.
func (d *Database) UpdateDerivatives(ctx context.Context, digest hasher.Digest, paths map[mediatypes.DerivativeKind]string) error {
	start := time.Now()
	var err error
	defer func() { recordQuery("update_derivatives", start, err) }()

	changed, err := d.exec(ctx, `
		UPDATE assets SET small_path = ?, large_path = ?, preview_path = ?, poster_path = ?,
			updated_at = strftime('%s', 'now')
		WHERE digest = ?
	`,
		nullString(paths[mediatypes.DerivativeSmall]),
		nullString(paths[mediatypes.DerivativeLarge]),
		nullString(paths[mediatypes.DerivativePreview]),
		nullString(paths[mediatypes.DerivativePoster]),
		string(digest),
	)
	if err == nil && !changed {
		err = ErrNotFound
	}
	return err
}

// ReplaceAllAssets makes the asset table equal to assets in a single
// transaction: rows are upserted and digests not present are removed.
// Observations of surviving assets are kept.
func (d *Database) ReplaceAllAssets(ctx context.Context, assets []Asset) error {
	start := time.Now()
	var err error
	defer func() { recordQuery("replace_all_assets", start, err) }()

	keep := make(map[hasher.Digest]bool, len(assets))
	err = d.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, upsertAsset)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for i := range assets {
			args, err := assetArgs(&assets[i])
			if err != nil {
				return err
			}
			if _, err := stmt.ExecContext(ctx, args...); err != nil {
				return fmt.Errorf("upsert %s: %w", assets[i].Digest, err)
			}
			keep[assets[i].Digest] = true
		}

		rows, err := tx.QueryContext(ctx, "SELECT digest FROM assets")
		if err != nil {
			return err
		}
		var stale []string
		for rows.Next() {
			var s string
			if err := rows.Scan(&s); err != nil {
				rows.Close()
				return err
			}
			if !keep[hasher.Digest(s)] {
				stale = append(stale, s)
			}
		}
		if err := rows.Close(); err != nil {
			return err
		}
		for _, s := range stale {
			if _, err := tx.ExecContext(ctx, "DELETE FROM assets WHERE digest = ?", s); err != nil {
				return err
			}
		}
		return nil
	})
	return err
}

// DeleteAsset removes the row and its observations. Only orphan garbage
// collection calls this.
func (d *Database) DeleteAsset(ctx context.Context, digest hasher.Digest) error {
	start := time.Now()
	var err error
	defer func() { recordQuery("delete_asset", start, err) }()

	changed, err := d.exec(ctx, "DELETE FROM assets WHERE digest = ?", string(digest))
	if err == nil && !changed {
		err = ErrNotFound
	}
	return err
}

// Stats returns counts and sizes across the index.
func (d *Database) Stats(ctx context.Context) (Stats, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("stats", start, err) }()

	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var s Stats
	err = d.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(kind = 'image'), 0),
			COALESCE(SUM(kind = 'video'), 0),
			COALESCE(SUM(kind = 'document'), 0),
			COALESCE(SUM(size), 0),
			COALESCE(SUM(sidecar_state != 'synced'), 0)
		FROM assets
	`).Scan(&s.TotalAssets, &s.Images, &s.Videos, &s.Documents, &s.TotalBytes, &s.PendingSidecars)
	if err != nil {
		return s, err
	}

	queries := []struct {
		query string
		dest  *int
	}{
		{"SELECT COUNT(*) FROM observations", &s.Observations},
		{"SELECT COUNT(*) FROM import_sessions", &s.Sessions},
	}
	for _, q := range queries {
		if err = d.db.QueryRowContext(ctx, q.query).Scan(q.dest); err != nil {
			return s, err
		}
	}
	return s, nil
}
