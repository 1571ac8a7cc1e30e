package database

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"media-archive/internal/hasher"
)

// SaveSession upserts a session and replaces its outcomes.
func (d *Database) SaveSession(ctx context.Context, rec *SessionRecord) error {
	start := time.Now()
	var err error
	defer func() { recordQuery("save_session", start, err) }()

	err = d.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO import_sessions (id, status, started_at, finished_at, delete_source, skip_duplicates, stored, duplicates, failed)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				status = excluded.status,
				finished_at = excluded.finished_at,
				stored = excluded.stored,
				duplicates = excluded.duplicates,
				failed = excluded.failed
		`, rec.ID, rec.Status, rec.StartedAt.Unix(), unixOrNil(rec.FinishedAt),
			rec.DeleteSource, rec.SkipDuplicates, rec.Stored, rec.Duplicates, rec.Failed)
		if err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, "DELETE FROM import_outcomes WHERE session_id = ?", rec.ID); err != nil {
			return err
		}

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO import_outcomes (session_id, seq, path, status, digest, reason)
			VALUES (?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for i, o := range rec.Outcomes {
			if _, err := stmt.ExecContext(ctx, rec.ID, i, o.Path, o.Status, string(o.Digest), o.Reason); err != nil {
				return err
			}
		}
		return nil
	})
	return err
}

// GetSessionRecord loads a persisted session with its outcomes in
// submission order.
func (d *Database) GetSessionRecord(ctx context.Context, id string) (*SessionRecord, error) {
	start := time.Now()
	var err error
	defer func() { recordQuery("get_session", start, err) }()

	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	rec := &SessionRecord{ID: id}
	var started int64
	var finished sql.NullInt64
	err = d.db.QueryRowContext(ctx, `
		SELECT status, started_at, finished_at, delete_source, skip_duplicates, stored, duplicates, failed
		FROM import_sessions WHERE id = ?
	`, id).Scan(&rec.Status, &started, &finished, &rec.DeleteSource, &rec.SkipDuplicates,
		&rec.Stored, &rec.Duplicates, &rec.Failed)
	if errors.Is(err, sql.ErrNoRows) {
		err = ErrNotFound
		return nil, err
	}
	if err != nil {
		return nil, err
	}
	rec.StartedAt = time.Unix(started, 0).UTC()
	if finished.Valid {
		f := time.Unix(finished.Int64, 0).UTC()
		rec.FinishedAt = &f
	}

	rows, err := d.db.QueryContext(ctx, `
		SELECT path, status, digest, reason FROM import_outcomes
		WHERE session_id = ? ORDER BY seq
	`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var o OutcomeRecord
		var digest string
		if err = rows.Scan(&o.Path, &o.Status, &digest, &o.Reason); err != nil {
			return nil, err
		}
		o.Digest = hasher.Digest(digest)
		rec.Outcomes = append(rec.Outcomes, o)
	}
	err = rows.Err()
	return rec, err
}

// ListSessions returns the most recent sessions without outcomes.
func (d *Database) ListSessions(ctx context.Context, limit int) ([]SessionRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	rows, err := d.db.QueryContext(ctx, `
		SELECT id, status, started_at, finished_at, delete_source, skip_duplicates, stored, duplicates, failed
		FROM import_sessions ORDER BY started_at DESC, id LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SessionRecord
	for rows.Next() {
		var rec SessionRecord
		var started int64
		var finished sql.NullInt64
		if err := rows.Scan(&rec.ID, &rec.Status, &started, &finished, &rec.DeleteSource,
			&rec.SkipDuplicates, &rec.Stored, &rec.Duplicates, &rec.Failed); err != nil {
			return nil, err
		}
		rec.StartedAt = time.Unix(started, 0).UTC()
		if finished.Valid {
			f := time.Unix(finished.Int64, 0).UTC()
			rec.FinishedAt = &f
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
