package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite3 driver

	"media-archive/internal/database/migrations"
	"media-archive/internal/logging"
	"media-archive/internal/metrics"
)

const defaultTimeout = 5 * time.Second

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// ErrAssetExists is returned by CommitAsset when the digest is already
// indexed. The existing row is left untouched.
var ErrAssetExists = errors.New("asset already indexed")

// pragmas are applied by the mattn driver to every new connection.
var pragmas = url.Values{
	"_journal_mode": {"WAL"},
	"_synchronous":  {"NORMAL"},
	"_busy_timeout": {"5000"},
	"_foreign_keys": {"on"},
	"_cache_size":   {"10000"},
	"_temp_store":   {"MEMORY"},
}

// Database is the SQLite index of assets, observations and sessions.
type Database struct {
	db   *sql.DB
	path string
	// Writers queue here rather than spin on SQLITE_BUSY.
	mu sync.RWMutex
}

// New opens the database file at path, creating it if needed, and
// migrates it to the latest schema. The parent directory must exist.
func New(ctx context.Context, path string) (*Database, error) {
	checkWritable(path)

	db, err := sql.Open("sqlite3", path+"?"+pragmas.Encode())
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	fail := func(step string, err error) (*Database, error) {
		if cerr := db.Close(); cerr != nil {
			logging.Error("closing database after failed %s: %v", step, cerr)
		}
		return nil, fmt.Errorf("%s %s: %w", step, path, err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		return fail("connect", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(time.Hour)

	if err := migrations.Up(db); err != nil {
		return fail("migrate", err)
	}
	logging.Info("Index open at %s", path)
	return &Database{db: db, path: path}, nil
}

// Close closes the database connection.
func (d *Database) Close() error { return d.db.Close() }

// Path returns the database file path.
func (d *Database) Path() string { return d.path }

// Ping checks the connection, for readiness probes.
func (d *Database) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()
	return d.db.PingContext(ctx)
}

// withTx runs fn in a transaction under the write lock. The outcome label
// on the duration histogram is commit or rollback.
func (d *Database) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	start := time.Now()
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		metrics.DBTransactionDuration.WithLabelValues("rollback").Observe(time.Since(start).Seconds())
		if rerr := tx.Rollback(); rerr != nil {
			return errors.Join(err, fmt.Errorf("rollback: %w", rerr))
		}
		return err
	}
	err = tx.Commit()
	metrics.DBTransactionDuration.WithLabelValues("commit").Observe(time.Since(start).Seconds())
	return err
}

// exec runs one write statement under the write lock and reports whether
// it changed any row.
func (d *Database) exec(ctx context.Context, query string, args ...any) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	res, err := d.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// recordQuery counts one query by outcome. A miss is not an error.
func recordQuery(operation string, start time.Time, err error) {
	status := "success"
	if err != nil && !errors.Is(err, ErrNotFound) {
		status = "error"
	}
	metrics.DBQueryTotal.WithLabelValues(operation, status).Inc()
	metrics.DBQueryDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

// UpdateDBMetrics publishes connection pool gauges.
func (d *Database) UpdateDBMetrics() {
	metrics.DBConnectionsOpen.Set(float64(d.db.Stats().OpenConnections))
}

// checkWritable logs why SQLite is likely to fail before it does. Files
// left read-only by another user (often after a restore run as root) are
// the usual culprit, and the WAL and SHM files are repaired in place.
func checkWritable(path string) {
	dir := filepath.Dir(path)
	probe, err := os.CreateTemp(dir, ".perm-test-*")
	if err != nil {
		logging.Warn("Database directory %s is not writable: %v", dir, err)
		return
	}
	probe.Close()
	os.Remove(probe.Name())

	if info, err := os.Stat(path); err == nil && info.Mode().Perm()&0o200 == 0 {
		logging.Warn("Database file %s is read-only (%v)", path, info.Mode())
	}
	for _, suffix := range []string{"-wal", "-shm"} {
		p := path + suffix
		info, err := os.Stat(p)
		if err != nil || info.Mode().Perm()&0o200 != 0 {
			continue
		}
		if err := os.Chmod(p, 0o600); err != nil {
			logging.Error("%s is read-only and could not be fixed: %v", p, err)
		} else {
			logging.Warn("%s was read-only, mode reset to 0600", p)
		}
	}
}
