// Package database is the relational index of the archive, stored in
// SQLite.
//
// It holds:
//   - one row per asset (technical metadata, derivative paths, a cached
//     copy of the sidecar's user fields and its sync state)
//   - observations: every source path that fed an asset
//   - import sessions and their per-path outcomes
//   - a small key/value table for maintenance timestamps
//
// The index is a projection: every asset row can be rebuilt from the
// original file plus its sidecar. The database uses WAL mode and its
// schema is managed by embedded migrations.
package database
