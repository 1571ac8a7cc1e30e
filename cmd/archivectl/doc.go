// Archivectl is the offline companion to the archive server. It opens the
// same archive and database directories in-process, so it must not run
// against an archive a server is currently writing to.
//
// Configuration is resolved exactly like the server: defaults, then the
// TOML file named by ARCHIVE_CONFIG, then environment variables.
//
// Usage:
//
//	archivectl import [--delete-source] [--skip-duplicates] <path>...
//	archivectl reconcile [digest]...
//	archivectl rebuild
//	archivectl sweep [--gc]
//	archivectl backfill
//	archivectl stats
//
// Every command accepts --json for machine-readable output and
// --log-level to surface component logs (default warn). When stderr is a
// terminal, import redraws the current stage in place and prints a line
// per finished file; otherwise only failures and the summary are printed.
// The exit status is 1 when any file or asset failed.
package main
