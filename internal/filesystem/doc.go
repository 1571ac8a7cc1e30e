/*
Package filesystem retries the handful of filesystem calls the archive
depends on when NFS reports a stale file handle.

The archive, the index database and ingest sources are often NFS mounts.
A [Policy] wraps os.Stat, os.Open, os.Rename and os.Remove and retries
only ESTALE, with exponential backoff that stops early when the context
ends:

	p := filesystem.DefaultPolicy()
	f, err := p.Open(ctx, path)
	err = p.Rename(ctx, tmpPath, canonicalPath)

Every finished call is reported as an [Op] to the [Observer] installed
with SetObserver, labelled with the volume a [VolumeResolver] maps its
path to ("archive", "database", or "source" for anything else).
*/
package filesystem
