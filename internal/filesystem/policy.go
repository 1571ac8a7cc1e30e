package filesystem

import (
	"context"
	"errors"
	"fmt"
	"os"
	"syscall"
	"time"

	"media-archive/internal/logging"
)

var log = logging.For("fs")

// Policy retries filesystem calls that fail with ESTALE, which NFS
// returns for a handle invalidated by the server. Every other error is
// returned at once.
type Policy struct {
	// Retries is the number of extra attempts after the first.
	Retries    int
	Backoff    time.Duration
	MaxBackoff time.Duration
	// Volumes labels observed ops; nil uses the default resolver.
	Volumes *VolumeResolver
}

// DefaultPolicy retries three times, backing off from 50ms to 500ms.
func DefaultPolicy() Policy {
	return Policy{
		Retries:    3,
		Backoff:    50 * time.Millisecond,
		MaxBackoff: 500 * time.Millisecond,
	}
}

// IsStale reports whether err is an NFS stale file handle.
func IsStale(err error) bool {
	return errors.Is(err, syscall.ESTALE)
}

// Stat is os.Stat under the policy.
func (p Policy) Stat(ctx context.Context, path string) (os.FileInfo, error) {
	var info os.FileInfo
	err := p.do(ctx, "stat", path, func() (err error) {
		info, err = os.Stat(path)
		return err
	})
	return info, err
}

// Open is os.Open under the policy.
func (p Policy) Open(ctx context.Context, path string) (*os.File, error) {
	var f *os.File
	err := p.do(ctx, "open", path, func() (err error) {
		f, err = os.Open(path)
		return err
	})
	return f, err
}

// Rename is os.Rename under the policy. Atomic placement in the archive
// depends on it, so a stale handle on a freshly staged file is retried
// rather than failing the import.
func (p Policy) Rename(ctx context.Context, oldpath, newpath string) error {
	return p.do(ctx, "rename", newpath, func() error {
		return os.Rename(oldpath, newpath)
	})
}

// Remove is os.Remove under the policy.
func (p Policy) Remove(ctx context.Context, path string) error {
	return p.do(ctx, "remove", path, func() error {
		return os.Remove(path)
	})
}

func (p Policy) volume(path string) string {
	if p.Volumes != nil {
		return p.Volumes.Resolve(path)
	}
	return defaultResolver.Load().Resolve(path)
}

// do runs fn until it succeeds, fails with something other than ESTALE,
// runs out of retries or ctx ends during a backoff.
func (p Policy) do(ctx context.Context, name, path string, fn func() error) error {
	op := Op{Name: name, Path: path, Volume: p.volume(path)}
	start := time.Now()
	backoff := p.Backoff

	for {
		op.Attempts++
		op.Err = fn()
		if !IsStale(op.Err) {
			break
		}
		op.Stale++
		if op.Attempts > p.Retries {
			log.Warn("%s %s: still stale after %d attempts", name, path, op.Attempts)
			break
		}
		log.Debug("%s %s: stale file handle, retrying in %v", name, path, backoff)

		t := time.NewTimer(backoff)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			op.Err = fmt.Errorf("%w (last error: %v)", ctx.Err(), op.Err)
			op.Duration = time.Since(start)
			report(op)
			return op.Err
		}
		backoff = min(backoff*2, p.MaxBackoff)
	}

	if op.Err == nil && op.Attempts > 1 {
		log.Info("%s %s: recovered after %d attempts", name, path, op.Attempts)
	}
	op.Duration = time.Since(start)
	report(op)
	return op.Err
}
