// Package discovery expands the paths submitted for import into candidate
// files, classifying each one exactly once.
package discovery

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"media-archive/internal/logging"
	"media-archive/internal/mediatypes"
	"media-archive/internal/workers"
)

var log = logging.For("discovery")

// Config configures the parallel walker.
type Config struct {
	// NumWorkers is the number of classifying workers (0 = auto).
	NumWorkers int
	// ChannelBuffer is the size of the job and result channels.
	ChannelBuffer int
	// SkipHidden skips files and directories starting with ".".
	SkipHidden bool
}

// DefaultConfig returns defaults suited to local disks and NFS alike.
func DefaultConfig() Config {
	return Config{
		NumWorkers:    workers.ForIO(8),
		ChannelBuffer: 1000,
		SkipHidden:    true,
	}
}

// Candidate is one file to ingest. Err is set when the file was found but
// cannot be ingested (unsupported type, unreadable); the coordinator
// reports it as a failed outcome.
type Candidate struct {
	Path   string
	Format mediatypes.Format
	Size   int64
	Err    error
}

// Walker expands paths in parallel.
type Walker struct {
	config Config

	filesFound   atomic.Int64
	foldersSeen  atomic.Int64
	errorsCount  atomic.Int64
	skippedCount atomic.Int64
}

// New creates a Walker.
func New(config Config) *Walker {
	if config.NumWorkers <= 0 {
		config.NumWorkers = workers.ForIO(8)
	}
	if config.ChannelBuffer <= 0 {
		config.ChannelBuffer = 1000
	}
	return &Walker{config: config}
}

type job struct {
	path string
	size int64
	// seq orders explicit paths; directory contents share their root's seq
	// and are ordered by path within it.
	seq int
}

type result struct {
	seq       int
	candidate Candidate
}

// Expand turns paths into candidates. Explicit file paths keep the
// caller's order; each directory is replaced, in place, by its contents
// in lexical order. Hidden entries and sidecars inside directories are
// skipped. A path that does not exist yields a candidate carrying the
// error. Only cancellation aborts the expansion.
func (w *Walker) Expand(ctx context.Context, paths []string) ([]Candidate, error) {
	start := time.Now()
	jobs := make(chan job, w.config.ChannelBuffer)
	results := make(chan result, w.config.ChannelBuffer)

	var wg sync.WaitGroup
	for i := 0; i < w.config.NumWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.worker(ctx, jobs, results)
		}()
	}

	var collected []result
	done := make(chan struct{})
	go func() {
		defer close(done)
		for r := range results {
			collected = append(collected, r)
		}
	}()

	err := w.enqueue(ctx, paths, jobs, results)
	close(jobs)
	wg.Wait()
	close(results)
	<-done

	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(collected, func(i, j int) bool {
		if collected[i].seq != collected[j].seq {
			return collected[i].seq < collected[j].seq
		}
		return collected[i].candidate.Path < collected[j].candidate.Path
	})
	out := make([]Candidate, len(collected))
	for i, r := range collected {
		out[i] = r.candidate
	}

	log.Debug("expanded %d paths into %d candidates (%d folders, %d skipped, %d errors) in %v",
		len(paths), len(out), w.foldersSeen.Load(), w.skippedCount.Load(), w.errorsCount.Load(), time.Since(start))
	return out, nil
}

func (w *Walker) enqueue(ctx context.Context, paths []string, jobs chan<- job, results chan<- result) error {
	for seq, p := range paths {
		if err := ctx.Err(); err != nil {
			return err
		}
		p = filepath.Clean(p)
		info, err := os.Stat(p)
		if err != nil {
			w.errorsCount.Add(1)
			select {
			case results <- result{seq: seq, candidate: Candidate{Path: p, Err: err}}:
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}
		if !info.IsDir() {
			// Explicit files are taken as given, even when hidden.
			if err := send(ctx, jobs, job{path: p, size: info.Size(), seq: seq}); err != nil {
				return err
			}
			continue
		}
		if err := w.walkDir(ctx, p, seq, jobs); err != nil {
			return err
		}
	}
	return nil
}

func send(ctx context.Context, jobs chan<- job, j job) error {
	select {
	case jobs <- j:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Walker) walkDir(ctx context.Context, root string, seq int, jobs chan<- job) error {
	w.foldersSeen.Add(1)
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			log.Warn("error accessing path %s: %v", path, err)
			w.errorsCount.Add(1)
			return nil
		}
		if path == root {
			return nil
		}

		if w.config.SkipHidden && strings.HasPrefix(d.Name(), ".") {
			w.skippedCount.Add(1)
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			w.foldersSeen.Add(1)
			return nil
		}
		if !d.Type().IsRegular() || mediatypes.IsSidecar(d.Name()) {
			w.skippedCount.Add(1)
			return nil
		}

		info, err := d.Info()
		if err != nil {
			log.Warn("error getting info for %s: %v", path, err)
			w.errorsCount.Add(1)
			return nil
		}
		return send(ctx, jobs, job{path: path, size: info.Size(), seq: seq})
	})
}

func (w *Walker) worker(ctx context.Context, jobs <-chan job, results chan<- result) {
	for j := range jobs {
		if ctx.Err() != nil {
			continue
		}
		format, err := mediatypes.Classify(j.path)
		if err != nil {
			w.errorsCount.Add(1)
		} else {
			w.filesFound.Add(1)
		}
		select {
		case results <- result{seq: j.seq, candidate: Candidate{Path: j.path, Format: format, Size: j.size, Err: err}}:
		case <-ctx.Done():
		}
	}
}

// Stats returns counters accumulated across Expand calls.
func (w *Walker) Stats() (files, folders, errors int64) {
	return w.filesFound.Load(), w.foldersSeen.Load(), w.errorsCount.Load()
}
