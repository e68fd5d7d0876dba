package bashscope

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jward/bashscope/internal/discover"
)

// IndexDirectory discovers the project's shell scripts and indexes them.
// Registered files that are no longer discovered are removed.
func (e *Engine) IndexDirectory(ctx context.Context) error {
	entries, err := discover.Files(e.root, discover.Options{
		Extensions: e.extensions,
		Exclude:    e.exclude,
	})
	if err != nil {
		return fmt.Errorf("bashscope: discover: %w", err)
	}
	paths := make([]string, len(entries))
	found := make(map[string]bool, len(entries))
	for i, entry := range entries {
		paths[i] = filepath.Join(e.root, entry.Path)
		found[paths[i]] = true
	}
	for _, h := range e.reg.Files() {
		if p, ok := e.reg.Path(h); ok && !found[p] {
			e.logger.Debug("engine.vanished", "file", uint64(h), "path", e.reg.RelPath(h))
			e.RemoveFile(p)
		}
	}
	return e.IndexFiles(ctx, paths)
}

// IndexFiles reads and parses the given paths on a bounded worker pool.
// Files whose content hash is unchanged keep their tree version and are not
// re-extracted. Errors on individual files are collected and processing
// continues; cancellation stops the pool.
func (e *Engine) IndexFiles(ctx context.Context, paths []string) error {
	start := time.Now()
	jobs := e.jobs
	if jobs <= 0 {
		jobs = runtime.GOMAXPROCS(0)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(jobs)

	var (
		mu   sync.Mutex
		errs []error
	)
	for _, path := range paths {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			if err := e.LoadFile(gctx, path); err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				mu.Lock()
				errs = append(errs, fmt.Errorf("index %s: %w", path, err))
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	e.logger.Info("engine.index", "files", len(paths), "errors", len(errs), "elapsed", time.Since(start))
	if len(errs) > 0 {
		sort.Slice(errs, func(i, j int) bool { return errs[i].Error() < errs[j].Error() })
		return fmt.Errorf("indexing had %d error(s): %w", len(errs), errs[0])
	}
	return nil
}
