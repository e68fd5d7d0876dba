// Package inclusion keeps the inclusion graph in step with the parse trees.
//
// Tree changes only mark files dirty. Every query first revalidates the
// dirty files: a file whose current tree version differs from the version
// its edges were extracted from is re-extracted and its edge set replaced
// in one atomic upsert. Files that did not change are never re-scanned.
package inclusion

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"slices"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/jward/bashscope/internal/graph"
	"github.com/jward/bashscope/internal/tree"
	"github.com/jward/bashscope/internal/vfs"
)

// Trees is the parse tree source the manager follows.
type Trees interface {
	Get(h vfs.FileHandle) (*tree.Tree, bool)
	Subscribe(l tree.Listener)
}

// Extractor derives the inclusion edges of a tree.
type Extractor interface {
	Extract(ctx context.Context, t *tree.Tree) []graph.Edge
}

// Paths maps handles to paths and lists the candidate paths an include is
// resolved against, in precedence order.
type Paths interface {
	Path(h vfs.FileHandle) (string, bool)
	Candidates(includer vfs.FileHandle, target string) []string
}

// Stats reports manager and graph counters.
type Stats struct {
	Extractions uint64
	Dirty       int
	Graph       graph.Stats
}

// Manager answers inclusion queries over a lazily revalidated graph. Safe
// for concurrent use.
type Manager struct {
	trees  Trees
	x      Extractor
	g      *graph.Graph
	paths  Paths
	widen  bool
	logger *slog.Logger

	mu        sync.Mutex
	extracted map[vfs.FileHandle]uint64 // tree version the edges came from
	dirty     map[vfs.FileHandle]struct{}

	// One extraction per file at a time; concurrent queries share it.
	flight      singleflight.Group
	extractions atomic.Uint64
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the manager's logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithWidening controls whether unresolved edges set the Widened flag on
// query results. Enabled by default.
func WithWidening(on bool) Option {
	return func(m *Manager) {
		m.widen = on
	}
}

// WithPaths lets added and renamed files re-resolve includes that
// currently match a lower-precedence candidate. Without it only includes
// that matched nothing are re-resolved.
func WithPaths(p Paths) Option {
	return func(m *Manager) {
		m.paths = p
	}
}

// New creates a Manager over g and subscribes it to trees.
func New(trees Trees, x Extractor, g *graph.Graph, opts ...Option) *Manager {
	m := &Manager{
		trees:     trees,
		x:         x,
		g:         g,
		widen:     true,
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		extracted: make(map[vfs.FileHandle]uint64),
		dirty:     make(map[vfs.FileHandle]struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	trees.Subscribe(func(c tree.Change) {
		m.markDirty(c.File)
	})
	return m
}

// Graph returns the underlying graph.
func (m *Manager) Graph() *graph.Graph {
	return m.g
}

func (m *Manager) markDirty(files ...vfs.FileHandle) {
	m.mu.Lock()
	for _, f := range files {
		m.dirty[f] = struct{}{}
	}
	m.mu.Unlock()
}

// invalidate forces re-extraction of files even when their tree version is
// unchanged, for changes outside the tree such as a moved include target.
func (m *Manager) invalidate(files ...vfs.FileHandle) {
	m.mu.Lock()
	for _, f := range files {
		delete(m.extracted, f)
		m.dirty[f] = struct{}{}
	}
	m.mu.Unlock()
}

// FileAdded must be called after a new file is registered. Files whose
// static includes matched nothing, or may now match the new path ahead of
// their current target, are re-resolved.
func (m *Manager) FileAdded(h vfs.FileHandle) {
	m.invalidate(m.g.WithMissing()...)
	m.invalidate(m.shadowed(h)...)
	m.markDirty(h)
}

// FileRenamed must be called after h moved to a new path. The file itself
// resolves relative includes from its new directory, its includers lose
// their match, and other includes may now match the new path.
func (m *Manager) FileRenamed(h vfs.FileHandle) {
	m.invalidate(h)
	m.invalidate(m.g.Includers(h)...)
	m.invalidate(m.g.WithMissing()...)
	m.invalidate(m.shadowed(h)...)
}

// shadowed returns the files with a static include that lists h's path
// among its candidates but resolves elsewhere.
func (m *Manager) shadowed(h vfs.FileHandle) []vfs.FileHandle {
	if m.paths == nil {
		return nil
	}
	path, ok := m.paths.Path(h)
	if !ok {
		return nil
	}
	var out []vfs.FileHandle
	for _, f := range m.g.StaticIncluders(filepath.Base(path)) {
		for _, e := range m.g.Edges(f) {
			if e.Dynamic || e.To == h {
				continue
			}
			if slices.Contains(m.paths.Candidates(f, e.Path), path) {
				out = append(out, f)
				break
			}
		}
	}
	return out
}

// Sync revalidates every dirty file.
func (m *Manager) Sync(ctx context.Context) error {
	for {
		pending := m.pending()
		if len(pending) == 0 {
			return nil
		}
		for _, f := range pending {
			if err := ctx.Err(); err != nil {
				return err
			}
			// An error with a live ctx means a shared refresh was abandoned
			// by another caller; the file is dirty again and retried.
			if err := m.refresh(ctx, f); err != nil && ctx.Err() != nil {
				return ctx.Err()
			}
		}
	}
}

func (m *Manager) pending() []vfs.FileHandle {
	m.mu.Lock()
	out := make([]vfs.FileHandle, 0, len(m.dirty))
	for f := range m.dirty {
		out = append(out, f)
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (m *Manager) refresh(ctx context.Context, f vfs.FileHandle) error {
	_, err, _ := m.flight.Do(strconv.FormatUint(uint64(f), 10), func() (any, error) {
		m.mu.Lock()
		delete(m.dirty, f)
		last, seen := m.extracted[f]
		m.mu.Unlock()

		t, ok := m.trees.Get(f)
		if !ok {
			if seen || m.g.Known(f) {
				m.drop(f)
			}
			return nil, nil
		}
		if seen && last == t.Version {
			return nil, nil
		}

		edges := m.x.Extract(ctx, t)
		if err := ctx.Err(); err != nil {
			m.markDirty(f)
			return nil, err
		}
		changed := m.g.UpsertEdges(f, edges)
		m.extractions.Add(1)

		m.mu.Lock()
		m.extracted[f] = t.Version
		m.mu.Unlock()

		m.logger.Debug("inclusion.revalidate",
			"file", uint64(f), "version", t.Version, "edges", len(edges), "changed", changed)
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("inclusion: revalidate file %d: %w", f, err)
	}
	return nil
}

// drop prunes a file whose tree is gone. Includers keep an unresolved edge
// and are re-extracted so another candidate path may match.
func (m *Manager) drop(f vfs.FileHandle) {
	affected := m.g.RemoveFile(f)
	m.mu.Lock()
	delete(m.extracted, f)
	m.mu.Unlock()
	m.invalidate(affected...)
	m.logger.Debug("inclusion.remove", "file", uint64(f), "includers", len(affected))
}

// IncludedFiles returns the files f includes, transitively or directly, in
// inclusion order. Unknown files yield an empty result.
func (m *Manager) IncludedFiles(ctx context.Context, f vfs.FileHandle, transitive bool) (graph.Result, error) {
	if err := m.Sync(ctx); err != nil {
		return graph.Result{}, err
	}
	var res graph.Result
	if transitive {
		res = m.g.TransitiveIncludes(f, m.widen)
	} else {
		res = m.g.Direct(f)
		res.Widened = res.Widened && m.widen
	}
	return res, nil
}

// IncludingFiles returns every file that transitively includes f.
func (m *Manager) IncludingFiles(ctx context.Context, f vfs.FileHandle) (graph.Result, error) {
	if err := m.Sync(ctx); err != nil {
		return graph.Result{}, err
	}
	res := m.g.TransitiveIncluders(f)
	res.Widened = res.Widened && m.widen
	return res, nil
}

// Edges returns the current inclusion edges of f.
func (m *Manager) Edges(ctx context.Context, f vfs.FileHandle) ([]graph.Edge, error) {
	if err := m.Sync(ctx); err != nil {
		return nil, err
	}
	return m.g.Edges(f), nil
}

// Cycles returns the include cycles of the project.
func (m *Manager) Cycles(ctx context.Context) ([][]vfs.FileHandle, error) {
	if err := m.Sync(ctx); err != nil {
		return nil, err
	}
	return m.g.Cycles(), nil
}

// Stats returns a snapshot of the counters.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	dirty := len(m.dirty)
	m.mu.Unlock()
	return Stats{
		Extractions: m.extractions.Load(),
		Dirty:       dirty,
		Graph:       m.g.Stats(),
	}
}
