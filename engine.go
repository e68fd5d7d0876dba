package bashscope

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/jward/bashscope/internal/config"
	"github.com/jward/bashscope/internal/extract"
	"github.com/jward/bashscope/internal/graph"
	"github.com/jward/bashscope/internal/inclusion"
	"github.com/jward/bashscope/internal/runtime"
	"github.com/jward/bashscope/internal/scope"
	"github.com/jward/bashscope/internal/store"
	"github.com/jward/bashscope/internal/tree"
	"github.com/jward/bashscope/internal/vfs"
)

// Engine owns every component of one project session: the file registry,
// the parse tree store, the inclusion manager and the scope resolver. Safe
// for concurrent use.
type Engine struct {
	root   string
	cfg    *config.ProjectConfig
	logger *slog.Logger

	searchPaths    []string
	extensions     []string
	exclude        []string
	resolverScript string
	jobs           int
	widen          *bool
	dbPath         string

	reg      *vfs.Registry
	trees    *tree.Store
	runtime  *runtime.Runtime // nil without a resolver script
	inc      *inclusion.Manager
	resolver *scope.Resolver
	store    *store.Store // nil without WithStore

	mu       sync.Mutex
	dialects map[vfs.FileHandle]string
}

// Option configures an Engine. Options override values from the project
// config file.
type Option func(*Engine)

// WithLogger sets the logger shared by all components.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithConfig uses cfg instead of loading the project config file.
func WithConfig(cfg *config.ProjectConfig) Option {
	return func(e *Engine) {
		e.cfg = cfg
	}
}

// WithSearchPaths sets the include fallback directories, tried in order
// after the includer's own directory.
func WithSearchPaths(paths ...string) Option {
	return func(e *Engine) {
		e.searchPaths = append([]string{}, paths...)
	}
}

// WithExtensions adds file extensions treated as bash during discovery.
func WithExtensions(exts ...string) Option {
	return func(e *Engine) {
		e.extensions = append([]string{}, exts...)
	}
}

// WithExclude sets gitignore-style patterns skipped during discovery.
func WithExclude(patterns ...string) Option {
	return func(e *Engine) {
		e.exclude = append([]string{}, patterns...)
	}
}

// WithResolverScript configures a Risor script consulted for include
// expressions that cannot be evaluated statically.
func WithResolverScript(path string) Option {
	return func(e *Engine) {
		e.resolverScript = path
	}
}

// WithJobs bounds how many files IndexFiles parses at once. Zero means
// GOMAXPROCS.
func WithJobs(n int) Option {
	return func(e *Engine) {
		e.jobs = n
	}
}

// WithWidening controls whether unresolved includes set the Widened flag.
func WithWidening(on bool) Option {
	return func(e *Engine) {
		e.widen = &on
	}
}

// WithStore backs the engine with a SQLite snapshot at dbPath, written by
// Persist.
func WithStore(dbPath string) Option {
	return func(e *Engine) {
		e.dbPath = dbPath
	}
}

// New creates an Engine for the project at root. Unless WithConfig is
// given, the project config file in root is loaded.
func New(root string, opts ...Option) (*Engine, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("bashscope: resolve root: %w", err)
	}
	e := &Engine{
		root:     abs,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		dialects: make(map[vfs.FileHandle]string),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.cfg == nil {
		if e.cfg, err = config.Load(abs); err != nil {
			return nil, fmt.Errorf("bashscope: %w", err)
		}
	}
	e.applyConfig()

	e.reg = vfs.NewRegistry(abs, e.searchPaths...)
	e.trees = tree.NewStore(tree.WithLogger(e.logger))

	xopts := []extract.Option{extract.WithLogger(e.logger)}
	if e.resolverScript != "" {
		script := e.resolverScript
		if !filepath.IsAbs(script) {
			script = filepath.Join(abs, script)
		}
		rt, err := runtime.NewRuntime(script,
			runtime.WithSearchPaths(e.reg.SearchPaths()...),
			runtime.WithKnownFiles(func(p string) bool {
				_, ok := e.reg.Lookup(p)
				return ok
			}),
			runtime.WithLogger(e.logger),
		)
		if err != nil {
			return nil, fmt.Errorf("bashscope: resolver script: %w", err)
		}
		e.runtime = rt
		xopts = append(xopts, extract.WithEvaluator(rt))
	}

	e.inc = inclusion.New(e.trees, extract.New(e.reg, xopts...), graph.New(),
		inclusion.WithLogger(e.logger),
		inclusion.WithPaths(e.reg),
		inclusion.WithWidening(e.widen == nil || *e.widen),
	)
	e.resolver = scope.New(e.trees, e.inc,
		scope.WithLogger(e.logger),
	)

	if e.dbPath != "" {
		s, err := store.NewStore(e.dbPath)
		if err != nil {
			return nil, fmt.Errorf("bashscope: create store: %w", err)
		}
		if err := s.Migrate(); err != nil {
			s.Close()
			return nil, fmt.Errorf("bashscope: migrate: %w", err)
		}
		e.store = s
	}
	return e, nil
}

// applyConfig fills settings no option provided from the config file.
func (e *Engine) applyConfig() {
	c := e.cfg
	if e.searchPaths == nil {
		e.searchPaths = c.SearchPaths
	}
	if e.extensions == nil {
		e.extensions = c.Extensions
	}
	if e.exclude == nil {
		e.exclude = c.Exclude
	}
	if e.resolverScript == "" {
		e.resolverScript = c.ResolverScript
	}
	if e.jobs == 0 {
		e.jobs = c.Jobs
	}
	if e.widen == nil {
		w := c.Widen()
		e.widen = &w
	}
}

// Close releases the Engine's database resources, if any.
func (e *Engine) Close() error {
	if e.store == nil {
		return nil
	}
	return e.store.Close()
}

// Root returns the absolute project root.
func (e *Engine) Root() string {
	return e.root
}

// Config returns the effective project config.
func (e *Engine) Config() *config.ProjectConfig {
	return e.cfg
}

// UpdateFile sets the content of path, registering it when it is new.
// Content identical to the current tree keeps the tree version.
func (e *Engine) UpdateFile(ctx context.Context, path string, src []byte) error {
	if h, known := e.reg.Lookup(path); known {
		if _, err := e.trees.Update(ctx, h, src); err != nil {
			return fmt.Errorf("bashscope: update %s: %w", path, err)
		}
		e.setDialect(h, path, src)
		return nil
	}

	// A new path is registered only once its content has parsed.
	p, err := tree.ParseSource(ctx, src)
	if err != nil {
		return fmt.Errorf("bashscope: update %s: %w", path, err)
	}
	h, created := e.reg.Claim(path)
	e.trees.Install(h, p)
	e.setDialect(h, path, src)
	if created {
		e.inc.FileAdded(h)
	}
	return nil
}

// LoadFile reads path from disk and updates it.
func (e *Engine) LoadFile(ctx context.Context, path string) error {
	if !filepath.IsAbs(path) {
		path = filepath.Join(e.root, path)
	}
	src, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("bashscope: read file: %w", err)
	}
	return e.UpdateFile(ctx, path, src)
}

// RemoveFile forgets path. Includers keep an unresolved edge to it.
func (e *Engine) RemoveFile(path string) bool {
	h, ok := e.reg.Remove(path)
	if !ok {
		return false
	}
	e.trees.Remove(h)
	e.mu.Lock()
	delete(e.dialects, h)
	e.mu.Unlock()
	return true
}

// RenameFile moves a file to a new path, keeping its identity. Includers
// that named the old path are re-extracted.
func (e *Engine) RenameFile(oldPath, newPath string) error {
	h, err := e.reg.Rename(oldPath, newPath)
	if err != nil {
		return fmt.Errorf("bashscope: %w", err)
	}
	e.inc.FileRenamed(h)
	e.logger.Debug("engine.rename", "file", uint64(h), "path", e.reg.RelPath(h))
	return nil
}

func (e *Engine) setDialect(h vfs.FileHandle, path string, src []byte) {
	dialect, ok := tree.DialectForFile(path, e.extensions...)
	if !ok {
		if dialect, ok = tree.DialectForShebang(src); !ok {
			dialect = "bash"
		}
	}
	e.mu.Lock()
	e.dialects[h] = dialect
	e.mu.Unlock()
}

func (e *Engine) dialect(h vfs.FileHandle) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dialects[h]
}

// Stats returns a snapshot of the engine counters.
func (e *Engine) Stats() Stats {
	s := e.inc.Stats()
	return Stats{
		Files:        len(e.reg.Files()),
		Edges:        s.Graph.Edges,
		GraphVersion: s.Graph.Version,
		Extractions:  s.Extractions,
		Dirty:        s.Dirty,
		MemoHits:     s.Graph.MemoHits,
		MemoMisses:   s.Graph.MemoMisses,
	}
}
