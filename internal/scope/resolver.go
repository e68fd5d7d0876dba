// Package scope resolves names across the inclusion graph and computes the
// file sets that name lookups and reference searches must consider.
//
// Resolution looks at the local declarations visible at a position first,
// then at the file-level declarations of every transitively included file in
// inclusion order; the first match wins. A widened include set does not
// change resolution: only the concrete files are searched, so a dynamic
// include never produces a false match. Widening is reported on search
// scopes instead, where a consumer can fall back to the whole project.
package scope

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"github.com/jward/bashscope/internal/decl"
	"github.com/jward/bashscope/internal/graph"
	"github.com/jward/bashscope/internal/tree"
	"github.com/jward/bashscope/internal/vfs"
)

// LocalTraversal enumerates the declarations visible at a position within
// one file, nearest first.
type LocalTraversal interface {
	DeclarationsVisibleAt(t *tree.Tree, pos decl.Position) []decl.Declaration
}

// Inclusions answers include and includer queries.
type Inclusions interface {
	IncludedFiles(ctx context.Context, f vfs.FileHandle, transitive bool) (graph.Result, error)
	IncludingFiles(ctx context.Context, f vfs.FileHandle) (graph.Result, error)
}

// Trees supplies current parse trees.
type Trees interface {
	Get(h vfs.FileHandle) (*tree.Tree, bool)
}

// SearchScope is a set of files for a consumer to search. Local marks a
// precise single-file scope. Widened means unresolved includes exist, so
// the set may be incomplete.
type SearchScope struct {
	Files   []vfs.FileHandle
	Local   bool
	Widened bool
}

// Resolver resolves names at positions. Safe for concurrent use.
type Resolver struct {
	trees  Trees
	inc    Inclusions
	local  LocalTraversal
	logger *slog.Logger

	mu      sync.Mutex
	indexes map[vfs.FileHandle]*decl.Index
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithLocalTraversal replaces the default per-file declaration traversal,
// which reads the resolver's cached declaration index.
func WithLocalTraversal(lt LocalTraversal) Option {
	return func(r *Resolver) {
		if lt != nil {
			r.local = lt
		}
	}
}

// WithLogger sets the resolver's logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Resolver) {
		if l != nil {
			r.logger = l
		}
	}
}

// New creates a Resolver.
func New(trees Trees, inc Inclusions, opts ...Option) *Resolver {
	r := &Resolver{
		trees:   trees,
		inc:     inc,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		indexes: make(map[vfs.FileHandle]*decl.Index),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// index returns the declaration index of f's current tree.
func (r *Resolver) index(f vfs.FileHandle) *decl.Index {
	t, ok := r.trees.Get(f)
	if !ok {
		r.mu.Lock()
		delete(r.indexes, f)
		r.mu.Unlock()
		return nil
	}
	return r.indexOf(t)
}

// indexOf returns the declaration index of t, reusing the cached one while
// the tree version is unchanged. Collection runs outside the cache lock;
// an older index never replaces a newer one.
func (r *Resolver) indexOf(t *tree.Tree) *decl.Index {
	r.mu.Lock()
	ix, ok := r.indexes[t.File]
	r.mu.Unlock()
	if ok && ix.Version == t.Version {
		return ix
	}

	ix = decl.Collect(t)
	r.mu.Lock()
	if cur, ok := r.indexes[t.File]; !ok || cur.Version < ix.Version {
		r.indexes[t.File] = ix
	}
	r.mu.Unlock()
	return ix
}

// visibleAt lists the declarations visible at pos in t, nearest first.
func (r *Resolver) visibleAt(t *tree.Tree, pos decl.Position) []decl.Declaration {
	if r.local != nil {
		return r.local.DeclarationsVisibleAt(t, pos)
	}
	return r.indexOf(t).VisibleAt(pos)
}

// Resolve finds the declaration name refers to at pos in file. It returns
// nil, nil when nothing declares the name.
func (r *Resolver) Resolve(ctx context.Context, file vfs.FileHandle, pos decl.Position, name string) (*decl.Declaration, error) {
	t, ok := r.trees.Get(file)
	if !ok {
		return nil, nil
	}
	for _, d := range r.visibleAt(t, pos) {
		if d.Name == name {
			return &d, nil
		}
	}

	inc, err := r.inc.IncludedFiles(ctx, file, true)
	if err != nil {
		return nil, err
	}
	for _, f := range inc.Files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ix := r.index(f)
		if ix == nil {
			continue
		}
		if d, ok := ix.Lookup(name); ok {
			return &d, nil
		}
	}
	r.logger.Debug("scope.not_found", "file", uint64(file), "name", name, "searched", len(inc.Files), "widened", inc.Widened)
	return nil, nil
}

// DefinitionAt resolves the name under pos. It returns nil, nil when pos is
// not on a name or the name is not declared.
func (r *Resolver) DefinitionAt(ctx context.Context, file vfs.FileHandle, pos decl.Position) (*decl.Declaration, error) {
	t, ok := r.trees.Get(file)
	if !ok {
		return nil, nil
	}
	ref, ok := decl.ReferenceAt(t, pos)
	if !ok {
		return nil, nil
	}
	return r.Resolve(ctx, file, pos, ref.Name)
}

// SearchScopeFor returns the files in which references to d may appear: d's
// own file when nothing includes it or d is function-local, otherwise the
// file plus every file that transitively includes it.
func (r *Resolver) SearchScopeFor(ctx context.Context, d decl.Declaration) (SearchScope, error) {
	if d.Kind == decl.Local {
		return SearchScope{Files: []vfs.FileHandle{d.File}, Local: true}, nil
	}
	incl, err := r.inc.IncludingFiles(ctx, d.File)
	if err != nil {
		return SearchScope{}, err
	}
	sc := SearchScope{Files: withRoot(d.File, incl.Files), Widened: incl.Widened}
	sc.Local = len(sc.Files) == 1
	return sc, nil
}

// UseScopeAt resolves the name under pos and returns its search scope. The
// declaration is nil when nothing resolves.
func (r *Resolver) UseScopeAt(ctx context.Context, file vfs.FileHandle, pos decl.Position) (*decl.Declaration, SearchScope, error) {
	d, err := r.DefinitionAt(ctx, file, pos)
	if err != nil || d == nil {
		return nil, SearchScope{}, err
	}
	sc, err := r.SearchScopeFor(ctx, *d)
	if err != nil {
		return nil, SearchScope{}, err
	}
	return d, sc, nil
}

// ResolveScope returns the files whose declarations are visible from file:
// the file itself followed by its transitive includes in inclusion order.
func (r *Resolver) ResolveScope(ctx context.Context, file vfs.FileHandle) (SearchScope, error) {
	inc, err := r.inc.IncludedFiles(ctx, file, true)
	if err != nil {
		return SearchScope{}, err
	}
	sc := SearchScope{Files: withRoot(file, inc.Files), Widened: inc.Widened}
	sc.Local = len(sc.Files) == 1
	return sc, nil
}

func withRoot(root vfs.FileHandle, files []vfs.FileHandle) []vfs.FileHandle {
	out := make([]vfs.FileHandle, 0, len(files)+1)
	out = append(out, root)
	for _, f := range files {
		if f != root {
			out = append(out, f)
		}
	}
	return out
}
