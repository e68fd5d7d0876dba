package bashscope

import (
	"context"
	"fmt"
	"sort"

	"github.com/jward/bashscope/internal/decl"
	"github.com/jward/bashscope/internal/graph"
	"github.com/jward/bashscope/internal/scope"
	"github.com/jward/bashscope/internal/vfs"
)

// Path-based query API. Paths may be absolute or relative to the project
// root. Unknown files yield empty results, not errors.

// IncludedFiles returns the files path includes, directly or transitively,
// in the order a shell would evaluate them. The file itself is part of a
// transitive result only when it includes itself.
func (e *Engine) IncludedFiles(ctx context.Context, path string, transitive bool) (FileSet, error) {
	h, ok := e.reg.Lookup(path)
	if !ok {
		return FileSet{}, nil
	}
	res, err := e.inc.IncludedFiles(ctx, h, transitive)
	if err != nil {
		return FileSet{}, fmt.Errorf("bashscope: included files: %w", err)
	}
	return e.fileSet(res), nil
}

// IncludingFiles returns every file that transitively includes path.
func (e *Engine) IncludingFiles(ctx context.Context, path string) (FileSet, error) {
	h, ok := e.reg.Lookup(path)
	if !ok {
		return FileSet{}, nil
	}
	res, err := e.inc.IncludingFiles(ctx, h)
	if err != nil {
		return FileSet{}, fmt.Errorf("bashscope: including files: %w", err)
	}
	return e.fileSet(res), nil
}

// Inclusions returns the inclusion statements of path in source order.
func (e *Engine) Inclusions(ctx context.Context, path string) ([]Inclusion, error) {
	h, ok := e.reg.Lookup(path)
	if !ok {
		return nil, nil
	}
	edges, err := e.inc.Edges(ctx, h)
	if err != nil {
		return nil, fmt.Errorf("bashscope: inclusions: %w", err)
	}
	out := make([]Inclusion, 0, len(edges))
	for _, edge := range edges {
		out = append(out, e.inclusion(edge))
	}
	return out, nil
}

// Resolve finds the declaration name refers to at (line, col) in path:
// function-local declarations first, then the file and its transitive
// includes in inclusion order. Returns nil when nothing matches.
func (e *Engine) Resolve(ctx context.Context, path string, line, col int, name string) (*Declaration, error) {
	h, ok := e.reg.Lookup(path)
	if !ok {
		return nil, nil
	}
	d, err := e.resolver.Resolve(ctx, h, decl.Position{Line: line, Col: col}, name)
	if err != nil {
		return nil, fmt.Errorf("bashscope: resolve: %w", err)
	}
	return e.declaration(d), nil
}

// DefinitionAt resolves the name under (line, col) in path: a command name,
// a variable expansion, an assignment target or a function name.
func (e *Engine) DefinitionAt(ctx context.Context, path string, line, col int) (*Declaration, error) {
	h, ok := e.reg.Lookup(path)
	if !ok {
		return nil, nil
	}
	d, err := e.resolver.DefinitionAt(ctx, h, decl.Position{Line: line, Col: col})
	if err != nil {
		return nil, fmt.Errorf("bashscope: definition at: %w", err)
	}
	return e.declaration(d), nil
}

// SearchScopeFor returns the files where references to d may appear.
func (e *Engine) SearchScopeFor(ctx context.Context, d Declaration) (SearchScope, error) {
	h, ok := e.reg.Lookup(d.File)
	if !ok {
		return SearchScope{}, nil
	}
	sc, err := e.resolver.SearchScopeFor(ctx, decl.Declaration{
		Name:     d.Name,
		Kind:     kindOf(d.Kind),
		File:     h,
		Pos:      decl.Position{Line: d.Line, Col: d.Col},
		Function: d.Function,
	})
	if err != nil {
		return SearchScope{}, fmt.Errorf("bashscope: search scope: %w", err)
	}
	return e.searchScope(sc), nil
}

// UseScopeAt resolves the name under (line, col) and returns its search
// scope. The declaration is nil when nothing resolves.
func (e *Engine) UseScopeAt(ctx context.Context, path string, line, col int) (*Declaration, SearchScope, error) {
	h, ok := e.reg.Lookup(path)
	if !ok {
		return nil, SearchScope{}, nil
	}
	d, sc, err := e.resolver.UseScopeAt(ctx, h, decl.Position{Line: line, Col: col})
	if err != nil {
		return nil, SearchScope{}, fmt.Errorf("bashscope: use scope: %w", err)
	}
	return e.declaration(d), e.searchScope(sc), nil
}

// ResolveScope returns the files whose declarations path can see: the file
// itself followed by its transitive includes.
func (e *Engine) ResolveScope(ctx context.Context, path string) (SearchScope, error) {
	h, ok := e.reg.Lookup(path)
	if !ok {
		return SearchScope{}, nil
	}
	sc, err := e.resolver.ResolveScope(ctx, h)
	if err != nil {
		return SearchScope{}, fmt.Errorf("bashscope: resolve scope: %w", err)
	}
	return e.searchScope(sc), nil
}

// CircularIncludes returns the include cycles of the project, each as a
// sorted list of paths, ordered by first path.
func (e *Engine) CircularIncludes(ctx context.Context) ([][]string, error) {
	cycles, err := e.inc.Cycles(ctx)
	if err != nil {
		return nil, fmt.Errorf("bashscope: cycles: %w", err)
	}
	out := make([][]string, 0, len(cycles))
	for _, c := range cycles {
		group := e.paths(c)
		if len(group) == 0 {
			continue
		}
		sort.Strings(group)
		out = append(out, group)
	}
	sort.Slice(out, func(i, j int) bool { return out[i][0] < out[j][0] })
	return out, nil
}

// Files returns every registered path in handle order.
func (e *Engine) Files() []string {
	return e.paths(e.reg.Files())
}

func (e *Engine) paths(hs []vfs.FileHandle) []string {
	out := make([]string, 0, len(hs))
	for _, h := range hs {
		if p, ok := e.reg.Path(h); ok {
			out = append(out, p)
		}
	}
	return out
}

func (e *Engine) fileSet(r graph.Result) FileSet {
	return FileSet{Files: e.paths(r.Files), Widened: r.Widened}
}

func (e *Engine) searchScope(sc scope.SearchScope) SearchScope {
	return SearchScope{Files: e.paths(sc.Files), Local: sc.Local, Widened: sc.Widened}
}

func (e *Engine) inclusion(edge graph.Edge) Inclusion {
	inc := Inclusion{Expr: edge.Path, Dynamic: edge.Dynamic, Line: edge.Line, Col: edge.Col}
	if edge.Resolved() {
		inc.Target, _ = e.reg.Path(edge.To)
	}
	return inc
}

func (e *Engine) declaration(d *decl.Declaration) *Declaration {
	if d == nil {
		return nil
	}
	p, _ := e.reg.Path(d.File)
	return &Declaration{
		Name:     d.Name,
		Kind:     d.Kind.String(),
		File:     p,
		Line:     d.Pos.Line,
		Col:      d.Pos.Col,
		Function: d.Function,
	}
}
