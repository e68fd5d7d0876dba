// Package extract finds inclusion statements (`source path`, `. path`) in a
// parsed script and turns them into graph edges. Extraction is a pure
// function of the tree plus the set of known files; it never touches the
// graph.
package extract

import (
	"context"
	"io"
	"log/slog"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/jward/bashscope/internal/graph"
	"github.com/jward/bashscope/internal/tree"
	"github.com/jward/bashscope/internal/vfs"
)

// Paths is the file system view the extractor resolves targets against.
type Paths interface {
	Path(h vfs.FileHandle) (string, bool)
	Dir(h vfs.FileHandle) string
	ResolveInclude(includer vfs.FileHandle, target string) (vfs.FileHandle, bool)
}

// Request describes an include expression that static evaluation could
// not reduce to a path.
type Request struct {
	Expr     string // source text of the argument
	Includer string // path of the including file
	Dir      string // directory of the including file
}

// Evaluator is an optional fallback for dynamic include expressions. It
// returns ok=false when it cannot produce a path either.
type Evaluator interface {
	EvaluateInclude(ctx context.Context, req Request) (path string, ok bool, err error)
}

// Extractor produces inclusion edges for a tree.
type Extractor struct {
	paths  Paths
	eval   Evaluator
	logger *slog.Logger
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithEvaluator installs a fallback evaluator for dynamic expressions.
func WithEvaluator(ev Evaluator) Option {
	return func(x *Extractor) {
		x.eval = ev
	}
}

// WithLogger sets the extractor's logger.
func WithLogger(l *slog.Logger) Option {
	return func(x *Extractor) {
		if l != nil {
			x.logger = l
		}
	}
}

// New creates an Extractor resolving targets through paths.
func New(paths Paths, opts ...Option) *Extractor {
	x := &Extractor{
		paths:  paths,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(x)
	}
	return x
}

// Extract returns the inclusion edges of t in statement order. Inclusion
// statements without an argument contribute nothing.
func (x *Extractor) Extract(ctx context.Context, t *tree.Tree) []graph.Edge {
	var edges []graph.Edge
	t.Walk(func(root *sitter.Node) {
		edges = x.extract(ctx, t, root)
	})
	x.logger.Debug("extract.edges", "file", uint64(t.File), "version", t.Version, "edges", len(edges))
	return edges
}

func (x *Extractor) extract(ctx context.Context, t *tree.Tree, root *sitter.Node) []graph.Edge {
	ev := newEvaluator(t, x.paths.Dir(t.File))
	ev.collect(root)

	var edges []graph.Edge
	walk(root, func(n *sitter.Node) {
		arg, ok := includeArgument(t, n)
		if !ok {
			return
		}
		edge := graph.Edge{
			From:          t.File,
			To:            vfs.Unresolved,
			Line:          int(n.StartPoint().Row),
			Col:           int(n.StartPoint().Column),
			SourceVersion: t.Version,
		}
		path, static := ev.eval(arg)
		if !static {
			path, static = x.hook(ctx, t, arg)
		}
		if !static {
			edge.Dynamic = true
			edge.Path = t.Text(arg)
			edges = append(edges, edge)
			return
		}
		if path == "" {
			return
		}
		edge.Path = path
		if target, found := x.paths.ResolveInclude(t.File, path); found {
			edge.To = target
		}
		edges = append(edges, edge)
	})
	return edges
}

func (x *Extractor) hook(ctx context.Context, t *tree.Tree, arg *sitter.Node) (string, bool) {
	if x.eval == nil {
		return "", false
	}
	includer, _ := x.paths.Path(t.File)
	req := Request{
		Expr:     t.Text(arg),
		Includer: includer,
		Dir:      x.paths.Dir(t.File),
	}
	path, ok, err := x.eval.EvaluateInclude(ctx, req)
	if err != nil {
		x.logger.Warn("extract.hook_failed", "file", includer, "expr", req.Expr, "err", err)
		return "", false
	}
	return path, ok
}

// walk visits named nodes in pre-order, which is source order.
func walk(n *sitter.Node, visit func(*sitter.Node)) {
	visit(n)
	for i := 0; i < int(n.NamedChildCount()); i++ {
		walk(n.NamedChild(i), visit)
	}
}

// includeArgument returns the path argument of a `source` or `.` command,
// also accepting the `builtin source` and `command .` forms.
func includeArgument(t *tree.Tree, n *sitter.Node) (*sitter.Node, bool) {
	if n.Type() != "command" {
		return nil, false
	}
	var name string
	var args []*sitter.Node
	for i := 0; i < int(n.NamedChildCount()); i++ {
		ch := n.NamedChild(i)
		switch {
		case ch.Type() == "command_name":
			name = t.Text(ch)
		case ch.Type() == "variable_assignment", isRedirect(ch.Type()):
			// prefix assignments and redirections are not arguments
		case name != "":
			args = append(args, ch)
		}
	}
	if (name == "builtin" || name == "command") && len(args) > 0 && isIncludeCommand(t.Text(args[0])) {
		name, args = t.Text(args[0]), args[1:]
	}
	if !isIncludeCommand(name) || len(args) == 0 {
		return nil, false
	}
	return args[0], true
}

func isIncludeCommand(name string) bool {
	return name == "source" || name == "."
}

func isRedirect(typ string) bool {
	switch typ {
	case "file_redirect", "heredoc_redirect", "herestring_redirect":
		return true
	}
	return false
}
