// Package decl enumerates the declarations of a single script: function
// definitions, global variables, and function-local variables. It is the
// local traversal the scope resolver runs before consulting included files.
package decl

import (
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/jward/bashscope/internal/tree"
	"github.com/jward/bashscope/internal/vfs"
)

// Kind classifies a declaration.
type Kind uint8

const (
	Function Kind = iota + 1
	Variable
	Local
)

func (k Kind) String() string {
	switch k {
	case Function:
		return "function"
	case Variable:
		return "variable"
	case Local:
		return "local"
	}
	return "unknown"
}

// Position is a 0-based line and byte column.
type Position struct {
	Line int
	Col  int
}

// Before reports whether p sorts strictly before q.
func (p Position) Before(q Position) bool {
	return p.Line < q.Line || p.Line == q.Line && p.Col < q.Col
}

func pointOf(pt sitter.Point) Position {
	return Position{Line: int(pt.Row), Col: int(pt.Column)}
}

// Declaration is a named element defined in a file.
type Declaration struct {
	Name     string
	Kind     Kind
	File     vfs.FileHandle
	Pos      Position // position of the name
	Function string   // enclosing function, for locals
}

type span struct {
	start, end Position
}

func (s span) contains(p Position) bool {
	return !p.Before(s.start) && p.Before(s.end)
}

type funcScope struct {
	name   string
	span   span
	parent int // -1 for file level
}

// Index holds the declarations of one tree.
type Index struct {
	File    vfs.FileHandle
	Version uint64

	decls  []Declaration
	owner  []int // scope of each decl, -1 for file level
	scopes []funcScope
}

// Collect indexes every declaration in t in source order.
func Collect(t *tree.Tree) *Index {
	ix := &Index{File: t.File, Version: t.Version}
	t.Walk(func(root *sitter.Node) {
		ix.visit(t, root, -1)
	})
	return ix
}

func (ix *Index) add(t *tree.Tree, n *sitter.Node, kind Kind, scope int) {
	d := Declaration{
		Name: t.Text(n),
		Kind: kind,
		File: ix.File,
		Pos:  pointOf(n.StartPoint()),
	}
	if d.Name == "" {
		return
	}
	if kind == Local {
		d.Function = ix.scopes[scope].name
	} else {
		scope = -1
	}
	ix.decls = append(ix.decls, d)
	ix.owner = append(ix.owner, scope)
}

// declaredLocal reports whether name was declared local in scope or one of
// its enclosing functions.
func (ix *Index) declaredLocal(scope int, name string) bool {
	for ; scope >= 0; scope = ix.scopes[scope].parent {
		for i, d := range ix.decls {
			if ix.owner[i] == scope && d.Name == name {
				return true
			}
		}
	}
	return false
}

func (ix *Index) variableKind(scope int, name string) Kind {
	if scope >= 0 && ix.declaredLocal(scope, name) {
		return Local
	}
	return Variable
}

func (ix *Index) visit(t *tree.Tree, n *sitter.Node, scope int) {
	switch n.Type() {
	case "function_definition":
		if name := n.ChildByFieldName("name"); name != nil {
			ix.add(t, name, Function, scope)
		}
		ix.scopes = append(ix.scopes, funcScope{
			name:   nameOf(t, n),
			span:   span{start: pointOf(n.StartPoint()), end: pointOf(n.EndPoint())},
			parent: scope,
		})
		scope = len(ix.scopes) - 1

	case "declaration_command":
		ix.visitDeclaration(t, n, scope)
		return

	case "variable_assignment":
		if name := n.ChildByFieldName("name"); name != nil {
			ix.add(t, name, ix.variableKind(scope, t.Text(name)), scope)
		}
		return

	case "for_statement":
		if v := n.ChildByFieldName("variable"); v != nil {
			ix.add(t, v, ix.variableKind(scope, t.Text(v)), scope)
		}
	}
	for i := 0; i < int(n.NamedChildCount()); i++ {
		ix.visit(t, n.NamedChild(i), scope)
	}
}

// visitDeclaration handles local, declare, typeset, export and readonly.
func (ix *Index) visitDeclaration(t *tree.Tree, n *sitter.Node, scope int) {
	if n.ChildCount() == 0 {
		return
	}
	keyword := t.Text(n.Child(0))
	global := false
	for i := 0; i < int(n.NamedChildCount()); i++ {
		ch := n.NamedChild(i)
		if ch.Type() == "word" && strings.HasPrefix(t.Text(ch), "-") && strings.Contains(t.Text(ch), "g") {
			global = true
		}
	}

	kind := Variable
	switch keyword {
	case "local":
		kind = Local
	case "declare", "typeset":
		if !global {
			kind = Local
		}
	}
	if scope < 0 {
		kind = Variable
	}

	for i := 0; i < int(n.NamedChildCount()); i++ {
		ch := n.NamedChild(i)
		switch ch.Type() {
		case "variable_assignment":
			if name := ch.ChildByFieldName("name"); name != nil {
				ix.add(t, name, kind, scope)
			}
		case "variable_name":
			ix.add(t, ch, kind, scope)
		}
	}
}

func nameOf(t *tree.Tree, fn *sitter.Node) string {
	if name := fn.ChildByFieldName("name"); name != nil {
		return t.Text(name)
	}
	return ""
}

// All returns every declaration in source order.
func (ix *Index) All() []Declaration {
	return append([]Declaration(nil), ix.decls...)
}

// Lookup returns the first file-level declaration of name.
func (ix *Index) Lookup(name string) (Declaration, bool) {
	for i, d := range ix.decls {
		if ix.owner[i] < 0 && d.Name == name {
			return d, true
		}
	}
	return Declaration{}, false
}

// VisibleAt lists the declarations visible at pos, nearest first: locals of
// each enclosing function from the innermost outward, then file-level
// declarations preceding pos, then those following it.
func (ix *Index) VisibleAt(pos Position) []Declaration {
	var out []Declaration
	for s := ix.innermost(pos); s >= 0; s = ix.scopes[s].parent {
		for i := len(ix.decls) - 1; i >= 0; i-- {
			if ix.owner[i] == s && !pos.Before(ix.decls[i].Pos) {
				out = append(out, ix.decls[i])
			}
		}
	}
	for i := len(ix.decls) - 1; i >= 0; i-- {
		if ix.owner[i] < 0 && !pos.Before(ix.decls[i].Pos) {
			out = append(out, ix.decls[i])
		}
	}
	for i, d := range ix.decls {
		if ix.owner[i] < 0 && pos.Before(d.Pos) {
			out = append(out, d)
		}
	}
	return out
}

func (ix *Index) innermost(pos Position) int {
	best := -1
	for i, s := range ix.scopes {
		if s.span.contains(pos) {
			// Nested scopes are appended after their parents.
			best = i
		}
	}
	return best
}
