package decl

import (
	sitter "github.com/smacker/go-tree-sitter"

	"github.com/jward/bashscope/internal/tree"
)

// Reference is a name occurrence in a file.
type Reference struct {
	Name string
	Pos  Position
}

// ReferenceAt returns the name under pos: a command or function name, a
// variable expansion ($VAR, ${VAR}), or an assignment target.
func ReferenceAt(t *tree.Tree, pos Position) (ref Reference, ok bool) {
	t.Walk(func(root *sitter.Node) {
		ref, ok = referenceIn(t, root, pos)
	})
	return ref, ok
}

func referenceIn(t *tree.Tree, root *sitter.Node, pos Position) (Reference, bool) {
	n := deepestAt(root, pos)
	for ; n != nil; n = n.Parent() {
		switch n.Type() {
		case "variable_name":
			return refOf(t, n), true
		case "command_name":
			return refOf(t, n), true
		case "word":
			if p := n.Parent(); p != nil {
				switch p.Type() {
				case "command_name", "function_definition":
					return refOf(t, n), true
				}
			}
		case "command", "program", "function_definition", "compound_statement":
			return Reference{}, false
		}
	}
	return Reference{}, false
}

func refOf(t *tree.Tree, n *sitter.Node) Reference {
	return Reference{Name: t.Text(n), Pos: pointOf(n.StartPoint())}
}

// deepestAt returns the innermost named node whose span contains pos.
func deepestAt(n *sitter.Node, pos Position) *sitter.Node {
	if !(span{start: pointOf(n.StartPoint()), end: pointOf(n.EndPoint())}).contains(pos) {
		return nil
	}
	for i := 0; i < int(n.NamedChildCount()); i++ {
		if d := deepestAt(n.NamedChild(i), pos); d != nil {
			return d
		}
	}
	return n
}
