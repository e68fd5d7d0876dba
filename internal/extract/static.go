package extract

import (
	"regexp"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/jward/bashscope/internal/tree"
)

// Script-directory idioms. All of them evaluate to the including file's
// directory.
var (
	dirnameSubst = regexp.MustCompile("^(?:\\$\\(|`)\\s*dirname\\s+\"?\\$\\{?(?:0|BASH_SOURCE(?:\\[0\\])?)\\}?\"?\\s*(?:\\)|`)$")
	cdPwdSubst   = regexp.MustCompile(`^\$\(\s*cd\s+"?\$\(\s*dirname\s+"?\$\{?(?:0|BASH_SOURCE(?:\[0\])?)\}?"?\s*\)"?\s*(?:&&|;)\s*pwd(?:\s+-P)?\s*\)$`)
	paramDir     = regexp.MustCompile(`^\$\{(?:0|BASH_SOURCE(?:\[0\])?)%/\*\}$`)
	bracedVar    = regexp.MustCompile(`^\$\{([A-Za-z_][A-Za-z0-9_]*)\}$`)
)

// binding tracks the assignments of one variable within a file.
type binding struct {
	values  []*sitter.Node // nil entry: assigned with no value
	dynamic bool           // assigned by a for loop, read, etc.
}

// evaluator statically reduces path expressions to strings.
type evaluator struct {
	t        *tree.Tree
	dir      string
	vars     map[string]*binding
	resolved map[string]string
	active   map[string]bool
}

func newEvaluator(t *tree.Tree, dir string) *evaluator {
	return &evaluator{
		t:        t,
		dir:      dir,
		vars:     make(map[string]*binding),
		resolved: make(map[string]string),
		active:   make(map[string]bool),
	}
}

func (ev *evaluator) bind(name string) *binding {
	b, ok := ev.vars[name]
	if !ok {
		b = &binding{}
		ev.vars[name] = b
	}
	return b
}

// collect records every assignment in the file.
func (ev *evaluator) collect(root *sitter.Node) {
	walk(root, func(n *sitter.Node) {
		switch n.Type() {
		case "variable_assignment":
			name := n.ChildByFieldName("name")
			if name == nil {
				return
			}
			b := ev.bind(ev.t.Text(name))
			b.values = append(b.values, n.ChildByFieldName("value"))
		case "for_statement", "c_style_for_statement":
			if v := n.ChildByFieldName("variable"); v != nil {
				ev.bind(ev.t.Text(v)).dynamic = true
			}
		case "command":
			ev.collectCommand(n)
		}
	})
}

// collectCommand marks variables written by builtins such as read.
func (ev *evaluator) collectCommand(n *sitter.Node) {
	name := n.ChildByFieldName("name")
	if name == nil {
		return
	}
	switch ev.t.Text(name) {
	case "read", "mapfile", "readarray", "getopts":
	default:
		return
	}
	for i := 0; i < int(n.NamedChildCount()); i++ {
		ch := n.NamedChild(i)
		if ch.Type() != "word" {
			continue
		}
		w := ev.t.Text(ch)
		if w != "" && w[0] != '-' && isIdentifier(w) {
			ev.bind(w).dynamic = true
		}
	}
}

// lookup returns the value of a variable with exactly one static assignment.
func (ev *evaluator) lookup(name string) (string, bool) {
	if v, ok := ev.resolved[name]; ok {
		return v, true
	}
	b, ok := ev.vars[name]
	if !ok || b.dynamic || len(b.values) != 1 || ev.active[name] {
		return "", false
	}
	var v string
	if node := b.values[0]; node != nil {
		ev.active[name] = true
		v, ok = ev.eval(node)
		delete(ev.active, name)
		if !ok {
			return "", false
		}
	}
	ev.resolved[name] = v
	return v, true
}

// eval reduces n to a literal string, reporting false for anything that
// depends on runtime state.
func (ev *evaluator) eval(n *sitter.Node) (string, bool) {
	text := ev.t.Text(n)
	switch n.Type() {
	case "word", "number":
		if strings.ContainsAny(text, "$`*?[") || strings.HasPrefix(text, "~") {
			return "", false
		}
		return unescape(text), true
	case "raw_string":
		return strings.TrimSuffix(strings.TrimPrefix(text, "'"), "'"), true
	case "string_content":
		return unescapeQuoted(text), true
	case "string":
		return ev.composite(n, n.StartByte()+1, n.EndByte()-1, true)
	case "concatenation":
		return ev.composite(n, n.StartByte(), n.EndByte(), false)
	case "simple_expansion":
		name := strings.TrimPrefix(text, "$")
		if !isIdentifier(name) {
			return "", false
		}
		return ev.lookup(name)
	case "expansion":
		if paramDir.MatchString(text) {
			return ev.scriptDir()
		}
		if m := bracedVar.FindStringSubmatch(text); m != nil {
			return ev.lookup(m[1])
		}
	case "command_substitution":
		if dirnameSubst.MatchString(text) || cdPwdSubst.MatchString(text) {
			return ev.scriptDir()
		}
	}
	return "", false
}

func (ev *evaluator) scriptDir() (string, bool) {
	return ev.dir, ev.dir != ""
}

// composite evaluates a node whose text is the concatenation of its named
// children and the literal source between them.
func (ev *evaluator) composite(n *sitter.Node, from, to uint32, quoted bool) (string, bool) {
	if to < from {
		return "", false
	}
	var sb strings.Builder
	pos := from
	gap := func(end uint32) bool {
		if end <= pos {
			return true
		}
		lit := string(ev.t.Source[pos:end])
		if strings.ContainsAny(lit, "$`") {
			return false
		}
		if quoted {
			sb.WriteString(unescapeQuoted(lit))
		} else {
			sb.WriteString(unescape(lit))
		}
		return true
	}
	for i := 0; i < int(n.NamedChildCount()); i++ {
		ch := n.NamedChild(i)
		if !gap(ch.StartByte()) {
			return "", false
		}
		part, ok := ev.eval(ch)
		if !ok {
			return "", false
		}
		sb.WriteString(part)
		if ch.EndByte() > pos {
			pos = ch.EndByte()
		}
	}
	if !gap(to) {
		return "", false
	}
	return sb.String(), true
}

// unescape removes backslash escapes from an unquoted word.
func unescape(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var sb strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			i++
		}
		sb.WriteByte(s[i])
	}
	return sb.String()
}

// unescapeQuoted removes the escapes that are special inside double quotes.
func unescapeQuoted(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var sb strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) && strings.IndexByte("\"\\$`", s[i+1]) >= 0 {
			i++
		}
		sb.WriteByte(s[i])
	}
	return sb.String()
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case i > 0 && r >= '0' && r <= '9':
		default:
			return false
		}
	}
	return true
}
