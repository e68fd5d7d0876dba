package bashscope

import (
	"github.com/jward/bashscope/internal/decl"
)

// Public result types. Files are reported by absolute path; positions are
// 0-based lines and byte columns.

// FileSet is an ordered set of files. Widened means unresolved includes
// exist, so the precise set may be incomplete.
type FileSet struct {
	Files   []string `json:"files"`
	Widened bool     `json:"widened"`
}

// Inclusion is one inclusion statement of a file. Expr is the evaluated
// path, or the source text when Dynamic. Target is empty when the include
// is unresolved.
type Inclusion struct {
	Expr    string `json:"expr"`
	Target  string `json:"target,omitempty"`
	Dynamic bool   `json:"dynamic"`
	Line    int    `json:"line"`
	Col     int    `json:"col"`
}

// Declaration is a function or variable defined in a file.
type Declaration struct {
	Name     string `json:"name"`
	Kind     string `json:"kind"`
	File     string `json:"file"`
	Line     int    `json:"line"`
	Col      int    `json:"col"`
	Function string `json:"function,omitempty"`
}

// SearchScope is a set of files for a consumer to search. Local marks a
// precise single-file scope.
type SearchScope struct {
	Files   []string `json:"files"`
	Local   bool     `json:"local"`
	Widened bool     `json:"widened"`
}

// Stats reports engine counters.
type Stats struct {
	Files        int    `json:"files"`
	Edges        int    `json:"edges"`
	GraphVersion uint64 `json:"graph_version"`
	Extractions  uint64 `json:"extractions"`
	Dirty        int    `json:"dirty"`
	MemoHits     uint64 `json:"memo_hits"`
	MemoMisses   uint64 `json:"memo_misses"`
}

func kindOf(s string) decl.Kind {
	switch s {
	case decl.Function.String():
		return decl.Function
	case decl.Variable.String():
		return decl.Variable
	case decl.Local.String():
		return decl.Local
	}
	return 0
}
