package main

// CLIResult is the top-level JSON envelope for all query commands.
type CLIResult struct {
	Command    string `json:"command"`
	Results    any    `json:"results"`
	TotalCount *int   `json:"total_count,omitempty"`
	Error      string `json:"error,omitempty"`
}

// CLIFileSet is a JSON-friendly set of files. Widened marks a result that
// may be incomplete because of unresolved includes.
type CLIFileSet struct {
	Files   []string `json:"files"`
	Widened bool     `json:"widened"`
}

// CLIFile is a JSON-friendly file representation.
type CLIFile struct {
	ID      int64  `json:"id"`
	Path    string `json:"path"`
	Dialect string `json:"dialect"`
	Hash    string `json:"hash"`
}

// CLIInclusion is a JSON-friendly inclusion statement.
type CLIInclusion struct {
	File    string  `json:"file"`
	Expr    string  `json:"expr"`
	Target  *string `json:"target,omitempty"`
	Dynamic bool    `json:"dynamic"`
	Line    int     `json:"line"`
	Col     int     `json:"col"`
}

// CLIDeclaration is a JSON-friendly declaration.
type CLIDeclaration struct {
	Name     string `json:"name"`
	Kind     string `json:"kind"`
	File     string `json:"file"`
	Line     int    `json:"line"`
	Col      int    `json:"col"`
	Function string `json:"function,omitempty"`
}

// CLIScope is a search scope, optionally with the declaration it was
// computed for.
type CLIScope struct {
	Declaration *CLIDeclaration `json:"declaration,omitempty"`
	Files       []string        `json:"files"`
	Local       bool            `json:"local"`
	Widened     bool            `json:"widened"`
}

// CLICycle is one group of mutually including files.
type CLICycle struct {
	Files []string `json:"files"`
}
