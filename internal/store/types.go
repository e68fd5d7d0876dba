package store

import "time"

type File struct {
	ID          int64
	Path        string
	Dialect     string
	Hash        string
	LastIndexed time.Time
}

// Inclusion is one stored inclusion statement. TargetPath is nil when the
// include is unresolved.
type Inclusion struct {
	ID         int64
	FileID     int64
	FilePath   string // filled by queries that join files
	Ordinal    int
	Expr       string
	TargetPath *string
	Dynamic    bool
	Line       int
	Col        int
}

type Declaration struct {
	ID       int64
	FileID   int64
	FilePath string
	Name     string
	Kind     string
	Function string
	Line     int
	Col      int
}

// FileSnapshot is everything stored for one file.
type FileSnapshot struct {
	File         File
	Inclusions   []Inclusion
	Declarations []Declaration
}

// Reach is the result of a stored traversal. Paths are sorted. Widened is
// set when an unresolved include sits on the traversed part of the graph.
type Reach struct {
	Paths   []string
	Widened bool
}
