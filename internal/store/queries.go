package store

import (
	"database/sql"
	"fmt"
)

// --- Files ---

func (s *Store) FileByPath(path string) (*File, error) {
	f := &File{}
	var hash sql.NullString
	var indexed sql.NullTime
	err := s.db.QueryRow(
		"SELECT id, path, dialect, hash, last_indexed FROM files WHERE path = ?", path,
	).Scan(&f.ID, &f.Path, &f.Dialect, &hash, &indexed)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("file by path: %w", err)
	}
	f.Hash, f.LastIndexed = hash.String, indexed.Time
	return f, nil
}

// Files returns every stored file ordered by path.
func (s *Store) Files() ([]*File, error) {
	rows, err := s.db.Query("SELECT id, path, dialect, hash, last_indexed FROM files ORDER BY path")
	if err != nil {
		return nil, fmt.Errorf("files: %w", err)
	}
	defer rows.Close()
	var files []*File
	for rows.Next() {
		f := &File{}
		var hash sql.NullString
		var indexed sql.NullTime
		if err := rows.Scan(&f.ID, &f.Path, &f.Dialect, &hash, &indexed); err != nil {
			return nil, fmt.Errorf("scan file: %w", err)
		}
		f.Hash, f.LastIndexed = hash.String, indexed.Time
		files = append(files, f)
	}
	return files, rows.Err()
}

// --- Inclusions ---

const inclusionCols = "i.id, i.file_id, f.path, i.ordinal, i.expr, i.target_path, i.dynamic, i.line, i.col"

func scanInclusions(rows *sql.Rows) ([]*Inclusion, error) {
	defer rows.Close()
	var out []*Inclusion
	for rows.Next() {
		inc := &Inclusion{}
		var target sql.NullString
		if err := rows.Scan(&inc.ID, &inc.FileID, &inc.FilePath, &inc.Ordinal, &inc.Expr,
			&target, &inc.Dynamic, &inc.Line, &inc.Col); err != nil {
			return nil, fmt.Errorf("scan inclusion: %w", err)
		}
		if target.Valid {
			t := target.String
			inc.TargetPath = &t
		}
		out = append(out, inc)
	}
	return out, rows.Err()
}

// InclusionsByFile returns a file's inclusion statements in source order.
func (s *Store) InclusionsByFile(path string) ([]*Inclusion, error) {
	rows, err := s.db.Query(
		"SELECT "+inclusionCols+" FROM inclusions i JOIN files f ON f.id = i.file_id WHERE f.path = ? ORDER BY i.ordinal",
		path,
	)
	if err != nil {
		return nil, fmt.Errorf("inclusions by file: %w", err)
	}
	return scanInclusions(rows)
}

// AllInclusions returns every stored inclusion ordered by file and
// statement.
func (s *Store) AllInclusions() ([]*Inclusion, error) {
	rows, err := s.db.Query(
		"SELECT " + inclusionCols + " FROM inclusions i JOIN files f ON f.id = i.file_id ORDER BY f.path, i.ordinal",
	)
	if err != nil {
		return nil, fmt.Errorf("all inclusions: %w", err)
	}
	return scanInclusions(rows)
}

// IncludedFiles returns the files path includes. Direct mode lists resolved
// targets in statement order; transitive mode follows includes with a
// recursive query. The root is part of a transitive result only when it
// includes itself directly.
func (s *Store) IncludedFiles(path string, transitive bool) (*Reach, error) {
	if !transitive {
		rows, err := s.db.Query(
			`SELECT i.target_path FROM inclusions i JOIN files f ON f.id = i.file_id
			 WHERE f.path = ? AND i.target_path IS NOT NULL
			 GROUP BY i.target_path ORDER BY MIN(i.ordinal)`,
			path,
		)
		if err != nil {
			return nil, fmt.Errorf("included files: %w", err)
		}
		paths, err := scanPaths(rows)
		if err != nil {
			return nil, fmt.Errorf("included files: %w", err)
		}
		widened, err := s.unresolvedIn([]string{path})
		if err != nil {
			return nil, err
		}
		return &Reach{Paths: paths, Widened: widened}, nil
	}

	rows, err := s.db.Query(
		`WITH RECURSIVE reach(path) AS (
			SELECT i.target_path FROM inclusions i JOIN files f ON f.id = i.file_id
			WHERE f.path = ? AND i.target_path IS NOT NULL
			UNION
			SELECT i.target_path FROM inclusions i JOIN files f ON f.id = i.file_id
			JOIN reach r ON f.path = r.path
			WHERE i.target_path IS NOT NULL
		)
		SELECT path FROM reach WHERE path <> ?
		UNION
		SELECT ? WHERE EXISTS (
			SELECT 1 FROM inclusions i JOIN files f ON f.id = i.file_id
			WHERE f.path = ? AND i.target_path = ?
		)
		ORDER BY 1`,
		path, path, path, path, path,
	)
	if err != nil {
		return nil, fmt.Errorf("included files: %w", err)
	}
	paths, err := scanPaths(rows)
	if err != nil {
		return nil, fmt.Errorf("included files: %w", err)
	}
	widened, err := s.unresolvedIn(append([]string{path}, paths...))
	if err != nil {
		return nil, err
	}
	return &Reach{Paths: paths, Widened: widened}, nil
}

// unresolvedIn reports whether any of paths has an unresolved include.
func (s *Store) unresolvedIn(paths []string) (bool, error) {
	var n int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM inclusions i JOIN files f ON f.id = i.file_id
		 WHERE i.target_path IS NULL AND f.path IN (`+placeholderList(len(paths))+`)`,
		stringsToArgs(paths)...,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("unresolved includes: %w", err)
	}
	return n > 0, nil
}

// HasUnresolved reports whether any stored include is unresolved.
func (s *Store) HasUnresolved() (bool, error) {
	var n int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM inclusions WHERE target_path IS NULL").Scan(&n); err != nil {
		return false, fmt.Errorf("has unresolved: %w", err)
	}
	return n > 0, nil
}

// --- Declarations ---

const declarationCols = "d.id, d.file_id, f.path, d.name, d.kind, COALESCE(d.function, ''), d.line, d.col"

func scanDeclarations(rows *sql.Rows) ([]*Declaration, error) {
	defer rows.Close()
	var out []*Declaration
	for rows.Next() {
		d := &Declaration{}
		if err := rows.Scan(&d.ID, &d.FileID, &d.FilePath, &d.Name, &d.Kind, &d.Function, &d.Line, &d.Col); err != nil {
			return nil, fmt.Errorf("scan declaration: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// DeclarationsByName returns every declaration of name ordered by file and
// position.
func (s *Store) DeclarationsByName(name string) ([]*Declaration, error) {
	rows, err := s.db.Query(
		"SELECT "+declarationCols+" FROM declarations d JOIN files f ON f.id = d.file_id WHERE d.name = ? ORDER BY f.path, d.line, d.col",
		name,
	)
	if err != nil {
		return nil, fmt.Errorf("declarations by name: %w", err)
	}
	return scanDeclarations(rows)
}

// DeclarationsByFile returns a file's declarations in source order.
func (s *Store) DeclarationsByFile(path string) ([]*Declaration, error) {
	rows, err := s.db.Query(
		"SELECT "+declarationCols+" FROM declarations d JOIN files f ON f.id = d.file_id WHERE f.path = ? ORDER BY d.line, d.col",
		path,
	)
	if err != nil {
		return nil, fmt.Errorf("declarations by file: %w", err)
	}
	return scanDeclarations(rows)
}
