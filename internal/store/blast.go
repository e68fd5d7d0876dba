package store

import "fmt"

// IncludingFiles returns every file that transitively includes path: the
// blast radius of a change to it. Widened is set when any stored include
// is unresolved, since that include might reach path.
func (s *Store) IncludingFiles(path string) (*Reach, error) {
	rows, err := s.db.Query(
		`WITH RECURSIVE up(path) AS (
			SELECT f.path FROM inclusions i JOIN files f ON f.id = i.file_id
			WHERE i.target_path = ?
			UNION
			SELECT f.path FROM inclusions i JOIN files f ON f.id = i.file_id
			JOIN up u ON i.target_path = u.path
		)
		SELECT path FROM up WHERE path <> ?
		UNION
		SELECT ? WHERE EXISTS (
			SELECT 1 FROM inclusions i JOIN files f ON f.id = i.file_id
			WHERE f.path = ? AND i.target_path = ?
		)
		ORDER BY 1`,
		path, path, path, path, path,
	)
	if err != nil {
		return nil, fmt.Errorf("including files: %w", err)
	}
	paths, err := scanPaths(rows)
	if err != nil {
		return nil, fmt.Errorf("including files: %w", err)
	}
	widened, err := s.HasUnresolved()
	if err != nil {
		return nil, err
	}
	return &Reach{Paths: paths, Widened: widened}, nil
}

// DirectIncluders returns the files with a resolved include of path.
func (s *Store) DirectIncluders(path string) ([]string, error) {
	rows, err := s.db.Query(
		`SELECT DISTINCT f.path FROM inclusions i JOIN files f ON f.id = i.file_id
		 WHERE i.target_path = ? ORDER BY f.path`,
		path,
	)
	if err != nil {
		return nil, fmt.Errorf("direct includers: %w", err)
	}
	return scanPaths(rows)
}
