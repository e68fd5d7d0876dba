package store

import (
	"database/sql"
	"fmt"
)

// CommitFile replaces everything stored for one file within a single
// transaction: the file row is upserted, and its inclusions and
// declarations are deleted and re-inserted.
func (s *Store) CommitFile(snap *FileSnapshot) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("commit file: begin: %w", err)
	}
	defer tx.Rollback()

	f := &snap.File
	if _, err := tx.Exec(
		`INSERT INTO files (path, dialect, hash, last_indexed) VALUES (?, ?, ?, ?)
		 ON CONFLICT(path) DO UPDATE SET dialect = excluded.dialect, hash = excluded.hash, last_indexed = excluded.last_indexed`,
		f.Path, f.Dialect, f.Hash, f.LastIndexed,
	); err != nil {
		return fmt.Errorf("commit file %s: upsert: %w", f.Path, err)
	}
	if err := tx.QueryRow("SELECT id FROM files WHERE path = ?", f.Path).Scan(&f.ID); err != nil {
		return fmt.Errorf("commit file %s: id: %w", f.Path, err)
	}

	if err := deleteFileDataTx(tx, f.ID); err != nil {
		return fmt.Errorf("commit file %s: %w", f.Path, err)
	}
	for i := range snap.Inclusions {
		inc := &snap.Inclusions[i]
		inc.FileID = f.ID
		if err := insertInclusionTx(tx, inc); err != nil {
			return fmt.Errorf("commit file %s: inclusion %q: %w", f.Path, inc.Expr, err)
		}
	}
	for i := range snap.Declarations {
		d := &snap.Declarations[i]
		d.FileID = f.ID
		if err := insertDeclarationTx(tx, d); err != nil {
			return fmt.Errorf("commit file %s: declaration %q: %w", f.Path, d.Name, err)
		}
	}
	return tx.Commit()
}

// RemoveFiles deletes the given paths and everything stored for them.
func (s *Store) RemoveFiles(paths []string) error {
	if len(paths) == 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("remove files: begin: %w", err)
	}
	defer tx.Rollback()

	placeholders := placeholderList(len(paths))
	args := stringsToArgs(paths)
	sub := "SELECT id FROM files WHERE path IN (" + placeholders + ")"
	for _, q := range []string{
		"DELETE FROM inclusions WHERE file_id IN (" + sub + ")",
		"DELETE FROM declarations WHERE file_id IN (" + sub + ")",
		"DELETE FROM files WHERE path IN (" + placeholders + ")",
	} {
		if _, err := tx.Exec(q, args...); err != nil {
			return fmt.Errorf("remove files: %w", err)
		}
	}
	return tx.Commit()
}

func deleteFileDataTx(tx *sql.Tx, fileID int64) error {
	if _, err := tx.Exec("DELETE FROM inclusions WHERE file_id = ?", fileID); err != nil {
		return fmt.Errorf("delete inclusions: %w", err)
	}
	if _, err := tx.Exec("DELETE FROM declarations WHERE file_id = ?", fileID); err != nil {
		return fmt.Errorf("delete declarations: %w", err)
	}
	return nil
}

func insertInclusionTx(tx *sql.Tx, inc *Inclusion) error {
	res, err := tx.Exec(
		`INSERT INTO inclusions (file_id, ordinal, expr, target_path, dynamic, line, col)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		inc.FileID, inc.Ordinal, inc.Expr, inc.TargetPath, inc.Dynamic, inc.Line, inc.Col,
	)
	if err != nil {
		return err
	}
	inc.ID, err = res.LastInsertId()
	return err
}

func insertDeclarationTx(tx *sql.Tx, d *Declaration) error {
	res, err := tx.Exec(
		`INSERT INTO declarations (file_id, name, kind, function, line, col)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		d.FileID, d.Name, d.Kind, d.Function, d.Line, d.Col,
	)
	if err != nil {
		return err
	}
	d.ID, err = res.LastInsertId()
	return err
}
