package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := NewStore(dbPath)
	require.NoError(t, err)
	require.NoError(t, s.Migrate())
	t.Cleanup(func() { s.Close() })
	return s
}

func ptr[T any](v T) *T { return &v }

// commit stores a file including the given targets; "" marks a dynamic
// include.
func commit(t *testing.T, s *Store, path string, targets ...string) {
	t.Helper()
	snap := &FileSnapshot{
		File: File{Path: path, Dialect: "bash", Hash: "h-" + path, LastIndexed: time.Now().Truncate(time.Second)},
	}
	for i, target := range targets {
		inc := Inclusion{Ordinal: i, Expr: target, Line: i}
		if target == "" {
			inc.Expr, inc.Dynamic = "$DYN", true
		} else {
			inc.TargetPath = ptr(target)
		}
		snap.Inclusions = append(snap.Inclusions, inc)
	}
	require.NoError(t, s.CommitFile(snap))
	require.Positive(t, snap.File.ID)
}

// =============================================================================
// Schema & Lifecycle
// =============================================================================

func TestMigrate_AllTablesExist(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	for _, table := range []string{"meta", "files", "inclusions", "declarations"} {
		var name string
		err := s.db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table,
		).Scan(&name)
		require.NoError(t, err, "table %s should exist", table)
		assert.Equal(t, table, name)
	}
}

func TestMigrate_Idempotent(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	require.NoError(t, s.Migrate())
}

func TestMigrate_WALMode(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	var mode string
	err := s.db.QueryRow("PRAGMA journal_mode").Scan(&mode)
	require.NoError(t, err)
	assert.Equal(t, "wal", mode)
}

func TestMeta(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	v, err := s.Meta("root")
	require.NoError(t, err)
	assert.Empty(t, v)

	require.NoError(t, s.SetMeta("root", "/a"))
	require.NoError(t, s.SetMeta("root", "/b"))
	v, err = s.Meta("root")
	require.NoError(t, err)
	assert.Equal(t, "/b", v)
}

// =============================================================================
// Files
// =============================================================================

func TestCommitFile_InsertAndRetrieve(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	snap := &FileSnapshot{
		File: File{Path: "/p/a.sh", Dialect: "bash", Hash: "abc"},
		Inclusions: []Inclusion{
			{Ordinal: 0, Expr: "b.sh", TargetPath: ptr("/p/b.sh"), Line: 2, Col: 4},
			{Ordinal: 1, Expr: `"$X"`, Dynamic: true},
		},
		Declarations: []Declaration{
			{Name: "main", Kind: "function", Line: 5},
			{Name: "tmp", Kind: "local", Function: "main", Line: 6, Col: 8},
		},
	}
	require.NoError(t, s.CommitFile(snap))

	f, err := s.FileByPath("/p/a.sh")
	require.NoError(t, err)
	require.NotNil(t, f)
	assert.Equal(t, snap.File.ID, f.ID)
	assert.Equal(t, "abc", f.Hash)

	incs, err := s.InclusionsByFile("/p/a.sh")
	require.NoError(t, err)
	require.Len(t, incs, 2)
	assert.Equal(t, "/p/b.sh", *incs[0].TargetPath)
	assert.Equal(t, 2, incs[0].Line)
	assert.Equal(t, "/p/a.sh", incs[0].FilePath)
	assert.Nil(t, incs[1].TargetPath)
	assert.True(t, incs[1].Dynamic)

	decls, err := s.DeclarationsByFile("/p/a.sh")
	require.NoError(t, err)
	require.Len(t, decls, 2)
	assert.Equal(t, "main", decls[0].Name)
	assert.Equal(t, "main", decls[1].Function)
}

func TestCommitFile_ReplacesPreviousData(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	commit(t, s, "/p/a.sh", "/p/b.sh", "/p/c.sh")
	first, err := s.FileByPath("/p/a.sh")
	require.NoError(t, err)

	commit(t, s, "/p/a.sh", "/p/d.sh")
	second, err := s.FileByPath("/p/a.sh")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	incs, err := s.InclusionsByFile("/p/a.sh")
	require.NoError(t, err)
	require.Len(t, incs, 1)
	assert.Equal(t, "/p/d.sh", *incs[0].TargetPath)
}

func TestFileByPath_NotFound(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	got, err := s.FileByPath("/nonexistent")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRemoveFiles(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	commit(t, s, "/p/a.sh", "/p/b.sh")
	commit(t, s, "/p/b.sh")
	commit(t, s, "/p/c.sh")

	require.NoError(t, s.RemoveFiles([]string{"/p/a.sh", "/p/c.sh"}))
	require.NoError(t, s.RemoveFiles(nil))

	files, err := s.Files()
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "/p/b.sh", files[0].Path)

	all, err := s.AllInclusions()
	require.NoError(t, err)
	assert.Empty(t, all)
}

// =============================================================================
// Traversals
// =============================================================================

func chainStore(t *testing.T) *Store {
	t.Helper()
	s := newTestStore(t)
	commit(t, s, "/p/a.sh", "/p/b.sh")
	commit(t, s, "/p/b.sh", "/p/c.sh")
	commit(t, s, "/p/c.sh")
	return s
}

func TestIncludedFiles_Transitive(t *testing.T) {
	t.Parallel()
	s := chainStore(t)
	r, err := s.IncludedFiles("/p/a.sh", true)
	require.NoError(t, err)
	assert.Equal(t, []string{"/p/b.sh", "/p/c.sh"}, r.Paths)
	assert.False(t, r.Widened)

	direct, err := s.IncludedFiles("/p/a.sh", false)
	require.NoError(t, err)
	assert.Equal(t, []string{"/p/b.sh"}, direct.Paths)
}

func TestIncludedFiles_DirectKeepsStatementOrder(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	commit(t, s, "/p/a.sh", "/p/z.sh", "/p/b.sh", "/p/z.sh")
	r, err := s.IncludedFiles("/p/a.sh", false)
	require.NoError(t, err)
	assert.Equal(t, []string{"/p/z.sh", "/p/b.sh"}, r.Paths)
}

func TestIncludedFiles_CycleAndSelf(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	commit(t, s, "/p/a.sh", "/p/b.sh")
	commit(t, s, "/p/b.sh", "/p/a.sh")
	commit(t, s, "/p/s.sh", "/p/s.sh")

	r, err := s.IncludedFiles("/p/a.sh", true)
	require.NoError(t, err)
	assert.Equal(t, []string{"/p/b.sh"}, r.Paths)

	self, err := s.IncludedFiles("/p/s.sh", true)
	require.NoError(t, err)
	assert.Equal(t, []string{"/p/s.sh"}, self.Paths)
}

func TestIncludedFiles_WidenedOnTraversedPath(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	commit(t, s, "/p/a.sh", "/p/b.sh")
	commit(t, s, "/p/b.sh", "")
	commit(t, s, "/p/x.sh", "")

	r, err := s.IncludedFiles("/p/a.sh", true)
	require.NoError(t, err)
	assert.True(t, r.Widened)

	commit(t, s, "/p/c.sh")
	r, err = s.IncludedFiles("/p/c.sh", true)
	require.NoError(t, err)
	assert.False(t, r.Widened)
}

func TestIncludingFiles(t *testing.T) {
	t.Parallel()
	s := chainStore(t)
	r, err := s.IncludingFiles("/p/c.sh")
	require.NoError(t, err)
	assert.Equal(t, []string{"/p/a.sh", "/p/b.sh"}, r.Paths)
	assert.False(t, r.Widened)

	none, err := s.IncludingFiles("/p/a.sh")
	require.NoError(t, err)
	assert.Empty(t, none.Paths)

	direct, err := s.DirectIncluders("/p/c.sh")
	require.NoError(t, err)
	assert.Equal(t, []string{"/p/b.sh"}, direct)
}

func TestIncludingFiles_WidenedByAnyDynamic(t *testing.T) {
	t.Parallel()
	s := chainStore(t)
	commit(t, s, "/p/other.sh", "")
	r, err := s.IncludingFiles("/p/c.sh")
	require.NoError(t, err)
	assert.True(t, r.Widened)
}

func TestDeclarationsByName(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	for _, p := range []string{"/p/b.sh", "/p/a.sh"} {
		require.NoError(t, s.CommitFile(&FileSnapshot{
			File:         File{Path: p, Dialect: "bash"},
			Declarations: []Declaration{{Name: "foo", Kind: "function"}},
		}))
	}
	decls, err := s.DeclarationsByName("foo")
	require.NoError(t, err)
	require.Len(t, decls, 2)
	assert.Equal(t, "/p/a.sh", decls[0].FilePath)

	none, err := s.DeclarationsByName("bar")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestCycles(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	commit(t, s, "/p/a.sh", "/p/b.sh")
	commit(t, s, "/p/b.sh", "/p/c.sh", "/p/a.sh")
	commit(t, s, "/p/c.sh")
	commit(t, s, "/p/s.sh", "/p/s.sh")
	commit(t, s, "/p/x.sh", "/p/a.sh")

	groups, err := s.Cycles()
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"/p/a.sh", "/p/b.sh"}, {"/p/s.sh"}}, groups)
}

func TestCycles_None(t *testing.T) {
	t.Parallel()
	s := chainStore(t)
	groups, err := s.Cycles()
	require.NoError(t, err)
	assert.Empty(t, groups)
}
