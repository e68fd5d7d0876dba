package bashscope

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jward/bashscope/internal/store"
)

// =============================================================================
// Persisted snapshot
// =============================================================================

func openSnapshot(t *testing.T, dbPath string) *store.Store {
	t.Helper()
	s, err := store.NewStore(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPersist_WithoutStore(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t, chain)
	require.ErrorIs(t, e.Persist(context.Background()), ErrNoStore)
}

func TestPersist_SnapshotMatchesEngine(t *testing.T) {
	t.Parallel()
	dbPath := filepath.Join(t.TempDir(), "index.db")
	e := newTestEngine(t, map[string]string{
		"a.sh": "source b.sh\nsource \"$DYN\"\nfoo\n",
		"b.sh": "source c.sh\nrun() {\n  local tmp=1\n}\n",
		"c.sh": "foo() { :; }\nLEVEL=1\n",
	}, WithStore(dbPath))
	ctx := context.Background()
	require.NoError(t, e.Persist(ctx))

	s := openSnapshot(t, dbPath)
	root, err := s.Meta("root")
	require.NoError(t, err)
	assert.Equal(t, e.Root(), root)

	files, err := s.Files()
	require.NoError(t, err)
	require.Len(t, files, 3)
	assert.Equal(t, "sh", files[0].Dialect)
	assert.NotEmpty(t, files[0].Hash)

	a := filepath.Join(e.Root(), "a.sh")
	reach, err := s.IncludedFiles(a, true)
	require.NoError(t, err)
	assert.Equal(t, []string{"b.sh", "c.sh"}, relPaths(t, e, reach.Paths))
	assert.True(t, reach.Widened)

	incs, err := s.InclusionsByFile(a)
	require.NoError(t, err)
	require.Len(t, incs, 2)
	assert.Equal(t, "b.sh", incs[0].Expr)
	require.NotNil(t, incs[0].TargetPath)
	assert.True(t, incs[1].Dynamic)
	assert.Nil(t, incs[1].TargetPath)
	assert.Equal(t, 1, incs[1].Line)

	c := filepath.Join(e.Root(), "c.sh")
	up, err := s.IncludingFiles(c)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.sh", "b.sh"}, relPaths(t, e, up.Paths))

	decls, err := s.DeclarationsByName("tmp")
	require.NoError(t, err)
	require.Len(t, decls, 1)
	assert.Equal(t, "local", decls[0].Kind)
	assert.Equal(t, "run", decls[0].Function)

	foo, err := s.DeclarationsByName("foo")
	require.NoError(t, err)
	require.Len(t, foo, 1)
	assert.Equal(t, c, foo[0].FilePath)
	assert.Equal(t, "function", foo[0].Kind)
}

func TestPersist_DropsRemovedFiles(t *testing.T) {
	t.Parallel()
	dbPath := filepath.Join(t.TempDir(), "index.db")
	e := newTestEngine(t, chain, WithStore(dbPath))
	ctx := context.Background()
	require.NoError(t, e.Persist(ctx))

	require.True(t, e.RemoveFile("c.sh"))
	require.NoError(t, e.Persist(ctx))

	s := openSnapshot(t, dbPath)
	files, err := s.Files()
	require.NoError(t, err)
	assert.Len(t, files, 2)

	incs, err := s.InclusionsByFile(filepath.Join(e.Root(), "b.sh"))
	require.NoError(t, err)
	require.Len(t, incs, 1)
	assert.Nil(t, incs[0].TargetPath)
	assert.False(t, incs[0].Dynamic)
}

func TestPersist_Cycles(t *testing.T) {
	t.Parallel()
	dbPath := filepath.Join(t.TempDir(), "index.db")
	e := newTestEngine(t, map[string]string{
		"a.sh": "source b.sh\n",
		"b.sh": "source a.sh\n",
	}, WithStore(dbPath))
	require.NoError(t, e.Persist(context.Background()))

	s := openSnapshot(t, dbPath)
	groups, err := s.Cycles()
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, []string{"a.sh", "b.sh"}, relPaths(t, e, groups[0]))
}
