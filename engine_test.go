package bashscope

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jward/bashscope/internal/config"
)

// writeProject creates files under a fresh directory and returns it.
func writeProject(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for rel, content := range files {
		path := filepath.Join(dir, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	return dir
}

// newTestEngine indexes files in a temporary project.
func newTestEngine(t *testing.T, files map[string]string, opts ...Option) *Engine {
	t.Helper()
	e, err := New(writeProject(t, files), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	require.NoError(t, e.IndexDirectory(context.Background()))
	return e
}

func relPaths(t *testing.T, e *Engine, paths []string) []string {
	t.Helper()
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		r, err := filepath.Rel(e.Root(), p)
		require.NoError(t, err)
		out = append(out, filepath.ToSlash(r))
	}
	return out
}

var chain = map[string]string{
	"a.sh": "source b.sh\nfoo\n",
	"b.sh": "source c.sh\n",
	"c.sh": "foo() { :; }\n",
}

// =============================================================================
// Construction & configuration
// =============================================================================

func TestNew_DefaultsWithoutConfig(t *testing.T) {
	t.Parallel()
	e, err := New(t.TempDir())
	require.NoError(t, err)
	defer e.Close()

	assert.True(t, filepath.IsAbs(e.Root()))
	assert.Empty(t, e.Config().Path)
	assert.Nil(t, e.runtime)
	assert.Nil(t, e.store)
	assert.True(t, *e.widen)
}

func TestNew_LoadsProjectConfig(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t, map[string]string{
		".bashscope.yml":  "search_paths: [lib]\nextensions: [inc]\njobs: 2\n",
		"main.sh":         "source helpers.inc\n",
		"lib/helpers.inc": "helper() { :; }\n",
	})
	assert.Equal(t, []string{"lib"}, e.searchPaths)
	assert.Equal(t, 2, e.jobs)

	got, err := e.IncludedFiles(context.Background(), "main.sh", false)
	require.NoError(t, err)
	assert.Equal(t, []string{"lib/helpers.inc"}, relPaths(t, e, got.Files))
}

func TestNew_OptionsOverrideConfig(t *testing.T) {
	t.Parallel()
	widen := true
	cfg := &config.ProjectConfig{SearchPaths: []string{"lib"}, WidenUnresolved: &widen, Jobs: 3}
	e, err := New(t.TempDir(), WithConfig(cfg), WithSearchPaths("vendor"), WithWidening(false))
	require.NoError(t, err)
	defer e.Close()

	assert.Equal(t, []string{"vendor"}, e.searchPaths)
	assert.False(t, *e.widen)
	assert.Equal(t, 3, e.jobs)
}

func TestNew_MissingResolverScript(t *testing.T) {
	t.Parallel()
	_, err := New(t.TempDir(), WithResolverScript("nope.risor"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "resolver script")
}

func TestNew_BadConfig(t *testing.T) {
	t.Parallel()
	dir := writeProject(t, map[string]string{".bashscope.yml": "jobs: [\n"})
	_, err := New(dir)
	require.Error(t, err)
}

// =============================================================================
// Indexing
// =============================================================================

func TestIndexDirectory_EndToEnd(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t, chain)
	ctx := context.Background()

	inc, err := e.IncludedFiles(ctx, "a.sh", true)
	require.NoError(t, err)
	assert.Equal(t, []string{"b.sh", "c.sh"}, relPaths(t, e, inc.Files))
	assert.False(t, inc.Widened)

	d, err := e.DefinitionAt(ctx, "a.sh", 1, 0)
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, "foo", d.Name)
	assert.Equal(t, "function", d.Kind)
	assert.Equal(t, "c.sh", relPaths(t, e, []string{d.File})[0])
}

func TestIndexDirectory_UnchangedFilesAreNotReextracted(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t, chain)
	ctx := context.Background()

	_, err := e.IncludedFiles(ctx, "a.sh", true)
	require.NoError(t, err)
	before := e.Stats()
	assert.Equal(t, uint64(3), before.Extractions)

	require.NoError(t, e.IndexDirectory(ctx))
	_, err = e.IncludedFiles(ctx, "a.sh", true)
	require.NoError(t, err)
	after := e.Stats()
	assert.Equal(t, before.Extractions, after.Extractions)
	assert.Equal(t, before.GraphVersion, after.GraphVersion)
	assert.Equal(t, 3, after.Files)
	assert.Equal(t, 2, after.Edges)
	assert.Greater(t, after.MemoHits, before.MemoHits)
}

func TestIndexDirectory_RemovesVanishedFiles(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t, chain)
	ctx := context.Background()

	require.NoError(t, os.Remove(filepath.Join(e.Root(), "c.sh")))
	require.NoError(t, e.IndexDirectory(ctx))
	assert.Equal(t, []string{"a.sh", "b.sh"}, relPaths(t, e, sortedFiles(e)))

	inc, err := e.IncludedFiles(ctx, "a.sh", true)
	require.NoError(t, err)
	assert.Equal(t, []string{"b.sh"}, relPaths(t, e, inc.Files))
}

func sortedFiles(e *Engine) []string {
	files := e.Files()
	sort.Strings(files)
	return files
}

func TestIndexFiles_CollectsErrors(t *testing.T) {
	t.Parallel()
	dir := writeProject(t, chain)
	e, err := New(dir)
	require.NoError(t, err)
	defer e.Close()

	err = e.IndexFiles(context.Background(), []string{
		filepath.Join(dir, "a.sh"),
		filepath.Join(dir, "missing1.sh"),
		filepath.Join(dir, "missing2.sh"),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "indexing had 2 error(s)")
	assert.Len(t, e.Files(), 1)
}

func TestIndexFiles_Cancelled(t *testing.T) {
	t.Parallel()
	dir := writeProject(t, chain)
	e, err := New(dir)
	require.NoError(t, err)
	defer e.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = e.IndexFiles(ctx, []string{filepath.Join(dir, "a.sh")})
	require.ErrorIs(t, err, context.Canceled)
}

// =============================================================================
// Edits, removal & rename
// =============================================================================

func TestUpdateFile_EditInvalidatesIncludes(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t, chain)
	ctx := context.Background()

	require.NoError(t, e.UpdateFile(ctx, "b.sh", []byte("echo no includes\n")))
	inc, err := e.IncludedFiles(ctx, "a.sh", true)
	require.NoError(t, err)
	assert.Equal(t, []string{"b.sh"}, relPaths(t, e, inc.Files))

	d, err := e.DefinitionAt(ctx, "a.sh", 1, 0)
	require.NoError(t, err)
	assert.Nil(t, d)
}

func TestUpdateFile_NewFileResolvesMissingInclude(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t, map[string]string{"a.sh": "source later.sh\n"})
	ctx := context.Background()

	incs, err := e.Inclusions(ctx, "a.sh")
	require.NoError(t, err)
	require.Len(t, incs, 1)
	assert.Empty(t, incs[0].Target)
	assert.Equal(t, "later.sh", incs[0].Expr)

	require.NoError(t, e.UpdateFile(ctx, "later.sh", []byte("x=1\n")))
	incs, err = e.Inclusions(ctx, "a.sh")
	require.NoError(t, err)
	require.Len(t, incs, 1)
	assert.Equal(t, "later.sh", relPaths(t, e, []string{incs[0].Target})[0])
}

func TestUpdateFile_NewFileShadowsSearchPathMatch(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t, map[string]string{
		"bin/a.sh":    "source util.sh\n",
		"lib/util.sh": "x=1\n",
	}, WithSearchPaths("lib"))
	ctx := context.Background()

	incs, err := e.Inclusions(ctx, "bin/a.sh")
	require.NoError(t, err)
	require.Len(t, incs, 1)
	assert.Equal(t, "lib/util.sh", relPaths(t, e, []string{incs[0].Target})[0])

	// The includer's own directory outranks the search path.
	require.NoError(t, e.UpdateFile(ctx, "bin/util.sh", []byte("y=1\n")))
	incs, err = e.Inclusions(ctx, "bin/a.sh")
	require.NoError(t, err)
	require.Len(t, incs, 1)
	assert.Equal(t, "bin/util.sh", relPaths(t, e, []string{incs[0].Target})[0])
}

func TestUpdateFile_FailedParseLeavesNewPathUnregistered(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t, chain)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := e.UpdateFile(ctx, "new.sh", []byte("x=1\n"))
	require.ErrorIs(t, err, context.Canceled)

	_, ok := e.reg.Lookup(filepath.Join(e.Root(), "new.sh"))
	assert.False(t, ok)
	assert.NotContains(t, relPaths(t, e, e.Files()), "new.sh")
}

func TestUpdateFile_ConcurrentFirstUpdates(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t, map[string]string{"a.sh": "source new.sh\n"})
	live := context.Background()
	dead, cancel := context.WithCancel(live)
	cancel()

	var wg sync.WaitGroup
	for i := range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if i%2 == 0 {
				assert.ErrorIs(t, e.UpdateFile(dead, "new.sh", []byte("x=1\n")), context.Canceled)
				return
			}
			assert.NoError(t, e.UpdateFile(live, "new.sh", []byte("x=1\n")))
		}()
	}
	wg.Wait()

	h, ok := e.reg.Lookup(filepath.Join(e.Root(), "new.sh"))
	require.True(t, ok)
	_, ok = e.trees.Get(h)
	assert.True(t, ok)

	incs, err := e.Inclusions(live, "a.sh")
	require.NoError(t, err)
	require.Len(t, incs, 1)
	assert.Equal(t, "new.sh", relPaths(t, e, []string{incs[0].Target})[0])
}

func TestRemoveFile(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t, chain)
	ctx := context.Background()

	assert.True(t, e.RemoveFile("c.sh"))
	assert.False(t, e.RemoveFile("c.sh"))

	inc, err := e.IncludedFiles(ctx, "a.sh", true)
	require.NoError(t, err)
	assert.Equal(t, []string{"b.sh"}, relPaths(t, e, inc.Files))

	gone, err := e.IncludingFiles(ctx, "c.sh")
	require.NoError(t, err)
	assert.Empty(t, gone.Files)
}

func TestRenameFile(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t, map[string]string{
		"a.sh":   "source lib.sh\nhelper\n",
		"lib.sh": "helper() { :; }\n",
	})
	ctx := context.Background()

	require.NoError(t, e.RenameFile("lib.sh", "util.sh"))
	assert.Len(t, e.Files(), 2)

	inc, err := e.IncludedFiles(ctx, "a.sh", false)
	require.NoError(t, err)
	assert.Empty(t, inc.Files)

	require.NoError(t, e.UpdateFile(ctx, "a.sh", []byte("source util.sh\nhelper\n")))
	d, err := e.DefinitionAt(ctx, "a.sh", 1, 0)
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, "util.sh", relPaths(t, e, []string{d.File})[0])

	err = e.RenameFile("nope.sh", "x.sh")
	require.Error(t, err)
}

// =============================================================================
// Queries
// =============================================================================

func TestQueries_UnknownFileIsEmpty(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t, chain)
	ctx := context.Background()

	inc, err := e.IncludedFiles(ctx, "nope.sh", true)
	require.NoError(t, err)
	assert.Empty(t, inc.Files)

	incl, err := e.IncludingFiles(ctx, "nope.sh")
	require.NoError(t, err)
	assert.Empty(t, incl.Files)

	d, err := e.DefinitionAt(ctx, "nope.sh", 0, 0)
	require.NoError(t, err)
	assert.Nil(t, d)

	sc, err := e.ResolveScope(ctx, "nope.sh")
	require.NoError(t, err)
	assert.Empty(t, sc.Files)
}

func TestSearchScopes(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t, map[string]string{
		"a.sh": "source b.sh\nfoo\n",
		"b.sh": "source c.sh\nrun() {\n  local tmp=1\n  echo \"$tmp\"\n}\n",
		"c.sh": "foo() { :; }\n",
	})
	ctx := context.Background()

	d, sc, err := e.UseScopeAt(ctx, "a.sh", 1, 0)
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, []string{"c.sh", "b.sh", "a.sh"}, relPaths(t, e, sc.Files))
	assert.False(t, sc.Local)
	assert.False(t, sc.Widened)

	local, err := e.Resolve(ctx, "b.sh", 3, 10, "tmp")
	require.NoError(t, err)
	require.NotNil(t, local)
	assert.Equal(t, "local", local.Kind)
	assert.Equal(t, "run", local.Function)

	lsc, err := e.SearchScopeFor(ctx, *local)
	require.NoError(t, err)
	assert.Equal(t, []string{"b.sh"}, relPaths(t, e, lsc.Files))
	assert.True(t, lsc.Local)

	rsc, err := e.ResolveScope(ctx, "a.sh")
	require.NoError(t, err)
	assert.Equal(t, []string{"a.sh", "b.sh", "c.sh"}, relPaths(t, e, rsc.Files))
}

func TestWidening(t *testing.T) {
	t.Parallel()
	files := map[string]string{
		"a.sh": "source b.sh\n",
		"b.sh": "source \"$PLUGIN\"\n",
	}
	ctx := context.Background()

	on := newTestEngine(t, files)
	inc, err := on.IncludedFiles(ctx, "a.sh", true)
	require.NoError(t, err)
	assert.True(t, inc.Widened)

	off := newTestEngine(t, files, WithWidening(false))
	inc, err = off.IncludedFiles(ctx, "a.sh", true)
	require.NoError(t, err)
	assert.False(t, inc.Widened)
	assert.Equal(t, []string{"b.sh"}, relPaths(t, off, inc.Files))
}

func TestCircularIncludes(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t, map[string]string{
		"a.sh": "source b.sh\n",
		"b.sh": "source a.sh\n",
		"c.sh": "source a.sh\n",
	})
	cycles, err := e.CircularIncludes(context.Background())
	require.NoError(t, err)
	require.Len(t, cycles, 1)
	assert.Equal(t, []string{"a.sh", "b.sh"}, relPaths(t, e, cycles[0]))
}

func TestConcurrentQueriesDuringEdits(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t, chain)
	ctx := context.Background()

	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 50 {
				inc, err := e.IncludedFiles(ctx, "a.sh", true)
				if !assert.NoError(t, err) {
					return
				}
				rel := relPaths(t, e, inc.Files)
				ok := assert.ObjectsAreEqual([]string{"b.sh", "c.sh"}, rel) ||
					assert.ObjectsAreEqual([]string{"b.sh"}, rel)
				assert.True(t, ok, "unexpected result %v", rel)
			}
		}()
	}
	for i := range 50 {
		src := "source c.sh\n"
		if i%2 == 0 {
			src = "echo none\n"
		}
		require.NoError(t, e.UpdateFile(ctx, "b.sh", []byte(src)))
	}
	wg.Wait()
}

// Not parallel: raises GOMAXPROCS for the duration.
func TestConcurrentReaders(t *testing.T) {
	defer runtime.GOMAXPROCS(runtime.GOMAXPROCS(8))
	e := newTestEngine(t, chain)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 50 {
				switch i % 3 {
				case 0:
					d, err := e.DefinitionAt(ctx, "a.sh", 1, 0)
					if !assert.NoError(t, err) || !assert.NotNil(t, d) {
						return
					}
					assert.Equal(t, "foo", d.Name)
				case 1:
					d, err := e.Resolve(ctx, "a.sh", 1, 0, "foo")
					if !assert.NoError(t, err) || !assert.NotNil(t, d) {
						return
					}
					assert.Equal(t, "c.sh", relPaths(t, e, []string{d.File})[0])
				default:
					d, _, err := e.UseScopeAt(ctx, "a.sh", 1, 0)
					if !assert.NoError(t, err) {
						return
					}
					assert.NotNil(t, d)
				}
			}
		}()
	}
	wg.Wait()
}
