// Package discover finds shell scripts in a project tree.
package discover

import (
	"context"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	ignore "github.com/sabhiram/go-gitignore"

	"github.com/jward/bashscope/internal/tree"
)

// FileEntry is a discovered script.
type FileEntry struct {
	Path    string // Relative to root
	Dialect string
}

// Options narrows discovery.
type Options struct {
	// Extensions are extra extensions treated as bash.
	Extensions []string
	// Exclude holds gitignore-style patterns matched against relative paths.
	Exclude []string
}

var skipDirs = map[string]struct{}{
	"node_modules": {},
	".git":         {},
	".hg":          {},
	".svn":         {},
	".bashscope":   {},
	"vendor":       {},
	"build":        {},
	"dist":         {},
}

// shebangPeek bounds how much of an extensionless file is read to find a
// #! line.
const shebangPeek = 256

// Files discovers shell scripts under root, sorted by path. A file counts
// when its extension names a shell dialect or, lacking a known extension,
// its first line is a shell shebang. Inside a git work tree only tracked
// and untracked-but-not-ignored files are considered; elsewhere the root
// .gitignore applies.
func Files(root string, opts Options) ([]FileEntry, error) {
	gitFiles := gitLsFiles(root)
	var gi *ignore.GitIgnore
	if gitFiles == nil {
		gi = loadGitignore(root)
	}
	var excl *ignore.GitIgnore
	if len(opts.Exclude) > 0 {
		excl = ignore.CompileIgnoreLines(opts.Exclude...)
	}

	var results []FileEntry

	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil // skip errors
		}

		name := d.Name()

		if d.IsDir() {
			if path == root {
				return nil
			}
			if _, skip := skipDirs[name]; skip || strings.HasPrefix(name, ".") {
				return filepath.SkipDir
			}
			if excl != nil {
				if rel, err := filepath.Rel(root, path); err == nil && excl.MatchesPath(rel+"/") {
					return filepath.SkipDir
				}
			}
			return nil
		}

		// Skip symlinks
		if d.Type()&os.ModeSymlink != 0 {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return nil
		}

		if gitFiles != nil {
			if _, ok := gitFiles[filepath.ToSlash(rel)]; !ok {
				return nil
			}
		} else if gi != nil && gi.MatchesPath(rel) {
			return nil
		}
		if excl != nil && excl.MatchesPath(rel) {
			return nil
		}

		dialect, ok := tree.DialectForFile(name, opts.Extensions...)
		if !ok {
			if filepath.Ext(name) != "" && !strings.HasPrefix(name, ".") {
				return nil
			}
			if dialect, ok = sniffShebang(path); !ok {
				return nil
			}
		}

		results = append(results, FileEntry{Path: rel, Dialect: dialect})
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].Path < results[j].Path
	})

	return results, nil
}

func sniffShebang(path string) (string, bool) {
	f, err := os.Open(path)
	if err != nil {
		return "", false
	}
	defer f.Close()
	buf := make([]byte, shebangPeek)
	n, err := io.ReadFull(f, buf)
	if err != nil && err != io.ErrUnexpectedEOF {
		return "", false
	}
	return tree.DialectForShebang(buf[:n])
}

func gitLsFiles(root string) map[string]struct{} {
	gitDir := filepath.Join(root, ".git")
	if _, err := os.Stat(gitDir); err != nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", "ls-files", "--cached", "--others", "--exclude-standard")
	cmd.Dir = root
	out, err := cmd.Output()
	if err != nil {
		return nil
	}

	files := make(map[string]struct{})
	for _, line := range strings.Split(strings.TrimRight(string(out), "\n"), "\n") {
		if line != "" {
			files[line] = struct{}{}
		}
	}
	return files
}

func loadGitignore(root string) *ignore.GitIgnore {
	gi, err := ignore.CompileIgnoreFile(filepath.Join(root, ".gitignore"))
	if err != nil {
		return nil
	}
	return gi
}
