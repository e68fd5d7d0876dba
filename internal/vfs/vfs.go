// Package vfs provides stable file identity and include path resolution for
// the scripts of one project.
package vfs

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
)

// FileHandle identifies a source file independently of its path. A handle
// survives renames and moves; it is never reused after the file is removed.
type FileHandle uint64

// Unresolved marks an include whose target could not be determined.
const Unresolved FileHandle = 0

// ErrUnknownFile is returned when a path is not registered.
var ErrUnknownFile = errors.New("vfs: unknown file")

// ErrPathInUse is returned when a rename target is already registered.
var ErrPathInUse = errors.New("vfs: path already registered")

// Registry assigns handles to paths and resolves include targets against
// the registered files. Safe for concurrent use.
type Registry struct {
	mu          sync.RWMutex
	root        string
	searchPaths []string
	next        FileHandle
	byPath      map[string]FileHandle
	paths       map[FileHandle]string
}

// NewRegistry creates a Registry rooted at root. Relative paths passed to
// any method, including search paths, are interpreted relative to root.
func NewRegistry(root string, searchPaths ...string) *Registry {
	r := &Registry{
		root:   filepath.Clean(root),
		byPath: make(map[string]FileHandle),
		paths:  make(map[FileHandle]string),
	}
	for _, sp := range searchPaths {
		r.searchPaths = append(r.searchPaths, r.normalize(sp))
	}
	return r
}

// Root returns the project root.
func (r *Registry) Root() string {
	return r.root
}

// SearchPaths returns the normalized include fallback directories.
func (r *Registry) SearchPaths() []string {
	return append([]string(nil), r.searchPaths...)
}

func (r *Registry) normalize(path string) string {
	if !filepath.IsAbs(path) && r.root != "" {
		path = filepath.Join(r.root, path)
	}
	return filepath.Clean(path)
}

// Register returns the handle for path, assigning a new one on first use.
func (r *Registry) Register(path string) FileHandle {
	h, _ := r.Claim(path)
	return h
}

// Claim is Register that also reports whether this call assigned the
// handle. Exactly one of several concurrent claims of a new path does.
func (r *Registry) Claim(path string) (FileHandle, bool) {
	path = r.normalize(path)
	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok := r.byPath[path]; ok {
		return h, false
	}
	r.next++
	h := r.next
	r.byPath[path] = h
	r.paths[h] = path
	return h, true
}

// Lookup returns the handle registered for path.
func (r *Registry) Lookup(path string) (FileHandle, bool) {
	path = r.normalize(path)
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.byPath[path]
	return h, ok
}

// Path returns the current path of a handle.
func (r *Registry) Path(h FileHandle) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.paths[h]
	return p, ok
}

// RelPath returns the path of h relative to the project root, falling back
// to the absolute path when h lies outside it.
func (r *Registry) RelPath(h FileHandle) string {
	p, ok := r.Path(h)
	if !ok {
		return ""
	}
	if rel, err := filepath.Rel(r.root, p); err == nil && !startsWithDotDot(rel) {
		return rel
	}
	return p
}

func startsWithDotDot(rel string) bool {
	return rel == ".." || len(rel) > 2 && rel[:3] == ".."+string(filepath.Separator)
}

// Rename moves the handle registered at oldPath to newPath.
func (r *Registry) Rename(oldPath, newPath string) (FileHandle, error) {
	oldPath, newPath = r.normalize(oldPath), r.normalize(newPath)
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.byPath[oldPath]
	if !ok {
		return Unresolved, fmt.Errorf("rename %s: %w", oldPath, ErrUnknownFile)
	}
	if oldPath == newPath {
		return h, nil
	}
	if _, taken := r.byPath[newPath]; taken {
		return Unresolved, fmt.Errorf("rename to %s: %w", newPath, ErrPathInUse)
	}
	delete(r.byPath, oldPath)
	r.byPath[newPath] = h
	r.paths[h] = newPath
	return h, nil
}

// Remove unregisters path and returns the handle it had.
func (r *Registry) Remove(path string) (FileHandle, bool) {
	path = r.normalize(path)
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.byPath[path]
	if !ok {
		return Unresolved, false
	}
	delete(r.byPath, path)
	delete(r.paths, h)
	return h, true
}

// Files returns all registered handles in ascending order.
func (r *Registry) Files() []FileHandle {
	r.mu.RLock()
	out := make([]FileHandle, 0, len(r.paths))
	for h := range r.paths {
		out = append(out, h)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Dir returns the directory containing h, or "" if h is unknown.
func (r *Registry) Dir(h FileHandle) string {
	p, ok := r.Path(h)
	if !ok {
		return ""
	}
	return filepath.Dir(p)
}

// Candidates lists the paths tried, in order, when includer sources target:
// the target itself when absolute, otherwise the includer's directory
// followed by each search path.
func (r *Registry) Candidates(includer FileHandle, target string) []string {
	if target == "" {
		return nil
	}
	if filepath.IsAbs(target) {
		return []string{filepath.Clean(target)}
	}
	var out []string
	if dir := r.Dir(includer); dir != "" {
		out = append(out, filepath.Join(dir, target))
	}
	for _, sp := range r.searchPaths {
		out = append(out, filepath.Join(sp, target))
	}
	return out
}

// ResolveInclude maps an evaluated include path to a registered file.
func (r *Registry) ResolveInclude(includer FileHandle, target string) (FileHandle, bool) {
	for _, c := range r.Candidates(includer, target) {
		if h, ok := r.Lookup(c); ok {
			return h, true
		}
	}
	return Unresolved, false
}
