// Package tree holds the current parse tree of every open script. Each
// update produces a new immutable Tree tagged with a version taken from a
// single monotonic counter, so a (file, version) pair identifies content.
package tree

import (
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/jward/bashscope/internal/vfs"
)

// Tree is an immutable parse of one version of a file. Its fields may be
// read from any goroutine; the syntax tree itself is reached only through
// Walk.
type Tree struct {
	File    vfs.FileHandle
	Version uint64
	Source  []byte
	Hash    string

	// The binding caches nodes per tree in an unguarded map, so node access
	// from several goroutines must be serialized.
	mu   sync.Mutex
	tree *sitter.Tree
}

// Walk calls fn with the root node while holding the tree's lock. Nodes
// must not be retained after fn returns.
func (t *Tree) Walk(fn func(root *sitter.Node)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fn(t.tree.RootNode())
}

// Text returns the source text spanned by n.
func (t *Tree) Text(n *sitter.Node) string {
	return n.Content(t.Source)
}

// Change describes a version transition. NewVersion is 0 when the file was
// closed or deleted; OldVersion is 0 when it was opened.
type Change struct {
	File       vfs.FileHandle
	OldVersion uint64
	NewVersion uint64
}

// Removed reports whether the change dropped the file's tree.
func (c Change) Removed() bool {
	return c.NewVersion == 0
}

// Listener observes tree changes. Listeners run synchronously after the new
// tree is visible and must not call back into Update or Remove.
type Listener func(Change)

// Store maps file handles to their current trees. Safe for concurrent use.
type Store struct {
	mu    sync.RWMutex
	trees map[vfs.FileHandle]*Tree

	// version is shared by all files so versions never repeat.
	version atomic.Uint64

	lmu       sync.RWMutex
	listeners []Listener

	logger *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for parse events.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewStore creates an empty Store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		trees:  make(map[vfs.FileHandle]*Tree),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Subscribe registers a listener for subsequent changes.
func (s *Store) Subscribe(l Listener) {
	s.lmu.Lock()
	s.listeners = append(s.listeners, l)
	s.lmu.Unlock()
}

func (s *Store) notify(c Change) {
	s.lmu.RLock()
	ls := s.listeners
	s.lmu.RUnlock()
	for _, l := range ls {
		l(c)
	}
}

// Update parses src as the new content of h. When the content hash equals
// the current tree's, the current tree is returned and no version is
// consumed. Superseded trees are released by the binding's finalizer once
// no reader holds them.
func (s *Store) Update(ctx context.Context, h vfs.FileHandle, src []byte) (*Tree, error) {
	if cur, ok := s.Get(h); ok && cur.Hash == hashOf(src) {
		return cur, nil
	}
	p, err := ParseSource(ctx, src)
	if err != nil {
		return nil, fmt.Errorf("tree: parse file %d: %w", h, err)
	}
	return s.Install(h, p), nil
}

// Parsed is source parsed but not yet installed as a file's tree.
type Parsed struct {
	src  []byte
	hash string
	tree *sitter.Tree
}

// ParseSource parses a private copy of src.
func ParseSource(ctx context.Context, src []byte) (*Parsed, error) {
	content := append([]byte(nil), src...)
	parsed, err := Parse(ctx, content)
	if err != nil {
		return nil, err
	}
	return &Parsed{src: content, hash: hashOf(content), tree: parsed}, nil
}

// Install makes p the current tree of h and notifies listeners. Content
// equal to the current tree's keeps the current tree.
func (s *Store) Install(h vfs.FileHandle, p *Parsed) *Tree {
	s.mu.Lock()
	var old uint64
	if cur, ok := s.trees[h]; ok {
		if cur.Hash == p.hash {
			s.mu.Unlock()
			return cur
		}
		old = cur.Version
	}
	t := &Tree{
		File:    h,
		Version: s.version.Add(1),
		Source:  p.src,
		Hash:    p.hash,
		tree:    p.tree,
	}
	s.trees[h] = t
	s.mu.Unlock()

	s.logger.Debug("tree.update", "file", uint64(h), "old_version", old, "version", t.Version)
	s.notify(Change{File: h, OldVersion: old, NewVersion: t.Version})
	return t
}

func hashOf(src []byte) string {
	return fmt.Sprintf("%x", sha256.Sum256(src))
}

// Parse parses shell source with the bash grammar.
func Parse(ctx context.Context, src []byte) (*sitter.Tree, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(Grammar())
	return parser.ParseCtx(ctx, nil, src)
}

// Remove drops the tree for h, if any.
func (s *Store) Remove(h vfs.FileHandle) bool {
	s.mu.Lock()
	cur, ok := s.trees[h]
	delete(s.trees, h)
	s.mu.Unlock()
	if !ok {
		return false
	}
	s.logger.Debug("tree.remove", "file", uint64(h), "old_version", cur.Version)
	s.notify(Change{File: h, OldVersion: cur.Version})
	return true
}

// Get returns the current tree for h.
func (s *Store) Get(h vfs.FileHandle) (*Tree, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.trees[h]
	return t, ok
}

// Version returns the current version of h, or 0 if h has no tree.
func (s *Store) Version(h vfs.FileHandle) uint64 {
	if t, ok := s.Get(h); ok {
		return t.Version
	}
	return 0
}

// Files returns every handle with a tree, in ascending order.
func (s *Store) Files() []vfs.FileHandle {
	s.mu.RLock()
	out := make([]vfs.FileHandle, 0, len(s.trees))
	for h := range s.trees {
		out = append(out, h)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
