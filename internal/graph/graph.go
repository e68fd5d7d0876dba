// Package graph maintains the directed inclusion graph between scripts.
//
// The forward edge list of each file is replaced as a unit, and the
// reverse index (target -> includers) is updated under the same write lock
// before the graph version is bumped. Readers therefore observe either the
// complete old edge set of a file or the complete new one, and a memoized
// result is valid exactly when its recorded version equals the current one.
package graph

import (
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/jward/bashscope/internal/vfs"
)

// Edge is one inclusion statement. To is vfs.Unresolved when the target
// could not be determined: either the path expression is dynamic, or it
// evaluated to a path that matches no known file.
type Edge struct {
	From          vfs.FileHandle
	To            vfs.FileHandle
	Path          string // evaluated path, or the raw expression when Dynamic
	Dynamic       bool
	Line          int // 0-based position of the statement
	Col           int
	SourceVersion uint64
}

// Resolved reports whether the edge points at a known file.
func (e Edge) Resolved() bool {
	return e.To != vfs.Unresolved
}

// Missing reports whether the edge has a static path that matched no file.
func (e Edge) Missing() bool {
	return !e.Dynamic && !e.Resolved()
}

// sameTopology compares edges ignoring SourceVersion.
func sameTopology(a, b []Edge) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		x, y := a[i], b[i]
		x.SourceVersion, y.SourceVersion = 0, 0
		if x != y {
			return false
		}
	}
	return true
}

// Result is the outcome of a traversal. Files is ordered: forward queries
// list files in the order a shell would evaluate them, reverse queries in
// breadth-first order. Widened is set when unresolved edges make the
// precise set unsound. Callers must not modify Files.
type Result struct {
	Files   []vfs.FileHandle
	Widened bool
	Version uint64
}

// Contains reports whether h is in the result.
func (r Result) Contains(h vfs.FileHandle) bool {
	for _, f := range r.Files {
		if f == h {
			return true
		}
	}
	return false
}

type direction uint8

const (
	forward direction = iota
	forwardWidened
	reverse
)

type memoKey struct {
	file vfs.FileHandle
	dir  direction
}

type memoEntry struct {
	version uint64
	result  Result
}

// Stats reports graph size and memoization counters.
type Stats struct {
	Version    uint64
	Files      int
	Edges      int
	MemoHits   uint64
	MemoMisses uint64
}

// Graph is an inclusion graph. Safe for concurrent use.
type Graph struct {
	mu         sync.RWMutex
	out        map[vfs.FileHandle][]Edge
	in         map[vfs.FileHandle]map[vfs.FileHandle]int // target -> includer -> edge count
	unresolved map[vfs.FileHandle]int                    // file -> unresolved edge count
	byBase     map[string]map[vfs.FileHandle]int         // static path basename -> includer -> edge count

	version atomic.Uint64

	memoMu sync.Mutex
	memo   map[memoKey]memoEntry
	hits   atomic.Uint64
	misses atomic.Uint64
}

// New returns an empty graph.
func New() *Graph {
	return &Graph{
		out:        make(map[vfs.FileHandle][]Edge),
		in:         make(map[vfs.FileHandle]map[vfs.FileHandle]int),
		unresolved: make(map[vfs.FileHandle]int),
		byBase:     make(map[string]map[vfs.FileHandle]int),
		memo:       make(map[memoKey]memoEntry),
	}
}

// Version returns the current graph version. It increases on every change
// to the topology.
func (g *Graph) Version() uint64 {
	return g.version.Load()
}

// UpsertEdges atomically replaces all outgoing edges of file. The From
// field of each edge is forced to file. It reports whether the topology
// changed; an unchanged topology keeps the graph version.
func (g *Graph) UpsertEdges(file vfs.FileHandle, edges []Edge) bool {
	next := make([]Edge, len(edges))
	unresolved := 0
	for i, e := range edges {
		e.From = file
		next[i] = e
		if !e.Resolved() {
			unresolved++
		}
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	old, known := g.out[file]
	if known && sameTopology(old, next) {
		g.out[file] = next
		return false
	}

	for _, e := range old {
		if e.Resolved() {
			g.decIncoming(e.To, file)
		}
		g.unindexBase(e)
	}
	for _, e := range next {
		if e.Resolved() {
			g.incIncoming(e.To, file)
		}
		g.indexBase(e)
	}
	g.out[file] = next
	if unresolved > 0 {
		g.unresolved[file] = unresolved
	} else {
		delete(g.unresolved, file)
	}

	g.version.Add(1)
	return true
}

func (g *Graph) incIncoming(target, includer vfs.FileHandle) {
	set, ok := g.in[target]
	if !ok {
		set = make(map[vfs.FileHandle]int)
		g.in[target] = set
	}
	set[includer]++
}

func (g *Graph) decIncoming(target, includer vfs.FileHandle) {
	set, ok := g.in[target]
	if !ok {
		return
	}
	if set[includer] <= 1 {
		delete(set, includer)
	} else {
		set[includer]--
	}
	if len(set) == 0 {
		delete(g.in, target)
	}
}

func (g *Graph) indexBase(e Edge) {
	if e.Dynamic || e.Path == "" {
		return
	}
	base := filepath.Base(e.Path)
	set, ok := g.byBase[base]
	if !ok {
		set = make(map[vfs.FileHandle]int)
		g.byBase[base] = set
	}
	set[e.From]++
}

func (g *Graph) unindexBase(e Edge) {
	if e.Dynamic || e.Path == "" {
		return
	}
	base := filepath.Base(e.Path)
	set, ok := g.byBase[base]
	if !ok {
		return
	}
	if set[e.From] <= 1 {
		delete(set, e.From)
	} else {
		set[e.From]--
	}
	if len(set) == 0 {
		delete(g.byBase, base)
	}
}

// RemoveFile deletes file's outgoing edges and strips it from every
// incoming set. Edges of other files that pointed at file become
// unresolved; their sources are returned, sorted, so callers can
// re-resolve them.
func (g *Graph) RemoveFile(file vfs.FileHandle) []vfs.FileHandle {
	g.mu.Lock()
	defer g.mu.Unlock()

	old, known := g.out[file]
	includers := g.in[file]
	if !known && len(includers) == 0 {
		return nil
	}

	for _, e := range old {
		if e.Resolved() {
			g.decIncoming(e.To, file)
		}
		g.unindexBase(e)
	}
	delete(g.out, file)
	delete(g.unresolved, file)

	var affected []vfs.FileHandle
	for includer := range includers {
		if includer == file {
			continue
		}
		affected = append(affected, includer)
		edges := append([]Edge(nil), g.out[includer]...)
		for i := range edges {
			if edges[i].To == file {
				edges[i].To = vfs.Unresolved
				g.unresolved[includer]++
			}
		}
		g.out[includer] = edges
	}
	delete(g.in, file)
	sort.Slice(affected, func(i, j int) bool { return affected[i] < affected[j] })

	g.version.Add(1)

	g.memoMu.Lock()
	for k := range g.memo {
		if k.file == file {
			delete(g.memo, k)
		}
	}
	g.memoMu.Unlock()
	return affected
}

// Edges returns a copy of file's outgoing edges in statement order.
func (g *Graph) Edges(file vfs.FileHandle) []Edge {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]Edge(nil), g.out[file]...)
}

// Includers returns the files with a resolved edge to file, sorted.
func (g *Graph) Includers(file vfs.FileHandle) []vfs.FileHandle {
	g.mu.RLock()
	out := make([]vfs.FileHandle, 0, len(g.in[file]))
	for f := range g.in[file] {
		out = append(out, f)
	}
	g.mu.RUnlock()
	sortHandles(out)
	return out
}

// StaticIncluders returns the files with a static edge whose path has the
// given base name, sorted. A file created under that name may take
// precedence over their current targets.
func (g *Graph) StaticIncluders(base string) []vfs.FileHandle {
	g.mu.RLock()
	out := make([]vfs.FileHandle, 0, len(g.byBase[base]))
	for f := range g.byBase[base] {
		out = append(out, f)
	}
	g.mu.RUnlock()
	sortHandles(out)
	return out
}

// WithMissing returns the files that have a static edge matching no known
// file, sorted. Registering a new file may resolve them.
func (g *Graph) WithMissing() []vfs.FileHandle {
	g.mu.RLock()
	var out []vfs.FileHandle
	for f := range g.unresolved {
		for _, e := range g.out[f] {
			if e.Missing() {
				out = append(out, f)
				break
			}
		}
	}
	g.mu.RUnlock()
	sortHandles(out)
	return out
}

// Known reports whether file has been upserted and not removed.
func (g *Graph) Known(file vfs.FileHandle) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.out[file]
	return ok
}

// Files returns every known file in ascending order.
func (g *Graph) Files() []vfs.FileHandle {
	g.mu.RLock()
	out := make([]vfs.FileHandle, 0, len(g.out))
	for f := range g.out {
		out = append(out, f)
	}
	g.mu.RUnlock()
	sortHandles(out)
	return out
}

// HasUnresolved reports whether any file has an unresolved edge.
func (g *Graph) HasUnresolved() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.unresolved) > 0
}

// Direct returns the distinct targets of file's resolved edges in statement
// order. Widened is set when file itself has unresolved edges.
func (g *Graph) Direct(file vfs.FileHandle) Result {
	g.mu.RLock()
	defer g.mu.RUnlock()
	res := Result{Version: g.version.Load(), Widened: g.unresolved[file] > 0}
	seen := make(map[vfs.FileHandle]bool)
	for _, e := range g.out[file] {
		if e.Resolved() && !seen[e.To] {
			seen[e.To] = true
			res.Files = append(res.Files, e.To)
		}
	}
	return res
}

// TransitiveIncludes returns every file reachable from file by following
// resolved edges, in depth-first pre-order of the include statements. The
// root is part of the result only if it includes itself directly. With
// widen set, an unresolved edge anywhere in the traversal marks the result
// as widened.
func (g *Graph) TransitiveIncludes(file vfs.FileHandle, widen bool) Result {
	dir := forward
	if widen {
		dir = forwardWidened
	}
	return g.memoized(memoKey{file: file, dir: dir}, func() Result {
		return g.walkForward(file, widen)
	})
}

// TransitiveIncluders returns every file that reaches file by following
// resolved edges, in breadth-first order. Widened is set when any file in
// the graph has an unresolved edge, since that edge might lead to file.
func (g *Graph) TransitiveIncluders(file vfs.FileHandle) Result {
	return g.memoized(memoKey{file: file, dir: reverse}, func() Result {
		return g.walkReverse(file)
	})
}

func (g *Graph) memoized(key memoKey, compute func() Result) Result {
	current := g.version.Load()
	g.memoMu.Lock()
	entry, ok := g.memo[key]
	g.memoMu.Unlock()
	if ok && entry.version == current {
		g.hits.Add(1)
		return copyResult(entry.result)
	}
	g.misses.Add(1)

	res := compute()

	g.memoMu.Lock()
	if prev, ok := g.memo[key]; !ok || prev.version < res.Version {
		g.memo[key] = memoEntry{version: res.Version, result: res}
	}
	g.memoMu.Unlock()
	return copyResult(res)
}

func copyResult(r Result) Result {
	r.Files = append([]vfs.FileHandle(nil), r.Files...)
	return r
}

func (g *Graph) walkForward(root vfs.FileHandle, widen bool) Result {
	g.mu.RLock()
	defer g.mu.RUnlock()

	res := Result{Version: g.version.Load()}
	if _, ok := g.out[root]; !ok {
		return res
	}

	type frame struct {
		file vfs.FileHandle
		next int
	}
	visited := map[vfs.FileHandle]bool{root: true}
	rootListed := false
	stack := []frame{{file: root}}
	if widen && g.unresolved[root] > 0 {
		res.Widened = true
	}

	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		edges := g.out[top.file]
		if top.next >= len(edges) {
			stack = stack[:len(stack)-1]
			continue
		}
		e := edges[top.next]
		top.next++
		if !e.Resolved() {
			continue
		}
		if e.To == root {
			if top.file == root && !rootListed {
				rootListed = true
				res.Files = append(res.Files, root)
			}
			continue
		}
		if visited[e.To] {
			continue
		}
		visited[e.To] = true
		res.Files = append(res.Files, e.To)
		if widen && g.unresolved[e.To] > 0 {
			res.Widened = true
		}
		stack = append(stack, frame{file: e.To})
	}
	return res
}

func (g *Graph) walkReverse(root vfs.FileHandle) Result {
	g.mu.RLock()
	defer g.mu.RUnlock()

	res := Result{Version: g.version.Load(), Widened: len(g.unresolved) > 0}
	_, known := g.out[root]
	if !known && len(g.in[root]) == 0 {
		return res
	}

	visited := map[vfs.FileHandle]bool{root: true}
	if g.in[root][root] > 0 {
		res.Files = append(res.Files, root)
	}
	queue := []vfs.FileHandle{root}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		includers := make([]vfs.FileHandle, 0, len(g.in[cur]))
		for f := range g.in[cur] {
			includers = append(includers, f)
		}
		sortHandles(includers)
		for _, f := range includers {
			if visited[f] {
				continue
			}
			visited[f] = true
			res.Files = append(res.Files, f)
			queue = append(queue, f)
		}
	}
	return res
}

// Cycles returns the include cycles: strongly connected components with
// more than one file, plus files that include themselves. Each cycle is
// sorted, and cycles are ordered by their smallest handle.
func (g *Graph) Cycles() [][]vfs.FileHandle {
	g.mu.RLock()
	defer g.mu.RUnlock()

	nodes := make([]vfs.FileHandle, 0, len(g.out))
	for f := range g.out {
		nodes = append(nodes, f)
	}
	sortHandles(nodes)

	// Tarjan's algorithm, iterative to stay safe on deep include chains.
	index := make(map[vfs.FileHandle]int)
	low := make(map[vfs.FileHandle]int)
	onStack := make(map[vfs.FileHandle]bool)
	var stack []vfs.FileHandle
	var cycles [][]vfs.FileHandle
	counter := 0

	type frame struct {
		file vfs.FileHandle
		next int
	}
	for _, start := range nodes {
		if _, seen := index[start]; seen {
			continue
		}
		work := []frame{{file: start}}
		index[start], low[start] = counter, counter
		counter++
		stack = append(stack, start)
		onStack[start] = true

		for len(work) > 0 {
			top := &work[len(work)-1]
			edges := g.out[top.file]
			if top.next < len(edges) {
				e := edges[top.next]
				top.next++
				if !e.Resolved() {
					continue
				}
				if _, seen := index[e.To]; !seen {
					index[e.To], low[e.To] = counter, counter
					counter++
					stack = append(stack, e.To)
					onStack[e.To] = true
					work = append(work, frame{file: e.To})
				} else if onStack[e.To] && index[e.To] < low[top.file] {
					low[top.file] = index[e.To]
				}
				continue
			}

			v := top.file
			work = work[:len(work)-1]
			if len(work) > 0 {
				parent := work[len(work)-1].file
				if low[v] < low[parent] {
					low[parent] = low[v]
				}
			}
			if low[v] != index[v] {
				continue
			}
			var scc []vfs.FileHandle
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				scc = append(scc, w)
				if w == v {
					break
				}
			}
			if len(scc) > 1 || g.in[v][v] > 0 {
				sortHandles(scc)
				cycles = append(cycles, scc)
			}
		}
	}
	sort.Slice(cycles, func(i, j int) bool { return cycles[i][0] < cycles[j][0] })
	return cycles
}

// Stats returns a snapshot of graph counters.
func (g *Graph) Stats() Stats {
	g.mu.RLock()
	st := Stats{Version: g.version.Load(), Files: len(g.out)}
	for _, edges := range g.out {
		st.Edges += len(edges)
	}
	g.mu.RUnlock()
	st.MemoHits = g.hits.Load()
	st.MemoMisses = g.misses.Load()
	return st
}

func sortHandles(hs []vfs.FileHandle) {
	sort.Slice(hs, func(i, j int) bool { return hs[i] < hs[j] })
}
