package bashscope

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jward/bashscope/internal/decl"
	"github.com/jward/bashscope/internal/store"
)

// ErrNoStore is returned by Persist when the engine has no database.
var ErrNoStore = errors.New("bashscope: no store configured")

// Persist writes the current graph and declarations to the SQLite store:
// every registered file is committed and stored files that are no longer
// registered are removed.
func (e *Engine) Persist(ctx context.Context) error {
	if e.store == nil {
		return ErrNoStore
	}
	start := time.Now()
	now := start.Truncate(time.Second)

	registered := make(map[string]bool)
	for _, h := range e.reg.Files() {
		if err := ctx.Err(); err != nil {
			return err
		}
		path, ok := e.reg.Path(h)
		if !ok {
			continue
		}
		t, ok := e.trees.Get(h)
		if !ok {
			continue
		}
		edges, err := e.inc.Edges(ctx, h)
		if err != nil {
			return fmt.Errorf("bashscope: persist %s: %w", path, err)
		}

		snap := &store.FileSnapshot{
			File: store.File{Path: path, Dialect: e.dialect(h), Hash: t.Hash, LastIndexed: now},
		}
		for i, edge := range edges {
			inc := store.Inclusion{
				Ordinal: i,
				Expr:    edge.Path,
				Dynamic: edge.Dynamic,
				Line:    edge.Line,
				Col:     edge.Col,
			}
			if edge.Resolved() {
				if target, ok := e.reg.Path(edge.To); ok {
					inc.TargetPath = &target
				}
			}
			snap.Inclusions = append(snap.Inclusions, inc)
		}
		for _, d := range decl.Collect(t).All() {
			snap.Declarations = append(snap.Declarations, store.Declaration{
				Name:     d.Name,
				Kind:     d.Kind.String(),
				Function: d.Function,
				Line:     d.Pos.Line,
				Col:      d.Pos.Col,
			})
		}
		if err := e.store.CommitFile(snap); err != nil {
			return fmt.Errorf("bashscope: persist: %w", err)
		}
		registered[path] = true
	}

	stored, err := e.store.Files()
	if err != nil {
		return fmt.Errorf("bashscope: persist: %w", err)
	}
	var stale []string
	for _, f := range stored {
		if !registered[f.Path] {
			stale = append(stale, f.Path)
		}
	}
	if err := e.store.RemoveFiles(stale); err != nil {
		return fmt.Errorf("bashscope: persist: %w", err)
	}
	if err := e.store.SetMeta("root", e.root); err != nil {
		return fmt.Errorf("bashscope: persist: %w", err)
	}
	if err := e.store.SetMeta("indexed_at", now.UTC().Format(time.RFC3339)); err != nil {
		return fmt.Errorf("bashscope: persist: %w", err)
	}

	e.logger.Info("engine.persist", "files", len(registered), "removed", len(stale), "elapsed", time.Since(start))
	return nil
}
