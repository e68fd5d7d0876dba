package tree

import (
	"context"
	"sync"
	"testing"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jward/bashscope/internal/vfs"
)

func TestUpdate_AssignsIncreasingVersions(t *testing.T) {
	t.Parallel()
	s := NewStore()
	ctx := context.Background()

	t1, err := s.Update(ctx, 1, []byte("echo one\n"))
	require.NoError(t, err)
	t2, err := s.Update(ctx, 2, []byte("echo two\n"))
	require.NoError(t, err)
	t3, err := s.Update(ctx, 1, []byte("echo three\n"))
	require.NoError(t, err)

	assert.Less(t, t1.Version, t2.Version)
	assert.Less(t, t2.Version, t3.Version)
	assert.Equal(t, t3.Version, s.Version(1))
	var rootType string
	t3.Walk(func(root *sitter.Node) { rootType = root.Type() })
	assert.Equal(t, "program", rootType)
}

func countNodes(n *sitter.Node) int {
	count := 1
	for i := 0; i < int(n.ChildCount()); i++ {
		count += countNodes(n.Child(i))
	}
	return count
}

func TestWalk_ConcurrentReaders(t *testing.T) {
	t.Parallel()
	s := NewStore()
	tr, err := s.Update(context.Background(), 1, []byte("source a.sh\nf() { local x=1; echo \"$x\"; }\nf\n"))
	require.NoError(t, err)

	var want int
	tr.Walk(func(root *sitter.Node) { want = countNodes(root) })
	require.Greater(t, want, 10)

	var wg sync.WaitGroup
	counts := make([]int, 16)
	for i := range counts {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 50 {
				tr.Walk(func(root *sitter.Node) { counts[i] = countNodes(root) })
			}
		}()
	}
	wg.Wait()
	for _, c := range counts {
		assert.Equal(t, want, c)
	}
}

func TestUpdate_UnchangedContentKeepsVersion(t *testing.T) {
	t.Parallel()
	s := NewStore()
	ctx := context.Background()

	first, err := s.Update(ctx, 1, []byte("foo() { :; }\n"))
	require.NoError(t, err)
	second, err := s.Update(ctx, 1, []byte("foo() { :; }\n"))
	require.NoError(t, err)

	assert.Same(t, first, second)
}

func TestUpdate_CopiesSource(t *testing.T) {
	t.Parallel()
	s := NewStore()
	src := []byte("echo hi\n")
	tr, err := s.Update(context.Background(), 1, src)
	require.NoError(t, err)

	src[0] = 'X'
	assert.Equal(t, "echo hi\n", string(tr.Source))
}

func TestSubscribe_ReceivesChanges(t *testing.T) {
	t.Parallel()
	s := NewStore()
	ctx := context.Background()

	var mu sync.Mutex
	var changes []Change
	s.Subscribe(func(c Change) {
		mu.Lock()
		changes = append(changes, c)
		mu.Unlock()
	})

	a, err := s.Update(ctx, 7, []byte("a=1\n"))
	require.NoError(t, err)
	b, err := s.Update(ctx, 7, []byte("a=2\n"))
	require.NoError(t, err)
	require.True(t, s.Remove(7))
	assert.False(t, s.Remove(7))

	require.Len(t, changes, 3)
	assert.Equal(t, Change{File: 7, OldVersion: 0, NewVersion: a.Version}, changes[0])
	assert.Equal(t, Change{File: 7, OldVersion: a.Version, NewVersion: b.Version}, changes[1])
	assert.True(t, changes[2].Removed())
	assert.Equal(t, b.Version, changes[2].OldVersion)
}

func TestFiles_Sorted(t *testing.T) {
	t.Parallel()
	s := NewStore()
	ctx := context.Background()
	for _, h := range []vfs.FileHandle{3, 1, 2} {
		_, err := s.Update(ctx, h, []byte("true\n"))
		require.NoError(t, err)
	}
	assert.Equal(t, []vfs.FileHandle{1, 2, 3}, s.Files())
}

func TestDialectForFile(t *testing.T) {
	t.Parallel()
	tests := []struct {
		path string
		want string
		ok   bool
	}{
		{"run.sh", "sh", true},
		{"lib.bash", "bash", true},
		{"test.bats", "bash", true},
		{"RUN.SH", "sh", true},
		{"profile.zsh", "zsh", true},
		{"main.go", "", false},
		{"Makefile", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			t.Parallel()
			got, ok := DialectForFile(tt.path)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}

	got, ok := DialectForFile("env.inc", "inc")
	assert.True(t, ok)
	assert.Equal(t, "bash", got)
}

func TestDialectForShebang(t *testing.T) {
	t.Parallel()
	tests := []struct {
		src  string
		want string
		ok   bool
	}{
		{"#!/bin/bash\necho", "bash", true},
		{"#!/usr/bin/env bash\n", "bash", true},
		{"#!/usr/bin/env -S bash -e\n", "bash", true},
		{"#!/bin/sh", "sh", true},
		{"#!/usr/bin/python3\n", "", false},
		{"echo no shebang\n", "", false},
		{"#!\n", "", false},
	}
	for _, tt := range tests {
		got, ok := DialectForShebang([]byte(tt.src))
		assert.Equal(t, tt.ok, ok, tt.src)
		assert.Equal(t, tt.want, got, tt.src)
	}
}
