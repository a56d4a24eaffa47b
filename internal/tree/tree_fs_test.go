package tree

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, rel, content string) {
	t.Helper()
	path := filepath.Join(dir, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func collect(t *testing.T, tr Tree, skip SkipFunc) []*Entry {
	t.Helper()
	var got []*Entry
	err := tr.List(context.Background(), skip, func(e *Entry) error {
		got = append(got, e)
		return nil
	})
	require.NoError(t, err)
	return got
}

func paths(entries []*Entry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Path)
	}
	return out
}

func TestFSTree_List(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.txt", "hello")
	writeFile(t, dir, "sub/b.txt", "world!")
	writeFile(t, dir, "sub/nested/c.txt", "x")

	tr := NewFSTree(dir)
	got := collect(t, tr, nil)

	// WalkDir is lexical, so the order is stable.
	assert.Equal(t, []string{"a.txt", "sub", "sub/b.txt", "sub/nested", "sub/nested/c.txt"}, paths(got))

	byPath := map[string]*Entry{}
	for _, e := range got {
		byPath[e.Path] = e
	}
	assert.False(t, byPath["a.txt"].IsDir)
	assert.Equal(t, int64(5), byPath["a.txt"].Size)
	assert.True(t, byPath["sub"].IsDir)
	assert.Equal(t, int64(6), byPath["sub/b.txt"].Size)
	assert.False(t, byPath["a.txt"].ModTime.IsZero())
}

func TestFSTree_List_Restartable(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.txt", "a")

	tr := NewFSTree(dir)
	first := collect(t, tr, nil)
	second := collect(t, tr, nil)
	assert.Equal(t, paths(first), paths(second))
}

func TestFSTree_List_PrunesSubtree(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "keep.txt", "k")
	writeFile(t, dir, "skip/a.txt", "a")
	writeFile(t, dir, "skip/deep/b.txt", "b")

	visited := map[string]bool{}
	skip := func(rel string, isDir bool) bool {
		visited[rel] = true
		return rel == "skip" && isDir
	}

	got := collect(t, NewFSTree(dir), skip)
	assert.Equal(t, []string{"keep.txt"}, paths(got))

	// Nothing under the pruned directory was ever offered.
	assert.False(t, visited["skip/a.txt"])
	assert.False(t, visited["skip/deep"])
}

func TestFSTree_List_RootUnreachable(t *testing.T) {
	tr := NewFSTree(filepath.Join(t.TempDir(), "missing"))
	err := tr.List(context.Background(), nil, func(e *Entry) error { return nil })
	assert.ErrorIs(t, err, ErrRootUnreachable)
}

func TestFSTree_List_VisitErrorStops(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.txt", "a")
	writeFile(t, dir, "b.txt", "b")

	sentinel := errors.New("stop")
	count := 0
	err := NewFSTree(dir).List(context.Background(), nil, func(e *Entry) error {
		count++
		return sentinel
	})
	assert.ErrorIs(t, err, sentinel)
	assert.Equal(t, 1, count)
}

func TestFSTree_List_Cancelled(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.txt", "a")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := NewFSTree(dir).List(ctx, nil, func(e *Entry) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFSTree_Open(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "sub/b.txt", "content")

	rc, err := NewFSTree(dir).Open(context.Background(), "sub/b.txt")
	require.NoError(t, err)
	defer rc.Close()

	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "content", string(data))
}
