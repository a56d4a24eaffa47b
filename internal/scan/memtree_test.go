package scan

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/duopane/dirsync/internal/tree"
)

type memFile struct {
	data  string
	mtime time.Time
	dir   bool
}

// memTree is an in-memory Tree with call counting, used to assert pruning
// cost and checksum read behavior.
type memTree struct {
	root  *tree.Root
	files map[string]memFile

	rootErr error
	openErr map[string]error
	onVisit func(relPath string)

	mu      sync.Mutex
	visited map[string]int
	opens   map[string]int
}

func newMemTree(name string, files map[string]memFile) *memTree {
	return &memTree{
		root:    &tree.Root{Kind: tree.KindFilesystem, Path: name},
		files:   files,
		openErr: map[string]error{},
		visited: map[string]int{},
		opens:   map[string]int{},
	}
}

func (m *memTree) Root() *tree.Root {
	return m.root
}

func (m *memTree) List(ctx context.Context, skip tree.SkipFunc, visit tree.VisitFunc) error {
	if m.rootErr != nil {
		return fmt.Errorf("%w: %v", tree.ErrRootUnreachable, m.rootErr)
	}

	entries := map[string]*tree.Entry{}
	for path, f := range m.files {
		for i, r := range path {
			if r == '/' {
				parent := path[:i]
				if _, ok := entries[parent]; !ok {
					entries[parent] = &tree.Entry{Path: parent, IsDir: true}
				}
			}
		}
		if f.dir {
			entries[path] = &tree.Entry{Path: path, IsDir: true, ModTime: f.mtime}
			continue
		}
		entries[path] = &tree.Entry{
			Path:    path,
			Size:    int64(len(f.data)),
			ModTime: f.mtime,
		}
	}

	paths := make([]string, 0, len(entries))
	for p := range entries {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	var pruned []string
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return err
		}
		if underPruned(pruned, p) {
			continue
		}

		e := entries[p]
		if skip != nil && skip(p, e.IsDir) {
			if e.IsDir {
				pruned = append(pruned, p+"/")
			}
			continue
		}

		m.mu.Lock()
		m.visited[p]++
		m.mu.Unlock()
		if m.onVisit != nil {
			m.onVisit(p)
		}

		if err := visit(e); err != nil {
			return err
		}
	}
	return nil
}

func (m *memTree) Open(_ context.Context, relPath string) (io.ReadCloser, error) {
	m.mu.Lock()
	m.opens[relPath]++
	m.mu.Unlock()

	if err := m.openErr[relPath]; err != nil {
		return nil, err
	}
	f, ok := m.files[relPath]
	if !ok || f.dir {
		return nil, fmt.Errorf("no such file %q", relPath)
	}
	return io.NopCloser(strings.NewReader(f.data)), nil
}

func (m *memTree) visitCount(relPath string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.visited[relPath]
}

func (m *memTree) openCount(relPath string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.opens[relPath]
}

func underPruned(prefixes []string, rel string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(rel, p) {
			return true
		}
	}
	return false
}

// gatedFailTree fails at the root, but only once release closes, so the
// opposite side's listing is already in flight when the failure lands.
type gatedFailTree struct {
	root    *tree.Root
	release <-chan struct{}
}

func (g *gatedFailTree) Root() *tree.Root {
	return g.root
}

func (g *gatedFailTree) List(ctx context.Context, _ tree.SkipFunc, _ tree.VisitFunc) error {
	select {
	case <-g.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	return fmt.Errorf("%w: %s: mount gone", tree.ErrRootUnreachable, g.root.Path)
}

func (g *gatedFailTree) Open(_ context.Context, relPath string) (io.ReadCloser, error) {
	return nil, fmt.Errorf("no such file %q", relPath)
}

// eventLog collects events in delivery order.
type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) add(e Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) list() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Event, len(l.events))
	copy(out, l.events)
	return out
}

func mt(sec int64) time.Time {
	return time.Unix(sec, 0).UTC()
}
