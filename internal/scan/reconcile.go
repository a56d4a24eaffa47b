package scan

import (
	"context"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/duopane/dirsync/internal/tree"
)

const listBuffer = 64

// matchedPair is a relative path observed on both sides.
type matchedPair struct {
	src *tree.Entry
	dst *tree.Entry
}

// reconciler merge-joins the two listings of one scan, keyed by relative
// path, into classified diff entries. Both listers run concurrently; an
// entry is classified as soon as both sides of its path have been observed,
// or immediately once the opposite listing has finished. Pending entries
// are indexed per side until then, with a final sweep for leftovers.
type reconciler struct {
	source  tree.Tree
	dest    tree.Tree
	filter  *ExcludeFilter
	cmp     *Comparator
	workers int
	session *Session
	onEvent EventFunc

	emitMu sync.Mutex
}

func (r *reconciler) run(ctx context.Context) error {
	srcCh := make(chan *tree.Entry, listBuffer)
	dstCh := make(chan *tree.Entry, listBuffer)

	// Each side's terminal error is recorded before its channel closes. A
	// listing that ended with an error never vouches for absence: entries
	// seen only on the other side stay unclassified, so a transient root
	// outage cannot surface as spurious new or deleted entries.
	var srcErr, dstErr error
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(srcCh)
		srcErr = listInto(gctx, r.source, r.filter, srcCh)
		return srcErr
	})
	g.Go(func() error {
		defer close(dstCh)
		dstErr = listInto(gctx, r.dest, r.filter, dstCh)
		return dstErr
	})

	// Checksum comparisons fan out to a bounded pool so content reads never
	// exceed the backend connection budget. size_mtime pairs classify inline.
	pairCh := make(chan matchedPair, listBuffer)
	var wg sync.WaitGroup
	if r.cmp.Mode == ModeChecksum {
		wg.Add(r.workers)
		for i := 0; i < r.workers; i++ {
			go func() {
				defer wg.Done()
				for {
					select {
					case <-gctx.Done():
						return
					case p, ok := <-pairCh:
						if !ok {
							return
						}
						status := r.cmp.Compare(gctx, r.source, r.dest, p.src, p.dst)
						r.emitPair(status, p.src, p.dst)
					}
				}
			}()
		}
	}

	srcPending := make(map[string]*tree.Entry)
	dstPending := make(map[string]*tree.Entry)
	srcOpen, dstOpen := true, true

	for srcOpen || dstOpen {
		select {
		case e, ok := <-srcCh:
			if !ok {
				srcOpen = false
				srcCh = nil
				continue
			}
			if match, seen := dstPending[e.Path]; seen {
				delete(dstPending, e.Path)
				r.classifyPair(gctx, pairCh, e, match)
			} else if !dstOpen && dstErr == nil {
				r.classifySingle(e, StatusNew)
			} else {
				srcPending[e.Path] = e
			}
		case e, ok := <-dstCh:
			if !ok {
				dstOpen = false
				dstCh = nil
				continue
			}
			if match, seen := srcPending[e.Path]; seen {
				delete(srcPending, e.Path)
				r.classifyPair(gctx, pairCh, match, e)
			} else if !srcOpen && srcErr == nil {
				r.classifySingle(e, StatusDeleted)
			} else {
				dstPending[e.Path] = e
			}
		}
	}

	// Final sweep: whatever is still pending exists on one side only.
	if dstErr == nil {
		r.sweep(gctx, srcPending, StatusNew)
	}
	if srcErr == nil {
		r.sweep(gctx, dstPending, StatusDeleted)
	}

	close(pairCh)
	wg.Wait()

	return g.Wait()
}

func (r *reconciler) sweep(ctx context.Context, pending map[string]*tree.Entry, status Status) {
	paths := make([]string, 0, len(pending))
	for p := range pending {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	for _, p := range paths {
		if ctx.Err() != nil {
			return
		}
		r.classifySingle(pending[p], status)
	}
}

// classifySingle handles a path present on one side only. Directories are
// never part of the public diff.
func (r *reconciler) classifySingle(e *tree.Entry, status Status) {
	if e.IsDir {
		return
	}
	entry := &DiffEntry{RelPath: e.Path, Status: status}
	switch status {
	case StatusNew:
		entry.SourceSize = e.Size
	case StatusDeleted:
		entry.DestSize = e.Size
	}
	r.emit(entry)
}

// classifyPair handles a path present on both sides.
func (r *reconciler) classifyPair(ctx context.Context, pairCh chan<- matchedPair, src, dst *tree.Entry) {
	if src.IsDir && dst.IsDir {
		// Directories only drive listing and pruning.
		return
	}
	if src.IsDir != dst.IsDir {
		// Type change: a file replaced a directory or vice versa.
		r.emitPair(StatusModified, src, dst)
		return
	}

	if r.cmp.Mode == ModeChecksum {
		select {
		case pairCh <- matchedPair{src: src, dst: dst}:
		case <-ctx.Done():
		}
		return
	}

	r.emitPair(r.cmp.Compare(ctx, r.source, r.dest, src, dst), src, dst)
}

func (r *reconciler) emitPair(status Status, src, dst *tree.Entry) {
	entry := &DiffEntry{RelPath: src.Path, Status: status}
	if !src.IsDir {
		entry.SourceSize = src.Size
	}
	if !dst.IsDir {
		entry.DestSize = dst.Size
	}
	r.emit(entry)
}

// emit appends to the session log and delivers the entry event. The lock
// keeps the callback's view consistent with the log order; appends to a
// session that already left the running state are dropped.
func (r *reconciler) emit(entry *DiffEntry) {
	r.emitMu.Lock()
	defer r.emitMu.Unlock()

	if !r.session.append(entry) {
		return
	}
	if r.onEvent != nil {
		r.onEvent(EntryEvent{
			RelativePath: entry.RelPath,
			Status:       entry.Status,
			SourceSize:   entry.SourceSize,
			DestSize:     entry.DestSize,
		})
	}
}

// listInto pumps one lister into a channel, honoring cancellation on both
// the listing side and the send side.
func listInto(ctx context.Context, t tree.Tree, filter *ExcludeFilter, ch chan<- *tree.Entry) error {
	return t.List(ctx, filter.Match, func(e *tree.Entry) error {
		select {
		case ch <- e:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
}
