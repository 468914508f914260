package growable

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/growable/internal/segment"
)

// Close releases every segment of the array. Elements referenced by leaf
// slots are left untouched.
//
// Guards pinned before Close keep the segments alive: the teardown is deferred
// on the array's collector and runs once those guards are unpinned, possibly on
// the goroutine of the last Unpin. Done reports when it has finished.
// Closing an already closed array returns ErrClosed.
func (a *Array[T]) Close() error {
	if a == nil {
		return nil
	}
	if !a.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}

	a.collector.Defer(a.teardown)
	a.collector.Collect()
	return nil
}

// Done returns a channel that is closed once the teardown started by Close
// has released every segment.
func (a *Array[T]) Done() <-chan struct{} {
	return a.torn
}

func (a *Array[T]) teardown() {
	defer close(a.torn)

	h := a.head.Load()
	if h == nil {
		return
	}

	start := time.Now()
	before := a.alloc.Stats().BytesInUse
	freed := a.releaseRoot(h.root, h.height)

	a.metrics.RecordTeardown(freed, time.Since(start))
	a.logger.LogTeardown(context.Background(), h.height, freed, before-a.alloc.Stats().BytesInUse)
}

// releaseRoot frees the tree below root, handing root subtrees to background
// workers while the resource controller has slots for them.
func (a *Array[T]) releaseRoot(root *segment.Segment[T], height int) int {
	if height == 0 {
		a.alloc.Free(root)
		return 1
	}

	var (
		g     errgroup.Group
		freed atomic.Int64
	)
	for i := 0; i < root.Len(); i++ {
		child := root.Child(i).Load()
		if child == nil {
			continue
		}
		if a.resources.TryAcquireBackground() {
			g.Go(func() error {
				defer a.resources.ReleaseBackground()
				freed.Add(int64(a.release(child, height-1)))
				return nil
			})
			continue
		}
		freed.Add(int64(a.release(child, height-1)))
	}
	_ = g.Wait()

	a.alloc.Free(root)
	return int(freed.Load()) + 1
}

// release frees s and, above the leaf level, every child beneath it. Leaf
// cells are cleared without being read.
func (a *Array[T]) release(s *segment.Segment[T], level int) int {
	freed := 0
	if level > 0 {
		for i := 0; i < s.Len(); i++ {
			if child := s.Child(i).Load(); child != nil {
				freed += a.release(child, level-1)
			}
		}
	}
	a.alloc.Free(s)
	return freed + 1
}
