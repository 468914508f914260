// Package alloc creates, publishes and releases segments on behalf of an array.
//
// Every segment charges its footprint to a resource.Controller when it is
// created. A segment that loses a publish race was never reachable, so Discard
// releases it at once. Published segments are released only by Free, which the
// array's teardown calls once per segment it walks.
package alloc

import (
	"fmt"
	"sync/atomic"

	"github.com/hupe1980/growable/internal/segment"
	"github.com/hupe1980/growable/resource"
)

// Stats tracks segment lifetime counters.
//
// Note on semantics:
//   - Created: segments allocated, including race losers
//   - Published: segments linked into the tree by a winning CAS
//   - Discarded: race losers released without ever being linked
//   - Freed: published segments released by teardown
//   - BytesInUse: memory currently charged (Created - Discarded - Freed segments)
type Stats struct {
	Created    uint64
	Published  uint64
	Discarded  uint64
	Freed      uint64
	BytesInUse int64
}

type atomicStats struct {
	Created    atomic.Uint64
	Published  atomic.Uint64
	Discarded  atomic.Uint64
	Freed      atomic.Uint64
	BytesInUse atomic.Int64
}

// Allocator produces zero-filled segments of a fixed width.
type Allocator[T any] struct {
	width    uint
	segBytes int64
	rc       *resource.Controller
	stats    atomicStats
}

// New returns an allocator for segments of 1<<width cells.
// A nil controller disables the memory limit.
func New[T any](width uint, rc *resource.Controller) *Allocator[T] {
	return &Allocator[T]{
		width:    width,
		segBytes: segment.Bytes(width),
		rc:       rc,
	}
}

// Width returns the segment width in bits.
func (a *Allocator[T]) Width() uint {
	return a.width
}

// SegmentBytes returns the footprint charged per segment.
func (a *Allocator[T]) SegmentBytes() int64 {
	return a.segBytes
}

// Create allocates a new, unpublished segment.
func (a *Allocator[T]) Create() (*segment.Segment[T], error) {
	if err := a.rc.AcquireMemory(a.segBytes); err != nil {
		return nil, fmt.Errorf("allocate segment (%d bytes): %w", a.segBytes, err)
	}
	a.stats.Created.Add(1)
	a.stats.BytesInUse.Add(a.segBytes)
	return segment.New[T](a.width), nil
}

// Published records that s won its publish CAS.
func (a *Allocator[T]) Published(*segment.Segment[T]) {
	a.stats.Published.Add(1)
}

// Discard releases a segment that was never linked into the tree.
func (a *Allocator[T]) Discard(*segment.Segment[T]) {
	a.stats.Discarded.Add(1)
	a.release()
}

// Free releases a published segment. The caller has already walked any
// children; s's cells are cleared without being read.
func (a *Allocator[T]) Free(s *segment.Segment[T]) {
	s.Reset()
	a.stats.Freed.Add(1)
	a.release()
}

func (a *Allocator[T]) release() {
	a.stats.BytesInUse.Add(-a.segBytes)
	a.rc.ReleaseMemory(a.segBytes)
}

// Outcome describes how Install obtained its segment.
type Outcome int

const (
	// Existing means the cell was already populated.
	Existing Outcome = iota
	// Won means the caller's allocation was published.
	Won
	// Lost means another caller published first; the caller's allocation was discarded.
	Lost
)

// Install returns the segment referenced by cell, creating and publishing one
// if the cell is nil. When several callers race, exactly one allocation is
// linked; every other caller discards its own and adopts the winner.
func (a *Allocator[T]) Install(cell *atomic.Pointer[segment.Segment[T]]) (*segment.Segment[T], Outcome, error) {
	if s := cell.Load(); s != nil {
		return s, Existing, nil
	}

	fresh, err := a.Create()
	if err != nil {
		return nil, Existing, err
	}

	if cell.CompareAndSwap(nil, fresh) {
		a.Published(fresh)
		return fresh, Won, nil
	}

	a.Discard(fresh)
	return cell.Load(), Lost, nil
}

// Stats returns a snapshot of the counters.
func (a *Allocator[T]) Stats() Stats {
	return Stats{
		Created:    a.stats.Created.Load(),
		Published:  a.stats.Published.Load(),
		Discarded:  a.stats.Discarded.Load(),
		Freed:      a.stats.Freed.Load(),
		BytesInUse: a.stats.BytesInUse.Load(),
	}
}
