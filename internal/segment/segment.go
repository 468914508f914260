// Package segment implements the fixed-size block of atomic cells that makes up
// every node of a growable array tree.
//
// A Segment never knows whether it is an interior node or a leaf. The caller
// tracks the depth during traversal and picks the matching view: Child for
// interior segments, Element for leaf segments. Both views address the same
// pointer-sized cells.
package segment

import (
	"math/bits"
	"sync/atomic"
	"unsafe"
)

const (
	// MinBits is the smallest supported segment width in bits.
	MinBits = 1
	// MaxBits is the largest supported segment width in bits (65536 cells).
	MaxBits = 16
	// IndexBits is the width of an index.
	IndexBits = 64
)

// Segment is a block of 1<<width atomic cells, all nil on creation.
//
// Cells are stored as child references. Element views reinterpret the same
// cell, which is sound because atomic.Pointer[X] has the same layout for every X.
type Segment[T any] struct {
	cells []atomic.Pointer[Segment[T]]
}

// New returns a zero-filled segment with 1<<width cells.
func New[T any](width uint) *Segment[T] {
	return &Segment[T]{cells: make([]atomic.Pointer[Segment[T]], 1<<width)}
}

// Len returns the number of cells.
func (s *Segment[T]) Len() int {
	return len(s.cells)
}

// Child returns cell i interpreted as a reference to a child segment.
// Only valid when the segment sits above the leaf level.
func (s *Segment[T]) Child(i int) *atomic.Pointer[Segment[T]] {
	return &s.cells[i]
}

// Element returns cell i interpreted as a reference to an element.
// Only valid when the segment sits at the leaf level.
func (s *Segment[T]) Element(i int) *atomic.Pointer[T] {
	return (*atomic.Pointer[T])(unsafe.Pointer(&s.cells[i])) //nolint:gosec // identical layout for all type arguments
}

// Reset stores nil into every cell without reading the previous contents.
func (s *Segment[T]) Reset() {
	for i := range s.cells {
		s.cells[i].Store(nil)
	}
}

// Bytes returns the memory footprint of a segment of the given width.
func Bytes(width uint) int64 {
	var cell atomic.Pointer[struct{}]
	return int64(1)<<width * int64(unsafe.Sizeof(cell))
}

// MaxHeight returns the tallest height a tree of width-bit segments can need
// to address every 64-bit index.
func MaxHeight(width uint) int {
	return (IndexBits+int(width)-1)/int(width) - 1
}

// RequiredHeight returns the minimum height h such that (h+1)*width bits
// represent index.
func RequiredHeight(index uint64, width uint) int {
	n := bits.Len64(index)
	if n <= int(width) {
		return 0
	}
	return (n - 1) / int(width)
}

// Branch returns the cell index of index within a segment level levels above
// the leaves (level 0 is the leaf level).
func Branch(index uint64, level int, width uint) int {
	shift := uint(level) * width
	if shift >= IndexBits {
		return 0
	}
	return int((index >> shift) & (1<<width - 1))
}

// Capacity returns the number of indices addressable by a tree of the given
// height, saturating at the full 64-bit range.
func Capacity(height int, width uint) uint64 {
	total := uint(height+1) * width
	if total >= IndexBits {
		return ^uint64(0)
	}
	return uint64(1) << total
}
