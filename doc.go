// Package growable provides a lock-free, grow-only array of atomic slots.
//
// An Array maps every uint64 index to a stable *atomic.Pointer[T]. It is
// built as a tree of fixed-size segments of 1<<bits cells: interior segments
// point at child segments, leaf segments hold the slots. A segment does not
// know which kind it is; the traversal tracks the depth. It is intended as the
// bucket directory of a split-ordered hash table, which picks the index (a
// bit-reversed hash) and does its own CAS traffic on the returned slot.
//
// # Quick Start
//
//	arr, _ := growable.New[node]()
//	defer arr.Close()
//
//	g := arr.Pin()
//	defer g.Unpin()
//
//	slot, err := arr.GetOrCreate(g, 42)
//	if err != nil {
//	    return err
//	}
//	slot.CompareAndSwap(nil, sentinel)
//
// # Growth
//
// A tree of height h addresses [0, 2^((h+1)*bits)). GetOrCreate first raises
// the height, if needed, by placing a new root above the old one (the old root
// becomes branch 0), then walks down and creates missing segments. Every
// structural change is a single CAS; an allocation that loses its race was
// never reachable and is released immediately. Segments are never unlinked,
// so the tree only grows.
//
// # Ownership
//
// The array owns segments, never elements. Close walks the tree with the
// height in hand, frees every segment and clears leaf cells without reading
// them. Whoever stored elements is responsible for them.
//
// # Reclamation
//
// GetOrCreate requires a guard from Pin (see package epoch). Close defers the
// teardown until every guard pinned before it has been unpinned, so a slot is
// valid for as long as the guard used to obtain it.
//
// # Resources
//
// Each segment is charged to a resource.Controller. With a memory limit set,
// GetOrCreate returns an error matching ErrExhausted instead of allocating
// past it.
package growable
