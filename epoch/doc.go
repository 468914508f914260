// Package epoch implements epoch-based reclamation for lock-free structures.
//
// A goroutine enters a critical section with Collector.Pin and leaves it with
// Guard.Unpin. Work that must not run while any reader may still observe an
// object (tearing down a tree, releasing memory budget) is handed to
// Guard.Defer or Collector.Defer and runs once every guard that was pinned at
// that moment has been released.
//
// # Epochs
//
// The collector keeps a global epoch. Pinning publishes the current global
// epoch in a participant record; the global epoch advances only when every
// pinned record has observed it. A deferred function tagged with epoch e runs
// once the global epoch reaches e+2, at which point no guard pinned before the
// function was deferred can still be active.
//
// # Concurrency
//
// Pin, Unpin and Defer are lock-free. Participant records are kept on a
// lock-free list and reused by CAS claim, so the list is bounded by the peak
// number of simultaneously pinned guards. A Guard belongs to the goroutine that
// pinned it and must not be shared.
//
//	g := c.Pin()
//	defer g.Unpin()
//	// ... load pointers that may be retired concurrently
package epoch
