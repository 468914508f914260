// Package testutil provides testing utilities for growable arrays.
//
// This package is intended for use in tests and benchmarks only.
// It provides helpers for generating index workloads and for accounting the
// elements a collaborator publishes into slots.
//
// # Index Generation
//
//	rng := testutil.NewRNG(seed)
//	idx := rng.Indices(1000, 1<<20)   // uniform in [0, 1<<20)
//	idx = rng.SpreadIndices(1000)     // every bit length equally likely
//	key := testutil.SplitOrderKey(h)  // bit-reversed hash, as a split-ordered table would use
//
// # Element Tracking
//
//	tr := testutil.NewTracker()
//	e := tr.New(42)
//	if !slot.CompareAndSwap(nil, e) {
//	    e.Release() // lost the publish race
//	}
//	// live elements: tr.Created() - tr.Released()
package testutil
