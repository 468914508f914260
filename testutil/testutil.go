package testutil

import (
	"math/bits"
	"math/rand"
	"sync"
	"sync/atomic"
)

// RNG struct encapsulates the random number generator and seed.
// It is thread-safe.
type RNG struct {
	rand *rand.Rand
	seed int64
	mu   sync.Mutex
}

// NewRNG creates a new RNG instance with the specified seed.
func NewRNG(seed int64) *RNG {
	return &RNG{
		rand: rand.New(rand.NewSource(seed)),
		seed: seed,
	}
}

// Reset resets the RNG to its initial seed.
func (r *RNG) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rand.Seed(r.seed)
}

// Seed returns the initial seed.
func (r *RNG) Seed() int64 {
	return r.seed
}

// Intn returns a non-negative pseudo-random number in [0,n).
func (r *RNG) Intn(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Intn(n)
}

// Uint64 returns a pseudo-random uint64.
func (r *RNG) Uint64() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Uint64()
}

// Indices returns num indices uniform in [0, limit). limit must be positive.
func (r *RNG) Indices(num int, limit uint64) []uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]uint64, num)
	for i := range out {
		out[i] = r.rand.Uint64() % limit
	}
	return out
}

// SpreadIndices returns num indices whose bit length is uniform in [0, 64],
// so every tree height is exercised instead of almost only the tallest.
func (r *RNG) SpreadIndices(num int) []uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]uint64, num)
	for i := range out {
		n := r.rand.Intn(65)
		if n == 0 {
			continue
		}
		// Top bit set, lower n-1 bits random.
		out[i] = 1<<(n-1) | r.rand.Uint64()&(1<<(n-1)-1)
	}
	return out
}

// SplitOrderKey returns the bit-reversed hash used to order buckets in a
// split-ordered list.
func SplitOrderKey(hash uint64) uint64 {
	return bits.Reverse64(hash)
}

// Tracker counts element creation and release.
type Tracker struct {
	created  atomic.Int64
	released atomic.Int64
}

// NewTracker returns a tracker with zeroed counters.
func NewTracker() *Tracker {
	return &Tracker{}
}

// New creates a tracked element.
func (tr *Tracker) New(id uint64) *Element {
	tr.created.Add(1)
	return &Element{ID: id, tracker: tr}
}

// Created returns the number of elements created.
func (tr *Tracker) Created() int64 {
	return tr.created.Load()
}

// Released returns the number of elements released.
func (tr *Tracker) Released() int64 {
	return tr.released.Load()
}

// Element is a tracked value. Its owner calls Release exactly once.
type Element struct {
	ID       uint64
	released atomic.Bool
	tracker  *Tracker
}

// Release marks e as freed by its owner. Repeated calls count once.
func (e *Element) Release() {
	if e.released.CompareAndSwap(false, true) {
		e.tracker.released.Add(1)
	}
}

// Released reports whether e has been released.
func (e *Element) Released() bool {
	return e.released.Load()
}
