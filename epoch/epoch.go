package epoch

import (
	"sync/atomic"
)

// collectEvery is the number of unpins between opportunistic collections.
const collectEvery = 64

// Collector coordinates guards and deferred functions.
//
// The zero Collector is ready to use.
type Collector struct {
	global  atomic.Uint64
	records atomic.Pointer[record]
	bag     atomic.Pointer[deferred]
	pending atomic.Int64
	unpins  atomic.Uint64

	// beforeSwap runs between the epoch read and the bag swap in Collect.
	// Tests use it to interleave a concurrent Unpin.
	beforeSwap func()
}

// record is one participant slot. state is 0 when not pinned and
// (epoch<<1)|1 while pinned.
type record struct {
	state   atomic.Uint64
	claimed atomic.Bool
	next    *record
}

type deferred struct {
	epoch uint64
	fn    func()
	next  *deferred
}

// NewCollector returns an empty collector.
func NewCollector() *Collector {
	return &Collector{}
}

// Pin enters a critical section.
func (c *Collector) Pin() *Guard {
	r := c.claim()
	for {
		e := c.global.Load()
		r.state.Store(e<<1 | 1)
		if c.global.Load() == e {
			break
		}
	}
	return &Guard{c: c, r: r}
}

// claim reuses a free record or pushes a new one.
func (c *Collector) claim() *record {
	for r := c.records.Load(); r != nil; r = r.next {
		if !r.claimed.Load() && r.claimed.CompareAndSwap(false, true) {
			return r
		}
	}

	r := &record{}
	r.claimed.Store(true)
	for {
		head := c.records.Load()
		r.next = head
		if c.records.CompareAndSwap(head, r) {
			return r
		}
	}
}

// Defer schedules fn to run after every guard active now has been released.
func (c *Collector) Defer(fn func()) {
	n := &deferred{epoch: c.global.Load(), fn: fn}
	c.push(n)
	c.pending.Add(1)
}

func (c *Collector) push(n *deferred) {
	for {
		head := c.bag.Load()
		n.next = head
		if c.bag.CompareAndSwap(head, n) {
			return
		}
	}
}

// tryAdvance bumps the global epoch if every pinned record has observed it.
func (c *Collector) tryAdvance() {
	e := c.global.Load()
	for r := c.records.Load(); r != nil; r = r.next {
		s := r.state.Load()
		if s&1 == 1 && s>>1 != e {
			return
		}
	}
	c.global.CompareAndSwap(e, e+1)
}

// Collect advances the epoch where possible and runs every deferred function
// that has become safe. It returns the number of functions run.
//
// If the global epoch moves while functions are put back, another collector
// may have found the bag empty, so the collection repeats.
func (c *Collector) Collect() int {
	ran := 0
	for {
		c.tryAdvance()
		c.tryAdvance()

		e := c.global.Load()
		if c.beforeSwap != nil {
			c.beforeSwap()
		}
		n := c.bag.Swap(nil)
		requeued := false
		for n != nil {
			next := n.next
			if n.epoch+2 <= e {
				c.pending.Add(-1)
				n.fn()
				ran++
			} else {
				c.push(n)
				requeued = true
			}
			n = next
		}

		if !requeued || c.global.Load() == e {
			return ran
		}
	}
}

// Epoch returns the current global epoch.
func (c *Collector) Epoch() uint64 {
	return c.global.Load()
}

// Pending returns the number of deferred functions not yet run.
func (c *Collector) Pending() int {
	return int(c.pending.Load())
}

// Pinned returns the number of currently pinned guards.
func (c *Collector) Pinned() int {
	n := 0
	for r := c.records.Load(); r != nil; r = r.next {
		if r.state.Load()&1 == 1 {
			n++
		}
	}
	return n
}

// Guard is an active critical section.
type Guard struct {
	c *Collector
	r *record
}

// Collector returns the collector g was pinned on.
func (g *Guard) Collector() *Collector {
	return g.c
}

// Active reports whether g has not been unpinned yet.
func (g *Guard) Active() bool {
	return g != nil && g.r != nil
}

// Defer schedules fn on g's collector. See Collector.Defer.
func (g *Guard) Defer(fn func()) {
	g.c.Defer(fn)
}

// Unpin leaves the critical section. Calling Unpin more than once is a no-op.
func (g *Guard) Unpin() {
	if !g.release() {
		return
	}

	if g.c.unpins.Add(1)%collectEvery == 0 || g.c.pending.Load() > 0 {
		g.c.Collect()
	}
}

// release clears g's record without collecting. It reports false if g was
// already released.
func (g *Guard) release() bool {
	if g.r == nil {
		return false
	}
	g.r.state.Store(0)
	g.r.claimed.Store(false)
	g.r = nil
	return true
}
