package growable

import (
	"errors"
	"fmt"
	"math"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/growable/epoch"
	"github.com/hupe1980/growable/internal/segment"
	"github.com/hupe1980/growable/resource"
	"github.com/hupe1980/growable/testutil"
)

func newArray[T any](t *testing.T, opts ...Option) *Array[T] {
	t.Helper()
	a, err := New[T](opts...)
	require.NoError(t, err)
	return a
}

func mustGet[T any](t *testing.T, a *Array[T], g *epoch.Guard, index uint64) *atomic.Pointer[T] {
	t.Helper()
	slot, err := a.GetOrCreate(g, index)
	require.NoError(t, err)
	require.NotNil(t, slot)
	return slot
}

// TestArray_GrowAndDescend walks the three-step example with 8-cell segments:
// a single leaf, growth to height 1 with the leaf relinked under branch 0, and
// a lookup that reuses the original leaf.
func TestArray_GrowAndDescend(t *testing.T) {
	a := newArray[string](t, WithSegmentBits(3))
	g := a.Pin()
	defer g.Unpin()

	assert.Equal(t, 0, a.Height())
	assert.Equal(t, uint64(0), a.Capacity())

	// Step 1: 0b001 on an empty array.
	cat := mustGet(t, a, g, 0b001)
	assert.Equal(t, 0, a.Height())
	assert.Equal(t, uint64(8), a.Capacity())
	assert.Equal(t, uint64(1), a.Stats().SegmentsPublished)

	leaf := a.head.Load().root
	assert.Same(t, leaf.Element(1), cat)

	// Step 2: 0b111011 needs height 1.
	fox := mustGet(t, a, g, 0b111011)
	assert.Equal(t, 1, a.Height())
	assert.Equal(t, uint64(64), a.Capacity())
	assert.Equal(t, uint64(3), a.Stats().SegmentsPublished)

	root := a.head.Load().root
	assert.Same(t, leaf, root.Child(0).Load())
	foxLeaf := root.Child(0b111).Load()
	require.NotNil(t, foxLeaf)
	assert.NotSame(t, leaf, foxLeaf)
	assert.Same(t, foxLeaf.Element(0b011), fox)
	for i := 1; i < root.Len(); i++ {
		if i != 0b111 {
			assert.Nil(t, root.Child(i).Load(), "branch %d", i)
		}
	}

	// Step 3: 0b000110 reuses the original leaf.
	owl := mustGet(t, a, g, 0b000110)
	assert.Equal(t, 1, a.Height())
	assert.Equal(t, uint64(3), a.Stats().SegmentsPublished)
	assert.Same(t, leaf.Element(0b110), owl)

	// The first slot still addresses index 1.
	assert.Same(t, cat, mustGet(t, a, g, 0b001))
}

// TestArray_GrowLosesRace publishes a competing root between the head load and
// the head CAS of a growth step. The loser must discard its candidate without
// linking it and adopt the winner's tree.
func TestArray_GrowLosesRace(t *testing.T) {
	a := newArray[int](t, WithSegmentBits(3))
	g := a.Pin()
	defer g.Unpin()

	one := mustGet(t, a, g, 0b001)
	v := 1
	one.Store(&v)
	leaf := a.head.Load().root

	var candidate *segment.Segment[int]
	var winner *head[int]
	a.beforeGrowCAS = func(c *segment.Segment[int]) {
		if candidate != nil {
			return
		}
		candidate = c
		require.Same(t, leaf, c.Child(0).Load())

		h, err := a.grow(0b111011, 1)
		require.NoError(t, err)
		winner = h
	}

	fox := mustGet(t, a, g, 0b111011)

	require.NotNil(t, candidate)
	require.NotNil(t, winner)
	assert.Same(t, winner, a.head.Load())
	assert.NotSame(t, candidate, winner.root)
	assert.Nil(t, candidate.Child(0).Load(), "discarded root must drop its link to the old root")

	assert.Equal(t, 1, a.Height())
	assert.Same(t, leaf, winner.root.Child(0).Load())
	assert.Same(t, winner.root.Child(0b111).Load().Element(0b011), fox)
	assert.Same(t, one, mustGet(t, a, g, 0b001))
	assert.Same(t, &v, one.Load())

	st := a.Stats()
	assert.Equal(t, uint64(1), st.GrowRetries)
	assert.Equal(t, uint64(1), st.SegmentsDiscarded)
	assert.Equal(t, uint64(3), st.SegmentsPublished)
	assert.Equal(t, st.SegmentsCreated, st.SegmentsPublished+st.SegmentsDiscarded)
	assert.Equal(t, int64(st.SegmentsPublished)*segment.Bytes(3), st.BytesInUse)
}

func TestArray_IndexZero(t *testing.T) {
	a := newArray[int](t)
	g := a.Pin()
	defer g.Unpin()

	slot := mustGet(t, a, g, 0)
	assert.Equal(t, 0, a.Height())
	assert.Same(t, a.head.Load().root.Element(0), slot)

	st := a.Stats()
	assert.Equal(t, uint64(1), st.SegmentsPublished)
	assert.Equal(t, DefaultSegmentBits, st.SegmentBits)
	assert.Equal(t, uint64(1)<<DefaultSegmentBits, st.Capacity)
}

func TestArray_SameSlot(t *testing.T) {
	a := newArray[int](t, WithSegmentBits(4))
	g := a.Pin()
	defer g.Unpin()

	rng := testutil.NewRNG(4711)
	idx := rng.SpreadIndices(500)

	first := make(map[uint64]*atomic.Pointer[int])
	for _, i := range idx {
		first[i] = mustGet(t, a, g, i)
	}
	for _, i := range idx {
		assert.Same(t, first[i], mustGet(t, a, g, i), "index %d", i)
	}
}

func TestArray_SlotsHoldValues(t *testing.T) {
	a := newArray[uint64](t, WithSegmentBits(5))
	g := a.Pin()
	defer g.Unpin()

	rng := testutil.NewRNG(1)
	idx := rng.Indices(1000, 1<<30)
	for _, i := range idx {
		v := i
		mustGet(t, a, g, i).Store(&v)
	}
	for _, i := range idx {
		got := mustGet(t, a, g, i).Load()
		require.NotNil(t, got)
		assert.Equal(t, i, *got)
	}
}

func TestArray_EmptyArrayTallIndex(t *testing.T) {
	a := newArray[int](t)
	g := a.Pin()
	defer g.Unpin()

	mustGet(t, a, g, 1<<40)
	assert.Equal(t, 4, a.Height())
	// Root installed at the required height plus one segment per level below.
	assert.Equal(t, uint64(5), a.Stats().SegmentsPublished)

	// Low indices live under branch 0 of every level.
	mustGet(t, a, g, 7)
	assert.Equal(t, 4, a.Height())
	assert.Equal(t, uint64(9), a.Stats().SegmentsPublished)
}

func TestArray_MaxIndex(t *testing.T) {
	tests := []struct {
		bits   int
		height int
	}{
		{1, 63},
		{3, 21},
		{10, 6},
		{16, 3},
	}

	for _, tt := range tests {
		a := newArray[int](t, WithSegmentBits(tt.bits))
		g := a.Pin()

		slot := mustGet(t, a, g, math.MaxUint64)
		assert.Equal(t, tt.height, a.Height(), "bits=%d", tt.bits)
		assert.Equal(t, uint64(math.MaxUint64), a.Capacity())
		assert.Same(t, slot, mustGet(t, a, g, math.MaxUint64))

		g.Unpin()
		require.NoError(t, a.Close())
		assert.Equal(t, a.Stats().SegmentsPublished, a.Stats().SegmentsFreed)
	}
}

func TestArray_HeightIsMinimal(t *testing.T) {
	const width = 4
	a := newArray[int](t, WithSegmentBits(width))
	g := a.Pin()
	defer g.Unpin()

	rng := testutil.NewRNG(99)
	var maxIndex uint64
	for _, i := range rng.SpreadIndices(300) {
		mustGet(t, a, g, i)
		maxIndex = max(maxIndex, i)

		h := a.Height()
		assert.Equal(t, segment.RequiredHeight(maxIndex, width), h)
		if h < segment.MaxHeight(width) {
			assert.Less(t, maxIndex, segment.Capacity(h, width))
		}
		if h > 0 {
			assert.GreaterOrEqual(t, maxIndex, segment.Capacity(h-1, width))
		}
	}
}

func TestArray_ConcurrentSameIndex(t *testing.T) {
	const index = 0b101_110_011_010_001
	a := newArray[int](t, WithSegmentBits(3))

	numGoroutines := 8 * runtime.GOMAXPROCS(0)
	slots := make([]*atomic.Pointer[int], numGoroutines)

	var start sync.WaitGroup
	start.Add(1)
	var wg sync.WaitGroup
	wg.Add(numGoroutines)
	for i := 0; i < numGoroutines; i++ {
		go func(i int) {
			defer wg.Done()
			g := a.Pin()
			defer g.Unpin()
			start.Wait()

			slot, err := a.GetOrCreate(g, index)
			if err != nil {
				t.Errorf("GetOrCreate failed: %v", err)
				return
			}
			slots[i] = slot
		}(i)
	}
	start.Done()
	wg.Wait()

	g := a.Pin()
	defer g.Unpin()
	want := mustGet(t, a, g, index)
	for i, s := range slots {
		assert.Same(t, want, s, "goroutine %d", i)
	}

	// Exactly one segment per level on the path survives.
	st := a.Stats()
	assert.Equal(t, 4, st.Height)
	assert.Equal(t, uint64(5), st.SegmentsPublished)
	assert.Equal(t, st.SegmentsCreated, st.SegmentsPublished+st.SegmentsDiscarded)
	assert.Equal(t, int64(st.SegmentsPublished)*segment.Bytes(3), st.BytesInUse)
}

func TestArray_ConcurrentMixed(t *testing.T) {
	const (
		width         = 4
		numGoroutines = 16
		perGoroutine  = 400
	)
	a := newArray[testutil.Element](t, WithSegmentBits(width))
	tracker := testutil.NewTracker()

	rng := testutil.NewRNG(2024)
	workloads := make([][]uint64, numGoroutines)
	for i := range workloads {
		workloads[i] = rng.Indices(perGoroutine, 1<<24)
	}

	// Height must never decrease while writers run.
	stop := make(chan struct{})
	var monotonic atomic.Bool
	monotonic.Store(true)
	var watcher sync.WaitGroup
	watcher.Add(1)
	go func() {
		defer watcher.Done()
		last := 0
		for {
			select {
			case <-stop:
				return
			default:
			}
			h := a.Height()
			if h < last {
				monotonic.Store(false)
			}
			last = h
			runtime.Gosched()
		}
	}()

	var eg errgroup.Group
	for _, w := range workloads {
		w := w
		eg.Go(func() error {
			g := a.Pin()
			defer g.Unpin()
			for _, i := range w {
				slot, err := a.GetOrCreate(g, i)
				if err != nil {
					return err
				}
				e := tracker.New(i)
				if !slot.CompareAndSwap(nil, e) {
					// Another goroutine published first; the element was never shared.
					e.Release()
				}
			}
			return nil
		})
	}
	require.NoError(t, eg.Wait())
	close(stop)
	watcher.Wait()
	assert.True(t, monotonic.Load())

	g := a.Pin()
	var maxIndex uint64
	for _, w := range workloads {
		for _, i := range w {
			maxIndex = max(maxIndex, i)
			e := mustGet(t, a, g, i).Load()
			require.NotNil(t, e)
			assert.Equal(t, i, e.ID)
		}
	}
	assert.Equal(t, segment.RequiredHeight(maxIndex, width), a.Height())
	g.Unpin()

	// One element survives per distinct index; every CAS loser was released.
	distinct := make(map[uint64]struct{})
	for _, w := range workloads {
		for _, i := range w {
			distinct[i] = struct{}{}
		}
	}
	assert.Equal(t, int64(len(distinct)), tracker.Created()-tracker.Released())

	require.NoError(t, a.Close())
	<-a.Done()

	st := a.Stats()
	assert.Equal(t, st.SegmentsPublished, st.SegmentsFreed)
	assert.Equal(t, int64(0), st.BytesInUse)
}

type listNode struct {
	key   uint64
	value string
	next  *listNode
}

// TestArray_CloseFreesSegmentsNotElements stores nodes owned by an outside
// list, tears the array down and checks that the leaf cells were cleared while
// every node is still intact and reachable from its owner.
func TestArray_CloseFreesSegmentsNotElements(t *testing.T) {
	a := newArray[listNode](t, WithSegmentBits(3))

	// The list owns the nodes; the array only indexes them.
	var list *listNode
	slots := make(map[uint64]*atomic.Pointer[listNode])
	want := make(map[uint64]listNode)

	g := a.Pin()
	for _, i := range []uint64{0b001, 0b111011, 0b000110, 1 << 20} {
		n := &listNode{key: i, value: fmt.Sprintf("node-%d", i), next: list}
		list = n
		slot := mustGet(t, a, g, i)
		require.True(t, slot.CompareAndSwap(nil, n))
		slots[i] = slot
		want[i] = *n
	}
	g.Unpin()

	published := a.Stats().SegmentsPublished
	require.NoError(t, a.Close())

	select {
	case <-a.Done():
	default:
		t.Fatal("teardown did not run without active guards")
	}

	st := a.Stats()
	assert.True(t, st.Closed)
	assert.Equal(t, published, st.SegmentsFreed)
	assert.Equal(t, int64(0), st.BytesInUse)

	// Leaf cells no longer reference the nodes.
	for i, slot := range slots {
		assert.Nil(t, slot.Load(), "index %d", i)
	}

	// The nodes themselves are untouched.
	seen := 0
	for n := list; n != nil; n = n.next {
		assert.Equal(t, want[n.key], *n)
		seen++
	}
	assert.Equal(t, len(want), seen)
}

func TestArray_CloseWaitsForGuards(t *testing.T) {
	a := newArray[int](t, WithSegmentBits(3))

	g := a.Pin()
	slot := mustGet(t, a, g, 0b111011)
	v := 7
	slot.Store(&v)

	require.NoError(t, a.Close())

	select {
	case <-a.Done():
		t.Fatal("teardown ran while a guard was pinned")
	default:
	}
	assert.Equal(t, uint64(0), a.Stats().SegmentsFreed)
	assert.Same(t, &v, slot.Load())

	g.Unpin()

	select {
	case <-a.Done():
	default:
		t.Fatal("teardown did not run after the last guard was unpinned")
	}
	assert.Equal(t, a.Stats().SegmentsPublished, a.Stats().SegmentsFreed)
	assert.Equal(t, 7, v)
}

func TestArray_Closed(t *testing.T) {
	a := newArray[int](t)
	require.NoError(t, a.Close())
	assert.ErrorIs(t, a.Close(), ErrClosed)

	g := a.Pin()
	defer g.Unpin()
	_, err := a.GetOrCreate(g, 1)
	assert.ErrorIs(t, err, ErrClosed)

	// Closing an empty array frees nothing.
	<-a.Done()
	assert.Equal(t, uint64(0), a.Stats().SegmentsFreed)

	var nilArray *Array[int]
	assert.NoError(t, nilArray.Close())
}

func TestArray_GuardRequired(t *testing.T) {
	a := newArray[int](t)

	assert.PanicsWithValue(t, ErrNilGuard, func() {
		_, _ = a.GetOrCreate(nil, 1)
	})

	g := a.Pin()
	g.Unpin()
	assert.PanicsWithValue(t, ErrNilGuard, func() {
		_, _ = a.GetOrCreate(g, 1)
	})

	other := epoch.NewCollector().Pin()
	defer other.Unpin()
	assert.PanicsWithValue(t, ErrForeignGuard, func() {
		_, _ = a.GetOrCreate(other, 1)
	})
}

func TestArray_MemoryLimit(t *testing.T) {
	rc := resource.NewController(resource.Config{MemoryLimitBytes: 2 * segment.Bytes(3)})
	a := newArray[int](t, WithSegmentBits(3), WithResourceController(rc))
	g := a.Pin()
	defer g.Unpin()

	mustGet(t, a, g, 1)

	// Growth fits the budget, the new leaf does not.
	_, err := a.GetOrCreate(g, 0b111011)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrExhausted)
	assert.ErrorIs(t, err, resource.ErrMemoryLimitExceeded)
	assert.Equal(t, 1, a.Height())
	assert.Equal(t, 2*segment.Bytes(3), rc.MemoryUsage())

	// Existing paths stay reachable.
	mustGet(t, a, g, 0b000110)

	g.Unpin()
	require.NoError(t, a.Close())
	assert.Equal(t, int64(0), rc.MemoryUsage())
}

func TestArray_SharedController(t *testing.T) {
	rc := resource.NewController(resource.Config{})
	c := epoch.NewCollector()

	a1 := newArray[int](t, WithResourceController(rc), WithCollector(c))
	a2 := newArray[string](t, WithResourceController(rc), WithCollector(c))
	assert.Same(t, c, a1.Collector())

	g := c.Pin()
	mustGet(t, a1, g, 5000)
	mustGet(t, a2, g, 3)
	g.Unpin()

	want := a1.Stats().BytesInUse + a2.Stats().BytesInUse
	assert.Equal(t, want, rc.MemoryUsage())

	require.NoError(t, a1.Close())
	require.NoError(t, a2.Close())
	assert.Equal(t, int64(0), rc.MemoryUsage())
}

func TestArray_ParallelTeardown(t *testing.T) {
	a := newArray[int](t,
		WithSegmentBits(4),
		WithResourceLimits(resource.Config{MaxBackgroundWorkers: 4}),
	)

	g := a.Pin()
	for i := uint64(0); i < 1<<12; i += 3 {
		mustGet(t, a, g, i)
	}
	g.Unpin()
	require.Equal(t, 2, a.Height())

	require.NoError(t, a.Close())
	<-a.Done()

	st := a.Stats()
	assert.Equal(t, st.SegmentsPublished, st.SegmentsFreed)
	assert.Equal(t, int64(0), st.BytesInUse)
}

func TestNew_InvalidSegmentBits(t *testing.T) {
	for _, bits := range []int{-1, 0, 17, 64} {
		_, err := New[int](WithSegmentBits(bits))
		var target *ErrInvalidSegmentBits
		require.True(t, errors.As(err, &target), "bits=%d", bits)
		assert.Equal(t, bits, target.Bits)
	}

	for _, bits := range []int{1, 16} {
		a, err := New[int](WithSegmentBits(bits))
		require.NoError(t, err)
		assert.Equal(t, bits, a.SegmentBits())
	}
}
