package growable

import (
	"context"
	"sync/atomic"

	"github.com/hupe1980/growable/epoch"
	"github.com/hupe1980/growable/internal/alloc"
	"github.com/hupe1980/growable/internal/segment"
	"github.com/hupe1980/growable/resource"
)

// head is the published (root, height) pair. It is immutable; growth replaces
// the whole head with a single CAS so that no reader can pair a root with the
// wrong height.
type head[T any] struct {
	root   *segment.Segment[T]
	height int
}

// Array is a lock-free, grow-only tree of segments that maps every uint64
// index to a stable atomic slot.
//
// The array owns its segments but never the elements stored in leaf slots:
// Close releases segments and leaves elements to whoever published them.
type Array[T any] struct {
	head      atomic.Pointer[head[T]]
	width     uint
	alloc     *alloc.Allocator[T]
	resources *resource.Controller
	collector *epoch.Collector
	logger    *Logger
	metrics   MetricsCollector

	closed      atomic.Bool
	growRetries atomic.Uint64
	torn        chan struct{}

	// beforeGrowCAS runs with the candidate root just before the head CAS.
	// Tests use it to publish a competing head.
	beforeGrowCAS func(candidate *segment.Segment[T])
}

// New creates an empty array.
func New[T any](opts ...Option) (*Array[T], error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	width, err := o.width()
	if err != nil {
		return nil, err
	}

	if o.resources == nil {
		o.resources = resource.NewController(resource.Config{})
	}
	if o.collector == nil {
		o.collector = epoch.NewCollector()
	}

	return &Array[T]{
		width:     width,
		alloc:     alloc.New[T](width, o.resources),
		resources: o.resources,
		collector: o.collector,
		logger:    o.logger.WithSegmentBits(width),
		metrics:   o.metricsCollector,
		torn:      make(chan struct{}),
	}, nil
}

// Pin enters a critical section on the array's collector. Slots returned by
// GetOrCreate may be used until the guard is unpinned.
func (a *Array[T]) Pin() *epoch.Guard {
	return a.collector.Pin()
}

// GetOrCreate returns the slot addressing index, building whatever segments
// are needed to reach it. Repeated calls for the same index return the same
// slot. The array never reads or writes the slot's contents.
//
// g must be an active guard from Pin (or from the collector shared through
// WithCollector). GetOrCreate fails only with ErrClosed or
// with an error matching ErrExhausted when the memory budget refuses a segment.
func (a *Array[T]) GetOrCreate(g *epoch.Guard, index uint64) (*atomic.Pointer[T], error) {
	if !g.Active() {
		panic(ErrNilGuard)
	}
	if g.Collector() != a.collector {
		panic(ErrForeignGuard)
	}
	if a.closed.Load() {
		return nil, ErrClosed
	}

	required := segment.RequiredHeight(index, a.width)
	h, err := a.grow(index, required)
	if err != nil {
		return nil, err
	}

	s := h.root
	for level := h.height; level > 0; level-- {
		cell := s.Child(segment.Branch(index, level, a.width))
		child, outcome, err := a.alloc.Install(cell)
		if err != nil {
			return nil, a.exhausted(index, level-1, err)
		}
		switch outcome {
		case alloc.Won:
			a.metrics.RecordPublish(level - 1)
		case alloc.Lost:
			a.metrics.RecordDiscard(level - 1)
			a.logger.LogPublishLost(context.Background(), index, level-1)
		}
		s = child
	}

	return s.Element(segment.Branch(index, 0, a.width)), nil
}

// grow raises the tree until it is at least required levels tall and returns
// the head that satisfies it.
func (a *Array[T]) grow(index uint64, required int) (*head[T], error) {
	for {
		h := a.head.Load()
		if h != nil && h.height >= required {
			return h, nil
		}

		level := required
		if h != nil {
			level = h.height + 1
		}

		root, err := a.alloc.Create()
		if err != nil {
			return nil, a.exhausted(index, level, err)
		}

		// The old root covers [0, 2^((height+1)*bits)), which is branch 0 of
		// the taller tree.
		if h != nil {
			root.Child(0).Store(h.root)
		}

		next := &head[T]{root: root, height: level}
		if a.beforeGrowCAS != nil {
			a.beforeGrowCAS(root)
		}
		if a.head.CompareAndSwap(h, next) {
			a.alloc.Published(root)
			a.metrics.RecordPublish(level)
			if h != nil {
				a.metrics.RecordGrow(level)
				a.logger.LogGrow(context.Background(), h.height, level, required)
			}
			continue
		}

		root.Child(0).Store(nil)
		a.alloc.Discard(root)
		a.growRetries.Add(1)
		a.metrics.RecordDiscard(level)
		a.logger.LogPublishLost(context.Background(), index, level)
	}
}

func (a *Array[T]) exhausted(index uint64, level int, err error) error {
	a.logger.LogExhausted(context.Background(), index, level, err)
	return &exhausted{Index: index, Level: level, cause: err}
}

// Height returns the number of interior levels above the leaves.
// An empty array reports 0.
func (a *Array[T]) Height() int {
	if h := a.head.Load(); h != nil {
		return h.height
	}
	return 0
}

// Capacity returns the number of indices the current tree addresses without
// growing, saturating at math.MaxUint64. An empty array reports 0.
func (a *Array[T]) Capacity() uint64 {
	h := a.head.Load()
	if h == nil {
		return 0
	}
	return segment.Capacity(h.height, a.width)
}

// SegmentBits returns the number of index bits resolved per level.
func (a *Array[T]) SegmentBits() int {
	return int(a.width)
}

// Collector returns the epoch collector guarding the array.
func (a *Array[T]) Collector() *epoch.Collector {
	return a.collector
}

// Stats is a snapshot of an array's shape and segment accounting.
type Stats struct {
	Height      int
	SegmentBits int
	Capacity    uint64

	SegmentsCreated   uint64
	SegmentsPublished uint64
	SegmentsDiscarded uint64
	SegmentsFreed     uint64
	BytesInUse        int64

	GrowRetries uint64
	Closed      bool
}

// Stats returns a snapshot of the array's counters.
func (a *Array[T]) Stats() Stats {
	st := a.alloc.Stats()
	return Stats{
		Height:            a.Height(),
		SegmentBits:       int(a.width),
		Capacity:          a.Capacity(),
		SegmentsCreated:   st.Created,
		SegmentsPublished: st.Published,
		SegmentsDiscarded: st.Discarded,
		SegmentsFreed:     st.Freed,
		BytesInUse:        st.BytesInUse,
		GrowRetries:       a.growRetries.Load(),
		Closed:            a.closed.Load(),
	}
}
