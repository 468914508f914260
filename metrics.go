package growable

import (
	"sync/atomic"
	"time"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems like Prometheus.
//
// Levels count up from the leaves: level 0 is a leaf segment, level h is the
// root of a height-h tree.
type MetricsCollector interface {
	// RecordGrow is called after a successful growth step raised the tree to height.
	RecordGrow(height int)

	// RecordPublish is called when a newly allocated segment was linked at level.
	RecordPublish(level int)

	// RecordDiscard is called when an allocation for level lost its publish race.
	RecordDiscard(level int)

	// RecordTeardown is called once after Close released freed segments.
	RecordTeardown(freed int, duration time.Duration)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
// Use this when metrics collection is not needed.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordGrow(int)                    {}
func (NoopMetricsCollector) RecordPublish(int)                 {}
func (NoopMetricsCollector) RecordDiscard(int)                 {}
func (NoopMetricsCollector) RecordTeardown(int, time.Duration) {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	GrowCount          atomic.Int64
	MaxHeight          atomic.Int64
	PublishCount       atomic.Int64
	LeafPublishCount   atomic.Int64
	DiscardCount       atomic.Int64
	TeardownCount      atomic.Int64
	TeardownFreed      atomic.Int64
	TeardownTotalNanos atomic.Int64
}

// RecordGrow implements MetricsCollector.
func (b *BasicMetricsCollector) RecordGrow(height int) {
	b.GrowCount.Add(1)
	for {
		cur := b.MaxHeight.Load()
		if int64(height) <= cur || b.MaxHeight.CompareAndSwap(cur, int64(height)) {
			return
		}
	}
}

// RecordPublish implements MetricsCollector.
func (b *BasicMetricsCollector) RecordPublish(level int) {
	b.PublishCount.Add(1)
	if level == 0 {
		b.LeafPublishCount.Add(1)
	}
}

// RecordDiscard implements MetricsCollector.
func (b *BasicMetricsCollector) RecordDiscard(int) {
	b.DiscardCount.Add(1)
}

// RecordTeardown implements MetricsCollector.
func (b *BasicMetricsCollector) RecordTeardown(freed int, duration time.Duration) {
	b.TeardownCount.Add(1)
	b.TeardownFreed.Add(int64(freed))
	b.TeardownTotalNanos.Add(duration.Nanoseconds())
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		GrowCount:          b.GrowCount.Load(),
		MaxHeight:          b.MaxHeight.Load(),
		PublishCount:       b.PublishCount.Load(),
		LeafPublishCount:   b.LeafPublishCount.Load(),
		DiscardCount:       b.DiscardCount.Load(),
		TeardownCount:      b.TeardownCount.Load(),
		TeardownFreed:      b.TeardownFreed.Load(),
		TeardownTotalNanos: b.TeardownTotalNanos.Load(),
	}
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	GrowCount          int64
	MaxHeight          int64
	PublishCount       int64
	LeafPublishCount   int64
	DiscardCount       int64
	TeardownCount      int64
	TeardownFreed      int64
	TeardownTotalNanos int64
}
