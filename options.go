package growable

import (
	"github.com/hupe1980/growable/epoch"
	"github.com/hupe1980/growable/internal/conv"
	"github.com/hupe1980/growable/internal/segment"
	"github.com/hupe1980/growable/resource"
)

// DefaultSegmentBits is the default segment width: 1024 cells per segment.
const DefaultSegmentBits = 10

type options struct {
	segmentBits      int
	logger           *Logger
	metricsCollector MetricsCollector
	resources        *resource.Controller
	collector        *epoch.Collector
}

func defaultOptions() options {
	return options{
		segmentBits:      DefaultSegmentBits,
		logger:           NoopLogger(),
		metricsCollector: NoopMetricsCollector{},
	}
}

// Option configures New.
type Option func(*options)

// WithSegmentBits sets the number of index bits resolved per tree level.
// Each segment holds 1<<bits cells. Valid range is [1, 16].
func WithSegmentBits(bits int) Option {
	return func(o *options) {
		o.segmentBits = bits
	}
}

// WithLogger sets the logger. If nil is passed, logging is disabled.
func WithLogger(l *Logger) Option {
	return func(o *options) {
		if l == nil {
			l = NoopLogger()
		}
		o.logger = l
	}
}

// WithMetricsCollector sets the metrics collector.
// If nil is passed, NoopMetricsCollector is used.
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		if mc == nil {
			mc = NoopMetricsCollector{}
		}
		o.metricsCollector = mc
	}
}

// WithResourceLimits charges segment memory against a controller built from cfg.
//
// Example:
//
//	arr, _ := growable.New[node](growable.WithResourceLimits(resource.Config{
//	    MemoryLimitBytes:     64 << 20,
//	    MaxBackgroundWorkers: 4,
//	}))
func WithResourceLimits(cfg resource.Config) Option {
	return func(o *options) {
		o.resources = resource.NewController(cfg)
	}
}

// WithResourceController charges segment memory against rc, which may be
// shared between arrays.
func WithResourceController(rc *resource.Controller) Option {
	return func(o *options) {
		o.resources = rc
	}
}

// WithCollector uses c for guards and deferred teardown instead of a private
// collector. Arrays backing the same table usually share one collector so a
// single guard covers all of them.
func WithCollector(c *epoch.Collector) Option {
	return func(o *options) {
		o.collector = c
	}
}

func (o *options) width() (uint, error) {
	w, err := conv.IntToUint(o.segmentBits)
	if err != nil {
		return 0, &ErrInvalidSegmentBits{Bits: o.segmentBits, cause: err}
	}
	if w < segment.MinBits || w > segment.MaxBits {
		return 0, &ErrInvalidSegmentBits{Bits: o.segmentBits}
	}
	return w, nil
}
