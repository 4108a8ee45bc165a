package pool

import (
	"github.com/VictoriaMetrics/metrics"

	"github.com/joshuapare/pheap/pool/alloc"
	"github.com/joshuapare/pheap/pool/dirty"
)

// Option configures Open.
type Option func(*options)

type options struct {
	flush      dirty.FlushMode
	classes    alloc.SizeClassConfig
	metricsSet *metrics.Set
}

func defaultOptions() options {
	return options{
		flush:   dirty.FlushAuto,
		classes: alloc.DefaultConfig,
	}
}

// WithFlushMode selects the durability of commits (default dirty.FlushAuto).
func WithFlushMode(mode dirty.FlushMode) Option {
	return func(o *options) { o.flush = mode }
}

// WithSizeClasses overrides the allocator size classes. A pool must always
// be reopened with the configuration it was created with.
func WithSizeClasses(cfg alloc.SizeClassConfig) Option {
	return func(o *options) { o.classes = cfg }
}

// WithMetricsSet registers the pool counters in set instead of a private set.
func WithMetricsSet(set *metrics.Set) Option {
	return func(o *options) { o.metricsSet = set }
}
