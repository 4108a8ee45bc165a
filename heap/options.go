package heap

import (
	"fmt"
	"os"

	"github.com/VictoriaMetrics/metrics"

	"github.com/joshuapare/pheap/internal/logger"
	"github.com/joshuapare/pheap/pool"
)

// DefaultCollectThreshold is the number of new cycle candidates after which
// an update triggers a collection.
const DefaultCollectThreshold = 1024

// CompareFunc orders two aggregate keys.
type CompareFunc func(tx *Tx, a, b Ref) (int, error)

// Reconstructor builds an application value for a record. It is called by
// Tx.Reconstruct after the record has been retained.
type Reconstructor func(ref Ref, kind Kind, className string) (any, error)

// Option configures Open.
type Option func(*options)

type options struct {
	pool             []pool.Option
	onFatal          func(error)
	compare          CompareFunc
	reconstruct      Reconstructor
	collectThreshold int
	metrics          *metrics.Set
}

func defaultOptions() options {
	return options{
		onFatal:          exitFatal,
		collectThreshold: DefaultCollectThreshold,
	}
}

// exitFatal reports an unrecoverable heap error and terminates the process.
func exitFatal(err error) {
	logger.Error("fatal heap error", "error", err)
	fmt.Fprintf(os.Stderr, "pheap: fatal: %v\n", err)
	os.Exit(2)
}

// WithPoolOptions passes options through to pool.Open.
func WithPoolOptions(opts ...pool.Option) Option {
	return func(o *options) { o.pool = append(o.pool, opts...) }
}

// WithOnFatal replaces the fatal error handler. If fn returns, the failing
// operation aborts its transaction with the error instead of exiting.
func WithOnFatal(fn func(error)) Option {
	return func(o *options) { o.onFatal = fn }
}

// WithComparator sets the ordering used for aggregate keys.
func WithComparator(fn CompareFunc) Option {
	return func(o *options) { o.compare = fn }
}

// WithReconstructor sets the callback used by Tx.Reconstruct.
func WithReconstructor(fn Reconstructor) Option {
	return func(o *options) { o.reconstruct = fn }
}

// WithCollectThreshold sets the automatic collection trigger. Zero disables
// automatic collection.
func WithCollectThreshold(n int) Option {
	return func(o *options) { o.collectThreshold = n }
}

// WithMetricsSet registers the heap counters (and the pool's) in set.
func WithMetricsSet(set *metrics.Set) Option {
	return func(o *options) {
		o.metrics = set
		o.pool = append(o.pool, pool.WithMetricsSet(set))
	}
}
