package pool

import (
	"fmt"
	"io"
	"sync/atomic"

	"github.com/VictoriaMetrics/metrics"
)

// poolMetrics are the counters exported for one open pool.
type poolMetrics struct {
	set       *metrics.Set
	commits   *metrics.Counter
	aborts    *metrics.Counter
	walBytes  *metrics.Counter
	replays   *metrics.Counter
	allocated atomic.Uint64
}

func newPoolMetrics(set *metrics.Set, path string) *poolMetrics {
	if set == nil {
		set = metrics.NewSet()
	}
	m := &poolMetrics{set: set}
	name := func(base string) string { return fmt.Sprintf("%s{pool=%q}", base, path) }
	m.commits = set.NewCounter(name("pheap_tx_commits_total"))
	m.aborts = set.NewCounter(name("pheap_tx_aborts_total"))
	m.walBytes = set.NewCounter(name("pheap_wal_bytes_total"))
	m.replays = set.NewCounter(name("pheap_wal_replays_total"))
	set.NewGauge(name("pheap_pool_allocated_bytes"), func() float64 {
		return float64(m.allocated.Load())
	})
	return m
}

func (m *poolMetrics) unregister(path string) {
	for _, base := range []string{
		"pheap_tx_commits_total",
		"pheap_tx_aborts_total",
		"pheap_wal_bytes_total",
		"pheap_wal_replays_total",
		"pheap_pool_allocated_bytes",
	} {
		m.set.UnregisterMetric(fmt.Sprintf("%s{pool=%q}", base, path))
	}
}

// Metrics returns the metric set holding this pool's counters.
func (p *Pool) Metrics() *metrics.Set { return p.metrics.set }

// WritePrometheus writes the pool counters in Prometheus text format.
func (p *Pool) WritePrometheus(w io.Writer) { p.metrics.set.WritePrometheus(w) }
