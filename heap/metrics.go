package heap

import (
	"fmt"

	"github.com/VictoriaMetrics/metrics"
)

var heapMetricNames = []string{
	"pheap_objects_created_total",
	"pheap_objects_destroyed_total",
	"pheap_collections_total",
	"pheap_objects_collected_total",
}

type heapMetrics struct {
	set         *metrics.Set
	path        string
	created     *metrics.Counter
	destroyed   *metrics.Counter
	collections *metrics.Counter
	collected   *metrics.Counter
}

func newHeapMetrics(set *metrics.Set, path string) *heapMetrics {
	if set == nil {
		set = metrics.NewSet()
	}
	m := &heapMetrics{set: set, path: path}
	m.created = set.GetOrCreateCounter(m.name(heapMetricNames[0]))
	m.destroyed = set.GetOrCreateCounter(m.name(heapMetricNames[1]))
	m.collections = set.GetOrCreateCounter(m.name(heapMetricNames[2]))
	m.collected = set.GetOrCreateCounter(m.name(heapMetricNames[3]))
	return m
}

func (m *heapMetrics) name(base string) string {
	return fmt.Sprintf("%s{pool=%q}", base, m.path)
}

func (m *heapMetrics) unregister() {
	for _, base := range heapMetricNames {
		m.set.UnregisterMetric(m.name(base))
	}
}
