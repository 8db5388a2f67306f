package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"lazyclone/pkg/memory"
)

// StatsSource is anything that can report runtime statistics. *memory.Runtime
// implements it.
type StatsSource interface {
	Stats() memory.Stats
}

type statDesc struct {
	desc  *prometheus.Desc
	kind  prometheus.ValueType
	value func(memory.Stats) float64
}

// Collector exports runtime statistics as Prometheus metrics. Values are
// read from the source on every scrape.
type Collector struct {
	src   StatsSource
	descs []statDesc
}

// NewCollector returns a collector reading from src. Metric names are
// prefixed with namespace.
func NewCollector(namespace string, src StatsSource, labels prometheus.Labels) *Collector {
	c := &Collector{src: src}
	add := func(name, help string, kind prometheus.ValueType, value func(memory.Stats) float64) {
		c.descs = append(c.descs, statDesc{
			desc:  prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, nil, labels),
			kind:  kind,
			value: value,
		})
	}
	counter := prometheus.CounterValue
	gauge := prometheus.GaugeValue

	add("objects_allocated_total", "Objects bound to a world.", counter,
		func(s memory.Stats) float64 { return float64(s.Allocated) })
	add("objects_destroyed_total", "Objects whose fields have been released.", counter,
		func(s memory.Stats) float64 { return float64(s.Destroyed) })
	add("objects_deallocated_total", "Objects whose storage has been released.", counter,
		func(s memory.Stats) float64 { return float64(s.Deallocated) })
	add("objects_collected_total", "Objects reclaimed by the cycle collector.", counter,
		func(s memory.Stats) float64 { return float64(s.Collected) })
	add("collections_total", "Cycle collections run.", counter,
		func(s memory.Stats) float64 { return float64(s.Collections) })
	add("lazy_copies_total", "Objects copied on first write into a world.", counter,
		func(s memory.Stats) float64 { return float64(s.LazyCopies) })
	add("deep_copies_total", "Eager deep copies.", counter,
		func(s memory.Stats) float64 { return float64(s.DeepCopies) })
	add("thaws_total", "Frozen objects reused in place.", counter,
		func(s memory.Stats) float64 { return float64(s.Thaws) })
	add("worlds_created_total", "Worlds created.", counter,
		func(s memory.Stats) float64 { return float64(s.WorldsCreated) })
	add("worlds_destroyed_total", "Worlds destroyed.", counter,
		func(s memory.Stats) float64 { return float64(s.WorldsDestroyed) })
	add("worlds_live", "Worlds currently alive.", gauge,
		func(s memory.Stats) float64 { return float64(s.LiveWorlds) })
	add("possible_roots", "Objects buffered for the next cycle collection.", gauge,
		func(s memory.Stats) float64 { return float64(s.PossibleRoots) })
	return c
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range c.descs {
		ch <- d.desc
	}
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.src.Stats()
	for _, d := range c.descs {
		ch <- prometheus.MustNewConstMetric(d.desc, d.kind, d.value(s))
	}
}
