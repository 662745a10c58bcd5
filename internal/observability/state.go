package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// State is a point in time view of the cache, read on every scrape.
type State struct {
	Dirty         map[string]int64
	MetadataDirty int
	FlushRunning  bool
	FlushQueued   bool
}

// StateCollector exports State as gauges.
type StateCollector struct {
	read func() State

	dirty         *prometheus.Desc
	metadataDirty *prometheus.Desc
	flushRunning  *prometheus.Desc
	flushQueued   *prometheus.Desc
}

// NewStateCollector creates a collector calling read on every scrape.
func NewStateCollector(namespace string, read func() State) *StateCollector {
	name := func(n string) string {
		return prometheus.BuildFQName(namespace, "cache", n)
	}
	return &StateCollector{
		read: read,

		dirty: prometheus.NewDesc(
			name("dirty_entities"),
			"Number of entities with changes not yet flushed",
			[]string{"entity"}, nil,
		),
		metadataDirty: prometheus.NewDesc(
			name("dirty_metadata_keys"),
			"Number of metadata keys with changes not yet flushed",
			nil, nil,
		),
		flushRunning: prometheus.NewDesc(
			name("flush_running"),
			"1 while a flush is running",
			nil, nil,
		),
		flushQueued: prometheus.NewDesc(
			name("flush_queued"),
			"1 while a flush is waiting for the running one",
			nil, nil,
		),
	}
}

func (sc *StateCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- sc.dirty
	ch <- sc.metadataDirty
	ch <- sc.flushRunning
	ch <- sc.flushQueued
}

func (sc *StateCollector) Collect(ch chan<- prometheus.Metric) {
	s := sc.read()

	for name, n := range s.Dirty {
		ch <- prometheus.MustNewConstMetric(sc.dirty, prometheus.GaugeValue, float64(n), name)
	}
	ch <- prometheus.MustNewConstMetric(sc.metadataDirty, prometheus.GaugeValue, float64(s.MetadataDirty))
	ch <- prometheus.MustNewConstMetric(sc.flushRunning, prometheus.GaugeValue, boolValue(s.FlushRunning))
	ch <- prometheus.MustNewConstMetric(sc.flushQueued, prometheus.GaugeValue, boolValue(s.FlushQueued))
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
