// Package observability holds the prometheus metrics of the indexer cache.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Flush outcomes used as the status label.
const (
	StatusCommitted = "committed"
	StatusFailed    = "failed"
	StatusFatal     = "fatal"
	StatusSkipped   = "skipped"
)

// Collector holds the flush metrics. Each Collector owns its registry, so
// several orchestrators can live in one process. A nil *Collector records
// nothing.
type Collector struct {
	namespace string
	registry  *prometheus.Registry

	Flushes           *prometheus.CounterVec
	FlushDuration     prometheus.Histogram
	FlushedRecords    *prometheus.CounterVec
	FlushedHeight     prometheus.Gauge
	BackpressureWaits prometheus.Counter
	Rewinds           prometheus.Counter
}

// NewCollector creates a collector with the given metric namespace.
func NewCollector(namespace string) *Collector {
	registry := prometheus.NewRegistry()

	flushes := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "flushes_total",
			Help:      "Total number of flush runs by outcome",
		},
		[]string{"status"},
	)

	flushDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "flush_duration_seconds",
			Help:      "Duration of flush runs in seconds",
			Buckets:   prometheus.DefBuckets,
		},
	)

	flushedRecords := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "flushed_entities_total",
			Help:      "Total number of entities written by committed flushes",
		},
		[]string{"entity"},
	)

	flushedHeight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "flushed_height",
			Help:      "Block height of the last committed flush",
		},
	)

	backpressure := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "backpressure_waits_total",
			Help:      "Total number of times indexing waited for a flush to free capacity",
		},
	)

	rewinds := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "rewinds_total",
			Help:      "Total number of rewinds",
		},
	)

	registry.MustRegister(
		flushes,
		flushDuration,
		flushedRecords,
		flushedHeight,
		backpressure,
		rewinds,
	)

	return &Collector{
		namespace:         namespace,
		registry:          registry,
		Flushes:           flushes,
		FlushDuration:     flushDuration,
		FlushedRecords:    flushedRecords,
		FlushedHeight:     flushedHeight,
		BackpressureWaits: backpressure,
		Rewinds:           rewinds,
	}
}

// Registry returns the registry holding the collector metrics.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// Register adds extra collectors to the registry.
func (c *Collector) Register(cs ...prometheus.Collector) error {
	if c == nil {
		return nil
	}
	for _, col := range cs {
		if err := c.registry.Register(col); err != nil {
			return err
		}
	}
	return nil
}

// WatchState registers a StateCollector reading from read.
func (c *Collector) WatchState(read func() State) error {
	if c == nil {
		return nil
	}
	return c.Register(NewStateCollector(c.namespace, read))
}

// ObserveFlush records one flush run.
func (c *Collector) ObserveFlush(status string, d time.Duration) {
	if c == nil {
		return
	}
	c.Flushes.WithLabelValues(status).Inc()
	c.FlushDuration.Observe(d.Seconds())
}

// AddFlushed records the entities of one entity type written by a flush.
func (c *Collector) AddFlushed(entity string, n int) {
	if c == nil || n <= 0 {
		return
	}
	c.FlushedRecords.WithLabelValues(entity).Add(float64(n))
}

// SetFlushedHeight records the cut of the last committed flush.
func (c *Collector) SetFlushedHeight(h int64) {
	if c == nil {
		return
	}
	c.FlushedHeight.Set(float64(h))
}

// ObserveBackpressure records a wait for capacity.
func (c *Collector) ObserveBackpressure() {
	if c == nil {
		return
	}
	c.BackpressureWaits.Inc()
}

// ObserveRewind records a rewind.
func (c *Collector) ObserveRewind() {
	if c == nil {
		return
	}
	c.Rewinds.Inc()
}
