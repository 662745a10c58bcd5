package indexstore

import (
	"github.com/goliatone/go-indexer-cache/cache"
	"github.com/goliatone/go-indexer-cache/entity"
	"github.com/goliatone/go-indexer-cache/export"
	"github.com/goliatone/go-indexer-cache/internal/observability"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const tracerName = "github.com/goliatone/go-indexer-cache/indexstore"

type options struct {
	logger    *zap.Logger
	metrics   *observability.Collector
	tracer    trace.TracerProvider
	reads     cache.Service[entity.Record]
	keys      cache.KeySerializer
	exporters map[string][]export.Exporter
}

func newOptions(opts []Option) options {
	o := options{
		logger:    zap.NewNop(),
		tracer:    otel.GetTracerProvider(),
		exporters: map[string][]export.Exporter{},
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Option configures a Cached or Direct store.
type Option func(*options)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMetrics records flush metrics on col.
func WithMetrics(col *observability.Collector) Option {
	return func(o *options) {
		o.metrics = col
	}
}

// WithTracerProvider sets the provider of flush and rewind spans. The global
// provider is used by default.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) {
		if tp != nil {
			o.tracer = tp
		}
	}
}

// WithReadCache shares a read cache instead of building one from
// Config.ReadCache. Direct stores ignore it.
func WithReadCache(svc cache.Service[entity.Record]) Option {
	return func(o *options) {
		o.reads = svc
	}
}

// WithKeySerializer sets how read cache keys are built.
func WithKeySerializer(keys cache.KeySerializer) Option {
	return func(o *options) {
		o.keys = keys
	}
}

// WithExporter adds exporters receiving the rows written for an entity.
func WithExporter(entityName string, exporters ...export.Exporter) Option {
	return func(o *options) {
		o.exporters[entityName] = append(o.exporters[entityName], exporters...)
	}
}
