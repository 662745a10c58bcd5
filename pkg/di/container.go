package di

import (
	"context"
	"database/sql"
	"fmt"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-indexer-cache/cache"
	"github.com/goliatone/go-indexer-cache/entity"
	"github.com/goliatone/go-indexer-cache/export"
	"github.com/goliatone/go-indexer-cache/indexstore"
	"github.com/goliatone/go-indexer-cache/internal/observability"
	"github.com/goliatone/go-indexer-cache/store"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Container wires the database, the read cache, metrics and the index store
// selected by Config.Store.Disabled.
type Container struct {
	config        Config
	logger        *zap.Logger
	db            *bun.DB
	ownsDB        bool
	store         *store.Store
	cacheService  cache.Service[entity.Record]
	keySerializer cache.KeySerializer
	metrics       *observability.Collector
	index         indexstore.Store
}

type containerOptions struct {
	logger    *zap.Logger
	db        *bun.DB
	tracer    trace.TracerProvider
	exporters map[string][]export.Exporter
}

// Option configures a Container.
type Option func(*containerOptions)

// WithLogger sets the logger shared by every component.
func WithLogger(l *zap.Logger) Option {
	return func(o *containerOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithDB uses db instead of opening Config.Database. The container does not
// close it.
func WithDB(db *bun.DB) Option {
	return func(o *containerOptions) {
		o.db = db
	}
}

// WithTracerProvider sets the provider of flush and rewind spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *containerOptions) {
		o.tracer = tp
	}
}

// WithExporter adds exporters for an entity type.
func WithExporter(entityName string, exporters ...export.Exporter) Option {
	return func(o *containerOptions) {
		o.exporters[entityName] = append(o.exporters[entityName], exporters...)
	}
}

// NewContainer opens the database, creates the tables of schemas and builds
// the index store.
func NewContainer(ctx context.Context, config Config, schemas []*entity.Schema, opts ...Option) (*Container, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	o := containerOptions{logger: zap.NewNop(), exporters: map[string][]export.Exporter{}}
	for _, opt := range opts {
		opt(&o)
	}

	c := &Container{
		config:        config,
		logger:        o.logger,
		db:            o.db,
		keySerializer: cache.NewDefaultKeySerializer(),
		metrics:       observability.NewCollector(config.MetricsNamespace),
	}
	if c.db == nil {
		db, err := OpenDB(config.Database)
		if err != nil {
			return nil, err
		}
		c.db, c.ownsDB = db, true
	}

	if err := c.build(ctx, schemas, o); err != nil {
		c.closeDB()
		return nil, err
	}
	return c, nil
}

func (c *Container) build(ctx context.Context, schemas []*entity.Schema, o containerOptions) error {
	st, err := store.New(c.db,
		store.WithLogger(c.logger),
		store.WithMetadataTable(c.config.MetadataTable),
	)
	if err != nil {
		return err
	}
	if err := st.EnsureSchema(ctx, schemas...); err != nil {
		return err
	}
	c.store = st

	indexOpts := []indexstore.Option{
		indexstore.WithLogger(c.logger),
		indexstore.WithMetrics(c.metrics),
		indexstore.WithTracerProvider(o.tracer),
		indexstore.WithKeySerializer(c.keySerializer),
	}
	for name, exps := range o.exporters {
		indexOpts = append(indexOpts, indexstore.WithExporter(name, exps...))
	}

	if c.config.Store.Disabled {
		c.index, err = indexstore.NewDirect(st, schemas, indexOpts...)
		if err != nil {
			return err
		}
		c.logger.Info("store cache disabled, writing directly")
		return nil
	}

	if c.cacheService, err = cache.NewService[entity.Record](c.config.Store.ReadCache); err != nil {
		return err
	}
	indexOpts = append(indexOpts, indexstore.WithReadCache(c.cacheService))
	cached, err := indexstore.NewCached(st, c.config.Store, schemas, indexOpts...)
	if err != nil {
		return err
	}
	cached.Start(ctx)
	c.index = cached
	return nil
}

// OpenDB opens a bun database for cfg.
func OpenDB(cfg DatabaseConfig) (*bun.DB, error) {
	if err := cfg.Validate(); err != nil {
		return nil, goerrors.FromOzzoValidation(err, "invalid database config")
	}

	sqldb, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryExternal, fmt.Sprintf("open %s database", cfg.Driver))
	}
	if cfg.MaxOpenConns > 0 {
		sqldb.SetMaxOpenConns(cfg.MaxOpenConns)
	}

	switch cfg.Driver {
	case DriverPostgres:
		return bun.NewDB(sqldb, pgdialect.New()), nil
	default:
		return bun.NewDB(sqldb, sqlitedialect.New()), nil
	}
}

// Store returns the index store handlers write to.
func (c *Container) Store() indexstore.Store {
	return c.index
}

// Cached returns the caching store, or false when the cache is disabled.
func (c *Container) Cached() (*indexstore.Cached, bool) {
	cached, ok := c.index.(*indexstore.Cached)
	return cached, ok
}

// Direct returns the direct store, or false when the cache is enabled.
func (c *Container) Direct() (*indexstore.Direct, bool) {
	direct, ok := c.index.(*indexstore.Direct)
	return direct, ok
}

// Backend returns the database store below the index store.
func (c *Container) Backend() *store.Store {
	return c.store
}

// CacheService returns the read cache, nil when the cache is disabled.
func (c *Container) CacheService() cache.Service[entity.Record] {
	return c.cacheService
}

// KeySerializer returns the serializer used for read cache keys.
func (c *Container) KeySerializer() cache.KeySerializer {
	return c.keySerializer
}

// Config returns a copy of the configuration used by this container.
func (c *Container) Config() Config {
	return c.config
}

// Close persists pending changes and closes the database when the container
// opened it.
func (c *Container) Close(ctx context.Context) error {
	err := c.index.Shutdown(ctx)
	if cerr := c.closeDB(); err == nil {
		err = cerr
	}
	return err
}

func (c *Container) closeDB() error {
	if !c.ownsDB || c.db == nil {
		return nil
	}
	if err := c.db.Close(); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryExternal, "close database")
	}
	return nil
}
