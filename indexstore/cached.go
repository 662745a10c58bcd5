package indexstore

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-indexer-cache/cache"
	"github.com/goliatone/go-indexer-cache/entity"
	"github.com/goliatone/go-indexer-cache/internal/observability"
	"github.com/goliatone/go-indexer-cache/metadata"
	"github.com/goliatone/go-indexer-cache/repositorycache"
	"github.com/goliatone/go-indexer-cache/store"
	"github.com/puzpuzpuz/xsync/v3"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Cached buffers every write in memory and persists it with background
// flushes. All entity caches and the metadata cache share one gate, so a
// flush cuts them at the same height, and one operation index.
type Cached struct {
	cfg     Config
	store   *store.Store
	schemas map[string]*entity.Schema
	opts    options
	logger  *zap.Logger
	tracer  trace.Tracer

	gate   *sync.RWMutex
	ops    atomic.Int64
	caches *xsync.MapOf[string, *repositorycache.EntityCache]
	meta   *metadata.Cache

	flushMu   sync.Mutex
	running   *FlushResult
	next      *FlushResult
	nextForce bool

	fatalMu sync.Mutex
	fatal   error

	closed    atomic.Bool
	processed atomic.Int64
	flushed   atomic.Int64
	commits   *xsync.Counter
	failures  *xsync.Counter

	startOnce sync.Once
	stopOnce  sync.Once
	stop      chan struct{}
}

// NewCached creates the caching store for schemas on top of st.
func NewCached(st *store.Store, cfg Config, schemas []*entity.Schema, opts ...Option) (*Cached, error) {
	if st == nil {
		return nil, goerrors.New("cached store requires a store", goerrors.CategoryBadInput)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	index, err := schemaIndex(schemas)
	if err != nil {
		return nil, err
	}

	o := newOptions(opts)
	if o.reads == nil {
		if o.reads, err = cache.NewService[entity.Record](cfg.ReadCache); err != nil {
			return nil, err
		}
	}

	c := &Cached{
		cfg:      cfg,
		store:    st,
		schemas:  index,
		opts:     o,
		logger:   o.logger.Named("indexstore"),
		tracer:   o.tracer.Tracer(tracerName),
		gate:     &sync.RWMutex{},
		caches:   xsync.NewMapOf[string, *repositorycache.EntityCache](),
		commits:  xsync.NewCounter(),
		failures: xsync.NewCounter(),
		stop:     make(chan struct{}),
	}
	c.meta = metadata.New(st, st.DB(), metadata.WithGate(c.gate), metadata.WithLogger(c.logger))
	if err := o.metrics.WatchState(c.state); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "register cache state metrics")
	}
	return c, nil
}

func (c *Cached) nextOp() int64 { return c.ops.Add(1) }

// Entity returns the store of the named entity type. Its cache is created on
// first use.
func (c *Cached) Entity(name string) (EntityStore, error) {
	ec, err := c.entityCache(name)
	if err != nil {
		return nil, err
	}
	return cachedEntity{ec}, nil
}

func (c *Cached) entityCache(name string) (*repositorycache.EntityCache, error) {
	if ec, ok := c.caches.Load(name); ok {
		return ec, nil
	}
	sc, ok := c.schemas[name]
	if !ok {
		return nil, unknownEntity(name)
	}

	var createErr error
	ec, _ := c.caches.LoadOrCompute(name, func() *repositorycache.EntityCache {
		ec, err := repositorycache.New(sc, c.store, c.store.DB(),
			repositorycache.WithGate(c.gate),
			repositorycache.WithOperationIndex(c.nextOp),
			repositorycache.WithReadCache(c.opts.reads),
			repositorycache.WithKeySerializer(c.opts.keys),
			repositorycache.WithExporter(c.opts.exporters[name]...),
			repositorycache.WithLogger(c.logger),
		)
		if err != nil {
			createErr = err
		}
		return ec
	})
	if createErr != nil {
		c.caches.Delete(name)
		return nil, createErr
	}
	return ec, nil
}

// Metadata returns the metadata store.
func (c *Cached) Metadata() MetadataStore { return cachedMetadata{c.meta} }

// Dirty returns the number of entities and metadata keys waiting to be
// flushed.
func (c *Cached) Dirty() int64 {
	n := int64(c.meta.Dirty())
	c.caches.Range(func(_ string, ec *repositorycache.EntityCache) bool {
		n += ec.Dirty()
		return true
	})
	return n
}

// IsFlushable reports whether enough changes are pending to start a flush.
func (c *Cached) IsFlushable() bool {
	return c.Dirty() >= int64(c.cfg.FlushThreshold)
}

func (c *Cached) fatalErr() error {
	c.fatalMu.Lock()
	defer c.fatalMu.Unlock()
	return c.fatal
}

func (c *Cached) setFatal(err error) {
	c.fatalMu.Lock()
	defer c.fatalMu.Unlock()
	if c.fatal == nil {
		c.fatal = err
	}
}

// FlushData starts a flush unless one is running, in which case the caller
// joins the single queued run that starts when the running one ends. Without
// force a run only starts when IsFlushable holds at that time.
func (c *Cached) FlushData(force bool) *FlushResult {
	if err := c.fatalErr(); err != nil {
		return completedResult(err)
	}
	if c.closed.Load() {
		return completedResult(ErrClosed)
	}

	c.flushMu.Lock()
	defer c.flushMu.Unlock()

	if c.running == nil {
		if !force && !c.IsFlushable() {
			return completedResult(nil)
		}
		c.running = newFlushResult()
		go c.run(c.running)
		return c.running
	}
	if c.next == nil {
		c.next = newFlushResult()
	}
	c.nextForce = c.nextForce || force
	return c.next
}

func (c *Cached) run(r *FlushResult) {
	height, entities, skipped, err := c.flush(context.Background())
	r.finish(height, entities, skipped, err)

	c.flushMu.Lock()
	defer c.flushMu.Unlock()

	c.running = nil
	next, force := c.next, c.nextForce
	c.next, c.nextForce = nil, false
	if next == nil {
		return
	}
	if err := c.fatalErr(); err != nil {
		next.finish(0, 0, false, err)
		return
	}
	if !force && !c.IsFlushable() {
		next.finish(0, 0, true, nil)
		return
	}
	c.running = next
	go c.run(next)
}

type entitySnapshot struct {
	cache *repositorycache.EntityCache
	snap  *repositorycache.Snapshot
}

// flush persists every change up to the last processed height in one
// transaction.
func (c *Cached) flush(ctx context.Context) (int64, int, bool, error) {
	ctx, span := c.tracer.Start(ctx, "indexstore.Flush", trace.WithSpanKind(trace.SpanKindInternal))
	defer span.End()
	start := time.Now()

	c.gate.Lock()
	v, ok := c.meta.Pending(metadata.LastProcessedHeight)
	if !ok {
		c.gate.Unlock()
		span.SetAttributes(attribute.Bool("flush.skipped", true))
		c.opts.metrics.ObserveFlush(observability.StatusSkipped, time.Since(start))
		return 0, 0, true, nil
	}
	cut, err := toHeight(v)
	if err != nil {
		c.gate.Unlock()
		return c.failed(span, start, 0, err)
	}

	var snaps []entitySnapshot
	c.caches.Range(func(_ string, ec *repositorycache.EntityCache) bool {
		snaps = append(snaps, entitySnapshot{cache: ec, snap: ec.Snapshot(cut)})
		return true
	})
	msnap, err := c.meta.Snapshot(cut)
	c.gate.Unlock()
	if err != nil {
		return c.failed(span, start, cut, err)
	}

	entities := 0
	for _, s := range snaps {
		entities += s.snap.Len()
	}
	span.SetAttributes(attribute.Int64("flush.height", cut), attribute.Int("flush.entities", entities))

	settled := false
	err = c.store.RunInTx(ctx, func(ctx context.Context, tx *store.Tx) error {
		tx.AfterCommit(func() {
			settled = true
			for _, s := range snaps {
				s.cache.Clear(ctx, s.snap)
			}
			c.meta.Clear(msnap)
		})
		tx.AfterRollback(func() {
			settled = true
			c.meta.Restore(msnap)
		})

		for _, s := range snaps {
			if err := s.cache.Flush(ctx, tx, s.snap, cut); err != nil {
				return err
			}
		}
		return c.meta.Flush(ctx, tx, msnap, cut)
	})
	if err != nil {
		if !settled {
			c.meta.Restore(msnap)
		}
		return c.failed(span, start, cut, err)
	}

	c.commits.Inc()
	c.flushed.Store(cut)
	c.opts.metrics.SetFlushedHeight(cut)
	for _, s := range snaps {
		c.opts.metrics.AddFlushed(s.snap.Entity, s.snap.Len())
	}
	c.opts.metrics.ObserveFlush(observability.StatusCommitted, time.Since(start))
	c.logger.Info("flushed",
		zap.Int64("height", cut),
		zap.Int("records", entities),
		zap.Duration("duration", time.Since(start)),
	)
	return cut, entities, false, nil
}

func (c *Cached) failed(span trace.Span, start time.Time, cut int64, err error) (int64, int, bool, error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, "flush failed")

	if IsFatal(err) {
		c.setFatal(err)
		c.opts.metrics.ObserveFlush(observability.StatusFatal, time.Since(start))
		c.logger.Error("flush failed, cache state is inconsistent", zap.Int64("height", cut), zap.Error(err))
		return cut, 0, false, err
	}
	c.failures.Inc()
	c.opts.metrics.ObserveFlush(observability.StatusFailed, time.Since(start))
	c.logger.Warn("flush failed, changes stay pending", zap.Int64("height", cut), zap.Error(err))
	return cut, 0, false, err
}

func toHeight(v any) (int64, error) {
	n, err := entity.Coerce(entity.Int, v)
	if err != nil || n == nil {
		return 0, goerrors.New("last processed height is not an integer", goerrors.CategoryInternal).
			WithSeverity(goerrors.SeverityCritical)
	}
	return n.(int64), nil
}

// FlushAndWaitForCapacity starts a flush when IsFlushable holds or force is
// set, and waits for it only while the dirty count is at or above
// Config.UpperLimit.
func (c *Cached) FlushAndWaitForCapacity(ctx context.Context, force bool) error {
	if err := c.fatalErr(); err != nil {
		return err
	}
	if !force && !c.IsFlushable() {
		return nil
	}
	dirty := c.Dirty()
	r := c.FlushData(force)
	if dirty < int64(c.cfg.UpperLimit) {
		return nil
	}

	c.opts.metrics.ObserveBackpressure()
	c.logger.Debug("waiting for flush capacity", zap.Int64("dirty", dirty), zap.Int("limit", c.cfg.UpperLimit))
	return r.Wait(ctx)
}

// ApplyPendingChanges marks height as processed and flushes as needed. When
// final is set it waits until everything up to height is persisted.
func (c *Cached) ApplyPendingChanges(ctx context.Context, height int64, final bool) error {
	if c.closed.Load() {
		return ErrClosed
	}
	if err := c.fatalErr(); err != nil {
		return err
	}
	if err := c.meta.Set(metadata.LastProcessedHeight, height); err != nil {
		return err
	}
	if err := c.meta.Set(metadata.LastProcessedTimestamp, time.Now().UnixMilli()); err != nil {
		return err
	}
	if err := c.meta.SetIncrement(metadata.ProcessedBlockCount, 1); err != nil {
		return err
	}
	c.processed.Store(height)

	if final {
		return c.FlushData(true).Wait(ctx)
	}
	return c.FlushAndWaitForCapacity(ctx, false)
}

// Start flushes every Config.FlushInterval while there are pending changes,
// until ctx is done or Shutdown is called.
func (c *Cached) Start(ctx context.Context) {
	if c.cfg.FlushInterval <= 0 {
		return
	}
	c.startOnce.Do(func() {
		go func() {
			ticker := time.NewTicker(c.cfg.FlushInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-c.stop:
					return
				case <-ticker.C:
					if c.Dirty() > 0 {
						c.FlushData(true)
					}
				}
			}
		}()
	})
}

// Shutdown stops interval flushes and persists every processed change,
// waiting at most Config.ShutdownTimeout.
func (c *Cached) Shutdown(ctx context.Context) error {
	c.stopOnce.Do(func() { close(c.stop) })

	ctx, cancel := context.WithTimeout(ctx, c.cfg.ShutdownTimeout)
	defer cancel()

	r := c.FlushData(true)
	c.closed.Store(true)
	if err := r.Wait(ctx); err != nil {
		c.logger.Error("shutdown flush failed", zap.Error(err))
		return err
	}
	c.logger.Info("shut down", zap.Int64("height", c.flushed.Load()))
	return nil
}

// Rewind persists pending changes, then drops every stored change above
// target. Entities that are not historical cannot be rewound and keep their
// rows.
func (c *Cached) Rewind(ctx context.Context, target int64) error {
	ctx, span := c.tracer.Start(ctx, "indexstore.Rewind",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attribute.Int64("rewind.target", target)),
	)
	defer span.End()

	if err := c.FlushData(true).Wait(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "flush before rewind failed")
		return err
	}

	// hold the flush slot for the whole rewind
	for {
		c.flushMu.Lock()
		r := c.next
		if r == nil {
			r = c.running
		}
		if r == nil {
			break
		}
		c.flushMu.Unlock()
		if err := r.Wait(ctx); err != nil && (IsFatal(err) || ctx.Err() != nil) {
			return err
		}
	}
	defer c.flushMu.Unlock()

	list, err := c.meta.Datasources(ctx)
	if err != nil {
		return err
	}

	err = c.store.RunInTx(ctx, func(ctx context.Context, tx *store.Tx) error {
		return rewindTables(ctx, c.store, tx, sortedSchemas(c.schemas), list, target, c.logger)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "rewind failed")
		return goerrors.Wrap(err, goerrors.CategoryExternal, "rewind")
	}

	c.caches.Range(func(_ string, ec *repositorycache.EntityCache) bool {
		ec.Rewind(ctx, target)
		return true
	})
	c.meta.Reset()
	c.processed.Store(target)
	c.flushed.Store(target)
	c.opts.metrics.ObserveRewind()
	c.logger.Info("rewound", zap.Int64("height", target))
	return nil
}

// Stats is a point in time view of the cache.
type Stats struct {
	Dirty           map[string]int64
	MetadataDirty   int
	ProcessedHeight int64
	FlushedHeight   int64
	Flushes         int64
	FailedFlushes   int64
	FlushRunning    bool
	FlushQueued     bool
	Fatal           error
}

// Stats returns the current cache state.
func (c *Cached) Stats() Stats {
	s := Stats{
		Dirty:           map[string]int64{},
		MetadataDirty:   c.meta.Dirty(),
		ProcessedHeight: c.processed.Load(),
		FlushedHeight:   c.flushed.Load(),
		Flushes:         c.commits.Value(),
		FailedFlushes:   c.failures.Value(),
		Fatal:           c.fatalErr(),
	}
	c.caches.Range(func(name string, ec *repositorycache.EntityCache) bool {
		s.Dirty[name] = ec.Dirty()
		return true
	})
	c.flushMu.Lock()
	s.FlushRunning, s.FlushQueued = c.running != nil, c.next != nil
	c.flushMu.Unlock()
	return s
}

func (c *Cached) state() observability.State {
	s := c.Stats()
	return observability.State{
		Dirty:         s.Dirty,
		MetadataDirty: s.MetadataDirty,
		FlushRunning:  s.FlushRunning,
		FlushQueued:   s.FlushQueued,
	}
}

type cachedEntity struct {
	c *repositorycache.EntityCache
}

func (e cachedEntity) Get(ctx context.Context, id string) (entity.Record, error) {
	return e.c.Get(ctx, id)
}

func (e cachedEntity) GetByFields(ctx context.Context, filters []entity.Filter, opts entity.QueryOptions) ([]entity.Record, error) {
	return e.c.GetByFields(ctx, filters, opts)
}

func (e cachedEntity) Set(_ context.Context, id string, data entity.Record, height int64) error {
	return e.c.Set(id, data, height)
}

func (e cachedEntity) BulkCreate(_ context.Context, recs []entity.Record, height int64) error {
	return e.c.BulkCreate(recs, height)
}

func (e cachedEntity) BulkUpdate(ctx context.Context, recs []entity.Record, height int64, fields ...string) error {
	return e.c.BulkUpdate(ctx, recs, height, fields...)
}

func (e cachedEntity) Remove(_ context.Context, id string, height int64) error {
	return e.c.Remove(id, height)
}

func (e cachedEntity) BulkRemove(_ context.Context, ids []string, height int64) error {
	return e.c.BulkRemove(ids, height)
}

type cachedMetadata struct {
	c *metadata.Cache
}

func (m cachedMetadata) Find(ctx context.Context, key metadata.Key) (any, bool, error) {
	return m.c.Find(ctx, key)
}

func (m cachedMetadata) FindMany(ctx context.Context, keys ...metadata.Key) (map[metadata.Key]any, error) {
	return m.c.FindMany(ctx, keys...)
}

func (m cachedMetadata) Set(_ context.Context, key metadata.Key, value any) error {
	return m.c.Set(key, value)
}

func (m cachedMetadata) SetIncrement(_ context.Context, key metadata.Key, amount int64) error {
	return m.c.SetIncrement(key, amount)
}

func (m cachedMetadata) SetNewDynamicDatasource(_ context.Context, item metadata.DynamicDatasource) error {
	return m.c.SetNewDynamicDatasource(item)
}

func (m cachedMetadata) Datasources(ctx context.Context) ([]metadata.DynamicDatasource, error) {
	return m.c.Datasources(ctx)
}
