package repositorycache

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-indexer-cache/cache"
	"github.com/goliatone/go-indexer-cache/entity"
	"github.com/goliatone/go-indexer-cache/export"
	"github.com/goliatone/go-indexer-cache/history"
	"github.com/goliatone/go-indexer-cache/store"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/uptrace/bun"
	"go.uber.org/zap"
)

// Backend is the store surface an EntityCache reads from and flushes to.
// *store.Store implements it.
type Backend interface {
	Get(ctx context.Context, idb bun.IDB, sc *entity.Schema, id string) (entity.Record, error)
	Find(ctx context.Context, idb bun.IDB, sc *entity.Schema, filters []entity.Filter, opts entity.QueryOptions, exclude []string) ([]entity.Record, error)
	CloseVersions(ctx context.Context, idb bun.IDB, sc *entity.Schema, ids []string, h int64) ([]history.Version, error)
	InsertVersions(ctx context.Context, idb bun.IDB, sc *entity.Schema, versions []history.Version) error
	Upsert(ctx context.Context, idb bun.IDB, sc *entity.Schema, recs []entity.Record) error
	Delete(ctx context.Context, idb bun.IDB, sc *entity.Schema, ids []string) error
}

// Tx is the transaction a flush runs in. *store.Tx implements it.
type Tx interface {
	bun.IDB
	AfterCommit(fn func())
	AfterRollback(fn func())
}

// Interface assertions
var (
	_ Backend = (*store.Store)(nil)
	_ Tx      = (*store.Tx)(nil)
)

const keyNamespace = "entity"

// maxExcluded caps the dirty ids excluded by GetByFields in SQL. Above it the
// store query over-fetches and dirty ids are dropped in memory.
const maxExcluded = 1000

// EntityCache buffers the mutations of one entity type as version chains
// until they are flushed.
//
// Reads see pending changes first, then the committed store through the
// shared read cache. Mutations hold the shared gate for reading; Snapshot
// expects the caller to hold it for writing.
type EntityCache struct {
	schema    *entity.Schema
	backend   Backend
	db        bun.IDB
	reads     cache.Service[entity.Record]
	keys      cache.KeySerializer
	gate      *sync.RWMutex
	nextOp    func() int64
	exporters []export.Exporter
	logger    *zap.Logger

	mu       sync.Mutex
	chains   map[string]*history.Chain
	removals map[string]history.Removal
	dirty    *xsync.Counter
	cut      int64
	hasCut   bool
	// epoch changes whenever committed state moves under the read cache.
	epoch uint64
}

// Option configures an EntityCache.
type Option func(*EntityCache)

// WithGate shares the snapshot gate with other caches.
func WithGate(gate *sync.RWMutex) Option {
	return func(c *EntityCache) {
		if gate != nil {
			c.gate = gate
		}
	}
}

// WithOperationIndex sets the source of operation indexes. Caches flushed
// together must share one source.
func WithOperationIndex(next func() int64) Option {
	return func(c *EntityCache) {
		if next != nil {
			c.nextOp = next
		}
	}
}

// WithReadCache puts a read cache in front of store reads.
func WithReadCache(svc cache.Service[entity.Record]) Option {
	return func(c *EntityCache) {
		c.reads = svc
	}
}

// WithKeySerializer overrides the read cache key serializer.
func WithKeySerializer(keys cache.KeySerializer) Option {
	return func(c *EntityCache) {
		if keys != nil {
			c.keys = keys
		}
	}
}

// WithExporter adds exporters that receive every flushed row.
func WithExporter(exporters ...export.Exporter) Option {
	return func(c *EntityCache) {
		c.exporters = append(c.exporters, exporters...)
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *EntityCache) {
		if l != nil {
			c.logger = l
		}
	}
}

// New creates an EntityCache for sc. Reads outside a flush run on db.
func New(sc *entity.Schema, backend Backend, db bun.IDB, opts ...Option) (*EntityCache, error) {
	if sc == nil || backend == nil {
		return nil, goerrors.New("entity cache requires a schema and a backend", goerrors.CategoryBadInput)
	}
	if err := sc.Check(); err != nil {
		return nil, err
	}

	var ops atomic.Int64
	c := &EntityCache{
		schema:   sc,
		backend:  backend,
		db:       db,
		keys:     cache.NewDefaultKeySerializer(),
		gate:     &sync.RWMutex{},
		nextOp:   func() int64 { return ops.Add(1) },
		logger:   zap.NewNop(),
		chains:   map[string]*history.Chain{},
		removals: map[string]history.Removal{},
		dirty:    xsync.NewCounter(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(zap.String("entity", sc.Name))
	return c, nil
}

// Name returns the entity name.
func (c *EntityCache) Name() string { return c.schema.Name }

// Schema returns the entity schema.
func (c *EntityCache) Schema() *entity.Schema { return c.schema }

// Dirty returns the number of entities with changes not yet committed.
func (c *EntityCache) Dirty() int64 { return c.dirty.Value() }

func (c *EntityCache) key(id string) string {
	return c.keys.SerializeKey(keyNamespace, c.schema.Name, id)
}

// memory resolves id from pending changes. known is false when id has none.
func (c *EntityCache) memory(id string) (rec entity.Record, known bool) {
	if ch, ok := c.chains[id]; ok && !ch.Empty() {
		cur, _ := ch.Current()
		return cur, true
	}
	if _, ok := c.removals[id]; ok {
		return nil, true
	}
	return nil, false
}

func (c *EntityCache) isDirty(id string) bool {
	if ch, ok := c.chains[id]; ok && !ch.Empty() {
		return true
	}
	_, ok := c.removals[id]
	return ok
}

// Get returns the current value of id.
func (c *EntityCache) Get(ctx context.Context, id string) (entity.Record, error) {
	for {
		c.mu.Lock()
		rec, known := c.memory(id)
		epoch := c.epoch
		c.mu.Unlock()

		if known {
			if rec == nil {
				return nil, notFound(c.schema.Name, id)
			}
			return rec.Clone(), nil
		}

		rec, err := c.fetch(ctx, id)

		c.mu.Lock()
		stale := c.epoch != epoch
		c.mu.Unlock()
		if stale {
			// a flush committed while reading, the fetched value may predate it
			c.forget(ctx, id)
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			continue
		}

		if errors.Is(err, cache.ErrNotFound) || errors.Is(err, store.ErrNotFound) {
			return nil, notFound(c.schema.Name, id)
		}
		if err != nil {
			return nil, goerrors.Wrap(err, goerrors.CategoryExternal, fmt.Sprintf("get %s %s", c.schema.Name, id))
		}
		return rec.Clone(), nil
	}
}

func (c *EntityCache) fetch(ctx context.Context, id string) (entity.Record, error) {
	load := func(ctx context.Context) (entity.Record, error) {
		rec, err := c.backend.Get(ctx, c.db, c.schema, id)
		if errors.Is(err, store.ErrNotFound) {
			return nil, cache.ErrNotFound
		}
		return rec, err
	}
	if c.reads == nil {
		return load(ctx)
	}
	return cache.GetOrFetch(ctx, c.reads, c.key(id), load)
}

func (c *EntityCache) forget(ctx context.Context, id string) {
	if c.reads == nil {
		return
	}
	if err := c.reads.Delete(ctx, c.key(id)); err != nil {
		c.logger.Warn("read cache delete failed", zap.String("id", id), zap.Error(err))
	}
}

// GetByFields returns the current entities matching every filter. Pending
// changes take precedence over stored rows.
func (c *EntityCache) GetByFields(ctx context.Context, filters []entity.Filter, opts entity.QueryOptions) ([]entity.Record, error) {
	if err := c.schema.CheckFilters(filters); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryBadInput, "get "+c.schema.Name+" by fields")
	}
	if opts.OrderBy != "" {
		if _, ok := c.schema.Field(opts.OrderBy); !ok {
			return nil, goerrors.New(fmt.Sprintf("unknown order field %s.%s", c.schema.Name, opts.OrderBy), goerrors.CategoryBadInput)
		}
	}

	c.mu.Lock()
	var matched []entity.Record
	dirty := make([]string, 0, len(c.chains)+len(c.removals))
	for id, ch := range c.chains {
		dirty = append(dirty, id)
		if ch.MatchesFields(filters) {
			cur, _ := ch.Current()
			matched = append(matched, cur.Clone())
		}
	}
	for id := range c.removals {
		if _, ok := c.chains[id]; !ok {
			dirty = append(dirty, id)
		}
	}
	c.mu.Unlock()

	q := entity.QueryOptions{OrderBy: opts.OrderBy, Desc: opts.Desc}
	if opts.Limit > 0 {
		q.Limit = opts.Offset + opts.Limit
	}
	exclude := dirty
	var skip map[string]struct{}
	if len(dirty) > maxExcluded {
		exclude = nil
		if q.Limit > 0 {
			q.Limit += len(dirty)
		}
		skip = make(map[string]struct{}, len(dirty))
		for _, id := range dirty {
			skip[id] = struct{}{}
		}
	}

	rows, err := c.backend.Find(ctx, c.db, c.schema, filters, q, exclude)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryExternal, "get "+c.schema.Name+" by fields")
	}
	for _, row := range rows {
		if _, ok := skip[row.ID()]; ok {
			continue
		}
		matched = append(matched, row)
	}
	return entity.SortRecords(matched, opts), nil
}

func (c *EntityCache) prepare(rec entity.Record) (entity.Record, error) {
	if err := c.schema.Validate(rec); err != nil {
		return nil, err
	}
	return c.schema.Normalize(rec)
}

// Set writes data as the value of id from height onwards.
func (c *EntityCache) Set(id string, data entity.Record, height int64) error {
	rec := data.Clone()
	if rec == nil {
		rec = entity.Record{}
	}
	if cur := rec.ID(); cur != "" && cur != id {
		return goerrors.New(fmt.Sprintf("%s id %q does not match record id %q", c.schema.Name, id, cur), goerrors.CategoryBadInput)
	}
	rec[entity.IDField] = id
	return c.BulkCreate([]entity.Record{rec}, height)
}

// BulkCreate writes every record at height. Either all records are applied
// or none is.
func (c *EntityCache) BulkCreate(recs []entity.Record, height int64) error {
	prepared := make([]entity.Record, len(recs))
	for i, rec := range recs {
		p, err := c.prepare(rec)
		if err != nil {
			return err
		}
		prepared[i] = p
	}
	return c.apply(prepared, height)
}

// BulkUpdate merges each record on top of the current value of its entity
// and writes the result at height. With fields only those fields are taken
// from the records. Every entity must exist.
func (c *EntityCache) BulkUpdate(ctx context.Context, recs []entity.Record, height int64, fields ...string) error {
	for _, f := range fields {
		if _, ok := c.schema.Field(f); !ok {
			return goerrors.New(fmt.Sprintf("unknown field %s.%s", c.schema.Name, f), goerrors.CategoryBadInput)
		}
	}

	merged := make(map[string]entity.Record, len(recs))
	order := make([]string, 0, len(recs))
	for _, rec := range recs {
		id := rec.ID()
		base, seen := merged[id]
		if !seen {
			cur, err := c.Get(ctx, id)
			if err != nil {
				return err
			}
			base = cur
			order = append(order, id)
		}
		next, err := c.prepare(base.Overlay(rec, fields...))
		if err != nil {
			return err
		}
		merged[id] = next
	}

	prepared := make([]entity.Record, len(order))
	for i, id := range order {
		prepared[i] = merged[id]
	}
	return c.apply(prepared, height)
}

type undo struct {
	id       string
	op       int64
	created  bool
	grew     bool
	prev     history.Version
	hadPrev  bool
	wasDirty bool
}

func (c *EntityCache) checkHeight(height int64) error {
	if c.hasCut && height <= c.cut {
		return staleHeight(c.schema.Name, height, c.cut)
	}
	return nil
}

func (c *EntityCache) apply(recs []entity.Record, height int64) error {
	c.gate.RLock()
	defer c.gate.RUnlock()
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkHeight(height); err != nil {
		return err
	}

	undos := make([]undo, 0, len(recs))
	for _, rec := range recs {
		id := rec.ID()
		u := undo{id: id, op: c.nextOp(), wasDirty: c.isDirty(id)}

		ch, ok := c.chains[id]
		if !ok {
			ch = history.NewChain()
			c.chains[id] = ch
			u.created = true
		}
		u.prev, u.hadPrev = ch.Latest()
		before := ch.Len()

		if err := ch.Set(rec, height, u.op); err != nil {
			if u.created {
				delete(c.chains, id)
			}
			c.rollback(undos, height)
			return goerrors.Wrap(err, goerrors.CategoryConflict, fmt.Sprintf("set %s %s", c.schema.Name, id))
		}
		u.grew = ch.Len() > before
		if !u.wasDirty {
			c.dirty.Inc()
		}
		undos = append(undos, u)
	}
	return nil
}

// rollback reverts applied sets, newest first.
func (c *EntityCache) rollback(undos []undo, height int64) {
	for i := len(undos) - 1; i >= 0; i-- {
		u := undos[i]
		ch := c.chains[u.id]
		switch {
		case u.grew:
			ch.PopByOperationIndex(u.op)
		case u.hadPrev && u.prev.Removed:
			// a zero length removal was reused in place
			_ = ch.Set(u.prev.Data, height, u.prev.OperationIndex)
			_ = ch.MarkRemoved(height, u.prev.OperationIndex)
		case u.hadPrev:
			_ = ch.Set(u.prev.Data, u.prev.StartHeight, u.prev.OperationIndex)
		}
		if u.created && ch.Empty() {
			delete(c.chains, u.id)
		}
		if !u.wasDirty && !c.isDirty(u.id) {
			c.dirty.Dec()
		}
	}
}

// Remove removes id at height.
func (c *EntityCache) Remove(id string, height int64) error {
	return c.BulkRemove([]string{id}, height)
}

// BulkRemove removes every id at height. Removing an entity that is already
// removed is a no-op.
func (c *EntityCache) BulkRemove(ids []string, height int64) error {
	c.gate.RLock()
	defer c.gate.RUnlock()
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkHeight(height); err != nil {
		return err
	}
	for _, id := range ids {
		if ch, ok := c.chains[id]; ok {
			if v, ok := ch.Latest(); ok && v.Open() && height < v.StartHeight {
				return goerrors.Wrap(history.ErrOutOfOrder, goerrors.CategoryConflict,
					fmt.Sprintf("remove %s %s at height %d", c.schema.Name, id, height)).
					WithSeverity(goerrors.SeverityCritical)
			}
		}
	}

	for _, id := range ids {
		op := c.nextOp()
		wasDirty := c.isDirty(id)

		ch, ok := c.chains[id]
		switch {
		case ok && !ch.Empty():
			if err := ch.MarkRemoved(height, op); err != nil {
				return err
			}
		default:
			if _, removed := c.removals[id]; removed {
				continue
			}
			// no pending value: a zero length removal closes the stored row
			ch = history.NewChain()
			_ = ch.Set(entity.Record{entity.IDField: id}, height, op)
			_ = ch.MarkRemoved(height, op)
			c.chains[id] = ch
		}
		if !wasDirty {
			c.dirty.Inc()
		}
	}
	return nil
}

// Snapshot is the state of one entity cache at a cut height.
type Snapshot struct {
	Entity   string
	Height   int64
	chains   map[string]*history.Chain
	removals map[string]history.Removal
}

// Empty reports whether the snapshot has nothing to write.
func (s *Snapshot) Empty() bool {
	return s == nil || (len(s.chains) == 0 && len(s.removals) == 0)
}

// Len returns the number of entities in the snapshot.
func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	n := len(s.chains)
	for id := range s.removals {
		if _, ok := s.chains[id]; !ok {
			n++
		}
	}
	return n
}

func (s *Snapshot) ids() []string {
	ids := make([]string, 0, len(s.chains)+len(s.removals))
	for id := range s.chains {
		ids = append(ids, id)
	}
	for id := range s.removals {
		if _, ok := s.chains[id]; !ok {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Snapshot copies every change at or below cut. Later mutations at or below
// cut fail with ErrStaleHeight. The caller must hold the shared gate for
// writing.
func (c *EntityCache) Snapshot(cut int64) *Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := &Snapshot{
		Entity:   c.schema.Name,
		Height:   cut,
		chains:   make(map[string]*history.Chain),
		removals: make(map[string]history.Removal),
	}
	for id, ch := range c.chains {
		cl := ch.Clone()
		cl.TruncateAbove(cut)
		if !cl.Empty() {
			snap.chains[id] = cl
		}
	}
	for id, rm := range c.removals {
		if rm.Height <= cut {
			snap.removals[id] = rm
		}
	}
	c.cut, c.hasCut = cut, true
	return snap
}

// Flush writes a snapshot in tx. Historical entities close their stored open
// row at the first new height and insert every new version; replaying a
// flush leaves the store unchanged. Other entities keep only their last
// operation.
func (c *EntityCache) Flush(ctx context.Context, tx Tx, snap *Snapshot, height int64) error {
	if snap == nil {
		return nil
	}
	if snap.Height != height {
		return heightMismatch(c.schema.Name, height, snap.Height)
	}
	if snap.Empty() {
		return nil
	}

	var (
		rows []export.Row
		err  error
	)
	if c.schema.Historical {
		rows, err = c.flushHistorical(ctx, tx, snap)
	} else {
		rows, err = c.flushLatest(ctx, tx, snap)
	}
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryExternal, "flush "+c.schema.Name)
	}

	for _, e := range c.exporters {
		if cm, ok := e.(export.Committer); ok {
			tx.AfterCommit(func() {
				if err := cm.Commit(); err != nil {
					c.logger.Error("export commit failed", zap.Int64("height", height), zap.Error(err))
				}
			})
			tx.AfterRollback(cm.Rollback)
		}
		if err := e.Export(ctx, rows); err != nil {
			return export.Wrap(err, c.schema.Name)
		}
	}
	return nil
}

func (c *EntityCache) flushHistorical(ctx context.Context, tx Tx, snap *Snapshot) ([]export.Row, error) {
	closeAt := map[int64][]string{}
	var versions []history.Version

	for _, id := range snap.ids() {
		first := int64(-1)
		if ch, ok := snap.chains[id]; ok {
			vs := ch.Versions()
			first = vs[0].StartHeight
			for _, v := range vs {
				if !v.ZeroLength() {
					versions = append(versions, v)
				}
			}
		}
		if rm, ok := snap.removals[id]; ok && (first < 0 || rm.Height < first) {
			first = rm.Height
		}
		closeAt[first] = append(closeAt[first], id)
	}

	heights := make([]int64, 0, len(closeAt))
	for h := range closeAt {
		heights = append(heights, h)
	}
	sort.Slice(heights, func(i, j int) bool { return heights[i] < heights[j] })

	var closed []history.Version
	for _, h := range heights {
		vs, err := c.backend.CloseVersions(ctx, tx, c.schema, closeAt[h], h)
		if err != nil {
			return nil, err
		}
		closed = append(closed, vs...)
	}
	if err := c.backend.InsertVersions(ctx, tx, c.schema, versions); err != nil {
		return nil, err
	}

	// stored versions that were closed come first, with their final range
	rows := make([]export.Row, 0, len(closed)+len(versions))
	for _, v := range append(closed, versions...) {
		rows = append(rows, export.Row{Entity: c.schema.Name, Record: v.Data, StartHeight: v.StartHeight, EndHeight: v.EndHeight})
	}
	c.logger.Debug("historical flush",
		zap.Int64("height", snap.Height),
		zap.Int("records", len(versions)),
		zap.Int("closed", len(closed)),
	)
	return rows, nil
}

// finalState resolves the last operation on id: the latest chain entry or a
// pending removal, whichever came later.
func finalState(snap *Snapshot, id string) (entity.Record, bool) {
	var (
		latest history.Version
		has    bool
	)
	if ch, ok := snap.chains[id]; ok {
		latest, has = ch.Latest()
	}
	if rm, ok := snap.removals[id]; ok && (!has || rm.OperationIndex > latest.OperationIndex) {
		return nil, false
	}
	if !has || latest.Removed {
		return nil, false
	}
	return latest.Data, true
}

func (c *EntityCache) flushLatest(ctx context.Context, tx Tx, snap *Snapshot) ([]export.Row, error) {
	var (
		upserts []entity.Record
		deletes []string
		rows    []export.Row
	)
	for _, id := range snap.ids() {
		if rec, alive := finalState(snap, id); alive {
			upserts = append(upserts, rec)
			rows = append(rows, export.Row{Entity: c.schema.Name, Record: rec, StartHeight: snap.Height})
			continue
		}
		deletes = append(deletes, id)
		rows = append(rows, export.Row{Entity: c.schema.Name, Record: entity.Record{entity.IDField: id}, StartHeight: snap.Height, Removed: true})
	}

	if err := c.backend.Upsert(ctx, tx, c.schema, upserts); err != nil {
		return nil, err
	}
	if err := c.backend.Delete(ctx, tx, c.schema, deletes); err != nil {
		return nil, err
	}
	c.logger.Debug("latest flush",
		zap.Int64("height", snap.Height),
		zap.Int("records", len(upserts)),
		zap.Int("removed", len(deletes)),
	)
	return rows, nil
}

// Clear drops the changes a committed snapshot wrote and refreshes the read
// cache with the committed values.
func (c *EntityCache) Clear(ctx context.Context, snap *Snapshot) {
	if snap.Empty() {
		return
	}

	type refresh struct {
		id    string
		rec   entity.Record
		alive bool
		clean bool
	}

	c.mu.Lock()
	refreshes := make([]refresh, 0, snap.Len())
	for _, id := range snap.ids() {
		wasDirty := c.isDirty(id)

		if rm, ok := c.removals[id]; ok && rm.Height <= snap.Height {
			delete(c.removals, id)
		}
		if ch, ok := c.chains[id]; ok {
			if rm, pending := ch.Release(snap.Height); pending {
				c.removals[id] = rm
			}
			if ch.Empty() {
				delete(c.chains, id)
			}
		}

		clean := !c.isDirty(id)
		if wasDirty && clean {
			c.dirty.Dec()
		}
		rec, alive := finalState(snap, id)
		refreshes = append(refreshes, refresh{id: id, rec: rec, alive: alive, clean: clean})
	}
	c.epoch++
	c.mu.Unlock()

	if c.reads == nil {
		return
	}
	for _, r := range refreshes {
		if r.clean && r.alive {
			c.reads.Set(ctx, c.key(r.id), r.rec)
			continue
		}
		c.forget(ctx, r.id)
	}
}

// Rewind forgets every pending change above target. Entries closed above
// target are reopened.
func (c *EntityCache) Rewind(ctx context.Context, target int64) {
	c.mu.Lock()
	for id, ch := range c.chains {
		ch.TruncateAbove(target)
		if ch.Empty() {
			delete(c.chains, id)
		}
	}
	for id, rm := range c.removals {
		if rm.Height > target {
			delete(c.removals, id)
		}
	}
	c.recount()
	c.cut, c.hasCut = target, true
	c.epoch++
	c.mu.Unlock()

	c.dropReads(ctx)
}

// Reset drops every pending change and the cached reads of this entity.
func (c *EntityCache) Reset(ctx context.Context) {
	c.mu.Lock()
	c.chains = map[string]*history.Chain{}
	c.removals = map[string]history.Removal{}
	c.dirty.Reset()
	c.cut, c.hasCut = 0, false
	c.epoch++
	c.mu.Unlock()

	c.dropReads(ctx)
}

func (c *EntityCache) recount() {
	n := int64(len(c.chains))
	for id := range c.removals {
		if _, ok := c.chains[id]; !ok {
			n++
		}
	}
	c.dirty.Reset()
	c.dirty.Add(n)
}

func (c *EntityCache) dropReads(ctx context.Context) {
	if c.reads == nil {
		return
	}
	if err := c.reads.DeleteByPrefix(ctx, c.keys.Prefix(keyNamespace, c.schema.Name)); err != nil {
		c.logger.Warn("read cache invalidation failed", zap.Error(err))
	}
}
