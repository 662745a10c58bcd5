package indexstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-indexer-cache/entity"
	"github.com/goliatone/go-indexer-cache/export"
	"github.com/goliatone/go-indexer-cache/history"
	"github.com/goliatone/go-indexer-cache/metadata"
	"github.com/goliatone/go-indexer-cache/store"
	"github.com/uptrace/bun"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Direct writes every call straight to the store, inside the transaction set
// with SetTransaction when there is one. It has no read cache and nothing to
// flush.
type Direct struct {
	store   *store.Store
	schemas map[string]*entity.Schema
	opts    options
	logger  *zap.Logger
	tracer  trace.Tracer

	mu     sync.Mutex
	tx     *store.Tx
	hooked bool
	closed atomic.Bool
}

// NewDirect creates the direct store for schemas on top of st.
func NewDirect(st *store.Store, schemas []*entity.Schema, opts ...Option) (*Direct, error) {
	if st == nil {
		return nil, goerrors.New("direct store requires a store", goerrors.CategoryBadInput)
	}
	index, err := schemaIndex(schemas)
	if err != nil {
		return nil, err
	}
	o := newOptions(opts)
	return &Direct{
		store:   st,
		schemas: index,
		opts:    o,
		logger:  o.logger.Named("indexstore.direct"),
		tracer:  o.tracer.Tracer(tracerName),
	}, nil
}

// SetTransaction makes tx the transaction of the block being processed.
// ApplyPendingChanges commits it.
func (d *Direct) SetTransaction(tx *store.Tx) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tx, d.hooked = tx, false
}

// idb returns the transaction in use, or the database when there is none.
func (d *Direct) idb() bun.IDB {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.tx != nil {
		return d.tx
	}
	return d.store.DB()
}

// Entity returns the store of the named entity type.
func (d *Direct) Entity(name string) (EntityStore, error) {
	sc, ok := d.schemas[name]
	if !ok {
		return nil, unknownEntity(name)
	}
	return &directEntity{d: d, schema: sc, exporters: d.opts.exporters[name]}, nil
}

// Metadata returns the metadata store.
func (d *Direct) Metadata() MetadataStore { return directMetadata{d} }

// ApplyPendingChanges records height as processed and commits the
// transaction, if one is set.
func (d *Direct) ApplyPendingChanges(ctx context.Context, height int64, _ bool) error {
	if d.closed.Load() {
		return ErrClosed
	}
	m := directMetadata{d}
	if err := m.Set(ctx, metadata.LastProcessedHeight, height); err != nil {
		return err
	}
	if err := m.Set(ctx, metadata.LastProcessedTimestamp, time.Now().UnixMilli()); err != nil {
		return err
	}
	if err := m.SetIncrement(ctx, metadata.ProcessedBlockCount, 1); err != nil {
		return err
	}

	d.mu.Lock()
	tx := d.tx
	d.tx, d.hooked = nil, false
	d.mu.Unlock()
	if tx == nil {
		return nil
	}
	if err := tx.Commit(); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryExternal, fmt.Sprintf("commit block %d", height))
	}
	return nil
}

// Rewind drops every stored change above target.
func (d *Direct) Rewind(ctx context.Context, target int64) error {
	ctx, span := d.tracer.Start(ctx, "indexstore.Rewind",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attribute.Int64("rewind.target", target)),
	)
	defer span.End()

	list, err := directMetadata{d}.Datasources(ctx)
	if err != nil {
		return err
	}
	err = d.store.RunInTx(ctx, func(ctx context.Context, tx *store.Tx) error {
		return rewindTables(ctx, d.store, tx, sortedSchemas(d.schemas), list, target, d.logger)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "rewind failed")
		return goerrors.Wrap(err, goerrors.CategoryExternal, "rewind")
	}
	d.opts.metrics.ObserveRewind()
	d.logger.Info("rewound", zap.Int64("height", target))
	return nil
}

// Shutdown rolls back the transaction of an unfinished block.
func (d *Direct) Shutdown(context.Context) error {
	d.closed.Store(true)
	d.mu.Lock()
	tx := d.tx
	d.tx = nil
	d.mu.Unlock()
	if tx != nil && !tx.Done() {
		d.logger.Warn("rolling back unfinished block")
		return tx.Rollback()
	}
	return nil
}

// export hands rows to the exporters. Staging exporters are committed with
// the block transaction, or right away without one.
func (d *Direct) export(ctx context.Context, name string, exporters []export.Exporter, rows []export.Row) error {
	if len(exporters) == 0 || len(rows) == 0 {
		return nil
	}

	d.mu.Lock()
	tx := d.tx
	register := tx != nil && !d.hooked
	if register {
		d.hooked = true
	}
	d.mu.Unlock()

	if register {
		// hooks are shared by every entity of the block
		for _, exps := range d.opts.exporters {
			for _, e := range exps {
				if cm, ok := e.(export.Committer); ok {
					tx.AfterCommit(func() {
						if err := cm.Commit(); err != nil {
							d.logger.Error("export commit failed", zap.Error(err))
						}
					})
					tx.AfterRollback(cm.Rollback)
				}
			}
		}
	}

	for _, e := range exporters {
		if err := e.Export(ctx, rows); err != nil {
			return export.Wrap(err, name)
		}
		if cm, ok := e.(export.Committer); ok && tx == nil {
			if err := cm.Commit(); err != nil {
				return export.Wrap(err, name)
			}
		}
	}
	return nil
}

type directEntity struct {
	d         *Direct
	schema    *entity.Schema
	exporters []export.Exporter
}

func (e *directEntity) Get(ctx context.Context, id string) (entity.Record, error) {
	rec, err := e.d.store.Get(ctx, e.d.idb(), e.schema, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, goerrors.Wrap(ErrNotFound, goerrors.CategoryNotFound, fmt.Sprintf("%s %s", e.schema.Name, id)).
			WithMetadata(map[string]any{"entity": e.schema.Name, "id": id})
	}
	return rec, err
}

func (e *directEntity) GetByFields(ctx context.Context, filters []entity.Filter, opts entity.QueryOptions) ([]entity.Record, error) {
	return e.d.store.Find(ctx, e.d.idb(), e.schema, filters, opts, nil)
}

func (e *directEntity) prepare(rec entity.Record) (entity.Record, error) {
	if err := e.schema.Validate(rec); err != nil {
		return nil, err
	}
	return e.schema.Normalize(rec)
}

func (e *directEntity) Set(ctx context.Context, id string, data entity.Record, height int64) error {
	rec := data.Clone()
	if rec == nil {
		rec = entity.Record{}
	}
	if cur := rec.ID(); cur != "" && cur != id {
		return goerrors.New(fmt.Sprintf("%s id %q does not match record id %q", e.schema.Name, id, cur), goerrors.CategoryBadInput)
	}
	rec[entity.IDField] = id
	return e.BulkCreate(ctx, []entity.Record{rec}, height)
}

func (e *directEntity) BulkCreate(ctx context.Context, recs []entity.Record, height int64) error {
	prepared := make([]entity.Record, 0, len(recs))
	for _, rec := range recs {
		p, err := e.prepare(rec)
		if err != nil {
			return err
		}
		prepared = append(prepared, p)
	}
	return e.write(ctx, lastPerID(prepared), height)
}

func (e *directEntity) BulkUpdate(ctx context.Context, recs []entity.Record, height int64, fields ...string) error {
	for _, f := range fields {
		if _, ok := e.schema.Field(f); !ok {
			return goerrors.New(fmt.Sprintf("unknown field %s.%s", e.schema.Name, f), goerrors.CategoryBadInput)
		}
	}
	merged := make(map[string]entity.Record, len(recs))
	order := make([]string, 0, len(recs))
	for _, rec := range recs {
		id := rec.ID()
		base, seen := merged[id]
		if !seen {
			cur, err := e.Get(ctx, id)
			if err != nil {
				return err
			}
			base = cur
			order = append(order, id)
		}
		next, err := e.prepare(base.Overlay(rec, fields...))
		if err != nil {
			return err
		}
		merged[id] = next
	}
	prepared := make([]entity.Record, len(order))
	for i, id := range order {
		prepared[i] = merged[id]
	}
	return e.write(ctx, prepared, height)
}

// write stores recs as the value of their entities from height onwards.
func (e *directEntity) write(ctx context.Context, recs []entity.Record, height int64) error {
	if len(recs) == 0 {
		return nil
	}
	idb := e.d.idb()

	if !e.schema.Historical {
		if err := e.d.store.Upsert(ctx, idb, e.schema, recs); err != nil {
			return err
		}
		rows := make([]export.Row, len(recs))
		for i, rec := range recs {
			rows[i] = export.Row{Entity: e.schema.Name, Record: rec, StartHeight: height}
		}
		return e.d.export(ctx, e.schema.Name, e.exporters, rows)
	}

	ids := make([]string, len(recs))
	versions := make([]history.Version, len(recs))
	for i, rec := range recs {
		ids[i] = rec.ID()
		// a second write in the same block replaces the first
		if err := e.d.store.DeleteVersionAt(ctx, idb, e.schema, rec.ID(), height); err != nil {
			return err
		}
		versions[i] = history.Version{Data: rec, StartHeight: height}
	}
	closed, err := e.d.store.CloseVersions(ctx, idb, e.schema, ids, height)
	if err != nil {
		return err
	}
	if err := e.d.store.InsertVersions(ctx, idb, e.schema, versions); err != nil {
		return err
	}
	return e.d.export(ctx, e.schema.Name, e.exporters, e.versionRows(append(closed, versions...)))
}

func (e *directEntity) versionRows(versions []history.Version) []export.Row {
	rows := make([]export.Row, len(versions))
	for i, v := range versions {
		rows[i] = export.Row{Entity: e.schema.Name, Record: v.Data, StartHeight: v.StartHeight, EndHeight: v.EndHeight}
	}
	return rows
}

func (e *directEntity) Remove(ctx context.Context, id string, height int64) error {
	return e.BulkRemove(ctx, []string{id}, height)
}

func (e *directEntity) BulkRemove(ctx context.Context, ids []string, height int64) error {
	if len(ids) == 0 {
		return nil
	}
	idb := e.d.idb()

	if !e.schema.Historical {
		if err := e.d.store.Delete(ctx, idb, e.schema, ids); err != nil {
			return err
		}
		rows := make([]export.Row, len(ids))
		for i, id := range ids {
			rows[i] = export.Row{Entity: e.schema.Name, Record: entity.Record{entity.IDField: id}, StartHeight: height, Removed: true}
		}
		return e.d.export(ctx, e.schema.Name, e.exporters, rows)
	}

	for _, id := range ids {
		// created and removed in the same block leaves nothing behind
		if err := e.d.store.DeleteVersionAt(ctx, idb, e.schema, id, height); err != nil {
			return err
		}
	}
	closed, err := e.d.store.CloseVersions(ctx, idb, e.schema, ids, height)
	if err != nil {
		return err
	}
	return e.d.export(ctx, e.schema.Name, e.exporters, e.versionRows(closed))
}

// lastPerID keeps the last record of every id, in first seen order.
func lastPerID(recs []entity.Record) []entity.Record {
	pos := make(map[string]int, len(recs))
	out := make([]entity.Record, 0, len(recs))
	for _, rec := range recs {
		if i, ok := pos[rec.ID()]; ok {
			out[i] = rec
			continue
		}
		pos[rec.ID()] = len(out)
		out = append(out, rec)
	}
	return out
}

type directMetadata struct {
	d *Direct
}

func (m directMetadata) Find(ctx context.Context, key metadata.Key) (any, bool, error) {
	out, err := m.FindMany(ctx, key)
	if err != nil {
		return nil, false, err
	}
	v, ok := out[key]
	return v, ok, nil
}

func (m directMetadata) FindMany(ctx context.Context, keys ...metadata.Key) (map[metadata.Key]any, error) {
	names := make([]string, len(keys))
	for i, k := range keys {
		names[i] = string(k)
	}
	rows, err := m.d.store.GetMetadata(ctx, m.d.idb(), names...)
	if err != nil {
		return nil, err
	}
	out := make(map[metadata.Key]any, len(rows))
	for _, k := range keys {
		raw, ok := rows[string(k)]
		if !ok {
			continue
		}
		v, err := metadata.Decode(k, raw)
		if err != nil {
			return nil, goerrors.Wrap(err, goerrors.CategoryInternal, fmt.Sprintf("decode metadata %s", k))
		}
		if v != nil {
			out[k] = v
		}
	}
	return out, nil
}

func (m directMetadata) Set(ctx context.Context, key metadata.Key, value any) error {
	v, err := metadata.Normalize(key, value)
	if err != nil {
		return err
	}
	return m.d.store.SetMetadata(ctx, m.d.idb(), map[string]any{string(key): v})
}

func (m directMetadata) SetIncrement(ctx context.Context, key metadata.Key, amount int64) error {
	if key.Kind() != metadata.KindIncrement {
		return goerrors.New(fmt.Sprintf("metadata key %s is %s, not %s", key, key.Kind(), metadata.KindIncrement), goerrors.CategoryBadInput).
			WithMetadata(map[string]any{"key": string(key)})
	}
	return m.d.store.IncrementMetadata(ctx, m.d.idb(), string(key), amount)
}

func (m directMetadata) SetNewDynamicDatasource(ctx context.Context, item metadata.DynamicDatasource) error {
	if err := item.Validate(); err != nil {
		return err
	}
	return m.d.store.AppendMetadata(ctx, m.d.idb(), string(metadata.DynamicDatasources), []any{item})
}

func (m directMetadata) Datasources(ctx context.Context) ([]metadata.DynamicDatasource, error) {
	v, ok, err := m.Find(ctx, metadata.DynamicDatasources)
	if err != nil || !ok {
		return nil, err
	}
	list, _ := v.([]metadata.DynamicDatasource)
	return list, nil
}
