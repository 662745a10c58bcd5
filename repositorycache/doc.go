// Package repositorycache provides the write-back cache of one entity type.
//
// # Overview
//
// An EntityCache keeps the uncommitted mutations of an entity type as
// version chains (see package history) keyed by entity id. Indexing code
// reads and writes through the cache while processing blocks; nothing
// reaches the backing store until the owning orchestrator flushes.
//
// # Key Features
//
//   - **Read your own writes**: Get and GetByFields see pending changes before the store
//   - **Read-through store access**: clean entities are served by the shared read cache
//   - **Atomic batches**: BulkCreate and BulkUpdate apply every record or none
//   - **Exact history**: historical entities persist one row per version with its block range
//   - **Replayable flushes**: closing and inserting rows can be repeated without effect
//
// # Basic Usage
//
//	st, _ := store.New(db)
//	reads, _ := cache.NewService[entity.Record](cache.DefaultConfig())
//
//	transfers, err := repositorycache.New(schema, st, st.DB(),
//		repositorycache.WithReadCache(reads),
//	)
//
//	err = transfers.Set("0xabc", entity.Record{"from": "0x1", "amount": 10}, 100)
//	rec, err := transfers.Get(ctx, "0xabc")
//	recs, err := transfers.GetByFields(ctx, []entity.Filter{entity.Eq("from", "0x1")}, entity.QueryOptions{Limit: 10})
//
// # Flushing
//
// A flush happens in three steps, driven by the orchestrator:
//
//  1. Snapshot(cut) copies every change at or below cut while the shared gate is held
//  2. Flush(ctx, tx, snap, cut) writes the copy inside the flush transaction
//  3. Clear(ctx, snap) runs after the commit, drops what was written and refreshes the read cache
//
// Mutations keep running between the steps. A mutation at or below the cut
// of the last snapshot fails with ErrStaleHeight, since it would rewrite
// history that is already being persisted.
//
// # Historical and latest-only entities
//
// For historical schemas each entity's stored open row is closed at the
// first height the snapshot changes it, then every version with a non empty
// range is inserted. The close only touches rows that are still open and
// started earlier, and inserts skip rows that already exist, so a retried
// flush writes nothing twice.
//
// Other schemas keep one row per id. The last operation wins regardless of
// height: surviving entities are upserted and removed ones deleted.
//
// # Exporters
//
// Exporters registered with WithExporter receive every row a flush writes.
// An exporter error aborts the flush transaction. Exporters implementing
// export.Committer are committed after the transaction commits and rolled
// back otherwise.
package repositorycache
