// Package indexstore is the storage facade used by block handlers.
//
// Two implementations share the Store interface:
//
//   - Cached keeps every write in memory, one repositorycache.EntityCache per
//     entity type plus a metadata.Cache, and persists them with background
//     flushes. A flush writes everything up to the last processed height in
//     a single transaction.
//   - Direct writes each call straight to the database, inside the
//     transaction of the block being processed.
//
// Handlers call ApplyPendingChanges after each block. For Cached this records
// the block height and starts a flush once Config.FlushThreshold entities are
// dirty; above Config.UpperLimit the call blocks until the flush ends. For
// Direct it commits the block transaction.
//
// Rewind drops every stored change above a height, used when the chain
// reorganizes.
//
//	st, _ := store.New(db)
//	idx, err := indexstore.NewCached(st, indexstore.DefaultConfig(), schemas,
//		indexstore.WithLogger(logger),
//	)
//	idx.Start(ctx)
//	defer idx.Shutdown(ctx)
//
//	transfers, _ := idx.Entity("Transfer")
//	err = transfers.Set(ctx, "0xabc", entity.Record{"from": "0x1"}, height)
//	err = idx.ApplyPendingChanges(ctx, height, false)
package indexstore
