// Package cache defines the bounded read cache that sits between the entity
// caches and the backing store.
//
// # Overview
//
// The package exports:
//
//   - Service: a typed read-through cache (Get, Set, GetOrFetch, Delete, DeleteByPrefix)
//   - KeySerializer: builds namespaced keys such as "entity::Transfer::0xabc"
//   - Config: capacity, sharding, TTL and eviction settings for the sturdyc backend
//
// The read cache never holds uncommitted state. Entity caches consult their
// own in-memory version chains first and only fall back to the read cache for
// entities that are not dirty. After a flush commits, the latest value of
// every flushed entity is written with Set (or dropped when the entity was
// removed). A rewind drops a whole entity type with DeleteByPrefix.
//
// # Basic Usage
//
//	svc, err := cache.NewService[entity.Record](cache.DefaultConfig())
//	keys := cache.NewDefaultKeySerializer()
//
//	rec, err := svc.GetOrFetch(ctx, keys.SerializeKey("entity", "Transfer", id),
//		func(ctx context.Context) (entity.Record, error) {
//			return loadFromStore(ctx, id) // return cache.ErrNotFound for missing rows
//		})
//
// # Missing records
//
// With MissingRecordStorage enabled, a fetch that returns ErrNotFound is
// remembered and later lookups for the same key return ErrNotFound without
// calling the source. A later Set replaces the marker.
//
// # Early refresh
//
// Early refreshes reload entries in the background. They are disabled by
// default because a background reload that started before a flush committed
// can finish after the post flush Set and put an older value back.
package cache
