package cache

import (
	"context"

	"github.com/goliatone/go-indexer-cache/internal/cacheinfra"
)

// ErrNotFound signals a missing value. Fetch functions return it when the
// source of truth has no row for the key; GetOrFetch returns it for keys that
// are known to be missing.
var ErrNotFound = cacheinfra.ErrNotFound

// FetchFn loads a value from the source of truth on a cache miss.
type FetchFn[T any] func(ctx context.Context) (T, error)

// Service is the bounded read cache placed in front of the backing store.
//
// It only ever holds committed state: values are written after a flush has
// committed and entries are dropped when a rewind discards the heights they
// were read at.
type Service[T any] interface {
	Get(ctx context.Context, key string) (T, bool)
	Set(ctx context.Context, key string, value T)
	GetOrFetch(ctx context.Context, key string, fetchFn func(context.Context) (T, error)) (T, error)
	Delete(ctx context.Context, key string) error
	DeleteByPrefix(ctx context.Context, prefix string) error
}

// GetOrFetch is a convenience wrapper accepting a FetchFn.
func GetOrFetch[T any](ctx context.Context, service Service[T], key string, fetchFn FetchFn[T]) (T, error) {
	return service.GetOrFetch(ctx, key, fetchFn)
}
