package indexstore

import (
	"context"
	"errors"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-indexer-cache/entity"
	"github.com/goliatone/go-indexer-cache/metadata"
	"github.com/goliatone/go-indexer-cache/repositorycache"
)

// ErrNotFound is returned when an entity does not exist or has been removed.
var ErrNotFound = repositorycache.ErrNotFound

// ErrClosed is returned by calls made after Shutdown.
var ErrClosed = errors.New("indexstore: store is shut down")

// EntityStore reads and writes the entities of one type. Heights are block
// heights; every mutation of a block uses that block's height.
type EntityStore interface {
	Get(ctx context.Context, id string) (entity.Record, error)
	GetByFields(ctx context.Context, filters []entity.Filter, opts entity.QueryOptions) ([]entity.Record, error)
	Set(ctx context.Context, id string, data entity.Record, height int64) error
	BulkCreate(ctx context.Context, recs []entity.Record, height int64) error
	BulkUpdate(ctx context.Context, recs []entity.Record, height int64, fields ...string) error
	Remove(ctx context.Context, id string, height int64) error
	BulkRemove(ctx context.Context, ids []string, height int64) error
}

// MetadataStore reads and writes indexer metadata.
type MetadataStore interface {
	Find(ctx context.Context, key metadata.Key) (any, bool, error)
	FindMany(ctx context.Context, keys ...metadata.Key) (map[metadata.Key]any, error)
	Set(ctx context.Context, key metadata.Key, value any) error
	SetIncrement(ctx context.Context, key metadata.Key, amount int64) error
	SetNewDynamicDatasource(ctx context.Context, item metadata.DynamicDatasource) error
	Datasources(ctx context.Context) ([]metadata.DynamicDatasource, error)
}

// Store is what the indexing pipeline talks to. Cached buffers writes and
// flushes them in the background; Direct writes them immediately.
type Store interface {
	Entity(name string) (EntityStore, error)
	Metadata() MetadataStore
	// ApplyPendingChanges marks height as processed. final forces the
	// changes up to height to be persisted before it returns.
	ApplyPendingChanges(ctx context.Context, height int64, final bool) error
	// Rewind drops every persisted change above target.
	Rewind(ctx context.Context, target int64) error
	Shutdown(ctx context.Context) error
}

// Interface assertions
var (
	_ Store = (*Cached)(nil)
	_ Store = (*Direct)(nil)
)

// IsFatal reports whether err breaks an invariant of the cache. Indexing
// must stop on a fatal error; other errors are retried by the next flush.
func IsFatal(err error) bool {
	var gerr *goerrors.Error
	if !errors.As(err, &gerr) {
		return false
	}
	return gerr.Severity >= goerrors.SeverityCritical
}

func unknownEntity(name string) error {
	return goerrors.New("unknown entity "+name, goerrors.CategoryBadInput).
		WithMetadata(map[string]any{"entity": name})
}

func schemaIndex(schemas []*entity.Schema) (map[string]*entity.Schema, error) {
	out := make(map[string]*entity.Schema, len(schemas))
	for _, sc := range schemas {
		if sc == nil {
			return nil, goerrors.New("nil entity schema", goerrors.CategoryBadInput)
		}
		if err := sc.Check(); err != nil {
			return nil, err
		}
		if _, dup := out[sc.Name]; dup {
			return nil, goerrors.New("duplicate entity schema "+sc.Name, goerrors.CategoryBadInput)
		}
		out[sc.Name] = sc
	}
	return out, nil
}
