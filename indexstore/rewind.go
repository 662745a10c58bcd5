package indexstore

import (
	"context"
	"sort"

	"github.com/goliatone/go-indexer-cache/entity"
	"github.com/goliatone/go-indexer-cache/metadata"
	"github.com/goliatone/go-indexer-cache/store"
	"github.com/uptrace/bun"
	"go.uber.org/zap"
)

func sortedSchemas(index map[string]*entity.Schema) []*entity.Schema {
	out := make([]*entity.Schema, 0, len(index))
	for _, sc := range index {
		out = append(out, sc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// rewindTables drops stored versions above target, trims the datasource list
// and records target as the last processed height.
func rewindTables(ctx context.Context, st *store.Store, idb bun.IDB, schemas []*entity.Schema, datasources []metadata.DynamicDatasource, target int64, logger *zap.Logger) error {
	for _, sc := range schemas {
		if !sc.Historical {
			logger.Warn("entity is not historical, rewind keeps its rows", zap.String("entity", sc.Name))
			continue
		}
		if err := st.RewindEntity(ctx, idb, sc, target); err != nil {
			return err
		}
	}
	values := map[string]any{string(metadata.LastProcessedHeight): target}
	if datasources != nil {
		values[string(metadata.DynamicDatasources)] = metadata.TrimDatasources(datasources, target)
	}
	return st.SetMetadata(ctx, idb, values)
}
