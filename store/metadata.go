package store

import (
	"context"
	"encoding/json"

	"github.com/uptrace/bun"
	"go.uber.org/zap"
)

// GetMetadata reads metadata values by key. Missing keys are absent from the
// result map.
func (s *Store) GetMetadata(ctx context.Context, idb bun.IDB, keys ...string) (map[string]json.RawMessage, error) {
	out := make(map[string]json.RawMessage, len(keys))
	if len(keys) == 0 {
		return out, nil
	}

	q := `SELECT "key", ` + s.dialect.SelectMetadataValue() + ` FROM ? WHERE "key" IN (?)`
	var rows []map[string]any
	if err := idb.NewRaw(q, bun.Ident(s.metadataTable), bun.In(keys)).Scan(ctx, &rows); err != nil {
		return nil, external(err, "select metadata")
	}
	for _, row := range rows {
		key, _ := asText(row["key"])
		raw, ok := asText(row["value"])
		if !ok {
			continue
		}
		out[key] = json.RawMessage(raw)
	}
	return out, nil
}

func asText(v any) (string, bool) {
	switch x := v.(type) {
	case string:
		return x, true
	case []byte:
		return string(x), true
	case int64:
		b, _ := json.Marshal(x)
		return string(b), true
	case float64:
		b, _ := json.Marshal(x)
		return string(b), true
	}
	return "", false
}

// SetMetadata upserts JSON encoded values.
func (s *Store) SetMetadata(ctx context.Context, idb bun.IDB, values map[string]any) error {
	for key, v := range values {
		b, err := json.Marshal(v)
		if err != nil {
			return externalf(err, "encode metadata %s", key)
		}
		if _, err := idb.NewRaw("?", s.dialect.UpsertMetadata(s.metadataTable, key, string(b))).Exec(ctx); err != nil {
			return externalf(err, "set metadata %s", key)
		}
	}
	return nil
}

// IncrementMetadata adds amount to a numeric value in a single statement, so
// concurrent writers do not lose updates. A missing key starts at zero.
func (s *Store) IncrementMetadata(ctx context.Context, idb bun.IDB, key string, amount int64) error {
	if amount == 0 {
		return nil
	}
	if _, err := idb.NewRaw("?", s.dialect.IncrementMetadata(s.metadataTable, key, amount)).Exec(ctx); err != nil {
		return externalf(err, "increment metadata %s", key)
	}
	s.logger.Debug("metadata incremented", zap.String("key", key), zap.Int64("amount", amount))
	return nil
}

// AppendMetadata appends items to a JSON array value in a single statement.
func (s *Store) AppendMetadata(ctx context.Context, idb bun.IDB, key string, items []any) error {
	if len(items) == 0 {
		return nil
	}
	encoded := make([]string, len(items))
	for i, item := range items {
		b, err := json.Marshal(item)
		if err != nil {
			return externalf(err, "encode metadata %s", key)
		}
		encoded[i] = string(b)
	}
	if _, err := idb.NewRaw("?", s.dialect.AppendMetadata(s.metadataTable, key, encoded)).Exec(ctx); err != nil {
		return externalf(err, "append metadata %s", key)
	}
	return nil
}
