package store

import (
	"strings"

	"github.com/goliatone/go-indexer-cache/entity"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
	"github.com/uptrace/bun/schema"
)

// postgresDialect stores the block range in a single int8range column.
type postgresDialect struct{}

func (postgresDialect) Name() dialect.Name { return dialect.PG }

func (postgresDialect) columnType(t entity.FieldType) string {
	switch t {
	case entity.Int:
		return "bigint"
	case entity.Float:
		return "double precision"
	case entity.Bool:
		return "boolean"
	case entity.JSON:
		return "jsonb"
	}
	return "text"
}

func (d postgresDialect) CreateEntityTable(sc *entity.Schema) []string {
	table := sc.TableName()
	fields := fieldColumns(sc, d.columnType)

	if !sc.Historical {
		cols := append([]columnDef{{name: idColumn, typ: "text PRIMARY KEY"}}, fields...)
		return []string{createTable(table, cols)}
	}

	cols := []columnDef{
		{name: internalIDColumn, typ: "uuid PRIMARY KEY"},
		{name: idColumn, typ: "text", notNull: true},
	}
	cols = append(cols, fields...)
	cols = append(cols, columnDef{name: rangeColumn, typ: "int8range", notNull: true})

	return []string{
		createTable(table, cols),
		"CREATE INDEX IF NOT EXISTS " + quote(table+"_id_idx") + " ON " + quote(table) + " (" + quote(idColumn) + ")",
		"CREATE INDEX IF NOT EXISTS " + quote(table+"_block_range_idx") + " ON " + quote(table) + " USING gist (" + quote(rangeColumn) + ")",
		"CREATE UNIQUE INDEX IF NOT EXISTS " + quote(table+"_id_start_key") + " ON " + quote(table) +
			" (" + quote(idColumn) + ", lower(" + quote(rangeColumn) + "))",
	}
}

func (postgresDialect) CreateMetadataTable(table string) []string {
	return []string{createTable(table, []columnDef{
		{name: "key", typ: "text PRIMARY KEY"},
		{name: "value", typ: "jsonb"},
		{name: "updatedAt", typ: "timestamptz NOT NULL DEFAULT now()"},
	})}
}

func (postgresDialect) SelectRange() string {
	return `lower("__block_range") AS "__block_start", upper("__block_range") AS "__block_end"`
}

func (postgresDialect) RangeColumns() string { return quote(rangeColumn) }

func (postgresDialect) RangeValues(start int64, end *int64) schema.QueryWithArgs {
	return bun.SafeQuery("int8range(?, ?)", start, optional(end))
}

func (postgresDialect) IsOpen() string { return `upper_inf("__block_range")` }

func (postgresDialect) StartBefore(h int64) schema.QueryWithArgs {
	return bun.SafeQuery(`lower("__block_range") < ?`, h)
}

func (postgresDialect) StartAt(h int64) schema.QueryWithArgs {
	return bun.SafeQuery(`lower("__block_range") = ?`, h)
}

func (postgresDialect) StartAfter(h int64) schema.QueryWithArgs {
	return bun.SafeQuery(`lower("__block_range") > ?`, h)
}

func (postgresDialect) EndAfter(h int64) schema.QueryWithArgs {
	return bun.SafeQuery(`upper("__block_range") > ?`, h)
}

func (postgresDialect) Covers(h int64) schema.QueryWithArgs {
	return bun.SafeQuery(`"__block_range" @> ?::int8`, h)
}

func (postgresDialect) CloseAt(h int64) schema.QueryWithArgs {
	return bun.SafeQuery(`"__block_range" = int8range(lower("__block_range"), ?)`, h)
}

func (postgresDialect) Reopen() string {
	return `"__block_range" = int8range(lower("__block_range"), NULL)`
}

func (postgresDialect) NoLimit() string { return "ALL" }

func (postgresDialect) Distinct(column string, v any) schema.QueryWithArgs {
	return bun.SafeQuery(quote(column)+" IS DISTINCT FROM ?", v)
}

func (postgresDialect) UpsertMetadata(table, key, value string) schema.QueryWithArgs {
	return bun.SafeQuery(`INSERT INTO ? ("key", "value", "updatedAt") VALUES (?, ?::jsonb, now())
ON CONFLICT ("key") DO UPDATE SET "value" = EXCLUDED."value", "updatedAt" = EXCLUDED."updatedAt"`,
		bun.Ident(table), key, value)
}

func (postgresDialect) IncrementMetadata(table, key string, amount int64) schema.QueryWithArgs {
	return bun.SafeQuery(`INSERT INTO ? ("key", "value", "updatedAt") VALUES (?, to_jsonb(?::bigint), now())
ON CONFLICT ("key") DO UPDATE SET "value" = to_jsonb(COALESCE((?."value" #>> '{}')::bigint, 0) + ?::bigint), "updatedAt" = now()`,
		bun.Ident(table), key, amount, bun.Ident(table), amount)
}

func (postgresDialect) AppendMetadata(table, key string, items []string) schema.QueryWithArgs {
	arr := "[" + strings.Join(items, ",") + "]"
	return bun.SafeQuery(`INSERT INTO ? ("key", "value", "updatedAt") VALUES (?, ?::jsonb, now())
ON CONFLICT ("key") DO UPDATE SET "value" = COALESCE(?."value", '[]'::jsonb) || EXCLUDED."value", "updatedAt" = now()`,
		bun.Ident(table), key, arr, bun.Ident(table))
}

func (postgresDialect) SelectMetadataValue() string { return `"value"::text AS "value"` }
