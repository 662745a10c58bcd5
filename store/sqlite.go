package store

import (
	"strings"

	"github.com/goliatone/go-indexer-cache/entity"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
	"github.com/uptrace/bun/schema"
)

// sqliteDialect has no range type, so the block range is split into two
// integer columns. Metadata values are JSON text.
type sqliteDialect struct{}

func (sqliteDialect) Name() dialect.Name { return dialect.SQLite }

func (sqliteDialect) columnType(t entity.FieldType) string {
	switch t {
	case entity.Int, entity.Bool:
		return "INTEGER"
	case entity.Float:
		return "REAL"
	}
	return "TEXT"
}

func (d sqliteDialect) CreateEntityTable(sc *entity.Schema) []string {
	table := sc.TableName()
	fields := fieldColumns(sc, d.columnType)

	if !sc.Historical {
		cols := append([]columnDef{{name: idColumn, typ: "TEXT PRIMARY KEY"}}, fields...)
		return []string{createTable(table, cols)}
	}

	cols := []columnDef{
		{name: internalIDColumn, typ: "TEXT PRIMARY KEY"},
		{name: idColumn, typ: "TEXT", notNull: true},
	}
	cols = append(cols, fields...)
	cols = append(cols,
		columnDef{name: startColumn, typ: "INTEGER", notNull: true},
		columnDef{name: endColumn, typ: "INTEGER"},
	)

	return []string{
		createTable(table, cols, "UNIQUE ("+quote(idColumn)+", "+quote(startColumn)+")"),
		"CREATE INDEX IF NOT EXISTS " + quote(table+"_id_end_idx") + " ON " + quote(table) +
			" (" + quote(idColumn) + ", " + quote(endColumn) + ")",
	}
}

func (sqliteDialect) CreateMetadataTable(table string) []string {
	return []string{createTable(table, []columnDef{
		{name: "key", typ: "TEXT PRIMARY KEY"},
		{name: "value", typ: "TEXT"},
		{name: "updatedAt", typ: "TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP"},
	})}
}

func (sqliteDialect) SelectRange() string { return `"__block_start", "__block_end"` }

func (sqliteDialect) RangeColumns() string { return quote(startColumn) + ", " + quote(endColumn) }

func (sqliteDialect) RangeValues(start int64, end *int64) schema.QueryWithArgs {
	return bun.SafeQuery("?, ?", start, optional(end))
}

func (sqliteDialect) IsOpen() string { return `"__block_end" IS NULL` }

func (sqliteDialect) StartBefore(h int64) schema.QueryWithArgs {
	return bun.SafeQuery(`"__block_start" < ?`, h)
}

func (sqliteDialect) StartAt(h int64) schema.QueryWithArgs {
	return bun.SafeQuery(`"__block_start" = ?`, h)
}

func (sqliteDialect) StartAfter(h int64) schema.QueryWithArgs {
	return bun.SafeQuery(`"__block_start" > ?`, h)
}

func (sqliteDialect) EndAfter(h int64) schema.QueryWithArgs {
	return bun.SafeQuery(`"__block_end" > ?`, h)
}

func (sqliteDialect) Covers(h int64) schema.QueryWithArgs {
	return bun.SafeQuery(`"__block_start" <= ? AND ("__block_end" IS NULL OR "__block_end" > ?)`, h, h)
}

func (sqliteDialect) CloseAt(h int64) schema.QueryWithArgs {
	return bun.SafeQuery(`"__block_end" = ?`, h)
}

func (sqliteDialect) Reopen() string { return `"__block_end" = NULL` }

func (sqliteDialect) NoLimit() string { return "-1" }

func (sqliteDialect) Distinct(column string, v any) schema.QueryWithArgs {
	return bun.SafeQuery(quote(column)+" IS NOT ?", v)
}

func (sqliteDialect) UpsertMetadata(table, key, value string) schema.QueryWithArgs {
	return bun.SafeQuery(`INSERT INTO ? ("key", "value", "updatedAt") VALUES (?, json(?), CURRENT_TIMESTAMP)
ON CONFLICT ("key") DO UPDATE SET "value" = excluded."value", "updatedAt" = excluded."updatedAt"`,
		bun.Ident(table), key, value)
}

func (sqliteDialect) IncrementMetadata(table, key string, amount int64) schema.QueryWithArgs {
	return bun.SafeQuery(`INSERT INTO ? ("key", "value", "updatedAt") VALUES (?, ?, CURRENT_TIMESTAMP)
ON CONFLICT ("key") DO UPDATE SET "value" = COALESCE(CAST(?."value" AS INTEGER), 0) + ?, "updatedAt" = CURRENT_TIMESTAMP`,
		bun.Ident(table), key, amount, bun.Ident(table), amount)
}

// AppendMetadata nests one json_insert per item so the whole append stays a
// single statement.
func (sqliteDialect) AppendMetadata(table, key string, items []string) schema.QueryWithArgs {
	expr := `COALESCE(?."value", '[]')`
	args := []any{bun.Ident(table), key, "[" + strings.Join(items, ",") + "]", bun.Ident(table)}
	for _, item := range items {
		expr = `json_insert(` + expr + `, '$[#]', json(?))`
		args = append(args, item)
	}
	return bun.SafeQuery(`INSERT INTO ? ("key", "value", "updatedAt") VALUES (?, json(?), CURRENT_TIMESTAMP)
ON CONFLICT ("key") DO UPDATE SET "value" = `+expr+`, "updatedAt" = CURRENT_TIMESTAMP`, args...)
}

func (sqliteDialect) SelectMetadataValue() string { return `"value"` }
