package store

import (
	"fmt"
	"strings"

	"github.com/goliatone/go-indexer-cache/entity"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
	"github.com/uptrace/bun/schema"
)

const (
	internalIDColumn = "_id"
	idColumn         = entity.IDField
	startColumn      = "__block_start"
	endColumn        = "__block_end"
	rangeColumn      = "__block_range"
)

// Dialect holds the SQL that differs between the supported databases. Range
// predicates only apply to historical tables.
type Dialect interface {
	Name() dialect.Name

	CreateEntityTable(sc *entity.Schema) []string
	CreateMetadataTable(table string) []string

	// SelectRange selects the block range as __block_start, __block_end.
	SelectRange() string
	// RangeColumns and RangeValues are the insert side of the block range.
	RangeColumns() string
	RangeValues(start int64, end *int64) schema.QueryWithArgs

	IsOpen() string
	StartBefore(h int64) schema.QueryWithArgs
	StartAt(h int64) schema.QueryWithArgs
	StartAfter(h int64) schema.QueryWithArgs
	EndAfter(h int64) schema.QueryWithArgs
	Covers(h int64) schema.QueryWithArgs

	// CloseAt and Reopen are SET clauses.
	CloseAt(h int64) schema.QueryWithArgs
	Reopen() string

	// NoLimit is the LIMIT argument that places no bound, for an OFFSET
	// without a limit.
	NoLimit() string

	// Distinct is the null safe inequality.
	Distinct(column string, v any) schema.QueryWithArgs

	UpsertMetadata(table, key, value string) schema.QueryWithArgs
	IncrementMetadata(table, key string, amount int64) schema.QueryWithArgs
	AppendMetadata(table, key string, items []string) schema.QueryWithArgs
	SelectMetadataValue() string
}

func dialectFor(db *bun.DB) (Dialect, error) {
	switch name := db.Dialect().Name(); name {
	case dialect.PG:
		return postgresDialect{}, nil
	case dialect.SQLite:
		return sqliteDialect{}, nil
	default:
		return nil, fmt.Errorf("unsupported dialect %s", name)
	}
}

func quote(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func optional(end *int64) any {
	if end == nil {
		return nil
	}
	return *end
}

type columnDef struct {
	name    string
	typ     string
	notNull bool
}

func fieldColumns(sc *entity.Schema, typeOf func(entity.FieldType) string) []columnDef {
	cols := make([]columnDef, 0, len(sc.Fields))
	for _, f := range sc.Fields {
		cols = append(cols, columnDef{name: f.ColumnName(), typ: typeOf(f.Type), notNull: f.Required})
	}
	return cols
}

func createTable(table string, cols []columnDef, constraints ...string) string {
	var b strings.Builder
	b.WriteString("CREATE TABLE IF NOT EXISTS ")
	b.WriteString(quote(table))
	b.WriteString(" (\n")
	for i, c := range cols {
		if i > 0 {
			b.WriteString(",\n")
		}
		b.WriteString("  ")
		b.WriteString(quote(c.name))
		b.WriteByte(' ')
		b.WriteString(c.typ)
		if c.notNull {
			b.WriteString(" NOT NULL")
		}
	}
	for _, c := range constraints {
		b.WriteString(",\n  ")
		b.WriteString(c)
	}
	b.WriteString("\n)")
	return b.String()
}
