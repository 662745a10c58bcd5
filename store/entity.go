package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/goliatone/go-indexer-cache/entity"
	"github.com/goliatone/go-indexer-cache/history"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/schema"
	"go.uber.org/zap"
)

func selectColumns(sc *entity.Schema) string {
	cols := make([]string, 0, len(sc.Fields)+1)
	cols = append(cols, quote(idColumn))
	for _, f := range sc.Fields {
		cols = append(cols, quote(f.ColumnName()))
	}
	return strings.Join(cols, ", ")
}

// decodeRow maps a scanned row back to field names and canonical types.
func decodeRow(sc *entity.Schema, row map[string]any) (entity.Record, error) {
	rec := make(entity.Record, len(sc.Fields)+1)
	id, err := entity.Coerce(entity.String, row[idColumn])
	if err != nil {
		return nil, fmt.Errorf("decode %s.id: %w", sc.Name, err)
	}
	rec[entity.IDField] = id
	for _, f := range sc.Fields {
		v, err := entity.Coerce(f.Type, row[f.ColumnName()])
		if err != nil {
			return nil, fmt.Errorf("decode %s.%s: %w", sc.Name, f.Name, err)
		}
		rec[f.Name] = v
	}
	return rec, nil
}

func encodeRecord(sc *entity.Schema, rec entity.Record) ([]any, error) {
	vals := make([]any, 0, len(sc.Fields)+1)
	vals = append(vals, rec.ID())
	for _, f := range sc.Fields {
		v, err := f.Encode(rec[f.Name])
		if err != nil {
			return nil, fmt.Errorf("encode %s.%s: %w", sc.Name, f.Name, err)
		}
		vals = append(vals, v)
	}
	return vals, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func (s *Store) scanOne(ctx context.Context, idb bun.IDB, sc *entity.Schema, q string, args ...any) (entity.Record, error) {
	var rows []map[string]any
	if err := idb.NewRaw(q, args...).Scan(ctx, &rows); err != nil {
		return nil, externalf(err, "select %s", sc.Name)
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	rec, err := decodeRow(sc, rows[0])
	if err != nil {
		return nil, external(err, "decode row")
	}
	return rec, nil
}

// Get returns the current value of an entity.
func (s *Store) Get(ctx context.Context, idb bun.IDB, sc *entity.Schema, id string) (entity.Record, error) {
	q := "SELECT " + selectColumns(sc) + " FROM ? WHERE " + quote(idColumn) + " = ?"
	if sc.Historical {
		q += " AND " + s.dialect.IsOpen()
	}
	return s.scanOne(ctx, idb, sc, q+" LIMIT 1", bun.Ident(sc.TableName()), id)
}

// GetAt returns the value an entity had at height h. Non-historical tables
// only know the current value.
func (s *Store) GetAt(ctx context.Context, idb bun.IDB, sc *entity.Schema, id string, h int64) (entity.Record, error) {
	if !sc.Historical {
		return s.Get(ctx, idb, sc, id)
	}
	q := "SELECT " + selectColumns(sc) + " FROM ? WHERE " + quote(idColumn) + " = ? AND ? LIMIT 1"
	return s.scanOne(ctx, idb, sc, q, bun.Ident(sc.TableName()), id, s.dialect.Covers(h))
}

// History returns the stored versions of an entity ordered by start height.
func (s *Store) History(ctx context.Context, idb bun.IDB, sc *entity.Schema, id string) ([]history.Version, error) {
	if !sc.Historical {
		rec, err := s.Get(ctx, idb, sc, id)
		if err != nil {
			return nil, err
		}
		return []history.Version{{Data: rec}}, nil
	}

	q := "SELECT " + selectColumns(sc) + ", " + s.dialect.SelectRange() +
		" FROM ? WHERE " + quote(idColumn) + " = ? ORDER BY " + quote(startColumn)
	var rows []map[string]any
	if err := idb.NewRaw(q, bun.Ident(sc.TableName()), id).Scan(ctx, &rows); err != nil {
		return nil, externalf(err, "select %s history", sc.Name)
	}
	return decodeVersions(sc, rows)
}

func decodeVersions(sc *entity.Schema, rows []map[string]any) ([]history.Version, error) {
	out := make([]history.Version, 0, len(rows))
	for _, row := range rows {
		rec, err := decodeRow(sc, row)
		if err != nil {
			return nil, external(err, "decode row")
		}
		start, err := entity.Coerce(entity.Int, row[startColumn])
		if err != nil {
			return nil, external(err, "decode block range")
		}
		v := history.Version{Data: rec, StartHeight: start.(int64)}
		if end, err := entity.Coerce(entity.Int, row[endColumn]); err != nil {
			return nil, external(err, "decode block range")
		} else if end != nil {
			e := end.(int64)
			v.EndHeight = &e
		}
		out = append(out, v)
	}
	return out, nil
}

// Find returns current rows matching every filter, excluding the given ids.
func (s *Store) Find(ctx context.Context, idb bun.IDB, sc *entity.Schema, filters []entity.Filter, opts entity.QueryOptions, exclude []string) ([]entity.Record, error) {
	if err := sc.CheckFilters(filters); err != nil {
		return nil, err
	}

	var (
		where []string
		args  = []any{bun.Ident(sc.TableName())}
	)
	if sc.Historical {
		where = append(where, s.dialect.IsOpen())
	}
	for _, f := range filters {
		cond, err := s.filterClause(sc, f)
		if err != nil {
			return nil, err
		}
		where = append(where, "?")
		args = append(args, cond)
	}
	if len(exclude) > 0 {
		where = append(where, quote(idColumn)+" NOT IN (?)")
		args = append(args, bun.In(exclude))
	}

	q := "SELECT " + selectColumns(sc) + " FROM ?"
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}

	order := idColumn
	if opts.OrderBy != "" {
		f, ok := sc.Field(opts.OrderBy)
		if !ok {
			return nil, fmt.Errorf("unknown order field %s.%s", sc.Name, opts.OrderBy)
		}
		order = f.ColumnName()
	}
	dir := " ASC"
	if opts.Desc {
		dir = " DESC"
	}
	q += " ORDER BY " + quote(order) + dir
	if order != idColumn {
		q += ", " + quote(idColumn) + dir
	}
	switch {
	case opts.Limit > 0:
		q += " LIMIT ?"
		args = append(args, opts.Limit)
	case opts.Offset > 0:
		q += " LIMIT " + s.dialect.NoLimit()
	}
	if opts.Offset > 0 {
		q += " OFFSET ?"
		args = append(args, opts.Offset)
	}

	var rows []map[string]any
	if err := idb.NewRaw(q, args...).Scan(ctx, &rows); err != nil {
		return nil, externalf(err, "query %s", sc.Name)
	}
	out := make([]entity.Record, 0, len(rows))
	for _, row := range rows {
		rec, err := decodeRow(sc, row)
		if err != nil {
			return nil, external(err, "decode row")
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *Store) filterClause(sc *entity.Schema, f entity.Filter) (schema.QueryWithArgs, error) {
	field, _ := sc.Field(f.Field)
	col := field.ColumnName()

	values, err := f.Values()
	if err != nil {
		return schema.QueryWithArgs{}, err
	}
	encoded := make([]any, len(values))
	for i, v := range values {
		if encoded[i], err = field.Encode(v); err != nil {
			return schema.QueryWithArgs{}, err
		}
	}

	switch f.Op {
	case entity.OpEqual:
		if encoded[0] == nil {
			return bun.SafeQuery(quote(col) + " IS NULL"), nil
		}
		return bun.SafeQuery(quote(col)+" = ?", encoded[0]), nil
	case entity.OpNotEqual:
		return s.dialect.Distinct(col, encoded[0]), nil
	case entity.OpIn:
		if len(encoded) == 0 {
			return bun.SafeQuery("1 = 0"), nil
		}
		return bun.SafeQuery(quote(col)+" IN (?)", bun.In(encoded)), nil
	case entity.OpNotIn:
		if len(encoded) == 0 {
			return bun.SafeQuery("1 = 1"), nil
		}
		return bun.SafeQuery("("+quote(col)+" IS NULL OR "+quote(col)+" NOT IN (?))", bun.In(encoded)), nil
	}
	return schema.QueryWithArgs{}, fmt.Errorf("unsupported operator %q", f.Op)
}

// CloseVersions ends the open versions of ids at height h and returns them
// with their new range. Versions that start at or after h are left alone, so
// a replayed close returns nothing.
func (s *Store) CloseVersions(ctx context.Context, idb bun.IDB, sc *entity.Schema, ids []string, h int64) ([]history.Version, error) {
	if len(ids) == 0 || !sc.Historical {
		return nil, nil
	}
	q := "UPDATE ? SET ? WHERE " + quote(idColumn) + " IN (?) AND " + s.dialect.IsOpen() + " AND ?" +
		" RETURNING " + selectColumns(sc) + ", " + s.dialect.SelectRange()
	var rows []map[string]any
	if err := idb.NewRaw(q, bun.Ident(sc.TableName()), s.dialect.CloseAt(h), bun.In(ids), s.dialect.StartBefore(h)).Scan(ctx, &rows); err != nil {
		return nil, externalf(err, "close %s versions", sc.Name)
	}
	return decodeVersions(sc, rows)
}

// InsertVersions writes historical rows. A row whose (id, start height)
// already exists is skipped.
func (s *Store) InsertVersions(ctx context.Context, idb bun.IDB, sc *entity.Schema, versions []history.Version) error {
	if len(versions) == 0 {
		return nil
	}
	if !sc.Historical {
		return fmt.Errorf("%s is not historical", sc.Name)
	}

	head := "INSERT INTO ? (" + quote(internalIDColumn) + ", " + selectColumns(sc) + ", " + s.dialect.RangeColumns() + ") VALUES "
	row := "(?, " + placeholders(len(sc.Fields)+1) + ", ?)"

	for start := 0; start < len(versions); start += s.batchSize {
		end := min(start+s.batchSize, len(versions))
		batch := versions[start:end]

		rows := make([]string, 0, len(batch))
		args := []any{bun.Ident(sc.TableName())}
		for _, v := range batch {
			vals, err := encodeRecord(sc, v.Data)
			if err != nil {
				return external(err, "encode row")
			}
			args = append(args, uuid.NewString())
			args = append(args, vals...)
			args = append(args, s.dialect.RangeValues(v.StartHeight, v.EndHeight))
			rows = append(rows, row)
		}

		q := head + strings.Join(rows, ", ") + " ON CONFLICT DO NOTHING"
		if _, err := idb.NewRaw(q, args...).Exec(ctx); err != nil {
			return externalf(err, "insert %s versions", sc.Name)
		}
	}
	s.logger.Debug("versions inserted", zap.String("entity", sc.Name), zap.Int("records", len(versions)))
	return nil
}

// Upsert writes the latest value of non-historical entities.
func (s *Store) Upsert(ctx context.Context, idb bun.IDB, sc *entity.Schema, recs []entity.Record) error {
	if len(recs) == 0 {
		return nil
	}
	if sc.Historical {
		return fmt.Errorf("%s is historical", sc.Name)
	}

	conflict := " ON CONFLICT (" + quote(idColumn) + ") DO NOTHING"
	if len(sc.Fields) > 0 {
		sets := make([]string, 0, len(sc.Fields))
		for _, f := range sc.Fields {
			col := quote(f.ColumnName())
			sets = append(sets, col+" = excluded."+col)
		}
		conflict = " ON CONFLICT (" + quote(idColumn) + ") DO UPDATE SET " + strings.Join(sets, ", ")
	}
	head := "INSERT INTO ? (" + selectColumns(sc) + ") VALUES "
	row := "(" + placeholders(len(sc.Fields)+1) + ")"

	for start := 0; start < len(recs); start += s.batchSize {
		end := min(start+s.batchSize, len(recs))

		rows := make([]string, 0, end-start)
		args := []any{bun.Ident(sc.TableName())}
		for _, rec := range recs[start:end] {
			vals, err := encodeRecord(sc, rec)
			if err != nil {
				return external(err, "encode row")
			}
			args = append(args, vals...)
			rows = append(rows, row)
		}

		q := head + strings.Join(rows, ", ") + conflict
		if _, err := idb.NewRaw(q, args...).Exec(ctx); err != nil {
			return externalf(err, "upsert %s", sc.Name)
		}
	}
	return nil
}

// Delete removes rows by id. On historical tables every version goes.
func (s *Store) Delete(ctx context.Context, idb bun.IDB, sc *entity.Schema, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	q := "DELETE FROM ? WHERE " + quote(idColumn) + " IN (?)"
	if _, err := idb.NewRaw(q, bun.Ident(sc.TableName()), bun.In(ids)).Exec(ctx); err != nil {
		return externalf(err, "delete %s", sc.Name)
	}
	return nil
}

// DeleteVersionAt removes the version of id starting at height h.
func (s *Store) DeleteVersionAt(ctx context.Context, idb bun.IDB, sc *entity.Schema, id string, h int64) error {
	q := "DELETE FROM ? WHERE " + quote(idColumn) + " = ? AND ?"
	if _, err := idb.NewRaw(q, bun.Ident(sc.TableName()), id, s.dialect.StartAt(h)).Exec(ctx); err != nil {
		return externalf(err, "delete %s version", sc.Name)
	}
	return nil
}

// RewindEntity discards every version starting after target and reopens the
// versions that were closed after it.
func (s *Store) RewindEntity(ctx context.Context, idb bun.IDB, sc *entity.Schema, target int64) error {
	if !sc.Historical {
		return fmt.Errorf("%s is not historical and cannot be rewound", sc.Name)
	}
	table := bun.Ident(sc.TableName())

	if _, err := idb.NewRaw("DELETE FROM ? WHERE ?", table, s.dialect.StartAfter(target)).Exec(ctx); err != nil {
		return externalf(err, "rewind %s", sc.Name)
	}
	if _, err := idb.NewRaw("UPDATE ? SET "+s.dialect.Reopen()+" WHERE ?", table, s.dialect.EndAfter(target)).Exec(ctx); err != nil {
		return externalf(err, "rewind %s", sc.Name)
	}
	s.logger.Debug("entity rewound", zap.String("entity", sc.Name), zap.Int64("height", target))
	return nil
}
