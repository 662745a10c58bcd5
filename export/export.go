// Package export streams the rows written by a flush to secondary sinks.
//
// An Exporter sees every row a flush writes, inside the flush transaction.
// Returning an error aborts the transaction. Exporters that buffer output
// implement Committer so staged rows are only released once the
// transaction has committed.
package export

import (
	"context"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-indexer-cache/entity"
)

// CategoryExport marks errors raised by exporters.
var CategoryExport = goerrors.CategoryExternal.Extend("export")

// Row is one row written by a flush. For historical entities it is a
// version with its block range, identified by id and StartHeight; a stored
// version that gets closed is sent again carrying its EndHeight. For other
// entities Removed marks a delete.
type Row struct {
	Entity      string
	Record      entity.Record
	StartHeight int64
	EndHeight   *int64
	Removed     bool
}

// Exporter receives the rows of a flush.
type Exporter interface {
	Export(ctx context.Context, rows []Row) error
}

// Committer is implemented by exporters that stage rows per transaction.
type Committer interface {
	Commit() error
	Rollback()
}

// Wrap tags err as an export failure of the named entity.
func Wrap(err error, name string) error {
	if err == nil {
		return nil
	}
	return goerrors.Wrap(err, CategoryExport, "export "+name).
		WithMetadata(map[string]any{"entity": name})
}
