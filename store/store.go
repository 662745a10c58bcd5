package store

import (
	"context"
	"errors"
	"fmt"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-indexer-cache/entity"
	"github.com/uptrace/bun"
	"go.uber.org/zap"
)

// DefaultMetadataTable is the key/value table holding indexer metadata.
const DefaultMetadataTable = "_metadata"

// ErrNotFound is returned when no row matches a lookup.
var ErrNotFound = errors.New("store: row not found")

// Store runs the entity and metadata statements against a bun database. All
// statement methods take the bun.IDB to run on, so they work both on the
// database and inside a *Tx.
type Store struct {
	db            *bun.DB
	dialect       Dialect
	metadataTable string
	batchSize     int
	logger        *zap.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for statement level debug output.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetadataTable overrides DefaultMetadataTable.
func WithMetadataTable(name string) Option {
	return func(s *Store) {
		if name != "" {
			s.metadataTable = name
		}
	}
}

// WithBatchSize caps the number of rows written per INSERT statement.
func WithBatchSize(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// New wraps db. The dialect is picked from the bun dialect of db.
func New(db *bun.DB, opts ...Option) (*Store, error) {
	if db == nil {
		return nil, goerrors.New("store requires a database", goerrors.CategoryBadInput)
	}
	d, err := dialectFor(db)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryBadInput, "select store dialect")
	}
	s := &Store{
		db:            db,
		dialect:       d,
		metadataTable: DefaultMetadataTable,
		batchSize:     500,
		logger:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// DB returns the underlying database.
func (s *Store) DB() *bun.DB { return s.db }

// Dialect returns the SQL dialect in use.
func (s *Store) Dialect() Dialect { return s.dialect }

// MetadataTable returns the metadata table name.
func (s *Store) MetadataTable() string { return s.metadataTable }

// EnsureSchema creates the metadata table and one table per schema.
func (s *Store) EnsureSchema(ctx context.Context, schemas ...*entity.Schema) error {
	stmts := s.dialect.CreateMetadataTable(s.metadataTable)
	for _, sc := range schemas {
		if err := sc.Check(); err != nil {
			return err
		}
		stmts = append(stmts, s.dialect.CreateEntityTable(sc)...)
	}
	for _, stmt := range stmts {
		if _, err := s.db.NewRaw(stmt).Exec(ctx); err != nil {
			return external(err, "create schema")
		}
	}
	s.logger.Debug("schema ensured", zap.Int("entities", len(schemas)), zap.String("dialect", s.dialect.Name().String()))
	return nil
}

func external(err error, msg string) error {
	if err == nil {
		return nil
	}
	return goerrors.Wrap(err, goerrors.CategoryExternal, msg)
}

func externalf(err error, format string, args ...any) error {
	return external(err, fmt.Sprintf(format, args...))
}
