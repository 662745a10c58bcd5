package export

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-indexer-cache/entity"
	"go.uber.org/zap"
)

// CSV appends the rows of one entity type to <dir>/<table>.csv. Rows are
// staged by Export and written by Commit.
type CSV struct {
	path    string
	schema  *entity.Schema
	columns []string
	logger  *zap.Logger

	mu     sync.Mutex
	staged [][]string
}

// CSVOption configures a CSV exporter.
type CSVOption func(*CSV)

// WithCSVLogger sets the logger.
func WithCSVLogger(l *zap.Logger) CSVOption {
	return func(c *CSV) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewCSV creates an exporter for sc writing under dir.
func NewCSV(dir string, sc *entity.Schema, opts ...CSVOption) (*CSV, error) {
	if dir == "" || sc == nil {
		return nil, goerrors.New("csv exporter requires a directory and a schema", goerrors.CategoryBadInput)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, goerrors.Wrap(err, CategoryExport, "create export directory")
	}

	columns := []string{entity.IDField}
	for _, f := range sc.Fields {
		columns = append(columns, f.ColumnName())
	}
	if sc.Historical {
		columns = append(columns, "__block_start", "__block_end")
	} else {
		columns = append(columns, "__removed")
	}

	c := &CSV{
		path:    filepath.Join(dir, sc.TableName()+".csv"),
		schema:  sc,
		columns: columns,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Path returns the output file.
func (c *CSV) Path() string { return c.path }

// Export stages rows until Commit.
func (c *CSV) Export(_ context.Context, rows []Row) error {
	lines := make([][]string, 0, len(rows))
	for _, row := range rows {
		line, err := c.line(row)
		if err != nil {
			return Wrap(err, c.schema.Name)
		}
		lines = append(lines, line)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.staged = append(c.staged, lines...)
	return nil
}

func (c *CSV) line(row Row) ([]string, error) {
	line := make([]string, 0, len(c.columns))
	line = append(line, row.Record.ID())
	for _, f := range c.schema.Fields {
		s, err := cell(row.Record[f.Name])
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", c.schema.Name, f.Name, err)
		}
		line = append(line, s)
	}
	if c.schema.Historical {
		end := ""
		if row.EndHeight != nil {
			end = strconv.FormatInt(*row.EndHeight, 10)
		}
		return append(line, strconv.FormatInt(row.StartHeight, 10), end), nil
	}
	return append(line, strconv.FormatBool(row.Removed)), nil
}

func cell(v any) (string, error) {
	switch x := v.(type) {
	case nil:
		return "", nil
	case string:
		return x, nil
	case int64:
		return strconv.FormatInt(x, 10), nil
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), nil
	case bool:
		return strconv.FormatBool(x), nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Commit appends the staged rows to the file, writing the header first when
// the file is new.
func (c *CSV) Commit() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.staged) == 0 {
		return nil
	}

	f, err := os.OpenFile(c.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return Wrap(err, c.schema.Name)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return Wrap(err, c.schema.Name)
	}

	w := csv.NewWriter(f)
	if info.Size() == 0 {
		if err := w.Write(c.columns); err != nil {
			return Wrap(err, c.schema.Name)
		}
	}
	if err := w.WriteAll(c.staged); err != nil {
		return Wrap(err, c.schema.Name)
	}

	c.logger.Debug("csv export committed", zap.String("entity", c.schema.Name), zap.Int("records", len(c.staged)))
	c.staged = nil
	return nil
}

// Rollback drops the staged rows.
func (c *CSV) Rollback() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.staged = nil
}
