package testsupport

import (
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/goliatone/go-indexer-cache/entity"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
)

// NewSQLiteDB opens a bun database on a fresh sqlite file in the test's temp
// directory. WAL mode lets readers run while a flush transaction is open. The
// database is closed when the test ends.
func NewSQLiteDB(t testing.TB) *bun.DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "indexer.db")
	sqldb, err := sql.Open("sqlite3", "file:"+path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		t.Fatalf("failed to open sqlite database: %v", err)
	}

	db := bun.NewDB(sqldb, sqlitedialect.New())
	t.Cleanup(func() {
		_ = db.Close()
	})
	return db
}

// TransferSchema is a historical schema used across package tests.
func TransferSchema() *entity.Schema {
	return &entity.Schema{
		Name: "Transfer",
		Fields: []entity.Field{
			{Name: "from", Type: entity.String, Required: true},
			{Name: "to", Type: entity.String},
			{Name: "amount", Type: entity.Int},
			{Name: "meta", Type: entity.JSON},
		},
		Historical: true,
	}
}

// AccountSchema is a non-historical schema used across package tests.
func AccountSchema() *entity.Schema {
	return &entity.Schema{
		Name: "Account",
		Fields: []entity.Field{
			{Name: "balance", Type: entity.Int},
			{Name: "active", Type: entity.Bool},
		},
	}
}

// Transfer builds a Transfer record.
func Transfer(id, from, to string, amount int64) entity.Record {
	return entity.Record{"id": id, "from": from, "to": to, "amount": amount, "meta": nil}
}

// Account builds an Account record.
func Account(id string, balance int64, active bool) entity.Record {
	return entity.Record{"id": id, "balance": balance, "active": active}
}

// LoadFixtureJSON loads JSON test data from a fixture file and unmarshals it.
// The path is relative to the test package directory.
func LoadFixtureJSON(t testing.TB, path string, dest any) {
	t.Helper()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to load fixture from %s: %v", path, err)
	}
	if err := json.Unmarshal(data, dest); err != nil {
		t.Fatalf("failed to unmarshal JSON fixture from %s: %v", path, err)
	}
}

// LoadRecords loads a JSON array of records from a fixture file.
func LoadRecords(t testing.TB, path string) []entity.Record {
	t.Helper()

	var recs []entity.Record
	LoadFixtureJSON(t, path, &recs)
	return recs
}

// TempFile writes content to a file in the test's temp directory and returns
// its path.
func TempFile(t testing.TB, name string, content []byte) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("failed to write temp file %s: %v", path, err)
	}
	return path
}
