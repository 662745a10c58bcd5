package testsupport

import (
	"context"
	"os"
	"testing"
)

func TestNewSQLiteDB(t *testing.T) {
	db := NewSQLiteDB(t)

	var n int64
	if err := db.NewRaw("SELECT 1").Scan(context.Background(), &n); err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1, got %d", n)
	}

	var mode string
	if err := db.NewRaw("PRAGMA journal_mode").Scan(context.Background(), &mode); err != nil {
		t.Fatalf("pragma failed: %v", err)
	}
	if mode != "wal" {
		t.Errorf("expected wal journal mode, got %q", mode)
	}
}

func TestSchemasAreValid(t *testing.T) {
	if err := TransferSchema().Check(); err != nil {
		t.Errorf("transfer schema: %v", err)
	}
	if err := AccountSchema().Check(); err != nil {
		t.Errorf("account schema: %v", err)
	}
	if err := TransferSchema().Validate(Transfer("t1", "0xa", "0xb", 1)); err != nil {
		t.Errorf("transfer record: %v", err)
	}
	if err := AccountSchema().Validate(Account("a1", 5, true)); err != nil {
		t.Errorf("account record: %v", err)
	}
}

func TestLoadRecords(t *testing.T) {
	recs := LoadRecords(t, "testdata/transfers.json")
	if len(recs) != 3 {
		t.Fatalf("expected 3 records, got %d", len(recs))
	}
	if recs[0].ID() != "t1" {
		t.Errorf("expected t1, got %s", recs[0].ID())
	}
	if err := TransferSchema().Validate(recs[2]); err != nil {
		t.Errorf("fixture record should validate: %v", err)
	}
}

func TestTempFile(t *testing.T) {
	path := TempFile(t, "config.yaml", []byte("flush_threshold: 5\n"))
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "flush_threshold: 5\n" {
		t.Errorf("unexpected content %q", data)
	}
}
