package di

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/goliatone/go-indexer-cache/entity"
	"github.com/goliatone/go-indexer-cache/history"
	"github.com/goliatone/go-indexer-cache/indexstore"
	"github.com/goliatone/go-indexer-cache/pkg/testsupport"
)

const fixturePath = "../testsupport/testdata/transfers.json"

func newTestContainer(t *testing.T, mutate func(*Config)) *Container {
	t.Helper()
	config := sqliteConfig(t)
	if mutate != nil {
		mutate(&config)
	}
	container, err := NewContainer(context.Background(), config, testSchemas(), WithDB(testsupport.NewSQLiteDB(t)))
	if err != nil {
		t.Fatalf("NewContainer() failed: %v", err)
	}
	t.Cleanup(func() { _ = container.Close(context.Background()) })
	return container
}

// TestEndToEndIndexingFlow drives a few blocks through the cached store and
// reads them back while some are still pending.
func TestEndToEndIndexingFlow(t *testing.T) {
	ctx := context.Background()
	container := newTestContainer(t, nil)
	idx := container.Store()
	transfers, _ := idx.Entity("Transfer")

	recs := testsupport.LoadRecords(t, fixturePath)
	if err := transfers.BulkCreate(ctx, recs, 10); err != nil {
		t.Fatalf("BulkCreate() failed: %v", err)
	}
	if err := idx.ApplyPendingChanges(ctx, 10, true); err != nil {
		t.Fatalf("ApplyPendingChanges() failed: %v", err)
	}

	// block 11 stays pending
	if err := transfers.BulkUpdate(ctx, []entity.Record{{"id": "t1", "from": "0xb"}}, 11, "from"); err != nil {
		t.Fatalf("BulkUpdate() failed: %v", err)
	}
	if err := transfers.Remove(ctx, "t3", 11); err != nil {
		t.Fatalf("Remove() failed: %v", err)
	}

	fromB, err := transfers.GetByFields(ctx, []entity.Filter{entity.Eq("from", "0xb")}, entity.QueryOptions{Limit: 10})
	if err != nil {
		t.Fatalf("GetByFields() failed: %v", err)
	}
	if len(fromB) != 1 || fromB[0].ID() != "t1" {
		t.Errorf("expected only t1 from 0xb, got %v", fromB)
	}
	fromA, err := transfers.GetByFields(ctx, []entity.Filter{entity.Eq("from", "0xa")}, entity.QueryOptions{Limit: 10})
	if err != nil {
		t.Fatalf("GetByFields() failed: %v", err)
	}
	if len(fromA) != 1 || fromA[0].ID() != "t2" {
		t.Errorf("expected only t2 from 0xa, got %v", fromA)
	}
	if _, err := transfers.Get(ctx, "t3"); !errors.Is(err, indexstore.ErrNotFound) {
		t.Errorf("expected t3 to be removed, got %v", err)
	}

	if err := idx.ApplyPendingChanges(ctx, 11, true); err != nil {
		t.Fatalf("ApplyPendingChanges() failed: %v", err)
	}
	backend := container.Backend()
	versions, err := backend.History(ctx, backend.DB(), testsupport.TransferSchema(), "t3")
	if err != nil {
		t.Fatalf("History() failed: %v", err)
	}
	if len(versions) != 1 || versions[0].EndHeight == nil || *versions[0].EndHeight != 11 {
		t.Errorf("expected t3 to end at 11, got %+v", versions)
	}
	at, err := backend.GetAt(ctx, backend.DB(), testsupport.TransferSchema(), "t1", 10)
	if err != nil {
		t.Fatalf("GetAt() failed: %v", err)
	}
	if at["from"] != "0xa" {
		t.Errorf("expected t1 from 0xa at block 10, got %v", at["from"])
	}
}

// TestConcurrentHandlers writes from many goroutines per block while flushes
// run in the background.
func TestConcurrentHandlers(t *testing.T) {
	ctx := context.Background()
	container := newTestContainer(t, func(c *Config) {
		c.Store.FlushThreshold = 10
		c.Store.UpperLimit = 50
	})
	idx := container.Store()
	transfers, _ := idx.Entity("Transfer")
	accounts, _ := idx.Entity("Account")

	const blocks = 20
	const workers = 8

	for h := int64(1); h <= blocks; h++ {
		var wg sync.WaitGroup
		errs := make(chan error, workers*2)
		for w := 0; w < workers; w++ {
			wg.Add(1)
			go func(w int) {
				defer wg.Done()
				id := fmt.Sprintf("t-%d-%d", h, w)
				if err := transfers.Set(ctx, id, testsupport.Transfer(id, "0xa", "0xb", h), h); err != nil {
					errs <- err
					return
				}
				if _, err := transfers.Get(ctx, id); err != nil {
					errs <- fmt.Errorf("read own write %s: %w", id, err)
				}
				acct := fmt.Sprintf("a-%d", w)
				if err := accounts.Set(ctx, acct, testsupport.Account(acct, h, true), h); err != nil {
					errs <- err
				}
			}(w)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			t.Errorf("block %d: %v", h, err)
		}
		if err := idx.ApplyPendingChanges(ctx, h, h == blocks); err != nil {
			t.Fatalf("ApplyPendingChanges(%d) failed: %v", h, err)
		}
	}

	backend := container.Backend()
	stored, err := backend.Find(ctx, backend.DB(), testsupport.TransferSchema(), nil, entity.QueryOptions{Limit: 1000}, nil)
	if err != nil {
		t.Fatalf("Find() failed: %v", err)
	}
	if len(stored) != blocks*workers {
		t.Errorf("expected %d transfers, got %d", blocks*workers, len(stored))
	}
	rec, err := backend.Get(ctx, backend.DB(), testsupport.AccountSchema(), "a-0")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if rec["balance"] != int64(blocks) {
		t.Errorf("expected last balance %d, got %v", blocks, rec["balance"])
	}
	if cached, _ := container.Cached(); cached.Dirty() != 0 {
		t.Errorf("expected nothing pending, got %d", cached.Dirty())
	}
}

// TestCachedAndDirectAgree runs the same blocks through both stores and
// compares the stored history.
func TestCachedAndDirectAgree(t *testing.T) {
	ctx := context.Background()
	cached := newTestContainer(t, nil)
	direct := newTestContainer(t, func(c *Config) { c.Store.Disabled = true })

	blocks := []func(es indexstore.EntityStore, h int64) error{
		func(es indexstore.EntityStore, h int64) error {
			return es.BulkCreate(ctx, testsupport.LoadRecords(t, fixturePath), h)
		},
		func(es indexstore.EntityStore, h int64) error {
			return es.BulkUpdate(ctx, []entity.Record{{"id": "t1", "amount": int64(11)}}, h, "amount")
		},
		func(es indexstore.EntityStore, h int64) error {
			if err := es.Remove(ctx, "t2", h); err != nil {
				return err
			}
			if err := es.Set(ctx, "t4", testsupport.Transfer("t4", "0xc", "0xd", 4), h); err != nil {
				return err
			}
			return es.Remove(ctx, "t4", h)
		},
		func(es indexstore.EntityStore, h int64) error {
			if err := es.Set(ctx, "t1", testsupport.Transfer("t1", "0xa", "0xb", 12), h); err != nil {
				return err
			}
			return es.Set(ctx, "t1", testsupport.Transfer("t1", "0xa", "0xb", 13), h)
		},
	}

	for _, c := range []*Container{cached, direct} {
		transfers, _ := c.Store().Entity("Transfer")
		for i, block := range blocks {
			h := int64(i + 1)
			if err := block(transfers, h); err != nil {
				t.Fatalf("block %d failed: %v", h, err)
			}
			if err := c.Store().ApplyPendingChanges(ctx, h, h == int64(len(blocks))); err != nil {
				t.Fatalf("ApplyPendingChanges(%d) failed: %v", h, err)
			}
		}
	}

	for _, id := range []string{"t1", "t2", "t3", "t4"} {
		want := versionsOf(t, direct, id)
		got := versionsOf(t, cached, id)
		if len(got) != len(want) {
			t.Fatalf("%s: expected %d versions, got %d", id, len(want), len(got))
		}
		for i := range want {
			if got[i].StartHeight != want[i].StartHeight || !sameEnd(got[i].EndHeight, want[i].EndHeight) {
				t.Errorf("%s version %d: expected %s, got %s", id, i, span(want[i]), span(got[i]))
			}
			if got[i].Data["amount"] != want[i].Data["amount"] {
				t.Errorf("%s version %d: expected amount %v, got %v", id, i, want[i].Data["amount"], got[i].Data["amount"])
			}
		}
	}
}

func versionsOf(t *testing.T, c *Container, id string) []history.Version {
	t.Helper()
	backend := c.Backend()
	versions, err := backend.History(context.Background(), backend.DB(), testsupport.TransferSchema(), id)
	if err != nil {
		t.Fatalf("History(%s) failed: %v", id, err)
	}
	return versions
}

func sameEnd(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func span(v history.Version) string {
	if v.EndHeight == nil {
		return fmt.Sprintf("[%d,)", v.StartHeight)
	}
	return fmt.Sprintf("[%d,%d)", v.StartHeight, *v.EndHeight)
}
