package di

import (
	"context"
	"fmt"
	"testing"

	"github.com/goliatone/go-indexer-cache/cache"
	"github.com/goliatone/go-indexer-cache/pkg/testsupport"
)

func newBenchContainer(b *testing.B, disabled bool) *Container {
	b.Helper()
	config := DefaultConfig()
	config.Database.DSN = "file:" + b.TempDir() + "/bench.db?_journal_mode=WAL&_busy_timeout=5000"
	config.Store.FlushInterval = 0
	config.Store.Disabled = disabled

	container, err := NewContainer(context.Background(), config, testSchemas())
	if err != nil {
		b.Fatalf("Failed to create DI container: %v", err)
	}
	b.Cleanup(func() { _ = container.Close(context.Background()) })
	return container
}

func BenchmarkKeySerialization(b *testing.B) {
	serializer := cache.NewDefaultKeySerializer()

	testCases := []struct {
		name string
		args []any
	}{
		{name: "entity_id", args: []any{"Transfer", "0x5f3c9a"}},
		{name: "entity_height", args: []any{"Transfer", "0x5f3c9a", int64(18_000_000)}},
		{name: "filters", args: []any{"Transfer", map[string]any{"from": "0xa", "amount": 10}}},
	}

	for _, tc := range testCases {
		b.Run(tc.name, func(b *testing.B) {
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				_ = serializer.SerializeKey("entity", tc.args...)
			}
		})
	}
}

// BenchmarkCachedVsDirect indexes blocks of ten transfers through both
// stores.
func BenchmarkCachedVsDirect(b *testing.B) {
	for _, tc := range []struct {
		name     string
		disabled bool
	}{
		{name: "cached", disabled: false},
		{name: "direct", disabled: true},
	} {
		b.Run(tc.name, func(b *testing.B) {
			container := newBenchContainer(b, tc.disabled)
			idx := container.Store()
			transfers, _ := idx.Entity("Transfer")
			ctx := context.Background()

			b.ReportAllocs()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				h := int64(i + 1)
				for j := 0; j < 10; j++ {
					id := fmt.Sprintf("t-%d", j)
					if err := transfers.Set(ctx, id, testsupport.Transfer(id, "0xa", "0xb", h), h); err != nil {
						b.Fatal(err)
					}
				}
				if err := idx.ApplyPendingChanges(ctx, h, false); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

func BenchmarkConcurrentReads(b *testing.B) {
	container := newBenchContainer(b, false)
	idx := container.Store()
	transfers, _ := idx.Entity("Transfer")
	ctx := context.Background()

	for i := 0; i < 100; i++ {
		id := fmt.Sprintf("t-%d", i)
		if err := transfers.Set(ctx, id, testsupport.Transfer(id, "0xa", "0xb", int64(i)), 1); err != nil {
			b.Fatal(err)
		}
	}
	if err := idx.ApplyPendingChanges(ctx, 1, true); err != nil {
		b.Fatal(err)
	}

	b.Run("read_through", func(b *testing.B) {
		b.ReportAllocs()
		b.RunParallel(func(pb *testing.PB) {
			i := 0
			for pb.Next() {
				_, _ = transfers.Get(ctx, fmt.Sprintf("t-%d", i%100))
				i++
			}
		})
	})
}
