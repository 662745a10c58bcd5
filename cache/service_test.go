package cache

import (
	"context"
	"errors"
	"testing"
)

type record map[string]any

func TestNewService(t *testing.T) {
	svc, err := NewService[record](DefaultConfig())
	if err != nil {
		t.Fatalf("expected service, got %v", err)
	}
	ctx := context.Background()

	calls := 0
	fetch := func(context.Context) (record, error) {
		calls++
		return record{"id": "a"}, nil
	}

	for i := 0; i < 2; i++ {
		got, err := GetOrFetch[record](ctx, svc, "entity::T::a", fetch)
		if err != nil {
			t.Fatal(err)
		}
		if got["id"] != "a" {
			t.Errorf("unexpected value %v", got)
		}
	}
	if calls != 1 {
		t.Errorf("expected a single fetch, got %d", calls)
	}

	svc.Set(ctx, "entity::T::a", record{"id": "a", "v": 2})
	if got, ok := svc.Get(ctx, "entity::T::a"); !ok || got["v"] != 2 {
		t.Errorf("expected Set to replace value, got %v", got)
	}
}

func TestService_NotFound(t *testing.T) {
	svc, err := NewService[record](DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	_, err = svc.GetOrFetch(context.Background(), "entity::T::missing", func(context.Context) (record, error) {
		return nil, ErrNotFound
	})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestNewService_InvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TTL = 0
	if _, err := NewService[record](cfg); err == nil {
		t.Error("expected error for zero TTL")
	}
}

func TestConfig_RoundTripsEarlyRefresh(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EarlyRefresh = &EarlyRefreshConfig{MinAsyncRefreshTime: 1, MaxAsyncRefreshTime: 2}

	back := fromInternal(cfg.toInternal())
	if back.EarlyRefresh == nil || back.EarlyRefresh.MaxAsyncRefreshTime != 2 {
		t.Errorf("early refresh settings lost: %+v", back.EarlyRefresh)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("unexpected validation error: %v", err)
	}
}
