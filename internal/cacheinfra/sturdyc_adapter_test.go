package cacheinfra

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

func testConfig() Config {
	return Config{
		Capacity:           100,
		NumShards:          2,
		TTL:                time.Minute,
		EvictionPercentage: 10,
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Capacity != 50000 {
		t.Errorf("expected Capacity to be 50000, got %d", cfg.Capacity)
	}
	if cfg.NumShards != 64 {
		t.Errorf("expected NumShards to be 64, got %d", cfg.NumShards)
	}
	if cfg.TTL != 10*time.Minute {
		t.Errorf("expected TTL to be 10 minutes, got %v", cfg.TTL)
	}
	if !cfg.MissingRecordStorage {
		t.Error("expected MissingRecordStorage to be true")
	}
	if cfg.EarlyRefresh != nil {
		t.Error("expected EarlyRefresh to be disabled")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected default config to be valid, got %v", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		wantError bool
		field     string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "zero capacity", mutate: func(c *Config) { c.Capacity = 0 }, wantError: true, field: "Capacity"},
		{name: "zero shards", mutate: func(c *Config) { c.NumShards = 0 }, wantError: true, field: "NumShards"},
		{name: "zero ttl", mutate: func(c *Config) { c.TTL = 0 }, wantError: true, field: "TTL"},
		{name: "eviction too high", mutate: func(c *Config) { c.EvictionPercentage = 101 }, wantError: true, field: "EvictionPercentage"},
		{
			name: "negative early refresh",
			mutate: func(c *Config) {
				c.EarlyRefresh = &EarlyRefreshConfig{MinAsyncRefreshTime: -time.Second}
			},
			wantError: true,
			field:     "EarlyRefresh.MinAsyncRefreshTime",
		},
		{
			name: "valid early refresh",
			mutate: func(c *Config) {
				c.EarlyRefresh = &EarlyRefreshConfig{
					MinAsyncRefreshTime: time.Second,
					MaxAsyncRefreshTime: 2 * time.Second,
					SyncRefreshTime:     3 * time.Second,
					RetryBaseDelay:      10 * time.Millisecond,
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if !tt.wantError {
				if err != nil {
					t.Errorf("expected no validation error but got: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatal("expected validation error but got none")
			}
			if !goerrors.IsValidation(err) {
				t.Errorf("expected validation category, got %v", err)
			}
			fields, ok := goerrors.GetValidationErrors(err)
			if !ok {
				t.Fatalf("expected field errors, got %v", err)
			}
			found := false
			for _, f := range fields {
				if f.Field == tt.field {
					found = true
				}
			}
			if !found {
				t.Errorf("expected error on %s, got %v", tt.field, fields)
			}
		})
	}
}

func TestConfig_ToSturdycOptions(t *testing.T) {
	cfg := testConfig()
	if n := len(cfg.ToSturdycOptions()); n != 0 {
		t.Errorf("expected no options for minimal config, got %d", n)
	}

	cfg.MissingRecordStorage = true
	cfg.EvictionInterval = time.Second
	cfg.EarlyRefresh = &EarlyRefreshConfig{}
	if n := len(cfg.ToSturdycOptions()); n != 3 {
		t.Errorf("expected 3 options, got %d", n)
	}
}

func TestNewSturdycService(t *testing.T) {
	svc, err := NewSturdycService[string](testConfig())
	if err != nil || svc == nil {
		t.Fatalf("expected service, got %v", err)
	}

	bad := testConfig()
	bad.Capacity = 0
	svc, err = NewSturdycService[string](bad)
	if err == nil {
		t.Error("expected error for invalid config")
	}
	if svc != nil {
		t.Error("expected service to be nil when error occurs")
	}
}

func TestSturdycService_GetOrFetch(t *testing.T) {
	svc, err := NewSturdycService[string](testConfig())
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}
	ctx := context.Background()

	t.Run("miss calls fetch once", func(t *testing.T) {
		calls := 0
		fetch := func(context.Context) (string, error) {
			calls++
			return "value", nil
		}
		for i := 0; i < 3; i++ {
			v, err := svc.GetOrFetch(ctx, "k1", fetch)
			if err != nil || v != "value" {
				t.Fatalf("unexpected result %q, %v", v, err)
			}
		}
		if calls != 1 {
			t.Errorf("expected fetch to be called once, got %d", calls)
		}
	})

	t.Run("fetch error is returned", func(t *testing.T) {
		want := errors.New("fetch failed")
		_, err := svc.GetOrFetch(ctx, "k2", func(context.Context) (string, error) {
			return "", want
		})
		if !errors.Is(err, want) {
			t.Errorf("expected %v, got %v", want, err)
		}
	})

	t.Run("not found is mapped", func(t *testing.T) {
		_, err := svc.GetOrFetch(ctx, "k3", func(context.Context) (string, error) {
			return "", ErrNotFound
		})
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("nil fetch function", func(t *testing.T) {
		if _, err := svc.GetOrFetch(ctx, "k4", nil); err == nil {
			t.Error("expected error for nil fetch function")
		}
	})
}

func TestSturdycService_MissingRecordStorage(t *testing.T) {
	cfg := testConfig()
	cfg.MissingRecordStorage = true
	svc, err := NewSturdycService[string](cfg)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	calls := 0
	fetch := func(context.Context) (string, error) {
		calls++
		return "", ErrNotFound
	}
	for i := 0; i < 2; i++ {
		if _, err := svc.GetOrFetch(ctx, "missing", fetch); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	}
	if calls != 1 {
		t.Errorf("expected missing record to be remembered, fetch called %d times", calls)
	}

	svc.Set(ctx, "missing", "now-present")
	v, err := svc.GetOrFetch(ctx, "missing", fetch)
	if err != nil || v != "now-present" {
		t.Errorf("expected Set to replace missing marker, got %q, %v", v, err)
	}
}

func TestSturdycService_GetSetDelete(t *testing.T) {
	svc, err := NewSturdycService[int](testConfig())
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	if _, ok := svc.Get(ctx, "a"); ok {
		t.Error("expected empty cache")
	}
	svc.Set(ctx, "a", 1)
	if v, ok := svc.Get(ctx, "a"); !ok || v != 1 {
		t.Errorf("expected 1, got %d (%v)", v, ok)
	}
	if err := svc.Delete(ctx, "a"); err != nil {
		t.Fatal(err)
	}
	if _, ok := svc.Get(ctx, "a"); ok {
		t.Error("expected entry to be deleted")
	}
}

func TestSturdycService_DeleteByPrefix(t *testing.T) {
	svc, err := NewSturdycService[int](testConfig())
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		svc.Set(ctx, fmt.Sprintf("entity::Transfer::%d", i), i)
		svc.Set(ctx, fmt.Sprintf("entity::Account::%d", i), i)
	}

	if err := svc.DeleteByPrefix(ctx, "entity::Transfer::"); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		if _, ok := svc.Get(ctx, fmt.Sprintf("entity::Transfer::%d", i)); ok {
			t.Errorf("expected Transfer %d to be removed", i)
		}
		if _, ok := svc.Get(ctx, fmt.Sprintf("entity::Account::%d", i)); !ok {
			t.Errorf("expected Account %d to survive", i)
		}
	}

	if err := svc.DeleteByPrefix(ctx, "nothing::"); err != nil {
		t.Errorf("expected no error, got %v", err)
	}
}

func TestSturdycService_InvalidateKeys(t *testing.T) {
	svc, err := NewSturdycService[int](testConfig())
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	svc.Set(ctx, "a", 1)
	svc.Set(ctx, "b", 2)
	svc.Set(ctx, "c", 3)

	if err := svc.InvalidateKeys(ctx, []string{"a", "b", "nope"}); err != nil {
		t.Fatal(err)
	}
	if _, ok := svc.Get(ctx, "a"); ok {
		t.Error("expected a to be invalidated")
	}
	if _, ok := svc.Get(ctx, "c"); !ok {
		t.Error("expected c to survive")
	}
	if err := svc.InvalidateKeys(ctx, nil); err != nil {
		t.Errorf("expected no error for nil keys, got %v", err)
	}
}
