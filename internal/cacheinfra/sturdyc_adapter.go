package cacheinfra

import (
	"context"
	"errors"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	goerrors "github.com/goliatone/go-errors"
	"github.com/viccon/sturdyc"
)

// ErrNotFound is returned by fetch functions when the source has no value
// for a key, and by the adapter when the key is known to be missing.
var ErrNotFound = errors.New("cache: not found")

// Config holds the configuration for the sturdyc cache adapter.
type Config struct {
	// Capacity defines the maximum number of entries that the cache can store.
	Capacity int

	// NumShards determines the number of cache shards for concurrent access.
	// Default: 64
	NumShards int

	// TTL is the default time-to-live for cached entries.
	TTL time.Duration

	// EvictionPercentage specifies what percentage of entries to evict
	// when the cache reaches its capacity. Must be between 1-100.
	EvictionPercentage int

	// EarlyRefresh configures early refresh behavior for cached entries.
	// Background refreshes read committed store state and may race with the
	// post flush cache update, so it stays nil unless entries are read only.
	EarlyRefresh *EarlyRefreshConfig

	// MissingRecordStorage remembers keys whose fetch returned ErrNotFound.
	MissingRecordStorage bool

	// EvictionInterval sets how often the cache checks for expired entries.
	// Zero value uses the default interval.
	EvictionInterval time.Duration
}

// EarlyRefreshConfig configures early refresh behavior.
type EarlyRefreshConfig struct {
	MinAsyncRefreshTime time.Duration
	MaxAsyncRefreshTime time.Duration
	SyncRefreshTime     time.Duration
	RetryBaseDelay      time.Duration
}

// DefaultConfig returns the configuration used for the entity read cache.
func DefaultConfig() Config {
	return Config{
		Capacity:             50000,
		NumShards:            64,
		TTL:                  10 * time.Minute,
		EvictionPercentage:   10,
		MissingRecordStorage: true,
	}
}

// ToSturdycOptions maps the optional settings to sturdyc options. Capacity,
// NumShards, TTL and EvictionPercentage go to sturdyc.New directly.
func (c Config) ToSturdycOptions() []sturdyc.Option {
	var options []sturdyc.Option

	if c.EarlyRefresh != nil {
		options = append(options, sturdyc.WithEarlyRefreshes(
			c.EarlyRefresh.MinAsyncRefreshTime,
			c.EarlyRefresh.MaxAsyncRefreshTime,
			c.EarlyRefresh.SyncRefreshTime,
			c.EarlyRefresh.RetryBaseDelay,
		))
	}

	if c.MissingRecordStorage {
		options = append(options, sturdyc.WithMissingRecordStorage())
	}

	if c.EvictionInterval > 0 {
		options = append(options, sturdyc.WithEvictionInterval(c.EvictionInterval))
	}

	return options
}

// Validate checks if the configuration values are valid.
func (c Config) Validate() error {
	err := validation.ValidateStruct(&c,
		validation.Field(&c.Capacity, validation.Required, validation.Min(1)),
		validation.Field(&c.NumShards, validation.Required, validation.Min(1)),
		validation.Field(&c.TTL, validation.Required, validation.Min(time.Duration(1))),
		validation.Field(&c.EvictionPercentage, validation.Required, validation.Min(1), validation.Max(100)),
		validation.Field(&c.EvictionInterval, validation.Min(time.Duration(0))),
		validation.Field(&c.EarlyRefresh),
	)
	if err != nil {
		return goerrors.FromOzzoValidation(err, "invalid cache config")
	}
	return nil
}

// Validate implements validation.Validatable for the nested early refresh
// settings.
func (c EarlyRefreshConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.MinAsyncRefreshTime, validation.Min(time.Duration(0))),
		validation.Field(&c.MaxAsyncRefreshTime, validation.Min(c.MinAsyncRefreshTime)),
		validation.Field(&c.SyncRefreshTime, validation.Min(time.Duration(0))),
		validation.Field(&c.RetryBaseDelay, validation.Min(time.Duration(0))),
	)
}

// SturdycService wraps a sturdyc client holding values of type T.
type SturdycService[T any] struct {
	client *sturdyc.Client[T]
}

// NewSturdycService validates cfg and builds a sturdyc client from it.
func NewSturdycService[T any](cfg Config) (*SturdycService[T], error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	client := sturdyc.New[T](
		cfg.Capacity,
		cfg.NumShards,
		cfg.TTL,
		cfg.EvictionPercentage,
		cfg.ToSturdycOptions()...,
	)

	return &SturdycService[T]{client: client}, nil
}

// Get returns a cached value without calling the source.
func (s *SturdycService[T]) Get(_ context.Context, key string) (T, bool) {
	return s.client.Get(key)
}

// Set stores value under key, replacing any cached value or missing marker.
func (s *SturdycService[T]) Set(_ context.Context, key string, value T) {
	s.client.Set(key, value)
}

// GetOrFetch returns the cached value for key or calls fetchFn and caches its
// result. A fetchFn signalling ErrNotFound, and a key remembered as missing,
// both surface as ErrNotFound.
func (s *SturdycService[T]) GetOrFetch(ctx context.Context, key string, fetchFn func(context.Context) (T, error)) (T, error) {
	if fetchFn == nil {
		var zero T
		return zero, goerrors.New("fetch function cannot be nil", goerrors.CategoryBadInput)
	}

	v, err := s.client.GetOrFetch(ctx, key, func(ctx context.Context) (T, error) {
		v, err := fetchFn(ctx)
		if errors.Is(err, ErrNotFound) {
			return v, sturdyc.ErrNotFound
		}
		return v, err
	})
	if errors.Is(err, sturdyc.ErrNotFound) || errors.Is(err, sturdyc.ErrMissingRecord) {
		var zero T
		return zero, ErrNotFound
	}
	return v, err
}

// Delete removes a single entry.
func (s *SturdycService[T]) Delete(_ context.Context, key string) error {
	s.client.Delete(key)
	return nil
}

// DeleteByPrefix removes every entry whose key starts with prefix.
func (s *SturdycService[T]) DeleteByPrefix(_ context.Context, prefix string) error {
	for _, key := range s.client.ScanKeys() {
		if strings.HasPrefix(key, prefix) {
			s.client.Delete(key)
		}
	}
	return nil
}

// InvalidateKeys removes the given entries.
func (s *SturdycService[T]) InvalidateKeys(_ context.Context, keys []string) error {
	for _, key := range keys {
		s.client.Delete(key)
	}
	return nil
}
