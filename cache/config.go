package cache

import (
	"time"

	"github.com/goliatone/go-indexer-cache/internal/cacheinfra"
)

// Config exposes the read cache options.
type Config struct {
	Capacity             int                 `yaml:"capacity"`
	NumShards            int                 `yaml:"num_shards"`
	TTL                  time.Duration       `yaml:"ttl"`
	EvictionPercentage   int                 `yaml:"eviction_percentage"`
	EarlyRefresh         *EarlyRefreshConfig `yaml:"early_refresh"`
	MissingRecordStorage bool                `yaml:"missing_record_storage"`
	EvictionInterval     time.Duration       `yaml:"eviction_interval"`
}

// EarlyRefreshConfig mirrors the underlying sturdyc early refresh options.
type EarlyRefreshConfig struct {
	MinAsyncRefreshTime time.Duration `yaml:"min_async_refresh_time"`
	MaxAsyncRefreshTime time.Duration `yaml:"max_async_refresh_time"`
	SyncRefreshTime     time.Duration `yaml:"sync_refresh_time"`
	RetryBaseDelay      time.Duration `yaml:"retry_base_delay"`
}

// DefaultConfig returns a Config populated with sensible defaults.
func DefaultConfig() Config {
	return fromInternal(cacheinfra.DefaultConfig())
}

// Validate checks whether the configuration values are valid.
func (c Config) Validate() error {
	return c.toInternal().Validate()
}

// NewService constructs the default sturdyc backed read cache.
func NewService[T any](cfg Config) (Service[T], error) {
	svc, err := cacheinfra.NewSturdycService[T](cfg.toInternal())
	if err != nil {
		return nil, err
	}
	return svc, nil
}

func (c Config) toInternal() cacheinfra.Config {
	out := cacheinfra.Config{
		Capacity:             c.Capacity,
		NumShards:            c.NumShards,
		TTL:                  c.TTL,
		EvictionPercentage:   c.EvictionPercentage,
		MissingRecordStorage: c.MissingRecordStorage,
		EvictionInterval:     c.EvictionInterval,
	}
	if c.EarlyRefresh != nil {
		out.EarlyRefresh = &cacheinfra.EarlyRefreshConfig{
			MinAsyncRefreshTime: c.EarlyRefresh.MinAsyncRefreshTime,
			MaxAsyncRefreshTime: c.EarlyRefresh.MaxAsyncRefreshTime,
			SyncRefreshTime:     c.EarlyRefresh.SyncRefreshTime,
			RetryBaseDelay:      c.EarlyRefresh.RetryBaseDelay,
		}
	}
	return out
}

func fromInternal(cfg cacheinfra.Config) Config {
	out := Config{
		Capacity:             cfg.Capacity,
		NumShards:            cfg.NumShards,
		TTL:                  cfg.TTL,
		EvictionPercentage:   cfg.EvictionPercentage,
		MissingRecordStorage: cfg.MissingRecordStorage,
		EvictionInterval:     cfg.EvictionInterval,
	}
	if cfg.EarlyRefresh != nil {
		out.EarlyRefresh = &EarlyRefreshConfig{
			MinAsyncRefreshTime: cfg.EarlyRefresh.MinAsyncRefreshTime,
			MaxAsyncRefreshTime: cfg.EarlyRefresh.MaxAsyncRefreshTime,
			SyncRefreshTime:     cfg.EarlyRefresh.SyncRefreshTime,
			RetryBaseDelay:      cfg.EarlyRefresh.RetryBaseDelay,
		}
	}
	return out
}
