package indexstore

import (
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-indexer-cache/cache"
)

// Config controls when the orchestrator flushes.
type Config struct {
	// FlushThreshold is the dirty count at which a flush is started.
	FlushThreshold int `yaml:"flush_threshold"`
	// UpperLimit is the dirty count at which indexing waits for a flush.
	UpperLimit int `yaml:"upper_limit"`
	// FlushInterval starts a flush periodically when there is anything to
	// write. Zero disables it.
	FlushInterval   time.Duration `yaml:"flush_interval"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	// Disabled selects the Direct store: every call is written immediately.
	Disabled  bool         `yaml:"disabled"`
	ReadCache cache.Config `yaml:"read_cache"`
}

// DefaultConfig returns a Config populated with sensible defaults.
func DefaultConfig() Config {
	return Config{
		FlushThreshold:  1000,
		UpperLimit:      10000,
		FlushInterval:   5 * time.Second,
		ShutdownTimeout: 30 * time.Second,
		ReadCache:       cache.DefaultConfig(),
	}
}

// Validate checks whether the configuration values are valid.
func (c Config) Validate() error {
	err := validation.ValidateStruct(&c,
		validation.Field(&c.FlushThreshold, validation.Required, validation.Min(1)),
		validation.Field(&c.UpperLimit, validation.Required, validation.Min(c.FlushThreshold)),
		validation.Field(&c.FlushInterval, validation.Min(time.Duration(0))),
		validation.Field(&c.ShutdownTimeout, validation.Required, validation.Min(time.Duration(1))),
		validation.Field(&c.ReadCache, validation.When(!c.Disabled)),
	)
	if err != nil {
		return goerrors.FromOzzoValidation(err, "invalid index store config")
	}
	return nil
}
