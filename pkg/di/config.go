package di

import (
	"os"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-indexer-cache/indexstore"
	"github.com/goliatone/go-indexer-cache/store"
	"gopkg.in/yaml.v3"
)

// Supported database drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
)

// Config is the file configuration of an indexer store.
type Config struct {
	Database         DatabaseConfig    `yaml:"database"`
	Store            indexstore.Config `yaml:"store"`
	MetadataTable    string            `yaml:"metadata_table"`
	MetricsNamespace string            `yaml:"metrics_namespace"`
}

// DatabaseConfig selects the database.
type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
	// MaxOpenConns is left to the driver default when zero.
	MaxOpenConns int `yaml:"max_open_conns"`
}

// DefaultConfig returns a Config populated with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Database: DatabaseConfig{
			Driver: DriverSQLite,
			DSN:    "file:indexer.db?_journal_mode=WAL&_busy_timeout=5000",
		},
		Store:            indexstore.DefaultConfig(),
		MetadataTable:    store.DefaultMetadataTable,
		MetricsNamespace: "indexer",
	}
}

// Validate checks whether the configuration values are valid.
func (c Config) Validate() error {
	err := validation.ValidateStruct(&c,
		validation.Field(&c.Database),
		validation.Field(&c.Store),
		validation.Field(&c.MetadataTable, validation.Required),
		validation.Field(&c.MetricsNamespace, validation.Required),
	)
	if err != nil {
		return goerrors.FromOzzoValidation(err, "invalid indexer config")
	}
	return nil
}

// Validate checks the database settings.
func (c DatabaseConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Driver, validation.Required, validation.In(DriverPostgres, DriverSQLite)),
		validation.Field(&c.DSN, validation.Required),
		validation.Field(&c.MaxOpenConns, validation.Min(0)),
	)
}

// LoadConfig reads a YAML file on top of DefaultConfig.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, goerrors.Wrap(err, goerrors.CategoryNotFound, "read config "+path)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, goerrors.Wrap(err, goerrors.CategoryBadInput, "parse config "+path)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}
