// Package config loads the jsondb command configuration from YAML.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/invopop/jsonschema"
	"gopkg.in/yaml.v3"

	"github.com/maruel/jsondb/internal/jsondb"
)

// DatabaseConfig selects the database backing the store.
type DatabaseConfig struct {
	Driver       string `yaml:"driver" json:"driver" jsonschema:"enum=sqlite,enum=sqlite3,enum=pgx,description=database/sql driver name"`
	DSN          string `yaml:"dsn" json:"dsn" jsonschema:"description=Driver specific data source name"`
	CreateTables bool   `yaml:"create_tables" json:"create_tables,omitempty" jsonschema:"description=Create the jsondb table on startup when missing"`
	MaxOpenConns int    `yaml:"max_open_conns" json:"max_open_conns,omitempty" jsonschema:"minimum=0,description=Maximum open connections; 0 means unlimited"`
}

// IndexConfig declares one indexed property.
type IndexConfig struct {
	Path  string `yaml:"path" json:"path" jsonschema:"description=Collection path such as /users"`
	Field string `yaml:"field" json:"field" jsonschema:"description=Property of each child of the collection"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `yaml:"level" json:"level,omitempty" jsonschema:"enum=debug,enum=info,enum=warn,enum=error"`
}

// ImportConfig tunes bulk imports.
type ImportConfig struct {
	Rate    float64 `yaml:"rate" json:"rate,omitempty" jsonschema:"minimum=0,description=Documents written per second; 0 disables limiting"`
	Burst   int     `yaml:"burst" json:"burst,omitempty" jsonschema:"minimum=1"`
	Workers int     `yaml:"workers" json:"workers,omitempty" jsonschema:"minimum=1,description=Concurrent writers"`
}

// WatchConfig tunes the directory watcher.
type WatchConfig struct {
	Debounce string `yaml:"debounce" json:"debounce,omitempty" jsonschema:"description=Delay before importing a changed file, as a Go duration"`
}

// Config is the root of the configuration file.
type Config struct {
	Database DatabaseConfig `yaml:"database" json:"database"`
	Indexes  []IndexConfig  `yaml:"indexes" json:"indexes,omitempty"`
	Log      LogConfig      `yaml:"log" json:"log,omitempty"`
	Import   ImportConfig   `yaml:"import" json:"import,omitempty"`
	Watch    WatchConfig    `yaml:"watch" json:"watch,omitempty"`
}

// Default returns the configuration used when no file is given: a SQLite
// database in the current directory.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{
			Driver:       "sqlite",
			DSN:          "file:jsondb.db?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)",
			CreateTables: true,
		},
		Log:    LogConfig{Level: "info"},
		Import: ImportConfig{Burst: 1, Workers: 4},
		Watch:  WatchConfig{Debounce: "500ms"},
	}
}

// Load reads the YAML configuration from r over the defaults. A nil or empty
// reader yields the defaults.
func Load(r io.Reader) (*Config, error) {
	cfg := Default()
	if r == nil {
		return cfg, nil
	}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile reads the configuration at path. A missing file yields the
// defaults.
func LoadFile(path string) (*Config, error) {
	f, err := os.Open(path) //nolint:gosec // G304: path is the -config flag
	if err != nil {
		if os.IsNotExist(err) {
			return Load(nil)
		}
		return nil, fmt.Errorf("failed to open config file %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()
	return Load(f)
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite", "sqlite3", "pgx":
	default:
		return fmt.Errorf("database.driver: unsupported driver %q", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return errors.New("database.dsn is required")
	}
	if c.Database.MaxOpenConns < 0 {
		return fmt.Errorf("database.max_open_conns must not be negative: %d", c.Database.MaxOpenConns)
	}
	if _, err := c.IndexList(); err != nil {
		return err
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		return err
	}
	if c.Import.Rate < 0 {
		return fmt.Errorf("import.rate must not be negative: %g", c.Import.Rate)
	}
	if c.Import.Burst < 1 {
		return fmt.Errorf("import.burst must be at least 1: %d", c.Import.Burst)
	}
	if c.Import.Workers < 1 {
		return fmt.Errorf("import.workers must be at least 1: %d", c.Import.Workers)
	}
	if _, err := c.DebounceDuration(); err != nil {
		return err
	}
	return nil
}

// IndexList converts the declared indexes.
func (c *Config) IndexList() ([]jsondb.Index, error) {
	out := make([]jsondb.Index, 0, len(c.Indexes))
	for i, ic := range c.Indexes {
		p, err := jsondb.ParsePath(ic.Path)
		if err != nil {
			return nil, fmt.Errorf("indexes[%d].path: %w", i, err)
		}
		if err := jsondb.ValidateKey(ic.Field); err != nil {
			return nil, fmt.Errorf("indexes[%d].field: %w", i, err)
		}
		out = append(out, jsondb.Index{Collection: p, Field: ic.Field})
	}
	return out, nil
}

// DebounceDuration returns the parsed watch debounce delay.
func (c *Config) DebounceDuration() (time.Duration, error) {
	if c.Watch.Debounce == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.Watch.Debounce)
	if err != nil {
		return 0, fmt.Errorf("watch.debounce: %w", err)
	}
	if d < 0 {
		return 0, fmt.Errorf("watch.debounce must not be negative: %s", d)
	}
	return d, nil
}

// ParseLevel parses a log level name. The empty string means info.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("invalid log level %q", s)
	}
}

// Schema returns the JSON Schema of the configuration file.
func Schema() ([]byte, error) {
	r := jsonschema.Reflector{Anonymous: true, DoNotReference: true}
	s := r.Reflect(&Config{})
	s.Title = "jsondb configuration"
	return json.MarshalIndent(s, "", "  ")
}
