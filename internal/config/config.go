// Package config loads runner settings from defaults, an optional YAML file
// and APIFLOW_* environment variables, in that order of precedence.
package config

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/petrijr/apiflow/internal/extract"
	"github.com/petrijr/apiflow/pkg/logger"
)

// EnvPrefix marks environment variables read by Load.
const EnvPrefix = "APIFLOW_"

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverRedis    = "redis"
	DriverPostgres = "postgres"
	DriverMongo    = "mongo"
)

type Config struct {
	BaseURL   string            `koanf:"base_url"`
	Timeout   time.Duration     `koanf:"timeout"`
	Headers   map[string]string `koanf:"headers"`
	Variables map[string]any    `koanf:"variables"`

	Log        LogConfig        `koanf:"log"`
	Extraction ExtractionConfig `koanf:"extraction"`
	Parallel   ParallelConfig   `koanf:"parallel"`
	Store      StoreConfig      `koanf:"store"`
}

type LogConfig struct {
	Level string `koanf:"level"`
	JSON  bool   `koanf:"json"`
}

type ExtractionConfig struct {
	Policy string `koanf:"policy"`
}

// ParallelConfig bounds how many workflows a batch runs at once.
type ParallelConfig struct {
	Max int `koanf:"max"`
}

// StoreConfig selects where results, events and queued runs live. DSN is
// used by the sqlite and postgres drivers.
type StoreConfig struct {
	Driver    string `koanf:"driver"`
	DSN       string `koanf:"dsn"`
	RedisAddr string `koanf:"redis_addr"`
	Prefix    string `koanf:"prefix"`
	MongoURI  string `koanf:"mongo_uri"`
	Database  string `koanf:"database"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Timeout:    30 * time.Second,
		Log:        LogConfig{Level: string(logger.InfoLevel)},
		Extraction: ExtractionConfig{Policy: extract.Strict.String()},
		Parallel:   ParallelConfig{Max: 1},
		Store: StoreConfig{
			Driver:   DriverMemory,
			DSN:      "file:apiflow.db",
			Prefix:   "apiflow:",
			Database: "apiflow",
		},
	}
}

// sections are the nested keys; any other variable maps to a top-level key.
var sections = []string{"log", "extraction", "parallel", "store"}

// envKey maps APIFLOW_STORE_REDIS_ADDR to store.redis_addr.
func envKey(name string) string {
	s := strings.ToLower(strings.TrimPrefix(name, EnvPrefix))
	parts := strings.FieldsFunc(s, func(r rune) bool { return r == '_' })
	if len(parts) == 0 {
		return ""
	}
	if len(parts) > 1 && slices.Contains(sections, parts[0]) {
		return parts[0] + "." + strings.Join(parts[1:], "_")
	}
	return strings.Join(parts, "_")
}

// Load reads the configuration. path may be empty.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load %s: %w", path, err)
		}
	}
	if err := k.Load(env.Provider(".", env.Opt{
		Prefix: EnvPrefix,
		TransformFunc: func(key, value string) (string, any) {
			return envKey(key), value
		},
	}), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects unknown drivers and policies.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case DriverMemory, DriverSQLite:
	case DriverRedis:
		if c.Store.RedisAddr == "" {
			return fmt.Errorf("store.redis_addr is required for the redis driver")
		}
	case DriverPostgres:
		if !strings.HasPrefix(c.Store.DSN, "postgres://") && !strings.HasPrefix(c.Store.DSN, "postgresql://") {
			return fmt.Errorf("store.dsn must be a postgres:// URL for the postgres driver")
		}
	case DriverMongo:
		if c.Store.MongoURI == "" {
			return fmt.Errorf("store.mongo_uri is required for the mongo driver")
		}
	default:
		return fmt.Errorf("store.driver: unknown driver %q", c.Store.Driver)
	}
	if _, err := extract.ParsePolicy(c.Extraction.Policy); err != nil {
		return fmt.Errorf("extraction.policy: %w", err)
	}
	if c.Parallel.Max < 0 {
		return fmt.Errorf("parallel.max must not be negative")
	}
	if c.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative")
	}
	return nil
}

// ExtractionPolicy returns the parsed extraction policy.
func (c *Config) ExtractionPolicy() extract.Policy {
	p, _ := extract.ParsePolicy(c.Extraction.Policy)
	return p
}

// Logger returns the logger settings.
func (c *Config) Logger() logger.Config {
	return logger.Config{Level: logger.Level(c.Log.Level), JSON: c.Log.JSON}
}
