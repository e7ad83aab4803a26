package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// Supported backends.
const (
	BackendMemory   = "memory"
	BackendMongo    = "mongo"
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
	BackendPebble   = "pebble"
)

// Config selects and configures the event store backend.
type Config struct {
	Backend  string         `yaml:"backend"`
	Mongo    MongoConfig    `yaml:"mongo"`
	Postgres PostgresConfig `yaml:"postgres"`
	SQLite   SQLiteConfig   `yaml:"sqlite"`
	Pebble   PebbleConfig   `yaml:"pebble"`
}

type MongoConfig struct {
	URI          string `yaml:"uri"`
	DatabaseName string `yaml:"database_name"`
	Collection   string `yaml:"collection"`
}

type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

type SQLiteConfig struct {
	Path string `yaml:"path"`
}

type PebbleConfig struct {
	Path      string `yaml:"path"`
	CacheSize int64  `yaml:"cache_size"`
}

func DefaultConfig() Config {
	return Config{
		Backend: BackendMongo,
		Mongo: MongoConfig{
			URI:          "mongodb://localhost:27017",
			DatabaseName: "searchindexer",
			Collection:   "status_events",
		},
		Postgres: PostgresConfig{
			DSN: "postgres://localhost:5432/searchindexer?sslmode=disable",
		},
		SQLite: SQLiteConfig{
			Path: "events.db",
		},
		Pebble: PebbleConfig{
			Path:      "events",
			CacheSize: 8 << 20,
		},
	}
}

// ApplyDefaults fills in zero values with defaults.
func (c *Config) ApplyDefaults() {
	defaults := DefaultConfig()
	if c.Backend == "" {
		c.Backend = defaults.Backend
	}
	if c.Mongo.URI == "" {
		c.Mongo.URI = defaults.Mongo.URI
	}
	if c.Mongo.DatabaseName == "" {
		c.Mongo.DatabaseName = defaults.Mongo.DatabaseName
	}
	if c.Mongo.Collection == "" {
		c.Mongo.Collection = defaults.Mongo.Collection
	}
	if c.Postgres.DSN == "" {
		c.Postgres.DSN = defaults.Postgres.DSN
	}
	if c.SQLite.Path == "" {
		c.SQLite.Path = defaults.SQLite.Path
	}
	if c.Pebble.Path == "" {
		c.Pebble.Path = defaults.Pebble.Path
	}
	if c.Pebble.CacheSize == 0 {
		c.Pebble.CacheSize = defaults.Pebble.CacheSize
	}
}

// ApplyEnvOverrides applies environment variable overrides.
func (c *Config) ApplyEnvOverrides() {
	if val := os.Getenv("EVENTSTORE_BACKEND"); val != "" {
		c.Backend = val
	}
	if val := os.Getenv("MONGO_URI"); val != "" {
		c.Mongo.URI = val
	}
	if val := os.Getenv("DB_NAME"); val != "" {
		c.Mongo.DatabaseName = val
	}
	if val := os.Getenv("POSTGRES_DSN"); val != "" {
		c.Postgres.DSN = val
	}
}

// ResolvePaths resolves relative file paths against dataDir.
func (c *Config) ResolvePaths(_, dataDir string) {
	if c.SQLite.Path != "" && !filepath.IsAbs(c.SQLite.Path) {
		c.SQLite.Path = filepath.Join(dataDir, c.SQLite.Path)
	}
	if c.Pebble.Path != "" && !filepath.IsAbs(c.Pebble.Path) {
		c.Pebble.Path = filepath.Join(dataDir, c.Pebble.Path)
	}
}

// Validate returns an error if the configuration is invalid.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendMemory:
	case BackendMongo:
		if c.Mongo.URI == "" || c.Mongo.DatabaseName == "" {
			return fmt.Errorf("eventstore.mongo.uri and eventstore.mongo.database_name are required")
		}
	case BackendPostgres:
		if c.Postgres.DSN == "" {
			return fmt.Errorf("eventstore.postgres.dsn is required")
		}
	case BackendSQLite:
		if c.SQLite.Path == "" {
			return fmt.Errorf("eventstore.sqlite.path is required")
		}
	case BackendPebble:
		if c.Pebble.Path == "" {
			return fmt.Errorf("eventstore.pebble.path is required")
		}
	default:
		return fmt.Errorf("unknown eventstore backend '%s'", c.Backend)
	}
	return nil
}
