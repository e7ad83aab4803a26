package config

import (
	"fmt"
	"os"
	"strconv"
)

// Supported providers.
const (
	ProviderMemory = "memory"
	ProviderNATS   = "nats"
	ProviderRedis  = "redis"
)

// Config selects and configures the notification transport.
type Config struct {
	Provider   string      `yaml:"provider"`
	StreamName string      `yaml:"stream_name"`
	NATS       NATSConfig  `yaml:"nats"`
	Redis      RedisConfig `yaml:"redis"`
}

type NATSConfig struct {
	URL     string `yaml:"url"`
	Storage string `yaml:"storage"` // memory or file
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

func DefaultConfig() Config {
	return Config{
		Provider:   ProviderNATS,
		StreamName: "INDEXER",
		NATS: NATSConfig{
			URL:     "nats://localhost:4222",
			Storage: "memory",
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
	}
}

// ApplyDefaults fills in zero values with defaults.
func (c *Config) ApplyDefaults() {
	defaults := DefaultConfig()
	if c.Provider == "" {
		c.Provider = defaults.Provider
	}
	if c.StreamName == "" {
		c.StreamName = defaults.StreamName
	}
	if c.NATS.URL == "" {
		c.NATS.URL = defaults.NATS.URL
	}
	if c.NATS.Storage == "" {
		c.NATS.Storage = defaults.NATS.Storage
	}
	if c.Redis.Addr == "" {
		c.Redis.Addr = defaults.Redis.Addr
	}
}

// ApplyEnvOverrides applies environment variable overrides.
func (c *Config) ApplyEnvOverrides() {
	if val := os.Getenv("PUBSUB_PROVIDER"); val != "" {
		c.Provider = val
	}
	if val := os.Getenv("NATS_URL"); val != "" {
		c.NATS.URL = val
	}
	if val := os.Getenv("REDIS_ADDR"); val != "" {
		c.Redis.Addr = val
	}
	if val := os.Getenv("REDIS_PASSWORD"); val != "" {
		c.Redis.Password = val
	}
	if val := os.Getenv("REDIS_DB"); val != "" {
		if db, err := strconv.Atoi(val); err == nil {
			c.Redis.DB = db
		}
	}
}

// ResolvePaths resolves relative paths.
// No paths to resolve in pubsub config.
func (c *Config) ResolvePaths(_, _ string) { _ = c }

// Validate returns an error if the configuration is invalid.
func (c *Config) Validate() error {
	switch c.Provider {
	case ProviderMemory:
	case ProviderNATS:
		if c.NATS.URL == "" {
			return fmt.Errorf("pubsub.nats.url is required")
		}
		if c.NATS.Storage != "memory" && c.NATS.Storage != "file" {
			return fmt.Errorf("invalid pubsub.nats.storage: %s (must be memory or file)", c.NATS.Storage)
		}
	case ProviderRedis:
		if c.Redis.Addr == "" {
			return fmt.Errorf("pubsub.redis.addr is required")
		}
	default:
		return fmt.Errorf("unknown pubsub provider '%s'", c.Provider)
	}
	if c.StreamName == "" {
		return fmt.Errorf("pubsub.stream_name is required")
	}
	return nil
}
