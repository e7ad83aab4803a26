package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds configuration for the indexing worker pool.
type Config struct {
	// Enabled runs workers in this process.
	Enabled bool `yaml:"enabled"`

	// Workers is the number of events handled concurrently.
	Workers int `yaml:"workers"`

	// BatchSize is the number of READY events fetched per poll.
	BatchSize int `yaml:"batch_size"`

	// PollInterval is the time between polls of the event store.
	PollInterval time.Duration `yaml:"poll_interval"`

	// HandleTimeout bounds the handling of a single event.
	HandleTimeout time.Duration `yaml:"handle_timeout"`

	// Subscribe wakes the pool on ready notifications in addition to polling.
	Subscribe bool `yaml:"subscribe"`

	// ConsumerName is the durable consumer name used when subscribing.
	ConsumerName string `yaml:"consumer_name"`
}

func DefaultConfig() Config {
	return Config{
		Enabled:       true,
		Workers:       4,
		BatchSize:     100,
		PollInterval:  time.Second,
		HandleTimeout: 30 * time.Second,
		Subscribe:     true,
		ConsumerName:  "searchindexer-workers",
	}
}

// ApplyDefaults fills in zero values with defaults.
func (c *Config) ApplyDefaults() {
	defaults := DefaultConfig()
	if c.Workers == 0 {
		c.Workers = defaults.Workers
	}
	if c.BatchSize == 0 {
		c.BatchSize = defaults.BatchSize
	}
	if c.PollInterval == 0 {
		c.PollInterval = defaults.PollInterval
	}
	if c.HandleTimeout == 0 {
		c.HandleTimeout = defaults.HandleTimeout
	}
	if c.ConsumerName == "" {
		c.ConsumerName = defaults.ConsumerName
	}
}

// ApplyEnvOverrides applies environment variable overrides.
func (c *Config) ApplyEnvOverrides() {
	if val := os.Getenv("WORKER_COUNT"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.Workers = n
		}
	}
	if val := os.Getenv("WORKER_ENABLED"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			c.Enabled = b
		}
	}
}

// ResolvePaths is a no-op; the worker pool has no file paths.
func (c *Config) ResolvePaths(_, _ string) {}

// Validate returns an error if the configuration is invalid.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Workers < 1 {
		return fmt.Errorf("worker.workers must be at least 1, got %d", c.Workers)
	}
	if c.BatchSize < 1 {
		return fmt.Errorf("worker.batch_size must be at least 1, got %d", c.BatchSize)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("worker.poll_interval must be positive")
	}
	if c.HandleTimeout <= 0 {
		return fmt.Errorf("worker.handle_timeout must be positive")
	}
	return nil
}
