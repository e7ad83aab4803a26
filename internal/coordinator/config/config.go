package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds configuration for the indexer coordinator.
type Config struct {
	// MaxQueueSize caps the number of events held in memory.
	MaxQueueSize int `yaml:"max_queue_size"`

	// CycleInterval is the time between scheduled cycles.
	CycleInterval time.Duration `yaml:"cycle_interval"`

	// Retry configures retries of event store calls.
	Retry RetryConfig `yaml:"retry"`

	// NotifyReady publishes a notification for every event moved to READY.
	NotifyReady bool `yaml:"notify_ready"`
}

// RetryConfig holds the retry policy for event store calls.
type RetryConfig struct {
	Attempts     int             `yaml:"attempts"`
	Delay        time.Duration   `yaml:"delay"`
	FatalBackoff []time.Duration `yaml:"fatal_backoff"`
}

// DefaultConfig returns the default coordinator configuration.
func DefaultConfig() Config {
	return Config{
		MaxQueueSize:  10000,
		CycleInterval: time.Second,
		Retry: RetryConfig{
			Attempts: 5,
			Delay:    time.Second,
			FatalBackoff: []time.Duration{
				1 * time.Second,
				2 * time.Second,
				4 * time.Second,
				8 * time.Second,
				16 * time.Second,
			},
		},
		NotifyReady: true,
	}
}

// ApplyDefaults fills in zero values with defaults.
func (c *Config) ApplyDefaults() {
	defaults := DefaultConfig()
	if c.MaxQueueSize == 0 {
		c.MaxQueueSize = defaults.MaxQueueSize
	}
	if c.CycleInterval == 0 {
		c.CycleInterval = defaults.CycleInterval
	}
	if c.Retry.Attempts == 0 {
		c.Retry.Attempts = defaults.Retry.Attempts
	}
	if c.Retry.Delay == 0 {
		c.Retry.Delay = defaults.Retry.Delay
	}
	if len(c.Retry.FatalBackoff) == 0 {
		c.Retry.FatalBackoff = defaults.Retry.FatalBackoff
	}
}

// ApplyEnvOverrides applies environment variable overrides.
func (c *Config) ApplyEnvOverrides() {
	if val := os.Getenv("COORDINATOR_MAX_QUEUE_SIZE"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.MaxQueueSize = n
		}
	}
	if val := os.Getenv("COORDINATOR_CYCLE_INTERVAL"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			c.CycleInterval = d
		}
	}
}

// ResolvePaths is a no-op; the coordinator has no file paths.
func (c *Config) ResolvePaths(_, _ string) {}

// Validate returns an error if the configuration is invalid.
func (c *Config) Validate() error {
	if c.MaxQueueSize < 1 {
		return fmt.Errorf("coordinator.max_queue_size must be at least 1, got %d", c.MaxQueueSize)
	}
	if c.CycleInterval <= 0 {
		return fmt.Errorf("coordinator.cycle_interval must be positive, got %s", c.CycleInterval)
	}
	if c.Retry.Attempts < 1 {
		return fmt.Errorf("coordinator.retry.attempts must be at least 1, got %d", c.Retry.Attempts)
	}
	if c.Retry.Delay < 0 {
		return fmt.Errorf("coordinator.retry.delay must not be negative, got %s", c.Retry.Delay)
	}
	for i, d := range c.Retry.FatalBackoff {
		if d <= 0 {
			return fmt.Errorf("coordinator.retry.fatal_backoff[%d] must be positive, got %s", i, d)
		}
	}
	return nil
}
