package indexing

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// Config configures the indexing handler.
type Config struct {
	// RulesDir holds the type rule files. When empty every object is
	// indexed under its storage object type.
	RulesDir string `yaml:"rules_dir"`

	// ConditionCacheSize is the number of compiled conditions kept.
	ConditionCacheSize int `yaml:"condition_cache_size"`
}

func DefaultConfig() Config {
	return Config{
		ConditionCacheSize: DefaultConditionCacheSize,
	}
}

// ApplyDefaults fills in zero values with defaults.
func (c *Config) ApplyDefaults() {
	if c.ConditionCacheSize == 0 {
		c.ConditionCacheSize = DefaultConditionCacheSize
	}
}

// ApplyEnvOverrides applies environment variable overrides.
func (c *Config) ApplyEnvOverrides() {
	if val := os.Getenv("INDEXING_RULES_DIR"); val != "" {
		c.RulesDir = val
	}
}

// ResolvePaths resolves the rules directory against the config directory.
func (c *Config) ResolvePaths(configDir, _ string) {
	if c.RulesDir != "" && !filepath.IsAbs(c.RulesDir) {
		c.RulesDir = filepath.Join(configDir, c.RulesDir)
	}
}

// Validate returns an error if the configuration is invalid.
func (c *Config) Validate() error {
	if c.ConditionCacheSize < 0 {
		return fmt.Errorf("indexing.condition_cache_size must not be negative")
	}
	return nil
}

// NewHandlerFromConfig loads the configured rules and builds a handler.
func NewHandlerFromConfig(cfg Config, storage Storage, logger *slog.Logger) (*Handler, error) {
	if cfg.RulesDir == "" {
		return NewHandler(storage, nil, logger), nil
	}
	conditions, err := NewConditionEvaluator(cfg.ConditionCacheSize)
	if err != nil {
		return nil, err
	}
	rules, err := LoadRules(cfg.RulesDir, conditions, logger)
	if err != nil {
		return nil, err
	}
	return NewHandler(storage, rules, logger), nil
}
