package config

import (
	"fmt"
	"os"
	"path/filepath"

	coordinator "github.com/syntrixbase/searchindexer/internal/coordinator/config"
	eventstore "github.com/syntrixbase/searchindexer/internal/core/eventstore/config"
	pubsub "github.com/syntrixbase/searchindexer/internal/core/pubsub/config"
	"github.com/syntrixbase/searchindexer/internal/indexing"
	ingest "github.com/syntrixbase/searchindexer/internal/ingest/config"
	"github.com/syntrixbase/searchindexer/internal/server"
	worker "github.com/syntrixbase/searchindexer/internal/worker/config"
	"gopkg.in/yaml.v3"
)

// DefaultDataDir holds runtime files when data_dir is not set.
const DefaultDataDir = "data"

// Config holds the application configuration
type Config struct {
	DataDir string        `yaml:"data_dir"`
	Logging LoggingConfig `yaml:"logging"`
	Server  server.Config `yaml:"server"`

	// Components
	EventStore eventstore.Config `yaml:"eventstore"`
	PubSub     pubsub.Config     `yaml:"pubsub"`

	// Services
	Coordinator coordinator.Config `yaml:"coordinator"`
	Worker      worker.Config      `yaml:"worker"`
	Indexing    indexing.Config    `yaml:"indexing"`
	Ingest      ingest.Config      `yaml:"ingest"`
}

// Default returns the configuration used when no file sets a value.
func Default() *Config {
	return &Config{
		DataDir:     DefaultDataDir,
		Logging:     DefaultLoggingConfig(),
		Server:      server.DefaultConfig(),
		EventStore:  eventstore.DefaultConfig(),
		PubSub:      pubsub.DefaultConfig(),
		Coordinator: coordinator.DefaultConfig(),
		Worker:      worker.DefaultConfig(),
		Indexing:    indexing.DefaultConfig(),
		Ingest:      ingest.DefaultConfig(),
	}
}

// Load loads configuration from files in configDir and environment variables.
// Order: defaults -> config.yml -> config.local.yml -> ApplyEnvOverrides -> ResolvePaths -> Validate
// Missing files are skipped.
func Load(configDir string) (*Config, error) {
	cfg := Default()

	for _, name := range []string{"config.yml", "config.local.yml"} {
		if err := loadFile(filepath.Join(configDir, name), cfg); err != nil {
			return nil, err
		}
	}

	if val := os.Getenv("SEARCHINDEXER_DATA_DIR"); val != "" {
		cfg.DataDir = val
	}
	if cfg.DataDir == "" {
		cfg.DataDir = DefaultDataDir
	}

	if err := ApplyServiceConfigs(configDir, cfg.DataDir,
		&cfg.Logging,
		&cfg.Server,
		&cfg.EventStore,
		&cfg.PubSub,
		&cfg.Coordinator,
		&cfg.Worker,
		&cfg.Indexing,
		&cfg.Ingest,
	); err != nil {
		return nil, fmt.Errorf("configuration error: %w", err)
	}
	return cfg, nil
}

func loadFile(filename string, cfg *Config) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read %s: %w", filename, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse %s: %w", filename, err)
	}
	return nil
}
