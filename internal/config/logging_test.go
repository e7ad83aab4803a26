package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"gopkg.in/yaml.v3"
)

func TestDefaultLoggingConfig(t *testing.T) {
	cfg := DefaultLoggingConfig()

	assert.Equal(t, "info", cfg.Level)
	assert.Equal(t, "text", cfg.Format)
	assert.Equal(t, "logs", cfg.Dir)
	assert.Equal(t, 100, cfg.Rotation.MaxSize)
	assert.True(t, cfg.Rotation.Compress)
	assert.True(t, cfg.Console.Enabled)
	assert.False(t, cfg.File.Enabled)
	assert.True(t, cfg.Dedup.Enabled)
	assert.NoError(t, cfg.Validate())
}

func TestLoggingConfigYAMLParsing(t *testing.T) {
	yamlData := `
level: "debug"
format: "json"
dir: "/var/log/searchindexer"
rotation:
  max_size: 50
  compress: false
console:
  enabled: false
file:
  enabled: true
  level: "warn"
dedup:
  window: 30s
`
	var cfg LoggingConfig
	assert.NoError(t, yaml.Unmarshal([]byte(yamlData), &cfg))

	assert.Equal(t, "debug", cfg.Level)
	assert.Equal(t, "/var/log/searchindexer", cfg.Dir)
	assert.Equal(t, 50, cfg.Rotation.MaxSize)
	assert.False(t, cfg.Console.Enabled)
	assert.Equal(t, "warn", cfg.File.Level)
	assert.Equal(t, 30*time.Second, cfg.Dedup.Window)
}

func TestLoggingConfigApplyDefaults(t *testing.T) {
	cfg := &LoggingConfig{Level: "warn", Format: "json", File: OutputConfig{Level: "error"}}
	cfg.ApplyDefaults()

	assert.Equal(t, "logs", cfg.Dir)
	assert.Equal(t, 10, cfg.Rotation.MaxBackups)
	assert.Equal(t, "warn", cfg.Console.Level, "outputs inherit the top-level level")
	assert.Equal(t, "json", cfg.Console.Format)
	assert.Equal(t, "error", cfg.File.Level)
	assert.Equal(t, time.Minute, cfg.Dedup.Window)
	assert.Equal(t, 1024, cfg.Dedup.MaxKeys)
}

func TestLoggingConfigApplyEnvOverrides(t *testing.T) {
	t.Setenv("LOG_FORMAT", "json")
	t.Setenv("LOG_DIR", "/logs")
	cfg := DefaultLoggingConfig()
	cfg.ApplyEnvOverrides()

	assert.Equal(t, "json", cfg.Format)
	assert.Equal(t, "json", cfg.Console.Format)
	assert.Equal(t, "/logs", cfg.Dir)
}

func TestLoggingConfigResolvePaths(t *testing.T) {
	cfg := &LoggingConfig{Dir: "logs"}
	cfg.ResolvePaths("config", "data")
	assert.Equal(t, filepath.Join("data", "logs"), cfg.Dir)

	abs := filepath.Join(t.TempDir(), "logs")
	cfg = &LoggingConfig{Dir: abs}
	cfg.ResolvePaths("config", "data")
	assert.Equal(t, abs, cfg.Dir)
}

func TestLoggingConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*LoggingConfig)
		wantErr string
	}{
		{"invalid level", func(c *LoggingConfig) { c.Level = "trace" }, "invalid log level"},
		{"invalid format", func(c *LoggingConfig) { c.Format = "xml" }, "invalid log format"},
		{"invalid console level", func(c *LoggingConfig) { c.Console.Level = "loud" }, "invalid console log level"},
		{"invalid file format ignored when disabled", func(c *LoggingConfig) { c.File.Format = "xml" }, ""},
		{"invalid file format", func(c *LoggingConfig) { c.File.Enabled = true; c.File.Format = "xml" }, "invalid file log format"},
		{"file output without dir", func(c *LoggingConfig) { c.File.Enabled = true; c.Dir = "" }, "log directory cannot be empty"},
		{"dedup window", func(c *LoggingConfig) { c.Dedup.Window = 0 }, "logging.dedup.window"},
		{"dedup keys", func(c *LoggingConfig) { c.Dedup.MaxKeys = 0 }, "logging.dedup.max_keys"},
		{"dedup disabled", func(c *LoggingConfig) { c.Dedup = DedupConfig{} }, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultLoggingConfig()
			tt.modify(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}
