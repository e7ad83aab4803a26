package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.False(t, cfg.Kafka.Enabled)
	assert.False(t, cfg.RabbitMQ.Enabled)
	assert.Equal(t, []string{"localhost:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, []string{"#"}, cfg.RabbitMQ.RoutingKeys)
	require.NoError(t, cfg.Validate())
}

func TestApplyDefaults(t *testing.T) {
	cfg := Config{Kafka: KafkaConfig{Enabled: true, Topics: []string{"a"}}}
	cfg.ApplyDefaults()
	assert.True(t, cfg.Kafka.Enabled)
	assert.Equal(t, []string{"a"}, cfg.Kafka.Topics)
	assert.Equal(t, "searchindexer", cfg.Kafka.GroupID)
	assert.Equal(t, 4, cfg.RabbitMQ.Workers)
	require.NoError(t, cfg.Validate())
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("KAFKA_ENABLED", "true")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("KAFKA_TOPICS", "events")
	t.Setenv("RABBITMQ_ENABLED", "maybe")
	t.Setenv("RABBITMQ_URL", "amqp://mq:5672/")
	cfg := DefaultConfig()
	cfg.ApplyEnvOverrides()
	assert.True(t, cfg.Kafka.Enabled)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, []string{"events"}, cfg.Kafka.Topics)
	assert.False(t, cfg.RabbitMQ.Enabled)
	assert.Equal(t, "amqp://mq:5672/", cfg.RabbitMQ.URL)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"kafka brokers", func(c *Config) { c.Kafka.Enabled = true; c.Kafka.Brokers = nil }, "ingest.kafka.brokers"},
		{"kafka topics", func(c *Config) { c.Kafka.Enabled = true; c.Kafka.Topics = nil }, "ingest.kafka.topics"},
		{"kafka group", func(c *Config) { c.Kafka.Enabled = true; c.Kafka.GroupID = "" }, "group_id"},
		{"kafka workers", func(c *Config) { c.Kafka.Enabled = true; c.Kafka.Workers = 0 }, "workers"},
		{"rabbitmq url", func(c *Config) { c.RabbitMQ.Enabled = true; c.RabbitMQ.URL = "" }, "ingest.rabbitmq.url"},
		{"rabbitmq queue", func(c *Config) { c.RabbitMQ.Enabled = true; c.RabbitMQ.Queue = "" }, "ingest.rabbitmq.queue"},
		{"rabbitmq prefetch", func(c *Config) { c.RabbitMQ.Enabled = true; c.RabbitMQ.PrefetchCount = 0 }, "prefetch_count"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}

	disabled := Config{}
	assert.NoError(t, disabled.Validate(), "disabled sources are not checked")
}
