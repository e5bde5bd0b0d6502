package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("REFUND_SWEEP_CUTOFF_HOURS", "")
	t.Setenv("KAFKA_BROKERS", "")

	cfg := Load()

	assert.Equal(t, 24, cfg.Sweeper.CutoffHours)
	assert.Equal(t, "@hourly", cfg.Sweeper.Schedule)
	assert.True(t, cfg.Sweeper.GatewayCancel)
	assert.Equal(t, []string{"localhost:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "/v1/payments/%s/cancel", cfg.Gateway.CancelPath)
	assert.Equal(t, 1024, cfg.Kafka.QueueSize)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("REFUND_SWEEP_CUTOFF_HOURS", "48")
	t.Setenv("REFUND_SWEEP_GATEWAY_CANCEL", "false")
	t.Setenv("GATEWAY_TIMEOUT_SECONDS", "not-a-number")

	cfg := Load()

	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 48, cfg.Sweeper.CutoffHours)
	assert.False(t, cfg.Sweeper.GatewayCancel)
	assert.Equal(t, 10, cfg.Gateway.TimeoutSeconds)
}
