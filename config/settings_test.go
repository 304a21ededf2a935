package config_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zaptest"

	"github.com/arc-self/packages/sec-core/config"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("VAULT_ADDR", "")
	t.Setenv("HTTP_ADDR", "")
	t.Setenv("NATS_URL", "")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	t.Setenv("LOG_MODE", "")

	s := config.Load(zaptest.NewLogger(t))
	assert.Equal(t, ":8080", s.HTTPAddr)
	assert.Empty(t, s.NATSURL)
	assert.Empty(t, s.OTelEndpoint)
	assert.Equal(t, "production", s.LogMode)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("VAULT_ADDR", "")
	t.Setenv("HTTP_ADDR", ":9999")
	t.Setenv("NATS_URL", "nats://localhost:4222")
	t.Setenv("LOG_MODE", "development")

	s := config.Load(zaptest.NewLogger(t))
	assert.Equal(t, ":9999", s.HTTPAddr)
	assert.Equal(t, "nats://localhost:4222", s.NATSURL)
	assert.Equal(t, "development", s.LogMode)
}
