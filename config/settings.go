package config

import (
	"os"

	"go.uber.org/zap"
)

// Settings is everything cmd/api needs to boot.
type Settings struct {
	HTTPAddr     string
	NATSURL      string
	OTelEndpoint string
	LogMode      string // "development" or "production" masking mode
}

// Load reads service settings, preferring Vault when VAULT_ADDR is set and
// reachable and falling back to plain environment variables otherwise.
// NATS is optional: an empty NATSURL disables alert publishing.
func Load(logger *zap.Logger) Settings {
	s := Settings{
		HTTPAddr:     envOr("HTTP_ADDR", ":8080"),
		NATSURL:      os.Getenv("NATS_URL"),
		OTelEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		LogMode:      envOr("LOG_MODE", "production"),
	}

	vaultAddr := os.Getenv("VAULT_ADDR")
	if vaultAddr == "" {
		return s
	}
	vaultToken := envOr("VAULT_TOKEN", "root")
	secretPath := envOr("VAULT_SECRET_PATH", "secret/data/arc/sec-core")

	manager, err := NewSecretManager(vaultAddr, vaultToken)
	if err != nil {
		logger.Warn("Vault connection failed, using environment settings", zap.Error(err))
		return s
	}
	secrets, err := manager.GetKV2(secretPath)
	if err != nil {
		logger.Warn("Failed to load secrets from Vault, using environment settings", zap.Error(err))
		return s
	}

	if v, ok := secrets["NATS_URL"].(string); ok && v != "" {
		s.NATSURL = v
	}
	if v, ok := secrets["HTTP_ADDR"].(string); ok && v != "" {
		s.HTTPAddr = v
	}
	logger.Info("settings loaded from Vault", zap.String("path", secretPath))
	return s
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
