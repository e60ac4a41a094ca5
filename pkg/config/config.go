// Package config loads server configuration from environment variables.
package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// Config holds the governance core's runtime configuration.
type Config struct {
	Port     string
	LogLevel slog.Level

	LedgerDatabaseURL    string
	ContractsDatabaseURL string
	BlockSize            int

	PolicyFile string

	JWTSecret string

	RateLimit float64
	RateBurst int

	OTLPEndpoint string
	Environment  string

	AnchorS3Bucket  string
	AnchorGCSBucket string
	AnchorPrefix    string
	AnchorProviders []string
}

// Load reads configuration from AEGIS_* environment variables, applying
// local-development defaults for anything unset.
func Load() *Config {
	return &Config{
		Port:     envString("AEGIS_PORT", "8080"),
		LogLevel: parseLevel(envString("AEGIS_LOG_LEVEL", "info")),

		LedgerDatabaseURL:    envString("AEGIS_LEDGER_DB", "sqlite://file:ledger.db"),
		ContractsDatabaseURL: envString("AEGIS_CONTRACTS_DB", "sqlite://file:contracts.db"),
		BlockSize:            envInt("AEGIS_BLOCK_SIZE", 100),

		PolicyFile: os.Getenv("AEGIS_POLICY_FILE"),

		JWTSecret: os.Getenv("AEGIS_JWT_SECRET"),

		RateLimit: envFloat("AEGIS_RATE_LIMIT", 100),
		RateBurst: envInt("AEGIS_RATE_BURST", 200),

		OTLPEndpoint: os.Getenv("AEGIS_OTLP_ENDPOINT"),
		Environment:  envString("AEGIS_ENVIRONMENT", "development"),

		AnchorS3Bucket:  os.Getenv("AEGIS_ANCHOR_S3_BUCKET"),
		AnchorGCSBucket: os.Getenv("AEGIS_ANCHOR_GCS_BUCKET"),
		AnchorPrefix:    envString("AEGIS_ANCHOR_PREFIX", "anchors/"),
		AnchorProviders: envList("AEGIS_ANCHOR_PROVIDERS"),
	}
}

func envList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
