// Package config loads SentinelShield configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Akoredejo/SentinelShield/internal/domain"
	"github.com/joho/godotenv"
)

// Load builds the configuration for the selected tier and overlays
// SENTINEL_* environment variables, reading a .env file first when present.
// Priority order: environment variables > .env file > tier defaults.
func Load() (*domain.Config, error) {
	_ = godotenv.Load()

	cfg := domain.DefaultConfig()
	if getEnv("SENTINEL_TIER", "") == string(domain.TierPro) {
		cfg = domain.ProConfig()
	}

	// Server
	cfg.Server.Host = getEnv("SENTINEL_HOST", cfg.Server.Host)
	cfg.Server.Port = getEnvInt("SENTINEL_PORT", cfg.Server.Port)
	cfg.Server.RateLimitRPS = getEnvFloat("SENTINEL_RATE_LIMIT_RPS", cfg.Server.RateLimitRPS)
	cfg.Server.RateLimitBurst = getEnvInt("SENTINEL_RATE_LIMIT_BURST", cfg.Server.RateLimitBurst)

	// Engine
	cfg.Engine.AdminIDs = getEnvList("SENTINEL_ADMINS", cfg.Engine.AdminIDs)
	cfg.Engine.StrictTraderCheck = getEnvBool("SENTINEL_STRICT_TRADER_CHECK", cfg.Engine.StrictTraderCheck)
	cfg.Engine.EnforceTransitions = getEnvBool("SENTINEL_ENFORCE_TRANSITIONS", cfg.Engine.EnforceTransitions)

	// Analysis
	cfg.Analysis.VolumeCeiling = uint64(getEnvInt("SENTINEL_VOLUME_CEILING", int(cfg.Analysis.VolumeCeiling)))
	cfg.Analysis.FrequencyWindow = time.Duration(getEnvInt("SENTINEL_FREQUENCY_WINDOW_SECONDS", int(cfg.Analysis.FrequencyWindow.Seconds()))) * time.Second
	cfg.Analysis.FrequencyScale = uint64(getEnvInt("SENTINEL_FREQUENCY_SCALE", int(cfg.Analysis.FrequencyScale)))
	cfg.Analysis.WorkerCount = getEnvInt("SENTINEL_WORKERS", cfg.Analysis.WorkerCount)

	// Database
	cfg.Repository.SQLitePath = getEnv("SENTINEL_SQLITE_PATH", cfg.Repository.SQLitePath)
	cfg.Repository.PostgresHost = getEnv("SENTINEL_PG_HOST", cfg.Repository.PostgresHost)
	cfg.Repository.PostgresPort = getEnvInt("SENTINEL_PG_PORT", cfg.Repository.PostgresPort)
	cfg.Repository.PostgresUser = getEnv("SENTINEL_PG_USER", cfg.Repository.PostgresUser)
	cfg.Repository.PostgresPassword = getEnv("SENTINEL_PG_PASSWORD", cfg.Repository.PostgresPassword)
	cfg.Repository.PostgresDB = getEnv("SENTINEL_PG_DB", cfg.Repository.PostgresDB)
	cfg.Repository.PostgresSSLMode = getEnv("SENTINEL_PG_SSLMODE", cfg.Repository.PostgresSSLMode)

	// Cache
	cfg.Cache.RedisAddr = getEnv("SENTINEL_REDIS_ADDR", cfg.Cache.RedisAddr)
	cfg.Cache.RedisPassword = getEnv("SENTINEL_REDIS_PASSWORD", cfg.Cache.RedisPassword)
	cfg.Cache.RedisDB = getEnvInt("SENTINEL_REDIS_DB", cfg.Cache.RedisDB)

	// Event bus
	cfg.EventBus.NATSUrl = getEnv("SENTINEL_NATS_URL", cfg.EventBus.NATSUrl)
	cfg.EventBus.NATSToken = getEnv("SENTINEL_NATS_TOKEN", cfg.EventBus.NATSToken)

	// Observability
	cfg.Logging.Level = getEnv("SENTINEL_LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Format = getEnv("SENTINEL_LOG_FORMAT", cfg.Logging.Format)
	cfg.Tracing.Enabled = getEnvBool("SENTINEL_TRACING", cfg.Tracing.Enabled)
	cfg.Tracing.Endpoint = getEnv("SENTINEL_OTLP_ENDPOINT", cfg.Tracing.Endpoint)
	cfg.Tracing.Insecure = getEnvBool("SENTINEL_OTLP_INSECURE", cfg.Tracing.Insecure)
	cfg.Tracing.ServiceName = getEnv("SENTINEL_SERVICE_NAME", cfg.Tracing.ServiceName)
	cfg.Tracing.SampleRatio = getEnvFloat("SENTINEL_TRACE_SAMPLE_RATIO", cfg.Tracing.SampleRatio)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks that configuration values are usable.
func Validate(cfg *domain.Config) error {
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("SENTINEL_PORT must be between 1 and 65535")
	}

	if len(cfg.Engine.AdminIDs) == 0 {
		return fmt.Errorf("SENTINEL_ADMINS must name at least one administrator")
	}

	if cfg.Analysis.VolumeCeiling == 0 {
		return fmt.Errorf("SENTINEL_VOLUME_CEILING must be positive")
	}

	if cfg.Analysis.FrequencyWindow <= 0 {
		return fmt.Errorf("SENTINEL_FREQUENCY_WINDOW_SECONDS must be positive")
	}

	if cfg.Server.RateLimitRPS <= 0 || cfg.Server.RateLimitBurst < 1 {
		return fmt.Errorf("rate limit must allow at least one request")
	}

	return nil
}

// getEnv retrieves an environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an environment variable as an integer or returns a default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvFloat retrieves an environment variable as a float64 or returns a default.
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

// getEnvBool retrieves an environment variable as a boolean or returns a default.
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

// getEnvList splits a comma-separated variable, dropping empty entries.
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
