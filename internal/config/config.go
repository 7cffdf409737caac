// Package config provides configuration for the MCP relay.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the relay configuration.
type Config struct {
	// Server settings
	HTTPPort int

	// Database
	DatabaseURL string

	// Auth
	JWTSecret string

	// Session lifecycle
	SessionIdleTimeout time.Duration
	SessionSweepEvery  time.Duration

	// SSE
	KeepaliveInterval time.Duration

	// Meta Marketing API
	MetaAPIBaseURL string
	MetaAPIVersion string
	MetaTimeout    time.Duration

	// Logging
	LogLevel string
}

// Load loads configuration from environment variables.
// A .env file in the working directory is applied first when present.
func Load() *Config {
	_ = godotenv.Load()

	cfg := &Config{
		HTTPPort:           getEnvInt("HTTP_PORT", 8080),
		DatabaseURL:        getEnv("DATABASE_URL", "file:metaads.db?cache=shared&mode=rwc"),
		JWTSecret:          getEnv("JWT_SECRET", "dev-jwt-secret"),
		SessionIdleTimeout: getEnvDuration("SESSION_IDLE_TIMEOUT_MS", 30*time.Minute),
		SessionSweepEvery:  getEnvDuration("SESSION_SWEEP_MS", time.Minute),
		KeepaliveInterval:  getEnvDuration("SSE_KEEPALIVE_MS", 30*time.Second),
		MetaAPIBaseURL:     getEnv("META_API_BASE_URL", "https://graph.facebook.com"),
		MetaAPIVersion:     getEnv("META_API_VERSION", "v18.0"),
		MetaTimeout:        getEnvDuration("META_TIMEOUT_MS", 30*time.Second),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
	}
	return cfg
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return time.Duration(intVal) * time.Millisecond
		}
	}
	return defaultVal
}
