package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/harmonia-player/harmonia/internal/constants"
)

// Config holds all application configuration
type Config struct {
	Port       string
	DBPath     string
	CacheDir   string
	BackendURL string
	QuotaBytes int64
	LogLevel   string
	LogFormat  string
}

// Load loads configuration from environment variables with defaults
func Load() *Config {
	home, _ := os.UserHomeDir()
	defaultCache := filepath.Join(home, ".cache", constants.DefaultCacheDir)

	return &Config{
		Port:       getEnv("PORT", constants.DefaultPort),
		DBPath:     getEnv("DB_PATH", constants.DefaultDBPath),
		CacheDir:   getEnv("CACHE_DIR", defaultCache),
		BackendURL: getEnv("BACKEND_URL", constants.DefaultBackendURL),
		QuotaBytes: getEnvInt64("QUOTA_BYTES", constants.DefaultQuotaBytes),
		LogLevel:   getEnv("LOG_LEVEL", "info"),
		LogFormat:  getEnv("LOG_FORMAT", "text"),
	}
}

// Validate validates the configuration and returns detailed errors
func (c *Config) Validate() error {
	var errors []string

	if c.Port == "" {
		errors = append(errors, "PORT cannot be empty")
	} else {
		port, err := strconv.Atoi(c.Port)
		if err != nil {
			errors = append(errors, fmt.Sprintf("PORT must be a valid number, got: %s", c.Port))
		} else if port < 1 || port > 65535 {
			errors = append(errors, fmt.Sprintf("PORT must be between 1 and 65535, got: %d", port))
		}
	}

	if c.DBPath == "" {
		errors = append(errors, "DB_PATH cannot be empty")
	}

	if c.CacheDir == "" {
		errors = append(errors, "CACHE_DIR cannot be empty")
	}

	if c.BackendURL == "" {
		errors = append(errors, "BACKEND_URL cannot be empty")
	} else {
		if _, err := url.Parse(c.BackendURL); err != nil {
			errors = append(errors, fmt.Sprintf("BACKEND_URL is not a valid URL: %s", c.BackendURL))
		}
	}

	if c.QuotaBytes <= 0 {
		errors = append(errors, fmt.Sprintf("QUOTA_BYTES must be positive, got: %d", c.QuotaBytes))
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.LogLevel] {
		errors = append(errors, fmt.Sprintf("LOG_LEVEL must be one of: debug, info, warn, error, got: %s", c.LogLevel))
	}

	validLogFormats := map[string]bool{
		"text": true,
		"json": true,
	}
	if !validLogFormats[c.LogFormat] {
		errors = append(errors, fmt.Sprintf("LOG_FORMAT must be one of: text, json, got: %s", c.LogFormat))
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errors, "\n  - "))
	}

	return nil
}

// getEnv retrieves an environment variable with a fallback default
func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

// getEnvInt64 retrieves an integer environment variable with a fallback default
func getEnvInt64(key string, fallback int64) int64 {
	if value, ok := os.LookupEnv(key); ok {
		if n, err := strconv.ParseInt(value, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}
