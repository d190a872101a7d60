// Package config loads browser configuration from environment variables.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all tree browser configuration.
type Config struct {
	// Logging
	LogLevel  string
	LogFormat string

	// Metrics endpoint, empty disables it
	MetricsAddr string

	// Loader
	Workers        int
	CheckGoroutine bool

	// Listing backend ("local", "smb", "s3", "postgres", "http")
	ListingBackend string
	ListingConfig  json.RawMessage
	ListingTimeout time.Duration

	// FruitSalade server (http backend)
	ServerURL string
	Token     string
}

// Load reads configuration from environment variables with defaults.
func Load() (*Config, error) {
	cfg := &Config{
		LogLevel:       envOr("LOG_LEVEL", "info"),
		LogFormat:      envOr("LOG_FORMAT", "console"),
		MetricsAddr:    envOr("METRICS_ADDR", ""),
		Workers:        envInt("BROWSER_WORKERS", 4),
		CheckGoroutine: envBool("BROWSER_CHECK_GOROUTINE", false),
		ListingBackend: envOr("LISTING_BACKEND", "local"),
		ListingTimeout: envDuration("LISTING_TIMEOUT", 30*time.Second),
		ServerURL:      envOr("FRUITSALADE_SERVER", "http://localhost:8080"),
		Token:          envOr("FRUITSALADE_TOKEN", ""),
	}

	if raw := os.Getenv("LISTING_CONFIG"); raw != "" {
		if !json.Valid([]byte(raw)) {
			return nil, fmt.Errorf("LISTING_CONFIG is not valid JSON")
		}
		cfg.ListingConfig = json.RawMessage(raw)
	}

	if cfg.Workers < 1 {
		return nil, fmt.Errorf("BROWSER_WORKERS must be at least 1, got %d", cfg.Workers)
	}

	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
