// Package config loads configuration from environment variables.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all bundlepush configuration.
type Config struct {
	// Versioning API
	ServerURL string
	Token     string
	Timeout   time.Duration

	// Archives
	MaxArchiveSize int64

	// Logging
	LogLevel  string
	LogFormat string

	// Metrics (optional; empty disables the textfile dump)
	MetricsTextfile string

	// S3 archive source (optional)
	S3Endpoint  string
	S3Region    string
	S3AccessKey string
	S3SecretKey string
}

// Load reads configuration from environment variables with defaults.
func Load() (*Config, error) {
	cfg := &Config{
		ServerURL:       envOr("BUNDLEPUSH_SERVER_URL", "http://localhost:3000/api/v1"),
		Token:           envOr("BUNDLEPUSH_TOKEN", ""),
		Timeout:         envDuration("BUNDLEPUSH_TIMEOUT", 30*time.Second),
		MaxArchiveSize:  envInt64("BUNDLEPUSH_MAX_ARCHIVE_SIZE", 512<<20),
		LogLevel:        envOr("LOG_LEVEL", "info"),
		LogFormat:       envOr("LOG_FORMAT", "console"),
		MetricsTextfile: envOr("METRICS_TEXTFILE", ""),
		S3Endpoint:      envOr("S3_ENDPOINT", ""),
		S3Region:        envOr("S3_REGION", "us-east-1"),
		S3AccessKey:     envOr("S3_ACCESS_KEY", ""),
		S3SecretKey:     envOr("S3_SECRET_KEY", ""),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that would otherwise fail deep inside a push.
func (c *Config) Validate() error {
	c.ServerURL = strings.TrimSuffix(c.ServerURL, "/")
	u, err := url.Parse(c.ServerURL)
	if err != nil {
		return fmt.Errorf("invalid server URL %q: %w", c.ServerURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("server URL %q must use http or https", c.ServerURL)
	}
	if u.Host == "" {
		return fmt.Errorf("server URL %q has no host", c.ServerURL)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %s", c.Timeout)
	}
	if c.MaxArchiveSize <= 0 {
		return fmt.Errorf("max archive size must be positive, got %d", c.MaxArchiveSize)
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt64(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.ParseInt(v, 10, 64)
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
		// Bare numbers are milliseconds.
		ms, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fallback
		}
		return time.Duration(ms) * time.Millisecond
	}
	return d
}
