package cache

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds configuration for the caching layer.
type Config struct {
	// Enabled controls whether caching is active. When false, no middleware
	// is applied and all requests pass through uncached.
	Enabled bool

	// MockTTL is the TTL for mock asset payload responses.
	MockTTL time.Duration

	// MethodsTTL is the TTL for the service method listing.
	MethodsTTL time.Duration

	// MaxSize is the maximum number of entries per cache instance.
	MaxSize int
}

// DefaultConfig returns the cache defaults.
func DefaultConfig() *Config {
	return &Config{
		Enabled:    true,
		MockTTL:    60 * time.Second,
		MethodsTTL: 30 * time.Second,
		MaxSize:    1000,
	}
}

// ConfigFromEnv reads cache configuration from environment variables,
// falling back to defaults for any unset variable.
//
// Environment variables:
//   - DATASITE_CACHE_ENABLED: "true" or "false" (default: "true")
//   - DATASITE_CACHE_MOCK_TTL: duration in seconds (default: 60)
//   - DATASITE_CACHE_METHODS_TTL: duration in seconds (default: 30)
//   - DATASITE_CACHE_MAX_SIZE: max entries per cache (default: 1000)
func ConfigFromEnv() *Config {
	cfg := DefaultConfig()

	if v := os.Getenv("DATASITE_CACHE_ENABLED"); v != "" {
		cfg.Enabled = strings.EqualFold(v, "true") || v == "1"
	}
	if v := os.Getenv("DATASITE_CACHE_MOCK_TTL"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			cfg.MockTTL = time.Duration(secs) * time.Second
		}
	}
	if v := os.Getenv("DATASITE_CACHE_METHODS_TTL"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			cfg.MethodsTTL = time.Duration(secs) * time.Second
		}
	}
	if v := os.Getenv("DATASITE_CACHE_MAX_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxSize = n
		}
	}
	return cfg
}
