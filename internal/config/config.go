// Package config loads the BFF configuration from BFF_-prefixed
// environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix prefixes every configuration variable.
const EnvPrefix = "BFF_"

// Config holds all application configuration.
type Config struct {
	// Server
	Port     int    `koanf:"port" validate:"min=1,max=65535"`
	LogLevel string `koanf:"log_level" validate:"oneof=debug info warn error"`

	// Lightdash API
	APIOrigin     string        `koanf:"api_origin" validate:"required,url"`
	APIVersion    string        `koanf:"api_version" validate:"oneof=v1 v2"`
	ClientVersion string        `koanf:"client_version" validate:"required"`
	HTTPTimeout   time.Duration `koanf:"http_timeout" validate:"gt=0"`

	// Resilience
	MaxRetries     int           `koanf:"max_retries" validate:"min=0,max=10"`
	InitialBackoff time.Duration `koanf:"initial_backoff" validate:"min=0"`
	MaxConcurrency int           `koanf:"max_concurrency" validate:"min=1"`

	// Cache; 0 disables it
	CacheTTL time.Duration `koanf:"cache_ttl" validate:"min=0"`

	// Diagnostics
	HistoryCapacity      int `koanf:"history_capacity" validate:"min=1"`
	HistorySnapshotLimit int `koanf:"history_snapshot_limit" validate:"min=1"`

	// Observability
	OTLPEndpoint   string `koanf:"otel_exporter_otlp_endpoint"`
	TracingEnabled bool   `koanf:"tracing_enabled"`
}

// Default returns the configuration used for unset variables.
func Default() *Config {
	return &Config{
		Port:     8080,
		LogLevel: "info",

		APIOrigin:     "http://localhost:3000",
		APIVersion:    "v1",
		ClientVersion: "0.0.0",
		HTTPTimeout:   30 * time.Second,

		MaxRetries:     3,
		InitialBackoff: 100 * time.Millisecond,
		MaxConcurrency: 10,

		CacheTTL: 30 * time.Second,

		HistoryCapacity:      10,
		HistorySnapshotLimit: 500,

		OTLPEndpoint:   "localhost:4317",
		TracingEnabled: false,
	}
}

// LoadDotEnv reads .env files into the process environment without
// overriding variables that are already set. Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	for _, path := range paths {
		if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", path, err)
		}
	}
	return nil
}

// Load reads BFF_* variables over the defaults and validates the result.
func Load() (*Config, error) {
	k := koanf.New(".")
	err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
