/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Database backend selection.
type DatabaseBackend string

const (
	DatabasePostgres DatabaseBackend = "postgres"
	DatabaseMySQL    DatabaseBackend = "mysql"
	DatabaseSQLite   DatabaseBackend = "sqlite"
)

// Config covers process level configuration. Values come from an optional
// YAML file (SKALD_CONFIG_FILE) overlaid by SKALD_* environment variables;
// environment always wins.
type Config struct {
	Environment string `yaml:"environment"`
	HTTPBind    string `yaml:"http_bind"`
	HTTPPort    int    `yaml:"http_port"`
	MetricsBind string `yaml:"metrics_bind"`

	DBBackend DatabaseBackend `yaml:"db_backend"`
	DBDSN     string          `yaml:"db_dsn"`

	// Device registry tuning
	DeviceGracePeriod time.Duration `yaml:"device_grace_period"`

	// Tracing configuration
	TracingEnabled    bool    `yaml:"tracing_enabled"`
	OTLPEndpoint      string  `yaml:"otlp_endpoint"`
	TracingSampleRate float64 `yaml:"tracing_sample_rate"`
}

// Load reads the optional config file and environment variables, applies
// defaults, and validates the result.
func Load() (*Config, error) {
	cfg := &Config{
		Environment:       "development",
		HTTPBind:          "0.0.0.0",
		HTTPPort:          8080,
		MetricsBind:       "127.0.0.1:9000",
		DBBackend:         DatabaseSQLite,
		DBDSN:             "skald.db",
		DeviceGracePeriod: 30 * time.Second,
		TracingEnabled:    false,
		OTLPEndpoint:      "localhost:4317",
		TracingSampleRate: 1.0,
	}

	if path := os.Getenv("SKALD_CONFIG_FILE"); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	cfg.Environment = getEnv("SKALD_ENV", cfg.Environment)
	cfg.HTTPBind = getEnv("SKALD_HTTP_BIND", cfg.HTTPBind)
	cfg.HTTPPort = getEnvInt("SKALD_HTTP_PORT", cfg.HTTPPort)
	cfg.MetricsBind = getEnv("SKALD_METRICS_BIND", cfg.MetricsBind)
	cfg.DBBackend = DatabaseBackend(getEnv("SKALD_DB_BACKEND", string(cfg.DBBackend)))
	cfg.DBDSN = getEnv("SKALD_DB_DSN", cfg.DBDSN)
	cfg.DeviceGracePeriod = getEnvDuration("SKALD_DEVICE_GRACE_PERIOD", cfg.DeviceGracePeriod)
	cfg.TracingEnabled = getEnvBool("SKALD_TRACING_ENABLED", cfg.TracingEnabled)
	cfg.OTLPEndpoint = getEnv("SKALD_OTLP_ENDPOINT", cfg.OTLPEndpoint)
	cfg.TracingSampleRate = getEnvFloat("SKALD_TRACING_SAMPLE_RATE", cfg.TracingSampleRate)

	if cfg.DBBackend != DatabasePostgres && cfg.DBBackend != DatabaseMySQL && cfg.DBBackend != DatabaseSQLite {
		return nil, fmt.Errorf("unsupported database backend %q", cfg.DBBackend)
	}
	if cfg.DBDSN == "" {
		return nil, fmt.Errorf("SKALD_DB_DSN must be provided")
	}
	if cfg.DeviceGracePeriod < time.Second {
		return nil, fmt.Errorf("SKALD_DEVICE_GRACE_PERIOD must be at least 1s, got %s", cfg.DeviceGracePeriod)
	}

	return cfg, nil
}

// EvictionInterval is how often the stale-device sweep runs. A third of the
// grace period keeps worst-case overstay under grace*4/3.
func (c *Config) EvictionInterval() time.Duration {
	return c.DeviceGracePeriod / 3
}

func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func getEnvInt(key string, def int) int {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if val := os.Getenv(key); val != "" {
		val = strings.ToLower(strings.TrimSpace(val))
		if val == "true" || val == "1" || val == "yes" {
			return true
		}
		if val == "false" || val == "0" || val == "no" {
			return false
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseFloat(val, 64); err == nil {
			return parsed
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if parsed, err := time.ParseDuration(val); err == nil {
			return parsed
		}
	}
	return def
}
