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
)

// Database backend selection.
type DatabaseBackend string

const (
	DatabasePostgres DatabaseBackend = "postgres"
	DatabaseMySQL    DatabaseBackend = "mysql"
	DatabaseSQLite   DatabaseBackend = "sqlite"
)

// Config covers process level configuration read from environment variables.
type Config struct {
	Environment string
	HTTPBind    string
	HTTPPort    int
	DBBackend   DatabaseBackend
	DBDSN       string

	JWTSigningKey string
	MetricsBind   string

	// Deduplication scan configuration
	ScanInterval time.Duration

	// Plex media source client
	PlexTimeout  time.Duration
	PlexRetries  int
	PlexPageSize int

	// Redis cache (empty addr disables caching)
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// NATS event fan-out (empty URL keeps events in-process only)
	NATSURL string

	// Tracing configuration
	TracingEnabled    bool
	OTLPEndpoint      string
	TracingSampleRate float64
}

// Load reads environment variables, applies defaults, and validates the result.
func Load() (*Config, error) {
	cfg := &Config{
		Environment: getEnv("PLM_ENV", "development"),
		HTTPBind:    getEnv("PLM_HTTP_BIND", "0.0.0.0"),
		HTTPPort:    getEnvInt("PLM_HTTP_PORT", 8080),
		DBBackend:   DatabaseBackend(getEnv("PLM_DB_BACKEND", string(DatabaseSQLite))),
		DBDSN:       getEnv("PLM_DB_DSN", "plm.db"),

		JWTSigningKey: getEnv("PLM_JWT_SIGNING_KEY", ""),
		MetricsBind:   getEnv("PLM_METRICS_BIND", "127.0.0.1:9000"),

		ScanInterval: time.Duration(getEnvInt("PLM_SCAN_INTERVAL_HOURS", 24)) * time.Hour,

		PlexTimeout:  time.Duration(getEnvInt("PLM_PLEX_TIMEOUT_SECONDS", 30)) * time.Second,
		PlexRetries:  getEnvInt("PLM_PLEX_RETRIES", 3),
		PlexPageSize: getEnvInt("PLM_PLEX_PAGE_SIZE", 200),

		RedisAddr:     getEnv("PLM_REDIS_ADDR", ""),
		RedisPassword: getEnv("PLM_REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("PLM_REDIS_DB", 0),

		NATSURL: getEnv("PLM_NATS_URL", ""),

		TracingEnabled:    getEnvBool("PLM_TRACING_ENABLED", false),
		OTLPEndpoint:      getEnv("PLM_OTLP_ENDPOINT", "localhost:4317"),
		TracingSampleRate: getEnvFloat("PLM_TRACING_SAMPLE_RATE", 1.0),
	}

	if cfg.DBBackend != DatabasePostgres && cfg.DBBackend != DatabaseMySQL && cfg.DBBackend != DatabaseSQLite {
		return nil, fmt.Errorf("unsupported database backend %q", cfg.DBBackend)
	}

	if cfg.DBDSN == "" {
		return nil, fmt.Errorf("PLM_DB_DSN must be provided")
	}

	if cfg.JWTSigningKey == "" {
		return nil, fmt.Errorf("PLM_JWT_SIGNING_KEY must be provided")
	}

	if cfg.ScanInterval <= 0 {
		return nil, fmt.Errorf("PLM_SCAN_INTERVAL_HOURS must be positive")
	}

	if strings.EqualFold(cfg.Environment, "production") {
		if strings.EqualFold(cfg.JWTSigningKey, "changeme") {
			return nil, fmt.Errorf("PLM_JWT_SIGNING_KEY must be set to a non-default value in production")
		}
	}

	return cfg, nil
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
