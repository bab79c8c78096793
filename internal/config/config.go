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
	DBBackend   DatabaseBackend
	DBDSN       string

	// Tracing configuration
	TracingEnabled    bool
	OTLPEndpoint      string
	TracingSampleRate float64

	// Analysis cache front tier (optional; disabled automatically after the first error)
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	LegacyEnvWarnings []string

	// AutoMix Engine configuration
	AutomixEnabled         bool          // GRIMNIR_AUTOMIX_ENABLED (default: false)
	AutomixMountID         string        // GRIMNIR_AUTOMIX_MOUNT_ID — mount this engine instance mixes
	AutomixAnalyserBin     string        // GRIMNIR_AUTOMIX_ANALYSER_BIN — path to the analysis worker binary
	AutomixAnalyzeWindow   float64       // GRIMNIR_AUTOMIX_ANALYZE_WINDOW_SEC — max seconds of audio the analyser inspects
	AutomixHTTPBind        string        // GRIMNIR_AUTOMIX_HTTP_BIND — debug status/metrics bind address
	AutomixMonitorInterval time.Duration // GRIMNIR_AUTOMIX_MONITOR_INTERVAL_MS
	AutomixNATSURL         string        // GRIMNIR_AUTOMIX_NATS_URL — optional event fan-out; empty disables it
}

// Load reads environment variables, applies defaults, and validates the result.
func Load() (*Config, error) {
	cfg := &Config{
		Environment: getEnvAny([]string{"GRIMNIR_ENV", "RLM_ENV"}, "development"),
		DBBackend:   DatabaseBackend(getEnvAny([]string{"GRIMNIR_DB_BACKEND", "RLM_DB_BACKEND"}, string(DatabasePostgres))),
		DBDSN:       getEnvAny([]string{"GRIMNIR_DB_DSN", "RLM_DB_DSN"}, ""),

		// Tracing configuration
		TracingEnabled:    getEnvBoolAny([]string{"GRIMNIR_TRACING_ENABLED", "RLM_TRACING_ENABLED"}, false),
		OTLPEndpoint:      getEnvAny([]string{"GRIMNIR_OTLP_ENDPOINT", "RLM_OTLP_ENDPOINT"}, "localhost:4317"),
		TracingSampleRate: getEnvFloatAny([]string{"GRIMNIR_TRACING_SAMPLE_RATE", "RLM_TRACING_SAMPLE_RATE"}, 1.0),

		// Analysis cache front tier
		RedisAddr:     getEnvAny([]string{"GRIMNIR_REDIS_ADDR", "RLM_REDIS_ADDR"}, "localhost:6379"),
		RedisPassword: getEnvAny([]string{"GRIMNIR_REDIS_PASSWORD", "RLM_REDIS_PASSWORD"}, ""),
		RedisDB:       getEnvIntAny([]string{"GRIMNIR_REDIS_DB", "RLM_REDIS_DB"}, 0),

		// AutoMix Engine configuration
		AutomixEnabled:         getEnvBoolAny([]string{"GRIMNIR_AUTOMIX_ENABLED"}, false),
		AutomixMountID:         getEnvAny([]string{"GRIMNIR_AUTOMIX_MOUNT_ID"}, ""),
		AutomixAnalyserBin:     getEnvAny([]string{"GRIMNIR_AUTOMIX_ANALYSER_BIN"}, "automix-analyser"),
		AutomixAnalyzeWindow:   getEnvFloatAny([]string{"GRIMNIR_AUTOMIX_ANALYZE_WINDOW_SEC"}, 30.0),
		AutomixHTTPBind:        getEnvAny([]string{"GRIMNIR_AUTOMIX_HTTP_BIND"}, "127.0.0.1:9010"),
		AutomixMonitorInterval: time.Duration(getEnvIntAny([]string{"GRIMNIR_AUTOMIX_MONITOR_INTERVAL_MS"}, 500)) * time.Millisecond,
		AutomixNATSURL:         getEnvAny([]string{"GRIMNIR_AUTOMIX_NATS_URL"}, ""),
	}

	if cfg.DBBackend != DatabasePostgres && cfg.DBBackend != DatabaseMySQL && cfg.DBBackend != DatabaseSQLite {
		return nil, fmt.Errorf("unsupported database backend %q", cfg.DBBackend)
	}

	if cfg.DBDSN == "" {
		return nil, fmt.Errorf("GRIMNIR_DB_DSN or RLM_DB_DSN must be provided")
	}

	cfg.LegacyEnvWarnings = detectLegacyEnvWarnings()

	return cfg, nil
}

func detectLegacyEnvWarnings() []string {
	legacy := map[string]string{
		"ENVIRONMENT":         "use GRIMNIR_ENV (or RLM_ENV)",
		"TRACING_ENABLED":     "use GRIMNIR_TRACING_ENABLED (or RLM_TRACING_ENABLED)",
		"OTLP_ENDPOINT":       "use GRIMNIR_OTLP_ENDPOINT (or RLM_OTLP_ENDPOINT)",
		"TRACING_SAMPLE_RATE": "use GRIMNIR_TRACING_SAMPLE_RATE (or RLM_TRACING_SAMPLE_RATE)",
	}

	warnings := make([]string, 0, len(legacy))
	for key, recommendation := range legacy {
		if os.Getenv(key) != "" {
			warnings = append(warnings, fmt.Sprintf("legacy env key %s is set; %s", key, recommendation))
		}
	}
	return warnings
}

// getEnvAny returns the first non-empty environment variable value from keys, or def if none set.
func getEnvAny(keys []string, def string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return def
}

// getEnvIntAny returns the first set integer environment variable value from keys, or def.
func getEnvIntAny(keys []string, def int) int {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				return parsed
			}
		}
	}
	return def
}

// getEnvBoolAny returns the first set boolean environment variable value from keys, or def.
func getEnvBoolAny(keys []string, def bool) bool {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			v = strings.ToLower(strings.TrimSpace(v))
			if v == "true" || v == "1" || v == "yes" {
				return true
			}
			if v == "false" || v == "0" || v == "no" {
				return false
			}
		}
	}
	return def
}

// getEnvFloatAny returns the first set float environment variable value from keys, or def.
func getEnvFloatAny(keys []string, def float64) float64 {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := strconv.ParseFloat(v, 64); err == nil {
				return parsed
			}
		}
	}
	return def
}
