// Changewatch - Real-time Change Detection and Notification Fan-out
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/changewatch

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths where config files are searched in order of priority.
// The first file found will be used.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/changewatch/config.yaml",
	"/etc/changewatch/config.yml",
}

// ConfigPathEnvVar is the environment variable that can override the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// Default sampling queries match the fixture schema seeded by upstream.SeedFixture.
const (
	defaultInventoryQuery = "SELECT product_id AS id, name, quantity FROM inventory ORDER BY product_id"
	defaultOrdersQuery    = "SELECT order_id AS id, status, total FROM orders ORDER BY order_id"
	defaultActivityQuery  = "SELECT source AS id, event_count AS count FROM activity ORDER BY source"
	defaultSystemQuery    = "SELECT metric AS id, value FROM system_metrics ORDER BY metric"
)

// defaultConfig returns a Config struct with all default values.
// These defaults are applied first, then overridden by config file and env vars.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			Environment:     "development",
		},
		Upstream: UpstreamConfig{
			Driver:       "duckdb",
			DSN:          "",
			QueryTimeout: 5 * time.Second,
			MaxConns:     4,
			SeedFixture:  true,
			Breaker: BreakerConfig{
				Enabled:      true,
				MaxRequests:  3,
				Interval:     time.Minute,
				Timeout:      2 * time.Minute,
				FailureRatio: 0.6,
				MinRequests:  10,
			},
		},
		Detectors: DetectorsConfig{
			Inventory: DetectorConfig{Enabled: true, Interval: 5 * time.Second, Query: defaultInventoryQuery, KeyColumn: "id"},
			Orders:    DetectorConfig{Enabled: true, Interval: 10 * time.Second, Query: defaultOrdersQuery, KeyColumn: "id"},
			Activity:  DetectorConfig{Enabled: true, Interval: 15 * time.Second, Query: defaultActivityQuery, KeyColumn: "id"},
			System:    DetectorConfig{Enabled: true, Interval: 30 * time.Second, Query: defaultSystemQuery, KeyColumn: "id"},
		},
		Alerts: AlertsConfig{
			TTL:                24 * time.Hour,
			EvaluationInterval: 30 * time.Second,
			PersistRetries:     3,
			PersistRetryDelay:  100 * time.Millisecond,
			MinQueriesForRate:  10,
			Thresholds: map[string]ThresholdConfig{
				"low_stock":          {Threshold: 10, Severity: "high"},
				"out_of_stock":       {Threshold: 0, Severity: "critical"},
				"high_value_order":   {Threshold: 1000, Severity: "medium"},
				"order_failed":       {Threshold: 0, Severity: "medium"},
				"activity_spike":     {Threshold: 100, Severity: "medium"},
				"slow_query":         {Threshold: 1000, Severity: "medium"},
				"high_error_rate":    {Threshold: 0.1, Severity: "high"},
				"connection_failure": {Threshold: 0, Severity: "critical"},
			},
		},
		Connections: ConnectionsConfig{
			RateLimitRequests: 100,
			RateLimitWindow:   60 * time.Second,
			GracePeriod:       5 * time.Minute,
			SendBuffer:        256,
			MessageRate:       20,
			MessageBurst:      40,
			SweepInterval:     30 * time.Second,
			AllowedOrigins:    []string{},
		},
		Queue: QueueConfig{
			Backend:   "memory",
			MaxSize:   1000,
			Retention: 5 * time.Minute,
		},
		Redis: RedisConfig{
			Addr:      "",
			DB:        0,
			KeyPrefix: "changewatch:queue:",
		},
		Retention: RetentionConfig{
			Changes:            7 * 24 * time.Hour,
			AcknowledgedAlerts: 30 * 24 * time.Hour,
			HealthSamples:      7 * 24 * time.Hour,
			CleanupInterval:    time.Hour,
		},
		Health: HealthConfig{
			Interval:     60 * time.Second,
			CheckTimeout: 5 * time.Second,
			ErrorAfter:   3,
		},
		Snapshot: SnapshotConfig{
			CheckpointEnabled:  false,
			Path:               "/data/snapshot",
			CheckpointInterval: 30 * time.Second,
		},
		EventLog: EventLogConfig{
			Backend: "duckdb",
			Path:    "",
		},
		Security: SecurityConfig{
			JWTSecret:       "",
			TokenTTL:        24 * time.Hour,
			AdminAuth:       false,
			CORSOrigins:     []string{"*"},
			RateLimitReqs:   100,
			RateLimitWindow: time.Minute,
		},
		NATS: NATSConfig{
			Enabled:        false,
			URL:            "nats://127.0.0.1:4222",
			EmbeddedServer: true,
			StoreDir:       "",
			SubjectPrefix:  "changewatch",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
		Supervisor: SupervisorConfig{
			FailureThreshold: 5,
			FailureDecay:     30,
			FailureBackoff:   15 * time.Second,
			ShutdownTimeout:  10 * time.Second,
		},
	}
}

// LoadWithKoanf loads configuration using Koanf v2 with layered sources:
//  1. Defaults: Built-in defaults
//  2. Config File: Optional YAML config file (if exists)
//  3. Environment Variables: Override any mapped setting
func LoadWithKoanf() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if configPath := findConfigFile(); configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// HTTP_PORT -> server.port, UPSTREAM_DSN -> upstream.dsn
	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// findConfigFile returns the first existing config file, or "" if none.
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// sliceConfigPaths defines which config paths should be parsed as comma-separated slices
var sliceConfigPaths = []string{
	"security.cors_origins",
	"connections.allowed_origins",
}

// processSliceFields converts comma-separated string values to slices for known slice fields.
// Env vars arrive as strings but the config expects slices.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		strVal, ok := k.Get(path).(string)
		if !ok || strVal == "" {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if len(trimmed) == 0 {
			continue
		}
		if err := k.Set(path, trimmed); err != nil {
			return fmt.Errorf("failed to set %s: %w", path, err)
		}
	}
	return nil
}

// envMappings maps environment variable names (lowercased) to koanf paths.
var envMappings = map[string]string{
	// Server
	"http_host":             "server.host",
	"http_port":             "server.port",
	"http_read_timeout":     "server.read_timeout",
	"http_write_timeout":    "server.write_timeout",
	"http_shutdown_timeout": "server.shutdown_timeout",
	"environment":           "server.environment",
	"trust_proxy_headers":   "server.trust_proxy_headers",

	// Upstream
	"upstream_driver":        "upstream.driver",
	"upstream_dsn":           "upstream.dsn",
	"upstream_query_timeout": "upstream.query_timeout",
	"upstream_max_conns":     "upstream.max_conns",
	"upstream_seed_fixture":  "upstream.seed_fixture",
	"upstream_breaker":       "upstream.breaker.enabled",

	// Detectors
	"inventory_interval": "detectors.inventory.interval",
	"inventory_query":    "detectors.inventory.query",
	"inventory_enabled":  "detectors.inventory.enabled",
	"orders_interval":    "detectors.orders.interval",
	"orders_query":       "detectors.orders.query",
	"orders_enabled":     "detectors.orders.enabled",
	"activity_interval":  "detectors.activity.interval",
	"activity_query":     "detectors.activity.query",
	"activity_enabled":   "detectors.activity.enabled",
	"system_interval":    "detectors.system.interval",
	"system_query":       "detectors.system.query",
	"system_enabled":     "detectors.system.enabled",

	// Alerts
	"alert_ttl":                 "alerts.ttl",
	"alert_evaluation_interval": "alerts.evaluation_interval",
	"alert_persist_retries":     "alerts.persist_retries",

	// Connections
	"connection_rate_limit":        "connections.rate_limit_requests",
	"connection_rate_limit_window": "connections.rate_limit_window",
	"connection_grace_period":      "connections.grace_period",
	"connection_send_buffer":       "connections.send_buffer",
	"connection_message_rate":      "connections.message_rate",
	"connection_message_burst":     "connections.message_burst",
	"ws_allowed_origins":           "connections.allowed_origins",

	// Queue / Redis
	"queue_backend":    "queue.backend",
	"queue_max_size":   "queue.max_size",
	"queue_retention":  "queue.retention",
	"redis_addr":       "redis.addr",
	"redis_password":   "redis.password",
	"redis_db":         "redis.db",
	"redis_key_prefix": "redis.key_prefix",

	// Retention
	"retention_changes":             "retention.changes",
	"retention_acknowledged_alerts": "retention.acknowledged_alerts",
	"retention_health_samples":      "retention.health_samples",
	"cleanup_interval":              "retention.cleanup_interval",

	// Health
	"health_interval":      "health.interval",
	"health_check_timeout": "health.check_timeout",
	"health_error_after":   "health.error_after",

	// Snapshot / event log
	"snapshot_checkpoint":          "snapshot.checkpoint_enabled",
	"snapshot_path":                "snapshot.path",
	"snapshot_checkpoint_interval": "snapshot.checkpoint_interval",
	"eventlog_backend":             "eventlog.backend",
	"eventlog_path":                "eventlog.path",

	// Security
	"jwt_secret":          "security.jwt_secret",
	"jwt_token_ttl":       "security.token_ttl",
	"admin_auth":          "security.admin_auth",
	"cors_origins":        "security.cors_origins",
	"rate_limit_requests": "security.rate_limit_reqs",
	"rate_limit_window":   "security.rate_limit_window",

	// NATS
	"nats_enabled":        "nats.enabled",
	"nats_url":            "nats.url",
	"nats_embedded":       "nats.embedded_server",
	"nats_store_dir":      "nats.store_dir",
	"nats_subject_prefix": "nats.subject_prefix",

	// Logging
	"log_level":  "logging.level",
	"log_format": "logging.format",
	"log_caller": "logging.caller",
}

// envTransformFunc transforms environment variable names to koanf config paths.
// Unmapped keys return "" so unrelated environment variables are ignored.
func envTransformFunc(key string) string {
	if mapped, ok := envMappings[strings.ToLower(key)]; ok {
		return mapped
	}
	return ""
}
