// Changewatch - Real-time Change Detection and Notification Fan-out
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/changewatch

package config

import (
	"time"

	"github.com/tomtom215/changewatch/internal/models"
)

// Config holds all application configuration.
//
// Configuration Loading Order (Koanf v2):
//  1. Defaults: Built-in defaults for every setting
//  2. Config File: Optional YAML config file (config.yaml)
//  3. Environment Variables: Override any mapped setting
//
// Config is immutable after Load() and safe for concurrent reads.
type Config struct {
	Server      ServerConfig      `koanf:"server"`
	Upstream    UpstreamConfig    `koanf:"upstream"`
	Detectors   DetectorsConfig   `koanf:"detectors"`
	Alerts      AlertsConfig      `koanf:"alerts"`
	Connections ConnectionsConfig `koanf:"connections"`
	Queue       QueueConfig       `koanf:"queue"`
	Redis       RedisConfig       `koanf:"redis"`
	Retention   RetentionConfig   `koanf:"retention"`
	Health      HealthConfig      `koanf:"health"`
	Snapshot    SnapshotConfig    `koanf:"snapshot"`
	EventLog    EventLogConfig    `koanf:"eventlog"`
	Security    SecurityConfig    `koanf:"security"`
	NATS        NATSConfig        `koanf:"nats"`
	Logging     LoggingConfig     `koanf:"logging"`
	Supervisor  SupervisorConfig  `koanf:"supervisor"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port" validate:"min=1,max=65535"`
	ReadTimeout     time.Duration `koanf:"read_timeout" validate:"gt=0"`
	WriteTimeout    time.Duration `koanf:"write_timeout" validate:"gt=0"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" validate:"gt=0"`
	Environment     string        `koanf:"environment" validate:"oneof=development staging production"`

	// TrustProxyHeaders takes the client address from True-Client-IP,
	// X-Real-IP or X-Forwarded-For. Enable only behind a proxy that
	// overwrites them; otherwise the peer address is used.
	TrustProxyHeaders bool `koanf:"trust_proxy_headers"`
}

// UpstreamConfig describes the external store the detectors sample.
//
// Driver is any database/sql driver name registered in the binary. The
// bundled build registers "duckdb"; with the default in-memory DSN and
// SeedFixture enabled, a small fixture schema is created at boot.
type UpstreamConfig struct {
	Driver       string        `koanf:"driver" validate:"required"`
	DSN          string        `koanf:"dsn"`
	QueryTimeout time.Duration `koanf:"query_timeout" validate:"gt=0"`
	MaxConns     int           `koanf:"max_conns" validate:"min=1"`
	SeedFixture  bool          `koanf:"seed_fixture"`
	Breaker      BreakerConfig `koanf:"breaker"`
}

// BreakerConfig configures the circuit breaker in front of upstream queries.
type BreakerConfig struct {
	Enabled      bool          `koanf:"enabled"`
	MaxRequests  uint32        `koanf:"max_requests" validate:"min=1"`
	Interval     time.Duration `koanf:"interval"`
	Timeout      time.Duration `koanf:"timeout" validate:"gt=0"`
	FailureRatio float64       `koanf:"failure_ratio" validate:"gt=0,lte=1"`
	MinRequests  uint32        `koanf:"min_requests" validate:"min=1"`
}

// DetectorsConfig holds one detector per monitored category.
type DetectorsConfig struct {
	Inventory DetectorConfig `koanf:"inventory"`
	Orders    DetectorConfig `koanf:"orders"`
	Activity  DetectorConfig `koanf:"activity"`
	System    DetectorConfig `koanf:"system"`
}

// DetectorConfig configures a single category detector.
// Query must return one row per entity with KeyColumn identifying it.
type DetectorConfig struct {
	Enabled   bool          `koanf:"enabled"`
	Interval  time.Duration `koanf:"interval" validate:"gt=0"`
	Query     string        `koanf:"query" validate:"required_if=Enabled true"`
	KeyColumn string        `koanf:"key_column" validate:"required"`
}

// For returns the detector settings of a category.
func (d DetectorsConfig) For(c models.Category) DetectorConfig {
	switch c {
	case models.CategoryInventory:
		return d.Inventory
	case models.CategoryOrders:
		return d.Orders
	case models.CategoryActivity:
		return d.Activity
	default:
		return d.System
	}
}

// ThresholdConfig is one named alert threshold.
type ThresholdConfig struct {
	Threshold float64 `koanf:"threshold" validate:"gte=0"`
	Severity  string  `koanf:"severity" validate:"oneof=low medium high critical"`
}

// AlertsConfig configures the alert engine.
type AlertsConfig struct {
	TTL                time.Duration              `koanf:"ttl" validate:"gt=0"`
	EvaluationInterval time.Duration              `koanf:"evaluation_interval" validate:"gt=0"`
	PersistRetries     int                        `koanf:"persist_retries" validate:"min=1"`
	PersistRetryDelay  time.Duration              `koanf:"persist_retry_delay"`
	MinQueriesForRate  int64                      `koanf:"min_queries_for_rate" validate:"min=1"`
	Thresholds         map[string]ThresholdConfig `koanf:"thresholds" validate:"dive"`
}

// ThresholdModels converts configured thresholds to their runtime form.
func (a AlertsConfig) ThresholdModels() map[models.AlertType]models.Threshold {
	out := make(map[models.AlertType]models.Threshold, len(a.Thresholds))
	for name, th := range a.Thresholds {
		out[models.AlertType(name)] = models.Threshold{Value: th.Threshold, Severity: models.Severity(th.Severity)}
	}
	return out
}

// ConnectionsConfig configures the connection manager.
type ConnectionsConfig struct {
	RateLimitRequests int           `koanf:"rate_limit_requests" validate:"min=1"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window" validate:"gt=0"`
	GracePeriod       time.Duration `koanf:"grace_period" validate:"gt=0"`
	SendBuffer        int           `koanf:"send_buffer" validate:"min=1"`
	MessageRate       float64       `koanf:"message_rate" validate:"gt=0"`
	MessageBurst      int           `koanf:"message_burst" validate:"min=1"`
	SweepInterval     time.Duration `koanf:"sweep_interval" validate:"gt=0"`
	AllowedOrigins    []string      `koanf:"allowed_origins"`
}

// QueueConfig bounds per-client offline queues.
type QueueConfig struct {
	Backend   string        `koanf:"backend" validate:"oneof=memory redis"`
	MaxSize   int           `koanf:"max_size" validate:"min=1"`
	Retention time.Duration `koanf:"retention" validate:"gt=0"`
}

// RedisConfig is used when queue.backend is redis.
type RedisConfig struct {
	Addr      string `koanf:"addr"`
	Password  string `koanf:"password"`
	DB        int    `koanf:"db" validate:"min=0"`
	KeyPrefix string `koanf:"key_prefix"`
}

// RetentionConfig holds purge horizons for the event log.
type RetentionConfig struct {
	Changes            time.Duration `koanf:"changes" validate:"gt=0"`
	AcknowledgedAlerts time.Duration `koanf:"acknowledged_alerts" validate:"gt=0"`
	HealthSamples      time.Duration `koanf:"health_samples" validate:"gt=0"`
	CleanupInterval    time.Duration `koanf:"cleanup_interval" validate:"gt=0"`
}

// HealthConfig configures the health monitor.
type HealthConfig struct {
	Interval     time.Duration `koanf:"interval" validate:"gt=0"`
	CheckTimeout time.Duration `koanf:"check_timeout" validate:"gt=0"`
	ErrorAfter   int           `koanf:"error_after" validate:"min=1"`
}

// SnapshotConfig enables badger checkpoints of the snapshot store.
type SnapshotConfig struct {
	CheckpointEnabled  bool          `koanf:"checkpoint_enabled"`
	Path               string        `koanf:"path" validate:"required_if=CheckpointEnabled true"`
	CheckpointInterval time.Duration `koanf:"checkpoint_interval" validate:"gt=0"`
}

// EventLogConfig selects the event log backend.
type EventLogConfig struct {
	Backend string `koanf:"backend" validate:"oneof=memory duckdb"`
	Path    string `koanf:"path"`
}

// SecurityConfig holds token and admin API settings.
type SecurityConfig struct {
	JWTSecret       string        `koanf:"jwt_secret"`
	TokenTTL        time.Duration `koanf:"token_ttl" validate:"gt=0"`
	AdminAuth       bool          `koanf:"admin_auth"`
	CORSOrigins     []string      `koanf:"cors_origins"`
	RateLimitReqs   int           `koanf:"rate_limit_reqs" validate:"min=1"`
	RateLimitWindow time.Duration `koanf:"rate_limit_window" validate:"gt=0"`
}

// NATSConfig configures the optional event mirror.
type NATSConfig struct {
	Enabled        bool   `koanf:"enabled"`
	URL            string `koanf:"url" validate:"required_if=Enabled true"`
	EmbeddedServer bool   `koanf:"embedded_server"`
	StoreDir       string `koanf:"store_dir"`
	SubjectPrefix  string `koanf:"subject_prefix" validate:"required"`
}

// LoggingConfig holds logger settings.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// SupervisorConfig tunes the suture tree.
type SupervisorConfig struct {
	FailureThreshold float64       `koanf:"failure_threshold" validate:"gt=0"`
	FailureDecay     float64       `koanf:"failure_decay" validate:"gt=0"`
	FailureBackoff   time.Duration `koanf:"failure_backoff" validate:"gt=0"`
	ShutdownTimeout  time.Duration `koanf:"shutdown_timeout" validate:"gt=0"`
}

// IsProduction reports whether the server runs in production mode.
func (c *Config) IsProduction() bool {
	return c.Server.Environment == "production"
}

// Load reads configuration from defaults, an optional config file and
// environment variables, in that order of increasing precedence.
func Load() (*Config, error) {
	return LoadWithKoanf()
}
