// Package config handles TOML configuration for Warden.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Backends accepted by [storage] backend.
const (
	BackendBolt     = "bolt"
	BackendPostgres = "postgres"
)

// Config is the root configuration structure.
type Config struct {
	Storage     StorageConfig     `toml:"storage"`
	Materialize MaterializeConfig `toml:"materialize"`
	Drift       DriftConfig       `toml:"drift"`
	Compliance  ComplianceConfig  `toml:"compliance"`
	Server      ServerConfig      `toml:"server"`
	OTEL        OTELConfig        `toml:"otel"`
	Log         LogConfig         `toml:"log"`
}

// StorageConfig selects where documents and relational tables live.
// Documents always live in the bolt file; the relational side may move to
// PostgreSQL.
type StorageConfig struct {
	Path                 string `toml:"path"`
	Backend              string `toml:"backend"`
	PostgresDSN          string `toml:"postgres_dsn"`
	JournalDir           string `toml:"journal_dir"`
	JournalRetentionDays int    `toml:"journal_retention_days"`
	HistoryKeepRevisions int    `toml:"history_keep_revisions"`
}

// MaterializeConfig holds materialization settings. Empty lists fall back
// to the curated defaults.
type MaterializeConfig struct {
	PriorityKinds []string          `toml:"priority_kinds"`
	InvalidIDs    []string          `toml:"invalid_ids"`
	IncludeTags   map[string]string `toml:"include_tags"`
	ExcludeTags   map[string]string `toml:"exclude_tags"`
	PageSize      int               `toml:"page_size"`
	// IntervalStr schedules periodic re-materialization under serve.
	// Empty disables it.
	IntervalStr string `toml:"interval"`
	Interval    time.Duration
}

// DriftConfig holds drift severity settings. Empty field lists fall back
// to the built-in risk sets.
type DriftConfig struct {
	HighRiskFields        []string `toml:"high_risk_fields"`
	MediumRiskFields      []string `toml:"medium_risk_fields"`
	HighChangeThreshold   int      `toml:"high_change_threshold"`
	MediumChangeThreshold int      `toml:"medium_change_threshold"`
	OverviewLimit         int      `toml:"overview_limit"`
}

// ComplianceConfig holds rule pack settings.
type ComplianceConfig struct {
	RulesDir string `toml:"rules_dir"`
}

// ServerConfig holds HTTP settings.
type ServerConfig struct {
	Addr               string `toml:"addr"`
	MetricsAddr        string `toml:"metrics_addr"`
	ShutdownTimeoutStr string `toml:"shutdown_timeout"`
	ShutdownTimeout    time.Duration
}

// OTELConfig holds OpenTelemetry settings.
type OTELConfig struct {
	Endpoint    string        `toml:"endpoint"`
	Insecure    bool          `toml:"insecure"`
	ServiceName string        `toml:"service_name"`
	Traces      TracesConfig  `toml:"traces"`
	Metrics     MetricsConfig `toml:"metrics"`
}

// TracesConfig holds tracing settings.
type TracesConfig struct {
	Enabled    bool    `toml:"enabled"`
	SampleRate float64 `toml:"sample_rate"`
}

// MetricsConfig holds metrics settings.
type MetricsConfig struct {
	Enabled bool `toml:"enabled"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `toml:"level"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	// Defaults always parse
	_ = parseDurations(cfg)
	return cfg
}

// Load reads and parses a TOML config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(cfg)

	if err := parseDurations(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Storage.Path == "" {
		cfg.Storage.Path = "./data"
	}
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = BackendBolt
	}
	if cfg.Storage.JournalDir == "" {
		cfg.Storage.JournalDir = cfg.Storage.Path + "/journal"
	}
	if cfg.Storage.JournalRetentionDays == 0 {
		cfg.Storage.JournalRetentionDays = 30
	}
	if cfg.Storage.HistoryKeepRevisions == 0 {
		cfg.Storage.HistoryKeepRevisions = 50
	}
	if cfg.Materialize.PageSize == 0 {
		cfg.Materialize.PageSize = 500
	}
	if cfg.Drift.HighChangeThreshold == 0 {
		cfg.Drift.HighChangeThreshold = 5
	}
	if cfg.Drift.MediumChangeThreshold == 0 {
		cfg.Drift.MediumChangeThreshold = 3
	}
	if cfg.Drift.OverviewLimit == 0 {
		cfg.Drift.OverviewLimit = 50
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Server.MetricsAddr == "" {
		cfg.Server.MetricsAddr = ":9090"
	}
	if cfg.Server.ShutdownTimeoutStr == "" {
		cfg.Server.ShutdownTimeoutStr = "10s"
	}
	if cfg.OTEL.ServiceName == "" {
		cfg.OTEL.ServiceName = "warden"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
}

func parseDurations(cfg *Config) error {
	d, err := time.ParseDuration(cfg.Server.ShutdownTimeoutStr)
	if err != nil {
		return fmt.Errorf("parse shutdown_timeout %q: %w", cfg.Server.ShutdownTimeoutStr, err)
	}
	cfg.Server.ShutdownTimeout = d

	if cfg.Materialize.IntervalStr != "" {
		d, err := time.ParseDuration(cfg.Materialize.IntervalStr)
		if err != nil {
			return fmt.Errorf("parse materialize interval %q: %w", cfg.Materialize.IntervalStr, err)
		}
		cfg.Materialize.Interval = d
	}
	return nil
}

// Validate checks the configuration is valid.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case BackendBolt:
	case BackendPostgres:
		if c.Storage.PostgresDSN == "" {
			return fmt.Errorf("storage: postgres_dsn required for the postgres backend")
		}
	default:
		return fmt.Errorf("storage: unknown backend %q", c.Storage.Backend)
	}
	if c.Materialize.PageSize < 1 {
		return fmt.Errorf("materialize: page_size must be positive (got %d)", c.Materialize.PageSize)
	}
	if c.Materialize.Interval < 0 {
		return fmt.Errorf("materialize: interval must not be negative (got %s)", c.Materialize.Interval)
	}
	if c.Drift.MediumChangeThreshold > c.Drift.HighChangeThreshold {
		return fmt.Errorf("drift: medium_change_threshold (%d) exceeds high_change_threshold (%d)",
			c.Drift.MediumChangeThreshold, c.Drift.HighChangeThreshold)
	}
	if c.OTEL.Traces.SampleRate < 0.0 || c.OTEL.Traces.SampleRate > 1.0 {
		return fmt.Errorf("otel: traces.sample_rate must be between 0.0 and 1.0 (got %v)", c.OTEL.Traces.SampleRate)
	}
	return nil
}
