// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the analyst service configuration.
//
// Values come from three layers, later layers winning: built-in defaults, an
// optional YAML file, and environment variables. API keys are never part of
// the file; they are read from ANTHROPIC_API_KEY / OPENAI_API_KEY or from
// agent.api_key_file into memguard enclaves by the service.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/signalk-analyst/services/analyst/retry"
)

// Agent providers.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderMock      = "mock"
)

// Series sources for episodes and sampled records.
const (
	SourceSQLite = "sqlite"
	SourceInflux = "influx"
)

// ErrInvalidConfig is matched by every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the full service configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Agent   AgentConfig   `yaml:"agent"`
	Data    DataConfig    `yaml:"data"`
	Store   StoreConfig   `yaml:"store"`
	Logging LoggingConfig `yaml:"logging"`
	Tracing TracingConfig `yaml:"tracing"`
	Retry   retry.Policy  `yaml:"retry"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr            string        `yaml:"addr" validate:"required"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" validate:"gte=0"`
}

// AgentConfig configures the reasoning agent and the round loop.
type AgentConfig struct {
	// Provider is "anthropic", "openai" or "mock". Default: anthropic
	Provider string `yaml:"provider" validate:"oneof=anthropic openai mock"`

	// Model overrides the provider default.
	Model string `yaml:"model"`

	// BaseURL overrides the provider endpoint.
	BaseURL string `yaml:"base_url" validate:"omitempty,url"`

	// APIKeyFile is read when the provider's key variable is unset.
	APIKeyFile string `yaml:"api_key_file"`

	MaxRounds         int           `yaml:"max_rounds" validate:"gte=1,lte=50"`
	FollowUpMaxRounds int           `yaml:"follow_up_max_rounds" validate:"gte=1,lte=50"`
	MaxRetries        int           `yaml:"max_retries" validate:"gte=1,lte=10"`
	MaxTokens         int           `yaml:"max_tokens" validate:"gte=256,lte=64000"`
	Temperature       float64       `yaml:"temperature" validate:"gte=0,lte=2"`
	Timeout           time.Duration `yaml:"timeout" validate:"gte=0"`

	// RequestsPerSecond limits agent calls. 0 disables the limiter.
	RequestsPerSecond float64 `yaml:"requests_per_second" validate:"gte=0"`
	Burst             int     `yaml:"burst" validate:"gte=0"`
}

// APIKeyEnv is the environment variable holding the provider's key.
func (a AgentConfig) APIKeyEnv() string {
	switch a.Provider {
	case ProviderOpenAI:
		return "OPENAI_API_KEY"
	case ProviderAnthropic:
		return "ANTHROPIC_API_KEY"
	default:
		return ""
	}
}

// DataConfig configures the data sources behind the tools.
type DataConfig struct {
	// SQLitePath is the read-only history database. Empty disables
	// run_query.
	SQLitePath string `yaml:"sqlite_path"`

	// SeriesSource feeds find_episodes and sampled analysis.
	SeriesSource string `yaml:"series_source" validate:"oneof=sqlite influx"`

	// SignalKURL is the server for live snapshots. Empty disables
	// get_live_snapshot.
	SignalKURL string `yaml:"signalk_url" validate:"omitempty,url"`

	Influx InfluxConfig `yaml:"influx"`

	MaxRows       int           `yaml:"max_rows" validate:"gte=1"`
	PreviewRows   int           `yaml:"preview_rows" validate:"gte=1"`
	PreviewBytes  int           `yaml:"preview_bytes" validate:"gte=256"`
	SnapshotDepth int           `yaml:"snapshot_depth" validate:"gte=1,lte=32"`
	ToolTimeout   time.Duration `yaml:"tool_timeout" validate:"gte=0"`
}

// InfluxConfig locates the InfluxDB bucket.
type InfluxConfig struct {
	URL    string `yaml:"url" validate:"omitempty,url"`
	Token  string `yaml:"token"`
	Org    string `yaml:"org"`
	Bucket string `yaml:"bucket"`
}

// StoreConfig configures answer history and the conversation registry.
type StoreConfig struct {
	// Path is the Badger directory for answer history. Supports ~.
	Path        string        `yaml:"path"`
	InMemory    bool          `yaml:"in_memory"`
	Retention   time.Duration `yaml:"retention" validate:"gte=0"`
	SessionTTL  time.Duration `yaml:"session_ttl" validate:"gte=0"`
	MaxSessions int           `yaml:"max_sessions" validate:"gte=0"`
}

// LoggingConfig configures pkg/logging.
type LoggingConfig struct {
	Level string `yaml:"level" validate:"oneof=debug info warn warning error"`
	JSON  bool   `yaml:"json"`
	Dir   string `yaml:"dir"`
}

// TracingConfig configures the OTLP exporter. Empty Endpoint disables
// export.
type TracingConfig struct {
	Endpoint    string `yaml:"endpoint"`
	ServiceName string `yaml:"service_name" validate:"required"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:            ":8090",
			ShutdownTimeout: 15 * time.Second,
		},
		Agent: AgentConfig{
			Provider:          ProviderAnthropic,
			MaxRounds:         10,
			FollowUpMaxRounds: 5,
			MaxRetries:        3,
			MaxTokens:         4096,
			Temperature:       0.2,
			Timeout:           120 * time.Second,
			RequestsPerSecond: 1,
			Burst:             2,
		},
		Data: DataConfig{
			SeriesSource:  SourceSQLite,
			MaxRows:       10000,
			PreviewRows:   50,
			PreviewBytes:  16 * 1024,
			SnapshotDepth: 6,
			ToolTimeout:   30 * time.Second,
		},
		Store: StoreConfig{
			Path:        "~/.signalk-analyst/answers",
			Retention:   30 * 24 * time.Hour,
			SessionTTL:  time.Hour,
			MaxSessions: 256,
		},
		Logging: LoggingConfig{Level: "info"},
		Tracing: TracingConfig{ServiceName: "signalk-analyst"},
		Retry:   retry.DefaultPolicy(),
	}
}

// LookupFunc reads an environment variable.
type LookupFunc func(key string) (string, bool)

// Load reads path (optional) over the defaults, applies the process
// environment and validates the result.
func Load(path string) (Config, error) {
	return load(path, os.LookupEnv)
}

func load(path string, lookup LookupFunc) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(expandPath(path))
		if err != nil {
			return cfg, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}
	if err := cfg.ApplyEnv(lookup); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	cfg.Store.Path = expandPath(cfg.Store.Path)
	cfg.Data.SQLitePath = expandPath(cfg.Data.SQLitePath)
	return cfg, nil
}

// ApplyEnv overrides fields from ANALYST_* and INFLUXDB_* variables.
func (c *Config) ApplyEnv(lookup LookupFunc) error {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	var errs []error
	num := func(key string, dst *int) {
		if v, ok := lookup(key); ok && v != "" {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	flag := func(key string, dst *bool) {
		if v, ok := lookup(key); ok && v != "" {
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = b
		}
	}

	str("ANALYST_ADDR", &c.Server.Addr)
	str("ANALYST_PROVIDER", &c.Agent.Provider)
	str("ANALYST_MODEL", &c.Agent.Model)
	str("ANALYST_BASE_URL", &c.Agent.BaseURL)
	str("ANALYST_API_KEY_FILE", &c.Agent.APIKeyFile)
	num("ANALYST_MAX_ROUNDS", &c.Agent.MaxRounds)
	num("ANALYST_FOLLOW_UP_MAX_ROUNDS", &c.Agent.FollowUpMaxRounds)
	num("ANALYST_MAX_RETRIES", &c.Agent.MaxRetries)
	str("ANALYST_SQLITE_PATH", &c.Data.SQLitePath)
	str("ANALYST_SERIES_SOURCE", &c.Data.SeriesSource)
	str("ANALYST_SIGNALK_URL", &c.Data.SignalKURL)
	str("ANALYST_STORE_PATH", &c.Store.Path)
	flag("ANALYST_STORE_IN_MEMORY", &c.Store.InMemory)
	str("ANALYST_LOG_LEVEL", &c.Logging.Level)
	flag("ANALYST_LOG_JSON", &c.Logging.JSON)
	str("ANALYST_LOG_DIR", &c.Logging.Dir)
	str("ANALYST_OTLP_ENDPOINT", &c.Tracing.Endpoint)
	str("INFLUXDB_URL", &c.Data.Influx.URL)
	str("INFLUXDB_TOKEN", &c.Data.Influx.Token)
	str("INFLUXDB_ORG", &c.Data.Influx.Org)
	str("INFLUXDB_BUCKET", &c.Data.Influx.Bucket)

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

var configValidate = validator.New()

// Validate checks field constraints and cross-field rules.
func (c *Config) Validate() error {
	if err := configValidate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if err := c.Retry.Validate(); err != nil {
		return fmt.Errorf("%w: retry: %v", ErrInvalidConfig, err)
	}
	if c.Data.SeriesSource == SourceInflux {
		in := c.Data.Influx
		if in.URL == "" || in.Token == "" || in.Org == "" || in.Bucket == "" {
			return fmt.Errorf("%w: series_source influx needs influx url, token, org and bucket", ErrInvalidConfig)
		}
	}
	if !c.Store.InMemory && c.Store.Path == "" {
		return fmt.Errorf("%w: store.path is required unless store.in_memory is set", ErrInvalidConfig)
	}
	return nil
}

// WriteDefault writes the default configuration as YAML, creating parent
// directories. It refuses to overwrite an existing file.
func WriteDefault(path string) error {
	path = expandPath(path)
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file %s already exists", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return fmt.Errorf("failed to create the config directory: %w", err)
	}
	data, err := yaml.Marshal(Default())
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0640)
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}
