// Copyright (C) 2025 RIN Protocol (oss@rin-protocol.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package gateway

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/awnumar/memguard"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Environment variables overriding or supplying sensitive configuration.
// Secrets never live in the YAML file.
const (
	EnvBaselineSecret  = "CONTINUUM_BASELINE_SECRET"
	EnvLicenseKey      = "CONTINUUM_LICENSE_KEY"
	EnvUsageSigningKey = "CONTINUUM_USAGE_SIGNING_KEY"
	EnvRepairAPIKey    = "CONTINUUM_REPAIR_API_KEY"
	EnvListenPort      = "CONTINUUM_PORT"
	EnvDataDir         = "CONTINUUM_DATA_DIR"
)

// Config is the full service configuration, loaded from YAML with
// environment overrides applied afterward.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Logging   LoggingConfig   `yaml:"logging"`
	Limits    LimitsConfig    `yaml:"limits"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Cache     CacheConfig     `yaml:"cache"`
	Evidence  EvidenceConfig  `yaml:"evidence"`
	Ledger    LedgerConfig    `yaml:"ledger"`
	License   LicenseConfig   `yaml:"license"`
	Repair    RepairConfig    `yaml:"repair"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port" validate:"min=1,max=65535"`

	// ShutdownGrace bounds graceful shutdown.
	ShutdownGrace time.Duration `yaml:"shutdown_grace"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
	LogDir string `yaml:"log_dir"`
	JSON   bool   `yaml:"json"`
}

type LimitsConfig struct {
	// MaxInputBytes caps raw analyze input size.
	MaxInputBytes int `yaml:"max_input_bytes" validate:"min=1"`

	// RequestsPerMinute is the per-caller sliding-window budget.
	RequestsPerMinute int `yaml:"requests_per_minute" validate:"min=1"`
}

type PipelineConfig struct {
	// GuideThreshold and RepairThreshold partition final confidence into
	// the ALLOW / suggest / repair bands. 0 ≤ guide ≤ repair ≤ 1.
	GuideThreshold  float64 `yaml:"guide_threshold" validate:"min=0,max=1"`
	RepairThreshold float64 `yaml:"repair_threshold" validate:"min=0,max=1"`
}

type CacheConfig struct {
	TTL           time.Duration `yaml:"ttl"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

type EvidenceConfig struct {
	Dir       string        `yaml:"dir" validate:"required"`
	Retention time.Duration `yaml:"retention"`
}

type LedgerConfig struct {
	Dir string `yaml:"dir" validate:"required"`
}

type LicenseConfig struct {
	// Path is the license envelope file. Required.
	Path string `yaml:"path" validate:"required"`

	// RecheckInterval is the background revalidation period.
	RecheckInterval time.Duration `yaml:"recheck_interval"`

	// EnforcementMode is degrade or stop.
	EnforcementMode string `yaml:"enforcement_mode" validate:"oneof=degrade stop"`
}

type RepairConfig struct {
	// Enabled selects the model-backed executor; disabled means local
	// fallback only.
	Enabled bool `yaml:"enabled"`

	BaseURL           string        `yaml:"base_url"`
	Model             string        `yaml:"model"`
	Timeout           time.Duration `yaml:"timeout"`
	MaxCallsPerSecond float64       `yaml:"max_calls_per_second"`
}

type TelemetryConfig struct {
	// OTLPEndpoint enables tracing when set (host:port of an OTLP gRPC
	// collector).
	OTLPEndpoint string `yaml:"otlp_endpoint"`
}

// Secrets holds the key material resolved from the environment. The raw
// bytes are sealed into memguard enclaves and wiped from process memory.
type Secrets struct {
	// Baseline is the mandatory baseline secret. Startup-fatal if absent.
	Baseline *memguard.Enclave

	// LicenseKey opens the license envelope. Falls back to Baseline.
	LicenseKey *memguard.Enclave

	// UsageSigningKey signs usage summaries. Falls back to Baseline.
	UsageSigningKey *memguard.Enclave

	// RepairAPIKey authenticates the repair executor endpoint. Optional.
	RepairAPIKey string
}

// DefaultConfig returns the configuration used when a field is absent
// from the YAML file.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Host:          "0.0.0.0",
			Port:          8088,
			ShutdownGrace: 10 * time.Second,
		},
		Logging: LoggingConfig{Level: "info"},
		Limits: LimitsConfig{
			MaxInputBytes:     4096,
			RequestsPerMinute: 120,
		},
		Pipeline: PipelineConfig{
			GuideThreshold:  0.45,
			RepairThreshold: 0.70,
		},
		Cache: CacheConfig{
			TTL:           24 * time.Hour,
			SweepInterval: 10 * time.Minute,
		},
		Evidence: EvidenceConfig{
			Dir:       "data/evidence",
			Retention: 90 * 24 * time.Hour,
		},
		Ledger: LedgerConfig{Dir: "data/ledger"},
		License: LicenseConfig{
			Path:            "data/license.json",
			RecheckInterval: 5 * time.Minute,
			EnforcementMode: "degrade",
		},
		Repair: RepairConfig{
			Timeout:           5 * time.Second,
			MaxCallsPerSecond: 10,
		},
	}
}

// LoadConfig reads the YAML file at path onto the defaults, applies
// environment overrides, and validates the result. An empty path skips
// the file and uses defaults plus environment only.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv(EnvListenPort); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv(EnvDataDir); v != "" {
		cfg.Evidence.Dir = v + "/evidence"
		cfg.Ledger.Dir = v + "/ledger"
	}
}

// Validate checks structural constraints plus the threshold ordering the
// struct tags cannot express.
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Pipeline.GuideThreshold > c.Pipeline.RepairThreshold {
		return fmt.Errorf("invalid config: guide_threshold %.2f exceeds repair_threshold %.2f",
			c.Pipeline.GuideThreshold, c.Pipeline.RepairThreshold)
	}
	if c.Repair.Enabled && (c.Repair.BaseURL == "" || c.Repair.Model == "") {
		return errors.New("invalid config: repair.base_url and repair.model are required when repair.enabled")
	}
	return nil
}

// LoadSecrets resolves key material from the environment. The baseline
// secret is mandatory; the service refuses to start without it. Optional
// keys fall back to the baseline secret. Environment copies are wiped
// after sealing.
func LoadSecrets() (*Secrets, error) {
	baseline := os.Getenv(EnvBaselineSecret)
	if baseline == "" {
		return nil, fmt.Errorf("environment variable %s is required", EnvBaselineSecret)
	}
	os.Unsetenv(EnvBaselineSecret)

	s := &Secrets{
		Baseline:     memguard.NewEnclave([]byte(baseline)),
		RepairAPIKey: os.Getenv(EnvRepairAPIKey),
	}

	if v := os.Getenv(EnvLicenseKey); v != "" {
		s.LicenseKey = memguard.NewEnclave([]byte(v))
		os.Unsetenv(EnvLicenseKey)
	} else {
		s.LicenseKey = memguard.NewEnclave([]byte(baseline))
	}

	if v := os.Getenv(EnvUsageSigningKey); v != "" {
		s.UsageSigningKey = memguard.NewEnclave([]byte(v))
		os.Unsetenv(EnvUsageSigningKey)
	} else {
		s.UsageSigningKey = memguard.NewEnclave([]byte(baseline))
	}

	return s, nil
}
