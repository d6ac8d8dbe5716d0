// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package config loads the boot policy. Precedence is ENV > YAML file > defaults.
package config

import (
	"time"
)

// Config is the operator-tunable boot policy.
type Config struct {
	Retry       RetryConfig         `yaml:"retry"`
	Reclaim     ReclaimConfig       `yaml:"reclaim"`
	CallTimeout time.Duration       `yaml:"callTimeout" validate:"gte=0"`
	Overrides   map[string]Override `yaml:"overrides" validate:"dive,keys,required,endkeys"`
	Log         LogConfig           `yaml:"log"`
	Diagnostics DiagnosticsConfig   `yaml:"diagnostics"`
	Journal     JournalConfig       `yaml:"journal"`
	Telemetry   TelemetryConfig     `yaml:"telemetry"`
}

// RetryConfig shapes init retries.
type RetryConfig struct {
	MaxAttempts int           `yaml:"maxAttempts" validate:"gte=1,lte=100"`
	Initial     time.Duration `yaml:"initial" validate:"gt=0"`
	Multiplier  float64       `yaml:"multiplier" validate:"gte=1"`
	Max         time.Duration `yaml:"max" validate:"gtefield=Initial"`
	Jitter      float64       `yaml:"jitter" validate:"gte=0,lte=1"`
}

// ReclaimConfig controls preemptive rollback of heavy optional subsystems.
type ReclaimConfig struct {
	// ThresholdBytes of zero disables reclaim.
	ThresholdBytes uint64 `yaml:"thresholdBytes"`
}

// Override adjusts one subsystem's descriptor by name.
type Override struct {
	Mandatory   *bool `yaml:"mandatory,omitempty"`
	MaxAttempts int   `yaml:"maxAttempts,omitempty" validate:"gte=0,lte=100"`
}

type LogConfig struct {
	Level   string `yaml:"level" validate:"omitempty,oneof=trace debug info warn error fatal panic disabled"`
	Console bool   `yaml:"console"`
}

type DiagnosticsConfig struct {
	Listen       string `yaml:"listen" validate:"omitempty,hostname_port"`
	SnapshotPath string `yaml:"snapshotPath"`
	// RateLimit is requests per minute per client; zero disables limiting.
	RateLimit int `yaml:"rateLimit" validate:"gte=0"`
}

type JournalConfig struct {
	// Path of the sqlite journal; empty keeps the journal in memory.
	Path        string        `yaml:"path"`
	BusyTimeout time.Duration `yaml:"busyTimeout" validate:"gte=0"`
}

type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Exporter     string  `yaml:"exporter" validate:"omitempty,oneof=grpc http"`
	Endpoint     string  `yaml:"endpoint" validate:"required_if=Enabled true"`
	Insecure     bool    `yaml:"insecure"`
	SamplingRate float64 `yaml:"samplingRate" validate:"gte=0,lte=1"`
	Environment  string  `yaml:"environment"`
}

// Default returns the built-in policy: three attempts, 100ms backoff doubling
// to 2s, no reclaim, in-memory journal, diagnostics on 127.0.0.1:9610.
func Default() Config {
	return Config{
		Retry: RetryConfig{
			MaxAttempts: 3,
			Initial:     100 * time.Millisecond,
			Multiplier:  2.0,
			Max:         2 * time.Second,
		},
		Log: LogConfig{Level: "info"},
		Diagnostics: DiagnosticsConfig{
			Listen:    "127.0.0.1:9610",
			RateLimit: 120,
		},
		Journal: JournalConfig{BusyTimeout: 5 * time.Second},
		Telemetry: TelemetryConfig{
			Exporter:     "grpc",
			Endpoint:     "localhost:4317",
			Insecure:     true,
			SamplingRate: 1.0,
			Environment:  "dev",
		},
	}
}
