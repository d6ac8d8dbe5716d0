// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

var (
	// ErrInvalidConfig wraps every validation failure of a loaded policy.
	ErrInvalidConfig = errors.New("invalid config")

	// ErrUnsupportedFormat is returned for policy files that are not YAML.
	ErrUnsupportedFormat = errors.New("unsupported config format")
)

// Environment keys, all optional.
const (
	EnvRetryMaxAttempts  = "HELIX_RETRY_MAX_ATTEMPTS"
	EnvRetryInitial      = "HELIX_RETRY_INITIAL"
	EnvRetryMultiplier   = "HELIX_RETRY_MULTIPLIER"
	EnvRetryMax          = "HELIX_RETRY_MAX"
	EnvRetryJitter       = "HELIX_RETRY_JITTER"
	EnvReclaimThreshold  = "HELIX_RECLAIM_THRESHOLD"
	EnvCallTimeout       = "HELIX_CALL_TIMEOUT"
	EnvLogLevel          = "HELIX_LOG_LEVEL"
	EnvLogConsole        = "HELIX_LOG_CONSOLE"
	EnvDiagListen        = "HELIX_DIAG_LISTEN"
	EnvDiagSnapshot      = "HELIX_DIAG_SNAPSHOT"
	EnvDiagRateLimit     = "HELIX_DIAG_RATE_LIMIT"
	EnvJournalPath       = "HELIX_JOURNAL_PATH"
	EnvTelemetryEnabled  = "HELIX_TELEMETRY_ENABLED"
	EnvTelemetryExporter = "HELIX_TELEMETRY_EXPORTER"
	EnvTelemetryEndpoint = "HELIX_TELEMETRY_ENDPOINT"
	EnvTelemetryInsecure = "HELIX_TELEMETRY_INSECURE"
	EnvTelemetrySampling = "HELIX_TELEMETRY_SAMPLING_RATE"
)

var validate = validator.New()

// Loader handles configuration loading with precedence.
type Loader struct {
	path string
	env  env
	// ConsumedEnvKeys records every key the loader looked at.
	ConsumedEnvKeys map[string]struct{}
}

// NewLoader creates a loader for the policy file at path (may be empty).
// A nil lookup reads the process environment.
func NewLoader(path string, lookup LookupFunc) *Loader {
	l := &Loader{path: path, ConsumedEnvKeys: make(map[string]struct{})}
	e := newEnv(lookup)
	inner := e.lookup
	e.lookup = func(key string) (string, bool) {
		l.ConsumedEnvKeys[key] = struct{}{}
		return inner(key)
	}
	l.env = e
	return l
}

// Load applies defaults, then the file, then the environment, and validates
// the result.
func (l *Loader) Load() (Config, error) {
	cfg := Default()

	if l.path != "" {
		if err := l.loadFile(&cfg); err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
	}
	l.mergeEnv(&cfg)

	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// loadFile decodes the YAML policy strictly over cfg. Unknown fields are fatal.
func (l *Loader) loadFile(cfg *Config) error {
	path := filepath.Clean(l.path)
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("%w: %s (only YAML supported)", ErrUnsupportedFormat, ext)
	}

	// #nosec G304 -- the policy path is provided by the operator via CLI
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("strict config parse error: %w", err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return fmt.Errorf("config file contains multiple documents or trailing content")
	}
	return nil
}

func (l *Loader) mergeEnv(cfg *Config) {
	e := l.env
	cfg.Retry.MaxAttempts = e.Int(EnvRetryMaxAttempts, cfg.Retry.MaxAttempts)
	cfg.Retry.Initial = e.Duration(EnvRetryInitial, cfg.Retry.Initial)
	cfg.Retry.Multiplier = e.Float(EnvRetryMultiplier, cfg.Retry.Multiplier)
	cfg.Retry.Max = e.Duration(EnvRetryMax, cfg.Retry.Max)
	cfg.Retry.Jitter = e.Float(EnvRetryJitter, cfg.Retry.Jitter)
	cfg.Reclaim.ThresholdBytes = e.Uint64(EnvReclaimThreshold, cfg.Reclaim.ThresholdBytes)
	cfg.CallTimeout = e.Duration(EnvCallTimeout, cfg.CallTimeout)

	cfg.Log.Level = e.String(EnvLogLevel, cfg.Log.Level)
	cfg.Log.Console = e.Bool(EnvLogConsole, cfg.Log.Console)

	cfg.Diagnostics.Listen = e.String(EnvDiagListen, cfg.Diagnostics.Listen)
	cfg.Diagnostics.SnapshotPath = e.String(EnvDiagSnapshot, cfg.Diagnostics.SnapshotPath)
	cfg.Diagnostics.RateLimit = e.Int(EnvDiagRateLimit, cfg.Diagnostics.RateLimit)

	cfg.Journal.Path = e.String(EnvJournalPath, cfg.Journal.Path)

	cfg.Telemetry.Enabled = e.Bool(EnvTelemetryEnabled, cfg.Telemetry.Enabled)
	cfg.Telemetry.Exporter = e.String(EnvTelemetryExporter, cfg.Telemetry.Exporter)
	cfg.Telemetry.Endpoint = e.String(EnvTelemetryEndpoint, cfg.Telemetry.Endpoint)
	cfg.Telemetry.Insecure = e.Bool(EnvTelemetryInsecure, cfg.Telemetry.Insecure)
	cfg.Telemetry.SamplingRate = e.Float(EnvTelemetrySampling, cfg.Telemetry.SamplingRate)
}

// Validate checks cfg against its struct tags. Every violation is listed.
func Validate(cfg Config) error {
	err := validate.Struct(cfg)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msg := fmt.Sprintf("%s fails %q", fe.Namespace(), fe.Tag())
		if fe.Param() != "" {
			msg = fmt.Sprintf("%s fails %q (%s)", fe.Namespace(), fe.Tag(), fe.Param())
		}
		msgs = append(msgs, msg)
	}
	sort.Strings(msgs)
	return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(msgs, "; "))
}
