// SPDX-License-Identifier: MIT

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/helixinit/internal/phase"
	"github.com/ManuGH/helixinit/internal/subsystem"
)

func mapLookup(values map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		v, ok := values[key]
		return v, ok
	}
}

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := NewLoader("", mapLookup(nil)).Load()
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	p := cfg.Policy()
	assert.Equal(t, 3, p.MaxAttempts)
	assert.Equal(t, 100*time.Millisecond, p.Backoff.Initial)
	assert.Equal(t, 2.0, p.Backoff.Multiplier)
	assert.Equal(t, 2*time.Second, p.Backoff.Max)
	assert.Zero(t, p.ReclaimThreshold)
}

func TestLoadPrecedence(t *testing.T) {
	path := writeFile(t, "policy.yaml", `
retry:
  maxAttempts: 5
  initial: 50ms
  multiplier: 1.5
  max: 1s
reclaim:
  thresholdBytes: 65536
journal:
  path: /var/lib/helix/journal.db
overrides:
  driverx:
    mandatory: true
    maxAttempts: 7
`)
	l := NewLoader(path, mapLookup(map[string]string{
		EnvRetryMaxAttempts: "4",
		EnvCallTimeout:      "250ms",
		EnvLogLevel:         "",
	}))
	cfg, err := l.Load()
	require.NoError(t, err)

	assert.Equal(t, 4, cfg.Retry.MaxAttempts, "env beats file")
	assert.Equal(t, 50*time.Millisecond, cfg.Retry.Initial, "file beats default")
	assert.Equal(t, 1.5, cfg.Retry.Multiplier)
	assert.Equal(t, uint64(65536), cfg.Reclaim.ThresholdBytes)
	assert.Equal(t, 250*time.Millisecond, cfg.CallTimeout)
	assert.Equal(t, "info", cfg.Log.Level, "empty env keeps the default")
	assert.Equal(t, "/var/lib/helix/journal.db", cfg.Journal.Path)
	assert.Contains(t, l.ConsumedEnvKeys, EnvTelemetryEndpoint)
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := writeFile(t, "policy.yaml", "retry:\n  maxAttemps: 2\n")
	_, err := NewLoader(path, mapLookup(nil)).Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "strict config parse error")
}

func TestLoadRejectsMultipleDocuments(t *testing.T) {
	path := writeFile(t, "policy.yml", "retry:\n  maxAttempts: 2\n---\nretry:\n  maxAttempts: 3\n")
	_, err := NewLoader(path, mapLookup(nil)).Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "multiple documents")
}

func TestLoadRejectsNonYAML(t *testing.T) {
	path := writeFile(t, "policy.json", "{}")
	_, err := NewLoader(path, mapLookup(nil)).Load()
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestLoadEmptyFileKeepsDefaults(t *testing.T) {
	path := writeFile(t, "policy.yaml", "")
	cfg, err := NewLoader(path, mapLookup(nil)).Load()
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"zero attempts", func(c *Config) { c.Retry.MaxAttempts = 0 }, "Config.Retry.MaxAttempts"},
		{"shrinking backoff", func(c *Config) { c.Retry.Multiplier = 0.5 }, "Config.Retry.Multiplier"},
		{"max below initial", func(c *Config) { c.Retry.Max = time.Millisecond }, "Config.Retry.Max"},
		{"jitter above one", func(c *Config) { c.Retry.Jitter = 1.5 }, "Config.Retry.Jitter"},
		{"unknown level", func(c *Config) { c.Log.Level = "loud" }, "Config.Log.Level"},
		{"bad listen", func(c *Config) { c.Diagnostics.Listen = "nope" }, "Config.Diagnostics.Listen"},
		{"bad exporter", func(c *Config) { c.Telemetry.Exporter = "zipkin" }, "Config.Telemetry.Exporter"},
		{"enabled without endpoint", func(c *Config) {
			c.Telemetry.Enabled = true
			c.Telemetry.Endpoint = ""
		}, "Config.Telemetry.Endpoint"},
		{"negative override", func(c *Config) {
			c.Overrides = map[string]Override{"x": {MaxAttempts: -1}}
		}, "MaxAttempts"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := Validate(cfg)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, ErrInvalidConfig)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestInvalidEnvFallsBack(t *testing.T) {
	cfg, err := NewLoader("", mapLookup(map[string]string{
		EnvRetryMaxAttempts:  "many",
		EnvRetryInitial:      "soon",
		EnvLogConsole:        "maybe",
		EnvTelemetrySampling: "half",
		EnvReclaimThreshold:  "-1",
	})).Load()
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestDescriptorHook(t *testing.T) {
	assert.Nil(t, Default().DescriptorHook())

	yes, no := true, false
	cfg := Default()
	cfg.Overrides = map[string]Override{
		"driverx": {Mandatory: &yes, MaxAttempts: 5},
		"heap":    {Mandatory: &no},
	}
	hook := cfg.DescriptorHook()
	require.NotNil(t, hook)

	d := hook(subsystem.Descriptor{Name: "driverx", Phase: phase.Late})
	assert.True(t, d.Mandatory)
	assert.Equal(t, 5, d.MaxAttempts)

	d = hook(subsystem.Descriptor{Name: "heap", Mandatory: true, MaxAttempts: 2})
	assert.False(t, d.Mandatory)
	assert.Equal(t, 2, d.MaxAttempts, "zero override keeps the descriptor value")

	d = hook(subsystem.Descriptor{Name: "other", Mandatory: true})
	assert.True(t, d.Mandatory)
}

func TestDerivedConfigs(t *testing.T) {
	cfg := Default()
	cfg.Log.Console = true
	assert.Equal(t, "info", cfg.LogConfig().Level)
	assert.True(t, cfg.LogConfig().Console)

	tc := cfg.TelemetryConfig()
	assert.Equal(t, "helixinit", tc.ServiceName)
	assert.Equal(t, "grpc", tc.ExporterType)
	assert.Equal(t, 5*time.Second, cfg.JournalConfig().BusyTimeout)
}

func TestParseHelpers(t *testing.T) {
	t.Setenv("HELIX_TEST_STRING", "from-env")
	t.Setenv("HELIX_TEST_INT", "42")
	t.Setenv("HELIX_TEST_BAD_INT", "forty")
	t.Setenv("HELIX_TEST_DURATION", "3s")
	t.Setenv("HELIX_TEST_BOOL", "YES")
	t.Setenv("HELIX_TEST_FLOAT", "0.25")
	t.Setenv("HELIX_TEST_EMPTY", "")

	assert.Equal(t, "from-env", ParseString("HELIX_TEST_STRING", "default"))
	assert.Equal(t, "default", ParseString("HELIX_TEST_EMPTY", "default"))
	assert.Equal(t, "default", ParseString("HELIX_TEST_UNSET", "default"))
	assert.Equal(t, 42, ParseInt("HELIX_TEST_INT", 1))
	assert.Equal(t, 1, ParseInt("HELIX_TEST_BAD_INT", 1))
	assert.Equal(t, 3*time.Second, ParseDuration("HELIX_TEST_DURATION", time.Second))
	assert.True(t, ParseBool("HELIX_TEST_BOOL", false))
	assert.False(t, ParseBool("HELIX_TEST_UNSET", false))
	assert.Equal(t, 0.25, ParseFloat("HELIX_TEST_FLOAT", 1))
}
