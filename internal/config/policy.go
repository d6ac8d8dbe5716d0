// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"github.com/ManuGH/helixinit/internal/journal"
	"github.com/ManuGH/helixinit/internal/log"
	"github.com/ManuGH/helixinit/internal/orchestrator"
	"github.com/ManuGH/helixinit/internal/subsystem"
	"github.com/ManuGH/helixinit/internal/telemetry"
	"github.com/ManuGH/helixinit/internal/version"
)

// Policy converts the retry and reclaim settings for the orchestrator.
func (c Config) Policy() orchestrator.Policy {
	return orchestrator.Policy{
		MaxAttempts: c.Retry.MaxAttempts,
		Backoff: orchestrator.BackoffPolicy{
			Initial:    c.Retry.Initial,
			Multiplier: c.Retry.Multiplier,
			Max:        c.Retry.Max,
			Jitter:     c.Retry.Jitter,
		},
		ReclaimThreshold: c.Reclaim.ThresholdBytes,
		CallTimeout:      c.CallTimeout,
	}
}

// DescriptorHook applies per-subsystem overrides at registration time. It
// returns nil when there is nothing to override.
func (c Config) DescriptorHook() func(subsystem.Descriptor) subsystem.Descriptor {
	if len(c.Overrides) == 0 {
		return nil
	}
	overrides := make(map[string]Override, len(c.Overrides))
	for name, o := range c.Overrides {
		overrides[name] = o
	}
	return func(d subsystem.Descriptor) subsystem.Descriptor {
		o, ok := overrides[d.Name]
		if !ok {
			return d
		}
		if o.Mandatory != nil {
			d.Mandatory = *o.Mandatory
		}
		if o.MaxAttempts > 0 {
			d.MaxAttempts = o.MaxAttempts
		}
		return d
	}
}

func (c Config) LogConfig() log.Config {
	return log.Config{Level: c.Log.Level, Console: c.Log.Console}
}

func (c Config) TelemetryConfig() telemetry.Config {
	return telemetry.Config{
		Enabled:        c.Telemetry.Enabled,
		ServiceName:    "helixinit",
		ServiceVersion: version.Version,
		Environment:    c.Telemetry.Environment,
		ExporterType:   c.Telemetry.Exporter,
		Endpoint:       c.Telemetry.Endpoint,
		Insecure:       c.Telemetry.Insecure,
		SamplingRate:   c.Telemetry.SamplingRate,
	}
}

func (c Config) JournalConfig() journal.SQLiteConfig {
	return journal.SQLiteConfig{BusyTimeout: c.Journal.BusyTimeout}
}
