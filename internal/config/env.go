// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/helixinit/internal/log"
)

// LookupFunc resolves an environment key. os.LookupEnv is the production lookup.
type LookupFunc func(key string) (string, bool)

// env reads typed values through a lookup and logs where each value came from.
type env struct {
	lookup LookupFunc
	logger zerolog.Logger
}

func newEnv(lookup LookupFunc) env {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	return env{lookup: lookup, logger: log.WithComponent("config")}
}

// raw returns the value of key, or false when unset or empty.
func (e env) raw(key string) (string, bool) {
	v, ok := e.lookup(key)
	if !ok {
		return "", false
	}
	if v == "" {
		e.logger.Debug().
			Str("key", key).
			Str("source", "default").
			Msg("using default value (environment variable is empty)")
		return "", false
	}
	return v, true
}

func (e env) invalid(key, value, kind string) {
	e.logger.Warn().
		Str("key", key).
		Str("value", value).
		Msgf("invalid %s in environment variable, using default", kind)
}

func (e env) used(key string) *zerolog.Event {
	return e.logger.Debug().Str("key", key).Str("source", "environment")
}

func (e env) String(key, def string) string {
	v, ok := e.raw(key)
	if !ok {
		return def
	}
	e.used(key).Str("value", v).Msg("using environment variable")
	return v
}

func (e env) Int(key string, def int) int {
	v, ok := e.raw(key)
	if !ok {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		e.invalid(key, v, "integer")
		return def
	}
	e.used(key).Int("value", i).Msg("using environment variable")
	return i
}

func (e env) Uint64(key string, def uint64) uint64 {
	v, ok := e.raw(key)
	if !ok {
		return def
	}
	u, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		e.invalid(key, v, "unsigned integer")
		return def
	}
	e.used(key).Uint64("value", u).Msg("using environment variable")
	return u
}

func (e env) Duration(key string, def time.Duration) time.Duration {
	v, ok := e.raw(key)
	if !ok {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.invalid(key, v, "duration")
		return def
	}
	e.used(key).Dur("value", d).Msg("using environment variable")
	return d
}

// Bool accepts "true", "false", "1", "0", "yes", "no" (case-insensitive).
func (e env) Bool(key string, def bool) bool {
	v, ok := e.raw(key)
	if !ok {
		return def
	}
	switch strings.ToLower(v) {
	case "true", "1", "yes":
		e.used(key).Bool("value", true).Msg("using environment variable")
		return true
	case "false", "0", "no":
		e.used(key).Bool("value", false).Msg("using environment variable")
		return false
	}
	e.invalid(key, v, "boolean")
	return def
}

func (e env) Float(key string, def float64) float64 {
	v, ok := e.raw(key)
	if !ok {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		e.invalid(key, v, "float")
		return def
	}
	e.used(key).Float64("value", f).Msg("using environment variable")
	return f
}

// ParseString reads a string from the process environment or returns def.
func ParseString(key, def string) string { return newEnv(nil).String(key, def) }

// ParseInt reads an integer from the process environment, falling back to def
// on parse errors.
func ParseInt(key string, def int) int { return newEnv(nil).Int(key, def) }

// ParseDuration reads a Go duration ("5s") from the process environment.
func ParseDuration(key string, def time.Duration) time.Duration {
	return newEnv(nil).Duration(key, def)
}

// ParseBool reads a boolean from the process environment.
func ParseBool(key string, def bool) bool { return newEnv(nil).Bool(key, def) }

// ParseFloat reads a float64 from the process environment.
func ParseFloat(key string, def float64) float64 { return newEnv(nil).Float(key, def) }
