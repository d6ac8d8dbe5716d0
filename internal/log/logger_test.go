// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package log

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigureWritesJSON(t *testing.T) {
	var buf bytes.Buffer
	Configure(Config{Level: "debug", Output: &buf, Service: "helix-test"})
	t.Cleanup(func() { Configure(Config{}) })

	l := WithComponent("orchestrator")
	l.Debug().Str(FieldEvent, "boot.start").Msg("starting")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "helix-test", entry["service"])
	assert.Equal(t, "orchestrator", entry[FieldComponent])
	assert.Equal(t, "boot.start", entry[FieldEvent])
	assert.Equal(t, "debug", entry["level"])
}

func TestConfigureLevel(t *testing.T) {
	var buf bytes.Buffer
	Configure(Config{Level: "warn", Output: &buf})
	t.Cleanup(func() { Configure(Config{}) })

	l := Base()
	l.Info().Msg("dropped")
	assert.Zero(t, buf.Len())
	l.Warn().Msg("kept")
	assert.NotZero(t, buf.Len())
}

func TestDerive(t *testing.T) {
	var buf bytes.Buffer
	Configure(Config{Output: &buf})
	t.Cleanup(func() { Configure(Config{}) })

	l := Derive(func(ctx *zerolog.Context) {
		ctx.Str(FieldSubsystem, "heap")
	})
	l.Info().Msg("derived")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "heap", entry[FieldSubsystem])

	assert.NotPanics(t, func() { Derive(nil) })
}
