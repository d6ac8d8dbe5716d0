// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// SPDX-License-Identifier: MIT
package log

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
)

func TestContextWithBootID(t *testing.T) {
	tests := []struct {
		name   string
		ctx    context.Context
		bootID string
		want   string
	}{
		{name: "nil context", ctx: nil, bootID: "b-1", want: "b-1"},
		{name: "background context", ctx: context.Background(), bootID: "b-2", want: "b-2"},
		{name: "empty boot ID", ctx: context.Background(), bootID: "", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := ContextWithBootID(tt.ctx, tt.bootID)
			assert.Equal(t, tt.want, BootIDFromContext(ctx))
		})
	}

	assert.Empty(t, BootIDFromContext(nil))
	assert.Empty(t, BootIDFromContext(context.WithValue(context.Background(), bootIDKey, 123)))
}

func TestWithContextAddsBootAndTrace(t *testing.T) {
	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithSpanContext(ContextWithBootID(context.Background(), "boot-7"), sc)

	var buf bytes.Buffer
	l := WithContext(ctx, zerolog.New(&buf))
	l.Info().Msg("traced")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "boot-7", entry[FieldBootID])
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", entry[FieldTraceID])
	assert.Equal(t, "00f067aa0ba902b7", entry[FieldSpanID])
}

func TestWithContextWithoutFields(t *testing.T) {
	var buf bytes.Buffer
	l := WithContext(context.Background(), zerolog.New(&buf))
	l.Info().Msg("plain")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.NotContains(t, entry, FieldBootID)
	assert.NotContains(t, entry, FieldTraceID)
}
