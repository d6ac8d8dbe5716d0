// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

func TestNewProvider_Disabled(t *testing.T) {
	provider, err := NewProvider(context.Background(), Config{
		Enabled:      false,
		ServiceName:  "helixinit-test",
		ExporterType: "grpc",
	})
	require.NoError(t, err)
	assert.False(t, provider.Enabled())

	_, span := otel.Tracer("test").Start(context.Background(), "noop-check")
	assert.False(t, span.IsRecording(), "disabled telemetry must not record spans")
	span.End()
}

func TestNewProvider_InvalidExporter(t *testing.T) {
	_, err := NewProvider(context.Background(), Config{
		Enabled:      true,
		ServiceName:  "helixinit-test",
		ExporterType: "stdout",
	})
	require.Error(t, err)
	assert.Equal(t, "unsupported exporter type: stdout (supported: grpc, http)", err.Error())
}

func TestSamplerFor(t *testing.T) {
	tests := []struct {
		rate float64
		want string
	}{
		{1.0, "AlwaysOnSampler"},
		{2.0, "AlwaysOnSampler"},
		{0.0, "AlwaysOffSampler"},
		{-1, "AlwaysOffSampler"},
		{0.25, "TraceIDRatioBased{0.25}"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, samplerFor(tt.rate).Description())
	}
}

func TestProvider_ShutdownNoop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.NoError(t, (&Provider{}).Shutdown(ctx))
	var nilProvider *Provider
	assert.NoError(t, nilProvider.Shutdown(context.Background()))
}

func TestTracer(t *testing.T) {
	_, err := NewProvider(context.Background(), Config{Enabled: false})
	require.NoError(t, err)

	ctx, span := Tracer(InstrumentationName).Start(context.Background(), "boot")
	require.NotNil(t, span)
	span.End()
	assert.NotNil(t, trace.SpanFromContext(ctx))
}
