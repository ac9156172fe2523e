package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/hochfrequenz/swe-orchestrator/internal/config"
)

func TestInit_DisabledIsNoop(t *testing.T) {
	shutdown, err := Init(context.Background(), config.TelemetryConfig{}, "dev")
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestParseEndpoint(t *testing.T) {
	tests := []struct {
		raw      string
		host     string
		insecure bool
	}{
		{"", "127.0.0.1:4318", true},
		{"http://collector:4318", "collector:4318", true},
		{"https://otel.example.com", "otel.example.com", false},
		{"collector:4318", "collector:4318", true},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			host, insecure, err := parseEndpoint(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.host, host)
			assert.Equal(t, tt.insecure, insecure)
		})
	}
}

func TestNewTracerProvider_EmitsSpans(t *testing.T) {
	exp := tracetest.NewInMemoryExporter()
	tp, err := newTracerProvider(exp, "v0")
	require.NoError(t, err)

	_, sp := tp.Tracer("test").Start(context.Background(), "runner.Solve")
	sp.End()
	require.NoError(t, tp.ForceFlush(context.Background()))

	spans := exp.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "runner.Solve", spans[0].Name)

	found := false
	for _, kv := range spans[0].Resource.Attributes() {
		if kv.Key == attribute.Key("service.name") {
			found = kv.Value.AsString() == ServiceName
		}
	}
	assert.True(t, found, "resource carries service.name")
	require.NoError(t, tp.Shutdown(context.Background()))
}
