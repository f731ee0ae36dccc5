package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewProvider_Disabled(t *testing.T) {
	p, err := NewProvider(context.Background(), Config{Enabled: false, Endpoint: "http://localhost:4318"}, "toolshed", "dev")
	require.NoError(t, err)
	assert.Nil(t, p.TracerProvider)
	assert.Nil(t, p.MeterProvider)
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestParseEndpoint(t *testing.T) {
	ep, err := parseEndpoint(Config{Endpoint: "https://otel.example.com/otlp/", AuthToken: "dXNlcjpwYXNz"})
	require.NoError(t, err)

	assert.Equal(t, "otel.example.com", ep.host)
	assert.False(t, ep.insecure)
	assert.Equal(t, "/otlp/v1/traces", ep.path("traces"))
	assert.Equal(t, "Basic dXNlcjpwYXNz", ep.headers["Authorization"])

	local, err := parseEndpoint(Config{Endpoint: "http://localhost:4318"})
	require.NoError(t, err)
	assert.True(t, local.insecure)
	assert.Equal(t, "/v1/metrics", local.path("metrics"))

	_, err = parseEndpoint(Config{Endpoint: "not a url"})
	assert.Error(t, err)
}

func TestSampler(t *testing.T) {
	assert.Equal(t, "AlwaysOffSampler", sampler(0).Description())
	assert.Equal(t, "AlwaysOnSampler", sampler(1).Description())
	assert.Contains(t, sampler(0.5).Description(), "TraceIDRatioBased")
}
