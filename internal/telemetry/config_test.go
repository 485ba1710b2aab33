package telemetry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaultConfig(t *testing.T) {
	t.Parallel()

	cfg := NewDefaultConfig()
	assert.False(t, cfg.Enabled)
	assert.Equal(t, "curio", cfg.ServiceName)
	assert.Equal(t, ProtocolGRPC, cfg.Protocol)
	assert.Equal(t, 15*time.Second, cfg.Metrics.ExportInterval)

	cfg.Enabled = true
	require.NoError(t, cfg.Validate())
}

func TestConfig_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"disabled skips checks", func(c *Config) { c.Enabled = false; c.Endpoint = "" }, false},
		{"missing endpoint", func(c *Config) { c.Endpoint = "" }, true},
		{"missing service name", func(c *Config) { c.ServiceName = "" }, true},
		{"missing version", func(c *Config) { c.ServiceVersion = "" }, true},
		{"unknown protocol", func(c *Config) { c.Protocol = "thrift" }, true},
		{"http protocol", func(c *Config) { c.Protocol = ProtocolHTTP; c.Endpoint = "http://localhost:4318" }, false},
		{"insecure remote", func(c *Config) { c.Endpoint = "otel.example.com:4317" }, true},
		{"secure remote", func(c *Config) { c.Endpoint = "otel.example.com:4317"; c.Insecure = false }, false},
		{"sampling above one", func(c *Config) { c.Sampling.Rate = 1.5 }, true},
		{"sampling negative", func(c *Config) { c.Sampling.Rate = -0.1 }, true},
		{"zero export interval", func(c *Config) { c.Metrics.ExportInterval = 0 }, true},
		{"zero interval with metrics off", func(c *Config) { c.Metrics.Enabled = false; c.Metrics.ExportInterval = 0 }, false},
		{"zero shutdown timeout", func(c *Config) { c.Shutdown.Timeout = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := NewDefaultConfig()
			cfg.Enabled = true
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestIsLocalEndpoint(t *testing.T) {
	t.Parallel()

	tests := []struct {
		endpoint string
		want     bool
	}{
		{"localhost:4317", true},
		{"localhost", true},
		{"127.0.0.1:4317", true},
		{"127.1.2.3:4317", true},
		{"[::1]:4317", true},
		{"::1", true},
		{"http://localhost:4318", true},
		{"collector:4317", false},
		{"10.0.0.5:4317", false},
		{"https://otel.example.com", false},
	}

	for _, tt := range tests {
		t.Run(tt.endpoint, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, isLocalEndpoint(tt.endpoint))
		})
	}
}
