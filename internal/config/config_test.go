package config

import (
	"encoding/json"
	"reflect"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/curio/internal/curiosity"
)

func reflectConfigType() reflect.Type {
	return reflect.TypeOf(Config{})
}

func TestDefault_Valid(t *testing.T) {
	t.Parallel()

	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 10000, cfg.Buffer.MaxSize)
	assert.Equal(t, 90.0, cfg.Buffer.MinQuality)
	assert.Equal(t, 1000, cfg.Attribution.Engine.ShapleyIterations)
	assert.False(t, cfg.Archive.Enabled)
	assert.False(t, cfg.Telemetry.Enabled)
	assert.Len(t, cfg.PracticeDomains(), len(curiosity.DefaultDomains()))
}

func TestConfig_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"buffer max size", func(c *Config) { c.Buffer.MaxSize = 0 }, true},
		{"buffer quality range", func(c *Config) { c.Buffer.MinQuality = 101 }, true},
		{"exploit ratio", func(c *Config) { c.Policy.ExploitRatio = 1.2 }, true},
		{"reward strategy", func(c *Config) { c.Reward.Strategy = "quadratic" }, true},
		{"shapley iterations", func(c *Config) { c.Attribution.Engine.ShapleyIterations = 0 }, true},
		{"tracker history", func(c *Config) { c.Attribution.Tracker.MaxHistorySize = 0 }, true},
		{"agent type", func(c *Config) { c.Trainer.AgentType = "" }, true},
		{"cost per task", func(c *Config) { c.Trainer.CostPerTask = 0 }, true},
		{"negative budget", func(c *Config) { c.Trainer.Budget = -1 }, true},
		{"concurrency", func(c *Config) { c.Trainer.Concurrency = 0 }, true},
		{"novelty weight", func(c *Config) { c.Question.NoveltyWeight = 2 }, true},
		{"domain without topics", func(c *Config) { c.Domains = []curiosity.DomainSpec{{Name: "x", Templates: []string{"%s"}}} }, true},
		{"embedding provider", func(c *Config) { c.Embeddings.Provider = "openai" }, true},
		{"archive collection", func(c *Config) { c.Archive.Enabled = true; c.Archive.Chromem.Collection = "" }, true},
		{"metrics addr", func(c *Config) { c.Metrics.Addr = "not an addr" }, true},
		{"metrics addr ok", func(c *Config) { c.Metrics.Addr = ":9464" }, false},
		{"logging format", func(c *Config) { c.Logging.Format = "xml" }, true},
		{"telemetry endpoint", func(c *Config) { c.Telemetry.Enabled = true; c.Telemetry.Endpoint = "" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := Default()
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

func TestDuration(t *testing.T) {
	t.Parallel()

	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("1m30s")))
	assert.Equal(t, 90*time.Second, d.Duration())

	text, err := d.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "1m30s", string(text))

	data, err := json.Marshal(struct {
		Timeout Duration `json:"timeout"`
	}{d})
	require.NoError(t, err)
	assert.JSONEq(t, `{"timeout":"1m30s"}`, string(data))

	var back Duration
	require.NoError(t, json.Unmarshal([]byte(`"250ms"`), &back))
	assert.Equal(t, 250*time.Millisecond, back.Duration())

	assert.Error(t, d.UnmarshalText([]byte("-1s")))
	assert.Error(t, d.UnmarshalText([]byte("soon")))
	assert.Error(t, json.Unmarshal([]byte(`15`), &back))
}
