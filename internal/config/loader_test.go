package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/curio/internal/attribution"
	"github.com/fyrsmithlabs/curio/internal/logging"
)

func writeConfig(t *testing.T, dir, body string, perm os.FileMode) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), perm))
	require.NoError(t, os.Chmod(path, perm))
	return path
}

func TestLoad_YAMLOverridesDefaults(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := writeConfig(t, dir, `
buffer:
  max_size: 500
  min_quality: 85
policy:
  exploit_ratio: 0.6
reward:
  strategy: sigmoid
attribution:
  engine:
    shapley_iterations: 250
  tracker:
    max_history_size: 42
trainer:
  agent_type: seo
  task_timeout: 30s
embeddings:
  cache_size: 128
domains:
  - name: security
    templates: ["Audit %s for injection flaws"]
    topics: ["a login form", "a search endpoint"]
    initial_coverage: 10
archive:
  enabled: true
  chromem:
    path: /tmp/curio-archive
logging:
  level: trace
  sampling:
    tick: 2s
telemetry:
  shutdown:
    timeout: 1s
`, 0o600)

	cfg, err := NewLoader(WithAllowedDirs(dir), WithEnvPrefix("CURIO_YAML_ONLY_")).Load(path)
	require.NoError(t, err)

	assert.Equal(t, 500, cfg.Buffer.MaxSize)
	assert.Equal(t, 85.0, cfg.Buffer.MinQuality)
	assert.Equal(t, 0.6, cfg.Policy.ExploitRatio)
	assert.Equal(t, 0.75, cfg.Policy.SimilarityThreshold, "unset keys keep defaults")
	assert.Equal(t, attribution.StrategySigmoid, cfg.Reward.Strategy)
	assert.Equal(t, 100.0, cfg.Reward.BaseReward)
	assert.Equal(t, 250, cfg.Attribution.Engine.ShapleyIterations)
	assert.Equal(t, 42, cfg.Attribution.Tracker.MaxHistorySize)
	assert.Equal(t, "seo", cfg.Trainer.AgentType)
	assert.Equal(t, 30*time.Second, cfg.Trainer.TaskTimeout.Duration())
	assert.Equal(t, 128, cfg.Embeddings.CacheSize)
	require.Len(t, cfg.PracticeDomains(), 1)
	assert.Equal(t, "security", cfg.Domains[0].Name)
	assert.Equal(t, []string{"a login form", "a search endpoint"}, cfg.Domains[0].Topics)
	assert.True(t, cfg.Archive.Enabled)
	assert.Equal(t, "/tmp/curio-archive", cfg.Archive.Chromem.Path)
	assert.Equal(t, "experiences", cfg.Archive.Chromem.Collection)
	assert.Equal(t, logging.TraceLevel, cfg.Logging.Level.Zap())
	assert.Equal(t, 2*time.Second, cfg.Logging.Sampling.Tick)
	assert.Contains(t, cfg.Logging.Sampling.Levels, "info")
	assert.Equal(t, time.Second, cfg.Telemetry.Shutdown.Timeout)
}

func TestLoad_DefaultPathMissing(t *testing.T) {
	t.Parallel()

	l := NewLoader(WithEnvPrefix("CURIO_MISSING_DEFAULT_"))
	l.home = t.TempDir()
	l.allowedDirs = []string{filepath.Join(l.home, ".config", "curio")}

	cfg, err := l.Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_ExplicitPathMissing(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	_, err := NewLoader(WithAllowedDirs(dir)).Load(filepath.Join(dir, "nope.yaml"))
	require.ErrorIs(t, err, ErrConfigNotFound)
}

func TestLoad_FileChecks(t *testing.T) {
	t.Parallel()

	t.Run("outside allowed dirs", func(t *testing.T) {
		t.Parallel()
		allowed := t.TempDir()
		path := writeConfig(t, t.TempDir(), "buffer:\n  max_size: 5\n", 0o600)
		_, err := NewLoader(WithAllowedDirs(allowed)).Load(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "path validation")
	})

	t.Run("sibling prefix is not inside", func(t *testing.T) {
		t.Parallel()
		root := t.TempDir()
		allowed := filepath.Join(root, "curio")
		other := filepath.Join(root, "curio-evil")
		require.NoError(t, os.MkdirAll(allowed, 0o700))
		require.NoError(t, os.MkdirAll(other, 0o700))
		path := writeConfig(t, other, "{}\n", 0o600)
		_, err := NewLoader(WithAllowedDirs(allowed)).Load(path)
		require.Error(t, err)
	})

	t.Run("world readable", func(t *testing.T) {
		t.Parallel()
		if runtime.GOOS == "windows" {
			t.Skip("permission model differs")
		}
		dir := t.TempDir()
		path := writeConfig(t, dir, "{}\n", 0o644)
		_, err := NewLoader(WithAllowedDirs(dir)).Load(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "insecure config file permissions")
	})

	t.Run("read only owner", func(t *testing.T) {
		t.Parallel()
		dir := t.TempDir()
		path := writeConfig(t, dir, "{}\n", 0o400)
		_, err := NewLoader(WithAllowedDirs(dir), WithEnvPrefix("CURIO_READ_ONLY_")).Load(path)
		require.NoError(t, err)
	})

	t.Run("too large", func(t *testing.T) {
		t.Parallel()
		dir := t.TempDir()
		body := "# " + strings.Repeat("x", maxConfigFileSize) + "\n"
		path := writeConfig(t, dir, body, 0o600)
		_, err := NewLoader(WithAllowedDirs(dir)).Load(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "too large")
	})

	t.Run("malformed yaml", func(t *testing.T) {
		t.Parallel()
		dir := t.TempDir()
		path := writeConfig(t, dir, "buffer: [unterminated\n", 0o600)
		_, err := NewLoader(WithAllowedDirs(dir)).Load(path)
		require.Error(t, err)
	})

	t.Run("invalid values", func(t *testing.T) {
		t.Parallel()
		dir := t.TempDir()
		path := writeConfig(t, dir, "buffer:\n  max_size: 0\n", 0o600)
		_, err := NewLoader(WithAllowedDirs(dir), WithEnvPrefix("CURIO_INVALID_VALUES_")).Load(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "config validation failed")
	})
}

func TestLoad_EnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "buffer:\n  max_size: 500\ntrainer:\n  agent_type: seo\n", 0o600)

	t.Setenv("CURIO_BUFFER_MAX_SIZE", "750")
	t.Setenv("CURIO_ATTRIBUTION_ENGINE_SHAPLEY_ITERATIONS", "64")
	t.Setenv("CURIO_TRAINER_TASK_TIMEOUT", "1m30s")
	t.Setenv("CURIO_TRAINER_RATE_LIMIT", "2.5")
	t.Setenv("CURIO_ARCHIVE_ENABLED", "true")
	t.Setenv("CURIO_LOGGING_LEVEL", "debug")
	t.Setenv("CURIO_LOGGING_REDACTION_FIELDS", "password, session_token")
	t.Setenv("CURIO_UNKNOWN_KEY", "ignored")

	cfg, err := NewLoader(WithAllowedDirs(dir)).Load(path)
	require.NoError(t, err)

	assert.Equal(t, 750, cfg.Buffer.MaxSize, "env wins over file")
	assert.Equal(t, "seo", cfg.Trainer.AgentType)
	assert.Equal(t, 64, cfg.Attribution.Engine.ShapleyIterations)
	assert.Equal(t, 90*time.Second, cfg.Trainer.TaskTimeout.Duration())
	assert.Equal(t, 2.5, cfg.Trainer.RateLimit)
	assert.True(t, cfg.Archive.Enabled)
	assert.Equal(t, zapcore.DebugLevel, cfg.Logging.Level.Zap())
	assert.Equal(t, []string{"password", "session_token"}, cfg.Logging.Redaction.Fields)
}

func TestLoad_EnvInvalidValue(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "{}\n", 0o600)
	t.Setenv("CURIO_TRAINER_TASK_TIMEOUT", "-5s")

	_, err := NewLoader(WithAllowedDirs(dir)).Load(path)
	require.Error(t, err)
}

func TestEnvKeys(t *testing.T) {
	t.Parallel()

	keys := envKeys(reflectConfigType())
	assert.Equal(t, envKey{path: "buffer.min_quality"}, keys["buffer_min_quality"])
	assert.Equal(t, envKey{path: "attribution.tracker.max_history_size"}, keys["attribution_tracker_max_history_size"])
	assert.Equal(t, envKey{path: "trainer.task_timeout"}, keys["trainer_task_timeout"])
	assert.Equal(t, envKey{path: "logging.level"}, keys["logging_level"])
	assert.Equal(t, envKey{path: "logging.redaction.patterns", list: true}, keys["logging_redaction_patterns"])
	assert.NotContains(t, keys, "logging_fields", "maps are file-only")
	assert.NotContains(t, keys, "trainer")
	assert.NotContains(t, keys, "domains")
}

func TestSplitList(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []string{"a", "b"}, splitList(" a, ,b ,"))
	assert.Empty(t, splitList(""))
}
