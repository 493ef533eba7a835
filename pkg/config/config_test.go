package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clipforge/clipforge/pkg/alert"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, ":8080", cfg.Listen)
	assert.Equal(t, "sqlite", cfg.Storage.Driver)
	assert.Equal(t, 5*time.Minute, cfg.Cache.Content.FreshThreshold)
	assert.Equal(t, 30*time.Minute, cfg.Cache.Content.StaleThreshold)
	assert.Equal(t, time.Minute, cfg.Limits.Window)
	assert.Equal(t, 2, cfg.Prefetch.Concurrency)
	require.NoError(t, cfg.Validate(true))
}

func TestLoad(t *testing.T) {
	t.Setenv("TEST_RENDER_KEY", "render-123")

	path := writeConfig(t, `
listen: ":9090"
storage:
  driver: badger
  path: /tmp/clipforge-data
cache:
  content:
    capacity: 50
    ttl: 10m
limits:
  window: 30s
  calls:
    shotstack: 3
  budgets:
    - provider: shotstack
      daily_limit: 5.00
      monthly_limit: 80
providers:
  render:
    api_key: ${TEST_RENDER_KEY}
    poll_interval: 2s
alerts:
  rules:
    - id: too-slow
      metric: provider.latency_ms
      condition: gt
      threshold: 5000
      window: 5m
      enabled: true
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Listen)
	assert.Equal(t, "badger", cfg.Storage.Driver)
	assert.Equal(t, 50, cfg.Cache.Content.Capacity)
	assert.Equal(t, 10*time.Minute, cfg.Cache.Content.TTL)
	assert.Equal(t, 5*time.Minute, cfg.Cache.Content.FreshThreshold, "unset fields keep defaults")
	assert.Equal(t, 30*time.Second, cfg.Limits.Window)
	assert.Equal(t, 3, cfg.Limits.Calls["shotstack"])
	require.Len(t, cfg.Limits.Budgets, 1)
	assert.Equal(t, 5.00, cfg.Limits.Budgets[0].DailyLimit)
	assert.Equal(t, "render-123", cfg.Providers.Render.APIKey, "env var expanded")
	assert.Equal(t, 2*time.Second, cfg.Providers.Render.PollInterval)
	assert.Equal(t, "shotstack", cfg.Providers.Render.Name)

	require.Len(t, cfg.Alerts.Rules, 1)
	r := cfg.Alerts.Rules[0]
	assert.Equal(t, alert.GreaterThan, r.Condition)
	assert.Equal(t, 5*time.Minute, r.Window)
	assert.True(t, r.Enabled)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-env")
	t.Setenv("CLIPFORGE_SPEECH_API_KEY", "speech-env")
	t.Setenv("CLIPFORGE_RENDER_API_KEY", "render-env")
	t.Setenv("CLIPFORGE_LOG_LEVEL", "debug")

	path := writeConfig(t, `
log:
  level: warn
providers:
  openai:
    api_key: sk-file
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "sk-env", cfg.Providers.OpenAI.APIKey)
	assert.Equal(t, "speech-env", cfg.Providers.Speech.APIKey)
	assert.Equal(t, "render-env", cfg.Providers.Render.APIKey)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.NoError(t, cfg.Validate(false))
}

func TestLoadWithoutFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default().Listen, cfg.Listen)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "listen: [unclosed"))
	assert.Error(t, err)
}

func TestValidateMissingCredentials(t *testing.T) {
	cfg := Default()
	err := cfg.Validate(false)
	require.ErrorIs(t, err, ErrConfiguration)
	assert.Contains(t, err.Error(), "OPENAI_API_KEY")
	assert.Contains(t, err.Error(), "CLIPFORGE_RENDER_API_KEY")

	assert.NoError(t, cfg.Validate(true), "simulate mode needs no credentials")
}

func TestValidateRejectsBadSettings(t *testing.T) {
	cfg := Default()
	cfg.Storage.Driver = "postgres"
	cfg.Cache.Artifacts.FreshThreshold = 2 * time.Hour
	err := cfg.Validate(true)
	require.ErrorIs(t, err, ErrConfiguration)
	assert.Contains(t, err.Error(), "postgres")
	assert.Contains(t, err.Error(), "cache.artifacts")
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := LogConfig{Level: "warn", Format: "json"}.NewLogger(&buf)
	require.NoError(t, err)

	logger.Info("hidden")
	logger.Warn("shown", "provider", "shotstack")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"provider":"shotstack"`)

	_, err = LogConfig{Level: "loud"}.NewLogger(&buf)
	assert.ErrorIs(t, err, ErrConfiguration)
	_, err = LogConfig{Level: "info", Format: "xml"}.NewLogger(&buf)
	assert.ErrorIs(t, err, ErrConfiguration)
}
