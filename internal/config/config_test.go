package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, Validate(cfg))

	assert.Equal(t, "http://localhost:8000/api", cfg.Backend.BaseURL)
	assert.Equal(t, 3*time.Second, cfg.Session.PollIntervalDuration())
	assert.Equal(t, "1d", cfg.Session.DefaultTimeframe)
	assert.Equal(t, "BTC/USDT", cfg.Session.DefaultMarket)
	assert.Equal(t, 10, cfg.Session.ResultsDisplayLimit)
	assert.False(t, cfg.Database.Enabled)
	assert.False(t, cfg.RabbitMQ.Enabled)
}

func TestLoad_YAMLAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yamlContent := `
env: test
backend:
  base_url: http://backend:9000/api
  max_retries: 5
session:
  poll_interval: 500ms
  results_display_limit: 25
  validate_ranges: true
logging:
  level: debug
  format: console
`
	require.NoError(t, os.WriteFile(path, []byte(yamlContent), 0o600))

	t.Setenv("BACKEND_MAX_RETRIES", "1")
	t.Setenv("HTTP_PORT", "9191")

	cfg, err := Load(path, writeEnvFile(t, dir, ""))
	require.NoError(t, err)

	assert.Equal(t, "test", cfg.Env)
	assert.Equal(t, "http://backend:9000/api", cfg.Backend.BaseURL)
	assert.Equal(t, 1, cfg.Backend.MaxRetries, "env overrides yaml")
	assert.Equal(t, 500*time.Millisecond, cfg.Session.PollIntervalDuration())
	assert.Equal(t, 25, cfg.Session.ResultsDisplayLimit)
	assert.True(t, cfg.Session.ValidateRanges)
	assert.Equal(t, 9191, cfg.HTTP.Port)
	assert.Equal(t, "console", cfg.Logging.Format)
}

func TestLoad_DotEnvFile(t *testing.T) {
	dir := t.TempDir()
	envPath := writeEnvFile(t, dir, "POLL_INTERVAL=2s\nLOG_LEVEL=WARN\n")

	// godotenv never overrides variables that are already set; register
	// cleanup for the ones it will set.
	t.Setenv("POLL_INTERVAL", "")
	t.Setenv("LOG_LEVEL", "")
	require.NoError(t, os.Unsetenv("POLL_INTERVAL"))
	require.NoError(t, os.Unsetenv("LOG_LEVEL"))

	cfg, err := Load("", envPath)
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, cfg.Session.PollIntervalDuration())
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestLoad_MissingYAMLUsesDefaults(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(filepath.Join(dir, "missing.yaml"), writeEnvFile(t, dir, ""))
	require.NoError(t, err)
	assert.Equal(t, Default().Backend, cfg.Backend)
}

func TestValidate_Errors(t *testing.T) {
	cfg := Default()
	cfg.Env = "qa"
	cfg.Backend.BaseURL = "localhost"
	cfg.Backend.MaxRetries = -1
	cfg.Session.PollInterval = "soon"
	cfg.Session.ResultsDisplayLimit = 0
	cfg.Session.DefaultStartDate = "01/01/2023"
	cfg.Logging.Level = "trace"

	err := Validate(cfg)
	require.Error(t, err)
	assert.True(t, IsValidationError(err))

	var verrs ValidationErrors
	require.ErrorAs(t, err, &verrs)
	fields := make([]string, 0, len(verrs))
	for _, v := range verrs {
		fields = append(fields, v.Field)
	}
	assert.ElementsMatch(t, []string{
		"env",
		"backend.base_url",
		"backend.max_retries",
		"session.poll_interval",
		"session.results_display_limit",
		"session.default_start_date",
		"logging.level",
	}, fields)
}

func TestValidate_OptionalIntegrations(t *testing.T) {
	cfg := Default()
	cfg.RabbitMQ.URL = "http://broker"
	cfg.Database.Host = ""
	require.NoError(t, Validate(cfg), "disabled integrations are not validated")

	cfg.RabbitMQ.Enabled = true
	cfg.Database.Enabled = true
	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rabbitmq.url")
	assert.Contains(t, err.Error(), "database.host")
}

func writeEnvFile(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, ".env.test")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}
