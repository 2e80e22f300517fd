package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yeoskin/backend/internal/models"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_DefaultsAndYAML(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("DATABASE_URL", "")
	t.Setenv("PORT", "")
	path := writeConfig(t, `
currency: eur
payout:
  minimum_cents: 2500
  retry:
    max_attempts: 3
    base_backoff: 200ms
    max_backoff: 2s
  auto_run_interval: 24h
provider:
  kind: sandbox
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "EUR", cfg.Currency)
	assert.Equal(t, int64(2500), cfg.Payout.MinimumCents)
	assert.Equal(t, 3, cfg.Payout.Retry.MaxAttempts)
	assert.Equal(t, 200*time.Millisecond, cfg.Payout.Retry.BaseBackoff.Duration)
	assert.Equal(t, 24*time.Hour, cfg.Payout.AutoRunInterval.Duration)
	assert.Equal(t, 15*time.Minute, cfg.Eligibility.Interval.Duration)
	assert.Equal(t, defaultDatabaseURL, cfg.DatabaseURL)
	assert.Equal(t, "8080", cfg.HTTP.Port)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("DATABASE_URL", "postgres://other/db")
	t.Setenv("PORT", "9090")
	t.Setenv("PAYOUT_MINIMUM_CENTS", "100")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "postgres://other/db", cfg.DatabaseURL)
	assert.Equal(t, "9090", cfg.HTTP.Port)
	assert.Equal(t, int64(100), cfg.Payout.MinimumCents)
}

func TestLoad_RejectsInvalid(t *testing.T) {
	t.Chdir(t.TempDir())
	cases := map[string]string{
		"negative minimum": "payout:\n  minimum_cents: -1\n",
		"unknown provider": "provider:\n  kind: carrier-pigeon\n",
		"http without url": "provider:\n  kind: http\n",
		"bad hash":         "integrations:\n  api_key_hashes: [abc]\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			assert.ErrorIs(t, err, models.ErrConfiguration)
		})
	}
}

func TestDuration_RejectsGarbage(t *testing.T) {
	t.Chdir(t.TempDir())
	_, err := Load(writeConfig(t, "payout:\n  provider_timeout: soon\n"))
	require.Error(t, err)
}
