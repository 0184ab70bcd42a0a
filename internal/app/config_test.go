package app

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("APP_ENV", "")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.AppAddr)
	require.Equal(t, 168*time.Hour, cfg.IdempotencyRetention)
	require.Equal(t, "0 2 * * *", cfg.IntegrityCron)
	require.False(t, cfg.AllowNegativeStock)
	require.False(t, cfg.IsProduction())
}

func TestLoadConfigReadsDotEnv(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"),
		[]byte("LEDGER_ALLOW_NEGATIVE_STOCK=true\nRATE_LIMIT_PER_MINUTE=30\n"), 0o600))
	t.Chdir(dir)
	// godotenv never overrides variables already present.
	t.Setenv("RATE_LIMIT_PER_MINUTE", "45")
	t.Cleanup(func() { _ = os.Unsetenv("LEDGER_ALLOW_NEGATIVE_STOCK") })

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.True(t, cfg.AllowNegativeStock)
	require.Equal(t, 45, cfg.RateLimitPerMinute)
}

func TestLoadConfigRejectsBadCron(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("INTEGRITY_CRON", "every night")

	_, err := LoadConfig()
	require.ErrorContains(t, err, "INTEGRITY_CRON")
}
