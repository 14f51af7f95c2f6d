package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	// Save original env vars and restore after tests
	originalEnv := map[string]string{
		"HUB_APP_NAME":              os.Getenv("HUB_APP_NAME"),
		"HUB_APP_ENV":               os.Getenv("HUB_APP_ENV"),
		"HUB_STORE_PATH":            os.Getenv("HUB_STORE_PATH"),
		"HUB_STORE_BATCH_SIZE":      os.Getenv("HUB_STORE_BATCH_SIZE"),
		"HUB_REMOTE_BASE_URL":       os.Getenv("HUB_REMOTE_BASE_URL"),
		"HUB_REMOTE_TOKEN":          os.Getenv("HUB_REMOTE_TOKEN"),
		"HUB_REMOTE_FETCH_TIMEOUT":  os.Getenv("HUB_REMOTE_FETCH_TIMEOUT"),
		"HUB_SYNC_MAX_RETRIES":      os.Getenv("HUB_SYNC_MAX_RETRIES"),
		"HUB_SYNC_INITIAL_BACKOFF":  os.Getenv("HUB_SYNC_INITIAL_BACKOFF"),
		"HUB_SYNC_MAX_BACKOFF":      os.Getenv("HUB_SYNC_MAX_BACKOFF"),
		"HUB_SYNC_FRESHNESS_WINDOW": os.Getenv("HUB_SYNC_FRESHNESS_WINDOW"),
		"HUB_LOG_LEVEL":             os.Getenv("HUB_LOG_LEVEL"),
	}

	defer func() {
		for k, v := range originalEnv {
			if v == "" {
				os.Unsetenv(k)
			} else {
				os.Setenv(k, v)
			}
		}
	}()

	clearEnv := func() {
		for k := range originalEnv {
			os.Unsetenv(k)
		}
	}

	t.Run("loads default values when env vars not set", func(t *testing.T) {
		clearEnv()

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, "hubsync", cfg.App.Name)
		assert.Equal(t, "development", cfg.App.Env)
		assert.Equal(t, "hubsync.db", cfg.Store.Path)
		assert.Equal(t, 100, cfg.Store.BatchSize)
		assert.Equal(t, 1, cfg.Store.MaxOpenConns)
		assert.Equal(t, "warn", cfg.Store.LogLevel)
		assert.Equal(t, 200*time.Millisecond, cfg.Store.SlowThreshold)
		assert.Equal(t, 8*time.Second, cfg.Remote.FetchTimeout)
		assert.Equal(t, "/sync/check", cfg.Remote.SyncCheckPath)
		assert.Equal(t, "/university-data", cfg.Remote.BundlePath)
		assert.Equal(t, 3, cfg.Sync.MaxRetries)
		assert.Equal(t, 500*time.Millisecond, cfg.Sync.InitialBackoff)
		assert.Equal(t, 24*time.Hour, cfg.Sync.FreshnessWindow)
		assert.Equal(t, "info", cfg.Log.Level)
		assert.Equal(t, "console", cfg.Log.Format)
	})

	t.Run("loads values from environment variables with HUB prefix", func(t *testing.T) {
		clearEnv()
		os.Setenv("HUB_APP_NAME", "campus-app")
		os.Setenv("HUB_STORE_PATH", "/data/hub.db")
		os.Setenv("HUB_STORE_BATCH_SIZE", "25")
		os.Setenv("HUB_REMOTE_BASE_URL", "https://api.example.edu")
		os.Setenv("HUB_REMOTE_TOKEN", "opaque-token")
		os.Setenv("HUB_REMOTE_FETCH_TIMEOUT", "3s")
		os.Setenv("HUB_SYNC_MAX_RETRIES", "5")
		os.Setenv("HUB_SYNC_FRESHNESS_WINDOW", "6h")
		os.Setenv("HUB_LOG_LEVEL", "debug")

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, "campus-app", cfg.App.Name)
		assert.Equal(t, "/data/hub.db", cfg.Store.Path)
		assert.Equal(t, 25, cfg.Store.BatchSize)
		assert.Equal(t, "https://api.example.edu", cfg.Remote.BaseURL)
		assert.Equal(t, "opaque-token", cfg.Remote.Token)
		assert.Equal(t, 3*time.Second, cfg.Remote.FetchTimeout)
		assert.Equal(t, 5, cfg.Sync.MaxRetries)
		assert.Equal(t, 6*time.Hour, cfg.Sync.FreshnessWindow)
		assert.Equal(t, "debug", cfg.Log.Level)
	})

	t.Run("rejects a relative base URL", func(t *testing.T) {
		clearEnv()
		os.Setenv("HUB_REMOTE_BASE_URL", "api.example.edu")

		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "remote.base_url")
	})

	t.Run("rejects initial backoff above max backoff", func(t *testing.T) {
		clearEnv()
		os.Setenv("HUB_SYNC_INITIAL_BACKOFF", "30s")
		os.Setenv("HUB_SYNC_MAX_BACKOFF", "5s")

		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "sync.initial_backoff")
	})

	t.Run("production requires https", func(t *testing.T) {
		clearEnv()
		os.Setenv("HUB_APP_ENV", "production")
		os.Setenv("HUB_REMOTE_BASE_URL", "http://api.example.edu")

		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "https")
	})
}

func TestLoadFrom(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hub.toml")
	content := `
[store]
path = "campus.db"
batch_size = 50
log_level = "info"
slow_threshold = "50ms"

[remote]
base_url = "https://api.example.edu"

[sync]
freshness_window = "12h"
check_schedule = "@every 30m"

[sync.freshness_overrides]
announcements = "15m"
housing = "6h"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := LoadFrom(path)
	require.NoError(t, err)

	assert.Equal(t, "campus.db", cfg.Store.Path)
	assert.Equal(t, 50, cfg.Store.BatchSize)
	assert.Equal(t, "info", cfg.Store.LogLevel)
	assert.Equal(t, 50*time.Millisecond, cfg.Store.SlowThreshold)
	assert.Equal(t, "@every 30m", cfg.Sync.CheckSchedule)
	assert.Equal(t, 15*time.Minute, cfg.Sync.FreshnessFor("announcements"))
	assert.Equal(t, 6*time.Hour, cfg.Sync.FreshnessFor("housing"))
	assert.Equal(t, 12*time.Hour, cfg.Sync.FreshnessFor("videos"))

	t.Run("missing explicit file is an error", func(t *testing.T) {
		_, err := LoadFrom(filepath.Join(dir, "missing.toml"))
		assert.Error(t, err)
	})

	t.Run("bad override duration is an error", func(t *testing.T) {
		bad := filepath.Join(dir, "bad.toml")
		require.NoError(t, os.WriteFile(bad, []byte("[sync.freshness_overrides]\nhousing = \"soon\"\n"), 0o600))
		_, err := LoadFrom(bad)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "housing")
	})
}

func TestStoreConfig_DSN(t *testing.T) {
	t.Run("in-memory", func(t *testing.T) {
		s := StoreConfig{Path: ":memory:", BusyTimeout: time.Second}
		assert.Equal(t, ":memory:", s.DSN())
	})

	t.Run("file path carries pragmas", func(t *testing.T) {
		s := StoreConfig{Path: "/data/hub.db", BusyTimeout: 5 * time.Second}
		dsn := s.DSN()
		assert.Contains(t, dsn, "file:/data/hub.db?")
		assert.Contains(t, dsn, "_busy_timeout=5000")
		assert.Contains(t, dsn, "_journal_mode=WAL")
	})
}
