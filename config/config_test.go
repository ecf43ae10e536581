package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rulesmaster/progress-sync/pkg/timeutil"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		EnvConfigFile, "APP_ENV", "APP_DAY_POLICY", "APP_TIMEZONE", "CACHE_BACKEND",
		"REMOTE_BACKEND", "SUPABASE_URL", "SUPABASE_ANON_KEY", "DATABASE_URL",
		"SYNC_RESYNC_INTERVAL", "QUIZ_PASSING_SCORE", "REDIS_PORT",
	} {
		t.Setenv(key, "")
	}
	// Keep a stray .env in the package directory out of the picture.
	t.Chdir(t.TempDir())
}

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rulesmaster.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_FileThenEnv(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, `
app:
  day_policy: calendar
  timezone: Europe/Madrid
cache:
  backend: memory
remote:
  backend: postgrest
  base_url: https://file.example
  api_key: file-key
sync:
  resync_interval: 90s
`)
	t.Setenv("SUPABASE_URL", "https://env.example")
	t.Setenv("QUIZ_PASSING_SCORE", "70")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://env.example", cfg.Remote.BaseURL, "env wins over file")
	assert.Equal(t, "file-key", cfg.Remote.APIKey)
	assert.Equal(t, 90*time.Second, cfg.Sync.ResyncInterval)
	assert.Equal(t, 70, cfg.Quiz.DefaultPassingScore)
	assert.Equal(t, 50, cfg.Quiz.BonusXP, "defaults survive")

	policy, err := cfg.DayPolicy()
	require.NoError(t, err)
	assert.Equal(t, "calendar:Europe/Madrid", policy.Name())
}

func TestLoad_ConfigPathFromEnv(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, "cache:\n  backend: memory\nremote:\n  backend: memory\n")
	t.Setenv(EnvConfigFile, path)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, RemoteMemory, cfg.Remote.Backend)
}

func TestLoad_RejectsUnknownFileKeys(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, "remote:\n  backnd: memory\n")

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_RejectsMalformedEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("CACHE_BACKEND", "memory")
	t.Setenv("REMOTE_BACKEND", "memory")
	t.Setenv("REDIS_PORT", "six")
	t.Setenv("SYNC_RESYNC_INTERVAL", "soon")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "REDIS_PORT")
	assert.Contains(t, err.Error(), "SYNC_RESYNC_INTERVAL")
}

func TestDefaultsUseElapsedDays(t *testing.T) {
	policy, err := Default().DayPolicy()
	require.NoError(t, err)
	assert.Equal(t, timeutil.PolicyElapsed, policy.Name())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"postgrest needs url", func(c *Config) { c.Remote.BaseURL = "" }, "SUPABASE_URL"},
		{"postgres needs dsn", func(c *Config) { c.Remote.Backend = RemotePostgres }, "DATABASE_URL"},
		{"unknown cache", func(c *Config) { c.Cache.Backend = "floppy" }, "CACHE_BACKEND"},
		{"memory cache in production", func(c *Config) {
			c.App.Environment = EnvProduction
			c.Cache.Backend = CacheMemory
		}, "memory cache"},
		{"day policy", func(c *Config) { c.App.DayPolicy = "lunar" }, "APP_DAY_POLICY"},
		{"anonymous user", func(c *Config) { c.App.AnonymousUserID = " " }, "APP_ANONYMOUS_USER_ID"},
		{"passing score", func(c *Config) { c.Quiz.DefaultPassingScore = 101 }, "QUIZ_PASSING_SCORE"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Remote.BaseURL = "https://x.example"
			cfg.Remote.APIKey = "k"
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidate_AggregatesErrors(t *testing.T) {
	cfg := Default()
	cfg.Remote.Backend = RemotePostgres
	cfg.Sync.MaxConcurrent = 0

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL")
	assert.Contains(t, err.Error(), "SYNC_MAX_CONCURRENT")
}
