package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envFrom(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func baseEnv() map[string]string {
	return map[string]string{
		"FRONTEND_BASE_URL": "https://www.example.com/",
		"SESSION_SECRET":    "s3cret",
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := load(envFrom(baseEnv()))
	require.NoError(t, err)

	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, "https://www.example.com", cfg.FrontendBaseURL)
	assert.Equal(t, "http://localhost:3001", cfg.PublicBaseURL)
	assert.Equal(t, DefaultSessionTable, cfg.SessionTable)
	assert.Equal(t, StoreSQLite, cfg.SessionStore)
	assert.Equal(t, DefaultDatabasePath, cfg.DatabasePath)
	assert.Equal(t, 28*24*time.Hour, cfg.SessionMaxAge)
	assert.Equal(t, int64(2419200000), cfg.SessionMaxAge.Milliseconds())
	assert.True(t, cfg.SessionRolling)
	assert.False(t, cfg.Dev)
}

func TestLoadMissingSecret(t *testing.T) {
	env := baseEnv()
	delete(env, "SESSION_SECRET")

	_, err := load(envFrom(env))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SESSION_SECRET")
}

func TestLoadMissingFrontend(t *testing.T) {
	env := baseEnv()
	delete(env, "FRONTEND_BASE_URL")

	_, err := load(envFrom(env))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "FRONTEND_BASE_URL")
}

func TestLoadDevFlag(t *testing.T) {
	cases := map[string]bool{
		"":            false,
		"production":  false,
		"development": true,
		"test":        true,
	}
	for env, want := range cases {
		e := baseEnv()
		e["APP_ENV"] = env
		cfg, err := load(envFrom(e))
		require.NoError(t, err)
		assert.Equal(t, want, cfg.Dev, "APP_ENV=%q", env)
	}
}

func TestLoadOverrides(t *testing.T) {
	env := baseEnv()
	env["PORT"] = "8080"
	env["SESSION_TABLE"] = "web_sessions"
	env["SESSION_MAX_AGE_MS"] = "60000"
	env["SESSION_ROLLING"] = "false"
	env["COOKIE_DOMAIN"] = ".example.com"
	env["LOG_LEVEL"] = "DEBUG"

	cfg, err := load(envFrom(env))
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "http://localhost:8080", cfg.PublicBaseURL)
	assert.Equal(t, "web_sessions", cfg.SessionTable)
	assert.Equal(t, time.Minute, cfg.SessionMaxAge)
	assert.False(t, cfg.SessionRolling)
	assert.Equal(t, ".example.com", cfg.CookieDomain)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadBadMaxAge(t *testing.T) {
	env := baseEnv()
	env["SESSION_MAX_AGE_MS"] = "soon"

	_, err := load(envFrom(env))
	assert.ErrorContains(t, err, "SESSION_MAX_AGE_MS")
}

func TestLoadRedisRequiresURL(t *testing.T) {
	env := baseEnv()
	env["SESSION_STORE"] = "redis"

	_, err := load(envFrom(env))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "REDIS_URL")

	env["REDIS_URL"] = "redis://localhost:6379/0"
	cfg, err := load(envFrom(env))
	require.NoError(t, err)
	assert.Equal(t, StoreRedis, cfg.SessionStore)
}

func TestLoadUnknownStore(t *testing.T) {
	env := baseEnv()
	env["SESSION_STORE"] = "memcached"

	_, err := load(envFrom(env))
	assert.ErrorContains(t, err, "SESSION_STORE")
}

func TestLoadEmailFromRequiredWithToken(t *testing.T) {
	env := baseEnv()
	env["POSTMARK_SERVER_TOKEN"] = "pm-token"

	_, err := load(envFrom(env))
	assert.ErrorContains(t, err, "EMAIL_FROM")

	env["EMAIL_FROM"] = "hello@example.com"
	_, err = load(envFrom(env))
	assert.NoError(t, err)
}
