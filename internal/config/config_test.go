package config

import (
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func load(t *testing.T, vars map[string]string) (Config, error) {
	t.Helper()
	return LoadWithOptions(env.Options{Environment: vars})
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := load(t, map[string]string{})
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "shared_slides_db.json", cfg.DataFile)
	assert.Equal(t, []string{"*"}, cfg.AllowedOrigins)
	assert.Equal(t, TokenBackendFile, cfg.TokenBackend)
	assert.Equal(t, "google_tokens.json", cfg.TokenFile)
	assert.Equal(t, SessionBackendMemory, cfg.SessionBackend)
	assert.Equal(t, 12*time.Hour, cfg.SessionTTL)
	assert.Equal(t, 4, cfg.ReportWorkers)
	assert.Equal(t, 30*time.Second, cfg.ReportRefreshInterval)
	assert.Equal(t, 3, cfg.FetchMaxRetries)
	assert.Equal(t, 2*time.Minute, cfg.MetadataCacheTTL)
	assert.Equal(t, 1.0, cfg.LoginRatePerSecond)
	assert.Equal(t, 5, cfg.LoginBurst)
	assert.True(t, cfg.UsesDefaultAdminPassword())
	assert.False(t, cfg.OAuthFromSecrets())
}

func TestLoadOverrides(t *testing.T) {
	cfg, err := load(t, map[string]string{
		"PORT":                       "9090",
		"ALLOWED_ORIGINS":            "https://a.example.com,https://b.example.com",
		"BOOTSTRAP_ADMIN_PASSWORD":   "s3cret!",
		"SESSION_BACKEND":            "redis",
		"REDIS_DB":                   "2",
		"TOKEN_BACKEND":              "firestore",
		"GCP_PROJECT_ID":             "p1",
		"OAUTH_SECRET_CLIENT_ID":     "cid",
		"OAUTH_SECRET_CLIENT_SECRET": "csecret",
		"OAUTH_SECRET_REDIRECT_URI":  "redirect",
		"REPORT_REFRESH_INTERVAL":    "-1s",
	})
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.AllowedOrigins)
	assert.Equal(t, SessionBackendRedis, cfg.SessionBackend)
	assert.Equal(t, 2, cfg.RedisDB)
	assert.Equal(t, TokenBackendFirestore, cfg.TokenBackend)
	assert.Equal(t, -time.Second, cfg.ReportRefreshInterval)
	assert.False(t, cfg.UsesDefaultAdminPassword())
	assert.True(t, cfg.OAuthFromSecrets())
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name    string
		vars    map[string]string
		invalid bool
	}{
		{name: "malformed port", vars: map[string]string{"PORT": "http"}},
		{name: "malformed duration", vars: map[string]string{"SESSION_TTL": "forever"}},
		{name: "unknown token backend", vars: map[string]string{"TOKEN_BACKEND": "s3"}, invalid: true},
		{name: "firestore without project", vars: map[string]string{"TOKEN_BACKEND": "firestore"}, invalid: true},
		{name: "unknown session backend", vars: map[string]string{"SESSION_BACKEND": "memcached"}, invalid: true},
		{name: "zero workers", vars: map[string]string{"REPORT_WORKERS": "0"}, invalid: true},
		{name: "negative retries", vars: map[string]string{"FETCH_MAX_RETRIES": "-1"}, invalid: true},
		{name: "zero burst", vars: map[string]string{"LOGIN_BURST": "0"}, invalid: true},
		{name: "port out of range", vars: map[string]string{"PORT": "70000"}, invalid: true},
		{name: "unknown log level", vars: map[string]string{"LOG_LEVEL": "verbose"}, invalid: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := load(t, tt.vars)
			require.Error(t, err)
			assert.Equal(t, tt.invalid, errors.Is(err, ErrInvalidConfig), err.Error())
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"", slog.LevelInfo},
		{"INFO", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{" error ", slog.LevelError},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLogLevel(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
