// Package config loads the dashboard configuration from environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Backend names.
const (
	TokenBackendFile      = "file"
	TokenBackendFirestore = "firestore"
	SessionBackendMemory  = "memory"
	SessionBackendRedis   = "redis"
	defaultBootstrapAdmin = "admin123"
)

// ErrInvalidConfig is returned by Validate.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config holds every setting of the dashboard process.
type Config struct {
	Port                   int      `env:"PORT" envDefault:"8080"`
	DataFile               string   `env:"DATA_FILE" envDefault:"shared_slides_db.json"`
	BootstrapAdminPassword string   `env:"BOOTSTRAP_ADMIN_PASSWORD" envDefault:"admin123"`
	LogLevel               string   `env:"LOG_LEVEL" envDefault:"info"`
	AllowedOrigins         []string `env:"ALLOWED_ORIGINS" envDefault:"*" envSeparator:","`
	SecureCookies          bool     `env:"SECURE_COOKIES" envDefault:"false"`

	GoogleClientID     string `env:"GOOGLE_CLIENT_ID"`
	GoogleClientSecret string `env:"GOOGLE_CLIENT_SECRET"`
	GoogleRedirectURI  string `env:"GOOGLE_REDIRECT_URI"`

	GCPProjectID            string `env:"GCP_PROJECT_ID"`
	OAuthSecretClientID     string `env:"OAUTH_SECRET_CLIENT_ID"`
	OAuthSecretClientSecret string `env:"OAUTH_SECRET_CLIENT_SECRET"`
	OAuthSecretRedirectURI  string `env:"OAUTH_SECRET_REDIRECT_URI"`
	TokenBackend            string `env:"TOKEN_BACKEND" envDefault:"file"`
	TokenFile               string `env:"TOKEN_FILE" envDefault:"google_tokens.json"`
	FirestoreCollection     string `env:"FIRESTORE_COLLECTION" envDefault:"google_tokens"`
	StateSecret             string `env:"STATE_SECRET"`

	SessionBackend string        `env:"SESSION_BACKEND" envDefault:"memory"`
	SessionTTL     time.Duration `env:"SESSION_TTL" envDefault:"12h"`
	RedisAddr      string        `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword  string        `env:"REDIS_PASSWORD"`
	RedisDB        int           `env:"REDIS_DB" envDefault:"0"`

	ReportWorkers         int           `env:"REPORT_WORKERS" envDefault:"4"`
	ReportRefreshInterval time.Duration `env:"REPORT_REFRESH_INTERVAL" envDefault:"30s"`
	FetchMaxRetries       int           `env:"FETCH_MAX_RETRIES" envDefault:"3"`
	MetadataCacheTTL      time.Duration `env:"METADATA_CACHE_TTL" envDefault:"2m"`

	LoginRatePerSecond float64 `env:"LOGIN_RATE_PER_SECOND" envDefault:"1"`
	LoginBurst         int     `env:"LOGIN_BURST" envDefault:"5"`
}

// Load parses the process environment and validates the result.
func Load() (Config, error) {
	return LoadWithOptions(env.Options{})
}

// LoadWithOptions is Load with explicit parser options, such as a fixed Environment map.
func LoadWithOptions(opts env.Options) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects unknown backends and out of range values.
func (c Config) Validate() error {
	switch c.TokenBackend {
	case TokenBackendFile, TokenBackendFirestore:
	default:
		return fmt.Errorf("%w: unknown TOKEN_BACKEND %q", ErrInvalidConfig, c.TokenBackend)
	}
	if c.TokenBackend == TokenBackendFirestore && c.GCPProjectID == "" {
		return fmt.Errorf("%w: TOKEN_BACKEND=firestore requires GCP_PROJECT_ID", ErrInvalidConfig)
	}
	switch c.SessionBackend {
	case SessionBackendMemory, SessionBackendRedis:
	default:
		return fmt.Errorf("%w: unknown SESSION_BACKEND %q", ErrInvalidConfig, c.SessionBackend)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%w: PORT must be between 1 and 65535", ErrInvalidConfig)
	}
	if c.ReportWorkers <= 0 {
		return fmt.Errorf("%w: REPORT_WORKERS must be positive", ErrInvalidConfig)
	}
	if c.FetchMaxRetries < 0 {
		return fmt.Errorf("%w: FETCH_MAX_RETRIES must not be negative", ErrInvalidConfig)
	}
	if c.LoginRatePerSecond <= 0 || c.LoginBurst <= 0 {
		return fmt.Errorf("%w: login rate and burst must be positive", ErrInvalidConfig)
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// OAuthFromSecrets reports whether the OAuth client should be read from Secret Manager.
func (c Config) OAuthFromSecrets() bool {
	return c.GCPProjectID != "" && c.OAuthSecretClientID != "" &&
		c.OAuthSecretClientSecret != "" && c.OAuthSecretRedirectURI != ""
}

// UsesDefaultAdminPassword reports whether the bootstrap admin keeps the well-known password.
func (c Config) UsesDefaultAdminPassword() bool {
	return c.BootstrapAdminPassword == defaultBootstrapAdmin
}

// ParseLogLevel maps debug, info, warn and error onto slog levels.
func ParseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("%w: unknown LOG_LEVEL %q", ErrInvalidConfig, s)
	}
}
