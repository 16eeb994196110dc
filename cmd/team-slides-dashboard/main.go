package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/smorand/team-slides-dashboard/internal/auth"
	"github.com/smorand/team-slides-dashboard/internal/config"
	"github.com/smorand/team-slides-dashboard/internal/fetcher"
	"github.com/smorand/team-slides-dashboard/internal/middleware"
	"github.com/smorand/team-slides-dashboard/internal/ratelimit"
	"github.com/smorand/team-slides-dashboard/internal/registry"
	"github.com/smorand/team-slides-dashboard/internal/report"
	"github.com/smorand/team-slides-dashboard/internal/session"
	"github.com/smorand/team-slides-dashboard/internal/store"
	"github.com/smorand/team-slides-dashboard/internal/transport"
)

const sessionCleanupInterval = 10 * time.Minute

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	level, err := config.ParseLogLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.UsesDefaultAdminPassword() {
		logger.Warn("bootstrap admin uses the default password, set BOOTSTRAP_ADMIN_PASSWORD")
	}

	fileStore, err := store.NewFileStore(store.FileStoreConfig{
		Path:          cfg.DataFile,
		AdminPassword: cfg.BootstrapAdminPassword,
		Logger:        logger,
	})
	if err != nil {
		return fmt.Errorf("failed to open shared state: %w", err)
	}
	reg := registry.New(registry.Config{Logger: logger}, fileStore)
	if _, err := reg.Refresh(ctx); err != nil {
		logger.Warn("initial state refresh failed, continuing with defaults", slog.Any("error", err))
	}

	slidesFetcher := fetcher.NewGoogle(fetcher.GoogleConfig{
		MaxRetries: cfg.FetchMaxRetries,
		CacheTTL:   cfg.MetadataCacheTTL,
		Logger:     logger,
	}, fetcher.NewRealSlidesServiceFactory())

	sessions, closeSessions, err := newSessionStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeSessions()

	apiConfig := transport.APIConfig{
		Registry: reg,
		Sessions: sessions,
		Fetcher:  slidesFetcher,
		Reports: report.New(report.Config{
			Workers:         cfg.ReportWorkers,
			RefreshInterval: cfg.ReportRefreshInterval,
			Logger:          logger,
		}),
		SessionTTL:    cfg.SessionTTL,
		SecureCookies: cfg.SecureCookies,
		Logger:        logger,
	}

	oauthConfig, err := loadOAuthConfig(ctx, cfg)
	if err != nil {
		return err
	}

	var oauthHandler *auth.OAuthHandler
	if oauthConfig.Enabled() {
		tokens, err := newTokenStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer tokens.Close()

		apiConfig.Credentials = auth.NewCredentials(auth.CredentialsConfig{
			OAuth:    oauthConfig,
			Store:    tokens,
			Recorder: reg,
			Logger:   logger,
		})

		states, err := auth.NewStateSigner([]byte(cfg.StateSecret), auth.DefaultStateTTL)
		if err != nil {
			return fmt.Errorf("failed to create state signer: %w", err)
		}
		oauthHandler = auth.NewOAuthHandler(oauthConfig, states, middleware.GetUsername, logger)
		oauthHandler.SetOnTokenFunc(auth.NewTokenCallback(auth.TokenCallbackConfig{
			Store:    tokens,
			Recorder: reg,
			Logger:   logger,
		}))
		logger.Info("google sign-in enabled", slog.String("token_backend", cfg.TokenBackend))
	} else {
		logger.Warn("google sign-in not configured, presentation metadata and image reports are unavailable")
	}

	server := transport.NewServer(transport.ServerConfig{
		Port:           cfg.Port,
		AllowedOrigins: cfg.AllowedOrigins,
		Logger:         logger,
	}, transport.NewAPI(apiConfig))
	server.SetSessionMiddleware(middleware.NewSession(middleware.SessionConfig{Store: sessions, Logger: logger}))
	server.SetRateLimitMiddleware(ratelimit.New(ratelimit.Config{
		RequestsPerSecond: cfg.LoginRatePerSecond,
		BurstSize:         cfg.LoginBurst,
		Logger:            logger,
	}))
	if oauthHandler != nil {
		server.SetAuthHandler(oauthHandler)
	}

	return server.Start(ctx)
}

func loadOAuthConfig(ctx context.Context, cfg config.Config) (auth.OAuthConfig, error) {
	if !cfg.OAuthFromSecrets() {
		return auth.OAuthConfig{
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
			RedirectURI:  cfg.GoogleRedirectURI,
			Scopes:       auth.DefaultScopes,
		}, nil
	}

	loader, err := auth.NewSecretLoader(ctx, cfg.GCPProjectID)
	if err != nil {
		return auth.OAuthConfig{}, fmt.Errorf("failed to create secret loader: %w", err)
	}
	defer loader.Close()

	oauthConfig, err := loader.LoadOAuthConfig(ctx, cfg.OAuthSecretClientID, cfg.OAuthSecretClientSecret, cfg.OAuthSecretRedirectURI)
	if err != nil {
		return auth.OAuthConfig{}, err
	}
	return *oauthConfig, nil
}

func newTokenStore(ctx context.Context, cfg config.Config) (auth.TokenStore, error) {
	if cfg.TokenBackend == config.TokenBackendFirestore {
		tokens, err := auth.NewFirestoreTokenStore(ctx, cfg.GCPProjectID, cfg.FirestoreCollection)
		if err != nil {
			return nil, fmt.Errorf("failed to create token store: %w", err)
		}
		return tokens, nil
	}
	return auth.NewFileTokenStore(cfg.TokenFile), nil
}

func newSessionStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (session.Store, func(), error) {
	if cfg.SessionBackend == config.SessionBackendRedis {
		sessions := session.NewRedisStore(session.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			TTL:      cfg.SessionTTL,
		})
		return sessions, func() {
			if err := sessions.Close(); err != nil {
				logger.Warn("failed to close redis client", slog.Any("error", err))
			}
		}, nil
	}

	sessions := session.NewMemoryStore(session.MemoryConfig{TTL: cfg.SessionTTL, Logger: logger})
	go func() {
		ticker := time.NewTicker(sessionCleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := sessions.Cleanup(); n > 0 {
					logger.Debug("expired sessions removed", slog.Int("count", n))
				}
			}
		}
	}()
	return sessions, func() {}, nil
}
