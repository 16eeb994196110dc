package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/oauth2"

	"github.com/smorand/team-slides-dashboard/internal/state"
)

// TokenCallbackConfig configures the token callback function.
type TokenCallbackConfig struct {
	Store    TokenStore
	Recorder ActivityRecorder
	Logger   *slog.Logger
}

// NewTokenCallback creates the OAuthHandler callback that saves a user's token and records the
// connection in the activity log.
func NewTokenCallback(config TokenCallbackConfig) TokenFunc {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return func(ctx context.Context, username string, token *oauth2.Token) error {
		if token == nil || token.AccessToken == "" {
			return fmt.Errorf("no access token received")
		}

		record := NewTokenRecord(username, token)
		if record.RefreshToken == "" {
			// Google omits the refresh token on repeated consent; keep the one we have.
			previous, err := config.Store.Get(ctx, username)
			switch {
			case err == nil:
				record.RefreshToken = previous.RefreshToken
			case !errors.Is(err, ErrTokenNotFound):
				return fmt.Errorf("failed to load previous token: %w", err)
			}
		}

		if err := config.Store.Store(ctx, record); err != nil {
			return fmt.Errorf("failed to store token: %w", err)
		}

		logger.Info("google token stored",
			slog.String("username", username),
			slog.Bool("has_refresh_token", record.RefreshToken != ""),
		)

		if config.Recorder != nil {
			if err := config.Recorder.RecordActivity(ctx, username, state.ActionGoogleAuth, "Connected Google account"); err != nil {
				logger.Warn("failed to record google connection",
					slog.String("username", username),
					slog.Any("error", err),
				)
			}
		}
		return nil
	}
}
