package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/smorand/team-slides-dashboard/internal/state"
)

// ErrNotConnected is returned when a user has not connected a usable Google account.
var ErrNotConnected = errors.New("google account not connected")

const tokenSaveTimeout = 5 * time.Second

// ActivityRecorder appends entries to the shared activity log.
type ActivityRecorder interface {
	RecordActivity(ctx context.Context, username string, action state.Action, details string) error
}

// CredentialsConfig configures a Credentials provider.
type CredentialsConfig struct {
	OAuth    OAuthConfig
	Store    TokenStore
	Recorder ActivityRecorder
	Logger   *slog.Logger
}

// Credentials hands out Google token sources for dashboard users.
type Credentials struct {
	oauth    *oauth2.Config
	store    TokenStore
	recorder ActivityRecorder
	logger   *slog.Logger
}

// NewCredentials creates a Credentials provider.
func NewCredentials(config CredentialsConfig) *Credentials {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Credentials{
		oauth:    config.OAuth.OAuth2(),
		store:    config.Store,
		recorder: config.Recorder,
		logger:   config.Logger,
	}
}

// TokenSource returns an auto-refreshing token source for username. Refreshed tokens are
// written back to the store.
func (c *Credentials) TokenSource(ctx context.Context, username string) (oauth2.TokenSource, error) {
	record, err := c.store.Get(ctx, username)
	if errors.Is(err, ErrTokenNotFound) {
		return nil, ErrNotConnected
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load token: %w", err)
	}

	token := record.Token()
	if token.RefreshToken == "" && !token.Valid() {
		return nil, fmt.Errorf("%w: token expired and cannot be refreshed", ErrNotConnected)
	}

	return &persistingTokenSource{
		base:     c.oauth.TokenSource(ctx, token),
		store:    c.store,
		username: username,
		last:     token.AccessToken,
		logger:   c.logger,
	}, nil
}

// Connected reports whether username has a stored token.
func (c *Credentials) Connected(ctx context.Context, username string) (bool, error) {
	return c.store.Exists(ctx, username)
}

// Disconnect drops the stored token of username and records the change.
func (c *Credentials) Disconnect(ctx context.Context, username string) error {
	connected, err := c.store.Exists(ctx, username)
	if err != nil {
		return fmt.Errorf("failed to check token: %w", err)
	}
	if !connected {
		return ErrNotConnected
	}
	if err := c.store.Delete(ctx, username); err != nil {
		return fmt.Errorf("failed to delete token: %w", err)
	}

	c.logger.Info("google account disconnected", slog.String("username", username))
	if c.recorder != nil {
		if err := c.recorder.RecordActivity(ctx, username, state.ActionGoogleDisconnect, "Disconnected Google"); err != nil {
			return err
		}
	}
	return nil
}

// persistingTokenSource saves every newly minted access token.
type persistingTokenSource struct {
	base     oauth2.TokenSource
	store    TokenStore
	username string
	logger   *slog.Logger

	mu   sync.Mutex
	last string
}

func (s *persistingTokenSource) Token() (*oauth2.Token, error) {
	token, err := s.base.Token()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if token.AccessToken == s.last {
		return token, nil
	}
	s.last = token.AccessToken

	ctx, cancel := context.WithTimeout(context.Background(), tokenSaveTimeout)
	defer cancel()
	if err := s.store.Store(ctx, NewTokenRecord(s.username, token)); err != nil {
		s.logger.Warn("failed to persist refreshed token",
			slog.String("username", s.username),
			slog.Any("error", err),
		)
	} else {
		s.logger.Debug("refreshed token persisted", slog.String("username", s.username))
	}
	return token, nil
}
