// Package middleware authenticates dashboard requests.
package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/smorand/team-slides-dashboard/internal/session"
)

type contextKey string

const (
	// UsernameContextKey is the context key for the signed-in username.
	UsernameContextKey contextKey = "username"
	// SessionTokenContextKey is the context key for the session token.
	SessionTokenContextKey contextKey = "session_token"
)

// SessionCookieName is the cookie that carries the session token for browsers.
const SessionCookieName = "session"

// Sentinel errors for session extraction.
var (
	ErrMissingSession    = errors.New("missing session token")
	ErrInvalidAuthHeader = errors.New("invalid Authorization header format")
	ErrInvalidSession    = errors.New("invalid or expired session")
)

// SessionConfig holds configuration for the session middleware.
type SessionConfig struct {
	Store  session.Store
	Logger *slog.Logger
}

// Session resolves the session token of each request into a username.
type Session struct {
	config SessionConfig
}

// NewSession creates a session middleware.
func NewSession(config SessionConfig) *Session {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Session{config: config}
}

// Middleware rejects requests without a valid session and stores the username in the context.
func (m *Session) Middleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, err := ExtractToken(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}

		username, err := m.config.Store.Get(r.Context(), token)
		if err != nil {
			if errors.Is(err, session.ErrNotFound) {
				writeError(w, http.StatusUnauthorized, ErrInvalidSession.Error())
				return
			}
			m.config.Logger.Error("failed to resolve session", slog.Any("error", err))
			writeError(w, http.StatusServiceUnavailable, "session store unavailable")
			return
		}

		next(w, r.WithContext(WithSession(r.Context(), username, token)))
	}
}

// ExtractToken reads the bearer token, falling back to the session cookie.
func ExtractToken(r *http.Request) (string, error) {
	if header := r.Header.Get("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			return "", ErrInvalidAuthHeader
		}
		token := strings.TrimSpace(parts[1])
		if token == "" {
			return "", ErrInvalidAuthHeader
		}
		return token, nil
	}

	if cookie, err := r.Cookie(SessionCookieName); err == nil && cookie.Value != "" {
		return cookie.Value, nil
	}
	return "", ErrMissingSession
}

// WithSession returns ctx carrying username and token.
func WithSession(ctx context.Context, username, token string) context.Context {
	ctx = context.WithValue(ctx, UsernameContextKey, username)
	return context.WithValue(ctx, SessionTokenContextKey, token)
}

// GetUsername retrieves the signed-in username from the request context.
func GetUsername(ctx context.Context) (string, bool) {
	username, ok := ctx.Value(UsernameContextKey).(string)
	return username, ok && username != ""
}

// GetSessionToken retrieves the session token from the request context.
func GetSessionToken(ctx context.Context) string {
	token, _ := ctx.Value(SessionTokenContextKey).(string)
	return token
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
	})
}
