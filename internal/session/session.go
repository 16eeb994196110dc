// Package session keeps dashboard login sessions keyed by opaque tokens.
package session

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/smorand/team-slides-dashboard/internal/cache"
)

// ErrNotFound is returned for unknown or expired session tokens.
var ErrNotFound = errors.New("session not found")

// DefaultTTL is the lifetime of a session.
const DefaultTTL = 12 * time.Hour

// Store creates, resolves and ends sessions.
type Store interface {
	Create(ctx context.Context, username string) (string, error)
	Get(ctx context.Context, token string) (string, error)
	Delete(ctx context.Context, token string) error
}

func newToken() string {
	return uuid.NewString()
}

// MemoryConfig configures a MemoryStore.
type MemoryConfig struct {
	TTL        time.Duration
	MaxEntries int
	Logger     *slog.Logger
	Now        func() time.Time
}

// MemoryStore keeps sessions in a process-local LRU.
type MemoryStore struct {
	sessions *cache.LRU[string]
}

// NewMemoryStore creates a MemoryStore.
func NewMemoryStore(config MemoryConfig) *MemoryStore {
	if config.TTL <= 0 {
		config.TTL = DefaultTTL
	}
	if config.MaxEntries <= 0 {
		config.MaxEntries = 10000
	}
	return &MemoryStore{
		sessions: cache.New[string](cache.Config{
			Name:       "sessions",
			MaxEntries: config.MaxEntries,
			DefaultTTL: config.TTL,
			Logger:     config.Logger,
			Now:        config.Now,
		}),
	}
}

// Create starts a session for username.
func (s *MemoryStore) Create(ctx context.Context, username string) (string, error) {
	token := newToken()
	s.sessions.Set(token, username)
	return token, nil
}

// Get returns the username of token.
func (s *MemoryStore) Get(ctx context.Context, token string) (string, error) {
	username, ok := s.sessions.Get(token)
	if !ok {
		return "", ErrNotFound
	}
	return username, nil
}

// Delete ends the session of token.
func (s *MemoryStore) Delete(ctx context.Context, token string) error {
	s.sessions.Delete(token)
	return nil
}

// Cleanup drops expired sessions and returns how many were removed.
func (s *MemoryStore) Cleanup() int {
	return s.sessions.Cleanup()
}

var _ Store = (*MemoryStore)(nil)
