// Package store persists the shared dashboard state.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/smorand/team-slides-dashboard/internal/state"
)

// Sentinel errors for store operations.
var (
	ErrPersistence = errors.New("persistence error")
)

// DefaultPath is the state file used when none is configured.
const DefaultPath = "shared_slides_db.json"

// DefaultAdminPassword is the bootstrap admin password.
const DefaultAdminPassword = "admin123"

// Store loads and saves the whole shared state.
type Store interface {
	// Load always returns a usable state. On a read or decode failure the bootstrap default is
	// returned together with an error wrapping ErrPersistence.
	Load(ctx context.Context) (*state.SharedState, error)
	// Save replaces the persisted state with s.
	Save(ctx context.Context, s *state.SharedState) error
}

// FileStoreConfig holds configuration for FileStore.
type FileStoreConfig struct {
	Path          string
	AdminPassword string
	HashCost      int
	Logger        *slog.Logger
}

// FileStore keeps the shared state in a single JSON document on the local filesystem.
type FileStore struct {
	path      string
	adminHash string
	logger    *slog.Logger

	// serializes writers inside this process
	mu sync.Mutex
}

// NewFileStore creates a FileStore. The bootstrap admin password is hashed once here.
func NewFileStore(config FileStoreConfig) (*FileStore, error) {
	if config.Path == "" {
		config.Path = DefaultPath
	}
	if config.AdminPassword == "" {
		config.AdminPassword = DefaultAdminPassword
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	hash, err := state.HashPassword(config.AdminPassword, config.HashCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash bootstrap password: %w", err)
	}

	return &FileStore{
		path:      config.Path,
		adminHash: hash,
		logger:    config.Logger,
	}, nil
}

// Path returns the state file path.
func (s *FileStore) Path() string {
	return s.path
}

// Load reads the state file. A missing file yields the bootstrap default and no error.
func (s *FileStore) Load(ctx context.Context) (*state.SharedState, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			s.logger.Debug("state file not found, using default state", slog.String("path", s.path))
			return state.Default(s.adminHash), nil
		}
		return state.Default(s.adminHash), fmt.Errorf("%w: failed to read %s: %v", ErrPersistence, s.path, err)
	}

	st, err := Decode(data, s.adminHash)
	if err != nil {
		return state.Default(s.adminHash), fmt.Errorf("%w: failed to decode %s: %v", ErrPersistence, s.path, err)
	}

	s.logger.Debug("state loaded",
		slog.String("path", s.path),
		slog.Int("users", len(st.Users)),
		slog.Int("slides", len(st.Slides)),
		slog.Int("activities", len(st.Activities)),
	)
	return st, nil
}

// Save writes the state atomically: temp file in the same directory, fsync, rename.
func (s *FileStore) Save(ctx context.Context, st *state.SharedState) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: failed to encode state: %v", ErrPersistence, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := writeFileAtomic(s.path, data); err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return nil
}

// Decode parses a state document. Missing top-level keys are defaulted; a missing users key
// gets the bootstrap admin.
func Decode(data []byte, adminHash string) (*state.SharedState, error) {
	var st state.SharedState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, err
	}
	if st.Users == nil {
		st.Users = state.Default(adminHash).Users
	}
	st.Normalize()
	return &st, nil
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		// no-op after a successful rename
		_ = os.Remove(tmpPath)
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		return fmt.Errorf("failed to chmod temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

// WriteFileAtomic exposes the atomic write used by Save for other file-backed stores.
func WriteFileAtomic(path string, data []byte) error {
	return writeFileAtomic(path, data)
}
