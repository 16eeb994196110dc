package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"

	"github.com/smorand/team-slides-dashboard/internal/store"
)

// FileTokenStore keeps every user's token in one JSON file. It suits single-process setups
// that run without Firestore.
type FileTokenStore struct {
	path string
	mu   sync.Mutex
}

// NewFileTokenStore creates a FileTokenStore backed by path.
func NewFileTokenStore(path string) *FileTokenStore {
	return &FileTokenStore{path: path}
}

func (s *FileTokenStore) readLocked() (map[string]*TokenRecord, error) {
	records := make(map[string]*TokenRecord)
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return records, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read token file: %w", err)
	}
	if len(data) == 0 {
		return records, nil
	}
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("failed to decode token file: %w", err)
	}
	return records, nil
}

func (s *FileTokenStore) writeLocked(records map[string]*TokenRecord) error {
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode token file: %w", err)
	}
	if err := store.WriteFileAtomic(s.path, data); err != nil {
		return fmt.Errorf("failed to write token file: %w", err)
	}
	return nil
}

// Store writes record, replacing any previous token for the same user.
func (s *FileTokenStore) Store(ctx context.Context, record *TokenRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.readLocked()
	if err != nil {
		return err
	}
	recordCopy := *record
	records[record.Username] = &recordCopy
	return s.writeLocked(records)
}

// Get returns the token of username or ErrTokenNotFound.
func (s *FileTokenStore) Get(ctx context.Context, username string) (*TokenRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.readLocked()
	if err != nil {
		return nil, err
	}
	record, ok := records[username]
	if !ok || record == nil {
		return nil, ErrTokenNotFound
	}
	record.Username = username
	return record, nil
}

// Delete removes the token of username.
func (s *FileTokenStore) Delete(ctx context.Context, username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.readLocked()
	if err != nil {
		return err
	}
	if _, ok := records[username]; !ok {
		return nil
	}
	delete(records, username)
	return s.writeLocked(records)
}

// Exists reports whether username has a stored token.
func (s *FileTokenStore) Exists(ctx context.Context, username string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.readLocked()
	if err != nil {
		return false, err
	}
	_, ok := records[username]
	return ok, nil
}

// Close is a no-op.
func (s *FileTokenStore) Close() error {
	return nil
}

var _ TokenStore = (*FileTokenStore)(nil)
