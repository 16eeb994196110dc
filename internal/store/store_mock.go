package store

import (
	"context"
	"sync"

	"github.com/smorand/team-slides-dashboard/internal/state"
)

// MockStore is an in-memory implementation of Store for testing.
type MockStore struct {
	mu    sync.Mutex
	saved *state.SharedState

	// Track method calls for assertions
	LoadCalls int
	SaveCalls int

	// Optional error injection for testing error paths
	LoadError error
	SaveError error
}

// NewMockStore creates a MockStore. A nil initial state behaves like a missing file.
func NewMockStore(initial *state.SharedState) *MockStore {
	m := &MockStore{}
	if initial != nil {
		m.saved = initial.Clone()
	}
	return m
}

// Load returns a copy of the last saved state, or an empty default with an "admin" user.
func (m *MockStore) Load(ctx context.Context) (*state.SharedState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.LoadCalls++

	if m.LoadError != nil {
		return state.Default(""), m.LoadError
	}
	if m.saved == nil {
		return state.Default(""), nil
	}
	return m.saved.Clone(), nil
}

// Save stores a copy of s.
func (m *MockStore) Save(ctx context.Context, s *state.SharedState) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.SaveCalls++

	if m.SaveError != nil {
		return m.SaveError
	}
	m.saved = s.Clone()
	return nil
}

// Snapshot returns a copy of the persisted state, or nil if nothing was saved.
func (m *MockStore) Snapshot() *state.SharedState {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saved == nil {
		return nil
	}
	return m.saved.Clone()
}

// Mutate applies fn to the persisted state, simulating another process writing the file.
func (m *MockStore) Mutate(fn func(s *state.SharedState)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saved == nil {
		m.saved = state.Default("")
	}
	fn(m.saved)
}
