package auth

import (
	"context"
	"sync"
)

// MockTokenStore is an in-memory TokenStore for testing.
type MockTokenStore struct {
	records map[string]*TokenRecord
	mu      sync.RWMutex

	StoreCalls  int
	GetCalls    int
	DeleteCalls int
	ExistsCalls int

	StoreError  error
	GetError    error
	DeleteError error
	ExistsError error
}

// NewMockTokenStore creates a new MockTokenStore.
func NewMockTokenStore() *MockTokenStore {
	return &MockTokenStore{
		records: make(map[string]*TokenRecord),
	}
}

// Store stores a copy of record.
func (m *MockTokenStore) Store(ctx context.Context, record *TokenRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.StoreCalls++
	if m.StoreError != nil {
		return m.StoreError
	}

	recordCopy := *record
	m.records[record.Username] = &recordCopy
	return nil
}

// Get returns a copy of the record of username.
func (m *MockTokenStore) Get(ctx context.Context, username string) (*TokenRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.GetCalls++
	if m.GetError != nil {
		return nil, m.GetError
	}

	record, ok := m.records[username]
	if !ok {
		return nil, ErrTokenNotFound
	}
	recordCopy := *record
	return &recordCopy, nil
}

// Delete removes the record of username.
func (m *MockTokenStore) Delete(ctx context.Context, username string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.DeleteCalls++
	if m.DeleteError != nil {
		return m.DeleteError
	}

	delete(m.records, username)
	return nil
}

// Exists reports whether username has a record.
func (m *MockTokenStore) Exists(ctx context.Context, username string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ExistsCalls++
	if m.ExistsError != nil {
		return false, m.ExistsError
	}

	_, ok := m.records[username]
	return ok, nil
}

// Close is a no-op for the mock.
func (m *MockTokenStore) Close() error {
	return nil
}

// Len returns the number of stored records.
func (m *MockTokenStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

var _ TokenStore = (*MockTokenStore)(nil)
