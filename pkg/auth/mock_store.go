package auth

import (
	"sort"
	"sync"
)

// MockStore is an in-memory CredentialStore. StoreErr and ListErr, when
// set, are returned by the matching call so tests can exercise the manager's
// multi-store fallbacks.
type MockStore struct {
	mu       sync.RWMutex
	byName   map[string]Account
	StoreErr error
	ListErr  error
}

// NewMockStore creates an empty store
func NewMockStore() *MockStore {
	return &MockStore{byName: make(map[string]Account)}
}

func (m *MockStore) Store(account *Account) error {
	if m.StoreErr != nil {
		return m.StoreErr
	}
	if account == nil || account.Username == "" {
		return ErrInvalidCredentials
	}
	m.mu.Lock()
	m.byName[account.Username] = *account
	m.mu.Unlock()
	return nil
}

func (m *MockStore) Retrieve(username string) (*Account, error) {
	m.mu.RLock()
	account, ok := m.byName[username]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrCredentialsNotFound
	}
	return &account, nil
}

// List returns the stored accounts ordered by username
func (m *MockStore) List() ([]*Account, error) {
	if m.ListErr != nil {
		return nil, m.ListErr
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Account, 0, len(m.byName))
	for name := range m.byName {
		account := m.byName[name]
		out = append(out, &account)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}

func (m *MockStore) Delete(username string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byName[username]; !ok {
		return ErrCredentialsNotFound
	}
	delete(m.byName, username)
	return nil
}

// Exists reports whether username is stored
func (m *MockStore) Exists(username string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.byName[username]
	return ok
}

// NewMockManager returns a Manager backed only by a fresh MockStore
func NewMockManager(proxies ...string) (*Manager, *MockStore) {
	store := NewMockStore()
	return NewManagerWithStores(proxies, store), store
}
