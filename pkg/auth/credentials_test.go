package auth

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"

	"harvester/pkg/config"
	"harvester/pkg/models"
)

func testAccount(name string) *Account {
	return &Account{
		Username:  name,
		AuthToken: "auth_token_" + name + "_12345",
		CSRFToken: "ct0_" + name + "_67890",
		UserAgent: "TestAgent/1.0",
	}
}

func TestCredentialManager(t *testing.T) {
	manager, mockStore := NewMockManager()

	account := testAccount("alice")
	if err := manager.Store(account); err != nil {
		t.Fatalf("Failed to store account: %v", err)
	}
	if account.Status != models.AccountValid {
		t.Errorf("Expected default status valid, got %s", account.Status)
	}

	retrieved, err := manager.Retrieve("alice")
	if err != nil {
		t.Fatalf("Failed to retrieve account: %v", err)
	}
	if retrieved.AuthToken != account.AuthToken || retrieved.CSRFToken != account.CSRFToken {
		t.Errorf("Token mismatch: got %+v", retrieved)
	}

	sanitized := SanitizeAccount(account)
	if sanitized.AuthToken == account.AuthToken || sanitized.CSRFToken == account.CSRFToken {
		t.Error("Tokens should be masked")
	}
	if sanitized.Username != account.Username {
		t.Error("Username should not be masked")
	}

	if err := manager.Delete("alice"); err != nil {
		t.Fatalf("Failed to delete account: %v", err)
	}
	if _, err := manager.Retrieve("alice"); !errors.Is(err, ErrCredentialsNotFound) {
		t.Errorf("Expected ErrCredentialsNotFound, got %v", err)
	}
	if left, _ := mockStore.List(); len(left) != 0 {
		t.Errorf("Expected 0 accounts after deletion, got %d", len(left))
	}
}

func TestManagerStoreValidation(t *testing.T) {
	manager, _ := NewMockManager()

	tests := []struct {
		name    string
		account *Account
	}{
		{"missing username", &Account{AuthToken: "a", CSRFToken: "b"}},
		{"missing auth token", &Account{Username: "u", CSRFToken: "b"}},
		{"missing csrf token", &Account{Username: "u", AuthToken: "a"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, manager.Store(tt.account))
		})
	}
}

func TestManagerListMergesStores(t *testing.T) {
	older := NewMockStore()
	newer := NewMockStore()

	stale := testAccount("bob")
	stale.LastModified = time.Now().Add(-time.Hour)
	stale.AuthToken = "old"
	require.NoError(t, older.Store(stale))

	fresh := testAccount("bob")
	fresh.LastModified = time.Now()
	require.NoError(t, newer.Store(fresh))
	require.NoError(t, newer.Store(testAccount("alice")))

	manager := NewManagerWithStores(nil, older, newer)
	accounts, err := manager.List()
	require.NoError(t, err)
	require.Len(t, accounts, 2)
	assert.Equal(t, "alice", accounts[0].Username)
	assert.Equal(t, fresh.AuthToken, accounts[1].AuthToken)
}

func TestManagerAccountsAndMarkExpired(t *testing.T) {
	ctx := context.Background()
	manager, store := NewMockManager("http://p1:8080", "http://p2:8080")

	for _, name := range []string{"carol", "alice", "bob"} {
		require.NoError(t, manager.Store(testAccount(name)))
	}

	accounts, err := manager.Accounts(ctx)
	require.NoError(t, err)
	require.Len(t, accounts, 3)
	assert.Equal(t, "alice", accounts[0].ID)
	assert.Equal(t, "http://p1:8080", accounts[0].Proxy)
	assert.Equal(t, "http://p2:8080", accounts[1].Proxy)
	assert.Equal(t, "http://p1:8080", accounts[2].Proxy)
	assert.Equal(t, models.AccountValid, accounts[0].Status)
	assert.NotEmpty(t, accounts[0].AuthToken)

	require.NoError(t, manager.MarkExpired(ctx, "bob"))
	bob, err := store.Retrieve("bob")
	require.NoError(t, err)
	assert.Equal(t, models.AccountExpired, bob.Status)

	accounts, err = manager.Accounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.AccountExpired, accounts[1].Status)

	// unknown accounts are not an error
	assert.NoError(t, manager.MarkExpired(ctx, "nobody"))
}

func TestMarkExpiredReportsStoreFailure(t *testing.T) {
	manager, store := NewMockManager()
	require.NoError(t, manager.Store(testAccount("alice")))

	store.StoreErr = errors.New("disk full")
	err := manager.MarkExpired(context.Background(), "alice")
	assert.Error(t, err)
}

func TestEncryptedFileStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.enc")

	store, err := NewEncryptedFileStore(path, "correct horse battery staple")
	require.NoError(t, err)

	account := testAccount("alice")
	require.NoError(t, store.Store(account))
	assert.True(t, store.Exists("alice"))

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	if bytes.Contains(content, []byte(account.AuthToken)) {
		t.Error("auth token stored in plain text")
	}

	// a second store with the same passphrase reads it back
	reopened, err := NewEncryptedFileStore(path, "correct horse battery staple")
	require.NoError(t, err)
	got, err := reopened.Retrieve("alice")
	require.NoError(t, err)
	assert.Equal(t, account.AuthToken, got.AuthToken)

	wrong, err := NewEncryptedFileStore(path, "wrong")
	require.NoError(t, err)
	_, err = wrong.Retrieve("alice")
	assert.Error(t, err)

	require.NoError(t, store.Delete("alice"))
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err), "file removed with the last account")
	assert.ErrorIs(t, store.Delete("alice"), ErrCredentialsNotFound)
}

func TestEncryptedFileStoreGeneratedPassphrase(t *testing.T) {
	t.Setenv("HARVESTER_PASSPHRASE", "")
	path := filepath.Join(t.TempDir(), "credentials.enc")

	assert.False(t, HasPassphrase(path))
	store, err := NewEncryptedFileStore(path, "")
	require.NoError(t, err)
	require.NoError(t, store.Store(testAccount("alice")))
	assert.True(t, HasPassphrase(path))

	again, err := NewEncryptedFileStore(path, "")
	require.NoError(t, err)
	_, err = again.Retrieve("alice")
	assert.NoError(t, err)
}

func TestEnvironmentStore(t *testing.T) {
	t.Setenv("HARVESTER_AUTH_TOKEN", "")
	t.Setenv("HARVESTER_CT0", "")

	store := NewEnvironmentStore()
	accounts, err := store.List()
	require.NoError(t, err)
	assert.Empty(t, accounts)

	t.Setenv("HARVESTER_AUTH_TOKEN", "env_auth")
	t.Setenv("HARVESTER_CT0", "env_ct0")

	account, err := store.Retrieve("")
	require.NoError(t, err)
	assert.Equal(t, "env", account.Username)
	assert.Equal(t, "env_auth", account.AuthToken)
	assert.True(t, store.Exists("env"))
	assert.False(t, store.Exists("someone"))

	assert.ErrorIs(t, store.Store(account), ErrStoreUnavailable)
	assert.ErrorIs(t, store.Delete("env"), ErrStoreUnavailable)
}

func TestKeyringStore(t *testing.T) {
	keyring.MockInit()

	store, err := NewKeyringStore()
	require.NoError(t, err)

	require.NoError(t, store.Store(testAccount("bob")))
	require.NoError(t, store.Store(testAccount("alice")))
	require.NoError(t, store.Store(testAccount("bob")))

	accounts, err := store.List()
	require.NoError(t, err)
	require.Len(t, accounts, 2)
	assert.Equal(t, "alice", accounts[0].Username)

	require.NoError(t, store.Delete("alice"))
	assert.False(t, store.Exists("alice"))
	accounts, err = store.List()
	require.NoError(t, err)
	assert.Len(t, accounts, 1)
	assert.ErrorIs(t, store.Delete("alice"), ErrCredentialsNotFound)
}

func TestNewManagerFromConfig(t *testing.T) {
	keyring.MockInit()
	t.Setenv("HARVESTER_AUTH_TOKEN", "")
	t.Setenv("HARVESTER_CT0", "")

	cfg := &config.AccountsConfig{
		CredentialsFile: filepath.Join(t.TempDir(), "creds.enc"),
		UseKeyring:      false,
	}
	manager, err := NewManager(cfg, "secret")
	require.NoError(t, err)

	require.NoError(t, manager.Store(testAccount("alice")))
	accounts, err := manager.Accounts(context.Background())
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	assert.Equal(t, "alice", accounts[0].ID)
}

func TestMockStoreErrorInjection(t *testing.T) {
	store := NewMockStore()
	store.StoreErr = errors.New("store failed")
	store.ListErr = errors.New("list failed")

	assert.Error(t, store.Store(testAccount("alice")))
	_, err := store.List()
	assert.Error(t, err)

	// a failing store is skipped by the manager
	healthy := NewMockStore()
	require.NoError(t, healthy.Store(testAccount("bob")))
	accounts, err := NewManagerWithStores(nil, store, healthy).List()
	require.NoError(t, err)
	assert.Len(t, accounts, 1)
}
