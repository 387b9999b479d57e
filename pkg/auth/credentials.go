package auth

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"time"

	"harvester/pkg/config"
	"harvester/pkg/models"
)

// Account holds the session credentials of one scraping identity
type Account struct {
	Username     string               `json:"username"`
	AuthToken    string               `json:"auth_token"`
	CSRFToken    string               `json:"csrf_token"`
	Proxy        string               `json:"proxy,omitempty"`
	UserAgent    string               `json:"user_agent,omitempty"`
	Status       models.AccountStatus `json:"status"`
	LastModified time.Time            `json:"last_modified"`
}

// CredentialStore is the interface for storing and retrieving credentials
type CredentialStore interface {
	// Store saves credentials for a given account
	Store(account *Account) error

	// Retrieve gets credentials for a specific username
	Retrieve(username string) (*Account, error)

	// List returns all stored accounts
	List() ([]*Account, error)

	// Delete removes credentials for a specific username
	Delete(username string) error

	// Exists checks if credentials exist for a username
	Exists(username string) bool
}

// Manager handles credential storage with fallback mechanisms
type Manager struct {
	stores  []CredentialStore
	proxies []string
	now     func() time.Time
}

// NewManager creates a credential manager from the accounts config. The
// keyring is tried first when enabled, then the encrypted file, then the
// environment.
func NewManager(cfg *config.AccountsConfig, passphrase string) (*Manager, error) {
	var stores []CredentialStore

	if cfg.UseKeyring {
		if keyringStore, err := NewKeyringStore(); err == nil {
			stores = append(stores, keyringStore)
		}
	}

	path, err := CredentialsPath(cfg)
	if err != nil {
		return nil, err
	}

	encryptedStore, err := NewEncryptedFileStore(path, passphrase)
	if err != nil {
		return nil, fmt.Errorf("failed to create encrypted store: %w", err)
	}
	stores = append(stores, encryptedStore)

	stores = append(stores, NewEnvironmentStore())

	return NewManagerWithStores(cfg.Proxies, stores...), nil
}

// NewManagerWithStores creates a manager over explicit stores
func NewManagerWithStores(proxies []string, stores ...CredentialStore) *Manager {
	return &Manager{
		stores:  stores,
		proxies: proxies,
		now:     time.Now,
	}
}

// Store saves credentials using the first available store
func (m *Manager) Store(account *Account) error {
	if account.Username == "" {
		return errors.New("username is required")
	}
	if account.AuthToken == "" {
		return errors.New("auth token is required")
	}
	if account.CSRFToken == "" {
		return errors.New("CSRF token is required")
	}
	if account.Status == "" {
		account.Status = models.AccountValid
	}

	account.LastModified = m.now()

	var lastErr error
	for _, store := range m.stores {
		if err := store.Store(account); err == nil {
			return nil
		} else {
			lastErr = err
		}
	}

	if lastErr != nil {
		return fmt.Errorf("failed to store credentials: %w", lastErr)
	}
	return errors.New("no available credential stores")
}

// Retrieve gets credentials from the first store that has them
func (m *Manager) Retrieve(username string) (*Account, error) {
	for _, store := range m.stores {
		if account, err := store.Retrieve(username); err == nil && account != nil {
			return account, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrCredentialsNotFound, username)
}

// List returns all stored accounts from all stores, sorted by username
func (m *Manager) List() ([]*Account, error) {
	accountMap := make(map[string]*Account)

	for _, store := range m.stores {
		accounts, err := store.List()
		if err != nil {
			continue
		}
		for _, account := range accounts {
			// Use the most recently modified version
			if existing, ok := accountMap[account.Username]; !ok || account.LastModified.After(existing.LastModified) {
				accountMap[account.Username] = account
			}
		}
	}

	result := make([]*Account, 0, len(accountMap))
	for _, account := range accountMap {
		result = append(result, account)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Username < result[j].Username })

	return result, nil
}

// Delete removes credentials from all stores
func (m *Manager) Delete(username string) error {
	var deleted bool
	var lastErr error

	for _, store := range m.stores {
		if err := store.Delete(username); err == nil {
			deleted = true
		} else {
			lastErr = err
		}
	}

	if !deleted && lastErr != nil {
		return fmt.Errorf("failed to delete credentials: %w", lastErr)
	}
	if !deleted {
		return fmt.Errorf("%w: %s", ErrCredentialsNotFound, username)
	}

	return nil
}

// Accounts returns every stored identity as the account pool sees it.
// Proxies from config fill in accounts that have none.
func (m *Manager) Accounts(ctx context.Context) ([]*models.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	creds, err := m.List()
	if err != nil {
		return nil, err
	}
	AssignProxy(creds, m.proxies)

	out := make([]*models.Account, 0, len(creds))
	for _, c := range creds {
		out = append(out, c.toModel())
	}
	return out, nil
}

// MarkExpired records that the account's session was rejected. Every
// writable store that holds the account is updated.
func (m *Manager) MarkExpired(ctx context.Context, username string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var updated bool
	var lastErr error
	for _, store := range m.stores {
		account, err := store.Retrieve(username)
		if err != nil || account == nil {
			continue
		}
		account.Status = models.AccountExpired
		account.LastModified = m.now()
		if err := store.Store(account); err != nil {
			if !errors.Is(err, ErrStoreUnavailable) {
				lastErr = err
			}
			continue
		}
		updated = true
	}

	if !updated && lastErr != nil {
		return fmt.Errorf("failed to mark %s expired: %w", username, lastErr)
	}
	return nil
}

func (a *Account) toModel() *models.Account {
	status := a.Status
	if status == "" {
		status = models.AccountValid
	}
	return &models.Account{
		ID:        a.Username,
		Status:    status,
		AuthToken: a.AuthToken,
		CSRFToken: a.CSRFToken,
		Proxy:     a.Proxy,
		UserAgent: a.UserAgent,
	}
}

// AssignProxy gives each account without a proxy one from proxies,
// round-robin by the account's position in sorted username order.
func AssignProxy(accounts []*Account, proxies []string) {
	if len(proxies) == 0 {
		return
	}
	sorted := make([]*Account, len(accounts))
	copy(sorted, accounts)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Username < sorted[j].Username })

	for i, account := range sorted {
		if account.Proxy == "" {
			account.Proxy = ProxyFor(i, proxies)
		}
	}
}

// CredentialsPath is the encrypted credentials file for cfg
func CredentialsPath(cfg *config.AccountsConfig) (string, error) {
	if cfg.CredentialsFile != "" {
		return cfg.CredentialsFile, nil
	}
	configDir, err := getConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to get config directory: %w", err)
	}
	return filepath.Join(configDir, "credentials.enc"), nil
}

// getConfigDir returns the configuration directory path
func getConfigDir() (string, error) {
	var configDir string

	switch runtime.GOOS {
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		configDir = filepath.Join(home, "Library", "Application Support", "harvester")
	case "windows":
		configDir = filepath.Join(os.Getenv("APPDATA"), "harvester")
	default:
		if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
			configDir = filepath.Join(xdgConfig, "harvester")
		} else {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", err
			}
			configDir = filepath.Join(home, ".config", "harvester")
		}
	}

	if err := os.MkdirAll(configDir, 0700); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}

	return configDir, nil
}

// SanitizeAccount creates a copy of the account with sensitive data masked
func SanitizeAccount(account *Account) *Account {
	if account == nil {
		return nil
	}

	out := *account
	out.AuthToken = maskString(account.AuthToken)
	out.CSRFToken = maskString(account.CSRFToken)
	return &out
}

// maskString masks all but the first 4 and last 4 characters of a string
func maskString(s string) string {
	if len(s) <= 8 {
		return "********"
	}
	return s[:4] + "..." + s[len(s)-4:]
}

// Errors
var (
	ErrCredentialsNotFound = errors.New("credentials not found")
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrStoreUnavailable    = errors.New("credential store unavailable")
)
