package auth

import (
	"os"
	"time"

	"harvester/pkg/models"
)

const environmentUsername = "env"

// EnvironmentStore exposes a single read-only account taken from
// HARVESTER_AUTH_TOKEN and HARVESTER_CT0
type EnvironmentStore struct{}

// NewEnvironmentStore creates a new environment-based credential store
func NewEnvironmentStore() *EnvironmentStore {
	return &EnvironmentStore{}
}

// Store is not supported for environment variables
func (e *EnvironmentStore) Store(account *Account) error {
	return ErrStoreUnavailable
}

// Retrieve gets credentials from environment variables
func (e *EnvironmentStore) Retrieve(username string) (*Account, error) {
	authToken := os.Getenv("HARVESTER_AUTH_TOKEN")
	csrfToken := os.Getenv("HARVESTER_CT0")

	if authToken == "" || csrfToken == "" {
		return nil, ErrCredentialsNotFound
	}
	if username != "" && username != environmentUsername {
		return nil, ErrCredentialsNotFound
	}

	return &Account{
		Username:  environmentUsername,
		AuthToken: authToken,
		CSRFToken: csrfToken,
		Proxy:     os.Getenv("HARVESTER_PROXY"),
		UserAgent: os.Getenv("HARVESTER_USER_AGENT"),
		Status:    models.AccountValid,
		// Oldest possible so any stored copy wins the merge
		LastModified: time.Time{},
	}, nil
}

// List returns a single account if environment variables are set
func (e *EnvironmentStore) List() ([]*Account, error) {
	account, err := e.Retrieve("")
	if err != nil {
		return []*Account{}, nil
	}
	return []*Account{account}, nil
}

// Delete is not supported for environment variables
func (e *EnvironmentStore) Delete(username string) error {
	return ErrStoreUnavailable
}

// Exists checks if environment credentials exist
func (e *EnvironmentStore) Exists(username string) bool {
	_, err := e.Retrieve(username)
	return err == nil
}
