package auth

import (
	"time"

	"igcomments/pkg/config"
)

// EnvironmentStore exposes the IG_* environment variables as a read-only
// account named "env"
type EnvironmentStore struct{}

// EnvAccountName is the name the environment account is listed under
const EnvAccountName = "env"

// NewEnvironmentStore creates a new environment-based credential store
func NewEnvironmentStore() *EnvironmentStore {
	return &EnvironmentStore{}
}

// Store is not supported for environment variables
func (e *EnvironmentStore) Store(account *Account) error {
	return ErrStoreUnavailable
}

// Retrieve returns the environment account. Any name is accepted since the
// environment holds a single session.
func (e *EnvironmentStore) Retrieve(name string) (*Account, error) {
	env := config.AuthFromEnv()
	if name == "" {
		name = EnvAccountName
	}
	account := &Account{
		Name:         name,
		Cookies:      env.Cookies,
		Headers:      env.Headers,
		LastModified: time.Now(),
	}
	if err := account.Validate(); err != nil {
		return nil, ErrCredentialsNotFound
	}
	return account, nil
}

// List returns a single account if the environment holds a session
func (e *EnvironmentStore) List() ([]*Account, error) {
	account, err := e.Retrieve("")
	if err != nil {
		return []*Account{}, nil
	}
	return []*Account{account}, nil
}

// Delete is not supported for environment variables
func (e *EnvironmentStore) Delete(name string) error {
	return ErrStoreUnavailable
}

// Exists checks if environment credentials exist
func (e *EnvironmentStore) Exists(name string) bool {
	_, err := e.Retrieve(name)
	return err == nil
}
