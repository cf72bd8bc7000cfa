package auth

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"time"

	"igcomments/pkg/config"
)

// Account is a named authentication context: the cookies and headers
// captured from a logged-in browser session
type Account struct {
	Name         string            `json:"name"`
	Cookies      map[string]string `json:"cookies"`
	Headers      map[string]string `json:"headers,omitempty"`
	LastModified time.Time         `json:"last_modified"`
}

// Validate checks that the session cookies are present
func (a *Account) Validate() error {
	if a == nil || a.Name == "" {
		return errors.New("account name is required")
	}
	var missing []string
	for _, name := range config.RequiredCookies {
		if v := a.Cookies[name]; v == "" || strings.HasPrefix(v, "YOUR_") {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing cookies %s", ErrInvalidCredentials, strings.Join(missing, ", "))
	}
	return nil
}

// Apply merges the account into cfg. Values already set in cfg, for
// example from the environment, are kept.
func (a *Account) Apply(cfg *config.Config) {
	if a == nil || cfg == nil {
		return
	}
	auth := &cfg.Instagram.Auth
	if auth.Cookies == nil {
		auth.Cookies = map[string]string{}
	}
	if auth.Headers == nil {
		auth.Headers = map[string]string{}
	}
	for k, v := range a.Cookies {
		if cur := auth.Cookies[k]; cur == "" || strings.HasPrefix(cur, "YOUR_") {
			auth.Cookies[k] = v
		}
	}
	for k, v := range a.Headers {
		if cur := auth.Headers[k]; cur == "" || strings.HasPrefix(cur, "YOUR_") {
			auth.Headers[k] = v
		}
	}
}

// CredentialStore is the interface for storing and retrieving credentials
type CredentialStore interface {
	// Store saves credentials for a given account
	Store(account *Account) error

	// Retrieve gets credentials for a specific account name
	Retrieve(name string) (*Account, error)

	// List returns all stored accounts
	List() ([]*Account, error)

	// Delete removes credentials for a specific account name
	Delete(name string) error

	// Exists checks if credentials exist for an account name
	Exists(name string) bool
}

// Manager handles credential storage with fallback mechanisms
type Manager struct {
	stores []CredentialStore
}

// NewManager creates a credential manager backed by the system keychain
// when available, an encrypted file and finally the environment
func NewManager() (*Manager, error) {
	var stores []CredentialStore

	// Try keyring first (system keychain)
	if keyringStore, err := NewKeyringStore(); err == nil {
		stores = append(stores, keyringStore)
	}

	configDir, err := getConfigDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get config directory: %w", err)
	}

	encryptedStore, err := NewEncryptedFileStore(filepath.Join(configDir, "credentials.enc"))
	if err != nil {
		return nil, fmt.Errorf("failed to create encrypted store: %w", err)
	}
	stores = append(stores, encryptedStore)

	// Environment store as last resort
	stores = append(stores, NewEnvironmentStore())

	return &Manager{stores: stores}, nil
}

// NewManagerWithStores creates a Manager over explicit stores, in priority order
func NewManagerWithStores(stores ...CredentialStore) *Manager {
	return &Manager{stores: stores}
}

// Locations lists the writable stores, in priority order
func (m *Manager) Locations() []string {
	var out []string
	for _, store := range m.stores {
		switch s := store.(type) {
		case *KeyringStore:
			out = append(out, "system keychain")
		case *EncryptedFileStore:
			out = append(out, "encrypted file "+s.Path())
		}
	}
	return out
}

// Store validates the account and saves it in the first store that accepts it
func (m *Manager) Store(account *Account) error {
	if err := account.Validate(); err != nil {
		return err
	}
	account.LastModified = time.Now()

	var lastErr error
	for _, store := range m.stores {
		err := store.Store(account)
		if err == nil {
			return nil
		}
		lastErr = err
	}

	if lastErr != nil {
		return fmt.Errorf("failed to store credentials: %w", lastErr)
	}
	return ErrStoreUnavailable
}

// Retrieve gets credentials from the first store that has them
func (m *Manager) Retrieve(name string) (*Account, error) {
	for _, store := range m.stores {
		if account, err := store.Retrieve(name); err == nil && account != nil {
			return account, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrCredentialsNotFound, name)
}

// RetrieveDefault returns the named account, or the environment account,
// or the most recently modified stored account
func (m *Manager) RetrieveDefault(name string) (*Account, error) {
	if name != "" {
		return m.Retrieve(name)
	}

	for _, store := range m.stores {
		if env, ok := store.(*EnvironmentStore); ok {
			if account, err := env.Retrieve(""); err == nil {
				return account, nil
			}
		}
	}

	accounts, err := m.List()
	if err == nil && len(accounts) > 0 {
		return accounts[0], nil
	}
	return nil, ErrCredentialsNotFound
}

// List returns all stored accounts, newest first
func (m *Manager) List() ([]*Account, error) {
	byName := make(map[string]*Account)

	for _, store := range m.stores {
		accounts, err := store.List()
		if err != nil {
			continue
		}
		for _, account := range accounts {
			// Use the most recently modified version
			if existing, ok := byName[account.Name]; !ok || account.LastModified.After(existing.LastModified) {
				byName[account.Name] = account
			}
		}
	}

	result := make([]*Account, 0, len(byName))
	for _, account := range byName {
		result = append(result, account)
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].LastModified.Equal(result[j].LastModified) {
			return result[i].LastModified.After(result[j].LastModified)
		}
		return result[i].Name < result[j].Name
	})
	return result, nil
}

// Delete removes credentials from all stores
func (m *Manager) Delete(name string) error {
	var deleted bool
	var lastErr error

	for _, store := range m.stores {
		if err := store.Delete(name); err == nil {
			deleted = true
		} else {
			lastErr = err
		}
	}

	if deleted {
		return nil
	}
	if lastErr != nil && !errors.Is(lastErr, ErrCredentialsNotFound) && !errors.Is(lastErr, ErrStoreUnavailable) {
		return fmt.Errorf("failed to delete credentials: %w", lastErr)
	}
	return fmt.Errorf("%w: %s", ErrCredentialsNotFound, name)
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
		configDir = filepath.Join(home, "Library", "Application Support", "igcomments")
	case "windows":
		configDir = filepath.Join(os.Getenv("APPDATA"), "igcomments")
	default: // Linux and others
		if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
			configDir = filepath.Join(xdgConfig, "igcomments")
		} else {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", err
			}
			configDir = filepath.Join(home, ".config", "igcomments")
		}
	}

	if err := os.MkdirAll(configDir, 0700); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}

	return configDir, nil
}

// SanitizeAccount creates a copy of the account with every value masked
func SanitizeAccount(account *Account) *Account {
	if account == nil {
		return nil
	}

	out := &Account{
		Name:         account.Name,
		Cookies:      make(map[string]string, len(account.Cookies)),
		Headers:      make(map[string]string, len(account.Headers)),
		LastModified: account.LastModified,
	}
	for k, v := range account.Cookies {
		out.Cookies[k] = maskString(v)
	}
	for k, v := range account.Headers {
		if strings.EqualFold(k, "User-Agent") || strings.EqualFold(k, "Referer") {
			out.Headers[k] = v
			continue
		}
		out.Headers[k] = maskString(v)
	}
	return out
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
