package auth

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/crypto/pbkdf2"

	"igcomments/pkg/storage"
)

// PassphraseEnv overrides the generated vault passphrase
const PassphraseEnv = "IGCOMMENTS_PASSPHRASE"

const (
	vaultVersion     = 2
	saltSize         = 32
	keySize          = 32
	kdfIterations    = 100000
	passphraseFile   = ".passphrase"
	passphraseLength = 32
)

var errVaultCorrupt = errors.New("credential vault is corrupt")

// vaultFile is the on-disk envelope; []byte fields are base64 in JSON
type vaultFile struct {
	Version  int       `json:"version"`
	Salt     []byte    `json:"salt"`
	Sealed   []byte    `json:"sealed"`
	Modified time.Time `json:"modified"`
}

// EncryptedFileStore keeps every account in one AES-GCM sealed file.
// The key is derived with PBKDF2 from PassphraseEnv or from a random
// passphrase written next to the vault on first use.
type EncryptedFileStore struct {
	path       string
	passphrase []byte
	mu         sync.RWMutex
}

// NewEncryptedFileStore opens (lazily) the vault at path
func NewEncryptedFileStore(path string) (*EncryptedFileStore, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create credential directory: %w", err)
	}

	passphrase, err := vaultPassphrase(dir)
	if err != nil {
		return nil, err
	}
	return &EncryptedFileStore{path: path, passphrase: passphrase}, nil
}

// Path is the vault file location
func (e *EncryptedFileStore) Path() string {
	return e.path
}

func (e *EncryptedFileStore) Store(account *Account) error {
	if account == nil || account.Name == "" {
		return ErrInvalidCredentials
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	accounts, salt, err := e.open()
	if errors.Is(err, os.ErrNotExist) {
		accounts, salt, err = map[string]Account{}, nil, nil
	}
	if err != nil {
		return err
	}
	accounts[account.Name] = *account
	return e.seal(accounts, salt)
}

func (e *EncryptedFileStore) Retrieve(name string) (*Account, error) {
	if name == "" {
		return nil, ErrInvalidCredentials
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	accounts, _, err := e.open()
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrCredentialsNotFound
	}
	if err != nil {
		return nil, err
	}
	account, ok := accounts[name]
	if !ok {
		return nil, ErrCredentialsNotFound
	}
	return &account, nil
}

func (e *EncryptedFileStore) List() ([]*Account, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	accounts, _, err := e.open()
	if errors.Is(err, os.ErrNotExist) {
		return []*Account{}, nil
	}
	if err != nil {
		return nil, err
	}
	out := make([]*Account, 0, len(accounts))
	for name := range accounts {
		account := accounts[name]
		out = append(out, &account)
	}
	return out, nil
}

// Delete removes one account; the vault file goes away with the last one
func (e *EncryptedFileStore) Delete(name string) error {
	if name == "" {
		return ErrInvalidCredentials
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	accounts, salt, err := e.open()
	if errors.Is(err, os.ErrNotExist) {
		return ErrCredentialsNotFound
	}
	if err != nil {
		return err
	}
	if _, ok := accounts[name]; !ok {
		return ErrCredentialsNotFound
	}
	delete(accounts, name)
	if len(accounts) == 0 {
		return os.Remove(e.path)
	}
	return e.seal(accounts, salt)
}

func (e *EncryptedFileStore) Exists(name string) bool {
	_, err := e.Retrieve(name)
	return err == nil
}

// open reads and decrypts the vault. A missing file surfaces as os.ErrNotExist.
func (e *EncryptedFileStore) open() (map[string]Account, []byte, error) {
	raw, err := os.ReadFile(e.path)
	if err != nil {
		return nil, nil, err
	}

	var vf vaultFile
	if err := json.Unmarshal(raw, &vf); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", errVaultCorrupt, err)
	}
	if len(vf.Salt) != saltSize {
		return nil, nil, fmt.Errorf("%w: bad salt", errVaultCorrupt)
	}

	plain, err := openSealed(e.key(vf.Salt), vf.Sealed)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to decrypt credential vault: %w", err)
	}

	accounts := map[string]Account{}
	if err := json.Unmarshal(plain, &accounts); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", errVaultCorrupt, err)
	}
	return accounts, vf.Salt, nil
}

// seal encrypts accounts and writes the vault atomically. A nil salt starts a new one.
func (e *EncryptedFileStore) seal(accounts map[string]Account, salt []byte) error {
	if salt == nil {
		salt = make([]byte, saltSize)
		if _, err := rand.Read(salt); err != nil {
			return fmt.Errorf("failed to generate salt: %w", err)
		}
	}

	plain, err := json.Marshal(accounts)
	if err != nil {
		return fmt.Errorf("failed to encode accounts: %w", err)
	}
	sealed, err := sealBytes(e.key(salt), plain)
	if err != nil {
		return fmt.Errorf("failed to encrypt credential vault: %w", err)
	}

	raw, err := json.MarshalIndent(vaultFile{
		Version:  vaultVersion,
		Salt:     salt,
		Sealed:   sealed,
		Modified: time.Now().UTC(),
	}, "", "  ")
	if err != nil {
		return err
	}
	if err := storage.WriteFileAtomic(e.path, raw); err != nil {
		return fmt.Errorf("failed to write credential vault: %w", err)
	}
	return os.Chmod(e.path, 0600)
}

func (e *EncryptedFileStore) key(salt []byte) []byte {
	return pbkdf2.Key(e.passphrase, salt, kdfIterations, keySize, sha256.New)
}

// vaultPassphrase prefers PassphraseEnv, then the stored passphrase file, and
// otherwise creates that file with fresh random bytes
func vaultPassphrase(dir string) ([]byte, error) {
	if p := os.Getenv(PassphraseEnv); p != "" {
		return []byte(p), nil
	}

	path := filepath.Join(dir, passphraseFile)
	if stored, err := os.ReadFile(path); err == nil && len(stored) > 0 {
		return stored, nil
	}

	buf := make([]byte, passphraseLength)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("failed to generate passphrase: %w", err)
	}
	passphrase := []byte(base64.RawURLEncoding.EncodeToString(buf))
	if err := os.WriteFile(path, passphrase, 0600); err != nil {
		return nil, fmt.Errorf("failed to save passphrase: %w", err)
	}
	return passphrase, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// sealBytes returns nonce || ciphertext
func sealBytes(key, plain []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return gcm.Seal(nonce, nonce, plain, nil), nil
}

func openSealed(key, sealed []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	n := gcm.NonceSize()
	if len(sealed) < n {
		return nil, errVaultCorrupt
	}
	return gcm.Open(nil, sealed[:n], sealed[n:], nil)
}
