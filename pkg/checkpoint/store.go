package checkpoint

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"

	"igcomments/pkg/logger"
)

var errUnknownBackend = errors.New("unknown checkpoint backend")

const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
)

// ListableStore is a Store that can enumerate its states
type ListableStore interface {
	Store
	List() ([]Info, error)
}

// Open returns the store for backend rooted at dir. The returned closer
// releases backend resources and is never nil.
func Open(backend, dir string, l logger.Logger) (ListableStore, io.Closer, error) {
	switch backend {
	case "", BackendFile:
		store, err := NewFileStore(dir, l)
		if err != nil {
			return nil, nil, err
		}
		return store, io.NopCloser(nil), nil
	case BackendSQLite:
		store, err := OpenSQLite(filepath.Join(dir, "checkpoints.db"), l)
		if err != nil {
			return nil, nil, err
		}
		return store, store, nil
	default:
		return nil, nil, fmt.Errorf("%w: %q", errUnknownBackend, backend)
	}
}
