package checkpoint

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"igcomments/pkg/logger"
	"igcomments/pkg/storage"
)

const fileSuffix = ".checkpoint.json"

// FileStore keeps one JSON file per target
type FileStore struct {
	dir    string
	logger logger.Logger
	mu     sync.Mutex
}

// NewFileStore creates a store rooted at dir
func NewFileStore(dir string, l logger.Logger) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create checkpoints directory: %w", err)
	}
	return &FileStore{dir: dir, logger: logger.OrDefault(l)}, nil
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9_.-]`)

// Path returns the checkpoint file of a target
func (s *FileStore) Path(targetID string) string {
	return filepath.Join(s.dir, unsafeChars.ReplaceAllString(targetID, "_")+fileSuffix)
}

// Load reads the state of targetID. Absent, unreadable or invalid state
// yields nil, nil so the caller starts fresh.
func (s *FileStore) Load(targetID string) (*State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.Path(targetID)
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.WithError(err).WarnWithFields("Ignoring unreadable checkpoint", map[string]interface{}{
				"target_id": targetID,
				"path":      path,
			})
		}
		return nil, nil
	}

	state, err := Decode(data)
	if err != nil {
		s.logger.WithError(err).WarnWithFields("Ignoring unusable checkpoint", map[string]interface{}{
			"target_id": targetID,
			"path":      path,
		})
		return nil, nil
	}
	if state.TargetID != targetID {
		s.logger.WarnWithFields("Ignoring checkpoint for another target", map[string]interface{}{
			"target_id": targetID,
			"found":     state.TargetID,
		})
		return nil, nil
	}

	s.logger.InfoWithFields("Checkpoint loaded", map[string]interface{}{
		"target_id":  targetID,
		"run_id":     state.RunID,
		"status":     state.Status,
		"items":      len(state.Comments),
		"updated_at": state.UpdatedAt,
	})
	return state, nil
}

// Save writes state atomically: temp file, fsync, rename
func (s *FileStore) Save(state *State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	state.UpdatedAt = time.Now().UTC()
	data, err := state.Encode()
	if err != nil {
		return err
	}

	path := s.Path(state.TargetID)
	if err := storage.WriteFileAtomic(path, data); err != nil {
		return err
	}

	s.logger.DebugWithFields("Checkpoint saved", map[string]interface{}{
		"target_id": state.TargetID,
		"status":    state.Status,
		"items":     len(state.Comments),
		"pages":     state.PageCount,
	})
	return nil
}

// Delete removes the checkpoint of targetID
func (s *FileStore) Delete(targetID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.Path(targetID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete checkpoint: %w", err)
	}
	s.logger.InfoWithFields("Checkpoint deleted", map[string]interface{}{"target_id": targetID})
	return nil
}

// Backup copies the current checkpoint next to itself with a .backup suffix
func (s *FileStore) Backup(targetID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.Path(targetID)
	src, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to open checkpoint for backup: %w", err)
	}
	defer src.Close()

	dst, err := os.Create(path + ".backup")
	if err != nil {
		return fmt.Errorf("failed to create backup file: %w", err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return fmt.Errorf("failed to copy checkpoint to backup: %w", err)
	}
	return dst.Close()
}

// List returns summaries of every readable checkpoint, newest first
func (s *FileStore) List() ([]Info, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoints directory: %w", err)
	}

	var infos []Info
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), fileSuffix) {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.dir, entry.Name()))
		if err != nil {
			continue
		}
		state, err := Decode(data)
		if err != nil {
			s.logger.WithError(err).DebugWithFields("Skipping unusable checkpoint", map[string]interface{}{
				"file": entry.Name(),
			})
			continue
		}
		infos = append(infos, Summarize(state))
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].UpdatedAt.After(infos[j].UpdatedAt) })
	return infos, nil
}
