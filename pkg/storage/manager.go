package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"igcomments/pkg/models"
)

// recordTimeLayout is the timestamp used in record file names
const recordTimeLayout = "20060102_150405"

// Manager writes crawl records to the output directory
type Manager struct {
	outputDir string
	now       func() time.Time
	mu        sync.Mutex
}

// NewManager creates a new storage manager
func NewManager(outputDir string) (*Manager, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	return &Manager{outputDir: outputDir, now: time.Now}, nil
}

// RecordPath returns the file a record fetched at t is written to
func (m *Manager) RecordPath(displayID string, t time.Time) string {
	name := fmt.Sprintf("%s_%s.json", safeName(displayID), t.UTC().Format(recordTimeLayout))
	return filepath.Join(m.outputDir, name)
}

// SaveRecord writes record atomically and returns its path
func (m *Manager) SaveRecord(record *models.Record) (string, error) {
	data, err := record.Encode()
	if err != nil {
		return "", fmt.Errorf("failed to encode record: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	path := m.RecordPath(record.Target.DisplayID, m.now())
	if err := WriteFileAtomic(path, data); err != nil {
		return "", err
	}
	return path, nil
}

// LatestRecord returns the newest record file for displayID, or "" when none exists
func (m *Manager) LatestRecord(displayID string) (string, error) {
	entries, err := os.ReadDir(m.outputDir)
	if err != nil {
		return "", fmt.Errorf("failed to read directory: %w", err)
	}

	prefix := safeName(displayID) + "_"
	var matches []string
	for _, entry := range entries {
		name := entry.Name()
		if !entry.IsDir() && strings.HasPrefix(name, prefix) && filepath.Ext(name) == ".json" {
			matches = append(matches, name)
		}
	}
	if len(matches) == 0 {
		return "", nil
	}
	sort.Strings(matches)
	return filepath.Join(m.outputDir, matches[len(matches)-1]), nil
}

// GetOutputDir returns the output directory path
func (m *Manager) GetOutputDir() string {
	return m.outputDir
}

// WriteFileAtomic writes data to a temporary file and renames it into place
func WriteFileAtomic(path string, data []byte) error {
	tempFile := path + ".tmp"
	out, err := os.Create(tempFile)
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}

	_, err = out.Write(data)
	if err == nil {
		err = out.Sync()
	}
	closeErr := out.Close()

	if err != nil {
		os.Remove(tempFile)
		return fmt.Errorf("failed to write data: %w", err)
	}
	if closeErr != nil {
		os.Remove(tempFile)
		return fmt.Errorf("failed to close file: %w", closeErr)
	}

	if err := os.Rename(tempFile, path); err != nil {
		os.Remove(tempFile)
		return fmt.Errorf("failed to rename temporary file: %w", err)
	}
	return nil
}

func safeName(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, s)
}
