package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"igcomments/pkg/logger"
)

// Archive modes
const (
	ModeNone   = "none"
	ModeErrors = "errors"
	ModeAll    = "all"
)

const archiveTimeLayout = "20060102_150405.000000"

// RawResponse is one request/response exchange
type RawResponse struct {
	Label     string
	Method    string
	URL       string
	Variables map[string]interface{}
	Status    int
	Body      []byte
	Failed    bool
	Error     string
}

type archivedResponse struct {
	Timestamp string                 `json:"timestamp"`
	Label     string                 `json:"label"`
	Method    string                 `json:"method"`
	URL       string                 `json:"url"`
	Status    int                    `json:"status"`
	Variables map[string]interface{} `json:"params,omitempty"`
	Error     string                 `json:"error,omitempty"`
	Payload   json.RawMessage        `json:"payload,omitempty"`
	BodyText  string                 `json:"body_text,omitempty"`
}

// Archive keeps raw responses on disk, bounded by file count and total size
type Archive struct {
	dir      string
	mode     string
	keep     int
	maxBytes int64
	logger   logger.Logger
	now      func() time.Time
	mu       sync.Mutex
}

// NewArchive creates an archive in dir. keep and maxMB of zero disable
// the corresponding bound.
func NewArchive(dir, mode string, keep, maxMB int, l logger.Logger) (*Archive, error) {
	switch mode {
	case ModeNone, ModeErrors, ModeAll:
	default:
		return nil, fmt.Errorf("unknown raw response mode %q", mode)
	}
	if mode != ModeNone {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create raw response directory: %w", err)
		}
	}
	return &Archive{
		dir:      dir,
		mode:     mode,
		keep:     keep,
		maxBytes: int64(maxMB) * 1024 * 1024,
		logger:   logger.OrDefault(l),
		now:      time.Now,
	}, nil
}

// Dir returns the archive directory
func (a *Archive) Dir() string {
	return a.dir
}

func (a *Archive) wants(entry RawResponse) bool {
	switch a.mode {
	case ModeAll:
		return true
	case ModeErrors:
		return entry.Failed
	default:
		return false
	}
}

// Archive stores entry if the mode selects it, then rotates
func (a *Archive) Archive(entry RawResponse) error {
	if !a.wants(entry) {
		return nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	ts := a.now().UTC()
	record := archivedResponse{
		Timestamp: ts.Format(time.RFC3339Nano),
		Label:     entry.Label,
		Method:    entry.Method,
		URL:       entry.URL,
		Status:    entry.Status,
		Variables: entry.Variables,
		Error:     entry.Error,
	}
	if trimmed := bytes.TrimSpace(entry.Body); len(trimmed) > 0 {
		if json.Valid(trimmed) {
			record.Payload = json.RawMessage(trimmed)
		} else {
			record.BodyText = string(entry.Body)
		}
	}

	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode raw response: %w", err)
	}

	path := a.uniquePath(ts.Format(archiveTimeLayout) + "_" + safeName(entry.Label))
	if err := WriteFileAtomic(path, data); err != nil {
		return err
	}
	a.logger.DebugWithFields("Raw response archived", map[string]interface{}{
		"path":   path,
		"status": entry.Status,
	})

	return a.rotate()
}

func (a *Archive) uniquePath(base string) string {
	path := filepath.Join(a.dir, base+".json")
	for i := 1; ; i++ {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return path
		}
		path = filepath.Join(a.dir, fmt.Sprintf("%s_%d.json", base, i))
	}
}

type archivedFile struct {
	path string
	size int64
}

// Rotate enforces the count and size bounds, removing oldest files first
func (a *Archive) Rotate() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.rotate()
}

func (a *Archive) rotate() error {
	files, err := a.files()
	if err != nil {
		return err
	}

	var total int64
	for _, f := range files {
		total += f.size
	}

	removed := 0
	for len(files) > 0 {
		overCount := a.keep > 0 && len(files) > a.keep
		overSize := a.maxBytes > 0 && total > a.maxBytes
		if !overCount && !overSize {
			break
		}
		if err := os.Remove(files[0].path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove archived response: %w", err)
		}
		total -= files[0].size
		files = files[1:]
		removed++
	}

	if removed > 0 {
		a.logger.DebugWithFields("Raw response archive rotated", map[string]interface{}{
			"removed": removed,
			"kept":    len(files),
		})
	}
	return nil
}

// files lists archived files oldest first
func (a *Archive) files() ([]archivedFile, error) {
	entries, err := os.ReadDir(a.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read raw response directory: %w", err)
	}

	var files []archivedFile
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		files = append(files, archivedFile{path: filepath.Join(a.dir, entry.Name()), size: info.Size()})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].path < files[j].path })
	return files, nil
}
