package checkpoint

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	errs "igcomments/pkg/errors"
	"igcomments/pkg/models"
)

// Version is the state format version. States written by another version
// are treated as corrupt and ignored.
const Version = 2

const (
	StatusInProgress = "in_progress"
	StatusDone       = "done"
	StatusAborted    = "aborted"
	StatusPartial    = "partial"
)

// TopLevelKey names the top-level comment pagination context
const TopLevelKey = "top_level"

// ReplyKey names the reply pagination context of a comment
func ReplyKey(commentID string) string {
	return "replies:" + commentID
}

// ContextState is the pagination position of one context
type ContextState struct {
	Cursor     string `json:"cursor"`
	Exhausted  bool   `json:"exhausted"`
	Pages      int    `json:"pages"`
	StopReason string `json:"stop_reason,omitempty"`
	LastError  string `json:"last_error,omitempty"`
}

// State is everything needed to resume a crawl of one target. FinishedAt
// is the fetched_at of the record built when the crawl completed.
type State struct {
	Version           int                      `json:"version"`
	RunID             string                   `json:"run_id"`
	TargetID          string                   `json:"target_id"`
	Target            models.Target            `json:"target"`
	Contexts          map[string]*ContextState `json:"contexts"`
	Comments          []models.Comment         `json:"comments"`
	TotalItems        int                      `json:"total_items"`
	ExpectedItemCount *int                     `json:"expected_item_count"`
	PageCount         int                      `json:"page_count"`
	Status            string                   `json:"status"`
	StopReason        string                   `json:"stop_reason,omitempty"`
	FinishedAt        string                   `json:"finished_at,omitempty"`
	CreatedAt         time.Time                `json:"created_at"`
	UpdatedAt         time.Time                `json:"updated_at"`
}

// New returns a fresh in-progress state for target
func New(target models.Target) *State {
	now := time.Now().UTC()
	return &State{
		Version:   Version,
		RunID:     uuid.NewString(),
		TargetID:  target.ID,
		Target:    target,
		Contexts:  map[string]*ContextState{},
		Comments:  []models.Comment{},
		Status:    StatusInProgress,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Context returns the state of a pagination context, creating it if needed
func (s *State) Context(key string) *ContextState {
	if s.Contexts == nil {
		s.Contexts = map[string]*ContextState{}
	}
	cs, ok := s.Contexts[key]
	if !ok {
		cs = &ContextState{}
		s.Contexts[key] = cs
	}
	return cs
}

// Lookup returns the context state without creating it
func (s *State) Lookup(key string) (*ContextState, bool) {
	cs, ok := s.Contexts[key]
	return cs, ok
}

// Validate checks the invariants a loaded state must satisfy
func (s *State) Validate() error {
	if s.Version != Version {
		return fmt.Errorf("unsupported state version %d", s.Version)
	}
	if s.TargetID == "" {
		return fmt.Errorf("state has no target id")
	}
	switch s.Status {
	case StatusInProgress, StatusDone, StatusAborted, StatusPartial:
	default:
		return fmt.Errorf("unknown status %q", s.Status)
	}

	seen := make(map[string]struct{}, len(s.Comments))
	for i, c := range s.Comments {
		if c.ID == "" {
			return fmt.Errorf("comment %d has no id", i)
		}
		if _, dup := seen[c.ID]; dup {
			return fmt.Errorf("duplicate comment id %s", c.ID)
		}
		if c.ParentID != "" {
			if _, ok := seen[c.ParentID]; !ok {
				return fmt.Errorf("reply %s precedes its parent %s", c.ID, c.ParentID)
			}
		}
		seen[c.ID] = struct{}{}
	}
	if s.TotalItems != len(s.Comments) {
		return fmt.Errorf("total_items %d does not match %d comments", s.TotalItems, len(s.Comments))
	}
	return nil
}

// Encode renders the state as indented JSON
func (s *State) Encode() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	if err := enc.Encode(s); err != nil {
		return nil, fmt.Errorf("failed to encode checkpoint: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode parses and validates a stored state. Any failure is a
// StateCorruptionError.
func Decode(data []byte) (*State, error) {
	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, errs.NewStateCorruptionError("checkpoint is not valid JSON", err)
	}
	if err := s.Validate(); err != nil {
		return nil, errs.NewStateCorruptionError("checkpoint failed validation", err)
	}
	if s.Contexts == nil {
		s.Contexts = map[string]*ContextState{}
	}
	if s.Comments == nil {
		s.Comments = []models.Comment{}
	}
	return &s, nil
}

// Store persists crawl state keyed by target id. Load returns nil, nil
// when no usable state exists.
type Store interface {
	Load(targetID string) (*State, error)
	Save(state *State) error
	Delete(targetID string) error
}

// Info summarizes a stored state for display
type Info struct {
	TargetID   string
	DisplayID  string
	RunID      string
	Status     string
	StopReason string
	Items      int
	Pages      int
	Contexts   int
	Open       int
	UpdatedAt  time.Time
	Age        time.Duration
}

// Summarize returns display information for s
func Summarize(s *State) Info {
	info := Info{
		TargetID:   s.TargetID,
		DisplayID:  s.Target.DisplayID,
		RunID:      s.RunID,
		Status:     s.Status,
		StopReason: s.StopReason,
		Items:      len(s.Comments),
		Pages:      s.PageCount,
		Contexts:   len(s.Contexts),
		UpdatedAt:  s.UpdatedAt,
		Age:        time.Since(s.UpdatedAt),
	}
	for _, cs := range s.Contexts {
		if !cs.Exhausted {
			info.Open++
		}
	}
	return info
}
