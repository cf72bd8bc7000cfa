package crawler

import (
	"errors"
	"sync"

	"igcomments/pkg/models"
)

// ErrUnknownParent is returned when a reply names a comment that was never captured
var ErrUnknownParent = errors.New("reply parent is not a captured comment")

// Accumulator collects comments and replies with dedup across both.
// Comments live in one map; ordering is kept in id slices.
type Accumulator struct {
	mu       sync.RWMutex
	items    map[string]models.Comment
	order    []string
	topLevel []string
	children map[string][]string
}

// NewAccumulator returns an empty accumulator
func NewAccumulator() *Accumulator {
	return &Accumulator{
		items:    make(map[string]models.Comment),
		children: make(map[string][]string),
	}
}

// AddTopLevel inserts c unless its id was already seen. It reports
// whether c was inserted.
func (a *Accumulator) AddTopLevel(c models.Comment) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, seen := a.items[c.ID]; seen {
		return false
	}
	c.ParentID = ""
	a.items[c.ID] = c
	a.order = append(a.order, c.ID)
	a.topLevel = append(a.topLevel, c.ID)
	return true
}

// AddReply inserts r under parentID. A reply to an unknown parent is
// rejected with ErrUnknownParent; a seen id is ignored.
func (a *Accumulator) AddReply(parentID string, r models.Comment) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	parent, ok := a.items[parentID]
	if !ok || parent.ParentID != "" {
		return false, ErrUnknownParent
	}
	if _, seen := a.items[r.ID]; seen {
		return false, nil
	}
	r.ParentID = parentID
	a.items[r.ID] = r
	a.order = append(a.order, r.ID)
	a.children[parentID] = append(a.children[parentID], r.ID)
	return true, nil
}

// TopLevelCount returns the number of top-level comments
func (a *Accumulator) TopLevelCount() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.topLevel)
}

// TotalCount returns the number of comments plus replies
func (a *Accumulator) TotalCount() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.items)
}

// ReplyCount returns the number of captured replies of parentID
func (a *Accumulator) ReplyCount(parentID string) int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.children[parentID])
}

// TopLevel returns the top-level comments in accumulation order
func (a *Accumulator) TopLevel() []models.Comment {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make([]models.Comment, 0, len(a.topLevel))
	for _, id := range a.topLevel {
		out = append(out, a.items[id])
	}
	return out
}

// Tree materializes the comment tree. Top-level comments and the replies
// of each keep accumulation order.
func (a *Accumulator) Tree() []models.CommentNode {
	a.mu.RLock()
	defer a.mu.RUnlock()

	tree := make([]models.CommentNode, 0, len(a.topLevel))
	for _, id := range a.topLevel {
		node := models.NewCommentNode(a.items[id])
		for _, rid := range a.children[id] {
			node.Replies = append(node.Replies, models.NewCommentNode(a.items[rid]))
		}
		tree = append(tree, node)
	}
	return tree
}

// Snapshot returns every captured item in insertion order. Replies always
// follow their parent.
func (a *Accumulator) Snapshot() []models.Comment {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make([]models.Comment, 0, len(a.order))
	for _, id := range a.order {
		out = append(out, a.items[id])
	}
	return out
}

// Restore rebuilds an accumulator from a snapshot
func Restore(items []models.Comment) (*Accumulator, error) {
	a := NewAccumulator()
	for _, c := range items {
		if c.ParentID == "" {
			a.AddTopLevel(c)
			continue
		}
		if _, err := a.AddReply(c.ParentID, c); err != nil {
			return nil, err
		}
	}
	return a, nil
}
