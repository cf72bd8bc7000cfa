package models

import (
	"bytes"
	"encoding/json"
	"time"
)

// Target is the post whose comments are crawled
type Target struct {
	ID        string `json:"id"`
	DisplayID string `json:"display_id"`
	OwnerID   string `json:"owner_id"`
	Caption   string `json:"caption"`
	TakenAt   string `json:"taken_at,omitempty"`
}

// Author is the account that wrote a comment
type Author struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	FullName    string `json:"full_name,omitempty"`
	Verified    bool   `json:"verified"`
}

// Comment is the flat form of a comment or reply. ParentID is empty for
// top-level comments.
type Comment struct {
	ID         string `json:"id"`
	ParentID   string `json:"parent_id,omitempty"`
	Text       string `json:"text"`
	CreatedAt  string `json:"created_at"`
	LikeCount  int    `json:"like_count"`
	Author     Author `json:"author"`
	GIFURL     string `json:"gif_url,omitempty"`
	IsAuthor   bool   `json:"is_author,omitempty"`
	ReplyCount int    `json:"reply_count,omitempty"`
}

// CommentNode is a comment with its replies materialized
type CommentNode struct {
	ID        string        `json:"id"`
	Text      string        `json:"text"`
	CreatedAt string        `json:"created_at"`
	LikeCount int           `json:"like_count"`
	Author    Author        `json:"author"`
	GIFURL    string        `json:"gif_url,omitempty"`
	IsAuthor  bool          `json:"is_author,omitempty"`
	Replies   []CommentNode `json:"replies"`
}

// NewCommentNode copies the output fields of c
func NewCommentNode(c Comment) CommentNode {
	return CommentNode{
		ID:        c.ID,
		Text:      c.Text,
		CreatedAt: c.CreatedAt,
		LikeCount: c.LikeCount,
		Author:    c.Author,
		GIFURL:    c.GIFURL,
		IsAuthor:  c.IsAuthor,
		Replies:   []CommentNode{},
	}
}

// Record is the persisted result of a crawl
type Record struct {
	Target            Target        `json:"target"`
	Comments          []CommentNode `json:"comments"`
	TotalItemCount    int           `json:"total_item_count"`
	ExpectedItemCount *int          `json:"expected_item_count"`
	FetchedAt         string        `json:"fetched_at"`
	PageCount         int           `json:"page_count"`
	StopReason        string        `json:"stop_reason,omitempty"`
}

// FormatTime renders t the way records store timestamps
func FormatTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05Z")
}

// Encode renders the record as indented JSON with a trailing newline.
// Equal records always encode to identical bytes.
func (r *Record) Encode() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(r); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
