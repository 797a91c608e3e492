package ot

import (
	"time"
	"unicode/utf8"
)

// OpType represents the kind of edit a change performs.
type OpType string

const (
	Insert  OpType = "insert"
	Delete  OpType = "delete"
	Replace OpType = "replace"
)

// Valid reports whether t is one of the known operation kinds.
func (t OpType) Valid() bool {
	switch t {
	case Insert, Delete, Replace:
		return true
	default:
		return false
	}
}

// Change is a single accepted edit against a document.
//
// Positions and lengths count Unicode code points, not bytes. A change
// removes Length characters at Position and then inserts Content there;
// insert ignores Length and delete ignores Content.
type Change struct {
	ID          string    `json:"id"`
	UserID      string    `json:"userId"`
	Timestamp   time.Time `json:"timestamp"`
	Operation   OpType    `json:"operation"`
	Position    int       `json:"position"`
	Content     string    `json:"content,omitempty"`
	Length      int       `json:"length,omitempty"`
	BaseVersion int       `json:"baseVersion"`
	Version     int       `json:"version"`
}

// NewInsert creates an insert change.
func NewInsert(userID string, position int, content string) Change {
	return Change{
		UserID:    userID,
		Operation: Insert,
		Position:  position,
		Content:   content,
	}
}

// NewDelete creates a delete change.
func NewDelete(userID string, position, length int) Change {
	return Change{
		UserID:    userID,
		Operation: Delete,
		Position:  position,
		Length:    length,
	}
}

// NewReplace creates a replace change.
func NewReplace(userID string, position, length int, content string) Change {
	return Change{
		UserID:    userID,
		Operation: Replace,
		Position:  position,
		Content:   content,
		Length:    length,
	}
}

// Deleted returns how many characters the change removes.
func (c Change) Deleted() int {
	if c.Operation == Insert {
		return 0
	}

	return c.Length
}

// Inserted returns the text the change inserts.
func (c Change) Inserted() string {
	if c.Operation == Delete {
		return ""
	}

	return c.Content
}

// IsNoop returns true if applying the change leaves the text untouched.
func (c Change) IsNoop() bool {
	return c.Deleted() == 0 && c.Inserted() == ""
}

func (c *Change) setDeleted(n int) {
	if c.Operation == Insert {
		return
	}

	c.Length = max(n, 0)
}

func (c *Change) setInserted(s string) {
	if c.Operation == Delete {
		return
	}

	c.Content = s
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}
