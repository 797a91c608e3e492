// Package document holds the in-memory state of collaborative documents.
//
// A Document is guarded by its own mutex. Every mutating or reading method
// expects the caller to hold that lock, which lets the change pipeline keep
// transform, apply, logging and notification inside one critical section.
package document

import (
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/serroba/collab-notes/internal/ot"
)

// CursorPosition is the last reported cursor of a user. Coordinates are
// passed through untouched.
type CursorPosition struct {
	UserID    string    `json:"userId"`
	X         float64   `json:"x"`
	Y         float64   `json:"y"`
	Timestamp time.Time `json:"timestamp"`
}

// Document is a single shared text buffer with its comments and cursors.
type Document struct {
	mu sync.Mutex

	id        string
	createdAt time.Time

	title         string
	content       []rune
	version       int
	collaborators []string
	members       map[string]struct{}
	comments      []Comment
	cursors       map[string]CursorPosition
}

// New creates a document at version 0 whose only collaborator is the creator.
func New(id, title, initialContent, creatorID string, createdAt time.Time) *Document {
	d := &Document{
		id:        id,
		createdAt: createdAt,
		title:     title,
		content:   []rune(initialContent),
		members:   make(map[string]struct{}),
		cursors:   make(map[string]CursorPosition),
	}

	if creatorID != "" {
		d.AddCollaborator(creatorID)
	}

	return d
}

// Rebuild recreates a document whose text and version were recovered from
// durable storage. Collaborators are restored in the given order.
func Rebuild(id, title string, createdAt time.Time, content string, version int, collaborators []string) *Document {
	d := New(id, title, content, "", createdAt)
	d.version = version

	for _, userID := range collaborators {
		d.AddCollaborator(userID)
	}

	return d
}

// ID returns the immutable document identifier. It does not need the lock.
func (d *Document) ID() string {
	return d.id
}

// Lock acquires the document's exclusive lock.
func (d *Document) Lock() {
	d.mu.Lock()
}

// Unlock releases the document's exclusive lock.
func (d *Document) Unlock() {
	d.mu.Unlock()
}

// Title returns the display title.
func (d *Document) Title() string {
	return d.title
}

// Content returns the current text.
func (d *Document) Content() string {
	return string(d.content)
}

// Len returns the number of characters in the text.
func (d *Document) Len() int {
	return len(d.content)
}

// Version returns the number of changes applied so far.
func (d *Document) Version() int {
	return d.version
}

// ApplyRawChange splices an already transformed change into the text and
// bumps the version. It performs no conflict resolution.
func (d *Document) ApplyRawChange(c ot.Change) {
	d.content = ot.Apply(d.content, c)
	d.version++
}

// AddCollaborator records a user as a collaborator. It reports whether the
// user was new.
func (d *Document) AddCollaborator(userID string) bool {
	if _, ok := d.members[userID]; ok {
		return false
	}

	d.members[userID] = struct{}{}
	d.collaborators = append(d.collaborators, userID)

	return true
}

// HasCollaborator reports whether the user ever took part in the document.
func (d *Document) HasCollaborator(userID string) bool {
	_, ok := d.members[userID]

	return ok
}

// SetCursor stores the latest cursor for a user.
func (d *Document) SetCursor(cur CursorPosition) {
	d.cursors[cur.UserID] = cur
}

// RemoveCursor deletes the cursor of a user and reports whether one existed.
func (d *Document) RemoveCursor(userID string) bool {
	if _, ok := d.cursors[userID]; !ok {
		return false
	}

	delete(d.cursors, userID)

	return true
}

// ActiveCursors returns cursors updated after the cutoff, ordered by user id.
// Stale entries stay in place.
func (d *Document) ActiveCursors(cutoff time.Time) []CursorPosition {
	active := make([]CursorPosition, 0, len(d.cursors))

	for _, cur := range d.cursors {
		if cur.Timestamp.After(cutoff) {
			active = append(active, cur)
		}
	}

	slices.SortFunc(active, func(a, b CursorPosition) int {
		switch {
		case a.UserID < b.UserID:
			return -1
		case a.UserID > b.UserID:
			return 1
		default:
			return 0
		}
	})

	return active
}

// Snapshot is a detached copy of a document's state.
type Snapshot struct {
	ID            string                    `json:"id"`
	Title         string                    `json:"title"`
	Content       string                    `json:"content"`
	Version       int                       `json:"version"`
	Collaborators []string                  `json:"collaborators"`
	Comments      []Comment                 `json:"comments"`
	Cursors       map[string]CursorPosition `json:"cursors"`
	CreatedAt     time.Time                 `json:"createdAt"`
}

// Snapshot copies the document state so it can leave the lock.
func (d *Document) Snapshot() Snapshot {
	comments := make([]Comment, len(d.comments))
	for i, c := range d.comments {
		comments[i] = c.clone()
	}

	return Snapshot{
		ID:            d.id,
		Title:         d.title,
		Content:       string(d.content),
		Version:       d.version,
		Collaborators: slices.Clone(d.collaborators),
		Comments:      comments,
		Cursors:       maps.Clone(d.cursors),
		CreatedAt:     d.createdAt,
	}
}
