package ot

import (
	"errors"
	"sync"
)

// ErrVersionAhead is returned when a change claims to build on a version the
// history has not reached yet.
var ErrVersionAhead = errors.New("base version is in the future")

// History is the ordered log of applied changes for one document.
// Its length is the document version.
type History struct {
	mu      sync.RWMutex
	changes []Change
}

// NewHistory creates a history seeded with already applied changes.
func NewHistory(changes ...Change) *History {
	h := &History{changes: make([]Change, 0, len(changes))}
	h.changes = append(h.changes, changes...)

	return h
}

// Version returns the number of applied changes.
func (h *History) Version() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.changes)
}

// Rebase transforms c against every logged change newer than c.BaseVersion,
// oldest first.
func (h *History) Rebase(c Change) (Change, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if c.BaseVersion > len(h.changes) {
		return Change{}, ErrVersionAhead
	}

	rebased := c
	for _, applied := range h.changes[c.BaseVersion:] {
		rebased = Transform(rebased, applied)
	}

	return rebased, nil
}

// Append records an applied change and stamps it with the next version.
func (h *History) Append(c Change) Change {
	h.mu.Lock()
	defer h.mu.Unlock()

	c.Version = len(h.changes) + 1
	h.changes = append(h.changes, c)

	return c
}

// Since returns a copy of the changes applied after the given version.
func (h *History) Since(version int) []Change {
	h.mu.RLock()
	defer h.mu.RUnlock()

	version = min(max(version, 0), len(h.changes))

	result := make([]Change, len(h.changes)-version)
	copy(result, h.changes[version:])

	return result
}
