// Package session tracks which users are connected to which documents and
// evicts the ones that went quiet.
package session

import (
	"errors"
	"slices"
	"strings"
	"sync"
	"time"
)

// ErrSessionNotFound is returned when no session exists for a user.
var ErrSessionNotFound = errors.New("session not found")

// Session is a user's presence in one document.
type Session struct {
	UserID       string    `json:"userId"`
	DocumentID   string    `json:"documentId"`
	JoinedAt     time.Time `json:"joinedAt"`
	LastActivity time.Time `json:"lastActivity"`
}

type key struct {
	docID  string
	userID string
}

// Registry holds at most one session per user per document.
// It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	sessions map[key]Session
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[key]Session),
	}
}

// Join creates the session for (docID, userID), replacing any prior one.
func (r *Registry) Join(docID, userID string, now time.Time) Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := Session{
		UserID:       userID,
		DocumentID:   docID,
		JoinedAt:     now,
		LastActivity: now,
	}
	r.sessions[key{docID, userID}] = s

	return s
}

// Leave removes the session and reports whether there was one.
func (r *Registry) Leave(docID, userID string) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := key{docID, userID}

	s, ok := r.sessions[k]
	if ok {
		delete(r.sessions, k)
	}

	return s, ok
}

// LeaveIfIdle removes the session only if its last activity is not after
// the cutoff. A session touched since it was found idle survives.
func (r *Registry) LeaveIfIdle(docID, userID string, cutoff time.Time) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := key{docID, userID}

	s, ok := r.sessions[k]
	if !ok || s.LastActivity.After(cutoff) {
		return Session{}, false
	}

	delete(r.sessions, k)

	return s, true
}

// Get returns the session for (docID, userID).
func (r *Registry) Get(docID, userID string) (Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[key{docID, userID}]
	if !ok {
		return Session{}, ErrSessionNotFound
	}

	return s, nil
}

// Touch records activity on one session.
func (r *Registry) Touch(docID, userID string, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := key{docID, userID}

	s, ok := r.sessions[k]
	if !ok {
		return ErrSessionNotFound
	}

	s.LastActivity = now
	r.sessions[k] = s

	return nil
}

// Idle returns sessions whose last activity is at or before the cutoff.
func (r *Registry) Idle(cutoff time.Time) []Session {
	return r.collect(func(s Session) bool {
		return !s.LastActivity.After(cutoff)
	})
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.sessions)
}

func (r *Registry) collect(match func(Session) bool) []Session {
	r.mu.RLock()

	var result []Session

	for _, s := range r.sessions {
		if match(s) {
			result = append(result, s)
		}
	}
	r.mu.RUnlock()

	slices.SortFunc(result, func(a, b Session) int {
		if c := strings.Compare(a.DocumentID, b.DocumentID); c != 0 {
			return c
		}

		return strings.Compare(a.UserID, b.UserID)
	})

	return result
}
