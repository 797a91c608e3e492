package storage

import (
	"context"
	"sync"
	"time"

	"github.com/serroba/collab-notes/internal/ot"
)

// documentData holds all persisted data for a single document.
type documentData struct {
	record   DocumentRecord
	snapshot *Snapshot
	changes  []ot.Change
}

// MemoryStore is an in-memory implementation of the Store interface.
// Useful for testing and development.
type MemoryStore struct {
	mu    sync.RWMutex
	docs  map[string]*documentData
	order []string
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs: make(map[string]*documentData),
	}
}

// CreateDocument records a new document.
func (m *MemoryStore) CreateDocument(_ context.Context, rec DocumentRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.docs[rec.ID]; exists {
		return ErrDocumentExists
	}

	m.docs[rec.ID] = &documentData{
		record:  rec,
		changes: make([]ot.Change, 0),
	}
	m.order = append(m.order, rec.ID)

	return nil
}

// ListDocuments returns every document in creation order.
func (m *MemoryStore) ListDocuments(_ context.Context) ([]DocumentRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]DocumentRecord, 0, len(m.order))
	for _, id := range m.order {
		result = append(result, m.docs[id].record)
	}

	return result, nil
}

// SaveSnapshot persists the document text at the given version.
func (m *MemoryStore) SaveSnapshot(_ context.Context, docID string, version int, content string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	doc, exists := m.docs[docID]
	if !exists {
		return ErrDocumentNotFound
	}

	doc.snapshot = &Snapshot{
		DocID:     docID,
		Version:   version,
		Content:   content,
		CreatedAt: time.Now(),
	}

	return nil
}

// LoadSnapshot retrieves the latest snapshot for a document.
func (m *MemoryStore) LoadSnapshot(_ context.Context, docID string) (Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	doc, exists := m.docs[docID]
	if !exists {
		return Snapshot{}, ErrDocumentNotFound
	}

	if doc.snapshot == nil {
		return Snapshot{}, ErrSnapshotNotFound
	}

	return *doc.snapshot, nil
}

// AppendChange adds an applied change to the document's log.
func (m *MemoryStore) AppendChange(_ context.Context, docID string, c ot.Change) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	doc, exists := m.docs[docID]
	if !exists {
		return ErrDocumentNotFound
	}

	if c.Version != len(doc.changes)+1 {
		return ErrVersionConflict
	}

	doc.changes = append(doc.changes, c)

	return nil
}

// LoadChanges retrieves all changes after the given version.
func (m *MemoryStore) LoadChanges(_ context.Context, docID string, sinceVersion int) ([]ot.Change, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	doc, exists := m.docs[docID]
	if !exists {
		return nil, ErrDocumentNotFound
	}

	var result []ot.Change

	for _, c := range doc.changes {
		if c.Version > sinceVersion {
			result = append(result, c)
		}
	}

	return result, nil
}

// LatestVersion returns the highest logged version for a document.
func (m *MemoryStore) LatestVersion(_ context.Context, docID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	doc, exists := m.docs[docID]
	if !exists {
		return 0, ErrDocumentNotFound
	}

	return len(doc.changes), nil
}

// Close is a no-op for the in-memory store.
func (m *MemoryStore) Close() error {
	return nil
}

// Ping always succeeds.
func (m *MemoryStore) Ping(context.Context) error {
	return nil
}

// Ensure MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)
