package document

import (
	"errors"
	"sync"
)

// Common errors.
var (
	ErrDocumentNotFound = errors.New("document not found")
	ErrDocumentExists   = errors.New("document already exists")
)

// Store is the in-memory table of documents keyed by id.
// It is safe for concurrent use.
type Store struct {
	mu    sync.RWMutex
	docs  map[string]*Document
	order []string
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		docs: make(map[string]*Document),
	}
}

// Add inserts a document. Returns ErrDocumentExists if the id is taken.
func (s *Store) Add(doc *Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.docs[doc.id]; exists {
		return ErrDocumentExists
	}

	s.docs[doc.id] = doc
	s.order = append(s.order, doc.id)

	return nil
}

// Get returns the document with the given id.
func (s *Store) Get(id string) (*Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.docs[id]
	if !ok {
		return nil, ErrDocumentNotFound
	}

	return doc, nil
}

// List returns every document in creation order.
func (s *Store) List() []*Document {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*Document, 0, len(s.order))
	for _, id := range s.order {
		result = append(result, s.docs[id])
	}

	return result
}

// Len returns the number of documents.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.docs)
}
