package storage

import (
	"context"
	"errors"
	"sync"

	"github.com/serroba/collab-notes/internal/ot"
)

// SnapshotPolicy determines when to create snapshots.
type SnapshotPolicy struct {
	mu                   sync.Mutex
	threshold            int            // Create snapshot every N changes
	changesSinceSnapshot map[string]int // Track changes per document since last snapshot
}

// NewSnapshotPolicy creates a policy that triggers snapshots every N changes.
func NewSnapshotPolicy(threshold int) *SnapshotPolicy {
	return &SnapshotPolicy{
		threshold:            threshold,
		changesSinceSnapshot: make(map[string]int),
	}
}

// RecordChange records that a change was applied.
// Returns true if a snapshot should be created.
func (p *SnapshotPolicy) RecordChange(docID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.changesSinceSnapshot[docID]++

	return p.threshold > 0 && p.changesSinceSnapshot[docID] >= p.threshold
}

// Reset resets the counter after a snapshot is created.
func (p *SnapshotPolicy) Reset(docID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.changesSinceSnapshot[docID] = 0
}

// ChangesSinceSnapshot returns the number of changes since the last snapshot.
func (p *SnapshotPolicy) ChangesSinceSnapshot(docID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.changesSinceSnapshot[docID]
}

// DocumentLoader rebuilds a document from a snapshot and the changes
// logged after it.
type DocumentLoader struct {
	store Store
}

// NewDocumentLoader creates a new document loader.
func NewDocumentLoader(store Store) *DocumentLoader {
	return &DocumentLoader{store: store}
}

// LoadResult contains the result of loading a document.
type LoadResult struct {
	Record  DocumentRecord
	Content string      // Reconstructed document text
	Version int         // Current version
	Changes []ot.Change // The full change log
}

// Load reconstructs a document's state from storage.
func (l *DocumentLoader) Load(ctx context.Context, rec DocumentRecord) (LoadResult, error) {
	changes, err := l.store.LoadChanges(ctx, rec.ID, 0)
	if err != nil {
		return LoadResult{}, err
	}

	snapshot, err := l.store.LoadSnapshot(ctx, rec.ID)

	var (
		content       string
		startRevision int
	)

	switch {
	case errors.Is(err, ErrSnapshotNotFound):
		content = rec.InitialContent
	case err != nil:
		return LoadResult{}, err
	case snapshot.Version > len(changes):
		return LoadResult{}, ErrVersionConflict
	default:
		content = snapshot.Content
		startRevision = snapshot.Version
	}

	return LoadResult{
		Record:  rec,
		Content: ot.Replay(content, changes[startRevision:]),
		Version: len(changes),
		Changes: changes,
	}, nil
}
