package storage

import (
	"context"
	"errors"
	"time"

	"github.com/serroba/collab-notes/internal/ot"
)

// Common errors.
var (
	ErrDocumentNotFound = errors.New("document not found")
	ErrDocumentExists   = errors.New("document already exists")
	ErrSnapshotNotFound = errors.New("snapshot not found")
	ErrVersionConflict  = errors.New("change version does not follow the log")
)

// DocumentRecord is the immutable part of a document needed to rebuild it.
type DocumentRecord struct {
	ID             string
	Title          string
	InitialContent string
	CreatorID      string
	CreatedAt      time.Time
}

// Snapshot represents a point-in-time capture of a document's text.
type Snapshot struct {
	DocID     string
	Version   int
	Content   string
	CreatedAt time.Time
}

// Store defines the interface for persisting documents and their change logs.
// The change log is never pruned; snapshots only shorten replay.
type Store interface {
	// CreateDocument records a new document.
	// Returns ErrDocumentExists if the document already exists.
	CreateDocument(ctx context.Context, rec DocumentRecord) error

	// ListDocuments returns every document in creation order.
	ListDocuments(ctx context.Context) ([]DocumentRecord, error)

	// SaveSnapshot persists the document text at the given version.
	// Returns ErrDocumentNotFound if the document doesn't exist.
	SaveSnapshot(ctx context.Context, docID string, version int, content string) error

	// LoadSnapshot retrieves the latest snapshot for a document.
	// Returns ErrDocumentNotFound if the document doesn't exist.
	// Returns ErrSnapshotNotFound if document exists but has no snapshot.
	LoadSnapshot(ctx context.Context, docID string) (Snapshot, error)

	// AppendChange adds an applied change to the document's log. The change
	// version must be the next one.
	// Returns ErrDocumentNotFound if the document doesn't exist.
	AppendChange(ctx context.Context, docID string, c ot.Change) error

	// LoadChanges retrieves all changes after the given version.
	// Returns ErrDocumentNotFound if the document doesn't exist.
	LoadChanges(ctx context.Context, docID string, sinceVersion int) ([]ot.Change, error)

	// LatestVersion returns the highest logged version for a document.
	// Returns ErrDocumentNotFound if the document doesn't exist.
	LatestVersion(ctx context.Context, docID string) (int, error)

	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}
