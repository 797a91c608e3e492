// Package collab is the collaborative editing engine: it commits edits
// through the change pipeline, manages comments, cursors and sessions, and
// publishes every state change on the notification bus.
package collab

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/serroba/collab-notes/internal/bus"
	"github.com/serroba/collab-notes/internal/document"
	"github.com/serroba/collab-notes/internal/ot"
	"github.com/serroba/collab-notes/internal/pkg/log"
	"github.com/serroba/collab-notes/internal/session"
	"github.com/serroba/collab-notes/internal/storage"
)

const (
	// DefaultCursorTimeout is how long a cursor counts as active.
	DefaultCursorTimeout = 30 * time.Second

	// DefaultMaxClockSkew is how far ahead of the server clock a client
	// timestamp may be before it is capped.
	DefaultMaxClockSkew = 5 * time.Second
)

// Clock supplies the engine's notion of now.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// docLog is the change pipeline state of one document. It is only touched
// while the document lock is held.
type docLog struct {
	history   *ot.History
	lastStamp time.Time
}

// Engine is the entry point for every collaborative operation.
// It is safe for concurrent use; work on one document is serialized by
// that document's lock, and different documents never share a lock.
type Engine struct {
	docs     *document.Store
	sessions *session.Registry
	bus      *bus.Bus
	clock    Clock

	// Optional persistence
	store          storage.Store
	snapshotPolicy *storage.SnapshotPolicy

	cursorTimeout time.Duration
	maxClockSkew  time.Duration

	mu   sync.RWMutex
	logs map[string]*docLog
}

// Config holds configuration for creating an engine.
type Config struct {
	Documents      *document.Store
	Sessions       *session.Registry
	Bus            *bus.Bus
	Clock          Clock
	Store          storage.Store
	SnapshotPolicy *storage.SnapshotPolicy
	CursorTimeout  time.Duration
	MaxClockSkew   time.Duration
}

// NewEngine creates an engine. Nil dependencies get in-memory defaults and
// a nil Store disables persistence.
func NewEngine(cfg Config) *Engine {
	e := &Engine{
		docs:           cfg.Documents,
		sessions:       cfg.Sessions,
		bus:            cfg.Bus,
		clock:          cfg.Clock,
		store:          cfg.Store,
		snapshotPolicy: cfg.SnapshotPolicy,
		cursorTimeout:  cfg.CursorTimeout,
		maxClockSkew:   cfg.MaxClockSkew,
		logs:           make(map[string]*docLog),
	}

	if e.docs == nil {
		e.docs = document.NewStore()
	}

	if e.sessions == nil {
		e.sessions = session.NewRegistry()
	}

	if e.bus == nil {
		e.bus = bus.New()
	}

	if e.clock == nil {
		e.clock = systemClock{}
	}

	if e.cursorTimeout <= 0 {
		e.cursorTimeout = DefaultCursorTimeout
	}

	if e.maxClockSkew <= 0 {
		e.maxClockSkew = DefaultMaxClockSkew
	}

	return e
}

// Sessions exposes the registry so an idle reaper can scan it.
func (e *Engine) Sessions() *session.Registry {
	return e.sessions
}

// Subscribe registers an observer for one document, or for every document
// when docID is empty.
func (e *Engine) Subscribe(docID string, obs bus.Observer) func() {
	if docID == "" {
		return e.bus.SubscribeAll(obs)
	}

	return e.bus.Subscribe(docID, obs)
}

// CreateDocument allocates a new document at version 0.
func (e *Engine) CreateDocument(ctx context.Context, title, initialContent, creatorID string) (document.Snapshot, error) {
	const op = "collab.Engine.CreateDocument"

	lg := log.From(ctx).With(slog.String("op", op), slog.String("user_id", creatorID))

	if creatorID == "" {
		lg.Warn("missing creator")

		return document.Snapshot{}, fmt.Errorf("%s: %w: creator is required", op, ErrInvalidOperation)
	}

	now := e.clock.Now()
	doc := document.New(uuid.NewString(), title, initialContent, creatorID, now)

	if e.store != nil {
		err := e.store.CreateDocument(ctx, storage.DocumentRecord{
			ID:             doc.ID(),
			Title:          title,
			InitialContent: initialContent,
			CreatorID:      creatorID,
			CreatedAt:      now,
		})
		if err != nil {
			lg.Error("persist document failed", slog.String("err", err.Error()))

			return document.Snapshot{}, fmt.Errorf("%s: %w", op, err)
		}
	}

	if err := e.docs.Add(doc); err != nil {
		return document.Snapshot{}, fmt.Errorf("%s: %w", op, err)
	}

	doc.Lock()
	defer doc.Unlock()

	e.logFor(doc.ID())

	snap := doc.Snapshot()
	e.bus.Publish(ctx, bus.DocumentCreated{Meta: e.meta(doc.ID()), Document: snap})

	lg.Info("document created", slog.String("document_id", doc.ID()))

	return snap, nil
}

// GetDocument returns a detached copy of the document.
func (e *Engine) GetDocument(_ context.Context, docID string) (document.Snapshot, error) {
	const op = "collab.Engine.GetDocument"

	doc, err := e.docs.Get(docID)
	if err != nil {
		return document.Snapshot{}, fmt.Errorf("%s: %w", op, err)
	}

	doc.Lock()
	defer doc.Unlock()

	return doc.Snapshot(), nil
}

// ListDocuments returns the documents the user collaborates on, or every
// document when userID is empty.
func (e *Engine) ListDocuments(_ context.Context, userID string) []document.Snapshot {
	docs := e.docs.List()
	result := make([]document.Snapshot, 0, len(docs))

	for _, doc := range docs {
		doc.Lock()
		if userID == "" || doc.HasCollaborator(userID) {
			result = append(result, doc.Snapshot())
		}
		doc.Unlock()
	}

	return result
}

// ChangeHistory returns the changes applied after sinceVersion, in order.
func (e *Engine) ChangeHistory(_ context.Context, docID string, sinceVersion int) ([]ot.Change, error) {
	const op = "collab.Engine.ChangeHistory"

	if _, err := e.docs.Get(docID); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return e.logFor(docID).history.Since(sinceVersion), nil
}

// logFor returns the change log of a document, creating it on first use.
func (e *Engine) logFor(docID string) *docLog {
	e.mu.RLock()
	l, exists := e.logs[docID]
	e.mu.RUnlock()

	if exists {
		return l
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if l, exists = e.logs[docID]; exists {
		return l
	}

	l = &docLog{history: ot.NewHistory()}
	e.logs[docID] = l

	return l
}

// lockDocument fetches a document and takes its lock. The caller must call
// Unlock on the returned document.
func (e *Engine) lockDocument(docID string) (*document.Document, error) {
	doc, err := e.docs.Get(docID)
	if err != nil {
		return nil, err
	}

	doc.Lock()

	return doc, nil
}

// touch records activity for a user who may not hold a session.
func (e *Engine) touch(docID, userID string, now time.Time) {
	_ = e.sessions.Touch(docID, userID, now)
}

func (e *Engine) meta(docID string) bus.Meta {
	return bus.Meta{DocumentID: docID, At: e.clock.Now()}
}
