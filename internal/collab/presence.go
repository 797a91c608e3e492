package collab

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/serroba/collab-notes/internal/bus"
	"github.com/serroba/collab-notes/internal/document"
	"github.com/serroba/collab-notes/internal/pkg/log"
	"github.com/serroba/collab-notes/internal/session"
)

// JoinDocument opens a session for the user, replacing any earlier one, and
// makes them a collaborator.
func (e *Engine) JoinDocument(ctx context.Context, docID, userID string) (session.Session, error) {
	const op = "collab.Engine.JoinDocument"

	lg := log.From(ctx).With(
		slog.String("op", op),
		slog.String("document_id", docID),
		slog.String("user_id", userID),
	)

	if userID == "" {
		return session.Session{}, fmt.Errorf("%s: %w: user is required", op, ErrInvalidOperation)
	}

	doc, err := e.lockDocument(docID)
	if err != nil {
		lg.Warn("document not found")

		return session.Session{}, fmt.Errorf("%s: %w", op, err)
	}
	defer doc.Unlock()

	s := e.sessions.Join(docID, userID, e.clock.Now())
	doc.AddCollaborator(userID)

	e.bus.Publish(ctx, bus.UserJoined{Meta: e.meta(docID), UserID: userID})

	lg.Info("user joined")

	return s, nil
}

// LeaveDocument closes the user's session and drops their cursor. Leaving
// without a session is a no-op.
func (e *Engine) LeaveDocument(ctx context.Context, docID, userID string) error {
	const op = "collab.Engine.LeaveDocument"

	doc, err := e.lockDocument(docID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer doc.Unlock()

	if _, ok := e.sessions.Leave(docID, userID); !ok {
		return nil
	}

	e.leaveLocked(ctx, doc, userID, bus.LeaveExplicit)

	log.From(ctx).Info("user left",
		slog.String("op", op),
		slog.String("document_id", docID),
		slog.String("user_id", userID),
	)

	return nil
}

// EvictIdle removes a session only if it is still idle at the cutoff once the
// document lock is held. It implements session.Evictor.
func (e *Engine) EvictIdle(ctx context.Context, docID, userID string, cutoff time.Time) (bool, error) {
	const op = "collab.Engine.EvictIdle"

	doc, err := e.lockDocument(docID)
	if err != nil {
		// The document is gone, so the session can only be dropped.
		e.sessions.Leave(docID, userID)

		return false, fmt.Errorf("%s: %w", op, err)
	}
	defer doc.Unlock()

	if _, ok := e.sessions.LeaveIfIdle(docID, userID, cutoff); !ok {
		return false, nil
	}

	e.leaveLocked(ctx, doc, userID, bus.LeaveIdle)

	return true, nil
}

func (e *Engine) leaveLocked(ctx context.Context, doc *document.Document, userID string, reason bus.LeaveReason) {
	doc.RemoveCursor(userID)

	e.bus.Publish(ctx, bus.UserLeft{Meta: e.meta(doc.ID()), UserID: userID, Reason: reason})
}

// UpdateCursor records the user's latest cursor position.
func (e *Engine) UpdateCursor(ctx context.Context, docID, userID string, x, y float64) (document.CursorPosition, error) {
	const op = "collab.Engine.UpdateCursor"

	if userID == "" {
		return document.CursorPosition{}, fmt.Errorf("%s: %w: user is required", op, ErrInvalidOperation)
	}

	doc, err := e.lockDocument(docID)
	if err != nil {
		return document.CursorPosition{}, fmt.Errorf("%s: %w", op, err)
	}
	defer doc.Unlock()

	now := e.clock.Now()
	cur := document.CursorPosition{UserID: userID, X: x, Y: y, Timestamp: now}

	doc.SetCursor(cur)
	doc.AddCollaborator(userID)
	e.touch(docID, userID, now)

	e.bus.Publish(ctx, bus.CursorUpdated{Meta: e.meta(docID), Cursor: cur})

	return cur, nil
}

// ActiveCursors returns the cursors updated within the cursor timeout,
// ordered by user id.
func (e *Engine) ActiveCursors(_ context.Context, docID string) ([]document.CursorPosition, error) {
	const op = "collab.Engine.ActiveCursors"

	doc, err := e.lockDocument(docID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer doc.Unlock()

	return doc.ActiveCursors(e.clock.Now().Add(-e.cursorTimeout)), nil
}
