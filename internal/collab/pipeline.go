package collab

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/serroba/collab-notes/internal/bus"
	"github.com/serroba/collab-notes/internal/document"
	"github.com/serroba/collab-notes/internal/ot"
	"github.com/serroba/collab-notes/internal/pkg/log"
)

// EditRequest is an edit submitted by a client.
type EditRequest struct {
	DocumentID string
	UserID     string
	Operation  ot.OpType
	Position   int
	Content    string
	Length     int

	// BaseVersion is the document version the client had seen when it made
	// the edit. Nil means the client has seen every applied change.
	BaseVersion *int

	// Timestamp is when the client made the edit. Zero means now. A value
	// further ahead of the server clock than the allowed skew is capped.
	Timestamp time.Time
}

// SubmitEdit commits an edit. The change is rebased over every change the
// client had not seen, clamped to the text, persisted, applied, logged and
// published, all under the document lock. The returned change is the one
// that was applied.
func (e *Engine) SubmitEdit(ctx context.Context, req EditRequest) (ot.Change, error) {
	const op = "collab.Engine.SubmitEdit"

	lg := log.From(ctx).With(
		slog.String("op", op),
		slog.String("document_id", req.DocumentID),
		slog.String("user_id", req.UserID),
	)

	doc, err := e.lockDocument(req.DocumentID)
	if err != nil {
		lg.Warn("document not found")

		return ot.Change{}, fmt.Errorf("%s: %w", op, err)
	}
	defer doc.Unlock()

	l := e.logFor(doc.ID())

	raw, err := e.buildChange(req, l)
	if err != nil {
		lg.Warn("invalid edit", slog.String("err", err.Error()))

		return ot.Change{}, fmt.Errorf("%s: %w: %w", op, ErrInvalidOperation, err)
	}

	rebased, err := l.history.Rebase(raw)
	if err != nil {
		lg.Warn("rebase rejected", slog.String("err", err.Error()))

		return ot.Change{}, fmt.Errorf("%s: %w: %w", op, ErrInvalidOperation, err)
	}

	rebased = ot.Clamp(rebased, doc.Len())
	rebased.Version = l.history.Version() + 1

	if e.store != nil {
		if err := e.store.AppendChange(ctx, doc.ID(), rebased); err != nil {
			lg.Error("persist change failed", slog.String("err", err.Error()))

			return ot.Change{}, fmt.Errorf("%s: %w", op, err)
		}
	}

	doc.ApplyRawChange(rebased)
	applied := l.history.Append(rebased)

	if req.Timestamp.IsZero() {
		l.lastStamp = applied.Timestamp
	}

	doc.AddCollaborator(req.UserID)
	e.touch(doc.ID(), req.UserID, e.clock.Now())
	e.maybeSnapshot(ctx, doc)

	e.bus.Publish(ctx, bus.ChangeApplied{Meta: e.meta(doc.ID()), Change: applied})

	lg.Debug("change applied",
		slog.Int("version", applied.Version),
		slog.String("operation", string(applied.Operation)),
		slog.Int("position", applied.Position),
	)

	return applied, nil
}

// buildChange validates the request and stamps a fresh change.
func (e *Engine) buildChange(req EditRequest, l *docLog) (ot.Change, error) {
	if req.UserID == "" {
		return ot.Change{}, errors.New("user is required")
	}

	base := l.history.Version()
	if req.BaseVersion != nil {
		base = *req.BaseVersion
	}

	c := ot.Change{
		ID:          uuid.NewString(),
		UserID:      req.UserID,
		Timestamp:   req.Timestamp,
		Operation:   req.Operation,
		Position:    req.Position,
		Content:     req.Content,
		Length:      req.Length,
		BaseVersion: base,
	}

	if err := ot.Validate(c); err != nil {
		return ot.Change{}, err
	}

	now := e.clock.Now()

	switch {
	case c.Timestamp.IsZero():
		c.Timestamp = now
		if !c.Timestamp.After(l.lastStamp) {
			c.Timestamp = l.lastStamp.Add(time.Nanosecond)
		}
	case c.Timestamp.After(now.Add(e.maxClockSkew)):
		c.Timestamp = now.Add(e.maxClockSkew)
	}

	return c, nil
}

// maybeSnapshot saves a snapshot when the policy asks for one. Failures are
// logged and do not undo the change.
func (e *Engine) maybeSnapshot(ctx context.Context, doc *document.Document) {
	if e.store == nil || e.snapshotPolicy == nil {
		return
	}

	if !e.snapshotPolicy.RecordChange(doc.ID()) {
		return
	}

	if err := e.store.SaveSnapshot(ctx, doc.ID(), doc.Version(), doc.Content()); err != nil {
		log.From(ctx).Error("snapshot failed",
			slog.String("document_id", doc.ID()),
			slog.String("err", err.Error()),
		)

		return
	}

	e.snapshotPolicy.Reset(doc.ID())
}
