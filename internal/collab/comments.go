package collab

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/serroba/collab-notes/internal/bus"
	"github.com/serroba/collab-notes/internal/document"
	"github.com/serroba/collab-notes/internal/pkg/log"
)

// AddComment anchors a new comment thread at a character offset. Offsets
// past the end of the text are clamped to it.
func (e *Engine) AddComment(ctx context.Context, docID, userID string, position int, content string) (document.Comment, error) {
	const op = "collab.Engine.AddComment"

	lg := log.From(ctx).With(
		slog.String("op", op),
		slog.String("document_id", docID),
		slog.String("user_id", userID),
	)

	if err := validateComment(userID, content); err != nil {
		lg.Warn("invalid comment", slog.String("err", err.Error()))

		return document.Comment{}, fmt.Errorf("%s: %w", op, err)
	}

	if position < 0 {
		lg.Warn("negative comment position", slog.Int("position", position))

		return document.Comment{}, fmt.Errorf("%s: %w: negative position", op, ErrInvalidOperation)
	}

	doc, err := e.lockDocument(docID)
	if err != nil {
		return document.Comment{}, fmt.Errorf("%s: %w", op, err)
	}
	defer doc.Unlock()

	now := e.clock.Now()
	c := document.Comment{
		ID:        uuid.NewString(),
		AuthorID:  userID,
		Timestamp: now,
		Position:  min(position, doc.Len()),
		Content:   content,
		Replies:   []document.Comment{},
	}

	doc.AddComment(c)
	doc.AddCollaborator(userID)
	e.touch(docID, userID, now)

	e.bus.Publish(ctx, bus.CommentAdded{Meta: e.meta(docID), Comment: c})

	lg.Debug("comment added", slog.String("comment_id", c.ID))

	return c, nil
}

// ReplyToComment appends a reply to the thread containing commentID.
func (e *Engine) ReplyToComment(ctx context.Context, docID, commentID, userID, content string) (document.Comment, error) {
	const op = "collab.Engine.ReplyToComment"

	lg := log.From(ctx).With(
		slog.String("op", op),
		slog.String("document_id", docID),
		slog.String("comment_id", commentID),
		slog.String("user_id", userID),
	)

	if err := validateComment(userID, content); err != nil {
		lg.Warn("invalid reply", slog.String("err", err.Error()))

		return document.Comment{}, fmt.Errorf("%s: %w", op, err)
	}

	doc, err := e.lockDocument(docID)
	if err != nil {
		return document.Comment{}, fmt.Errorf("%s: %w", op, err)
	}
	defer doc.Unlock()

	parent, err := doc.Comment(commentID)
	if err != nil {
		lg.Warn("parent comment not found")

		return document.Comment{}, fmt.Errorf("%s: %w", op, err)
	}

	now := e.clock.Now()
	reply := document.Comment{
		ID:        uuid.NewString(),
		AuthorID:  userID,
		Timestamp: now,
		Position:  parent.Position,
		Content:   content,
		Replies:   []document.Comment{},
	}

	rootID, err := doc.AddReply(commentID, reply)
	if err != nil {
		return document.Comment{}, fmt.Errorf("%s: %w", op, err)
	}

	doc.AddCollaborator(userID)
	e.touch(docID, userID, now)

	e.bus.Publish(ctx, bus.CommentReplied{Meta: e.meta(docID), ParentID: rootID, Reply: reply})

	return reply, nil
}

// ResolveComment marks a comment or reply as resolved. Resolving an already
// resolved comment succeeds without publishing anything.
func (e *Engine) ResolveComment(ctx context.Context, docID, commentID, userID string) error {
	const op = "collab.Engine.ResolveComment"

	lg := log.From(ctx).With(
		slog.String("op", op),
		slog.String("document_id", docID),
		slog.String("comment_id", commentID),
	)

	if userID == "" {
		return fmt.Errorf("%s: %w: user is required", op, ErrInvalidOperation)
	}

	doc, err := e.lockDocument(docID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer doc.Unlock()

	changed, err := doc.Resolve(commentID)
	if err != nil {
		lg.Warn("comment not found")

		return fmt.Errorf("%s: %w", op, err)
	}

	e.touch(docID, userID, e.clock.Now())

	if !changed {
		return nil
	}

	e.bus.Publish(ctx, bus.CommentResolved{Meta: e.meta(docID), CommentID: commentID, UserID: userID})

	return nil
}

func validateComment(userID, content string) error {
	if userID == "" {
		return fmt.Errorf("%w: user is required", ErrInvalidOperation)
	}

	if content == "" {
		return fmt.Errorf("%w: empty content", ErrInvalidOperation)
	}

	return nil
}
