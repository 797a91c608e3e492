package collab

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/serroba/collab-notes/internal/document"
	"github.com/serroba/collab-notes/internal/ot"
	"github.com/serroba/collab-notes/internal/pkg/log"
	"github.com/serroba/collab-notes/internal/storage"
)

// Restore loads every persisted document into memory, replaying each change
// log from its latest snapshot. Documents already in memory are skipped.
// Comments and cursors are not persisted and start empty.
// It returns the number of documents restored.
func (e *Engine) Restore(ctx context.Context) (int, error) {
	const op = "collab.Engine.Restore"

	if e.store == nil {
		return 0, nil
	}

	lg := log.From(ctx).With(slog.String("op", op))

	records, err := e.store.ListDocuments(ctx)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	loader := storage.NewDocumentLoader(e.store)
	restored := 0

	for _, rec := range records {
		if _, err := e.docs.Get(rec.ID); err == nil {
			continue
		}

		result, err := loader.Load(ctx, rec)
		if err != nil {
			lg.Error("load document failed",
				slog.String("document_id", rec.ID),
				slog.String("err", err.Error()),
			)

			return restored, fmt.Errorf("%s: %s: %w", op, rec.ID, err)
		}

		doc := document.Rebuild(rec.ID, rec.Title, rec.CreatedAt,
			result.Content, result.Version, collaborators(rec.CreatorID, result.Changes))

		if err := e.docs.Add(doc); err != nil {
			if errors.Is(err, document.ErrDocumentExists) {
				continue
			}

			return restored, fmt.Errorf("%s: %w", op, err)
		}

		e.seedLog(rec.ID, result.Changes)
		restored++
	}

	lg.Info("documents restored", slog.Int("count", restored))

	return restored, nil
}

func (e *Engine) seedLog(docID string, changes []ot.Change) {
	l := &docLog{history: ot.NewHistory(changes...)}
	if n := len(changes); n > 0 {
		l.lastStamp = changes[n-1].Timestamp
	}

	e.mu.Lock()
	e.logs[docID] = l
	e.mu.Unlock()
}

// collaborators lists the creator followed by every change author in order
// of first appearance.
func collaborators(creatorID string, changes []ot.Change) []string {
	seen := map[string]struct{}{creatorID: {}}
	users := []string{creatorID}

	for _, c := range changes {
		if _, ok := seen[c.UserID]; ok {
			continue
		}

		seen[c.UserID] = struct{}{}
		users = append(users, c.UserID)
	}

	return users
}
