package document_test

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/serroba/collab-notes/internal/document"
	"github.com/serroba/collab-notes/internal/ot"
	"github.com/stretchr/testify/require"
)

var created = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func TestNew(t *testing.T) {
	t.Parallel()

	doc := document.New("doc1", "Notes", "hello", "alice", created)
	snap := doc.Snapshot()

	if snap.Version != 0 {
		t.Errorf("expected version 0, got %d", snap.Version)
	}

	if snap.Content != "hello" {
		t.Errorf("expected content hello, got %q", snap.Content)
	}

	require.Equal(t, []string{"alice"}, snap.Collaborators)
	require.Empty(t, snap.Comments)
	require.Empty(t, snap.Cursors)
}

func TestDocument_ApplyRawChange(t *testing.T) {
	t.Parallel()

	doc := document.New("doc1", "Notes", "hello", "alice", created)

	doc.Lock()
	doc.ApplyRawChange(ot.NewInsert("alice", 5, " world"))
	doc.ApplyRawChange(ot.NewDelete("bob", 0, 6))
	doc.Unlock()

	if doc.Content() != "world" {
		t.Errorf("expected world, got %q", doc.Content())
	}

	if doc.Version() != 2 {
		t.Errorf("expected version 2, got %d", doc.Version())
	}
}

func TestDocument_AddCollaborator_GrowsOnce(t *testing.T) {
	t.Parallel()

	doc := document.New("doc1", "Notes", "", "alice", created)

	if !doc.AddCollaborator("bob") {
		t.Error("expected bob to be new")
	}

	if doc.AddCollaborator("bob") {
		t.Error("expected bob to be known the second time")
	}

	require.Equal(t, []string{"alice", "bob"}, doc.Snapshot().Collaborators)
}

func TestDocument_ActiveCursors(t *testing.T) {
	t.Parallel()

	doc := document.New("doc1", "Notes", "", "alice", created)
	doc.SetCursor(document.CursorPosition{UserID: "zoe", X: 1, Y: 2, Timestamp: created.Add(50 * time.Second)})
	doc.SetCursor(document.CursorPosition{UserID: "bob", X: 3, Y: 4, Timestamp: created.Add(40 * time.Second)})
	doc.SetCursor(document.CursorPosition{UserID: "old", Timestamp: created})

	active := doc.ActiveCursors(created.Add(30 * time.Second))

	require.Len(t, active, 2)

	if active[0].UserID != "bob" || active[1].UserID != "zoe" {
		t.Errorf("expected bob then zoe, got %s then %s", active[0].UserID, active[1].UserID)
	}

	// stale entries are filtered, not deleted
	if len(doc.Snapshot().Cursors) != 3 {
		t.Errorf("expected 3 stored cursors, got %d", len(doc.Snapshot().Cursors))
	}

	if !doc.RemoveCursor("old") {
		t.Error("expected cursor to be removed")
	}

	if doc.RemoveCursor("old") {
		t.Error("expected second removal to report false")
	}
}

func TestDocument_CommentThread(t *testing.T) {
	t.Parallel()

	doc := document.New("doc1", "Notes", "hello", "alice", created)
	doc.AddComment(document.Comment{ID: "c1", AuthorID: "alice", Position: 3, Content: "why?"})

	root, err := doc.AddReply("c1", document.Comment{ID: "r1", AuthorID: "bob", Content: "because"})
	require.NoError(t, err)

	if root != "c1" {
		t.Errorf("expected root c1, got %s", root)
	}

	// replying to a reply stays one level deep
	root, err = doc.AddReply("r1", document.Comment{ID: "r2", AuthorID: "alice", Content: "ok"})
	require.NoError(t, err)

	if root != "c1" {
		t.Errorf("expected root c1, got %s", root)
	}

	changed, err := doc.Resolve("c1")
	require.NoError(t, err)

	if !changed {
		t.Error("expected first resolve to change state")
	}

	changed, err = doc.Resolve("c1")
	require.NoError(t, err)

	if changed {
		t.Error("expected second resolve to be a no-op")
	}

	snap := doc.Snapshot()
	require.Len(t, snap.Comments, 1)
	require.Len(t, snap.Comments[0].Replies, 2)

	if !snap.Comments[0].Resolved {
		t.Error("expected comment to be resolved")
	}
}

func TestDocument_CommentNotFound(t *testing.T) {
	t.Parallel()

	doc := document.New("doc1", "Notes", "hello", "alice", created)

	if _, err := doc.AddReply("missing", document.Comment{ID: "r1"}); !errors.Is(err, document.ErrCommentNotFound) {
		t.Errorf("expected ErrCommentNotFound, got %v", err)
	}

	if _, err := doc.Resolve("missing"); !errors.Is(err, document.ErrCommentNotFound) {
		t.Errorf("expected ErrCommentNotFound, got %v", err)
	}
}

func TestDocument_SnapshotIsDetached(t *testing.T) {
	t.Parallel()

	doc := document.New("doc1", "Notes", "hello", "alice", created)
	doc.AddComment(document.Comment{ID: "c1", Content: "first"})

	snap := doc.Snapshot()
	snap.Comments[0].Content = "changed"
	snap.Collaborators[0] = "mallory"

	again := doc.Snapshot()
	if again.Comments[0].Content != "first" {
		t.Errorf("snapshot leaked comment state: %q", again.Comments[0].Content)
	}

	if again.Collaborators[0] != "alice" {
		t.Errorf("snapshot leaked collaborators: %q", again.Collaborators[0])
	}
}

func TestStore_AddAndGet(t *testing.T) {
	t.Parallel()

	store := document.NewStore()
	doc := document.New("doc1", "Notes", "hello", "alice", created)
	require.NoError(t, store.Add(doc))

	got, err := store.Get(doc.ID())
	require.NoError(t, err)

	if got != doc {
		t.Error("expected the same document back")
	}

	if _, err := store.Get("missing"); !errors.Is(err, document.ErrDocumentNotFound) {
		t.Errorf("expected ErrDocumentNotFound, got %v", err)
	}
}

func TestStore_AddDuplicate(t *testing.T) {
	t.Parallel()

	store := document.NewStore()
	require.NoError(t, store.Add(document.New("doc1", "a", "", "alice", created)))

	err := store.Add(document.New("doc1", "b", "", "bob", created))
	if !errors.Is(err, document.ErrDocumentExists) {
		t.Errorf("expected ErrDocumentExists, got %v", err)
	}
}

func TestStore_ListKeepsCreationOrder(t *testing.T) {
	t.Parallel()

	store := document.NewStore()
	first := document.New("doc2", "one", "", "alice", created)
	second := document.New("doc1", "two", "", "alice", created)
	require.NoError(t, store.Add(first))
	require.NoError(t, store.Add(second))

	docs := store.List()
	require.Len(t, docs, 2)

	if docs[0] != first || docs[1] != second {
		t.Error("expected documents in creation order")
	}
}

func TestStore_ConcurrentAdd(t *testing.T) {
	t.Parallel()

	store := document.NewStore()

	var wg sync.WaitGroup

	for i := range 20 {
		wg.Go(func() {
			_ = store.Add(document.New(fmt.Sprintf("doc%d", i), "doc", "", "alice", created))
		})
	}

	wg.Wait()

	if store.Len() != 20 {
		t.Errorf("expected 20 documents, got %d", store.Len())
	}
}

func TestRebuild(t *testing.T) {
	t.Parallel()

	doc := document.Rebuild("doc1", "Notes", created, "howdy", 3, []string{"alice", "bob", "alice"})
	snap := doc.Snapshot()

	require.Equal(t, "howdy", snap.Content)
	require.Equal(t, 3, snap.Version)
	require.Equal(t, []string{"alice", "bob"}, snap.Collaborators)
	require.True(t, snap.CreatedAt.Equal(created))
}
