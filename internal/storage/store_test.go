package storage_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/serroba/collab-notes/internal/ot"
	"github.com/serroba/collab-notes/internal/storage"
	"github.com/stretchr/testify/require"
)

const testDocID = "doc1"

var created = time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)

type storeFactory func(t *testing.T) storage.Store

func backends() map[string]storeFactory {
	return map[string]storeFactory{
		"memory": func(_ *testing.T) storage.Store {
			return storage.NewMemoryStore()
		},
		"sqlite": func(t *testing.T) storage.Store {
			t.Helper()

			s, err := storage.OpenSQLite(filepath.Join(t.TempDir(), "collab.db"))
			require.NoError(t, err)
			t.Cleanup(func() { _ = s.Close() })

			return s
		},
	}
}

func record(id string) storage.DocumentRecord {
	return storage.DocumentRecord{
		ID:             id,
		Title:          "Notes",
		InitialContent: "hello",
		CreatorID:      "alice",
		CreatedAt:      created,
	}
}

func change(version int, c ot.Change) ot.Change {
	c.ID = "change-" + string(rune('0'+version))
	c.Version = version
	c.Timestamp = created.Add(time.Duration(version) * time.Second)

	return c
}

func TestStore_Contract(t *testing.T) {
	t.Parallel()

	for name, newStore := range backends() {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			ctx := context.Background()
			s := newStore(t)

			require.NoError(t, s.Ping(ctx))

			t.Run("create and list", func(t *testing.T) {
				require.NoError(t, s.CreateDocument(ctx, record(testDocID)))
				require.NoError(t, s.CreateDocument(ctx, record("doc2")))

				err := s.CreateDocument(ctx, record(testDocID))
				if !errors.Is(err, storage.ErrDocumentExists) {
					t.Errorf("expected ErrDocumentExists, got %v", err)
				}

				docs, err := s.ListDocuments(ctx)
				require.NoError(t, err)
				require.Len(t, docs, 2)

				if docs[0].ID != testDocID || docs[1].ID != "doc2" {
					t.Errorf("expected creation order, got %s, %s", docs[0].ID, docs[1].ID)
				}

				require.True(t, docs[0].CreatedAt.Equal(created))
				require.Equal(t, "hello", docs[0].InitialContent)
			})

			t.Run("append and load changes", func(t *testing.T) {
				first := change(1, ot.NewInsert("alice", 5, " world"))
				second := change(2, ot.NewDelete("bob", 0, 6))

				require.NoError(t, s.AppendChange(ctx, testDocID, first))
				require.NoError(t, s.AppendChange(ctx, testDocID, second))

				err := s.AppendChange(ctx, testDocID, change(5, ot.NewInsert("carol", 0, "x")))
				if !errors.Is(err, storage.ErrVersionConflict) {
					t.Errorf("expected ErrVersionConflict, got %v", err)
				}

				changes, err := s.LoadChanges(ctx, testDocID, 0)
				require.NoError(t, err)
				require.Len(t, changes, 2)

				if changes[1].Operation != ot.Delete || changes[1].Length != 6 {
					t.Errorf("unexpected second change: %+v", changes[1])
				}

				require.True(t, changes[0].Timestamp.Equal(first.Timestamp))

				tail, err := s.LoadChanges(ctx, testDocID, 1)
				require.NoError(t, err)
				require.Len(t, tail, 1)

				latest, err := s.LatestVersion(ctx, testDocID)
				require.NoError(t, err)

				if latest != 2 {
					t.Errorf("expected latest version 2, got %d", latest)
				}
			})

			t.Run("snapshots", func(t *testing.T) {
				_, err := s.LoadSnapshot(ctx, "doc2")
				if !errors.Is(err, storage.ErrSnapshotNotFound) {
					t.Errorf("expected ErrSnapshotNotFound, got %v", err)
				}

				require.NoError(t, s.SaveSnapshot(ctx, testDocID, 1, "hello world"))
				require.NoError(t, s.SaveSnapshot(ctx, testDocID, 2, "world"))

				snap, err := s.LoadSnapshot(ctx, testDocID)
				require.NoError(t, err)

				if snap.Version != 2 || snap.Content != "world" {
					t.Errorf("expected latest snapshot, got %+v", snap)
				}
			})

			t.Run("unknown document", func(t *testing.T) {
				_, err := s.LoadChanges(ctx, "missing", 0)
				if !errors.Is(err, storage.ErrDocumentNotFound) {
					t.Errorf("LoadChanges: expected ErrDocumentNotFound, got %v", err)
				}

				err = s.AppendChange(ctx, "missing", change(1, ot.NewInsert("a", 0, "x")))
				if !errors.Is(err, storage.ErrDocumentNotFound) {
					t.Errorf("AppendChange: expected ErrDocumentNotFound, got %v", err)
				}

				err = s.SaveSnapshot(ctx, "missing", 1, "")
				if !errors.Is(err, storage.ErrDocumentNotFound) {
					t.Errorf("SaveSnapshot: expected ErrDocumentNotFound, got %v", err)
				}

				_, err = s.LatestVersion(ctx, "missing")
				if !errors.Is(err, storage.ErrDocumentNotFound) {
					t.Errorf("LatestVersion: expected ErrDocumentNotFound, got %v", err)
				}
			})
		})
	}
}

func TestDocumentLoader_Load(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	tests := []struct {
		name         string
		snapshotAt   int
		snapshotText string
	}{
		{name: "without snapshot"},
		{name: "with snapshot", snapshotAt: 1, snapshotText: "hello world"},
		{name: "snapshot at head", snapshotAt: 2, snapshotText: "world"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			s := storage.NewMemoryStore()
			require.NoError(t, s.CreateDocument(ctx, record(testDocID)))
			require.NoError(t, s.AppendChange(ctx, testDocID, change(1, ot.NewInsert("alice", 5, " world"))))
			require.NoError(t, s.AppendChange(ctx, testDocID, change(2, ot.NewDelete("bob", 0, 6))))

			if tt.snapshotAt > 0 {
				require.NoError(t, s.SaveSnapshot(ctx, testDocID, tt.snapshotAt, tt.snapshotText))
			}

			result, err := storage.NewDocumentLoader(s).Load(ctx, record(testDocID))
			require.NoError(t, err)

			if result.Content != "world" {
				t.Errorf("expected world, got %q", result.Content)
			}

			if result.Version != 2 {
				t.Errorf("expected version 2, got %d", result.Version)
			}

			require.Len(t, result.Changes, 2)
		})
	}
}

func TestDocumentLoader_SnapshotAheadOfLog(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := storage.NewMemoryStore()
	require.NoError(t, s.CreateDocument(ctx, record(testDocID)))
	require.NoError(t, s.SaveSnapshot(ctx, testDocID, 3, "ghost"))

	_, err := storage.NewDocumentLoader(s).Load(ctx, record(testDocID))
	if !errors.Is(err, storage.ErrVersionConflict) {
		t.Errorf("expected ErrVersionConflict, got %v", err)
	}
}

func TestSnapshotPolicy(t *testing.T) {
	t.Parallel()

	p := storage.NewSnapshotPolicy(3)

	if p.RecordChange(testDocID) || p.RecordChange(testDocID) {
		t.Error("should not snapshot before the threshold")
	}

	if !p.RecordChange(testDocID) {
		t.Error("should snapshot at the threshold")
	}

	p.Reset(testDocID)

	if p.ChangesSinceSnapshot(testDocID) != 0 {
		t.Errorf("expected counter reset, got %d", p.ChangesSinceSnapshot(testDocID))
	}

	if storage.NewSnapshotPolicy(0).RecordChange(testDocID) {
		t.Error("zero threshold disables snapshots")
	}
}
