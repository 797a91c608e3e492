package presence_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/serroba/collab-notes/internal/bus"
	"github.com/serroba/collab-notes/internal/document"
	"github.com/serroba/collab-notes/internal/ot"
	"github.com/serroba/collab-notes/internal/presence"
	"github.com/stretchr/testify/require"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(d)
}

// newMirror connects to a local Redis and skips the test when none is
// running. Every test gets its own key prefix.
func newMirror(t *testing.T, c *clock) *presence.Mirror {
	t.Helper()

	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:6379"})
	t.Cleanup(func() { _ = rdb.Close() })

	ctx := context.Background()
	if err := rdb.Ping(ctx).Err(); err != nil {
		t.Skipf("skip: redis not available: %v", err)
	}

	prefix := "test:" + uuid.NewString()
	t.Cleanup(func() {
		iter := rdb.Scan(ctx, 0, prefix+":*", 0).Iterator()
		for iter.Next(ctx) {
			_ = rdb.Del(ctx, iter.Val()).Err()
		}
	})

	m := presence.NewMirror(rdb, presence.Options{Prefix: prefix, TTL: time.Minute, Now: c.Now})
	t.Cleanup(func() { _ = m.Close() })

	return m
}

func meta(docID string) bus.Meta {
	return bus.Meta{DocumentID: docID, At: time.Now()}
}

func TestMirror_TracksMembers(t *testing.T) {
	t.Parallel()

	c := &clock{now: time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)}
	m := newMirror(t, c)
	ctx := context.Background()

	require.NoError(t, m.Apply(ctx, bus.UserJoined{Meta: meta("doc1"), UserID: "alice"}))
	require.NoError(t, m.Apply(ctx, bus.ChangeApplied{Meta: meta("doc1"), Change: ot.Change{UserID: "bob"}}))
	require.NoError(t, m.Apply(ctx, bus.UserJoined{Meta: meta("doc2"), UserID: "carol"}))

	members, err := m.Members(ctx, "doc1")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"alice", "bob"}, members)

	require.NoError(t, m.Apply(ctx, bus.UserLeft{Meta: meta("doc1"), UserID: "alice", Reason: bus.LeaveExplicit}))

	members, err = m.Members(ctx, "doc1")
	require.NoError(t, err)
	require.Equal(t, []string{"bob"}, members)
}

func TestMirror_ExpiresIdleMembers(t *testing.T) {
	t.Parallel()

	c := &clock{now: time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)}
	m := newMirror(t, c)
	ctx := context.Background()

	require.NoError(t, m.Apply(ctx, bus.UserJoined{Meta: meta("doc1"), UserID: "alice"}))
	c.Advance(45 * time.Second)
	require.NoError(t, m.Apply(ctx, bus.CommentAdded{Meta: meta("doc1"), Comment: document.Comment{AuthorID: "bob"}}))
	c.Advance(30 * time.Second)

	members, err := m.Members(ctx, "doc1")
	require.NoError(t, err)
	require.Equal(t, []string{"bob"}, members)
}

func TestMirror_Cursors(t *testing.T) {
	t.Parallel()

	c := &clock{now: time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)}
	m := newMirror(t, c)
	ctx := context.Background()

	_, ok, err := m.Cursor(ctx, "doc1", "alice")
	require.NoError(t, err)
	require.False(t, ok)

	cursor := document.CursorPosition{UserID: "alice", X: 12, Y: 3.5, Timestamp: c.Now()}
	require.NoError(t, m.Apply(ctx, bus.CursorUpdated{Meta: meta("doc1"), Cursor: cursor}))

	got, ok, err := m.Cursor(ctx, "doc1", "alice")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, cursor.X, got.X)
	require.Equal(t, cursor.Y, got.Y)
	require.True(t, cursor.Timestamp.Equal(got.Timestamp))

	require.NoError(t, m.Apply(ctx, bus.UserLeft{Meta: meta("doc1"), UserID: "alice", Reason: bus.LeaveIdle}))

	_, ok, err = m.Cursor(ctx, "doc1", "alice")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestMirror_NotifyWritesOnClose(t *testing.T) {
	t.Parallel()

	c := &clock{now: time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)}
	m := newMirror(t, c)
	ctx := context.Background()

	require.NoError(t, m.Notify(ctx, bus.UserJoined{Meta: meta("doc1"), UserID: "alice"}))
	require.NoError(t, m.Notify(ctx, bus.UserJoined{Meta: meta("doc1"), UserID: "bob"}))
	require.NoError(t, m.Notify(ctx, bus.UserLeft{Meta: meta("doc1"), UserID: "alice", Reason: bus.LeaveExplicit}))
	require.NoError(t, m.Close())

	members, err := m.Members(ctx, "doc1")
	require.NoError(t, err)
	require.Equal(t, []string{"bob"}, members)
	require.Equal(t, presence.Stats{Applied: 3}, m.Stats())
}
