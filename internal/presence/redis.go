// Package presence mirrors who is active in each document into Redis, so
// other processes can show presence without asking the engine.
//
// Events are queued per document and written by a small pool of workers.
// The engine publishes under the document lock, so Notify never talks to
// Redis itself. When a queue is full the event is dropped.
package presence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/serroba/collab-notes/internal/bus"
	"github.com/serroba/collab-notes/internal/document"
)

var (
	ErrQueueFull = errors.New("presence queue full")
	ErrClosed    = errors.New("presence mirror closed")
)

const (
	defaultPrefix    = "presence"
	defaultTTL       = 5 * time.Minute
	defaultTimeout   = 500 * time.Millisecond
	defaultQueueSize = 1024
	defaultWorkers   = 4
)

// Options configures a Mirror.
type Options struct {
	// Prefix namespaces every key. Defaults to "presence".
	Prefix  string
	TTL     time.Duration
	Timeout time.Duration
	Now     func() time.Time

	// QueueSize bounds each worker's queue.
	QueueSize int
	Workers   int
	Logger    *slog.Logger
}

// Stats counts what happened to queued events.
type Stats struct {
	Applied int64
	Failed  int64
	Dropped int64
}

// Mirror is a bus.Observer. Every event carrying a user refreshes that
// user's entry in a sorted set per document, scored by its expiry time.
// Cursor positions are stored as JSON strings with the same TTL.
//
// A document always maps to the same worker, so its events reach Redis in
// publish order.
//
// Keys:
//
//	{prefix}:room:{docID}           sorted set of user ids
//	{prefix}:cursor:{docID}:{user}  cursor JSON
type Mirror struct {
	rdb   redis.UniversalClient
	opts  Options
	log   *slog.Logger
	apply func(context.Context, bus.Event) error

	mu     sync.RWMutex
	closed bool
	queues []chan bus.Event
	wg     sync.WaitGroup

	applied atomic.Int64
	failed  atomic.Int64
	dropped atomic.Int64
}

// NewMirror wraps a connected client and starts the workers. Close stops
// them; it does not close the client.
func NewMirror(rdb redis.UniversalClient, opts Options) *Mirror {
	m := &Mirror{rdb: rdb}
	m.start(opts, m.Apply)

	return m
}

func (m *Mirror) start(opts Options, apply func(context.Context, bus.Event) error) {
	if opts.Prefix == "" {
		opts.Prefix = defaultPrefix
	}

	if opts.TTL <= 0 {
		opts.TTL = defaultTTL
	}

	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}

	if opts.Now == nil {
		opts.Now = time.Now
	}

	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}

	if opts.Workers <= 0 {
		opts.Workers = defaultWorkers
	}

	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	m.opts = opts
	m.log = opts.Logger.With(slog.String("component", "presence"))
	m.apply = apply
	m.queues = make([]chan bus.Event, opts.Workers)

	m.wg.Add(opts.Workers)

	for i := range m.queues {
		m.queues[i] = make(chan bus.Event, opts.QueueSize)
		go m.workerLoop(m.queues[i])
	}
}

// Notify enqueues the event on its document's worker without blocking.
func (m *Mirror) Notify(_ context.Context, ev bus.Event) error {
	docID := ev.EventMeta().DocumentID

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return ErrClosed
	}

	select {
	case m.queues[m.shard(docID)] <- ev:
		return nil
	default:
		m.dropped.Add(1)
		m.log.Warn("queue full, dropping event",
			slog.String("kind", string(ev.Kind())),
			slog.String("document_id", docID),
		)

		return ErrQueueFull
	}
}

// Apply writes the event to Redis within the configured timeout.
func (m *Mirror) Apply(ctx context.Context, ev bus.Event) error {
	ctx, cancel := context.WithTimeout(ctx, m.opts.Timeout)
	defer cancel()

	docID := ev.EventMeta().DocumentID

	var err error

	switch e := ev.(type) {
	case bus.UserJoined:
		err = m.touch(ctx, docID, e.UserID)
	case bus.ChangeApplied:
		err = m.touch(ctx, docID, e.Change.UserID)
	case bus.CommentAdded:
		err = m.touch(ctx, docID, e.Comment.AuthorID)
	case bus.CommentReplied:
		err = m.touch(ctx, docID, e.Reply.AuthorID)
	case bus.CommentResolved:
		err = m.touch(ctx, docID, e.UserID)
	case bus.CursorUpdated:
		err = m.setCursor(ctx, docID, e.Cursor)
	case bus.UserLeft:
		err = m.remove(ctx, docID, e.UserID)
	}

	if err != nil {
		return fmt.Errorf("presence %s: %w", ev.Kind(), err)
	}

	return nil
}

// Stats returns the counters so far.
func (m *Mirror) Stats() Stats {
	return Stats{
		Applied: m.applied.Load(),
		Failed:  m.failed.Load(),
		Dropped: m.dropped.Load(),
	}
}

// Close stops accepting events and waits for the queues to drain.
func (m *Mirror) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()

		return nil
	}

	m.closed = true
	for _, q := range m.queues {
		close(q)
	}
	m.mu.Unlock()

	m.wg.Wait()

	return nil
}

func (m *Mirror) workerLoop(queue <-chan bus.Event) {
	defer m.wg.Done()

	for ev := range queue {
		if err := m.apply(context.Background(), ev); err != nil {
			m.failed.Add(1)
			m.log.Warn("mirror write failed",
				slog.String("kind", string(ev.Kind())),
				slog.String("document_id", ev.EventMeta().DocumentID),
				slog.String("err", err.Error()),
			)

			continue
		}

		m.applied.Add(1)
	}
}

func (m *Mirror) shard(docID string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(docID))

	return int(h.Sum32() % uint32(len(m.queues)))
}

// Members returns the users whose entries have not expired, dropping the
// expired ones on the way.
func (m *Mirror) Members(ctx context.Context, docID string) ([]string, error) {
	key := m.roomKey(docID)
	now := strconv.FormatInt(m.opts.Now().UnixMilli(), 10)

	pipe := m.rdb.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "-inf", "("+now)
	members := pipe.ZRangeByScore(ctx, key, &redis.ZRangeBy{Min: now, Max: "+inf"})

	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("presence members: %w", err)
	}

	return members.Val(), nil
}

// Cursor returns the stored cursor. ok is false when none is stored.
func (m *Mirror) Cursor(ctx context.Context, docID, userID string) (document.CursorPosition, bool, error) {
	data, err := m.rdb.Get(ctx, m.cursorKey(docID, userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return document.CursorPosition{}, false, nil
	}

	if err != nil {
		return document.CursorPosition{}, false, fmt.Errorf("presence cursor: %w", err)
	}

	var cursor document.CursorPosition
	if err := json.Unmarshal(data, &cursor); err != nil {
		return document.CursorPosition{}, false, fmt.Errorf("presence cursor: %w", err)
	}

	return cursor, true, nil
}

// Ping checks the connection.
func (m *Mirror) Ping(ctx context.Context) error {
	return m.rdb.Ping(ctx).Err()
}

func (m *Mirror) touch(ctx context.Context, docID, userID string) error {
	if userID == "" {
		return nil
	}

	pipe := m.rdb.TxPipeline()
	m.queueTouch(ctx, pipe, docID, userID)
	_, err := pipe.Exec(ctx)

	return err
}

func (m *Mirror) queueTouch(ctx context.Context, pipe redis.Pipeliner, docID, userID string) {
	key := m.roomKey(docID)
	expireAt := m.opts.Now().Add(m.opts.TTL)

	pipe.ZAdd(ctx, key, redis.Z{Score: float64(expireAt.UnixMilli()), Member: userID})
	pipe.Expire(ctx, key, m.opts.TTL)
}

func (m *Mirror) setCursor(ctx context.Context, docID string, cursor document.CursorPosition) error {
	data, err := json.Marshal(cursor)
	if err != nil {
		return err
	}

	pipe := m.rdb.TxPipeline()
	m.queueTouch(ctx, pipe, docID, cursor.UserID)
	pipe.Set(ctx, m.cursorKey(docID, cursor.UserID), data, m.opts.TTL)
	_, err = pipe.Exec(ctx)

	return err
}

func (m *Mirror) remove(ctx context.Context, docID, userID string) error {
	pipe := m.rdb.TxPipeline()
	pipe.ZRem(ctx, m.roomKey(docID), userID)
	pipe.Del(ctx, m.cursorKey(docID, userID))
	_, err := pipe.Exec(ctx)

	return err
}

func (m *Mirror) roomKey(docID string) string {
	return m.opts.Prefix + ":room:" + docID
}

func (m *Mirror) cursorKey(docID, userID string) string {
	return m.opts.Prefix + ":cursor:" + docID + ":" + userID
}
