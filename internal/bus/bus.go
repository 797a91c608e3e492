package bus

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/serroba/collab-notes/internal/pkg/log"
)

// Observer receives events. A returned error is logged and does not stop
// delivery to other observers.
type Observer interface {
	Notify(ctx context.Context, ev Event) error
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, ev Event) error

// Notify calls f.
func (f ObserverFunc) Notify(ctx context.Context, ev Event) error {
	return f(ctx, ev)
}

// FailureHook is told about every observer that errored or panicked.
type FailureHook func(ev Event, err error)

type subscription struct {
	id    uint64
	docID string // empty means every document
	obs   Observer
}

// Bus delivers events synchronously, in publish order, to every observer
// registered at publish time.
type Bus struct {
	mu        sync.RWMutex
	nextID    uint64
	subs      []subscription
	onFailure FailureHook
}

// Option configures a Bus.
type Option func(*Bus)

// WithFailureHook installs a hook for observer failures.
func WithFailureHook(h FailureHook) Option {
	return func(b *Bus) {
		b.onFailure = h
	}
}

// New creates a bus with no observers.
func New(opts ...Option) *Bus {
	b := &Bus{}
	for _, opt := range opts {
		opt(b)
	}

	return b
}

// Subscribe registers an observer for one document. The returned function
// removes it and is safe to call more than once.
func (b *Bus) Subscribe(docID string, obs Observer) func() {
	return b.add(docID, obs)
}

// SubscribeAll registers an observer for every document.
func (b *Bus) SubscribeAll(obs Observer) func() {
	return b.add("", obs)
}

func (b *Bus) add(docID string, obs Observer) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, subscription{id: id, docID: docID, obs: obs})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()

		b.subs = slices.DeleteFunc(b.subs, func(s subscription) bool {
			return s.id == id
		})
	}
}

// Len returns the number of registered observers.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return len(b.subs)
}

// Publish delivers ev to every matching observer. Observers run outside the
// bus lock, so they may subscribe or unsubscribe while handling an event.
func (b *Bus) Publish(ctx context.Context, ev Event) {
	docID := ev.EventMeta().DocumentID

	b.mu.RLock()
	targets := make([]Observer, 0, len(b.subs))

	for _, s := range b.subs {
		if s.docID == "" || s.docID == docID {
			targets = append(targets, s.obs)
		}
	}
	b.mu.RUnlock()

	for _, obs := range targets {
		if err := deliver(ctx, obs, ev); err != nil {
			log.From(ctx).Error("observer failed",
				slog.String("kind", string(ev.Kind())),
				slog.String("document_id", docID),
				slog.String("err", err.Error()),
			)

			if b.onFailure != nil {
				b.onFailure(ev, err)
			}
		}
	}
}

func deliver(ctx context.Context, obs Observer, ev Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("observer panic: %v", r)
		}
	}()

	return obs.Notify(ctx, ev)
}
