package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/serroba/collab-notes/internal/pkg/log"
)

// Evictor removes an idle session through the same path as an explicit
// leave. It reports whether the session was actually removed.
type Evictor interface {
	EvictIdle(ctx context.Context, docID, userID string, cutoff time.Time) (bool, error)
}

// Reaper periodically evicts sessions that have been idle for too long.
type Reaper struct {
	registry      *Registry
	evictor       Evictor
	period        time.Duration
	idleThreshold time.Duration
	now           func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// ReaperConfig holds configuration for creating a reaper.
type ReaperConfig struct {
	Registry      *Registry
	Evictor       Evictor
	Period        time.Duration
	IdleThreshold time.Duration
	Now           func() time.Time
}

// NewReaper creates a reaper. Zero durations fall back to a 60s period and
// a 5m idle threshold.
func NewReaper(cfg ReaperConfig) *Reaper {
	period := cfg.Period
	if period <= 0 {
		period = time.Minute
	}

	idle := cfg.IdleThreshold
	if idle <= 0 {
		idle = 5 * time.Minute
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Reaper{
		registry:      cfg.Registry,
		evictor:       cfg.Evictor,
		period:        period,
		idleThreshold: idle,
		now:           now,
	}
}

// Sweep evicts every session idle past the threshold and returns how many
// were removed.
func (r *Reaper) Sweep(ctx context.Context) int {
	cutoff := r.now().Add(-r.idleThreshold)
	evicted := 0

	for _, s := range r.registry.Idle(cutoff) {
		ok, err := r.evictor.EvictIdle(ctx, s.DocumentID, s.UserID, cutoff)
		if err != nil {
			log.From(ctx).Error("idle eviction failed",
				slog.String("document_id", s.DocumentID),
				slog.String("user_id", s.UserID),
				slog.String("err", err.Error()),
			)

			continue
		}

		if ok {
			evicted++
		}
	}

	return evicted
}

// Start launches the periodic sweep. Calling Start on a running reaper does
// nothing.
func (r *Reaper) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})

	go r.run(ctx, r.done)
}

// Stop cancels the sweep loop and waits for it to exit.
func (r *Reaper) Stop() {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.cancel, r.done = nil, nil
	r.mu.Unlock()

	if cancel == nil {
		return
	}

	cancel()
	<-done
}

func (r *Reaper) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(r.period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.Sweep(ctx); n > 0 {
				log.From(ctx).Info("evicted idle sessions", slog.Int("count", n))
			}
		}
	}
}
