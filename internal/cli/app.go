package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/redis/go-redis/v9"
	"github.com/serroba/collab-notes/internal/api"
	"github.com/serroba/collab-notes/internal/bus"
	"github.com/serroba/collab-notes/internal/collab"
	"github.com/serroba/collab-notes/internal/config"
	"github.com/serroba/collab-notes/internal/kafka"
	"github.com/serroba/collab-notes/internal/metrics"
	"github.com/serroba/collab-notes/internal/presence"
	"github.com/serroba/collab-notes/internal/session"
	"github.com/serroba/collab-notes/internal/storage"
	"github.com/serroba/collab-notes/internal/ws"
)

// app is the wired server. close releases everything in reverse order of
// construction.
type app struct {
	engine  *collab.Engine
	hub     *ws.Hub
	metrics *metrics.Metrics
	reaper  *session.Reaper
	handler http.Handler

	closers []func() error
}

// newApp builds every component from the configuration and restores the
// persisted documents. Redis and Kafka are wired only when configured.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{metrics: metrics.New()}

	store, err := openStore(cfg.Storage)
	if err != nil {
		return nil, err
	}

	a.closers = append(a.closers, store.Close)

	a.engine = collab.NewEngine(collab.Config{
		Bus:            bus.New(bus.WithFailureHook(a.metrics.ObserverFailed)),
		Store:          store,
		SnapshotPolicy: storage.NewSnapshotPolicy(cfg.Collab.SnapshotEvery),
		CursorTimeout:  cfg.Collab.CursorTimeout,
		MaxClockSkew:   cfg.Collab.MaxClockSkew,
	})

	restored, err := a.engine.Restore(ctx)
	if err != nil {
		_ = a.close()

		return nil, err
	}

	logger.Info("storage ready", slog.String("driver", cfg.Storage.Driver), slog.Int("documents", restored))

	a.hub = ws.NewHub()
	a.engine.Subscribe("", a.hub)
	a.engine.Subscribe("", a.metrics)

	sessions := a.engine.Sessions()
	a.metrics.Gauge("active_sessions", "Open editing sessions.", func() float64 {
		return float64(sessions.Len())
	})
	a.metrics.Gauge("websocket_clients", "Connected WebSocket clients.", func() float64 {
		return float64(a.hub.TotalClients())
	})

	checks := []func(context.Context) error{store.Ping}

	if cfg.Redis.Addr != "" {
		mirror, err := a.wireRedis(ctx, cfg.Redis, logger)
		if err != nil {
			_ = a.close()

			return nil, err
		}

		checks = append(checks, mirror.Ping)

		logger.Info("presence mirror enabled", slog.String("addr", cfg.Redis.Addr))
	}

	if len(cfg.Kafka.Brokers) > 0 {
		if err := a.wireKafka(cfg.Kafka, logger); err != nil {
			_ = a.close()

			return nil, err
		}

		logger.Info("event export enabled", slog.String("topic", cfg.Kafka.Topic))
	}

	a.reaper = session.NewReaper(session.ReaperConfig{
		Registry:      sessions,
		Evictor:       a.engine,
		Period:        cfg.Collab.ReaperPeriod,
		IdleThreshold: cfg.Collab.IdleThreshold,
	})

	a.handler = api.NewServer(api.ServerConfig{
		Engine:          a.engine,
		Hub:             a.hub,
		Logger:          logger,
		Metrics:         a.metrics.Handler(),
		Ready:           ready(checks),
		ClientQueueSize: cfg.HTTP.ClientQueueSize,
	}).Handler()

	return a, nil
}

func openStore(cfg config.StorageConfig) (storage.Store, error) {
	switch cfg.Driver {
	case config.DriverSQLite:
		s, err := storage.OpenSQLite(cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("open sqlite %q: %w", cfg.DSN, err)
		}

		return s, nil
	case config.DriverMemory:
		return storage.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

func (a *app) wireRedis(ctx context.Context, cfg config.RedisConfig, logger *slog.Logger) (*presence.Mirror, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	a.closers = append(a.closers, rdb.Close)

	pingCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	if err := rdb.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}

	mirror := presence.NewMirror(rdb, presence.Options{
		TTL:       cfg.TTL,
		Timeout:   cfg.Timeout,
		QueueSize: cfg.QueueSize,
		Workers:   cfg.Workers,
		Logger:    logger,
	})

	unsubscribe := a.engine.Subscribe("", mirror)
	a.closers = append(a.closers, func() error {
		unsubscribe()

		return mirror.Close()
	})

	a.metrics.Counter("presence_applied_total", "Presence events written to Redis.", func() float64 {
		return float64(mirror.Stats().Applied)
	})
	a.metrics.Counter("presence_failed_total", "Presence events that failed to reach Redis.", func() float64 {
		return float64(mirror.Stats().Failed)
	})
	a.metrics.Counter("presence_dropped_total", "Presence events dropped because the queue was full.", func() float64 {
		return float64(mirror.Stats().Dropped)
	})

	return mirror, nil
}

func (a *app) wireKafka(cfg config.KafkaConfig, logger *slog.Logger) error {
	producer, err := kafka.NewSyncProducer(cfg.Brokers)
	if err != nil {
		return err
	}

	dispatcher := kafka.NewDispatcher(producer, kafka.Options{
		Topic:        cfg.Topic,
		QueueSize:    cfg.QueueSize,
		Workers:      cfg.Workers,
		MaxRetries:   cfg.MaxRetries,
		RetryBackoff: cfg.RetryBackoff,
		Logger:       logger,
	})

	unsubscribe := a.engine.Subscribe("", dispatcher)
	a.closers = append(a.closers, func() error {
		unsubscribe()

		return dispatcher.Close()
	})

	a.metrics.Counter("kafka_sent_total", "Events written to Kafka.", func() float64 {
		return float64(dispatcher.Stats().Sent)
	})
	a.metrics.Counter("kafka_failed_total", "Events dropped after exhausting retries.", func() float64 {
		return float64(dispatcher.Stats().Failed)
	})
	a.metrics.Counter("kafka_dropped_total", "Events dropped because the queue was full.", func() float64 {
		return float64(dispatcher.Stats().Dropped)
	})

	return nil
}

// ready runs every check in order and returns the first failure.
func ready(checks []func(context.Context) error) func(context.Context) error {
	return func(ctx context.Context) error {
		for _, check := range checks {
			if err := check(ctx); err != nil {
				return err
			}
		}

		return nil
	}
}

func (a *app) close() error {
	if a.reaper != nil {
		a.reaper.Stop()
	}

	var errs []error

	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}

	a.closers = nil

	return errors.Join(errs...)
}
