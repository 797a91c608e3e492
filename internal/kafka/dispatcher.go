// Package kafka exports engine events to a Kafka topic.
//
// Events are queued locally and sent by a fixed pool of workers, so a slow
// or unavailable broker never blocks an edit. When the queue is full the
// event is dropped.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"
	"github.com/serroba/collab-notes/internal/bus"
)

var (
	ErrQueueFull = errors.New("kafka queue full")
	ErrClosed    = errors.New("kafka dispatcher closed")
)

// Producer is the part of sarama.SyncProducer the dispatcher uses.
type Producer interface {
	SendMessage(msg *sarama.ProducerMessage) (partition int32, offset int64, err error)
	Close() error
}

// Options tunes the dispatcher. Zero values take the defaults below.
type Options struct {
	Topic        string
	QueueSize    int
	Workers      int
	MaxRetries   int
	RetryBackoff time.Duration
	MaxBackoff   time.Duration
	Logger       *slog.Logger
}

const (
	defaultQueueSize  = 1024
	defaultWorkers    = 2
	defaultBackoff    = 100 * time.Millisecond
	defaultMaxBackoff = 5 * time.Second
)

// Record is the JSON value written for every event.
type Record struct {
	Kind  bus.Kind  `json:"kind"`
	Event bus.Event `json:"event"`
}

// Stats counts what happened to enqueued events.
type Stats struct {
	Sent    int64
	Failed  int64
	Dropped int64
}

// Dispatcher is a bus.Observer that sends events to Kafka, keyed by
// document id so that one document's events land on one partition.
type Dispatcher struct {
	producer Producer
	opts     Options
	log      *slog.Logger

	mu     sync.RWMutex
	closed bool
	queue  chan Record
	wg     sync.WaitGroup

	sent    atomic.Int64
	failed  atomic.Int64
	dropped atomic.Int64
}

// NewDispatcher starts the workers.
func NewDispatcher(producer Producer, opts Options) *Dispatcher {
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}

	if opts.Workers <= 0 {
		opts.Workers = defaultWorkers
	}

	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}

	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = defaultBackoff
	}

	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = defaultMaxBackoff
	}

	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	d := &Dispatcher{
		producer: producer,
		opts:     opts,
		log:      opts.Logger.With(slog.String("component", "kafka"), slog.String("topic", opts.Topic)),
		queue:    make(chan Record, opts.QueueSize),
	}

	d.wg.Add(opts.Workers)

	for i := range opts.Workers {
		go d.workerLoop(i)
	}

	return d
}

// NewSyncProducer connects a sarama producer configured for the dispatcher.
func NewSyncProducer(brokers []string) (sarama.SyncProducer, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForLocal
	cfg.Producer.Partitioner = sarama.NewHashPartitioner

	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}

	return producer, nil
}

// Notify enqueues the event without blocking.
func (d *Dispatcher) Notify(_ context.Context, ev bus.Event) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return ErrClosed
	}

	select {
	case d.queue <- Record{Kind: ev.Kind(), Event: ev}:
		return nil
	default:
		d.dropped.Add(1)
		d.log.Warn("queue full, dropping event",
			slog.String("kind", string(ev.Kind())),
			slog.String("document_id", ev.EventMeta().DocumentID),
		)

		return ErrQueueFull
	}
}

// Stats returns the counters so far.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Sent:    d.sent.Load(),
		Failed:  d.failed.Load(),
		Dropped: d.dropped.Load(),
	}
}

// Close stops accepting events, waits for the queue to drain and closes
// the producer.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()

		return nil
	}

	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	d.wg.Wait()

	return d.producer.Close()
}

func (d *Dispatcher) workerLoop(worker int) {
	defer d.wg.Done()

	for rec := range d.queue {
		d.sendWithRetry(worker, rec)
	}
}

func (d *Dispatcher) sendWithRetry(worker int, rec Record) {
	for attempt := 0; ; attempt++ {
		err := d.sendOnce(rec)
		if err == nil {
			d.sent.Add(1)

			return
		}

		if attempt >= d.opts.MaxRetries {
			d.failed.Add(1)
			d.log.Error("send failed, dropping event",
				slog.String("kind", string(rec.Kind)),
				slog.String("document_id", rec.Event.EventMeta().DocumentID),
				slog.Int("worker", worker),
				slog.Int("attempts", attempt+1),
				slog.String("err", err.Error()),
			)

			return
		}

		time.Sleep(d.backoff(attempt))
	}
}

func (d *Dispatcher) backoff(attempt int) time.Duration {
	b := d.opts.RetryBackoff << attempt
	if b <= 0 || b > d.opts.MaxBackoff {
		return d.opts.MaxBackoff
	}

	return b
}

func (d *Dispatcher) sendOnce(rec Record) error {
	value, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", rec.Kind, err)
	}

	_, _, err = d.producer.SendMessage(&sarama.ProducerMessage{
		Topic: d.opts.Topic,
		Key:   sarama.StringEncoder(rec.Event.EventMeta().DocumentID),
		Value: sarama.ByteEncoder(value),
	})

	return err
}
