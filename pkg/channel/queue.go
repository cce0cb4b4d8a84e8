package channel

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/geekprojects/blackbox/pkg/telemetry"
)

// Handler processes one batch of records in the order they were sent
type Handler func(batch []telemetry.Record)

// Queue is an unbounded in-process channel. Send appends under a short lock and
// signals a single consumer goroutine, which swaps the pending records out and
// hands them to the handler as one batch.
type Queue struct {
	handler Handler
	logger  zerolog.Logger
	metrics Metrics

	mu      sync.Mutex
	pending []telemetry.Record
	started bool
	closed  bool

	wake chan struct{}
	done chan struct{}
}

// NewQueue creates a queue that delivers batches to handler once started
func NewQueue(handler Handler, logger zerolog.Logger, metrics Metrics) *Queue {
	return &Queue{
		handler: handler,
		logger:  logger.With().Str("component", "queue").Logger(),
		metrics: orNop(metrics),
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

// Start launches the consumer goroutine. It is a no-op when already started.
func (q *Queue) Start() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.started || q.closed {
		return
	}
	q.started = true
	go q.run()
}

// Send enqueues rec. Records sent after Close are dropped.
func (q *Queue) Send(rec telemetry.Record) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		q.logger.Warn().Str("kind", rec.Kind.String()).Msg("Queue closed, dropping record")
		q.metrics.RecordMessage("dropped", rec.Kind.String())
		return
	}
	q.pending = append(q.pending, rec)
	q.mu.Unlock()

	q.signal()
}

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Len returns the number of records waiting for the consumer
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Close stops accepting records and waits for the consumer to drain what is
// already queued. It returns ctx.Err() if ctx ends first.
func (q *Queue) Close(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return q.wait(ctx)
	}
	q.closed = true
	started := q.started
	q.mu.Unlock()

	if !started {
		// nothing will ever drain; hand the remainder over synchronously
		q.drain()
		close(q.done)
		return nil
	}

	q.signal()
	return q.wait(ctx)
}

func (q *Queue) wait(ctx context.Context) error {
	select {
	case <-q.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed once the consumer has exited
func (q *Queue) Done() <-chan struct{} {
	return q.done
}

func (q *Queue) run() {
	defer close(q.done)

	for range q.wake {
		if q.drain() {
			q.logger.Debug().Msg("Queue consumer stopped")
			return
		}
	}
}

// drain hands the pending records to the handler and reports whether the queue is closed.
// Records and the closed flag are read under the same lock, so nothing accepted is left behind.
func (q *Queue) drain() bool {
	q.mu.Lock()
	batch := q.pending
	q.pending = nil
	closed := q.closed
	q.mu.Unlock()

	if len(batch) > 0 {
		q.handler(batch)
		for _, rec := range batch {
			q.metrics.RecordMessage("delivered", rec.Kind.String())
		}
	}
	return closed
}
