package writer

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/geekprojects/blackbox/pkg/channel"
	"github.com/geekprojects/blackbox/pkg/telemetry"
)

// DefaultInterval is how often an IntervalWriter commits
const DefaultInterval = time.Second

// IntervalWriter drains a network receiver and commits what arrived once per
// interval. Records are buffered between commits so no transaction stays open
// while waiting on the network; a failed commit loses at most one interval.
type IntervalWriter struct {
	rx       channel.Receiver
	batch    *BatchWriter
	interval time.Duration
	logger   zerolog.Logger

	pending []telemetry.Record
}

// NewIntervalWriter creates a writer committing through batch every interval
func NewIntervalWriter(rx channel.Receiver, batch *BatchWriter, interval time.Duration, logger zerolog.Logger) *IntervalWriter {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &IntervalWriter{
		rx:       rx,
		batch:    batch,
		interval: interval,
		logger:   logger.With().Str("component", "interval_writer").Logger(),
	}
}

// Run receives and commits until ctx is cancelled or the receiver closes.
// Whatever is buffered at that point is committed before returning.
func (w *IntervalWriter) Run(ctx context.Context) error {
	w.logger.Info().Dur("interval", w.interval).Msg("Writer started")
	next := time.Now().Add(w.interval)

	for {
		recvCtx, cancel := context.WithDeadline(ctx, next)
		rec, err := w.rx.Receive(recvCtx)
		cancel()

		switch {
		case err == nil:
			w.pending = append(w.pending, rec)

		case ctx.Err() != nil:
			w.final()
			return nil

		case errors.Is(err, context.DeadlineExceeded):
			// interval elapsed

		case errors.Is(err, channel.ErrClosed):
			w.final()
			return err

		default:
			w.logger.Warn().Err(err).Msg("Receive failed")
			w.batch.metrics.RecordError("receive_error")
			// pace until the next commit instead of spinning on a broken link
			select {
			case <-ctx.Done():
			case <-time.After(time.Until(next)):
			}
		}

		if !time.Now().Before(next) {
			w.flush(ctx)
			next = time.Now().Add(w.interval)
		}
	}
}

// Pending returns the number of records waiting for the next commit
func (w *IntervalWriter) Pending() int {
	return len(w.pending)
}

func (w *IntervalWriter) flush(ctx context.Context) {
	if len(w.pending) == 0 {
		return
	}
	batch := w.pending
	w.pending = nil

	if _, err := w.batch.Write(ctx, batch); err != nil {
		w.logger.Error().Err(err).Int("records", len(batch)).Msg("Failed to commit interval")
	}
}

func (w *IntervalWriter) final() {
	ctx, cancel := context.WithTimeout(context.Background(), w.batch.timeout)
	defer cancel()
	w.flush(ctx)
	w.logger.Info().Msg("Writer stopped")
}
