// Package writer commits received records to the flight store in transactional batches
package writer

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/geekprojects/blackbox/pkg/store"
	"github.com/geekprojects/blackbox/pkg/telemetry"
)

// Metrics receives writer counters. agent.BaseAgent satisfies it.
type Metrics interface {
	RecordMessage(status, msgType string)
	RecordError(errorType string)
	RecordLatency(msgType string, duration time.Duration)
}

type nopMetrics struct{}

func (nopMetrics) RecordMessage(string, string) {}
func (nopMetrics) RecordError(string) {}
func (nopMetrics) RecordLatency(string, time.Duration) {}

// FlightSummary describes what one batch wrote for a single flight
type FlightSummary struct {
	Key         uint64                 `json:"key"`
	ID          uint64                 `json:"id"`
	States      int                    `json:"states"`
	LastPhase   telemetry.Phase        `json:"last_phase"`
	Occurrences []telemetry.Occurrence `json:"occurrences,omitempty"`
}

// Summary is handed to the hook before the batch commits
type Summary struct {
	Records int
	Flights map[uint64]*FlightSummary // keyed by producer flight key
}

func (s *Summary) flight(key, id uint64) *FlightSummary {
	fs, ok := s.Flights[key]
	if !ok {
		fs = &FlightSummary{Key: key, ID: id}
		s.Flights[key] = fs
	}
	return fs
}

// Hook runs inside the batch transaction after every record was written and
// before commit. Returning an error rolls the batch back.
type Hook func(ctx context.Context, tx store.Writes, summary *Summary) error

// BatchWriter writes each batch in one transaction
type BatchWriter struct {
	store    store.Store
	registry *FlightRegistry
	hook     Hook
	timeout  time.Duration
	logger   zerolog.Logger
	metrics  Metrics
}

// Option configures a BatchWriter
type Option func(*BatchWriter)

// WithHook installs a hook run before every commit
func WithHook(h Hook) Option {
	return func(w *BatchWriter) {
		w.hook = h
	}
}

// WithMetrics reports writer counters to m
func WithMetrics(m Metrics) Option {
	return func(w *BatchWriter) {
		if m != nil {
			w.metrics = m
		}
	}
}

// WithTimeout bounds how long Handle may spend on one batch
func WithTimeout(d time.Duration) Option {
	return func(w *BatchWriter) {
		w.timeout = d
	}
}

// NewBatchWriter creates a writer over st
func NewBatchWriter(st store.Store, logger zerolog.Logger, opts ...Option) *BatchWriter {
	w := &BatchWriter{
		store:    st,
		registry: NewFlightRegistry(),
		timeout:  10 * time.Second,
		logger:   logger.With().Str("component", "writer").Logger(),
		metrics:  nopMetrics{},
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Registry exposes the flight key mappings
func (w *BatchWriter) Registry() *FlightRegistry {
	return w.registry
}

// Handle writes a batch delivered by an in-process queue. Failures are logged.
func (w *BatchWriter) Handle(batch []telemetry.Record) {
	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()

	if _, err := w.Write(ctx, batch); err != nil {
		w.logger.Error().Err(err).Int("records", len(batch)).Msg("Failed to write batch")
	}
}

// Write begins a transaction, writes every record, runs the hook and commits.
// On any error the whole batch is rolled back and lost.
func (w *BatchWriter) Write(ctx context.Context, batch []telemetry.Record) (*Summary, error) {
	if len(batch) == 0 {
		return &Summary{Flights: map[uint64]*FlightSummary{}}, nil
	}
	start := time.Now()

	tx, err := w.store.Begin(ctx)
	if err != nil {
		w.metrics.RecordError("begin_error")
		return nil, err
	}
	defer tx.Rollback(ctx)

	summary, err := w.writeAll(ctx, tx, batch)
	if err == nil && w.hook != nil {
		err = w.hook(ctx, tx, summary)
	}
	if err == nil {
		err = tx.Commit(ctx)
	}
	if err != nil {
		w.registry.Discard()
		w.metrics.RecordError("write_error")
		for _, rec := range batch {
			w.metrics.RecordMessage("lost", rec.Kind.String())
		}
		return nil, err
	}

	w.registry.Commit()
	for _, rec := range batch {
		w.metrics.RecordMessage("committed", rec.Kind.String())
	}
	w.metrics.RecordLatency("batch", time.Since(start))

	w.logger.Debug().
		Int("records", summary.Records).
		Int("flights", len(summary.Flights)).
		Dur("latency_ms", time.Since(start)).
		Msg("Committed batch")

	return summary, nil
}

func (w *BatchWriter) writeAll(ctx context.Context, tx store.Tx, batch []telemetry.Record) (*Summary, error) {
	summary := &Summary{Flights: make(map[uint64]*FlightSummary)}

	for _, rec := range batch {
		switch rec.Kind {
		case telemetry.KindFlight:
			id, err := w.registry.Apply(ctx, tx, rec.Flight)
			if err != nil {
				return nil, fmt.Errorf("flight %d details: %w", rec.Flight.FlightID, err)
			}
			summary.flight(rec.Flight.FlightID, id)

		case telemetry.KindState:
			key := rec.Event.FlightID
			id, err := w.registry.Resolve(ctx, tx, key)
			if err != nil {
				return nil, fmt.Errorf("resolve flight %d: %w", key, err)
			}
			if err := tx.AppendState(ctx, id, rec.Event.State); err != nil {
				return nil, err
			}

			fs := summary.flight(key, id)
			fs.States++
			fs.LastPhase = rec.Event.State.Phase
			if rec.Event.State.Occurrence != telemetry.OccurrenceNone {
				fs.Occurrences = append(fs.Occurrences, rec.Event.State.Occurrence)
			}

		default:
			w.logger.Warn().Uint8("kind", uint8(rec.Kind)).Msg("Skipping record of unknown kind")
			continue
		}
		summary.Records++
	}
	return summary, nil
}
