package channel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"github.com/geekprojects/blackbox/pkg/telemetry"
)

// NATSSender publishes each record as one fixed-size binary message.
// In core mode nothing is acknowledged; in JetStream mode publishes are
// asynchronous and acknowledgements are only counted.
type NATSSender struct {
	nc      *nats.Conn
	js      jetstream.JetStream
	subject string
	logger  zerolog.Logger
	metrics Metrics
}

// NewNATSSender creates a sender on a core NATS subject
func NewNATSSender(nc *nats.Conn, subject string, logger zerolog.Logger, metrics Metrics) *NATSSender {
	return &NATSSender{
		nc:      nc,
		subject: subject,
		logger:  logger.With().Str("component", "nats_sender").Str("subject", subject).Logger(),
		metrics: orNop(metrics),
	}
}

// NewJetStreamSender creates a sender that publishes into a JetStream stream
func NewJetStreamSender(js jetstream.JetStream, subject string, logger zerolog.Logger, metrics Metrics) *NATSSender {
	return &NATSSender{
		js:      js,
		subject: subject,
		logger:  logger.With().Str("component", "jetstream_sender").Str("subject", subject).Logger(),
		metrics: orNop(metrics),
	}
}

// Send implements Sender
func (s *NATSSender) Send(rec telemetry.Record) {
	kind := rec.Kind.String()

	data, err := telemetry.MarshalRecord(rec)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to encode record")
		s.metrics.RecordError("encode_error")
		return
	}

	if s.js != nil {
		_, err = s.js.PublishAsync(s.subject, data)
	} else {
		err = s.nc.Publish(s.subject, data)
	}
	if err != nil {
		s.logger.Warn().Err(err).Str("kind", kind).Uint64("flight_key", rec.FlightKey()).Msg("Failed to send record")
		s.metrics.RecordError("send_error")
		s.metrics.RecordMessage("dropped", kind)
		return
	}
	s.metrics.RecordMessage("sent", kind)
}

// Flush waits for buffered publishes to leave the process
func (s *NATSSender) Flush(ctx context.Context) error {
	if s.js != nil {
		select {
		case <-s.js.PublishAsyncComplete():
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return s.nc.FlushWithContext(ctx)
}

// decode turns a message payload into a record, logging and counting malformed payloads
func decode(data []byte, logger zerolog.Logger, metrics Metrics) (telemetry.Record, bool) {
	rec, err := telemetry.UnmarshalRecord(data)
	if err != nil {
		logger.Warn().Err(err).Int("size", len(data)).Msg("Dropping malformed record")
		metrics.RecordError("malformed_record")
		return telemetry.Record{}, false
	}
	metrics.RecordMessage("received", rec.Kind.String())
	return rec, true
}

// NATSReceiver pulls records from a core NATS subscription. Messages that
// arrive while nothing is subscribed are lost.
type NATSReceiver struct {
	sub     *nats.Subscription
	logger  zerolog.Logger
	metrics Metrics
}

// NewNATSReceiver subscribes to subject
func NewNATSReceiver(nc *nats.Conn, subject string, logger zerolog.Logger, metrics Metrics) (*NATSReceiver, error) {
	sub, err := nc.SubscribeSync(subject)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}

	return &NATSReceiver{
		sub:     sub,
		logger:  logger.With().Str("component", "nats_receiver").Str("subject", subject).Logger(),
		metrics: orNop(metrics),
	}, nil
}

// Receive implements Receiver
func (r *NATSReceiver) Receive(ctx context.Context) (telemetry.Record, error) {
	for {
		msg, err := r.sub.NextMsgWithContext(ctx)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return telemetry.Record{}, ctxErr
			}
			if errors.Is(err, nats.ErrBadSubscription) || errors.Is(err, nats.ErrConnectionClosed) {
				return telemetry.Record{}, ErrClosed
			}
			return telemetry.Record{}, fmt.Errorf("failed to receive: %w", err)
		}

		if rec, ok := decode(msg.Data, r.logger, r.metrics); ok {
			return rec, nil
		}
	}
}

// Close unsubscribes
func (r *NATSReceiver) Close() error {
	if err := r.sub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrBadSubscription) && !errors.Is(err, nats.ErrConnectionClosed) {
		return err
	}
	return nil
}

// JetStreamReceiver pulls records from a durable JetStream consumer in batches
type JetStreamReceiver struct {
	consumer  jetstream.Consumer
	batchSize int
	maxWait   time.Duration
	pending   [][]byte
	logger    zerolog.Logger
	metrics   Metrics
}

// NewJetStreamReceiver reads from consumer, fetching up to batchSize messages at a time
func NewJetStreamReceiver(consumer jetstream.Consumer, batchSize int, logger zerolog.Logger, metrics Metrics) *JetStreamReceiver {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &JetStreamReceiver{
		consumer:  consumer,
		batchSize: batchSize,
		maxWait:   5 * time.Second,
		logger:    logger.With().Str("component", "jetstream_receiver").Logger(),
		metrics:   orNop(metrics),
	}
}

// Receive implements Receiver
func (r *JetStreamReceiver) Receive(ctx context.Context) (telemetry.Record, error) {
	for {
		for len(r.pending) > 0 {
			data := r.pending[0]
			r.pending = r.pending[1:]
			if rec, ok := decode(data, r.logger, r.metrics); ok {
				return rec, nil
			}
		}

		if err := ctx.Err(); err != nil {
			return telemetry.Record{}, err
		}

		wait := r.maxWait
		if deadline, ok := ctx.Deadline(); ok {
			wait = time.Until(deadline)
			if wait > r.maxWait {
				wait = r.maxWait
			}
		}
		if wait < time.Millisecond {
			return telemetry.Record{}, context.DeadlineExceeded
		}

		msgs, err := r.consumer.Fetch(r.batchSize, jetstream.FetchMaxWait(wait))
		if err != nil {
			r.metrics.RecordError("fetch_error")
			return telemetry.Record{}, fmt.Errorf("failed to fetch messages: %w", err)
		}

		for msg := range msgs.Messages() {
			r.pending = append(r.pending, msg.Data())
		}

		if err := msgs.Error(); err != nil && !errors.Is(err, nats.ErrTimeout) && !errors.Is(err, context.DeadlineExceeded) {
			r.logger.Warn().Err(err).Msg("Message batch error")
		}
	}
}

// Close implements Receiver. The durable consumer outlives the receiver.
func (r *JetStreamReceiver) Close() error {
	r.pending = nil
	return nil
}
