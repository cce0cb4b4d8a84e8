// Package channel moves records from the tick goroutine to the writer stage.
//
// Two transports implement the same contract: an in-process Queue drained by a
// background goroutine, and a one-way NATS link between a recorder and a
// receiver process. Delivery is at-most-once in both cases.
package channel

import (
	"context"
	"errors"

	"github.com/geekprojects/blackbox/pkg/telemetry"
)

// ErrClosed is returned by a Receiver once it has been closed
var ErrClosed = errors.New("channel closed")

// Sender is the producer side of a channel. Send never blocks on I/O and never
// reports failure to the caller; lost records are logged and counted.
type Sender interface {
	Send(rec telemetry.Record)
}

// Receiver is the consumer side of a network channel. Receive blocks until a
// record arrives or ctx is done, in which case ctx.Err() is returned.
type Receiver interface {
	Receive(ctx context.Context) (telemetry.Record, error)
	Close() error
}

// Metrics receives transport counters. agent.BaseAgent satisfies it.
type Metrics interface {
	RecordMessage(status, msgType string)
	RecordError(errorType string)
}

type nopMetrics struct{}

func (nopMetrics) RecordMessage(string, string) {}
func (nopMetrics) RecordError(string) {}

func orNop(m Metrics) Metrics {
	if m == nil {
		return nopMetrics{}
	}
	return m
}
