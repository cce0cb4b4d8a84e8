// Package natsutil provides NATS JetStream configuration and helpers
package natsutil

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

const (
	// StateStream holds the records of the jetstream transport
	StateStream = "FLIGHTSTATE"
	// StateSubject is the default subject records are published on
	StateSubject = "blackbox.state"
	// ReceiverConsumer is the durable consumer read by the receiver
	ReceiverConsumer = "receiver"
)

// StreamConfig returns the FLIGHTSTATE stream capturing subject
func StreamConfig(subject string) jetstream.StreamConfig {
	return jetstream.StreamConfig{
		Name:        StateStream,
		Description: "Flight state and flight detail records",
		Subjects:    []string{subject},
		Retention:   jetstream.LimitsPolicy,
		MaxBytes:    1 * 1024 * 1024 * 1024, // 1GB
		MaxAge:      24 * time.Hour,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
		Discard:     jetstream.DiscardOld,
	}
}

// ConsumerConfigs defines the consumers of the state stream.
// Delivery is at most once, so nothing is acknowledged.
var ConsumerConfigs = map[string]jetstream.ConsumerConfig{
	ReceiverConsumer: {
		Durable:       ReceiverConsumer,
		Description:   "Receiver consumer committing flight state to storage",
		AckPolicy:     jetstream.AckNonePolicy,
		DeliverPolicy: jetstream.DeliverNewPolicy,
	},
}

// SetupStreams creates the state stream for subject if it does not exist
func SetupStreams(ctx context.Context, js jetstream.JetStream, subject string) error {
	if _, err := js.Stream(ctx, StateStream); err == nil {
		return nil
	}

	if _, err := js.CreateStream(ctx, StreamConfig(subject)); err != nil {
		return fmt.Errorf("failed to create stream %s: %w", StateStream, err)
	}
	return nil
}

// SetupConsumer returns the named consumer, creating it if needed
func SetupConsumer(ctx context.Context, js jetstream.JetStream, consumerName string) (jetstream.Consumer, error) {
	cfg, ok := ConsumerConfigs[consumerName]
	if !ok {
		cfg = jetstream.ConsumerConfig{
			Durable:   consumerName,
			AckPolicy: jetstream.AckNonePolicy,
		}
	}

	stream, err := js.Stream(ctx, StateStream)
	if err != nil {
		return nil, fmt.Errorf("stream %s not found: %w", StateStream, err)
	}

	consumer, err := stream.Consumer(ctx, cfg.Durable)
	if err == nil {
		return consumer, nil
	}

	return stream.CreateConsumer(ctx, cfg)
}
