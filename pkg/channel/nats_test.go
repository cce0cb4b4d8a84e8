package channel

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geekprojects/blackbox/pkg/telemetry"
)

// connect returns a live NATS connection or skips the test
func connect(t *testing.T) *nats.Conn {
	t.Helper()
	url := os.Getenv("NATS_URL")
	if url == "" {
		t.Skip("NATS_URL not set")
	}
	nc, err := nats.Connect(url)
	require.NoError(t, err)
	t.Cleanup(nc.Close)
	return nc
}

func TestNATSRoundTrip(t *testing.T) {
	nc := connect(t)
	subject := "blackbox.test." + t.Name()

	metrics := newCountingMetrics()
	rx, err := NewNATSReceiver(nc, subject, zerolog.Nop(), metrics)
	require.NoError(t, err)
	defer rx.Close()

	tx := NewNATSSender(nc, subject, zerolog.Nop(), metrics)
	tx.Send(telemetry.FlightRecord(telemetry.FlightDetails{FlightID: 9, VehicleType: "C172"}))
	tx.Send(stateRecord(9, 1000))

	// undersized payload is dropped by the receiver
	require.NoError(t, nc.Publish(subject, []byte{telemetry.WireVersion, byte(telemetry.KindState), 1, 2}))
	tx.Send(stateRecord(9, 2000))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, tx.Flush(ctx))

	var got []telemetry.Record
	for i := 0; i < 3; i++ {
		rec, err := rx.Receive(ctx)
		require.NoError(t, err)
		got = append(got, rec)
	}

	assert.Equal(t, telemetry.KindFlight, got[0].Kind)
	assert.Equal(t, "C172", got[0].Flight.VehicleType)
	assert.Equal(t, uint64(1000), got[1].Event.State.Timestamp)
	assert.Equal(t, uint64(2000), got[2].Event.State.Timestamp)
	assert.Equal(t, 1, metrics.errors["malformed_record"])
}

func TestNATSReceiveHonoursDeadline(t *testing.T) {
	nc := connect(t)

	rx, err := NewNATSReceiver(nc, "blackbox.test.idle", zerolog.Nop(), nil)
	require.NoError(t, err)
	defer rx.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err = rx.Receive(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
