package channel

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geekprojects/blackbox/pkg/telemetry"
)

type collector struct {
	mu      sync.Mutex
	records []telemetry.Record
	batches int
	delay   time.Duration
}

func (c *collector) handle(batch []telemetry.Record) {
	if c.delay > 0 {
		time.Sleep(c.delay)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = append(c.records, batch...)
	c.batches++
}

func (c *collector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.records)
}

type countingMetrics struct {
	mu       sync.Mutex
	messages map[string]int
	errors   map[string]int
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{messages: map[string]int{}, errors: map[string]int{}}
}

func (m *countingMetrics) RecordMessage(status, msgType string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages[status+"/"+msgType]++
}

func (m *countingMetrics) RecordError(errorType string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors[errorType]++
}

func stateRecord(flight uint64, ts uint64) telemetry.Record {
	return telemetry.StateRecord(telemetry.NewEvent(flight, telemetry.State{Timestamp: ts}))
}

func TestQueueDeliversInOrder(t *testing.T) {
	c := &collector{}
	q := NewQueue(c.handle, zerolog.Nop(), nil)
	q.Start()

	for i := uint64(1); i <= 50; i++ {
		q.Send(stateRecord(1, i))
	}

	require.NoError(t, q.Close(context.Background()))
	require.Len(t, c.records, 50)
	for i, rec := range c.records {
		assert.Equal(t, uint64(i+1), rec.Event.State.Timestamp)
	}
}

func TestQueueCloseDrainsPending(t *testing.T) {
	c := &collector{delay: 10 * time.Millisecond}
	metrics := newCountingMetrics()
	q := NewQueue(c.handle, zerolog.Nop(), metrics)
	q.Start()

	for i := uint64(0); i < 200; i++ {
		q.Send(stateRecord(1, i))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, q.Close(ctx))

	assert.Equal(t, 200, c.count())
	assert.Equal(t, 0, q.Len())
	assert.Equal(t, 200, metrics.messages["delivered/state"])

	select {
	case <-q.Done():
	default:
		t.Fatal("consumer still running after Close")
	}
}

func TestQueueDropsAfterClose(t *testing.T) {
	c := &collector{}
	metrics := newCountingMetrics()
	q := NewQueue(c.handle, zerolog.Nop(), metrics)
	q.Start()
	require.NoError(t, q.Close(context.Background()))

	q.Send(stateRecord(1, 1))

	assert.Equal(t, 0, c.count())
	assert.Equal(t, 1, metrics.messages["dropped/state"])
	require.NoError(t, q.Close(context.Background()), "second close is a no-op")
}

func TestQueueCloseWithoutStart(t *testing.T) {
	c := &collector{}
	q := NewQueue(c.handle, zerolog.Nop(), nil)

	q.Send(stateRecord(3, 1))
	q.Send(telemetry.FlightRecord(telemetry.FlightDetails{FlightID: 3}))

	require.NoError(t, q.Close(context.Background()))
	require.Len(t, c.records, 2)
	assert.Equal(t, telemetry.KindFlight, c.records[1].Kind)
}

func TestQueueCloseTimesOut(t *testing.T) {
	release := make(chan struct{})
	q := NewQueue(func([]telemetry.Record) { <-release }, zerolog.Nop(), nil)
	q.Start()
	q.Send(stateRecord(1, 1))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, q.Close(ctx), context.DeadlineExceeded)

	close(release)
	require.NoError(t, q.Close(context.Background()))
}

func TestQueueConcurrentSenders(t *testing.T) {
	c := &collector{}
	q := NewQueue(c.handle, zerolog.Nop(), nil)
	q.Start()

	var wg sync.WaitGroup
	for s := 0; s < 8; s++ {
		wg.Add(1)
		go func(flight uint64) {
			defer wg.Done()
			for i := uint64(0); i < 100; i++ {
				q.Send(stateRecord(flight, i))
			}
		}(uint64(s))
	}
	wg.Wait()

	require.NoError(t, q.Close(context.Background()))
	assert.Equal(t, 800, c.count())

	// per producer order is preserved
	last := map[uint64]int64{}
	for _, rec := range c.records {
		ts := int64(rec.Event.State.Timestamp)
		prev, seen := last[rec.Event.FlightID]
		if seen {
			assert.Greater(t, ts, prev)
		}
		last[rec.Event.FlightID] = ts
	}
}
