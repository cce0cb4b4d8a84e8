package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geekprojects/blackbox/pkg/telemetry"
)

func TestMemoryTxInvisibleUntilCommit(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	id, err := m.CreateFlight(ctx, telemetry.Flight{Origin: "EGLL"})
	require.NoError(t, err)

	tx, err := m.Begin(ctx)
	require.NoError(t, err)
	for ts := uint64(1); ts <= 3; ts++ {
		require.NoError(t, tx.AppendState(ctx, id, telemetry.State{Timestamp: ts}))
	}

	states, err := m.StatesSince(ctx, id, 0)
	require.NoError(t, err)
	assert.Empty(t, states)

	require.NoError(t, tx.Commit(ctx))

	states, err = m.StatesSince(ctx, id, 0)
	require.NoError(t, err)
	assert.Len(t, states, 3)
}

func TestMemoryTxCreatesFlight(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	tx, err := m.Begin(ctx)
	require.NoError(t, err)

	id, err := tx.CreateFlight(ctx, telemetry.Flight{VehicleType: "A320"})
	require.NoError(t, err)
	require.NoError(t, tx.AppendState(ctx, id, telemetry.State{Timestamp: 10}))
	require.NoError(t, tx.UpdateFlight(ctx, telemetry.Flight{ID: id, VehicleType: "A321"}))

	_, err = m.GetFlight(ctx, id)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, tx.Commit(ctx))

	f, err := m.GetFlight(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "A321", f.VehicleType)

	assert.ErrorIs(t, tx.Commit(ctx), ErrTxDone)
	assert.NoError(t, tx.Rollback(ctx))
}

func TestMemoryRollback(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	tx, err := m.Begin(ctx)
	require.NoError(t, err)
	id, err := tx.CreateFlight(ctx, telemetry.Flight{})
	require.NoError(t, err)
	require.NoError(t, tx.Rollback(ctx))

	_, err = m.GetFlight(ctx, id)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = tx.CreateFlight(ctx, telemetry.Flight{})
	assert.ErrorIs(t, err, ErrTxDone)
}

func TestMemoryAppendToUnknownFlight(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	assert.ErrorIs(t, m.AppendState(ctx, 99, telemetry.State{}), ErrNotFound)

	tx, err := m.Begin(ctx)
	require.NoError(t, err)
	assert.ErrorIs(t, tx.AppendState(ctx, 99, telemetry.State{}), ErrNotFound)
}

func TestMemoryCommitAfterConcurrentDelete(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	id, err := m.CreateFlight(ctx, telemetry.Flight{})
	require.NoError(t, err)

	tx, err := m.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.AppendState(ctx, id, telemetry.State{Timestamp: 1}))

	require.NoError(t, m.DeleteFlight(ctx, id))
	assert.ErrorIs(t, tx.Commit(ctx), ErrNotFound)
	assert.ErrorIs(t, m.DeleteFlight(ctx, id), ErrNotFound)
}

func TestMemoryStatesSinceOrdered(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	id, err := m.CreateFlight(ctx, telemetry.Flight{})
	require.NoError(t, err)

	for _, ts := range []uint64{30, 10, 20, 40} {
		require.NoError(t, m.AppendState(ctx, id, telemetry.State{Timestamp: ts}))
	}

	states, err := m.StatesSince(ctx, id, 15)
	require.NoError(t, err)

	var got []uint64
	for _, s := range states {
		got = append(got, s.Timestamp)
	}
	assert.Equal(t, []uint64{20, 30, 40}, got)

	_, err = m.StatesSince(ctx, 12345, 0)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryListFlights(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		_, err := m.CreateFlight(ctx, telemetry.Flight{StartTime: base.Add(time.Duration(i) * time.Hour)})
		require.NoError(t, err)
	}

	tests := []struct {
		name    string
		filter  FlightFilter
		wantIDs []uint64
	}{
		{name: "all newest first", filter: FlightFilter{}, wantIDs: []uint64{5, 4, 3, 2, 1}},
		{name: "limit", filter: FlightFilter{Limit: 2}, wantIDs: []uint64{5, 4}},
		{name: "offset", filter: FlightFilter{Limit: 2, Offset: 3}, wantIDs: []uint64{2, 1}},
		{name: "past the end", filter: FlightFilter{Offset: 10}, wantIDs: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			flights, err := m.ListFlights(ctx, tt.filter)
			require.NoError(t, err)

			var ids []uint64
			for _, f := range flights {
				ids = append(ids, f.ID)
			}
			assert.Equal(t, tt.wantIDs, ids)
		})
	}
}

func TestMemoryClearAll(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	for i := 0; i < 2; i++ {
		id, err := m.CreateFlight(ctx, telemetry.Flight{})
		require.NoError(t, err)
		require.NoError(t, m.AppendState(ctx, id, telemetry.State{Timestamp: 1}))
		require.NoError(t, m.AppendState(ctx, id, telemetry.State{Timestamp: 2}))
	}

	res, err := m.ClearAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, ClearResult{Flights: 2, States: 4}, res)

	flights, err := m.ListFlights(ctx, FlightFilter{})
	require.NoError(t, err)
	assert.Empty(t, flights)

	// ids keep increasing after a clear
	id, err := m.CreateFlight(ctx, telemetry.Flight{})
	require.NoError(t, err)
	assert.Equal(t, uint64(3), id)
}
