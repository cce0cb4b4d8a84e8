package recorder

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geekprojects/blackbox/pkg/emission"
	"github.com/geekprojects/blackbox/pkg/phase"
	"github.com/geekprojects/blackbox/pkg/store"
	"github.com/geekprojects/blackbox/pkg/telemetry"
	"github.com/geekprojects/blackbox/pkg/writer"
)

type recordingSender struct {
	records []telemetry.Record
}

func (s *recordingSender) Send(rec telemetry.Record) {
	s.records = append(s.records, rec)
}

func (s *recordingSender) kinds() []telemetry.RecordKind {
	var kinds []telemetry.RecordKind
	for _, r := range s.records {
		kinds = append(kinds, r.Kind)
	}
	return kinds
}

func (s *recordingSender) reset() {
	s.records = nil
}

// sequenceLocator answers with the next ident on every lookup
type sequenceLocator struct {
	idents []string
	calls  int
}

func (l *sequenceLocator) Nearest(telemetry.Position) (string, bool) {
	if l.calls >= len(l.idents) {
		return "", false
	}
	ident := l.idents[l.calls]
	l.calls++
	return ident, true
}

type fixture struct {
	session *Session
	sender  *recordingSender
	clock   time.Time
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		sender: &recordingSender{},
		clock:  time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	now := func() time.Time { return f.clock }

	opts = append(opts, WithClock(now))
	f.session = NewSession(
		phase.NewClassifier(phase.DefaultThresholds()),
		emission.NewPolicy(emission.DefaultConfig(), emission.WithClock(now)),
		f.sender,
		zerolog.Nop(),
		opts...,
	)
	return f
}

func parked(at time.Duration) telemetry.Reading {
	return telemetry.Reading{
		SimTime:      at,
		AnyOnGround:  true,
		AllOnGround:  true,
		ParkingBrake: true,
		VehicleType:  "C172",
		Position:     telemetry.Position{Latitude: 51.47, Longitude: -0.4543},
	}
}

func TestSessionFirstTickStartsFlight(t *testing.T) {
	f := newFixture(t)

	res := f.session.Tick(parked(0))
	require.True(t, res.NewFlight)
	assert.Equal(t, emission.ReasonFirst, res.Reason)
	assert.Equal(t, telemetry.PhaseParked, res.Event.State.Phase)

	wantKey := telemetry.Millis(f.clock)
	assert.Equal(t, wantKey, f.session.FlightKey())
	require.Equal(t, []telemetry.RecordKind{telemetry.KindFlight, telemetry.KindState}, f.sender.kinds())

	details := f.sender.records[0].Flight
	assert.Equal(t, wantKey, details.FlightID)
	assert.Equal(t, "C172", details.VehicleType)
	assert.Equal(t, f.clock, details.StartTime)
	assert.Equal(t, wantKey, f.sender.records[1].Event.FlightID)

	snap := f.session.Snapshot()
	assert.Equal(t, wantKey, snap.FlightKey)
	assert.Equal(t, "Parked", snap.PhaseName)
	assert.Equal(t, uint64(1), snap.Emitted)
	assert.Equal(t, "Starting in PARKED phase", snap.Status.Text)
}

func TestSessionHeartbeatWhileStationary(t *testing.T) {
	f := newFixture(t)
	f.session.Tick(parked(0))
	f.sender.reset()

	var emitted []time.Duration
	for at := 100 * time.Millisecond; at <= 12*time.Second; at += 100 * time.Millisecond {
		f.clock = f.clock.Add(100 * time.Millisecond)
		if res := f.session.Tick(parked(at)); res.Emitted() {
			assert.Equal(t, emission.ReasonHeartbeat, res.Reason)
			emitted = append(emitted, at)
		}
	}

	// heartbeat fires once strictly more than 5s has elapsed
	assert.Equal(t, []time.Duration{5100 * time.Millisecond, 10200 * time.Millisecond}, emitted)

	// every heartbeat repeats the flight details ahead of the state
	assert.Equal(t, []telemetry.RecordKind{
		telemetry.KindFlight, telemetry.KindState,
		telemetry.KindFlight, telemetry.KindState,
	}, f.sender.kinds())
	assert.Equal(t, "C172", f.sender.records[0].Flight.VehicleType)
}

func TestSessionDetailsSurviveLostFirstRecord(t *testing.T) {
	f := newFixture(t)
	for at := time.Duration(0); at <= 120*time.Second; at += 100 * time.Millisecond {
		f.clock = f.clock.Add(100 * time.Millisecond)
		r := parked(at)
		r.FlightCode = "GBXYZ"
		f.session.Tick(r)
	}
	require.Equal(t, telemetry.KindFlight, f.sender.records[0].Kind)

	// the receiver never saw the opening details record
	mem := store.NewMemory()
	w := writer.NewBatchWriter(mem, zerolog.Nop())
	_, err := w.Write(context.Background(), f.sender.records[1:])
	require.NoError(t, err)

	id, ok := w.Registry().Lookup(f.session.FlightKey())
	require.True(t, ok)
	flight, err := mem.GetFlight(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "C172", flight.VehicleType)
	assert.Equal(t, "GBXYZ", flight.FlightCode)
}

func TestSessionNewFlightBoundaries(t *testing.T) {
	tests := []struct {
		name string
		next func(at time.Duration) telemetry.Reading
	}{
		{
			name: "airport loaded",
			next: func(at time.Duration) telemetry.Reading {
				r := parked(at)
				r.Signal = telemetry.SignalAirportLoaded
				return r
			},
		},
		{
			name: "sim time went backwards",
			next: func(time.Duration) telemetry.Reading { return parked(0) },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.session.Tick(parked(0))

			// release the brake so the flight is in Taxi before the boundary
			r := parked(time.Second)
			r.ParkingBrake = false
			f.session.Tick(r)
			require.Equal(t, telemetry.PhaseTaxi, f.session.Snapshot().Phase)

			firstKey := f.session.FlightKey()
			f.sender.reset()

			res := f.session.Tick(tt.next(2 * time.Second))
			require.True(t, res.NewFlight)
			assert.Equal(t, emission.ReasonFirst, res.Reason, "the policy starts over")
			assert.Equal(t, telemetry.PhaseParked, res.Event.State.Phase, "the classifier reseeds")

			// same wall clock instant still yields a fresh key
			assert.Equal(t, firstKey+1, f.session.FlightKey())
			assert.Equal(t, []telemetry.RecordKind{telemetry.KindFlight, telemetry.KindState}, f.sender.kinds())
		})
	}
}

func TestSessionDetailsChange(t *testing.T) {
	f := newFixture(t)
	f.session.Tick(parked(0))
	f.sender.reset()

	r := parked(100 * time.Millisecond)
	r.VehicleType = "B738"
	r.FlightCode = "BAW123"
	f.session.Tick(r)

	require.Equal(t, []telemetry.RecordKind{telemetry.KindFlight}, f.sender.kinds())
	details := f.sender.records[0].Flight
	assert.Equal(t, f.session.FlightKey(), details.FlightID)
	assert.Equal(t, "B738", details.VehicleType)
	assert.Equal(t, "BAW123", details.FlightCode)

	// unchanged details are not sent again
	f.sender.reset()
	r.SimTime += 100 * time.Millisecond
	f.session.Tick(r)
	assert.Empty(t, f.sender.records)
}

func TestSessionPauseSkipsEmission(t *testing.T) {
	f := newFixture(t)
	f.session.Tick(parked(0))
	f.sender.reset()

	for at := time.Second; at <= 20*time.Second; at += time.Second {
		r := parked(at)
		r.Paused = true
		res := f.session.Tick(r)
		assert.True(t, res.Outcome.Skipped)
		assert.False(t, res.Emitted())
	}
	assert.Empty(t, f.sender.records)
	assert.True(t, f.session.Snapshot().Paused)

	res := f.session.Tick(parked(21 * time.Second))
	assert.False(t, res.NewFlight)
	assert.Equal(t, emission.ReasonHeartbeat, res.Reason)
	assert.False(t, f.session.Snapshot().Paused)
}

func TestSessionAirportLookup(t *testing.T) {
	locator := &sequenceLocator{idents: []string{"EGLL", "LFPG"}}
	f := newFixture(t, WithAirportLocator(locator))

	// starting airborne seeds Flight
	f.session.Tick(telemetry.Reading{AGL: 1000, VerticalSpeed: -800, GroundSpeed: 70})
	assert.Equal(t, "EGLL", f.session.Details().Origin)
	assert.Empty(t, f.session.Details().Destination)
	f.sender.reset()

	res := f.session.Tick(telemetry.Reading{SimTime: 100 * time.Millisecond, AGL: 200, VerticalSpeed: -800, GroundSpeed: 70})
	require.Equal(t, telemetry.PhaseApproach, res.Outcome.To)
	assert.Equal(t, "LFPG", f.session.Details().Destination)

	require.Equal(t, []telemetry.RecordKind{telemetry.KindFlight, telemetry.KindState}, f.sender.kinds())
	assert.Equal(t, "LFPG", f.sender.records[0].Flight.Destination)
	assert.Equal(t, 2, locator.calls)
}

func TestSessionCrashIsTerminalUntilNewFlight(t *testing.T) {
	f := newFixture(t)
	f.session.Tick(parked(0))

	r := parked(time.Second)
	r.Signal = telemetry.SignalCrashed
	res := f.session.Tick(r)
	require.True(t, res.Emitted())
	assert.Equal(t, telemetry.PhaseCrashed, res.Event.State.Phase)
	assert.Equal(t, telemetry.OccurrenceCrash, res.Event.State.Occurrence)

	r = parked(2 * time.Second)
	r.ParkingBrake = false
	res = f.session.Tick(r)
	assert.Equal(t, telemetry.PhaseCrashed, res.Outcome.To)

	r = parked(3 * time.Second)
	r.Signal = telemetry.SignalAirportLoaded
	res = f.session.Tick(r)
	assert.True(t, res.NewFlight)
	assert.Equal(t, telemetry.PhaseParked, res.Event.State.Phase)
}

func TestSessionWriterHookRecordsStoreID(t *testing.T) {
	f := newFixture(t)
	f.session.Tick(parked(0))

	mem := store.NewMemory()
	w := writer.NewBatchWriter(mem, zerolog.Nop(), writer.WithHook(f.session.WriterHook()))
	_, err := w.Write(context.Background(), f.sender.records)
	require.NoError(t, err)

	id, ok := w.Registry().Lookup(f.session.FlightKey())
	require.True(t, ok)
	assert.Equal(t, id, f.session.Snapshot().StoreID)
}
