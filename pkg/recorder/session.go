// Package recorder ties the classifier, the emission policy and a channel into a
// per-tick recording session.
package recorder

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/geekprojects/blackbox/pkg/channel"
	"github.com/geekprojects/blackbox/pkg/emission"
	"github.com/geekprojects/blackbox/pkg/phase"
	"github.com/geekprojects/blackbox/pkg/store"
	"github.com/geekprojects/blackbox/pkg/telemetry"
	"github.com/geekprojects/blackbox/pkg/writer"
)

// AirportLocator resolves the airport nearest to a position.
// It is called on the tick path and must answer from memory.
type AirportLocator interface {
	Nearest(pos telemetry.Position) (ident string, ok bool)
}

// Snapshot is what the status endpoint reports about the session
type Snapshot struct {
	FlightKey        uint64                  `json:"flight_key"`
	StoreID          uint64                  `json:"store_id,omitempty"`
	Flight           telemetry.FlightDetails `json:"flight"`
	Phase            telemetry.Phase         `json:"phase"`
	PhaseName        string                  `json:"phase_name"`
	Status           phase.Status            `json:"status"`
	VerticalSpeedAvg float64                 `json:"fpm_average"`
	Paused           bool                    `json:"paused"`
	Replay           bool                    `json:"replay"`
	Emitted          uint64                  `json:"emitted"`
	LastEmission     time.Time               `json:"last_emission,omitempty"`
}

// TickResult describes what one tick did
type TickResult struct {
	NewFlight bool
	Outcome   phase.Outcome
	Reason    emission.Reason
	Event     telemetry.Event
}

// Emitted reports whether the tick sent a state
func (r TickResult) Emitted() bool {
	return r.Reason != emission.ReasonNone
}

// Session is the recording context of one simulator. Tick must be called from a
// single goroutine; Snapshot may be called from any goroutine.
type Session struct {
	classifier *phase.Classifier
	policy     *emission.Policy
	sender     channel.Sender
	airports   AirportLocator
	logger     zerolog.Logger
	now        func() time.Time

	active      bool
	key         uint64
	details     telemetry.FlightDetails
	lastSimTime time.Duration
	paused      bool
	replay      bool
	emitted     uint64

	mu       sync.RWMutex
	snapshot Snapshot
}

// Option configures a Session
type Option func(*Session)

// WithAirportLocator enables origin and destination lookup
func WithAirportLocator(l AirportLocator) Option {
	return func(s *Session) {
		s.airports = l
	}
}

// WithClock replaces the wall clock used for flight keys
func WithClock(now func() time.Time) Option {
	return func(s *Session) {
		s.now = now
	}
}

// NewSession creates a session that sends its records to sender
func NewSession(classifier *phase.Classifier, policy *emission.Policy, sender channel.Sender, logger zerolog.Logger, opts ...Option) *Session {
	s := &Session{
		classifier: classifier,
		policy:     policy,
		sender:     sender,
		logger:     logger.With().Str("component", "session").Logger(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Tick is the per-tick entry point: it classifies r, keeps the flight details
// current and emits the state when the policy says so.
func (s *Session) Tick(r telemetry.Reading) TickResult {
	var res TickResult

	if !s.active || r.Signal == telemetry.SignalAirportLoaded || r.SimTime < s.lastSimTime {
		s.startFlight(r)
		res.NewFlight = true
	}
	s.lastSimTime = r.SimTime

	s.logPauseReplay(r)
	s.trackDetails(r)

	res.Outcome = s.classifier.Update(r)
	if res.Outcome.Status != nil {
		s.logger.Info().EmbedObject(*res.Outcome.Status).Msg("Status")
	}
	if res.Outcome.PhaseChanged && res.Outcome.To == telemetry.PhaseApproach {
		s.lookupDestination()
	}

	if !res.Outcome.Skipped {
		res.Event, res.Reason = s.policy.Evaluate(s.classifier, s.key, res.Outcome.Changed(), r.SimTime)
		if res.Emitted() {
			// details ride along with every heartbeat so a receiver that missed
			// the first record still learns them
			if res.Reason == emission.ReasonHeartbeat {
				s.sendDetails()
			}
			s.sender.Send(telemetry.StateRecord(res.Event))
			s.emitted++
			s.logger.Debug().
				Str("reason", res.Reason.String()).
				Str("phase", res.Event.State.Phase.String()).
				Msg("Emitted state")
		}
	}

	s.publish(res)
	return res
}

// FlightKey returns the producer-local key of the active flight
func (s *Session) FlightKey() uint64 {
	return s.key
}

// Details returns the current flight details
func (s *Session) Details() telemetry.FlightDetails {
	return s.details
}

func (s *Session) startFlight(r telemetry.Reading) {
	s.classifier.Reset()
	s.policy.Reset()

	start := s.now().UTC().Truncate(time.Millisecond)
	key := telemetry.Millis(start)
	if key <= s.key {
		key = s.key + 1
	}
	s.key = key
	s.active = true

	s.details = telemetry.FlightDetails{
		FlightID:    key,
		VehicleType: r.VehicleType,
		FlightCode:  r.FlightCode,
		StartTime:   start,
	}
	if s.airports != nil {
		if ident, ok := s.airports.Nearest(r.Position); ok {
			s.details.Origin = ident
		}
	}

	s.logger.Info().
		Uint64("flight_key", key).
		Str("vehicle_type", r.VehicleType).
		Str("origin", s.details.Origin).
		Msg("New flight")
	s.sendDetails()
}

func (s *Session) trackDetails(r telemetry.Reading) {
	if r.VehicleType == s.details.VehicleType && r.FlightCode == s.details.FlightCode {
		return
	}
	s.logger.Info().
		Str("vehicle_type", r.VehicleType).
		Str("flight_code", r.FlightCode).
		Msg("Flight details changed")
	s.details.VehicleType = r.VehicleType
	s.details.FlightCode = r.FlightCode
	s.sendDetails()
}

func (s *Session) lookupDestination() {
	if s.airports == nil {
		return
	}
	ident, ok := s.airports.Nearest(s.classifier.State().Position)
	if !ok || ident == s.details.Destination {
		return
	}
	s.logger.Info().Str("destination", ident).Msg("Destination determined")
	s.details.Destination = ident
	s.sendDetails()
}

func (s *Session) sendDetails() {
	s.sender.Send(telemetry.FlightRecord(s.details))
}

func (s *Session) logPauseReplay(r telemetry.Reading) {
	if r.Paused != s.paused {
		s.paused = r.Paused
		if r.Paused {
			s.logger.Info().Msg("Paused")
		} else {
			s.logger.Info().Msg("Unpaused")
		}
	}
	if r.Replay != s.replay {
		s.replay = r.Replay
		if r.Replay {
			s.logger.Info().Msg("Replay started")
		} else {
			s.logger.Info().Msg("Replay finished")
		}
	}
}

func (s *Session) publish(res TickResult) {
	st := s.classifier.State()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.snapshot.FlightKey = s.key
	s.snapshot.Flight = s.details
	s.snapshot.Phase = st.Phase
	s.snapshot.PhaseName = st.Phase.String()
	s.snapshot.Status = s.classifier.Status()
	s.snapshot.VerticalSpeedAvg = st.VerticalSpeedAvg
	s.snapshot.Paused = st.Paused
	s.snapshot.Replay = st.Replay
	s.snapshot.Emitted = s.emitted
	if res.NewFlight {
		s.snapshot.StoreID = 0
	}
	if res.Emitted() {
		s.snapshot.LastEmission = res.Event.State.Time()
	}
}

// Snapshot returns the latest session status
func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot
}

// WriterHook returns a writer.Hook that records the store id assigned to the
// active flight. It is only meaningful with the in-process transport.
func (s *Session) WriterHook() writer.Hook {
	return func(_ context.Context, _ store.Writes, summary *writer.Summary) error {
		s.mu.Lock()
		defer s.mu.Unlock()
		if fs, ok := summary.Flights[s.snapshot.FlightKey]; ok {
			s.snapshot.StoreID = fs.ID
		}
		return nil
	}
}
