// Package emission decides which classified states are significant enough to record
package emission

import (
	"fmt"
	"time"

	"github.com/geekprojects/blackbox/pkg/geo"
	"github.com/geekprojects/blackbox/pkg/telemetry"
)

// Reason explains why a state was emitted
type Reason uint8

const (
	ReasonNone Reason = iota
	ReasonFirst
	ReasonChanged
	ReasonHeartbeat
	ReasonMoved
)

func (r Reason) String() string {
	switch r {
	case ReasonNone:
		return "none"
	case ReasonFirst:
		return "first"
	case ReasonChanged:
		return "changed"
	case ReasonHeartbeat:
		return "heartbeat"
	case ReasonMoved:
		return "moved"
	default:
		return fmt.Sprintf("Reason(%d)", uint8(r))
	}
}

// Config holds the emission bounds
type Config struct {
	Heartbeat     time.Duration `yaml:"heartbeat"`
	Probe         time.Duration `yaml:"probe"`
	MinDistanceKm float64       `yaml:"min_distance_km"`
}

// DefaultConfig returns the bounds used while a flight is active
func DefaultConfig() Config {
	return Config{
		Heartbeat:     5 * time.Second,
		Probe:         time.Second,
		MinDistanceKm: 0.1,
	}
}

// Validate checks the bounds are usable
func (c Config) Validate() error {
	if c.Probe <= 0 || c.Heartbeat <= 0 {
		return fmt.Errorf("heartbeat and probe must be positive")
	}
	if c.Probe > c.Heartbeat {
		return fmt.Errorf("probe (%s) must not exceed heartbeat (%s)", c.Probe, c.Heartbeat)
	}
	if c.MinDistanceKm < 0 {
		return fmt.Errorf("min_distance_km must not be negative")
	}
	return nil
}

// StateOwner is the single writer of the canonical state, normally a phase.Classifier
type StateOwner interface {
	State() telemetry.State
	SetTimestamp(ms uint64)
	ClearOccurrence()
}

// Policy tracks the last emission and decides whether the next state is worth emitting.
// It is driven from the tick goroutine only.
type Policy struct {
	cfg Config
	now func() time.Time

	emitted       bool
	lastAt        time.Duration
	lastPosition  telemetry.Position
	lastTimestamp uint64

	distanceChecks int
}

// Option configures a Policy
type Option func(*Policy)

// WithClock replaces the wall clock used to stamp emitted states
func WithClock(now func() time.Time) Option {
	return func(p *Policy) {
		p.now = now
	}
}

// NewPolicy creates a policy that has not emitted yet
func NewPolicy(cfg Config, opts ...Option) *Policy {
	p := &Policy{cfg: cfg, now: time.Now}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Decide reports whether a state at simulator time at and position pos should be emitted.
// changed is true when the tick produced a phase or monitored flag change.
func (p *Policy) Decide(changed bool, at time.Duration, pos telemetry.Position) Reason {
	if !p.emitted {
		return ReasonFirst
	}
	if changed {
		return ReasonChanged
	}

	elapsed := at - p.lastAt
	if elapsed > p.cfg.Heartbeat {
		return ReasonHeartbeat
	}
	if elapsed > p.cfg.Probe {
		p.distanceChecks++
		if geo.DistanceKm(p.lastPosition, pos) > p.cfg.MinDistanceKm {
			return ReasonMoved
		}
	}
	return ReasonNone
}

// Emit stamps the owner's state with the wall clock, copies it into an event for flightID,
// clears the one-shot occurrence and records this emission.
func (p *Policy) Emit(owner StateOwner, flightID uint64, at time.Duration) telemetry.Event {
	ts := telemetry.Millis(p.now())
	if ts <= p.lastTimestamp {
		ts = p.lastTimestamp + 1
	}
	owner.SetTimestamp(ts)

	ev := telemetry.NewEvent(flightID, owner.State())
	owner.ClearOccurrence()

	p.emitted = true
	p.lastAt = at
	p.lastPosition = ev.State.Position
	p.lastTimestamp = ts
	return ev
}

// Evaluate combines Decide and Emit
func (p *Policy) Evaluate(owner StateOwner, flightID uint64, changed bool, at time.Duration) (telemetry.Event, Reason) {
	reason := p.Decide(changed, at, owner.State().Position)
	if reason == ReasonNone {
		return telemetry.Event{}, ReasonNone
	}
	return p.Emit(owner, flightID, at), reason
}

// Reset forgets the last emission, used when a new flight starts
func (p *Policy) Reset() {
	p.emitted = false
	p.lastAt = 0
	p.lastPosition = telemetry.Position{}
}

// DistanceChecks returns how many times the great-circle distance was computed
func (p *Policy) DistanceChecks() int {
	return p.distanceChecks
}
