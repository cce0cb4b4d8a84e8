// Package telemetry defines the data structures that flow from the simulator to storage
package telemetry

import (
	"fmt"
	"time"
)

// Phase is the discrete flight phase of the tracked aircraft
type Phase uint8

const (
	PhaseInit Phase = iota
	PhaseParked
	PhaseTaxi
	PhaseTakeOff
	PhaseFlight
	PhaseApproach
	PhaseLanding
	PhaseCrashed
)

var phaseNames = [...]string{
	PhaseInit:     "Init",
	PhaseParked:   "Parked",
	PhaseTaxi:     "Taxi",
	PhaseTakeOff:  "Take Off",
	PhaseFlight:   "Flight",
	PhaseApproach: "Approach",
	PhaseLanding:  "Landing",
	PhaseCrashed:  "Crashed",
}

// Phases returns every phase in declaration order
func Phases() []Phase {
	return []Phase{
		PhaseInit, PhaseParked, PhaseTaxi, PhaseTakeOff,
		PhaseFlight, PhaseApproach, PhaseLanding, PhaseCrashed,
	}
}

// Valid reports whether p is one of the declared phases
func (p Phase) Valid() bool {
	return int(p) < len(phaseNames)
}

func (p Phase) String() string {
	if !p.Valid() {
		return fmt.Sprintf("Phase(%d)", uint8(p))
	}
	return phaseNames[p]
}

// ParsePhase converts a stored phase name back into a Phase
func ParsePhase(s string) (Phase, error) {
	for i, name := range phaseNames {
		if name == s {
			return Phase(i), nil
		}
	}
	return PhaseInit, fmt.Errorf("unknown phase %q", s)
}

// Occurrence is a one-shot discrete event attached to the single emitted state where it happened
type Occurrence uint8

const (
	OccurrenceNone Occurrence = iota
	OccurrenceTakeOff
	OccurrenceLanding
	OccurrenceCrash
)

func (o Occurrence) String() string {
	switch o {
	case OccurrenceNone:
		return "none"
	case OccurrenceTakeOff:
		return "take_off"
	case OccurrenceLanding:
		return "landing"
	case OccurrenceCrash:
		return "crash"
	default:
		return fmt.Sprintf("Occurrence(%d)", uint8(o))
	}
}

// Valid reports whether o is a known occurrence
func (o Occurrence) Valid() bool {
	return o <= OccurrenceCrash
}

// ParseOccurrence converts a stored occurrence name back into an Occurrence
func ParseOccurrence(s string) (Occurrence, error) {
	for _, o := range []Occurrence{OccurrenceNone, OccurrenceTakeOff, OccurrenceLanding, OccurrenceCrash} {
		if o.String() == s {
			return o, nil
		}
	}
	return OccurrenceNone, fmt.Errorf("unknown occurrence %q", s)
}

// Position represents a geographic position
type Position struct {
	Latitude  float64 `json:"lat"` // Latitude in degrees
	Longitude float64 `json:"lon"` // Longitude in degrees
	Altitude  float64 `json:"alt"` // Elevation in meters MSL
}

// State is a snapshot of the aircraft at one instant
type State struct {
	Position Position `json:"position"`
	AGL      float64  `json:"agl"` // Height above ground in meters

	VerticalSpeed    float64 `json:"fpm"`         // Instantaneous vertical rate in ft/min
	VerticalSpeedAvg float64 `json:"fpm_average"` // Smoothed vertical rate in ft/min

	Pitch float64 `json:"pitch"`
	Roll  float64 `json:"roll"`
	Yaw   float64 `json:"yaw"`

	GroundSpeed       float64 `json:"ground_speed"`       // m/s
	IndicatedAirspeed float64 `json:"indicated_airspeed"` // knots

	AnyOnGround  bool `json:"any_on_ground"`
	AllOnGround  bool `json:"all_on_ground"`
	ParkingBrake bool `json:"parking_brake"`
	Paused       bool `json:"paused"`
	Replay       bool `json:"replay"`

	Phase      Phase      `json:"phase"`
	Occurrence Occurrence `json:"occurrence"`

	Timestamp uint64 `json:"timestamp"` // Milliseconds since the Unix epoch
}

// Time returns the state timestamp as a time.Time
func (s State) Time() time.Time {
	return time.UnixMilli(int64(s.Timestamp)).UTC()
}

// Millis converts t to the millisecond timestamp used by State
func Millis(t time.Time) uint64 {
	return uint64(t.UnixMilli())
}
