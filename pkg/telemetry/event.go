package telemetry

import "time"

// HostSignal is a discrete notification from the simulator delivered alongside a reading
type HostSignal uint8

const (
	SignalNone HostSignal = iota
	// SignalAirportLoaded marks the start of a new flight (new airport or aircraft loaded)
	SignalAirportLoaded
	// SignalCrashed is raised by the simulator when the aircraft crashes
	SignalCrashed
)

// Reading is the raw set of instantaneous values supplied by the simulator once per tick
type Reading struct {
	SimTime time.Duration // Elapsed simulator time, monotonic within one flight

	Position          Position
	AGL               float64
	VerticalSpeed     float64
	Pitch             float64
	Roll              float64
	Yaw               float64
	GroundSpeed       float64
	IndicatedAirspeed float64

	AnyOnGround  bool
	AllOnGround  bool
	ParkingBrake bool
	Paused       bool
	Replay       bool

	Signal HostSignal

	VehicleType string // ICAO aircraft type, e.g. "B738"
	FlightCode  string // External flight code or tail number
}

// Event is the transport unit carrying one emitted state
type Event struct {
	FlightID uint64 `json:"flight_id"`
	State    State  `json:"state"`
}

// NewEvent copies state into a new event
func NewEvent(flightID uint64, state State) Event {
	return Event{FlightID: flightID, State: state}
}

// Flight is a recording session as stored by persistence
type Flight struct {
	ID          uint64    `json:"id"`
	Origin      string    `json:"origin"`
	Destination string    `json:"destination"`
	VehicleType string    `json:"vehicle_type"`
	FlightCode  string    `json:"flight_code"`
	StartTime   time.Time `json:"start_time"`
}

// FlightDetails is the producer's description of a flight. FlightID is the
// producer-local flight key, not the store id.
type FlightDetails struct {
	FlightID    uint64    `json:"flight_id"`
	Origin      string    `json:"origin"`
	Destination string    `json:"destination"`
	VehicleType string    `json:"vehicle_type"`
	FlightCode  string    `json:"flight_code"`
	StartTime   time.Time `json:"start_time"`
}

// Apply copies the details onto a stored flight, keeping its id
func (d FlightDetails) Apply(f *Flight) {
	f.Origin = d.Origin
	f.Destination = d.Destination
	f.VehicleType = d.VehicleType
	f.FlightCode = d.FlightCode
	if f.StartTime.IsZero() {
		f.StartTime = d.StartTime
	}
}

// RecordKind tags the payload of a Record
type RecordKind uint8

const (
	KindState  RecordKind = 1
	KindFlight RecordKind = 2
)

func (k RecordKind) String() string {
	switch k {
	case KindState:
		return "state"
	case KindFlight:
		return "flight"
	default:
		return "unknown"
	}
}

// Record is the unit moved by a channel: either an emitted state or flight details
type Record struct {
	Kind   RecordKind
	Event  Event
	Flight FlightDetails
}

// StateRecord wraps an event for transport
func StateRecord(ev Event) Record {
	return Record{Kind: KindState, Event: ev}
}

// FlightRecord wraps flight details for transport
func FlightRecord(d FlightDetails) Record {
	return Record{Kind: KindFlight, Flight: d}
}

// FlightKey returns the producer-local flight key the record belongs to
func (r Record) FlightKey() uint64 {
	if r.Kind == KindFlight {
		return r.Flight.FlightID
	}
	return r.Event.FlightID
}
