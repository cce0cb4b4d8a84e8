package writer

import (
	"context"
	"time"

	"github.com/geekprojects/blackbox/pkg/store"
	"github.com/geekprojects/blackbox/pkg/telemetry"
)

// FlightRegistry maps producer-local flight keys to store flight ids.
// Flights are created lazily inside the writer's transaction; mappings made
// in a transaction only become permanent once it commits.
// It is owned by the writer goroutine.
type FlightRegistry struct {
	ids     map[uint64]uint64
	details map[uint64]telemetry.FlightDetails

	stagedIDs     map[uint64]uint64
	stagedDetails map[uint64]telemetry.FlightDetails
}

// NewFlightRegistry creates an empty registry
func NewFlightRegistry() *FlightRegistry {
	return &FlightRegistry{
		ids:           make(map[uint64]uint64),
		details:       make(map[uint64]telemetry.FlightDetails),
		stagedIDs:     make(map[uint64]uint64),
		stagedDetails: make(map[uint64]telemetry.FlightDetails),
	}
}

// Lookup returns the store id for a flight key, including uncommitted mappings
func (r *FlightRegistry) Lookup(key uint64) (uint64, bool) {
	if id, ok := r.stagedIDs[key]; ok {
		return id, true
	}
	id, ok := r.ids[key]
	return id, ok
}

func (r *FlightRegistry) lookupDetails(key uint64) (telemetry.FlightDetails, bool) {
	if d, ok := r.stagedDetails[key]; ok {
		return d, true
	}
	d, ok := r.details[key]
	return d, ok
}

// Resolve returns the store id for key, creating the flight through w if it is unknown.
// A flight whose details never arrived is created with its start time taken from the key.
func (r *FlightRegistry) Resolve(ctx context.Context, w store.Writes, key uint64) (uint64, error) {
	if id, ok := r.Lookup(key); ok {
		return id, nil
	}

	d, ok := r.lookupDetails(key)
	if !ok {
		d = telemetry.FlightDetails{FlightID: key}
	}
	return r.create(ctx, w, d)
}

// Apply records new flight details, creating or updating the stored flight through w.
// Details identical to the last applied ones are not written again.
func (r *FlightRegistry) Apply(ctx context.Context, w store.Writes, d telemetry.FlightDetails) (uint64, error) {
	id, ok := r.Lookup(d.FlightID)
	if !ok {
		return r.create(ctx, w, d)
	}

	if prev, ok := r.lookupDetails(d.FlightID); ok && sameDetails(prev, d) {
		return id, nil
	}

	f := telemetry.Flight{ID: id}
	d.Apply(&f)
	if err := w.UpdateFlight(ctx, f); err != nil {
		return 0, err
	}
	r.stagedDetails[d.FlightID] = d
	return id, nil
}

func (r *FlightRegistry) create(ctx context.Context, w store.Writes, d telemetry.FlightDetails) (uint64, error) {
	if d.StartTime.IsZero() {
		d.StartTime = time.UnixMilli(int64(d.FlightID)).UTC()
	}

	var f telemetry.Flight
	d.Apply(&f)
	id, err := w.CreateFlight(ctx, f)
	if err != nil {
		return 0, err
	}

	r.stagedIDs[d.FlightID] = id
	r.stagedDetails[d.FlightID] = d
	return id, nil
}

// Commit makes the mappings of the current transaction permanent
func (r *FlightRegistry) Commit() {
	for k, id := range r.stagedIDs {
		r.ids[k] = id
	}
	for k, d := range r.stagedDetails {
		r.details[k] = d
	}
	r.Discard()
}

// Discard drops the mappings of a failed transaction
func (r *FlightRegistry) Discard() {
	clear(r.stagedIDs)
	clear(r.stagedDetails)
}

// Len returns the number of committed flights
func (r *FlightRegistry) Len() int {
	return len(r.ids)
}

func sameDetails(a, b telemetry.FlightDetails) bool {
	return a.Origin == b.Origin &&
		a.Destination == b.Destination &&
		a.VehicleType == b.VehicleType &&
		a.FlightCode == b.FlightCode
}
