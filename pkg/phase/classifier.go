// Package phase classifies simulator telemetry into discrete flight phases
package phase

import (
	"github.com/geekprojects/blackbox/pkg/smoothing"
	"github.com/geekprojects/blackbox/pkg/telemetry"
)

// Outcome describes what a single classification step did
type Outcome struct {
	// Skipped is set when the simulator was paused or replaying; nothing else was evaluated
	Skipped bool

	PhaseChanged bool
	FlagsChanged bool // parking brake or ground contact changed

	From telemetry.Phase
	To   telemetry.Phase

	// Status is set when the step produced a new status message
	Status *Status
}

// Changed reports whether the step is significant enough to always emit
func (o Outcome) Changed() bool {
	return o.PhaseChanged || o.FlagsChanged
}

// Step applies one reading to the previous state and returns the new state.
// avg is the smoothed vertical rate including this reading. Step has no side effects.
func Step(prev telemetry.State, r telemetry.Reading, avg float64, th Thresholds) (telemetry.State, Outcome) {
	next := prev
	out := Outcome{From: prev.Phase, To: prev.Phase}

	next.Paused = r.Paused
	next.Replay = r.Replay
	if r.Paused || r.Replay {
		out.Skipped = true
		return next, out
	}

	next.Position = r.Position
	next.AGL = r.AGL
	next.VerticalSpeed = r.VerticalSpeed
	next.VerticalSpeedAvg = avg
	next.Pitch = r.Pitch
	next.Roll = r.Roll
	next.Yaw = r.Yaw
	next.GroundSpeed = r.GroundSpeed
	next.IndicatedAirspeed = r.IndicatedAirspeed

	parkingBrakeChanged := r.ParkingBrake != prev.ParkingBrake
	anyOnGroundChanged := r.AnyOnGround != prev.AnyOnGround
	allOnGroundChanged := r.AllOnGround != prev.AllOnGround
	next.ParkingBrake = r.ParkingBrake
	next.AnyOnGround = r.AnyOnGround
	next.AllOnGround = r.AllOnGround

	if prev.Phase != telemetry.PhaseInit && prev.Phase != telemetry.PhaseCrashed {
		out.FlagsChanged = parkingBrakeChanged || anyOnGroundChanged || allOnGroundChanged
	}

	if r.Signal == telemetry.SignalCrashed && prev.Phase != telemetry.PhaseCrashed {
		next.Occurrence = telemetry.OccurrenceCrash
		out.Status = newStatus(telemetry.PhaseCrashed, "CRASHED",
			Value{"fpm", r.VerticalSpeed}, Value{"ground_speed", r.GroundSpeed})
		return transition(next, out, telemetry.PhaseCrashed)
	}

	descending := avg < th.DescentRate
	climbing := avg > th.ClimbRate

	switch prev.Phase {
	case telemetry.PhaseInit:
		if r.AllOnGround {
			out.Status = newStatus(telemetry.PhaseParked, "Starting in PARKED phase")
			return transition(next, out, telemetry.PhaseParked)
		}
		out.Status = newStatus(telemetry.PhaseFlight, "Starting in FLIGHT phase")
		return transition(next, out, telemetry.PhaseFlight)

	case telemetry.PhaseParked:
		if !r.ParkingBrake {
			out.Status = newStatus(telemetry.PhaseTaxi, "PARKED: Parking brake released, taxiing")
			return transition(next, out, telemetry.PhaseTaxi)
		}
		if r.GroundSpeed > th.ParkedDriftSpeed {
			out.Status = newStatus(prev.Phase, "PARKED: Moving while parked", Value{"ground_speed", r.GroundSpeed})
		} else if allOnGroundChanged && !r.AllOnGround {
			out.Status = newStatus(prev.Phase, "PARKED: Wheels are not all on the ground")
		}

	case telemetry.PhaseTaxi:
		if parkingBrakeChanged && r.ParkingBrake {
			out.Status = newStatus(telemetry.PhaseParked, "TAXI: Parking brake set, parked")
			return transition(next, out, telemetry.PhaseParked)
		}
		if r.GroundSpeed > th.TakeOffSpeed || (r.GroundSpeed > th.RotationSpeed && !r.AllOnGround) {
			out.Status = newStatus(telemetry.PhaseTakeOff, "TAXI: Taking off", Value{"ground_speed", r.GroundSpeed})
			return transition(next, out, telemetry.PhaseTakeOff)
		}

	case telemetry.PhaseTakeOff:
		if !r.AnyOnGround {
			next.Occurrence = telemetry.OccurrenceTakeOff
			out.Status = newStatus(telemetry.PhaseFlight, "TAKE_OFF: Airborne",
				Value{"ground_speed", r.GroundSpeed}, Value{"indicated_airspeed", r.IndicatedAirspeed})
			return transition(next, out, telemetry.PhaseFlight)
		}
		if allOnGroundChanged && !r.AllOnGround {
			out.Status = newStatus(prev.Phase, "TAKE_OFF: Rotating", Value{"indicated_airspeed", r.IndicatedAirspeed})
		}

	case telemetry.PhaseFlight:
		if descending && r.AGL < th.DecisionAltitude {
			out.Status = newStatus(telemetry.PhaseApproach, "DESCENT: Approaching ground",
				Value{"fpm_average", avg}, Value{"agl", r.AGL})
			return transition(next, out, telemetry.PhaseApproach)
		}

	case telemetry.PhaseApproach:
		if anyOnGroundChanged && r.AnyOnGround {
			next.Occurrence = telemetry.OccurrenceLanding
			out.Status = newStatus(telemetry.PhaseLanding, "APPROACH: Touchdown",
				Value{"fpm", r.VerticalSpeed}, Value{"fpm_average", avg}, Value{"pitch", r.Pitch})
			return transition(next, out, telemetry.PhaseLanding)
		}
		if climbing && r.AGL > th.DecisionAltitude {
			out.Status = newStatus(telemetry.PhaseFlight, "APPROACH: Go around", Value{"fpm_average", avg})
			return transition(next, out, telemetry.PhaseFlight)
		}

	case telemetry.PhaseLanding:
		if !r.AnyOnGround && r.AGL > th.BounceAltitude {
			out.Status = newStatus(telemetry.PhaseFlight, "LANDING: Go around", Value{"agl", r.AGL})
			return transition(next, out, telemetry.PhaseFlight)
		}
		if avg < th.SlowRate && r.AllOnGround && r.GroundSpeed < th.TaxiSpeed {
			out.Status = newStatus(telemetry.PhaseTaxi, "LANDING: Slowed down to taxiing", Value{"ground_speed", r.GroundSpeed})
			return transition(next, out, telemetry.PhaseTaxi)
		}
		if anyOnGroundChanged && !r.AnyOnGround {
			out.Status = newStatus(prev.Phase, "LANDING: Bounce", Value{"fpm", r.VerticalSpeed})
		} else if allOnGroundChanged && r.AllOnGround {
			out.Status = newStatus(prev.Phase, "LANDING: All wheels down", Value{"fpm", r.VerticalSpeed})
		}

	case telemetry.PhaseCrashed:
		// terminal until a new flight starts
	}

	return next, out
}

func transition(next telemetry.State, out Outcome, to telemetry.Phase) (telemetry.State, Outcome) {
	next.Phase = to
	out.To = to
	out.PhaseChanged = out.From != to
	return next, out
}

// Classifier owns the canonical State and the smoothed vertical rate.
// It is driven from a single goroutine, once per tick.
type Classifier struct {
	thresholds Thresholds
	window     *smoothing.Window
	state      telemetry.State
	status     Status
}

// NewClassifier creates a classifier in the Init phase
func NewClassifier(th Thresholds) *Classifier {
	c := &Classifier{
		thresholds: th,
		window:     smoothing.NewWindow(th.SmoothingWindow),
	}
	c.Reset()
	return c
}

// Reset returns the classifier to the Init phase and clears the smoothing window
func (c *Classifier) Reset() {
	c.window.Reset()
	c.state = telemetry.State{Phase: telemetry.PhaseInit, ParkingBrake: true, AnyOnGround: true, AllOnGround: true}
	c.status = Status{Phase: telemetry.PhaseInit, Text: "Waiting for telemetry"}
}

// Update classifies one reading, mutating the owned state
func (c *Classifier) Update(r telemetry.Reading) Outcome {
	avg := c.state.VerticalSpeedAvg
	if !r.Paused && !r.Replay {
		c.window.Add(r.VerticalSpeed, r.SimTime)
		avg = c.window.Average()
	}

	next, out := Step(c.state, r, avg, c.thresholds)
	c.state = next
	if out.Status != nil {
		c.status = *out.Status
	}
	return out
}

// State returns a copy of the current state
func (c *Classifier) State() telemetry.State {
	return c.state
}

// Status returns the latest status message
func (c *Classifier) Status() Status {
	return c.status
}

// ClearOccurrence drops the one-shot occurrence once it has been emitted
func (c *Classifier) ClearOccurrence() {
	c.state.Occurrence = telemetry.OccurrenceNone
}

// SetTimestamp stamps the owned state, used when it is emitted
func (c *Classifier) SetTimestamp(ms uint64) {
	c.state.Timestamp = ms
}

// Thresholds returns the tuning in use
func (c *Classifier) Thresholds() Thresholds {
	return c.thresholds
}
