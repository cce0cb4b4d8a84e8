package phase

import (
	"fmt"
	"time"

	"github.com/geekprojects/blackbox/pkg/smoothing"
)

// Thresholds are the empirically tuned limits driving phase transitions.
// Speeds are m/s, vertical rates ft/min, heights metres above ground.
type Thresholds struct {
	TakeOffSpeed     float64       `yaml:"take_off_speed"`    // Taxi -> TakeOff regardless of wheels
	RotationSpeed    float64       `yaml:"rotation_speed"`    // Taxi -> TakeOff once a wheel lifts
	TaxiSpeed        float64       `yaml:"taxi_speed"`        // Landing -> Taxi below this
	ParkedDriftSpeed float64       `yaml:"parked_drift_speed"`
	DescentRate      float64       `yaml:"descent_rate"`      // Flight -> Approach below this smoothed rate
	ClimbRate        float64       `yaml:"climb_rate"`        // Approach -> Flight above this smoothed rate
	SlowRate         float64       `yaml:"slow_rate"`         // Landing -> Taxi below this smoothed rate
	DecisionAltitude float64       `yaml:"decision_altitude"` // 1000ft
	BounceAltitude   float64       `yaml:"bounce_altitude"`
	SmoothingWindow  time.Duration `yaml:"smoothing_window"`
}

// DefaultThresholds returns the canonical tuning
func DefaultThresholds() Thresholds {
	return Thresholds{
		TakeOffSpeed:     40,
		RotationSpeed:    20,
		TaxiSpeed:        15,
		ParkedDriftSpeed: 1,
		DescentRate:      -100,
		ClimbRate:        500,
		SlowRate:         10,
		DecisionAltitude: 305,
		BounceAltitude:   50,
		SmoothingWindow:  smoothing.DefaultWindow,
	}
}

// Validate checks that the thresholds describe a usable state machine
func (t Thresholds) Validate() error {
	if t.TakeOffSpeed <= 0 {
		return fmt.Errorf("take_off_speed must be positive")
	}
	if t.RotationSpeed <= 0 || t.RotationSpeed > t.TakeOffSpeed {
		return fmt.Errorf("rotation_speed must be between 0 and take_off_speed (%v)", t.TakeOffSpeed)
	}
	if t.TaxiSpeed <= 0 {
		return fmt.Errorf("taxi_speed must be positive")
	}
	if t.DescentRate >= t.ClimbRate {
		return fmt.Errorf("descent_rate (%v) must be below climb_rate (%v)", t.DescentRate, t.ClimbRate)
	}
	if t.DecisionAltitude <= 0 || t.BounceAltitude <= 0 {
		return fmt.Errorf("decision_altitude and bounce_altitude must be positive")
	}
	if t.SmoothingWindow <= 0 {
		return fmt.Errorf("smoothing_window must be positive")
	}
	return nil
}
