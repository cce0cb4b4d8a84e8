package xplane

import (
	"encoding/base64"
	"strings"
	"time"

	"github.com/geekprojects/blackbox/pkg/telemetry"
)

// Datarefs read every tick
const (
	drLatitude     = "sim/flightmodel/position/latitude"
	drLongitude    = "sim/flightmodel/position/longitude"
	drElevation    = "sim/flightmodel/position/elevation"
	drAGL          = "sim/flightmodel/position/y_agl"
	drVerticalFPM  = "sim/flightmodel/position/vh_ind_fpm"
	drPitch        = "sim/flightmodel/position/theta"
	drRoll         = "sim/flightmodel/position/phi"
	drHeading      = "sim/flightmodel/position/psi"
	drGroundSpeed  = "sim/flightmodel/position/groundspeed"
	drIndicated    = "sim/flightmodel/position/indicated_airspeed"
	drOnGroundAny  = "sim/flightmodel/failures/onground_any"
	drOnGroundAll  = "sim/flightmodel/failures/onground_all"
	drParkingBrake = "sim/cockpit2/controls/parking_brake_ratio"
	drPaused       = "sim/time/paused"
	drReplay       = "sim/time/is_in_replay"
	drFlightTime   = "sim/time/total_flight_time_sec"
	drCrashed      = "sim/flightmodel2/misc/has_crashed"
	drICAO         = "sim/aircraft/view/acf_ICAO"
	drTailNumber   = "sim/aircraft/view/acf_tailnum"
)

// Datarefs lists every dataref the source subscribes to
var Datarefs = []string{
	drLatitude, drLongitude, drElevation, drAGL, drVerticalFPM,
	drPitch, drRoll, drHeading, drGroundSpeed, drIndicated,
	drOnGroundAny, drOnGroundAll, drParkingBrake,
	drPaused, drReplay, drFlightTime, drCrashed,
	drICAO, drTailNumber,
}

// frame holds the latest value of every subscribed dataref by name
type frame map[string]any

func (f frame) float(name string) float64 {
	switch v := f[name].(type) {
	case float64:
		return v
	case []any:
		if len(v) > 0 {
			if n, ok := v[0].(float64); ok {
				return n
			}
		}
	}
	return 0
}

func (f frame) flag(name string) bool {
	return f.float(name) > 0
}

// text decodes a byte array dataref, sent base64 encoded and NUL padded
func (f frame) text(name string) string {
	s, ok := f[name].(string)
	if !ok {
		return ""
	}
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return ""
	}
	if i := strings.IndexByte(string(raw), 0); i >= 0 {
		raw = raw[:i]
	}
	return strings.TrimSpace(string(raw))
}

func (f frame) complete() bool {
	for _, name := range Datarefs {
		if _, ok := f[name]; !ok {
			return false
		}
	}
	return true
}

// reading converts the frame into a telemetry reading
func (f frame) reading() telemetry.Reading {
	return telemetry.Reading{
		SimTime: time.Duration(f.float(drFlightTime) * float64(time.Second)),
		Position: telemetry.Position{
			Latitude:  f.float(drLatitude),
			Longitude: f.float(drLongitude),
			Altitude:  f.float(drElevation),
		},
		AGL:               f.float(drAGL),
		VerticalSpeed:     f.float(drVerticalFPM),
		Pitch:             f.float(drPitch),
		Roll:              f.float(drRoll),
		Yaw:               f.float(drHeading),
		GroundSpeed:       f.float(drGroundSpeed),
		IndicatedAirspeed: f.float(drIndicated),
		AnyOnGround:       f.flag(drOnGroundAny),
		AllOnGround:       f.flag(drOnGroundAll),
		ParkingBrake:      f.flag(drParkingBrake),
		Paused:            f.flag(drPaused),
		Replay:            f.flag(drReplay),
		VehicleType:       f.text(drICAO),
		FlightCode:        f.text(drTailNumber),
	}
}
