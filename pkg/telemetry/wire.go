package telemetry

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// WireVersion is written as the first byte of every record
const WireVersion uint8 = 1

// Record layout, little endian:
//
//	header: version(1) | kind(1)
//	state:  flightId(8) | timestamp(8) | lat lon alt agl fpm fpmAvg pitch roll yaw gs ias (11 x f32) |
//	        phase(1) | occurrence(1) | anyOnGround allOnGround parkingBrake paused replay (5 x 1)
//	flight: flightId(8) | startTime(8) | vehicleType(16) | flightCode(16) | origin(8) | destination(8)
//
// Floats are narrowed to float32; the relative error is bounded by 2^-24.
const (
	headerSize = 2

	StateRecordSize  = headerSize + 8 + 8 + 11*4 + 1 + 1 + 5
	FlightRecordSize = headerSize + 8 + 8 + vehicleTypeLen + flightCodeLen + airportLen + airportLen

	vehicleTypeLen = 16
	flightCodeLen  = 16
	airportLen     = 8
)

var (
	ErrShortRecord        = errors.New("record too short")
	ErrUnsupportedVersion = errors.New("unsupported wire version")
	ErrUnknownKind        = errors.New("unknown record kind")
	ErrMalformedRecord    = errors.New("malformed record")
)

// MarshalRecord encodes r into its fixed-size wire form
func MarshalRecord(r Record) ([]byte, error) {
	switch r.Kind {
	case KindState:
		return marshalState(r.Event), nil
	case KindFlight:
		return marshalFlight(r.Flight), nil
	default:
		return nil, fmt.Errorf("marshal kind %d: %w", r.Kind, ErrUnknownKind)
	}
}

// UnmarshalRecord decodes a wire record. Trailing bytes beyond the record size are ignored.
func UnmarshalRecord(data []byte) (Record, error) {
	if len(data) < headerSize {
		return Record{}, fmt.Errorf("%d bytes: %w", len(data), ErrShortRecord)
	}
	if data[0] != WireVersion {
		return Record{}, fmt.Errorf("version %d: %w", data[0], ErrUnsupportedVersion)
	}

	kind := RecordKind(data[1])
	switch kind {
	case KindState:
		if len(data) < StateRecordSize {
			return Record{}, fmt.Errorf("state record of %d bytes, want %d: %w", len(data), StateRecordSize, ErrShortRecord)
		}
		ev := unmarshalState(data)
		if !ev.State.Phase.Valid() || !ev.State.Occurrence.Valid() {
			return Record{}, fmt.Errorf("state record with phase %d occurrence %d: %w",
				uint8(ev.State.Phase), uint8(ev.State.Occurrence), ErrMalformedRecord)
		}
		return Record{Kind: KindState, Event: ev}, nil
	case KindFlight:
		if len(data) < FlightRecordSize {
			return Record{}, fmt.Errorf("flight record of %d bytes, want %d: %w", len(data), FlightRecordSize, ErrShortRecord)
		}
		return Record{Kind: KindFlight, Flight: unmarshalFlight(data)}, nil
	default:
		return Record{}, fmt.Errorf("kind %d: %w", kind, ErrUnknownKind)
	}
}

func marshalState(ev Event) []byte {
	buf := make([]byte, StateRecordSize)
	buf[0] = WireVersion
	buf[1] = byte(KindState)

	off := headerSize
	binary.LittleEndian.PutUint64(buf[off:], ev.FlightID)
	off += 8
	binary.LittleEndian.PutUint64(buf[off:], ev.State.Timestamp)
	off += 8

	s := ev.State
	for _, v := range [...]float64{
		s.Position.Latitude, s.Position.Longitude, s.Position.Altitude, s.AGL,
		s.VerticalSpeed, s.VerticalSpeedAvg, s.Pitch, s.Roll, s.Yaw,
		s.GroundSpeed, s.IndicatedAirspeed,
	} {
		binary.LittleEndian.PutUint32(buf[off:], math.Float32bits(float32(v)))
		off += 4
	}

	buf[off] = byte(s.Phase)
	buf[off+1] = byte(s.Occurrence)
	off += 2
	for _, b := range [...]bool{s.AnyOnGround, s.AllOnGround, s.ParkingBrake, s.Paused, s.Replay} {
		buf[off] = boolByte(b)
		off++
	}
	return buf
}

func unmarshalState(data []byte) Event {
	var ev Event
	off := headerSize
	ev.FlightID = binary.LittleEndian.Uint64(data[off:])
	off += 8
	ev.State.Timestamp = binary.LittleEndian.Uint64(data[off:])
	off += 8

	s := &ev.State
	for _, dst := range [...]*float64{
		&s.Position.Latitude, &s.Position.Longitude, &s.Position.Altitude, &s.AGL,
		&s.VerticalSpeed, &s.VerticalSpeedAvg, &s.Pitch, &s.Roll, &s.Yaw,
		&s.GroundSpeed, &s.IndicatedAirspeed,
	} {
		*dst = float64(math.Float32frombits(binary.LittleEndian.Uint32(data[off:])))
		off += 4
	}

	s.Phase = Phase(data[off])
	s.Occurrence = Occurrence(data[off+1])
	off += 2
	for _, dst := range [...]*bool{&s.AnyOnGround, &s.AllOnGround, &s.ParkingBrake, &s.Paused, &s.Replay} {
		*dst = data[off] != 0
		off++
	}
	return ev
}

func marshalFlight(d FlightDetails) []byte {
	buf := make([]byte, FlightRecordSize)
	buf[0] = WireVersion
	buf[1] = byte(KindFlight)

	off := headerSize
	binary.LittleEndian.PutUint64(buf[off:], d.FlightID)
	off += 8
	var start uint64
	if !d.StartTime.IsZero() {
		start = Millis(d.StartTime)
	}
	binary.LittleEndian.PutUint64(buf[off:], start)
	off += 8

	off += putFixed(buf[off:off+vehicleTypeLen], d.VehicleType)
	off += putFixed(buf[off:off+flightCodeLen], d.FlightCode)
	off += putFixed(buf[off:off+airportLen], d.Origin)
	putFixed(buf[off:off+airportLen], d.Destination)
	return buf
}

func unmarshalFlight(data []byte) FlightDetails {
	var d FlightDetails
	off := headerSize
	d.FlightID = binary.LittleEndian.Uint64(data[off:])
	off += 8
	if start := binary.LittleEndian.Uint64(data[off:]); start != 0 {
		d.StartTime = time.UnixMilli(int64(start)).UTC()
	}
	off += 8

	d.VehicleType = getFixed(data[off : off+vehicleTypeLen])
	off += vehicleTypeLen
	d.FlightCode = getFixed(data[off : off+flightCodeLen])
	off += flightCodeLen
	d.Origin = getFixed(data[off : off+airportLen])
	off += airportLen
	d.Destination = getFixed(data[off : off+airportLen])
	return d
}

// putFixed writes s NUL padded into dst, truncating if needed, and returns len(dst)
func putFixed(dst []byte, s string) int {
	n := copy(dst, s)
	for i := n; i < len(dst); i++ {
		dst[i] = 0
	}
	return len(dst)
}

func getFixed(src []byte) string {
	if i := strings.IndexByte(string(src), 0); i >= 0 {
		return string(src[:i])
	}
	return string(src)
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}
