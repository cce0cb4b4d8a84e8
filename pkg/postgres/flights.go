package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/geekprojects/blackbox/pkg/store"
	"github.com/geekprojects/blackbox/pkg/telemetry"
)

const flightColumns = `id, origin, destination, vehicle_type, flight_code, start_time`

func scanFlight(row pgx.Row) (telemetry.Flight, error) {
	var f telemetry.Flight
	var id int64
	err := row.Scan(&id, &f.Origin, &f.Destination, &f.VehicleType, &f.FlightCode, &f.StartTime)
	f.ID = uint64(id)
	f.StartTime = f.StartTime.UTC()
	return f, err
}

func createFlight(ctx context.Context, q querier, f telemetry.Flight) (uint64, error) {
	query := `
		INSERT INTO flights (origin, destination, vehicle_type, flight_code, start_time)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`

	var id int64
	err := q.QueryRow(ctx, query, f.Origin, f.Destination, f.VehicleType, f.FlightCode, f.StartTime).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to create flight: %w", err)
	}
	return uint64(id), nil
}

func updateFlight(ctx context.Context, q querier, f telemetry.Flight) error {
	query := `
		UPDATE flights
		SET origin = $2, destination = $3, vehicle_type = $4, flight_code = $5
		WHERE id = $1
	`

	tag, err := q.Exec(ctx, query, int64(f.ID), f.Origin, f.Destination, f.VehicleType, f.FlightCode)
	if err != nil {
		return fmt.Errorf("failed to update flight %d: %w", f.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update flight %d: %w", f.ID, store.ErrNotFound)
	}
	return nil
}

func appendState(ctx context.Context, q querier, flightID uint64, s telemetry.State) error {
	query := `
		INSERT INTO flight_state (
			flight_id, timestamp_ms, phase, occurrence,
			latitude, longitude, altitude, agl,
			fpm, fpm_average, pitch, roll, yaw,
			ground_speed, indicated_airspeed,
			any_on_ground, all_on_ground, parking_brake, paused, replay
		) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7, $8,
			$9, $10, $11, $12, $13,
			$14, $15,
			$16, $17, $18, $19, $20
		)
	`

	_, err := q.Exec(ctx, query,
		int64(flightID), int64(s.Timestamp), s.Phase.String(), s.Occurrence.String(),
		s.Position.Latitude, s.Position.Longitude, s.Position.Altitude, s.AGL,
		s.VerticalSpeed, s.VerticalSpeedAvg, s.Pitch, s.Roll, s.Yaw,
		s.GroundSpeed, s.IndicatedAirspeed,
		s.AnyOnGround, s.AllOnGround, s.ParkingBrake, s.Paused, s.Replay,
	)
	if err != nil {
		return fmt.Errorf("failed to append state to flight %d: %w", flightID, err)
	}
	return nil
}

// CreateFlight inserts a flight outside any transaction
func (p *Pool) CreateFlight(ctx context.Context, f telemetry.Flight) (uint64, error) {
	return createFlight(ctx, p.Pool, f)
}

// UpdateFlight rewrites the descriptive fields of a flight
func (p *Pool) UpdateFlight(ctx context.Context, f telemetry.Flight) error {
	return updateFlight(ctx, p.Pool, f)
}

// AppendState inserts one state row
func (p *Pool) AppendState(ctx context.Context, flightID uint64, s telemetry.State) error {
	return appendState(ctx, p.Pool, flightID, s)
}

// GetFlight retrieves a single flight by ID
func (p *Pool) GetFlight(ctx context.Context, id uint64) (telemetry.Flight, error) {
	query := `SELECT ` + flightColumns + ` FROM flights WHERE id = $1`

	f, err := scanFlight(p.QueryRow(ctx, query, int64(id)))
	if errors.Is(err, pgx.ErrNoRows) {
		return telemetry.Flight{}, fmt.Errorf("get flight %d: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return telemetry.Flight{}, fmt.Errorf("failed to get flight: %w", err)
	}
	return f, nil
}

// ListFlights retrieves flights, newest first
func (p *Pool) ListFlights(ctx context.Context, filter store.FlightFilter) ([]telemetry.Flight, error) {
	query := `SELECT ` + flightColumns + ` FROM flights ORDER BY start_time DESC, id DESC`
	args := []interface{}{}
	argNum := 1

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argNum)
		args = append(args, filter.Limit)
		argNum++
	}

	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argNum)
		args = append(args, filter.Offset)
	}

	rows, err := p.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query flights: %w", err)
	}
	defer rows.Close()

	flights := []telemetry.Flight{}
	for rows.Next() {
		f, err := scanFlight(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan flight: %w", err)
		}
		flights = append(flights, f)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating flights: %w", err)
	}

	return flights, nil
}

// StatesSince returns the states of a flight recorded after since (ms), oldest first
func (p *Pool) StatesSince(ctx context.Context, flightID uint64, since uint64) ([]telemetry.State, error) {
	if _, err := p.GetFlight(ctx, flightID); err != nil {
		return nil, err
	}

	query := `
		SELECT
			timestamp_ms, phase, occurrence,
			latitude, longitude, altitude, agl,
			fpm, fpm_average, pitch, roll, yaw,
			ground_speed, indicated_airspeed,
			any_on_ground, all_on_ground, parking_brake, paused, replay
		FROM flight_state
		WHERE flight_id = $1 AND timestamp_ms > $2
		ORDER BY timestamp_ms ASC
	`

	rows, err := p.Query(ctx, query, int64(flightID), int64(since))
	if err != nil {
		return nil, fmt.Errorf("failed to query states: %w", err)
	}
	defer rows.Close()

	states := []telemetry.State{}
	for rows.Next() {
		var s telemetry.State
		var ts int64
		var phase, occurrence string

		err := rows.Scan(
			&ts, &phase, &occurrence,
			&s.Position.Latitude, &s.Position.Longitude, &s.Position.Altitude, &s.AGL,
			&s.VerticalSpeed, &s.VerticalSpeedAvg, &s.Pitch, &s.Roll, &s.Yaw,
			&s.GroundSpeed, &s.IndicatedAirspeed,
			&s.AnyOnGround, &s.AllOnGround, &s.ParkingBrake, &s.Paused, &s.Replay,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan state: %w", err)
		}

		s.Timestamp = uint64(ts)
		if s.Phase, err = telemetry.ParsePhase(phase); err != nil {
			return nil, fmt.Errorf("state at %d: %w", ts, err)
		}
		if s.Occurrence, err = telemetry.ParseOccurrence(occurrence); err != nil {
			return nil, fmt.Errorf("state at %d: %w", ts, err)
		}
		states = append(states, s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating states: %w", err)
	}

	return states, nil
}

// DeleteFlight removes a flight and, through the foreign key, its states
func (p *Pool) DeleteFlight(ctx context.Context, id uint64) error {
	tag, err := p.Exec(ctx, `DELETE FROM flights WHERE id = $1`, int64(id))
	if err != nil {
		return fmt.Errorf("failed to delete flight %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("delete flight %d: %w", id, store.ErrNotFound)
	}
	return nil
}
