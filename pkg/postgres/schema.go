package postgres

import (
	"context"
	"fmt"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS flights (
		id           BIGSERIAL PRIMARY KEY,
		origin       TEXT NOT NULL DEFAULT '',
		destination  TEXT NOT NULL DEFAULT '',
		vehicle_type TEXT NOT NULL DEFAULT '',
		flight_code  TEXT NOT NULL DEFAULT '',
		start_time   TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS flight_state (
		id                 BIGSERIAL PRIMARY KEY,
		flight_id          BIGINT NOT NULL REFERENCES flights(id) ON DELETE CASCADE,
		timestamp_ms       BIGINT NOT NULL,
		phase              TEXT NOT NULL,
		occurrence         TEXT NOT NULL DEFAULT 'none',
		latitude           DOUBLE PRECISION NOT NULL,
		longitude          DOUBLE PRECISION NOT NULL,
		altitude           DOUBLE PRECISION NOT NULL,
		agl                DOUBLE PRECISION NOT NULL,
		fpm                DOUBLE PRECISION NOT NULL,
		fpm_average        DOUBLE PRECISION NOT NULL,
		pitch              DOUBLE PRECISION NOT NULL,
		roll               DOUBLE PRECISION NOT NULL,
		yaw                DOUBLE PRECISION NOT NULL,
		ground_speed       DOUBLE PRECISION NOT NULL,
		indicated_airspeed DOUBLE PRECISION NOT NULL,
		any_on_ground      BOOLEAN NOT NULL,
		all_on_ground      BOOLEAN NOT NULL,
		parking_brake      BOOLEAN NOT NULL,
		paused             BOOLEAN NOT NULL,
		replay             BOOLEAN NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS flight_state_flight_time ON flight_state (flight_id, timestamp_ms)`,
}

// Migrate creates the tables if they do not exist
func (p *Pool) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := p.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}
