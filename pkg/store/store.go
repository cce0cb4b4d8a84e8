// Package store defines the persistence surface used by the writers and the flights API
package store

import (
	"context"
	"errors"

	"github.com/geekprojects/blackbox/pkg/telemetry"
)

var (
	// ErrNotFound is returned when a flight does not exist
	ErrNotFound = errors.New("flight not found")
	// ErrTxDone is returned by a transaction used after Commit or Rollback
	ErrTxDone = errors.New("transaction already finished")
)

// Writes are the mutating operations, available on the store and inside a transaction
type Writes interface {
	// CreateFlight inserts a flight and returns its store-assigned id
	CreateFlight(ctx context.Context, f telemetry.Flight) (uint64, error)
	UpdateFlight(ctx context.Context, f telemetry.Flight) error
	AppendState(ctx context.Context, flightID uint64, s telemetry.State) error
}

// Tx is an open transaction. Its writes are invisible to readers until Commit.
type Tx interface {
	Writes
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// FlightFilter pages through flights, newest first
type FlightFilter struct {
	Limit  int
	Offset int
}

// ClearResult counts the rows removed by ClearAll
type ClearResult struct {
	Flights int64 `json:"flights"`
	States  int64 `json:"states"`
}

// Store is the durable flight log
type Store interface {
	Writes

	Begin(ctx context.Context) (Tx, error)

	GetFlight(ctx context.Context, id uint64) (telemetry.Flight, error)
	ListFlights(ctx context.Context, filter FlightFilter) ([]telemetry.Flight, error)
	// StatesSince returns the states of a flight with a timestamp after since, oldest first
	StatesSince(ctx context.Context, flightID uint64, since uint64) ([]telemetry.State, error)
	DeleteFlight(ctx context.Context, id uint64) error
	// ClearAll removes every flight and state
	ClearAll(ctx context.Context) (ClearResult, error)

	Health(ctx context.Context) error
	Close()
}
