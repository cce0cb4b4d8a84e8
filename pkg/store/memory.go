package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/geekprojects/blackbox/pkg/telemetry"
)

// Memory is an in-process Store. Transactions stage their writes and apply
// them under one lock on Commit.
type Memory struct {
	mu      sync.RWMutex
	nextID  uint64
	flights map[uint64]telemetry.Flight
	states  map[uint64][]telemetry.State
}

// NewMemory creates an empty store
func NewMemory() *Memory {
	return &Memory{
		flights: make(map[uint64]telemetry.Flight),
		states:  make(map[uint64][]telemetry.State),
	}
}

func (m *Memory) allocateID() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	return m.nextID
}

// CreateFlight implements Writes
func (m *Memory) CreateFlight(ctx context.Context, f telemetry.Flight) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	f.ID = m.nextID
	m.flights[f.ID] = f
	return f.ID, nil
}

// UpdateFlight implements Writes
func (m *Memory) UpdateFlight(ctx context.Context, f telemetry.Flight) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.flights[f.ID]; !ok {
		return fmt.Errorf("update flight %d: %w", f.ID, ErrNotFound)
	}
	m.flights[f.ID] = f
	return nil
}

// AppendState implements Writes
func (m *Memory) AppendState(ctx context.Context, flightID uint64, s telemetry.State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.flights[flightID]; !ok {
		return fmt.Errorf("append state to flight %d: %w", flightID, ErrNotFound)
	}
	m.states[flightID] = append(m.states[flightID], s)
	return nil
}

// GetFlight implements Store
func (m *Memory) GetFlight(ctx context.Context, id uint64) (telemetry.Flight, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	f, ok := m.flights[id]
	if !ok {
		return telemetry.Flight{}, fmt.Errorf("get flight %d: %w", id, ErrNotFound)
	}
	return f, nil
}

// ListFlights implements Store
func (m *Memory) ListFlights(ctx context.Context, filter FlightFilter) ([]telemetry.Flight, error) {
	m.mu.RLock()
	flights := make([]telemetry.Flight, 0, len(m.flights))
	for _, f := range m.flights {
		flights = append(flights, f)
	}
	m.mu.RUnlock()

	sort.Slice(flights, func(i, j int) bool {
		if !flights[i].StartTime.Equal(flights[j].StartTime) {
			return flights[i].StartTime.After(flights[j].StartTime)
		}
		return flights[i].ID > flights[j].ID
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(flights) {
			return []telemetry.Flight{}, nil
		}
		flights = flights[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(flights) {
		flights = flights[:filter.Limit]
	}
	return flights, nil
}

// StatesSince implements Store
func (m *Memory) StatesSince(ctx context.Context, flightID uint64, since uint64) ([]telemetry.State, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := m.flights[flightID]; !ok {
		return nil, fmt.Errorf("states of flight %d: %w", flightID, ErrNotFound)
	}

	states := []telemetry.State{}
	for _, s := range m.states[flightID] {
		if s.Timestamp > since {
			states = append(states, s)
		}
	}
	sort.SliceStable(states, func(i, j int) bool {
		return states[i].Timestamp < states[j].Timestamp
	})
	return states, nil
}

// DeleteFlight implements Store
func (m *Memory) DeleteFlight(ctx context.Context, id uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.flights[id]; !ok {
		return fmt.Errorf("delete flight %d: %w", id, ErrNotFound)
	}
	delete(m.flights, id)
	delete(m.states, id)
	return nil
}

// ClearAll implements Store
func (m *Memory) ClearAll(ctx context.Context) (ClearResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	res := ClearResult{Flights: int64(len(m.flights))}
	for _, states := range m.states {
		res.States += int64(len(states))
	}
	m.flights = make(map[uint64]telemetry.Flight)
	m.states = make(map[uint64][]telemetry.State)
	return res, nil
}

// Health implements Store
func (m *Memory) Health(ctx context.Context) error {
	return nil
}

// Close implements Store
func (m *Memory) Close() {}

// Begin implements Store
func (m *Memory) Begin(ctx context.Context) (Tx, error) {
	return &memoryTx{m: m}, nil
}

type stagedOp struct {
	create   *telemetry.Flight
	update   *telemetry.Flight
	flightID uint64
	state    telemetry.State
}

type memoryTx struct {
	m    *Memory
	ops  []stagedOp
	done bool

	created map[uint64]bool
}

func (tx *memoryTx) CreateFlight(ctx context.Context, f telemetry.Flight) (uint64, error) {
	if tx.done {
		return 0, ErrTxDone
	}
	f.ID = tx.m.allocateID()
	tx.ops = append(tx.ops, stagedOp{create: &f})
	if tx.created == nil {
		tx.created = make(map[uint64]bool)
	}
	tx.created[f.ID] = true
	return f.ID, nil
}

func (tx *memoryTx) UpdateFlight(ctx context.Context, f telemetry.Flight) error {
	if tx.done {
		return ErrTxDone
	}
	if err := tx.exists(f.ID); err != nil {
		return fmt.Errorf("update flight %d: %w", f.ID, err)
	}
	tx.ops = append(tx.ops, stagedOp{update: &f})
	return nil
}

func (tx *memoryTx) AppendState(ctx context.Context, flightID uint64, s telemetry.State) error {
	if tx.done {
		return ErrTxDone
	}
	if err := tx.exists(flightID); err != nil {
		return fmt.Errorf("append state to flight %d: %w", flightID, err)
	}
	tx.ops = append(tx.ops, stagedOp{flightID: flightID, state: s})
	return nil
}

func (tx *memoryTx) exists(id uint64) error {
	if tx.created[id] {
		return nil
	}
	tx.m.mu.RLock()
	defer tx.m.mu.RUnlock()
	if _, ok := tx.m.flights[id]; !ok {
		return ErrNotFound
	}
	return nil
}

func (tx *memoryTx) Commit(ctx context.Context) error {
	if tx.done {
		return ErrTxDone
	}
	tx.done = true

	m := tx.m
	m.mu.Lock()
	defer m.mu.Unlock()

	// validate first so a failed commit applies nothing
	for _, op := range tx.ops {
		id := op.flightID
		if op.update != nil {
			id = op.update.ID
		}
		if op.create == nil && !tx.created[id] {
			if _, ok := m.flights[id]; !ok {
				return fmt.Errorf("commit: flight %d: %w", id, ErrNotFound)
			}
		}
	}

	for _, op := range tx.ops {
		switch {
		case op.create != nil:
			m.flights[op.create.ID] = *op.create
		case op.update != nil:
			m.flights[op.update.ID] = *op.update
		default:
			m.states[op.flightID] = append(m.states[op.flightID], op.state)
		}
	}
	return nil
}

func (tx *memoryTx) Rollback(ctx context.Context) error {
	if tx.done {
		return nil
	}
	tx.done = true
	tx.ops = nil
	return nil
}
