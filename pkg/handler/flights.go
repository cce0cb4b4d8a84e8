package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/geekprojects/blackbox/pkg/store"
	"github.com/geekprojects/blackbox/pkg/telemetry"
)

// FlightHandler serves recorded flights and their states
type FlightHandler struct {
	store    store.Store
	livePoll time.Duration
	origins  []string
	logger   zerolog.Logger
}

// FlightOption configures a FlightHandler
type FlightOption func(*FlightHandler)

// WithLivePoll sets how often the live feed looks for new states
func WithLivePoll(d time.Duration) FlightOption {
	return func(h *FlightHandler) {
		if d > 0 {
			h.livePoll = d
		}
	}
}

// WithOriginPatterns sets the origins allowed to open the live feed
func WithOriginPatterns(patterns ...string) FlightOption {
	return func(h *FlightHandler) {
		h.origins = patterns
	}
}

// NewFlightHandler creates a new FlightHandler
func NewFlightHandler(st store.Store, logger zerolog.Logger, opts ...FlightOption) *FlightHandler {
	h := &FlightHandler{
		store:    st,
		livePoll: time.Second,
		logger:   logger.With().Str("handler", "flights").Logger(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes returns the flight routes
func (h *FlightHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/", h.ListFlights)
	r.Delete("/", h.ClearFlights)
	r.Get("/{flightId}", h.GetFlight)
	r.Delete("/{flightId}", h.DeleteFlight)
	r.Get("/{flightId}/states", h.ListStates)
	r.Get("/{flightId}/live", h.Live)

	return r
}

// FlightListResponse represents the response for listing flights
type FlightListResponse struct {
	Flights       []telemetry.Flight `json:"flights"`
	Total         int                `json:"total"`
	Limit         int                `json:"limit"`
	Offset        int                `json:"offset"`
	CorrelationID string             `json:"correlation_id"`
}

// StateListResponse represents the states of one flight
type StateListResponse struct {
	FlightID      uint64            `json:"flight_id"`
	Since         uint64            `json:"since"`
	States        []telemetry.State `json:"states"`
	CorrelationID string            `json:"correlation_id"`
}

// ListFlights handles GET /api/v1/flights
func (h *FlightHandler) ListFlights(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	correlationID := GetCorrelationID(ctx)

	filter := store.FlightFilter{Limit: 100}
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil && limit > 0 {
			filter.Limit = limit
		}
	}
	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		if offset, err := strconv.Atoi(offsetStr); err == nil && offset >= 0 {
			filter.Offset = offset
		}
	}

	flights, err := h.store.ListFlights(ctx, filter)
	if err != nil {
		h.logger.Error().Err(err).Str("correlation_id", correlationID).Msg("Failed to list flights")
		WriteError(w, http.StatusInternalServerError, "Failed to list flights", correlationID)
		return
	}
	if flights == nil {
		flights = []telemetry.Flight{}
	}

	WriteJSON(w, http.StatusOK, FlightListResponse{
		Flights:       flights,
		Total:         len(flights),
		Limit:         filter.Limit,
		Offset:        filter.Offset,
		CorrelationID: correlationID,
	})
}

// GetFlight handles GET /api/v1/flights/{flightId}
func (h *FlightHandler) GetFlight(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	correlationID := GetCorrelationID(ctx)

	id, err := uintParam(r, "flightId")
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error(), correlationID)
		return
	}

	flight, err := h.store.GetFlight(ctx, id)
	if err != nil {
		h.writeStoreError(w, err, "Failed to get flight", correlationID)
		return
	}
	WriteJSON(w, http.StatusOK, flight)
}

// DeleteFlight handles DELETE /api/v1/flights/{flightId}
func (h *FlightHandler) DeleteFlight(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	correlationID := GetCorrelationID(ctx)

	id, err := uintParam(r, "flightId")
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error(), correlationID)
		return
	}

	if err := h.store.DeleteFlight(ctx, id); err != nil {
		h.writeStoreError(w, err, "Failed to delete flight", correlationID)
		return
	}

	h.logger.Info().Uint64("flight_id", id).Str("correlation_id", correlationID).Msg("Deleted flight")
	w.WriteHeader(http.StatusNoContent)
}

// ClearResponse represents the response for clearing every flight
type ClearResponse struct {
	Success       bool              `json:"success"`
	Message       string            `json:"message"`
	Deleted       store.ClearResult `json:"deleted"`
	CorrelationID string            `json:"correlation_id"`
}

// ClearFlights handles DELETE /api/v1/flights
func (h *FlightHandler) ClearFlights(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	correlationID := GetCorrelationID(ctx)

	h.logger.Info().Str("correlation_id", correlationID).Msg("Clearing all flights")

	result, err := h.store.ClearAll(ctx)
	if err != nil {
		h.logger.Error().Err(err).Str("correlation_id", correlationID).Msg("Failed to clear flights")
		WriteJSON(w, http.StatusInternalServerError, ClearResponse{
			Success:       false,
			Message:       "Failed to clear flights: " + err.Error(),
			CorrelationID: correlationID,
		})
		return
	}

	h.logger.Info().
		Str("correlation_id", correlationID).
		Int64("flights", result.Flights).
		Int64("states", result.States).
		Msg("Cleared all flights")

	WriteJSON(w, http.StatusOK, ClearResponse{
		Success:       true,
		Message:       "All flights cleared",
		Deleted:       result,
		CorrelationID: correlationID,
	})
}

// ListStates handles GET /api/v1/flights/{flightId}/states?since=<ms>
func (h *FlightHandler) ListStates(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	correlationID := GetCorrelationID(ctx)

	id, err := uintParam(r, "flightId")
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error(), correlationID)
		return
	}
	since, err := uintQuery(r, "since", 0)
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error(), correlationID)
		return
	}

	states, err := h.store.StatesSince(ctx, id, since)
	if err != nil {
		h.writeStoreError(w, err, "Failed to list states", correlationID)
		return
	}
	if states == nil {
		states = []telemetry.State{}
	}

	WriteJSON(w, http.StatusOK, StateListResponse{
		FlightID:      id,
		Since:         since,
		States:        states,
		CorrelationID: correlationID,
	})
}

func (h *FlightHandler) writeStoreError(w http.ResponseWriter, err error, message, correlationID string) {
	if errors.Is(err, store.ErrNotFound) {
		WriteError(w, http.StatusNotFound, "Flight not found", correlationID)
		return
	}
	h.logger.Error().Err(err).Str("correlation_id", correlationID).Msg(message)
	WriteError(w, http.StatusInternalServerError, message, correlationID)
}
