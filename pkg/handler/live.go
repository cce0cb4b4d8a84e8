package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/geekprojects/blackbox/pkg/store"
	"github.com/geekprojects/blackbox/pkg/telemetry"
)

// Live feed message types
const (
	MessageTypeStates = "states"
	MessageTypePing   = "ping"
)

const (
	livePingInterval = 30 * time.Second
	liveWriteTimeout = 10 * time.Second
)

// LiveMessage is sent over the live feed websocket
type LiveMessage struct {
	Type      string            `json:"type"`
	FlightID  uint64            `json:"flight_id"`
	States    []telemetry.State `json:"states,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// Live handles GET /api/v1/flights/{flightId}/live?since=<ms>. It upgrades to a
// websocket and pushes every state committed after since, polling the store.
func (h *FlightHandler) Live(w http.ResponseWriter, r *http.Request) {
	correlationID := GetCorrelationID(r.Context())

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
	if _, err := h.store.GetFlight(r.Context(), id); err != nil {
		h.writeStoreError(w, err, "Failed to get flight", correlationID)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.origins})
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to accept WebSocket connection")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "")

	// the client only listens; CloseRead cancels ctx once it goes away
	ctx := conn.CloseRead(r.Context())
	log := h.logger.With().Uint64("flight_id", id).Str("correlation_id", correlationID).Logger()
	log.Info().Msg("Live feed connected")

	poll := time.NewTicker(h.livePoll)
	defer poll.Stop()
	ping := time.NewTicker(livePingInterval)
	defer ping.Stop()

	for {
		next, err := h.pushStates(ctx, conn, id, since)
		switch {
		case errors.Is(err, store.ErrNotFound):
			conn.Close(websocket.StatusNormalClosure, "flight deleted")
			return
		case ctx.Err() != nil:
			log.Info().Msg("Live feed disconnected")
			return
		case err != nil:
			log.Warn().Err(err).Msg("Live feed update failed")
		default:
			since = next
		}

		select {
		case <-ctx.Done():
			log.Info().Msg("Live feed disconnected")
			return
		case <-ping.C:
			if err := h.write(ctx, conn, LiveMessage{Type: MessageTypePing, FlightID: id, Timestamp: time.Now().UTC()}); err != nil {
				return
			}
		case <-poll.C:
		}
	}
}

// pushStates sends the states after since and returns the new high-water mark
func (h *FlightHandler) pushStates(ctx context.Context, conn *websocket.Conn, id, since uint64) (uint64, error) {
	states, err := h.store.StatesSince(ctx, id, since)
	if err != nil || len(states) == 0 {
		return since, err
	}

	msg := LiveMessage{
		Type:      MessageTypeStates,
		FlightID:  id,
		States:    states,
		Timestamp: time.Now().UTC(),
	}
	if err := h.write(ctx, conn, msg); err != nil {
		return since, err
	}
	return states[len(states)-1].Timestamp, nil
}

func (h *FlightHandler) write(ctx context.Context, conn *websocket.Conn, msg LiveMessage) error {
	ctx, cancel := context.WithTimeout(ctx, liveWriteTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, msg)
}
