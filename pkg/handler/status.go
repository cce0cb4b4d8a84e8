package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/geekprojects/blackbox/pkg/recorder"
)

// SnapshotSource provides the live recording status
type SnapshotSource interface {
	Snapshot() recorder.Snapshot
}

// StatusHandler serves the recorder's latest phase and status message
type StatusHandler struct {
	source SnapshotSource
}

// NewStatusHandler creates a new StatusHandler
func NewStatusHandler(source SnapshotSource) *StatusHandler {
	return &StatusHandler{source: source}
}

// Routes returns the status routes
func (h *StatusHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.GetStatus)
	return r
}

// GetStatus handles GET /api/v1/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, h.source.Snapshot())
}
