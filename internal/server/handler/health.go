package handler

import (
	"log/slog"
	"net/http"
	"time"
)

// PauseReporter answers whether the venue is currently paused.
type PauseReporter interface {
	Paused() bool
}

// HealthHandler serves the health-check endpoint.
type HealthHandler struct {
	venue  PauseReporter
	logger *slog.Logger
}

// NewHealthHandler creates a HealthHandler. The reporter may be nil.
func NewHealthHandler(venue PauseReporter, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{venue: venue, logger: logger}
}

// HealthCheck responds with a simple JSON status indicating the server is
// alive and whether trading is paused.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	venue := "active"
	if h.venue != nil && h.venue.Paused() {
		venue = "paused"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"venue":     venue,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
