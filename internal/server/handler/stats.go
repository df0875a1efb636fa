package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/quantfall/otcdesk/internal/domain"
)

// StatsService defines the methods that the stats handler requires.
type StatsService interface {
	Stats(ctx context.Context) domain.TradingStats
}

// StatsHandler serves the trading statistics endpoint.
type StatsHandler struct {
	stats  StatsService
	logger *slog.Logger
}

// NewStatsHandler creates a StatsHandler.
func NewStatsHandler(stats StatsService, logger *slog.Logger) *StatsHandler {
	return &StatsHandler{
		stats:  stats,
		logger: logHandler(logger, "stats"),
	}
}

// GetStats returns cumulative and rolling-24h trading statistics.
// GET /api/stats
func (h *StatsHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.stats.Stats(r.Context()))
}
