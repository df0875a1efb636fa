package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantfall/otcdesk/internal/domain"
)

// PriceService defines the methods that the price handler requires from the
// service layer.
type PriceService interface {
	GetPrice(ctx context.Context, token string) (domain.ValidationResult, error)
	CachedPrice(ctx context.Context, token string) (decimal.Decimal, time.Time, error)
	UpdatePrice(ctx context.Context, token string) (domain.ValidationResult, error)
	BatchUpdatePrices(ctx context.Context, tokens []string) (succeeded, failed int, err error)
	TWAP(ctx context.Context, token string, window time.Duration) domain.TWAPResult
	History(ctx context.Context, token string, limit int) []domain.PricePoint
}

// PriceHandler serves price oracle HTTP endpoints.
type PriceHandler struct {
	prices PriceService
	logger *slog.Logger
}

// NewPriceHandler creates a PriceHandler with the given service and logger.
func NewPriceHandler(prices PriceService, logger *slog.Logger) *PriceHandler {
	return &PriceHandler{
		prices: prices,
		logger: logHandler(logger, "price"),
	}
}

// GetPrice validates and returns the current price for a token. With
// ?cached=true the last validated price is read from the cache instead of
// revalidating against the feeds.
// GET /api/price/{token}
func (h *PriceHandler) GetPrice(w http.ResponseWriter, r *http.Request) {
	token := pathParam(r, "token")
	if token == "" {
		writeError(w, http.StatusBadRequest, "missing token")
		return
	}

	if r.URL.Query().Get("cached") == "true" {
		price, ts, err := h.prices.CachedPrice(r.Context(), token)
		if err != nil {
			writeEngineError(w, r, h.logger, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"token":     token,
			"price":     price,
			"timestamp": ts.UTC().Format(time.RFC3339),
			"cached":    true,
		})
		return
	}

	res, err := h.prices.GetPrice(r.Context(), token)
	if err != nil {
		writeEngineError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// GetTWAP computes the time-weighted average price over a window.
// GET /api/price/{token}/twap?window=1h
func (h *PriceHandler) GetTWAP(w http.ResponseWriter, r *http.Request) {
	token := pathParam(r, "token")
	if token == "" {
		writeError(w, http.StatusBadRequest, "missing token")
		return
	}

	window := time.Hour
	if v := r.URL.Query().Get("window"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			writeError(w, http.StatusBadRequest, "invalid window duration")
			return
		}
		window = d
	}

	writeJSON(w, http.StatusOK, h.prices.TWAP(r.Context(), token, window))
}

// GetHistory returns recent validated observations, newest first.
// GET /api/price/{token}/history?limit=100
func (h *PriceHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	token := pathParam(r, "token")
	if token == "" {
		writeError(w, http.StatusBadRequest, "missing token")
		return
	}

	points := h.prices.History(r.Context(), token, parseListOpts(r).Limit)
	if points == nil {
		points = []domain.PricePoint{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"token":  token,
		"points": points,
	})
}

// UpdatePrice pulls a fresh observation for a token and records it in the
// TWAP history.
// POST /api/price/{token}/update
func (h *PriceHandler) UpdatePrice(w http.ResponseWriter, r *http.Request) {
	token := pathParam(r, "token")
	if token == "" {
		writeError(w, http.StatusBadRequest, "missing token")
		return
	}

	res, err := h.prices.UpdatePrice(r.Context(), token)
	if err != nil {
		writeEngineError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// batchUpdateRequest carries the tokens of a batch price update.
type batchUpdateRequest struct {
	Tokens []string `json:"tokens"`
}

// BatchUpdatePrices refreshes a set of tokens in one call.
// POST /api/price/update-batch
func (h *PriceHandler) BatchUpdatePrices(w http.ResponseWriter, r *http.Request) {
	var req batchUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if len(req.Tokens) == 0 {
		writeError(w, http.StatusBadRequest, "tokens are required")
		return
	}

	succeeded, failed, err := h.prices.BatchUpdatePrices(r.Context(), req.Tokens)
	if err != nil {
		writeEngineError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{
		"succeeded": succeeded,
		"failed":    failed,
	})
}
