package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/quantfall/otcdesk/internal/domain"
)

// OfferService defines the methods that the offer handler requires from the
// service layer.
type OfferService interface {
	CreateOffer(ctx context.Context, seller string, req domain.CreateOfferRequest) (uint64, error)
	BatchCreateOffers(ctx context.Context, seller string, reqs []domain.CreateOfferRequest) ([]domain.BatchCreateResult, error)
	BuyOffer(ctx context.Context, buyer string, offerID uint64, amount decimal.Decimal) (domain.Fill, error)
	CancelOffer(ctx context.Context, principal string, offerID uint64) error
	GetOffer(ctx context.Context, offerID uint64) (domain.Offer, error)
	ListOffers(ctx context.Context, filter domain.OfferFilter) []domain.Offer
	ListFills(ctx context.Context, offerID uint64, opts domain.ListOpts) ([]domain.Fill, error)
	RecentFills(ctx context.Context, limit int) ([]domain.Fill, error)
}

// OfferHandler serves offer lifecycle HTTP endpoints.
type OfferHandler struct {
	offers OfferService
	logger *slog.Logger
}

// NewOfferHandler creates an OfferHandler with the given service and logger.
func NewOfferHandler(offers OfferService, logger *slog.Logger) *OfferHandler {
	return &OfferHandler{
		offers: offers,
		logger: logHandler(logger, "offer"),
	}
}

// listOffersResponse wraps the list offers response.
type listOffersResponse struct {
	Offers []domain.Offer `json:"offers"`
}

// ListOffers returns live offers, optionally filtered by seller and status.
// GET /api/offers?seller=alice&status=active&limit=50
func (h *OfferHandler) ListOffers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := domain.OfferFilter{
		Seller: q.Get("seller"),
		Status: domain.OfferStatus(q.Get("status")),
		Limit:  parseListOpts(r).Limit,
	}

	offers := h.offers.ListOffers(r.Context(), filter)
	if offers == nil {
		offers = []domain.Offer{}
	}
	writeJSON(w, http.StatusOK, listOffersResponse{Offers: offers})
}

// GetOffer returns a single offer by id.
// GET /api/offers/{id}
func (h *OfferHandler) GetOffer(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid offer id")
		return
	}

	offer, err := h.offers.GetOffer(r.Context(), id)
	if err != nil {
		writeEngineError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, offer)
}

// CreateOffer lists a new offer on behalf of the authenticated seller.
// POST /api/offers
func (h *OfferHandler) CreateOffer(w http.ResponseWriter, r *http.Request) {
	seller, ok := principal(w, r)
	if !ok {
		return
	}

	var req domain.CreateOfferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	id, err := h.offers.CreateOffer(r.Context(), seller, req)
	if err != nil {
		writeEngineError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]uint64{"offer_id": id})
}

// batchCreateRequest carries the batch create payload.
type batchCreateRequest struct {
	Offers []domain.CreateOfferRequest `json:"offers"`
}

// BatchCreateOffers lists multiple offers in one serialized pass. Individual
// elements may fail without failing the batch.
// POST /api/offers/batch
func (h *OfferHandler) BatchCreateOffers(w http.ResponseWriter, r *http.Request) {
	seller, ok := principal(w, r)
	if !ok {
		return
	}

	var req batchCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	results, err := h.offers.BatchCreateOffers(r.Context(), seller, req.Offers)
	if err != nil {
		writeEngineError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

// fillRequest carries the fill amount for a buy.
type fillRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

// FillOffer settles a full or partial fill for the authenticated buyer.
// POST /api/offers/{id}/fill
func (h *OfferHandler) FillOffer(w http.ResponseWriter, r *http.Request) {
	buyer, ok := principal(w, r)
	if !ok {
		return
	}

	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid offer id")
		return
	}

	var req fillRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	fill, err := h.offers.BuyOffer(r.Context(), buyer, id, req.Amount)
	if err != nil {
		writeEngineError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, fill)
}

// CancelOffer cancels an offer on behalf of its seller or an admin.
// DELETE /api/offers/{id}
func (h *OfferHandler) CancelOffer(w http.ResponseWriter, r *http.Request) {
	caller, ok := principal(w, r)
	if !ok {
		return
	}

	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid offer id")
		return
	}

	if err := h.offers.CancelOffer(r.Context(), caller, id); err != nil {
		writeEngineError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "cancelled",
		"offer_id": id,
	})
}

// listFillsResponse wraps the fill list response.
type listFillsResponse struct {
	Fills []domain.Fill `json:"fills"`
}

// ListFills returns the persisted fills for an offer, newest first.
// GET /api/offers/{id}/fills
func (h *OfferHandler) ListFills(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid offer id")
		return
	}

	fills, err := h.offers.ListFills(r.Context(), id, parseListOpts(r))
	if err != nil {
		writeEngineError(w, r, h.logger, err)
		return
	}
	if fills == nil {
		fills = []domain.Fill{}
	}
	writeJSON(w, http.StatusOK, listFillsResponse{Fills: fills})
}

// RecentFills returns the most recent fills across all offers.
// GET /api/trades/recent
func (h *OfferHandler) RecentFills(w http.ResponseWriter, r *http.Request) {
	fills, err := h.offers.RecentFills(r.Context(), parseListOpts(r).Limit)
	if err != nil {
		writeEngineError(w, r, h.logger, err)
		return
	}
	if fills == nil {
		fills = []domain.Fill{}
	}
	writeJSON(w, http.StatusOK, listFillsResponse{Fills: fills})
}
