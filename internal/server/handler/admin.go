package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantfall/otcdesk/internal/domain"
)

// VenueAdminService covers the venue-wide administrative operations.
type VenueAdminService interface {
	Pause(ctx context.Context, principal string) error
	Unpause(ctx context.Context, principal string) error
	UpdateFees(ctx context.Context, principal string, fees domain.FeeStructure) error
	Fees(ctx context.Context) domain.FeeStructure
	WhitelistToken(ctx context.Context, principal, token string, allowed bool) error
}

// RiskAdminService covers oracle and circuit-breaker administration.
type RiskAdminService interface {
	ConfigureOracle(ctx context.Context, principal, token string, cfg domain.OracleConfig) error
	SetEmergencyPrice(ctx context.Context, principal, token string, price decimal.Decimal, reason string) error
	ConfigureBreaker(ctx context.Context, principal, token string, cfg domain.BreakerConfig) error
	ResetBreaker(ctx context.Context, principal, token string) error
	BreakerStatus(ctx context.Context, token string) domain.BreakerStatus
}

// FeedResolver maps configured feed names to live PriceFeed instances so the
// oracle config API can reference feeds by name.
type FeedResolver interface {
	Feed(name string) (domain.PriceFeed, bool)
}

// AdminHandler serves the administrative HTTP endpoints. The archive reader
// is nil when cold storage is not configured.
type AdminHandler struct {
	venue   VenueAdminService
	risk    RiskAdminService
	feeds   FeedResolver
	archive domain.ArchiveReader
	logger  *slog.Logger
}

// NewAdminHandler creates an AdminHandler.
func NewAdminHandler(venue VenueAdminService, risk RiskAdminService, feeds FeedResolver, archive domain.ArchiveReader, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{
		venue:   venue,
		risk:    risk,
		feeds:   feeds,
		archive: archive,
		logger:  logHandler(logger, "admin"),
	}
}

// Pause halts all offer mutations venue-wide.
// POST /api/admin/pause
func (h *AdminHandler) Pause(w http.ResponseWriter, r *http.Request) {
	caller, ok := principal(w, r)
	if !ok {
		return
	}
	if err := h.venue.Pause(r.Context(), caller); err != nil {
		writeEngineError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "paused"})
}

// Unpause resumes offer mutations.
// POST /api/admin/unpause
func (h *AdminHandler) Unpause(w http.ResponseWriter, r *http.Request) {
	caller, ok := principal(w, r)
	if !ok {
		return
	}
	if err := h.venue.Unpause(r.Context(), caller); err != nil {
		writeEngineError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "active"})
}

// GetFees returns the current fee structure.
// GET /api/admin/fees
func (h *AdminHandler) GetFees(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.venue.Fees(r.Context()))
}

// UpdateFees replaces the venue fee structure.
// PUT /api/admin/fees
func (h *AdminHandler) UpdateFees(w http.ResponseWriter, r *http.Request) {
	caller, ok := principal(w, r)
	if !ok {
		return
	}

	var fees domain.FeeStructure
	if err := json.NewDecoder(r.Body).Decode(&fees); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	if err := h.venue.UpdateFees(r.Context(), caller, fees); err != nil {
		writeEngineError(w, r, h.logger, err)
		return
	}
	h.logger.InfoContext(r.Context(), "fees updated",
		slog.String("principal", caller),
		slog.Int64("base_fee_bps", fees.BaseFeeBps),
	)
	writeJSON(w, http.StatusOK, fees)
}

// whitelistRequest carries a token whitelist change.
type whitelistRequest struct {
	Token   string `json:"token"`
	Allowed bool   `json:"allowed"`
}

// WhitelistToken adds or removes a token from the tradeable set.
// POST /api/admin/whitelist
func (h *AdminHandler) WhitelistToken(w http.ResponseWriter, r *http.Request) {
	caller, ok := principal(w, r)
	if !ok {
		return
	}

	var req whitelistRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Token == "" {
		writeError(w, http.StatusBadRequest, "token is required")
		return
	}

	if err := h.venue.WhitelistToken(r.Context(), caller, req.Token, req.Allowed); err != nil {
		writeEngineError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"token":   req.Token,
		"allowed": req.Allowed,
	})
}

// oracleConfigRequest is the wire form of an oracle policy. Feeds are
// referenced by configured name and resolved server-side.
type oracleConfigRequest struct {
	PrimaryFeed      string          `json:"primary_feed"`
	SecondaryFeed    string          `json:"secondary_feed,omitempty"`
	MaxStaleness     string          `json:"max_staleness"` // Go duration, e.g. "5m"
	DeviationBps     int64           `json:"deviation_bps"`
	MinPrice         decimal.Decimal `json:"min_price"`
	MaxPrice         decimal.Decimal `json:"max_price"`
	Decimals         int             `json:"decimals"`
	Active           bool            `json:"active"`
	RequireSecondary bool            `json:"require_secondary"`
}

// ConfigureOracle installs or replaces a token's price validation policy.
// PUT /api/admin/oracle/{token}
func (h *AdminHandler) ConfigureOracle(w http.ResponseWriter, r *http.Request) {
	caller, ok := principal(w, r)
	if !ok {
		return
	}

	token := pathParam(r, "token")
	if token == "" {
		writeError(w, http.StatusBadRequest, "missing token")
		return
	}

	var req oracleConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	cfg := domain.OracleConfig{
		DeviationBps:     req.DeviationBps,
		MinPrice:         req.MinPrice,
		MaxPrice:         req.MaxPrice,
		Decimals:         req.Decimals,
		Active:           req.Active,
		RequireSecondary: req.RequireSecondary,
	}

	if req.MaxStaleness != "" {
		d, err := time.ParseDuration(req.MaxStaleness)
		if err != nil || d <= 0 {
			writeError(w, http.StatusBadRequest, "invalid max_staleness duration")
			return
		}
		cfg.MaxStaleness = d
	}

	primary, ok := h.feeds.Feed(req.PrimaryFeed)
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown primary feed: "+req.PrimaryFeed)
		return
	}
	cfg.Primary = primary

	if req.SecondaryFeed != "" {
		secondary, ok := h.feeds.Feed(req.SecondaryFeed)
		if !ok {
			writeError(w, http.StatusBadRequest, "unknown secondary feed: "+req.SecondaryFeed)
			return
		}
		cfg.Secondary = secondary
	}

	if err := h.risk.ConfigureOracle(r.Context(), caller, token, cfg); err != nil {
		writeEngineError(w, r, h.logger, err)
		return
	}
	h.logger.InfoContext(r.Context(), "oracle configured",
		slog.String("principal", caller),
		slog.String("token", token),
		slog.String("primary_feed", req.PrimaryFeed),
	)
	writeJSON(w, http.StatusOK, map[string]string{"status": "configured", "token": token})
}

// emergencyPriceRequest carries a manual price override.
type emergencyPriceRequest struct {
	Price  decimal.Decimal `json:"price"`
	Reason string          `json:"reason"`
}

// SetEmergencyPrice overrides a token's price and trips its breaker.
// POST /api/admin/oracle/{token}/emergency
func (h *AdminHandler) SetEmergencyPrice(w http.ResponseWriter, r *http.Request) {
	caller, ok := principal(w, r)
	if !ok {
		return
	}

	token := pathParam(r, "token")
	if token == "" {
		writeError(w, http.StatusBadRequest, "missing token")
		return
	}

	var req emergencyPriceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	if err := h.risk.SetEmergencyPrice(r.Context(), caller, token, req.Price, req.Reason); err != nil {
		writeEngineError(w, r, h.logger, err)
		return
	}
	h.logger.WarnContext(r.Context(), "emergency price set",
		slog.String("principal", caller),
		slog.String("token", token),
		slog.String("price", req.Price.String()),
		slog.String("reason", req.Reason),
	)
	writeJSON(w, http.StatusOK, map[string]string{"status": "emergency_price_set", "token": token})
}

// ConfigureBreaker installs or replaces a token's circuit-breaker limits.
// PUT /api/admin/breaker/{token}
func (h *AdminHandler) ConfigureBreaker(w http.ResponseWriter, r *http.Request) {
	caller, ok := principal(w, r)
	if !ok {
		return
	}

	token := pathParam(r, "token")
	if token == "" {
		writeError(w, http.StatusBadRequest, "missing token")
		return
	}

	var cfg domain.BreakerConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	if err := h.risk.ConfigureBreaker(r.Context(), caller, token, cfg); err != nil {
		writeEngineError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "configured", "token": token})
}

// ResetBreaker clears a tripped breaker and its usage windows.
// POST /api/admin/breaker/{token}/reset
func (h *AdminHandler) ResetBreaker(w http.ResponseWriter, r *http.Request) {
	caller, ok := principal(w, r)
	if !ok {
		return
	}

	token := pathParam(r, "token")
	if token == "" {
		writeError(w, http.StatusBadRequest, "missing token")
		return
	}

	if err := h.risk.ResetBreaker(r.Context(), caller, token); err != nil {
		writeEngineError(w, r, h.logger, err)
		return
	}
	h.logger.InfoContext(r.Context(), "breaker reset",
		slog.String("principal", caller),
		slog.String("token", token),
	)
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset", "token": token})
}

// GetBreakerStatus reports a token's current breaker state.
// GET /api/admin/breaker/{token}
func (h *AdminHandler) GetBreakerStatus(w http.ResponseWriter, r *http.Request) {
	token := pathParam(r, "token")
	if token == "" {
		writeError(w, http.StatusBadRequest, "missing token")
		return
	}
	writeJSON(w, http.StatusOK, h.risk.BreakerStatus(r.Context(), token))
}

// archiveKind validates the {kind} path segment of the archive endpoints.
func archiveKind(r *http.Request) (string, bool) {
	kind := pathParam(r, "kind")
	return kind, kind == "trades" || kind == "offers"
}

// ListArchiveSnapshots lists the archived months for trades or offers.
// GET /api/admin/archive/{kind}
func (h *AdminHandler) ListArchiveSnapshots(w http.ResponseWriter, r *http.Request) {
	if h.archive == nil {
		writeError(w, http.StatusNotFound, "archive storage not configured")
		return
	}
	kind, ok := archiveKind(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "kind must be trades or offers")
		return
	}

	snapshots, err := h.archive.ListSnapshots(r.Context(), kind)
	if err != nil {
		writeEngineError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"kind":      kind,
		"snapshots": snapshots,
	})
}

// DownloadArchiveSnapshot streams one month's JSONL snapshot from cold storage.
// GET /api/admin/archive/{kind}/{month}
func (h *AdminHandler) DownloadArchiveSnapshot(w http.ResponseWriter, r *http.Request) {
	if h.archive == nil {
		writeError(w, http.StatusNotFound, "archive storage not configured")
		return
	}
	kind, ok := archiveKind(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "kind must be trades or offers")
		return
	}
	month := pathParam(r, "month")

	body, err := h.archive.OpenSnapshot(r.Context(), kind, month)
	if err != nil {
		writeEngineError(w, r, h.logger, err)
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, body); err != nil {
		h.logger.WarnContext(r.Context(), "archive snapshot stream interrupted",
			slog.String("kind", kind),
			slog.String("month", month),
			slog.String("error", err.Error()),
		)
	}
}
