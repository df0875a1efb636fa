package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantfall/otcdesk/internal/domain"
	"github.com/quantfall/otcdesk/internal/engine"
)

// SettlementService exposes the offer lifecycle to transports. Reads of live
// offers hit the engine's in-memory ledger; historical reads (fills, offers
// already archived out of memory) fall back to the stores when configured.
type SettlementService struct {
	engine *engine.Engine
	offers domain.OfferStore
	trades domain.TradeStore
	logger *slog.Logger
}

// NewSettlementService creates a SettlementService. The stores may be nil in
// demo mode; history queries then return only what the engine holds.
func NewSettlementService(
	eng *engine.Engine,
	offers domain.OfferStore,
	trades domain.TradeStore,
	logger *slog.Logger,
) *SettlementService {
	return &SettlementService{
		engine: eng,
		offers: offers,
		trades: trades,
		logger: logger.With(slog.String("component", "settlement_service")),
	}
}

// CreateOffer validates and lists a new offer, returning its id.
func (s *SettlementService) CreateOffer(ctx context.Context, seller string, req domain.CreateOfferRequest) (uint64, error) {
	id, err := s.engine.CreateOffer(ctx, seller, req)
	if err != nil {
		return 0, err
	}
	s.logger.InfoContext(ctx, "offer created",
		slog.Uint64("offer_id", id),
		slog.String("seller", seller),
		slog.String("token", req.OfferToken),
		slog.String("amount", req.Amount.String()),
	)
	return id, nil
}

// BatchCreateOffers lists up to the engine's batch limit of offers in one
// serialized pass, returning a per-element result.
func (s *SettlementService) BatchCreateOffers(ctx context.Context, seller string, reqs []domain.CreateOfferRequest) ([]domain.BatchCreateResult, error) {
	return s.engine.BatchCreateOffers(ctx, seller, reqs)
}

// BuyOffer settles a full or partial fill against an active offer.
func (s *SettlementService) BuyOffer(ctx context.Context, buyer string, offerID uint64, amount decimal.Decimal) (domain.Fill, error) {
	fill, err := s.engine.BuyOffer(ctx, buyer, offerID, amount)
	if err != nil {
		return domain.Fill{}, err
	}
	s.logger.InfoContext(ctx, "offer filled",
		slog.Uint64("offer_id", offerID),
		slog.String("trade_id", fill.TradeID),
		slog.String("buyer", buyer),
		slog.String("notional", fill.Notional.String()),
		slog.String("fee", fill.Fee.String()),
	)
	return fill, nil
}

// CancelOffer cancels an offer on behalf of its seller (or an admin).
func (s *SettlementService) CancelOffer(ctx context.Context, principal string, offerID uint64) error {
	return s.engine.CancelOffer(ctx, principal, offerID)
}

// GetOffer returns an offer from the live ledger, falling back to the
// write-behind store for offers the engine no longer holds.
func (s *SettlementService) GetOffer(ctx context.Context, offerID uint64) (domain.Offer, error) {
	offer, err := s.engine.GetOffer(offerID)
	if err == nil {
		return offer, nil
	}
	if !errors.Is(err, domain.ErrNotFound) || s.offers == nil {
		return domain.Offer{}, err
	}
	offer, storeErr := s.offers.GetByID(ctx, offerID)
	if storeErr != nil {
		return domain.Offer{}, fmt.Errorf("settlement_service: offer %d: %w", offerID, err)
	}
	return offer, nil
}

// ListOffers returns live offers matching the filter.
func (s *SettlementService) ListOffers(_ context.Context, filter domain.OfferFilter) []domain.Offer {
	return s.engine.ListOffers(filter)
}

// ListFills returns the persisted fills for an offer, newest first.
func (s *SettlementService) ListFills(ctx context.Context, offerID uint64, opts domain.ListOpts) ([]domain.Fill, error) {
	if s.trades == nil {
		return nil, nil
	}
	fills, err := s.trades.ListByOffer(ctx, offerID, opts)
	if err != nil {
		return nil, fmt.Errorf("settlement_service: list fills for offer %d: %w", offerID, err)
	}
	return fills, nil
}

// RecentFills returns the most recent persisted fills across all offers.
func (s *SettlementService) RecentFills(ctx context.Context, limit int) ([]domain.Fill, error) {
	if s.trades == nil {
		return nil, nil
	}
	fills, err := s.trades.ListRecent(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("settlement_service: list recent fills: %w", err)
	}
	return fills, nil
}

// Stats returns cumulative and rolling-24h trading statistics.
func (s *SettlementService) Stats(context.Context) domain.TradingStats {
	return s.engine.Stats()
}

// Pause halts offer mutations venue-wide.
func (s *SettlementService) Pause(ctx context.Context, principal string) error {
	return s.engine.Pause(ctx, principal)
}

// Unpause resumes offer mutations.
func (s *SettlementService) Unpause(ctx context.Context, principal string) error {
	return s.engine.Unpause(ctx, principal)
}

// Paused reports whether the venue is currently paused.
func (s *SettlementService) Paused() bool {
	return s.engine.Paused()
}

// UpdateFees replaces the fee structure.
func (s *SettlementService) UpdateFees(ctx context.Context, principal string, fees domain.FeeStructure) error {
	return s.engine.UpdateFees(ctx, principal, fees)
}

// Fees returns the current fee structure.
func (s *SettlementService) Fees(context.Context) domain.FeeStructure {
	return s.engine.Fees()
}

// WhitelistToken adds or removes a token from the tradeable set.
func (s *SettlementService) WhitelistToken(ctx context.Context, principal, token string, allowed bool) error {
	return s.engine.WhitelistToken(ctx, principal, token, allowed)
}

// RunExpirySweep transitions past-expiry offers to EXPIRED on a fixed
// interval until ctx is cancelled.
func (s *SettlementService) RunExpirySweep(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if n := s.engine.ExpireStale(ctx); n > 0 {
				s.logger.InfoContext(ctx, "expired stale offers", slog.Int("count", n))
			}
		}
	}
}
