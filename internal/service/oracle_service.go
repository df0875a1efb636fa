package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantfall/otcdesk/internal/domain"
	"github.com/quantfall/otcdesk/internal/engine"
)

// OracleService coordinates price validation with the external price cache.
// Validated prices are written through to the cache for cheap reads; the
// validation path itself never consults the cache.
type OracleService struct {
	engine *engine.Engine
	cache  domain.PriceCache
	logger *slog.Logger
}

// NewOracleService creates an OracleService. The cache may be nil.
func NewOracleService(eng *engine.Engine, cache domain.PriceCache, logger *slog.Logger) *OracleService {
	return &OracleService{
		engine: eng,
		cache:  cache,
		logger: logger.With(slog.String("component", "oracle_service")),
	}
}

// UpdatePrice pulls and validates a fresh observation for token, recording it
// in the TWAP history and writing the validated price through to the cache.
func (s *OracleService) UpdatePrice(ctx context.Context, token string) (domain.ValidationResult, error) {
	res, err := s.engine.UpdateObservation(ctx, token)
	if err != nil {
		return res, err
	}
	s.cachePrice(ctx, token, res.Price, res.CheckedAt)
	return res, nil
}

// BatchUpdatePrices refreshes up to the oracle's batch limit of tokens,
// returning how many succeeded and how many failed.
func (s *OracleService) BatchUpdatePrices(ctx context.Context, tokens []string) (succeeded, failed int, err error) {
	succeeded, failed, err = s.engine.BatchUpdate(ctx, tokens)
	if err != nil {
		return 0, 0, err
	}
	for _, token := range tokens {
		if price, ok := s.engine.Oracle().LastValidPrice(token); ok {
			s.cachePrice(ctx, token, price, time.Now())
		}
	}
	return succeeded, failed, nil
}

// GetPrice validates and returns the current price for token.
func (s *OracleService) GetPrice(ctx context.Context, token string) (domain.ValidationResult, error) {
	return s.engine.Oracle().GetPrice(ctx, token)
}

// CachedPrice returns the last validated price from the cache without
// touching the feeds.
func (s *OracleService) CachedPrice(ctx context.Context, token string) (decimal.Decimal, time.Time, error) {
	if s.cache == nil {
		return decimal.Zero, time.Time{}, fmt.Errorf("oracle_service: no price cache configured")
	}
	price, ts, err := s.cache.GetPrice(ctx, token)
	if err != nil {
		return decimal.Zero, time.Time{}, fmt.Errorf("oracle_service: cached price for %q: %w", token, err)
	}
	return price, ts, nil
}

// TWAP computes the time-weighted average price over the window.
func (s *OracleService) TWAP(_ context.Context, token string, window time.Duration) domain.TWAPResult {
	return s.engine.Oracle().TWAP(token, window)
}

// History returns the most recent validated observations, newest first.
func (s *OracleService) History(_ context.Context, token string, limit int) []domain.PricePoint {
	return s.engine.Oracle().History(token, limit)
}

// ConfigureOracle installs or replaces a token's validation policy.
func (s *OracleService) ConfigureOracle(ctx context.Context, principal, token string, cfg domain.OracleConfig) error {
	return s.engine.ConfigureOracle(ctx, principal, token, cfg)
}

// SetEmergencyPrice overrides a token's price and trips its breaker.
func (s *OracleService) SetEmergencyPrice(ctx context.Context, principal, token string, price decimal.Decimal, reason string) error {
	if err := s.engine.SetEmergencyPrice(ctx, principal, token, price, reason); err != nil {
		return err
	}
	s.cachePrice(ctx, token, price, time.Now())
	return nil
}

// ConfigureBreaker installs or replaces a token's circuit-breaker limits.
func (s *OracleService) ConfigureBreaker(ctx context.Context, principal, token string, cfg domain.BreakerConfig) error {
	return s.engine.ConfigureBreaker(ctx, principal, token, cfg)
}

// ResetBreaker clears a tripped breaker and its usage windows.
func (s *OracleService) ResetBreaker(ctx context.Context, principal, token string) error {
	return s.engine.ResetBreaker(ctx, principal, token)
}

// BreakerStatus reports a token's current breaker state.
func (s *OracleService) BreakerStatus(_ context.Context, token string) domain.BreakerStatus {
	return s.engine.Breakers().Status(token)
}

// RunUpdateLoop refreshes the configured tokens on a fixed interval until ctx
// is cancelled. Used when the host polls feeds instead of being pushed to.
func (s *OracleService) RunUpdateLoop(ctx context.Context, tokens []string, interval time.Duration) error {
	if len(tokens) == 0 {
		<-ctx.Done()
		return ctx.Err()
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			ok, failed, err := s.BatchUpdatePrices(ctx, tokens)
			if err != nil {
				s.logger.WarnContext(ctx, "price update batch rejected", slog.String("error", err.Error()))
				continue
			}
			if failed > 0 {
				s.logger.WarnContext(ctx, "price update loop",
					slog.Int("succeeded", ok),
					slog.Int("failed", failed),
				)
			}
		}
	}
}

func (s *OracleService) cachePrice(ctx context.Context, token string, price decimal.Decimal, ts time.Time) {
	if s.cache == nil {
		return
	}
	if err := s.cache.SetPrice(ctx, token, price, ts); err != nil {
		s.logger.WarnContext(ctx, "price cache write failed",
			slog.String("token", token),
			slog.String("error", err.Error()),
		)
	}
}
