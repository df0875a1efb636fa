package engine

import (
	"sync"

	"github.com/shopspring/decimal"

	"github.com/quantfall/otcdesk/internal/domain"
)

var bpsDenominator = decimal.NewFromInt(10_000)

// FeeEngine computes the trading fee for a given notional and trader. In
// static mode the fee is a flat cut of the notional; in dynamic mode the rate
// shrinks with the trader's cumulative volume, one discount step per
// domain.FeeTierVolume traded, never below half the base rate. Both modes
// enforce the minimum-fee floor.
type FeeEngine struct {
	mu  sync.RWMutex
	cfg domain.FeeStructure
}

// NewFeeEngine creates a FeeEngine with the given initial structure. The
// structure must already satisfy the update bounds; use Update for validated
// changes.
func NewFeeEngine(cfg domain.FeeStructure) *FeeEngine {
	return &FeeEngine{cfg: cfg}
}

// Quote returns the fee for a trade of the given notional. userVolume is the
// trader's cumulative settled volume (dynamic mode only); staked applies the
// staking discount.
func (f *FeeEngine) Quote(notional, userVolume decimal.Decimal, staked bool) decimal.Decimal {
	f.mu.RLock()
	cfg := f.cfg
	f.mu.RUnlock()

	rate := cfg.BaseFeeBps
	if cfg.Dynamic {
		var discount int64
		if userVolume.IsPositive() {
			tier := userVolume.Div(domain.FeeTierVolume).IntPart()
			discount = tier * cfg.VolumeDiscountPerTier
		}
		if staked {
			discount += cfg.StakingDiscountBps
		}
		// The combined discount never halves the base rate or more.
		if half := cfg.BaseFeeBps / 2; discount > half {
			discount = half
		}
		rate -= discount
	}

	fee := notional.Mul(decimal.NewFromInt(rate)).Div(bpsDenominator)
	if fee.LessThan(cfg.MinimumFee) {
		return cfg.MinimumFee
	}
	return fee
}

// Update replaces the fee structure. Bounds: base ≤ 1000 bps, volume discount
// per tier ≤ 500 bps, staking discount ≤ 200 bps, minimum fee non-negative.
func (f *FeeEngine) Update(cfg domain.FeeStructure) error {
	if cfg.BaseFeeBps < 0 || cfg.BaseFeeBps > domain.MaxBaseFeeBps {
		return domain.Errorf(domain.ErrValidation, domain.CodeInvalidConfig,
			"base fee %d bps out of range [0,%d]", cfg.BaseFeeBps, domain.MaxBaseFeeBps)
	}
	if cfg.VolumeDiscountPerTier < 0 || cfg.VolumeDiscountPerTier > domain.MaxVolumeDiscountBps {
		return domain.Errorf(domain.ErrValidation, domain.CodeInvalidConfig,
			"volume discount %d bps out of range [0,%d]", cfg.VolumeDiscountPerTier, domain.MaxVolumeDiscountBps)
	}
	if cfg.StakingDiscountBps < 0 || cfg.StakingDiscountBps > domain.MaxStakingDiscountBps {
		return domain.Errorf(domain.ErrValidation, domain.CodeInvalidConfig,
			"staking discount %d bps out of range [0,%d]", cfg.StakingDiscountBps, domain.MaxStakingDiscountBps)
	}
	if cfg.MinimumFee.IsNegative() {
		return domain.Errorf(domain.ErrValidation, domain.CodeInvalidConfig, "minimum fee must not be negative")
	}

	f.mu.Lock()
	f.cfg = cfg
	f.mu.Unlock()
	return nil
}

// Structure returns a snapshot of the current fee structure.
func (f *FeeEngine) Structure() domain.FeeStructure {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.cfg
}
