package domain

import "github.com/shopspring/decimal"

// Fee structure bounds, in basis points.
const (
	MaxBaseFeeBps         = 1000 // 10%
	MaxVolumeDiscountBps  = 500  // 5%
	MaxStakingDiscountBps = 200  // 2%
)

// FeeTierVolume is the cumulative user volume per discount tier in dynamic
// fee mode.
var FeeTierVolume = decimal.NewFromInt(1_000_000)

// FeeStructure is the venue-wide fee policy. Singleton, updated only by the
// fee manager.
type FeeStructure struct {
	BaseFeeBps            int64           `json:"base_fee_bps"`
	VolumeDiscountPerTier int64           `json:"volume_discount_per_tier_bps"`
	StakingDiscountBps    int64           `json:"staking_discount_bps"`
	MinimumFee            decimal.Decimal `json:"minimum_fee"`
	Dynamic               bool            `json:"dynamic"`
}
