package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// MaxPriceImpactBps bounds the configurable price-change breaker threshold.
const MaxPriceImpactBps = 5000

// BreakerConfig is the per-token risk policy enforced by the circuit breaker
// controller. The volume family uses the daily/hourly limits; the price
// family uses MaxPriceImpactBps and MaxFailures.
type BreakerConfig struct {
	DailyLimit        decimal.Decimal `json:"daily_limit"`  // payment-token notional per day
	HourlyLimit       decimal.Decimal `json:"hourly_limit"` // must be ≤ DailyLimit
	MaxPriceImpactBps int64           `json:"max_price_impact_bps"`
	MaxFailures       int             `json:"max_failures"` // consecutive oracle failures before trip
}

// BreakerStatus is a read-only snapshot of one token's breaker state.
type BreakerStatus struct {
	Token        string          `json:"token"`
	DailyUsed    decimal.Decimal `json:"daily_used"`
	HourlyUsed   decimal.Decimal `json:"hourly_used"`
	DayStart     time.Time       `json:"day_start"`
	HourStart    time.Time       `json:"hour_start"`
	Failures     int             `json:"consecutive_failures"`
	Tripped      bool            `json:"tripped"`
	TrippedAt    time.Time       `json:"tripped_at,omitempty"`
	TrippedCause string          `json:"tripped_cause,omitempty"`
}
