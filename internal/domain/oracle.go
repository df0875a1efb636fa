package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// PriceFeed is a single external price source.
type PriceFeed interface {
	// LatestPrice returns the most recent price and the time it was reported.
	LatestPrice(ctx context.Context) (decimal.Decimal, time.Time, error)
	// Name identifies the feed in diagnostics ("chainlink:ETH/USD", "sim").
	Name() string
}

// OracleConfig is the per-token validation policy for the price oracle.
type OracleConfig struct {
	Primary          PriceFeed
	Secondary        PriceFeed
	MaxStaleness     time.Duration
	DeviationBps     int64 // max primary/secondary deviation, basis points
	MinPrice         decimal.Decimal
	MaxPrice         decimal.Decimal
	Decimals         int
	Active           bool
	RequireSecondary bool // secondary validation is mandatory
}

// MaxDeviationBps bounds the configurable primary/secondary deviation
// threshold.
const MaxDeviationBps = 5000

// ValidationResult is the diagnostic outcome of a single price validation.
type ValidationResult struct {
	Token          string          `json:"token"`
	Price          decimal.Decimal `json:"price"`
	PrimaryPrice   decimal.Decimal `json:"primary_price"`
	SecondaryPrice decimal.Decimal `json:"secondary_price,omitempty"`
	DeviationBps   int64           `json:"deviation_bps"`
	Valid          bool            `json:"valid"`
	Reason         string          `json:"reason,omitempty"`
	CheckedAt      time.Time       `json:"checked_at"`
}

// PriceObservation is one point of the cumulative-price TWAP series.
// Cumulative carries prevCumulative + prevPrice*(t - prevT) in price-seconds.
type PriceObservation struct {
	Timestamp  time.Time       `json:"timestamp"`
	Price      decimal.Decimal `json:"price"`
	Cumulative decimal.Decimal `json:"cumulative"`
}

// PricePoint is one entry of the bounded historical ring buffer.
type PricePoint struct {
	Timestamp time.Time       `json:"timestamp"`
	Price     decimal.Decimal `json:"price"`
}

// TWAPResult is a time-weighted average price over a bounded window.
// Valid is false when there were too few observations or the window spanned
// zero time.
type TWAPResult struct {
	Token  string          `json:"token"`
	Price  decimal.Decimal `json:"price"`
	Window time.Duration   `json:"window"`
	Count  int             `json:"count"`
	Valid  bool            `json:"valid"`
}
