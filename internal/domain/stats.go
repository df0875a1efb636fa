package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TradingStats is a snapshot of the venue-wide trading statistics.
type TradingStats struct {
	TotalVolume      decimal.Decimal `json:"total_volume"` // payment-token notional
	TotalTrades      int64           `json:"total_trades"`
	TotalFees        decimal.Decimal `json:"total_fees"`
	Volume24h        decimal.Decimal `json:"volume_24h"`
	Trades24h        int64           `json:"trades_24h"`
	Fees24h          decimal.Decimal `json:"fees_24h"`
	AverageTradeSize decimal.Decimal `json:"average_trade_size"`
	UpdatedAt        time.Time       `json:"updated_at"`
}
