package engine

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantfall/otcdesk/internal/domain"
)

const rollingWindow = 24 * time.Hour

type tradeSample struct {
	ts       time.Time
	notional decimal.Decimal
	fee      decimal.Decimal
}

// Stats aggregates cumulative and rolling-24h trading statistics plus the
// per-user cumulative volume feeding the dynamic fee tiers.
type Stats struct {
	mu  sync.Mutex
	now func() time.Time

	totalVolume decimal.Decimal
	totalTrades int64
	totalFees   decimal.Decimal
	recent      []tradeSample // within the rolling window, oldest first
	userVolume  map[string]decimal.Decimal
	updatedAt   time.Time
}

// NewStats creates an empty aggregator.
func NewStats(now func() time.Time) *Stats {
	if now == nil {
		now = time.Now
	}
	return &Stats{
		now:         now,
		totalVolume: decimal.Zero,
		totalFees:   decimal.Zero,
		userVolume:  make(map[string]decimal.Decimal),
	}
}

// RecordTrade registers a settled fill. Both counterparties accrue the
// notional as user volume.
func (s *Stats) RecordTrade(buyer, seller string, notional, fee decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.totalVolume = s.totalVolume.Add(notional)
	s.totalTrades++
	s.totalFees = s.totalFees.Add(fee)
	s.recent = append(s.recent, tradeSample{ts: now, notional: notional, fee: fee})
	s.pruneLocked(now)

	s.userVolume[buyer] = s.userVolume[buyer].Add(notional)
	s.userVolume[seller] = s.userVolume[seller].Add(notional)
	s.updatedAt = now
}

func (s *Stats) pruneLocked(now time.Time) {
	cutoff := now.Add(-rollingWindow)
	trim := 0
	for trim < len(s.recent) && s.recent[trim].ts.Before(cutoff) {
		trim++
	}
	if trim > 0 {
		s.recent = s.recent[trim:]
	}
}

// UserVolume returns the cumulative settled notional for a user.
func (s *Stats) UserVolume(user string) decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userVolume[user]
}

// Snapshot returns the current statistics.
func (s *Stats) Snapshot() domain.TradingStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pruneLocked(s.now())

	vol24, fees24 := decimal.Zero, decimal.Zero
	for _, t := range s.recent {
		vol24 = vol24.Add(t.notional)
		fees24 = fees24.Add(t.fee)
	}

	avg := decimal.Zero
	if s.totalTrades > 0 {
		avg = s.totalVolume.Div(decimal.NewFromInt(s.totalTrades))
	}

	return domain.TradingStats{
		TotalVolume:      s.totalVolume,
		TotalTrades:      s.totalTrades,
		TotalFees:        s.totalFees,
		Volume24h:        vol24,
		Trades24h:        int64(len(s.recent)),
		Fees24h:          fees24,
		AverageTradeSize: avg,
		UpdatedAt:        s.updatedAt,
	}
}
