package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStatsRecordAndSnapshot(t *testing.T) {
	clk := newClock(testStart)
	stats := NewStats(clk.Now)

	stats.RecordTrade("bob", "alice", dec("9800"), dec("29.4"))
	stats.RecordTrade("carol", "alice", dec("14700"), dec("44.1"))

	snap := stats.Snapshot()
	assert.Equal(t, int64(2), snap.TotalTrades)
	assert.True(t, snap.TotalVolume.Equal(dec("24500")))
	assert.True(t, snap.TotalFees.Equal(dec("73.5")))
	assert.Equal(t, int64(2), snap.Trades24h)
	assert.True(t, snap.Volume24h.Equal(dec("24500")))
	assert.True(t, snap.AverageTradeSize.Equal(dec("12250")))

	// Both counterparties accrue volume; alice sold into both trades.
	assert.True(t, stats.UserVolume("alice").Equal(dec("24500")))
	assert.True(t, stats.UserVolume("bob").Equal(dec("9800")))
	assert.True(t, stats.UserVolume("carol").Equal(dec("14700")))
	assert.True(t, stats.UserVolume("nobody").IsZero())
}

func TestStatsRollingWindow(t *testing.T) {
	clk := newClock(testStart)
	stats := NewStats(clk.Now)

	stats.RecordTrade("bob", "alice", dec("100"), dec("1"))
	clk.Advance(25 * time.Hour)
	stats.RecordTrade("bob", "alice", dec("200"), dec("2"))

	snap := stats.Snapshot()
	// Cumulative totals never roll off.
	assert.Equal(t, int64(2), snap.TotalTrades)
	assert.True(t, snap.TotalVolume.Equal(dec("300")))
	// The 24h window only sees the second trade.
	assert.Equal(t, int64(1), snap.Trades24h)
	assert.True(t, snap.Volume24h.Equal(dec("200")))
	assert.True(t, snap.Fees24h.Equal(dec("2")))
}

func TestStatsEmptySnapshot(t *testing.T) {
	clk := newClock(testStart)
	stats := NewStats(clk.Now)

	snap := stats.Snapshot()
	assert.Zero(t, snap.TotalTrades)
	assert.True(t, snap.TotalVolume.IsZero())
	assert.True(t, snap.AverageTradeSize.IsZero())
}
