package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfall/otcdesk/internal/domain"
)

func newTestOracle(clk *clock) (*Oracle, *Breakers, *captureSink) {
	sink := &captureSink{}
	breakers := NewBreakers(clk.Now, slog.New(slog.DiscardHandler))
	oracle := NewOracle(OracleOptions{
		Breakers: breakers,
		Sink:     sink,
		Logger:   slog.New(slog.DiscardHandler),
		Now:      clk.Now,
		Window:   time.Hour,
	})
	return oracle, breakers, sink
}

func feedConfig(primary, secondary domain.PriceFeed, requireSecondary bool) domain.OracleConfig {
	return domain.OracleConfig{
		Primary:          primary,
		Secondary:        secondary,
		MaxStaleness:     5 * time.Minute,
		DeviationBps:     500,
		MinPrice:         dec("1"),
		MaxPrice:         dec("1000000"),
		Decimals:         8,
		Active:           true,
		RequireSecondary: requireSecondary,
	}
}

func TestDeviationBps(t *testing.T) {
	assert.Equal(t, int64(0), deviationBps(dec("100"), dec("100")))
	// |100-110| * 10000 / 105 = 952.38 → 952
	assert.Equal(t, int64(952), deviationBps(dec("100"), dec("110")))
	assert.Equal(t, int64(952), deviationBps(dec("110"), dec("100")))
}

func TestOracleGetPricePrimaryOnly(t *testing.T) {
	clk := newClock(testStart)
	o, _, _ := newTestOracle(clk)

	primary := &fakeFeed{name: "primary"}
	primary.set(dec("2450"), clk.Now())
	require.NoError(t, o.Configure("WETH", feedConfig(primary, nil, false)))

	res, err := o.GetPrice(context.Background(), "WETH")
	require.NoError(t, err)
	assert.True(t, res.Valid)
	assert.True(t, res.Price.Equal(dec("2450")))
	assert.True(t, res.PrimaryPrice.Equal(dec("2450")))
}

func TestOracleStaleness(t *testing.T) {
	clk := newClock(testStart)
	o, _, _ := newTestOracle(clk)

	primary := &fakeFeed{name: "primary"}
	primary.set(dec("2450"), clk.Now())
	require.NoError(t, o.Configure("WETH", feedConfig(primary, nil, false)))

	clk.Advance(6 * time.Minute)
	res, err := o.GetPrice(context.Background(), "WETH")
	require.ErrorIs(t, err, domain.ErrOracle)
	assert.Equal(t, domain.CodeFeedStale, domain.ErrorCode(err))
	assert.False(t, res.Valid)
	assert.NotEmpty(t, res.Reason)
}

func TestOraclePriceBounds(t *testing.T) {
	clk := newClock(testStart)
	o, _, _ := newTestOracle(clk)

	primary := &fakeFeed{name: "primary"}
	primary.set(dec("0.5"), clk.Now()) // below MinPrice of 1
	require.NoError(t, o.Configure("WETH", feedConfig(primary, nil, false)))

	_, err := o.GetPrice(context.Background(), "WETH")
	require.ErrorIs(t, err, domain.ErrOracle)
	assert.Equal(t, domain.CodePriceOutOfBounds, domain.ErrorCode(err))
}

func TestOracleSecondaryCrossValidation(t *testing.T) {
	clk := newClock(testStart)
	o, _, _ := newTestOracle(clk)

	primary := &fakeFeed{name: "primary"}
	secondary := &fakeFeed{name: "secondary"}
	primary.set(dec("100"), clk.Now())
	secondary.set(dec("102"), clk.Now())
	require.NoError(t, o.Configure("WETH", feedConfig(primary, secondary, true)))

	// |100-102|*10000/101 = 198 bps < 500: accepted, result is the average.
	res, err := o.GetPrice(context.Background(), "WETH")
	require.NoError(t, err)
	assert.True(t, res.Price.Equal(dec("101")), "got %s", res.Price)
	assert.Equal(t, int64(198), res.DeviationBps)

	// |100-110|*10000/105 = 952 bps > 500: rejected.
	secondary.set(dec("110"), clk.Now())
	res, err = o.GetPrice(context.Background(), "WETH")
	require.ErrorIs(t, err, domain.ErrOracle)
	assert.Equal(t, domain.CodeDeviationExceeded, domain.ErrorCode(err))
	assert.Equal(t, int64(952), res.DeviationBps)
}

func TestOracleSecondaryFallback(t *testing.T) {
	clk := newClock(testStart)
	o, _, _ := newTestOracle(clk)

	primary := &fakeFeed{name: "primary"}
	secondary := &fakeFeed{name: "secondary"}
	primary.fail(errors.New("connection refused"))
	secondary.set(dec("2440"), clk.Now())
	require.NoError(t, o.Configure("WETH", feedConfig(primary, secondary, false)))

	// Optional secondary serves as fallback when the primary is down.
	res, err := o.GetPrice(context.Background(), "WETH")
	require.NoError(t, err)
	assert.True(t, res.Price.Equal(dec("2440")))

	// When both are down the outcome is a typed "no price available".
	secondary.fail(errors.New("connection refused"))
	_, err = o.GetPrice(context.Background(), "WETH")
	require.ErrorIs(t, err, domain.ErrOracle)
	assert.Equal(t, domain.CodeFeedUnavailable, domain.ErrorCode(err))
}

func TestOracleMandatorySecondaryNoFallback(t *testing.T) {
	clk := newClock(testStart)
	o, _, _ := newTestOracle(clk)

	primary := &fakeFeed{name: "primary"}
	secondary := &fakeFeed{name: "secondary"}
	primary.fail(errors.New("down"))
	secondary.set(dec("2440"), clk.Now())
	require.NoError(t, o.Configure("WETH", feedConfig(primary, secondary, true)))

	_, err := o.GetPrice(context.Background(), "WETH")
	require.ErrorIs(t, err, domain.ErrOracle)
}

func TestOracleTripsAfterMaxFailuresAndStaysTripped(t *testing.T) {
	clk := newClock(testStart)
	o, b, sink := newTestOracle(clk)
	require.NoError(t, b.Configure("WETH", domain.BreakerConfig{MaxFailures: 3}))

	primary := &fakeFeed{name: "primary"}
	primary.fail(errors.New("down"))
	require.NoError(t, o.Configure("WETH", feedConfig(primary, nil, false)))

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := o.GetPrice(ctx, "WETH")
		require.Error(t, err)
	}
	assert.True(t, b.Tripped("WETH"))
	require.Len(t, sink.ofType(domain.EventBreakerTripped), 1)

	// The feed recovers, but the breaker short-circuits until manual reset.
	primary.set(dec("2450"), clk.Now())
	_, err := o.GetPrice(ctx, "WETH")
	require.ErrorIs(t, err, domain.ErrCircuitBreaker)
	assert.Equal(t, domain.CodeBreakerTripped, domain.ErrorCode(err))

	b.Reset("WETH")
	res, err := o.GetPrice(ctx, "WETH")
	require.NoError(t, err)
	assert.True(t, res.Valid)
}

func TestOracleUpdateObservationCumulative(t *testing.T) {
	clk := newClock(testStart)
	o, _, _ := newTestOracle(clk)
	ctx := context.Background()

	primary := &fakeFeed{name: "primary"}
	require.NoError(t, o.Configure("WETH", feedConfig(primary, nil, false)))

	primary.set(dec("100"), clk.Now())
	_, err := o.UpdateObservation(ctx, "WETH")
	require.NoError(t, err)

	clk.Advance(60 * time.Second)
	primary.set(dec("200"), clk.Now())
	_, err = o.UpdateObservation(ctx, "WETH")
	require.NoError(t, err)

	o.mu.Lock()
	series := o.obs["WETH"]
	o.mu.Unlock()
	require.Len(t, series, 2)
	assert.True(t, series[0].Cumulative.IsZero())
	// cumulative = prevCumulative + prevPrice * Δt = 0 + 100*60
	assert.True(t, series[1].Cumulative.Equal(dec("6000")), "got %s", series[1].Cumulative)
}

func TestOracleTWAPTwoObservations(t *testing.T) {
	clk := newClock(testStart)
	o, _, _ := newTestOracle(clk)
	ctx := context.Background()

	primary := &fakeFeed{name: "primary"}
	require.NoError(t, o.Configure("WETH", feedConfig(primary, nil, false)))

	primary.set(dec("100"), clk.Now())
	_, err := o.UpdateObservation(ctx, "WETH")
	require.NoError(t, err)

	clk.Advance(60 * time.Second)
	primary.set(dec("200"), clk.Now())
	_, err = o.UpdateObservation(ctx, "WETH")
	require.NoError(t, err)

	// Window [t0, t0+60]: the first price is in effect for the whole
	// spanned interval, so the TWAP is exactly 100.
	res := o.TWAP("WETH", 60*time.Second)
	require.True(t, res.Valid)
	assert.True(t, res.Price.Equal(dec("100")), "got %s", res.Price)
}

func TestOracleTWAPWeightedIntervals(t *testing.T) {
	clk := newClock(testStart)
	o, _, _ := newTestOracle(clk)
	ctx := context.Background()

	primary := &fakeFeed{name: "primary"}
	require.NoError(t, o.Configure("WETH", feedConfig(primary, nil, false)))

	// 100 for 30s, then 200 for 30s.
	primary.set(dec("100"), clk.Now())
	_, err := o.UpdateObservation(ctx, "WETH")
	require.NoError(t, err)
	clk.Advance(30 * time.Second)
	primary.set(dec("200"), clk.Now())
	_, err = o.UpdateObservation(ctx, "WETH")
	require.NoError(t, err)
	clk.Advance(30 * time.Second)
	primary.set(dec("300"), clk.Now())
	_, err = o.UpdateObservation(ctx, "WETH")
	require.NoError(t, err)

	// (100*30 + 200*30) / 60 = 150
	res := o.TWAP("WETH", 60*time.Second)
	require.True(t, res.Valid)
	assert.True(t, res.Price.Equal(dec("150")), "got %s", res.Price)
}

func TestOracleTWAPInsufficientObservations(t *testing.T) {
	clk := newClock(testStart)
	o, _, _ := newTestOracle(clk)
	ctx := context.Background()

	primary := &fakeFeed{name: "primary"}
	require.NoError(t, o.Configure("WETH", feedConfig(primary, nil, false)))
	primary.set(dec("100"), clk.Now())
	_, err := o.UpdateObservation(ctx, "WETH")
	require.NoError(t, err)

	res := o.TWAP("WETH", time.Hour)
	assert.False(t, res.Valid)
}

func TestOracleObservationPruning(t *testing.T) {
	clk := newClock(testStart)
	o, _, _ := newTestOracle(clk) // window = 1h, prune horizon = 2h
	ctx := context.Background()

	primary := &fakeFeed{name: "primary"}
	require.NoError(t, o.Configure("WETH", feedConfig(primary, nil, false)))

	for i := 0; i < 5; i++ {
		primary.set(dec("100"), clk.Now())
		_, err := o.UpdateObservation(ctx, "WETH")
		require.NoError(t, err)
		clk.Advance(time.Hour)
	}

	o.mu.Lock()
	series := o.obs["WETH"]
	o.mu.Unlock()
	// Only observations within 2h of the newest one survive.
	require.Len(t, series, 3)
	cutoff := series[len(series)-1].Timestamp.Add(-2 * time.Hour)
	for _, obs := range series {
		assert.False(t, obs.Timestamp.Before(cutoff))
	}
}

func TestOracleHistoryRingOverwritesOldest(t *testing.T) {
	clk := newClock(testStart)
	o, _, _ := newTestOracle(clk)
	ctx := context.Background()

	primary := &fakeFeed{name: "primary"}
	cfg := feedConfig(primary, nil, false)
	cfg.MaxPrice = decimal.Zero // unbounded above
	require.NoError(t, o.Configure("WETH", cfg))

	for i := 0; i < historyCapacity+10; i++ {
		primary.set(decimal.NewFromInt(int64(100+i)), clk.Now())
		_, err := o.UpdateObservation(ctx, "WETH")
		require.NoError(t, err)
		clk.Advance(time.Second)
	}

	points := o.History("WETH", 0)
	require.Len(t, points, historyCapacity)
	// Newest first; the oldest 10 points were overwritten.
	assert.True(t, points[0].Price.Equal(decimal.NewFromInt(100+historyCapacity+9)))
	assert.True(t, points[len(points)-1].Price.Equal(decimal.NewFromInt(110)))
}

func TestOracleEmergencyPrice(t *testing.T) {
	clk := newClock(testStart)
	o, b, sink := newTestOracle(clk)
	ctx := context.Background()

	require.NoError(t, o.SetEmergencyPrice(ctx, "WETH", dec("1800"), "feed compromise", "ops"))
	assert.True(t, b.Tripped("WETH"))

	last, ok := o.LastValidPrice("WETH")
	require.True(t, ok)
	assert.True(t, last.Equal(dec("1800")))
	require.Len(t, sink.ofType(domain.EventEmergencyPrice), 1)

	// Validation short-circuits while the forced trip is active.
	primary := &fakeFeed{name: "primary"}
	primary.set(dec("2450"), clk.Now())
	require.NoError(t, o.Configure("WETH", feedConfig(primary, nil, false)))
	_, err := o.GetPrice(ctx, "WETH")
	require.ErrorIs(t, err, domain.ErrCircuitBreaker)
}

func TestOracleBatchUpdate(t *testing.T) {
	clk := newClock(testStart)
	o, _, _ := newTestOracle(clk)
	ctx := context.Background()

	good := &fakeFeed{name: "good"}
	good.set(dec("100"), clk.Now())
	bad := &fakeFeed{name: "bad"}
	bad.fail(errors.New("down"))
	require.NoError(t, o.Configure("GOOD", feedConfig(good, nil, false)))
	require.NoError(t, o.Configure("BAD", feedConfig(bad, nil, false)))

	ok, failed, err := o.BatchUpdate(ctx, []string{"GOOD", "BAD", "UNKNOWN"})
	require.NoError(t, err)
	assert.Equal(t, 1, ok)
	assert.Equal(t, 2, failed)

	// Oversized batches are rejected up front.
	tokens := make([]string, MaxBatchPriceUpdate+1)
	for i := range tokens {
		tokens[i] = fmt.Sprintf("T%d", i)
	}
	_, _, err = o.BatchUpdate(ctx, tokens)
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestOraclePriceImpactCountsAsFailure(t *testing.T) {
	clk := newClock(testStart)
	o, b, _ := newTestOracle(clk)
	ctx := context.Background()
	require.NoError(t, b.Configure("WETH", domain.BreakerConfig{MaxPriceImpactBps: 500, MaxFailures: 2}))

	primary := &fakeFeed{name: "primary"}
	primary.set(dec("100"), clk.Now())
	require.NoError(t, o.Configure("WETH", feedConfig(primary, nil, false)))

	_, err := o.GetPrice(ctx, "WETH")
	require.NoError(t, err)

	// A 50% jump violates the price-change breaker and counts as a failure.
	primary.set(dec("150"), clk.Now())
	_, err = o.GetPrice(ctx, "WETH")
	require.ErrorIs(t, err, domain.ErrCircuitBreaker)
	_, err = o.GetPrice(ctx, "WETH")
	require.Error(t, err)
	assert.True(t, b.Tripped("WETH"))
}
