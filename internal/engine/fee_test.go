package engine

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfall/otcdesk/internal/domain"
)

func TestFeeEngineStaticMode(t *testing.T) {
	fe := NewFeeEngine(domain.FeeStructure{
		BaseFeeBps: 30,
		MinimumFee: dec("0.5"),
	})

	// 10_000 * 30 / 10_000 = 30
	fee := fe.Quote(dec("10000"), decimal.Zero, false)
	assert.True(t, fee.Equal(dec("30")), "got %s", fee)

	// Below the floor: 10 * 30bps = 0.03 < 0.5
	fee = fe.Quote(dec("10"), decimal.Zero, false)
	assert.True(t, fee.Equal(dec("0.5")), "got %s", fee)

	// Static mode ignores user volume entirely.
	fee = fe.Quote(dec("10000"), dec("50000000"), false)
	assert.True(t, fee.Equal(dec("30")), "got %s", fee)
}

func TestFeeEngineDynamicTiers(t *testing.T) {
	fe := NewFeeEngine(domain.FeeStructure{
		BaseFeeBps:            40,
		VolumeDiscountPerTier: 5,
		MinimumFee:            dec("0.01"),
		Dynamic:               true,
	})
	notional := dec("10000")

	// Tier 0: full 40 bps.
	assert.True(t, fe.Quote(notional, dec("999999"), false).Equal(dec("40")))
	// Tier 1: 35 bps.
	assert.True(t, fe.Quote(notional, dec("1000000"), false).Equal(dec("35")))
	// Tier 3: 25 bps.
	assert.True(t, fe.Quote(notional, dec("3500000"), false).Equal(dec("25")))
	// Discount is capped at baseFee/2 = 20 bps regardless of tier.
	assert.True(t, fe.Quote(notional, dec("100000000"), false).Equal(dec("20")))
}

func TestFeeEngineMonotonicInVolume(t *testing.T) {
	fe := NewFeeEngine(domain.FeeStructure{
		BaseFeeBps:            100,
		VolumeDiscountPerTier: 7,
		MinimumFee:            dec("0.25"),
		Dynamic:               true,
	})
	notional := dec("5000")

	prev := fe.Quote(notional, decimal.Zero, false)
	for vol := int64(500_000); vol <= 20_000_000; vol += 500_000 {
		fee := fe.Quote(notional, decimal.NewFromInt(vol), false)
		assert.True(t, fee.LessThanOrEqual(prev), "fee increased at volume %d: %s > %s", vol, fee, prev)
		assert.True(t, fee.GreaterThanOrEqual(dec("0.25")), "fee fell below floor at volume %d", vol)
		prev = fee
	}
	// The terminal fee is exactly half the base rate: 5000 * 50bps = 25.
	assert.True(t, prev.Equal(dec("25")), "got %s", prev)
}

func TestFeeEngineStakingDiscount(t *testing.T) {
	fe := NewFeeEngine(domain.FeeStructure{
		BaseFeeBps:            100,
		VolumeDiscountPerTier: 10,
		StakingDiscountBps:    20,
		MinimumFee:            dec("0.01"),
		Dynamic:               true,
	})
	notional := dec("10000")

	plain := fe.Quote(notional, dec("1000000"), false) // 90 bps
	staked := fe.Quote(notional, dec("1000000"), true) // 70 bps
	assert.True(t, plain.Equal(dec("90")))
	assert.True(t, staked.Equal(dec("70")))

	// Combined discounts still respect the baseFee/2 cap.
	capped := fe.Quote(notional, dec("10000000"), true)
	assert.True(t, capped.Equal(dec("50")), "got %s", capped)
}

func TestFeeEngineUpdateBounds(t *testing.T) {
	fe := NewFeeEngine(domain.FeeStructure{BaseFeeBps: 30})

	cases := []struct {
		name string
		cfg  domain.FeeStructure
	}{
		{"base fee above 10%", domain.FeeStructure{BaseFeeBps: 1001}},
		{"volume discount above 5%", domain.FeeStructure{BaseFeeBps: 30, VolumeDiscountPerTier: 501}},
		{"staking discount above 2%", domain.FeeStructure{BaseFeeBps: 30, StakingDiscountBps: 201}},
		{"negative minimum fee", domain.FeeStructure{BaseFeeBps: 30, MinimumFee: dec("-1")}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := fe.Update(tc.cfg)
			require.ErrorIs(t, err, domain.ErrValidation)
		})
	}

	// The rejected updates must not have touched the live structure.
	assert.Equal(t, int64(30), fe.Structure().BaseFeeBps)

	require.NoError(t, fe.Update(domain.FeeStructure{
		BaseFeeBps:            1000,
		VolumeDiscountPerTier: 500,
		StakingDiscountBps:    200,
		MinimumFee:            dec("1"),
		Dynamic:               true,
	}))
	assert.Equal(t, int64(1000), fe.Structure().BaseFeeBps)
}
