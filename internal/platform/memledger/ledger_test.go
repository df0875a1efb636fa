package memledger

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfall/otcdesk/internal/domain"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestLedgerTransfer(t *testing.T) {
	l := New()
	ctx := context.Background()

	require.NoError(t, l.Mint(ctx, "WETH", "alice", dec("10")))

	require.NoError(t, l.Transfer(ctx, "WETH", "alice", "bob", dec("4")))
	aliceBal, _ := l.BalanceOf(ctx, "WETH", "alice")
	bobBal, _ := l.BalanceOf(ctx, "WETH", "bob")
	assert.True(t, aliceBal.Equal(dec("6")))
	assert.True(t, bobBal.Equal(dec("4")))

	err := l.Transfer(ctx, "WETH", "alice", "bob", dec("7"))
	require.ErrorIs(t, err, domain.ErrFunds)

	err = l.Transfer(ctx, "WETH", "alice", "bob", decimal.Zero)
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestLedgerTransferFrom(t *testing.T) {
	l := New()
	ctx := context.Background()

	require.NoError(t, l.Mint(ctx, "USDC", "bob", dec("100")))
	require.NoError(t, l.Approve(ctx, "USDC", "bob", "engine", dec("50")))

	// Spender without allowance cannot move funds.
	err := l.TransferFrom(ctx, "USDC", "mallory", "bob", "alice", dec("10"))
	require.ErrorIs(t, err, domain.ErrFunds)

	require.NoError(t, l.TransferFrom(ctx, "USDC", "engine", "bob", "alice", dec("30")))
	remaining, _ := l.Allowance(ctx, "USDC", "bob", "engine")
	assert.True(t, remaining.Equal(dec("20")), "allowance is debited")

	// The remaining allowance caps further transfers.
	err = l.TransferFrom(ctx, "USDC", "engine", "bob", "alice", dec("25"))
	require.ErrorIs(t, err, domain.ErrFunds)
}

func TestLedgerMintBurn(t *testing.T) {
	l := New()
	ctx := context.Background()

	require.ErrorIs(t, l.Mint(ctx, "WETH", "alice", decimal.Zero), domain.ErrValidation)
	require.NoError(t, l.Mint(ctx, "WETH", "alice", dec("5")))
	require.NoError(t, l.Burn(ctx, "WETH", "alice", dec("2")))

	bal, _ := l.BalanceOf(ctx, "WETH", "alice")
	assert.True(t, bal.Equal(dec("3")))

	require.ErrorIs(t, l.Burn(ctx, "WETH", "alice", dec("4")), domain.ErrFunds)
}
