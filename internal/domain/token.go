package domain

import (
	"context"

	"github.com/shopspring/decimal"
)

// TokenLedger is the external fungible-token ledger the engine settles
// against. Standard semantics: Transfer moves the caller account's own
// balance, TransferFrom spends a prior allowance granted by `from` to the
// engine account. All amounts are token units.
type TokenLedger interface {
	BalanceOf(ctx context.Context, token, account string) (decimal.Decimal, error)
	Allowance(ctx context.Context, token, owner, spender string) (decimal.Decimal, error)
	Transfer(ctx context.Context, token, from, to string, amount decimal.Decimal) error
	TransferFrom(ctx context.Context, token, spender, from, to string, amount decimal.Decimal) error
	Mint(ctx context.Context, token, to string, amount decimal.Decimal) error
	Burn(ctx context.Context, token, from string, amount decimal.Decimal) error
}
