// Package memledger provides an in-memory token ledger for demo mode and
// tests. It enforces the same balance and allowance semantics as the ERC-20
// adapter without touching a chain.
package memledger

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/quantfall/otcdesk/internal/domain"
)

type allowanceKey struct {
	owner   string
	spender string
}

// Ledger is a thread-safe in-memory domain.TokenLedger.
type Ledger struct {
	mu         sync.Mutex
	balances   map[string]map[string]decimal.Decimal     // token -> account
	allowances map[string]map[allowanceKey]decimal.Decimal // token -> owner/spender
}

// New creates an empty ledger.
func New() *Ledger {
	return &Ledger{
		balances:   make(map[string]map[string]decimal.Decimal),
		allowances: make(map[string]map[allowanceKey]decimal.Decimal),
	}
}

// BalanceOf returns an account's balance; unknown accounts hold zero.
func (l *Ledger) BalanceOf(_ context.Context, token, account string) (decimal.Decimal, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[token][account], nil
}

// Allowance returns what owner has approved spender to move.
func (l *Ledger) Allowance(_ context.Context, token, owner, spender string) (decimal.Decimal, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.allowances[token][allowanceKey{owner, spender}], nil
}

// Approve sets spender's allowance over owner's funds.
func (l *Ledger) Approve(_ context.Context, token, owner, spender string, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return domain.Errorf(domain.ErrValidation, domain.CodeInvalidAmount, "allowance must not be negative")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.allowances[token] == nil {
		l.allowances[token] = make(map[allowanceKey]decimal.Decimal)
	}
	l.allowances[token][allowanceKey{owner, spender}] = amount
	return nil
}

// Transfer moves amount from one account to another.
func (l *Ledger) Transfer(_ context.Context, token, from, to string, amount decimal.Decimal) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.moveLocked(token, from, to, amount)
}

// TransferFrom moves approved funds and debits the allowance.
func (l *Ledger) TransferFrom(_ context.Context, token, spender, from, to string, amount decimal.Decimal) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := allowanceKey{from, spender}
	allowance := l.allowances[token][key]
	if allowance.LessThan(amount) {
		return domain.Errorf(domain.ErrFunds, domain.CodeInsufficientAllowance,
			"allowance %s below transfer %s", allowance, amount)
	}
	if err := l.moveLocked(token, from, to, amount); err != nil {
		return err
	}
	l.allowances[token][key] = allowance.Sub(amount)
	return nil
}

// Mint credits new units to an account.
func (l *Ledger) Mint(_ context.Context, token, to string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return domain.Errorf(domain.ErrValidation, domain.CodeInvalidAmount, "mint amount must be positive")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.creditLocked(token, to, amount)
	return nil
}

// Burn destroys units held by an account.
func (l *Ledger) Burn(_ context.Context, token, from string, amount decimal.Decimal) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	balance := l.balances[token][from]
	if balance.LessThan(amount) {
		return domain.Errorf(domain.ErrFunds, domain.CodeInsufficientBalance,
			"balance %s below burn %s", balance, amount)
	}
	l.balances[token][from] = balance.Sub(amount)
	return nil
}

func (l *Ledger) moveLocked(token, from, to string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return domain.Errorf(domain.ErrValidation, domain.CodeInvalidAmount, "transfer amount must be positive")
	}
	balance := l.balances[token][from]
	if balance.LessThan(amount) {
		return domain.Errorf(domain.ErrFunds, domain.CodeInsufficientBalance,
			"balance %s below transfer %s", balance, amount)
	}
	l.balances[token][from] = balance.Sub(amount)
	l.creditLocked(token, to, amount)
	return nil
}

func (l *Ledger) creditLocked(token, to string, amount decimal.Decimal) {
	if l.balances[token] == nil {
		l.balances[token] = make(map[string]decimal.Decimal)
	}
	l.balances[token][to] = l.balances[token][to].Add(amount)
}

// Compile-time interface check.
var _ domain.TokenLedger = (*Ledger)(nil)
