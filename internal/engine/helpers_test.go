package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantfall/otcdesk/internal/domain"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// clock is a manually advanced time source.
type clock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock(t time.Time) *clock { return &clock{t: t} }

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// fakeLedger is an in-memory token ledger with balances and allowances.
type fakeLedger struct {
	mu         sync.Mutex
	balances       map[string]map[string]decimal.Decimal // token -> account -> balance
	allowances     map[string]map[string]decimal.Decimal // token -> owner|spender -> allowance
	failOn         string                                // token whose transfers fail
	failTransferOn string                                // token whose direct (non-allowance) transfers fail
	transfers      int
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		balances:   make(map[string]map[string]decimal.Decimal),
		allowances: make(map[string]map[string]decimal.Decimal),
	}
}

func (l *fakeLedger) fund(token, account string, amount decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.balances[token] == nil {
		l.balances[token] = make(map[string]decimal.Decimal)
	}
	l.balances[token][account] = l.balances[token][account].Add(amount)
}

func (l *fakeLedger) approve(token, owner, spender string, amount decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.allowances[token] == nil {
		l.allowances[token] = make(map[string]decimal.Decimal)
	}
	l.allowances[token][owner+"|"+spender] = amount
}

func (l *fakeLedger) BalanceOf(_ context.Context, token, account string) (decimal.Decimal, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[token][account], nil
}

func (l *fakeLedger) Allowance(_ context.Context, token, owner, spender string) (decimal.Decimal, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.allowances[token][owner+"|"+spender], nil
}

func (l *fakeLedger) Transfer(_ context.Context, token, from, to string, amount decimal.Decimal) error {
	l.mu.Lock()
	rejected := token == l.failTransferOn
	l.mu.Unlock()
	if rejected {
		return errors.New("transfer rejected")
	}
	return l.move(token, from, to, amount)
}

func (l *fakeLedger) TransferFrom(_ context.Context, token, spender, from, to string, amount decimal.Decimal) error {
	l.mu.Lock()
	key := from + "|" + spender
	allowance := l.allowances[token][key]
	l.mu.Unlock()
	if allowance.LessThan(amount) {
		return errors.New("allowance exceeded")
	}
	if err := l.move(token, from, to, amount); err != nil {
		return err
	}
	l.mu.Lock()
	l.allowances[token][key] = allowance.Sub(amount)
	l.mu.Unlock()
	return nil
}

func (l *fakeLedger) move(token, from, to string, amount decimal.Decimal) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if token == l.failOn {
		return errors.New("transfer rejected")
	}
	if l.balances[token][from].LessThan(amount) {
		return errors.New("insufficient balance")
	}
	if l.balances[token] == nil {
		l.balances[token] = make(map[string]decimal.Decimal)
	}
	l.balances[token][from] = l.balances[token][from].Sub(amount)
	l.balances[token][to] = l.balances[token][to].Add(amount)
	l.transfers++
	return nil
}

func (l *fakeLedger) Mint(_ context.Context, token, to string, amount decimal.Decimal) error {
	l.fund(token, to, amount)
	return nil
}

func (l *fakeLedger) Burn(_ context.Context, token, from string, amount decimal.Decimal) error {
	return l.move(token, from, "0x0", amount)
}

// fakeRoles grants a fixed permission set per principal.
type fakeRoles struct {
	grants map[string][]domain.Permission
}

func (r *fakeRoles) HasPermission(_ context.Context, principal string, perm domain.Permission) bool {
	for _, p := range r.grants[principal] {
		if p == perm {
			return true
		}
	}
	return false
}

// fakeFeed returns a fixed price/timestamp, or an error.
type fakeFeed struct {
	mu    sync.Mutex
	name  string
	price decimal.Decimal
	ts    time.Time
	err   error
}

func (f *fakeFeed) set(price decimal.Decimal, ts time.Time) {
	f.mu.Lock()
	f.price, f.ts, f.err = price, ts, nil
	f.mu.Unlock()
}

func (f *fakeFeed) fail(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func (f *fakeFeed) LatestPrice(context.Context) (decimal.Decimal, time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return decimal.Zero, time.Time{}, f.err
	}
	return f.price, f.ts, nil
}

func (f *fakeFeed) Name() string { return f.name }

// captureSink records emitted events.
type captureSink struct {
	mu     sync.Mutex
	events []domain.Event
}

func (s *captureSink) Emit(_ context.Context, evt domain.Event) {
	s.mu.Lock()
	s.events = append(s.events, evt)
	s.mu.Unlock()
}

func (s *captureSink) ofType(typ domain.EventType) []domain.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Event
	for _, e := range s.events {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

var testStart = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

// newTestEngine builds an engine on fakes with both test tokens whitelisted.
func newTestEngine(clk *clock, ledger *fakeLedger) (*Engine, *captureSink) {
	sink := &captureSink{}
	eng := New(Options{
		Ledger:        ledger,
		Roles:         &fakeRoles{grants: map[string][]domain.Permission{"admin": {domain.PermAdmin}}},
		Sink:          sink,
		Logger:        slog.New(slog.DiscardHandler),
		EngineAccount: "engine",
		FeeAccount:    "feepool",
		Fees: domain.FeeStructure{
			BaseFeeBps: 30, // 0.30%
			MinimumFee: dec("0.01"),
		},
		Now: clk.Now,
	})
	ctx := context.Background()
	if err := eng.WhitelistToken(ctx, "admin", "WETH", true); err != nil {
		panic(err)
	}
	if err := eng.WhitelistToken(ctx, "admin", "USDC", true); err != nil {
		panic(err)
	}
	return eng, sink
}
