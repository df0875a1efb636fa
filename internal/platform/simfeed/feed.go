// Package simfeed provides a synthetic random-walk price feed for demo mode.
package simfeed

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantfall/otcdesk/internal/domain"
)

// Feed is a domain.PriceFeed that walks a price randomly around its starting
// point. Each read moves the price by up to ±driftBps basis points.
type Feed struct {
	mu       sync.Mutex
	name     string
	price    decimal.Decimal
	driftBps int64
	rng      *rand.Rand
	now      func() time.Time
}

// New creates a feed starting at price with the given per-read drift.
func New(name string, start decimal.Decimal, driftBps int64) *Feed {
	if driftBps <= 0 {
		driftBps = 10
	}
	return &Feed{
		name:     name,
		price:    start,
		driftBps: driftBps,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		now:      time.Now,
	}
}

// LatestPrice returns the current price after one random-walk step.
func (f *Feed) LatestPrice(context.Context) (decimal.Decimal, time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	stepBps := f.rng.Int63n(2*f.driftBps+1) - f.driftBps
	step := f.price.Mul(decimal.NewFromInt(stepBps)).Div(decimal.NewFromInt(10_000))
	next := f.price.Add(step)
	if next.IsPositive() {
		f.price = next
	}
	return f.price, f.now(), nil
}

// Name identifies the feed in logs and validation results.
func (f *Feed) Name() string {
	return f.name
}

// Compile-time interface check.
var _ domain.PriceFeed = (*Feed)(nil)
