package domain

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// PriceCache holds the latest validated price per token for fast reads by
// external consumers. It is write-through from oracle updates, never
// consulted by the validation path itself.
type PriceCache interface {
	SetPrice(ctx context.Context, token string, price decimal.Decimal, ts time.Time) error
	GetPrice(ctx context.Context, token string) (decimal.Decimal, time.Time, error)
	GetPrices(ctx context.Context, tokens []string) (map[string]decimal.Decimal, error)
}

// RateLimiter provides distributed rate limiting for the API surface.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// SignalBus provides pub/sub fan-out of engine events to external consumers
// (websocket hub, monitoring).
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}

// ErrLockHeld is returned by LockManager.Acquire when another party holds
// the lock.
var ErrLockHeld = errors.New("lock already held")

// LockManager provides distributed mutual exclusion for jobs that must not
// run concurrently across instances (the archiver sweep).
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}
