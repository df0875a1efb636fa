package engine

import (
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantfall/otcdesk/internal/domain"
)

// defaultMaxFailures trips the price breaker after this many consecutive
// oracle validation failures when no per-token value is configured.
const defaultMaxFailures = 5

const (
	hourWindow = time.Hour
	dayWindow  = 24 * time.Hour
)

// breakerState is the mutable per-token breaker record. Window usage resets
// lazily: a reset is applied on the next write once the window has elapsed,
// while reads compute effective usage without mutating.
type breakerState struct {
	dailyUsed  decimal.Decimal
	hourlyUsed decimal.Decimal
	dayStart   time.Time
	hourStart  time.Time
	failures   int
	tripped    bool
	trippedAt  time.Time
	cause      string
}

// Breakers tracks rolling volume usage and consecutive-failure trip state per
// token. A tripped breaker stays tripped until Reset; it is not self-healing.
type Breakers struct {
	mu     sync.Mutex
	now    func() time.Time
	cfg    map[string]domain.BreakerConfig
	state  map[string]*breakerState
	logger *slog.Logger
}

// NewBreakers creates an empty breaker controller. Tokens without a
// configuration pass all volume and price-impact checks but still accumulate
// failure counts with the default trip threshold.
func NewBreakers(now func() time.Time, logger *slog.Logger) *Breakers {
	if now == nil {
		now = time.Now
	}
	return &Breakers{
		now:    now,
		cfg:    make(map[string]domain.BreakerConfig),
		state:  make(map[string]*breakerState),
		logger: logger.With(slog.String("component", "breakers")),
	}
}

// Configure sets the per-token risk limits. Bounds: hourly ≤ daily, price
// impact ≤ 5000 bps, limits non-negative.
func (b *Breakers) Configure(token string, cfg domain.BreakerConfig) error {
	if cfg.DailyLimit.IsNegative() || cfg.HourlyLimit.IsNegative() {
		return domain.Errorf(domain.ErrValidation, domain.CodeInvalidConfig, "volume limits must not be negative")
	}
	if cfg.HourlyLimit.IsPositive() && cfg.DailyLimit.IsPositive() && cfg.HourlyLimit.GreaterThan(cfg.DailyLimit) {
		return domain.Errorf(domain.ErrValidation, domain.CodeInvalidConfig, "hourly limit exceeds daily limit")
	}
	if cfg.MaxPriceImpactBps < 0 || cfg.MaxPriceImpactBps > domain.MaxPriceImpactBps {
		return domain.Errorf(domain.ErrValidation, domain.CodeInvalidConfig,
			"max price impact %d bps out of range [0,%d]", cfg.MaxPriceImpactBps, domain.MaxPriceImpactBps)
	}
	if cfg.MaxFailures < 0 {
		return domain.Errorf(domain.ErrValidation, domain.CodeInvalidConfig, "max failures must not be negative")
	}

	b.mu.Lock()
	b.cfg[token] = cfg
	b.mu.Unlock()
	return nil
}

func (b *Breakers) get(token string) *breakerState {
	st, ok := b.state[token]
	if !ok {
		st = &breakerState{
			dailyUsed:  decimal.Zero,
			hourlyUsed: decimal.Zero,
		}
		b.state[token] = st
	}
	return st
}

// effective returns usage within the current windows without mutating state.
func effective(st *breakerState, now time.Time) (daily, hourly decimal.Decimal) {
	daily, hourly = st.dailyUsed, st.hourlyUsed
	if !st.dayStart.IsZero() && !now.Before(st.dayStart.Add(dayWindow)) {
		daily = decimal.Zero
	}
	if !st.hourStart.IsZero() && !now.Before(st.hourStart.Add(hourWindow)) {
		hourly = decimal.Zero
	}
	return daily, hourly
}

// CheckVolume verifies that consuming amount would stay within the volume
// limits for token. It raises a typed error without mutating any state.
func (b *Breakers) CheckVolume(token string, amount decimal.Decimal) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.checkVolumeLocked(token, amount)
}

func (b *Breakers) checkVolumeLocked(token string, amount decimal.Decimal) error {
	st := b.get(token)
	if st.tripped {
		return domain.Errorf(domain.ErrCircuitBreaker, domain.CodeBreakerTripped,
			"breaker for %s tripped: %s", token, st.cause)
	}

	cfg, ok := b.cfg[token]
	if !ok {
		return nil
	}

	daily, hourly := effective(st, b.now())
	if cfg.HourlyLimit.IsPositive() && hourly.Add(amount).GreaterThan(cfg.HourlyLimit) {
		return domain.Errorf(domain.ErrCircuitBreaker, domain.CodeVolumeLimitExceeded,
			"hourly volume limit for %s exceeded: used %s + %s > %s", token, hourly, amount, cfg.HourlyLimit)
	}
	if cfg.DailyLimit.IsPositive() && daily.Add(amount).GreaterThan(cfg.DailyLimit) {
		return domain.Errorf(domain.ErrCircuitBreaker, domain.CodeVolumeLimitExceeded,
			"daily volume limit for %s exceeded: used %s + %s > %s", token, daily, amount, cfg.DailyLimit)
	}
	return nil
}

// ConsumeVolume debits amount against the token's rolling windows, applying
// lazy window resets first. It fails with the same errors as CheckVolume.
func (b *Breakers) ConsumeVolume(token string, amount decimal.Decimal) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.checkVolumeLocked(token, amount); err != nil {
		return err
	}

	st := b.get(token)
	now := b.now()
	if st.dayStart.IsZero() || !now.Before(st.dayStart.Add(dayWindow)) {
		st.dailyUsed = decimal.Zero
		st.dayStart = now
	}
	if st.hourStart.IsZero() || !now.Before(st.hourStart.Add(hourWindow)) {
		st.hourlyUsed = decimal.Zero
		st.hourStart = now
	}
	st.dailyUsed = st.dailyUsed.Add(amount)
	st.hourlyUsed = st.hourlyUsed.Add(amount)
	return nil
}

// RefundVolume reverses a prior ConsumeVolume after a failed settlement.
func (b *Breakers) RefundVolume(token string, amount decimal.Decimal) {
	b.mu.Lock()
	defer b.mu.Unlock()

	st := b.get(token)
	st.dailyUsed = decimal.Max(decimal.Zero, st.dailyUsed.Sub(amount))
	st.hourlyUsed = decimal.Max(decimal.Zero, st.hourlyUsed.Sub(amount))
}

// CheckPrice verifies the relative move from last to next stays within the
// token's configured price-impact limit. Read-only; unconfigured tokens and
// zero reference prices pass.
func (b *Breakers) CheckPrice(token string, last, next decimal.Decimal) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	st := b.get(token)
	if st.tripped {
		return domain.Errorf(domain.ErrCircuitBreaker, domain.CodeBreakerTripped,
			"breaker for %s tripped: %s", token, st.cause)
	}

	cfg, ok := b.cfg[token]
	if !ok || cfg.MaxPriceImpactBps == 0 || !last.IsPositive() {
		return nil
	}

	impact := next.Sub(last).Abs().Mul(bpsDenominator).Div(last).IntPart()
	if impact > cfg.MaxPriceImpactBps {
		return domain.Errorf(domain.ErrCircuitBreaker, domain.CodePriceImpactExceeded,
			"price impact for %s is %d bps, limit %d bps", token, impact, cfg.MaxPriceImpactBps)
	}
	return nil
}

// RecordFailure increments the consecutive-failure counter and trips the
// breaker once the threshold is reached. It returns true when this call
// tripped the breaker.
func (b *Breakers) RecordFailure(token, cause string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	st := b.get(token)
	if st.tripped {
		return false
	}

	st.failures++
	max := defaultMaxFailures
	if cfg, ok := b.cfg[token]; ok && cfg.MaxFailures > 0 {
		max = cfg.MaxFailures
	}
	if st.failures < max {
		return false
	}

	st.tripped = true
	st.trippedAt = b.now()
	st.cause = cause
	b.logger.Warn("circuit breaker tripped",
		slog.String("token", token),
		slog.Int("failures", st.failures),
		slog.String("cause", cause),
	)
	return true
}

// RecordSuccess clears the consecutive-failure counter. It does not untrip.
func (b *Breakers) RecordSuccess(token string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if st := b.get(token); !st.tripped {
		st.failures = 0
	}
}

// ForceTrip trips the breaker immediately (emergency price override).
func (b *Breakers) ForceTrip(token, cause string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	st := b.get(token)
	st.tripped = true
	st.trippedAt = b.now()
	st.cause = cause
	b.logger.Warn("circuit breaker force-tripped",
		slog.String("token", token),
		slog.String("cause", cause),
	)
}

// Tripped reports whether the token's breaker is currently tripped.
func (b *Breakers) Tripped(token string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.get(token).tripped
}

// Reset clears the trip state and the failure counter. Manual only.
func (b *Breakers) Reset(token string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	st := b.get(token)
	st.tripped = false
	st.failures = 0
	st.trippedAt = time.Time{}
	st.cause = ""
	b.logger.Info("circuit breaker reset", slog.String("token", token))
}

// Status returns a read-only snapshot of the token's breaker state with
// effective (lazily reset) usage.
func (b *Breakers) Status(token string) domain.BreakerStatus {
	b.mu.Lock()
	defer b.mu.Unlock()

	st := b.get(token)
	daily, hourly := effective(st, b.now())
	return domain.BreakerStatus{
		Token:        token,
		DailyUsed:    daily,
		HourlyUsed:   hourly,
		DayStart:     st.dayStart,
		HourStart:    st.hourStart,
		Failures:     st.failures,
		Tripped:      st.tripped,
		TrippedAt:    st.trippedAt,
		TrippedCause: st.cause,
	}
}
