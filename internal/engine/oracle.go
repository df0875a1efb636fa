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

const (
	// defaultTWAPWindow is the observation window when the host does not
	// configure one.
	defaultTWAPWindow = time.Hour

	// defaultMinObservations is the minimum series length for a valid TWAP.
	defaultMinObservations = 2

	// historyCapacity bounds the per-token historical ring buffer.
	historyCapacity = 100

	// MaxBatchPriceUpdate bounds batchUpdatePrices.
	MaxBatchPriceUpdate = 50
)

// priceRing is a fixed-capacity ring buffer of price points, overwritten
// oldest-first.
type priceRing struct {
	points [historyCapacity]domain.PricePoint
	head   int // next write position
	size   int
}

func (r *priceRing) push(p domain.PricePoint) {
	r.points[r.head] = p
	r.head = (r.head + 1) % historyCapacity
	if r.size < historyCapacity {
		r.size++
	}
}

// recent returns up to limit points, newest first.
func (r *priceRing) recent(limit int) []domain.PricePoint {
	if limit <= 0 || limit > r.size {
		limit = r.size
	}
	out := make([]domain.PricePoint, 0, limit)
	for i := 0; i < limit; i++ {
		idx := (r.head - 1 - i + 2*historyCapacity) % historyCapacity
		out = append(out, r.points[idx])
	}
	return out
}

// Oracle aggregates primary/secondary price feeds per token, validates
// staleness, bounds and cross-feed deviation, and maintains the
// cumulative-price observation series used for TWAP plus a bounded history
// ring. Failed validations feed the token's circuit breaker; once tripped,
// validation short-circuits until the breaker is manually reset.
type Oracle struct {
	mu       sync.Mutex
	now      func() time.Time
	breakers *Breakers
	sink     domain.EventSink
	logger   *slog.Logger

	window  time.Duration
	minObs  int
	configs map[string]domain.OracleConfig
	obs     map[string][]domain.PriceObservation
	history map[string]*priceRing
	last    map[string]decimal.Decimal // last valid price per token
}

// OracleOptions configures a new Oracle. Breakers is required; the other
// fields fall back to defaults.
type OracleOptions struct {
	Breakers *Breakers
	Sink     domain.EventSink
	Logger   *slog.Logger
	Now      func() time.Time
	Window   time.Duration
	MinObs   int
}

// NewOracle creates a price validation oracle.
func NewOracle(opts OracleOptions) *Oracle {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Window <= 0 {
		opts.Window = defaultTWAPWindow
	}
	if opts.MinObs <= 0 {
		opts.MinObs = defaultMinObservations
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Oracle{
		now:      opts.Now,
		breakers: opts.Breakers,
		sink:     opts.Sink,
		logger:   opts.Logger.With(slog.String("component", "oracle")),
		window:   opts.Window,
		minObs:   opts.MinObs,
		configs:  make(map[string]domain.OracleConfig),
		obs:      make(map[string][]domain.PriceObservation),
		history:  make(map[string]*priceRing),
		last:     make(map[string]decimal.Decimal),
	}
}

// Configure installs or replaces the validation policy for a token.
func (o *Oracle) Configure(token string, cfg domain.OracleConfig) error {
	if cfg.Primary == nil {
		return domain.Errorf(domain.ErrValidation, domain.CodeInvalidConfig, "primary feed is required")
	}
	if cfg.MaxStaleness <= 0 {
		return domain.Errorf(domain.ErrValidation, domain.CodeInvalidConfig, "max staleness must be positive")
	}
	if cfg.DeviationBps < 0 || cfg.DeviationBps > domain.MaxDeviationBps {
		return domain.Errorf(domain.ErrValidation, domain.CodeInvalidConfig,
			"deviation threshold %d bps out of range [0,%d]", cfg.DeviationBps, domain.MaxDeviationBps)
	}
	if cfg.MinPrice.IsNegative() || (cfg.MaxPrice.IsPositive() && cfg.MaxPrice.LessThan(cfg.MinPrice)) {
		return domain.Errorf(domain.ErrValidation, domain.CodeInvalidConfig, "invalid price bounds [%s,%s]", cfg.MinPrice, cfg.MaxPrice)
	}
	if cfg.RequireSecondary && cfg.Secondary == nil {
		return domain.Errorf(domain.ErrValidation, domain.CodeInvalidConfig, "secondary validation required but no secondary feed given")
	}

	o.mu.Lock()
	o.configs[token] = cfg
	o.mu.Unlock()
	return nil
}

// config returns the token's policy, if any.
func (o *Oracle) config(token string) (domain.OracleConfig, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	cfg, ok := o.configs[token]
	return cfg, ok
}

// Configured reports whether the token has an active oracle policy.
func (o *Oracle) Configured(token string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	cfg, ok := o.configs[token]
	return ok && cfg.Active
}

// deviationBps returns |p1-p2| / avg(p1,p2) in basis points, truncated.
func deviationBps(p1, p2 decimal.Decimal) int64 {
	avg := p1.Add(p2).Div(decimal.NewFromInt(2))
	if !avg.IsPositive() {
		return 0
	}
	return p1.Sub(p2).Abs().Mul(bpsDenominator).Div(avg).IntPart()
}

// GetPrice validates and returns the current price for token. The returned
// ValidationResult carries diagnostics even when validation fails; the error
// is typed (OracleError or CircuitBreakerError). A failed validation counts
// toward the token's consecutive-failure trip.
func (o *Oracle) GetPrice(ctx context.Context, token string) (domain.ValidationResult, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.validateLocked(ctx, token)
}

func (o *Oracle) validateLocked(ctx context.Context, token string) (domain.ValidationResult, error) {
	res := domain.ValidationResult{Token: token, CheckedAt: o.now()}

	if o.breakers.Tripped(token) {
		res.Reason = "breaker tripped"
		return res, domain.Errorf(domain.ErrCircuitBreaker, domain.CodeBreakerTripped,
			"price validation for %s short-circuited: breaker tripped", token)
	}

	cfg, ok := o.configs[token]
	if !ok || !cfg.Active {
		res.Reason = "no active oracle config"
		return res, domain.Errorf(domain.ErrOracle, domain.CodeNoOracle, "no active oracle config for %s", token)
	}

	price, err := o.readFeeds(ctx, token, cfg, &res)
	if err != nil {
		res.Reason = err.Error()
		o.failLocked(ctx, token, err)
		return res, err
	}

	res.Price = price
	res.Valid = true
	o.breakers.RecordSuccess(token)
	o.last[token] = price
	return res, nil
}

// readFeeds runs the two-stage feed read: primary first, the secondary as
// fallback when cross-validation is optional, or as mandatory cross-check
// when it is not.
func (o *Oracle) readFeeds(ctx context.Context, token string, cfg domain.OracleConfig, res *domain.ValidationResult) (decimal.Decimal, error) {
	primary, primaryErr := o.readFeed(ctx, cfg.Primary, cfg)
	if primaryErr == nil {
		res.PrimaryPrice = primary
		if err := o.checkBounds(token, primary, cfg); err != nil {
			return decimal.Zero, err
		}
	}

	if cfg.RequireSecondary {
		if primaryErr != nil {
			return decimal.Zero, primaryErr
		}
		secondary, err := o.readFeed(ctx, cfg.Secondary, cfg)
		if err != nil {
			return decimal.Zero, err
		}
		res.SecondaryPrice = secondary

		dev := deviationBps(primary, secondary)
		res.DeviationBps = dev
		if dev > cfg.DeviationBps {
			return decimal.Zero, domain.Errorf(domain.ErrOracle, domain.CodeDeviationExceeded,
				"feeds for %s deviate by %d bps, threshold %d bps", token, dev, cfg.DeviationBps)
		}
		avg := primary.Add(secondary).Div(decimal.NewFromInt(2))
		return avg, o.checkImpact(token, avg)
	}

	if primaryErr != nil {
		// Optional secondary acts as a fallback source.
		if cfg.Secondary == nil {
			return decimal.Zero, primaryErr
		}
		secondary, err := o.readFeed(ctx, cfg.Secondary, cfg)
		if err != nil {
			return decimal.Zero, domain.Errorf(domain.ErrOracle, domain.CodeFeedUnavailable,
				"no price available for %s: primary %v, secondary %v", token, primaryErr, err)
		}
		res.SecondaryPrice = secondary
		if err := o.checkBounds(token, secondary, cfg); err != nil {
			return decimal.Zero, err
		}
		return secondary, o.checkImpact(token, secondary)
	}

	return primary, o.checkImpact(token, primary)
}

// readFeed reads one feed and applies the staleness rule.
func (o *Oracle) readFeed(ctx context.Context, feed domain.PriceFeed, cfg domain.OracleConfig) (decimal.Decimal, error) {
	price, updatedAt, err := feed.LatestPrice(ctx)
	if err != nil {
		return decimal.Zero, domain.Errorf(domain.ErrOracle, domain.CodeFeedUnavailable,
			"feed %s unavailable: %v", feed.Name(), err)
	}
	if age := o.now().Sub(updatedAt); age > cfg.MaxStaleness {
		return decimal.Zero, domain.Errorf(domain.ErrOracle, domain.CodeFeedStale,
			"feed %s stale: age %s exceeds %s", feed.Name(), age, cfg.MaxStaleness)
	}
	return price, nil
}

func (o *Oracle) checkBounds(token string, price decimal.Decimal, cfg domain.OracleConfig) error {
	if price.LessThan(cfg.MinPrice) || (cfg.MaxPrice.IsPositive() && price.GreaterThan(cfg.MaxPrice)) {
		return domain.Errorf(domain.ErrOracle, domain.CodePriceOutOfBounds,
			"price %s for %s outside [%s,%s]", price, token, cfg.MinPrice, cfg.MaxPrice)
	}
	return nil
}

// checkImpact enforces the price-change breaker against the last valid price.
func (o *Oracle) checkImpact(token string, price decimal.Decimal) error {
	last, ok := o.last[token]
	if !ok {
		return nil
	}
	return o.breakers.CheckPrice(token, last, price)
}

// failLocked records a validation failure against the token's breaker and
// emits a trip event when the threshold is crossed.
func (o *Oracle) failLocked(ctx context.Context, token string, cause error) {
	// A short-circuit on an already-tripped breaker is not a new failure.
	if errors.Is(cause, domain.ErrCircuitBreaker) && domain.ErrorCode(cause) == domain.CodeBreakerTripped {
		return
	}
	if o.breakers.RecordFailure(token, cause.Error()) {
		o.emit(ctx, domain.EventBreakerTripped, domain.BreakerEvent{
			Token: token,
			Cause: cause.Error(),
			State: o.breakers.Status(token),
		})
	}
}

func (o *Oracle) emit(ctx context.Context, typ domain.EventType, payload any) {
	if o.sink == nil {
		return
	}
	o.sink.Emit(ctx, domain.Event{Type: typ, Timestamp: o.now(), Payload: payload})
}

// UpdateObservation validates the token's price and, on success, appends a
// cumulative-price observation and a history point. Observations older than
// twice the TWAP window are pruned.
func (o *Oracle) UpdateObservation(ctx context.Context, token string) (domain.ValidationResult, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	res, err := o.validateLocked(ctx, token)
	if err != nil {
		return res, err
	}

	now := res.CheckedAt
	series := o.obs[token]
	cum := decimal.Zero
	if n := len(series); n > 0 {
		prev := series[n-1]
		span := now.Sub(prev.Timestamp)
		if span <= 0 {
			// Same-instant update; keep the series strictly increasing.
			return res, nil
		}
		cum = prev.Cumulative.Add(prev.Price.Mul(decimal.NewFromFloat(span.Seconds())))
	}
	series = append(series, domain.PriceObservation{Timestamp: now, Price: res.Price, Cumulative: cum})

	// Prune everything older than 2 × window.
	cutoff := now.Add(-2 * o.window)
	trim := 0
	for trim < len(series) && series[trim].Timestamp.Before(cutoff) {
		trim++
	}
	o.obs[token] = series[trim:]

	ring, ok := o.history[token]
	if !ok {
		ring = &priceRing{}
		o.history[token] = ring
	}
	ring.push(domain.PricePoint{Timestamp: now, Price: res.Price})

	o.emit(ctx, domain.EventPriceUpdated, domain.PriceEvent{Token: token, Price: res.Price})
	return res, nil
}

// BatchUpdate runs UpdateObservation for up to MaxBatchPriceUpdate tokens.
// Per-token failures are recorded and skipped; the aggregate counts are
// returned.
func (o *Oracle) BatchUpdate(ctx context.Context, tokens []string) (succeeded, failed int, err error) {
	if len(tokens) > MaxBatchPriceUpdate {
		return 0, 0, domain.Errorf(domain.ErrValidation, domain.CodeBatchTooLarge,
			"batch of %d exceeds limit %d", len(tokens), MaxBatchPriceUpdate)
	}
	for _, token := range tokens {
		if _, uerr := o.UpdateObservation(ctx, token); uerr != nil {
			failed++
			o.logger.WarnContext(ctx, "price update failed",
				slog.String("token", token),
				slog.String("error", uerr.Error()),
			)
			continue
		}
		succeeded++
	}
	return succeeded, failed, nil
}

// TWAP computes the time-weighted average price over the trailing window by
// walking observation pairs, clipping each interval to the window start and
// weighting each price by the time it was in effect.
func (o *Oracle) TWAP(token string, window time.Duration) domain.TWAPResult {
	o.mu.Lock()
	defer o.mu.Unlock()

	if window <= 0 {
		window = o.window
	}
	res := domain.TWAPResult{Token: token, Window: window}

	series := o.obs[token]
	res.Count = len(series)
	if len(series) < o.minObs {
		return res
	}

	windowStart := o.now().Add(-window)
	sum := decimal.Zero
	var total float64
	for i := 0; i+1 < len(series); i++ {
		start, end := series[i].Timestamp, series[i+1].Timestamp
		if end.Before(windowStart) || end.Equal(windowStart) {
			continue
		}
		if start.Before(windowStart) {
			start = windowStart
		}
		span := end.Sub(start).Seconds()
		if span <= 0 {
			continue
		}
		sum = sum.Add(series[i].Price.Mul(decimal.NewFromFloat(span)))
		total += span
	}
	if total <= 0 {
		return res
	}

	res.Price = sum.Div(decimal.NewFromFloat(total))
	res.Valid = true
	return res
}

// SetEmergencyPrice force-trips the token's breaker and overrides the last
// valid price. Used when feeds are known to be compromised.
func (o *Oracle) SetEmergencyPrice(ctx context.Context, token string, price decimal.Decimal, reason, actor string) error {
	if !price.IsPositive() {
		return domain.Errorf(domain.ErrValidation, domain.CodeInvalidPrice, "emergency price must be positive")
	}

	o.mu.Lock()
	o.last[token] = price
	o.mu.Unlock()
	o.breakers.ForceTrip(token, "emergency price: "+reason)

	o.logger.WarnContext(ctx, "emergency price set",
		slog.String("token", token),
		slog.String("price", price.String()),
		slog.String("reason", reason),
		slog.String("actor", actor),
	)
	o.emit(ctx, domain.EventEmergencyPrice, domain.PriceEvent{Token: token, Price: price, Reason: reason, Actor: actor})
	return nil
}

// LastValidPrice returns the last successfully validated (or emergency)
// price for token.
func (o *Oracle) LastValidPrice(token string) (decimal.Decimal, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	p, ok := o.last[token]
	return p, ok
}

// History returns up to limit historical points, newest first.
func (o *Oracle) History(token string, limit int) []domain.PricePoint {
	o.mu.Lock()
	defer o.mu.Unlock()

	ring, ok := o.history[token]
	if !ok {
		return nil
	}
	return ring.recent(limit)
}
