// Package engine implements the embeddable offer settlement engine: an offer
// ledger with monotonic lifecycle transitions, price validation against
// external feeds, circuit-breaker risk limits and fee accrual. Every mutating
// operation runs to completion inside a single critical section; reads return
// snapshots.
package engine

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/quantfall/otcdesk/internal/domain"
)

// MaxBatchCreate bounds batchCreateOffers.
const MaxBatchCreate = 20

// Options configures a new Engine. Ledger is required. A nil Roles provider
// grants every permission (library embedding); a nil Sink drops events.
type Options struct {
	Ledger        domain.TokenLedger
	Roles         domain.RoleProvider
	Sink          domain.EventSink
	Logger        *slog.Logger
	EngineAccount string // spender identity for TransferFrom calls
	FeeAccount    string // receives collected fees
	Fees          domain.FeeStructure
	TWAPWindow    time.Duration
	MinTWAPObs    int
	Now           func() time.Time
}

// Engine is the trade settlement engine. It owns the offer ledger and
// orchestrates breaker checks, oracle validation, fee computation and
// external token transfers for every settlement.
type Engine struct {
	mu     sync.Mutex
	now    func() time.Time
	logger *slog.Logger

	ledger domain.TokenLedger
	roles  domain.RoleProvider
	sink   domain.EventSink

	oracle   *Oracle
	fees     *FeeEngine
	breakers *Breakers
	stats    *Stats

	engineAccount string
	feeAccount    string

	offers    map[uint64]*domain.Offer
	nextID    uint64
	whitelist map[string]bool
	paused    bool
}

// New creates an Engine and its owned sub-components.
func New(opts Options) *Engine {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	logger := opts.Logger.With(slog.String("component", "engine"))

	breakers := NewBreakers(opts.Now, opts.Logger)
	oracle := NewOracle(OracleOptions{
		Breakers: breakers,
		Sink:     opts.Sink,
		Logger:   opts.Logger,
		Now:      opts.Now,
		Window:   opts.TWAPWindow,
		MinObs:   opts.MinTWAPObs,
	})

	return &Engine{
		now:           opts.Now,
		logger:        logger,
		ledger:        opts.Ledger,
		roles:         opts.Roles,
		sink:          opts.Sink,
		oracle:        oracle,
		fees:          NewFeeEngine(opts.Fees),
		breakers:      breakers,
		stats:         NewStats(opts.Now),
		engineAccount: opts.EngineAccount,
		feeAccount:    opts.FeeAccount,
		offers:        make(map[uint64]*domain.Offer),
		nextID:        1,
		whitelist:     make(map[string]bool),
	}
}

// Oracle exposes the read side of the price validation oracle.
func (e *Engine) Oracle() *Oracle { return e.oracle }

// Breakers exposes the circuit breaker controller for status queries.
func (e *Engine) Breakers() *Breakers { return e.breakers }

// Fees returns the current fee structure snapshot.
func (e *Engine) Fees() domain.FeeStructure { return e.fees.Structure() }

// Stats returns the current trading statistics snapshot.
func (e *Engine) Stats() domain.TradingStats { return e.stats.Snapshot() }

func (e *Engine) emit(ctx context.Context, typ domain.EventType, payload any) {
	if e.sink == nil {
		return
	}
	e.sink.Emit(ctx, domain.Event{Type: typ, Timestamp: e.now(), Payload: payload})
}

func (e *Engine) requirePermission(ctx context.Context, principal string, perm domain.Permission) error {
	if e.roles == nil {
		return nil
	}
	if e.roles.HasPermission(ctx, principal, perm) || e.roles.HasPermission(ctx, principal, domain.PermAdmin) {
		return nil
	}
	return domain.Errorf(domain.ErrAuthorization, domain.CodePermissionDenied,
		"%s lacks %s", principal, perm)
}

func (e *Engine) checkNotPaused() error {
	if e.paused {
		return domain.Errorf(domain.ErrState, domain.CodeEnginePaused, "engine is paused")
	}
	return nil
}

// WhitelistToken marks a token as tradable (or removes it). Admin only.
func (e *Engine) WhitelistToken(ctx context.Context, principal, token string, allowed bool) error {
	if err := e.requirePermission(ctx, principal, domain.PermAdmin); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if allowed {
		e.whitelist[token] = true
	} else {
		delete(e.whitelist, token)
	}
	return nil
}

// Whitelisted reports whether a token may be traded.
func (e *Engine) Whitelisted(token string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.whitelist[token]
}

// Pause blocks all mutating operations until Unpause. Admin only.
func (e *Engine) Pause(ctx context.Context, principal string) error {
	if err := e.requirePermission(ctx, principal, domain.PermAdmin); err != nil {
		return err
	}
	e.mu.Lock()
	e.paused = true
	e.mu.Unlock()
	e.logger.WarnContext(ctx, "engine paused", slog.String("actor", principal))
	e.emit(ctx, domain.EventPaused, domain.AdminEvent{Actor: principal})
	return nil
}

// Unpause re-enables mutating operations. Admin only.
func (e *Engine) Unpause(ctx context.Context, principal string) error {
	if err := e.requirePermission(ctx, principal, domain.PermAdmin); err != nil {
		return err
	}
	e.mu.Lock()
	e.paused = false
	e.mu.Unlock()
	e.logger.InfoContext(ctx, "engine unpaused", slog.String("actor", principal))
	e.emit(ctx, domain.EventUnpaused, domain.AdminEvent{Actor: principal})
	return nil
}

// Paused reports whether mutating operations are currently blocked.
func (e *Engine) Paused() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.paused
}

// validateCreate runs every pre-state-change check of createOffer.
func (e *Engine) validateCreate(ctx context.Context, seller string, req domain.CreateOfferRequest, now time.Time) error {
	if !req.Amount.IsPositive() {
		return domain.Errorf(domain.ErrValidation, domain.CodeInvalidAmount, "amount must be positive")
	}
	if !req.Price.IsPositive() {
		return domain.Errorf(domain.ErrValidation, domain.CodeInvalidPrice, "price must be positive")
	}
	if !req.ExpiresAt.After(now) {
		return domain.Errorf(domain.ErrValidation, domain.CodeInvalidExpiry, "expiry must be in the future")
	}
	if req.ExpiresAt.After(now.Add(domain.MaxOfferLifetime)) {
		return domain.Errorf(domain.ErrValidation, domain.CodeInvalidExpiry,
			"expiry beyond the %s horizon", domain.MaxOfferLifetime)
	}
	if req.Private && req.Buyer == "" {
		return domain.Errorf(domain.ErrValidation, domain.CodeInvalidConfig, "private offer requires a designated buyer")
	}
	if !e.whitelist[req.OfferToken] {
		return domain.Errorf(domain.ErrValidation, domain.CodeTokenNotWhitelisted, "token %s not whitelisted", req.OfferToken)
	}
	if !e.whitelist[req.PaymentToken] {
		return domain.Errorf(domain.ErrValidation, domain.CodeTokenNotWhitelisted, "token %s not whitelisted", req.PaymentToken)
	}

	if err := e.checkOfferPrice(ctx, req.OfferToken, req.PaymentToken, req.Price); err != nil {
		return err
	}

	balance, err := e.ledger.BalanceOf(ctx, req.OfferToken, seller)
	if err != nil {
		return domain.Errorf(domain.ErrFunds, domain.CodeTransferFailed, "seller balance lookup: %v", err)
	}
	if balance.LessThan(req.Amount) {
		return domain.Errorf(domain.ErrFunds, domain.CodeInsufficientBalance,
			"seller holds %s %s, offer needs %s", balance, req.OfferToken, req.Amount)
	}
	allowance, err := e.ledger.Allowance(ctx, req.OfferToken, seller, e.engineAccount)
	if err != nil {
		return domain.Errorf(domain.ErrFunds, domain.CodeTransferFailed, "seller allowance lookup: %v", err)
	}
	if allowance.LessThan(req.Amount) {
		return domain.Errorf(domain.ErrFunds, domain.CodeInsufficientAllowance,
			"seller allowance %s %s, offer needs %s", allowance, req.OfferToken, req.Amount)
	}
	return nil
}

// checkOfferPrice compares the offer's unit price against the oracle-implied
// fair price when both tokens carry an active oracle config. Fair price is
// oraclePrice(offerToken) / oraclePrice(paymentToken); the allowed deviation
// is the offer token's configured threshold.
func (e *Engine) checkOfferPrice(ctx context.Context, offerToken, paymentToken string, price decimal.Decimal) error {
	if !e.oracle.Configured(offerToken) || !e.oracle.Configured(paymentToken) {
		return nil
	}

	offerRes, err := e.oracle.GetPrice(ctx, offerToken)
	if err != nil {
		return err
	}
	payRes, err := e.oracle.GetPrice(ctx, paymentToken)
	if err != nil {
		return err
	}
	if !payRes.Price.IsPositive() {
		return nil
	}

	fair := offerRes.Price.Div(payRes.Price)
	dev := deviationBps(price, fair)

	threshold := int64(domain.MaxDeviationBps)
	if cfg, ok := e.oracle.config(offerToken); ok && cfg.DeviationBps > 0 {
		threshold = cfg.DeviationBps
	}
	if dev > threshold {
		return domain.Errorf(domain.ErrOracle, domain.CodeDeviationExceeded,
			"offer price %s deviates %d bps from oracle fair price %s, threshold %d bps",
			price, dev, fair.StringFixed(8), threshold)
	}
	return nil
}

// CreateOffer validates and records a new offer and returns its id. The
// seller's balance and allowance on the offered token must cover the amount;
// tokens are escrowed by allowance, not moved, until fills occur.
func (e *Engine) CreateOffer(ctx context.Context, seller string, req domain.CreateOfferRequest) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.createOfferLocked(ctx, seller, req)
}

func (e *Engine) createOfferLocked(ctx context.Context, seller string, req domain.CreateOfferRequest) (uint64, error) {
	if err := e.checkNotPaused(); err != nil {
		return 0, err
	}
	now := e.now()
	if err := e.validateCreate(ctx, seller, req, now); err != nil {
		return 0, err
	}

	offer := &domain.Offer{
		ID:           e.nextID,
		Seller:       seller,
		Buyer:        req.Buyer,
		OfferToken:   req.OfferToken,
		PaymentToken: req.PaymentToken,
		Price:        req.Price,
		Amount:       req.Amount,
		Remaining:    req.Amount,
		CreatedAt:    now,
		ExpiresAt:    req.ExpiresAt,
		Status:       domain.OfferStatusActive,
		Private:      req.Private,
	}
	e.nextID++
	e.offers[offer.ID] = offer

	e.logger.InfoContext(ctx, "offer created",
		slog.Uint64("offer_id", offer.ID),
		slog.String("seller", seller),
		slog.String("pair", offer.OfferToken+"/"+offer.PaymentToken),
		slog.String("amount", offer.Amount.String()),
		slog.String("price", offer.Price.String()),
	)
	e.emit(ctx, domain.EventOfferCreated, domain.OfferEvent{Offer: *offer})
	return offer.ID, nil
}

// BatchCreateOffers processes up to MaxBatchCreate requests sequentially.
// Each element commits or fails independently: a failure in one element does
// not roll back earlier elements or stop the batch.
func (e *Engine) BatchCreateOffers(ctx context.Context, seller string, reqs []domain.CreateOfferRequest) ([]domain.BatchCreateResult, error) {
	if len(reqs) > MaxBatchCreate {
		return nil, domain.Errorf(domain.ErrValidation, domain.CodeBatchTooLarge,
			"batch of %d exceeds limit %d", len(reqs), MaxBatchCreate)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	results := make([]domain.BatchCreateResult, 0, len(reqs))
	for i, req := range reqs {
		id, err := e.createOfferLocked(ctx, seller, req)
		res := domain.BatchCreateResult{Index: i, OfferID: id}
		if err != nil {
			res.Err = err.Error()
			e.logger.WarnContext(ctx, "batch element failed",
				slog.Int("index", i),
				slog.String("error", err.Error()),
			)
		}
		results = append(results, res)
	}
	return results, nil
}

// BuyOffer fills amount of the offer's remaining quantity. Ledger state is
// mutated before the external transfers are issued and rolled back if a
// transfer fails synchronously, so a reentrant caller can never re-fill
// quantity that is already spoken for.
func (e *Engine) BuyOffer(ctx context.Context, buyer string, offerID uint64, amount decimal.Decimal) (domain.Fill, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.checkNotPaused(); err != nil {
		return domain.Fill{}, err
	}
	if !amount.IsPositive() {
		return domain.Fill{}, domain.Errorf(domain.ErrValidation, domain.CodeInvalidAmount, "amount must be positive")
	}

	offer, ok := e.offers[offerID]
	if !ok {
		return domain.Fill{}, domain.Errorf(domain.ErrState, domain.CodeOfferNotActive, "offer %d not found", offerID)
	}
	now := e.now()
	if offer.Status != domain.OfferStatusActive && offer.Status != domain.OfferStatusPartiallyFilled {
		return domain.Fill{}, domain.Errorf(domain.ErrState, domain.CodeOfferNotActive,
			"offer %d is %s", offerID, offer.Status)
	}
	if offer.ExpiredAt(now) {
		offer.Status = domain.OfferStatusExpired
		e.emit(ctx, domain.EventOfferExpired, domain.OfferEvent{Offer: *offer})
		return domain.Fill{}, domain.Errorf(domain.ErrState, domain.CodeOfferExpired, "offer %d expired", offerID)
	}
	if offer.Private && buyer != offer.Buyer {
		return domain.Fill{}, domain.Errorf(domain.ErrAuthorization, domain.CodePrivateOffer,
			"offer %d is restricted to its designated buyer", offerID)
	}
	if amount.GreaterThan(offer.Remaining) {
		return domain.Fill{}, domain.Errorf(domain.ErrState, domain.CodeInsufficientRemaining,
			"offer %d has %s remaining, requested %s", offerID, offer.Remaining, amount)
	}

	notional := amount.Mul(offer.Price)

	// Breaker admission on the payment token (read-only here; usage is
	// consumed after funds checks pass).
	if err := e.breakers.CheckVolume(offer.PaymentToken, notional); err != nil {
		return domain.Fill{}, err
	}

	// Re-validate the offer price against the oracle.
	if err := e.checkOfferPrice(ctx, offer.OfferToken, offer.PaymentToken, offer.Price); err != nil {
		return domain.Fill{}, err
	}

	staked := e.roles != nil && e.roles.HasPermission(ctx, buyer, domain.PermStaker)
	fee := e.fees.Quote(notional, e.stats.UserVolume(buyer), staked)
	cost := notional.Add(fee)

	if err := e.checkFunds(ctx, offer, buyer, amount, cost); err != nil {
		return domain.Fill{}, err
	}

	// Mutate ledger state first, then consume breaker usage, then transfer.
	prevRemaining, prevStatus := offer.Remaining, offer.Status
	offer.Remaining = offer.Remaining.Sub(amount)
	if offer.Remaining.IsZero() {
		offer.Status = domain.OfferStatusCompleted
	} else {
		offer.Status = domain.OfferStatusPartiallyFilled
	}

	if err := e.breakers.ConsumeVolume(offer.PaymentToken, notional); err != nil {
		offer.Remaining, offer.Status = prevRemaining, prevStatus
		return domain.Fill{}, err
	}

	if err := e.settleTransfers(ctx, offer, buyer, amount, notional, fee); err != nil {
		offer.Remaining, offer.Status = prevRemaining, prevStatus
		e.breakers.RefundVolume(offer.PaymentToken, notional)
		return domain.Fill{}, err
	}

	e.stats.RecordTrade(buyer, offer.Seller, notional, fee)

	fill := domain.Fill{
		TradeID:   uuid.NewString(),
		OfferID:   offer.ID,
		Buyer:     buyer,
		Seller:    offer.Seller,
		Amount:    amount,
		Price:     offer.Price,
		Notional:  notional,
		Fee:       fee,
		Timestamp: now,
	}
	e.logger.InfoContext(ctx, "offer filled",
		slog.Uint64("offer_id", offer.ID),
		slog.String("buyer", buyer),
		slog.String("amount", amount.String()),
		slog.String("fee", fee.String()),
		slog.String("status", string(offer.Status)),
	)
	e.emit(ctx, domain.EventOfferFilled, domain.OfferEvent{Offer: *offer, Fill: &fill})
	return fill, nil
}

// checkFunds verifies both sides can settle before anything moves.
func (e *Engine) checkFunds(ctx context.Context, offer *domain.Offer, buyer string, amount, cost decimal.Decimal) error {
	balance, err := e.ledger.BalanceOf(ctx, offer.PaymentToken, buyer)
	if err != nil {
		return domain.Errorf(domain.ErrFunds, domain.CodeTransferFailed, "buyer balance lookup: %v", err)
	}
	if balance.LessThan(cost) {
		return domain.Errorf(domain.ErrFunds, domain.CodeInsufficientBalance,
			"buyer holds %s %s, fill costs %s", balance, offer.PaymentToken, cost)
	}
	allowance, err := e.ledger.Allowance(ctx, offer.PaymentToken, buyer, e.engineAccount)
	if err != nil {
		return domain.Errorf(domain.ErrFunds, domain.CodeTransferFailed, "buyer allowance lookup: %v", err)
	}
	if allowance.LessThan(cost) {
		return domain.Errorf(domain.ErrFunds, domain.CodeInsufficientAllowance,
			"buyer allowance %s %s, fill costs %s", allowance, offer.PaymentToken, cost)
	}

	sellerBalance, err := e.ledger.BalanceOf(ctx, offer.OfferToken, offer.Seller)
	if err != nil {
		return domain.Errorf(domain.ErrFunds, domain.CodeTransferFailed, "seller balance lookup: %v", err)
	}
	if sellerBalance.LessThan(amount) {
		return domain.Errorf(domain.ErrFunds, domain.CodeInsufficientBalance,
			"seller holds %s %s, fill needs %s", sellerBalance, offer.OfferToken, amount)
	}
	sellerAllowance, err := e.ledger.Allowance(ctx, offer.OfferToken, offer.Seller, e.engineAccount)
	if err != nil {
		return domain.Errorf(domain.ErrFunds, domain.CodeTransferFailed, "seller allowance lookup: %v", err)
	}
	if sellerAllowance.LessThan(amount) {
		return domain.Errorf(domain.ErrFunds, domain.CodeInsufficientAllowance,
			"seller allowance %s %s, fill needs %s", sellerAllowance, offer.OfferToken, amount)
	}
	return nil
}

// settleTransfers moves value for a fill in escrow order. The buyer's full
// payment is parked with the engine account before anything else moves, so
// every compensating transfer spends the engine's own balance; a direct
// seller-to-buyer refund would need an allowance nobody granted, which the
// on-chain ledger cannot sign around.
//
// Legs:
//  1. payment: buyer -> engine (notional + fee)
//  2. offered token: seller -> buyer
//  3. payment release: engine -> seller (notional), engine -> fee pool (fee)
//
// A failure in leg 1 or 2 aborts the fill; leg 2 failure refunds the escrow
// to the buyer. Leg 3 cannot abort: the buyer already holds the offered
// token, so the funds stay parked with the engine and a settlement_stalled
// event alerts operators to release them manually.
func (e *Engine) settleTransfers(ctx context.Context, offer *domain.Offer, buyer string, amount, notional, fee decimal.Decimal) error {
	cost := notional.Add(fee)

	if err := e.ledger.TransferFrom(ctx, offer.PaymentToken, e.engineAccount, buyer, e.engineAccount, cost); err != nil {
		return domain.Errorf(domain.ErrFunds, domain.CodeTransferFailed, "payment escrow: %v", err)
	}

	if err := e.ledger.TransferFrom(ctx, offer.OfferToken, e.engineAccount, offer.Seller, buyer, amount); err != nil {
		e.payout(ctx, offer, offer.PaymentToken, buyer, cost)
		return domain.Errorf(domain.ErrFunds, domain.CodeTransferFailed, "offer token transfer: %v", err)
	}

	e.payout(ctx, offer, offer.PaymentToken, offer.Seller, notional)
	if fee.IsPositive() {
		e.payout(ctx, offer, offer.PaymentToken, e.feeAccount, fee)
	}
	return nil
}

// payout moves engine-held funds to their owner. A failure parks the money
// with the engine account, so it is surfaced as a settlement_stalled event
// on top of the error log.
func (e *Engine) payout(ctx context.Context, offer *domain.Offer, token, to string, amount decimal.Decimal) {
	err := e.ledger.Transfer(ctx, token, e.engineAccount, to, amount)
	if err == nil {
		return
	}
	e.logger.ErrorContext(ctx, "payout failed, funds parked with engine account",
		slog.Uint64("offer_id", offer.ID),
		slog.String("token", token),
		slog.String("to", to),
		slog.String("amount", amount.String()),
		slog.String("error", err.Error()),
	)
	e.emit(ctx, domain.EventSettlementStalled, domain.SettlementEvent{
		OfferID: offer.ID,
		Token:   token,
		To:      to,
		Amount:  amount,
		Reason:  err.Error(),
	})
}

// CancelOffer transitions a non-terminal offer to cancelled. Only the seller
// or an admin may cancel.
func (e *Engine) CancelOffer(ctx context.Context, principal string, offerID uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.checkNotPaused(); err != nil {
		return err
	}
	offer, ok := e.offers[offerID]
	if !ok {
		return domain.Errorf(domain.ErrState, domain.CodeOfferNotActive, "offer %d not found", offerID)
	}
	if principal != offer.Seller {
		if err := e.requirePermission(ctx, principal, domain.PermAdmin); err != nil {
			return err
		}
	}
	if offer.Status.Terminal() {
		return domain.Errorf(domain.ErrState, domain.CodeOfferNotActive, "offer %d is %s", offerID, offer.Status)
	}

	offer.Status = domain.OfferStatusCancelled
	e.logger.InfoContext(ctx, "offer cancelled",
		slog.Uint64("offer_id", offerID),
		slog.String("actor", principal),
	)
	e.emit(ctx, domain.EventOfferCancelled, domain.OfferEvent{Offer: *offer})
	return nil
}

// ExpireStale transitions every past-expiry non-terminal offer to expired and
// returns how many were expired.
func (e *Engine) ExpireStale(ctx context.Context) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	expired := 0
	for _, offer := range e.offers {
		if offer.Status.Terminal() || !offer.ExpiredAt(now) {
			continue
		}
		offer.Status = domain.OfferStatusExpired
		expired++
		e.emit(ctx, domain.EventOfferExpired, domain.OfferEvent{Offer: *offer})
	}
	if expired > 0 {
		e.logger.InfoContext(ctx, "expired stale offers", slog.Int("count", expired))
	}
	return expired
}

// GetOffer returns a snapshot of the offer.
func (e *Engine) GetOffer(offerID uint64) (domain.Offer, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	offer, ok := e.offers[offerID]
	if !ok {
		return domain.Offer{}, domain.ErrNotFound
	}
	return *offer, nil
}

// ListOffers returns offer snapshots matching the filter, ordered by id.
func (e *Engine) ListOffers(filter domain.OfferFilter) []domain.Offer {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]domain.Offer, 0, len(e.offers))
	for _, offer := range e.offers {
		if filter.Seller != "" && offer.Seller != filter.Seller {
			continue
		}
		if filter.Status != "" && offer.Status != filter.Status {
			continue
		}
		out = append(out, *offer)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out
}

// ConfigureOracle installs a per-token oracle policy. Oracle manager only.
func (e *Engine) ConfigureOracle(ctx context.Context, principal, token string, cfg domain.OracleConfig) error {
	if err := e.requirePermission(ctx, principal, domain.PermOracleManager); err != nil {
		return err
	}
	return e.oracle.Configure(token, cfg)
}

// UpdateObservation refreshes and validates the token's price observation.
// Observation writes extend the TWAP history, so they are blocked while the
// engine is paused; reads through Oracle() stay available.
func (e *Engine) UpdateObservation(ctx context.Context, token string) (domain.ValidationResult, error) {
	e.mu.Lock()
	err := e.checkNotPaused()
	e.mu.Unlock()
	if err != nil {
		return domain.ValidationResult{}, err
	}
	return e.oracle.UpdateObservation(ctx, token)
}

// BatchUpdate refreshes up to MaxBatchPriceUpdate tokens. Blocked while the
// engine is paused, like every other mutating operation.
func (e *Engine) BatchUpdate(ctx context.Context, tokens []string) (succeeded, failed int, err error) {
	e.mu.Lock()
	perr := e.checkNotPaused()
	e.mu.Unlock()
	if perr != nil {
		return 0, 0, perr
	}
	return e.oracle.BatchUpdate(ctx, tokens)
}

// SetEmergencyPrice force-trips the token's breaker and overrides the last
// valid price. Oracle manager only.
func (e *Engine) SetEmergencyPrice(ctx context.Context, principal, token string, price decimal.Decimal, reason string) error {
	if err := e.requirePermission(ctx, principal, domain.PermOracleManager); err != nil {
		return err
	}
	return e.oracle.SetEmergencyPrice(ctx, token, price, reason, principal)
}

// ConfigureBreaker sets the per-token risk limits. Risk manager only.
func (e *Engine) ConfigureBreaker(ctx context.Context, principal, token string, cfg domain.BreakerConfig) error {
	if err := e.requirePermission(ctx, principal, domain.PermRiskManager); err != nil {
		return err
	}
	return e.breakers.Configure(token, cfg)
}

// ResetBreaker clears a tripped breaker. Risk manager only.
func (e *Engine) ResetBreaker(ctx context.Context, principal, token string) error {
	if err := e.requirePermission(ctx, principal, domain.PermRiskManager); err != nil {
		return err
	}
	e.breakers.Reset(token)
	e.emit(ctx, domain.EventBreakerReset, domain.BreakerEvent{Token: token, State: e.breakers.Status(token)})
	return nil
}

// UpdateFees replaces the fee structure. Fee manager only.
func (e *Engine) UpdateFees(ctx context.Context, principal string, cfg domain.FeeStructure) error {
	if err := e.requirePermission(ctx, principal, domain.PermFeeManager); err != nil {
		return err
	}
	if err := e.fees.Update(cfg); err != nil {
		return err
	}
	e.emit(ctx, domain.EventFeesUpdated, domain.FeeEvent{Fees: cfg, Actor: principal})
	return nil
}
