package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/quantfall/otcdesk/internal/domain"
	"github.com/quantfall/otcdesk/internal/engine"
	"github.com/quantfall/otcdesk/internal/server"
	"github.com/quantfall/otcdesk/internal/server/handler"
	"github.com/quantfall/otcdesk/internal/server/ws"
	"github.com/quantfall/otcdesk/internal/service"
)

// core bundles the engine and the services built on top of it.
type core struct {
	engine     *engine.Engine
	publisher  *service.EventPublisher
	settlement *service.SettlementService
	oracle     *service.OracleService
}

// buildCore constructs the settlement engine and its service layer from the
// wired dependencies. Store and cache dependencies may be nil (demo mode).
func (a *App) buildCore(deps *Dependencies) *core {
	publisher := service.NewEventPublisher(
		deps.OfferStore, deps.TradeStore, deps.AuditStore,
		deps.SignalBus, deps.Notifier, a.logger,
	)

	eng := engine.New(engine.Options{
		Ledger:        deps.Ledger,
		Roles:         newStaticRoleProvider(a.cfg.Auth.Roles),
		Sink:          publisher,
		Logger:        a.logger,
		EngineAccount: a.cfg.Venue.EngineAccount,
		FeeAccount:    a.cfg.Venue.FeeAccount,
		Fees: domain.FeeStructure{
			BaseFeeBps:            a.cfg.Fees.BaseFeeBps,
			VolumeDiscountPerTier: a.cfg.Fees.VolumeDiscountPerTier,
			StakingDiscountBps:    a.cfg.Fees.StakingDiscountBps,
			MinimumFee:            a.cfg.Fees.MinimumFee,
			Dynamic:               a.cfg.Fees.Dynamic,
		},
		TWAPWindow: a.cfg.Venue.TWAPWindow.Duration,
		MinTWAPObs: a.cfg.Venue.MinTWAPObservations,
	})

	return &core{
		engine:     eng,
		publisher:  publisher,
		settlement: service.NewSettlementService(eng, deps.OfferStore, deps.TradeStore, a.logger),
		oracle:     service.NewOracleService(eng, deps.PriceCache, a.logger),
	}
}

// applyVenueConfig pushes the static configuration (whitelist, oracle
// policies, breaker limits) into the engine under the system principal.
func (a *App) applyVenueConfig(ctx context.Context, c *core, deps *Dependencies) error {
	for _, token := range a.cfg.Venue.Whitelist {
		if err := c.engine.WhitelistToken(ctx, systemPrincipal, token, true); err != nil {
			return fmt.Errorf("whitelist %s: %w", token, err)
		}
	}

	for _, oc := range a.cfg.Oracle.Tokens {
		primary, ok := deps.Feeds.Feed(oc.PrimaryFeed)
		if !ok {
			return fmt.Errorf("oracle %s: unknown feed %q", oc.Token, oc.PrimaryFeed)
		}
		cfg := domain.OracleConfig{
			Primary:          primary,
			MaxStaleness:     oc.MaxStaleness.Duration,
			DeviationBps:     oc.DeviationBps,
			MinPrice:         oc.MinPrice,
			MaxPrice:         oc.MaxPrice,
			Decimals:         oc.Decimals,
			Active:           true,
			RequireSecondary: oc.RequireSecondary,
		}
		if oc.SecondaryFeed != "" {
			secondary, ok := deps.Feeds.Feed(oc.SecondaryFeed)
			if !ok {
				return fmt.Errorf("oracle %s: unknown feed %q", oc.Token, oc.SecondaryFeed)
			}
			cfg.Secondary = secondary
		}
		if err := c.oracle.ConfigureOracle(ctx, systemPrincipal, oc.Token, cfg); err != nil {
			return fmt.Errorf("oracle %s: %w", oc.Token, err)
		}
	}

	for _, bc := range a.cfg.Breakers {
		cfg := domain.BreakerConfig{
			DailyLimit:        bc.DailyLimit,
			HourlyLimit:       bc.HourlyLimit,
			MaxPriceImpactBps: bc.MaxPriceImpactBps,
			MaxFailures:       bc.MaxFailures,
		}
		if err := c.oracle.ConfigureBreaker(ctx, systemPrincipal, bc.Token, cfg); err != nil {
			return fmt.Errorf("breaker %s: %w", bc.Token, err)
		}
	}

	return nil
}

// oracleTokens lists the tokens with configured validation policies, for the
// background update loop.
func (a *App) oracleTokens() []string {
	tokens := make([]string, 0, len(a.cfg.Oracle.Tokens))
	for _, oc := range a.cfg.Oracle.Tokens {
		tokens = append(tokens, oc.Token)
	}
	return tokens
}

// ServeMode runs the full venue: settlement engine, event publisher, price
// update loop, expiry sweep, WebSocket hub, HTTP API, and optionally the
// archive sweep.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting serve mode")

	c := a.buildCore(deps)
	if err := a.applyVenueConfig(ctx, c, deps); err != nil {
		return fmt.Errorf("serve mode: apply venue config: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return ignoreCancel(c.publisher.Run(ctx))
	})

	hub := ws.NewHub(deps.SignalBus, a.logger, ws.Config{
		Mode:      a.cfg.Mode,
		StartedAt: time.Now().UTC(),
	})
	g.Go(func() error {
		return ignoreCancel(hub.Run(ctx))
	})

	g.Go(func() error {
		return ignoreCancel(c.settlement.RunExpirySweep(ctx, a.cfg.Venue.ExpirySweepInterval.Duration))
	})

	if tokens := a.oracleTokens(); len(tokens) > 0 && a.cfg.Oracle.UpdateInterval.Duration > 0 {
		g.Go(func() error {
			return ignoreCancel(c.oracle.RunUpdateLoop(ctx, tokens, a.cfg.Oracle.UpdateInterval.Duration))
		})
	}

	if a.cfg.Archive.Enabled && deps.Archiver != nil {
		g.Go(func() error {
			return ignoreCancel(a.runArchiveSweep(ctx, deps))
		})
	}

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, c, hub)
	}

	return g.Wait()
}

// DemoMode runs the venue against the in-memory token ledger with simulated
// feeds and no external storage. Funds are seeded for every configured
// principal so offers can be created and filled immediately.
func (a *App) DemoMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting demo mode")

	if deps.MemLedger != nil {
		a.seedDemoLedger(ctx, deps)
	}

	c := a.buildCore(deps)
	if err := a.applyVenueConfig(ctx, c, deps); err != nil {
		return fmt.Errorf("demo mode: apply venue config: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return ignoreCancel(c.publisher.Run(ctx))
	})

	g.Go(func() error {
		return ignoreCancel(c.settlement.RunExpirySweep(ctx, a.cfg.Venue.ExpirySweepInterval.Duration))
	})

	if tokens := a.oracleTokens(); len(tokens) > 0 && a.cfg.Oracle.UpdateInterval.Duration > 0 {
		g.Go(func() error {
			return ignoreCancel(c.oracle.RunUpdateLoop(ctx, tokens, a.cfg.Oracle.UpdateInterval.Duration))
		})
	}

	// No signal bus in demo mode, so no WebSocket hub.
	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, c, nil)
	}

	return g.Wait()
}

// ArchiveMode runs one archive sweep and exits. Intended to be scheduled
// externally (cron).
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting archive mode")

	if deps.Archiver == nil {
		return fmt.Errorf("archive mode: archiver not wired (postgres and s3 required)")
	}
	return a.archiveOnce(ctx, deps)
}

// demoSeedAmount is minted per token to every demo principal.
var demoSeedAmount = decimal.NewFromInt(1_000_000)

// seedDemoLedger mints starting balances for every configured principal and
// grants the engine an unlimited allowance so settlements succeed.
func (a *App) seedDemoLedger(ctx context.Context, deps *Dependencies) {
	principals := make(map[string]bool)
	for _, p := range a.cfg.Auth.APIKeys {
		principals[p] = true
	}
	for p := range a.cfg.Auth.Roles {
		principals[p] = true
	}
	if len(principals) == 0 {
		principals["alice"] = true
		principals["bob"] = true
	}
	delete(principals, systemPrincipal)

	allowance := demoSeedAmount.Mul(decimal.NewFromInt(1000))
	for principal := range principals {
		for _, token := range a.cfg.Venue.Whitelist {
			if err := deps.MemLedger.Mint(ctx, token, principal, demoSeedAmount); err != nil {
				a.logger.WarnContext(ctx, "demo seed mint failed",
					slog.String("principal", principal),
					slog.String("token", token),
					slog.String("error", err.Error()),
				)
				continue
			}
			if err := deps.MemLedger.Approve(ctx, token, principal, a.cfg.Venue.EngineAccount, allowance); err != nil {
				a.logger.WarnContext(ctx, "demo seed approve failed",
					slog.String("principal", principal),
					slog.String("token", token),
					slog.String("error", err.Error()),
				)
			}
		}
	}
	a.logger.InfoContext(ctx, "demo ledger seeded",
		slog.Int("principals", len(principals)),
		slog.Int("tokens", len(a.cfg.Venue.Whitelist)),
		slog.String("amount", demoSeedAmount.String()),
	)
}

// runArchiveSweep periodically moves settled history older than the retention
// window to object storage. A distributed lock keeps concurrent replicas from
// double-archiving.
func (a *App) runArchiveSweep(ctx context.Context, deps *Dependencies) error {
	interval := a.cfg.Archive.SweepInterval.Duration
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := a.archiveOnce(ctx, deps); err != nil {
				a.logger.ErrorContext(ctx, "archive sweep failed", slog.String("error", err.Error()))
			}
		}
	}
}

// archiveOnce performs a single archive pass under the distributed lock, when
// one is available.
func (a *App) archiveOnce(ctx context.Context, deps *Dependencies) error {
	if deps.LockManager != nil {
		release, err := deps.LockManager.Acquire(ctx, "archive:sweep", 10*time.Minute)
		if err != nil {
			if errors.Is(err, domain.ErrLockHeld) {
				a.logger.InfoContext(ctx, "archive sweep already running elsewhere, skipping")
				return nil
			}
			return fmt.Errorf("archive lock: %w", err)
		}
		defer release()
	}

	before := time.Now().UTC().AddDate(0, 0, -a.cfg.Archive.RetentionDays)

	trades, err := deps.Archiver.ArchiveTrades(ctx, before)
	if err != nil {
		return fmt.Errorf("archive trades: %w", err)
	}
	offers, err := deps.Archiver.ArchiveOffers(ctx, before)
	if err != nil {
		return fmt.Errorf("archive offers: %w", err)
	}

	a.logger.InfoContext(ctx, "archive sweep complete",
		slog.Time("before", before),
		slog.Int64("trades", trades),
		slog.Int64("offers", offers),
	)
	return nil
}

// startHTTPServer adds the HTTP server goroutines to the errgroup. The server
// is shut down gracefully when the context is cancelled.
func (a *App) startHTTPServer(
	ctx context.Context,
	g *errgroup.Group,
	deps *Dependencies,
	c *core,
	hub *ws.Hub,
) {
	handlers := server.Handlers{
		Health: handler.NewHealthHandler(c.settlement, a.logger),
		Offers: handler.NewOfferHandler(c.settlement, a.logger),
		Prices: handler.NewPriceHandler(c.oracle, a.logger),
		Admin:  handler.NewAdminHandler(c.settlement, c.oracle, deps.Feeds, deps.ArchiveReader, a.logger),
		Stats:  handler.NewStatsHandler(c.settlement, a.logger),
	}

	srv := server.NewServer(server.Config{
		Port:            a.cfg.Server.Port,
		CORSOrigins:     a.cfg.Server.CORSOrigins,
		APIKeys:         a.cfg.Auth.APIKeys,
		RateLimiter:     deps.RateLimiter,
		RateLimit:       a.cfg.Server.RateLimit,
		RateLimitWindow: a.cfg.Server.RateLimitWindow.Duration,
	}, handlers, hub, a.logger)

	g.Go(srv.Start)

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

// ignoreCancel maps context cancellation to a clean exit so a normal shutdown
// does not surface as an error from the errgroup.
func ignoreCancel(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
