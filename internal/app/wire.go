package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/quantfall/otcdesk/internal/blob/s3"
	"github.com/quantfall/otcdesk/internal/cache/redis"
	"github.com/quantfall/otcdesk/internal/config"
	"github.com/quantfall/otcdesk/internal/domain"
	"github.com/quantfall/otcdesk/internal/notify"
	"github.com/quantfall/otcdesk/internal/platform/evm"
	"github.com/quantfall/otcdesk/internal/platform/memledger"
	"github.com/quantfall/otcdesk/internal/store/postgres"
)

// Dependencies bundles every domain-level dependency the application modes
// need. It is constructed by Wire and torn down by the returned cleanup
// function.
type Dependencies struct {
	// Stores (nil in demo mode)
	OfferStore domain.OfferStore
	TradeStore domain.TradeStore
	AuditStore domain.AuditStore

	// Caches (nil in demo and archive modes)
	PriceCache  domain.PriceCache
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   domain.SignalBus

	// Blob storage (nil unless archiving)
	BlobWriter    domain.BlobWriter
	ArchiveReader domain.ArchiveReader
	Archiver      domain.Archiver

	// Settlement backend
	Ledger    domain.TokenLedger
	MemLedger *memledger.Ledger // non-nil when the in-memory ledger backs settlements
	Feeds     *feedRegistry

	// Notifications
	Notifier *notify.Notifier
}

// needsPostgres returns true for modes that require a database connection.
func needsPostgres(mode string) bool {
	switch mode {
	case "serve", "archive":
		return true
	default:
		return false
	}
}

// needsRedis returns true for modes that require the cache layer.
func needsRedis(mode string) bool {
	return mode == "serve"
}

// needsS3 reports whether object storage must be wired.
func needsS3(cfg *config.Config) bool {
	return cfg.Mode == "archive" || cfg.Archive.Enabled
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	logger := slog.Default()

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- Settlement ledger: on-chain ERC-20 or in-memory ---
	var evmClient *evm.Client
	if cfg.EVM.Enabled {
		client, err := evm.Dial(ctx, evm.ClientConfig{
			RPCURL:     cfg.EVM.RPCURL,
			ChainID:    cfg.EVM.ChainID,
			PrivateKey: cfg.EVM.PrivateKey,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: evm: %w", err)
		}
		closers = append(closers, client.Close)
		evmClient = client

		tokens := make(map[string]evm.TokenConfig, len(cfg.EVM.Tokens))
		for _, t := range cfg.EVM.Tokens {
			tokens[t.Symbol] = evm.TokenConfig{Address: t.Address, Decimals: t.Decimals}
		}
		ledger, err := evm.NewLedger(client, cfg.Venue.EngineAccount, tokens)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: evm ledger: %w", err)
		}
		deps.Ledger = ledger
	} else {
		mem := memledger.New()
		deps.MemLedger = mem
		deps.Ledger = mem
	}

	// --- Price feeds ---
	feeds, err := buildFeeds(cfg.Feeds, evmClient)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: feeds: %w", err)
	}
	deps.Feeds = feeds

	// --- PostgreSQL (only for modes that need persistence) ---
	if needsPostgres(cfg.Mode) {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		pool := pgClient.Pool()
		deps.OfferStore = postgres.NewOfferStore(pool)
		deps.TradeStore = postgres.NewTradeStore(pool)
		deps.AuditStore = postgres.NewAuditStore(pool)
	}

	// --- Redis ---
	if needsRedis(cfg.Mode) {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.PriceCache = redis.NewPriceCache(redisClient)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient)
	}

	// --- S3 blob storage ---
	if needsS3(cfg) {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		deps.BlobWriter = s3blob.NewWriter(s3Client)
		deps.ArchiveReader = s3blob.NewReader(s3Client)

		// Archiver needs the postgres stores as its sources.
		if deps.TradeStore != nil && deps.OfferStore != nil && deps.AuditStore != nil {
			trades := deps.TradeStore.(*postgres.TradeStore)
			offers := deps.OfferStore.(*postgres.OfferStore)
			deps.Archiver = s3blob.NewArchiver(deps.BlobWriter, trades, offers, deps.AuditStore)
		}
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	for _, url := range cfg.Notify.WebhookURLs {
		senders = append(senders, notify.NewWebhookSender(url))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}
