// Package config defines the top-level configuration for the OTC desk and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by OTC_* environment variables.
type Config struct {
	Venue    VenueConfig     `toml:"venue"`
	Fees     FeesConfig      `toml:"fees"`
	Auth     AuthConfig      `toml:"auth"`
	EVM      EVMConfig       `toml:"evm"`
	Feeds    []FeedConfig    `toml:"feeds"`
	Oracle   OracleConfig    `toml:"oracle"`
	Breakers []BreakerConfig `toml:"breakers"`
	Postgres PostgresConfig  `toml:"postgres"`
	Redis    RedisConfig     `toml:"redis"`
	S3       S3Config        `toml:"s3"`
	Archive  ArchiveConfig   `toml:"archive"`
	Server   ServerConfig    `toml:"server"`
	Notify   NotifyConfig    `toml:"notify"`
	Mode     string          `toml:"mode"`
	LogLevel string          `toml:"log_level"`
}

// VenueConfig holds settlement engine parameters.
type VenueConfig struct {
	EngineAccount       string   `toml:"engine_account"` // spender identity for settlements
	FeeAccount          string   `toml:"fee_account"`    // receives collected fees
	Whitelist           []string `toml:"whitelist"`      // tokens tradable at startup
	ExpirySweepInterval duration `toml:"expiry_sweep_interval"`
	TWAPWindow          duration `toml:"twap_window"`
	MinTWAPObservations int      `toml:"min_twap_observations"`
}

// FeesConfig holds the initial fee structure.
type FeesConfig struct {
	BaseFeeBps            int64           `toml:"base_fee_bps"`
	VolumeDiscountPerTier int64           `toml:"volume_discount_per_tier_bps"`
	StakingDiscountBps    int64           `toml:"staking_discount_bps"`
	MinimumFee            decimal.Decimal `toml:"minimum_fee"`
	Dynamic               bool            `toml:"dynamic"`
}

// AuthConfig maps API keys to principals and principals to capabilities.
// With no API keys configured, authentication is disabled (demo mode) and
// callers claim a principal via the X-Principal header.
type AuthConfig struct {
	APIKeys map[string]string   `toml:"api_keys"` // key -> principal
	Roles   map[string][]string `toml:"roles"`    // principal -> permissions
}

// EVMConfig holds the on-chain settlement backend parameters. When disabled,
// the venue settles against the in-memory token ledger instead.
type EVMConfig struct {
	Enabled    bool             `toml:"enabled"`
	RPCURL     string           `toml:"rpc_url"`
	ChainID    int64            `toml:"chain_id"`
	PrivateKey string           `toml:"private_key"`
	Tokens     []EVMTokenConfig `toml:"tokens"`
}

// EVMTokenConfig binds a token symbol to its ERC-20 contract.
type EVMTokenConfig struct {
	Symbol   string `toml:"symbol"`
	Address  string `toml:"address"`
	Decimals int32  `toml:"decimals"`
}

// FeedConfig declares a named price feed. Kind "chainlink" reads an on-chain
// aggregator at Address; kind "sim" is a random-walk feed seeded at StartPrice.
type FeedConfig struct {
	Name       string          `toml:"name"`
	Kind       string          `toml:"kind"`
	Address    string          `toml:"address"`
	StartPrice decimal.Decimal `toml:"start_price"`
	DriftBps   int64           `toml:"drift_bps"`
}

// OracleConfig holds the price oracle policies and the background update loop.
type OracleConfig struct {
	UpdateInterval duration            `toml:"update_interval"`
	Tokens         []OracleTokenConfig `toml:"tokens"`
}

// OracleTokenConfig is the per-token validation policy, referencing feeds by
// their configured name.
type OracleTokenConfig struct {
	Token            string          `toml:"token"`
	PrimaryFeed      string          `toml:"primary_feed"`
	SecondaryFeed    string          `toml:"secondary_feed"`
	MaxStaleness     duration        `toml:"max_staleness"`
	DeviationBps     int64           `toml:"deviation_bps"`
	MinPrice         decimal.Decimal `toml:"min_price"`
	MaxPrice         decimal.Decimal `toml:"max_price"`
	Decimals         int             `toml:"decimals"`
	RequireSecondary bool            `toml:"require_secondary"`
}

// BreakerConfig is the per-token circuit-breaker policy.
type BreakerConfig struct {
	Token             string          `toml:"token"`
	DailyLimit        decimal.Decimal `toml:"daily_limit"`
	HourlyLimit       decimal.Decimal `toml:"hourly_limit"`
	MaxPriceImpactBps int64           `toml:"max_price_impact_bps"`
	MaxFailures       int             `toml:"max_failures"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ArchiveConfig holds trade archival parameters.
type ArchiveConfig struct {
	Enabled       bool     `toml:"enabled"`
	RetentionDays int      `toml:"retention_days"`
	SweepInterval duration `toml:"sweep_interval"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled         bool     `toml:"enabled"`
	Port            int      `toml:"port"`
	CORSOrigins     []string `toml:"cors_origins"`
	RateLimit       int      `toml:"rate_limit"` // requests per window; 0 disables
	RateLimitWindow duration `toml:"rate_limit_window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken  string   `toml:"telegram_token"`
	TelegramChatID string   `toml:"telegram_chat_id"`
	WebhookURLs    []string `toml:"webhook_urls"`
	Events         []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Venue: VenueConfig{
			EngineAccount:       "engine",
			FeeAccount:          "feepool",
			Whitelist:           []string{},
			ExpirySweepInterval: duration{30 * time.Second},
			TWAPWindow:          duration{time.Hour},
			MinTWAPObservations: 3,
		},
		Fees: FeesConfig{
			BaseFeeBps:            40,
			VolumeDiscountPerTier: 10,
			StakingDiscountBps:    5,
			MinimumFee:            decimal.RequireFromString("0.01"),
			Dynamic:               false,
		},
		Auth: AuthConfig{
			APIKeys: map[string]string{},
			Roles:   map[string][]string{},
		},
		EVM: EVMConfig{
			Enabled: false,
			ChainID: 1,
		},
		Oracle: OracleConfig{
			UpdateInterval: duration{15 * time.Second},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "otcdesk",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "otcdesk-data",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Archive: ArchiveConfig{
			Enabled:       false,
			RetentionDays: 90,
			SweepInterval: duration{24 * time.Hour},
		},
		Server: ServerConfig{
			Enabled:         true,
			Port:            8000,
			CORSOrigins:     []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:       0,
			RateLimitWindow: duration{time.Minute},
		},
		Notify: NotifyConfig{
			Events: []string{"breaker_tripped", "emergency_price", "settlement_stalled", "paused", "error"},
		},
		Mode:     "serve",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"serve":   true,
	"demo":    true,
	"archive": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// validFeedKinds enumerates the accepted values for FeedConfig.Kind.
var validFeedKinds = map[string]bool{
	"chainlink": true,
	"sim":       true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	// Mode
	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: serve, demo, archive)", c.Mode))
	}

	// LogLevel
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Venue
	if c.Venue.EngineAccount == "" {
		errs = append(errs, "venue: engine_account must not be empty")
	}
	if c.Venue.FeeAccount == "" {
		errs = append(errs, "venue: fee_account must not be empty")
	}
	if c.Venue.ExpirySweepInterval.Duration <= 0 {
		errs = append(errs, "venue: expiry_sweep_interval must be positive")
	}

	// Fees
	if c.Fees.BaseFeeBps < 0 || c.Fees.BaseFeeBps > 1000 {
		errs = append(errs, fmt.Sprintf("fees: base_fee_bps must be 0-1000, got %d", c.Fees.BaseFeeBps))
	}
	if c.Fees.MinimumFee.IsNegative() {
		errs = append(errs, "fees: minimum_fee must not be negative")
	}

	// EVM settings are required only when enabled.
	if c.EVM.Enabled {
		if c.EVM.RPCURL == "" {
			errs = append(errs, "evm: rpc_url is required when evm is enabled")
		}
		if c.EVM.PrivateKey == "" {
			errs = append(errs, "evm: private_key is required when evm is enabled")
		}
		if len(c.EVM.Tokens) == 0 {
			errs = append(errs, "evm: at least one token binding is required when evm is enabled")
		}
		for i, t := range c.EVM.Tokens {
			if t.Symbol == "" || t.Address == "" {
				errs = append(errs, fmt.Sprintf("evm: tokens[%d] must set symbol and address", i))
			}
		}
	}

	// Feeds
	feedNames := make(map[string]bool, len(c.Feeds))
	for i, f := range c.Feeds {
		if f.Name == "" {
			errs = append(errs, fmt.Sprintf("feeds[%d]: name must not be empty", i))
			continue
		}
		if feedNames[f.Name] {
			errs = append(errs, fmt.Sprintf("feeds[%d]: duplicate feed name %q", i, f.Name))
		}
		feedNames[f.Name] = true
		if !validFeedKinds[f.Kind] {
			errs = append(errs, fmt.Sprintf("feeds[%d]: unknown kind %q (valid: chainlink, sim)", i, f.Kind))
		}
		if f.Kind == "chainlink" && f.Address == "" {
			errs = append(errs, fmt.Sprintf("feeds[%d]: chainlink feed requires an address", i))
		}
		if f.Kind == "sim" && !f.StartPrice.IsPositive() {
			errs = append(errs, fmt.Sprintf("feeds[%d]: sim feed requires a positive start_price", i))
		}
	}

	// Oracle policies must reference declared feeds.
	for i, o := range c.Oracle.Tokens {
		if o.Token == "" {
			errs = append(errs, fmt.Sprintf("oracle: tokens[%d] must set token", i))
		}
		if o.PrimaryFeed == "" {
			errs = append(errs, fmt.Sprintf("oracle: tokens[%d] must set primary_feed", i))
		} else if !feedNames[o.PrimaryFeed] {
			errs = append(errs, fmt.Sprintf("oracle: tokens[%d] references unknown feed %q", i, o.PrimaryFeed))
		}
		if o.SecondaryFeed != "" && !feedNames[o.SecondaryFeed] {
			errs = append(errs, fmt.Sprintf("oracle: tokens[%d] references unknown feed %q", i, o.SecondaryFeed))
		}
		if o.RequireSecondary && o.SecondaryFeed == "" {
			errs = append(errs, fmt.Sprintf("oracle: tokens[%d] requires a secondary feed but names none", i))
		}
	}

	// Breakers
	for i, b := range c.Breakers {
		if b.Token == "" {
			errs = append(errs, fmt.Sprintf("breakers[%d]: token must not be empty", i))
		}
		if b.HourlyLimit.GreaterThan(b.DailyLimit) {
			errs = append(errs, fmt.Sprintf("breakers[%d]: hourly_limit must not exceed daily_limit", i))
		}
	}

	// Postgres is required in serve mode.
	if c.Mode == "serve" {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 {
			errs = append(errs, "postgres: pool_min_conns must be >= 0")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// S3 is required when archiving.
	if c.Archive.Enabled || c.Mode == "archive" {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit < 0 {
			errs = append(errs, "server: rate_limit must be >= 0")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
