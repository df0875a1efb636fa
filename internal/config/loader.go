package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies OTC_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known OTC_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Venue ──
	setStr(&cfg.Venue.EngineAccount, "OTC_VENUE_ENGINE_ACCOUNT")
	setStr(&cfg.Venue.FeeAccount, "OTC_VENUE_FEE_ACCOUNT")
	setStringSlice(&cfg.Venue.Whitelist, "OTC_VENUE_WHITELIST")
	setDuration(&cfg.Venue.ExpirySweepInterval, "OTC_VENUE_EXPIRY_SWEEP_INTERVAL")

	// ── EVM ──
	setBool(&cfg.EVM.Enabled, "OTC_EVM_ENABLED")
	setStr(&cfg.EVM.RPCURL, "OTC_EVM_RPC_URL")
	setInt64(&cfg.EVM.ChainID, "OTC_EVM_CHAIN_ID")
	setStr(&cfg.EVM.PrivateKey, "OTC_EVM_PRIVATE_KEY")

	// ── Oracle ──
	setDuration(&cfg.Oracle.UpdateInterval, "OTC_ORACLE_UPDATE_INTERVAL")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "OTC_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "OTC_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "OTC_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "OTC_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "OTC_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "OTC_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "OTC_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "OTC_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "OTC_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "OTC_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "OTC_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "OTC_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "OTC_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "OTC_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "OTC_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "OTC_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "OTC_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "OTC_S3_REGION")
	setStr(&cfg.S3.Bucket, "OTC_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "OTC_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "OTC_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "OTC_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "OTC_S3_FORCE_PATH_STYLE")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "OTC_ARCHIVE_ENABLED")
	setInt(&cfg.Archive.RetentionDays, "OTC_ARCHIVE_RETENTION_DAYS")
	setDuration(&cfg.Archive.SweepInterval, "OTC_ARCHIVE_SWEEP_INTERVAL")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "OTC_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "OTC_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "OTC_SERVER_CORS_ORIGINS")
	setInt(&cfg.Server.RateLimit, "OTC_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateLimitWindow, "OTC_SERVER_RATE_LIMIT_WINDOW")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "OTC_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "OTC_NOTIFY_TELEGRAM_CHAT_ID")
	setStringSlice(&cfg.Notify.WebhookURLs, "OTC_NOTIFY_WEBHOOK_URLS")
	setStringSlice(&cfg.Notify.Events, "OTC_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "OTC_MODE")
	setStr(&cfg.LogLevel, "OTC_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
