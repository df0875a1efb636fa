package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())
}

func TestValidateRejectsUnknownMode(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "replay"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown mode "replay"`)
}

func TestValidateOracleFeedReferences(t *testing.T) {
	cfg := Defaults()
	cfg.Feeds = []FeedConfig{
		{Name: "eth-sim", Kind: "sim", StartPrice: decimal.NewFromInt(2450)},
	}
	cfg.Oracle.Tokens = []OracleTokenConfig{
		{Token: "WETH", PrimaryFeed: "eth-sim", MaxStaleness: duration{time.Minute}},
	}
	require.NoError(t, cfg.Validate())

	cfg.Oracle.Tokens[0].PrimaryFeed = "missing"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown feed "missing"`)
}

func TestValidateRequireSecondaryNeedsFeed(t *testing.T) {
	cfg := Defaults()
	cfg.Feeds = []FeedConfig{
		{Name: "eth-sim", Kind: "sim", StartPrice: decimal.NewFromInt(2450)},
	}
	cfg.Oracle.Tokens = []OracleTokenConfig{
		{Token: "WETH", PrimaryFeed: "eth-sim", RequireSecondary: true},
	}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires a secondary feed")
}

func TestValidateChainlinkFeedNeedsAddress(t *testing.T) {
	cfg := Defaults()
	cfg.Feeds = []FeedConfig{{Name: "eth-usd", Kind: "chainlink"}}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chainlink feed requires an address")
}

func TestValidateDuplicateFeedNames(t *testing.T) {
	cfg := Defaults()
	cfg.Feeds = []FeedConfig{
		{Name: "eth", Kind: "sim", StartPrice: decimal.NewFromInt(1)},
		{Name: "eth", Kind: "sim", StartPrice: decimal.NewFromInt(2)},
	}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `duplicate feed name "eth"`)
}

func TestValidateBreakerLimits(t *testing.T) {
	cfg := Defaults()
	cfg.Breakers = []BreakerConfig{{
		Token:       "USDC",
		DailyLimit:  decimal.NewFromInt(1000),
		HourlyLimit: decimal.NewFromInt(5000),
	}}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "hourly_limit must not exceed daily_limit")
}

func TestValidateArchiveModeNeedsS3(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "archive"
	cfg.S3.Endpoint = ""
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "s3: endpoint must not be empty")
}

func TestLoadMergesFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "otcdesk.toml")
	data := `
mode = "demo"

[venue]
engine_account = "engine"
fee_account = "feepool"
whitelist = ["WETH", "USDC"]
expiry_sweep_interval = "10s"

[fees]
base_fee_bps = 30
minimum_fee = "0.05"

[[feeds]]
name = "eth-sim"
kind = "sim"
start_price = "2450"
drift_bps = 20
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	t.Setenv("OTC_SERVER_PORT", "9001")
	t.Setenv("OTC_VENUE_WHITELIST", "WETH, USDC, DAI")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "demo", cfg.Mode)
	assert.Equal(t, int64(30), cfg.Fees.BaseFeeBps)
	assert.True(t, cfg.Fees.MinimumFee.Equal(decimal.RequireFromString("0.05")))
	assert.Equal(t, 10*time.Second, cfg.Venue.ExpirySweepInterval.Duration)
	assert.Equal(t, 9001, cfg.Server.Port)
	assert.Equal(t, []string{"WETH", "USDC", "DAI"}, cfg.Venue.Whitelist)
	require.Len(t, cfg.Feeds, 1)
	assert.Equal(t, "sim", cfg.Feeds[0].Kind)
	assert.True(t, cfg.Feeds[0].StartPrice.Equal(decimal.NewFromInt(2450)))

	require.NoError(t, cfg.Validate())
}

func TestRedactedConfigHidesSecrets(t *testing.T) {
	cfg := Defaults()
	cfg.EVM.PrivateKey = "deadbeef"
	cfg.Postgres.Password = "hunter2"
	cfg.Redis.Password = "hunter2"
	cfg.S3.SecretKey = "hunter2"
	cfg.Notify.TelegramToken = "123:abc"
	cfg.Auth.APIKeys = map[string]string{"key-1": "alice"}

	red := RedactedConfig(&cfg)

	assert.Equal(t, "***", red.EVM.PrivateKey)
	assert.Equal(t, "***", red.Postgres.Password)
	assert.Equal(t, "***", red.Redis.Password)
	assert.Equal(t, "***", red.S3.SecretKey)
	assert.Equal(t, "***", red.Notify.TelegramToken)
	assert.NotContains(t, red.Auth.APIKeys, "key-1")
	assert.Equal(t, "hunter2", cfg.Postgres.Password, "original must be untouched")
}
