package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsAreValid(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "monitor", cfg.App.Mode)
	assert.Equal(t, "DEBT_USDT", cfg.App.Symbol)
	assert.Equal(t, 5, cfg.Cache.QueueBatchSize)
	assert.Equal(t, 10, cfg.Cache.MaxInFlight)
	assert.Equal(t, 5*time.Minute, cfg.Cache.Retention.Duration)

	// Stock policy table: mexc 50ms/100ms, lbank 100ms/200ms.
	assert.Equal(t, 50*time.Millisecond, cfg.Sources["mexc"].RefreshInterval.Duration)
	assert.Equal(t, 100*time.Millisecond, cfg.Sources["mexc"].MaxAge.Duration)
	assert.Equal(t, 100*time.Millisecond, cfg.Sources["lbank"].RefreshInterval.Duration)
	assert.Equal(t, 200*time.Millisecond, cfg.Sources["lbank"].MaxAge.Duration)
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
[app]
mode = "trade"
symbol = "BTC_USDT"
tick_interval = "75ms"

[thresholds]
open_percent = 2.0
close_percent = 0.5

[sources.mexc]
kind = "mexc"
enabled = true
refresh_interval = "40ms"
max_age = "80ms"
fees_percent = 0.1
base_url = "https://api.mexc.com"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "trade", cfg.App.Mode)
	assert.Equal(t, "BTC_USDT", cfg.App.Symbol)
	assert.Equal(t, 75*time.Millisecond, cfg.App.TickInterval.Duration)
	assert.Equal(t, 2.0, cfg.Thresholds.OpenPercent)
	assert.Equal(t, 0.5, cfg.Thresholds.ClosePercent)
	assert.Equal(t, 40*time.Millisecond, cfg.Sources["mexc"].RefreshInterval.Duration)
	assert.Equal(t, 0.1, cfg.Sources["mexc"].FeesPercent)

	// Untouched sections keep their defaults.
	assert.Equal(t, 5, cfg.Cache.QueueBatchSize)
	assert.True(t, cfg.Sources["lbank"].Enabled)
}

func TestLoadOrDefaultsWithoutFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nope.toml")

	cfg, err := LoadOrDefaults(path)
	require.NoError(t, err)
	assert.Equal(t, "monitor", cfg.App.Mode)
	assert.Equal(t, "DEBT_USDT", cfg.App.Symbol)

	// A file that exists goes through the normal merge path.
	require.NoError(t, os.WriteFile(path, []byte("[app]\nsymbol = \"ETH_USDT\"\n"), 0o600))
	cfg, err = LoadOrDefaults(path)
	require.NoError(t, err)
	assert.Equal(t, "ETH_USDT", cfg.App.Symbol)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("ARB_MODE", "full")
	t.Setenv("ARB_THRESHOLDS_OPEN_PERCENT", "3.25")
	t.Setenv("ARB_CACHE_MAX_IN_FLIGHT", "20")
	t.Setenv("ARB_TICK_INTERVAL", "120ms")
	t.Setenv("ARB_MEXC_API_KEY", "k-123")
	t.Setenv("ARB_REDIS_ENABLED", "true")

	cfg := Defaults()
	applyEnvOverrides(&cfg)

	assert.Equal(t, "full", cfg.App.Mode)
	assert.Equal(t, 3.25, cfg.Thresholds.OpenPercent)
	assert.Equal(t, 20, cfg.Cache.MaxInFlight)
	assert.Equal(t, 120*time.Millisecond, cfg.App.TickInterval.Duration)
	assert.Equal(t, "k-123", cfg.Sources["mexc"].APIKey)
	assert.True(t, cfg.Redis.Enabled)
}

func TestValidateRejectsBadConfigs(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{
			name:   "unknown mode",
			mutate: func(c *Config) { c.App.Mode = "yolo" },
			want:   "unknown mode",
		},
		{
			name:   "empty symbol",
			mutate: func(c *Config) { c.App.Symbol = " " },
			want:   "symbol must not be empty",
		},
		{
			name: "batch exceeds in-flight cap",
			mutate: func(c *Config) {
				c.Cache.QueueBatchSize = 16
				c.Cache.MaxInFlight = 8
			},
			want: "max_in_flight",
		},
		{
			name: "close above open threshold",
			mutate: func(c *Config) {
				c.Thresholds.OpenPercent = 1.0
				c.Thresholds.ClosePercent = 2.0
			},
			want: "close_percent",
		},
		{
			name: "stop loss with positive bound",
			mutate: func(c *Config) {
				c.Thresholds.StopLossEnabled = true
				c.Thresholds.MaxLossPercent = 1.0
			},
			want: "max_loss_percent",
		},
		{
			name: "single enabled source",
			mutate: func(c *Config) {
				src := c.Sources["lbank"]
				src.Enabled = false
				c.Sources["lbank"] = src
			},
			want: "at least two sources",
		},
		{
			name: "unknown source kind",
			mutate: func(c *Config) {
				c.Sources["bogus"] = SourceConfig{Kind: "bogus", Enabled: false}
			},
			want: "unknown kind",
		},
		{
			name: "uniswap without rpc url",
			mutate: func(c *Config) {
				src := c.Sources["uniswap"]
				src.Enabled = true
				src.PairAddress = "0x0d4a11d5eeaac28ec3f61d100daf4d40471f1852"
				c.Sources["uniswap"] = src
			},
			want: "rpc_url",
		},
		{
			name: "rate limit without redis",
			mutate: func(c *Config) {
				c.Server.Enabled = true
				c.Server.RateLimitPerMin = 60
			},
			want: "rate_limit_per_min",
		},
		{
			name: "history without postgres",
			mutate: func(c *Config) {
				c.History.Enabled = true
				c.Redis.Enabled = true
			},
			want: "requires postgres.enabled",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Defaults()
			tc.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestEnabledSourceIDsSorted(t *testing.T) {
	cfg := Defaults()
	src := cfg.Sources["uniswap"]
	src.Enabled = true
	cfg.Sources["uniswap"] = src

	assert.Equal(t, []string{"lbank", "mexc", "uniswap"}, cfg.EnabledSourceIDs())
}

func TestFeesBySourceOnlyEnabled(t *testing.T) {
	cfg := Defaults()
	fees := cfg.FeesBySource()

	assert.Equal(t, 0.05, fees["mexc"])
	assert.Equal(t, 0.04, fees["lbank"])
	_, hasUniswap := fees["uniswap"]
	assert.False(t, hasUniswap, "disabled sources carry no fee entry")
}

func TestRedactedMasksSecrets(t *testing.T) {
	cfg := Defaults()
	src := cfg.Sources["mexc"]
	src.APIKey = "mx-key"
	src.APISecret = "mx-secret"
	cfg.Sources["mexc"] = src
	cfg.Postgres.Password = "pg-pass"
	cfg.Redis.Password = "rd-pass"
	cfg.S3.SecretKey = "s3-secret"
	cfg.Server.APIKey = "srv-key"
	cfg.Notify.TelegramToken = "tg-token"
	cfg.Credentials.KeyPassword = "kp"

	red := cfg.Redacted()

	assert.Equal(t, "***", red.Sources["mexc"].APIKey)
	assert.Equal(t, "***", red.Sources["mexc"].APISecret)
	assert.Equal(t, "***", red.Postgres.Password)
	assert.Equal(t, "***", red.Redis.Password)
	assert.Equal(t, "***", red.S3.SecretKey)
	assert.Equal(t, "***", red.Server.APIKey)
	assert.Equal(t, "***", red.Notify.TelegramToken)
	assert.Equal(t, "***", red.Credentials.KeyPassword)

	// Empty fields stay empty rather than gaining a mask.
	assert.Empty(t, red.Postgres.DSN)

	// The original is untouched, including through the sources map.
	assert.Equal(t, "mx-key", cfg.Sources["mexc"].APIKey)
	assert.Equal(t, "pg-pass", cfg.Postgres.Password)
}
