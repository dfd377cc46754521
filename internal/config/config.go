// Package config defines the top-level configuration for the arbitrage
// watcher and provides validation helpers.
package config

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by ARB_* environment variables.
type Config struct {
	App         AppConfig               `toml:"app"`
	Cache       CacheConfig             `toml:"cache"`
	Thresholds  ThresholdsConfig        `toml:"thresholds"`
	Sizing      SizingConfig            `toml:"sizing"`
	Sources     map[string]SourceConfig `toml:"sources"`
	Postgres    PostgresConfig          `toml:"postgres"`
	Redis       RedisConfig             `toml:"redis"`
	S3          S3Config                `toml:"s3"`
	Server      ServerConfig            `toml:"server"`
	Notify      NotifyConfig            `toml:"notify"`
	History     HistoryConfig           `toml:"history"`
	Console     ConsoleConfig           `toml:"console"`
	Credentials CredentialsConfig       `toml:"credentials"`
}

// AppConfig holds the process-wide parameters.
type AppConfig struct {
	Mode         string   `toml:"mode"` // monitor, trade, full
	Symbol       string   `toml:"symbol"`
	TickInterval duration `toml:"tick_interval"`
	LogLevel     string   `toml:"log_level"`
	LogFormat    string   `toml:"log_format"` // text or json
}

// CacheConfig holds the quote cache's refresh-queue and retention parameters.
type CacheConfig struct {
	QueueBatchSize int      `toml:"queue_batch_size"`
	MaxInFlight    int      `toml:"max_in_flight"`
	Retention      duration `toml:"retention"`
	SweepInterval  duration `toml:"sweep_interval"`
}

// ThresholdsConfig holds the open/close decision thresholds in percent.
type ThresholdsConfig struct {
	OpenPercent     float64 `toml:"open_percent"`
	ClosePercent    float64 `toml:"close_percent"`
	StopLossEnabled bool    `toml:"stop_loss_enabled"`
	MaxLossPercent  float64 `toml:"max_loss_percent"`
}

// SizingConfig holds position sizing parameters.
type SizingConfig struct {
	InvestmentPerSideUSD float64 `toml:"investment_per_side_usd"`
	MaxTrades            int     `toml:"max_trades"` // 0 = unlimited
	UseOrderBookVolume   bool    `toml:"use_order_book_volume"`
}

// SourceConfig holds one market-data source. The map key in Config.Sources is
// the source id used everywhere else (cache keys, opportunity legs, fees).
type SourceConfig struct {
	Kind            string   `toml:"kind"` // mexc, lbank, uniswap
	Enabled         bool     `toml:"enabled"`
	RefreshInterval duration `toml:"refresh_interval"`
	MaxAge          duration `toml:"max_age"`
	FeesPercent     float64  `toml:"fees_percent"`
	BaseURL         string   `toml:"base_url"`

	// CEX credentials: optional, only needed for signed endpoints. Either
	// inline (api_key/api_secret, normally injected via env) or sealed in
	// an encrypted credentials file.
	APIKey          string `toml:"api_key"`
	APISecret       string `toml:"api_secret"`
	CredentialsFile string `toml:"credentials_file"`

	// DEX (uniswap) parameters.
	RPCURL        string `toml:"rpc_url"`
	PairAddress   string `toml:"pair_address"`
	BaseIsToken0  bool   `toml:"base_is_token0"`
	BaseDecimals  int    `toml:"base_decimals"`
	QuoteDecimals int    `toml:"quote_decimals"`
}

// PostgresConfig holds PostgreSQL connection parameters for the trade log and
// quote history. Optional: with enabled=false trades are logged to slog only.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
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

// RedisConfig holds Redis connection parameters for the signal bus, quote
// mirror, trader lock, and API rate limiting. Optional.
type RedisConfig struct {
	Enabled      bool   `toml:"enabled"`
	Addr         string `toml:"addr"`
	Password     string `toml:"password"`
	DB           int    `toml:"db"`
	PoolSize     int    `toml:"pool_size"`
	MaxRetries   int    `toml:"max_retries"`
	TLSEnabled   bool   `toml:"tls_enabled"`
	StreamMaxLen int    `toml:"stream_max_len"`
}

// S3Config holds S3-compatible object storage parameters for archival.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	Prefix         string `toml:"prefix"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ServerConfig holds HTTP/WebSocket dashboard server parameters.
type ServerConfig struct {
	Enabled         bool     `toml:"enabled"`
	Port            int      `toml:"port"`
	CORSOrigins     []string `toml:"cors_origins"`
	APIKey          string   `toml:"api_key"`            // empty = auth disabled
	RateLimitPerMin int      `toml:"rate_limit_per_min"` // 0 = disabled; needs redis
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// HistoryConfig holds the quote-history recorder parameters. Requires
// Postgres and Redis; archival additionally requires S3.
type HistoryConfig struct {
	Enabled         bool     `toml:"enabled"`
	BatchSize       int      `toml:"batch_size"`
	FlushInterval   duration `toml:"flush_interval"`
	RetentionDays   int      `toml:"retention_days"`
	ArchiveEnabled  bool     `toml:"archive_enabled"`
	ArchiveInterval duration `toml:"archive_interval"`
}

// ConsoleConfig controls the colorized terminal reporter.
type ConsoleConfig struct {
	Enabled bool `toml:"enabled"`
	Colors  bool `toml:"colors"`
}

// CredentialsConfig holds the passphrase for sealed credential files. The
// passphrase is expected via ARB_CREDENTIALS_KEY_PASSWORD, never in TOML.
type CredentialsConfig struct {
	KeyPassword string `toml:"key_password"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "50ms", "5m").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "50ms" or "5m".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with the watcher's stock setup: the
// DEBT_USDT instrument sampled from MEXC and LBank, monitor mode, no
// external infrastructure.
func Defaults() Config {
	return Config{
		App: AppConfig{
			Mode:         "monitor",
			Symbol:       "DEBT_USDT",
			TickInterval: duration{50 * time.Millisecond},
			LogLevel:     "info",
			LogFormat:    "text",
		},
		Cache: CacheConfig{
			QueueBatchSize: 5,
			MaxInFlight:    10,
			Retention:      duration{5 * time.Minute},
			SweepInterval:  duration{30 * time.Second},
		},
		Thresholds: ThresholdsConfig{
			OpenPercent:     1.5,
			ClosePercent:    1.0,
			StopLossEnabled: false,
			MaxLossPercent:  -5.0,
		},
		Sizing: SizingConfig{
			InvestmentPerSideUSD: 100.0,
			MaxTrades:            0,
			UseOrderBookVolume:   false,
		},
		Sources: map[string]SourceConfig{
			"mexc": {
				Kind:            "mexc",
				Enabled:         true,
				RefreshInterval: duration{50 * time.Millisecond},
				MaxAge:          duration{100 * time.Millisecond},
				FeesPercent:     0.05,
				BaseURL:         "https://api.mexc.com",
			},
			"lbank": {
				Kind:            "lbank",
				Enabled:         true,
				RefreshInterval: duration{100 * time.Millisecond},
				MaxAge:          duration{200 * time.Millisecond},
				FeesPercent:     0.04,
				BaseURL:         "https://api.lbkex.com",
			},
			"uniswap": {
				Kind:            "uniswap",
				Enabled:         false,
				RefreshInterval: duration{50 * time.Millisecond},
				MaxAge:          duration{100 * time.Millisecond},
				FeesPercent:     0.30,
				BaseIsToken0:    true,
				BaseDecimals:    18,
				QuoteDecimals:   6,
			},
		},
		Postgres: PostgresConfig{
			Enabled:       false,
			Host:          "localhost",
			Port:          5432,
			Database:      "arbitrage",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Enabled:      false,
			Addr:         "localhost:6379",
			DB:           0,
			PoolSize:     20,
			MaxRetries:   3,
			TLSEnabled:   false,
			StreamMaxLen: 10000,
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "arbitrage-data",
			Prefix:         "history",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Server: ServerConfig{
			Enabled:     false,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
		},
		Notify: NotifyConfig{
			Events: []string{"position_open", "position_close", "source_down"},
		},
		History: HistoryConfig{
			Enabled:         false,
			BatchSize:       200,
			FlushInterval:   duration{5 * time.Second},
			RetentionDays:   14,
			ArchiveEnabled:  false,
			ArchiveInterval: duration{6 * time.Hour},
		},
		Console: ConsoleConfig{
			Enabled: true,
			Colors:  true,
		},
	}
}

// validModes enumerates the accepted values for App.Mode.
var validModes = map[string]bool{
	"monitor": true,
	"trade":   true,
	"full":    true,
}

// validLogLevels enumerates the accepted values for App.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// validSourceKinds enumerates the supported market-data source kinds.
var validSourceKinds = map[string]bool{
	"mexc":    true,
	"lbank":   true,
	"uniswap": true,
}

// Validate checks Config for invalid or missing values and returns a combined
// error describing every problem found. Validation runs once at startup; a
// failure here is the only fatal configuration path.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.App.Mode)] {
		errs = append(errs, fmt.Sprintf("app: unknown mode %q (valid: monitor, trade, full)", c.App.Mode))
	}
	if !validLogLevels[strings.ToLower(c.App.LogLevel)] {
		errs = append(errs, fmt.Sprintf("app: unknown log_level %q (valid: debug, info, warn, error)", c.App.LogLevel))
	}
	if c.App.LogFormat != "text" && c.App.LogFormat != "json" {
		errs = append(errs, fmt.Sprintf("app: unknown log_format %q (valid: text, json)", c.App.LogFormat))
	}
	if strings.TrimSpace(c.App.Symbol) == "" {
		errs = append(errs, "app: symbol must not be empty")
	}
	if c.App.TickInterval.Duration <= 0 {
		errs = append(errs, "app: tick_interval must be positive")
	}

	if c.Cache.QueueBatchSize < 1 {
		errs = append(errs, "cache: queue_batch_size must be >= 1")
	}
	if c.Cache.MaxInFlight < c.Cache.QueueBatchSize {
		errs = append(errs, "cache: max_in_flight must be >= queue_batch_size")
	}
	if c.Cache.Retention.Duration <= 0 {
		errs = append(errs, "cache: retention must be positive")
	}
	if c.Cache.SweepInterval.Duration <= 0 {
		errs = append(errs, "cache: sweep_interval must be positive")
	}

	if c.Thresholds.ClosePercent > c.Thresholds.OpenPercent {
		errs = append(errs, fmt.Sprintf("thresholds: close_percent %.3f must not exceed open_percent %.3f",
			c.Thresholds.ClosePercent, c.Thresholds.OpenPercent))
	}
	if c.Thresholds.StopLossEnabled && c.Thresholds.MaxLossPercent >= 0 {
		errs = append(errs, "thresholds: max_loss_percent must be negative when stop_loss_enabled")
	}

	if c.Sizing.InvestmentPerSideUSD <= 0 {
		errs = append(errs, "sizing: investment_per_side_usd must be > 0")
	}
	if c.Sizing.MaxTrades < 0 {
		errs = append(errs, "sizing: max_trades must be >= 0")
	}

	enabled := 0
	for id, src := range c.Sources {
		if !validSourceKinds[src.Kind] {
			errs = append(errs, fmt.Sprintf("sources.%s: unknown kind %q (valid: mexc, lbank, uniswap)", id, src.Kind))
		}
		if !src.Enabled {
			continue
		}
		enabled++
		if src.RefreshInterval.Duration <= 0 {
			errs = append(errs, fmt.Sprintf("sources.%s: refresh_interval must be positive", id))
		}
		if src.MaxAge.Duration <= 0 {
			errs = append(errs, fmt.Sprintf("sources.%s: max_age must be positive", id))
		}
		if src.FeesPercent < 0 {
			errs = append(errs, fmt.Sprintf("sources.%s: fees_percent must be >= 0", id))
		}
		switch src.Kind {
		case "mexc", "lbank":
			if src.BaseURL == "" {
				errs = append(errs, fmt.Sprintf("sources.%s: base_url must not be empty", id))
			}
			if src.CredentialsFile != "" && c.Credentials.KeyPassword == "" {
				errs = append(errs, fmt.Sprintf("sources.%s: credentials.key_password is required when credentials_file is set", id))
			}
		case "uniswap":
			if src.RPCURL == "" {
				errs = append(errs, fmt.Sprintf("sources.%s: rpc_url must not be empty", id))
			}
			if !isHexAddress(src.PairAddress) {
				errs = append(errs, fmt.Sprintf("sources.%s: pair_address %q is not a hex address", id, src.PairAddress))
			}
			if src.BaseDecimals <= 0 || src.QuoteDecimals <= 0 {
				errs = append(errs, fmt.Sprintf("sources.%s: base_decimals and quote_decimals must be positive", id))
			}
		}
	}
	if enabled < 2 {
		errs = append(errs, fmt.Sprintf("sources: at least two sources must be enabled to compare venues, got %d", enabled))
	}

	if c.Postgres.Enabled {
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
		if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must be between 0 and pool_max_conns")
		}
	}

	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
	}

	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimitPerMin > 0 && !c.Redis.Enabled {
			errs = append(errs, "server: rate_limit_per_min requires redis.enabled")
		}
	}

	if c.History.Enabled {
		if !c.Postgres.Enabled {
			errs = append(errs, "history: requires postgres.enabled")
		}
		if !c.Redis.Enabled {
			errs = append(errs, "history: requires redis.enabled")
		}
		if c.History.BatchSize < 1 {
			errs = append(errs, "history: batch_size must be >= 1")
		}
		if c.History.FlushInterval.Duration <= 0 {
			errs = append(errs, "history: flush_interval must be positive")
		}
		if c.History.ArchiveEnabled && !c.S3.Enabled {
			errs = append(errs, "history: archive_enabled requires s3.enabled")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// EnabledSourceIDs returns the ids of all enabled sources in sorted order, so
// every consumer sees the same deterministic enumeration.
func (c *Config) EnabledSourceIDs() []string {
	ids := make([]string, 0, len(c.Sources))
	for id, src := range c.Sources {
		if src.Enabled {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// FeesBySource returns the per-source fee schedule for enabled sources.
func (c *Config) FeesBySource() map[string]float64 {
	fees := make(map[string]float64, len(c.Sources))
	for id, src := range c.Sources {
		if src.Enabled {
			fees[id] = src.FeesPercent
		}
	}
	return fees
}

func isHexAddress(s string) bool {
	if !strings.HasPrefix(s, "0x") || len(s) != 42 {
		return false
	}
	for _, r := range s[2:] {
		ok := (r >= '0' && r <= '9') || (r >= 'a' && r <= 'f') || (r >= 'A' && r <= 'F')
		if !ok {
			return false
		}
	}
	return true
}
