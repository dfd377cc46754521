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
// built-in defaults, applies ARB_* environment variable overrides, and
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

// LoadOrDefaults behaves like Load but falls back to pure defaults plus env
// overrides when the file does not exist, so the watcher can run with no
// config file at all.
func LoadOrDefaults(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := Defaults()
		_ = godotenv.Load()
		applyEnvOverrides(&cfg)
		return &cfg, nil
	}
	return Load(path)
}

// applyEnvOverrides reads well-known ARB_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── App ──
	setStr(&cfg.App.Mode, "ARB_MODE")
	setStr(&cfg.App.Symbol, "ARB_SYMBOL")
	setDuration(&cfg.App.TickInterval, "ARB_TICK_INTERVAL")
	setStr(&cfg.App.LogLevel, "ARB_LOG_LEVEL")
	setStr(&cfg.App.LogFormat, "ARB_LOG_FORMAT")

	// ── Cache ──
	setInt(&cfg.Cache.QueueBatchSize, "ARB_CACHE_QUEUE_BATCH_SIZE")
	setInt(&cfg.Cache.MaxInFlight, "ARB_CACHE_MAX_IN_FLIGHT")
	setDuration(&cfg.Cache.Retention, "ARB_CACHE_RETENTION")
	setDuration(&cfg.Cache.SweepInterval, "ARB_CACHE_SWEEP_INTERVAL")

	// ── Thresholds ──
	setFloat64(&cfg.Thresholds.OpenPercent, "ARB_THRESHOLDS_OPEN_PERCENT")
	setFloat64(&cfg.Thresholds.ClosePercent, "ARB_THRESHOLDS_CLOSE_PERCENT")
	setBool(&cfg.Thresholds.StopLossEnabled, "ARB_THRESHOLDS_STOP_LOSS_ENABLED")
	setFloat64(&cfg.Thresholds.MaxLossPercent, "ARB_THRESHOLDS_MAX_LOSS_PERCENT")

	// ── Sizing ──
	setFloat64(&cfg.Sizing.InvestmentPerSideUSD, "ARB_SIZING_INVESTMENT_PER_SIDE_USD")
	setInt(&cfg.Sizing.MaxTrades, "ARB_SIZING_MAX_TRADES")
	setBool(&cfg.Sizing.UseOrderBookVolume, "ARB_SIZING_USE_ORDER_BOOK_VOLUME")

	// ── Sources (secrets for the well-known ids) ──
	setSourceStr(cfg, "mexc", func(s *SourceConfig) *string { return &s.APIKey }, "ARB_MEXC_API_KEY")
	setSourceStr(cfg, "mexc", func(s *SourceConfig) *string { return &s.APISecret }, "ARB_MEXC_API_SECRET")
	setSourceStr(cfg, "lbank", func(s *SourceConfig) *string { return &s.APIKey }, "ARB_LBANK_API_KEY")
	setSourceStr(cfg, "lbank", func(s *SourceConfig) *string { return &s.APISecret }, "ARB_LBANK_API_SECRET")
	setSourceStr(cfg, "uniswap", func(s *SourceConfig) *string { return &s.RPCURL }, "ARB_UNISWAP_RPC_URL")
	setSourceStr(cfg, "uniswap", func(s *SourceConfig) *string { return &s.PairAddress }, "ARB_UNISWAP_PAIR_ADDRESS")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "ARB_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "ARB_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "ARB_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "ARB_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "ARB_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "ARB_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "ARB_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "ARB_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "ARB_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "ARB_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "ARB_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "ARB_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "ARB_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "ARB_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "ARB_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "ARB_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "ARB_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "ARB_REDIS_TLS_ENABLED")
	setInt(&cfg.Redis.StreamMaxLen, "ARB_REDIS_STREAM_MAX_LEN")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "ARB_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "ARB_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "ARB_S3_REGION")
	setStr(&cfg.S3.Bucket, "ARB_S3_BUCKET")
	setStr(&cfg.S3.Prefix, "ARB_S3_PREFIX")
	setStr(&cfg.S3.AccessKey, "ARB_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "ARB_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "ARB_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "ARB_S3_FORCE_PATH_STYLE")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "ARB_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "ARB_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "ARB_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "ARB_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimitPerMin, "ARB_SERVER_RATE_LIMIT_PER_MIN")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "ARB_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "ARB_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "ARB_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "ARB_NOTIFY_EVENTS")

	// ── History ──
	setBool(&cfg.History.Enabled, "ARB_HISTORY_ENABLED")
	setInt(&cfg.History.BatchSize, "ARB_HISTORY_BATCH_SIZE")
	setDuration(&cfg.History.FlushInterval, "ARB_HISTORY_FLUSH_INTERVAL")
	setInt(&cfg.History.RetentionDays, "ARB_HISTORY_RETENTION_DAYS")
	setBool(&cfg.History.ArchiveEnabled, "ARB_HISTORY_ARCHIVE_ENABLED")
	setDuration(&cfg.History.ArchiveInterval, "ARB_HISTORY_ARCHIVE_INTERVAL")

	// ── Console ──
	setBool(&cfg.Console.Enabled, "ARB_CONSOLE_ENABLED")
	setBool(&cfg.Console.Colors, "ARB_CONSOLE_COLORS")

	// ── Credentials ──
	setStr(&cfg.Credentials.KeyPassword, "ARB_CREDENTIALS_KEY_PASSWORD")
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

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
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

// setSourceStr applies a string override to one field of a named source.
// Sources live in a map, so the entry is copied out, mutated, and stored
// back. Missing sources are skipped: env vars never create new sources.
func setSourceStr(cfg *Config, id string, field func(*SourceConfig) *string, key string) {
	src, ok := cfg.Sources[id]
	if !ok {
		return
	}
	setStr(field(&src), key)
	cfg.Sources[id] = src
}
