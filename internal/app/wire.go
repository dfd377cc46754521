package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/amirhosseinsharififard/arbitrage-sub001/internal/blob/s3"
	"github.com/amirhosseinsharififard/arbitrage-sub001/internal/cache/redis"
	"github.com/amirhosseinsharififard/arbitrage-sub001/internal/config"
	"github.com/amirhosseinsharififard/arbitrage-sub001/internal/crypto"
	"github.com/amirhosseinsharififard/arbitrage-sub001/internal/domain"
	"github.com/amirhosseinsharififard/arbitrage-sub001/internal/engine"
	"github.com/amirhosseinsharififard/arbitrage-sub001/internal/exchange"
	"github.com/amirhosseinsharififard/arbitrage-sub001/internal/ledger"
	"github.com/amirhosseinsharififard/arbitrage-sub001/internal/notify"
	"github.com/amirhosseinsharififard/arbitrage-sub001/internal/quotecache"
	"github.com/amirhosseinsharififard/arbitrage-sub001/internal/server/handler"
	"github.com/amirhosseinsharififard/arbitrage-sub001/internal/store/postgres"
)

// Dependencies bundles everything the application modes need to operate. It
// is constructed by Wire and torn down by the returned cleanup function.
// Optional backends (postgres, redis, s3) leave their fields nil when
// disabled; consumers degrade per field.
type Dependencies struct {
	// Market data
	Sources map[string]domain.QuoteFetcher
	Cache   *quotecache.Cache

	// Decisioning
	Engine *engine.Engine
	Ledger *ledger.Ledger

	// Stores
	TradeLog domain.TradeLog
	Trades   domain.ClosedTradeStore
	History  domain.QuoteHistoryStore

	// Redis
	Bus         domain.SignalBus
	Mirror      domain.QuoteMirror
	RateLimiter domain.RateLimiter
	Locks       domain.LockManager

	// Blob storage
	BlobReader domain.BlobReader
	Archiver   domain.Archiver

	// Notifications
	Notifier *notify.Notifier

	// Liveness probes for /api/health, keyed by backend name.
	HealthChecks map[string]handler.HealthCheckFn
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{
		HealthChecks: make(map[string]handler.HealthCheckFn),
	}

	// --- Market-data sources ---
	sources, policies, err := buildSources(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	deps.Sources = sources

	deps.Cache = quotecache.New(policies, quotecache.Config{
		QueueBatchSize: cfg.Cache.QueueBatchSize,
		MaxInFlight:    cfg.Cache.MaxInFlight,
		Retention:      cfg.Cache.Retention.Duration,
		SweepInterval:  cfg.Cache.SweepInterval.Duration,
	}, logger)

	deps.Engine = engine.New(cfg.Thresholds.OpenPercent)

	deps.Ledger = ledger.New(ledger.Config{
		OpenThresholdPercent:  cfg.Thresholds.OpenPercent,
		CloseThresholdPercent: cfg.Thresholds.ClosePercent,
		StopLossEnabled:       cfg.Thresholds.StopLossEnabled,
		MaxLossPercent:        cfg.Thresholds.MaxLossPercent,
		InvestmentPerSideUSD:  cfg.Sizing.InvestmentPerSideUSD,
		MaxTrades:             cfg.Sizing.MaxTrades,
		UseOrderBookVolume:    cfg.Sizing.UseOrderBookVolume,
		FeesPercent:           cfg.FeesBySource(),
	}, depthFnFor(sources), logger)

	// --- PostgreSQL ---
	// The concrete stores are kept around for the archiver, whose trade
	// source needs ListClosedTradesBefore beyond domain.ClosedTradeStore.
	var (
		tradeStore   *postgres.ClosedTradeStore
		historyStore *postgres.QuoteHistoryStore
	)
	if cfg.Postgres.Enabled {
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
		deps.TradeLog = postgres.NewTradeLog(pool)
		tradeStore = postgres.NewClosedTradeStore(pool)
		deps.Trades = tradeStore
		historyStore = postgres.NewQuoteHistoryStore(pool)
		deps.History = historyStore
		deps.HealthChecks["postgres"] = pgClient.Ping
	}

	// --- Redis ---
	if cfg.Redis.Enabled {
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

		deps.Bus = redis.NewSignalBus(redisClient, cfg.Redis.StreamMaxLen)
		deps.Mirror = redis.NewQuoteMirror(redisClient)
		deps.RateLimiter = redis.NewRateLimiter(redisClient, 0, 0)
		deps.Locks = redis.NewLockManager(redisClient)
		deps.HealthChecks["redis"] = redisClient.Ping
	}

	// --- S3 blob storage ---
	if cfg.S3.Enabled {
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

		writer := s3blob.NewWriter(s3Client)
		reader := s3blob.NewReader(s3Client)
		deps.BlobReader = reader
		deps.HealthChecks["s3"] = s3Client.Health

		// Archiver needs both the blob store and the postgres history.
		if tradeStore != nil && historyStore != nil {
			deps.Archiver = s3blob.NewArchiver(writer, reader, tradeStore, historyStore, s3blob.Config{
				Prefix: cfg.S3.Prefix,
				Symbol: cfg.App.Symbol,
			}, logger)
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
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	if len(senders) > 0 {
		deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)
	}

	return deps, cleanup, nil
}

// buildSources constructs one market-data client per enabled source together
// with its cache refresh policy.
func buildSources(ctx context.Context, cfg *config.Config) (map[string]domain.QuoteFetcher, map[string]quotecache.Policy, error) {
	sources := make(map[string]domain.QuoteFetcher, len(cfg.Sources))
	policies := make(map[string]quotecache.Policy, len(cfg.Sources))

	for id, src := range cfg.Sources {
		if !src.Enabled {
			continue
		}

		var creds crypto.Credentials
		if src.APIKey != "" || src.CredentialsFile != "" {
			var err error
			creds, err = crypto.LoadCredentials(crypto.CredentialSource{
				APIKey:     src.APIKey,
				APISecret:  src.APISecret,
				SealedPath: src.CredentialsFile,
				Password:   cfg.Credentials.KeyPassword,
			})
			if err != nil {
				return nil, nil, fmt.Errorf("wire: credentials for source %s: %w", id, err)
			}
		}

		fetcher, err := exchange.Build(ctx, src.Kind, exchange.Options{
			SourceID:      id,
			BaseURL:       src.BaseURL,
			Credentials:   creds,
			RPCURL:        src.RPCURL,
			PairAddress:   src.PairAddress,
			BaseIsToken0:  src.BaseIsToken0,
			BaseDecimals:  src.BaseDecimals,
			QuoteDecimals: src.QuoteDecimals,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("wire: build source %s: %w", id, err)
		}

		sources[id] = fetcher
		policies[id] = quotecache.Policy{
			RefreshInterval: src.RefreshInterval.Duration,
			MaxAge:          src.MaxAge.Duration,
		}
	}

	if len(sources) == 0 {
		return nil, nil, fmt.Errorf("wire: no sources enabled")
	}
	return sources, policies, nil
}

// depthFnFor adapts the source map into the ledger's depth lookup. Sources
// without an order-book endpoint (the DEX pool) report an error, which the
// ledger treats as depth unknown.
func depthFnFor(sources map[string]domain.QuoteFetcher) ledger.DepthFn {
	return func(ctx context.Context, sourceID, symbol string) (domain.Depth, error) {
		src, ok := sources[sourceID]
		if !ok {
			return domain.Depth{}, fmt.Errorf("app: unknown source %q", sourceID)
		}
		df, ok := src.(domain.DepthFetcher)
		if !ok {
			return domain.Depth{}, fmt.Errorf("app: source %q has no order-book endpoint", sourceID)
		}
		return df.FetchDepth(ctx, symbol)
	}
}
