package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/amirhosseinsharififard/arbitrage-sub001/internal/cache/redis"
	"github.com/amirhosseinsharififard/arbitrage-sub001/internal/console"
	"github.com/amirhosseinsharififard/arbitrage-sub001/internal/domain"
	"github.com/amirhosseinsharififard/arbitrage-sub001/internal/exchange/mexc"
	"github.com/amirhosseinsharififard/arbitrage-sub001/internal/history"
	"github.com/amirhosseinsharififard/arbitrage-sub001/internal/server"
	"github.com/amirhosseinsharififard/arbitrage-sub001/internal/server/handler"
	"github.com/amirhosseinsharififard/arbitrage-sub001/internal/server/ws"
	"github.com/amirhosseinsharififard/arbitrage-sub001/internal/trader"
)

// tradeLockTTL bounds how long a crashed trader keeps its symbol locked. The
// lock manager keeps refreshing the TTL while the process lives.
const tradeLockTTL = 30 * time.Second

// MonitorMode runs the watch loop read-only: quotes are sampled, legs are
// scored, and snapshots are published, but the ledger never opens a position.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startCore(ctx, g, deps, false)
	return g.Wait()
}

// TradeMode runs the watch loop with position transitions enabled. The
// per-symbol lock guarantees a single trading process per symbol even when
// several watcher instances share the same Redis.
func (a *App) TradeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting trade mode")

	unlock, err := a.prepareTrading(ctx, deps)
	if err != nil {
		return fmt.Errorf("trade mode: %w", err)
	}
	defer unlock()

	g, ctx := errgroup.WithContext(ctx)
	a.startCore(ctx, g, deps, true)
	return g.Wait()
}

// FullMode is TradeMode plus the quote-history recorder with its retention
// and archival maintenance.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	unlock, err := a.prepareTrading(ctx, deps)
	if err != nil {
		return fmt.Errorf("full mode: %w", err)
	}
	defer unlock()

	g, ctx := errgroup.WithContext(ctx)
	a.startCore(ctx, g, deps, true)

	if a.cfg.History.Enabled && deps.Bus != nil && deps.History != nil {
		var archiver domain.Archiver
		if a.cfg.History.ArchiveEnabled {
			archiver = deps.Archiver
		}
		rec := history.NewRecorder(deps.Bus, deps.History, archiver, history.Config{
			BatchSize:       a.cfg.History.BatchSize,
			FlushInterval:   a.cfg.History.FlushInterval.Duration,
			RetentionDays:   a.cfg.History.RetentionDays,
			ArchiveInterval: a.cfg.History.ArchiveInterval.Duration,
		}, a.base)
		g.Go(func() error {
			return rec.Run(ctx)
		})
	} else if a.cfg.History.Enabled {
		a.logger.WarnContext(ctx, "history recorder disabled: requires redis and postgres")
	}

	return g.Wait()
}

// prepareTrading verifies the venues answer and takes the per-symbol trade
// lock. The returned release is a no-op when no lock manager is wired.
func (a *App) prepareTrading(ctx context.Context, deps *Dependencies) (func(), error) {
	if err := a.verifySources(ctx, deps.Sources); err != nil {
		return nil, err
	}
	if deps.Locks == nil {
		return func() {}, nil
	}

	key := redis.TradeLockKey(a.cfg.App.Symbol)
	unlock, err := deps.Locks.Acquire(ctx, key, tradeLockTTL)
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			return nil, fmt.Errorf("another trader already holds %s", key)
		}
		return nil, fmt.Errorf("acquire trade lock: %w", err)
	}
	a.logger.InfoContext(ctx, "trade lock acquired", slog.String("key", key))
	return unlock, nil
}

// verifySources proves every venue answers for the configured symbol before
// any position can open. MEXC credentials are exercised when configured.
func (a *App) verifySources(ctx context.Context, sources map[string]domain.QuoteFetcher) error {
	for id, src := range sources {
		if c, ok := src.(*mexc.Client); ok && c.Signed() {
			if err := c.VerifyCredentials(ctx); err != nil {
				return fmt.Errorf("verify %s credentials: %w", id, err)
			}
		}
		if _, err := src.FetchQuote(ctx, a.cfg.App.Symbol); err != nil {
			return fmt.Errorf("verify %s: %w", id, err)
		}
	}
	a.logger.InfoContext(ctx, "sources verified",
		slog.Int("sources", len(sources)),
		slog.String("symbol", a.cfg.App.Symbol),
	)
	return nil
}

// startCore launches the subsystems every mode shares: the cache sweeper, the
// trader loop, and, when enabled, the dashboard server with its websocket hub.
func (a *App) startCore(ctx context.Context, g *errgroup.Group, deps *Dependencies, trading bool) {
	var hub *ws.Hub
	if a.cfg.Server.Enabled {
		hub = ws.NewHub(deps.Bus, a.base, ws.Config{
			Mode:      a.cfg.App.Mode,
			Symbol:    a.cfg.App.Symbol,
			StartedAt: time.Now().UTC(),
		})
		g.Go(func() error {
			return hub.Run(ctx)
		})
	}

	td := trader.Deps{
		Cache:    deps.Cache,
		Engine:   deps.Engine,
		Ledger:   deps.Ledger,
		Sources:  deps.Sources,
		TradeLog: deps.TradeLog,
		Trades:   deps.Trades,
		Bus:      deps.Bus,
		Mirror:   deps.Mirror,
		Notifier: deps.Notifier,
	}
	if a.cfg.Console.Enabled {
		td.Console = console.NewReporter(os.Stdout, a.cfg.Console.Colors)
	}
	// A nil *ws.Hub stored in the interface field would slip past the
	// trader's nil check and panic on broadcast.
	if hub != nil {
		td.Hub = hub
	}

	tr := trader.New(trader.Config{
		Symbol:         a.cfg.App.Symbol,
		TickInterval:   a.cfg.App.TickInterval.Duration,
		TradingEnabled: trading,
	}, td, a.base)

	g.Go(func() error {
		return deps.Cache.Run(ctx)
	})
	g.Go(func() error {
		return tr.Run(ctx)
	})

	if a.cfg.Server.Enabled {
		a.startServer(ctx, g, deps, tr, hub)
	}
}

// startServer adds the dashboard HTTP server to the group and shuts it down
// gracefully when the context ends.
func (a *App) startServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, tr *trader.Trader, hub *ws.Hub) {
	handlers := server.Handlers{
		Health:        handler.NewHealthHandler(deps.HealthChecks),
		Status:        handler.NewStatusHandler(a.cfg.App.Mode, a.cfg.App.Symbol, time.Now().UTC(), tr, deps.Cache.Stats),
		Quotes:        handler.NewQuotesHandler(tr),
		Opportunities: handler.NewOpportunitiesHandler(tr),
		Trades:        handler.NewTradesHandler(deps.Trades, a.base),
		Archives:      handler.NewArchivesHandler(deps.BlobReader, a.cfg.S3.Prefix, a.base),
	}

	srv := server.NewServer(server.Config{
		Port:            a.cfg.Server.Port,
		CORSOrigins:     a.cfg.Server.CORSOrigins,
		APIKey:          a.cfg.Server.APIKey,
		RateLimitPerMin: a.cfg.Server.RateLimitPerMin,
	}, handlers, hub, deps.RateLimiter, a.base)

	g.Go(func() error {
		return srv.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
