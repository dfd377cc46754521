// Package trader drives the per-tick control flow: read every source from
// the quote cache, drain one refresh batch, score the snapshot, apply
// ledger transitions, and fan the result out to the observers.
package trader

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/amirhosseinsharififard/arbitrage-sub001/internal/console"
	"github.com/amirhosseinsharififard/arbitrage-sub001/internal/domain"
	"github.com/amirhosseinsharififard/arbitrage-sub001/internal/engine"
	"github.com/amirhosseinsharififard/arbitrage-sub001/internal/ledger"
	"github.com/amirhosseinsharififard/arbitrage-sub001/internal/notify"
	"github.com/amirhosseinsharififard/arbitrage-sub001/internal/quotecache"
)

// Channel and stream names shared with the redis bus and the ws hub.
const (
	channelTicks  = "arb:ticks"
	channelTrades = "arb:trades"
	streamTicks   = "arb:stream:ticks"
	streamTrades  = "arb:stream:trades"
)

// downAfter is the consecutive-failure count that marks a source down and
// triggers the one-shot outage notification.
const downAfter = 5

// Broadcaster fans a payload out to connected websocket clients.
type Broadcaster interface {
	Broadcast(channel string, data []byte)
}

// Config holds the trader's per-run parameters.
type Config struct {
	Symbol       string
	TickInterval time.Duration
	// TradingEnabled applies ledger transitions. Off in monitor mode: the
	// loop still scores and publishes every tick, it just never trades.
	TradingEnabled bool
}

// Deps bundles the trader's collaborators. Cache, Engine, Ledger, and
// Sources are required; everything else may be nil and is skipped.
type Deps struct {
	Cache   *quotecache.Cache
	Engine  *engine.Engine
	Ledger  *ledger.Ledger
	Sources map[string]domain.QuoteFetcher

	TradeLog domain.TradeLog
	Trades   domain.ClosedTradeStore
	Bus      domain.SignalBus
	Mirror   domain.QuoteMirror
	Notifier *notify.Notifier
	Console  *console.Reporter
	Hub      Broadcaster
}

// Trader is the driving loop.
type Trader struct {
	cfg    Config
	deps   Deps
	ids    []string
	fetch  map[string]quotecache.FetchFunc
	logger *slog.Logger
	now    func() time.Time

	snapshot atomic.Pointer[domain.TickSnapshot]

	healthMu sync.Mutex
	failures map[string]int

	busWarned    bool
	mirrorWarned bool
}

func New(cfg Config, deps Deps, logger *slog.Logger) *Trader {
	t := &Trader{
		cfg:      cfg,
		deps:     deps,
		logger:   logger.With(slog.String("component", "trader")),
		now:      time.Now,
		failures: make(map[string]int),
	}

	t.ids = make([]string, 0, len(deps.Sources))
	for id := range deps.Sources {
		t.ids = append(t.ids, id)
	}
	sort.Strings(t.ids)

	t.fetch = make(map[string]quotecache.FetchFunc, len(t.ids))
	for _, id := range t.ids {
		fetcher := deps.Sources[id]
		sourceID := id
		t.fetch[id] = func(ctx context.Context) (domain.Quote, error) {
			q, err := fetcher.FetchQuote(ctx, t.cfg.Symbol)
			t.noteFetchResult(ctx, sourceID, err)
			return q, err
		}
	}
	return t
}

// Snapshot returns the most recent tick snapshot, or nil before the first
// tick completes.
func (t *Trader) Snapshot() *domain.TickSnapshot {
	return t.snapshot.Load()
}

// Run ticks until ctx is cancelled. The first tick runs immediately.
func (t *Trader) Run(ctx context.Context) error {
	t.logger.InfoContext(ctx, "trader started",
		slog.String("symbol", t.cfg.Symbol),
		slog.Duration("tick_interval", t.cfg.TickInterval),
		slog.Bool("trading_enabled", t.cfg.TradingEnabled),
		slog.Int("sources", len(t.ids)))

	ticker := time.NewTicker(t.cfg.TickInterval)
	defer ticker.Stop()

	t.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			t.logger.InfoContext(ctx, "trader stopped")
			return nil
		case <-ticker.C:
			t.tick(ctx)
		}
	}
}

func (t *Trader) tick(ctx context.Context) {
	// Pass 1: non-blocking reads; every stale key enqueues its refresh.
	for _, id := range t.ids {
		t.deps.Cache.Get(id, t.cfg.Symbol, t.fetch[id])
	}

	t.deps.Cache.ProcessQueue(ctx)

	// Pass 2: assemble the snapshot from whatever is now cached. A source
	// with no sample yet is simply absent this tick.
	quotes := make(map[string]domain.Quote, len(t.ids))
	for _, id := range t.ids {
		if q, ok := t.deps.Cache.Get(id, t.cfg.Symbol, t.fetch[id]); ok {
			quotes[id] = q
		}
	}
	if len(quotes) == 0 {
		return
	}

	opps := t.deps.Engine.Evaluate(quotes)

	if t.cfg.TradingEnabled {
		t.applyTransitions(ctx, opps)
	}

	snap := &domain.TickSnapshot{
		Symbol:        t.cfg.Symbol,
		Quotes:        quotes,
		Opportunities: opps,
		TradingState:  t.deps.Ledger.Status(),
		Timestamp:     t.now(),
	}
	t.snapshot.Store(snap)
	t.publish(ctx, snap)
}

// applyTransitions settles or opens at most one position per tick: a held
// position is priced against its own leg in the current snapshot, otherwise
// the best profitable leg is offered to the ledger.
func (t *Trader) applyTransitions(ctx context.Context, opps []domain.Opportunity) {
	if pos := t.deps.Ledger.OpenPosition(); pos != nil {
		leg, ok := findLeg(opps, pos.LegKey)
		if !ok {
			// A source went absent; the position waits for the next tick
			// that prices its leg.
			return
		}
		if trade := t.deps.Ledger.TryClose(ctx, pos.Symbol, leg.BuyPrice, leg.SellPrice); trade != nil {
			t.onClose(ctx, trade)
		}
		return
	}

	var best *domain.Opportunity
	for i := range opps {
		if !opps[i].IsProfitable {
			continue
		}
		if best == nil || opps[i].ProfitPercent > best.ProfitPercent {
			best = &opps[i]
		}
	}
	if best == nil {
		return
	}

	pos := t.deps.Ledger.TryOpen(ctx, ledger.OpenRequest{
		Symbol:       t.cfg.Symbol,
		LegKey:       best.Key,
		BuySourceID:  best.BuySourceID,
		SellSourceID: best.SellSourceID,
		BuyPrice:     best.BuyPrice,
		SellPrice:    best.SellPrice,
	})
	if pos != nil {
		t.onOpen(ctx, pos)
	}
}

func findLeg(opps []domain.Opportunity, key string) (domain.Opportunity, bool) {
	for _, o := range opps {
		if o.Key == key {
			return o, true
		}
	}
	return domain.Opportunity{}, false
}

// tradeEvent is the wire shape published on the trades channel and stream.
type tradeEvent struct {
	Type     string              `json:"type"`
	Position *domain.Position    `json:"position,omitempty"`
	Trade    *domain.ClosedTrade `json:"trade,omitempty"`
}

func (t *Trader) onOpen(ctx context.Context, pos *domain.Position) {
	t.logTrade(ctx, domain.TradeActionOpen, map[string]any{
		"position_id":         pos.ID,
		"leg":                 pos.LegKey,
		"buy_source":          pos.BuySourceID,
		"sell_source":         pos.SellSourceID,
		"buy_price":           pos.OpenBuyPrice,
		"sell_price":          pos.OpenSellPrice,
		"volume":              pos.Volume,
		"investment_usd":      pos.InvestmentUSD,
		"expected_profit_usd": pos.ExpectedProfitUSD,
	})

	if t.deps.Notifier != nil {
		if err := t.deps.Notifier.PositionOpened(ctx, pos); err != nil {
			t.logger.WarnContext(ctx, "open notification failed", slog.Any("error", err))
		}
	}

	t.publishTradeEvent(ctx, tradeEvent{Type: notify.EventPositionOpen, Position: pos})
}

func (t *Trader) onClose(ctx context.Context, trade *domain.ClosedTrade) {
	t.logTrade(ctx, domain.TradeActionClose, map[string]any{
		"position_id":           trade.Position.ID,
		"leg":                   trade.Position.LegKey,
		"reason":                string(trade.Reason),
		"close_buy_price":       trade.CloseBuyPrice,
		"close_sell_price":      trade.CloseSellPrice,
		"original_diff_percent": trade.OriginalDiffPercent,
		"current_diff_percent":  trade.CurrentDiffPercent,
		"gross_profit_percent":  trade.GrossProfitPercent,
		"net_profit_percent":    trade.NetProfitPercent,
		"actual_profit_usd":     trade.ActualProfitUSD,
	})

	if t.deps.Trades != nil {
		if err := t.deps.Trades.InsertClosedTrade(ctx, *trade); err != nil {
			t.logger.WarnContext(ctx, "closed-trade insert failed",
				slog.String("position_id", trade.Position.ID),
				slog.Any("error", err))
		}
	}

	if t.deps.Notifier != nil {
		if err := t.deps.Notifier.PositionClosed(ctx, trade); err != nil {
			t.logger.WarnContext(ctx, "close notification failed", slog.Any("error", err))
		}
	}

	t.publishTradeEvent(ctx, tradeEvent{Type: notify.EventPositionClose, Trade: trade})
}

// logTrade appends one record to the trade log. A log failure must never
// abort the tick, so it degrades to a warning.
func (t *Trader) logTrade(ctx context.Context, action domain.TradeAction, payload map[string]any) {
	if t.deps.TradeLog == nil {
		return
	}
	if err := t.deps.TradeLog.LogTrade(ctx, action, t.cfg.Symbol, payload); err != nil {
		t.logger.WarnContext(ctx, "trade log append failed",
			slog.String("action", string(action)),
			slog.Any("error", err))
	}
}

func (t *Trader) publishTradeEvent(ctx context.Context, ev tradeEvent) {
	payload, err := json.Marshal(ev)
	if err != nil {
		t.logger.WarnContext(ctx, "trade event marshal failed", slog.Any("error", err))
		return
	}
	if t.deps.Hub != nil {
		t.deps.Hub.Broadcast(channelTrades, payload)
	}
	if t.deps.Bus != nil {
		if err := t.deps.Bus.Publish(ctx, channelTrades, payload); err != nil {
			t.logger.WarnContext(ctx, "trade event publish failed", slog.Any("error", err))
		}
		if err := t.deps.Bus.StreamAppend(ctx, streamTrades, payload); err != nil {
			t.logger.WarnContext(ctx, "trade stream append failed", slog.Any("error", err))
		}
	}
}

// publish fans the snapshot out to every configured observer. All sinks are
// best effort; bus and mirror outages warn once until they recover.
func (t *Trader) publish(ctx context.Context, snap *domain.TickSnapshot) {
	if t.deps.Console != nil {
		t.deps.Console.Report(*snap)
	}

	payload, err := json.Marshal(snap)
	if err != nil {
		t.logger.WarnContext(ctx, "snapshot marshal failed", slog.Any("error", err))
		return
	}

	if t.deps.Hub != nil {
		t.deps.Hub.Broadcast(channelTicks, payload)
	}

	if t.deps.Bus != nil {
		err := t.deps.Bus.Publish(ctx, channelTicks, payload)
		if err == nil {
			err = t.deps.Bus.StreamAppend(ctx, streamTicks, payload)
		}
		switch {
		case err != nil && !t.busWarned:
			t.busWarned = true
			t.logger.WarnContext(ctx, "bus publish failing", slog.Any("error", err))
		case err == nil && t.busWarned:
			t.busWarned = false
			t.logger.InfoContext(ctx, "bus publish recovered")
		}
	}

	if t.deps.Mirror != nil {
		err := t.deps.Mirror.SetQuotes(ctx, snap.Symbol, snap.Quotes)
		if err == nil {
			err = t.deps.Mirror.SetState(ctx, snap.Symbol, snap.TradingState)
		}
		switch {
		case err != nil && !t.mirrorWarned:
			t.mirrorWarned = true
			t.logger.WarnContext(ctx, "quote mirror failing", slog.Any("error", err))
		case err == nil && t.mirrorWarned:
			t.mirrorWarned = false
			t.logger.InfoContext(ctx, "quote mirror recovered")
		}
	}
}

// noteFetchResult tracks consecutive per-source failures. Crossing the
// threshold notifies once; the next success resets the counter.
func (t *Trader) noteFetchResult(ctx context.Context, sourceID string, err error) {
	t.healthMu.Lock()
	if err == nil {
		recovered := t.failures[sourceID] >= downAfter
		t.failures[sourceID] = 0
		t.healthMu.Unlock()
		if recovered {
			t.logger.InfoContext(ctx, "source recovered", slog.String("source", sourceID))
		}
		return
	}
	t.failures[sourceID]++
	justDown := t.failures[sourceID] == downAfter
	t.healthMu.Unlock()

	if !justDown {
		return
	}
	t.logger.WarnContext(ctx, "source down",
		slog.String("source", sourceID),
		slog.Int("consecutive_failures", downAfter),
		slog.String("error", err.Error()))
	if t.deps.Notifier != nil {
		if nerr := t.deps.Notifier.SourceDown(ctx, sourceID, t.cfg.Symbol, err); nerr != nil {
			t.logger.WarnContext(ctx, "source-down notification failed", slog.Any("error", nerr))
		}
	}
}
