// Package ledger holds the single simulated position and its lifetime
// counters. It owns the one-open-position invariant: every transition runs
// under the ledger's mutex, so concurrent callers can never create a second
// position or settle the same one twice.
package ledger

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/amirhosseinsharififard/arbitrage-sub001/internal/domain"
	"github.com/amirhosseinsharififard/arbitrage-sub001/internal/engine"
)

// Config carries the thresholds, sizing, and per-source fees a ledger
// applies. It is resolved once at startup and never mutated mid-run.
type Config struct {
	OpenThresholdPercent  float64
	CloseThresholdPercent float64
	StopLossEnabled       bool
	MaxLossPercent        float64
	InvestmentPerSideUSD  float64
	MaxTrades             int
	UseOrderBookVolume    bool
	FeesPercent           map[string]float64
}

// DepthFn fetches best bid/ask depth for one source, used to clamp the
// position volume to what the books can absorb. Optional.
type DepthFn func(ctx context.Context, sourceID, symbol string) (domain.Depth, error)

// OpenRequest describes the leg a caller wants to open a position on.
type OpenRequest struct {
	Symbol       string
	LegKey       string
	BuySourceID  string
	SellSourceID string
	BuyPrice     float64
	SellPrice    float64
}

// Ledger is the position state machine.
type Ledger struct {
	mu       sync.Mutex
	cfg      Config
	position *domain.Position
	state    domain.TradingState
	depthFn  DepthFn
	logger   *slog.Logger
	now      func() time.Time
}

// New creates a Ledger. depthFn may be nil; it is only consulted when
// cfg.UseOrderBookVolume is set.
func New(cfg Config, depthFn DepthFn, logger *slog.Logger) *Ledger {
	return &Ledger{
		cfg:     cfg,
		depthFn: depthFn,
		logger:  logger.With(slog.String("component", "ledger")),
		now:     time.Now,
	}
}

// TryOpen opens a position on the requested leg if the slot is free, the
// trade cap is not exhausted, and the spread clears the open threshold.
// Any other outcome is a silent no-op returning nil: a second open attempt
// while a position is held is expected traffic, not an error.
func (l *Ledger) TryOpen(ctx context.Context, req OpenRequest) *domain.Position {
	l.mu.Lock()
	if !l.canOpenLocked() {
		l.mu.Unlock()
		return nil
	}
	l.mu.Unlock()

	diffPercent := engine.PercentDiff(req.BuyPrice, req.SellPrice)
	if diffPercent < l.cfg.OpenThresholdPercent {
		return nil
	}

	volume := math.Min(
		l.cfg.InvestmentPerSideUSD/req.BuyPrice,
		l.cfg.InvestmentPerSideUSD/req.SellPrice,
	)
	if l.cfg.UseOrderBookVolume && l.depthFn != nil {
		volume = l.clampVolume(ctx, req, volume)
	}

	investmentUSD := volume*req.BuyPrice + volume*req.SellPrice
	pos := domain.Position{
		ID:                uuid.NewString(),
		Symbol:            req.Symbol,
		LegKey:            req.LegKey,
		BuySourceID:       req.BuySourceID,
		SellSourceID:      req.SellSourceID,
		OpenBuyPrice:      req.BuyPrice,
		OpenSellPrice:     req.SellPrice,
		Volume:            volume,
		InvestmentUSD:     investmentUSD,
		ExpectedProfitUSD: diffPercent / 100 * investmentUSD,
		Status:            domain.PositionStatusOpening,
		OpenedAt:          l.now(),
	}
	pos.Status = domain.PositionStatusOpen

	l.mu.Lock()
	// The slot may have been taken while depth was being fetched.
	if !l.canOpenLocked() {
		l.mu.Unlock()
		return nil
	}
	l.position = &pos
	l.state.HasOpenPosition = true
	l.state.TotalInvestmentUSD += investmentUSD
	l.mu.Unlock()

	l.logger.InfoContext(ctx, "position opened",
		slog.String("position_id", pos.ID),
		slog.String("symbol", pos.Symbol),
		slog.String("leg", pos.LegKey),
		slog.Float64("buy_price", pos.OpenBuyPrice),
		slog.Float64("sell_price", pos.OpenSellPrice),
		slog.Float64("diff_percent", diffPercent),
		slog.Float64("volume", pos.Volume),
		slog.Float64("investment_usd", pos.InvestmentUSD),
		slog.Float64("expected_profit_usd", pos.ExpectedProfitUSD),
	)

	out := pos
	return &out
}

func (l *Ledger) canOpenLocked() bool {
	if l.position != nil {
		return false
	}
	if l.cfg.MaxTrades > 0 && l.state.TotalTrades >= l.cfg.MaxTrades {
		return false
	}
	return true
}

// clampVolume limits volume by the opposing book depth on each side: the
// buy fill is bounded by the ask size where we buy, the sell fill by the
// bid size where we sell. A failed depth fetch falls back to the unclamped
// volume rather than blocking the open.
func (l *Ledger) clampVolume(ctx context.Context, req OpenRequest, volume float64) float64 {
	buyDepth, err := l.depthFn(ctx, req.BuySourceID, req.Symbol)
	if err != nil {
		l.logger.WarnContext(ctx, "depth unavailable, using unclamped volume",
			slog.String("source", req.BuySourceID),
			slog.String("error", err.Error()),
		)
		return volume
	}
	sellDepth, err := l.depthFn(ctx, req.SellSourceID, req.Symbol)
	if err != nil {
		l.logger.WarnContext(ctx, "depth unavailable, using unclamped volume",
			slog.String("source", req.SellSourceID),
			slog.String("error", err.Error()),
		)
		return volume
	}
	if buyDepth.BestAsk.Amount > 0 {
		volume = math.Min(volume, buyDepth.BestAsk.Amount)
	}
	if sellDepth.BestBid.Amount > 0 {
		volume = math.Min(volume, sellDepth.BestBid.Amount)
	}
	return volume
}

// TryClose settles the open position for symbol against the current prices
// of its leg. Profit is spread compression: the spread captured at open
// minus the spread remaining now, less both venues' fees. The position
// closes when the remaining spread has compressed to the close threshold,
// or, when the stop-loss trigger is enabled, when the net result has fallen
// to the configured maximum loss. Returns nil when nothing closed.
func (l *Ledger) TryClose(ctx context.Context, symbol string, currentBuyPrice, currentSellPrice float64) *domain.ClosedTrade {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.position == nil || l.position.Symbol != symbol {
		return nil
	}
	pos := *l.position

	currentDiff := engine.PercentDiff(currentBuyPrice, currentSellPrice)
	originalDiff := engine.PercentDiff(pos.OpenBuyPrice, pos.OpenSellPrice)
	gross := originalDiff - currentDiff
	net := gross - (l.cfg.FeesPercent[pos.BuySourceID] + l.cfg.FeesPercent[pos.SellSourceID])

	var reason domain.CloseReason
	switch {
	case currentDiff <= l.cfg.CloseThresholdPercent:
		reason = domain.CloseReasonTarget
	case l.cfg.StopLossEnabled && net <= l.cfg.MaxLossPercent:
		reason = domain.CloseReasonStopLoss
	default:
		return nil
	}

	actualProfitUSD := net / 100 * l.cfg.InvestmentPerSideUSD * 2
	trade := domain.ClosedTrade{
		Position:            pos,
		ClosedAt:            l.now(),
		CloseBuyPrice:       currentBuyPrice,
		CloseSellPrice:      currentSellPrice,
		OriginalDiffPercent: originalDiff,
		CurrentDiffPercent:  currentDiff,
		GrossProfitPercent:  gross,
		NetProfitPercent:    net,
		ActualProfitUSD:     actualProfitUSD,
		Reason:              reason,
	}

	l.position = nil
	l.state.HasOpenPosition = false
	l.state.TotalProfitUSD += actualProfitUSD
	l.state.TotalTrades++
	l.state.LastTradeProfitUSD = actualProfitUSD
	l.state.TotalInvestmentUSD -= pos.InvestmentUSD

	l.logger.InfoContext(ctx, "position closed",
		slog.String("position_id", pos.ID),
		slog.String("symbol", symbol),
		slog.String("reason", string(reason)),
		slog.Float64("original_diff_percent", originalDiff),
		slog.Float64("current_diff_percent", currentDiff),
		slog.Float64("gross_profit_percent", gross),
		slog.Float64("net_profit_percent", net),
		slog.Float64("actual_profit_usd", actualProfitUSD),
	)

	return &trade
}

// OpenPosition returns a copy of the held position, or nil.
func (l *Ledger) OpenPosition() *domain.Position {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.position == nil {
		return nil
	}
	out := *l.position
	return &out
}

// Status returns a snapshot of the trading counters.
func (l *Ledger) Status() domain.TradingState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}
