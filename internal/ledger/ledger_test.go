package ledger

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amirhosseinsharififard/arbitrage-sub001/internal/domain"
)

func testConfig() Config {
	return Config{
		OpenThresholdPercent:  2.0,
		CloseThresholdPercent: 1.0,
		InvestmentPerSideUSD:  100,
		FeesPercent: map[string]float64{
			"mexc":  0.05,
			"lbank": 0.04,
		},
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func openRequest() OpenRequest {
	return OpenRequest{
		Symbol:       "DEBT_USDT",
		LegKey:       "mexc(BID)->lbank(ASK)",
		BuySourceID:  "lbank",
		SellSourceID: "mexc",
		BuyPrice:     101,
		SellPrice:    105,
	}
}

func TestTryOpenSizing(t *testing.T) {
	l := New(testConfig(), nil, discardLogger())

	pos := l.TryOpen(context.Background(), openRequest())
	require.NotNil(t, pos)

	assert.NotEmpty(t, pos.ID)
	assert.Equal(t, domain.PositionStatusOpen, pos.Status)
	assert.Equal(t, "DEBT_USDT", pos.Symbol)
	assert.Equal(t, "mexc(BID)->lbank(ASK)", pos.LegKey)
	assert.False(t, pos.OpenedAt.IsZero())

	// volume = min(100/101, 100/105); both legs funded from the same side
	// budget, so the smaller fill bounds the trade.
	assert.InDelta(t, 100.0/105.0, pos.Volume, 1e-9)
	wantInvestment := pos.Volume*101 + pos.Volume*105
	assert.InDelta(t, wantInvestment, pos.InvestmentUSD, 1e-9)
	assert.InDelta(t, 3.9604/100*wantInvestment, pos.ExpectedProfitUSD, 1e-3)

	state := l.Status()
	assert.True(t, state.HasOpenPosition)
	assert.InDelta(t, wantInvestment, state.TotalInvestmentUSD, 1e-9)
	assert.Equal(t, 0, state.TotalTrades)
}

func TestTryOpenSecondCallIsSilentNoOp(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := slog.New(slog.NewTextHandler(buf, nil))
	l := New(testConfig(), nil, logger)
	ctx := context.Background()

	first := l.TryOpen(ctx, openRequest())
	require.NotNil(t, first)
	before := l.Status()

	second := l.TryOpen(ctx, openRequest())
	assert.Nil(t, second)
	assert.Equal(t, before, l.Status(), "state is untouched by the rejected open")
	assert.Equal(t, 1, strings.Count(buf.String(), "position opened"), "exactly one open is logged")

	held := l.OpenPosition()
	require.NotNil(t, held)
	assert.Equal(t, first.ID, held.ID)
}

func TestTryOpenBelowThreshold(t *testing.T) {
	l := New(testConfig(), nil, discardLogger())

	req := openRequest()
	req.BuyPrice = 104
	req.SellPrice = 105 // 0.96%, under the 2% open threshold

	assert.Nil(t, l.TryOpen(context.Background(), req))
	assert.Equal(t, domain.TradingState{}, l.Status())
	assert.Nil(t, l.OpenPosition())
}

func TestTryOpenRespectsMaxTrades(t *testing.T) {
	cfg := testConfig()
	cfg.MaxTrades = 1
	l := New(cfg, nil, discardLogger())
	ctx := context.Background()

	require.NotNil(t, l.TryOpen(ctx, openRequest()))
	require.NotNil(t, l.TryClose(ctx, "DEBT_USDT", 103, 104))
	require.Equal(t, 1, l.Status().TotalTrades)

	assert.Nil(t, l.TryOpen(ctx, openRequest()), "trade cap reached")
}

func TestTryCloseSpreadCompression(t *testing.T) {
	l := New(testConfig(), nil, discardLogger())
	ctx := context.Background()

	require.NotNil(t, l.TryOpen(ctx, openRequest()))

	// Spread compressed from ~3.96% at open to ~0.97% now; under the 1%
	// target the position settles.
	trade := l.TryClose(ctx, "DEBT_USDT", 103, 104)
	require.NotNil(t, trade)

	assert.InDelta(t, 0.9709, trade.CurrentDiffPercent, 1e-4)
	assert.InDelta(t, 3.9604, trade.OriginalDiffPercent, 1e-4)
	assert.InDelta(t, 2.9895, trade.GrossProfitPercent, 1e-4)
	assert.InDelta(t, 2.8995, trade.NetProfitPercent, 1e-4, "gross minus 0.04+0.05 fees")
	assert.InDelta(t, 2.8995/100*100*2, trade.ActualProfitUSD, 1e-3)
	assert.Equal(t, domain.CloseReasonTarget, trade.Reason)
	assert.Equal(t, 103.0, trade.CloseBuyPrice)
	assert.Equal(t, 104.0, trade.CloseSellPrice)
	assert.False(t, trade.ClosedAt.IsZero())

	state := l.Status()
	assert.False(t, state.HasOpenPosition)
	assert.Equal(t, 1, state.TotalTrades)
	assert.InDelta(t, trade.ActualProfitUSD, state.TotalProfitUSD, 1e-9)
	assert.InDelta(t, trade.ActualProfitUSD, state.LastTradeProfitUSD, 1e-9)
	assert.InDelta(t, 0, state.TotalInvestmentUSD, 1e-9, "investment released on close")
	assert.Nil(t, l.OpenPosition())
}

func TestTryCloseHoldsWhileSpreadRemains(t *testing.T) {
	l := New(testConfig(), nil, discardLogger())
	ctx := context.Background()

	require.NotNil(t, l.TryOpen(ctx, openRequest()))

	// Still ~2.43% of spread left, above the close threshold.
	assert.Nil(t, l.TryClose(ctx, "DEBT_USDT", 103, 105.5))
	assert.True(t, l.Status().HasOpenPosition)
}

func TestTryCloseStopLoss(t *testing.T) {
	cfg := testConfig()
	cfg.StopLossEnabled = true
	cfg.MaxLossPercent = -5
	l := New(cfg, nil, discardLogger())
	ctx := context.Background()

	req := openRequest()
	req.BuyPrice = 100
	req.SellPrice = 103
	require.NotNil(t, l.TryOpen(ctx, req))

	// The spread widened instead of compressing: 10% now against 3% at
	// open, a -7.09% net result, past the -5% stop.
	trade := l.TryClose(ctx, "DEBT_USDT", 100, 110)
	require.NotNil(t, trade)
	assert.Equal(t, domain.CloseReasonStopLoss, trade.Reason)
	assert.InDelta(t, -7.0, trade.GrossProfitPercent, 1e-9)
	assert.InDelta(t, -7.09, trade.NetProfitPercent, 1e-9)
	assert.Negative(t, trade.ActualProfitUSD)
	assert.Negative(t, l.Status().TotalProfitUSD)
}

func TestTryCloseStopLossOffByDefault(t *testing.T) {
	l := New(testConfig(), nil, discardLogger())
	ctx := context.Background()

	req := openRequest()
	req.BuyPrice = 100
	req.SellPrice = 103
	require.NotNil(t, l.TryOpen(ctx, req))

	// Same widened spread as the stop-loss case, but the trigger is not
	// configured: the position is held.
	assert.Nil(t, l.TryClose(ctx, "DEBT_USDT", 100, 110))
	assert.True(t, l.Status().HasOpenPosition)
}

func TestTryCloseWithoutPosition(t *testing.T) {
	l := New(testConfig(), nil, discardLogger())
	ctx := context.Background()

	assert.Nil(t, l.TryClose(ctx, "DEBT_USDT", 103, 104))

	require.NotNil(t, l.TryOpen(ctx, openRequest()))
	assert.Nil(t, l.TryClose(ctx, "OTHER_USDT", 103, 104), "symbol must match the held position")
	assert.True(t, l.Status().HasOpenPosition)
}

func TestTryOpenClampsVolumeToDepth(t *testing.T) {
	cfg := testConfig()
	cfg.UseOrderBookVolume = true
	depth := func(ctx context.Context, sourceID, symbol string) (domain.Depth, error) {
		switch sourceID {
		case "lbank": // buy side, bounded by ask size
			return domain.Depth{BestAsk: domain.PriceLevel{Price: 101, Amount: 0.5}}, nil
		default: // sell side, bounded by bid size
			return domain.Depth{BestBid: domain.PriceLevel{Price: 105, Amount: 0.4}}, nil
		}
	}
	l := New(cfg, depth, discardLogger())

	pos := l.TryOpen(context.Background(), openRequest())
	require.NotNil(t, pos)
	assert.InDelta(t, 0.4, pos.Volume, 1e-9, "smallest of budget and both book sides")
	assert.InDelta(t, 0.4*101+0.4*105, pos.InvestmentUSD, 1e-9)
}

func TestTryOpenDepthFailureFallsBack(t *testing.T) {
	cfg := testConfig()
	cfg.UseOrderBookVolume = true
	depth := func(ctx context.Context, sourceID, symbol string) (domain.Depth, error) {
		return domain.Depth{}, errors.New("502 bad gateway")
	}
	l := New(cfg, depth, discardLogger())

	pos := l.TryOpen(context.Background(), openRequest())
	require.NotNil(t, pos)
	assert.InDelta(t, 100.0/105.0, pos.Volume, 1e-9, "unclamped volume on depth failure")
}

func TestConcurrentOpensYieldOnePosition(t *testing.T) {
	l := New(testConfig(), nil, discardLogger())
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	opened := 0
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.TryOpen(ctx, openRequest()) != nil {
				mu.Lock()
				opened++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, opened)
	assert.True(t, l.Status().HasOpenPosition)
	assert.InDelta(t, l.OpenPosition().InvestmentUSD, l.Status().TotalInvestmentUSD, 1e-9,
		"losing racers must not inflate the invested total")
}