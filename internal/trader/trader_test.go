package trader

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amirhosseinsharififard/arbitrage-sub001/internal/domain"
	"github.com/amirhosseinsharififard/arbitrage-sub001/internal/engine"
	"github.com/amirhosseinsharififard/arbitrage-sub001/internal/ledger"
	"github.com/amirhosseinsharififard/arbitrage-sub001/internal/notify"
	"github.com/amirhosseinsharififard/arbitrage-sub001/internal/quotecache"
)

type scriptedFetcher struct {
	id  string
	dex bool

	mu    sync.Mutex
	quote domain.Quote
	err   error
}

func (f *scriptedFetcher) SourceID() string { return f.id }

func (f *scriptedFetcher) IsDEX() bool { return f.dex }

func (f *scriptedFetcher) FetchQuote(context.Context, string) (domain.Quote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return domain.Quote{}, f.err
	}
	q := f.quote
	q.Timestamp = time.Now()
	return q, nil
}

func (f *scriptedFetcher) set(bid, ask float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.quote = domain.Quote{SourceID: f.id, Bid: bid, Ask: ask, IsDEX: f.dex}
	f.err = nil
}

func (f *scriptedFetcher) fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

type fakeTradeLog struct {
	mu      sync.Mutex
	actions []domain.TradeAction
}

func (f *fakeTradeLog) LogTrade(_ context.Context, action domain.TradeAction, _ string, _ map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.actions = append(f.actions, action)
	return nil
}

func (f *fakeTradeLog) all() []domain.TradeAction {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.TradeAction(nil), f.actions...)
}

type fakeClosedTrades struct {
	mu     sync.Mutex
	trades []domain.ClosedTrade
}

func (f *fakeClosedTrades) InsertClosedTrade(_ context.Context, trade domain.ClosedTrade) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.trades = append(f.trades, trade)
	return nil
}

func (f *fakeClosedTrades) ListClosedTrades(context.Context, string, int) ([]domain.ClosedTrade, error) {
	return nil, nil
}

func (f *fakeClosedTrades) all() []domain.ClosedTrade {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.ClosedTrade(nil), f.trades...)
}

type captureBus struct {
	mu        sync.Mutex
	published map[string]int
	streamed  map[string]int
}

func newCaptureBus() *captureBus {
	return &captureBus{published: make(map[string]int), streamed: make(map[string]int)}
}

func (b *captureBus) Publish(_ context.Context, channel string, _ []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published[channel]++
	return nil
}

func (b *captureBus) Subscribe(context.Context, string) (<-chan []byte, error) { return nil, nil }

func (b *captureBus) StreamAppend(_ context.Context, stream string, _ []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.streamed[stream]++
	return nil
}

func (b *captureBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

func (b *captureBus) count(channel string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.published[channel]
}

func (b *captureBus) streamCount(stream string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.streamed[stream]
}

type captureHub struct {
	mu   sync.Mutex
	sent map[string]int
}

func (h *captureHub) Broadcast(channel string, _ []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.sent == nil {
		h.sent = make(map[string]int)
	}
	h.sent[channel]++
}

func (h *captureHub) count(channel string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sent[channel]
}

type captureSender struct {
	mu     sync.Mutex
	titles []string
}

func (c *captureSender) Send(_ context.Context, title, _ string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.titles = append(c.titles, title)
	return nil
}

func (c *captureSender) Name() string { return "capture" }

func (c *captureSender) all() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.titles...)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fixture struct {
	mexc  *scriptedFetcher
	lbank *scriptedFetcher
	cache *quotecache.Cache
	led   *ledger.Ledger
	log   *fakeTradeLog
	store *fakeClosedTrades
	bus   *captureBus
	hub   *captureHub
	sent  *captureSender
	tr    *Trader
}

// newFixture wires a trader over two scripted venues with nanosecond cache
// policies, so every tick refetches current scripted prices.
func newFixture(trading bool) *fixture {
	f := &fixture{
		mexc:  &scriptedFetcher{id: "mexc"},
		lbank: &scriptedFetcher{id: "lbank"},
		log:   &fakeTradeLog{},
		store: &fakeClosedTrades{},
		bus:   newCaptureBus(),
		hub:   &captureHub{},
		sent:  &captureSender{},
	}
	f.mexc.set(105, 106)
	f.lbank.set(100, 101)

	policies := map[string]quotecache.Policy{
		"mexc":  {RefreshInterval: time.Nanosecond, MaxAge: time.Nanosecond},
		"lbank": {RefreshInterval: time.Nanosecond, MaxAge: time.Nanosecond},
	}
	f.cache = quotecache.New(policies, quotecache.Config{}, discardLogger())

	f.led = ledger.New(ledger.Config{
		OpenThresholdPercent:  1.5,
		CloseThresholdPercent: 1.0,
		InvestmentPerSideUSD:  100,
		FeesPercent:           map[string]float64{"mexc": 0.05, "lbank": 0.04},
	}, nil, discardLogger())

	notifier := notify.NewNotifier([]notify.Sender{f.sent}, nil, discardLogger())

	f.tr = New(
		Config{Symbol: "DEBT_USDT", TickInterval: 5 * time.Millisecond, TradingEnabled: trading},
		Deps{
			Cache:    f.cache,
			Engine:   engine.New(1.5),
			Ledger:   f.led,
			Sources:  map[string]domain.QuoteFetcher{"mexc": f.mexc, "lbank": f.lbank},
			TradeLog: f.log,
			Trades:   f.store,
			Bus:      f.bus,
			Hub:      f.hub,
			Notifier: notifier,
		},
		discardLogger(),
	)
	return f
}

func TestTickBuildsAndPublishesSnapshot(t *testing.T) {
	f := newFixture(false)

	f.tr.tick(context.Background())

	snap := f.tr.Snapshot()
	require.NotNil(t, snap)
	assert.Equal(t, "DEBT_USDT", snap.Symbol)
	assert.Len(t, snap.Quotes, 2)
	assert.Len(t, snap.Opportunities, 2, "two venues give two ordered pairs")
	assert.False(t, snap.TradingState.HasOpenPosition)

	assert.Equal(t, 1, f.bus.count("arb:ticks"))
	assert.Equal(t, 1, f.bus.streamCount("arb:stream:ticks"))
	assert.Equal(t, 1, f.hub.count("arb:ticks"))
}

func TestMonitorModeNeverTrades(t *testing.T) {
	f := newFixture(false)

	f.tr.tick(context.Background())
	f.tr.tick(context.Background())

	assert.Nil(t, f.led.OpenPosition())
	assert.Empty(t, f.log.all())
	assert.Zero(t, f.bus.count("arb:trades"))
}

func TestTradingOpensOnProfitableLeg(t *testing.T) {
	f := newFixture(true)

	f.tr.tick(context.Background())

	pos := f.led.OpenPosition()
	require.NotNil(t, pos)
	assert.Equal(t, "mexc(BID)->lbank(ASK)", pos.LegKey)
	assert.Equal(t, "lbank", pos.BuySourceID)
	assert.Equal(t, "mexc", pos.SellSourceID)
	assert.InDelta(t, 101, pos.OpenBuyPrice, 1e-9)
	assert.InDelta(t, 105, pos.OpenSellPrice, 1e-9)

	assert.Equal(t, []domain.TradeAction{domain.TradeActionOpen}, f.log.all())
	assert.Equal(t, 1, f.bus.count("arb:trades"))
	assert.Equal(t, 1, f.bus.streamCount("arb:stream:trades"))
	assert.Equal(t, 1, f.hub.count("arb:trades"))
	assert.Len(t, f.sent.all(), 1)

	require.NotNil(t, f.tr.Snapshot())
	assert.True(t, f.tr.Snapshot().TradingState.HasOpenPosition)
}

func TestTradingClosesOnCompression(t *testing.T) {
	f := newFixture(true)

	f.tr.tick(context.Background())
	require.NotNil(t, f.led.OpenPosition())

	// The spread compresses below the close threshold.
	f.lbank.set(104, 104.8)
	f.tr.tick(context.Background())

	assert.Nil(t, f.led.OpenPosition())
	trades := f.store.all()
	require.Len(t, trades, 1)
	trade := trades[0]
	assert.Equal(t, domain.CloseReasonTarget, trade.Reason)
	assert.InDelta(t, 3.9604, trade.OriginalDiffPercent, 0.001)
	assert.InDelta(t, 0.1908, trade.CurrentDiffPercent, 0.001)
	assert.InDelta(t, 3.6796, trade.NetProfitPercent, 0.001)
	assert.InDelta(t, 7.359, trade.ActualProfitUSD, 0.01)

	assert.Equal(t, []domain.TradeAction{domain.TradeActionOpen, domain.TradeActionClose}, f.log.all())
	assert.Len(t, f.sent.all(), 2)

	state := f.tr.Snapshot().TradingState
	assert.Equal(t, 1, state.TotalTrades)
	assert.False(t, state.HasOpenPosition)
}

func TestCloseWaitsWhileLegUnpriced(t *testing.T) {
	f := newFixture(true)

	f.tr.tick(context.Background())
	require.NotNil(t, f.led.OpenPosition())

	// The buy venue goes dark and its sample ages out entirely.
	f.lbank.fail(errors.New("connection timed out"))
	f.cache.Sweep(time.Now().Add(10 * time.Minute))
	f.tr.tick(context.Background())

	assert.NotNil(t, f.led.OpenPosition(), "position waits until its leg is priced again")
	assert.Empty(t, f.store.all())
}

func TestSourceDownNotifiesOnce(t *testing.T) {
	f := newFixture(false)
	f.lbank.fail(errors.New("connection refused"))

	for i := 0; i < downAfter+2; i++ {
		f.tr.tick(context.Background())
	}

	assert.Len(t, f.sent.all(), 1, "outage notifies on the threshold crossing only")
}

func TestSourceRecoveryResetsOutageCounter(t *testing.T) {
	f := newFixture(false)
	f.lbank.fail(errors.New("connection refused"))
	for i := 0; i < downAfter; i++ {
		f.tr.tick(context.Background())
	}
	require.Len(t, f.sent.all(), 1)

	f.lbank.set(100, 101)
	f.tr.tick(context.Background())

	f.lbank.fail(errors.New("connection refused"))
	for i := 0; i < downAfter; i++ {
		f.tr.tick(context.Background())
	}

	assert.Len(t, f.sent.all(), 2, "a fresh outage notifies again after recovery")
}

func TestRunTicksUntilCancelled(t *testing.T) {
	f := newFixture(false)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- f.tr.Run(ctx) }()

	require.Eventually(t, func() bool { return f.tr.Snapshot() != nil },
		2*time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}
