package domain

import (
	"context"
	"time"
)

// QuoteFetcher acquires fresh price samples from one market-data source.
// Implementations own their transport (REST, websocket, on-chain call) and
// their request timeouts; the core only sees the resulting Quote.
type QuoteFetcher interface {
	SourceID() string
	IsDEX() bool
	FetchQuote(ctx context.Context, symbol string) (Quote, error)
}

// DepthFetcher exposes top-of-book depth for position sizing. Optional:
// only consulted when order-book volume clamping is enabled.
type DepthFetcher interface {
	FetchDepth(ctx context.Context, symbol string) (Depth, error)
}

// TradeAction labels trade-log records.
type TradeAction string

const (
	TradeActionOpen  TradeAction = "OPEN"
	TradeActionClose TradeAction = "CLOSE"
)

// TradeLog is the append-only event log for position transitions. One JSON
// record per call. Callers treat failures as warnings; a log failure must
// never abort a tick.
type TradeLog interface {
	LogTrade(ctx context.Context, action TradeAction, symbol string, payload map[string]any) error
}

// ClosedTradeStore persists settlement records for the API and archival.
type ClosedTradeStore interface {
	InsertClosedTrade(ctx context.Context, trade ClosedTrade) error
	ListClosedTrades(ctx context.Context, symbol string, limit int) ([]ClosedTrade, error)
}

// QuoteHistoryStore persists per-tick quote samples for later analysis.
type QuoteHistoryStore interface {
	InsertQuotes(ctx context.Context, symbol string, quotes []Quote) error
	PruneBefore(ctx context.Context, cutoff time.Time) (int64, error)
	ListRange(ctx context.Context, symbol string, from, to time.Time) ([]Quote, error)
}

// StreamMessage represents a single entry from a durable stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub fan-out and durable streams for snapshots and
// trade events. Best effort: publishing is at-least-once and unacknowledged.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}

// QuoteMirror mirrors the latest quotes and trading state into a shared
// cache so dashboards in other processes can read them without touching
// the venues.
type QuoteMirror interface {
	SetQuotes(ctx context.Context, symbol string, quotes map[string]Quote) error
	Quotes(ctx context.Context, symbol string) (map[string]Quote, error)
	SetState(ctx context.Context, symbol string, state TradingState) error
	State(ctx context.Context, symbol string) (TradingState, error)
}

// RateLimiter provides distributed rate limiting for the HTTP API.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	Wait(ctx context.Context, key string) error
}

// LockManager provides distributed locking, used to keep two trader
// processes from driving the same symbol's ledger at once.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}
