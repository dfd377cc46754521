package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/amirhosseinsharififard/arbitrage-sub001/internal/domain"
)

// QuoteMirror implements domain.QuoteMirror. Quotes live in a hash at
// "arb:quotes:{symbol}" keyed by source id with JSON values; trading
// state lives in a hash at "arb:state:{symbol}" with one numeric field
// per counter.
type QuoteMirror struct {
	rdb *redis.Client
}

var _ domain.QuoteMirror = (*QuoteMirror)(nil)

// NewQuoteMirror creates a QuoteMirror backed by the given Client.
func NewQuoteMirror(c *Client) *QuoteMirror {
	return &QuoteMirror{rdb: c.Underlying()}
}

func quotesKey(symbol string) string {
	return "arb:quotes:" + symbol
}

func stateKey(symbol string) string {
	return "arb:state:" + symbol
}

// SetQuotes overwrites the mirrored fields for every source present in
// quotes. Sources absent from the map keep their last mirrored value.
func (m *QuoteMirror) SetQuotes(ctx context.Context, symbol string, quotes map[string]domain.Quote) error {
	if len(quotes) == 0 {
		return nil
	}

	fields := make(map[string]interface{}, len(quotes))
	for sourceID, q := range quotes {
		data, err := json.Marshal(q)
		if err != nil {
			return fmt.Errorf("redis: encode quote %s/%s: %w", sourceID, symbol, err)
		}
		fields[sourceID] = data
	}

	if err := m.rdb.HSet(ctx, quotesKey(symbol), fields).Err(); err != nil {
		return fmt.Errorf("redis: mirror quotes %s: %w", symbol, err)
	}
	return nil
}

// Quotes returns the mirrored quotes for symbol keyed by source id. It
// returns domain.ErrNotFound when nothing has been mirrored yet.
func (m *QuoteMirror) Quotes(ctx context.Context, symbol string) (map[string]domain.Quote, error) {
	vals, err := m.rdb.HGetAll(ctx, quotesKey(symbol)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: read mirrored quotes %s: %w", symbol, err)
	}
	if len(vals) == 0 {
		return nil, domain.ErrNotFound
	}

	quotes := make(map[string]domain.Quote, len(vals))
	for sourceID, raw := range vals {
		var q domain.Quote
		if err := json.Unmarshal([]byte(raw), &q); err != nil {
			return nil, fmt.Errorf("redis: decode mirrored quote %s/%s: %w", sourceID, symbol, err)
		}
		quotes[sourceID] = q
	}
	return quotes, nil
}

// SetState mirrors the ledger's trading state for symbol.
func (m *QuoteMirror) SetState(ctx context.Context, symbol string, state domain.TradingState) error {
	fields := map[string]interface{}{
		"has_open_position":     strconv.FormatBool(state.HasOpenPosition),
		"total_profit_usd":      strconv.FormatFloat(state.TotalProfitUSD, 'f', -1, 64),
		"total_trades":          strconv.Itoa(state.TotalTrades),
		"last_trade_profit_usd": strconv.FormatFloat(state.LastTradeProfitUSD, 'f', -1, 64),
		"total_investment_usd":  strconv.FormatFloat(state.TotalInvestmentUSD, 'f', -1, 64),
	}
	if err := m.rdb.HSet(ctx, stateKey(symbol), fields).Err(); err != nil {
		return fmt.Errorf("redis: mirror state %s: %w", symbol, err)
	}
	return nil
}

// State returns the mirrored trading state for symbol, or
// domain.ErrNotFound when nothing has been mirrored yet.
func (m *QuoteMirror) State(ctx context.Context, symbol string) (domain.TradingState, error) {
	vals, err := m.rdb.HGetAll(ctx, stateKey(symbol)).Result()
	if err != nil {
		return domain.TradingState{}, fmt.Errorf("redis: read mirrored state %s: %w", symbol, err)
	}
	if len(vals) == 0 {
		return domain.TradingState{}, domain.ErrNotFound
	}

	var state domain.TradingState
	state.HasOpenPosition = vals["has_open_position"] == "true"
	if state.TotalProfitUSD, err = parseFloatField(vals, "total_profit_usd", symbol); err != nil {
		return domain.TradingState{}, err
	}
	if state.LastTradeProfitUSD, err = parseFloatField(vals, "last_trade_profit_usd", symbol); err != nil {
		return domain.TradingState{}, err
	}
	if state.TotalInvestmentUSD, err = parseFloatField(vals, "total_investment_usd", symbol); err != nil {
		return domain.TradingState{}, err
	}
	if raw, ok := vals["total_trades"]; ok {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return domain.TradingState{}, fmt.Errorf("redis: parse mirrored state %s total_trades: %w", symbol, err)
		}
		state.TotalTrades = n
	}
	return state, nil
}

func parseFloatField(vals map[string]string, field, symbol string) (float64, error) {
	raw, ok := vals[field]
	if !ok {
		return 0, nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("redis: parse mirrored state %s %s: %w", symbol, field, err)
	}
	return f, nil
}
