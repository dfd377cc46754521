package lbank

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/amirhosseinsharififard/arbitrage-sub001/internal/domain"
)

// NativeSymbol converts a canonical pair like "DEBT_USDT" to LBank's form
// "debt_usdt".
func NativeSymbol(symbol string) string {
	return strings.ToLower(symbol)
}

// envelope is LBank's response wrapper. Result is the string "true" on
// success; ts is the server clock in epoch millis.
type envelope struct {
	Result    string          `json:"result"`
	ErrorCode int             `json:"error_code"`
	TS        int64           `json:"ts"`
	Data      json.RawMessage `json:"data"`
}

func (e envelope) OK() bool {
	return e.Result == "true" && e.ErrorCode == 0
}

// depthData is the /v2/depth.do payload: price/amount number pairs, best
// levels first on both sides.
type depthData struct {
	Asks [][]float64 `json:"asks"`
	Bids [][]float64 `json:"bids"`
}

// ToDepth extracts the top level of each side.
func (d depthData) ToDepth() (domain.Depth, error) {
	var out domain.Depth
	var err error
	if out.BestBid, err = topLevel(d.Bids); err != nil {
		return domain.Depth{}, fmt.Errorf("bid side: %w", err)
	}
	if out.BestAsk, err = topLevel(d.Asks); err != nil {
		return domain.Depth{}, fmt.Errorf("ask side: %w", err)
	}
	return out, nil
}

func topLevel(levels [][]float64) (domain.PriceLevel, error) {
	if len(levels) == 0 {
		return domain.PriceLevel{}, fmt.Errorf("empty book side")
	}
	if len(levels[0]) < 2 {
		return domain.PriceLevel{}, fmt.Errorf("level has %d fields, want 2", len(levels[0]))
	}
	return domain.PriceLevel{Price: levels[0][0], Amount: levels[0][1]}, nil
}

// tickerEntry is one element of the /v2/ticker.do data array.
type tickerEntry struct {
	Symbol    string `json:"symbol"`
	Timestamp int64  `json:"timestamp"`
	Ticker    struct {
		High     float64 `json:"high"`
		Low      float64 `json:"low"`
		Latest   float64 `json:"latest"`
		Vol      float64 `json:"vol"`
		Turnover float64 `json:"turnover"`
		Change   float64 `json:"change"`
	} `json:"ticker"`
}

// TickerStats are the venue's 24h statistics for one pair.
type TickerStats struct {
	Symbol        string
	Latest        float64
	High          float64
	Low           float64
	Volume        float64
	Turnover      float64
	ChangePercent float64
	Timestamp     time.Time
}

func (t tickerEntry) ToStats() TickerStats {
	return TickerStats{
		Symbol:        t.Symbol,
		Latest:        t.Ticker.Latest,
		High:          t.Ticker.High,
		Low:           t.Ticker.Low,
		Volume:        t.Ticker.Vol,
		Turnover:      t.Ticker.Turnover,
		ChangePercent: t.Ticker.Change,
		Timestamp:     time.UnixMilli(t.Timestamp),
	}
}
