package mexc

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/amirhosseinsharififard/arbitrage-sub001/internal/domain"
)

// NativeSymbol converts a canonical pair like "DEBT_USDT" to MEXC's spot
// form "DEBTUSDT".
func NativeSymbol(symbol string) string {
	return strings.ToUpper(strings.ReplaceAll(symbol, "_", ""))
}

// bookTicker is the /api/v3/ticker/bookTicker payload. Prices and sizes
// arrive as decimal strings.
type bookTicker struct {
	Symbol   string `json:"symbol"`
	BidPrice string `json:"bidPrice"`
	BidQty   string `json:"bidQty"`
	AskPrice string `json:"askPrice"`
	AskQty   string `json:"askQty"`
}

// ToQuote converts the venue payload to a two-sided quote.
func (b bookTicker) ToQuote(sourceID string) (domain.Quote, error) {
	bid, err := strconv.ParseFloat(b.BidPrice, 64)
	if err != nil {
		return domain.Quote{}, fmt.Errorf("mexc: parse bid %q: %w", b.BidPrice, err)
	}
	ask, err := strconv.ParseFloat(b.AskPrice, 64)
	if err != nil {
		return domain.Quote{}, fmt.Errorf("mexc: parse ask %q: %w", b.AskPrice, err)
	}
	return domain.Quote{
		SourceID:  sourceID,
		Bid:       bid,
		Ask:       ask,
		Timestamp: time.Now(),
	}, nil
}

// depthResponse is the /api/v3/depth payload: price/quantity string pairs,
// best levels first.
type depthResponse struct {
	LastUpdateID int64      `json:"lastUpdateId"`
	Bids         [][]string `json:"bids"`
	Asks         [][]string `json:"asks"`
}

// ToDepth extracts the top level of each side.
func (d depthResponse) ToDepth() (domain.Depth, error) {
	var out domain.Depth
	var err error
	if out.BestBid, err = parseLevel(d.Bids); err != nil {
		return domain.Depth{}, fmt.Errorf("mexc: parse bid level: %w", err)
	}
	if out.BestAsk, err = parseLevel(d.Asks); err != nil {
		return domain.Depth{}, fmt.Errorf("mexc: parse ask level: %w", err)
	}
	return out, nil
}

func parseLevel(levels [][]string) (domain.PriceLevel, error) {
	if len(levels) == 0 {
		return domain.PriceLevel{}, fmt.Errorf("empty book side")
	}
	if len(levels[0]) < 2 {
		return domain.PriceLevel{}, fmt.Errorf("level has %d fields, want 2", len(levels[0]))
	}
	price, err := strconv.ParseFloat(levels[0][0], 64)
	if err != nil {
		return domain.PriceLevel{}, fmt.Errorf("price %q: %w", levels[0][0], err)
	}
	amount, err := strconv.ParseFloat(levels[0][1], 64)
	if err != nil {
		return domain.PriceLevel{}, fmt.Errorf("amount %q: %w", levels[0][1], err)
	}
	return domain.PriceLevel{Price: price, Amount: amount}, nil
}

// apiError is MEXC's error envelope.
type apiError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}
