package domain

import (
	"fmt"
	"math"
	"time"
)

// Quote is one price sample from a market-data source. CEX sources carry
// both sides of the book; DEX sources expose a single indicative price in
// Bid and leave Ask zero. A Quote is immutable once created: a newer sample
// replaces it, nothing mutates it in place.
type Quote struct {
	SourceID  string    `json:"source_id"`
	Bid       float64   `json:"bid"`
	Ask       float64   `json:"ask,omitempty"`
	IsDEX     bool      `json:"is_dex"`
	Timestamp time.Time `json:"timestamp"`
}

// HasAsk reports whether the sample carries a usable ask side.
func (q Quote) HasAsk() bool {
	return !q.IsDEX && q.Ask > 0
}

// Validate rejects malformed samples before they may enter the cache:
// NaN/Inf or non-positive prices, a DEX sample carrying an ask, or a CEX
// sample whose bid crosses its ask.
func (q Quote) Validate() error {
	if q.SourceID == "" {
		return fmt.Errorf("quote: %w: missing source id", ErrInvalidQuote)
	}
	if !validPrice(q.Bid) {
		return fmt.Errorf("quote: %w: %s bid %v", ErrInvalidQuote, q.SourceID, q.Bid)
	}
	if q.IsDEX {
		if q.Ask != 0 {
			return fmt.Errorf("quote: %w: %s is a dex source but carries an ask", ErrInvalidQuote, q.SourceID)
		}
		return nil
	}
	if !validPrice(q.Ask) {
		return fmt.Errorf("quote: %w: %s ask %v", ErrInvalidQuote, q.SourceID, q.Ask)
	}
	if q.Bid >= q.Ask {
		return fmt.Errorf("quote: %w: %s bid %v >= ask %v", ErrInvalidQuote, q.SourceID, q.Bid, q.Ask)
	}
	return nil
}

// Age returns how long ago the sample was taken.
func (q Quote) Age(now time.Time) time.Duration {
	return now.Sub(q.Timestamp)
}

func validPrice(p float64) bool {
	return !math.IsNaN(p) && !math.IsInf(p, 0) && p > 0
}

// PriceLevel is one price step of an order book with its resting amount.
type PriceLevel struct {
	Price  float64 `json:"price"`
	Amount float64 `json:"amount"`
}

// Depth is the top of book returned by the order-book collaborator, used
// only to clamp position sizing against available liquidity.
type Depth struct {
	BestBid PriceLevel `json:"best_bid"`
	BestAsk PriceLevel `json:"best_ask"`
}
