package domain

import "time"

// TickSnapshot is the immutable view handed to observers after each tick:
// the quotes the engine saw, every scored leg, and the ledger counters.
// A fresh value is built per tick; observers never see live state.
type TickSnapshot struct {
	Symbol        string           `json:"symbol"`
	Quotes        map[string]Quote `json:"quotes"`
	Opportunities []Opportunity    `json:"opportunities"`
	TradingState  TradingState     `json:"trading_state"`
	Timestamp     time.Time        `json:"timestamp"`
}
