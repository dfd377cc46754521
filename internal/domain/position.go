package domain

import "time"

// PositionStatus tracks the lifecycle of the single position slot. Opening
// is a transient marker set at creation and resolved to Open before the
// position becomes visible to observers.
type PositionStatus string

const (
	PositionStatusOpening PositionStatus = "opening"
	PositionStatusOpen    PositionStatus = "open"
)

// Position is the one simulated arbitrage trade the ledger may hold. At any
// moment zero or one Position exists; that invariant belongs to the ledger.
type Position struct {
	ID                string         `json:"id"`
	Symbol            string         `json:"symbol"`
	LegKey            string         `json:"leg_key"`
	BuySourceID       string         `json:"buy_source_id"`
	SellSourceID      string         `json:"sell_source_id"`
	OpenBuyPrice      float64        `json:"open_buy_price"`
	OpenSellPrice     float64        `json:"open_sell_price"`
	Volume            float64        `json:"volume"`
	InvestmentUSD     float64        `json:"investment_usd"`
	ExpectedProfitUSD float64        `json:"expected_profit_usd"`
	Status            PositionStatus `json:"status"`
	OpenedAt          time.Time      `json:"opened_at"`
}

// CloseReason says which trigger settled a position.
type CloseReason string

const (
	CloseReasonTarget   CloseReason = "target"
	CloseReasonStopLoss CloseReason = "stop_loss"
)

// ClosedTrade is the settlement record produced when a position closes.
// Profit is realized as spread compression: the difference between the
// spread at open and the spread at close, minus both venues' fees.
type ClosedTrade struct {
	Position            Position    `json:"position"`
	ClosedAt            time.Time   `json:"closed_at"`
	CloseBuyPrice       float64     `json:"close_buy_price"`
	CloseSellPrice      float64     `json:"close_sell_price"`
	OriginalDiffPercent float64     `json:"original_diff_percent"`
	CurrentDiffPercent  float64     `json:"current_diff_percent"`
	GrossProfitPercent  float64     `json:"gross_profit_percent"`
	NetProfitPercent    float64     `json:"net_profit_percent"`
	ActualProfitUSD     float64     `json:"actual_profit_usd"`
	Reason              CloseReason `json:"reason"`
}

// TradingState aggregates the ledger's counters. Mutated only by open and
// close transitions; observers always receive a copy.
type TradingState struct {
	HasOpenPosition    bool    `json:"has_open_position"`
	TotalProfitUSD     float64 `json:"total_profit_usd"`
	TotalTrades        int     `json:"total_trades"`
	LastTradeProfitUSD float64 `json:"last_trade_profit_usd"`
	TotalInvestmentUSD float64 `json:"total_investment_usd"`
}
