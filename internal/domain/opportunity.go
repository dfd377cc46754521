package domain

// LegType classifies an opportunity leg by the venues involved.
type LegType string

const (
	// LegTypeCEX is a transfer leg between two centralized venues.
	LegTypeCEX LegType = "cex"
	// LegTypeDEX is a leg buying on-chain and selling on a centralized venue.
	LegTypeDEX LegType = "dex"
)

// Opportunity is one scored arbitrage leg derived from a quote snapshot.
// Opportunities are recomputed from scratch every tick; the slice the
// engine returns is fully ordered and never mutated afterwards.
type Opportunity struct {
	LegType       LegType `json:"leg_type"`
	Key           string  `json:"key"` // e.g. "mexc(BID)->lbank(ASK)"
	BuySourceID   string  `json:"buy_source_id"`
	SellSourceID  string  `json:"sell_source_id"`
	BuyPrice      float64 `json:"buy_price"`
	SellPrice     float64 `json:"sell_price"`
	ProfitPercent float64 `json:"profit_percent"`
	TieBreakOrder int     `json:"tie_break_order,omitempty"`
	IsProfitable  bool    `json:"is_profitable"`
}
