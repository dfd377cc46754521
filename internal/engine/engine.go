// Package engine turns a per-source quote snapshot into an ordered list of
// arbitrage legs. Evaluation is pure: identical snapshots yield identical,
// identically-ordered results, and nothing here touches I/O or shared state.
package engine

import (
	"fmt"
	"sort"

	"github.com/amirhosseinsharififard/arbitrage-sub001/internal/domain"
)

// Engine scores quote snapshots against an open threshold.
type Engine struct {
	openThresholdPercent float64
}

// New creates an Engine. Legs at or above openThresholdPercent are tagged
// profitable; all legs are returned either way.
func New(openThresholdPercent float64) *Engine {
	return &Engine{openThresholdPercent: openThresholdPercent}
}

// PercentDiff is the relative spread between a buy and a sell price,
// expressed in percent of the buy price.
func PercentDiff(buyPrice, sellPrice float64) float64 {
	return (sellPrice - buyPrice) / buyPrice * 100
}

// Evaluate produces every legal arbitrage leg for the snapshot:
//
//   - for each ordered two-sided (CEX) pair (i, j): sell at i's bid, buy at
//     j's ask, keyed "i(BID)->j(ASK)";
//   - for each (DEX, CEX) pair: two legs buying at the DEX bid and selling
//     at the CEX bid (tie-break 1) or ask (tie-break 2).
//
// Two single-price (DEX) sources are never compared with each other.
// DEX-involving legs sort before CEX-only legs; DEX legs sort by tie-break
// order, CEX legs keep pair-enumeration order.
func (e *Engine) Evaluate(quotes map[string]domain.Quote) []domain.Opportunity {
	dex, cex := partition(quotes)

	var dexLegs []domain.Opportunity
	for _, d := range dex {
		for _, c := range cex {
			dq, cq := quotes[d], quotes[c]
			dexLegs = append(dexLegs,
				e.leg(domain.LegTypeDEX, fmt.Sprintf("%s(BID)->%s(BID)", c, d), d, c, dq.Bid, cq.Bid, 1),
				e.leg(domain.LegTypeDEX, fmt.Sprintf("%s(ASK)->%s(BID)", c, d), d, c, dq.Bid, cq.Ask, 2),
			)
		}
	}
	sort.SliceStable(dexLegs, func(i, j int) bool {
		return dexLegs[i].TieBreakOrder < dexLegs[j].TieBreakOrder
	})

	var cexLegs []domain.Opportunity
	for _, i := range cex {
		for _, j := range cex {
			if i == j {
				continue
			}
			iq, jq := quotes[i], quotes[j]
			cexLegs = append(cexLegs,
				e.leg(domain.LegTypeCEX, fmt.Sprintf("%s(BID)->%s(ASK)", i, j), j, i, jq.Ask, iq.Bid, 0))
		}
	}

	return append(dexLegs, cexLegs...)
}

func (e *Engine) leg(t domain.LegType, key, buySource, sellSource string, buyPrice, sellPrice float64, tieBreak int) domain.Opportunity {
	profit := PercentDiff(buyPrice, sellPrice)
	return domain.Opportunity{
		LegType:       t,
		Key:           key,
		BuySourceID:   buySource,
		SellSourceID:  sellSource,
		BuyPrice:      buyPrice,
		SellPrice:     sellPrice,
		ProfitPercent: profit,
		TieBreakOrder: tieBreak,
		IsProfitable:  profit >= e.openThresholdPercent,
	}
}

// partition splits sources into single-price and two-sided groups, sorted
// by id so enumeration order is stable across ticks.
func partition(quotes map[string]domain.Quote) (dex, cex []string) {
	for id, q := range quotes {
		if q.IsDEX {
			dex = append(dex, id)
		} else {
			cex = append(cex, id)
		}
	}
	sort.Strings(dex)
	sort.Strings(cex)
	return dex, cex
}
