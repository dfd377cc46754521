// Package console renders tick snapshots as terminal lines, one per leg,
// in the style of the original watcher: colorized prices and spreads with
// a timestamp, printed only when a spread actually moved.
package console

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/amirhosseinsharififard/arbitrage-sub001/internal/domain"
	"github.com/amirhosseinsharififard/arbitrage-sub001/internal/engine"
)

const (
	ansiReset = "\x1b[0m"
	ansiRed   = "\x1b[31m"
	ansiGreen = "\x1b[32m"
	ansiCyan  = "\x1b[36m"
)

// Reporter writes leg reports to w. Repeated snapshots whose spreads all
// stayed within the suppression epsilon print nothing.
type Reporter struct {
	mu    sync.Mutex
	w     io.Writer
	gate  *engine.ChangeGate
	color bool
	now   func() time.Time
}

// NewReporter creates a Reporter. color toggles ANSI escapes; pass false
// when w is not a terminal.
func NewReporter(w io.Writer, color bool) *Reporter {
	return &Reporter{
		w:     w,
		gate:  engine.NewChangeGate(0),
		color: color,
		now:   time.Now,
	}
}

// Report prints one line per leg when at least one spread moved since the
// last print. The leg order is the engine's evaluation order.
func (r *Reporter) Report(snap domain.TickSnapshot) {
	profits := make(map[string]float64, len(snap.Opportunities))
	for _, o := range snap.Opportunities {
		profits[o.Key] = o.ProfitPercent
	}
	if !r.gate.ShouldEmit(profits) {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	stamp := r.now().Format("15:04:05")
	for _, o := range snap.Opportunities {
		fmt.Fprintln(r.w, r.line(snap.Symbol, o, stamp))
	}
}

func (r *Reporter) line(symbol string, o domain.Opportunity, stamp string) string {
	marker := " "
	if o.IsProfitable {
		marker = "*"
	}
	return fmt.Sprintf("%s %s => buy %s: %s | sell %s: %s | abs %s | diff %s | %s",
		symbol, o.Key,
		o.BuySourceID, r.paint(ansiRed, fmt.Sprintf("%.6f", o.BuyPrice)),
		o.SellSourceID, r.paint(ansiGreen, fmt.Sprintf("%.6f", o.SellPrice)),
		r.paint(ansiCyan, fmt.Sprintf("%.5f", o.SellPrice-o.BuyPrice)),
		r.paint(ansiCyan, fmt.Sprintf("%+.2f%%", o.ProfitPercent))+marker,
		stamp,
	)
}

func (r *Reporter) paint(color, s string) string {
	if !r.color {
		return s
	}
	return color + s + ansiReset
}
