// Package notify fans position and source events out to operator
// channels. Senders are independent: one failing webhook never blocks
// the others, and a notification failure never aborts a trading tick.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/amirhosseinsharififard/arbitrage-sub001/internal/domain"
)

// Event types operators can filter on.
const (
	EventPositionOpen  = "position_open"
	EventPositionClose = "position_close"
	EventSourceDown    = "source_down"
)

// Sender is one delivery channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Notifier dispatches events to its senders, honouring the configured
// event filter. An empty filter allows everything.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier delivering to the given senders. Only
// event types listed in events pass the filter; an empty list allows all.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// PositionOpened reports a freshly opened position.
func (n *Notifier) PositionOpened(ctx context.Context, p *domain.Position) error {
	message := fmt.Sprintf(
		"%s %s\nbuy %s @ %.6f, sell %s @ %.6f\nvolume %.4f, invested $%.2f, expected %+.2f%%",
		p.Symbol, p.LegKey,
		p.BuySourceID, p.OpenBuyPrice, p.SellSourceID, p.OpenSellPrice,
		p.Volume, p.InvestmentUSD, p.ExpectedProfitUSD,
	)
	return n.Notify(ctx, EventPositionOpen, "Position opened", message)
}

// PositionClosed reports a settlement, target hit or stop loss.
func (n *Notifier) PositionClosed(ctx context.Context, t *domain.ClosedTrade) error {
	title := "Position closed"
	if t.Reason == domain.CloseReasonStopLoss {
		title = "Position stopped out"
	}
	message := fmt.Sprintf(
		"%s %s (%s)\nspread %.4f%% -> %.4f%%, net %+.4f%%\nprofit $%+.2f",
		t.Position.Symbol, t.Position.LegKey, t.Reason,
		t.OriginalDiffPercent, t.CurrentDiffPercent, t.NetProfitPercent,
		t.ActualProfitUSD,
	)
	return n.Notify(ctx, EventPositionClose, title, message)
}

// SourceDown reports a market-data source that stopped serving quotes.
func (n *Notifier) SourceDown(ctx context.Context, sourceID, symbol string, cause error) error {
	message := fmt.Sprintf("%s stopped serving %s: %v\nstale quotes remain in use until it recovers", sourceID, symbol, cause)
	return n.Notify(ctx, EventSourceDown, "Source down", message)
}

// Notify delivers to every sender when the event type passes the filter.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if len(n.events) > 0 && !n.events[event] {
		n.logger.DebugContext(ctx, "event filtered out", slog.String("event", event))
		return nil
	}
	return n.dispatch(ctx, title, message)
}

// dispatch tries every sender and collects failures into one error so a
// dead webhook cannot starve the rest.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	if len(n.senders) == 0 {
		return nil
	}

	var errs []string
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Sprintf("%s: %v", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}

	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}
