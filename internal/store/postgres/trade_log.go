package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/amirhosseinsharififard/arbitrage-sub001/internal/domain"
)

// TradeLog implements domain.TradeLog: one append-only JSONB record per
// position transition.
type TradeLog struct {
	pool *pgxpool.Pool
}

var _ domain.TradeLog = (*TradeLog)(nil)

// NewTradeLog creates a TradeLog backed by the given connection pool.
func NewTradeLog(pool *pgxpool.Pool) *TradeLog {
	return &TradeLog{pool: pool}
}

// LogTrade appends one event record. Callers treat a returned error as a
// warning; the tick proceeds regardless.
func (l *TradeLog) LogTrade(ctx context.Context, action domain.TradeAction, symbol string, payload map[string]any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("postgres: encode trade event: %w", err)
	}

	_, err = l.pool.Exec(ctx,
		"INSERT INTO trade_events (action, symbol, payload) VALUES ($1, $2, $3)",
		string(action), symbol, data,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert trade event: %w", err)
	}
	return nil
}

// ClosedTradeStore implements domain.ClosedTradeStore.
type ClosedTradeStore struct {
	pool *pgxpool.Pool
}

var _ domain.ClosedTradeStore = (*ClosedTradeStore)(nil)

// NewClosedTradeStore creates a ClosedTradeStore backed by the given pool.
func NewClosedTradeStore(pool *pgxpool.Pool) *ClosedTradeStore {
	return &ClosedTradeStore{pool: pool}
}

const closedTradeCols = `id, symbol, leg_key, buy_source_id, sell_source_id,
	open_buy_price, open_sell_price, close_buy_price, close_sell_price,
	volume, investment_usd, expected_profit_usd,
	original_diff_percent, current_diff_percent,
	gross_profit_percent, net_profit_percent, actual_profit_usd,
	reason, opened_at, closed_at`

// InsertClosedTrade persists one settlement record. Re-publishing the same
// position id is a no-op, so retries after partial failures are safe.
func (s *ClosedTradeStore) InsertClosedTrade(ctx context.Context, trade domain.ClosedTrade) error {
	const query = `
		INSERT INTO closed_trades (` + closedTradeCols + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
			$11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
		ON CONFLICT (id) DO NOTHING`

	p := trade.Position
	_, err := s.pool.Exec(ctx, query,
		p.ID, p.Symbol, p.LegKey, p.BuySourceID, p.SellSourceID,
		p.OpenBuyPrice, p.OpenSellPrice, trade.CloseBuyPrice, trade.CloseSellPrice,
		p.Volume, p.InvestmentUSD, p.ExpectedProfitUSD,
		trade.OriginalDiffPercent, trade.CurrentDiffPercent,
		trade.GrossProfitPercent, trade.NetProfitPercent, trade.ActualProfitUSD,
		string(trade.Reason), p.OpenedAt, trade.ClosedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert closed trade %s: %w", p.ID, err)
	}
	return nil
}

// ListClosedTrades returns up to limit settlements for symbol, most recent
// first. An empty symbol lists across all symbols.
func (s *ClosedTradeStore) ListClosedTrades(ctx context.Context, symbol string, limit int) ([]domain.ClosedTrade, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT ` + closedTradeCols + ` FROM closed_trades`
	args := []any{}
	if symbol != "" {
		query += " WHERE symbol = $1"
		args = append(args, symbol)
	}
	query += fmt.Sprintf(" ORDER BY closed_at DESC LIMIT %d", limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list closed trades: %w", err)
	}
	defer rows.Close()

	trades, err := scanClosedTrades(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan closed trades: %w", err)
	}
	return trades, nil
}

// ListClosedTradesBefore returns every settlement closed before the
// cutoff, oldest first. The archiver drains this in day batches.
func (s *ClosedTradeStore) ListClosedTradesBefore(ctx context.Context, before time.Time) ([]domain.ClosedTrade, error) {
	query := `SELECT ` + closedTradeCols + ` FROM closed_trades
		WHERE closed_at < $1 ORDER BY closed_at ASC`

	rows, err := s.pool.Query(ctx, query, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list closed trades before %s: %w", before.Format(time.RFC3339), err)
	}
	defer rows.Close()

	trades, err := scanClosedTrades(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan closed trades: %w", err)
	}
	return trades, nil
}

func scanClosedTrades(rows pgx.Rows) ([]domain.ClosedTrade, error) {
	var trades []domain.ClosedTrade
	for rows.Next() {
		var t domain.ClosedTrade
		var reason string
		if err := rows.Scan(
			&t.Position.ID, &t.Position.Symbol, &t.Position.LegKey,
			&t.Position.BuySourceID, &t.Position.SellSourceID,
			&t.Position.OpenBuyPrice, &t.Position.OpenSellPrice,
			&t.CloseBuyPrice, &t.CloseSellPrice,
			&t.Position.Volume, &t.Position.InvestmentUSD, &t.Position.ExpectedProfitUSD,
			&t.OriginalDiffPercent, &t.CurrentDiffPercent,
			&t.GrossProfitPercent, &t.NetProfitPercent, &t.ActualProfitUSD,
			&reason, &t.Position.OpenedAt, &t.ClosedAt,
		); err != nil {
			return nil, err
		}
		t.Position.Status = domain.PositionStatusOpen
		t.Reason = domain.CloseReason(reason)
		trades = append(trades, t)
	}
	return trades, rows.Err()
}
