package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/amirhosseinsharififard/arbitrage-sub001/internal/domain"
)

// QuoteHistoryStore implements domain.QuoteHistoryStore on the
// quote_samples table. DEX samples store a NULL ask.
type QuoteHistoryStore struct {
	pool *pgxpool.Pool
}

var _ domain.QuoteHistoryStore = (*QuoteHistoryStore)(nil)

// NewQuoteHistoryStore creates a QuoteHistoryStore backed by the given pool.
func NewQuoteHistoryStore(pool *pgxpool.Pool) *QuoteHistoryStore {
	return &QuoteHistoryStore{pool: pool}
}

// InsertQuotes records one tick's samples for symbol in a single batch
// round trip.
func (s *QuoteHistoryStore) InsertQuotes(ctx context.Context, symbol string, quotes []domain.Quote) error {
	if len(quotes) == 0 {
		return nil
	}

	const query = `
		INSERT INTO quote_samples (symbol, source_id, bid, ask, is_dex, sampled_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	batch := &pgx.Batch{}
	for _, q := range quotes {
		var ask *float64
		if q.HasAsk() {
			a := q.Ask
			ask = &a
		}
		batch.Queue(query, symbol, q.SourceID, q.Bid, ask, q.IsDEX, q.Timestamp)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := range quotes {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: insert quote sample %d of %d: %w", i+1, len(quotes), err)
		}
	}
	return nil
}

// PruneBefore deletes samples taken before cutoff and reports how many
// rows were removed.
func (s *QuoteHistoryStore) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		"DELETE FROM quote_samples WHERE sampled_at < $1", cutoff)
	if err != nil {
		return 0, fmt.Errorf("postgres: prune quote samples: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ListRange returns symbol's samples in [from, to], oldest first.
func (s *QuoteHistoryStore) ListRange(ctx context.Context, symbol string, from, to time.Time) ([]domain.Quote, error) {
	const query = `
		SELECT source_id, bid, ask, is_dex, sampled_at
		FROM quote_samples
		WHERE symbol = $1 AND sampled_at >= $2 AND sampled_at <= $3
		ORDER BY sampled_at ASC`

	rows, err := s.pool.Query(ctx, query, symbol, from, to)
	if err != nil {
		return nil, fmt.Errorf("postgres: list quote samples: %w", err)
	}
	defer rows.Close()

	var quotes []domain.Quote
	for rows.Next() {
		var q domain.Quote
		var ask *float64
		if err := rows.Scan(&q.SourceID, &q.Bid, &ask, &q.IsDEX, &q.Timestamp); err != nil {
			return nil, fmt.Errorf("postgres: scan quote sample: %w", err)
		}
		if ask != nil {
			q.Ask = *ask
		}
		quotes = append(quotes, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list quote samples: %w", err)
	}
	return quotes, nil
}
