package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/amirhosseinsharififard/arbitrage-sub001/internal/domain"
)

const dayLayout = "2006-01-02"

// multipartThreshold switches uploads to the part-splitting manager.
const multipartThreshold = 8 * 1024 * 1024

// Narrow sources the archiver reads from. The Postgres stores satisfy
// them implicitly; tests supply fakes.

// ClosedTradeSource lists settlements before a cutoff.
type ClosedTradeSource interface {
	ListClosedTradesBefore(ctx context.Context, before time.Time) ([]domain.ClosedTrade, error)
}

// QuoteSampleSource lists quote samples in a time range.
type QuoteSampleSource interface {
	ListRange(ctx context.Context, symbol string, from, to time.Time) ([]domain.Quote, error)
}

// Config locates the archive within the bucket.
type Config struct {
	Prefix string
	Symbol string
}

// Archiver implements domain.Archiver: aged rows leave Postgres as
// day-partitioned JSONL objects under {prefix}/{symbol}/. Uploads are
// idempotent; a day already present in the bucket is skipped, so the
// caller may safely prune rows once ArchiveX returns without error.
type Archiver struct {
	writer domain.BlobWriter
	reader domain.BlobReader
	trades ClosedTradeSource
	quotes QuoteSampleSource
	cfg    Config
	logger *slog.Logger
}

var _ domain.Archiver = (*Archiver)(nil)

// NewArchiver creates an Archiver.
func NewArchiver(writer domain.BlobWriter, reader domain.BlobReader, trades ClosedTradeSource, quotes QuoteSampleSource, cfg Config, logger *slog.Logger) *Archiver {
	return &Archiver{
		writer: writer,
		reader: reader,
		trades: trades,
		quotes: quotes,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "archiver")),
	}
}

// ArchiveClosedTrades uploads all settlements closed before the cutoff,
// one object per symbol and day, and returns how many records were newly
// archived.
func (a *Archiver) ArchiveClosedTrades(ctx context.Context, before time.Time) (int64, error) {
	trades, err := a.trades.ListClosedTradesBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive trades query: %w", err)
	}

	groups := make(map[string][]domain.ClosedTrade)
	for _, t := range trades {
		key := a.objectKey(t.Position.Symbol, "trades", t.ClosedAt.UTC().Format(dayLayout))
		groups[key] = append(groups[key], t)
	}
	return archiveGroups(ctx, a, groups)
}

// ArchiveQuoteHistory uploads all quote samples taken before the cutoff,
// one object per day, and returns how many records were newly archived.
func (a *Archiver) ArchiveQuoteHistory(ctx context.Context, before time.Time) (int64, error) {
	quotes, err := a.quotes.ListRange(ctx, a.cfg.Symbol, time.Time{}, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive quotes query: %w", err)
	}

	groups := make(map[string][]domain.Quote)
	for _, q := range quotes {
		key := a.objectKey(a.cfg.Symbol, "quotes", q.Timestamp.UTC().Format(dayLayout))
		groups[key] = append(groups[key], q)
	}
	return archiveGroups(ctx, a, groups)
}

// archiveGroups uploads each group to its key unless the object already
// exists, counting only newly archived records.
func archiveGroups[T any](ctx context.Context, a *Archiver, groups map[string][]T) (int64, error) {
	keys := make([]string, 0, len(groups))
	for key := range groups {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var count int64
	for _, key := range keys {
		exists, err := a.reader.Exists(ctx, key)
		if err != nil {
			return count, fmt.Errorf("s3blob: archive check %s: %w", key, err)
		}
		if exists {
			a.logger.DebugContext(ctx, "archive object already present, skipping",
				slog.String("key", key),
			)
			continue
		}

		buf, err := marshalJSONL(groups[key])
		if err != nil {
			return count, fmt.Errorf("s3blob: archive marshal %s: %w", key, err)
		}
		if err := a.upload(ctx, key, buf); err != nil {
			return count, err
		}

		count += int64(len(groups[key]))
		a.logger.InfoContext(ctx, "archived object",
			slog.String("key", key),
			slog.Int("records", len(groups[key])),
			slog.Int("bytes", len(buf)),
		)
	}
	return count, nil
}

func (a *Archiver) upload(ctx context.Context, key string, buf []byte) error {
	if len(buf) >= multipartThreshold {
		if err := a.writer.PutMultipart(ctx, key, bytes.NewReader(buf), int64(len(buf)/4)); err != nil {
			return fmt.Errorf("s3blob: archive upload %s: %w", key, err)
		}
		return nil
	}
	if err := a.writer.Put(ctx, key, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return fmt.Errorf("s3blob: archive upload %s: %w", key, err)
	}
	return nil
}

// objectKey builds {prefix}/{symbol}/{kind}-{day}.jsonl.
func (a *Archiver) objectKey(symbol, kind, day string) string {
	key := fmt.Sprintf("%s/%s-%s.jsonl", symbol, kind, day)
	if a.cfg.Prefix != "" {
		key = a.cfg.Prefix + "/" + key
	}
	return key
}

// marshalJSONL renders records as newline-delimited compact JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
