// Package history drains tick snapshots from the signal bus into the
// quote sample table and ages old rows out to object storage.
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/amirhosseinsharififard/arbitrage-sub001/internal/domain"
)

// channelTicks matches the channel the trader publishes snapshots on.
const channelTicks = "arb:ticks"

// Config tunes batching and retention.
type Config struct {
	// BatchSize flushes the pending buffer once this many samples
	// accumulate, independent of the flush interval.
	BatchSize int
	// FlushInterval bounds how long a sample sits in memory.
	FlushInterval time.Duration
	// RetentionDays is how far back the quote sample table reaches.
	RetentionDays int
	// ArchiveInterval is the cadence of the archive-then-prune pass.
	ArchiveInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = 200
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = 5 * time.Second
	}
	if c.RetentionDays <= 0 {
		c.RetentionDays = 14
	}
	if c.ArchiveInterval <= 0 {
		c.ArchiveInterval = 6 * time.Hour
	}
	return c
}

// Recorder subscribes to tick snapshots and batches their quotes into the
// history store. When an archiver is present, retention runs archive-first:
// rows are pruned only after the day objects are safely uploaded.
type Recorder struct {
	bus      domain.SignalBus
	store    domain.QuoteHistoryStore
	archiver domain.Archiver // nil when object storage is disabled
	cfg      Config
	logger   *slog.Logger
	now      func() time.Time

	pending  map[string][]domain.Quote
	buffered int
}

func NewRecorder(bus domain.SignalBus, store domain.QuoteHistoryStore, archiver domain.Archiver, cfg Config, logger *slog.Logger) *Recorder {
	return &Recorder{
		bus:      bus,
		store:    store,
		archiver: archiver,
		cfg:      cfg.withDefaults(),
		logger:   logger.With(slog.String("component", "history")),
		now:      time.Now,
		pending:  make(map[string][]domain.Quote),
	}
}

// Run consumes ticks until ctx is cancelled, then flushes what is still
// buffered and returns nil.
func (r *Recorder) Run(ctx context.Context) error {
	ticks, err := r.bus.Subscribe(ctx, channelTicks)
	if err != nil {
		return fmt.Errorf("history: subscribe %s: %w", channelTicks, err)
	}

	flush := time.NewTicker(r.cfg.FlushInterval)
	defer flush.Stop()
	maintain := time.NewTicker(r.cfg.ArchiveInterval)
	defer maintain.Stop()

	r.logger.InfoContext(ctx, "history recorder started",
		slog.Int("batch_size", r.cfg.BatchSize),
		slog.Duration("flush_interval", r.cfg.FlushInterval),
		slog.Int("retention_days", r.cfg.RetentionDays))

	for {
		select {
		case <-ctx.Done():
			r.finalFlush()
			return nil
		case payload, ok := <-ticks:
			if !ok {
				r.finalFlush()
				return nil
			}
			r.ingest(ctx, payload)
		case <-flush.C:
			r.flush(ctx)
		case <-maintain.C:
			r.maintain(ctx)
		}
	}
}

func (r *Recorder) ingest(ctx context.Context, payload []byte) {
	var snap domain.TickSnapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		r.logger.WarnContext(ctx, "dropping malformed tick", slog.Any("error", err))
		return
	}
	if snap.Symbol == "" || len(snap.Quotes) == 0 {
		return
	}
	for _, q := range snap.Quotes {
		r.pending[snap.Symbol] = append(r.pending[snap.Symbol], q)
		r.buffered++
	}
	if r.buffered >= r.cfg.BatchSize {
		r.flush(ctx)
	}
}

// flush writes every pending batch. A failed insert drops the batch: the
// buffer must not grow without bound while the database is down.
func (r *Recorder) flush(ctx context.Context) {
	if r.buffered == 0 {
		return
	}
	for symbol, quotes := range r.pending {
		if err := r.store.InsertQuotes(ctx, symbol, quotes); err != nil {
			r.logger.WarnContext(ctx, "flush failed, dropping batch",
				slog.String("symbol", symbol),
				slog.Int("samples", len(quotes)),
				slog.Any("error", err))
		}
	}
	r.pending = make(map[string][]domain.Quote)
	r.buffered = 0
}

// finalFlush runs after the subscription context is gone, so it gets its
// own short deadline.
func (r *Recorder) finalFlush() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	r.flush(ctx)
}

// maintain archives rows older than the retention window and prunes them.
// Pruning is skipped whenever archiving fails, so no sample is lost before
// it reaches cold storage.
func (r *Recorder) maintain(ctx context.Context) {
	cutoff := r.now().AddDate(0, 0, -r.cfg.RetentionDays)

	if r.archiver != nil {
		archivedQuotes, err := r.archiver.ArchiveQuoteHistory(ctx, cutoff)
		if err != nil {
			r.logger.WarnContext(ctx, "quote archive failed, keeping rows", slog.Any("error", err))
			return
		}
		archivedTrades, err := r.archiver.ArchiveClosedTrades(ctx, cutoff)
		if err != nil {
			r.logger.WarnContext(ctx, "trade archive failed, keeping rows", slog.Any("error", err))
			return
		}
		if archivedQuotes > 0 || archivedTrades > 0 {
			r.logger.InfoContext(ctx, "archived history",
				slog.Int64("quotes", archivedQuotes),
				slog.Int64("trades", archivedTrades),
				slog.Time("cutoff", cutoff))
		}
	}

	pruned, err := r.store.PruneBefore(ctx, cutoff)
	if err != nil {
		r.logger.WarnContext(ctx, "prune failed", slog.Any("error", err))
		return
	}
	if pruned > 0 {
		r.logger.InfoContext(ctx, "pruned quote samples",
			slog.Int64("rows", pruned),
			slog.Time("cutoff", cutoff))
	}
}
