// Package quotecache keeps the most recent price sample per market-data
// source and schedules refreshes through a bounded, deduplicated queue.
// Readers never block on network I/O: Get returns whatever is cached
// (possibly stale) and enqueues a refresh for the queue drain to pick up.
package quotecache

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/amirhosseinsharififard/arbitrage-sub001/internal/domain"
)

// FetchFunc acquires one fresh sample from a market-data collaborator.
type FetchFunc func(ctx context.Context) (domain.Quote, error)

// Policy is the per-source freshness target. RefreshInterval paces how often
// a key may be re-enqueued; MaxAge is the staleness bound that marks an
// entry as needing refresh.
type Policy struct {
	RefreshInterval time.Duration
	MaxAge          time.Duration
}

// Default policy applied to sources without an explicit entry.
const (
	DefaultRefreshInterval = 50 * time.Millisecond
	DefaultMaxAge          = 100 * time.Millisecond
)

// Config bounds the refresh queue and the retention sweep.
type Config struct {
	QueueBatchSize int           // max fetches drained per ProcessQueue call
	MaxInFlight    int           // global cap on concurrent fetches
	Retention      time.Duration // entries older than this are swept out
	SweepInterval  time.Duration // cadence of the background sweep
}

// Stats are the cache's cumulative counters plus current queue gauges.
type Stats struct {
	Hits          int64 `json:"hits"`
	StaleHits     int64 `json:"stale_hits"`
	Misses        int64 `json:"misses"`
	Enqueued      int64 `json:"enqueued"`
	Fetches       int64 `json:"fetches"`
	FetchErrors   int64 `json:"fetch_errors"`
	InvalidQuotes int64 `json:"invalid_quotes"`
	Evictions     int64 `json:"evictions"`
	QueueDepth    int   `json:"queue_depth"`
	InFlight      int   `json:"in_flight"`
}

type key struct {
	sourceID string
	symbol   string
}

func (k key) String() string { return k.sourceID + "/" + k.symbol }

type entry struct {
	quote    domain.Quote
	cachedAt time.Time
	ttl      time.Duration
}

// Cache is the freshness-aware quote cache. All state is guarded by a single
// mutex; fetches run outside the lock so a slow source never stalls readers.
type Cache struct {
	mu          sync.Mutex
	entries     map[key]entry
	queued      map[key]FetchFunc
	order       []key
	inFlight    map[key]struct{}
	lastEnqueue map[key]time.Time
	fetchWarned map[key]bool
	badWarned   map[key]bool

	policies map[string]Policy
	cfg      Config
	stats    Stats
	logger   *slog.Logger
	now      func() time.Time
}

// New creates a Cache with the given per-source policies. Zero or negative
// Config fields fall back to the stock bounds (batch 5, in-flight 10,
// retention 5m, sweep 30s).
func New(policies map[string]Policy, cfg Config, logger *slog.Logger) *Cache {
	if cfg.QueueBatchSize <= 0 {
		cfg.QueueBatchSize = 5
	}
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = 10
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 5 * time.Minute
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 30 * time.Second
	}
	if policies == nil {
		policies = map[string]Policy{}
	}
	return &Cache{
		entries:     make(map[key]entry),
		queued:      make(map[key]FetchFunc),
		inFlight:    make(map[key]struct{}),
		lastEnqueue: make(map[key]time.Time),
		fetchWarned: make(map[key]bool),
		badWarned:   make(map[key]bool),
		policies:    policies,
		cfg:         cfg,
		logger:      logger.With(slog.String("component", "quotecache")),
		now:         time.Now,
	}
}

func (c *Cache) policyFor(sourceID string) Policy {
	if p, ok := c.policies[sourceID]; ok {
		if p.RefreshInterval <= 0 {
			p.RefreshInterval = DefaultRefreshInterval
		}
		if p.MaxAge <= 0 {
			p.MaxAge = DefaultMaxAge
		}
		return p
	}
	return Policy{RefreshInterval: DefaultRefreshInterval, MaxAge: DefaultMaxAge}
}

// NeedsRefresh reports whether no sample exists for (sourceID, symbol) or
// the cached one has outlived the source's MaxAge.
func (c *Cache) NeedsRefresh(sourceID, symbol string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.needsRefreshLocked(key{sourceID, symbol}, c.now())
}

func (c *Cache) needsRefreshLocked(k key, now time.Time) bool {
	e, ok := c.entries[k]
	if !ok {
		return true
	}
	return now.Sub(e.cachedAt) > e.ttl
}

// Get returns the cached quote immediately, possibly stale; the boolean is
// false when no sample has ever been stored. When the entry needs a refresh
// and the source's pacing interval has elapsed, fetch is enqueued under the
// (sourceID, symbol) dedup key: a key already queued or in flight is never
// queued twice. Get itself never performs I/O.
func (c *Cache) Get(sourceID, symbol string, fetch FetchFunc) (domain.Quote, bool) {
	k := key{sourceID, symbol}
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[k]
	stale := c.needsRefreshLocked(k, now)
	switch {
	case !ok:
		c.stats.Misses++
	case stale:
		c.stats.StaleHits++
	default:
		c.stats.Hits++
	}

	if stale && fetch != nil {
		c.enqueueLocked(k, fetch, now)
	}
	return e.quote, ok
}

// enqueueLocked adds the key to the refresh queue unless it is already
// queued, already in flight, or inside its pacing window.
func (c *Cache) enqueueLocked(k key, fetch FetchFunc, now time.Time) {
	if _, dup := c.queued[k]; dup {
		return
	}
	if _, busy := c.inFlight[k]; busy {
		return
	}
	if last, ok := c.lastEnqueue[k]; ok {
		if now.Sub(last) < c.policyFor(k.sourceID).RefreshInterval {
			return
		}
	}
	c.queued[k] = fetch
	c.order = append(c.order, k)
	c.lastEnqueue[k] = now
	c.stats.Enqueued++
}

// ForceGet bypasses the queue entirely: it awaits fetch inline, stores the
// result, and returns it. Any pending queued refresh for the key is dropped,
// since the entry is now current. Used only for explicit resynchronization.
func (c *Cache) ForceGet(ctx context.Context, sourceID, symbol string, fetch FetchFunc) (domain.Quote, error) {
	k := key{sourceID, symbol}

	q, err := fetch(ctx)
	if err != nil {
		c.noteFetchError(k, err)
		return domain.Quote{}, fmt.Errorf("quotecache: force get %s: %w", k, err)
	}
	if err := c.store(k, q); err != nil {
		return domain.Quote{}, err
	}

	c.mu.Lock()
	delete(c.queued, k)
	c.mu.Unlock()
	return q, nil
}

// ProcessQueue drains up to QueueBatchSize pending refreshes, subject to the
// global in-flight cap, runs them concurrently, and waits for that batch to
// finish. It returns the number of fetches launched. Failed fetches keep any
// stale entry in place and are not retried here; the next Get re-enqueues.
func (c *Cache) ProcessQueue(ctx context.Context) int {
	type item struct {
		k     key
		fetch FetchFunc
	}

	c.mu.Lock()
	var batch []item
	for len(batch) < c.cfg.QueueBatchSize && len(c.order) > 0 && len(c.inFlight) < c.cfg.MaxInFlight {
		k := c.order[0]
		c.order = c.order[1:]
		fetch, ok := c.queued[k]
		if !ok {
			// Dropped by ForceGet after being queued.
			continue
		}
		delete(c.queued, k)
		c.inFlight[k] = struct{}{}
		batch = append(batch, item{k, fetch})
	}
	c.mu.Unlock()

	var wg sync.WaitGroup
	for _, it := range batch {
		wg.Add(1)
		go func(it item) {
			defer wg.Done()
			c.runFetch(ctx, it.k, it.fetch)
		}(it)
	}
	wg.Wait()
	return len(batch)
}

// runFetch performs one queued fetch and transitions the key from in-flight
// to cached or dropped-on-error.
func (c *Cache) runFetch(ctx context.Context, k key, fetch FetchFunc) {
	q, err := fetch(ctx)

	if err != nil {
		c.noteFetchError(k, err)
	} else {
		err = c.store(k, q)
	}

	c.mu.Lock()
	delete(c.inFlight, k)
	c.mu.Unlock()
	_ = err
}

// store validates and caches a fetched sample. Invalid samples are discarded
// and warned once per key until a valid one arrives.
func (c *Cache) store(k key, q domain.Quote) error {
	if err := q.Validate(); err != nil {
		c.mu.Lock()
		c.stats.InvalidQuotes++
		warned := c.badWarned[k]
		c.badWarned[k] = true
		c.mu.Unlock()
		if !warned {
			c.logger.Warn("discarding invalid quote",
				slog.String("source", k.sourceID),
				slog.String("symbol", k.symbol),
				slog.String("error", err.Error()),
			)
		}
		return err
	}

	if q.Timestamp.IsZero() {
		q.Timestamp = c.now()
	}

	c.mu.Lock()
	c.entries[k] = entry{quote: q, cachedAt: c.now(), ttl: c.policyFor(k.sourceID).MaxAge}
	c.stats.Fetches++
	recovered := c.fetchWarned[k] || c.badWarned[k]
	c.fetchWarned[k] = false
	c.badWarned[k] = false
	c.mu.Unlock()

	if recovered {
		c.logger.Info("source recovered",
			slog.String("source", k.sourceID),
			slog.String("symbol", k.symbol),
		)
	}
	return nil
}

// noteFetchError counts a failed fetch and warns once per key until the next
// success resets the flag. The stale entry, if any, stays in the cache.
func (c *Cache) noteFetchError(k key, err error) {
	c.mu.Lock()
	c.stats.FetchErrors++
	warned := c.fetchWarned[k]
	c.fetchWarned[k] = true
	c.mu.Unlock()
	if !warned {
		c.logger.Warn("quote fetch failed, serving stale until recovery",
			slog.String("source", k.sourceID),
			slog.String("symbol", k.symbol),
			slog.String("error", err.Error()),
		)
	}
}

// Sweep evicts entries older than the retention horizon, independent of
// their MaxAge, purely to bound memory for keys no longer queried. Returns
// the number of entries removed.
func (c *Cache) Sweep(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	evicted := 0
	for k, e := range c.entries {
		if now.Sub(e.cachedAt) > c.cfg.Retention {
			delete(c.entries, k)
			delete(c.lastEnqueue, k)
			delete(c.fetchWarned, k)
			delete(c.badWarned, k)
			evicted++
		}
	}
	c.stats.Evictions += int64(evicted)
	return evicted
}

// Run drives the periodic sweep until the context ends.
func (c *Cache) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if n := c.Sweep(c.now()); n > 0 {
				c.logger.Debug("swept stale cache entries", slog.Int("evicted", n))
			}
		}
	}
}

// Stats returns a snapshot of the cache counters and queue gauges.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.QueueDepth = len(c.queued)
	s.InFlight = len(c.inFlight)
	return s
}
