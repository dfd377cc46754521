package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amirhosseinsharififard/arbitrage-sub001/internal/domain"
	"github.com/amirhosseinsharififard/arbitrage-sub001/internal/quotecache"
	"github.com/amirhosseinsharififard/arbitrage-sub001/internal/server/handler"
)

type fakeSnapshots struct {
	snap *domain.TickSnapshot
}

func (f *fakeSnapshots) Snapshot() *domain.TickSnapshot { return f.snap }

type fakeTradeStore struct {
	trades    []domain.ClosedTrade
	err       error
	gotSymbol string
	gotLimit  int
}

func (f *fakeTradeStore) InsertClosedTrade(context.Context, domain.ClosedTrade) error {
	return nil
}

func (f *fakeTradeStore) ListClosedTrades(_ context.Context, symbol string, limit int) ([]domain.ClosedTrade, error) {
	f.gotSymbol = symbol
	f.gotLimit = limit
	return f.trades, f.err
}

type fakeBlobReader struct {
	infos   []domain.BlobInfo
	objects map[string]string
	listErr error
}

func (f *fakeBlobReader) Get(_ context.Context, path string) (io.ReadCloser, error) {
	body, ok := f.objects[path]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return io.NopCloser(strings.NewReader(body)), nil
}

func (f *fakeBlobReader) List(context.Context, string) ([]domain.BlobInfo, error) {
	return f.infos, f.listErr
}

func (f *fakeBlobReader) Exists(_ context.Context, path string) (bool, error) {
	_, ok := f.objects[path]
	return ok, nil
}

type denyLimiter struct{}

func (denyLimiter) Allow(context.Context, string, int, time.Duration) (bool, error) {
	return false, nil
}

func (denyLimiter) Wait(context.Context, string) error { return nil }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testSnapshot() *domain.TickSnapshot {
	return &domain.TickSnapshot{
		Symbol: "DEBT_USDT",
		Quotes: map[string]domain.Quote{
			"mexc": {SourceID: "mexc", Bid: 105, Ask: 106},
		},
		Opportunities: []domain.Opportunity{
			{Key: "mexc(BID)->lbank(ASK)", ProfitPercent: 3.96, IsProfitable: true},
			{Key: "lbank(BID)->mexc(ASK)", ProfitPercent: -5.66},
		},
		TradingState: domain.TradingState{TotalTrades: 2, TotalProfitUSD: 11.5},
		Timestamp:    time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC),
	}
}

type serverOpts struct {
	cfg     Config
	snap    *domain.TickSnapshot
	store   domain.ClosedTradeStore
	blobs   domain.BlobReader
	limiter domain.RateLimiter
	checks  map[string]handler.HealthCheckFn
}

func newTestServer(opts serverOpts) *Server {
	if opts.cfg.Port == 0 {
		opts.cfg.Port = 8000
	}
	snapshots := &fakeSnapshots{snap: opts.snap}
	handlers := Handlers{
		Health: handler.NewHealthHandler(opts.checks),
		Status: handler.NewStatusHandler("monitor", "DEBT_USDT", time.Now(), snapshots, func() quotecache.Stats {
			return quotecache.Stats{Hits: 3}
		}),
		Quotes:        handler.NewQuotesHandler(snapshots),
		Opportunities: handler.NewOpportunitiesHandler(snapshots),
		Trades:        handler.NewTradesHandler(opts.store, discardLogger()),
		Archives:      handler.NewArchivesHandler(opts.blobs, "history", discardLogger()),
	}
	return NewServer(opts.cfg, handlers, nil, opts.limiter, discardLogger())
}

func doGet(t *testing.T, srv *Server, path string, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestHealthReportsDependencyFailures(t *testing.T) {
	srv := newTestServer(serverOpts{checks: map[string]handler.HealthCheckFn{
		"postgres": func(context.Context) error { return nil },
		"redis":    func(context.Context) error { return errors.New("connection refused") },
	}})

	rec := doGet(t, srv, "/api/health", nil)

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "degraded", body["status"])
	deps := body["dependencies"].(map[string]any)
	assert.Equal(t, "ok", deps["postgres"])
	assert.Contains(t, deps["redis"], "connection refused")
}

func TestHealthWithoutChecksIsAlive(t *testing.T) {
	srv := newTestServer(serverOpts{})

	rec := doGet(t, srv, "/api/health", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decodeBody(t, rec)["status"])
}

func TestStatusIncludesTradingStateAndCache(t *testing.T) {
	srv := newTestServer(serverOpts{snap: testSnapshot()})

	rec := doGet(t, srv, "/api/status", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "monitor", body["mode"])
	assert.Equal(t, "DEBT_USDT", body["symbol"])
	state := body["trading_state"].(map[string]any)
	assert.Equal(t, float64(2), state["total_trades"])
	cache := body["cache"].(map[string]any)
	assert.Equal(t, float64(3), cache["hits"])
}

func TestQuotesBeforeFirstTick(t *testing.T) {
	srv := newTestServer(serverOpts{})

	rec := doGet(t, srv, "/api/quotes", nil)

	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "no tick completed yet")
}

func TestQuotesServesSnapshot(t *testing.T) {
	srv := newTestServer(serverOpts{snap: testSnapshot()})

	rec := doGet(t, srv, "/api/quotes", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "DEBT_USDT", body["symbol"])
	quotes := body["quotes"].(map[string]any)
	require.Contains(t, quotes, "mexc")
}

func TestOpportunitiesProfitableFilter(t *testing.T) {
	srv := newTestServer(serverOpts{snap: testSnapshot()})

	all := decodeBody(t, doGet(t, srv, "/api/opportunities", nil))
	assert.Len(t, all["opportunities"], 2)

	filtered := decodeBody(t, doGet(t, srv, "/api/opportunities?profitable=true", nil))
	legs := filtered["opportunities"].([]any)
	require.Len(t, legs, 1)
	assert.Equal(t, "mexc(BID)->lbank(ASK)", legs[0].(map[string]any)["key"])
}

func TestTradesListsFromStore(t *testing.T) {
	store := &fakeTradeStore{trades: []domain.ClosedTrade{
		{Position: domain.Position{ID: "a", Symbol: "DEBT_USDT"}},
	}}
	srv := newTestServer(serverOpts{store: store})

	rec := doGet(t, srv, "/api/trades?symbol=DEBT_USDT&limit=10", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "DEBT_USDT", store.gotSymbol)
	assert.Equal(t, 10, store.gotLimit)
	assert.Equal(t, float64(1), decodeBody(t, rec)["count"])
}

func TestTradesLimitClamped(t *testing.T) {
	store := &fakeTradeStore{}
	srv := newTestServer(serverOpts{store: store})

	doGet(t, srv, "/api/trades?limit=9999", nil)

	assert.Equal(t, 500, store.gotLimit)
}

func TestTradesWithoutStore(t *testing.T) {
	srv := newTestServer(serverOpts{})

	rec := doGet(t, srv, "/api/trades", nil)

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestArchivesListing(t *testing.T) {
	blobs := &fakeBlobReader{infos: []domain.BlobInfo{
		{Path: "history/DEBT_USDT/quotes-2026-02-09.jsonl", Size: 4096},
		{Path: "history/DEBT_USDT/trades-2026-02-09.jsonl", Size: 512},
	}}
	srv := newTestServer(serverOpts{blobs: blobs})

	rec := doGet(t, srv, "/api/archives", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, float64(2), body["count"])
	archives := body["archives"].([]any)
	first := archives[0].(map[string]any)
	assert.Equal(t, "history/DEBT_USDT/quotes-2026-02-09.jsonl", first["path"])
}

func TestArchivesDownload(t *testing.T) {
	blobs := &fakeBlobReader{objects: map[string]string{
		"history/DEBT_USDT/quotes-2026-02-09.jsonl": `{"source_id":"mexc"}` + "\n",
	}}
	srv := newTestServer(serverOpts{blobs: blobs})

	rec := doGet(t, srv, "/api/archives/history/DEBT_USDT/quotes-2026-02-09.jsonl", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/x-ndjson", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), `"source_id":"mexc"`)
}

func TestArchivesDownloadUnknownKey(t *testing.T) {
	srv := newTestServer(serverOpts{blobs: &fakeBlobReader{}})

	rec := doGet(t, srv, "/api/archives/history/DEBT_USDT/quotes-1999-01-01.jsonl", nil)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestArchivesDownloadOutsidePrefix(t *testing.T) {
	blobs := &fakeBlobReader{objects: map[string]string{"secrets/creds.enc": "nope"}}
	srv := newTestServer(serverOpts{blobs: blobs})

	rec := doGet(t, srv, "/api/archives/secrets/creds.enc", nil)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestArchivesWithoutStorage(t *testing.T) {
	srv := newTestServer(serverOpts{})

	rec := doGet(t, srv, "/api/archives", nil)

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "archive storage is disabled")
}

func TestAuthProtectsAPIButNotHealth(t *testing.T) {
	srv := newTestServer(serverOpts{cfg: Config{Port: 8000, APIKey: "sekrit"}, snap: testSnapshot()})

	assert.Equal(t, http.StatusOK, doGet(t, srv, "/api/health", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, doGet(t, srv, "/api/status", nil).Code)

	bearer := http.Header{"Authorization": []string{"Bearer sekrit"}}
	assert.Equal(t, http.StatusOK, doGet(t, srv, "/api/status", bearer).Code)

	apiKey := http.Header{"X-Api-Key": []string{"sekrit"}}
	assert.Equal(t, http.StatusOK, doGet(t, srv, "/api/status", apiKey).Code)

	// Query fallback, the only route open to browser websocket clients.
	assert.Equal(t, http.StatusOK, doGet(t, srv, "/api/status?api_key=sekrit", nil).Code)

	wrong := http.Header{"X-Api-Key": []string{"nope"}}
	assert.Equal(t, http.StatusUnauthorized, doGet(t, srv, "/api/status", wrong).Code)
}

func TestRateLimitDenies(t *testing.T) {
	srv := newTestServer(serverOpts{
		cfg:     Config{Port: 8000, RateLimitPerMin: 10},
		limiter: denyLimiter{},
	})

	rec := doGet(t, srv, "/api/health", nil)

	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
}

func TestCORSPreflight(t *testing.T) {
	srv := newTestServer(serverOpts{cfg: Config{Port: 8000, CORSOrigins: []string{"http://localhost:3000"}}})

	req := httptest.NewRequest(http.MethodOptions, "/api/status", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("Origin", "http://evil.example")
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}
