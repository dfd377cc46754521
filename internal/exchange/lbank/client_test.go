package lbank

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNativeSymbol(t *testing.T) {
	assert.Equal(t, "debt_usdt", NativeSymbol("DEBT_USDT"))
}

func TestFetchQuoteFromBook(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/depth.do", r.URL.Path)
		assert.Equal(t, "debt_usdt", r.URL.Query().Get("symbol"))
		assert.Equal(t, "1", r.URL.Query().Get("size"))
		w.Write([]byte(`{"result":"true","error_code":0,"ts":1700000000000,` +
			`"data":{"asks":[[0.001250,5000.0]],"bids":[[0.001244,8000.0]]}}`))
	}))
	defer srv.Close()

	c := NewClient("lbank", srv.URL)
	q, err := c.FetchQuote(context.Background(), "DEBT_USDT")
	require.NoError(t, err)

	assert.Equal(t, "lbank", q.SourceID)
	assert.Equal(t, 0.001244, q.Bid)
	assert.Equal(t, 0.001250, q.Ask)
	assert.False(t, q.IsDEX)
	assert.Equal(t, time.UnixMilli(1700000000000), q.Timestamp)
	assert.NoError(t, q.Validate())
}

func TestFetchDepth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "5", r.URL.Query().Get("size"))
		w.Write([]byte(`{"result":"true","error_code":0,"ts":1700000000000,` +
			`"data":{"asks":[[0.001250,5000.0],[0.001260,900.0]],"bids":[[0.001244,8000.0],[0.001240,100.0]]}}`))
	}))
	defer srv.Close()

	c := NewClient("lbank", srv.URL)
	d, err := c.FetchDepth(context.Background(), "DEBT_USDT")
	require.NoError(t, err)

	assert.Equal(t, 0.001244, d.BestBid.Price)
	assert.Equal(t, 8000.0, d.BestBid.Amount)
	assert.Equal(t, 0.001250, d.BestAsk.Price)
	assert.Equal(t, 5000.0, d.BestAsk.Amount)
}

func TestVenueErrorCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"result":"false","error_code":10007,"ts":1700000000000,"data":null}`))
	}))
	defer srv.Close()

	c := NewClient("lbank", srv.URL)
	_, err := c.FetchQuote(context.Background(), "NOPE_USDT")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "10007")
}

func TestEmptyBookSide(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"result":"true","error_code":0,"ts":1700000000000,"data":{"asks":[],"bids":[[0.001,1.0]]}}`))
	}))
	defer srv.Close()

	c := NewClient("lbank", srv.URL)
	_, err := c.FetchQuote(context.Background(), "DEBT_USDT")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty book side")
}

func TestTicker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/ticker.do", r.URL.Path)
		w.Write([]byte(`{"result":"true","error_code":0,"ts":1700000000500,"data":[` +
			`{"symbol":"debt_usdt","timestamp":1700000000000,` +
			`"ticker":{"high":0.00131,"low":0.00119,"latest":0.001247,"vol":1234567.0,"turnover":1532.8,"change":2.1}}]}`))
	}))
	defer srv.Close()

	c := NewClient("lbank", srv.URL)
	stats, err := c.Ticker(context.Background(), "DEBT_USDT")
	require.NoError(t, err)

	assert.Equal(t, "debt_usdt", stats.Symbol)
	assert.Equal(t, 0.001247, stats.Latest)
	assert.Equal(t, 1234567.0, stats.Volume)
	assert.Equal(t, 2.1, stats.ChangePercent)
	assert.Equal(t, time.UnixMilli(1700000000000), stats.Timestamp)
}

func TestTickerUnknownSymbol(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"result":"true","error_code":0,"ts":1700000000000,"data":[]}`))
	}))
	defer srv.Close()

	c := NewClient("lbank", srv.URL)
	_, err := c.Ticker(context.Background(), "NOPE_USDT")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown symbol")
}

func TestHTTPErrorIncludesBodySnippet(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("upstream unavailable"))
	}))
	defer srv.Close()

	c := NewClient("lbank", srv.URL)
	_, err := c.FetchQuote(context.Background(), "DEBT_USDT")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 502")
	assert.Contains(t, err.Error(), "upstream unavailable")
}
