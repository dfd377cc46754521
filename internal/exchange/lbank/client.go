// Package lbank implements the LBank v2 public REST API as a market-data
// source. Two-sided quotes come from the top of the order book, matching
// how the venue itself displays its price.
package lbank

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/amirhosseinsharififard/arbitrage-sub001/internal/domain"
)

// DefaultBaseURL is the LBank v2 API root.
const DefaultBaseURL = "https://api.lbkex.com"

// depthSize is the number of book levels requested.
const depthSize = 5

// Client is the REST client for the LBank public API.
type Client struct {
	sourceID   string
	baseURL    string
	httpClient *http.Client
}

var (
	_ domain.QuoteFetcher = (*Client)(nil)
	_ domain.DepthFetcher = (*Client)(nil)
)

// NewClient creates a new LBank REST client identified as sourceID in
// quotes. An empty baseURL selects the production API.
func NewClient(sourceID, baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		sourceID: sourceID,
		baseURL:  strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (c *Client) SourceID() string { return c.sourceID }

func (c *Client) IsDEX() bool { return false }

// FetchQuote returns the best bid and ask read from the order book.
func (c *Client) FetchQuote(ctx context.Context, symbol string) (domain.Quote, error) {
	book, ts, err := c.fetchBook(ctx, symbol, 1)
	if err != nil {
		return domain.Quote{}, fmt.Errorf("lbank: get quote %s: %w", symbol, err)
	}

	depth, err := book.ToDepth()
	if err != nil {
		return domain.Quote{}, fmt.Errorf("lbank: quote %s: %w", symbol, err)
	}

	return domain.Quote{
		SourceID:  c.sourceID,
		Bid:       depth.BestBid.Price,
		Ask:       depth.BestAsk.Price,
		Timestamp: ts,
	}, nil
}

// FetchDepth returns the top-of-book levels with their sizes.
func (c *Client) FetchDepth(ctx context.Context, symbol string) (domain.Depth, error) {
	book, _, err := c.fetchBook(ctx, symbol, depthSize)
	if err != nil {
		return domain.Depth{}, fmt.Errorf("lbank: get depth %s: %w", symbol, err)
	}

	depth, err := book.ToDepth()
	if err != nil {
		return domain.Depth{}, fmt.Errorf("lbank: depth %s: %w", symbol, err)
	}
	return depth, nil
}

// Ticker returns the venue's 24h statistics for symbol. Used at startup to
// confirm the pair exists before trading begins.
func (c *Client) Ticker(ctx context.Context, symbol string) (TickerStats, error) {
	params := url.Values{}
	params.Set("symbol", NativeSymbol(symbol))

	data, _, err := c.doGet(ctx, "/v2/ticker.do?"+params.Encode())
	if err != nil {
		return TickerStats{}, fmt.Errorf("lbank: get ticker %s: %w", symbol, err)
	}

	var entries []tickerEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return TickerStats{}, fmt.Errorf("lbank: decode ticker: %w", err)
	}
	if len(entries) == 0 {
		return TickerStats{}, fmt.Errorf("lbank: unknown symbol %s", symbol)
	}

	return entries[0].ToStats(), nil
}

func (c *Client) fetchBook(ctx context.Context, symbol string, size int) (depthData, time.Time, error) {
	params := url.Values{}
	params.Set("symbol", NativeSymbol(symbol))
	params.Set("size", fmt.Sprint(size))

	data, ts, err := c.doGet(ctx, "/v2/depth.do?"+params.Encode())
	if err != nil {
		return depthData{}, time.Time{}, err
	}

	var book depthData
	if err := json.Unmarshal(data, &book); err != nil {
		return depthData{}, time.Time{}, fmt.Errorf("decode depth: %w", err)
	}
	return book, ts, nil
}

// doGet sends a GET request and unwraps LBank's response envelope,
// returning the inner data payload and the server's epoch-millis timestamp.
func (c *Client) doGet(ctx context.Context, path string) (json.RawMessage, time.Time, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet := body
		if len(snippet) > 200 {
			snippet = snippet[:200]
		}
		return nil, time.Time{}, fmt.Errorf("HTTP %d: %s", resp.StatusCode, snippet)
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, time.Time{}, fmt.Errorf("decode envelope: %w", err)
	}
	if !env.OK() {
		return nil, time.Time{}, fmt.Errorf("venue error code %d", env.ErrorCode)
	}

	return env.Data, time.UnixMilli(env.TS), nil
}
