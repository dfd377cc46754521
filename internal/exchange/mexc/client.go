// Package mexc implements the MEXC spot REST API as a market-data source.
package mexc

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/amirhosseinsharififard/arbitrage-sub001/internal/crypto"
	"github.com/amirhosseinsharififard/arbitrage-sub001/internal/domain"
)

// DefaultBaseURL is the MEXC spot API root.
const DefaultBaseURL = "https://api.mexc.com"

// depthLimit is the number of book levels requested; only the top level is
// used for sizing.
const depthLimit = 5

// Client is the REST client for the MEXC spot API. Public market-data
// endpoints need no authentication; account endpoints require a signer.
type Client struct {
	sourceID   string
	baseURL    string
	signer     *crypto.APISigner
	httpClient *http.Client
}

var (
	_ domain.QuoteFetcher = (*Client)(nil)
	_ domain.DepthFetcher = (*Client)(nil)
)

// NewClient creates a new MEXC REST client identified as sourceID in
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

// SetSigner configures the client for signed (account) endpoints.
func (c *Client) SetSigner(s *crypto.APISigner) {
	c.signer = s
}

func (c *Client) SourceID() string { return c.sourceID }

func (c *Client) IsDEX() bool { return false }

// FetchQuote returns the current best bid and ask for symbol.
func (c *Client) FetchQuote(ctx context.Context, symbol string) (domain.Quote, error) {
	params := url.Values{}
	params.Set("symbol", NativeSymbol(symbol))

	body, err := c.doGet(ctx, "/api/v3/ticker/bookTicker?"+params.Encode())
	if err != nil {
		return domain.Quote{}, fmt.Errorf("mexc: get book ticker %s: %w", symbol, err)
	}

	var bt bookTicker
	if err := json.Unmarshal(body, &bt); err != nil {
		return domain.Quote{}, fmt.Errorf("mexc: decode book ticker: %w", err)
	}

	return bt.ToQuote(c.sourceID)
}

// FetchDepth returns the top-of-book levels with their sizes.
func (c *Client) FetchDepth(ctx context.Context, symbol string) (domain.Depth, error) {
	params := url.Values{}
	params.Set("symbol", NativeSymbol(symbol))
	params.Set("limit", fmt.Sprint(depthLimit))

	body, err := c.doGet(ctx, "/api/v3/depth?"+params.Encode())
	if err != nil {
		return domain.Depth{}, fmt.Errorf("mexc: get depth %s: %w", symbol, err)
	}

	var book depthResponse
	if err := json.Unmarshal(body, &book); err != nil {
		return domain.Depth{}, fmt.Errorf("mexc: decode depth: %w", err)
	}

	return book.ToDepth()
}

// Signed reports whether an API signer is configured.
func (c *Client) Signed() bool {
	return c.signer != nil
}

// VerifyCredentials performs a signed account query to prove the configured
// API key pair is accepted. Called once at startup in trading modes.
func (c *Client) VerifyCredentials(ctx context.Context) error {
	if c.signer == nil {
		return fmt.Errorf("mexc: no signer configured")
	}

	_, err := c.doGet(ctx, "/api/v3/account?"+c.signer.SignedQuery(url.Values{}))
	if err != nil {
		return fmt.Errorf("mexc: verify credentials: %w", err)
	}
	return nil
}

// doGet sends a GET request and reads the body, mapping non-2xx statuses
// to errors carrying the venue's code and message.
func (c *Client) doGet(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.signer != nil {
		for k, v := range c.signer.Headers() {
			req.Header.Set(k, v)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if err := checkStatus(resp.StatusCode, body); err != nil {
		return nil, err
	}
	return body, nil
}

// checkStatus maps non-2xx HTTP status codes to appropriate errors.
func checkStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	var apiErr apiError
	_ = json.Unmarshal(body, &apiErr)

	switch statusCode {
	case http.StatusTooManyRequests:
		return fmt.Errorf("rate limited: %s (code %d)", apiErr.Msg, apiErr.Code)
	case http.StatusForbidden, http.StatusUnauthorized:
		return fmt.Errorf("unauthorized: %s (code %d)", apiErr.Msg, apiErr.Code)
	case http.StatusBadRequest:
		return fmt.Errorf("bad request: %s (code %d)", apiErr.Msg, apiErr.Code)
	default:
		return fmt.Errorf("HTTP %d: %s (code %d)", statusCode, apiErr.Msg, apiErr.Code)
	}
}
