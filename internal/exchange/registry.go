// Package exchange constructs market-data sources by venue kind. The
// mapping from a configured source to its client happens once at startup;
// an unrecognized kind fails the boot rather than a tick.
package exchange

import (
	"context"
	"fmt"

	"github.com/amirhosseinsharififard/arbitrage-sub001/internal/crypto"
	"github.com/amirhosseinsharififard/arbitrage-sub001/internal/domain"
	"github.com/amirhosseinsharififard/arbitrage-sub001/internal/exchange/lbank"
	"github.com/amirhosseinsharififard/arbitrage-sub001/internal/exchange/mexc"
	"github.com/amirhosseinsharififard/arbitrage-sub001/internal/exchange/uniswap"
)

// Known source kinds.
const (
	KindMEXC    = "mexc"
	KindLBank   = "lbank"
	KindUniswap = "uniswap"
)

// Options carries the per-source settings a constructor may need. REST
// kinds read SourceID, BaseURL, and Credentials; the on-chain kind reads
// the RPC and pair fields.
type Options struct {
	SourceID    string
	BaseURL     string
	Credentials crypto.Credentials

	RPCURL        string
	PairAddress   string
	BaseIsToken0  bool
	BaseDecimals  int
	QuoteDecimals int
}

// Build constructs the market-data source for kind.
func Build(ctx context.Context, kind string, opts Options) (domain.QuoteFetcher, error) {
	switch kind {
	case KindMEXC:
		c := mexc.NewClient(opts.SourceID, opts.BaseURL)
		if opts.Credentials.APIKey != "" && opts.Credentials.APISecret != "" {
			c.SetSigner(crypto.NewAPISigner(opts.Credentials))
		}
		return c, nil

	case KindLBank:
		return lbank.NewClient(opts.SourceID, opts.BaseURL), nil

	case KindUniswap:
		return uniswap.New(ctx, uniswap.Config{
			SourceID:      opts.SourceID,
			RPCURL:        opts.RPCURL,
			PairAddress:   opts.PairAddress,
			BaseIsToken0:  opts.BaseIsToken0,
			BaseDecimals:  opts.BaseDecimals,
			QuoteDecimals: opts.QuoteDecimals,
		})

	default:
		return nil, fmt.Errorf("exchange: unknown source kind %q", kind)
	}
}
