// Package uniswap reads a Uniswap-V2-style pair contract as a single-price
// market-data source. The pool's reserve ratio is the only price a DEX
// exposes, so quotes carry a bid and no ask.
package uniswap

import (
	"context"
	"fmt"
	"math"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/amirhosseinsharififard/arbitrage-sub001/internal/domain"
)

var pairABI abi.ABI

func init() {
	var err error
	pairABI, err = abi.JSON(strings.NewReader(`[
		{
			"name": "getReserves",
			"type": "function",
			"stateMutability": "view",
			"inputs": [],
			"outputs": [
				{"name": "reserve0", "type": "uint112"},
				{"name": "reserve1", "type": "uint112"},
				{"name": "blockTimestampLast", "type": "uint32"}
			]
		}
	]`))
	if err != nil {
		panic("uniswap pair abi parse: " + err.Error())
	}
}

// contractCaller is the slice of the eth client the source needs; tests
// substitute a fake.
type contractCaller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Config locates the pair and describes its token layout.
type Config struct {
	SourceID    string
	RPCURL      string
	PairAddress string

	// BaseIsToken0 says whether the traded token is the pair's token0.
	BaseIsToken0 bool

	// On-chain decimals of the base (traded) and quote (pricing) tokens.
	BaseDecimals  int
	QuoteDecimals int
}

// Source reads the pair's reserves over JSON-RPC and derives the price.
type Source struct {
	cfg    Config
	pair   common.Address
	caller contractCaller
	client *ethclient.Client
}

var _ domain.QuoteFetcher = (*Source)(nil)

// New dials the RPC endpoint and validates the pair address.
func New(ctx context.Context, cfg Config) (*Source, error) {
	if !common.IsHexAddress(cfg.PairAddress) {
		return nil, fmt.Errorf("uniswap: invalid pair address %q", cfg.PairAddress)
	}

	client, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("uniswap: dial %s: %w", cfg.RPCURL, err)
	}

	return &Source{
		cfg:    cfg,
		pair:   common.HexToAddress(cfg.PairAddress),
		caller: client,
		client: client,
	}, nil
}

func (s *Source) SourceID() string { return s.cfg.SourceID }

func (s *Source) IsDEX() bool { return true }

// FetchQuote calls getReserves() on the pair and converts the reserve
// ratio to a decimal-adjusted price of the base token in quote tokens.
func (s *Source) FetchQuote(ctx context.Context, symbol string) (domain.Quote, error) {
	callData, err := pairABI.Pack("getReserves")
	if err != nil {
		return domain.Quote{}, fmt.Errorf("uniswap: pack getReserves: %w", err)
	}

	result, err := s.caller.CallContract(ctx, ethereum.CallMsg{
		To:   &s.pair,
		Data: callData,
	}, nil)
	if err != nil {
		return domain.Quote{}, fmt.Errorf("uniswap: call getReserves %s: %w", symbol, err)
	}

	vals, err := pairABI.Unpack("getReserves", result)
	if err != nil {
		return domain.Quote{}, fmt.Errorf("uniswap: unpack getReserves: %w", err)
	}
	if len(vals) < 2 {
		return domain.Quote{}, fmt.Errorf("uniswap: getReserves returned %d values", len(vals))
	}

	reserve0, ok0 := vals[0].(*big.Int)
	reserve1, ok1 := vals[1].(*big.Int)
	if !ok0 || !ok1 {
		return domain.Quote{}, fmt.Errorf("uniswap: unexpected reserve types %T, %T", vals[0], vals[1])
	}

	price, err := s.price(reserve0, reserve1)
	if err != nil {
		return domain.Quote{}, fmt.Errorf("uniswap: %s: %w", symbol, err)
	}

	return domain.Quote{
		SourceID:  s.cfg.SourceID,
		Bid:       price,
		IsDEX:     true,
		Timestamp: time.Now(),
	}, nil
}

// price converts raw reserves to a human price: quote reserve over base
// reserve, rescaled by the difference in token decimals.
func (s *Source) price(reserve0, reserve1 *big.Int) (float64, error) {
	base, quote := reserve0, reserve1
	if !s.cfg.BaseIsToken0 {
		base, quote = reserve1, reserve0
	}
	if base.Sign() == 0 {
		return 0, fmt.Errorf("pair has no base liquidity")
	}

	ratio := new(big.Float).Quo(new(big.Float).SetInt(quote), new(big.Float).SetInt(base))
	raw, _ := ratio.Float64()
	return raw * math.Pow10(s.cfg.BaseDecimals-s.cfg.QuoteDecimals), nil
}

// Close releases the underlying RPC connection.
func (s *Source) Close() {
	if s.client != nil {
		s.client.Close()
	}
}
