package uniswap

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCaller struct {
	result []byte
	err    error
	gotTo  common.Address
}

func (f *fakeCaller) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	f.gotTo = *msg.To
	return f.result, f.err
}

// packReserves ABI-encodes a getReserves() return value.
func packReserves(t *testing.T, reserve0, reserve1 *big.Int) []byte {
	t.Helper()
	out := make([]byte, 96)
	reserve0.FillBytes(out[0:32])
	reserve1.FillBytes(out[32:64])
	// blockTimestampLast stays zero; the source ignores it.
	return out
}

func units(amount int64, decimals int64) *big.Int {
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(decimals), nil)
	return new(big.Int).Mul(big.NewInt(amount), scale)
}

func testSource(caller contractCaller, baseIsToken0 bool) *Source {
	return &Source{
		cfg: Config{
			SourceID:      "uniswap",
			BaseIsToken0:  baseIsToken0,
			BaseDecimals:  18,
			QuoteDecimals: 6,
		},
		pair:   common.HexToAddress("0x1f9840a85d5aF5bf1D1762F925BDADdC4201F984"),
		caller: caller,
	}
}

func TestFetchQuoteDerivesPriceFromReserves(t *testing.T) {
	// 5000 base tokens (18 decimals) against 4000 quote tokens (6
	// decimals): price 0.8.
	caller := &fakeCaller{result: packReserves(t, units(5000, 18), units(4000, 6))}
	s := testSource(caller, true)

	q, err := s.FetchQuote(context.Background(), "DEBT_USDT")
	require.NoError(t, err)

	assert.Equal(t, "uniswap", q.SourceID)
	assert.InDelta(t, 0.8, q.Bid, 1e-12)
	assert.True(t, q.IsDEX)
	assert.Zero(t, q.Ask, "a pool has no ask side")
	assert.NoError(t, q.Validate())
	assert.Equal(t, s.pair, caller.gotTo)
}

func TestFetchQuoteTokenOrder(t *testing.T) {
	// Same pool with the base token in slot 1.
	caller := &fakeCaller{result: packReserves(t, units(4000, 6), units(5000, 18))}
	s := testSource(caller, false)

	q, err := s.FetchQuote(context.Background(), "DEBT_USDT")
	require.NoError(t, err)
	assert.InDelta(t, 0.8, q.Bid, 1e-12)
}

func TestFetchQuoteEmptyPool(t *testing.T) {
	caller := &fakeCaller{result: packReserves(t, big.NewInt(0), units(4000, 6))}
	s := testSource(caller, true)

	_, err := s.FetchQuote(context.Background(), "DEBT_USDT")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no base liquidity")
}

func TestFetchQuoteCallError(t *testing.T) {
	caller := &fakeCaller{err: errors.New("execution reverted")}
	s := testSource(caller, true)

	_, err := s.FetchQuote(context.Background(), "DEBT_USDT")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "execution reverted")
}

func TestFetchQuoteShortReturnData(t *testing.T) {
	caller := &fakeCaller{result: []byte{0x01, 0x02}}
	s := testSource(caller, true)

	_, err := s.FetchQuote(context.Background(), "DEBT_USDT")
	require.Error(t, err)
}

func TestNewRejectsBadPairAddress(t *testing.T) {
	_, err := New(context.Background(), Config{
		SourceID:    "uniswap",
		RPCURL:      "http://localhost:8545",
		PairAddress: "not-an-address",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid pair address")
}
