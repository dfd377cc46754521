package exchange

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildKnownKinds(t *testing.T) {
	ctx := context.Background()

	m, err := Build(ctx, KindMEXC, Options{SourceID: "mexc"})
	require.NoError(t, err)
	assert.Equal(t, "mexc", m.SourceID())
	assert.False(t, m.IsDEX())

	l, err := Build(ctx, KindLBank, Options{SourceID: "lbank"})
	require.NoError(t, err)
	assert.Equal(t, "lbank", l.SourceID())
	assert.False(t, l.IsDEX())

	// The eth client dials lazily, so construction succeeds offline.
	u, err := Build(ctx, KindUniswap, Options{
		SourceID:      "uniswap",
		RPCURL:        "http://127.0.0.1:8545",
		PairAddress:   "0x1f9840a85d5aF5bf1D1762F925BDADdC4201F984",
		BaseIsToken0:  true,
		BaseDecimals:  18,
		QuoteDecimals: 6,
	})
	require.NoError(t, err)
	assert.True(t, u.IsDEX())
}

func TestBuildUnknownKind(t *testing.T) {
	_, err := Build(context.Background(), "kraken", Options{SourceID: "kraken"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown source kind "kraken"`)
}

func TestBuildUniswapBadAddress(t *testing.T) {
	_, err := Build(context.Background(), KindUniswap, Options{
		SourceID:    "uniswap",
		RPCURL:      "http://127.0.0.1:8545",
		PairAddress: "0xnope",
	})
	require.Error(t, err)
}
