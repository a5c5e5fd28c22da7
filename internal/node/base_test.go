package node

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blocknest/sweeperd/pkg/common/config"
	"github.com/blocknest/sweeperd/pkg/common/types"
)

func newTestNode(t *testing.T, symbol string, handler http.HandlerFunc) Node {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	factory := NewFactory()
	t.Cleanup(factory.Close)

	n, err := factory.New(config.CoinConfig{
		Symbol:         symbol,
		APIKey:         "test-key",
		BlockbookURL:   srv.URL,
		RPCURL:         srv.URL,
		Decimals:       8,
		RequestTimeout: 5 * time.Second,
	})
	require.NoError(t, err)
	return n
}

func TestFactory_AppliesConfiguredRateLimit(t *testing.T) {
	// A 2 RPS budget drains its burst and then refuses immediately,
	// regardless of the built-in default.
	limiter := newLimiter(config.CoinConfig{RateLimitRPS: 2})
	defer limiter.Close()

	for i := 0; i < rateLimitBurst; i++ {
		require.True(t, limiter.TryAcquire("https://node"), "burst token %d", i+1)
	}
	assert.False(t, limiter.TryAcquire("https://node"))

	// Unset budget falls back to the hosted-service default
	fallback := newLimiter(config.CoinConfig{})
	defer fallback.Close()
	assert.True(t, fallback.TryAcquire("https://node"))
}

func TestFactory_UnsupportedCoin(t *testing.T) {
	factory := NewFactory()
	defer factory.Close()

	_, err := factory.New(config.CoinConfig{Symbol: "XMR", APIKey: "k"})
	assert.ErrorContains(t, err, "unsupported coin type")
}

func TestFactory_RequiresAPIKey(t *testing.T) {
	factory := NewFactory()
	defer factory.Close()

	_, err := factory.New(config.CoinConfig{Symbol: "BTC"})
	assert.ErrorContains(t, err, "api key is required")
}

func TestNode_GetAddressUTXOsConvertsSatoshis(t *testing.T) {
	n := newTestNode(t, "LTC", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"txid":"aa","vout":0,"value":"150000000","confirmations":2}]`))
	})

	utxos, err := n.GetAddressUTXOs(context.Background(), "LAddr")
	require.NoError(t, err)
	require.Len(t, utxos, 1)
	assert.True(t, utxos[0].Amount.Equal(decimal.RequireFromString("1.5")),
		"expected 1.5, got %s", utxos[0].Amount)
	assert.Equal(t, "LAddr", utxos[0].Address)
}

func TestNode_GetTransactionNormalizes(t *testing.T) {
	n := newTestNode(t, "BTC", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{
			"txid":"deadbeef","blockHeight":800000,"confirmations":3,
			"blockTime":1700000000,"value":"25000000","fees":"452",
			"vout":[{"value":"25000000","n":0,"addresses":["bc1addr"]}]
		}`))
	})

	tx, err := n.GetTransaction(context.Background(), "deadbeef")
	require.NoError(t, err)
	assert.Equal(t, "BTC", tx.Coin)
	assert.True(t, tx.Amount.Equal(decimal.RequireFromString("0.25")))
	assert.True(t, tx.Fees.Equal(decimal.RequireFromString("0.00000452")))
}

func TestNode_CapabilityUnavailable(t *testing.T) {
	factory := NewFactory()
	defer factory.Close()

	// No blockbook or rpc URL configured
	n, err := factory.New(config.CoinConfig{Symbol: "BTC", APIKey: "k", RequestTimeout: time.Second})
	require.NoError(t, err)

	_, err = n.GetAddressUTXOs(context.Background(), "addr")
	assert.ErrorIs(t, err, types.ErrCapabilityUnavailable)

	_, err = n.SendRawTransaction(context.Background(), "00")
	assert.ErrorIs(t, err, types.ErrCapabilityUnavailable)

	_, err = n.CreateRawTransaction(context.Background(), nil, nil)
	assert.ErrorIs(t, err, types.ErrCapabilityUnavailable)
}

func TestNode_EstimateFeeFallsBackToDefault(t *testing.T) {
	n := newTestNode(t, "DOGE", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":1,"jsonrpc":"2.0","error":{"code":-32601,"message":"method not found"}}`))
	})

	fee, err := n.EstimateFee(context.Background(), 3)
	require.NoError(t, err)
	assert.True(t, fee.Equal(decimal.RequireFromString("1")))
}

func TestWebsocketURL(t *testing.T) {
	assert.Equal(t,
		"wss://ltcbook.nownodes.io/wss/my-key",
		websocketURL("https://ltcbook.nownodes.io", "my-key"))
	assert.Equal(t,
		"ws://localhost:9130/wss/k",
		websocketURL("http://localhost:9130/", "k"))
}

func TestValidateAddress(t *testing.T) {
	// base58check (legacy P2PKH)
	assert.True(t, validateAddress("1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNa", "bc"))
	// bech32 segwit with matching hrp
	assert.True(t, validateAddress("bc1qw508d6qejxtdg4y5r3zarvary0c5xw7kv8f3t4", "bc"))
	// bech32 with wrong hrp for the coin
	assert.False(t, validateAddress("bc1qw508d6qejxtdg4y5r3zarvary0c5xw7kv8f3t4", "ltc"))
	// garbage
	assert.False(t, validateAddress("not-an-address", "bc"))
	assert.False(t, validateAddress("", ""))
}
