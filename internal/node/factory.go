package node

import (
	"fmt"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/blocknest/sweeperd/internal/rpc"
	"github.com/blocknest/sweeperd/pkg/common/config"
	"github.com/blocknest/sweeperd/pkg/common/types"
	"github.com/blocknest/sweeperd/pkg/ratelimiter"
)

// coinParams are the coin-specific knobs not covered by config.
type coinParams struct {
	signMethod signMethod
	bech32HRP  string
	defaultFee string
}

var supportedCoins = map[string]coinParams{
	"BTC":  {signMethod: signWithKey, bech32HRP: "bc", defaultFee: "0.00001"},
	"LTC":  {signMethod: signWithKey, bech32HRP: "ltc", defaultFee: "0.0001"},
	"DOGE": {signMethod: signLegacy, bech32HRP: "", defaultFee: "1"},
}

const (
	// NowNodes free tier allows 10 RPS
	defaultRateLimitRPS = 10
	rateLimitBurst      = 5
)

// Factory builds Node instances. Each coin gets its own rate limiter pool,
// sized from its configured RPS budget; a coin's blockbook and rpc clients
// share the pool so requests against the same endpoint are throttled
// together.
type Factory struct {
	mu       sync.Mutex
	limiters []*ratelimiter.PooledRateLimiter
}

func NewFactory() *Factory {
	return &Factory{}
}

func newLimiter(cfg config.CoinConfig) *ratelimiter.PooledRateLimiter {
	rps := cfg.RateLimitRPS
	if rps <= 0 {
		rps = defaultRateLimitRPS
	}
	return ratelimiter.NewPooledRateLimiterFromRPS(rps, rateLimitBurst)
}

// New constructs the Node for a configured coin.
func (f *Factory) New(cfg config.CoinConfig) (Node, error) {
	symbol := strings.ToUpper(cfg.Symbol)
	params, ok := supportedCoins[symbol]
	if !ok {
		return nil, fmt.Errorf("unsupported coin type: %s (supported: %s)",
			symbol, strings.Join(config.SupportedCoins(), ", "))
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%s: api key is required", symbol)
	}

	defaultFee, err := decimal.NewFromString(params.defaultFee)
	if err != nil {
		return nil, err
	}

	limiter := newLimiter(cfg)
	f.mu.Lock()
	f.limiters = append(f.limiters, limiter)
	f.mu.Unlock()

	auth := &rpc.AuthConfig{APIKey: cfg.APIKey}
	n := &baseNode{
		info:       coinInfo(cfg),
		apiKey:     cfg.APIKey,
		signMethod: params.signMethod,
		bech32HRP:  params.bech32HRP,
		defaultFee: defaultFee,
	}

	if cfg.BlockbookURL != "" {
		n.blockbook = rpc.NewBlockbookClient(cfg.BlockbookURL, auth, cfg.RequestTimeout, limiter)
	}
	if cfg.RPCURL != "" {
		n.rpcClient = rpc.NewClient(cfg.RPCURL, rpc.ClientTypeRPC, auth, cfg.RequestTimeout, limiter)
	}

	n.wsURL = cfg.WebsocketURL
	if n.wsURL == "" && cfg.BlockbookURL != "" {
		n.wsURL = websocketURL(cfg.BlockbookURL, cfg.APIKey)
	}

	return n, nil
}

// Close releases every rate limiter pool handed out so far.
func (f *Factory) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, limiter := range f.limiters {
		limiter.Close()
	}
	f.limiters = nil
}

func coinInfo(cfg config.CoinConfig) types.CoinInfo {
	decimals := cfg.Decimals
	if decimals == 0 {
		decimals = 8
	}
	return types.CoinInfo{
		Symbol:       strings.ToUpper(cfg.Symbol),
		Name:         cfg.Name,
		Network:      cfg.Network,
		Decimals:     decimals,
		BlockbookURL: cfg.BlockbookURL,
		RPCURL:       cfg.RPCURL,
	}
}
