package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/blocknest/sweeperd/pkg/common/types"
	"github.com/blocknest/sweeperd/pkg/ratelimiter"
)

// BlockbookClient talks to a Blockbook v2 REST API (NowNodes hosted or
// self-hosted).
type BlockbookClient struct {
	*Client
}

func NewBlockbookClient(url string, auth *AuthConfig, timeout time.Duration, rateLimiter *ratelimiter.PooledRateLimiter) *BlockbookClient {
	return &BlockbookClient{
		Client: NewClient(url, ClientTypeREST, auth, timeout, rateLimiter),
	}
}

// GetAddressInfo returns balances and transaction counts for an address.
func (c *BlockbookClient) GetAddressInfo(ctx context.Context, address string) (*AddressInfo, error) {
	data, err := c.Do(ctx, http.MethodGet, "/api/v2/address/"+address, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("get address info failed: %w", err)
	}

	var info AddressInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("unmarshal address info: %w", err)
	}
	return &info, nil
}

// GetAddressInfoDetailed includes the resolved transaction list.
func (c *BlockbookClient) GetAddressInfoDetailed(ctx context.Context, address string) (*AddressInfo, error) {
	data, err := c.Do(ctx, http.MethodGet, "/api/v2/address/"+address, nil, map[string]string{"details": "txs"})
	if err != nil {
		return nil, fmt.Errorf("get detailed address info failed: %w", err)
	}

	var info AddressInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("unmarshal address info: %w", err)
	}
	return &info, nil
}

// GetAddressUTXOs returns the unspent outputs of an address.
func (c *BlockbookClient) GetAddressUTXOs(ctx context.Context, address string) ([]AddressUTXO, error) {
	data, err := c.Do(ctx, http.MethodGet, "/api/v2/utxo/"+address, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("get utxos failed: %w", err)
	}

	var utxos []AddressUTXO
	if err := json.Unmarshal(data, &utxos); err != nil {
		return nil, fmt.Errorf("unmarshal utxos: %w", err)
	}
	return utxos, nil
}

// GetTransaction returns a transaction by txid.
func (c *BlockbookClient) GetTransaction(ctx context.Context, txid string) (*Tx, error) {
	data, err := c.Do(ctx, http.MethodGet, "/api/v2/tx/"+txid, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("get transaction %s failed: %w", txid, err)
	}

	var tx Tx
	if err := json.Unmarshal(data, &tx); err != nil {
		return nil, fmt.Errorf("unmarshal transaction %s: %w", txid, err)
	}
	return &tx, nil
}

// GetStatus returns the Blockbook sync status.
func (c *BlockbookClient) GetStatus(ctx context.Context) (*Status, error) {
	data, err := c.Do(ctx, http.MethodGet, "/api/v2", nil, nil)
	if err != nil {
		return nil, fmt.Errorf("get status failed: %w", err)
	}

	var status Status
	if err := json.Unmarshal(data, &status); err != nil {
		return nil, fmt.Errorf("unmarshal status: %w", err)
	}
	return &status, nil
}

// GetBlock returns a block by height.
func (c *BlockbookClient) GetBlock(ctx context.Context, height int64) (*BlockInfo, error) {
	data, err := c.Do(ctx, http.MethodGet, fmt.Sprintf("/api/v2/block/%d", height), nil, nil)
	if err != nil {
		return nil, fmt.Errorf("get block %d failed: %w", height, err)
	}

	var block BlockInfo
	if err := json.Unmarshal(data, &block); err != nil {
		return nil, fmt.Errorf("unmarshal block %d: %w", height, err)
	}
	return &block, nil
}

// SendTransaction broadcasts a raw transaction hex and returns the txid.
func (c *BlockbookClient) SendTransaction(ctx context.Context, rawTxHex string) (string, error) {
	data, err := c.Do(ctx, http.MethodGet, "/api/v2/sendtx/"+rawTxHex, nil, nil)
	if err != nil {
		// Blockbook reports broadcast rejection with a JSON error body
		var res sendTxResult
		if len(data) > 0 && json.Unmarshal(data, &res) == nil && res.Error != nil {
			return "", &types.BlockbookError{Message: res.Error.Message}
		}
		return "", fmt.Errorf("send transaction failed: %w", err)
	}

	var res sendTxResult
	if err := json.Unmarshal(data, &res); err != nil {
		return "", fmt.Errorf("unmarshal sendtx response: %w", err)
	}
	if res.Error != nil {
		return "", &types.BlockbookError{Message: res.Error.Message}
	}
	if res.Result == "" {
		return "", &types.BlockbookError{Message: "empty txid in sendtx response"}
	}
	return res.Result, nil
}
