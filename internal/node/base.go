package node

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/blocknest/sweeperd/internal/rpc"
	"github.com/blocknest/sweeperd/pkg/common/types"
)

// baseNode implements Node generically on top of a Blockbook REST client
// and a JSON-RPC client. Coin implementations differ only in their signing
// RPC method, address encoding and defaults.
type baseNode struct {
	info       types.CoinInfo
	apiKey     string
	wsURL      string
	blockbook  *rpc.BlockbookClient
	rpcClient  *rpc.Client
	signMethod signMethod
	bech32HRP  string
	defaultFee decimal.Decimal
}

// signMethod selects how the coin's node daemon signs raw transactions.
type signMethod int

const (
	// signrawtransactionwithkey(hex, keys) - modern Core-style daemons
	signWithKey signMethod = iota
	// signrawtransaction(hex, [], keys) - legacy daemons (Dogecoin)
	signLegacy
)

func (n *baseNode) Coin() string         { return n.info.Symbol }
func (n *baseNode) Info() types.CoinInfo { return n.info }
func (n *baseNode) WebsocketURL() string { return n.wsURL }

// satoshiToCoin converts an integer minor-unit string into whole-coin units.
func (n *baseNode) satoshiToCoin(value string) (decimal.Decimal, error) {
	if value == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse amount %q: %w", value, err)
	}
	return d.Shift(-n.info.Decimals), nil
}

func (n *baseNode) GetBalance(ctx context.Context, address string) (*types.Balance, error) {
	if n.blockbook == nil {
		return nil, types.ErrCapabilityUnavailable
	}

	info, err := n.blockbook.GetAddressInfo(ctx, address)
	if err != nil {
		return nil, err
	}

	confirmed, err := n.satoshiToCoin(info.Balance)
	if err != nil {
		return nil, err
	}
	unconfirmed, err := n.satoshiToCoin(info.UnconfirmedBalance)
	if err != nil {
		return nil, err
	}
	received, err := n.satoshiToCoin(info.TotalReceived)
	if err != nil {
		return nil, err
	}

	return &types.Balance{
		Address:       address,
		Confirmed:     confirmed,
		Unconfirmed:   unconfirmed,
		TotalReceived: received,
		TxCount:       info.Txs,
		Coin:          n.info.Symbol,
	}, nil
}

func (n *baseNode) GetAddressUTXOs(ctx context.Context, address string) ([]types.UTXO, error) {
	if n.blockbook == nil {
		return nil, types.ErrCapabilityUnavailable
	}

	raw, err := n.blockbook.GetAddressUTXOs(ctx, address)
	if err != nil {
		return nil, err
	}

	utxos := make([]types.UTXO, 0, len(raw))
	for _, u := range raw {
		amount, err := n.satoshiToCoin(u.Value)
		if err != nil {
			return nil, err
		}
		utxos = append(utxos, types.UTXO{
			TxID:          u.TxID,
			Vout:          u.Vout,
			Address:       address,
			Amount:        amount,
			Confirmations: u.Confirmations,
			ScriptPubKey:  u.ScriptPubKey,
		})
	}
	return utxos, nil
}

func (n *baseNode) GetTransaction(ctx context.Context, txid string) (*types.TransactionDetail, error) {
	if n.blockbook == nil {
		return nil, types.ErrCapabilityUnavailable
	}

	tx, err := n.blockbook.GetTransaction(ctx, txid)
	if err != nil {
		return nil, err
	}

	amount, err := n.satoshiToCoin(tx.Value)
	if err != nil {
		return nil, err
	}
	fees, err := n.satoshiToCoin(tx.Fees)
	if err != nil {
		return nil, err
	}

	outputs := make([]types.TxOutput, 0, len(tx.Vout))
	for _, out := range tx.Vout {
		value, err := n.satoshiToCoin(out.Value)
		if err != nil {
			return nil, err
		}
		outputs = append(outputs, types.TxOutput{
			N:         out.N,
			Value:     value,
			Addresses: out.Addresses,
		})
	}

	return &types.TransactionDetail{
		TxID:          tx.TxID,
		BlockHash:     tx.BlockHash,
		BlockHeight:   tx.BlockHeight,
		Confirmations: tx.Confirmations,
		Amount:        amount,
		Fees:          fees,
		BlockTime:     tx.BlockTime,
		Outputs:       outputs,
		Coin:          n.info.Symbol,
	}, nil
}

func (n *baseNode) CreateRawTransaction(ctx context.Context, inputs []types.TxInput, outputs map[string]decimal.Decimal) (string, error) {
	if n.rpcClient == nil {
		return "", types.ErrCapabilityUnavailable
	}

	// Node daemons take amounts as JSON numbers in whole-coin units.
	formatted := make(map[string]float64, len(outputs))
	for address, amount := range outputs {
		formatted[address] = amount.InexactFloat64()
	}

	resp, err := n.rpcClient.CallRPC(ctx, "createrawtransaction", []any{inputs, formatted})
	if err != nil {
		return "", fmt.Errorf("createrawtransaction failed: %w", err)
	}

	var rawHex string
	if err := json.Unmarshal(resp.Result, &rawHex); err != nil {
		return "", fmt.Errorf("unmarshal raw transaction: %w", err)
	}
	return rawHex, nil
}

func (n *baseNode) SignRawTransaction(ctx context.Context, rawTxHex string, privateKeys []string) (*types.SignedTransaction, error) {
	if n.rpcClient == nil {
		return nil, types.ErrCapabilityUnavailable
	}
	if privateKeys == nil {
		privateKeys = []string{}
	}

	var (
		resp *rpc.RPCResponse
		err  error
	)
	switch n.signMethod {
	case signLegacy:
		resp, err = n.rpcClient.CallRPC(ctx, "signrawtransaction", []any{rawTxHex, []any{}, privateKeys})
	default:
		resp, err = n.rpcClient.CallRPC(ctx, "signrawtransactionwithkey", []any{rawTxHex, privateKeys})
	}
	if err != nil {
		return nil, fmt.Errorf("sign raw transaction failed: %w", err)
	}

	var signed types.SignedTransaction
	if err := json.Unmarshal(resp.Result, &signed); err != nil {
		return nil, fmt.Errorf("unmarshal signed transaction: %w", err)
	}
	return &signed, nil
}

func (n *baseNode) SendRawTransaction(ctx context.Context, rawTxHex string) (string, error) {
	if n.rpcClient != nil {
		resp, err := n.rpcClient.CallRPC(ctx, "sendrawtransaction", []any{rawTxHex})
		if err != nil {
			return "", fmt.Errorf("sendrawtransaction failed: %w", err)
		}

		var txid string
		if err := json.Unmarshal(resp.Result, &txid); err != nil {
			return "", fmt.Errorf("unmarshal txid: %w", err)
		}
		return txid, nil
	}

	if n.blockbook != nil {
		return n.blockbook.SendTransaction(ctx, rawTxHex)
	}
	return "", types.ErrCapabilityUnavailable
}

func (n *baseNode) EstimateFee(ctx context.Context, blocks int) (decimal.Decimal, error) {
	if blocks <= 0 {
		blocks = 3
	}
	if n.rpcClient == nil {
		return n.defaultFee, nil
	}

	resp, err := n.rpcClient.CallRPC(ctx, "estimatesmartfee", []any{blocks})
	if err != nil {
		// Hosted nodes occasionally reject fee estimation; fall back to
		// the coin default rather than failing the caller.
		return n.defaultFee, nil
	}

	var result struct {
		FeeRate float64 `json:"feerate"`
	}
	if err := json.Unmarshal(resp.Result, &result); err != nil || result.FeeRate <= 0 {
		return n.defaultFee, nil
	}
	return decimal.NewFromFloat(result.FeeRate), nil
}

func (n *baseNode) ValidateAddress(address string) bool {
	return validateAddress(address, n.bech32HRP)
}

func (n *baseNode) Close() error {
	if n.blockbook != nil {
		_ = n.blockbook.Close()
	}
	if n.rpcClient != nil {
		_ = n.rpcClient.Close()
	}
	return nil
}

// websocketURL derives the Blockbook websocket endpoint from the REST URL,
// NowNodes style: wss://<host>/wss/<api-key>.
func websocketURL(blockbookURL, apiKey string) string {
	base := strings.Replace(blockbookURL, "https://", "wss://", 1)
	base = strings.Replace(base, "http://", "ws://", 1)
	return strings.TrimSuffix(base, "/") + "/wss/" + apiKey
}
