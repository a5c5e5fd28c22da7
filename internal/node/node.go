package node

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/blocknest/sweeperd/pkg/common/types"
)

// Node exposes the capabilities of one coin's backing infrastructure:
// UTXO and transaction lookup through Blockbook, transaction build/sign/
// broadcast through JSON-RPC. Implementations are safe for concurrent use
// by monitors and collectors.
type Node interface {
	Coin() string
	Info() types.CoinInfo
	// WebsocketURL is the Blockbook websocket endpoint used by the monitor.
	WebsocketURL() string

	GetBalance(ctx context.Context, address string) (*types.Balance, error)
	GetAddressUTXOs(ctx context.Context, address string) ([]types.UTXO, error)
	GetTransaction(ctx context.Context, txid string) (*types.TransactionDetail, error)

	CreateRawTransaction(ctx context.Context, inputs []types.TxInput, outputs map[string]decimal.Decimal) (string, error)
	SignRawTransaction(ctx context.Context, rawTxHex string, privateKeys []string) (*types.SignedTransaction, error)
	SendRawTransaction(ctx context.Context, rawTxHex string) (string, error)

	EstimateFee(ctx context.Context, blocks int) (decimal.Decimal, error)
	ValidateAddress(address string) bool

	Close() error
}
