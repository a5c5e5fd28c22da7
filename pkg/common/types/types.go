package types

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// TrackedAddress identifies one address watched on one coin network.
type TrackedAddress struct {
	Coin    string `json:"coin"`
	Address string `json:"address"`
}

func (t TrackedAddress) Key() string {
	return t.Coin + ":" + t.Address
}

// UTXO is a spendable output of a confirmed or pending transaction.
// Amount is in whole-coin units, already shifted by the coin's decimals.
type UTXO struct {
	TxID          string          `json:"txid"`
	Vout          uint32          `json:"vout"`
	Address       string          `json:"address"`
	Amount        decimal.Decimal `json:"amount"`
	Confirmations int64           `json:"confirmations"`
	ScriptPubKey  string          `json:"scriptPubKey,omitempty"`
}

func (u UTXO) Key() string {
	return fmt.Sprintf("%s:%d", u.TxID, u.Vout)
}

// TxInput references a UTXO being spent when building a raw transaction.
type TxInput struct {
	TxID string `json:"txid"`
	Vout uint32 `json:"vout"`
}

// TxOutput is one resolved output of a transaction.
type TxOutput struct {
	N         uint32          `json:"n"`
	Value     decimal.Decimal `json:"value"`
	Addresses []string        `json:"addresses"`
}

// TransactionDetail is the full view of a transaction resolved from the
// backing index, normalized across coins.
type TransactionDetail struct {
	TxID          string          `json:"txid"`
	BlockHash     string          `json:"blockHash,omitempty"`
	BlockHeight   int64           `json:"blockHeight"`
	Confirmations int64           `json:"confirmations"`
	Amount        decimal.Decimal `json:"amount"`
	Fees          decimal.Decimal `json:"fees"`
	BlockTime     int64           `json:"blockTime"`
	Outputs       []TxOutput      `json:"outputs,omitempty"`
	Coin          string          `json:"coin"`
}

// SignedTransaction is the result of delegated signing. Complete reports
// whether the node produced a fully signed transaction.
type SignedTransaction struct {
	Hex      string `json:"hex"`
	Complete bool   `json:"complete"`
}

// Balance is the confirmed/unconfirmed balance of an address.
type Balance struct {
	Address       string          `json:"address"`
	Confirmed     decimal.Decimal `json:"confirmed"`
	Unconfirmed   decimal.Decimal `json:"unconfirmed"`
	TotalReceived decimal.Decimal `json:"totalReceived"`
	TxCount       int             `json:"txCount"`
	Coin          string          `json:"coin"`
}

// CoinInfo describes the static parameters of a supported coin.
type CoinInfo struct {
	Symbol       string `json:"symbol"`
	Name         string `json:"name"`
	Network      string `json:"network"`
	Decimals     int32  `json:"decimals"`
	BlockbookURL string `json:"blockbookUrl"`
	RPCURL       string `json:"rpcUrl"`
}

// CollectionResult reports the outcome of one sweep job.
// Success implies a non-empty TxID; a failed result never carries one.
type CollectionResult struct {
	Success     bool            `json:"success"`
	TxID        string          `json:"txid,omitempty"`
	Error       string          `json:"error,omitempty"`
	FromAddress string          `json:"fromAddress"`
	ToAddress   string          `json:"toAddress,omitempty"`
	AmountSent  decimal.Decimal `json:"amountSent"`
	Fee         decimal.Decimal `json:"fee"`
	Total       decimal.Decimal `json:"total"`
	UTXOCount   int             `json:"utxoCount"`
	Timestamp   int64           `json:"timestamp"`
}

func (r CollectionResult) MarshalBinary() ([]byte, error) {
	return json.Marshal(r)
}

func (r *CollectionResult) UnmarshalBinary(data []byte) error {
	return json.Unmarshal(data, r)
}

// Hash generates a deterministic idempotency key for the result.
func (r CollectionResult) Hash() string {
	var builder strings.Builder
	builder.WriteString(r.FromAddress)
	builder.WriteByte('|')
	builder.WriteString(r.TxID)
	builder.WriteByte('|')
	builder.WriteString(r.Error)
	hash := sha256.Sum256([]byte(builder.String()))
	return fmt.Sprintf("%x", hash)
}

// BatchResult aggregates per-address sweep outcomes.
// Successful + Failed always equals Total.
type BatchResult struct {
	Total          int                `json:"total"`
	Successful     int                `json:"successful"`
	Failed         int                `json:"failed"`
	Collections    []CollectionResult `json:"collections"`
	TotalCollected decimal.Decimal    `json:"totalCollected"`
	TotalFees      decimal.Decimal    `json:"totalFees"`
}

// EstimateResult reports whether a sweep of an address would currently
// go through, and for how much, without building a transaction.
type EstimateResult struct {
	CanCollect   bool            `json:"canCollect"`
	Address      string          `json:"address"`
	TotalAmount  decimal.Decimal `json:"totalAmount"`
	AmountToSend decimal.Decimal `json:"amountToSend"`
	Fee          decimal.Decimal `json:"fee"`
	UTXOCount    int             `json:"utxoCount"`
	MinAmount    decimal.Decimal `json:"minAmount"`
	Reason       string          `json:"reason"`
}

// BlockSummary carries the minimal fields of a new-block notification.
type BlockSummary struct {
	Height int64  `json:"height"`
	Hash   string `json:"hash"`
}
