package collector

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"github.com/blocknest/sweeperd/internal/node"
	"github.com/blocknest/sweeperd/pkg/common/config"
	"github.com/blocknest/sweeperd/pkg/common/logger"
	"github.com/blocknest/sweeperd/pkg/common/types"
	"github.com/blocknest/sweeperd/pkg/events"
	"github.com/blocknest/sweeperd/pkg/infra"
)

const minConfirmations = 1

// Collector sweeps funds from monitored deposit addresses into the coin's
// master address. At most one collection runs at a time per collector;
// overlapping calls are rejected without touching the network.
type Collector struct {
	node          node.Node
	masterAddress string
	emitter       events.Emitter
	journal       infra.KVStore
	batchDelay    time.Duration

	collecting atomic.Bool

	mu        sync.Mutex
	fee       decimal.Decimal
	minAmount decimal.Decimal
}

// New creates a collector for one coin. emitter and journal are optional;
// pass nil to disable them.
func New(n node.Node, cfg config.CoinConfig, collectorCfg config.CollectorConfig, emitter events.Emitter, journal infra.KVStore) (*Collector, error) {
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	batchDelay := collectorCfg.BatchDelay
	if batchDelay <= 0 {
		batchDelay = 2 * time.Second
	}

	fee, err := parseAmount(cfg.CollectionFee)
	if err != nil {
		return nil, fmt.Errorf("collection_fee: %w", err)
	}
	minAmount, err := parseAmount(cfg.MinCollectionAmount)
	if err != nil {
		return nil, fmt.Errorf("min_collection_amount: %w", err)
	}
	if fee.IsNegative() || minAmount.IsNegative() {
		return nil, types.ErrNegativeAmount
	}

	return &Collector{
		node:          n,
		masterAddress: cfg.MasterAddress,
		emitter:       emitter,
		journal:       journal,
		batchDelay:    batchDelay,
		fee:           fee,
		minAmount:     minAmount,
	}, nil
}

func parseAmount(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}

// SetFee overrides the flat collection fee. Negative values are rejected.
func (c *Collector) SetFee(fee decimal.Decimal) error {
	if fee.IsNegative() {
		return fmt.Errorf("fee: %w", types.ErrNegativeAmount)
	}
	c.mu.Lock()
	c.fee = fee
	c.mu.Unlock()
	return nil
}

// SetMinimumAmount overrides the minimum balance worth collecting. Negative
// values are rejected.
func (c *Collector) SetMinimumAmount(amount decimal.Decimal) error {
	if amount.IsNegative() {
		return fmt.Errorf("minimum amount: %w", types.ErrNegativeAmount)
	}
	c.mu.Lock()
	c.minAmount = amount
	c.mu.Unlock()
	return nil
}

func (c *Collector) Fee() decimal.Decimal {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fee
}

func (c *Collector) MinimumAmount() decimal.Decimal {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.minAmount
}

// IsCollecting reports whether a collection is currently in flight.
func (c *Collector) IsCollecting() bool {
	return c.collecting.Load()
}

// CollectFromAddress sweeps the confirmed funds of one address to the master
// address. It returns nil when there is nothing to collect or another
// collection is already in flight, a failure result when the sweep was
// attempted and failed, and a success result with the broadcast txid
// otherwise. signingKeys may be empty when the node signs with wallet keys.
func (c *Collector) CollectFromAddress(ctx context.Context, address string, signingKeys []string) *types.CollectionResult {
	if !c.collecting.CompareAndSwap(false, true) {
		logger.Warn("Collection already in progress, skipping", "coin", c.node.Coin(), "address", address)
		return nil
	}
	defer c.collecting.Store(false)

	result := c.collect(ctx, address, signingKeys)
	if result == nil {
		return nil
	}

	c.record(result)
	return result
}

func (c *Collector) collect(ctx context.Context, address string, signingKeys []string) *types.CollectionResult {
	log := logger.With("coin", c.node.Coin(), "address", address)

	utxos, err := c.node.GetAddressUTXOs(ctx, address)
	if err != nil {
		return c.failure(address, fmt.Errorf("fetch utxos: %w", err))
	}

	confirmed := lo.Filter(utxos, func(u types.UTXO, _ int) bool {
		return u.Confirmations >= minConfirmations
	})
	if len(confirmed) == 0 {
		log.Debug("No confirmed UTXOs, nothing to collect")
		return nil
	}

	total := decimal.Zero
	for _, u := range confirmed {
		total = total.Add(u.Amount)
	}

	fee, minAmount := c.Fee(), c.MinimumAmount()
	if total.LessThan(minAmount) {
		log.Debug("Balance below collection minimum",
			"total", total, "minimum", minAmount)
		return nil
	}

	amountToSend := total.Sub(fee)
	if !amountToSend.IsPositive() {
		log.Debug("Balance does not cover the fee", "total", total, "fee", fee)
		return nil
	}

	inputs := lo.Map(confirmed, func(u types.UTXO, _ int) types.TxInput {
		return types.TxInput{TxID: u.TxID, Vout: u.Vout}
	})

	rawHex, err := c.node.CreateRawTransaction(ctx, inputs, map[string]decimal.Decimal{
		c.masterAddress: amountToSend,
	})
	if err != nil {
		return c.failure(address, fmt.Errorf("build transaction: %w", err))
	}

	if len(signingKeys) > 0 {
		signed, err := c.node.SignRawTransaction(ctx, rawHex, signingKeys)
		if err != nil {
			return c.failure(address, fmt.Errorf("sign transaction: %w", err))
		}
		if !signed.Complete {
			return c.failure(address, types.ErrSigningIncomplete)
		}
		rawHex = signed.Hex
	}

	txid, err := c.node.SendRawTransaction(ctx, rawHex)
	if err != nil {
		return c.failure(address, fmt.Errorf("broadcast: %w", err))
	}

	log.Info("Collection broadcast",
		"txid", txid, "amount", amountToSend, "fee", fee, "utxos", len(confirmed))

	return &types.CollectionResult{
		Success:     true,
		TxID:        txid,
		FromAddress: address,
		ToAddress:   c.masterAddress,
		AmountSent:  amountToSend,
		Fee:         fee,
		Total:       total,
		UTXOCount:   len(confirmed),
		Timestamp:   time.Now().Unix(),
	}
}

// CollectMultiple sweeps each address in order, pausing between attempts so
// sequential sweeps don't trip the hosted backend's rate limits. One failing
// address never stops the batch.
func (c *Collector) CollectMultiple(ctx context.Context, addresses []string, signingKeys map[string][]string) *types.BatchResult {
	batch := &types.BatchResult{
		Total:          len(addresses),
		TotalCollected: decimal.Zero,
		TotalFees:      decimal.Zero,
	}

	for i, address := range addresses {
		result := c.CollectFromAddress(ctx, address, signingKeys[address])
		switch {
		case result == nil:
			batch.Failed++
		case result.Success:
			batch.Successful++
			batch.Collections = append(batch.Collections, *result)
			batch.TotalCollected = batch.TotalCollected.Add(result.AmountSent)
			batch.TotalFees = batch.TotalFees.Add(result.Fee)
		default:
			batch.Failed++
			batch.Collections = append(batch.Collections, *result)
		}

		if i < len(addresses)-1 {
			select {
			case <-ctx.Done():
				batch.Failed += len(addresses) - i - 1
				return batch
			case <-time.After(c.batchDelay):
			}
		}
	}
	return batch
}

// EstimateCollection reports what a sweep of the address would do right now,
// without building or broadcasting anything.
func (c *Collector) EstimateCollection(ctx context.Context, address string) (*types.EstimateResult, error) {
	utxos, err := c.node.GetAddressUTXOs(ctx, address)
	if err != nil {
		return nil, fmt.Errorf("fetch utxos: %w", err)
	}

	confirmed := lo.Filter(utxos, func(u types.UTXO, _ int) bool {
		return u.Confirmations >= minConfirmations
	})

	fee, minAmount := c.Fee(), c.MinimumAmount()
	estimate := &types.EstimateResult{
		Address:   address,
		Fee:       fee,
		MinAmount: minAmount,
		UTXOCount: len(confirmed),
	}

	if len(confirmed) == 0 {
		estimate.Reason = "no confirmed UTXOs"
		return estimate, nil
	}

	total := decimal.Zero
	for _, u := range confirmed {
		total = total.Add(u.Amount)
	}
	estimate.TotalAmount = total

	if total.LessThan(minAmount) {
		estimate.Reason = "balance below collection minimum"
		return estimate, nil
	}

	amountToSend := total.Sub(fee)
	if !amountToSend.IsPositive() {
		estimate.Reason = "balance does not cover the fee"
		return estimate, nil
	}

	estimate.CanCollect = true
	estimate.AmountToSend = amountToSend
	return estimate, nil
}

func (c *Collector) failure(address string, err error) *types.CollectionResult {
	logger.Error("Collection failed", "coin", c.node.Coin(), "address", address, "error", err)
	return &types.CollectionResult{
		Success:     false,
		Error:       err.Error(),
		FromAddress: address,
		ToAddress:   c.masterAddress,
		Fee:         c.Fee(),
		Timestamp:   time.Now().Unix(),
	}
}

// record journals the result and publishes it. Neither is allowed to fail
// the sweep itself.
func (c *Collector) record(result *types.CollectionResult) {
	if c.journal != nil {
		key := fmt.Sprintf("%s/%d/%s", c.node.Coin(), result.Timestamp, result.FromAddress)
		if err := c.journal.SetAny(key, result); err != nil {
			logger.Warn("Failed to journal collection result", "error", err)
		}
	}
	if err := c.emitter.EmitCollection(c.node.Coin(), result); err != nil {
		logger.Warn("Failed to publish collection result", "error", err)
	}
}
