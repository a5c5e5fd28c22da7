package monitor

import (
	"context"

	"github.com/blocknest/sweeperd/pkg/common/types"
)

// AddressTransactionEvent is dispatched when a tracked address appears in a
// transaction. Tx is already resolved to full detail.
type AddressTransactionEvent struct {
	Coin    string
	Address string
	Tx      *types.TransactionDetail
}

// NewBlockEvent is dispatched when the backend announces a new block.
type NewBlockEvent struct {
	Coin  string
	Block types.BlockSummary
}

// Handler consumes monitor events. Calls are made one at a time, in wire
// order; a slow handler delays subsequent events but never drops them.
type Handler interface {
	OnAddressTransaction(ctx context.Context, event AddressTransactionEvent)
	OnNewBlock(ctx context.Context, event NewBlockEvent)
}

// HandlerFuncs adapts plain functions to the Handler interface. Nil fields
// ignore the corresponding event kind.
type HandlerFuncs struct {
	AddressTransaction func(ctx context.Context, event AddressTransactionEvent)
	NewBlock           func(ctx context.Context, event NewBlockEvent)
}

func (h HandlerFuncs) OnAddressTransaction(ctx context.Context, event AddressTransactionEvent) {
	if h.AddressTransaction != nil {
		h.AddressTransaction(ctx, event)
	}
}

func (h HandlerFuncs) OnNewBlock(ctx context.Context, event NewBlockEvent) {
	if h.NewBlock != nil {
		h.NewBlock(ctx, event)
	}
}
