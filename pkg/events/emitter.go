package events

import (
	"encoding/json"
	"time"

	"github.com/blocknest/sweeperd/pkg/common/types"
	"github.com/blocknest/sweeperd/pkg/infra"
)

// MonitorEvent is the envelope published for every monitor observation.
type MonitorEvent struct {
	Type      string `json:"type"`
	Coin      string `json:"coin"`
	Data      any    `json:"data"`
	Timestamp int64  `json:"timestamp"`
}

type Emitter interface {
	EmitAddressTransaction(coin, address string, tx *types.TransactionDetail) error
	EmitNewBlock(coin string, block types.BlockSummary) error
	EmitCollection(coin string, result *types.CollectionResult) error
	EmitError(coin string, err error) error
	Close()
}

type emitter struct {
	queue         infra.MessageQueue
	subjectPrefix string
}

func NewEmitter(queue infra.MessageQueue, subjectPrefix string) Emitter {
	return &emitter{
		queue:         queue,
		subjectPrefix: subjectPrefix,
	}
}

func (e *emitter) EmitAddressTransaction(coin, address string, tx *types.TransactionDetail) error {
	return e.emit("address_transaction", coin, map[string]any{
		"address":     address,
		"transaction": tx,
	}, coin+"|"+address+"|"+tx.TxID)
}

func (e *emitter) EmitNewBlock(coin string, block types.BlockSummary) error {
	return e.emit("new_block", coin, block, "")
}

func (e *emitter) EmitCollection(coin string, result *types.CollectionResult) error {
	return e.emit("collection", coin, result, coin+"|"+result.Hash())
}

func (e *emitter) EmitError(coin string, err error) error {
	payload := map[string]string{}
	if err != nil {
		payload["message"] = err.Error()
	}
	return e.emit("error", coin, payload, "")
}

func (e *emitter) emit(eventType, coin string, data any, idempotentKey string) error {
	event := MonitorEvent{
		Type:      eventType,
		Coin:      coin,
		Data:      data,
		Timestamp: time.Now().UTC().Unix(),
	}
	raw, err := json.Marshal(event)
	if err != nil {
		return err
	}

	var opts *infra.EnqueueOptions
	if idempotentKey != "" {
		opts = &infra.EnqueueOptions{IdempotentKey: idempotentKey}
	}
	return e.queue.Enqueue(e.subjectPrefix+"."+eventType, raw, opts)
}

func (e *emitter) Close() {
	if e.queue != nil {
		e.queue.Close()
	}
}

// NoopEmitter discards all events. Used by one-shot CLI commands and tests.
type NoopEmitter struct{}

func (NoopEmitter) EmitAddressTransaction(string, string, *types.TransactionDetail) error {
	return nil
}
func (NoopEmitter) EmitNewBlock(string, types.BlockSummary) error        { return nil }
func (NoopEmitter) EmitCollection(string, *types.CollectionResult) error { return nil }
func (NoopEmitter) EmitError(string, error) error                        { return nil }
func (NoopEmitter) Close()                                               {}
