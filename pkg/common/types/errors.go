package types

import (
	"errors"
	"fmt"
)

var (
	// ErrCapabilityUnavailable is returned when a node method requires a
	// client (RPC or Blockbook) that was not configured.
	ErrCapabilityUnavailable = errors.New("capability not available")

	// ErrSigningIncomplete is returned when the node accepted a signing
	// request but could not fully sign the transaction.
	ErrSigningIncomplete = errors.New("transaction signing incomplete")

	// ErrNegativeAmount rejects negative fee or threshold configuration.
	ErrNegativeAmount = errors.New("amount cannot be negative")
)

// BlockbookError is a non-2xx or error-shaped response from a Blockbook
// REST endpoint.
type BlockbookError struct {
	Status  int
	Message string
}

func (e *BlockbookError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("blockbook error (HTTP %d): %s", e.Status, e.Message)
	}
	return "blockbook error: " + e.Message
}
