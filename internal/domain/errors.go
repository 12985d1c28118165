package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidEntryPrice = errors.New("invalid entry price")
	ErrBatchTooLarge     = errors.New("batch exceeds maximum size")
	ErrLengthMismatch    = errors.New("tokens and prices length mismatch")
)

// RejectionError is a ledger-side refusal: a contract revert, either observed during gas
// estimation or after the transaction was mined.
type RejectionError struct {
	Op     string
	Reason string
	TxHash string
}

func (e *RejectionError) Error() string {
	if e.TxHash != "" {
		return fmt.Sprintf("%s rejected (tx %s): %s", e.Op, e.TxHash, e.Reason)
	}
	return fmt.Sprintf("%s rejected: %s", e.Op, e.Reason)
}

// PendingError reports a transaction that was broadcast but whose receipt did not arrive
// in time. It may still be mined, so the write must not be sent again.
type PendingError struct {
	Op     string
	TxHash string
	Err    error
}

func (e *PendingError) Error() string {
	return fmt.Sprintf("%s pending (tx %s): %v", e.Op, e.TxHash, e.Err)
}

func (e *PendingError) Unwrap() error { return e.Err }
