package services

import "errors"

// Outcome taxonomy shared by both provider adapters. Adapters translate these
// into provider wire codes; none of them crosses the handler boundary as a
// raw error.
var (
	ErrSignatureInvalid    = errors.New("signature invalid")
	ErrOrderNotFound       = errors.New("order not found")
	ErrAmountMismatch      = errors.New("order amount mismatch")
	ErrOrderNotPayable     = errors.New("order not in a payable status")
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrTransactionCanceled = errors.New("transaction canceled")
	ErrInternal            = errors.New("internal error")

	// ErrStateConflict is returned by CompareAndTransition when the stored
	// state no longer matches the expected one: a concurrent webhook already
	// moved the record. Callers re-read and answer with the stored result.
	ErrStateConflict = errors.New("transaction state changed concurrently")
)
