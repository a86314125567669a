package services

import (
	"context"

	"github.com/example/paygate/internal/models"
)

// TransactionKey identifies a gateway transaction. Transaction ids are only
// unique within a provider, so the provider is part of the key.
type TransactionKey struct {
	Provider      models.Provider
	TransactionID string
}

// TransactionPatch carries the mutable columns applied atomically together
// with a state transition. Zero values leave the stored column untouched.
type TransactionPatch struct {
	PerformTime     int64
	CancelTime      int64
	Reason          *int
	OrderNotifiedAt int64
	RefundedAt      int64
}

// TransactionStore is the single mutable shared resource of the webhook core.
// All mutation goes through CreateIfAbsent and CompareAndTransition; there
// are no ad hoc field updates.
type TransactionStore interface {
	// CreateIfAbsent atomically inserts the record unless one already exists
	// for the key. It returns the stored record and whether this call created
	// it; the loser of a concurrent race receives the winner's row.
	CreateIfAbsent(ctx context.Context, key TransactionKey, record *models.Transaction) (*models.Transaction, bool, error)

	// Get returns the stored record, or (nil, nil) when absent.
	Get(ctx context.Context, key TransactionKey) (*models.Transaction, error)

	// CompareAndTransition moves the record from expectedState to newState,
	// applying the patch in the same write. It fails with ErrStateConflict if
	// the stored state differs from expectedState and ErrTransactionNotFound
	// if no record exists. expectedState == newState is allowed and is how
	// post-transition markers are persisted.
	CompareAndTransition(ctx context.Context, key TransactionKey, expectedState, newState int, patch TransactionPatch) (*models.Transaction, error)

	// FindByOrder returns the most recent record referencing the order, or
	// (nil, nil) when the order has never been attached to a transaction.
	FindByOrder(ctx context.Context, provider models.Provider, orderID string) (*models.Transaction, error)

	// List returns records whose create_time falls in [from, to], ordered by
	// create_time. Used by the Payme statement method.
	List(ctx context.Context, provider models.Provider, from, to int64) ([]models.Transaction, error)
}
