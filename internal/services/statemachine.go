package services

import (
	"context"
	"errors"
	"time"

	"github.com/example/paygate/internal/models"
)

// Transaction state codes follow the Payme numeric convention; both providers
// are mapped onto the same lattice:
//
//	pending -> paid
//	pending -> pending-canceled
//	paid    -> paid-canceled
//
// State only moves forward; no transition is reversible.
const (
	TransactionStatePaid            = 2
	TransactionStatePending         = 1
	TransactionStatePendingCanceled = -1
	TransactionStatePaidCanceled    = -2
)

// TransactionStateMachine enforces the legal transitions of a gateway
// transaction independent of provider wire format. Every mutation goes
// through the store's compare-and-set primitives so that concurrent webhook
// retries arbitrate on the stored state rather than racing blind writes.
type TransactionStateMachine struct {
	store TransactionStore
	now   func() int64
}

func NewTransactionStateMachine(store TransactionStore) *TransactionStateMachine {
	return &TransactionStateMachine{
		store: store,
		now:   nowMillis,
	}
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}

// Create idempotently registers a transaction in the pending state. Replays
// and race losers receive the originally stored record unchanged, with
// created=false.
func (m *TransactionStateMachine) Create(ctx context.Context, key TransactionKey, record *models.Transaction) (*models.Transaction, bool, error) {
	if record.CreateTime == 0 {
		record.CreateTime = m.now()
	}
	record.State = TransactionStatePending
	return m.store.CreateIfAbsent(ctx, key, record)
}

// Perform moves a pending transaction to paid. Replays of an already-paid
// transaction return the stored record with replayed=true and the original
// perform_time untouched. A transaction that was never created fails with
// ErrTransactionNotFound; a canceled one with ErrTransactionCanceled.
func (m *TransactionStateMachine) Perform(ctx context.Context, key TransactionKey) (*models.Transaction, bool, error) {
	record, err := m.store.Get(ctx, key)
	if err != nil {
		return nil, false, err
	}
	if record == nil {
		return nil, false, ErrTransactionNotFound
	}

	switch {
	case record.State == TransactionStatePaid:
		return record, true, nil
	case record.State < 0:
		return record, false, ErrTransactionCanceled
	}

	updated, err := m.store.CompareAndTransition(ctx, key, TransactionStatePending, TransactionStatePaid, TransactionPatch{
		PerformTime: m.now(),
	})
	if errors.Is(err, ErrStateConflict) {
		// A concurrent webhook moved the record first; answer with its result.
		record, err = m.store.Get(ctx, key)
		if err != nil {
			return nil, false, err
		}
		if record == nil {
			return nil, false, ErrTransactionNotFound
		}
		if record.State == TransactionStatePaid {
			return record, true, nil
		}
		return record, false, ErrTransactionCanceled
	}
	if err != nil {
		return nil, false, err
	}
	return updated, false, nil
}

// Cancel moves the transaction into the canceled variant that matches its
// current state: pending becomes pending-canceled, paid becomes
// paid-canceled. Only the paid-canceled outcome carries a refund obligation;
// the caller decides that from the resulting state. Cancel on an unknown id
// fails with ErrTransactionNotFound; cancel on an already-canceled record is
// a replay and returns the stored cancel_time and reason unchanged.
func (m *TransactionStateMachine) Cancel(ctx context.Context, key TransactionKey, reason int) (*models.Transaction, bool, error) {
	for attempt := 0; attempt < 2; attempt++ {
		record, err := m.store.Get(ctx, key)
		if err != nil {
			return nil, false, err
		}
		if record == nil {
			return nil, false, ErrTransactionNotFound
		}
		if record.State < 0 {
			return record, true, nil
		}

		r := reason
		updated, err := m.store.CompareAndTransition(ctx, key, record.State, -record.State, TransactionPatch{
			CancelTime: m.now(),
			Reason:     &r,
		})
		if errors.Is(err, ErrStateConflict) {
			// The state moved under us (e.g. pending became paid while the
			// cancel was in flight). Re-read and cancel from the new state.
			continue
		}
		if err != nil {
			return nil, false, err
		}
		return updated, false, nil
	}

	// Two conflicts in a row means another cancel won; report its result.
	record, err := m.store.Get(ctx, key)
	if err != nil {
		return nil, false, err
	}
	if record == nil {
		return nil, false, ErrTransactionNotFound
	}
	return record, true, nil
}
