package database

import (
	"context"

	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/example/paygate/internal/models"
	"github.com/example/paygate/internal/services"
)

// TransactionRepository implements services.TransactionStore on gorm. The
// unique (provider, transaction_id) index plus ON CONFLICT and guarded
// updates give the atomicity the webhook core relies on; no advisory locks.
type TransactionRepository struct {
	db *gorm.DB
}

func NewTransactionRepository(db *gorm.DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

// CreateIfAbsent inserts the record unless the key already exists. The race
// loser reads the winner's row back instead of failing.
func (r *TransactionRepository) CreateIfAbsent(ctx context.Context, key services.TransactionKey, record *models.Transaction) (*models.Transaction, bool, error) {
	record.Provider = key.Provider
	record.TransactionID = key.TransactionID

	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "provider"}, {Name: "transaction_id"}},
		DoNothing: true,
	}).Create(record)
	if res.Error != nil {
		return nil, false, errors.Wrap(res.Error, "insert transaction")
	}
	if res.RowsAffected == 1 {
		return record, true, nil
	}

	stored, err := r.Get(ctx, key)
	if err != nil {
		return nil, false, err
	}
	if stored == nil {
		// Insert skipped but no row visible: a concurrent delete would be the
		// only cause and transactions are never deleted.
		return nil, false, errors.New("transaction vanished after conflicting insert")
	}
	return stored, false, nil
}

func (r *TransactionRepository) Get(ctx context.Context, key services.TransactionKey) (*models.Transaction, error) {
	var record models.Transaction
	err := r.db.WithContext(ctx).
		Where("provider = ? AND transaction_id = ?", key.Provider, key.TransactionID).
		First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "load transaction")
	}
	return &record, nil
}

// CompareAndTransition applies a guarded update: the WHERE clause pins the
// expected state, so of two concurrent webhooks exactly one sees
// RowsAffected == 1 and the other learns a transition already happened.
func (r *TransactionRepository) CompareAndTransition(ctx context.Context, key services.TransactionKey, expectedState, newState int, patch services.TransactionPatch) (*models.Transaction, error) {
	updates := map[string]any{"state": newState}
	if patch.PerformTime != 0 {
		updates["perform_time"] = patch.PerformTime
	}
	if patch.CancelTime != 0 {
		updates["cancel_time"] = patch.CancelTime
	}
	if patch.Reason != nil {
		updates["reason"] = *patch.Reason
	}
	if patch.OrderNotifiedAt != 0 {
		updates["order_notified_at"] = patch.OrderNotifiedAt
	}
	if patch.RefundedAt != 0 {
		updates["refunded_at"] = patch.RefundedAt
	}

	res := r.db.WithContext(ctx).
		Model(&models.Transaction{}).
		Where("provider = ? AND transaction_id = ? AND state = ?", key.Provider, key.TransactionID, expectedState).
		Updates(updates)
	if res.Error != nil {
		return nil, errors.Wrap(res.Error, "transition transaction")
	}
	if res.RowsAffected == 0 {
		stored, err := r.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		if stored == nil {
			return nil, services.ErrTransactionNotFound
		}
		return nil, services.ErrStateConflict
	}

	return r.Get(ctx, key)
}

func (r *TransactionRepository) FindByOrder(ctx context.Context, provider models.Provider, orderID string) (*models.Transaction, error) {
	var record models.Transaction
	err := r.db.WithContext(ctx).
		Where("provider = ? AND order_id = ?", provider, orderID).
		Order("create_time desc").
		First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "find transaction by order")
	}
	return &record, nil
}

func (r *TransactionRepository) List(ctx context.Context, provider models.Provider, from, to int64) ([]models.Transaction, error) {
	var records []models.Transaction
	err := r.db.WithContext(ctx).
		Where("provider = ? AND create_time >= ? AND create_time <= ?", provider, from, to).
		Order("create_time asc").
		Find(&records).Error
	if err != nil {
		return nil, errors.Wrap(err, "list transactions")
	}
	return records, nil
}
