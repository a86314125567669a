package services

import (
	"context"
	"sync"

	"github.com/example/paygate/internal/models"
)

// memStore is an in-memory TransactionStore with the same CAS semantics as
// the gorm implementation.
type memStore struct {
	mu      sync.Mutex
	records map[TransactionKey]*models.Transaction
}

func newMemStore() *memStore {
	return &memStore{records: make(map[TransactionKey]*models.Transaction)}
}

func (s *memStore) CreateIfAbsent(ctx context.Context, key TransactionKey, record *models.Transaction) (*models.Transaction, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.records[key]; ok {
		return copyRecord(existing), false, nil
	}
	record.Provider = key.Provider
	record.TransactionID = key.TransactionID
	s.records[key] = copyRecord(record)
	return copyRecord(record), true, nil
}

func (s *memStore) Get(ctx context.Context, key TransactionKey) (*models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.records[key]
	if !ok {
		return nil, nil
	}
	return copyRecord(existing), nil
}

func (s *memStore) CompareAndTransition(ctx context.Context, key TransactionKey, expectedState, newState int, patch TransactionPatch) (*models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.records[key]
	if !ok {
		return nil, ErrTransactionNotFound
	}
	if existing.State != expectedState {
		return nil, ErrStateConflict
	}

	existing.State = newState
	if patch.PerformTime != 0 {
		existing.PerformTime = patch.PerformTime
	}
	if patch.CancelTime != 0 {
		existing.CancelTime = patch.CancelTime
	}
	if patch.Reason != nil {
		r := *patch.Reason
		existing.Reason = &r
	}
	if patch.OrderNotifiedAt != 0 {
		existing.OrderNotifiedAt = patch.OrderNotifiedAt
	}
	if patch.RefundedAt != 0 {
		existing.RefundedAt = patch.RefundedAt
	}
	return copyRecord(existing), nil
}

func (s *memStore) FindByOrder(ctx context.Context, provider models.Provider, orderID string) (*models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var latest *models.Transaction
	for key, record := range s.records {
		if key.Provider != provider || record.OrderID != orderID {
			continue
		}
		if latest == nil || record.CreateTime > latest.CreateTime {
			latest = record
		}
	}
	if latest == nil {
		return nil, nil
	}
	return copyRecord(latest), nil
}

func (s *memStore) List(ctx context.Context, provider models.Provider, from, to int64) ([]models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.Transaction
	for key, record := range s.records {
		if key.Provider != provider {
			continue
		}
		if record.CreateTime >= from && record.CreateTime <= to {
			out = append(out, *copyRecord(record))
		}
	}
	return out, nil
}

func (s *memStore) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

func copyRecord(record *models.Transaction) *models.Transaction {
	dup := *record
	if record.Reason != nil {
		r := *record.Reason
		dup.Reason = &r
	}
	return &dup
}

type statusCall struct {
	OrderID       string
	Status        OrderStatus
	TransactionID string
}

// fakeOrders is an in-memory OrderService with failure injection and call
// recording.
type fakeOrders struct {
	mu        sync.Mutex
	orders    map[string]*OrderSnapshot
	lookupErr error
	updateErr error
	calls     []statusCall
}

func newFakeOrders() *fakeOrders {
	return &fakeOrders{orders: make(map[string]*OrderSnapshot)}
}

func (f *fakeOrders) add(order OrderSnapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orders[order.ID] = &order
}

func (f *fakeOrders) GetOrderByRef(ctx context.Context, ref string) (*OrderSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.lookupErr != nil {
		return nil, f.lookupErr
	}
	order, ok := f.orders[ref]
	if !ok {
		return nil, nil
	}
	dup := *order
	dup.Items = append([]OrderLine(nil), order.Items...)
	return &dup, nil
}

func (f *fakeOrders) UpdateOrderPaymentStatus(ctx context.Context, orderID string, status OrderStatus, transactionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.updateErr != nil {
		return f.updateErr
	}
	f.calls = append(f.calls, statusCall{OrderID: orderID, Status: status, TransactionID: transactionID})
	return nil
}

func (f *fakeOrders) callsFor(orderID string, status OrderStatus) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	n := 0
	for _, call := range f.calls {
		if call.OrderID == orderID && call.Status == status {
			n++
		}
	}
	return n
}
