package services

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/example/paygate/internal/models"
)

// OrderStatus mirrors the payment-relevant statuses of the external order
// service.
type OrderStatus string

const (
	OrderStatusPending        OrderStatus = "PENDING"
	OrderStatusPaymentPending OrderStatus = "PAYMENT_PENDING"
	OrderStatusPaid           OrderStatus = "PAID"
	OrderStatusCancelled      OrderStatus = "CANCELLED"
	OrderStatusRefunded       OrderStatus = "REFUNDED"
)

// OrderLine is one order item as reported by the order service. Prices are in
// tiyin.
type OrderLine struct {
	Name      string `json:"name"`
	Quantity  int    `json:"quantity"`
	UnitPrice int64  `json:"unit_price"`
}

// OrderSnapshot is the order service's view of an order at lookup time. It is
// re-fetched on every create/prepare webhook because the order can change
// between gateway retries.
type OrderSnapshot struct {
	ID     string      `json:"id"`
	Status OrderStatus `json:"status"`
	Amount int64       `json:"amount"`
	Items  []OrderLine `json:"items"`
}

// OrderService is the external order collaborator. UpdateOrderPaymentStatus
// is idempotent on the remote side, so repeating a call after a fault is
// safe.
type OrderService interface {
	GetOrderByRef(ctx context.Context, ref string) (*OrderSnapshot, error)
	UpdateOrderPaymentStatus(ctx context.Context, orderID string, status OrderStatus, transactionID string) error
}

// OrderCheck is the result of verifying an order against a webhook amount.
// Reason is one of the sentinel errors when OK is false; failure here is an
// expected outcome, not a fault.
type OrderCheck struct {
	OK     bool
	Reason error
	Order  *OrderSnapshot
}

// OrderVerifier confirms the referenced order exists, is payable and matches
// the webhook amount exactly, in minor currency units.
type OrderVerifier struct {
	orders OrderService
}

func NewOrderVerifier(orders OrderService) *OrderVerifier {
	return &OrderVerifier{orders: orders}
}

// Verify returns a non-nil error only for collaborator faults; expected
// rejections come back in the OrderCheck.
func (v *OrderVerifier) Verify(ctx context.Context, ref string, amount int64) (OrderCheck, error) {
	order, err := v.orders.GetOrderByRef(ctx, ref)
	if err != nil {
		return OrderCheck{}, err
	}
	if order == nil {
		return OrderCheck{Reason: ErrOrderNotFound}, nil
	}
	if order.Status != OrderStatusPending && order.Status != OrderStatusPaymentPending {
		return OrderCheck{Reason: ErrOrderNotPayable, Order: order}, nil
	}
	if order.Amount != amount {
		return OrderCheck{Reason: ErrAmountMismatch, Order: order}, nil
	}
	return OrderCheck{OK: true, Order: order}, nil
}

// OrderNotifier issues the outbound order-status calls that follow a state
// transition. The transition itself commits first; the call is retried on
// later replays until it succeeds once, then the stored marker suppresses it.
type OrderNotifier struct {
	store  TransactionStore
	orders OrderService
	now    func() int64
}

func NewOrderNotifier(store TransactionStore, orders OrderService) *OrderNotifier {
	return &OrderNotifier{store: store, orders: orders}
}

// EnsurePaid requests order completion for a paid transaction exactly once.
// A failed call leaves the marker unset; the next perform replay retries it.
func (n *OrderNotifier) EnsurePaid(ctx context.Context, record *models.Transaction) *models.Transaction {
	if record.State != TransactionStatePaid || record.OrderNotifiedAt != 0 || record.OrderID == "" {
		return record
	}
	if err := n.orders.UpdateOrderPaymentStatus(ctx, record.OrderID, OrderStatusPaid, record.TransactionID); err != nil {
		log.Error().Err(err).
			Str("provider", string(record.Provider)).
			Str("transaction_id", record.TransactionID).
			Str("order_id", record.OrderID).
			Msg("order completion call failed, will retry on replay")
		return record
	}
	key := TransactionKey{Provider: record.Provider, TransactionID: record.TransactionID}
	updated, err := n.store.CompareAndTransition(ctx, key, TransactionStatePaid, TransactionStatePaid, TransactionPatch{
		OrderNotifiedAt: n.clock(),
	})
	if err != nil {
		log.Warn().Err(err).
			Str("transaction_id", record.TransactionID).
			Msg("failed to persist order notification marker")
		return record
	}
	return updated
}

// EnsureRefunded requests a refund for a paid-then-canceled transaction
// exactly once. Cancels of a never-paid transaction carry no refund
// obligation and never reach this call with a matching state.
func (n *OrderNotifier) EnsureRefunded(ctx context.Context, record *models.Transaction) *models.Transaction {
	if record.State != TransactionStatePaidCanceled || record.RefundedAt != 0 || record.OrderID == "" {
		return record
	}
	if err := n.orders.UpdateOrderPaymentStatus(ctx, record.OrderID, OrderStatusRefunded, record.TransactionID); err != nil {
		log.Error().Err(err).
			Str("provider", string(record.Provider)).
			Str("transaction_id", record.TransactionID).
			Str("order_id", record.OrderID).
			Msg("refund call failed, will retry on replay")
		return record
	}
	key := TransactionKey{Provider: record.Provider, TransactionID: record.TransactionID}
	updated, err := n.store.CompareAndTransition(ctx, key, TransactionStatePaidCanceled, TransactionStatePaidCanceled, TransactionPatch{
		RefundedAt: n.clock(),
	})
	if err != nil {
		log.Warn().Err(err).
			Str("transaction_id", record.TransactionID).
			Msg("failed to persist refund marker")
		return record
	}
	return updated
}

func (n *OrderNotifier) clock() int64 {
	if n.now != nil {
		return n.now()
	}
	return nowMillis()
}
