package services

import (
	"context"
	"strconv"

	"github.com/rs/zerolog/log"

	"github.com/example/paygate/internal/models"
)

// Payme answers every business rejection with a JSON-RPC error object; the
// HTTP status stays 200. Codes and messages are fixed by the provider.
type PaymeErrorInfo struct {
	Name    string
	Code    int
	Message map[string]string
}

var (
	PaymeErrorInvalidAmount = PaymeErrorInfo{
		Name: "InvalidAmount",
		Code: -31001,
		Message: map[string]string{
			"uz": "Noto'g'ri summa",
			"ru": "Недопустимая сумма",
			"en": "Invalid amount",
		},
	}
	PaymeErrorCantDoOperation = PaymeErrorInfo{
		Name: "CantDoOperation",
		Code: -31008,
		Message: map[string]string{
			"uz": "Biz operatsiyani bajara olmaymiz",
			"ru": "Мы не можем сделать операцию",
			"en": "We can't do operation",
		},
	}
	PaymeErrorTransactionNotFound = PaymeErrorInfo{
		Name: "TransactionNotFound",
		Code: -31050,
		Message: map[string]string{
			"uz": "Tranzaktsiya topilmadi",
			"ru": "Транзакция не найдена",
			"en": "Transaction not found",
		},
	}
	PaymeErrorOrderNotFound = PaymeErrorInfo{
		Name: "OrderNotFound",
		Code: -31050,
		Message: map[string]string{
			"uz": "Buyurtma topilmadi",
			"ru": "Заказ не найден",
			"en": "Order not found",
		},
	}
	PaymeErrorAlreadyDone = PaymeErrorInfo{
		Name: "AlreadyDone",
		Code: -31060,
		Message: map[string]string{
			"uz": "Mahsulot uchun to'lov qilingan",
			"ru": "Оплачено за товар",
			"en": "Paid for the product",
		},
	}
	PaymeErrorPending = PaymeErrorInfo{
		Name: "Pending",
		Code: -31050,
		Message: map[string]string{
			"uz": "Mahsulot uchun to'lov kutilayapti",
			"ru": "Ожидается оплата товар",
			"en": "Payment for the product is pending",
		},
	}
	PaymeErrorInvalidAuthorization = PaymeErrorInfo{
		Name: "InvalidAuthorization",
		Code: -32504,
		Message: map[string]string{
			"uz": "Avtorizatsiya yaroqsiz",
			"ru": "Авторизация недействительна",
			"en": "Authorization invalid",
		},
	}
	PaymeErrorInternal = PaymeErrorInfo{
		Name: "InternalError",
		Code: -32400,
		Message: map[string]string{
			"uz": "Tizim xatosi",
			"ru": "Системная ошибка",
			"en": "System error",
		},
	}
)

// TransactionError is a structured Payme business error carrying the RPC id
// it answers.
type TransactionError struct {
	Info PaymeErrorInfo
	ID   any
	Data any
}

func (e *TransactionError) Error() string {
	return e.Info.Name
}

// A pending transaction Payme never performed is abandoned after 12 minutes;
// the next webhook touching it cancels it with reason 4.
const paymePendingTimeoutMinutes = 12

const paymeTimeoutReason = 4

// Default fiscal codes applied to receipt items that carry none of their own.
const (
	paymeDefaultVATPercent  = 12
	paymeDefaultItemCode    = "10899002001000000"
	paymeDefaultPackageCode = "1234567"
)

type PaymeAccount struct {
	OrderID string `json:"order_id"`
}

type CheckPerformParams struct {
	Amount  int64        `json:"amount"`
	Account PaymeAccount `json:"account"`
}

type CheckTransactionParams struct {
	ID any `json:"id"`
}

type CreateTransactionParams struct {
	Account PaymeAccount `json:"account"`
	Time    int64        `json:"time"`
	Amount  int64        `json:"amount"`
	ID      string       `json:"id"`
}

type PerformTransactionParams struct {
	ID string `json:"id"`
}

type CancelTransactionParams struct {
	ID     string `json:"id"`
	Reason int    `json:"reason"`
}

type StatementParams struct {
	From int64 `json:"from"`
	To   int64 `json:"to"`
}

type PaymeReceiptItem struct {
	Title       string `json:"title"`
	Price       int64  `json:"price"`
	Count       int    `json:"count"`
	Code        string `json:"code"`
	VATPercent  int    `json:"vat_percent"`
	PackageCode string `json:"package_code"`
}

type PaymeReceiptDetail struct {
	ReceiptType int                `json:"receipt_type"`
	Items       []PaymeReceiptItem `json:"items,omitempty"`
}

type CheckPerformResult struct {
	Allow  bool                `json:"allow"`
	Detail *PaymeReceiptDetail `json:"detail,omitempty"`
}

type CreateTransactionResult struct {
	CreateTime  int64  `json:"create_time"`
	Transaction string `json:"transaction"`
	State       int    `json:"state"`
}

type PerformTransactionResult struct {
	PerformTime int64  `json:"perform_time"`
	Transaction string `json:"transaction"`
	State       int    `json:"state"`
}

type CancelTransactionResult struct {
	CancelTime  int64  `json:"cancel_time"`
	Transaction string `json:"transaction"`
	State       int    `json:"state"`
}

type CheckTransactionResult struct {
	CreateTime  int64  `json:"create_time"`
	PerformTime int64  `json:"perform_time"`
	CancelTime  int64  `json:"cancel_time"`
	Transaction string `json:"transaction"`
	State       int    `json:"state"`
	Reason      *int   `json:"reason"`
}

type StatementTransaction struct {
	TransactionID string       `json:"transaction_id"`
	Time          int64        `json:"time"`
	Amount        int64        `json:"amount"`
	Account       PaymeAccount `json:"account"`
	CreateTime    int64        `json:"create_time"`
	PerformTime   int64        `json:"perform_time"`
	CancelTime    int64        `json:"cancel_time"`
	Transaction   string       `json:"transaction"`
	State         int          `json:"state"`
	Reason        *int         `json:"reason"`
}

// PaymeService translates Payme JSON-RPC calls into state machine operations
// and maps the outcomes back into Payme result and error shapes.
type PaymeService struct {
	store    TransactionStore
	machine  *TransactionStateMachine
	verifier *OrderVerifier
	notifier *OrderNotifier
	now      func() int64
}

func NewPaymeService(store TransactionStore, orders OrderService) *PaymeService {
	return &PaymeService{
		store:    store,
		machine:  NewTransactionStateMachine(store),
		verifier: NewOrderVerifier(orders),
		notifier: NewOrderNotifier(store, orders),
		now:      nowMillis,
	}
}

// CheckPerformTransaction validates that the order exists, is payable and the
// amount matches. Read-only; no transaction is created or mutated.
func (s *PaymeService) CheckPerformTransaction(ctx context.Context, params CheckPerformParams, id any) (*CheckPerformResult, error) {
	check, err := s.verifier.Verify(ctx, params.Account.OrderID, params.Amount)
	if err != nil {
		return nil, err
	}
	if !check.OK {
		return nil, s.orderRejection(check, id)
	}

	return &CheckPerformResult{
		Allow:  true,
		Detail: buildReceiptDetail(check.Order),
	}, nil
}

// CreateTransaction idempotently registers a pending transaction. A repeat
// call for the same id answers with the stored create_time and state.
func (s *PaymeService) CreateTransaction(ctx context.Context, params CreateTransactionParams, id any) (*CreateTransactionResult, error) {
	key := TransactionKey{Provider: models.ProviderPayme, TransactionID: params.ID}

	existing, err := s.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		if existing.State != TransactionStatePending {
			return nil, &TransactionError{Info: PaymeErrorCantDoOperation, ID: id}
		}
		if expired, err := s.expirePending(ctx, key, existing); err != nil {
			return nil, err
		} else if expired {
			return nil, &TransactionError{Info: PaymeErrorCantDoOperation, ID: id}
		}
		return &CreateTransactionResult{
			CreateTime:  existing.CreateTime,
			Transaction: existing.TransactionID,
			State:       TransactionStatePending,
		}, nil
	}

	// Order state can change between gateway retries, so it is re-verified on
	// every create, never cached.
	check, err := s.verifier.Verify(ctx, params.Account.OrderID, params.Amount)
	if err != nil {
		return nil, err
	}
	if !check.OK {
		return nil, s.orderRejection(check, id)
	}

	// One active transaction per order: a second id arriving while another
	// one is pending (or paid) for the same order must be refused.
	sibling, err := s.store.FindByOrder(ctx, models.ProviderPayme, params.Account.OrderID)
	if err != nil {
		return nil, err
	}
	if sibling != nil && sibling.TransactionID != params.ID {
		switch sibling.State {
		case TransactionStatePaid:
			return nil, &TransactionError{Info: PaymeErrorAlreadyDone, ID: id}
		case TransactionStatePending:
			return nil, &TransactionError{Info: PaymeErrorPending, ID: id}
		}
	}

	record, created, err := s.machine.Create(ctx, key, &models.Transaction{
		Provider:      models.ProviderPayme,
		TransactionID: params.ID,
		OrderID:       params.Account.OrderID,
		Amount:        params.Amount,
		CreateTime:    params.Time,
	})
	if err != nil {
		return nil, err
	}
	if !created && record.State != TransactionStatePending {
		// Race loser and the winner already moved on.
		return nil, &TransactionError{Info: PaymeErrorCantDoOperation, ID: id}
	}

	return &CreateTransactionResult{
		CreateTime:  record.CreateTime,
		Transaction: record.TransactionID,
		State:       record.State,
	}, nil
}

// PerformTransaction marks a pending transaction as paid and requests order
// completion. Replays return the stored perform_time; a completion call that
// failed earlier is retried here because the remote update is idempotent.
func (s *PaymeService) PerformTransaction(ctx context.Context, params PerformTransactionParams, id any) (*PerformTransactionResult, error) {
	key := TransactionKey{Provider: models.ProviderPayme, TransactionID: params.ID}

	record, err := s.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, &TransactionError{Info: PaymeErrorTransactionNotFound, ID: id}
	}

	if record.State == TransactionStatePending {
		if expired, err := s.expirePending(ctx, key, record); err != nil {
			return nil, err
		} else if expired {
			return nil, &TransactionError{Info: PaymeErrorCantDoOperation, ID: id}
		}
	}

	record, _, err = s.machine.Perform(ctx, key)
	if err != nil {
		switch err {
		case ErrTransactionNotFound:
			return nil, &TransactionError{Info: PaymeErrorTransactionNotFound, ID: id}
		case ErrTransactionCanceled:
			return nil, &TransactionError{Info: PaymeErrorCantDoOperation, ID: id}
		default:
			return nil, err
		}
	}

	record = s.notifier.EnsurePaid(ctx, record)

	return &PerformTransactionResult{
		PerformTime: record.PerformTime,
		Transaction: record.TransactionID,
		State:       record.State,
	}, nil
}

// CancelTransaction cancels from whatever state the transaction is currently
// in: -1 from pending, -2 from paid. Only the -2 outcome triggers a refund,
// and at most once even when the cancel itself is retried.
func (s *PaymeService) CancelTransaction(ctx context.Context, params CancelTransactionParams, id any) (*CancelTransactionResult, error) {
	key := TransactionKey{Provider: models.ProviderPayme, TransactionID: params.ID}

	record, replayed, err := s.machine.Cancel(ctx, key, params.Reason)
	if err != nil {
		if err == ErrTransactionNotFound {
			return nil, &TransactionError{Info: PaymeErrorTransactionNotFound, ID: id}
		}
		return nil, err
	}
	if replayed {
		log.Debug().Str("transaction_id", params.ID).Msg("cancel replayed, returning stored result")
	}

	record = s.notifier.EnsureRefunded(ctx, record)

	return &CancelTransactionResult{
		CancelTime:  record.CancelTime,
		Transaction: record.TransactionID,
		State:       record.State,
	}, nil
}

// CheckTransaction returns the full stored record. Read-only.
func (s *PaymeService) CheckTransaction(ctx context.Context, params CheckTransactionParams, id any) (*CheckTransactionResult, error) {
	var lookupID string
	switch v := params.ID.(type) {
	case string:
		lookupID = v
	case float64:
		lookupID = strconv.FormatInt(int64(v), 10)
	default:
		return nil, &TransactionError{Info: PaymeErrorTransactionNotFound, ID: id}
	}

	key := TransactionKey{Provider: models.ProviderPayme, TransactionID: lookupID}
	record, err := s.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, &TransactionError{Info: PaymeErrorTransactionNotFound, ID: id}
	}

	var reason *int
	if record.Reason != nil && *record.Reason != 0 {
		reason = record.Reason
	}

	return &CheckTransactionResult{
		CreateTime:  record.CreateTime,
		PerformTime: record.PerformTime,
		CancelTime:  record.CancelTime,
		Transaction: record.TransactionID,
		State:       record.State,
		Reason:      reason,
	}, nil
}

// GetStatement returns transactions whose create_time falls in [from, to].
func (s *PaymeService) GetStatement(ctx context.Context, params StatementParams) ([]StatementTransaction, error) {
	records, err := s.store.List(ctx, models.ProviderPayme, params.From, params.To)
	if err != nil {
		return nil, err
	}

	result := make([]StatementTransaction, 0, len(records))
	for _, t := range records {
		result = append(result, StatementTransaction{
			TransactionID: t.TransactionID,
			Time:          t.CreateTime,
			Amount:        t.Amount,
			Account:       PaymeAccount{OrderID: t.OrderID},
			CreateTime:    t.CreateTime,
			PerformTime:   t.PerformTime,
			CancelTime:    t.CancelTime,
			Transaction:   t.TransactionID,
			State:         t.State,
			Reason:        t.Reason,
		})
	}
	return result, nil
}

// expirePending cancels a pending transaction Payme abandoned. Reports true
// when the record is (now) timed out.
func (s *PaymeService) expirePending(ctx context.Context, key TransactionKey, record *models.Transaction) (bool, error) {
	if (s.now()-record.CreateTime)/60000 < paymePendingTimeoutMinutes {
		return false, nil
	}
	if _, _, err := s.machine.Cancel(ctx, key, paymeTimeoutReason); err != nil {
		return false, err
	}
	log.Info().
		Str("transaction_id", record.TransactionID).
		Int64("create_time", record.CreateTime).
		Msg("pending transaction timed out, canceled")
	return true, nil
}

func (s *PaymeService) orderRejection(check OrderCheck, id any) error {
	switch check.Reason {
	case ErrOrderNotFound:
		return &TransactionError{Info: PaymeErrorOrderNotFound, ID: id}
	case ErrAmountMismatch:
		return &TransactionError{Info: PaymeErrorInvalidAmount, ID: id}
	case ErrOrderNotPayable:
		if check.Order != nil && check.Order.Status == OrderStatusPaid {
			return &TransactionError{Info: PaymeErrorAlreadyDone, ID: id}
		}
		return &TransactionError{Info: PaymeErrorCantDoOperation, ID: id}
	default:
		return &TransactionError{Info: PaymeErrorCantDoOperation, ID: id}
	}
}

func buildReceiptDetail(order *OrderSnapshot) *PaymeReceiptDetail {
	if order == nil || len(order.Items) == 0 {
		return nil
	}
	detail := &PaymeReceiptDetail{}
	for _, item := range order.Items {
		detail.Items = append(detail.Items, PaymeReceiptItem{
			Title:       item.Name,
			Price:       item.UnitPrice,
			Count:       item.Quantity,
			Code:        paymeDefaultItemCode,
			VATPercent:  paymeDefaultVATPercent,
			PackageCode: paymeDefaultPackageCode,
		})
	}
	return detail
}
