package services

import (
	"context"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/example/paygate/internal/models"
)

// Click numeric result codes are fixed by the provider; no other codes are
// synthesized.
const (
	ClickSuccess            = 0
	ClickErrSignCheckFailed = -1
	ClickErrInvalidAmount   = -5
	ClickErrTransNotFound   = -6
	ClickErrInternal        = -8
	ClickErrTransCanceled   = -9
)

// Click webhook actions.
const (
	ClickActionPrepare  = "0"
	ClickActionComplete = "1"
)

// ClickRequest carries the Click webhook fields. Signed fields stay raw wire
// strings so the signature check is byte-exact.
type ClickRequest struct {
	ClickTransID      string `json:"click_trans_id" form:"click_trans_id"`
	ServiceID         string `json:"service_id" form:"service_id"`
	MerchantTransID   string `json:"merchant_trans_id" form:"merchant_trans_id"`
	MerchantPrepareID string `json:"merchant_prepare_id" form:"merchant_prepare_id"`
	Amount            string `json:"amount" form:"amount"`
	Action            string `json:"action" form:"action"`
	Error             int    `json:"error" form:"error"`
	ErrorNote         string `json:"error_note" form:"error_note"`
	SignTime          string `json:"sign_time" form:"sign_time"`
	SignString        string `json:"sign_string" form:"sign_string"`
}

// ClickResponse is the provider-shaped webhook reply.
type ClickResponse struct {
	ClickTransID      string `json:"click_trans_id"`
	MerchantTransID   string `json:"merchant_trans_id"`
	MerchantPrepareID string `json:"merchant_prepare_id,omitempty"`
	Error             int    `json:"error"`
	ErrorNote         string `json:"error_note"`
}

// ClickService translates Click's two-phase prepare/complete webhooks into
// state machine operations. Every path returns a provider-shaped response;
// nothing is thrown across this boundary.
type ClickService struct {
	store     TransactionStore
	machine   *TransactionStateMachine
	verifier  *OrderVerifier
	notifier  *OrderNotifier
	secretKey string
}

func NewClickService(store TransactionStore, orders OrderService, secretKey string) *ClickService {
	return &ClickService{
		store:     store,
		machine:   NewTransactionStateMachine(store),
		verifier:  NewOrderVerifier(orders),
		notifier:  NewOrderNotifier(store, orders),
		secretKey: secretKey,
	}
}

// Prepare handles action=0: verify signature, verify order, idempotently
// create the transaction with a prepare id that is generated once and reused
// by every retry.
func (s *ClickService) Prepare(ctx context.Context, req ClickRequest) ClickResponse {
	if !s.verifySignature(req, "") {
		return s.fail(req, ClickErrSignCheckFailed, "SIGN CHECK FAILED!")
	}

	amount, err := parseClickAmount(req.Amount)
	if err != nil {
		return s.fail(req, ClickErrInvalidAmount, "Incorrect parameter amount")
	}

	check, err := s.verifier.Verify(ctx, req.MerchantTransID, amount)
	if err != nil {
		log.Error().Err(err).Str("merchant_trans_id", req.MerchantTransID).Msg("order lookup failed")
		return s.fail(req, ClickErrInternal, "Internal error")
	}
	if !check.OK {
		switch check.Reason {
		case ErrAmountMismatch:
			return s.fail(req, ClickErrInvalidAmount, "Incorrect parameter amount")
		default:
			return s.fail(req, ClickErrInvalidAmount, "Order not found or not payable")
		}
	}

	record, _, err := s.machine.Create(ctx, s.key(req), &models.Transaction{
		Provider:      models.ProviderClick,
		TransactionID: req.ClickTransID,
		OrderID:       req.MerchantTransID,
		Amount:        amount,
		PrepareID:     newPrepareID(),
	})
	if err != nil {
		log.Error().Err(err).Str("click_trans_id", req.ClickTransID).Msg("prepare create failed")
		return s.fail(req, ClickErrInternal, "Internal error")
	}

	return ClickResponse{
		ClickTransID:      req.ClickTransID,
		MerchantTransID:   req.MerchantTransID,
		MerchantPrepareID: record.PrepareID,
		Error:             ClickSuccess,
		ErrorNote:         "Success",
	}
}

// Complete handles action=1: verify signature, match the stored prepare id,
// then either cancel (Click reported an upstream error) or perform and
// request order completion. Repeat completes are idempotent replays.
func (s *ClickService) Complete(ctx context.Context, req ClickRequest) ClickResponse {
	if !s.verifySignature(req, req.MerchantPrepareID) {
		return s.fail(req, ClickErrSignCheckFailed, "SIGN CHECK FAILED!")
	}

	record, err := s.store.Get(ctx, s.key(req))
	if err != nil {
		log.Error().Err(err).Str("click_trans_id", req.ClickTransID).Msg("transaction lookup failed")
		return s.fail(req, ClickErrInternal, "Internal error")
	}
	if record == nil || record.PrepareID != req.MerchantPrepareID {
		return s.fail(req, ClickErrTransNotFound, "Transaction does not exist")
	}

	if req.Error < 0 {
		// Click canceled the payment on its side; reflect it here. Whether a
		// refund follows depends on the state the record is in right now.
		record, _, err = s.machine.Cancel(ctx, s.key(req), req.Error)
		if err != nil {
			log.Error().Err(err).Str("click_trans_id", req.ClickTransID).Msg("cancel failed")
			return s.fail(req, ClickErrInternal, "Internal error")
		}
		s.notifier.EnsureRefunded(ctx, record)
		return s.fail(req, ClickErrTransCanceled, "Transaction canceled")
	}

	record, _, err = s.machine.Perform(ctx, s.key(req))
	switch err {
	case nil:
	case ErrTransactionNotFound:
		return s.fail(req, ClickErrTransNotFound, "Transaction does not exist")
	case ErrTransactionCanceled:
		return s.fail(req, ClickErrTransCanceled, "Transaction canceled")
	default:
		log.Error().Err(err).Str("click_trans_id", req.ClickTransID).Msg("perform failed")
		return s.fail(req, ClickErrInternal, "Internal error")
	}

	s.notifier.EnsurePaid(ctx, record)

	return ClickResponse{
		ClickTransID:      req.ClickTransID,
		MerchantTransID:   req.MerchantTransID,
		MerchantPrepareID: record.PrepareID,
		Error:             ClickSuccess,
		ErrorNote:         "Success",
	}
}

func (s *ClickService) key(req ClickRequest) TransactionKey {
	return TransactionKey{Provider: models.ProviderClick, TransactionID: req.ClickTransID}
}

func (s *ClickService) verifySignature(req ClickRequest, prepareID string) bool {
	return VerifyClickSignature(ClickSignPayload{
		ClickTransID:      req.ClickTransID,
		ServiceID:         req.ServiceID,
		MerchantTransID:   req.MerchantTransID,
		MerchantPrepareID: prepareID,
		Amount:            req.Amount,
		Action:            req.Action,
		SignTime:          req.SignTime,
	}, req.SignString, s.secretKey)
}

func (s *ClickService) fail(req ClickRequest, code int, note string) ClickResponse {
	return ClickResponse{
		ClickTransID:    req.ClickTransID,
		MerchantTransID: req.MerchantTransID,
		Error:           code,
		ErrorNote:       note,
	}
}

// parseClickAmount reads the wire amount as minor currency units, tolerating
// a trailing decimal fraction ("150000" and "150000.00" are the same value).
func parseClickAmount(raw string) (int64, error) {
	raw = strings.TrimSpace(raw)
	if idx := strings.IndexByte(raw, '.'); idx >= 0 {
		frac := strings.TrimRight(raw[idx+1:], "0")
		if frac != "" {
			return 0, strconv.ErrSyntax
		}
		raw = raw[:idx]
	}
	return strconv.ParseInt(raw, 10, 64)
}

func newPrepareID() string {
	return strconv.FormatUint(uint64(uuid.New().ID()), 10)
}
