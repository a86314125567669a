package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/paygate/internal/models"
)

const clickTestSecret = "click-secret"

func newClickFixture() (*ClickService, *memStore, *fakeOrders) {
	store := newMemStore()
	orders := newFakeOrders()
	orders.add(OrderSnapshot{ID: "order-42", Status: OrderStatusPending, Amount: 150000})
	return NewClickService(store, orders, clickTestSecret), store, orders
}

func clickPrepareRequest() ClickRequest {
	req := ClickRequest{
		ClickTransID:    "777001",
		ServiceID:       "22814",
		MerchantTransID: "order-42",
		Amount:          "150000",
		Action:          ClickActionPrepare,
		SignTime:        "2024-05-11 14:02:55",
	}
	signClick(&req)
	return req
}

func clickCompleteRequest(prepareID string, clickErr int) ClickRequest {
	req := ClickRequest{
		ClickTransID:      "777001",
		ServiceID:         "22814",
		MerchantTransID:   "order-42",
		MerchantPrepareID: prepareID,
		Amount:            "150000",
		Action:            ClickActionComplete,
		Error:             clickErr,
		SignTime:          "2024-05-11 14:05:01",
	}
	signClick(&req)
	return req
}

func signClick(req *ClickRequest) {
	req.SignString = ClickSignature(ClickSignPayload{
		ClickTransID:      req.ClickTransID,
		ServiceID:         req.ServiceID,
		MerchantTransID:   req.MerchantTransID,
		MerchantPrepareID: req.MerchantPrepareID,
		Amount:            req.Amount,
		Action:            req.Action,
		SignTime:          req.SignTime,
	}, clickTestSecret)
}

func TestClickPrepareSuccess(t *testing.T) {
	svc, store, _ := newClickFixture()

	resp := svc.Prepare(context.Background(), clickPrepareRequest())

	assert.Equal(t, ClickSuccess, resp.Error)
	assert.Equal(t, "777001", resp.ClickTransID)
	assert.Equal(t, "order-42", resp.MerchantTransID)
	assert.NotEmpty(t, resp.MerchantPrepareID)

	record, err := store.Get(context.Background(), TransactionKey{Provider: models.ProviderClick, TransactionID: "777001"})
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, TransactionStatePending, record.State)
	assert.Equal(t, int64(150000), record.Amount)
}

func TestClickPrepareRetryReusesPrepareID(t *testing.T) {
	svc, store, _ := newClickFixture()
	ctx := context.Background()

	first := svc.Prepare(ctx, clickPrepareRequest())
	second := svc.Prepare(ctx, clickPrepareRequest())

	assert.Equal(t, ClickSuccess, second.Error)
	assert.Equal(t, first.MerchantPrepareID, second.MerchantPrepareID, "prepare id is generated once per transaction")
	assert.Equal(t, 1, store.len())
}

func TestClickPrepareRejectsBadSignature(t *testing.T) {
	svc, store, _ := newClickFixture()

	req := clickPrepareRequest()
	req.Amount = "150001" // mutate a signed field after signing

	resp := svc.Prepare(context.Background(), req)

	assert.Equal(t, ClickErrSignCheckFailed, resp.Error)
	assert.Zero(t, store.len(), "rejected webhooks must not create transactions")
}

func TestClickPrepareAmountMismatch(t *testing.T) {
	svc, store, _ := newClickFixture()

	req := clickPrepareRequest()
	req.Amount = "140000"
	signClick(&req)

	resp := svc.Prepare(context.Background(), req)

	assert.Equal(t, ClickErrInvalidAmount, resp.Error)
	assert.Zero(t, store.len())
}

func TestClickPrepareUnknownOrder(t *testing.T) {
	svc, store, _ := newClickFixture()

	req := clickPrepareRequest()
	req.MerchantTransID = "order-missing"
	signClick(&req)

	resp := svc.Prepare(context.Background(), req)

	assert.Equal(t, ClickErrInvalidAmount, resp.Error)
	assert.Zero(t, store.len())
}

func TestClickCompleteSuccessAndReplay(t *testing.T) {
	svc, _, orders := newClickFixture()
	ctx := context.Background()

	prepared := svc.Prepare(ctx, clickPrepareRequest())
	require.Equal(t, ClickSuccess, prepared.Error)

	first := svc.Complete(ctx, clickCompleteRequest(prepared.MerchantPrepareID, 0))
	assert.Equal(t, ClickSuccess, first.Error)
	assert.Equal(t, 1, orders.callsFor("order-42", OrderStatusPaid))

	// Same click_trans_id again: identical success, no duplicate completion.
	again := svc.Complete(ctx, clickCompleteRequest(prepared.MerchantPrepareID, 0))
	assert.Equal(t, first, again)
	assert.Equal(t, 1, orders.callsFor("order-42", OrderStatusPaid))
}

func TestClickCompletePrepareIDMismatch(t *testing.T) {
	svc, _, _ := newClickFixture()
	ctx := context.Background()

	prepared := svc.Prepare(ctx, clickPrepareRequest())
	require.Equal(t, ClickSuccess, prepared.Error)

	resp := svc.Complete(ctx, clickCompleteRequest("0", 0))
	assert.Equal(t, ClickErrTransNotFound, resp.Error)
}

func TestClickCompleteUnknownTransaction(t *testing.T) {
	svc, _, _ := newClickFixture()

	resp := svc.Complete(context.Background(), clickCompleteRequest("123", 0))
	assert.Equal(t, ClickErrTransNotFound, resp.Error)
}

func TestClickCompleteGatewayErrorCancelsWithoutRefund(t *testing.T) {
	svc, store, orders := newClickFixture()
	ctx := context.Background()

	prepared := svc.Prepare(ctx, clickPrepareRequest())
	require.Equal(t, ClickSuccess, prepared.Error)

	resp := svc.Complete(ctx, clickCompleteRequest(prepared.MerchantPrepareID, -1))
	assert.Equal(t, ClickErrTransCanceled, resp.Error)

	record, err := store.Get(ctx, TransactionKey{Provider: models.ProviderClick, TransactionID: "777001"})
	require.NoError(t, err)
	assert.Equal(t, TransactionStatePendingCanceled, record.State)
	require.NotNil(t, record.Reason)
	assert.Equal(t, -1, *record.Reason)
	assert.Zero(t, orders.callsFor("order-42", OrderStatusRefunded))
}

func TestClickCancelAfterCompleteRefundsOnce(t *testing.T) {
	svc, store, orders := newClickFixture()
	ctx := context.Background()

	prepared := svc.Prepare(ctx, clickPrepareRequest())
	require.Equal(t, ClickSuccess, prepared.Error)
	completed := svc.Complete(ctx, clickCompleteRequest(prepared.MerchantPrepareID, 0))
	require.Equal(t, ClickSuccess, completed.Error)

	resp := svc.Complete(ctx, clickCompleteRequest(prepared.MerchantPrepareID, -5017))
	assert.Equal(t, ClickErrTransCanceled, resp.Error)

	record, err := store.Get(ctx, TransactionKey{Provider: models.ProviderClick, TransactionID: "777001"})
	require.NoError(t, err)
	assert.Equal(t, TransactionStatePaidCanceled, record.State)
	assert.Equal(t, 1, orders.callsFor("order-42", OrderStatusRefunded))

	// Retry of the cancellation webhook: still exactly one refund.
	svc.Complete(ctx, clickCompleteRequest(prepared.MerchantPrepareID, -5017))
	assert.Equal(t, 1, orders.callsFor("order-42", OrderStatusRefunded))
}

func TestParseClickAmount(t *testing.T) {
	tests := []struct {
		raw     string
		want    int64
		wantErr bool
	}{
		{raw: "150000", want: 150000},
		{raw: "150000.00", want: 150000},
		{raw: " 150000 ", want: 150000},
		{raw: "150000.50", wantErr: true},
		{raw: "abc", wantErr: true},
		{raw: "", wantErr: true},
	}

	for _, tt := range tests {
		got, err := parseClickAmount(tt.raw)
		if tt.wantErr {
			assert.Error(t, err, "raw=%q", tt.raw)
			continue
		}
		require.NoError(t, err, "raw=%q", tt.raw)
		assert.Equal(t, tt.want, got)
	}
}
