package services

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const paymeTestKey = "payme-merchant-key"

func newDispatcherFixture() (*GatewayDispatcher, *memStore, *fakeOrders) {
	store := newMemStore()
	orders := newFakeOrders()
	orders.add(OrderSnapshot{ID: "o1", Status: OrderStatusPending, Amount: 100000})

	click := NewClickService(store, orders, clickTestSecret)
	payme := NewPaymeService(store, orders)
	return NewGatewayDispatcher(click, payme, paymeTestKey), store, orders
}

func paymeBody(t *testing.T, method string, params any, id any) []byte {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"method": method,
		"params": params,
		"id":     id,
	})
	require.NoError(t, err)
	return body
}

func TestHandlePaymeRejectsBadSignature(t *testing.T) {
	d, store, _ := newDispatcherFixture()

	body := paymeBody(t, "CreateTransaction", CreateTransactionParams{
		ID: "t1", Amount: 100000, Account: PaymeAccount{OrderID: "o1"},
	}, 7)

	resp := d.HandlePayme(context.Background(), body, "not-a-signature")

	require.NotNil(t, resp.Error)
	assert.Equal(t, PaymeErrorInvalidAuthorization.Code, resp.Error.Code)
	assert.Equal(t, float64(7), resp.ID, "rejection still references the request id")
	assert.Zero(t, store.len(), "unauthenticated calls must not touch the store")
}

func TestHandlePaymeCreatePerformCancel(t *testing.T) {
	d, _, orders := newDispatcherFixture()
	ctx := context.Background()

	send := func(method string, params any) PaymeRPCResponse {
		body := paymeBody(t, method, params, 1)
		return d.HandlePayme(ctx, body, PaymeSignature(body, paymeTestKey))
	}

	created := send("CreateTransaction", CreateTransactionParams{ID: "t1", Amount: 100000, Account: PaymeAccount{OrderID: "o1"}})
	require.Nil(t, created.Error)
	assert.Equal(t, "2.0", created.Jsonrpc)
	assert.Equal(t, TransactionStatePending, created.Result.(*CreateTransactionResult).State)

	performed := send("PerformTransaction", PerformTransactionParams{ID: "t1"})
	require.Nil(t, performed.Error)
	assert.Equal(t, TransactionStatePaid, performed.Result.(*PerformTransactionResult).State)

	canceled := send("CancelTransaction", CancelTransactionParams{ID: "t1", Reason: 4})
	require.Nil(t, canceled.Error)
	assert.Equal(t, TransactionStatePaidCanceled, canceled.Result.(*CancelTransactionResult).State)
	assert.Equal(t, 1, orders.callsFor("o1", OrderStatusRefunded))
}

func TestHandlePaymeBusinessErrorStaysJSONRPC(t *testing.T) {
	d, _, _ := newDispatcherFixture()

	body := paymeBody(t, "PerformTransaction", PerformTransactionParams{ID: "ghost"}, 9)
	resp := d.HandlePayme(context.Background(), body, PaymeSignature(body, paymeTestKey))

	require.NotNil(t, resp.Error)
	assert.Equal(t, PaymeErrorTransactionNotFound.Code, resp.Error.Code)
	assert.NotEmpty(t, resp.Error.Message["en"])
}

func TestHandlePaymeUnknownMethod(t *testing.T) {
	d, _, _ := newDispatcherFixture()

	body := paymeBody(t, "DeleteTransaction", map[string]any{}, 3)
	resp := d.HandlePayme(context.Background(), body, PaymeSignature(body, paymeTestKey))

	require.NotNil(t, resp.Error)
	assert.Equal(t, -32601, resp.Error.Code)
}

func TestHandlePaymeUnparseableBody(t *testing.T) {
	d, _, _ := newDispatcherFixture()

	body := []byte("{not json")
	resp := d.HandlePayme(context.Background(), body, PaymeSignature(body, paymeTestKey))

	require.NotNil(t, resp.Error)
	assert.Equal(t, -32700, resp.Error.Code)
}

func TestHandleClickRoutesByAction(t *testing.T) {
	d, _, _ := newDispatcherFixture()
	ctx := context.Background()

	// Valid prepare goes to the click adapter.
	req := ClickRequest{
		ClickTransID:    "55",
		ServiceID:       "22814",
		MerchantTransID: "o1",
		Amount:          "100000",
		Action:          ClickActionPrepare,
		SignTime:        "2024-05-11 14:02:55",
	}
	signClick(&req)
	resp := d.HandleClick(ctx, req)
	assert.Equal(t, ClickSuccess, resp.Error)

	// Unknown action never reaches an adapter.
	bad := req
	bad.Action = "7"
	resp = d.HandleClick(ctx, bad)
	assert.Equal(t, ClickErrInternal, resp.Error)
	assert.Equal(t, "Unknown action", resp.ErrorNote)
}

func TestHandlePaymeStatement(t *testing.T) {
	d, _, _ := newDispatcherFixture()
	ctx := context.Background()

	body := paymeBody(t, "CreateTransaction", CreateTransactionParams{ID: "t1", Amount: 100000, Time: 4000, Account: PaymeAccount{OrderID: "o1"}}, 1)
	created := d.HandlePayme(ctx, body, PaymeSignature(body, paymeTestKey))
	require.Nil(t, created.Error, fmt.Sprintf("%+v", created.Error))

	body = paymeBody(t, "GetStatement", StatementParams{From: 0, To: 10000}, 2)
	resp := d.HandlePayme(ctx, body, PaymeSignature(body, paymeTestKey))
	require.Nil(t, resp.Error)

	result := resp.Result.(map[string]any)
	txns := result["transactions"].([]StatementTransaction)
	require.Len(t, txns, 1)
	assert.Equal(t, "t1", txns[0].TransactionID)
}
