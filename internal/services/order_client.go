package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"
)

// OrderClient is the HTTP implementation of the OrderService collaborator.
// The order service itself lives outside this codebase; this client is just
// the wire glue.
type OrderClient struct {
	baseURL string
	client  *http.Client
}

func NewOrderClient(baseURL string) *OrderClient {
	return &OrderClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

type orderWire struct {
	ID          string  `json:"id"`
	Status      string  `json:"status"`
	TotalAmount float64 `json:"total_amount"`
	Items       []struct {
		ProductName string  `json:"product_name"`
		Quantity    int     `json:"quantity"`
		UnitPrice   float64 `json:"unit_price"`
	} `json:"items"`
}

// GetOrderByRef fetches the order by merchant-assigned id. Returns (nil, nil)
// on 404. Amounts arrive in som and are converted to tiyin here so the core
// only ever compares minor units.
func (c *OrderClient) GetOrderByRef(ctx context.Context, ref string) (*OrderSnapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/orders/"+ref, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("order service returned %d: %s", resp.StatusCode, string(body))
	}

	var wire orderWire
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, err
	}

	snapshot := &OrderSnapshot{
		ID:     wire.ID,
		Status: OrderStatus(wire.Status),
		Amount: somToTiyin(wire.TotalAmount),
	}
	for _, item := range wire.Items {
		snapshot.Items = append(snapshot.Items, OrderLine{
			Name:      item.ProductName,
			Quantity:  item.Quantity,
			UnitPrice: somToTiyin(item.UnitPrice),
		})
	}
	return snapshot, nil
}

// UpdateOrderPaymentStatus reports a payment outcome to the order service.
// The remote endpoint is idempotent per its contract, so repeated calls for
// the same transaction are harmless.
func (c *OrderClient) UpdateOrderPaymentStatus(ctx context.Context, orderID string, status OrderStatus, transactionID string) error {
	payload, err := json.Marshal(map[string]string{
		"status":         string(status),
		"transaction_id": transactionID,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/orders/"+orderID+"/payment-status", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("order service returned %d: %s", resp.StatusCode, string(body))
	}
	return nil
}

func somToTiyin(som float64) int64 {
	return int64(math.Round(som * 100))
}
