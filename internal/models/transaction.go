package models

// Provider identifies the payment gateway a transaction belongs to.
type Provider string

const (
	ProviderClick Provider = "click"
	ProviderPayme Provider = "payme"
)

// Transaction stores the state of a single gateway payment attempt.
//
// A row is created by the first successful create/prepare webhook for a given
// provider-assigned transaction id and is never deleted afterwards; it is the
// audit record of a financial event. The (provider, transaction_id) pair is
// unique so concurrent webhook retries cannot insert duplicates.
type Transaction struct {
	BaseModel
	Provider      Provider `gorm:"size:16;uniqueIndex:ux_provider_trans,priority:1" json:"provider"`
	TransactionID string   `gorm:"column:transaction_id;uniqueIndex:ux_provider_trans,priority:2" json:"transaction_id"`
	OrderID       string   `gorm:"index" json:"order_id"`
	Amount        int64    `json:"amount"`
	State         int      `json:"state"`
	PrepareID     string   `json:"prepare_id"`
	CreateTime    int64    `json:"create_time"`
	PerformTime   int64    `json:"perform_time"`
	CancelTime    int64    `json:"cancel_time"`
	Reason        *int     `json:"reason"`

	// Markers for outbound order-service calls. Zero until the call has
	// succeeded; replays skip the call once set.
	OrderNotifiedAt int64 `gorm:"column:order_notified_at" json:"order_notified_at"`
	RefundedAt      int64 `gorm:"column:refunded_at" json:"refunded_at"`
}
