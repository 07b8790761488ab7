package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Redemption is the audit record of a single successful redemption of a
// discount against an order.
type Redemption struct {
	ID         string          `json:"id"`
	DiscountID string          `json:"discount_id"`
	StoreID    string          `json:"store_id"`
	CustomerID string          `json:"customer_id,omitempty"`
	OrderID    string          `json:"order_id,omitempty"`
	Amount     decimal.Decimal `json:"amount"`
	CreatedAt  time.Time       `json:"created_at"`
}
