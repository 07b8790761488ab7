package domain

import (
	"fmt"

	"github.com/shopspring/decimal"

	apperrors "github.com/merchkit/discount-engine/pkg/errors"
)

// CartItem is a single line of a cart snapshot.
type CartItem struct {
	ProductID  string          `json:"product_id"`
	VariantID  string          `json:"variant_id"`
	Quantity   int             `json:"quantity"`
	Price      decimal.Decimal `json:"price"`
	CategoryID string          `json:"category_id,omitempty"`
}

// LineTotal returns price × quantity for the item.
func (i CartItem) LineTotal() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// CartSnapshot is the immutable view of a cart handed to the engine for one
// evaluation. The subtotal is assembled upstream and must already be
// consistent with the items; Validate enforces that precondition.
type CartSnapshot struct {
	Items        []CartItem      `json:"items"`
	Subtotal     decimal.Decimal `json:"subtotal"`
	ShippingCost decimal.Decimal `json:"shipping_cost"`
}

// TotalQuantity returns the sum of quantities across all items.
func (c *CartSnapshot) TotalQuantity() int {
	total := 0
	for _, item := range c.Items {
		total += item.Quantity
	}
	return total
}

// Validate checks the engine's caller contract. A violation here is a
// programming error upstream, not a business rejection, so it surfaces as an
// error and fails loudly.
func (c *CartSnapshot) Validate() error {
	if c.Subtotal.IsNegative() {
		return apperrors.InvalidInput("cart subtotal must not be negative")
	}
	if c.ShippingCost.IsNegative() {
		return apperrors.InvalidInput("cart shipping cost must not be negative")
	}

	sum := decimal.Zero
	for i, item := range c.Items {
		if item.ProductID == "" {
			return apperrors.InvalidInput(fmt.Sprintf("cart item %d is missing a product id", i))
		}
		if item.Quantity < 1 {
			return apperrors.InvalidInput(fmt.Sprintf("cart item %d has quantity %d, must be at least 1", i, item.Quantity))
		}
		if item.Price.IsNegative() {
			return apperrors.InvalidInput(fmt.Sprintf("cart item %d has a negative price", i))
		}
		sum = sum.Add(item.LineTotal())
	}

	if !sum.Equal(c.Subtotal) {
		return apperrors.InvalidInput(fmt.Sprintf("cart subtotal %s does not match item total %s", c.Subtotal, sum))
	}
	return nil
}

// CustomerContext identifies the customer an evaluation runs for. CustomerID
// is empty for guest checkouts; audience scoping and per-customer usage
// lookups are skipped in that case.
type CustomerContext struct {
	CustomerID string `json:"customer_id,omitempty"`
}

// IsGuest reports whether the evaluation runs without an identified customer.
func (c CustomerContext) IsGuest() bool {
	return c.CustomerID == ""
}
