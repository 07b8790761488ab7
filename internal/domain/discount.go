package domain

import (
	"time"

	"github.com/shopspring/decimal"

	apperrors "github.com/merchkit/discount-engine/pkg/errors"
)

// Discount kind constants.
const (
	KindPercentage   = "percentage"
	KindFixedAmount  = "fixed_amount"
	KindFreeShipping = "free_shipping"
	KindBuyXGetY     = "buy_x_get_y"
)

// Discount status constants.
const (
	StatusActive   = "active"
	StatusInactive = "inactive"
)

// Scope audience constants.
const (
	AppliesToAll                = "all"
	AppliesToSpecificProducts   = "specific_products"
	AppliesToSpecificCategories = "specific_categories"
	AppliesToSpecificCustomers  = "specific_customers"
)

// maxPercent is the ceiling for percentage values; a discount can never take
// off more than the amount it applies to.
var maxPercent = decimal.NewFromInt(100)

// Minimum requirement type constants.
const (
	MinimumAmount   = "minimum_amount"
	MinimumQuantity = "minimum_quantity"
)

// BOGO get-discount type constants.
const (
	GetDiscountFree       = "free"
	GetDiscountPercentage = "percentage"
)

// Scope restricts which cart items (or customers) a discount applies to.
type Scope struct {
	AppliesTo   string   `json:"applies_to"`
	ProductIDs  []string `json:"product_ids,omitempty"`
	CategoryIDs []string `json:"category_ids,omitempty"`
	CustomerIDs []string `json:"customer_ids,omitempty"`
}

// MinimumRequirement is an optional purchase threshold the cart must meet.
type MinimumRequirement struct {
	Type  string          `json:"type"`
	Value decimal.Decimal `json:"value"`
}

// Window is the activation state and temporal validity of a discount.
type Window struct {
	Status   string     `json:"status"`
	StartsAt *time.Time `json:"starts_at,omitempty"`
	EndsAt   *time.Time `json:"ends_at,omitempty"`
}

// BuyXGetYParams holds the fields that are only meaningful for buy_x_get_y
// discounts. The pointer on Discount is nil for every other kind, so a
// percentage discount can never read BOGO quantities by accident.
type BuyXGetYParams struct {
	BuyQuantity      int             `json:"buy_quantity"`
	GetQuantity      int             `json:"get_quantity"`
	GetDiscountType  string          `json:"get_discount_type"`
	GetDiscountValue decimal.Decimal `json:"get_discount_value"`
}

// Discount is a redeemable promotion rule owned by a store.
//
// Codes are unique per store, compared case-insensitively; they are
// normalized to upper case at the persistence boundary. CurrentUsage and
// CustomerUsage are mutated only through the usage ledger, which performs
// atomic guarded increments against the backing store.
type Discount struct {
	ID      string `json:"id"`
	StoreID string `json:"store_id"`
	Code    string `json:"code"`
	Name    string `json:"name"`

	Kind  string          `json:"kind"`
	Value decimal.Decimal `json:"value"`
	// MaxDiscountAmount caps the computed amount; percentage kind only.
	MaxDiscountAmount *decimal.Decimal `json:"max_discount_amount,omitempty"`

	Scope   Scope               `json:"scope"`
	Minimum *MinimumRequirement `json:"minimum_requirement,omitempty"`
	Window  Window              `json:"window"`

	UsageLimit            *int           `json:"usage_limit,omitempty"`
	CurrentUsage          int            `json:"current_usage"`
	UsageLimitPerCustomer *int           `json:"usage_limit_per_customer,omitempty"`
	CustomerUsage         map[string]int `json:"customer_usage,omitempty"`
	Views                 int            `json:"views"`

	BuyXGetY *BuyXGetYParams `json:"buy_x_get_y,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ValidKinds returns the set of supported discount kinds.
func ValidKinds() []string {
	return []string{KindPercentage, KindFixedAmount, KindFreeShipping, KindBuyXGetY}
}

// IsValidKind reports whether kind is a supported discount kind.
func IsValidKind(kind string) bool {
	for _, k := range ValidKinds() {
		if k == kind {
			return true
		}
	}
	return false
}

// IsValidAppliesTo reports whether a is a supported scope audience.
func IsValidAppliesTo(a string) bool {
	switch a {
	case AppliesToAll, AppliesToSpecificProducts, AppliesToSpecificCategories, AppliesToSpecificCustomers:
		return true
	}
	return false
}

// Validate checks the structural invariants of a discount definition. The
// kind-specific payload must be present exactly when the kind requires it.
func (d *Discount) Validate() error {
	if d.Code == "" {
		return apperrors.InvalidInput("discount code is required")
	}
	if !IsValidKind(d.Kind) {
		return apperrors.InvalidInput("unknown discount kind " + d.Kind)
	}
	if !IsValidAppliesTo(d.Scope.AppliesTo) {
		return apperrors.InvalidInput("unknown scope audience " + d.Scope.AppliesTo)
	}
	if d.Value.IsNegative() {
		return apperrors.InvalidInput("discount value must not be negative")
	}
	if d.Kind == KindPercentage && d.Value.GreaterThan(maxPercent) {
		return apperrors.InvalidInput("percentage discount value must not exceed 100")
	}
	if d.MaxDiscountAmount != nil && d.Kind != KindPercentage {
		return apperrors.InvalidInput("max discount amount applies to percentage discounts only")
	}
	if d.Minimum != nil {
		if d.Minimum.Type != MinimumAmount && d.Minimum.Type != MinimumQuantity {
			return apperrors.InvalidInput("unknown minimum requirement type " + d.Minimum.Type)
		}
		if d.Minimum.Value.IsNegative() {
			return apperrors.InvalidInput("minimum requirement value must not be negative")
		}
	}
	if d.Window.StartsAt != nil && d.Window.EndsAt != nil && d.Window.EndsAt.Before(*d.Window.StartsAt) {
		return apperrors.InvalidInput("discount window ends before it starts")
	}
	if d.UsageLimit != nil && *d.UsageLimit < 0 {
		return apperrors.InvalidInput("usage limit must not be negative")
	}
	if d.UsageLimitPerCustomer != nil && *d.UsageLimitPerCustomer < 0 {
		return apperrors.InvalidInput("per-customer usage limit must not be negative")
	}

	if d.Kind == KindBuyXGetY {
		p := d.BuyXGetY
		if p == nil {
			return apperrors.InvalidInput("buy_x_get_y discount requires buy/get parameters")
		}
		if p.BuyQuantity < 1 || p.GetQuantity < 1 {
			return apperrors.InvalidInput("buy and get quantities must be at least 1")
		}
		switch p.GetDiscountType {
		case GetDiscountFree:
		case GetDiscountPercentage:
			if p.GetDiscountValue.IsNegative() {
				return apperrors.InvalidInput("get discount value must not be negative")
			}
			if p.GetDiscountValue.GreaterThan(maxPercent) {
				return apperrors.InvalidInput("get discount value must not exceed 100")
			}
		default:
			return apperrors.InvalidInput("unknown get discount type " + p.GetDiscountType)
		}
	} else if d.BuyXGetY != nil {
		return apperrors.InvalidInput("buy/get parameters are only valid for buy_x_get_y discounts")
	}

	return nil
}

// UsageBy returns the recorded redemption count for a customer.
func (d *Discount) UsageBy(customerID string) int {
	if d.CustomerUsage == nil {
		return 0
	}
	return d.CustomerUsage[customerID]
}
