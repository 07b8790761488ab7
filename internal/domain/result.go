package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Rejection reason codes. These are wire-stable: storefront clients key
// their messaging off them, so renaming one is a breaking change.
const (
	ReasonNotFound                = "NOT_FOUND"
	ReasonInactive                = "INACTIVE"
	ReasonNotYetStarted           = "NOT_YET_STARTED"
	ReasonExpired                 = "EXPIRED"
	ReasonUsageLimitReached       = "USAGE_LIMIT_REACHED"
	ReasonPerCustomerLimitReached = "PER_CUSTOMER_LIMIT_REACHED"
	ReasonMinimumNotMet           = "MINIMUM_NOT_MET"
	ReasonNoQualifyingItems       = "NO_QUALIFYING_ITEMS"
	ReasonCustomerNotEligible     = "CUSTOMER_NOT_ELIGIBLE"
)

// Rejection explains why a discount code could not be applied. Rejections are
// business outcomes, not errors; the engine returns them as values.
type Rejection struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// AffectedItem records how many units of a cart line were discounted. For
// partial BOGO allocations the quantity may be less than the cart quantity.
type AffectedItem struct {
	ProductID string `json:"product_id"`
	VariantID string `json:"variant_id"`
	Quantity  int    `json:"quantity"`
}

// EvaluationResult is the outcome of evaluating one code against one cart.
type EvaluationResult struct {
	Valid          bool            `json:"valid"`
	Rejection      *Rejection      `json:"rejection,omitempty"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	AffectedItems  []AffectedItem  `json:"affected_items"`
	FreeShipping   bool            `json:"free_shipping"`
}

// Rejected builds an invalid result carrying the given reason.
func Rejected(code, message string) *EvaluationResult {
	return &EvaluationResult{
		Valid:          false,
		Rejection:      &Rejection{Code: code, Message: message},
		DiscountAmount: decimal.Zero,
		AffectedItems:  []AffectedItem{},
	}
}

// RejectNotFound is the rejection for a code that matches no definition.
func RejectNotFound(code string) *EvaluationResult {
	return Rejected(ReasonNotFound, fmt.Sprintf("discount code %q not found", code))
}
