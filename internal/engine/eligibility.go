package engine

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/merchkit/discount-engine/internal/domain"
)

// ValidateEligibility runs the eligibility checks for a discount against a
// cart and customer. It returns nil when the discount is redeemable, or the
// first failing check's rejection.
//
// The check order is a contract: storefronts surface the first failure to the
// shopper, so reordering changes user-facing behaviour. Window status, then
// start, then end, then global cap, then per-customer cap, then minimum
// requirement, then scope.
func ValidateEligibility(def *domain.Discount, cart *domain.CartSnapshot, customer domain.CustomerContext, now time.Time) *domain.Rejection {
	if def.Window.Status != domain.StatusActive {
		return &domain.Rejection{
			Code:    domain.ReasonInactive,
			Message: "this discount is not active",
		}
	}

	if def.Window.StartsAt != nil && now.Before(*def.Window.StartsAt) {
		return &domain.Rejection{
			Code:    domain.ReasonNotYetStarted,
			Message: "this discount has not started yet",
		}
	}

	if def.Window.EndsAt != nil && now.After(*def.Window.EndsAt) {
		return &domain.Rejection{
			Code:    domain.ReasonExpired,
			Message: "this discount has expired",
		}
	}

	if def.UsageLimit != nil && def.CurrentUsage >= *def.UsageLimit {
		return &domain.Rejection{
			Code:    domain.ReasonUsageLimitReached,
			Message: "this discount has reached its usage limit",
		}
	}

	if !customer.IsGuest() && def.UsageLimitPerCustomer != nil &&
		def.UsageBy(customer.CustomerID) >= *def.UsageLimitPerCustomer {
		return &domain.Rejection{
			Code:    domain.ReasonPerCustomerLimitReached,
			Message: "you have already used this discount the maximum number of times",
		}
	}

	if rej := checkMinimum(def.Minimum, cart); rej != nil {
		return rej
	}

	return checkScope(def.Scope, cart, customer)
}

func checkMinimum(min *domain.MinimumRequirement, cart *domain.CartSnapshot) *domain.Rejection {
	if min == nil {
		return nil
	}

	switch min.Type {
	case domain.MinimumAmount:
		if cart.Subtotal.LessThan(min.Value) {
			return &domain.Rejection{
				Code:    domain.ReasonMinimumNotMet,
				Message: fmt.Sprintf("a minimum order amount of %s is required", min.Value.StringFixed(2)),
			}
		}
	case domain.MinimumQuantity:
		if decimal.NewFromInt(int64(cart.TotalQuantity())).LessThan(min.Value) {
			return &domain.Rejection{
				Code:    domain.ReasonMinimumNotMet,
				Message: fmt.Sprintf("a minimum of %s items is required", min.Value.StringFixed(0)),
			}
		}
	}
	return nil
}

func checkScope(scope domain.Scope, cart *domain.CartSnapshot, customer domain.CustomerContext) *domain.Rejection {
	switch scope.AppliesTo {
	case domain.AppliesToSpecificProducts, domain.AppliesToSpecificCategories:
		for _, item := range cart.Items {
			if Covers(scope, item) {
				return nil
			}
		}
		return &domain.Rejection{
			Code:    domain.ReasonNoQualifyingItems,
			Message: "no items in the cart qualify for this discount",
		}
	case domain.AppliesToSpecificCustomers:
		if !CoversCustomer(scope, customer) {
			return &domain.Rejection{
				Code:    domain.ReasonCustomerNotEligible,
				Message: "this discount is not available for your account",
			}
		}
	}
	return nil
}
