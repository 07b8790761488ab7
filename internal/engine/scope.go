// Package engine implements discount evaluation: eligibility checks,
// per-kind allocation arithmetic, and the single-pass Evaluate entry point.
// Everything here is pure computation over immutable snapshots; usage
// bookkeeping lives in the ledger package.
package engine

import "github.com/merchkit/discount-engine/internal/domain"

// Covers reports whether a cart item falls inside a discount's scope. Both
// the eligibility validator and the allocation calculator go through this one
// predicate so scope membership can never diverge between the two.
func Covers(scope domain.Scope, item domain.CartItem) bool {
	switch scope.AppliesTo {
	case domain.AppliesToSpecificProducts:
		return contains(scope.ProductIDs, item.ProductID)
	case domain.AppliesToSpecificCategories:
		return item.CategoryID != "" && contains(scope.CategoryIDs, item.CategoryID)
	default:
		// "all" covers every item. A specific_customers scope is not an
		// item-level restriction, so every item is covered once the
		// customer check passes.
		return true
	}
}

// CoversCustomer reports whether the customer is in a specific_customers
// audience. For every other audience it is vacuously true.
func CoversCustomer(scope domain.Scope, customer domain.CustomerContext) bool {
	if scope.AppliesTo != domain.AppliesToSpecificCustomers {
		return true
	}
	return !customer.IsGuest() && contains(scope.CustomerIDs, customer.CustomerID)
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
