package engine

import (
	"time"

	"github.com/merchkit/discount-engine/internal/domain"
)

// Evaluate runs one full evaluation pass: cart contract check, eligibility,
// then allocation. It is a pure function of its inputs: repeated calls with
// the same snapshot yield the same result. It never records usage;
// whether a redemption is booked is the caller's decision at checkout
// completion.
//
// The returned error is reserved for caller contract violations (malformed
// cart, malformed definition). Business outcomes, including every rejection,
// arrive inside the result.
func Evaluate(def *domain.Discount, cart *domain.CartSnapshot, customer domain.CustomerContext, now time.Time) (*domain.EvaluationResult, error) {
	if err := cart.Validate(); err != nil {
		return nil, err
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}

	if rej := ValidateEligibility(def, cart, customer, now); rej != nil {
		return domain.Rejected(rej.Code, rej.Message), nil
	}

	alloc := ComputeAllocation(def, cart)
	return &domain.EvaluationResult{
		Valid:          true,
		DiscountAmount: alloc.Amount,
		AffectedItems:  alloc.AffectedItems,
		FreeShipping:   alloc.FreeShipping,
	}, nil
}
