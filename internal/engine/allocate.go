package engine

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/merchkit/discount-engine/internal/domain"
	"github.com/merchkit/discount-engine/internal/money"
)

// Allocation is the monetary effect of an eligible discount on a cart.
type Allocation struct {
	Amount        decimal.Decimal
	AffectedItems []domain.AffectedItem
	FreeShipping  bool
}

// ComputeAllocation calculates the discount amount and the affected line
// items for an already-eligible discount. The amount is rounded to currency
// precision exactly once, here, and is always within
// [0, subtotal (+ shipping for free-shipping discounts)].
func ComputeAllocation(def *domain.Discount, cart *domain.CartSnapshot) Allocation {
	var alloc Allocation

	switch def.Kind {
	case domain.KindPercentage:
		alloc = allocatePercentage(def, cart)
	case domain.KindFixedAmount:
		alloc = allocateFixedAmount(def, cart)
	case domain.KindFreeShipping:
		alloc = Allocation{
			Amount:        cart.ShippingCost,
			AffectedItems: []domain.AffectedItem{},
			FreeShipping:  true,
		}
	case domain.KindBuyXGetY:
		alloc = allocateBuyXGetY(def, cart)
	default:
		alloc = Allocation{Amount: decimal.Zero, AffectedItems: []domain.AffectedItem{}}
	}

	// The amount can never exceed what it applies to, even for a definition
	// that slipped past validation with an over-100 percentage.
	bound := cart.Subtotal
	if alloc.FreeShipping {
		bound = bound.Add(cart.ShippingCost)
	}
	alloc.Amount = money.Round(money.Min(money.ClampNonNegative(alloc.Amount), bound))
	if alloc.AffectedItems == nil {
		alloc.AffectedItems = []domain.AffectedItem{}
	}
	return alloc
}

func allocatePercentage(def *domain.Discount, cart *domain.CartSnapshot) Allocation {
	var (
		amount   decimal.Decimal
		affected []domain.AffectedItem
	)

	if def.Scope.AppliesTo == domain.AppliesToSpecificProducts ||
		def.Scope.AppliesTo == domain.AppliesToSpecificCategories {
		// Scoped: only covered lines contribute, and only they are reported
		// as affected.
		base := decimal.Zero
		for _, item := range cart.Items {
			if !Covers(def.Scope, item) {
				continue
			}
			base = base.Add(item.LineTotal())
			affected = append(affected, domain.AffectedItem{
				ProductID: item.ProductID,
				VariantID: item.VariantID,
				Quantity:  item.Quantity,
			})
		}
		amount = money.Percent(base, def.Value)
	} else {
		amount = money.Percent(cart.Subtotal, def.Value)
		affected = allItems(cart)
	}

	if def.MaxDiscountAmount != nil {
		amount = money.Min(amount, *def.MaxDiscountAmount)
	}
	return Allocation{Amount: amount, AffectedItems: affected}
}

func allocateFixedAmount(def *domain.Discount, cart *domain.CartSnapshot) Allocation {
	// A fixed amount applies to the order as a whole; it cannot exceed the
	// subtotal and is not attributable to a single line.
	return Allocation{
		Amount:        money.Min(def.Value, cart.Subtotal),
		AffectedItems: allItems(cart),
	}
}

func allocateBuyXGetY(def *domain.Discount, cart *domain.CartSnapshot) Allocation {
	params := def.BuyXGetY
	if params == nil {
		return Allocation{Amount: decimal.Zero}
	}

	qualifying := make([]domain.CartItem, 0, len(cart.Items))
	for _, item := range cart.Items {
		if Covers(def.Scope, item) {
			qualifying = append(qualifying, item)
		}
	}

	totalQty := 0
	for _, item := range qualifying {
		totalQty += item.Quantity
	}

	applications := totalQty / params.BuyQuantity
	if applications == 0 {
		return Allocation{Amount: decimal.Zero}
	}
	remaining := applications * params.GetQuantity

	// Cheapest units are discounted first. The sort must be stable so ties
	// keep their original cart order; downstream systems rely on the exact
	// affected-item sequence.
	sort.SliceStable(qualifying, func(i, j int) bool {
		return qualifying[i].Price.LessThan(qualifying[j].Price)
	})

	amount := decimal.Zero
	var affected []domain.AffectedItem
	for _, item := range qualifying {
		if remaining == 0 {
			break
		}
		consumed := item.Quantity
		if consumed > remaining {
			consumed = remaining
		}

		lineValue := item.Price.Mul(decimal.NewFromInt(int64(consumed)))
		if params.GetDiscountType == domain.GetDiscountFree {
			amount = amount.Add(lineValue)
		} else {
			amount = amount.Add(money.Percent(lineValue, params.GetDiscountValue))
		}

		affected = append(affected, domain.AffectedItem{
			ProductID: item.ProductID,
			VariantID: item.VariantID,
			Quantity:  consumed,
		})
		remaining -= consumed
	}

	return Allocation{Amount: amount, AffectedItems: affected}
}

func allItems(cart *domain.CartSnapshot) []domain.AffectedItem {
	items := make([]domain.AffectedItem, 0, len(cart.Items))
	for _, item := range cart.Items {
		items = append(items, domain.AffectedItem{
			ProductID: item.ProductID,
			VariantID: item.VariantID,
			Quantity:  item.Quantity,
		})
	}
	return items
}
