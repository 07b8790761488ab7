package repository

import (
	"context"

	"github.com/merchkit/discount-engine/internal/domain"
)

// DiscountFilter defines filter criteria for listing discounts.
type DiscountFilter struct {
	Status  *string
	Kind    *string
	Page    int
	PerPage int
}

// DiscountRepository defines the persistence operations for discount
// definitions and their usage counters.
type DiscountRepository interface {
	// Create inserts a new discount definition.
	Create(ctx context.Context, def *domain.Discount) error

	// GetByID retrieves a definition, including its per-customer usage map.
	GetByID(ctx context.Context, id string) (*domain.Discount, error)

	// GetByCode retrieves a definition by store and code. The lookup is
	// case-insensitive; codes are stored upper-cased.
	GetByCode(ctx context.Context, storeID, code string) (*domain.Discount, error)

	// List returns a store's definitions matching the filter plus the total
	// count. List does not load per-customer usage maps.
	List(ctx context.Context, storeID string, filter DiscountFilter) ([]domain.Discount, int, error)

	// Update modifies an existing definition. Usage counters are not
	// writable through Update; they move only via the ledger methods below.
	Update(ctx context.Context, def *domain.Discount) error

	// RecordRedemption atomically increments the global usage counter
	// (guarded by usage_limit) and, for identified customers, the
	// per-customer counter (guarded by usage_limit_per_customer).
	// Implements ledger.UsageStore.
	RecordRedemption(ctx context.Context, def *domain.Discount, customerID string) error

	// RecordView atomically increments the impression counter.
	// Implements ledger.UsageStore.
	RecordView(ctx context.Context, discountID string) error

	// CreateRedemption appends a redemption audit row.
	CreateRedemption(ctx context.Context, redemption *domain.Redemption) error
}
