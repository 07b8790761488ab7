package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/merchkit/discount-engine/internal/domain"
	"github.com/merchkit/discount-engine/internal/engine"
	"github.com/merchkit/discount-engine/internal/event"
	"github.com/merchkit/discount-engine/internal/ledger"
	"github.com/merchkit/discount-engine/internal/repository"
	apperrors "github.com/merchkit/discount-engine/pkg/errors"
	"github.com/merchkit/discount-engine/pkg/slug"
)

// DefinitionCache is the lookaside cache for discount definitions. A nil
// cache disables caching; all lookups then go straight to the repository.
type DefinitionCache interface {
	Get(ctx context.Context, storeID, code string) (*domain.Discount, error)
	Set(ctx context.Context, d *domain.Discount) error
	Invalidate(ctx context.Context, storeID, code string) error
}

// DiscountService implements the business logic for discount operations.
type DiscountService struct {
	repo     repository.DiscountRepository
	cache    DefinitionCache
	ledger   *ledger.Ledger
	producer *event.Producer
	logger   *slog.Logger
}

// NewDiscountService creates a new discount service. The repository doubles
// as the usage store backing the ledger.
func NewDiscountService(repo repository.DiscountRepository, cache DefinitionCache, producer *event.Producer, logger *slog.Logger) *DiscountService {
	return &DiscountService{
		repo:     repo,
		cache:    cache,
		ledger:   ledger.New(repo, logger),
		producer: producer,
		logger:   logger,
	}
}

// CreateDiscountInput holds the parameters for creating a discount.
type CreateDiscountInput struct {
	StoreID               string
	Code                  string
	Name                  string
	Kind                  string
	Value                 decimal.Decimal
	MaxDiscountAmount     *decimal.Decimal
	AppliesTo             string
	ProductIDs            []string
	CategoryIDs           []string
	CustomerIDs           []string
	MinimumType           string
	MinimumValue          decimal.Decimal
	StartsAt              *time.Time
	EndsAt                *time.Time
	UsageLimit            *int
	UsageLimitPerCustomer *int
	BuyQuantity           int
	GetQuantity           int
	GetDiscountType       string
	GetDiscountValue      decimal.Decimal
}

// UpdateDiscountInput holds the parameters for a partial discount update.
// Nil fields are left unchanged.
type UpdateDiscountInput struct {
	Code                  *string
	Name                  *string
	Value                 *decimal.Decimal
	MaxDiscountAmount     *decimal.Decimal
	AppliesTo             *string
	ProductIDs            []string
	CategoryIDs           []string
	CustomerIDs           []string
	MinimumType           *string
	MinimumValue          *decimal.Decimal
	Status                *string
	StartsAt              *time.Time
	EndsAt                *time.Time
	UsageLimit            *int
	UsageLimitPerCustomer *int
	BuyQuantity           *int
	GetQuantity           *int
	GetDiscountType       *string
	GetDiscountValue      *decimal.Decimal
}

// RedeemInput holds the parameters for redeeming a code at checkout.
type RedeemInput struct {
	StoreID  string
	Code     string
	OrderID  string
	Cart     *domain.CartSnapshot
	Customer domain.CustomerContext
}

// CreateDiscount creates a new discount definition.
func (s *DiscountService) CreateDiscount(ctx context.Context, input *CreateDiscountInput) (*domain.Discount, error) {
	if input.StoreID == "" {
		return nil, apperrors.InvalidInput("store id is required")
	}
	if input.Name == "" {
		return nil, apperrors.InvalidInput("discount name is required")
	}

	// Auto-generate a code if none was provided.
	code := strings.ToUpper(strings.TrimSpace(input.Code))
	if code == "" {
		code = generateDiscountCode(input.Name)
	}

	appliesTo := input.AppliesTo
	if appliesTo == "" {
		appliesTo = domain.AppliesToAll
	}

	now := time.Now().UTC()
	d := &domain.Discount{
		ID:      uuid.New().String(),
		StoreID: input.StoreID,
		Code:    code,
		Name:    input.Name,
		Kind:    input.Kind,
		Value:   input.Value,
		Scope: domain.Scope{
			AppliesTo:   appliesTo,
			ProductIDs:  input.ProductIDs,
			CategoryIDs: input.CategoryIDs,
			CustomerIDs: input.CustomerIDs,
		},
		Window: domain.Window{
			Status:   domain.StatusActive,
			StartsAt: input.StartsAt,
			EndsAt:   input.EndsAt,
		},
		MaxDiscountAmount:     input.MaxDiscountAmount,
		UsageLimit:            input.UsageLimit,
		UsageLimitPerCustomer: input.UsageLimitPerCustomer,
		CreatedAt:             now,
		UpdatedAt:             now,
	}

	if input.MinimumType != "" {
		d.Minimum = &domain.MinimumRequirement{
			Type:  input.MinimumType,
			Value: input.MinimumValue,
		}
	}

	if input.Kind == domain.KindBuyXGetY {
		d.BuyXGetY = &domain.BuyXGetYParams{
			BuyQuantity:      input.BuyQuantity,
			GetQuantity:      input.GetQuantity,
			GetDiscountType:  input.GetDiscountType,
			GetDiscountValue: input.GetDiscountValue,
		}
	}

	if err := d.Validate(); err != nil {
		return nil, err
	}

	if err := s.repo.Create(ctx, d); err != nil {
		return nil, fmt.Errorf("create discount: %w", err)
	}

	if err := s.producer.PublishDiscountCreated(ctx, d); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish discount.created event",
			slog.String("discount_id", d.ID),
			slog.String("error", err.Error()),
		)
		// Do not fail the operation if event publishing fails.
	}

	s.logger.InfoContext(ctx, "discount created",
		slog.String("discount_id", d.ID),
		slog.String("store_id", d.StoreID),
		slog.String("code", d.Code),
	)

	return d, nil
}

// GetDiscount retrieves a discount by its ID.
func (s *DiscountService) GetDiscount(ctx context.Context, id string) (*domain.Discount, error) {
	d, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get discount by id: %w", err)
	}
	return d, nil
}

// GetDiscountByCode retrieves a discount by store and code.
func (s *DiscountService) GetDiscountByCode(ctx context.Context, storeID, code string) (*domain.Discount, error) {
	d, err := s.repo.GetByCode(ctx, storeID, code)
	if err != nil {
		return nil, fmt.Errorf("get discount by code: %w", err)
	}
	return d, nil
}

// ListDiscounts returns a filtered, paginated list of a store's discounts.
// Page bounds are enforced at the HTTP boundary by pkg/pagination.
func (s *DiscountService) ListDiscounts(ctx context.Context, storeID string, filter repository.DiscountFilter) ([]domain.Discount, int, error) {
	discounts, total, err := s.repo.List(ctx, storeID, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("list discounts: %w", err)
	}

	return discounts, total, nil
}

// UpdateDiscount applies partial updates to an existing discount.
func (s *DiscountService) UpdateDiscount(ctx context.Context, id string, input *UpdateDiscountInput) (*domain.Discount, error) {
	d, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get discount for update: %w", err)
	}
	previousCode := d.Code

	if input.Code != nil {
		code := strings.ToUpper(strings.TrimSpace(*input.Code))
		if code == "" {
			return nil, apperrors.InvalidInput("discount code must not be empty")
		}
		d.Code = code
	}
	if input.Name != nil {
		if *input.Name == "" {
			return nil, apperrors.InvalidInput("discount name must not be empty")
		}
		d.Name = *input.Name
	}
	if input.Value != nil {
		d.Value = *input.Value
	}
	if input.MaxDiscountAmount != nil {
		d.MaxDiscountAmount = input.MaxDiscountAmount
	}
	if input.AppliesTo != nil {
		d.Scope.AppliesTo = *input.AppliesTo
	}
	if input.ProductIDs != nil {
		d.Scope.ProductIDs = input.ProductIDs
	}
	if input.CategoryIDs != nil {
		d.Scope.CategoryIDs = input.CategoryIDs
	}
	if input.CustomerIDs != nil {
		d.Scope.CustomerIDs = input.CustomerIDs
	}
	if input.MinimumType != nil {
		if *input.MinimumType == "" {
			d.Minimum = nil
		} else {
			minValue := decimal.Zero
			if input.MinimumValue != nil {
				minValue = *input.MinimumValue
			} else if d.Minimum != nil {
				minValue = d.Minimum.Value
			}
			d.Minimum = &domain.MinimumRequirement{Type: *input.MinimumType, Value: minValue}
		}
	} else if input.MinimumValue != nil && d.Minimum != nil {
		d.Minimum.Value = *input.MinimumValue
	}
	if input.Status != nil {
		d.Window.Status = *input.Status
	}
	if input.StartsAt != nil {
		d.Window.StartsAt = input.StartsAt
	}
	if input.EndsAt != nil {
		d.Window.EndsAt = input.EndsAt
	}
	if input.UsageLimit != nil {
		d.UsageLimit = input.UsageLimit
	}
	if input.UsageLimitPerCustomer != nil {
		d.UsageLimitPerCustomer = input.UsageLimitPerCustomer
	}

	if d.Kind == domain.KindBuyXGetY {
		if d.BuyXGetY == nil {
			d.BuyXGetY = &domain.BuyXGetYParams{}
		}
		if input.BuyQuantity != nil {
			d.BuyXGetY.BuyQuantity = *input.BuyQuantity
		}
		if input.GetQuantity != nil {
			d.BuyXGetY.GetQuantity = *input.GetQuantity
		}
		if input.GetDiscountType != nil {
			d.BuyXGetY.GetDiscountType = *input.GetDiscountType
		}
		if input.GetDiscountValue != nil {
			d.BuyXGetY.GetDiscountValue = *input.GetDiscountValue
		}
	}

	if err := d.Validate(); err != nil {
		return nil, err
	}

	if err := s.repo.Update(ctx, d); err != nil {
		return nil, fmt.Errorf("update discount: %w", err)
	}

	s.invalidateCache(ctx, d.StoreID, previousCode)
	if d.Code != previousCode {
		s.invalidateCache(ctx, d.StoreID, d.Code)
	}

	if err := s.producer.PublishDiscountUpdated(ctx, d); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish discount.updated event",
			slog.String("discount_id", d.ID),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "discount updated",
		slog.String("discount_id", d.ID),
		slog.String("code", d.Code),
	)

	return d, nil
}

// DeactivateDiscount sets a discount's status to inactive.
func (s *DiscountService) DeactivateDiscount(ctx context.Context, id string) (*domain.Discount, error) {
	d, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get discount for deactivate: %w", err)
	}

	d.Window.Status = domain.StatusInactive

	if err := s.repo.Update(ctx, d); err != nil {
		return nil, fmt.Errorf("deactivate discount: %w", err)
	}

	s.invalidateCache(ctx, d.StoreID, d.Code)

	if err := s.producer.PublishDiscountUpdated(ctx, d); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish discount.updated event",
			slog.String("discount_id", d.ID),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "discount deactivated",
		slog.String("discount_id", d.ID),
	)

	return d, nil
}

// EvaluateCode evaluates a code against a cart snapshot without consuming
// any usage. An unknown code is a NOT_FOUND rejection, not an error. The
// returned definition is nil when the code matched nothing.
func (s *DiscountService) EvaluateCode(ctx context.Context, storeID, code string, cart *domain.CartSnapshot, customer domain.CustomerContext) (*domain.EvaluationResult, *domain.Discount, error) {
	d, err := s.lookupDefinition(ctx, storeID, code)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return domain.RejectNotFound(code), nil, nil
		}
		return nil, nil, err
	}

	result, err := engine.Evaluate(d, cart, customer, time.Now().UTC())
	if err != nil {
		return nil, nil, err
	}

	// The impression counter is advisory; a failed increment must not block
	// the evaluation response.
	if _, err := s.ledger.RecordView(ctx, d); err != nil {
		s.logger.WarnContext(ctx, "failed to record discount view",
			slog.String("discount_id", d.ID),
			slog.String("error", err.Error()),
		)
	}

	return result, d, nil
}

// RedeemCode evaluates a code and, when valid, books the redemption against
// the usage counters. A limit lost at booking time comes back as a rejection,
// exactly as if the evaluation had seen the exhausted counter.
func (s *DiscountService) RedeemCode(ctx context.Context, input *RedeemInput) (*domain.EvaluationResult, error) {
	result, d, err := s.EvaluateCode(ctx, input.StoreID, input.Code, input.Cart, input.Customer)
	if err != nil {
		return nil, err
	}
	if !result.Valid {
		return result, nil
	}

	updated, err := s.ledger.RecordRedemption(ctx, d, input.Customer.CustomerID)
	switch {
	case errors.Is(err, ledger.ErrUsageLimitReached):
		return domain.Rejected(domain.ReasonUsageLimitReached, "discount usage limit reached"), nil
	case errors.Is(err, ledger.ErrCustomerLimitReached):
		return domain.Rejected(domain.ReasonPerCustomerLimitReached, "you have already used this discount"), nil
	case err != nil:
		return nil, fmt.Errorf("redeem code: %w", err)
	}

	s.recordRedemptionAudit(ctx, updated, &domain.Redemption{
		ID:         uuid.New().String(),
		DiscountID: updated.ID,
		StoreID:    updated.StoreID,
		CustomerID: input.Customer.CustomerID,
		OrderID:    input.OrderID,
		Amount:     result.DiscountAmount,
		CreatedAt:  time.Now().UTC(),
	})

	return result, nil
}

// RecordOrderRedemption books a redemption reported by an order.completed
// event. Limit errors propagate so the consumer can distinguish them.
func (s *DiscountService) RecordOrderRedemption(ctx context.Context, input *event.OrderRedemption) error {
	d, err := s.repo.GetByID(ctx, input.DiscountID)
	if err != nil {
		return fmt.Errorf("get discount for order redemption: %w", err)
	}

	updated, err := s.ledger.RecordRedemption(ctx, d, input.CustomerID)
	if err != nil {
		return err
	}

	s.recordRedemptionAudit(ctx, updated, &domain.Redemption{
		ID:         uuid.New().String(),
		DiscountID: updated.ID,
		StoreID:    updated.StoreID,
		CustomerID: input.CustomerID,
		OrderID:    input.OrderID,
		Amount:     input.Amount,
		CreatedAt:  time.Now().UTC(),
	})

	return nil
}

// recordRedemptionAudit appends the audit row, drops the stale cache entry,
// and publishes the redeemed event. The counters have already moved, so none
// of these failures may undo the redemption; they are logged instead.
func (s *DiscountService) recordRedemptionAudit(ctx context.Context, d *domain.Discount, redemption *domain.Redemption) {
	if err := s.repo.CreateRedemption(ctx, redemption); err != nil {
		s.logger.ErrorContext(ctx, "failed to record redemption audit row",
			slog.String("discount_id", d.ID),
			slog.String("order_id", redemption.OrderID),
			slog.String("error", err.Error()),
		)
	}

	s.invalidateCache(ctx, d.StoreID, d.Code)

	if err := s.producer.PublishDiscountRedeemed(ctx, d, redemption); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish discount.redeemed event",
			slog.String("discount_id", d.ID),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "discount redeemed",
		slog.String("discount_id", d.ID),
		slog.String("store_id", d.StoreID),
		slog.String("order_id", redemption.OrderID),
		slog.String("amount", redemption.Amount.String()),
	)
}

// lookupDefinition resolves a code through the cache, falling back to the
// repository. Cache failures degrade to repository reads.
func (s *DiscountService) lookupDefinition(ctx context.Context, storeID, code string) (*domain.Discount, error) {
	if s.cache != nil {
		cached, err := s.cache.Get(ctx, storeID, code)
		if err != nil {
			s.logger.WarnContext(ctx, "discount cache read failed",
				slog.String("store_id", storeID),
				slog.String("error", err.Error()),
			)
		} else if cached != nil {
			return cached, nil
		}
	}

	d, err := s.repo.GetByCode(ctx, storeID, code)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, d); err != nil {
			s.logger.WarnContext(ctx, "discount cache write failed",
				slog.String("store_id", storeID),
				slog.String("error", err.Error()),
			)
		}
	}

	return d, nil
}

func (s *DiscountService) invalidateCache(ctx context.Context, storeID, code string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, storeID, code); err != nil {
		s.logger.WarnContext(ctx, "discount cache invalidation failed",
			slog.String("store_id", storeID),
			slog.String("code", code),
			slog.String("error", err.Error()),
		)
	}
}

// generateDiscountCode creates a human-readable code from the discount name
// by slugifying it and appending a 4-character random hex suffix. Example:
// "Spring Launch 2026" -> "SPRING-LAUNCH-2026-A3F2".
func generateDiscountCode(name string) string {
	base := strings.ToUpper(slug.Generate(name))

	// Keep the total code within the 64-char column limit, leaving room for
	// "-" plus 4 hex chars.
	const maxBaseLen = 58
	if len(base) > maxBaseLen {
		base = strings.TrimRight(base[:maxBaseLen], "-")
	}

	b := make([]byte, 2)
	if _, err := rand.Read(b); err != nil {
		b = []byte(uuid.New().String()[:2])
	}
	suffix := strings.ToUpper(hex.EncodeToString(b))

	if base == "" {
		return suffix
	}
	return base + "-" + suffix
}
