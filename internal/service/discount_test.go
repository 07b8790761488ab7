package service

import (
	"context"
	"log/slog"
	"os"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/merchkit/discount-engine/internal/domain"
	"github.com/merchkit/discount-engine/internal/event"
	"github.com/merchkit/discount-engine/internal/ledger"
	"github.com/merchkit/discount-engine/internal/repository"
	apperrors "github.com/merchkit/discount-engine/pkg/errors"
	pkgkafka "github.com/merchkit/discount-engine/pkg/kafka"
)

// --- Mock Repository ---

type mockDiscountRepository struct {
	mock.Mock
}

func (m *mockDiscountRepository) Create(ctx context.Context, d *domain.Discount) error {
	args := m.Called(ctx, d)
	return args.Error(0)
}

func (m *mockDiscountRepository) GetByID(ctx context.Context, id string) (*domain.Discount, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Discount), args.Error(1)
}

func (m *mockDiscountRepository) GetByCode(ctx context.Context, storeID, code string) (*domain.Discount, error) {
	args := m.Called(ctx, storeID, code)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Discount), args.Error(1)
}

func (m *mockDiscountRepository) List(ctx context.Context, storeID string, filter repository.DiscountFilter) ([]domain.Discount, int, error) {
	args := m.Called(ctx, storeID, filter)
	return args.Get(0).([]domain.Discount), args.Int(1), args.Error(2)
}

func (m *mockDiscountRepository) Update(ctx context.Context, d *domain.Discount) error {
	args := m.Called(ctx, d)
	return args.Error(0)
}

func (m *mockDiscountRepository) RecordRedemption(ctx context.Context, def *domain.Discount, customerID string) error {
	args := m.Called(ctx, def, customerID)
	return args.Error(0)
}

func (m *mockDiscountRepository) RecordView(ctx context.Context, discountID string) error {
	args := m.Called(ctx, discountID)
	return args.Error(0)
}

func (m *mockDiscountRepository) CreateRedemption(ctx context.Context, redemption *domain.Redemption) error {
	args := m.Called(ctx, redemption)
	return args.Error(0)
}

// --- Mock Cache ---

type mockDefinitionCache struct {
	mock.Mock
}

func (m *mockDefinitionCache) Get(ctx context.Context, storeID, code string) (*domain.Discount, error) {
	args := m.Called(ctx, storeID, code)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Discount), args.Error(1)
}

func (m *mockDefinitionCache) Set(ctx context.Context, d *domain.Discount) error {
	args := m.Called(ctx, d)
	return args.Error(0)
}

func (m *mockDefinitionCache) Invalidate(ctx context.Context, storeID, code string) error {
	args := m.Called(ctx, storeID, code)
	return args.Error(0)
}

// --- Test Helpers ---

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestService(repo *mockDiscountRepository, cache DefinitionCache) *DiscountService {
	logger := newTestLogger()
	// A Kafka producer with no reachable broker; publish failures are logged
	// and swallowed by the service.
	kafkaCfg := pkgkafka.DefaultProducerConfig([]string{"localhost:9092"})
	kafkaProducer := pkgkafka.NewProducer(kafkaCfg, logger)
	producer := event.NewProducer(kafkaProducer, logger)
	return NewDiscountService(repo, cache, producer, logger)
}

func intPtr(i int) *int { return &i }

func strPtr(s string) *string { return &s }

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func activeDiscount() *domain.Discount {
	return &domain.Discount{
		ID:      "disc-001",
		StoreID: "store-001",
		Code:    "SAVE10",
		Name:    "Ten Percent Off",
		Kind:    domain.KindPercentage,
		Value:   dec("10"),
		Scope:   domain.Scope{AppliesTo: domain.AppliesToAll},
		Window:  domain.Window{Status: domain.StatusActive},
	}
}

func simpleCart() *domain.CartSnapshot {
	return &domain.CartSnapshot{
		Items: []domain.CartItem{
			{ProductID: "prod-1", VariantID: "var-1", Quantity: 2, Price: dec("30.00"), CategoryID: "cat-1"},
			{ProductID: "prod-2", VariantID: "var-2", Quantity: 1, Price: dec("40.00"), CategoryID: "cat-2"},
		},
		Subtotal:     dec("100.00"),
		ShippingCost: dec("10.00"),
	}
}

// --- CreateDiscount ---

func TestCreateDiscount_Success(t *testing.T) {
	repo := new(mockDiscountRepository)
	svc := newTestService(repo, nil)

	repo.On("Create", mock.Anything, mock.MatchedBy(func(d *domain.Discount) bool {
		return d.Code == "WELCOME10" && d.Kind == domain.KindPercentage &&
			d.Window.Status == domain.StatusActive && d.StoreID == "store-001"
	})).Return(nil)

	d, err := svc.CreateDiscount(context.Background(), &CreateDiscountInput{
		StoreID: "store-001",
		Code:    "welcome10",
		Name:    "Welcome Discount",
		Kind:    domain.KindPercentage,
		Value:   dec("10"),
	})

	require.NoError(t, err)
	assert.Equal(t, "WELCOME10", d.Code)
	assert.NotEmpty(t, d.ID)
	assert.Equal(t, domain.AppliesToAll, d.Scope.AppliesTo)
	repo.AssertExpectations(t)
}

func TestCreateDiscount_GeneratesCode(t *testing.T) {
	repo := new(mockDiscountRepository)
	svc := newTestService(repo, nil)

	repo.On("Create", mock.Anything, mock.Anything).Return(nil)

	d, err := svc.CreateDiscount(context.Background(), &CreateDiscountInput{
		StoreID: "store-001",
		Name:    "Spring Launch 2026",
		Kind:    domain.KindFreeShipping,
	})

	require.NoError(t, err)
	assert.Regexp(t, `^SPRING-LAUNCH-2026-[0-9A-F]{4}$`, d.Code)
	repo.AssertExpectations(t)
}

func TestCreateDiscount_InvalidKind(t *testing.T) {
	repo := new(mockDiscountRepository)
	svc := newTestService(repo, nil)

	_, err := svc.CreateDiscount(context.Background(), &CreateDiscountInput{
		StoreID: "store-001",
		Name:    "Broken",
		Kind:    "loyalty_points",
	})

	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
	repo.AssertNotCalled(t, "Create")
}

func TestCreateDiscount_BuyXGetYRequiresParams(t *testing.T) {
	repo := new(mockDiscountRepository)
	svc := newTestService(repo, nil)

	_, err := svc.CreateDiscount(context.Background(), &CreateDiscountInput{
		StoreID: "store-001",
		Name:    "BOGO",
		Kind:    domain.KindBuyXGetY,
		// Missing buy/get quantities.
	})

	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
	repo.AssertNotCalled(t, "Create")
}

// --- UpdateDiscount ---

func TestUpdateDiscount_Success(t *testing.T) {
	repo := new(mockDiscountRepository)
	cache := new(mockDefinitionCache)
	svc := newTestService(repo, cache)

	existing := activeDiscount()
	repo.On("GetByID", mock.Anything, "disc-001").Return(existing, nil)
	repo.On("Update", mock.Anything, mock.MatchedBy(func(d *domain.Discount) bool {
		return d.Name == "Renamed" && d.Value.Equal(dec("15"))
	})).Return(nil)
	cache.On("Invalidate", mock.Anything, "store-001", "SAVE10").Return(nil)

	v := dec("15")
	d, err := svc.UpdateDiscount(context.Background(), "disc-001", &UpdateDiscountInput{
		Name:  strPtr("Renamed"),
		Value: &v,
	})

	require.NoError(t, err)
	assert.Equal(t, "Renamed", d.Name)
	repo.AssertExpectations(t)
	cache.AssertExpectations(t)
}

func TestUpdateDiscount_CodeChangeInvalidatesBothKeys(t *testing.T) {
	repo := new(mockDiscountRepository)
	cache := new(mockDefinitionCache)
	svc := newTestService(repo, cache)

	existing := activeDiscount()
	repo.On("GetByID", mock.Anything, "disc-001").Return(existing, nil)
	repo.On("Update", mock.Anything, mock.Anything).Return(nil)
	cache.On("Invalidate", mock.Anything, "store-001", "SAVE10").Return(nil)
	cache.On("Invalidate", mock.Anything, "store-001", "SAVE15").Return(nil)

	_, err := svc.UpdateDiscount(context.Background(), "disc-001", &UpdateDiscountInput{
		Code: strPtr("save15"),
	})

	require.NoError(t, err)
	cache.AssertExpectations(t)
}

func TestUpdateDiscount_NotFound(t *testing.T) {
	repo := new(mockDiscountRepository)
	svc := newTestService(repo, nil)

	repo.On("GetByID", mock.Anything, "missing").Return(nil, apperrors.NotFound("discount", "missing"))

	_, err := svc.UpdateDiscount(context.Background(), "missing", &UpdateDiscountInput{})
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestDeactivateDiscount(t *testing.T) {
	repo := new(mockDiscountRepository)
	cache := new(mockDefinitionCache)
	svc := newTestService(repo, cache)

	existing := activeDiscount()
	repo.On("GetByID", mock.Anything, "disc-001").Return(existing, nil)
	repo.On("Update", mock.Anything, mock.MatchedBy(func(d *domain.Discount) bool {
		return d.Window.Status == domain.StatusInactive
	})).Return(nil)
	cache.On("Invalidate", mock.Anything, "store-001", "SAVE10").Return(nil)

	d, err := svc.DeactivateDiscount(context.Background(), "disc-001")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusInactive, d.Window.Status)
	repo.AssertExpectations(t)
}

// --- ListDiscounts ---

func TestListDiscounts_PassesFilterThrough(t *testing.T) {
	repo := new(mockDiscountRepository)
	svc := newTestService(repo, nil)

	// Bounds are enforced at the HTTP boundary by pkg/pagination; the service
	// hands the filter to the repository unchanged.
	repo.On("List", mock.Anything, "store-001", repository.DiscountFilter{Page: 3, PerPage: 50}).
		Return([]domain.Discount{}, 0, nil)

	_, _, err := svc.ListDiscounts(context.Background(), "store-001", repository.DiscountFilter{Page: 3, PerPage: 50})
	require.NoError(t, err)
	repo.AssertExpectations(t)
}

// --- EvaluateCode ---

func TestEvaluateCode_Valid(t *testing.T) {
	repo := new(mockDiscountRepository)
	svc := newTestService(repo, nil)

	repo.On("GetByCode", mock.Anything, "store-001", "SAVE10").Return(activeDiscount(), nil)
	repo.On("RecordView", mock.Anything, "disc-001").Return(nil)

	result, d, err := svc.EvaluateCode(context.Background(), "store-001", "SAVE10", simpleCart(), domain.CustomerContext{})

	require.NoError(t, err)
	require.NotNil(t, d)
	assert.True(t, result.Valid)
	assert.True(t, dec("10.00").Equal(result.DiscountAmount), "got %s", result.DiscountAmount)
	repo.AssertExpectations(t)
}

func TestEvaluateCode_NotFoundIsRejection(t *testing.T) {
	repo := new(mockDiscountRepository)
	svc := newTestService(repo, nil)

	repo.On("GetByCode", mock.Anything, "store-001", "NOPE").Return(nil, apperrors.ErrNotFound)

	result, d, err := svc.EvaluateCode(context.Background(), "store-001", "NOPE", simpleCart(), domain.CustomerContext{})

	require.NoError(t, err)
	assert.Nil(t, d)
	assert.False(t, result.Valid)
	assert.Equal(t, domain.ReasonNotFound, result.Rejection.Code)
	repo.AssertNotCalled(t, "RecordView")
}

func TestEvaluateCode_CacheHitSkipsRepository(t *testing.T) {
	repo := new(mockDiscountRepository)
	cache := new(mockDefinitionCache)
	svc := newTestService(repo, cache)

	cache.On("Get", mock.Anything, "store-001", "SAVE10").Return(activeDiscount(), nil)
	repo.On("RecordView", mock.Anything, "disc-001").Return(nil)

	result, _, err := svc.EvaluateCode(context.Background(), "store-001", "SAVE10", simpleCart(), domain.CustomerContext{})

	require.NoError(t, err)
	assert.True(t, result.Valid)
	repo.AssertNotCalled(t, "GetByCode")
	cache.AssertExpectations(t)
}

func TestEvaluateCode_CacheMissFallsThrough(t *testing.T) {
	repo := new(mockDiscountRepository)
	cache := new(mockDefinitionCache)
	svc := newTestService(repo, cache)

	d := activeDiscount()
	cache.On("Get", mock.Anything, "store-001", "SAVE10").Return(nil, nil)
	repo.On("GetByCode", mock.Anything, "store-001", "SAVE10").Return(d, nil)
	cache.On("Set", mock.Anything, d).Return(nil)
	repo.On("RecordView", mock.Anything, "disc-001").Return(nil)

	result, _, err := svc.EvaluateCode(context.Background(), "store-001", "SAVE10", simpleCart(), domain.CustomerContext{})

	require.NoError(t, err)
	assert.True(t, result.Valid)
	repo.AssertExpectations(t)
	cache.AssertExpectations(t)
}

func TestEvaluateCode_ViewFailureIsNonFatal(t *testing.T) {
	repo := new(mockDiscountRepository)
	svc := newTestService(repo, nil)

	repo.On("GetByCode", mock.Anything, "store-001", "SAVE10").Return(activeDiscount(), nil)
	repo.On("RecordView", mock.Anything, "disc-001").Return(assert.AnError)

	result, _, err := svc.EvaluateCode(context.Background(), "store-001", "SAVE10", simpleCart(), domain.CustomerContext{})

	require.NoError(t, err)
	assert.True(t, result.Valid)
}

func TestEvaluateCode_MalformedCartIsError(t *testing.T) {
	repo := new(mockDiscountRepository)
	svc := newTestService(repo, nil)

	repo.On("GetByCode", mock.Anything, "store-001", "SAVE10").Return(activeDiscount(), nil)
	repo.On("RecordView", mock.Anything, mock.Anything).Return(nil).Maybe()

	cart := simpleCart()
	cart.Subtotal = dec("999.00") // does not match line totals

	_, _, err := svc.EvaluateCode(context.Background(), "store-001", "SAVE10", cart, domain.CustomerContext{})
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

// --- RedeemCode ---

func TestRedeemCode_Success(t *testing.T) {
	repo := new(mockDiscountRepository)
	svc := newTestService(repo, nil)

	d := activeDiscount()
	repo.On("GetByCode", mock.Anything, "store-001", "SAVE10").Return(d, nil)
	repo.On("RecordView", mock.Anything, "disc-001").Return(nil)
	repo.On("RecordRedemption", mock.Anything, d, "cust-1").Return(nil)
	repo.On("CreateRedemption", mock.Anything, mock.MatchedBy(func(r *domain.Redemption) bool {
		return r.DiscountID == "disc-001" && r.OrderID == "order-9" &&
			r.Amount.Equal(dec("10.00"))
	})).Return(nil)

	result, err := svc.RedeemCode(context.Background(), &RedeemInput{
		StoreID:  "store-001",
		Code:     "SAVE10",
		OrderID:  "order-9",
		Cart:     simpleCart(),
		Customer: domain.CustomerContext{CustomerID: "cust-1"},
	})

	require.NoError(t, err)
	assert.True(t, result.Valid)
	repo.AssertExpectations(t)
}

func TestRedeemCode_InvalidCodeDoesNotBook(t *testing.T) {
	repo := new(mockDiscountRepository)
	svc := newTestService(repo, nil)

	d := activeDiscount()
	d.Window.Status = domain.StatusInactive
	repo.On("GetByCode", mock.Anything, "store-001", "SAVE10").Return(d, nil)
	repo.On("RecordView", mock.Anything, "disc-001").Return(nil)

	result, err := svc.RedeemCode(context.Background(), &RedeemInput{
		StoreID: "store-001",
		Code:    "SAVE10",
		Cart:    simpleCart(),
	})

	require.NoError(t, err)
	assert.False(t, result.Valid)
	assert.Equal(t, domain.ReasonInactive, result.Rejection.Code)
	repo.AssertNotCalled(t, "RecordRedemption")
	repo.AssertNotCalled(t, "CreateRedemption")
}

func TestRedeemCode_LimitLostAtBooking(t *testing.T) {
	repo := new(mockDiscountRepository)
	svc := newTestService(repo, nil)

	d := activeDiscount()
	repo.On("GetByCode", mock.Anything, "store-001", "SAVE10").Return(d, nil)
	repo.On("RecordView", mock.Anything, "disc-001").Return(nil)
	// Evaluation saw a free slot but the guarded increment lost the race.
	repo.On("RecordRedemption", mock.Anything, d, "").Return(ledger.ErrUsageLimitReached)

	result, err := svc.RedeemCode(context.Background(), &RedeemInput{
		StoreID: "store-001",
		Code:    "SAVE10",
		Cart:    simpleCart(),
	})

	require.NoError(t, err)
	assert.False(t, result.Valid)
	assert.Equal(t, domain.ReasonUsageLimitReached, result.Rejection.Code)
	repo.AssertNotCalled(t, "CreateRedemption")
}

func TestRedeemCode_CustomerLimitLostAtBooking(t *testing.T) {
	repo := new(mockDiscountRepository)
	svc := newTestService(repo, nil)

	d := activeDiscount()
	repo.On("GetByCode", mock.Anything, "store-001", "SAVE10").Return(d, nil)
	repo.On("RecordView", mock.Anything, "disc-001").Return(nil)
	repo.On("RecordRedemption", mock.Anything, d, "cust-1").Return(ledger.ErrCustomerLimitReached)

	result, err := svc.RedeemCode(context.Background(), &RedeemInput{
		StoreID:  "store-001",
		Code:     "SAVE10",
		Cart:     simpleCart(),
		Customer: domain.CustomerContext{CustomerID: "cust-1"},
	})

	require.NoError(t, err)
	assert.False(t, result.Valid)
	assert.Equal(t, domain.ReasonPerCustomerLimitReached, result.Rejection.Code)
}

// --- RecordOrderRedemption ---

func TestRecordOrderRedemption_Success(t *testing.T) {
	repo := new(mockDiscountRepository)
	cache := new(mockDefinitionCache)
	svc := newTestService(repo, cache)

	d := activeDiscount()
	repo.On("GetByID", mock.Anything, "disc-001").Return(d, nil)
	repo.On("RecordRedemption", mock.Anything, d, "cust-1").Return(nil)
	repo.On("CreateRedemption", mock.Anything, mock.MatchedBy(func(r *domain.Redemption) bool {
		return r.OrderID == "order-77" && r.Amount.Equal(dec("4.50"))
	})).Return(nil)
	cache.On("Invalidate", mock.Anything, "store-001", "SAVE10").Return(nil)

	err := svc.RecordOrderRedemption(context.Background(), &event.OrderRedemption{
		DiscountID: "disc-001",
		StoreID:    "store-001",
		CustomerID: "cust-1",
		OrderID:    "order-77",
		Amount:     dec("4.50"),
	})

	require.NoError(t, err)
	repo.AssertExpectations(t)
	cache.AssertExpectations(t)
}

func TestRecordOrderRedemption_LimitErrorPropagates(t *testing.T) {
	repo := new(mockDiscountRepository)
	svc := newTestService(repo, nil)

	d := activeDiscount()
	repo.On("GetByID", mock.Anything, "disc-001").Return(d, nil)
	repo.On("RecordRedemption", mock.Anything, d, "").Return(ledger.ErrUsageLimitReached)

	err := svc.RecordOrderRedemption(context.Background(), &event.OrderRedemption{
		DiscountID: "disc-001",
		StoreID:    "store-001",
		OrderID:    "order-78",
		Amount:     dec("1.00"),
	})

	assert.ErrorIs(t, err, ledger.ErrUsageLimitReached)
	repo.AssertNotCalled(t, "CreateRedemption")
}

func TestRecordOrderRedemption_UnknownDiscount(t *testing.T) {
	repo := new(mockDiscountRepository)
	svc := newTestService(repo, nil)

	repo.On("GetByID", mock.Anything, "ghost").Return(nil, apperrors.ErrNotFound)

	err := svc.RecordOrderRedemption(context.Background(), &event.OrderRedemption{
		DiscountID: "ghost",
		OrderID:    "order-79",
	})

	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestEvaluateCode_PerCustomerLimitFromUsageMap(t *testing.T) {
	repo := new(mockDiscountRepository)
	svc := newTestService(repo, nil)

	d := activeDiscount()
	d.UsageLimitPerCustomer = intPtr(1)
	d.CustomerUsage = map[string]int{"cust-1": 1}
	repo.On("GetByCode", mock.Anything, "store-001", "SAVE10").Return(d, nil)
	repo.On("RecordView", mock.Anything, "disc-001").Return(nil)

	result, _, err := svc.EvaluateCode(context.Background(), "store-001", "SAVE10", simpleCart(),
		domain.CustomerContext{CustomerID: "cust-1"})

	require.NoError(t, err)
	assert.False(t, result.Valid)
	assert.Equal(t, domain.ReasonPerCustomerLimitReached, result.Rejection.Code)
}
