package event

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/merchkit/discount-engine/internal/ledger"
	apperrors "github.com/merchkit/discount-engine/pkg/errors"
	pkgkafka "github.com/merchkit/discount-engine/pkg/kafka"
)

// --- Mock RedemptionService ---

type mockRedemptionService struct {
	mock.Mock
}

func (m *mockRedemptionService) RecordOrderRedemption(ctx context.Context, input *OrderRedemption) error {
	args := m.Called(ctx, input)
	return args.Error(0)
}

// --- Test helpers ---

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newOrderCompletedEvent(data any) *pkgkafka.Event {
	dataBytes, _ := json.Marshal(data)
	return &pkgkafka.Event{
		EventID:       "evt-test-123",
		EventType:     TopicOrderCompleted,
		AggregateID:   "order-456",
		AggregateType: "order",
		Version:       1,
		Timestamp:     time.Now().UTC(),
		Source:        "order-service",
		Data:          dataBytes,
	}
}

func completedOrder() OrderCompletedData {
	return OrderCompletedData{
		OrderID:        "order-456",
		StoreID:        "store-001",
		CustomerID:     "cust-001",
		DiscountID:     "disc-001",
		DiscountCode:   "SAVE10",
		DiscountAmount: decimal.RequireFromString("10.00"),
	}
}

// --- Tests ---

func TestHandleOrderCompleted_RecordsRedemption(t *testing.T) {
	svc := new(mockRedemptionService)
	svc.On("RecordOrderRedemption", mock.Anything, mock.MatchedBy(func(input *OrderRedemption) bool {
		return input.DiscountID == "disc-001" &&
			input.StoreID == "store-001" &&
			input.CustomerID == "cust-001" &&
			input.OrderID == "order-456" &&
			input.Amount.Equal(decimal.RequireFromString("10.00"))
	})).Return(nil)
	consumer := NewConsumer(svc, newTestLogger())

	err := consumer.HandleOrderCompleted(context.Background(), newOrderCompletedEvent(completedOrder()))

	require.NoError(t, err)
	svc.AssertExpectations(t)
}

func TestHandleOrderCompleted_SkipsOrderWithoutDiscount(t *testing.T) {
	svc := new(mockRedemptionService)
	consumer := NewConsumer(svc, newTestLogger())

	data := completedOrder()
	data.DiscountID = ""
	err := consumer.HandleOrderCompleted(context.Background(), newOrderCompletedEvent(data))

	require.NoError(t, err)
	svc.AssertNotCalled(t, "RecordOrderRedemption", mock.Anything, mock.Anything)
}

func TestHandleOrderCompleted_SwallowsLimitErrors(t *testing.T) {
	for _, limitErr := range []error{ledger.ErrUsageLimitReached, ledger.ErrCustomerLimitReached} {
		svc := new(mockRedemptionService)
		svc.On("RecordOrderRedemption", mock.Anything, mock.Anything).Return(limitErr)
		consumer := NewConsumer(svc, newTestLogger())

		err := consumer.HandleOrderCompleted(context.Background(), newOrderCompletedEvent(completedOrder()))

		// The order already shipped; retrying cannot change the outcome.
		assert.NoError(t, err, "limit error %v should not propagate", limitErr)
	}
}

func TestHandleOrderCompleted_SwallowsUnknownDiscount(t *testing.T) {
	svc := new(mockRedemptionService)
	svc.On("RecordOrderRedemption", mock.Anything, mock.Anything).Return(apperrors.ErrNotFound)
	consumer := NewConsumer(svc, newTestLogger())

	err := consumer.HandleOrderCompleted(context.Background(), newOrderCompletedEvent(completedOrder()))

	assert.NoError(t, err)
}

func TestHandleOrderCompleted_PropagatesTransientErrors(t *testing.T) {
	svc := new(mockRedemptionService)
	svc.On("RecordOrderRedemption", mock.Anything, mock.Anything).Return(errors.New("connection refused"))
	consumer := NewConsumer(svc, newTestLogger())

	err := consumer.HandleOrderCompleted(context.Background(), newOrderCompletedEvent(completedOrder()))

	// Transient failures must bubble up so the consumer retries.
	require.Error(t, err)
	assert.Contains(t, err.Error(), "order-456")
}

func TestHandleOrderCompleted_MalformedPayload(t *testing.T) {
	svc := new(mockRedemptionService)
	consumer := NewConsumer(svc, newTestLogger())

	event := newOrderCompletedEvent(nil)
	event.Data = json.RawMessage(`{not json`)

	err := consumer.HandleOrderCompleted(context.Background(), event)

	require.Error(t, err)
	svc.AssertNotCalled(t, "RecordOrderRedemption", mock.Anything, mock.Anything)
}
