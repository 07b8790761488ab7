package event

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/merchkit/discount-engine/internal/ledger"
	apperrors "github.com/merchkit/discount-engine/pkg/errors"
	pkgkafka "github.com/merchkit/discount-engine/pkg/kafka"
)

// TopicOrderCompleted is the order event that finalizes a discount redemption.
// Usage counters move here, not at evaluation time, so abandoned checkouts
// never consume a redemption slot.
var TopicOrderCompleted = pkgkafka.Topic("order", "completed")

// RedemptionService defines the interface required by the event consumer.
type RedemptionService interface {
	RecordOrderRedemption(ctx context.Context, input *OrderRedemption) error
}

// OrderRedemption carries the redemption details extracted from an
// order.completed event.
type OrderRedemption struct {
	DiscountID string
	StoreID    string
	CustomerID string
	OrderID    string
	Amount     decimal.Decimal
}

// OrderCompletedData is the expected payload of an order.completed event.
// Orders without a discount carry an empty discount_id and are skipped.
type OrderCompletedData struct {
	OrderID        string          `json:"order_id"`
	StoreID        string          `json:"store_id"`
	CustomerID     string          `json:"customer_id,omitempty"`
	DiscountID     string          `json:"discount_id,omitempty"`
	DiscountCode   string          `json:"discount_code,omitempty"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
}

// Consumer processes incoming Kafka events for the discount engine.
type Consumer struct {
	logger  *slog.Logger
	service RedemptionService
}

// NewConsumer creates a new event consumer for the discount engine.
func NewConsumer(service RedemptionService, logger *slog.Logger) *Consumer {
	return &Consumer{
		service: service,
		logger:  logger,
	}
}

// HandleOrderCompleted records the redemption of the discount applied to a
// completed order. Limit rejections and missing discounts are logged and
// swallowed: the order already shipped, so retrying cannot change the outcome.
func (c *Consumer) HandleOrderCompleted(ctx context.Context, event *pkgkafka.Event) error {
	var data OrderCompletedData
	if err := json.Unmarshal(event.Data, &data); err != nil {
		return fmt.Errorf("unmarshal order.completed data: %w", err)
	}

	if data.DiscountID == "" {
		return nil
	}

	c.logger.InfoContext(ctx, "processing order.completed event",
		slog.String("order_id", data.OrderID),
		slog.String("discount_id", data.DiscountID),
	)

	err := c.service.RecordOrderRedemption(ctx, &OrderRedemption{
		DiscountID: data.DiscountID,
		StoreID:    data.StoreID,
		CustomerID: data.CustomerID,
		OrderID:    data.OrderID,
		Amount:     data.DiscountAmount,
	})
	switch {
	case err == nil:
		c.logger.InfoContext(ctx, "redemption recorded for order",
			slog.String("order_id", data.OrderID),
			slog.String("discount_id", data.DiscountID),
		)
	case errors.Is(err, ledger.ErrUsageLimitReached),
		errors.Is(err, ledger.ErrCustomerLimitReached):
		c.logger.WarnContext(ctx, "order completed with an over-limit discount",
			slog.String("order_id", data.OrderID),
			slog.String("discount_id", data.DiscountID),
			slog.String("reason", err.Error()),
		)
	case errors.Is(err, apperrors.ErrNotFound):
		c.logger.WarnContext(ctx, "order references unknown discount",
			slog.String("order_id", data.OrderID),
			slog.String("discount_id", data.DiscountID),
		)
	default:
		return fmt.Errorf("record redemption for order %s: %w", data.OrderID, err)
	}

	return nil
}
