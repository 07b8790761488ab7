package event

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/merchkit/discount-engine/internal/domain"
	pkgkafka "github.com/merchkit/discount-engine/pkg/kafka"
)

// Kafka topics for discount domain events.
var (
	TopicDiscountCreated  = pkgkafka.Topic("discount", "created")
	TopicDiscountUpdated  = pkgkafka.Topic("discount", "updated")
	TopicDiscountRedeemed = pkgkafka.Topic("discount", "redeemed")
)

// Aggregate type constant.
const AggregateTypeDiscount = "discount"

// Source identifier for events originating from this service.
const SourceDiscountEngine = "discount-engine"

// DiscountCreatedData is the payload for a discount.created event.
type DiscountCreatedData struct {
	ID      string          `json:"id"`
	StoreID string          `json:"store_id"`
	Code    string          `json:"code"`
	Name    string          `json:"name"`
	Kind    string          `json:"kind"`
	Value   decimal.Decimal `json:"value"`
	Status  string          `json:"status"`
}

// DiscountUpdatedData is the payload for a discount.updated event.
type DiscountUpdatedData struct {
	ID      string `json:"id"`
	StoreID string `json:"store_id"`
	Code    string `json:"code"`
	Kind    string `json:"kind"`
	Status  string `json:"status"`
}

// DiscountRedeemedData is the payload for a discount.redeemed event.
type DiscountRedeemedData struct {
	DiscountID string          `json:"discount_id"`
	StoreID    string          `json:"store_id"`
	Code       string          `json:"code"`
	CustomerID string          `json:"customer_id,omitempty"`
	OrderID    string          `json:"order_id,omitempty"`
	Amount     decimal.Decimal `json:"amount"`
}

// Producer publishes discount domain events to Kafka.
type Producer struct {
	kafka  *pkgkafka.Producer
	logger *slog.Logger
}

// NewProducer creates a new event producer for the discount engine.
func NewProducer(kafka *pkgkafka.Producer, logger *slog.Logger) *Producer {
	return &Producer{
		kafka:  kafka,
		logger: logger,
	}
}

// PublishDiscountCreated publishes a discount.created event.
func (p *Producer) PublishDiscountCreated(ctx context.Context, d *domain.Discount) error {
	data := DiscountCreatedData{
		ID:      d.ID,
		StoreID: d.StoreID,
		Code:    d.Code,
		Name:    d.Name,
		Kind:    d.Kind,
		Value:   d.Value,
		Status:  d.Window.Status,
	}

	event, err := pkgkafka.NewEvent(TopicDiscountCreated, d.ID, AggregateTypeDiscount, SourceDiscountEngine, data)
	if err != nil {
		return fmt.Errorf("create discount.created event: %w", err)
	}

	if err := p.kafka.Publish(ctx, TopicDiscountCreated, event); err != nil {
		return fmt.Errorf("publish discount.created event: %w", err)
	}

	p.logger.DebugContext(ctx, "published discount.created event",
		slog.String("discount_id", d.ID),
		slog.String("code", d.Code),
	)

	return nil
}

// PublishDiscountUpdated publishes a discount.updated event.
func (p *Producer) PublishDiscountUpdated(ctx context.Context, d *domain.Discount) error {
	data := DiscountUpdatedData{
		ID:      d.ID,
		StoreID: d.StoreID,
		Code:    d.Code,
		Kind:    d.Kind,
		Status:  d.Window.Status,
	}

	event, err := pkgkafka.NewEvent(TopicDiscountUpdated, d.ID, AggregateTypeDiscount, SourceDiscountEngine, data)
	if err != nil {
		return fmt.Errorf("create discount.updated event: %w", err)
	}

	if err := p.kafka.Publish(ctx, TopicDiscountUpdated, event); err != nil {
		return fmt.Errorf("publish discount.updated event: %w", err)
	}

	p.logger.DebugContext(ctx, "published discount.updated event",
		slog.String("discount_id", d.ID),
		slog.String("code", d.Code),
	)

	return nil
}

// PublishDiscountRedeemed publishes a discount.redeemed event.
func (p *Producer) PublishDiscountRedeemed(ctx context.Context, d *domain.Discount, redemption *domain.Redemption) error {
	data := DiscountRedeemedData{
		DiscountID: redemption.DiscountID,
		StoreID:    redemption.StoreID,
		Code:       d.Code,
		CustomerID: redemption.CustomerID,
		OrderID:    redemption.OrderID,
		Amount:     redemption.Amount,
	}

	event, err := pkgkafka.NewEvent(TopicDiscountRedeemed, d.ID, AggregateTypeDiscount, SourceDiscountEngine, data)
	if err != nil {
		return fmt.Errorf("create discount.redeemed event: %w", err)
	}

	if err := p.kafka.Publish(ctx, TopicDiscountRedeemed, event); err != nil {
		return fmt.Errorf("publish discount.redeemed event: %w", err)
	}

	p.logger.DebugContext(ctx, "published discount.redeemed event",
		slog.String("discount_id", d.ID),
		slog.String("order_id", redemption.OrderID),
	)

	return nil
}
