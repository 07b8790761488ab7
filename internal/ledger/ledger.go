// Package ledger is the bookkeeping side of the discount engine: it records
// redemptions and impressions against a definition's usage counters.
//
// Counter updates are delegated to a UsageStore whose implementations must
// perform atomic read-increment-write with the limit guard applied inside the
// store (a conditional UPDATE in PostgreSQL, a mutex in memory). A plain
// load-mutate-save of the definition would race past the usage limit under
// concurrent checkouts.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/merchkit/discount-engine/internal/domain"
)

// Sentinel errors returned when a guarded increment loses to the cap.
var (
	ErrUsageLimitReached    = errors.New("discount usage limit reached")
	ErrCustomerLimitReached = errors.New("customer usage limit for discount reached")
)

// UsageStore persists usage counters. RecordRedemption must atomically
// increment the global counter (guarded by the discount's usage limit) and,
// when customerID is non-empty, the per-customer counter (guarded by the
// per-customer limit). Both increments commit together or not at all.
type UsageStore interface {
	RecordRedemption(ctx context.Context, def *domain.Discount, customerID string) error
	RecordView(ctx context.Context, discountID string) error
}

// Ledger records redemption and view events for discounts.
type Ledger struct {
	store  UsageStore
	logger *slog.Logger
}

// New creates a ledger over the given store.
func New(store UsageStore, logger *slog.Logger) *Ledger {
	return &Ledger{store: store, logger: logger}
}

// RecordRedemption books one redemption of the discount, for the given
// customer when identified. On success it returns a copy of the definition
// with the counters advanced; the stored definition is the source of truth.
func (l *Ledger) RecordRedemption(ctx context.Context, def *domain.Discount, customerID string) (*domain.Discount, error) {
	if err := l.store.RecordRedemption(ctx, def, customerID); err != nil {
		if errors.Is(err, ErrUsageLimitReached) || errors.Is(err, ErrCustomerLimitReached) {
			return nil, err
		}
		return nil, fmt.Errorf("record redemption: %w", err)
	}

	updated := *def
	updated.CurrentUsage++
	if customerID != "" {
		updated.CustomerUsage = make(map[string]int, len(def.CustomerUsage)+1)
		for k, v := range def.CustomerUsage {
			updated.CustomerUsage[k] = v
		}
		updated.CustomerUsage[customerID]++
	}

	l.logger.InfoContext(ctx, "discount redemption recorded",
		slog.String("discount_id", def.ID),
		slog.String("code", def.Code),
		slog.Int("current_usage", updated.CurrentUsage),
	)

	return &updated, nil
}

// RecordView books one impression of the discount. Views have no cap and no
// per-customer dimension.
func (l *Ledger) RecordView(ctx context.Context, def *domain.Discount) (*domain.Discount, error) {
	if err := l.store.RecordView(ctx, def.ID); err != nil {
		return nil, fmt.Errorf("record view: %w", err)
	}

	updated := *def
	updated.Views++
	return &updated, nil
}
