package ledger

import (
	"context"
	"sync"

	"github.com/merchkit/discount-engine/internal/domain"
)

// MemoryStore is a mutex-guarded in-process UsageStore. It is used by tests
// and by local single-instance deployments; production runs the PostgreSQL
// store, which enforces the same guards with conditional updates.
type MemoryStore struct {
	mu     sync.Mutex
	usage  map[string]int
	views  map[string]int
	byCust map[string]map[string]int
	seen   map[string]bool
}

// NewMemoryStore creates an empty in-memory usage store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		usage:  make(map[string]int),
		views:  make(map[string]int),
		byCust: make(map[string]map[string]int),
		seen:   make(map[string]bool),
	}
}

// RecordRedemption increments the counters for the discount under the limit
// guards. Guard and increment happen under one lock, so concurrent
// redemptions cannot both slip past a limit of one.
func (s *MemoryStore) RecordRedemption(_ context.Context, def *domain.Discount, customerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Counters are seeded from the definition the first time it is seen;
	// after that the store's own counters are authoritative.
	if !s.seen[def.ID] {
		s.seen[def.ID] = true
		s.usage[def.ID] = def.CurrentUsage
		if len(def.CustomerUsage) > 0 {
			m := make(map[string]int, len(def.CustomerUsage))
			for k, v := range def.CustomerUsage {
				m[k] = v
			}
			s.byCust[def.ID] = m
		}
	}

	if def.UsageLimit != nil && s.usage[def.ID] >= *def.UsageLimit {
		return ErrUsageLimitReached
	}
	if customerID != "" && def.UsageLimitPerCustomer != nil &&
		s.byCust[def.ID][customerID] >= *def.UsageLimitPerCustomer {
		return ErrCustomerLimitReached
	}

	s.usage[def.ID]++
	if customerID != "" {
		if s.byCust[def.ID] == nil {
			s.byCust[def.ID] = make(map[string]int)
		}
		s.byCust[def.ID][customerID]++
	}
	return nil
}

// RecordView increments the view counter, unguarded.
func (s *MemoryStore) RecordView(_ context.Context, discountID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.views[discountID]++
	return nil
}

// Usage returns the current redemption count for a discount.
func (s *MemoryStore) Usage(discountID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usage[discountID]
}

// CustomerUsage returns the current redemption count for a customer.
func (s *MemoryStore) CustomerUsage(discountID, customerID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.byCust[discountID][customerID]
}

// Views returns the current view count for a discount.
func (s *MemoryStore) Views(discountID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.views[discountID]
}
