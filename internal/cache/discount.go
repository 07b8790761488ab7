// Package cache provides a Redis-backed lookaside cache for discount
// definitions. Evaluations hit the cache on the store+code key; writes to a
// definition invalidate its entry so stale rules never outlive the TTL plus
// one admin update.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/merchkit/discount-engine/internal/domain"
)

const keyPrefix = "discount:def:"

// DiscountCache caches discount definitions keyed by store and code.
type DiscountCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewDiscountCache creates a new Redis-backed definition cache.
func NewDiscountCache(client *redis.Client, ttl time.Duration) *DiscountCache {
	return &DiscountCache{
		client: client,
		ttl:    ttl,
	}
}

func cacheKey(storeID, code string) string {
	return keyPrefix + storeID + ":" + strings.ToUpper(strings.TrimSpace(code))
}

// Get retrieves a cached definition. A cache miss returns (nil, nil); only
// transport or decode failures are errors.
func (c *DiscountCache) Get(ctx context.Context, storeID, code string) (*domain.Discount, error) {
	data, err := c.client.Get(ctx, cacheKey(storeID, code)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("redis get discount: %w", err)
	}

	var d domain.Discount
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("unmarshal cached discount: %w", err)
	}

	return &d, nil
}

// Set stores a definition with the configured TTL.
func (c *DiscountCache) Set(ctx context.Context, d *domain.Discount) error {
	data, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("marshal discount: %w", err)
	}

	if err := c.client.Set(ctx, cacheKey(d.StoreID, d.Code), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set discount: %w", err)
	}

	return nil
}

// Invalidate drops a definition's cache entry.
func (c *DiscountCache) Invalidate(ctx context.Context, storeID, code string) error {
	if err := c.client.Del(ctx, cacheKey(storeID, code)).Err(); err != nil {
		return fmt.Errorf("redis del discount: %w", err)
	}
	return nil
}
