// Package cache holds read-through caches for account balances.
package cache

import (
	"context"
	"sync"
	"time"

	"pointledger/internal/points"
)

// BalanceCache stores the last committed balance per account. Writers call
// Invalidate after every commit that touches the account.
type BalanceCache interface {
	Get(ctx context.Context, accountID string) (points.Amount, bool)
	Set(ctx context.Context, accountID string, balance points.Amount)
	Invalidate(ctx context.Context, accountID string) error
}

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// TTLCache is a mutex guarded map with per-entry expiry.
type TTLCache[K comparable, V any] struct {
	mu    sync.RWMutex
	items map[K]entry[V]
	now   func() time.Time
}

func NewTTLCache[K comparable, V any]() *TTLCache[K, V] {
	return &TTLCache[K, V]{items: make(map[K]entry[V]), now: time.Now}
}

func (c *TTLCache[K, V]) Get(key K) (V, bool) {
	c.mu.RLock()
	item, ok := c.items[key]
	c.mu.RUnlock()
	var zero V
	if !ok {
		return zero, false
	}
	if !c.now().Before(item.expiresAt) {
		c.mu.Lock()
		if current, still := c.items[key]; still && current.expiresAt.Equal(item.expiresAt) {
			delete(c.items, key)
		}
		c.mu.Unlock()
		return zero, false
	}
	return item.value, true
}

func (c *TTLCache[K, V]) Set(key K, value V, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	c.mu.Lock()
	c.items[key] = entry[V]{value: value, expiresAt: c.now().Add(ttl)}
	c.mu.Unlock()
}

func (c *TTLCache[K, V]) Delete(key K) {
	c.mu.Lock()
	delete(c.items, key)
	c.mu.Unlock()
}

type memoryBalanceCache struct {
	items *TTLCache[string, points.Amount]
	ttl   time.Duration
}

func NewMemoryBalanceCache(ttl time.Duration) BalanceCache {
	return &memoryBalanceCache{items: NewTTLCache[string, points.Amount](), ttl: ttl}
}

func (c *memoryBalanceCache) Get(_ context.Context, accountID string) (points.Amount, bool) {
	return c.items.Get(accountID)
}

func (c *memoryBalanceCache) Set(_ context.Context, accountID string, balance points.Amount) {
	c.items.Set(accountID, balance, c.ttl)
}

func (c *memoryBalanceCache) Invalidate(_ context.Context, accountID string) error {
	c.items.Delete(accountID)
	return nil
}

// Nop never stores anything.
type Nop struct{}

func (Nop) Get(context.Context, string) (points.Amount, bool) { return 0, false }
func (Nop) Set(context.Context, string, points.Amount)        {}
func (Nop) Invalidate(context.Context, string) error          { return nil }
