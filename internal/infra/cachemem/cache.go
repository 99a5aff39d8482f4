package cachemem

import (
	"context"
	"sync"
	"time"

	"pathledger/internal/domain"
	"pathledger/internal/infra/anchor"
)

// Cache keeps fetched ledger entries in process memory.
type Cache struct {
	mu         sync.Mutex
	entries    map[string]cacheEntry
	maxEntries int
	now        func() time.Time
}

type cacheEntry struct {
	value     domain.LedgerEntry
	expiresAt time.Time
	hasExpiry bool
}

func New(maxEntries int) *Cache {
	if maxEntries <= 0 {
		maxEntries = 10000
	}
	return &Cache{
		entries:    make(map[string]cacheEntry),
		maxEntries: maxEntries,
		now:        time.Now,
	}
}

func (c *Cache) Get(ctx context.Context, key string) (*domain.LedgerEntry, bool, error) {
	if c == nil {
		return nil, false, nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok {
		return nil, false, nil
	}
	if entry.hasExpiry && c.now().After(entry.expiresAt) {
		delete(c.entries, key)
		return nil, false, nil
	}
	value := entry.value
	return &value, true, nil
}

func (c *Cache) Put(ctx context.Context, key string, value domain.LedgerEntry, ttl time.Duration) error {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxEntries {
		c.evictExpired()
		if len(c.entries) >= c.maxEntries {
			return nil
		}
	}
	entry := cacheEntry{value: value}
	if ttl > 0 {
		entry.hasExpiry = true
		entry.expiresAt = c.now().Add(ttl)
	}
	c.entries[key] = entry
	return nil
}

func (c *Cache) evictExpired() {
	now := c.now()
	for key, entry := range c.entries {
		if entry.hasExpiry && now.After(entry.expiresAt) {
			delete(c.entries, key)
		}
	}
}

var _ anchor.EntryCache = (*Cache)(nil)
