package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"

	"pathledger/internal/domain"
)

var errCapacity = errors.New("rate limiter capacity exceeded")

type counter struct {
	window int64
	hits   int64
	closes time.Time
}

type memoryLimiter struct {
	mu       sync.Mutex
	now      func() time.Time
	counters map[string]*counter
	maxKeys  int
}

type MemoryLimiterConfig struct {
	Now     func() time.Time
	MaxKeys int
}

// NewMemoryLimiter returns a fixed-window limiter local to this process.
func NewMemoryLimiter(cfg MemoryLimiterConfig) domain.RateLimiter {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.MaxKeys <= 0 {
		cfg.MaxKeys = 10000
	}
	return &memoryLimiter{
		now:      cfg.Now,
		counters: make(map[string]*counter),
		maxKeys:  cfg.MaxKeys,
	}
}

func (m *memoryLimiter) Allow(_ context.Context, key string, limit int, window time.Duration) (domain.RateLimitDecision, error) {
	if limit <= 0 {
		return unlimited(limit), nil
	}
	now := m.now()
	idx, closes := alignedWindow(now, window)

	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.counters[key]
	if !ok || c.window != idx {
		if !ok && len(m.counters) >= m.maxKeys {
			m.sweep(now)
			if len(m.counters) >= m.maxKeys {
				return domain.RateLimitDecision{}, errCapacity
			}
		}
		c = &counter{window: idx, closes: closes}
		m.counters[key] = c
	}
	// Denied calls are not counted.
	if c.hits >= int64(limit) {
		return decide(limit, c.hits+1, c.closes), nil
	}
	c.hits++
	return decide(limit, c.hits, c.closes), nil
}

func (m *memoryLimiter) sweep(now time.Time) {
	for key, c := range m.counters {
		if !now.Before(c.closes) {
			delete(m.counters, key)
		}
	}
}
