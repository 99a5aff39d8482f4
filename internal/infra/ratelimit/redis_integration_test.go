//go:build integration

package ratelimit

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestRedisLimiterIntegration(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR_TEST")
	if addr == "" {
		t.Skip("REDIS_ADDR_TEST not set")
	}
	limiter, err := NewRedisLimiter(addr, "", 0, nil)
	if err != nil {
		t.Fatalf("new limiter: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	key := "test:" + uuid.NewString()
	for i := 0; i < 2; i++ {
		decision, err := limiter.Allow(ctx, key, 2, time.Hour)
		if err != nil {
			t.Fatalf("allow: %v", err)
		}
		if !decision.Allowed {
			t.Fatalf("expected request %d allowed", i)
		}
	}
	decision, err := limiter.Allow(ctx, key, 2, time.Hour)
	if err != nil {
		t.Fatalf("allow: %v", err)
	}
	if decision.Allowed || decision.Remaining != 0 {
		t.Fatalf("expected denial, got %+v", decision)
	}
}
