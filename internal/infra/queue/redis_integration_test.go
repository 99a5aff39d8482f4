//go:build integration

package queue

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"pathledger/internal/domain"
)

func TestRedisQueueIntegration(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR_TEST")
	if addr == "" {
		t.Skip("REDIS_ADDR_TEST not set")
	}
	q, err := NewRedisQueue(addr, "", 0, "pathledger-test:"+uuid.NewString())
	if err != nil {
		t.Fatalf("new queue: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	job := domain.AnchorJob{MessageID: "m1", Kind: domain.EventKindProduct, EnqueuedAt: time.Now().UTC()}
	if err := q.Enqueue(ctx, job); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := q.Enqueue(ctx, job); err != nil {
		t.Fatalf("enqueue duplicate: %v", err)
	}
	got, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if got.MessageID != "m1" || got.Kind != domain.EventKindProduct {
		t.Fatalf("unexpected job %+v", got)
	}
	if err := q.Done(ctx, got); err != nil {
		t.Fatalf("done: %v", err)
	}

	short, cancelShort := context.WithTimeout(ctx, 200*time.Millisecond)
	defer cancelShort()
	if _, err := q.Dequeue(short); err == nil {
		t.Fatal("expected duplicate enqueue to be dropped")
	}
}
