package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"pathledger/internal/domain"
)

func TestMemoryQueueDedupsPending(t *testing.T) {
	q := NewMemoryQueue(4)
	ctx := context.Background()
	job := domain.AnchorJob{MessageID: "m1", Kind: domain.EventKindTracker}
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
	if got.MessageID != "m1" {
		t.Fatalf("unexpected job %+v", got)
	}

	// Still in flight until Done.
	if err := q.Enqueue(ctx, job); err != nil {
		t.Fatalf("enqueue in flight: %v", err)
	}
	short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if _, err := q.Dequeue(short); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected empty queue, got %v", err)
	}

	if err := q.Done(ctx, job); err != nil {
		t.Fatalf("done: %v", err)
	}
	if err := q.Enqueue(ctx, job); err != nil {
		t.Fatalf("enqueue after done: %v", err)
	}
	if _, err := q.Dequeue(ctx); err != nil {
		t.Fatalf("dequeue after done: %v", err)
	}
}

func TestMemoryQueueFull(t *testing.T) {
	q := NewMemoryQueue(1)
	ctx := context.Background()
	if err := q.Enqueue(ctx, domain.AnchorJob{MessageID: "m1"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := q.Enqueue(ctx, domain.AnchorJob{MessageID: "m2"}); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
	// A rejected job does not hold its dedup slot.
	_, _ = q.Dequeue(ctx)
	if err := q.Enqueue(ctx, domain.AnchorJob{MessageID: "m2"}); err != nil {
		t.Fatalf("enqueue after drain: %v", err)
	}
}

func TestMemoryQueueRejectsEmptyID(t *testing.T) {
	if err := NewMemoryQueue(1).Enqueue(context.Background(), domain.AnchorJob{}); err == nil {
		t.Fatal("expected error for empty message id")
	}
}
