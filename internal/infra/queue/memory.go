package queue

import (
	"context"
	"errors"
	"sync"

	"pathledger/internal/domain"
)

// ErrQueueFull is returned when a bounded queue cannot take another job.
var ErrQueueFull = errors.New("anchor queue full")

type memoryQueue struct {
	jobs    chan domain.AnchorJob
	mu      sync.Mutex
	pending map[string]struct{}
}

// NewMemoryQueue returns a process-local queue. A message id already waiting
// or in flight is not queued twice.
func NewMemoryQueue(capacity int) domain.AnchorQueue {
	if capacity <= 0 {
		capacity = 1024
	}
	return &memoryQueue{
		jobs:    make(chan domain.AnchorJob, capacity),
		pending: make(map[string]struct{}),
	}
}

func (q *memoryQueue) Enqueue(ctx context.Context, job domain.AnchorJob) error {
	if job.MessageID == "" {
		return errors.New("job message_id is required")
	}
	q.mu.Lock()
	if _, ok := q.pending[job.MessageID]; ok {
		q.mu.Unlock()
		return nil
	}
	q.pending[job.MessageID] = struct{}{}
	q.mu.Unlock()

	select {
	case q.jobs <- job:
		return nil
	default:
		q.release(job.MessageID)
		return ErrQueueFull
	}
}

func (q *memoryQueue) Dequeue(ctx context.Context) (domain.AnchorJob, error) {
	select {
	case <-ctx.Done():
		return domain.AnchorJob{}, ctx.Err()
	case job := <-q.jobs:
		return job, nil
	}
}

func (q *memoryQueue) Done(_ context.Context, job domain.AnchorJob) error {
	q.release(job.MessageID)
	return nil
}

func (q *memoryQueue) release(messageID string) {
	q.mu.Lock()
	delete(q.pending, messageID)
	q.mu.Unlock()
}
