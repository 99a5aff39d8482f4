package anchor

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"pathledger/internal/domain"
)

// JobHandler processes one anchor job.
type JobHandler func(ctx context.Context, job domain.AnchorJob) error

// Worker drains an AnchorQueue with a fixed number of goroutines so slow
// ledger calls never sit on the ingestion path.
type Worker struct {
	Queue       domain.AnchorQueue
	Handle      JobHandler
	Concurrency int
	Logger      *slog.Logger
	// Backoff is the pause after a queue error.
	Backoff time.Duration
}

// Run blocks until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	if w.Queue == nil || w.Handle == nil {
		return errors.New("anchor worker requires a queue and a handler")
	}
	n := w.Concurrency
	if n <= 0 {
		n = 1
	}
	log := w.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With(slog.String("component", "anchor_worker"))

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < n; i++ {
		id := i
		g.Go(func() error {
			w.loop(ctx, log.With(slog.Int("worker", id)))
			return nil
		})
	}
	return g.Wait()
}

func (w *Worker) loop(ctx context.Context, log *slog.Logger) {
	backoff := w.Backoff
	if backoff <= 0 {
		backoff = time.Second
	}
	for {
		job, err := w.Queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warn("anchor queue dequeue failed", slog.Any("error", err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			continue
		}

		if err := w.Handle(ctx, job); err != nil {
			log.Warn("anchor job failed",
				slog.String("message_id", job.MessageID),
				slog.String("kind", string(job.Kind)),
				slog.Any("error", err))
		}
		// Done runs on a fresh context so shutdown still frees the dedup slot.
		doneCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := w.Queue.Done(doneCtx, job); err != nil {
			log.Warn("anchor queue release failed", slog.String("message_id", job.MessageID), slog.Any("error", err))
		}
		cancel()
	}
}
