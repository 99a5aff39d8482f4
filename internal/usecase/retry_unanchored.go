package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"pathledger/internal/domain"
)

// RetryUnanchored re-queues verified events that still have no ledger
// reference. Delivery is at least once; AnchorEvent makes repeats harmless.
type RetryUnanchored struct {
	Events EventRepository
	Queue  domain.AnchorQueue
	// MinAge leaves recent events to the jobs queued at ingest time.
	MinAge    time.Duration
	BatchSize int
	Logger    *slog.Logger
	Now       Clock
}

// Execute runs one sweep and returns how many jobs were queued.
func (uc *RetryUnanchored) Execute(ctx context.Context) (int, error) {
	now := time.Now().UTC()
	if uc.Now != nil {
		now = uc.Now().UTC()
	}
	limit := uc.BatchSize
	if limit <= 0 {
		limit = 100
	}
	events, err := uc.Events.ListUnanchored(ctx, now.Add(-uc.MinAge), limit)
	if err != nil {
		return 0, fmt.Errorf("list unanchored events: %w", err)
	}
	queued := 0
	for _, event := range events {
		job := domain.AnchorJob{MessageID: event.MessageID, Kind: event.Kind, EnqueuedAt: now}
		if err := uc.Queue.Enqueue(ctx, job); err != nil {
			return queued, fmt.Errorf("enqueue %s: %w", event.MessageID, err)
		}
		queued++
	}
	return queued, nil
}

// Run sweeps every interval until ctx is cancelled.
func (uc *RetryUnanchored) Run(ctx context.Context, interval time.Duration) {
	log := uc.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With(slog.String("component", "anchor_sweeper"))
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := uc.Execute(ctx)
			if err != nil {
				log.Warn("anchor sweep failed", slog.Int("queued", n), slog.Any("error", err))
				continue
			}
			if n > 0 {
				log.Info("unanchored events re-queued", slog.Int("queued", n))
			}
		}
	}
}
