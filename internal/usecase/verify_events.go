package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"pathledger/internal/domain"
)

const (
	defaultVerifyConcurrency = 8
	defaultVerifyItemTimeout = 15 * time.Second
)

type VerifyEventsRequest struct {
	MessageIDs []string
}

// VerifyEvents checks stored events against the ledger. It never writes.
type VerifyEvents struct {
	Events      EventRepository
	Ledger      domain.AnchorClient
	Hasher      Hasher
	Concurrency int
	ItemTimeout time.Duration
	Metrics     Metrics
	Logger      *slog.Logger
}

// Execute returns one result per requested id, in request order. Each id gets
// its own timeout, and the caller going away does not cancel lookups already
// under way.
func (uc *VerifyEvents) Execute(ctx context.Context, req VerifyEventsRequest) ([]domain.VerificationResult, error) {
	ctx, span := tracer.Start(ctx, "VerifyEvents")
	defer span.End()
	span.SetAttributes(attribute.Int("events.requested", len(req.MessageIDs)))

	results := make([]domain.VerificationResult, len(req.MessageIDs))
	limit := uc.Concurrency
	if limit <= 0 {
		limit = defaultVerifyConcurrency
	}
	detached := context.WithoutCancel(ctx)

	var g errgroup.Group
	g.SetLimit(limit)
	for i, id := range req.MessageIDs {
		i, id := i, id
		g.Go(func() error {
			results[i] = uc.verifyItem(detached, nil, id)
			return nil
		})
	}
	_ = g.Wait()
	return results, nil
}

// VerifyOne checks a single event of a known kind. Lookup and ledger failures
// are returned as errors; a completed check that fails is a result with
// Verified false.
func (uc *VerifyEvents) VerifyOne(ctx context.Context, kind domain.EventKind, messageID string) (domain.VerificationResult, error) {
	ctx, span := tracer.Start(ctx, "VerifyEvent")
	defer span.End()
	itemCtx, cancel := context.WithTimeout(ctx, uc.itemTimeout())
	defer cancel()
	return uc.verify(itemCtx, []domain.EventKind{kind}, messageID)
}

func (uc *VerifyEvents) verifyItem(ctx context.Context, kinds []domain.EventKind, messageID string) domain.VerificationResult {
	itemCtx, cancel := context.WithTimeout(ctx, uc.itemTimeout())
	defer cancel()
	result, err := uc.verify(itemCtx, kinds, messageID)
	if err != nil {
		result.Verified = false
		if errors.Is(err, domain.ErrNotFound) && result.Kind == nil {
			result.Error = domain.VerifyErrEventNotFound
		} else if errors.Is(err, domain.ErrNotFound) {
			result.Error = domain.VerifyErrLedgerNotFound
		} else {
			result.Error = err.Error()
		}
	}
	return result
}

func (uc *VerifyEvents) verify(ctx context.Context, kinds []domain.EventKind, messageID string) (domain.VerificationResult, error) {
	result := domain.VerificationResult{MessageID: messageID}
	if len(kinds) == 0 {
		kinds = domain.LookupOrder
	}

	event, err := uc.find(ctx, kinds, messageID)
	if err != nil {
		return result, err
	}
	kind := event.Kind
	result.Kind = &kind

	entry, err := uc.Ledger.Fetch(ctx, event.MessageID)
	if err != nil {
		uc.logger().Warn("ledger fetch failed", slog.String("message_id", messageID), slog.Any("error", err))
		return result, err
	}
	local, err := uc.Hasher.Digest(event.MessageID, event.Payload)
	if err != nil {
		return result, err
	}

	switch {
	case local != event.DataHash:
		result.Error = domain.VerifyErrStoredMismatch
	case entry.Digest != local:
		result.Error = domain.VerifyErrLedgerMismatch
	case entry.Tag != event.MessageID:
		result.Error = domain.VerifyErrTagMismatch
	default:
		result.Verified = true
	}
	if !result.Verified {
		uc.logger().Error("event failed verification",
			slog.String("message_id", messageID),
			slog.String("reason", result.Error))
	}
	if uc.Metrics != nil {
		uc.Metrics.ObserveVerification(result.Verified)
	}
	return result, nil
}

func (uc *VerifyEvents) find(ctx context.Context, kinds []domain.EventKind, messageID string) (*domain.Event, error) {
	for _, kind := range kinds {
		event, err := uc.Events.Get(ctx, kind, messageID)
		if err == nil {
			return event, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("load event: %w", err)
		}
	}
	return nil, fmt.Errorf("%w: event %s", domain.ErrNotFound, messageID)
}

func (uc *VerifyEvents) itemTimeout() time.Duration {
	if uc.ItemTimeout <= 0 {
		return defaultVerifyItemTimeout
	}
	return uc.ItemTimeout
}

func (uc *VerifyEvents) logger() *slog.Logger {
	if uc.Logger == nil {
		return slog.Default()
	}
	return uc.Logger
}
