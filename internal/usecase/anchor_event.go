package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"pathledger/internal/domain"
)

const defaultAnchorLease = 5 * time.Minute

type AnchorEventResponse struct {
	LedgerRef string
	// Published is set only when this call wrote to the ledger.
	Published bool
}

// AnchorEvent publishes one event's digest. It is the anchor queue's job
// handler and is safe to run for the same message id any number of times:
// an existing ledger_ref or receipt short-circuits, and the claim keeps two
// workers from publishing concurrently.
type AnchorEvent struct {
	Events   EventRepository
	Receipts ReceiptReader
	Hasher   Hasher
	Anchorer Anchorer
	// Lease bounds how long a claim blocks other workers after a crash.
	Lease  time.Duration
	Logger *slog.Logger
	Now    Clock
}

func (uc *AnchorEvent) Execute(ctx context.Context, job domain.AnchorJob) (*AnchorEventResponse, error) {
	ctx, span := tracer.Start(ctx, "AnchorEvent", trace.WithSpanKind(trace.SpanKindConsumer))
	defer span.End()
	span.SetAttributes(attribute.String("message.id", job.MessageID))

	log := uc.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With(slog.String("message_id", job.MessageID))

	event, err := uc.load(ctx, job)
	if err != nil {
		return nil, err
	}
	if event.Anchored() {
		return &AnchorEventResponse{LedgerRef: event.LedgerRef}, nil
	}
	if event.HashStatus != domain.HashStatusVerified {
		log.Debug("event not anchorable", slog.String("hash_status", string(event.HashStatus)))
		return &AnchorEventResponse{}, nil
	}

	if uc.Receipts != nil {
		receipt, err := uc.Receipts.GetByMessageID(ctx, event.MessageID)
		switch {
		case err == nil:
			// Published earlier but the reference was never stored.
			if err := uc.Events.SetLedgerRef(ctx, event.MessageID, receipt.LedgerRef); err != nil {
				return nil, fmt.Errorf("restore ledger ref: %w", err)
			}
			log.Info("ledger ref restored from receipt", slog.String("ledger_ref", receipt.LedgerRef))
			return &AnchorEventResponse{LedgerRef: receipt.LedgerRef}, nil
		case !errors.Is(err, domain.ErrNotFound):
			return nil, fmt.Errorf("load anchor receipt: %w", err)
		}
	}

	digest, err := uc.Hasher.Digest(event.MessageID, event.Payload)
	if err != nil {
		return nil, err
	}
	if digest != event.DataHash {
		log.Error("stored data hash does not match payload",
			slog.String("stored", event.DataHash), slog.String("computed", digest))
		return nil, fmt.Errorf("%w: stored data_hash for %s", domain.ErrHashMismatch, event.MessageID)
	}

	lease := uc.Lease
	if lease <= 0 {
		lease = defaultAnchorLease
	}
	claimed, err := uc.Events.ClaimForAnchoring(ctx, event.MessageID, uc.now(), lease)
	if err != nil {
		return nil, fmt.Errorf("claim event: %w", err)
	}
	if !claimed {
		log.Debug("event claimed elsewhere or already anchored")
		return &AnchorEventResponse{}, nil
	}

	receipt, err := uc.Anchorer.Anchor(ctx, event.MessageID, event.DataHash)
	if err != nil {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if relErr := uc.Events.ReleaseAnchorClaim(releaseCtx, event.MessageID); relErr != nil {
			log.Warn("anchor claim not released", slog.Any("error", relErr))
		}
		return nil, err
	}
	if err := uc.Events.SetLedgerRef(ctx, event.MessageID, receipt.LedgerRef); err != nil {
		// The receipt lets the next attempt restore the reference without
		// publishing again.
		log.Error("ledger ref not stored", slog.String("ledger_ref", receipt.LedgerRef), slog.Any("error", err))
		return nil, fmt.Errorf("store ledger ref: %w", err)
	}
	return &AnchorEventResponse{LedgerRef: receipt.LedgerRef, Published: true}, nil
}

func (uc *AnchorEvent) load(ctx context.Context, job domain.AnchorJob) (*domain.Event, error) {
	kinds := domain.LookupOrder
	if job.Kind != "" {
		kinds = []domain.EventKind{job.Kind}
	}
	for _, kind := range kinds {
		event, err := uc.Events.Get(ctx, kind, job.MessageID)
		if err == nil {
			return event, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w: event %s", domain.ErrNotFound, job.MessageID)
}

func (uc *AnchorEvent) now() time.Time {
	if uc.Now == nil {
		return time.Now().UTC()
	}
	return uc.Now().UTC()
}
