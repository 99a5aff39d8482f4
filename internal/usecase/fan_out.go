package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"pathledger/internal/domain"
)

// derivedNamespace seeds the name-based ids of derived product events.
var derivedNamespace = uuid.MustParse("6f1d3a52-8c1e-4f5b-9a7d-2b64c0e1f3a9")

// DerivedMessageID is the message id of the product event derived from
// sourceID for productKey. It is stable, so re-running fan-out never creates
// a second event for the same pair.
func DerivedMessageID(sourceID, productKey string) string {
	return uuid.NewSHA1(derivedNamespace, []byte(sourceID+"\x00"+productKey)).String()
}

// FanOut derives product events from a tracker event: one per product in
// every order the tracker was assigned to when the event happened, unless the
// order had already been delivered.
type FanOut struct {
	Registry      RegistryRepository
	Events        EventRepository
	Notifications NotificationRepository
	Hasher        Hasher
	Queue         domain.AnchorQueue
	Metrics       Metrics
	Logger        *slog.Logger
	Now           Clock
}

func (uc *FanOut) Execute(ctx context.Context, source domain.Event) ([]domain.Event, error) {
	if source.Kind != domain.EventKindTracker {
		return nil, nil
	}
	ctx, span := tracer.Start(ctx, "FanOut")
	defer span.End()

	log := uc.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With(slog.String("source_message_id", source.MessageID))

	assignments, err := uc.Registry.ActiveAssignments(ctx, source.SubjectRef, source.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("load tracker assignments: %w", err)
	}

	var derived []domain.Event
	var errs []error
	seen := make(map[string]struct{})
	for _, assignment := range assignments {
		for _, productKey := range assignment.ProductKeys {
			if _, dup := seen[productKey]; dup {
				continue
			}
			seen[productKey] = struct{}{}
			event, created, err := uc.derive(ctx, source, productKey)
			if err != nil {
				errs = append(errs, fmt.Errorf("product %s: %w", productKey, err))
				continue
			}
			derived = append(derived, event)
			if !created {
				continue
			}
			if uc.Metrics != nil {
				uc.Metrics.ObserveEvent(event.Kind, event.HashStatus)
			}
			if event.HashStatus == domain.HashStatusVerified {
				enqueueAnchor(ctx, uc.Queue, event, log)
				continue
			}
			log.Error("data hash mismatch for product event",
				slog.String("message_id", event.MessageID),
				slog.String("product", productKey))
			notify(ctx, uc.Notifications, event, "Payload hash mismatch for product event.", log)
		}
	}
	return derived, errors.Join(errs...)
}

func (uc *FanOut) derive(ctx context.Context, source domain.Event, productKey string) (domain.Event, bool, error) {
	messageID := DerivedMessageID(source.MessageID, productKey)
	digest, err := uc.Hasher.Digest(messageID, source.Payload)
	if err != nil {
		return domain.Event{}, false, err
	}
	now := time.Now().UTC()
	if uc.Now != nil {
		now = uc.Now().UTC()
	}
	return uc.Events.InsertIfAbsent(ctx, domain.Event{
		MessageID:     messageID,
		Kind:          domain.EventKindProduct,
		SubjectRef:    productKey,
		GatewayRef:    source.GatewayRef,
		SourceEventID: source.MessageID,
		EventType:     domain.EventTypeTelemetry,
		Payload:       source.Payload,
		Timestamp:     source.Timestamp,
		DataHash:      digest,
		HashStatus:    source.HashStatus,
		CreatedAt:     now,
	})
}
