package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"pathledger/internal/domain"
)

type EventRepository struct {
	db *gorm.DB
}

func NewEventRepository(db *gorm.DB) *EventRepository {
	return &EventRepository{db: db}
}

// InsertIfAbsent stores the event unless one with the same message id, or a
// derived event for the same source and subject, already exists. When created
// is false the stored event is returned instead.
func (r *EventRepository) InsertIfAbsent(ctx context.Context, event domain.Event) (domain.Event, bool, error) {
	if r.db == nil {
		return domain.Event{}, false, errDBUnavailable
	}
	if event.MessageID == "" {
		return domain.Event{}, false, errors.New("message_id is required")
	}
	if event.Kind == "" || event.SubjectRef == "" {
		return domain.Event{}, false, errors.New("kind and subject_ref are required")
	}
	if event.DataHash == "" {
		return domain.Event{}, false, errors.New("data_hash is required")
	}
	model, err := eventToModel(event)
	if err != nil {
		return domain.Event{}, false, err
	}
	if model.CreatedAt.IsZero() {
		model.CreatedAt = time.Now().UTC()
	}

	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&model)
	if res.Error != nil {
		return domain.Event{}, false, res.Error
	}
	if res.RowsAffected == 1 {
		stored, err := eventFromModel(model)
		return stored, true, err
	}

	existing, err := r.findConflict(ctx, event)
	if err != nil {
		return domain.Event{}, false, err
	}
	if existing.Kind != event.Kind {
		return domain.Event{}, false, fmt.Errorf("%w: message id %s is a %s event", domain.ErrAlreadyExists, event.MessageID, existing.Kind)
	}
	return *existing, false, nil
}

func (r *EventRepository) findConflict(ctx context.Context, event domain.Event) (*domain.Event, error) {
	var model EventModel
	err := r.db.WithContext(ctx).Where("message_id = ?", event.MessageID).Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) && event.SourceEventID != "" {
		err = r.db.WithContext(ctx).
			Where("source_event_id = ? AND subject_ref = ?", event.SourceEventID, event.SubjectRef).
			Take(&model).Error
	}
	if err != nil {
		return nil, mapNotFound(err)
	}
	out, err := eventFromModel(model)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *EventRepository) Get(ctx context.Context, kind domain.EventKind, messageID string) (*domain.Event, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	var model EventModel
	if err := r.db.WithContext(ctx).
		Where("message_id = ? AND kind = ?", messageID, string(kind)).
		Take(&model).Error; err != nil {
		return nil, mapNotFound(err)
	}
	out, err := eventFromModel(model)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// ListBySubject returns a subject's events with from <= timestamp <= to,
// oldest first. Zero bounds are open.
func (r *EventRepository) ListBySubject(ctx context.Context, kind domain.EventKind, subjectRef string, from, to time.Time, limit int) ([]domain.Event, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	if subjectRef == "" {
		return nil, errors.New("subject_ref is required")
	}
	q := r.db.WithContext(ctx).Where("kind = ? AND subject_ref = ?", string(kind), subjectRef)
	if !from.IsZero() {
		q = q.Where("occurred_at >= ?", from.UTC())
	}
	if !to.IsZero() {
		q = q.Where("occurred_at <= ?", to.UTC())
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var models []EventModel
	if err := q.Order("occurred_at ASC").Order("message_id ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	return eventsFromModels(models)
}

func (r *EventRepository) ListDerived(ctx context.Context, sourceEventID string) ([]domain.Event, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	var models []EventModel
	if err := r.db.WithContext(ctx).
		Where("source_event_id = ?", sourceEventID).
		Order("subject_ref ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	return eventsFromModels(models)
}

// ClaimForAnchoring marks a verified, unanchored event as being published.
// It reports false when the event is already anchored or another worker holds
// an unexpired claim. The conditional update is the only synchronization.
func (r *EventRepository) ClaimForAnchoring(ctx context.Context, messageID string, now time.Time, lease time.Duration) (bool, error) {
	if r.db == nil {
		return false, errDBUnavailable
	}
	now = now.UTC()
	res := r.db.WithContext(ctx).Model(&EventModel{}).
		Where("message_id = ? AND ledger_ref IS NULL AND hash_status = ? AND (anchor_claimed_at IS NULL OR anchor_claimed_at < ?)",
			messageID, string(domain.HashStatusVerified), now.Add(-lease)).
		Update("anchor_claimed_at", now)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *EventRepository) ReleaseAnchorClaim(ctx context.Context, messageID string) error {
	if r.db == nil {
		return errDBUnavailable
	}
	return r.db.WithContext(ctx).Model(&EventModel{}).
		Where("message_id = ? AND ledger_ref IS NULL", messageID).
		Update("anchor_claimed_at", nil).Error
}

// SetLedgerRef records the ledger reference once. Setting the same reference
// again is a no-op; a different one is rejected.
func (r *EventRepository) SetLedgerRef(ctx context.Context, messageID, ledgerRef string) error {
	if r.db == nil {
		return errDBUnavailable
	}
	if ledgerRef == "" {
		return errors.New("ledger_ref is required")
	}
	res := r.db.WithContext(ctx).Model(&EventModel{}).
		Where("message_id = ? AND ledger_ref IS NULL", messageID).
		Updates(map[string]any{"ledger_ref": ledgerRef, "anchor_claimed_at": nil})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 1 {
		return nil
	}
	var model EventModel
	if err := r.db.WithContext(ctx).Where("message_id = ?", messageID).Take(&model).Error; err != nil {
		return mapNotFound(err)
	}
	if stringValue(model.LedgerRef) == ledgerRef {
		return nil
	}
	return fmt.Errorf("%w: event %s already anchored at %s", domain.ErrAlreadyExists, messageID, stringValue(model.LedgerRef))
}

// ListUnanchored returns verified events without a ledger reference created
// before olderThan, oldest first.
func (r *EventRepository) ListUnanchored(ctx context.Context, olderThan time.Time, limit int) ([]domain.Event, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	q := r.db.WithContext(ctx).
		Where("ledger_ref IS NULL AND hash_status = ? AND created_at < ?", string(domain.HashStatusVerified), olderThan.UTC()).
		Order("created_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var models []EventModel
	if err := q.Find(&models).Error; err != nil {
		return nil, err
	}
	return eventsFromModels(models)
}

func eventToModel(e domain.Event) (EventModel, error) {
	payload, err := encodePayload(e.Payload)
	if err != nil {
		return EventModel{}, err
	}
	return EventModel{
		MessageID:     e.MessageID,
		Kind:          string(e.Kind),
		SubjectRef:    e.SubjectRef,
		Timestamp:     e.Timestamp.UTC(),
		GatewayRef:    stringPtrIfNotEmpty(e.GatewayRef),
		SourceEventID: stringPtrIfNotEmpty(e.SourceEventID),
		EventType:     string(e.EventType),
		PayloadJSON:   payload,
		DataHash:      e.DataHash,
		ClaimedHash:   stringPtrIfNotEmpty(e.ClaimedHash),
		HashStatus:    string(e.HashStatus),
		LedgerRef:     stringPtrIfNotEmpty(e.LedgerRef),
		CreatedAt:     e.CreatedAt.UTC(),
	}, nil
}

func eventFromModel(m EventModel) (domain.Event, error) {
	payload, err := decodePayload(m.PayloadJSON)
	if err != nil {
		return domain.Event{}, fmt.Errorf("event %s: %w", m.MessageID, err)
	}
	return domain.Event{
		MessageID:     m.MessageID,
		Kind:          domain.EventKind(m.Kind),
		SubjectRef:    m.SubjectRef,
		GatewayRef:    stringValue(m.GatewayRef),
		SourceEventID: stringValue(m.SourceEventID),
		EventType:     domain.EventType(m.EventType),
		Payload:       payload,
		Timestamp:     m.Timestamp.UTC(),
		DataHash:      m.DataHash,
		ClaimedHash:   stringValue(m.ClaimedHash),
		HashStatus:    domain.HashStatus(m.HashStatus),
		LedgerRef:     stringValue(m.LedgerRef),
		CreatedAt:     m.CreatedAt.UTC(),
	}, nil
}

func eventsFromModels(models []EventModel) ([]domain.Event, error) {
	out := make([]domain.Event, 0, len(models))
	for _, m := range models {
		e, err := eventFromModel(m)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}
