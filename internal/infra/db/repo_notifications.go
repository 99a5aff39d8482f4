package db

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"pathledger/internal/domain"
)

type NotificationRepository struct {
	db *gorm.DB
}

func NewNotificationRepository(db *gorm.DB) *NotificationRepository {
	return &NotificationRepository{db: db}
}

func (r *NotificationRepository) Create(ctx context.Context, n domain.Notification) (domain.Notification, error) {
	if r.db == nil {
		return domain.Notification{}, errDBUnavailable
	}
	if n.SubjectRef == "" || n.MessageID == "" {
		return domain.Notification{}, errors.New("subject_ref and message_id are required")
	}
	if n.ID == "" {
		n.ID = newUUID()
	}
	if n.Kind == "" {
		n.Kind = domain.NotificationAlert
	}
	n.CreatedAt = time.Now().UTC()
	model := NotificationModel{
		ID:          n.ID,
		SubjectKind: string(n.SubjectKind),
		SubjectRef:  n.SubjectRef,
		MessageID:   n.MessageID,
		Kind:        string(n.Kind),
		Message:     n.Message,
		Timestamp:   n.Timestamp.UTC(),
		CreatedAt:   n.CreatedAt,
	}
	if err := r.db.WithContext(ctx).Create(&model).Error; err != nil {
		return domain.Notification{}, err
	}
	return n, nil
}

// List returns notifications newest first, optionally filtered by subject.
func (r *NotificationRepository) List(ctx context.Context, subjectRef string, limit int) ([]domain.Notification, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	q := r.db.WithContext(ctx).Order("created_at DESC").Order("id ASC")
	if subjectRef != "" {
		q = q.Where("subject_ref = ?", subjectRef)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var models []NotificationModel
	if err := q.Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]domain.Notification, 0, len(models))
	for _, m := range models {
		out = append(out, domain.Notification{
			ID:          m.ID,
			SubjectKind: domain.EventKind(m.SubjectKind),
			SubjectRef:  m.SubjectRef,
			MessageID:   m.MessageID,
			Kind:        domain.NotificationKind(m.Kind),
			Message:     m.Message,
			Timestamp:   m.Timestamp.UTC(),
			CreatedAt:   m.CreatedAt.UTC(),
		})
	}
	return out, nil
}
