package db

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"pathledger/internal/domain"
)

type AnchorAttemptRepository struct {
	db *gorm.DB
}

func NewAnchorAttemptRepository(db *gorm.DB) *AnchorAttemptRepository {
	return &AnchorAttemptRepository{db: db}
}

func (r *AnchorAttemptRepository) Append(ctx context.Context, attempt domain.AnchorAttempt) error {
	if r.db == nil {
		return errDBUnavailable
	}
	if attempt.MessageID == "" {
		return errors.New("message_id is required")
	}
	if attempt.Ledger == "" {
		return errors.New("ledger is required")
	}
	if attempt.Status == "" {
		return errors.New("status is required")
	}

	model := AnchorAttemptModel{
		MessageID:  attempt.MessageID,
		Ledger:     attempt.Ledger,
		Status:     attempt.Status,
		ErrorCode:  stringPtrIfNotEmpty(attempt.ErrorCode),
		Digest:     attempt.Digest,
		DurationMS: attempt.Duration.Milliseconds(),
		CreatedAt:  time.Now().UTC(),
	}
	return r.db.WithContext(ctx).Create(&model).Error
}

func (r *AnchorAttemptRepository) ListByMessageID(ctx context.Context, messageID string) ([]domain.AnchorAttempt, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	if messageID == "" {
		return nil, errors.New("message_id is required")
	}
	var models []AnchorAttemptModel
	if err := r.db.WithContext(ctx).
		Where("message_id = ?", messageID).
		Order("created_at ASC").
		Order("id ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]domain.AnchorAttempt, 0, len(models))
	for _, model := range models {
		out = append(out, domain.AnchorAttempt{
			MessageID: model.MessageID,
			Ledger:    model.Ledger,
			Status:    model.Status,
			ErrorCode: stringValue(model.ErrorCode),
			Digest:    model.Digest,
			Duration:  time.Duration(model.DurationMS) * time.Millisecond,
			CreatedAt: model.CreatedAt,
		})
	}
	return out, nil
}
