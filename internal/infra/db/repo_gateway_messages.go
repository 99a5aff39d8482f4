package db

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"pathledger/internal/domain"
)

type GatewayMessageRepository struct {
	db *gorm.DB
}

func NewGatewayMessageRepository(db *gorm.DB) *GatewayMessageRepository {
	return &GatewayMessageRepository{db: db}
}

// InsertIfAbsent archives a raw message once per message id.
func (r *GatewayMessageRepository) InsertIfAbsent(ctx context.Context, msg domain.ArchivedMessage) (bool, error) {
	if r.db == nil {
		return false, errDBUnavailable
	}
	if msg.MessageID == "" || msg.GatewayKey == "" {
		return false, errors.New("message_id and gateway_key are required")
	}
	payload := string(msg.Payload)
	if payload == "" {
		payload = "null"
	}
	model := GatewayMessageModel{
		MessageID:     msg.MessageID,
		GatewayKey:    msg.GatewayKey,
		MessageType:   string(msg.MessageType),
		SchemaVersion: msg.SchemaVersion,
		PayloadJSON:   payload,
		CreatedAt:     time.Now().UTC(),
	}
	if msg.Signature != nil {
		model.SignatureAlg = stringPtrIfNotEmpty(msg.Signature.Alg)
		model.SignatureKeyID = stringPtrIfNotEmpty(msg.Signature.KeyID)
		model.SignatureValue = stringPtrIfNotEmpty(msg.Signature.Value)
	}
	if msg.Timestamp != nil {
		model.Timestamp = timePtr(*msg.Timestamp)
	}
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&model)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *GatewayMessageRepository) Get(ctx context.Context, messageID string) (*domain.ArchivedMessage, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	var m GatewayMessageModel
	if err := r.db.WithContext(ctx).Where("message_id = ?", messageID).Take(&m).Error; err != nil {
		return nil, mapNotFound(err)
	}
	out := domain.ArchivedMessage{
		MessageID:     m.MessageID,
		GatewayKey:    m.GatewayKey,
		MessageType:   domain.MessageType(m.MessageType),
		SchemaVersion: m.SchemaVersion,
		Payload:       []byte(m.PayloadJSON),
		Timestamp:     m.Timestamp,
		CreatedAt:     m.CreatedAt,
	}
	if m.SignatureAlg != nil || m.SignatureKeyID != nil || m.SignatureValue != nil {
		out.Signature = &domain.Signature{
			Alg:   stringValue(m.SignatureAlg),
			KeyID: stringValue(m.SignatureKeyID),
			Value: stringValue(m.SignatureValue),
		}
	}
	return &out, nil
}
