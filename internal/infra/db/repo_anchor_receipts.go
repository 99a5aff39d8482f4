package db

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"pathledger/internal/domain"
)

type AnchorReceiptRepository struct {
	db *gorm.DB
}

func NewAnchorReceiptRepository(db *gorm.DB) *AnchorReceiptRepository {
	return &AnchorReceiptRepository{db: db}
}

// AppendAnchored records a successful publish. A second receipt for the same
// message id is ignored.
func (r *AnchorReceiptRepository) AppendAnchored(ctx context.Context, receipt domain.AnchorReceipt) error {
	if r.db == nil {
		return errDBUnavailable
	}
	if receipt.MessageID == "" {
		return errors.New("message_id is required")
	}
	if receipt.Ledger == "" {
		return errors.New("ledger is required")
	}
	if receipt.TagHex == "" || receipt.LedgerRef == "" {
		return errors.New("tag_hex and ledger_ref are required")
	}

	model := AnchorReceiptModel{
		MessageID: receipt.MessageID,
		Ledger:    receipt.Ledger,
		Digest:    receipt.Digest,
		TagHex:    receipt.TagHex,
		LedgerRef: receipt.LedgerRef,
		CreatedAt: time.Now().UTC(),
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&model).Error
}

func (r *AnchorReceiptRepository) GetByMessageID(ctx context.Context, messageID string) (*domain.AnchorReceipt, error) {
	return r.getWhere(ctx, "message_id = ?", messageID)
}

func (r *AnchorReceiptRepository) GetByTagHex(ctx context.Context, tagHex string) (*domain.AnchorReceipt, error) {
	return r.getWhere(ctx, "tag_hex = ?", tagHex)
}

func (r *AnchorReceiptRepository) getWhere(ctx context.Context, query string, arg string) (*domain.AnchorReceipt, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	var model AnchorReceiptModel
	if err := r.db.WithContext(ctx).Where(query, arg).Take(&model).Error; err != nil {
		return nil, mapNotFound(err)
	}
	return &domain.AnchorReceipt{
		MessageID: model.MessageID,
		Ledger:    model.Ledger,
		Digest:    model.Digest,
		TagHex:    model.TagHex,
		LedgerRef: model.LedgerRef,
		CreatedAt: model.CreatedAt,
	}, nil
}
