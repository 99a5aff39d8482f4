package db

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"pathledger/internal/domain"
)

type RegistryRepository struct {
	db *gorm.DB
}

func NewRegistryRepository(db *gorm.DB) *RegistryRepository {
	return &RegistryRepository{db: db}
}

func (r *RegistryRepository) UpsertGateway(ctx context.Context, gw domain.Gateway) error {
	if r.db == nil {
		return errDBUnavailable
	}
	if gw.Key == "" {
		return errors.New("gateway key is required")
	}
	types := make([]string, 0, len(gw.AllowedMessageTypes))
	for _, t := range gw.AllowedMessageTypes {
		types = append(types, string(t))
	}
	model := GatewayModel{
		Key:                 gw.Key,
		Secret:              stringPtrIfNotEmpty(gw.Secret),
		AllowedMessageTypes: strings.Join(types, ","),
		CreatedAt:           time.Now().UTC(),
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "gateway_key"}},
			DoUpdates: clause.AssignmentColumns([]string{"secret", "allowed_message_types"}),
		}).
		Create(&model).Error
}

func (r *RegistryRepository) GetGateway(ctx context.Context, key string) (*domain.Gateway, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	var model GatewayModel
	if err := r.db.WithContext(ctx).Where("gateway_key = ?", key).Take(&model).Error; err != nil {
		return nil, mapNotFound(err)
	}
	gw := domain.Gateway{
		Key:       model.Key,
		Secret:    stringValue(model.Secret),
		CreatedAt: model.CreatedAt,
	}
	for _, t := range strings.Split(model.AllowedMessageTypes, ",") {
		if t = strings.TrimSpace(t); t != "" {
			gw.AllowedMessageTypes = append(gw.AllowedMessageTypes, domain.MessageType(t))
		}
	}
	return &gw, nil
}

func (r *RegistryRepository) UpsertTracker(ctx context.Context, tracker domain.Tracker) error {
	if r.db == nil {
		return errDBUnavailable
	}
	if tracker.Key == "" {
		return errors.New("tracker key is required")
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&TrackerModel{Key: tracker.Key, CreatedAt: time.Now().UTC()}).Error
}

func (r *RegistryRepository) GetTracker(ctx context.Context, key string) (*domain.Tracker, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	var model TrackerModel
	if err := r.db.WithContext(ctx).Where("tracker_key = ?", key).Take(&model).Error; err != nil {
		return nil, mapNotFound(err)
	}
	return &domain.Tracker{Key: model.Key, CreatedAt: model.CreatedAt}, nil
}

func (r *RegistryRepository) UpsertProduct(ctx context.Context, product domain.Product) error {
	if r.db == nil {
		return errDBUnavailable
	}
	if product.Key == "" {
		return errors.New("product key is required")
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "product_key"}},
			DoUpdates: clause.AssignmentColumns([]string{"name"}),
		}).
		Create(&ProductModel{Key: product.Key, Name: product.Name, CreatedAt: time.Now().UTC()}).Error
}

// UpsertOrder creates the order if needed and adds any missing items.
func (r *RegistryRepository) UpsertOrder(ctx context.Context, order domain.ProductOrder) error {
	if r.db == nil {
		return errDBUnavailable
	}
	if order.Number == "" {
		return errors.New("order number is required")
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).
			Create(&ProductOrderModel{Number: order.Number, CreatedAt: time.Now().UTC()}).Error; err != nil {
			return err
		}
		for _, key := range order.ProductKeys {
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).
				Create(&ProductOrderItemModel{OrderNumber: order.Number, ProductKey: key}).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *RegistryRepository) AssignTracker(ctx context.Context, a domain.TrackerAssignment) error {
	if r.db == nil {
		return errDBUnavailable
	}
	if a.OrderNumber == "" || a.TrackerKey == "" {
		return errors.New("order number and tracker key are required")
	}
	if a.AssignedAt.IsZero() {
		a.AssignedAt = time.Now()
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "order_number"}, {Name: "tracker_key"}},
			DoUpdates: clause.AssignmentColumns([]string{"assigned_at"}),
		}).
		Create(&ProductOrderTrackerModel{
			OrderNumber: a.OrderNumber,
			TrackerKey:  a.TrackerKey,
			AssignedAt:  a.AssignedAt.UTC(),
		}).Error
}

func (r *RegistryRepository) RecordOrderStatus(ctx context.Context, status domain.OrderStatus) error {
	if r.db == nil {
		return errDBUnavailable
	}
	if status.OrderNumber == "" || status.Status == "" {
		return errors.New("order number and status are required")
	}
	if status.Timestamp.IsZero() {
		status.Timestamp = time.Now()
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&ProductOrderStatusModel{
		OrderNumber: status.OrderNumber,
		Status:      string(status.Status),
		Timestamp:   status.Timestamp.UTC(),
	}).Error
}

// ActiveAssignments returns the orders the tracker was attached to at the
// given instant: assigned at or before it, and not past the order's latest
// delivered status.
func (r *RegistryRepository) ActiveAssignments(ctx context.Context, trackerKey string, at time.Time) ([]domain.ActiveAssignment, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	at = at.UTC()
	var links []ProductOrderTrackerModel
	if err := r.db.WithContext(ctx).
		Where("tracker_key = ? AND assigned_at <= ?", trackerKey, at).
		Order("order_number ASC").
		Find(&links).Error; err != nil {
		return nil, err
	}

	out := make([]domain.ActiveAssignment, 0, len(links))
	for _, link := range links {
		var delivered []ProductOrderStatusModel
		if err := r.db.WithContext(ctx).
			Where("order_number = ? AND status = ?", link.OrderNumber, string(domain.OrderStatusDelivered)).
			Order("status_at DESC").
			Limit(1).
			Find(&delivered).Error; err != nil {
			return nil, err
		}
		// Only the latest delivery closes the window.
		if len(delivered) > 0 && at.After(delivered[0].Timestamp.UTC()) {
			continue
		}
		var items []ProductOrderItemModel
		if err := r.db.WithContext(ctx).
			Where("order_number = ?", link.OrderNumber).
			Find(&items).Error; err != nil {
			return nil, err
		}
		keys := make([]string, 0, len(items))
		for _, item := range items {
			keys = append(keys, item.ProductKey)
		}
		sort.Strings(keys)
		out = append(out, domain.ActiveAssignment{
			OrderNumber: link.OrderNumber,
			TrackerKey:  link.TrackerKey,
			AssignedAt:  link.AssignedAt.UTC(),
			ProductKeys: keys,
		})
	}
	return out, nil
}
