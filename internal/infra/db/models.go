package db

import "time"

type EventModel struct {
	MessageID       string    `gorm:"primaryKey;size:128"`
	Kind            string    `gorm:"size:16;not null;index:idx_events_subject_time,priority:1"`
	SubjectRef      string    `gorm:"size:128;not null;index:idx_events_subject_time,priority:2;uniqueIndex:idx_events_source_subject,priority:2"`
	Timestamp       time.Time `gorm:"column:occurred_at;not null;index:idx_events_subject_time,priority:3"`
	GatewayRef      *string   `gorm:"size:128"`
	SourceEventID   *string   `gorm:"size:128;uniqueIndex:idx_events_source_subject,priority:1"`
	EventType       string    `gorm:"size:64;not null"`
	PayloadJSON     string    `gorm:"type:text;not null"`
	DataHash        string    `gorm:"size:64;not null"`
	ClaimedHash     *string   `gorm:"size:128"`
	HashStatus      string    `gorm:"size:32;not null;index"`
	LedgerRef       *string   `gorm:"size:128"`
	AnchorClaimedAt *time.Time
	CreatedAt       time.Time `gorm:"not null;index"`
}

func (EventModel) TableName() string {
	return "events"
}

type GatewayMessageModel struct {
	MessageID      string `gorm:"primaryKey;size:128"`
	GatewayKey     string `gorm:"size:128;not null;index"`
	MessageType    string `gorm:"size:32;not null"`
	SchemaVersion  string `gorm:"size:32;not null"`
	PayloadJSON    string `gorm:"type:text;not null"`
	SignatureAlg   *string
	SignatureKeyID *string
	SignatureValue *string
	Timestamp      *time.Time `gorm:"column:sent_at"`
	CreatedAt      time.Time  `gorm:"not null"`
}

func (GatewayMessageModel) TableName() string {
	return "gateway_messages"
}

type GatewayModel struct {
	Key                 string `gorm:"column:gateway_key;primaryKey;size:128"`
	Secret              *string
	AllowedMessageTypes string    `gorm:"size:256;not null;default:''"`
	CreatedAt           time.Time `gorm:"not null"`
}

func (GatewayModel) TableName() string {
	return "gateways"
}

type TrackerModel struct {
	Key       string    `gorm:"column:tracker_key;primaryKey;size:128"`
	CreatedAt time.Time `gorm:"not null"`
}

func (TrackerModel) TableName() string {
	return "trackers"
}

type ProductModel struct {
	Key       string    `gorm:"column:product_key;primaryKey;size:128"`
	Name      string    `gorm:"size:256;not null;default:''"`
	CreatedAt time.Time `gorm:"not null"`
}

func (ProductModel) TableName() string {
	return "products"
}

type ProductOrderModel struct {
	Number    string    `gorm:"primaryKey;size:128"`
	CreatedAt time.Time `gorm:"not null"`
}

func (ProductOrderModel) TableName() string {
	return "product_orders"
}

type ProductOrderItemModel struct {
	ID          int64  `gorm:"primaryKey"`
	OrderNumber string `gorm:"size:128;not null;uniqueIndex:idx_order_items_order_product,priority:1"`
	ProductKey  string `gorm:"size:128;not null;uniqueIndex:idx_order_items_order_product,priority:2"`
}

func (ProductOrderItemModel) TableName() string {
	return "product_order_items"
}

type ProductOrderTrackerModel struct {
	ID          int64     `gorm:"primaryKey"`
	OrderNumber string    `gorm:"size:128;not null;uniqueIndex:idx_order_trackers_order_tracker,priority:1"`
	TrackerKey  string    `gorm:"size:128;not null;index;uniqueIndex:idx_order_trackers_order_tracker,priority:2"`
	AssignedAt  time.Time `gorm:"not null"`
}

func (ProductOrderTrackerModel) TableName() string {
	return "product_order_trackers"
}

type ProductOrderStatusModel struct {
	ID          int64     `gorm:"primaryKey"`
	OrderNumber string    `gorm:"size:128;not null;uniqueIndex:idx_order_statuses_entry,priority:1"`
	Status      string    `gorm:"size:32;not null;uniqueIndex:idx_order_statuses_entry,priority:2"`
	Timestamp   time.Time `gorm:"column:status_at;not null;uniqueIndex:idx_order_statuses_entry,priority:3"`
}

func (ProductOrderStatusModel) TableName() string {
	return "product_order_statuses"
}

type NotificationModel struct {
	ID          string    `gorm:"primaryKey;size:36"`
	SubjectKind string    `gorm:"size:16;not null"`
	SubjectRef  string    `gorm:"size:128;not null;index"`
	MessageID   string    `gorm:"size:128;not null;index"`
	Kind        string    `gorm:"size:16;not null"`
	Message     string    `gorm:"type:text;not null"`
	Timestamp   time.Time `gorm:"column:event_time;not null"`
	CreatedAt   time.Time `gorm:"not null;index"`
}

func (NotificationModel) TableName() string {
	return "notifications"
}

type AnchorAttemptModel struct {
	ID         int64  `gorm:"primaryKey"`
	MessageID  string `gorm:"size:128;not null;index"`
	Ledger     string `gorm:"size:32;not null"`
	Status     string `gorm:"size:16;not null"`
	ErrorCode  *string
	Digest     string    `gorm:"size:64;not null"`
	DurationMS int64     `gorm:"not null"`
	CreatedAt  time.Time `gorm:"not null"`
}

func (AnchorAttemptModel) TableName() string {
	return "anchor_attempts"
}

type AnchorReceiptModel struct {
	MessageID string    `gorm:"primaryKey;size:128"`
	Ledger    string    `gorm:"size:32;not null"`
	Digest    string    `gorm:"size:64;not null"`
	TagHex    string    `gorm:"size:258;not null;uniqueIndex"`
	LedgerRef string    `gorm:"size:128;not null"`
	CreatedAt time.Time `gorm:"not null"`
}

func (AnchorReceiptModel) TableName() string {
	return "anchor_receipts"
}

// AllModels lists every table the store owns, in migration order.
func AllModels() []any {
	return []any{
		&GatewayModel{},
		&TrackerModel{},
		&ProductModel{},
		&ProductOrderModel{},
		&ProductOrderItemModel{},
		&ProductOrderTrackerModel{},
		&ProductOrderStatusModel{},
		&GatewayMessageModel{},
		&EventModel{},
		&NotificationModel{},
		&AnchorAttemptModel{},
		&AnchorReceiptModel{},
	}
}
