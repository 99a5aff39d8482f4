package domain

import "time"

type NotificationKind string

const (
	NotificationAlert NotificationKind = "alert"
	NotificationInfo  NotificationKind = "info"
)

type Notification struct {
	ID          string
	SubjectKind EventKind
	SubjectRef  string
	MessageID   string
	Kind        NotificationKind
	Message     string
	Timestamp   time.Time
	CreatedAt   time.Time
}
