package usecase

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"

	"pathledger/internal/domain"
)

var tracer = otel.Tracer("pathledger/usecase")

type Clock func() time.Time

type EventRepository interface {
	InsertIfAbsent(ctx context.Context, event domain.Event) (domain.Event, bool, error)
	Get(ctx context.Context, kind domain.EventKind, messageID string) (*domain.Event, error)
	ListBySubject(ctx context.Context, kind domain.EventKind, subjectRef string, from, to time.Time, limit int) ([]domain.Event, error)
	ClaimForAnchoring(ctx context.Context, messageID string, now time.Time, lease time.Duration) (bool, error)
	ReleaseAnchorClaim(ctx context.Context, messageID string) error
	SetLedgerRef(ctx context.Context, messageID, ledgerRef string) error
	ListUnanchored(ctx context.Context, olderThan time.Time, limit int) ([]domain.Event, error)
}

type RegistryRepository interface {
	GetGateway(ctx context.Context, key string) (*domain.Gateway, error)
	GetTracker(ctx context.Context, key string) (*domain.Tracker, error)
	ActiveAssignments(ctx context.Context, trackerKey string, at time.Time) ([]domain.ActiveAssignment, error)
}

type NotificationRepository interface {
	Create(ctx context.Context, n domain.Notification) (domain.Notification, error)
}

type GatewayMessageRepository interface {
	InsertIfAbsent(ctx context.Context, msg domain.ArchivedMessage) (bool, error)
}

type Hasher interface {
	Digest(messageID string, payload map[string]any) (string, error)
	LegacyDigest(fields map[string]any) (string, error)
}

type SignatureVerifier interface {
	VerifyGatewaySignature(payload []byte, sig *domain.Signature, secret string) error
}

type AdmissionPolicy interface {
	Evaluate(ctx context.Context, input domain.AdmissionInput) (domain.AdmissionDecision, error)
}

// Anchorer publishes one digest and records the attempt.
type Anchorer interface {
	Anchor(ctx context.Context, messageID, digest string) (domain.AnchorReceipt, error)
}

type ReceiptReader interface {
	GetByMessageID(ctx context.Context, messageID string) (*domain.AnchorReceipt, error)
}

type Metrics interface {
	ObserveIngest(messageType domain.MessageType, outcome string)
	ObserveEvent(kind domain.EventKind, status domain.HashStatus)
	ObserveVerification(verified bool)
}

const (
	IngestOutcomeAccepted = "accepted"
	IngestOutcomeRejected = "rejected"
	IngestOutcomeFailed   = "failed"
)
