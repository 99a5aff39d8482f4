package domain

import (
	"context"
	"time"
)

// Ledger is the distributed ledger collaborator. Tags and data travel hex
// encoded, exactly as the node stores them.
type Ledger interface {
	Name() string
	PublishTagged(ctx context.Context, tagHex, dataHex string) (ref string, err error)
	FetchTagged(ctx context.Context, refOrTag string) (tagHex, dataHex string, err error)
}

// AnchorClient publishes message digests under their message id and reads
// them back. Implementations perform no retries: network failures surface as
// ErrLedgerUnavailable and missing entries as ErrNotFound.
type AnchorClient interface {
	Publish(ctx context.Context, tag, digest string) (ref string, err error)
	Fetch(ctx context.Context, refOrTag string) (LedgerEntry, error)
}

type LedgerEntry struct {
	Ref    string
	Tag    string
	Digest string
}

type AnchorAttempt struct {
	MessageID string
	Ledger    string
	Status    string
	ErrorCode string
	Digest    string
	Duration  time.Duration
	CreatedAt time.Time
}

type AnchorReceipt struct {
	MessageID string
	Ledger    string
	Digest    string
	TagHex    string
	LedgerRef string
	CreatedAt time.Time
}

const (
	AnchorStatusAnchored = "anchored"
	AnchorStatusFailed   = "failed"
	AnchorStatusSkipped  = "skipped"
)

const (
	AnchorErrorNetwork     = "NETWORK"
	AnchorErrorRateLimit   = "RATE_LIMIT"
	AnchorErrorRejected    = "REJECTED"
	AnchorErrorLedger5xx   = "LEDGER_5XX"
	AnchorErrorPersistence = "PERSISTENCE"
	AnchorErrorTimeout     = "TIMEOUT"
	AnchorErrorEncoding    = "ENCODING"
	AnchorErrorLedgerOther = "LEDGER_ERROR"
)

type AnchorAttemptRepository interface {
	Append(ctx context.Context, attempt AnchorAttempt) error
	ListByMessageID(ctx context.Context, messageID string) ([]AnchorAttempt, error)
}

// AnchorReceiptRepository stores one receipt per message id. It doubles as
// the tag to ledger reference index.
type AnchorReceiptRepository interface {
	AppendAnchored(ctx context.Context, receipt AnchorReceipt) error
	GetByMessageID(ctx context.Context, messageID string) (*AnchorReceipt, error)
	GetByTagHex(ctx context.Context, tagHex string) (*AnchorReceipt, error)
}

// AnchorJob asks the anchor worker to publish one event's digest.
type AnchorJob struct {
	MessageID  string    `json:"message_id"`
	Kind       EventKind `json:"kind"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

type AnchorQueue interface {
	Enqueue(ctx context.Context, job AnchorJob) error
	// Dequeue blocks until a job is available or ctx is done.
	Dequeue(ctx context.Context) (AnchorJob, error)
	// Done releases the job's dedup slot so it can be queued again.
	Done(ctx context.Context, job AnchorJob) error
}
