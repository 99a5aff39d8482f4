package domain

// VerificationResult is the verdict for one requested message id. Kind is nil
// when no event with the id exists.
type VerificationResult struct {
	MessageID string     `json:"message_id"`
	Kind      *EventKind `json:"event_type"`
	Verified  bool       `json:"verified"`
	Error     string     `json:"error,omitempty"`
}

const (
	VerifyErrEventNotFound  = "Event not found"
	VerifyErrLedgerNotFound = "Ledger entry not found"
	VerifyErrStoredMismatch = "Stored hash does not match payload"
	VerifyErrLedgerMismatch = "Ledger digest does not match"
	VerifyErrTagMismatch    = "Ledger tag does not match message id"
)
