package domain

import "errors"

var (
	ErrUnauthorized      = errors.New("unauthorized")
	ErrInvalidMessage    = errors.New("invalid message")
	ErrUnsupportedSchema = errors.New("unsupported schema version")
	ErrUnknownSource     = errors.New("unknown source")
	ErrInvalidTimestamp  = errors.New("invalid timestamp")
	ErrSignatureInvalid  = errors.New("signature invalid")
	ErrPolicyDenied      = errors.New("policy denied")
	ErrEncoding          = errors.New("encoding error")
	ErrHashMismatch      = errors.New("hash mismatch")
	ErrLedgerUnavailable = errors.New("ledger unavailable")
	ErrLedgerRejected    = errors.New("ledger rejected request")
	ErrNotFound          = errors.New("not found")
	ErrAlreadyExists     = errors.New("already exists")
)
