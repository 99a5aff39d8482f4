package anchor

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"pathledger/internal/domain"
)

// LedgerError carries an attempt error code alongside the sentinel the
// caller branches on (ErrLedgerUnavailable, ErrLedgerRejected, ErrNotFound).
type LedgerError struct {
	Code   string
	Status int
	Err    error
	Detail string
}

func (e *LedgerError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%v: %s (status %d)", e.Err, e.Detail, e.Status)
	}
	if e.Detail != "" {
		return fmt.Sprintf("%v: %s", e.Err, e.Detail)
	}
	return e.Err.Error()
}

func (e *LedgerError) Unwrap() error {
	return e.Err
}

// Unavailable wraps a transport failure.
func Unavailable(ctx context.Context, err error) error {
	return &LedgerError{Code: errorToCode(ctx, err), Err: domain.ErrLedgerUnavailable, Detail: err.Error()}
}

// FromStatus classifies a non-2xx node response.
func FromStatus(status int, detail string) error {
	le := &LedgerError{Code: statusToErrorCode(status), Status: status, Detail: detail}
	switch {
	case status == http.StatusNotFound:
		le.Err = domain.ErrNotFound
	case status == http.StatusTooManyRequests || status >= 500:
		le.Err = domain.ErrLedgerUnavailable
	default:
		le.Err = domain.ErrLedgerRejected
	}
	return le
}

// ErrorCode returns the attempt error code for err.
func ErrorCode(ctx context.Context, err error) string {
	var le *LedgerError
	if errors.As(err, &le) && le.Code != "" {
		return le.Code
	}
	switch {
	case errors.Is(err, domain.ErrEncoding):
		return domain.AnchorErrorEncoding
	case errors.Is(err, domain.ErrLedgerRejected):
		return domain.AnchorErrorRejected
	}
	return errorToCode(ctx, err)
}

func statusToErrorCode(code int) string {
	if code == http.StatusTooManyRequests {
		return domain.AnchorErrorRateLimit
	}
	if code >= 500 {
		return domain.AnchorErrorLedger5xx
	}
	if code == http.StatusNotFound {
		return domain.AnchorErrorLedgerOther
	}
	return domain.AnchorErrorRejected
}

func errorToCode(ctx context.Context, err error) string {
	if errors.Is(err, context.DeadlineExceeded) || (ctx != nil && errors.Is(ctx.Err(), context.DeadlineExceeded)) {
		return domain.AnchorErrorTimeout
	}
	return domain.AnchorErrorNetwork
}
