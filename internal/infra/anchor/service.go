package anchor

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"pathledger/internal/domain"
)

// Observer receives one call per publish attempt.
type Observer interface {
	ObservePublish(ledger, status, errorCode string, elapsed time.Duration)
}

// Service publishes digests through an AnchorClient and keeps the attempt and
// receipt trail. It never retries; callers decide when to try again.
type Service struct {
	client   domain.AnchorClient
	ledger   string
	attempts domain.AnchorAttemptRepository
	receipts domain.AnchorReceiptRepository
	timeout  time.Duration
	limiter  *rate.Limiter
	observer Observer
	log      *slog.Logger
	now      func() time.Time
}

type ServiceOptions struct {
	Timeout time.Duration
	// PublishRPS paces publishes across all workers. Zero disables pacing.
	PublishRPS float64
	Observer   Observer
	Logger     *slog.Logger
}

func NewService(client domain.AnchorClient, ledgerName string, attempts domain.AnchorAttemptRepository, receipts domain.AnchorReceiptRepository, opts ServiceOptions) (*Service, error) {
	if client == nil {
		return nil, errors.New("anchor client is required")
	}
	if ledgerName == "" {
		return nil, errors.New("ledger name is required")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	s := &Service{
		client:   client,
		ledger:   ledgerName,
		attempts: attempts,
		receipts: receipts,
		timeout:  opts.Timeout,
		observer: opts.Observer,
		log:      opts.Logger.With(slog.String("component", "anchor")),
		now:      time.Now,
	}
	if opts.PublishRPS > 0 {
		burst := int(opts.PublishRPS)
		if burst < 1 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(opts.PublishRPS), burst)
	}
	return s, nil
}

// Anchor publishes digest under messageID. On success the receipt carries the
// ledger reference. Ledger failures wrap ErrLedgerUnavailable or
// ErrLedgerRejected.
func (s *Service) Anchor(ctx context.Context, messageID, digest string) (domain.AnchorReceipt, error) {
	payload, err := BuildPayload(messageID, digest)
	if err != nil {
		s.recordAttempt(ctx, messageID, digest, domain.AnchorStatusSkipped, domain.AnchorErrorEncoding, 0)
		return domain.AnchorReceipt{}, err
	}
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return domain.AnchorReceipt{}, err
		}
	}

	publishCtx, cancel := context.WithTimeout(ctx, s.timeout)
	started := s.now()
	ref, err := s.client.Publish(publishCtx, messageID, payload.Digest)
	elapsed := s.now().Sub(started)
	timedOut := errors.Is(publishCtx.Err(), context.DeadlineExceeded)
	cancel()

	if err != nil {
		code := ErrorCode(publishCtx, err)
		if timedOut {
			code = domain.AnchorErrorTimeout
		}
		s.recordAttempt(ctx, messageID, payload.Digest, domain.AnchorStatusFailed, code, elapsed)
		s.log.Warn("ledger publish failed",
			slog.String("message_id", messageID),
			slog.String("error_code", code),
			slog.Any("error", err))
		if timedOut && !errors.Is(err, domain.ErrLedgerUnavailable) {
			err = errors.Join(domain.ErrLedgerUnavailable, err)
		}
		return domain.AnchorReceipt{}, err
	}

	receipt := domain.AnchorReceipt{
		MessageID: messageID,
		Ledger:    s.ledger,
		Digest:    payload.Digest,
		TagHex:    payload.TagHex,
		LedgerRef: ref,
		CreatedAt: s.now().UTC(),
	}
	status, code := domain.AnchorStatusAnchored, ""
	if s.receipts != nil {
		if err := s.receipts.AppendAnchored(ctx, receipt); err != nil {
			code = domain.AnchorErrorPersistence
			s.log.Error("anchor receipt not recorded",
				slog.String("message_id", messageID),
				slog.String("ledger_ref", ref),
				slog.Any("error", err))
		}
	}
	s.recordAttempt(ctx, messageID, payload.Digest, status, code, elapsed)
	s.log.Info("digest anchored",
		slog.String("message_id", messageID),
		slog.String("ledger_ref", ref),
		slog.Duration("elapsed", elapsed))
	return receipt, nil
}

func (s *Service) recordAttempt(ctx context.Context, messageID, digest, status, code string, elapsed time.Duration) {
	if s.observer != nil {
		s.observer.ObservePublish(s.ledger, status, code, elapsed)
	}
	if s.attempts == nil {
		return
	}
	attempt := domain.AnchorAttempt{
		MessageID: messageID,
		Ledger:    s.ledger,
		Status:    status,
		ErrorCode: code,
		Digest:    digest,
		Duration:  elapsed,
	}
	if err := s.attempts.Append(ctx, attempt); err != nil {
		s.log.Error("anchor attempt not recorded", slog.String("message_id", messageID), slog.Any("error", err))
	}
}
