package usecase

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"pathledger/internal/domain"
	"pathledger/internal/infra/crypto"
	"pathledger/internal/infra/db"
)

func anchoredHarness(t *testing.T) *harness {
	t.Helper()
	h := newHarness(t)
	h.mustIngest(t, exampleMessage(exampleDigest))
	if errs := h.drain(t); len(errs) != 0 {
		t.Fatalf("anchor errors: %v", errs)
	}
	return h
}

func TestVerifyEvents_Soundness(t *testing.T) {
	h := anchoredHarness(t)
	if err := h.store.DB.Model(&db.EventModel{}).
		Where("message_id = ?", "m1").
		Update("data_hash", "00"+exampleDigest[2:]).Error; err != nil {
		t.Fatalf("tamper: %v", err)
	}
	results, err := h.verify.Execute(context.Background(), VerifyEventsRequest{MessageIDs: []string{"m1"}})
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if results[0].Verified || results[0].Error != domain.VerifyErrStoredMismatch {
		t.Fatalf("expected stored mismatch, got %+v", results[0])
	}
}

func TestVerifyEvents_TamperedPayload(t *testing.T) {
	h := anchoredHarness(t)
	if err := h.store.DB.Model(&db.EventModel{}).
		Where("message_id = ?", "m1").
		Update("payload_json", `{"deviceId":"dev-1","timestamp":"2025-01-01T00:00:00","sensors":[{"id":"temp","value":"43"}]}`).Error; err != nil {
		t.Fatalf("tamper: %v", err)
	}
	results, _ := h.verify.Execute(context.Background(), VerifyEventsRequest{MessageIDs: []string{"m1"}})
	if results[0].Verified {
		t.Fatal("expected payload tampering to be detected")
	}
}

func TestVerifyEvents_LedgerMismatch(t *testing.T) {
	h := anchoredHarness(t)
	event := h.mustGet(t, domain.EventKindTracker, "m1")
	if !h.ledger.Tamper(event.LedgerRef, "0x"+crypto.SHA256Hex([]byte("other"))) {
		t.Fatal("expected block to exist")
	}
	result, err := h.verify.VerifyOne(context.Background(), domain.EventKindTracker, "m1")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if result.Verified || result.Error != domain.VerifyErrLedgerMismatch {
		t.Fatalf("expected ledger mismatch, got %+v", result)
	}
}

func TestVerifyEvents_MixedBatch(t *testing.T) {
	h := anchoredHarness(t)
	h.mustIngest(t, exampleMessage("ff"+exampleDigest[2:]))

	ids := []string{"missing", "m1"}
	results, err := h.verify.Execute(context.Background(), VerifyEventsRequest{MessageIDs: ids})
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected a result per id, got %d", len(results))
	}
	if results[0].MessageID != "missing" || results[0].Verified || results[0].Kind != nil || results[0].Error != domain.VerifyErrEventNotFound {
		t.Fatalf("unexpected result for missing id: %+v", results[0])
	}
	if results[1].MessageID != "m1" || !results[1].Verified {
		t.Fatalf("unexpected result for m1: %+v", results[1])
	}
}

func TestVerifyEvents_NotAnchoredYet(t *testing.T) {
	h := newHarness(t)
	h.mustIngest(t, exampleMessage(exampleDigest))
	results, _ := h.verify.Execute(context.Background(), VerifyEventsRequest{MessageIDs: []string{"m1"}})
	if results[0].Verified || results[0].Error != domain.VerifyErrLedgerNotFound {
		t.Fatalf("expected ledger not found, got %+v", results[0])
	}

	_, err := h.verify.VerifyOne(context.Background(), domain.EventKindTracker, "m1")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound from VerifyOne, got %v", err)
	}
}

type slowLedger struct {
	calls atomic.Int32
}

func (s *slowLedger) Publish(ctx context.Context, tag, digest string) (string, error) {
	return "", errors.New("read only")
}

func (s *slowLedger) Fetch(ctx context.Context, refOrTag string) (domain.LedgerEntry, error) {
	s.calls.Add(1)
	if refOrTag == "slow" {
		<-ctx.Done()
		return domain.LedgerEntry{}, errors.Join(domain.ErrLedgerUnavailable, ctx.Err())
	}
	return domain.LedgerEntry{}, domain.ErrNotFound
}

type staticEvents struct {
	EventRepository
	events map[string]domain.Event
}

func (s staticEvents) Get(ctx context.Context, kind domain.EventKind, messageID string) (*domain.Event, error) {
	event, ok := s.events[messageID]
	if !ok || event.Kind != kind {
		return nil, domain.ErrNotFound
	}
	return &event, nil
}

func TestVerifyEvents_PerItemTimeout(t *testing.T) {
	ledger := &slowLedger{}
	events := staticEvents{events: map[string]domain.Event{
		"slow": {MessageID: "slow", Kind: domain.EventKindTracker},
		"fast": {MessageID: "fast", Kind: domain.EventKindProduct},
	}}
	uc := &VerifyEvents{
		Events:      events,
		Ledger:      ledger,
		Hasher:      crypto.NewService(),
		ItemTimeout: 50 * time.Millisecond,
	}

	// The caller's context is already gone; items still run to their own timeout.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	started := time.Now()
	results, err := uc.Execute(ctx, VerifyEventsRequest{MessageIDs: []string{"slow", "fast"}})
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if time.Since(started) < 40*time.Millisecond {
		t.Fatal("expected slow item to wait for its own timeout")
	}
	if results[0].Verified || results[0].Error == "" || results[0].Kind == nil {
		t.Fatalf("unexpected slow result %+v", results[0])
	}
	if results[1].Error != domain.VerifyErrLedgerNotFound || *results[1].Kind != domain.EventKindProduct {
		t.Fatalf("unexpected fast result %+v", results[1])
	}
	if ledger.calls.Load() != 2 {
		t.Fatalf("expected both fetches issued, got %d", ledger.calls.Load())
	}
}
