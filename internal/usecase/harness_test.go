package usecase

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"pathledger/internal/config"
	"pathledger/internal/domain"
	"pathledger/internal/infra/anchor"
	"pathledger/internal/infra/anchor/ledgermem"
	"pathledger/internal/infra/crypto"
	"pathledger/internal/infra/db"
	"pathledger/internal/infra/queue"
)

var ingestTime = time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)

type harness struct {
	store    *db.Store
	ledger   *ledgermem.Ledger
	queue    domain.AnchorQueue
	ingest   *IngestGateway
	fanOut   *FanOut
	anchorUC *AnchorEvent
	verify   *VerifyEvents
	anchors  *anchor.Service
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	gdb, err := db.Open(config.DBDriverSQLite, filepath.Join(t.TempDir(), "usecase.sqlite"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	store := db.NewStoreFromDB(gdb)
	t.Cleanup(func() { _ = store.Close() })
	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	ctx := context.Background()
	if err := store.Registry.UpsertGateway(ctx, domain.Gateway{Key: "GW-01", Secret: "s3cret"}); err != nil {
		t.Fatalf("seed gateway: %v", err)
	}
	if err := store.Registry.UpsertTracker(ctx, domain.Tracker{Key: "dev-1"}); err != nil {
		t.Fatalf("seed tracker: %v", err)
	}

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	ledger := ledgermem.New()
	client, err := anchor.NewClient(ledger, store.AnchorReceipts)
	if err != nil {
		t.Fatalf("anchor client: %v", err)
	}
	anchors, err := anchor.NewService(client, ledger.Name(), store.AnchorAttempts, store.AnchorReceipts, anchor.ServiceOptions{Logger: log})
	if err != nil {
		t.Fatalf("anchor service: %v", err)
	}
	hasher := crypto.NewService()
	q := queue.NewMemoryQueue(64)
	clock := func() time.Time { return ingestTime }

	fanOut := &FanOut{
		Registry:      store.Registry,
		Events:        store.Events,
		Notifications: store.Notifications,
		Hasher:        hasher,
		Queue:         q,
		Logger:        log,
		Now:           clock,
	}
	return &harness{
		store:  store,
		ledger: ledger,
		queue:  q,
		ingest: &IngestGateway{
			Registry:      store.Registry,
			Events:        store.Events,
			Archive:       store.GatewayMessages,
			Notifications: store.Notifications,
			Hasher:        hasher,
			Signatures:    hasher,
			Queue:         q,
			FanOut:        fanOut,
			Logger:        log,
			Now:           clock,
		},
		fanOut: fanOut,
		anchorUC: &AnchorEvent{
			Events:   store.Events,
			Receipts: store.AnchorReceipts,
			Hasher:   hasher,
			Anchorer: anchors,
			Logger:   log,
		},
		verify: &VerifyEvents{
			Events:      store.Events,
			Ledger:      client,
			Hasher:      hasher,
			Concurrency: 4,
			ItemTimeout: 5 * time.Second,
			Logger:      log,
		},
		anchors: anchors,
	}
}

// drain runs every queued anchor job and returns the handler errors.
func (h *harness) drain(t *testing.T) []error {
	t.Helper()
	var errs []error
	for {
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		job, err := h.queue.Dequeue(ctx)
		cancel()
		if err != nil {
			return errs
		}
		if _, err := h.anchorUC.Execute(context.Background(), job); err != nil {
			errs = append(errs, err)
		}
		_ = h.queue.Done(context.Background(), job)
	}
}

func (h *harness) mustIngest(t *testing.T, raw string) *IngestGatewayResponse {
	t.Helper()
	resp, err := h.ingest.Execute(context.Background(), IngestGatewayRequest{Raw: []byte(raw)})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	return resp
}

func (h *harness) mustGet(t *testing.T, kind domain.EventKind, id string) *domain.Event {
	t.Helper()
	event, err := h.store.Events.Get(context.Background(), kind, id)
	if err != nil {
		t.Fatalf("get %s: %v", id, err)
	}
	return event
}

func decodeFields(t *testing.T, body string) map[string]any {
	t.Helper()
	dec := json.NewDecoder(bytes.NewReader([]byte(body)))
	dec.UseNumber()
	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		t.Fatalf("decode fields: %v", err)
	}
	return fields
}

// signedReading returns a reading carrying its own id and correct digest.
func signedReading(t *testing.T, id, body string) map[string]any {
	t.Helper()
	fields := decodeFields(t, body)
	digest, err := crypto.Digest(id, fields)
	if err != nil {
		t.Fatalf("digest: %v", err)
	}
	fields["messageId"] = id
	fields["dataHash"] = digest
	return fields
}

func gatewayMessage(t *testing.T, header map[string]any, payload any) string {
	t.Helper()
	raw, err := json.Marshal(map[string]any{"header": header, "payload": payload})
	if err != nil {
		t.Fatalf("marshal message: %v", err)
	}
	return string(raw)
}
