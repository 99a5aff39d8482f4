package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/Masterminds/semver/v3"

	"pathledger/internal/domain"
	"pathledger/internal/infra/crypto"
	"pathledger/internal/infra/policyopa"
)

const exampleDigest = "4d5029dae88de89c7d7cd804745156825df4de15dca8dcecdc71de8c347b7e15"

func exampleMessage(dataHash string) string {
	return `{"header":{"messageId":"m1","gatewayId":"GW-01","messageType":"telemetry"},` +
		`"payload":{"deviceId":"dev-1","timestamp":"2025-01-01T00:00:00","sensors":[{"id":"temp","value":42}],"dataHash":"` + dataHash + `"}}`
}

func TestIngestGateway_ExampleScenario(t *testing.T) {
	h := newHarness(t)
	resp := h.mustIngest(t, exampleMessage(exampleDigest))
	if len(resp.Events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(resp.Events))
	}
	event := h.mustGet(t, domain.EventKindTracker, "m1")
	if event.DataHash != exampleDigest || event.HashStatus != domain.HashStatusVerified {
		t.Fatalf("unexpected event %+v", event)
	}
	if event.Anchored() {
		t.Fatal("expected ledger ref to be filled asynchronously")
	}
	if _, ok := event.Payload["dataHash"]; ok {
		t.Fatal("expected claimed hash to be stripped from payload")
	}

	if errs := h.drain(t); len(errs) != 0 {
		t.Fatalf("anchor errors: %v", errs)
	}
	event = h.mustGet(t, domain.EventKindTracker, "m1")
	if !event.Anchored() {
		t.Fatal("expected ledger ref after anchoring")
	}

	results, err := h.verify.Execute(context.Background(), VerifyEventsRequest{MessageIDs: []string{"m1"}})
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if len(results) != 1 || !results[0].Verified || results[0].Kind == nil || *results[0].Kind != domain.EventKindTracker {
		t.Fatalf("unexpected results %+v", results)
	}
}

func TestIngestGateway_TamperedHashStillPersisted(t *testing.T) {
	h := newHarness(t)
	h.mustIngest(t, exampleMessage(strings.Repeat("0", 64)))

	event := h.mustGet(t, domain.EventKindTracker, "m1")
	if event.HashStatus != domain.HashStatusMismatch {
		t.Fatalf("expected mismatch, got %s", event.HashStatus)
	}
	notes, err := h.store.Notifications.List(context.Background(), "dev-1", 10)
	if err != nil {
		t.Fatalf("list notifications: %v", err)
	}
	if len(notes) != 1 || notes[0].Kind != domain.NotificationAlert || notes[0].MessageID != "m1" {
		t.Fatalf("expected one alert, got %+v", notes)
	}

	h.drain(t)
	if h.ledger.PublishCount() != 0 {
		t.Fatalf("expected no ledger publish, got %d", h.ledger.PublishCount())
	}
	results, _ := h.verify.Execute(context.Background(), VerifyEventsRequest{MessageIDs: []string{"m1"}})
	if results[0].Verified {
		t.Fatal("expected tampered event to fail verification")
	}
}

func TestIngestGateway_Idempotent(t *testing.T) {
	h := newHarness(t)
	raw := exampleMessage(exampleDigest)
	first := h.mustIngest(t, raw)
	second := h.mustIngest(t, raw)
	if first.Duplicate || !second.Duplicate {
		t.Fatalf("expected only second delivery flagged duplicate: %v %v", first.Duplicate, second.Duplicate)
	}
	h.drain(t)
	h.mustIngest(t, raw)
	h.drain(t)

	events, err := h.store.Events.ListBySubject(context.Background(), domain.EventKindTracker, "dev-1", ingestTime.AddDate(-1, 0, 0), ingestTime, 0)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected one record, got %d", len(events))
	}
	if h.ledger.PublishCount() != 1 {
		t.Fatalf("expected one publish, got %d", h.ledger.PublishCount())
	}
}

func TestIngestGateway_BatchPartialSuccess(t *testing.T) {
	h := newHarness(t)
	readings := []any{}
	for i := 1; i <= 4; i++ {
		body := fmt.Sprintf(`{"deviceId":"dev-1","timestamp":"2025-01-01T00:0%d:00","temperature":"2%d.5"}`, i, i)
		readings = append(readings, signedReading(t, fmt.Sprintf("b%d", i), body))
	}
	malformed := signedReading(t, "b5", `{"deviceId":"dev-1","timestamp":"2025-01-01T00:05:00"}`)
	delete(malformed, "deviceId")
	readings = append(readings[:2], append([]any{malformed}, readings[2:]...)...)

	raw := gatewayMessage(t,
		map[string]any{"messageId": "batch-1", "gatewayId": "GW-01", "messageType": "batch_telemetry"},
		map[string]any{"readings": readings})
	resp := h.mustIngest(t, raw)
	if len(resp.Events) != 4 || resp.Skipped != 1 {
		t.Fatalf("expected 4 events and 1 skip, got %d and %d", len(resp.Events), resp.Skipped)
	}
	for i := 1; i <= 4; i++ {
		h.mustGet(t, domain.EventKindTracker, fmt.Sprintf("b%d", i))
	}
	if _, err := h.store.Events.Get(context.Background(), domain.EventKindTracker, "b5"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected malformed reading not persisted, got %v", err)
	}
}

func TestIngestGateway_BatchReadingRequiresMessageID(t *testing.T) {
	h := newHarness(t)
	reading := signedReading(t, "x", `{"deviceId":"dev-1","timestamp":"2025-01-01T00:00:00"}`)
	delete(reading, "messageId")
	raw := gatewayMessage(t,
		map[string]any{"messageId": "batch-2", "gatewayId": "GW-01", "messageType": "batch_telemetry"},
		map[string]any{"readings": []any{reading}})
	resp := h.mustIngest(t, raw)
	if resp.Skipped != 1 || len(resp.Events) != 0 {
		t.Fatalf("expected reading skipped, got %+v", resp)
	}
}

func TestIngestGateway_LegacyDigest(t *testing.T) {
	h := newHarness(t)
	body := `{"deviceId":"dev-1","timestamp":"2025-05-29T13:27:32","uptime":"61",
		"location":{"latitude":"27.5001869","ns":"S","longitude":"153.0141296","ew":"E","altitude_m":"31.0"},
		"environment":{"temperature_c":"25.55","humidity_percent":"58.50","pressure_hpa":"102.1","gas_ppm":"14.00"},
		"acceleration":{"x_mps2":"0.038","y_mps2":"-0.268","z_mps2":"-9.690"}}`
	fields := decodeFields(t, body)
	legacy, err := crypto.LegacySnippetDigest(fields)
	if err != nil {
		t.Fatalf("legacy digest: %v", err)
	}
	fields["hash"] = legacy
	raw := gatewayMessage(t,
		map[string]any{"messageId": "legacy-1", "gatewayId": "GW-01", "messageType": "telemetry"},
		fields)
	h.mustIngest(t, raw)

	event := h.mustGet(t, domain.EventKindTracker, "legacy-1")
	if event.HashStatus != domain.HashStatusLegacy {
		t.Fatalf("expected legacy status, got %s", event.HashStatus)
	}
	h.drain(t)
	if h.ledger.PublishCount() != 0 {
		t.Fatal("expected legacy digests not to be anchored")
	}
	notes, _ := h.store.Notifications.List(context.Background(), "dev-1", 10)
	if len(notes) != 1 {
		t.Fatalf("expected one alert, got %d", len(notes))
	}
}

func TestIngestGateway_Rejections(t *testing.T) {
	tests := []struct {
		name  string
		setup func(h *harness)
		raw   string
		want  error
	}{
		{
			name: "unknown gateway",
			raw:  strings.Replace(exampleMessage(exampleDigest), "GW-01", "GW-99", 1),
			want: domain.ErrUnknownSource,
		},
		{
			name: "unknown tracker",
			raw:  strings.Replace(exampleMessage(exampleDigest), "dev-1", "dev-9", 1),
			want: domain.ErrUnknownSource,
		},
		{
			name: "bad timestamp",
			raw:  strings.Replace(exampleMessage(exampleDigest), "2025-01-01T00:00:00", "yesterday", 1),
			want: domain.ErrInvalidTimestamp,
		},
		{
			name: "unknown message type",
			raw:  strings.Replace(exampleMessage(exampleDigest), `"telemetry"`, `"selfie"`, 1),
			want: domain.ErrInvalidMessage,
		},
		{
			name: "missing header",
			raw:  `{"payload":{"deviceId":"dev-1"}}`,
			want: domain.ErrInvalidMessage,
		},
		{
			name: "unsupported schema",
			setup: func(h *harness) {
				h.ingest.SupportedSchema, _ = semver.NewConstraint(">= 1.0.0, < 2.0.0")
			},
			raw:  strings.Replace(exampleMessage(exampleDigest), `"messageType"`, `"schemaVersion":"2.1.0","messageType"`, 1),
			want: domain.ErrUnsupportedSchema,
		},
		{
			name: "signature required",
			setup: func(h *harness) {
				h.ingest.VerifySignatures = true
			},
			raw:  exampleMessage(exampleDigest),
			want: domain.ErrSignatureInvalid,
		},
		{
			name: "policy denies type",
			setup: func(h *harness) {
				_ = h.store.Registry.UpsertGateway(context.Background(), domain.Gateway{
					Key:                 "GW-01",
					AllowedMessageTypes: []domain.MessageType{domain.MessageTypeHeartbeat},
				})
				engine, err := policyopa.NewDefaultEngine(context.Background())
				if err != nil {
					panic(err)
				}
				h.ingest.Policy = engine
			},
			raw:  exampleMessage(exampleDigest),
			want: domain.ErrPolicyDenied,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			if tt.setup != nil {
				tt.setup(h)
			}
			_, err := h.ingest.Execute(context.Background(), IngestGatewayRequest{Raw: []byte(tt.raw)})
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
			if !IsInputError(err) {
				t.Fatalf("expected input error, got %v", err)
			}
			if _, err := h.store.Events.Get(context.Background(), domain.EventKindTracker, "m1"); !errors.Is(err, domain.ErrNotFound) {
				t.Fatalf("expected nothing persisted, got %v", err)
			}
			if _, err := h.store.GatewayMessages.Get(context.Background(), "m1"); !errors.Is(err, domain.ErrNotFound) {
				t.Fatalf("expected rejected message not archived, got %v", err)
			}
		})
	}
}

func TestIngestGateway_RedeliveryCompletesFanOut(t *testing.T) {
	h := newHarness(t)
	seedOrder(t, h, "PO-1", []string{"P1", "P2"}, ingestTime.AddDate(0, 0, -7))

	// First delivery stops after the tracker event is stored.
	fanOut := h.ingest.FanOut
	h.ingest.FanOut = nil
	h.mustIngest(t, exampleMessage(exampleDigest))
	derived, err := h.store.Events.ListDerived(context.Background(), "m1")
	if err != nil {
		t.Fatalf("list derived: %v", err)
	}
	if len(derived) != 0 {
		t.Fatalf("expected no derived events yet, got %d", len(derived))
	}

	h.ingest.FanOut = fanOut
	resp := h.mustIngest(t, exampleMessage(exampleDigest))
	if !resp.Duplicate {
		t.Fatal("expected redelivery flagged duplicate")
	}
	derived, err = h.store.Events.ListDerived(context.Background(), "m1")
	if err != nil {
		t.Fatalf("list derived: %v", err)
	}
	if len(derived) != 2 || derived[0].SubjectRef != "P1" || derived[1].SubjectRef != "P2" {
		t.Fatalf("expected redelivery to finish fan-out, got %+v", derived)
	}

	h.mustIngest(t, exampleMessage(exampleDigest))
	derived, _ = h.store.Events.ListDerived(context.Background(), "m1")
	if len(derived) != 2 {
		t.Fatalf("expected fan-out to stay idempotent, got %d", len(derived))
	}
	if errs := h.drain(t); len(errs) != 0 {
		t.Fatalf("anchor errors: %v", errs)
	}
	if h.ledger.PublishCount() != 3 {
		t.Fatalf("expected tracker and two product publishes, got %d", h.ledger.PublishCount())
	}
}

func TestIngestGateway_SignedMessage(t *testing.T) {
	h := newHarness(t)
	h.ingest.VerifySignatures = true
	payload := signedReading(t, "m1", `{"deviceId":"dev-1","timestamp":"2025-01-01T00:00:00"}`)
	raw := gatewayMessage(t, map[string]any{"messageId": "m1", "gatewayId": "GW-01", "messageType": "telemetry"}, payload)
	msg, err := domain.ParseGatewayMessage([]byte(raw))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	value, err := crypto.SignPayload("s3cret", msg.RawPayload)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	signed := strings.TrimSuffix(raw, "}") +
		`,"signature":{"alg":"hmac-sha256","keyId":"GW-01","value":"` + value + `"}}`
	h.mustIngest(t, signed)
	h.mustGet(t, domain.EventKindTracker, "m1")
}

func TestIngestGateway_HeartbeatArchivedOnly(t *testing.T) {
	h := newHarness(t)
	raw := gatewayMessage(t,
		map[string]any{"messageId": "hb-1", "gatewayId": "GW-01", "messageType": "heartbeat", "timestamp": "2025-01-01T00:00:00Z"},
		map[string]any{"deviceId": "dev-1", "uptime": 61, "firmwareVersion": "1.4.2"})
	resp := h.mustIngest(t, raw)
	if len(resp.Events) != 0 {
		t.Fatalf("expected no events, got %d", len(resp.Events))
	}
	archived, err := h.store.GatewayMessages.Get(context.Background(), "hb-1")
	if err != nil {
		t.Fatalf("get archived: %v", err)
	}
	if archived.MessageType != domain.MessageTypeHeartbeat || archived.Timestamp == nil {
		t.Fatalf("unexpected archive %+v", archived)
	}
}
