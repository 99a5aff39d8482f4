package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"pathledger/internal/domain"
)

type IngestGatewayRequest struct {
	Raw []byte
}

type IngestGatewayResponse struct {
	MessageID   string
	MessageType domain.MessageType
	// Duplicate is set when the raw message had been archived before.
	Duplicate bool
	Events    []domain.Event
	Skipped   int
}

// IngestGateway validates one gateway message and records the tracker events
// it carries. Anchoring is handed to the queue; the caller never waits on the
// ledger.
type IngestGateway struct {
	Registry      RegistryRepository
	Events        EventRepository
	Archive       GatewayMessageRepository
	Notifications NotificationRepository
	Hasher        Hasher
	Signatures    SignatureVerifier
	Policy        AdmissionPolicy
	Queue         domain.AnchorQueue
	FanOut        *FanOut
	Metrics       Metrics
	Logger        *slog.Logger
	Now           Clock

	// SupportedSchema gates header.schemaVersion. Nil accepts any valid version.
	SupportedSchema  *semver.Constraints
	VerifySignatures bool
}

func (uc *IngestGateway) Execute(ctx context.Context, req IngestGatewayRequest) (*IngestGatewayResponse, error) {
	ctx, span := tracer.Start(ctx, "IngestGateway")
	defer span.End()

	resp, err := uc.execute(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	if resp != nil {
		span.SetAttributes(
			attribute.String("message.id", resp.MessageID),
			attribute.String("message.type", string(resp.MessageType)),
			attribute.Int("events.recorded", len(resp.Events)),
			attribute.Int("readings.skipped", resp.Skipped),
		)
	}
	return resp, err
}

func (uc *IngestGateway) execute(ctx context.Context, req IngestGatewayRequest) (*IngestGatewayResponse, error) {
	log := uc.logger()
	msg, err := domain.ParseGatewayMessage(req.Raw)
	if err != nil {
		uc.observeIngest("", IngestOutcomeRejected)
		return nil, err
	}
	header := msg.Header
	resp := &IngestGatewayResponse{MessageID: header.MessageID, MessageType: header.MessageType}
	log = log.With(slog.String("message_id", header.MessageID), slog.String("gateway", header.GatewayID))

	gw, headerTime, err := uc.admit(ctx, msg)
	if err != nil {
		uc.observeIngest(header.MessageType, outcomeFor(err))
		log.Warn("gateway message rejected", slog.Any("error", err))
		return resp, err
	}

	// A single reading decides the outcome of the whole message, so it is
	// checked before anything is stored.
	var single domain.Event
	if header.MessageType == domain.MessageTypeTelemetry {
		single, err = uc.prepareReading(ctx, gw, header, msg.Telemetry)
		if err != nil {
			uc.observeIngest(header.MessageType, outcomeFor(err))
			log.Warn("gateway message rejected", slog.Any("error", err))
			return resp, err
		}
	}

	created, err := uc.Archive.InsertIfAbsent(ctx, domain.ArchivedMessage{
		MessageID:     header.MessageID,
		GatewayKey:    gw.Key,
		MessageType:   header.MessageType,
		SchemaVersion: header.SchemaVersion,
		Payload:       msg.RawPayload,
		Signature:     msg.Signature,
		Timestamp:     headerTime,
		CreatedAt:     uc.now(),
	})
	if err != nil {
		uc.observeIngest(header.MessageType, IngestOutcomeFailed)
		return resp, fmt.Errorf("archive gateway message: %w", err)
	}
	// A redelivered message is processed again; event inserts are idempotent
	// and this finishes work a crashed first delivery may have left undone.
	resp.Duplicate = !created

	switch header.MessageType {
	case domain.MessageTypeTelemetry:
		event, err := uc.recordReading(ctx, single)
		if err != nil {
			uc.observeIngest(header.MessageType, outcomeFor(err))
			return resp, err
		}
		resp.Events = append(resp.Events, event)
	case domain.MessageTypeBatchTelemetry:
		for i, raw := range msg.Readings {
			event, err := uc.ingestBatchReading(ctx, gw, header, raw)
			if err != nil {
				if !IsInputError(err) {
					uc.observeIngest(header.MessageType, IngestOutcomeFailed)
					return resp, err
				}
				resp.Skipped++
				log.Error("skipping batch reading", slog.Int("index", i), slog.Any("error", err))
				continue
			}
			resp.Events = append(resp.Events, event)
		}
	case domain.MessageTypeEvent:
		log.Info("gateway event received",
			slog.String("device_id", msg.Event.DeviceID),
			slog.String("event_type", msg.Event.EventType))
	case domain.MessageTypeHeartbeat:
		log.Info("gateway heartbeat received",
			slog.String("device_id", msg.Heartbeat.DeviceID),
			slog.String("firmware", msg.Heartbeat.FirmwareVersion))
	}

	uc.observeIngest(header.MessageType, IngestOutcomeAccepted)
	return resp, nil
}

// admit runs the checks that apply to the message as a whole: schema
// version, source, signature and admission policy.
func (uc *IngestGateway) admit(ctx context.Context, msg *domain.GatewayMessage) (*domain.Gateway, *time.Time, error) {
	header := msg.Header
	version, err := semver.NewVersion(header.SchemaVersion)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %q", domain.ErrUnsupportedSchema, header.SchemaVersion)
	}
	if uc.SupportedSchema != nil && !uc.SupportedSchema.Check(version) {
		return nil, nil, fmt.Errorf("%w: %s", domain.ErrUnsupportedSchema, version)
	}

	gw, err := uc.Registry.GetGateway(ctx, header.GatewayID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, nil, fmt.Errorf("%w: gateway %q", domain.ErrUnknownSource, header.GatewayID)
		}
		return nil, nil, err
	}

	if uc.VerifySignatures {
		if msg.Signature == nil {
			return nil, nil, fmt.Errorf("%w: signature is required", domain.ErrSignatureInvalid)
		}
		if err := uc.Signatures.VerifyGatewaySignature(msg.RawPayload, msg.Signature, gw.Secret); err != nil {
			return nil, nil, err
		}
	}

	if err := uc.checkPolicy(ctx, msg, gw); err != nil {
		return nil, nil, err
	}

	var headerTime *time.Time
	if raw := domain.PickTimestamp(header.Timestamp, header.Time); raw != "" {
		ts, err := domain.ParseTimestamp(raw)
		if err != nil {
			return nil, nil, err
		}
		headerTime = &ts
	}
	return gw, headerTime, nil
}

func (uc *IngestGateway) checkPolicy(ctx context.Context, msg *domain.GatewayMessage, gw *domain.Gateway) error {
	header := msg.Header
	if uc.Policy == nil {
		if !gw.Accepts(header.MessageType) {
			return fmt.Errorf("%w: gateway %s may not send %s", domain.ErrPolicyDenied, gw.Key, header.MessageType)
		}
		return nil
	}
	allowed := make([]string, 0, len(gw.AllowedMessageTypes))
	for _, t := range gw.AllowedMessageTypes {
		allowed = append(allowed, string(t))
	}
	decision, err := uc.Policy.Evaluate(ctx, domain.AdmissionInput{
		Header: domain.AdmissionHeader{
			MessageID:     header.MessageID,
			GatewayID:     header.GatewayID,
			SchemaVersion: header.SchemaVersion,
			MessageType:   string(header.MessageType),
		},
		Gateway: domain.AdmissionGateway{Key: gw.Key, AllowedMessageTypes: allowed},
		Signed:  msg.Signature != nil,
	})
	if err != nil {
		return fmt.Errorf("evaluate admission policy: %w", err)
	}
	if !decision.Allow {
		return fmt.Errorf("%w: %s", domain.ErrPolicyDenied, strings.Join(decision.Deny, "; "))
	}
	return nil
}

func (uc *IngestGateway) ingestBatchReading(ctx context.Context, gw *domain.Gateway, header domain.Header, raw []byte) (domain.Event, error) {
	reading, err := domain.ParseTelemetryReading(raw)
	if err != nil {
		return domain.Event{}, err
	}
	if reading.MessageID == "" {
		return domain.Event{}, fmt.Errorf("%w: batch reading requires messageId", domain.ErrInvalidMessage)
	}
	return uc.ingestReading(ctx, gw, header, reading)
}

func (uc *IngestGateway) ingestReading(ctx context.Context, gw *domain.Gateway, header domain.Header, reading *domain.TelemetryReading) (domain.Event, error) {
	event, err := uc.prepareReading(ctx, gw, header, reading)
	if err != nil {
		return domain.Event{}, err
	}
	return uc.recordReading(ctx, event)
}

// prepareReading resolves the tracker, timestamp and digest of one reading
// without writing anything.
func (uc *IngestGateway) prepareReading(ctx context.Context, gw *domain.Gateway, header domain.Header, reading *domain.TelemetryReading) (domain.Event, error) {
	tracker, err := uc.Registry.GetTracker(ctx, reading.DeviceID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Event{}, fmt.Errorf("%w: tracker %q", domain.ErrUnknownSource, reading.DeviceID)
		}
		return domain.Event{}, err
	}

	rawTime := domain.PickTimestamp(reading.Timestamp, reading.Time)
	if rawTime == "" {
		rawTime = domain.PickTimestamp(header.Timestamp, header.Time)
	}
	occurredAt, err := domain.ParseTimestamp(rawTime)
	if err != nil {
		return domain.Event{}, err
	}

	digest, err := uc.Hasher.Digest(reading.MessageID, reading.Fields)
	if err != nil {
		return domain.Event{}, err
	}
	claimed := strings.TrimPrefix(reading.ClaimedHash, "0x")
	status := uc.classify(digest, claimed, reading.Fields)

	return domain.Event{
		MessageID:   reading.MessageID,
		Kind:        domain.EventKindTracker,
		SubjectRef:  tracker.Key,
		GatewayRef:  gw.Key,
		EventType:   domain.EventTypeTelemetry,
		Payload:     reading.Fields,
		Timestamp:   occurredAt,
		DataHash:    digest,
		ClaimedHash: claimed,
		HashStatus:  status,
		CreatedAt:   uc.now(),
	}, nil
}

// recordReading stores a prepared tracker event and starts its follow-up
// work: anchoring or an alert, then product fan-out.
func (uc *IngestGateway) recordReading(ctx context.Context, event domain.Event) (domain.Event, error) {
	log := uc.logger().With(slog.String("message_id", event.MessageID), slog.String("device_id", event.SubjectRef))

	stored, created, err := uc.Events.InsertIfAbsent(ctx, event)
	if err != nil {
		if errors.Is(err, domain.ErrAlreadyExists) {
			return domain.Event{}, fmt.Errorf("%w: %v", domain.ErrInvalidMessage, err)
		}
		return domain.Event{}, fmt.Errorf("record event: %w", err)
	}
	if !created {
		// Derived events may be missing if an earlier delivery stopped
		// short; fan-out is idempotent per product.
		log.Debug("duplicate reading")
		uc.fanOut(ctx, stored, log)
		return stored, nil
	}
	if uc.Metrics != nil {
		uc.Metrics.ObserveEvent(stored.Kind, stored.HashStatus)
	}

	switch stored.HashStatus {
	case domain.HashStatusVerified:
		enqueueAnchor(ctx, uc.Queue, stored, log)
	case domain.HashStatusLegacy:
		log.Error("reading hashed with legacy firmware scheme",
			slog.String("claimed", stored.ClaimedHash), slog.String("computed", stored.DataHash))
		notify(ctx, uc.Notifications, stored, "Payload hash uses the legacy firmware encoding.", log)
	default:
		log.Error("data hash mismatch",
			slog.String("claimed", stored.ClaimedHash), slog.String("computed", stored.DataHash))
		notify(ctx, uc.Notifications, stored, "Payload hash mismatch for tracker event.", log)
	}

	uc.fanOut(ctx, stored, log)
	return stored, nil
}

func (uc *IngestGateway) fanOut(ctx context.Context, stored domain.Event, log *slog.Logger) {
	if uc.FanOut == nil {
		return
	}
	if _, err := uc.FanOut.Execute(ctx, stored); err != nil {
		log.Warn("product event fan-out failed", slog.Any("error", err))
	}
}

func (uc *IngestGateway) classify(digest, claimed string, fields map[string]any) domain.HashStatus {
	if digest == claimed {
		return domain.HashStatusVerified
	}
	legacy, err := uc.Hasher.LegacyDigest(fields)
	if err == nil && legacy == claimed {
		return domain.HashStatusLegacy
	}
	return domain.HashStatusMismatch
}

func (uc *IngestGateway) observeIngest(t domain.MessageType, outcome string) {
	if uc.Metrics != nil {
		uc.Metrics.ObserveIngest(t, outcome)
	}
}

func (uc *IngestGateway) logger() *slog.Logger {
	if uc.Logger == nil {
		return slog.Default()
	}
	return uc.Logger
}

func (uc *IngestGateway) now() time.Time {
	if uc.Now == nil {
		return time.Now().UTC()
	}
	return uc.Now().UTC()
}

// IsInputError reports whether err rejects the message itself. Input errors
// are never retried; anything else is an infrastructure failure.
func IsInputError(err error) bool {
	for _, target := range []error{
		domain.ErrInvalidMessage,
		domain.ErrUnsupportedSchema,
		domain.ErrUnknownSource,
		domain.ErrInvalidTimestamp,
		domain.ErrSignatureInvalid,
		domain.ErrPolicyDenied,
		domain.ErrEncoding,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func outcomeFor(err error) string {
	if IsInputError(err) {
		return IngestOutcomeRejected
	}
	return IngestOutcomeFailed
}

func enqueueAnchor(ctx context.Context, queue domain.AnchorQueue, event domain.Event, log *slog.Logger) {
	if queue == nil || !event.Anchorable() {
		return
	}
	job := domain.AnchorJob{MessageID: event.MessageID, Kind: event.Kind, EnqueuedAt: time.Now().UTC()}
	if err := queue.Enqueue(ctx, job); err != nil {
		// The retry sweeper picks the event up later.
		log.Warn("anchor job not queued", slog.String("message_id", event.MessageID), slog.Any("error", err))
	}
}

func notify(ctx context.Context, repo NotificationRepository, event domain.Event, message string, log *slog.Logger) {
	if repo == nil {
		return
	}
	_, err := repo.Create(ctx, domain.Notification{
		SubjectKind: event.Kind,
		SubjectRef:  event.SubjectRef,
		MessageID:   event.MessageID,
		Kind:        domain.NotificationAlert,
		Message:     message,
		Timestamp:   event.Timestamp,
	})
	if err != nil {
		log.Error("notification not recorded", slog.String("message_id", event.MessageID), slog.Any("error", err))
	}
}
