package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

type MessageType string

const (
	MessageTypeTelemetry      MessageType = "telemetry"
	MessageTypeBatchTelemetry MessageType = "batch_telemetry"
	MessageTypeEvent          MessageType = "event"
	MessageTypeHeartbeat      MessageType = "heartbeat"
)

func ParseMessageType(s string) (MessageType, bool) {
	switch t := MessageType(strings.TrimSpace(s)); t {
	case MessageTypeTelemetry, MessageTypeBatchTelemetry, MessageTypeEvent, MessageTypeHeartbeat:
		return t, true
	default:
		return "", false
	}
}

// DefaultSchemaVersion is assumed when a header omits schemaVersion.
const DefaultSchemaVersion = "1.0.0"

// Message ids travel as the ledger tag, which holds at most 64 bytes.
const maxMessageIDLength = 64

type Header struct {
	MessageID     string      `json:"messageId" validate:"required,max=64"`
	GatewayID     string      `json:"gatewayId" validate:"required,max=128"`
	SchemaVersion string      `json:"schemaVersion"`
	MessageType   MessageType `json:"messageType" validate:"required"`
	Timestamp     string      `json:"timestamp,omitempty"`
	Time          string      `json:"time,omitempty"`
}

type Signature struct {
	Alg   string `json:"alg" validate:"required"`
	KeyID string `json:"keyId" validate:"required"`
	Value string `json:"value" validate:"required"`
}

type EventPayload struct {
	DeviceID  string `json:"deviceId" validate:"required"`
	EventType string `json:"eventType" validate:"required"`
}

type HeartbeatPayload struct {
	DeviceID        string      `json:"deviceId" validate:"required"`
	Uptime          json.Number `json:"uptime"`
	FirmwareVersion string      `json:"firmwareVersion" validate:"required"`
}

// TelemetryReading is a single device reading. Fields holds the reading
// without its envelope keys and is what gets hashed and stored.
type TelemetryReading struct {
	MessageID   string
	DeviceID    string
	ClaimedHash string
	Timestamp   string
	Time        string
	Fields      map[string]any
}

// GatewayMessage is a parsed inbound message. Exactly one of the payload
// variants is set, selected by Header.MessageType.
type GatewayMessage struct {
	Header     Header
	Signature  *Signature
	RawPayload json.RawMessage

	Telemetry *TelemetryReading
	Readings  []json.RawMessage
	Event     *EventPayload
	Heartbeat *HeartbeatPayload
}

var validate = validator.New()

type rawGatewayMessage struct {
	Header    *Header         `json:"header"`
	Payload   json.RawMessage `json:"payload"`
	Signature *Signature      `json:"signature"`
}

// ParseGatewayMessage decodes and validates an inbound gateway message. Every
// failure wraps ErrInvalidMessage. Batch readings are validated individually
// later with ParseTelemetryReading.
func ParseGatewayMessage(raw []byte) (*GatewayMessage, error) {
	var in rawGatewayMessage
	if err := decodeStrict(raw, &in); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if in.Header == nil {
		return nil, fmt.Errorf("%w: header is required", ErrInvalidMessage)
	}
	if err := validate.Struct(in.Header); err != nil {
		return nil, fmt.Errorf("%w: header: %v", ErrInvalidMessage, err)
	}
	if in.Header.SchemaVersion == "" {
		in.Header.SchemaVersion = DefaultSchemaVersion
	}
	if in.Signature != nil {
		if err := validate.Struct(in.Signature); err != nil {
			return nil, fmt.Errorf("%w: signature: %v", ErrInvalidMessage, err)
		}
	}
	if len(bytes.TrimSpace(in.Payload)) == 0 || bytes.Equal(bytes.TrimSpace(in.Payload), []byte("null")) {
		return nil, fmt.Errorf("%w: payload is required", ErrInvalidMessage)
	}

	msg := &GatewayMessage{Header: *in.Header, Signature: in.Signature, RawPayload: in.Payload}
	switch in.Header.MessageType {
	case MessageTypeTelemetry:
		reading, err := ParseTelemetryReading(in.Payload)
		if err != nil {
			return nil, err
		}
		if reading.MessageID == "" {
			reading.MessageID = in.Header.MessageID
		}
		msg.Telemetry = reading
	case MessageTypeBatchTelemetry:
		var batch struct {
			Readings []json.RawMessage `json:"readings"`
		}
		if err := json.Unmarshal(in.Payload, &batch); err != nil {
			return nil, fmt.Errorf("%w: batch payload: %v", ErrInvalidMessage, err)
		}
		if batch.Readings == nil {
			return nil, fmt.Errorf("%w: batch payload requires readings", ErrInvalidMessage)
		}
		msg.Readings = batch.Readings
	case MessageTypeEvent:
		var ev EventPayload
		if err := json.Unmarshal(in.Payload, &ev); err != nil {
			return nil, fmt.Errorf("%w: event payload: %v", ErrInvalidMessage, err)
		}
		if err := validate.Struct(ev); err != nil {
			return nil, fmt.Errorf("%w: event payload: %v", ErrInvalidMessage, err)
		}
		msg.Event = &ev
	case MessageTypeHeartbeat:
		var hb HeartbeatPayload
		if err := json.Unmarshal(in.Payload, &hb); err != nil {
			return nil, fmt.Errorf("%w: heartbeat payload: %v", ErrInvalidMessage, err)
		}
		if err := validate.Struct(hb); err != nil {
			return nil, fmt.Errorf("%w: heartbeat payload: %v", ErrInvalidMessage, err)
		}
		msg.Heartbeat = &hb
	default:
		return nil, fmt.Errorf("%w: unknown message type %q", ErrInvalidMessage, in.Header.MessageType)
	}
	return msg, nil
}

// ParseTelemetryReading decodes one telemetry reading, keeping numbers as
// their decimal literals.
func ParseTelemetryReading(raw json.RawMessage) (*TelemetryReading, error) {
	var fields map[string]any
	if err := decodeStrict(raw, &fields); err != nil {
		return nil, fmt.Errorf("%w: reading: %v", ErrInvalidMessage, err)
	}
	if fields == nil {
		return nil, fmt.Errorf("%w: reading must be an object", ErrInvalidMessage)
	}

	r := &TelemetryReading{}
	var err error
	if r.DeviceID, err = stringField(fields, "deviceId", true); err != nil {
		return nil, err
	}
	if r.MessageID, err = stringField(fields, "messageId", false); err != nil {
		return nil, err
	}
	if len(r.MessageID) > maxMessageIDLength {
		return nil, fmt.Errorf("%w: messageId too long", ErrInvalidMessage)
	}
	if r.Timestamp, err = stringField(fields, "timestamp", false); err != nil {
		return nil, err
	}
	if r.Time, err = stringField(fields, "time", false); err != nil {
		return nil, err
	}
	claimed, err := stringField(fields, "dataHash", false)
	if err != nil {
		return nil, err
	}
	if claimed == "" {
		if claimed, err = stringField(fields, "hash", false); err != nil {
			return nil, err
		}
	}
	if claimed == "" {
		return nil, fmt.Errorf("%w: reading carries no hash", ErrInvalidMessage)
	}
	r.ClaimedHash = strings.ToLower(claimed)

	delete(fields, "messageId")
	delete(fields, "hash")
	delete(fields, "dataHash")
	r.Fields = fields
	return r, nil
}

func stringField(m map[string]any, key string, required bool) (string, error) {
	v, ok := m[key]
	if !ok || v == nil {
		if required {
			return "", fmt.Errorf("%w: %s is required", ErrInvalidMessage, key)
		}
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%w: %s must be a string", ErrInvalidMessage, key)
	}
	if required && strings.TrimSpace(s) == "" {
		return "", fmt.Errorf("%w: %s is required", ErrInvalidMessage, key)
	}
	return s, nil
}

func decodeStrict(raw []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return fmt.Errorf("trailing data after JSON value")
	}
	return nil
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

// ParseTimestamp parses an ISO-8601 instant. Values without a zone are UTC.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("%w: empty", ErrInvalidTimestamp)
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidTimestamp, s)
}

// PickTimestamp returns the "timestamp" value when present, otherwise "time".
func PickTimestamp(timestamp, timeField string) string {
	if strings.TrimSpace(timestamp) != "" {
		return timestamp
	}
	return timeField
}
