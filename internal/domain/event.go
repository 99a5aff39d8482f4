package domain

import "time"

// EventKind separates events recorded against trackers from events recorded
// against products.
type EventKind string

const (
	EventKindTracker EventKind = "tracker"
	EventKindProduct EventKind = "product"
)

// LookupOrder is the order in which kinds are tried when only a message id is known.
var LookupOrder = []EventKind{EventKindTracker, EventKindProduct}

func ParseEventKind(s string) (EventKind, bool) {
	switch EventKind(s) {
	case EventKindTracker:
		return EventKindTracker, true
	case EventKindProduct:
		return EventKindProduct, true
	default:
		return "", false
	}
}

type EventType string

const (
	EventTypeTelemetry           EventType = "telemetry"
	EventTypeManufactured        EventType = "manufactured"
	EventTypeTemperatureReading  EventType = "temperature_reading"
	EventTypePositionReading     EventType = "position_reading"
	EventTypeGasReading          EventType = "gas_reading"
	EventTypeAccelerationReading EventType = "acceleration_reading"
	EventTypeHumidityReading     EventType = "humidity_reading"
)

var productEventTypes = map[EventType]struct{}{
	EventTypeTelemetry:           {},
	EventTypeManufactured:        {},
	EventTypeTemperatureReading:  {},
	EventTypePositionReading:     {},
	EventTypeGasReading:          {},
	EventTypeAccelerationReading: {},
	EventTypeHumidityReading:     {},
}

// Allows reports whether t belongs to the closed set of event types for the kind.
func (k EventKind) Allows(t EventType) bool {
	switch k {
	case EventKindTracker:
		return t == EventTypeTelemetry
	case EventKindProduct:
		_, ok := productEventTypes[t]
		return ok
	default:
		return false
	}
}

type HashStatus string

const (
	HashStatusVerified HashStatus = "verified"
	HashStatusMismatch HashStatus = "mismatch"
	// HashStatusLegacy marks readings whose claimed digest matches the legacy
	// fixed-buffer firmware encoding. They are kept and alerted but never anchored.
	HashStatusLegacy HashStatus = "legacy_digest"
)

// Event is one recorded observation about a tracker or a product.
//
// DataHash is the canonical digest computed by the service. ClaimedHash is the
// digest the device sent, kept for audit. LedgerRef stays empty until the
// digest has been published, and once set it never changes.
type Event struct {
	MessageID     string
	Kind          EventKind
	SubjectRef    string
	GatewayRef    string
	SourceEventID string
	EventType     EventType
	Payload       map[string]any
	Timestamp     time.Time
	DataHash      string
	ClaimedHash   string
	HashStatus    HashStatus
	LedgerRef     string
	CreatedAt     time.Time
}

func (e Event) Anchored() bool {
	return e.LedgerRef != ""
}

// Anchorable reports whether the event's digest may be published to the ledger.
func (e Event) Anchorable() bool {
	return e.HashStatus == HashStatusVerified && e.LedgerRef == ""
}
