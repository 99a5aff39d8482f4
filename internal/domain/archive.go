package domain

import (
	"encoding/json"
	"time"
)

// ArchivedMessage is the raw gateway message as admitted, stored once per
// header message id.
type ArchivedMessage struct {
	MessageID     string
	GatewayKey    string
	MessageType   MessageType
	SchemaVersion string
	Payload       json.RawMessage
	Signature     *Signature
	Timestamp     *time.Time
	CreatedAt     time.Time
}
