package domain

// AdmissionInput is what the admission policy sees for one gateway message.
type AdmissionInput struct {
	Header  AdmissionHeader  `json:"header"`
	Gateway AdmissionGateway `json:"gateway"`
	Signed  bool             `json:"signed"`
}

type AdmissionHeader struct {
	MessageID     string `json:"message_id"`
	GatewayID     string `json:"gateway_id"`
	SchemaVersion string `json:"schema_version"`
	MessageType   string `json:"message_type"`
}

type AdmissionGateway struct {
	Key                 string   `json:"key"`
	AllowedMessageTypes []string `json:"allowed_message_types"`
}

type AdmissionDecision struct {
	Allow bool     `json:"allow"`
	Deny  []string `json:"deny"`
}
