package types

import "time"

// AuditEvent is one structured audit record emitted by the billing engine.
// It is also the SQS envelope between the API and the audit worker, so JSON
// tags are part of the wire contract.
type AuditEvent struct {
	ID              string     `json:"id"`
	Name            string     `json:"name"`
	RequestID       string     `json:"request_id,omitempty"`
	ProviderEventID string     `json:"provider_event_id,omitempty"`
	Attributes      Attributes `json:"attributes"`

	// Payload is the raw webhook body, zstd-compressed. Only present on
	// webhook-level events (failures, rejections) where the body is needed
	// for dispute resolution.
	Payload []byte `json:"payload,omitempty"`

	OccurredAt time.Time `json:"occurred_at"`
}

// Attr returns a string attribute, or "" when absent.
func (e AuditEvent) Attr(key string) string {
	v, _ := e.Attributes[key].(string)
	return v
}
