package event

import (
	"time"
)

// Event is the atomic unit of the system: one user interaction, created
// exactly once by ingestion and never mutated afterwards.
type Event struct {
	// EventID is the unique immutable identifier provided by the client.
	// It is the primary identity: a second ingestion with the same id is a
	// no-op, never an overwrite.
	EventID string `json:"event_id"`

	// OccurredAt is the event's logical time (client-side clock),
	// normalized to UTC by validation.
	OccurredAt time.Time `json:"occurred_at"`

	// UserID identifies the actor that generated the event.
	UserID string `json:"user_id"`

	// EventType is an open-vocabulary category label ("login", "click", ...).
	// There is no fixed enum; analytics group by whatever arrives.
	EventType string `json:"event_type"`

	// Properties is the schemaless per-event payload. Its shape varies by
	// EventType and is not validated beyond being structured JSON data.
	Properties Properties `json:"properties"`
}
