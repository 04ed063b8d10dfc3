// Package validation converts untyped raw records (CSV rows, API payloads)
// into well-typed events, or rejects them with a structured row error.
package validation

import (
	"fmt"

	"github.com/araddon/dateparse"
	"github.com/tallylab/tally/internal/core/event"
)

// Field names recognized on a raw record.
const (
	FieldEventID    = "event_id"
	FieldOccurredAt = "occurred_at"
	FieldUserID     = "user_id"
	FieldEventType  = "event_type"
	FieldProperties = "properties"
	// FieldPropertiesJSON is the CSV column name for the raw JSON payload.
	FieldPropertiesJSON = "properties_json"
)

// RequiredFields are the scalar fields every record must carry, in
// diagnostic order. Sources also use this list to verify their headers.
var RequiredFields = []string{FieldEventID, FieldOccurredAt, FieldUserID, FieldEventType}

// Record is one untyped input record plus where it came from.
type Record struct {
	// Row is the record's 1-based ordinal position within its source,
	// 0 when the record is not part of a batch.
	Row int
	// Fields maps column/field names to their raw string values.
	Fields map[string]string
	// Raw preserves the original row text for diagnostics.
	Raw string
}

// RowError describes why one record failed validation. Row-level failures
// are recoverable by contract: callers log them and continue.
type RowError struct {
	Row    int    `json:"row"`
	Field  string `json:"field"`
	Reason string `json:"reason"`
	Raw    string `json:"raw,omitempty"`
}

func (e *RowError) Error() string {
	return fmt.Sprintf("row %d: field %q: %s", e.Row, e.Field, e.Reason)
}

// Validate converts a raw record into an Event.
//
// The four scalar fields are required and must be non-empty; occurred_at is
// parsed permissively (ISO-8601 with or without offsets, and the other
// formats dateparse tolerates) and normalized to UTC. The properties payload
// is the one lenient field: malformed JSON coerces to an empty map instead
// of failing, since bad metadata must not block an otherwise valid event.
func Validate(rec Record) (*event.Event, *RowError) {
	for _, field := range RequiredFields {
		if rec.Fields[field] == "" {
			return nil, &RowError{
				Row:    rec.Row,
				Field:  field,
				Reason: fmt.Sprintf("missing required field %q", field),
				Raw:    rec.Raw,
			}
		}
	}

	rawTime := rec.Fields[FieldOccurredAt]
	occurredAt, err := dateparse.ParseAny(rawTime)
	if err != nil {
		return nil, &RowError{
			Row:    rec.Row,
			Field:  FieldOccurredAt,
			Reason: fmt.Sprintf("cannot parse timestamp %q", rawTime),
			Raw:    rec.Raw,
		}
	}

	rawProps := rec.Fields[FieldProperties]
	if rawProps == "" {
		rawProps = rec.Fields[FieldPropertiesJSON]
	}

	return &event.Event{
		EventID:    rec.Fields[FieldEventID],
		OccurredAt: occurredAt.UTC(),
		UserID:     rec.Fields[FieldUserID],
		EventType:  rec.Fields[FieldEventType],
		Properties: event.ParseProperties(rawProps),
	}, nil
}
