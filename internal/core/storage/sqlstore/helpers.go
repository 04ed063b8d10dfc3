package sqlstore

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/tallylab/tally/internal/core/event"
)

// marshalProperties renders the properties column. An absent map stores as
// "{}" rather than SQL NULL so reads never have to distinguish the two.
func marshalProperties(p event.Properties) ([]byte, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal properties: %w", err)
	}
	return data, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

// scanEventRow scans a database row into an Event.
// Compatible with both sql.Row (single) and sql.Rows (multiple).
func scanEventRow(row scanner) (*event.Event, error) {
	var evt event.Event
	var propsJSON sql.NullString

	err := row.Scan(
		&evt.EventID,
		&evt.OccurredAt,
		&evt.UserID,
		&evt.EventType,
		&propsJSON,
	)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan event row: %w", err)
	}

	if propsJSON.Valid && propsJSON.String != "" {
		var props event.Properties
		if err := json.Unmarshal([]byte(propsJSON.String), &props); err != nil {
			return nil, fmt.Errorf("failed to unmarshal properties for event %q: %w", evt.EventID, err)
		}
		evt.Properties = props
	}
	if evt.Properties == nil {
		evt.Properties = event.Properties{}
	}

	return &evt, nil
}

// collectEvents drains a multi-row result set.
func collectEvents(rows *sql.Rows) ([]event.Event, error) {
	var events []event.Event
	for rows.Next() {
		evt, err := scanEventRow(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, *evt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}
	return events, nil
}
