package ingestion

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/tallylab/tally/internal/core/event"
	httperr "github.com/tallylab/tally/internal/core/errors"
	"github.com/tallylab/tally/internal/core/storage"
	"github.com/tallylab/tally/internal/validation"
)

const (
	msgReadBodyFailed = "Failed to read request body"
	msgInvalidJSON    = "Invalid JSON body"
	msgPersistFailed  = "Failed to persist events"
)

// eventPayload is one element of the POST /v1/events request body. All
// fields arrive untyped; validation turns them into an Event or rejects
// the request.
type eventPayload struct {
	EventID    string          `json:"event_id"`
	OccurredAt string          `json:"occurred_at"`
	UserID     string          `json:"user_id"`
	EventType  string          `json:"event_type"`
	Properties json.RawMessage `json:"properties"`
}

// IngestHandler handles POST /v1/events: a JSON array of event payloads.
// Each item is validated and persisted; an item whose event_id is already
// stored is echoed back from the store instead of re-inserted. The response
// is the array of stored (or pre-existing) events in input order.
func (s *Service) IngestHandler(c *gin.Context) {
	payloads, ingErr := s.parsePayloads(c)
	if ingErr != nil {
		writeError(c, ingErr)
		return
	}

	ctx := c.Request.Context()
	results := make([]*event.Event, len(payloads))
	var pending []event.Event
	var pendingIdx []int

	for i, p := range payloads {
		// Pre-existing ids echo the stored row; the store, not this
		// handler, stays the idempotency authority.
		existing, err := s.store.GetByID(ctx, p.EventID)
		if err == nil {
			results[i] = existing
			continue
		}
		if !errors.Is(err, storage.ErrNotFound) {
			slog.Error("Failed dedup lookup", "event_id", p.EventID, "error", err)
			writeError(c, &ingestionError{
				statusCode: http.StatusInternalServerError,
				errorType:  httperr.HttpInternalError,
				message:    msgPersistFailed,
			})
			return
		}

		evt, rowErr := validation.Validate(recordFromPayload(i+1, p))
		if rowErr != nil {
			slog.Warn("Event validation failed",
				"item", i+1, "field", rowErr.Field, "reason", rowErr.Reason)
			writeError(c, &ingestionError{
				statusCode: http.StatusBadRequest,
				errorType:  httperr.HttpValidationError,
				message:    rowErr.Error(),
				details: map[string]interface{}{
					"item":   i + 1,
					"field":  rowErr.Field,
					"reason": rowErr.Reason,
				},
			})
			return
		}

		results[i] = evt
		pending = append(pending, *evt)
		pendingIdx = append(pendingIdx, i)
	}

	inserted, err := s.store.InsertBatch(ctx, pending)
	if err != nil {
		slog.Error("Failed to persist events", "count", len(pending), "error", err)
		writeError(c, &ingestionError{
			statusCode: http.StatusInternalServerError,
			errorType:  httperr.HttpInternalError,
			message:    msgPersistFailed,
		})
		return
	}

	// A shortfall means some id won a concurrent insert race elsewhere (or
	// repeats within this request); echo those from the store.
	if inserted < len(pending) {
		for _, idx := range pendingIdx {
			stored, err := s.store.GetByID(ctx, results[idx].EventID)
			if err == nil {
				results[idx] = stored
			}
		}
	}

	slog.Info("Ingested events",
		"received", len(payloads),
		"inserted", inserted,
		"pre_existing", len(payloads)-len(pending))
	c.JSON(http.StatusOK, results)
}

// ListEventsHandler handles GET /v1/events?limit= returning recent events,
// newest first.
func (s *Service) ListEventsHandler(c *gin.Context) {
	limit := defaultListLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(c, &ingestionError{
				statusCode: http.StatusBadRequest,
				errorType:  httperr.HttpInvalidQueryError,
				message:    "limit must be a positive integer",
			})
			return
		}
		limit = n
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	events, err := s.store.ListRecent(c.Request.Context(), limit)
	if err != nil {
		slog.Error("Failed to list events", "error", err)
		writeError(c, &ingestionError{
			statusCode: http.StatusInternalServerError,
			errorType:  httperr.HttpInternalError,
			message:    "Failed to list events",
		})
		return
	}
	if events == nil {
		events = []event.Event{}
	}
	c.JSON(http.StatusOK, events)
}

// parsePayloads reads the size-capped request body and decodes the payload
// array.
func (s *Service) parsePayloads(c *gin.Context) ([]eventPayload, *ingestionError) {
	maxBytes := int64(s.maxBodySizeBytes)
	limitedBody := io.LimitReader(c.Request.Body, maxBytes+1) // +1 to detect oversized requests

	bodyBytes, err := io.ReadAll(limitedBody)
	if err != nil {
		slog.Error("Failed to read request body", "error", err)
		return nil, &ingestionError{
			statusCode: http.StatusInternalServerError,
			errorType:  httperr.HttpInternalError,
			message:    msgReadBodyFailed,
		}
	}

	if int64(len(bodyBytes)) > maxBytes {
		slog.Warn("Request body exceeds maximum size", "size", len(bodyBytes), "max", maxBytes)
		return nil, &ingestionError{
			statusCode: http.StatusRequestEntityTooLarge,
			errorType:  httperr.HttpInvalidJsonError,
			message:    "Request body exceeds maximum allowed size",
			details: map[string]interface{}{
				"max_size_mb": maxBytes / (1024 * 1024),
			},
		}
	}

	var payloads []eventPayload
	if err := json.Unmarshal(bodyBytes, &payloads); err != nil {
		slog.Warn("Invalid JSON body received", "error", err, "payload_size", len(bodyBytes))
		return nil, &ingestionError{
			statusCode: http.StatusBadRequest,
			errorType:  httperr.HttpInvalidJsonError,
			message:    msgInvalidJSON,
		}
	}

	return payloads, nil
}

// recordFromPayload lowers a JSON payload item to the validator's raw form.
// Item position doubles as the row ordinal in diagnostics.
func recordFromPayload(row int, p eventPayload) validation.Record {
	raw, _ := json.Marshal(p)
	return validation.Record{
		Row: row,
		Fields: map[string]string{
			validation.FieldEventID:    p.EventID,
			validation.FieldOccurredAt: p.OccurredAt,
			validation.FieldUserID:     p.UserID,
			validation.FieldEventType:  p.EventType,
			validation.FieldProperties: propertiesField(p.Properties),
		},
		Raw: string(raw),
	}
}

// propertiesField accepts the payload either as a structured JSON object or
// as a JSON string containing JSON text, per the lenient properties contract.
func propertiesField(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

// ingestionError carries the structured HTTP error shape from a helper back
// to the handler. Helpers return this instead of writing to gin.Context
// directly, keeping them decoupled from HTTP.
type ingestionError struct {
	statusCode int
	errorType  string
	message    string
	details    interface{}
}

func (e *ingestionError) Error() string {
	return e.message
}

// writeError serializes an ingestionError as the JSON HTTP response.
func writeError(c *gin.Context, err *ingestionError) {
	c.JSON(err.statusCode, httperr.ErrorResponse{
		ErrorType: err.errorType,
		Message:   err.message,
		Details:   err.details,
	})
}
