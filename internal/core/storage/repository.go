package storage

import (
	"context"
	"errors"
	"time"

	"github.com/tallylab/tally/internal/core/event"
)

// ErrDuplicate is returned when an event with the same event_id already exists.
var ErrDuplicate = errors.New("event already exists")

// ErrNotFound is returned by point lookups for unknown event ids.
var ErrNotFound = errors.New("event not found")

// DAURow is one day of the daily-active-users aggregate, as produced by the
// store. Date is the calendar day in the store's configured zone, "YYYY-MM-DD".
type DAURow struct {
	Date        string
	UniqueUsers int
}

// TypeCountRow is one event_type bucket of the top-events aggregate.
type TypeCountRow struct {
	EventType string
	Count     int64
}

// EventStore defines the interface for durable event persistence and the
// aggregate queries the analytics engine pushes down to SQL.
//
// Concurrency contract: the store is the single idempotency authority.
// Concurrent attempts to insert the same event_id from different callers
// result in exactly one stored row (first-committer-wins); later attempts
// surface as "not inserted", never as an error.
type EventStore interface {
	// Exists reports whether an event with the given id is already persisted.
	// Safe to call at high frequency alongside concurrent writers.
	Exists(ctx context.Context, eventID string) (bool, error)

	// GetByID fetches one event by id. Returns ErrNotFound when absent.
	GetByID(ctx context.Context, eventID string) (*event.Event, error)

	// InsertBatch appends a batch of events inside a single transaction and
	// returns how many rows were actually inserted. Events whose id already
	// exists (including duplicates within the batch itself) are silently not
	// inserted and excluded from the count. On error nothing is applied.
	InsertBatch(ctx context.Context, events []event.Event) (int, error)

	// ScanByTimeRange returns every event whose occurred_at lies in
	// [start, end] inclusive. No ordering is guaranteed.
	ScanByTimeRange(ctx context.Context, start, end time.Time) ([]event.Event, error)

	// DistinctUsersOnDate returns the set of user ids with at least one
	// event on the given calendar day (store's configured zone).
	DistinctUsersOnDate(ctx context.Context, day time.Time) (map[string]struct{}, error)

	// DailyActiveUsers groups events in [start, end] by calendar day and
	// counts distinct users per day, ascending by date. Days with zero
	// events produce no row.
	DailyActiveUsers(ctx context.Context, start, end time.Time) ([]DAURow, error)

	// TopEventTypes returns the limit most frequent event types in
	// [start, end], descending by count, ties ascending by type name.
	TopEventTypes(ctx context.Context, start, end time.Time, limit int) ([]TypeCountRow, error)

	// ListRecent returns up to limit events, newest occurred_at first.
	ListRecent(ctx context.Context, limit int) ([]event.Event, error)

	// DeleteAllEvents wipes the events table. Test isolation only; not part
	// of the production ingestion contract.
	DeleteAllEvents(ctx context.Context) error

	// Ping reports backend reachability for health checks.
	Ping(ctx context.Context) error
}
