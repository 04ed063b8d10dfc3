package sqlstore

import "fmt"

// SQL for event storage and aggregate queries. All statements are portable
// between PostgreSQL and SQLite except the day bucketing expression, which
// comes from the dialect.

const (
	// queryInsertEvent appends one event. ON CONFLICT DO NOTHING on the
	// primary key makes the insert idempotent: a duplicate id reports zero
	// rows affected instead of an error, whichever caller committed first.
	queryInsertEvent = `
		INSERT INTO events (event_id, occurred_at, user_id, event_type, properties)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (event_id) DO NOTHING
	`

	// queryEventExists is the dedup probe used per record by the ingestion
	// pipeline. A point lookup on the primary key.
	queryEventExists = `
		SELECT EXISTS (SELECT 1 FROM events WHERE event_id = $1)
	`

	queryGetEventByID = `
		SELECT event_id, occurred_at, user_id, event_type, properties
		FROM events
		WHERE event_id = $1
	`

	// queryScanByTimeRange returns events with occurred_at in [start, end]
	// inclusive. Callers group and sort as needed.
	queryScanByTimeRange = `
		SELECT event_id, occurred_at, user_id, event_type, properties
		FROM events
		WHERE occurred_at >= $1 AND occurred_at <= $2
	`

	// queryDistinctUsersInRange feeds calendar-day cohort lookups; the store
	// computes the half-open day bounds in Go so the index on occurred_at
	// is usable by both backends.
	queryDistinctUsersInRange = `
		SELECT DISTINCT user_id
		FROM events
		WHERE occurred_at >= $1 AND occurred_at < $2
	`

	// queryTopEventTypes counts events per type in [start, end] inclusive.
	// Ties are broken by type name ascending so results are deterministic.
	queryTopEventTypes = `
		SELECT event_type, COUNT(*) AS cnt
		FROM events
		WHERE occurred_at >= $1 AND occurred_at <= $2
		GROUP BY event_type
		ORDER BY cnt DESC, event_type ASC
		LIMIT $3
	`

	queryListRecentEvents = `
		SELECT event_id, occurred_at, user_id, event_type, properties
		FROM events
		ORDER BY occurred_at DESC
		LIMIT $1
	`

	queryDeleteAllEvents = `DELETE FROM events`
)

// queryDailyActiveUsers groups events in [start, end] inclusive by calendar
// day and counts distinct users per day. Days without events yield no row.
func queryDailyActiveUsers(d dialect) string {
	return fmt.Sprintf(`
		SELECT %s AS day, COUNT(DISTINCT user_id) AS unique_users
		FROM events
		WHERE occurred_at >= $1 AND occurred_at <= $2
		GROUP BY day
		ORDER BY day ASC
	`, d.dayExpr)
}
