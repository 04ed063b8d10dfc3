package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/tallylab/tally/internal/core/event"
	"github.com/tallylab/tally/internal/core/storage"
	"github.com/tallylab/tally/internal/migrations"

	_ "github.com/lib/pq"           // Register postgres driver
	_ "github.com/mattn/go-sqlite3" // Register sqlite3 driver
)

const connectPingTimeout = 5 * time.Second

// Config holds everything the store needs at construction. The backing
// database and the store's time zone are explicit parameters here, never
// ambient process state: test isolation means passing a different DSN.
type Config struct {
	// Driver is "postgres" or "sqlite3".
	Driver string
	// DSN is the connection string. For sqlite3, enable a busy timeout and
	// WAL so a bulk import can run alongside API traffic, e.g.
	// "file:tally.db?_busy_timeout=5000&_journal_mode=WAL".
	DSN          string
	MaxOpenConns int
	MaxIdleConns int
	// Location is the time zone used for calendar-day bucketing.
	// Defaults to UTC.
	Location *time.Location
	// AutoMigrate applies pending migrations on startup.
	AutoMigrate bool
}

// Store implements storage.EventStore on database/sql, backed by PostgreSQL
// or SQLite. All timestamps are normalized to the configured location's wall
// clock before they reach the database, so day bucketing in SQL and in Go
// agree regardless of the offsets events arrived with.
type Store struct {
	db      *sql.DB
	dialect dialect
	loc     *time.Location

	// Hot-path statements are prepared once; aggregate queries run ad hoc.
	stmtInsertEvent *sql.Stmt
	stmtEventExists *sql.Stmt

	queryDAU string
}

// compile-time interface check
var _ storage.EventStore = (*Store)(nil)

// New opens the database, configures the pool, runs migrations and prepares
// the hot-path statements.
func New(cfg Config) (*Store, error) {
	d, err := dialectFor(cfg.Driver)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(d.driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", d.driver, err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	db.SetConnMaxLifetime(5 * time.Minute)

	slog.Info("[SQLStore] Connection pool configured",
		"driver", d.driver,
		"max_open_conns", cfg.MaxOpenConns,
		"max_idle_conns", cfg.MaxIdleConns)

	pingCtx, cancel := context.WithTimeout(context.Background(), connectPingTimeout)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping %s database: %w", d.driver, err)
	}

	if err := migrations.RunMigrations(db, d.driver, cfg.AutoMigrate); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	store, err := newWithDB(db, d, cfg.Location)
	if err != nil {
		db.Close()
		return nil, err
	}

	slog.Info("[SQLStore] Store initialized",
		"driver", d.driver,
		"timezone", store.loc.String())
	return store, nil
}

// newWithDB wires a store over an existing connection. Validates that
// migrations have produced the events table, then prepares statements.
func newWithDB(db *sql.DB, d dialect, loc *time.Location) (*Store, error) {
	if loc == nil {
		loc = time.UTC
	}

	if err := validateSchema(db, d); err != nil {
		return nil, fmt.Errorf("schema validation failed - did migrations run?: %w", err)
	}

	stmtInsert, err := db.Prepare(queryInsertEvent)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare insertEvent statement: %w", err)
	}

	stmtExists, err := db.Prepare(queryEventExists)
	if err != nil {
		stmtInsert.Close()
		return nil, fmt.Errorf("failed to prepare eventExists statement: %w", err)
	}

	return &Store{
		db:              db,
		dialect:         d,
		loc:             loc,
		stmtInsertEvent: stmtInsert,
		stmtEventExists: stmtExists,
		queryDAU:        queryDailyActiveUsers(d),
	}, nil
}

// validateSchema checks that the events table exists.
func validateSchema(db *sql.DB, d dialect) error {
	var exists bool
	if err := db.QueryRow(d.tableExistsQuery).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check schema: %w", err)
	}
	if !exists {
		return fmt.Errorf("events table does not exist")
	}
	return nil
}

// normalizeTime rewrites t as the configured location's wall clock reading,
// carried as a naive (UTC-tagged) instant. Both backends store timestamps
// without zone, so every value that crosses the SQL boundary goes through
// here first.
func (s *Store) normalizeTime(t time.Time) time.Time {
	lt := t.In(s.loc)
	return time.Date(lt.Year(), lt.Month(), lt.Day(), lt.Hour(), lt.Minute(), lt.Second(), lt.Nanosecond(), time.UTC)
}

// dayBounds returns the half-open [start, next) bounds of the calendar day
// containing t, in the store's zone.
func (s *Store) dayBounds(t time.Time) (time.Time, time.Time) {
	n := s.normalizeTime(t)
	start := time.Date(n.Year(), n.Month(), n.Day(), 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 0, 1)
}

// Exists reports whether an event with the given id is already persisted.
func (s *Store) Exists(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	if err := s.stmtEventExists.QueryRowContext(ctx, eventID).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check event existence: %w", err)
	}
	return exists, nil
}

// GetByID fetches one event. Returns storage.ErrNotFound for unknown ids.
func (s *Store) GetByID(ctx context.Context, eventID string) (*event.Event, error) {
	row := s.db.QueryRowContext(ctx, queryGetEventByID, eventID)
	evt, err := scanEventRow(row)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return evt, nil
}

// InsertBatch appends events inside one transaction and reports how many
// rows were actually inserted. Rows whose event_id already exists - whether
// committed earlier or earlier in this same batch - affect zero rows and drop
// out of the count, never out of the transaction.
func (s *Store) InsertBatch(ctx context.Context, events []event.Event) (int, error) {
	if len(events) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin batch transaction: %w", err)
	}

	stmt := tx.StmtContext(ctx, s.stmtInsertEvent)
	defer stmt.Close()

	inserted := 0
	for i := range events {
		evt := &events[i]
		propsJSON, err := marshalProperties(evt.Properties)
		if err != nil {
			tx.Rollback()
			return 0, fmt.Errorf("failed to marshal properties for event %q: %w", evt.EventID, err)
		}

		res, err := stmt.ExecContext(ctx,
			evt.EventID,
			s.normalizeTime(evt.OccurredAt),
			evt.UserID,
			evt.EventType,
			propsJSON,
		)
		if err != nil {
			tx.Rollback()
			return 0, fmt.Errorf("failed to insert event %q: %w", evt.EventID, err)
		}

		affected, err := res.RowsAffected()
		if err != nil {
			tx.Rollback()
			return 0, fmt.Errorf("failed to read rows affected for event %q: %w", evt.EventID, err)
		}
		inserted += int(affected)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit batch: %w", err)
	}

	slog.Debug("[SQLStore] Batch committed",
		"batch_size", len(events),
		"inserted", inserted)
	return inserted, nil
}

// ScanByTimeRange returns events with occurred_at in [start, end] inclusive.
func (s *Store) ScanByTimeRange(ctx context.Context, start, end time.Time) ([]event.Event, error) {
	rows, err := s.db.QueryContext(ctx, queryScanByTimeRange,
		s.normalizeTime(start), s.normalizeTime(end))
	if err != nil {
		return nil, fmt.Errorf("failed to scan events by time range: %w", err)
	}
	defer rows.Close()

	return collectEvents(rows)
}

// DistinctUsersOnDate returns the set of users active on the calendar day
// containing day, in the store's configured zone.
func (s *Store) DistinctUsersOnDate(ctx context.Context, day time.Time) (map[string]struct{}, error) {
	dayStart, dayEnd := s.dayBounds(day)

	rows, err := s.db.QueryContext(ctx, queryDistinctUsersInRange, dayStart, dayEnd)
	if err != nil {
		return nil, fmt.Errorf("failed to query distinct users: %w", err)
	}
	defer rows.Close()

	users := make(map[string]struct{})
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return nil, fmt.Errorf("failed to scan user id: %w", err)
		}
		users[userID] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating distinct users: %w", err)
	}
	return users, nil
}

// DailyActiveUsers counts distinct users per calendar day in [start, end].
func (s *Store) DailyActiveUsers(ctx context.Context, start, end time.Time) ([]storage.DAURow, error) {
	rows, err := s.db.QueryContext(ctx, s.queryDAU,
		s.normalizeTime(start), s.normalizeTime(end))
	if err != nil {
		return nil, fmt.Errorf("failed to query daily active users: %w", err)
	}
	defer rows.Close()

	var result []storage.DAURow
	for rows.Next() {
		var r storage.DAURow
		if err := rows.Scan(&r.Date, &r.UniqueUsers); err != nil {
			return nil, fmt.Errorf("failed to scan DAU row: %w", err)
		}
		result = append(result, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating DAU rows: %w", err)
	}
	return result, nil
}

// TopEventTypes returns the limit most frequent event types in [start, end].
func (s *Store) TopEventTypes(ctx context.Context, start, end time.Time, limit int) ([]storage.TypeCountRow, error) {
	rows, err := s.db.QueryContext(ctx, queryTopEventTypes,
		s.normalizeTime(start), s.normalizeTime(end), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query top event types: %w", err)
	}
	defer rows.Close()

	var result []storage.TypeCountRow
	for rows.Next() {
		var r storage.TypeCountRow
		if err := rows.Scan(&r.EventType, &r.Count); err != nil {
			return nil, fmt.Errorf("failed to scan type count row: %w", err)
		}
		result = append(result, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating type count rows: %w", err)
	}
	return result, nil
}

// ListRecent returns up to limit events, newest first.
func (s *Store) ListRecent(ctx context.Context, limit int) ([]event.Event, error) {
	rows, err := s.db.QueryContext(ctx, queryListRecentEvents, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list recent events: %w", err)
	}
	defer rows.Close()

	return collectEvents(rows)
}

// DeleteAllEvents wipes the events table. Test isolation only.
func (s *Store) DeleteAllEvents(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, queryDeleteAllEvents); err != nil {
		return fmt.Errorf("failed to delete events: %w", err)
	}
	return nil
}

// Ping reports backend reachability.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Location returns the store's configured time zone.
func (s *Store) Location() *time.Location {
	return s.loc
}

// DB exposes the underlying handle for health checks and test harnesses.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the prepared statements and the database connection.
func (s *Store) Close() error {
	var firstErr error

	if err := s.stmtInsertEvent.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("failed to close insertEvent statement: %w", err)
	}
	if err := s.stmtEventExists.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("failed to close eventExists statement: %w", err)
	}
	if err := s.db.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("failed to close database: %w", err)
	}

	if firstErr != nil {
		return firstErr
	}

	slog.Info("[SQLStore] Store closed gracefully")
	return nil
}
