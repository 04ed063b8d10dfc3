package sqlstore

import "fmt"

// dialect captures the few SQL differences between the supported backends.
// Placeholders use the $N form, which both lib/pq and mattn/go-sqlite3 accept,
// so only the calendar-day expression varies.
type dialect struct {
	// driver is the database/sql driver name.
	driver string
	// dayExpr renders occurred_at as a "YYYY-MM-DD" string.
	dayExpr string
	// tableExistsQuery checks that the events table is present (migrations ran).
	tableExistsQuery string
}

var dialects = map[string]dialect{
	"postgres": {
		driver:  "postgres",
		dayExpr: "to_char(occurred_at, 'YYYY-MM-DD')",
		tableExistsQuery: `
			SELECT EXISTS (
				SELECT FROM information_schema.tables
				WHERE table_name = 'events'
			)
		`,
	},
	"sqlite3": {
		driver:  "sqlite3",
		dayExpr: "strftime('%Y-%m-%d', occurred_at)",
		tableExistsQuery: `
			SELECT EXISTS (
				SELECT 1 FROM sqlite_master
				WHERE type = 'table' AND name = 'events'
			)
		`,
	},
}

// dialectFor resolves a driver name to its dialect.
func dialectFor(driver string) (dialect, error) {
	d, ok := dialects[driver]
	if !ok {
		return dialect{}, fmt.Errorf("unsupported database driver %q (must be postgres or sqlite3)", driver)
	}
	return d, nil
}
