package analytics

// DAUPoint is one day of the daily-active-users report.
type DAUPoint struct {
	Date        string `json:"date"`
	UniqueUsers int    `json:"unique_users"`
}

// TypeCount is one entry of the top-events report.
type TypeCount struct {
	EventType string `json:"event_type"`
	Count     int64  `json:"count"`
}

// RetentionPoint is one day of a cohort retention report.
type RetentionPoint struct {
	Day           string  `json:"day"`
	RetainedUsers int     `json:"retained_users"`
	RetentionRate float64 `json:"retention_rate"`
}

// RetentionReport is either a list of per-day points or, when the base
// cohort is empty, a descriptive no-data result. Callers must handle both
// shapes; the HTTP layer serializes them differently.
type RetentionReport struct {
	NoData    bool
	Message   string
	StartDate string
	Points    []RetentionPoint
}
