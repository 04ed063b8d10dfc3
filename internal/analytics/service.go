// Package analytics computes the read-only reports over the event store:
// daily active users, top event types in a window, and N-day cohort
// retention. All reports are pure reads; repeated calls against an unchanged
// store return identical results.
package analytics

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tallylab/tally/internal/core/storage"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultTopLimit caps the top-events report when callers pass no limit.
	DefaultTopLimit = 10
	// DefaultRetentionWindows is the cohort tracking span in days.
	DefaultRetentionWindows = 3

	// retentionConcurrency bounds the per-day cohort scans running at once.
	retentionConcurrency = 4

	dayFormat = "2006-01-02"
)

// Service answers analytical queries over the event store. It assumes
// pre-validated, well-formed time ranges: date parsing is the boundary's job.
type Service struct {
	store storage.EventStore
}

// NewService creates the analytics engine over the given store.
func NewService(store storage.EventStore) *Service {
	if store == nil {
		panic("analytics: store must not be nil")
	}
	return &Service{store: store}
}

// GetDAU reports distinct active users per calendar day in [start, end].
// Days with zero events are omitted, not reported as zero.
func (s *Service) GetDAU(ctx context.Context, start, end time.Time) ([]DAUPoint, error) {
	rows, err := s.store.DailyActiveUsers(ctx, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to compute DAU: %w", err)
	}

	points := make([]DAUPoint, len(rows))
	for i, r := range rows {
		points[i] = DAUPoint{Date: r.Date, UniqueUsers: r.UniqueUsers}
	}
	return points, nil
}

// GetTopEvents reports the limit most frequent event types in [start, end],
// descending by count. Equal counts order ascending by event type name, so
// results are stable across runs.
func (s *Service) GetTopEvents(ctx context.Context, start, end time.Time, limit int) ([]TypeCount, error) {
	if limit <= 0 {
		limit = DefaultTopLimit
	}

	rows, err := s.store.TopEventTypes(ctx, start, end, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to compute top events: %w", err)
	}

	counts := make([]TypeCount, len(rows))
	for i, r := range rows {
		counts[i] = TypeCount{EventType: r.EventType, Count: r.Count}
	}
	return counts, nil
}

// GetRetention tracks the cohort of users active on startDate across the
// following windows days (offset 0 is startDate itself). The retention rate
// is retained/cohort rounded to 3 decimal places. An empty base cohort
// produces the descriptive no-data report rather than windows rows.
func (s *Service) GetRetention(ctx context.Context, startDate time.Time, windows int) (*RetentionReport, error) {
	if windows <= 0 {
		windows = DefaultRetentionWindows
	}

	base, err := s.store.DistinctUsersOnDate(ctx, startDate)
	if err != nil {
		return nil, fmt.Errorf("failed to load base cohort: %w", err)
	}

	if len(base) == 0 {
		slog.Debug("[Analytics] Empty base cohort",
			"start_date", startDate.Format(dayFormat))
		return &RetentionReport{
			NoData:    true,
			Message:   "no events found for base cohort",
			StartDate: startDate.Format(dayFormat),
		}, nil
	}

	cohortSize := decimal.NewFromInt(int64(len(base)))
	points := make([]RetentionPoint, windows)

	// Each offset is an independent distinct-users scan; fan out with a
	// bounded group. Offset 0 re-reads the base day, matching the report's
	// definition (rate 1.0 unless the store changed underneath).
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(retentionConcurrency)
	for i := 0; i < windows; i++ {
		i := i
		g.Go(func() error {
			day := startDate.AddDate(0, 0, i)
			active, err := s.store.DistinctUsersOnDate(gctx, day)
			if err != nil {
				return fmt.Errorf("failed to load cohort for day %s: %w", day.Format(dayFormat), err)
			}

			retained := 0
			for user := range base {
				if _, ok := active[user]; ok {
					retained++
				}
			}

			rate := decimal.NewFromInt(int64(retained)).
				Div(cohortSize).
				Round(3).
				InexactFloat64()

			points[i] = RetentionPoint{
				Day:           day.Format(dayFormat),
				RetainedUsers: retained,
				RetentionRate: rate,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return &RetentionReport{
		StartDate: startDate.Format(dayFormat),
		Points:    points,
	}, nil
}
