package analytics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/araddon/dateparse"
	"github.com/gin-gonic/gin"
	httperr "github.com/tallylab/tally/internal/core/errors"
)

// RegisterRoutes registers the stats API routes.
func (s *Service) RegisterRoutes(r gin.IRouter) {
	r.GET("/v1/stats/dau", s.HandleDAU)
	r.GET("/v1/stats/top-events", s.HandleTopEvents)
	r.GET("/v1/stats/retention", s.HandleRetention)
}

// HandleDAU handles GET /v1/stats/dau?from=&to=
func (s *Service) HandleDAU(c *gin.Context) {
	start, end, ok := bindWindow(c)
	if !ok {
		return
	}

	points, err := s.GetDAU(c.Request.Context(), start, end)
	if err != nil {
		writeInternal(c, "Failed to compute DAU", err)
		return
	}
	if points == nil {
		points = []DAUPoint{}
	}
	c.JSON(http.StatusOK, points)
}

// HandleTopEvents handles GET /v1/stats/top-events?from=&to=&limit=
func (s *Service) HandleTopEvents(c *gin.Context) {
	start, end, ok := bindWindow(c)
	if !ok {
		return
	}
	limit, ok := bindPositiveInt(c, "limit", DefaultTopLimit)
	if !ok {
		return
	}

	counts, err := s.GetTopEvents(c.Request.Context(), start, end, limit)
	if err != nil {
		writeInternal(c, "Failed to compute top events", err)
		return
	}
	if counts == nil {
		counts = []TypeCount{}
	}
	c.JSON(http.StatusOK, counts)
}

// HandleRetention handles GET /v1/stats/retention?start_date=&windows=
// The response is a list of per-day rows, or the alternate no-data object
// when the base cohort is empty.
func (s *Service) HandleRetention(c *gin.Context) {
	startDate, ok := bindDate(c, "start_date")
	if !ok {
		return
	}
	windows, ok := bindPositiveInt(c, "windows", DefaultRetentionWindows)
	if !ok {
		return
	}

	report, err := s.GetRetention(c.Request.Context(), startDate, windows)
	if err != nil {
		writeInternal(c, "Failed to compute retention", err)
		return
	}

	if report.NoData {
		c.JSON(http.StatusOK, gin.H{
			"message":    report.Message,
			"start_date": report.StartDate,
		})
		return
	}
	c.JSON(http.StatusOK, report.Points)
}

// bindWindow parses the from/to query dates. Unparseable input is a query
// input error, rejected here before it reaches the engine.
func bindWindow(c *gin.Context) (time.Time, time.Time, bool) {
	start, ok := bindDate(c, "from")
	if !ok {
		return time.Time{}, time.Time{}, false
	}
	end, ok := bindDate(c, "to")
	if !ok {
		return time.Time{}, time.Time{}, false
	}
	return start, end, true
}

func bindDate(c *gin.Context, param string) (time.Time, bool) {
	raw := c.Query(param)
	if raw == "" {
		writeInvalidQuery(c, "missing required query parameter "+param)
		return time.Time{}, false
	}
	t, err := dateparse.ParseAny(raw)
	if err != nil {
		writeInvalidQuery(c, "cannot parse date parameter "+param+": "+raw)
		return time.Time{}, false
	}
	return t.UTC(), true
}

func bindPositiveInt(c *gin.Context, param string, fallback int) (int, bool) {
	raw := c.Query(param)
	if raw == "" {
		return fallback, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		writeInvalidQuery(c, param+" must be a positive integer")
		return 0, false
	}
	return n, true
}

func writeInvalidQuery(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
		ErrorType: httperr.HttpInvalidQueryError,
		Message:   msg,
	})
}

func writeInternal(c *gin.Context, msg string, err error) {
	c.JSON(http.StatusInternalServerError, httperr.ErrorResponse{
		ErrorType: httperr.HttpInternalError,
		Message:   msg,
		Details:   err.Error(),
	})
}
