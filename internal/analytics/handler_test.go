package analytics

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	httperr "github.com/tallylab/tally/internal/core/errors"
	"github.com/tallylab/tally/internal/core/storage/sqlstore"
)

func newStatsRouter(t *testing.T) (*gin.Engine, *sqlstore.Store) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := newAnalyticsStore(t)
	router := gin.New()
	NewService(store).RegisterRoutes(router)
	return router, store
}

func doGet(router *gin.Engine, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	router.ServeHTTP(w, req)
	return w
}

func TestHandleDAU_MissingParamRejected(t *testing.T) {
	router, _ := newStatsRouter(t)

	w := doGet(router, "/v1/stats/dau?from=2025-10-30")
	require.Equal(t, http.StatusBadRequest, w.Code)

	var resp httperr.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, httperr.HttpInvalidQueryError, resp.ErrorType)
	require.Contains(t, resp.Message, "to")
}

func TestHandleDAU_UnparseableDateRejected(t *testing.T) {
	router, _ := newStatsRouter(t)

	w := doGet(router, "/v1/stats/dau?from=yesterdayish&to=2025-11-01")
	require.Equal(t, http.StatusBadRequest, w.Code)

	var resp httperr.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, httperr.HttpInvalidQueryError, resp.ErrorType)
}

func TestHandleDAU_EmptyRangeIsEmptyArray(t *testing.T) {
	router, _ := newStatsRouter(t)

	w := doGet(router, "/v1/stats/dau?from=2025-10-01&to=2025-10-02")
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, "[]", w.Body.String())
}

func TestHandleTopEvents_InvalidLimitRejected(t *testing.T) {
	router, _ := newStatsRouter(t)

	w := doGet(router, "/v1/stats/top-events?from=2025-10-01&to=2025-10-02&limit=-3")
	require.Equal(t, http.StatusBadRequest, w.Code)

	var resp httperr.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, httperr.HttpInvalidQueryError, resp.ErrorType)
	require.Contains(t, resp.Message, "limit")
}

func TestHandleRetention_NoDataShape(t *testing.T) {
	router, _ := newStatsRouter(t)

	w := doGet(router, "/v1/stats/retention?start_date=2025-10-30")
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, "no events found for base cohort", resp["message"])
	require.Equal(t, "2025-10-30", resp["start_date"])
}

func TestHandleRetention_PointsShape(t *testing.T) {
	router, store := newStatsRouter(t)

	day0 := time.Date(2025, 10, 30, 12, 0, 0, 0, time.UTC)
	seedEvents(t, store,
		evt("e1", "user1", "login", day0),
		evt("e2", "user2", "login", day0),
		evt("e3", "user1", "click", day0.AddDate(0, 0, 1)),
	)

	w := doGet(router, "/v1/stats/retention?start_date=2025-10-30&windows=2")
	require.Equal(t, http.StatusOK, w.Code)

	var points []RetentionPoint
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &points))
	require.Equal(t, []RetentionPoint{
		{Day: "2025-10-30", RetainedUsers: 2, RetentionRate: 1.0},
		{Day: "2025-10-31", RetainedUsers: 1, RetentionRate: 0.5},
	}, points)
}
