package ingestion

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"github.com/tallylab/tally/internal/core/event"
	httperr "github.com/tallylab/tally/internal/core/errors"
	"github.com/tallylab/tally/internal/core/storage/sqlstore"
)

func newIngestRouter(t *testing.T) (*gin.Engine, *sqlstore.Store) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := "file:" + filepath.Join(t.TempDir(), "tally.db") +
		"?_busy_timeout=5000&_journal_mode=WAL"
	store, err := sqlstore.New(sqlstore.Config{
		Driver:       "sqlite3",
		DSN:          dsn,
		MaxOpenConns: 4,
		MaxIdleConns: 4,
		Location:     time.UTC,
		AutoMigrate:  true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	router := gin.New()
	NewService(store, 1).RegisterRoutes(router)
	return router, store
}

func postEvents(router *gin.Engine, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/events", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)
	return w
}

func TestIngest_PersistsAndEchoesEvents(t *testing.T) {
	router, store := newIngestRouter(t)

	w := postEvents(router, `[
		{"event_id": "e1", "occurred_at": "2025-10-30T14:25:00Z", "user_id": "user1",
		 "event_type": "login", "properties": {"device": "mobile"}},
		{"event_id": "e2", "occurred_at": "2025-10-30T15:00:00Z", "user_id": "user2",
		 "event_type": "click"}
	]`)
	require.Equal(t, http.StatusOK, w.Code)

	var results []event.Event
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &results))
	require.Len(t, results, 2)
	require.Equal(t, "e1", results[0].EventID)
	require.Equal(t, event.Properties{"device": event.String("mobile")}, results[0].Properties)
	require.Equal(t, event.Properties{}, results[1].Properties)

	exists, err := store.Exists(context.Background(), "e2")
	require.NoError(t, err)
	require.True(t, exists)
}

func TestIngest_RepostEchoesStoredEvent(t *testing.T) {
	router, _ := newIngestRouter(t)

	first := postEvents(router,
		`[{"event_id": "e1", "occurred_at": "2025-10-30T14:25:00Z", "user_id": "user1", "event_type": "login"}]`)
	require.Equal(t, http.StatusOK, first.Code)

	// Same id, different payload: the stored row wins.
	second := postEvents(router,
		`[{"event_id": "e1", "occurred_at": "2025-12-01T00:00:00Z", "user_id": "someone_else", "event_type": "logout"}]`)
	require.Equal(t, http.StatusOK, second.Code)

	var results []event.Event
	require.NoError(t, json.Unmarshal(second.Body.Bytes(), &results))
	require.Len(t, results, 1)
	require.Equal(t, "user1", results[0].UserID)
	require.Equal(t, "login", results[0].EventType)
}

func TestIngest_ValidationFailureRejectsRequest(t *testing.T) {
	router, store := newIngestRouter(t)

	w := postEvents(router, `[
		{"event_id": "good", "occurred_at": "2025-10-30T14:25:00Z", "user_id": "user1", "event_type": "login"},
		{"event_id": "bad", "occurred_at": "2025-10-30T15:00:00Z", "event_type": "click"}
	]`)
	require.Equal(t, http.StatusBadRequest, w.Code)

	var resp httperr.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, httperr.HttpValidationError, resp.ErrorType)

	details, ok := resp.Details.(map[string]interface{})
	require.True(t, ok)
	require.Equal(t, float64(2), details["item"])
	require.Equal(t, "user_id", details["field"])

	// The whole request aborts; nothing from it lands in the store.
	exists, err := store.Exists(context.Background(), "good")
	require.NoError(t, err)
	require.False(t, exists)
}

func TestIngest_InvalidJSONRejected(t *testing.T) {
	router, _ := newIngestRouter(t)

	w := postEvents(router, `{"not": "an array"`)
	require.Equal(t, http.StatusBadRequest, w.Code)

	var resp httperr.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, httperr.HttpInvalidJsonError, resp.ErrorType)
}

func TestIngest_OversizedBodyRejected(t *testing.T) {
	_, store := newIngestRouter(t)

	svc := &Service{store: store, maxBodySizeBytes: 64}
	smallRouter := gin.New()
	svc.RegisterRoutes(smallRouter)

	body := `[{"event_id": "e1", "occurred_at": "2025-10-30T14:25:00Z", "user_id": "` +
		strings.Repeat("x", 128) + `", "event_type": "login"}]`
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/events", bytes.NewReader([]byte(body)))
	smallRouter.ServeHTTP(w, req)

	require.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestIngest_PropertiesAsJSONString(t *testing.T) {
	router, _ := newIngestRouter(t)

	w := postEvents(router,
		`[{"event_id": "e1", "occurred_at": "2025-10-30T14:25:00Z", "user_id": "user1",
		   "event_type": "login", "properties": "{\"plan\": \"pro\"}"}]`)
	require.Equal(t, http.StatusOK, w.Code)

	var results []event.Event
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &results))
	require.Equal(t, event.Properties{"plan": event.String("pro")}, results[0].Properties)
}

func TestListEvents_ReturnsNewestFirst(t *testing.T) {
	router, _ := newIngestRouter(t)

	post := postEvents(router, `[
		{"event_id": "old", "occurred_at": "2025-10-30T08:00:00Z", "user_id": "user1", "event_type": "login"},
		{"event_id": "new", "occurred_at": "2025-10-30T18:00:00Z", "user_id": "user1", "event_type": "click"}
	]`)
	require.Equal(t, http.StatusOK, post.Code)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/events?limit=1", nil)
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var events []event.Event
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &events))
	require.Len(t, events, 1)
	require.Equal(t, "new", events[0].EventID)
}

func TestListEvents_InvalidLimitRejected(t *testing.T) {
	router, _ := newIngestRouter(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/events?limit=zero", nil)
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusBadRequest, w.Code)

	var resp httperr.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, httperr.HttpInvalidQueryError, resp.ErrorType)
}
