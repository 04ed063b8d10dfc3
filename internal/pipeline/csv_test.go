package pipeline

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tallylab/tally/internal/validation"
)

func writeCSV(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "events.csv")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestNewCSVSource_MissingFile(t *testing.T) {
	_, err := NewCSVSource(filepath.Join(t.TempDir(), "nope.csv"))
	require.Error(t, err)
	require.ErrorContains(t, err, "failed to open CSV file")
}

func TestNewCSVSource_EmptyFile(t *testing.T) {
	path := writeCSV(t, "")
	_, err := NewCSVSource(path)
	require.Error(t, err)
	require.ErrorContains(t, err, "missing header row")
}

func TestNewCSVSource_MissingRequiredColumns(t *testing.T) {
	path := writeCSV(t, "event_id,user_id\ne1,u1\n")
	_, err := NewCSVSource(path)
	require.Error(t, err)
	require.ErrorContains(t, err, "missing required columns")
	require.ErrorContains(t, err, "occurred_at")
	require.ErrorContains(t, err, "event_type")
}

func TestCSVSource_StreamsRows(t *testing.T) {
	path := writeCSV(t,
		"event_id,occurred_at,user_id,event_type,properties\n"+
			"e1,2025-10-30T14:25:00Z,u1,login,\"{\"\"device\"\": \"\"mobile\"\"}\"\n"+
			"e2,2025-10-30T15:00:00Z,u2,click,\n")
	src, err := NewCSVSource(path)
	require.NoError(t, err)
	defer src.Close()

	first, err := src.Next()
	require.NoError(t, err)
	require.Equal(t, 1, first.Row)
	require.Equal(t, "e1", first.Fields[validation.FieldEventID])
	require.Equal(t, `{"device": "mobile"}`, first.Fields[validation.FieldProperties])

	second, err := src.Next()
	require.NoError(t, err)
	require.Equal(t, 2, second.Row)
	require.Equal(t, "click", second.Fields[validation.FieldEventType])

	_, err = src.Next()
	require.Equal(t, io.EOF, err)
}

func TestCSVSource_ShortRowFailsValidationNotTheRun(t *testing.T) {
	path := writeCSV(t,
		"event_id,occurred_at,user_id,event_type\n"+
			"e1,2025-10-30T14:25:00Z\n"+
			"e2,2025-10-30T15:00:00Z,u2,click\n")
	src, err := NewCSVSource(path)
	require.NoError(t, err)
	defer src.Close()

	store := newPipelineStore(t)
	summary, err := New(store, Options{}).Run(context.Background(), src)
	require.NoError(t, err)
	require.Equal(t, 1, summary.Imported)
	require.Equal(t, 1, summary.Failed)
	require.Len(t, summary.Diagnostics, 1)
	require.Equal(t, 1, summary.Diagnostics[0].Row)
}

func TestCSVSource_TrimsHeaderWhitespace(t *testing.T) {
	path := writeCSV(t,
		"event_id, occurred_at ,user_id,event_type\n"+
			"e1,2025-10-30T14:25:00Z,u1,login\n")
	src, err := NewCSVSource(path)
	require.NoError(t, err)
	defer src.Close()

	row, err := src.Next()
	require.NoError(t, err)
	require.Equal(t, "2025-10-30T14:25:00Z", row.Fields[validation.FieldOccurredAt])
}
