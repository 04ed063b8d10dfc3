package pipeline

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/tallylab/tally/internal/validation"
)

// ErrorLog writes one plain-text entry per failed record: row number, the
// failing field and reason, then the raw row contents.
type ErrorLog struct {
	mu     sync.Mutex
	w      io.Writer
	closer io.Closer
}

// NewErrorLog wraps an arbitrary writer.
func NewErrorLog(w io.Writer) *ErrorLog {
	return &ErrorLog{w: w}
}

// OpenErrorLog creates (or truncates) a log file at path.
func OpenErrorLog(path string) (*ErrorLog, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create error log %q: %w", path, err)
	}
	return &ErrorLog{w: f, closer: f}, nil
}

// Record appends one diagnostic entry.
func (l *ErrorLog) Record(rowErr *validation.RowError) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintf(l.w, "[%d] %s: %s\nrow: %s\n\n",
		rowErr.Row, rowErr.Field, rowErr.Reason, rowErr.Raw)
}

// Close closes the underlying file, when the log owns one.
func (l *ErrorLog) Close() error {
	if l.closer == nil {
		return nil
	}
	return l.closer.Close()
}
