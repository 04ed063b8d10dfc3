package pipeline

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/tallylab/tally/internal/validation"
)

// CSVSource streams records from a header-driven CSV file. A missing file or
// a header lacking the required columns is a source-level error at
// construction; a short row is not - missing cells read as empty fields and
// fail validation row by row, like any other bad record.
type CSVSource struct {
	file   *os.File
	reader *csv.Reader
	header []string
	row    int
}

// NewCSVSource opens the file and verifies the header.
func NewCSVSource(path string) (*CSVSource, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open CSV file %q: %w", path, err)
	}

	reader := csv.NewReader(file)
	// Short and long rows are a row-level concern, handled by validation.
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		file.Close()
		if err == io.EOF {
			return nil, fmt.Errorf("CSV file %q is empty: missing header row", path)
		}
		return nil, fmt.Errorf("failed to read CSV header from %q: %w", path, err)
	}

	columns := make(map[string]struct{}, len(header))
	for _, name := range header {
		columns[strings.TrimSpace(name)] = struct{}{}
	}
	var missing []string
	for _, required := range validation.RequiredFields {
		if _, ok := columns[required]; !ok {
			missing = append(missing, required)
		}
	}
	if len(missing) > 0 {
		file.Close()
		return nil, fmt.Errorf("CSV file %q is missing required columns: %s",
			path, strings.Join(missing, ", "))
	}

	return &CSVSource{
		file:   file,
		reader: reader,
		header: header,
	}, nil
}

// Next returns the next row as a raw record, io.EOF at end of file.
func (s *CSVSource) Next() (validation.Record, error) {
	cols, err := s.reader.Read()
	if err == io.EOF {
		return validation.Record{}, io.EOF
	}
	if err != nil {
		return validation.Record{}, fmt.Errorf("failed to read CSV row %d: %w", s.row+1, err)
	}

	s.row++
	fields := make(map[string]string, len(s.header))
	for i, name := range s.header {
		if i < len(cols) {
			fields[strings.TrimSpace(name)] = cols[i]
		}
	}

	return validation.Record{
		Row:    s.row,
		Fields: fields,
		Raw:    strings.Join(cols, ","),
	}, nil
}

// Close releases the underlying file.
func (s *CSVSource) Close() error {
	return s.file.Close()
}
