// Package pipeline drives a sequence of raw records through validation and
// into the event store: dedup against the store, batch the survivors, flush
// at a configured size. Sources stream; the whole input never sits in memory.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/tallylab/tally/internal/core/event"
	"github.com/tallylab/tally/internal/core/storage"
	"github.com/tallylab/tally/internal/validation"
)

// DefaultBatchSize bounds pending-batch memory and transaction length.
// It is the pipeline's only backpressure mechanism.
const DefaultBatchSize = 1000

// RecordSource is a lazy sequence of raw records. Next returns io.EOF when
// the source is exhausted; any other error is source-level and fatal.
type RecordSource interface {
	Next() (validation.Record, error)
	Close() error
}

// Summary is the outcome of one ingestion run.
// Imported + Skipped + Failed always equals the number of records processed.
type Summary struct {
	// Imported counts events actually inserted by the store.
	Imported int `json:"imported"`
	// Skipped counts duplicates: ids already in the store, or ids that lost
	// the insert race inside a flushed batch.
	Skipped int `json:"skipped"`
	// Failed counts records rejected by validation.
	Failed int `json:"failed"`
	// Diagnostics carries one entry per failed record.
	Diagnostics []validation.RowError `json:"diagnostics,omitempty"`
}

// Total is the number of input records accounted for.
func (s Summary) Total() int {
	return s.Imported + s.Skipped + s.Failed
}

// Options tunes a pipeline.
type Options struct {
	// BatchSize is the flush threshold. Defaults to DefaultBatchSize.
	BatchSize int
	// ErrorLog receives a plain-text entry per failed record. Optional.
	ErrorLog *ErrorLog
}

// Pipeline ingests record sources into an event store.
type Pipeline struct {
	store     storage.EventStore
	batchSize int
	errLog    *ErrorLog
}

// New creates an ingestion pipeline over the given store.
func New(store storage.EventStore, opts Options) *Pipeline {
	if store == nil {
		panic("pipeline: store must not be nil")
	}
	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Pipeline{
		store:     store,
		batchSize: batchSize,
		errLog:    opts.ErrorLog,
	}
}

// Run consumes the source to exhaustion. Row-level problems (validation
// failures, duplicates) are counted and never abort the run; source-level
// problems (unreadable source, unreachable store, failed flush) abort with
// an error and the counts gathered so far.
func (p *Pipeline) Run(ctx context.Context, src RecordSource) (Summary, error) {
	var summary Summary
	batch := make([]event.Event, 0, p.batchSize)

	for {
		rec, err := src.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return summary, fmt.Errorf("failed to read record source: %w", err)
		}

		// Duplicates are skipped before validation: the store's idempotency
		// contract makes re-validating known ids pointless work.
		exists, err := p.store.Exists(ctx, rec.Fields[validation.FieldEventID])
		if err != nil {
			return summary, fmt.Errorf("failed dedup check at row %d: %w", rec.Row, err)
		}
		if exists {
			summary.Skipped++
			continue
		}

		evt, rowErr := validation.Validate(rec)
		if rowErr != nil {
			summary.Failed++
			summary.Diagnostics = append(summary.Diagnostics, *rowErr)
			if p.errLog != nil {
				p.errLog.Record(rowErr)
			}
			continue
		}

		batch = append(batch, *evt)
		if len(batch) >= p.batchSize {
			if err := p.flush(ctx, &summary, &batch); err != nil {
				return summary, err
			}
		}
	}

	if err := p.flush(ctx, &summary, &batch); err != nil {
		return summary, err
	}

	slog.Info("[Pipeline] Ingestion run complete",
		"imported", summary.Imported,
		"skipped", summary.Skipped,
		"failed", summary.Failed,
	)
	return summary, nil
}

// flush commits the pending batch. The store may insert fewer rows than the
// batch holds when an id was committed concurrently (or appears twice in the
// batch); the difference reconciles into Skipped so the counts stay
// conserved - the store, not this pipeline, is the idempotency authority.
func (p *Pipeline) flush(ctx context.Context, summary *Summary, batch *[]event.Event) error {
	if len(*batch) == 0 {
		return nil
	}

	inserted, err := p.store.InsertBatch(ctx, *batch)
	if err != nil {
		return fmt.Errorf("failed to flush batch of %d events: %w", len(*batch), err)
	}

	summary.Imported += inserted
	summary.Skipped += len(*batch) - inserted
	*batch = (*batch)[:0]
	return nil
}
