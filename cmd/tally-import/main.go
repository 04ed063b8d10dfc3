// tally-import bulk-loads events from a CSV file into the event store,
// sharing the validation, dedup and batching pipeline with the live API.
// Row-level problems are logged and skipped; source-level problems (missing
// file, bad header, unreachable store) exit non-zero.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"time"

	"github.com/tallylab/tally/internal/config"
	"github.com/tallylab/tally/internal/core/storage/sqlstore"
	"github.com/tallylab/tally/internal/pipeline"
)

func main() {
	configPath := flag.String("config", "tally.yaml", "Path to configuration file")
	csvPath := flag.String("file", "", "Path to the CSV file to import (required)")
	batchSize := flag.Int("batch-size", 0, "Batch flush size (overrides ingest.batch_size)")
	errorLogPath := flag.String("error-log", "", "Per-row diagnostics file (overrides ingest.error_log)")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if *csvPath == "" {
		slog.Error("Missing required -file flag")
		flag.Usage()
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	if *batchSize > 0 {
		cfg.Ingest.BatchSize = *batchSize
	}
	if *errorLogPath != "" {
		cfg.Ingest.ErrorLog = *errorLogPath
	}

	loc, err := cfg.Database.Location()
	if err != nil {
		slog.Error("Invalid database timezone", "error", err)
		os.Exit(1)
	}

	store, err := sqlstore.New(sqlstore.Config{
		Driver:       cfg.Database.Driver,
		DSN:          cfg.Database.DSN,
		MaxOpenConns: cfg.Database.MaxOpenConns,
		MaxIdleConns: cfg.Database.MaxIdleConns,
		Location:     loc,
		AutoMigrate:  cfg.Database.AutoMigrate,
	})
	if err != nil {
		slog.Error("Failed to initialize event store", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	errLog, err := pipeline.OpenErrorLog(cfg.Ingest.ErrorLog)
	if err != nil {
		slog.Error("Failed to open error log", "error", err)
		os.Exit(1)
	}
	defer errLog.Close()

	source, err := pipeline.NewCSVSource(*csvPath)
	if err != nil {
		slog.Error("Failed to open CSV source", "error", err)
		os.Exit(1)
	}
	defer source.Close()

	p := pipeline.New(store, pipeline.Options{
		BatchSize: cfg.Ingest.BatchSize,
		ErrorLog:  errLog,
	})

	slog.Info("Starting import",
		"file", *csvPath,
		"batch_size", cfg.Ingest.BatchSize,
		"error_log", cfg.Ingest.ErrorLog)

	start := time.Now()
	summary, err := p.Run(context.Background(), source)
	if err != nil {
		slog.Error("Import aborted", "error", err,
			"imported", summary.Imported,
			"skipped", summary.Skipped,
			"failed", summary.Failed)
		os.Exit(1)
	}

	slog.Info("Import finished",
		"imported", summary.Imported,
		"skipped", summary.Skipped,
		"failed", summary.Failed,
		"total", summary.Total(),
		"elapsed", time.Since(start).Round(time.Millisecond))
}
