package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/tallylab/tally/internal/analytics"
	"github.com/tallylab/tally/internal/config"
	"github.com/tallylab/tally/internal/core/storage/sqlstore"
	"github.com/tallylab/tally/internal/ingestion"
	"github.com/tallylab/tally/internal/server"
)

func main() {
	configPath := flag.String("config", "tally.yaml", "Path to configuration file")
	flag.Parse()

	// 0. Initialize Logger
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// 1. Load Configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	slog.Info("Loaded config",
		"driver", cfg.Database.Driver,
		"timezone", cfg.Database.Timezone,
		"addr", fmtAddr(cfg.Server.Host, cfg.Server.Port))

	loc, err := cfg.Database.Location()
	if err != nil {
		slog.Error("Invalid database timezone", "error", err)
		os.Exit(1)
	}

	// 2. Initialize Storage (runs migrations)
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

	// 3. Initialize Services
	ingestionSvc := ingestion.NewService(store, cfg.Server.MaxBodySizeMB)
	analyticsSvc := analytics.NewService(store)

	// 4. Initialize Server
	srv := server.New(fmtAddr(cfg.Server.Host, cfg.Server.Port), store, cfg.Server.Mode)
	ingestionSvc.RegisterRoutes(srv.Engine)
	analyticsSvc.RegisterRoutes(srv.Engine)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Signal handler triggers the shutdown sequence below.
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
		<-quit
		slog.Info("Signal received, shutting down...")
		cancel()
	}()

	// HTTP server blocks until ctx is cancelled.
	if err := srv.Run(ctx); err != nil {
		slog.Error("Server stopped with error", "error", err)
	}

	slog.Info("Shutdown complete")
}

func fmtAddr(host string, port int) string {
	return fmt.Sprintf("%s:%d", host, port)
}
