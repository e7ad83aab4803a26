package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/syntrixbase/searchindexer/internal/config"
	"github.com/syntrixbase/searchindexer/internal/logging"
	"github.com/syntrixbase/searchindexer/internal/services"
)

func main() {
	// 0. Parse Command Line Flags
	configDir := flag.String("config", "config", "Directory holding config.yml and config.local.yml")
	runCoordinator := flag.Bool("coordinator", false, "Run the coordinator")
	runWorkers := flag.Bool("workers", false, "Run the indexing workers")
	runIngest := flag.Bool("ingest", false, "Run the ingest adapters")
	runAPI := flag.Bool("api", false, "Run the HTTP API")
	runAll := flag.Bool("all", false, "Run every role")
	flag.Parse()

	opts := services.Options{
		RunCoordinator: *runCoordinator,
		RunWorkers:     *runWorkers,
		RunIngest:      *runIngest,
		RunAPI:         *runAPI,
	}
	// Default to running all if no specific flags are provided or if --all is set
	if *runAll || opts == (services.Options{}) {
		opts = services.All()
	}

	// 1. Load Configuration
	cfg, err := config.Load(*configDir)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := logging.Initialize(cfg.Logging); err != nil {
		log.Fatalf("Failed to initialize logging: %v", err)
	}
	defer logging.Shutdown()

	slog.Info("Starting search indexer...",
		"coordinator", opts.RunCoordinator,
		"workers", opts.RunWorkers,
		"ingest", opts.RunIngest,
		"api", opts.RunAPI,
	)

	// 2. Initialize Service Manager
	mgr := services.NewManager(cfg, opts, slog.Default())

	initCtx, initCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer initCancel()
	if err := mgr.Init(initCtx); err != nil {
		slog.Error("Failed to initialize services", "error", err)
		mgr.Shutdown(context.Background())
		os.Exit(1)
	}

	// 3. Start Services
	bgCtx, bgCancel := context.WithCancel(context.Background())
	defer bgCancel()

	exitCode := 0
	if err := mgr.Start(bgCtx); err != nil {
		slog.Error("Failed to start services", "error", err)
		exitCode = 1
	} else {
		// 4. Wait for Shutdown
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		select {
		case sig := <-quit:
			slog.Info("Shutting down services...", "signal", sig.String())
		case <-mgr.Done():
			slog.Error("Coordinator stopped after a fatal error, shutting down")
			exitCode = 1
		}
	}

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	mgr.Shutdown(shutdownCtx)
	bgCancel()

	slog.Info("All services stopped.")
	if exitCode != 0 {
		logging.Shutdown()
		os.Exit(exitCode)
	}
}
