package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/hyperengineering/tasksync/internal/api"
	"github.com/hyperengineering/tasksync/internal/auth"
	"github.com/hyperengineering/tasksync/internal/config"
	"github.com/hyperengineering/tasksync/internal/engine"
	"github.com/hyperengineering/tasksync/internal/snapshot"
	"github.com/hyperengineering/tasksync/internal/store"
	"github.com/hyperengineering/tasksync/internal/worker"
	"github.com/spf13/cobra"
)

// Version is set at build time via ldflags: -ldflags "-X main.Version=1.0.0"
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:          "tasksync",
	Short:        "Tasksync - offline task sync service",
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(diagCmd)
}

func run(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(),
		syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger, closeLog := newLogger(cfg.Log, cmd.OutOrStdout())
	defer closeLog()
	slog.SetDefault(logger)
	slog.Info("logger initialized", "level", cfg.Log.Level, "file", cfg.Log.File)

	db, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return err
	}
	slog.Info("store initialized", "path", cfg.Database.Path)

	tokens, err := auth.New(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
	if err != nil {
		db.Close()
		return err
	}

	uploader, err := snapshot.NewUploader(cfg.SnapshotStorage)
	if err != nil {
		db.Close()
		return err
	}

	eng := engine.New(db, engine.Options{
		BatchSize:      cfg.Sync.BatchSize,
		MaxRetries:     cfg.Sync.MaxRetries,
		StoreTimeout:   time.Duration(cfg.Sync.StoreTimeout),
		SessionHistory: cfg.Sync.SessionHistory,
	})
	slog.Info("engine initialized",
		"batch_size", cfg.Sync.BatchSize,
		"max_retries", cfg.Sync.MaxRetries,
	)

	handler := api.NewHandler(eng, db, tokens, Version, time.Duration(cfg.Sync.IdempotencyTTL))
	router := api.NewRouter(handler)
	slog.Info("router initialized")

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout),
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout),
	}

	// Workers get their own context so they stop after the server drains.
	workerCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()
	var wg sync.WaitGroup
	startWorker(workerCtx, &wg, "snapshot",
		worker.NewSnapshotWorker(db, uploader, time.Duration(cfg.Worker.SnapshotInterval)).Run)
	startWorker(workerCtx, &wg, "maintenance",
		worker.NewMaintenanceWorker(db, time.Duration(cfg.Worker.MaintenanceInterval)).Run)

	go func() {
		slog.Info("server starting", "address", addr)
		// ErrServerClosed is the expected result of Shutdown.
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	slog.Info("shutdown initiated")

	shutdownCtx, shutdownCancel := context.WithTimeout(
		context.Background(),
		time.Duration(cfg.Server.ShutdownTimeout))
	defer shutdownCancel()

	// Drain in-flight requests, then stop workers, then close the store.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	stopWorkers()
	wg.Wait()

	if err := db.Close(); err != nil {
		slog.Error("store close error", "error", err)
	}

	slog.Info("shutdown complete")
	return nil
}

// startWorker launches a background worker goroutine that respects context cancellation.
// Workers are tracked via WaitGroup for graceful shutdown.
func startWorker(ctx context.Context, wg *sync.WaitGroup, name string, fn func(ctx context.Context)) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		slog.Info("worker started", "worker", name)
		fn(ctx)
		slog.Info("worker stopped", "worker", name)
	}()
}
