package main

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"

	"github.com/filedrift/filedrift/internal/api"
	"github.com/filedrift/filedrift/internal/audit"
	"github.com/filedrift/filedrift/internal/blob"
	"github.com/filedrift/filedrift/internal/config"
	"github.com/filedrift/filedrift/internal/engine"
	"github.com/filedrift/filedrift/internal/rate"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the sync server",
		Long:  "Starts the REST API, the schedule runner, and the upload expiry sweeper. Blocks until SIGINT or SIGTERM.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			logger := buildLogger(cfg)

			return runServer(cmd.Context(), cfg, logger)
		},
	}
}

func runServer(parent context.Context, cfg *config.Config, logger *slog.Logger) error {
	store, err := engine.OpenStore(cfg.Server.StatePath, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	blobs, err := blob.NewStore(cfg.Server.DataDir)
	if err != nil {
		return err
	}

	staging, err := blob.NewStaging(cfg.Server.StagingDir)
	if err != nil {
		return err
	}

	clock := clockwork.NewRealClock()
	ctx := shutdownContext(parent, logger)

	limiter := rate.NewLimiter(clock)
	if err := seedLimiter(ctx, store, limiter); err != nil {
		return err
	}

	hub := api.NewEventHub(logger)
	auditor := audit.Fanout{audit.NewLogRecorder(logger), hub}

	uploads := engine.NewUploadManager(
		store, staging, blobs, limiter, auditor, clock, cfg.MaxChunkSize(), logger)
	runner := engine.NewRunner(store, blobs, auditor, logger)
	scheduler := engine.NewScheduler(
		store, runner, clock, cfg.PollInterval(), cfg.Sync.RunConcurrency, auditor, logger)
	sweeper := engine.NewSweeper(
		store, staging, clock, cfg.SweepInterval(), cfg.Retention(), auditor, logger)

	server := api.New(api.Deps{
		Store:        store,
		Uploads:      uploads,
		Runner:       runner,
		Blobs:        blobs,
		Staging:      staging,
		Limiter:      limiter,
		Hub:          hub,
		Auditor:      auditor,
		Clock:        clock,
		MaxChunkSize: cfg.MaxChunkSize(),
		Logger:       logger,
	})

	var wg sync.WaitGroup

	wg.Add(2)

	go func() {
		defer wg.Done()
		scheduler.Start(ctx)
	}()

	go func() {
		defer wg.Done()
		sweeper.Start(ctx)
	}()

	listenErr := make(chan error, 1)

	go func() {
		listenErr <- server.Listen(cfg.Server.ListenAddr)
	}()

	select {
	case err := <-listenErr:
		// Listener died on its own; still stop the background loops.
		scheduler.Stop()
		sweeper.Stop()
		wg.Wait()

		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")

	if err := server.Shutdown(); err != nil {
		logger.Error("api shutdown failed", "error", err)
	}

	scheduler.Stop()
	sweeper.Stop()
	wg.Wait()

	logger.Info("shutdown complete")

	return nil
}

// seedLimiter loads persisted bandwidth profiles so limits survive
// restarts. Later PUT /bandwidth calls update the limiter live.
func seedLimiter(ctx context.Context, store *engine.Store, limiter *rate.Limiter) error {
	profiles, err := store.ListBandwidthProfiles(ctx)
	if err != nil {
		return fmt.Errorf("seeding bandwidth limits: %w", err)
	}

	for _, p := range profiles {
		if p.UploadBPS != nil {
			limiter.SetLimit(p.OwnerID, rate.Upload, *p.UploadBPS)
		}

		if p.DownloadBPS != nil {
			limiter.SetLimit(p.OwnerID, rate.Download, *p.DownloadBPS)
		}
	}

	return nil
}
