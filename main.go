package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"listings_sync/api"
	"listings_sync/app"
	"listings_sync/config"
	"listings_sync/logging"
	"listings_sync/models"
	"listings_sync/scheduler"
	"listings_sync/storage"
	"listings_sync/syncer"
	"listings_sync/workers"
)

const (
	mirrorBatchSize = 20
	mirrorInterval  = 2 * time.Minute
)

var (
	syncNow  = flag.Bool("sync", false, "Run an incremental sync of every feed once and exit")
	resetNow = flag.Bool("reset", false, "With -sync, restart every feed from the configured start timestamp")
)

func main() {
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}

	logFile, err := logging.Setup(logging.Options{Path: cfg.LogFile, Level: cfg.LogLevel, Format: cfg.LogFormat})
	if err != nil {
		log.Warn().Err(err).Str("path", cfg.LogFile).Msg("Could not set up file logging")
	} else if logFile != nil {
		defer logFile.Close()
	}

	log.Info().Int("feeds", len(cfg.Feeds)).Msg("Starting listings_sync")
	for _, t := range cfg.FeedTypes() {
		f := cfg.Feeds[t]
		log.Info().Str("sync_type", string(t)).Str("name", f.Name).Str("base_url", f.BaseURL).Msg("Feed configured")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize")
	}
	defer a.Close()

	if *syncNow {
		if err := runOnce(ctx, a, *resetNow); err != nil {
			a.Close()
			log.Fatal().Err(err).Msg("Sync failed")
		}
		log.Info().Msg("Sync complete")
		return
	}

	sched := scheduler.New(cfg.Scheduler, cfg.FeedTypes(), a.Runner, a.SQLite)

	if cfg.S3.Enabled() {
		uploader, err := storage.NewS3Uploader(ctx, cfg.S3)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to configure media storage")
		}
		mirror := workers.NewMediaMirror(a.Postgres, uploader, a.Clients.Media)
		sched.SetMediaWorker(mirror)
		go mirror.Run(ctx, mirrorBatchSize, mirrorInterval)
		log.Info().Str("bucket", cfg.S3.Bucket).Msg("Media mirror started")
	} else {
		log.Info().Msg("S3 not configured, media mirror disabled")
	}

	if err := sched.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to start scheduler")
	}

	srv := &http.Server{
		Addr: fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: api.NewRouter(a.Postgres, api.Options{
			RateLimitPerMin: cfg.Server.RateLimitPerMin,
			Runs:            a.SQLite,
			Pause:           a.Runner,
		}),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("API listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("API server stopped")
			cancel()
		}
	}()

	log.Info().Msg("Daemon running. Press Ctrl+C to stop.")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("Shutting down")
	case <-ctx.Done():
		log.Info().Msg("Shutting down after server failure")
	}

	// Scheduler first so a running sync checkpoints before connections close.
	sched.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("API shutdown")
	}

	cancel()
	log.Info().Msg("Goodbye!")
}

func runOnce(ctx context.Context, a *app.App, reset bool) error {
	results, err := a.Runner.RunAll(ctx, a.Config.FeedTypes(), syncer.RunOptions{Reset: reset})
	for _, res := range results {
		if res == nil {
			continue
		}
		log.Info().
			Str("sync_type", string(res.SyncType)).
			Int("processed", res.Processed).
			Int("total", res.Total).
			Float64("media_coverage", res.Coverage.Ratio(models.EntityMedia)).
			Dur("elapsed", res.Elapsed).
			Msg("Feed synced")
	}
	return err
}
