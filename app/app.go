// Package app wires the sync components together for the daemon and the CLI.
package app

import (
	"context"
	"fmt"
	"net/url"

	"github.com/rs/zerolog/log"
	"listings_sync/config"
	"listings_sync/feed"
	"listings_sync/geocode"
	"listings_sync/httputil"
	"listings_sync/lock"
	"listings_sync/services"
	"listings_sync/storage"
	"listings_sync/syncer"
)

const (
	lockPrefix         = "listings_sync:lock:"
	geocodeMaxInFlight = 4
)

type App struct {
	Config     *config.Config
	Clients    *httputil.Clients
	Postgres   *storage.PostgresStore
	SQLite     *storage.SQLiteStore
	Feed       *feed.Client
	Runner     *syncer.Runner
	Dispatcher *syncer.GoDispatcher

	redis *lock.RedisLocker
}

// New opens both stores, runs migrations when enabled and builds the runner.
// On error everything opened so far is already closed.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	if cfg.Postgres.URL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if len(cfg.Feeds) == 0 {
		return nil, fmt.Errorf("no feeds configured")
	}

	a := &App{Config: cfg, Clients: httputil.NewClients(cfg)}

	log.Info().Str("url", MaskConnectionString(cfg.Postgres.URL)).Msg("Connecting to Postgres")
	pg, err := storage.NewPostgresStore(ctx, cfg.Postgres.URL, cfg.Postgres.MaxConns)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	a.Postgres = pg

	if cfg.Postgres.Migrate {
		if err := pg.Migrate(ctx); err != nil {
			a.Close()
			return nil, fmt.Errorf("migrate postgres: %w", err)
		}
	}

	sqlite, err := storage.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("open sqlite %s: %w", cfg.DBPath, err)
	}
	a.SQLite = sqlite

	if n, err := sqlite.MarkInterruptedRuns(); err != nil {
		log.Warn().Err(err).Msg("Failed to mark interrupted runs")
	} else if n > 0 {
		log.Warn().Int64("runs", n).Msg("Marked runs left over from a previous process as failed")
	}

	var locker lock.Locker
	if cfg.Redis.URL != "" {
		rl, err := lock.NewRedisLocker(ctx, cfg.Redis.URL, lockPrefix)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		a.redis = rl
		locker = rl
		log.Info().Str("url", MaskConnectionString(cfg.Redis.URL)).Msg("Using Redis sync locks")
	} else {
		log.Info().Msg("REDIS_URL not set, sync locks are process-local")
	}

	a.Feed = feed.NewClient(cfg.Feeds, feed.OptionsFromConfig(cfg.Feed, a.Clients.Feed))

	orch := syncer.NewOrchestrator(a.Feed, pg, services.NewHistoryService(pg), syncer.Config{
		BatchSize:          cfg.Sync.BatchSize,
		CheckpointInterval: cfg.Sync.CheckpointInterval,
		StallThreshold:     cfg.Sync.StallThreshold,
		StartTimestamp:     cfg.Sync.StartTimestamp,
		GeocodeEnabled:     cfg.Geocode.Enabled,
	})
	if cfg.Geocode.Enabled {
		a.Dispatcher = syncer.NewGoDispatcher(geocodeMaxInFlight, cfg.Sync.GeocodeTimeout)
		orch.SetGeocoder(geocode.New(cfg.Geocode, a.Clients.Geocode, pg), a.Dispatcher)
	}

	a.Runner = syncer.NewRunner(orch, locker, sqlite, cfg.Redis.LockTTL)
	return a, nil
}

// Close waits for in-flight geocoding and releases every connection.
func (a *App) Close() {
	if a.Dispatcher != nil {
		a.Dispatcher.Wait()
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			log.Warn().Err(err).Msg("Close redis")
		}
	}
	if a.SQLite != nil {
		if err := a.SQLite.Close(); err != nil {
			log.Warn().Err(err).Msg("Close sqlite")
		}
	}
	if a.Postgres != nil {
		a.Postgres.Close()
	}
}

// MaskConnectionString hides the password of a URL-style connection string.
func MaskConnectionString(s string) string {
	u, err := url.Parse(s)
	if err != nil || u.Host == "" {
		return "***"
	}
	return u.Redacted()
}
