// Package app assembles the scheduling engine from configuration. Every
// binary goes through Build so they agree on which backends are in use.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/hackgods/dental-queue-scheduling/internal/api"
	"github.com/hackgods/dental-queue-scheduling/internal/appointment"
	"github.com/hackgods/dental-queue-scheduling/internal/clock"
	"github.com/hackgods/dental-queue-scheduling/internal/config"
	"github.com/hackgods/dental-queue-scheduling/internal/db"
	"github.com/hackgods/dental-queue-scheduling/internal/directory"
	"github.com/hackgods/dental-queue-scheduling/internal/jobs"
	"github.com/hackgods/dental-queue-scheduling/internal/logging"
	"github.com/hackgods/dental-queue-scheduling/internal/notify"
	redisclient "github.com/hackgods/dental-queue-scheduling/internal/redis"
)

type App struct {
	Config     config.Config
	Service    *appointment.Service
	Reconciler *jobs.Reconciler
	// Pool and Redis are nil when the matching backend is off.
	Pool  *pgxpool.Pool
	Redis *redis.Client

	log     zerolog.Logger
	closers []func()
}

// Build connects the configured backends and wires the service. Redis is
// optional: if it is unreachable the app runs with no booking lock and
// logs announcements instead of publishing them.
func Build(ctx context.Context, cfg config.Config) (*App, error) {
	a := &App{Config: cfg, log: logging.Component("app")}

	var (
		store appointment.Store
		dir   appointment.Directory
	)
	switch cfg.Store {
	case config.StorePostgres:
		connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		pool, err := db.ConnectPostgres(connectCtx, cfg.PostgresDSN, db.PoolOptions{TimeZone: cfg.ClinicTimezone})
		cancel()
		if err != nil {
			return nil, err
		}
		a.Pool = pool
		a.closers = append(a.closers, pool.Close)

		if err := db.Migrate(ctx, pool); err != nil {
			a.Close()
			return nil, err
		}
		store = appointment.NewPgStore(pool)
		dir = directory.NewPgDirectory(pool)

	case config.StoreMemory:
		store = appointment.NewMemoryStore()
		static := directory.NewStatic()
		if cfg.DirectoryFile != "" {
			loaded, err := directory.LoadFile(cfg.DirectoryFile)
			if err != nil {
				return nil, err
			}
			static = loaded
		}
		a.log.Info().Int("dentists", len(static.List())).Msg("using in-memory store")
		dir = static

	default:
		return nil, fmt.Errorf("unknown store %q", cfg.Store)
	}

	var (
		clk      = clock.System()
		locker   redisclient.Locker = redisclient.NoopLocker{}
		notifier appointment.Notifier
	)
	if !cfg.RedisDisabled {
		rdb, err := redisclient.NewRedisClient(ctx, redisclient.Options{
			Addr:     cfg.RedisAddr,
			Username: cfg.RedisUsername,
			Password: cfg.RedisPassword,
		})
		if err != nil {
			a.log.Warn().Err(err).Msg("redis unavailable, continuing without booking locks")
		} else {
			a.Redis = rdb
			a.closers = append(a.closers, func() {
				if err := rdb.Close(); err != nil {
					a.log.Warn().Err(err).Msg("close redis")
				}
			})
			locker = redisclient.NewRedisLocker(rdb, cfg.LockTTL)
			notifier = notify.NewRedisPublisher(rdb, cfg.NotifyChannel, clk)
		}
	}
	if notifier == nil {
		notifier = notify.NewLogNotifier()
	}

	a.Service = appointment.NewService(store, dir, locker, notifier, clk, cfg)
	a.Reconciler = jobs.NewReconciler(a.Service, cfg.CancelledTTL)
	return a, nil
}

// Dependencies lists what the readiness probe checks. Postgres is
// critical; Redis only degrades the instance.
func (a *App) Dependencies() []api.Dependency {
	var deps []api.Dependency
	if a.Pool != nil {
		deps = append(deps, api.Dependency{Name: "postgres", Critical: true, Ping: a.Pool.Ping})
	}
	if a.Redis != nil {
		deps = append(deps, api.Dependency{
			Name: "redis",
			Ping: func(ctx context.Context) error { return a.Redis.Ping(ctx).Err() },
		})
	}
	return deps
}

// Close waits for in-flight announcements and releases connections in
// reverse order of acquisition.
func (a *App) Close() {
	if a.Service != nil {
		a.Service.WaitNotifications()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
