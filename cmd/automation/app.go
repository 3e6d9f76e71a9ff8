package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
	"github.com/redis/go-redis/v9"

	"github.com/goliatone/go-automation"
	"github.com/goliatone/go-automation/action"
	"github.com/goliatone/go-automation/archive"
	"github.com/goliatone/go-automation/config"
	"github.com/goliatone/go-automation/cron"
	"github.com/goliatone/go-automation/dispatcher"
	"github.com/goliatone/go-automation/flow"
	"github.com/goliatone/go-automation/metrics"
	"github.com/goliatone/go-automation/stats"
	"github.com/goliatone/go-automation/store"
	"github.com/goliatone/go-automation/trigger"
)

// App holds the wired engine for one process.
type App struct {
	Config     config.Config
	Logger     automation.Logger
	Store      store.Store
	Stats      *stats.Aggregator
	Registry   *action.Registry
	Dispatcher *dispatcher.Dispatcher
	Scheduler  *cron.Scheduler
	Stdout     io.Writer

	sql     *store.SQLStore
	closers []func() error
}

// NewApp wires the engine described by cfg.
func NewApp(ctx context.Context, cfg config.Config, stdout, stderr io.Writer) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: newLogger(cfg.Log.Level, cfg.Log.Format, stderr),
		Stdout: stdout,
	}

	if err := app.openStore(ctx); err != nil {
		return nil, err
	}

	statsStore, err := app.statsStore(ctx)
	if err != nil {
		app.Close()
		return nil, err
	}
	app.Stats = stats.New(statsStore,
		stats.WithMaxAttempts(cfg.Stats.MaxAttempts),
		stats.WithLogger(app.Logger),
	)

	executions, err := app.executionStore(ctx)
	if err != nil {
		app.Close()
		return nil, err
	}

	app.Registry = action.NewRegistry(loggingProviders(app.Logger),
		action.WithTimeouts(cfg.Webhook.DefaultTimeout, cfg.Webhook.MaxTimeout),
		action.WithHostRateLimit(cfg.Webhook.RatePerSecond, cfg.Webhook.Burst),
	)

	recorder, err := metrics.NewRecorder(nil)
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("metrics: %w", err)
	}

	panics := automation.LoggerPanicLogger(app.Logger)
	orchestrator := flow.New(executions, app.Stats, app.Registry,
		flow.WithLogger(app.Logger),
		flow.WithPanicLogger(panics),
		flow.WithMetrics(recorder),
		flow.WithActionTimeout(cfg.Engine.ActionTimeout),
		flow.WithRunTimeout(cfg.Engine.RunTimeout),
	)

	matcher := trigger.NewMatcher(app.Store, trigger.WithLogger(app.Logger))
	app.Dispatcher = dispatcher.New(matcher, app.Store, orchestrator,
		dispatcher.WithConcurrency(cfg.Engine.Concurrency),
		dispatcher.WithDedupWindow(cfg.Engine.DedupWindow),
		dispatcher.WithLogger(app.Logger),
		dispatcher.WithPanicLogger(panics),
	)

	loc, err := cfg.Scheduler.TimeLocation()
	if err != nil {
		app.Close()
		return nil, err
	}
	parser, err := cron.ParseParser(cfg.Scheduler.Parser)
	if err != nil {
		app.Close()
		return nil, err
	}
	app.Scheduler = cron.NewScheduler(app.Store, app.Dispatcher,
		cron.WithLocation(loc),
		cron.WithParser(parser),
		cron.WithLogger(app.Logger),
		cron.WithLogLevel(cron.LogLevelInfo),
		cron.WithJobTimeout(cfg.Engine.RunTimeout),
		cron.WithErrorHandler(func(err error) {
			app.Logger.Error("scheduler: %v", err)
		}),
	)

	return app, nil
}

func (a *App) openStore(ctx context.Context) error {
	switch a.Config.Store.Driver {
	case "", "memory":
		a.Store = store.NewMemoryStore()
		return nil
	default:
		dialect, err := store.ParseDialect(a.Config.Store.Driver)
		if err != nil {
			return err
		}
		s, err := store.OpenSQL(ctx, dialect, a.Config.Store.DSN)
		if err != nil {
			return err
		}
		a.sql = s
		a.Store = s
		a.closers = append(a.closers, s.Close)
		return nil
	}
}

func (a *App) statsStore(ctx context.Context) (store.StatsStore, error) {
	if a.Config.Stats.Backend != "redis" {
		return a.Store, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     a.Config.Stats.RedisAddr,
		Password: a.Config.Stats.RedisPassword,
		DB:       a.Config.Stats.RedisDB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis stats backend: %w", err)
	}
	a.closers = append(a.closers, client.Close)
	return store.NewRedisStatsStore(client, ""), nil
}

func (a *App) executionStore(ctx context.Context) (store.ExecutionStore, error) {
	exp, err := a.exporter(ctx)
	if err != nil || exp == nil {
		return a.Store, err
	}
	return archive.NewArchivingStore(a.Store, exp, a.Logger), nil
}

func (a *App) exporter(ctx context.Context) (archive.Exporter, error) {
	cfg := a.Config.Archive
	switch cfg.Driver {
	case "", "none":
		return nil, nil
	case "ndjson":
		if cfg.Path == "" || cfg.Path == "-" {
			return archive.NewNDJSONExporter(a.Stdout), nil
		}
		f, err := os.OpenFile(cfg.Path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("archive file: %w", err)
		}
		a.closers = append(a.closers, f.Close)
		return archive.NewNDJSONExporter(f), nil
	case "minio":
		mcfg := archive.MinIOConfig{
			Endpoint:  cfg.Endpoint,
			AccessKey: cfg.AccessKey,
			SecretKey: cfg.SecretKey,
			Region:    cfg.Region,
			Bucket:    cfg.Bucket,
			Prefix:    cfg.Prefix,
			UseSSL:    cfg.UseSSL,
		}
		client, err := archive.NewMinIOClient(mcfg)
		if err != nil {
			return nil, fmt.Errorf("archive minio: %w", err)
		}
		if err := archive.EnsureBucket(ctx, client, mcfg.Bucket, mcfg.Region); err != nil {
			return nil, fmt.Errorf("archive bucket: %w", err)
		}
		return archive.NewMinIOExporter(client, mcfg.Bucket, mcfg.Prefix), nil
	default:
		return nil, fmt.Errorf("unknown archive driver %q", cfg.Driver)
	}
}

// Migrate creates the SQL schema. It is a no-op for the memory store.
func (a *App) Migrate(ctx context.Context) error {
	if a.sql == nil {
		a.Logger.Info("memory store selected, nothing to migrate")
		return nil
	}
	return a.sql.Migrate(ctx)
}

// Close releases every resource opened by NewApp.
func (a *App) Close() error {
	var errs error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = errors.Join(errs, a.closers[i]())
	}
	a.closers = nil
	return errs
}
