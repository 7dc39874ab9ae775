package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/LeventeLantos/broadcast-dispatch/internal/api"
	"github.com/LeventeLantos/broadcast-dispatch/internal/audio"
	"github.com/LeventeLantos/broadcast-dispatch/internal/cache"
	"github.com/LeventeLantos/broadcast-dispatch/internal/channel"
	"github.com/LeventeLantos/broadcast-dispatch/internal/client"
	"github.com/LeventeLantos/broadcast-dispatch/internal/config"
	"github.com/LeventeLantos/broadcast-dispatch/internal/logging"
	"github.com/LeventeLantos/broadcast-dispatch/internal/repo"
	"github.com/LeventeLantos/broadcast-dispatch/internal/scheduler"
	"github.com/LeventeLantos/broadcast-dispatch/internal/service"
	"github.com/LeventeLantos/broadcast-dispatch/internal/storage"
)

const shutdownTimeout = 15 * time.Second

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadAll()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	logging.Init(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	logger := logging.Component("main")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("dispatcher exited")
	}
}

func run(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	db, err := repo.Connect(ctx, cfg.Database.PostgresURL, repo.ConnectOptions{}, logging.Component("db"))
	if err != nil {
		return err
	}
	defer db.Close()

	if err := repo.Migrate(ctx, db); err != nil {
		return err
	}

	schedules := repo.NewPostgresScheduleRepo(db)
	generations := repo.NewPostgresGenerationRepo(db)
	channels := repo.NewPostgresChannelRepo(db)

	var ledger cache.Ledger = cache.NopLedger{}
	if cfg.Redis.Enabled() {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()

		if err := rdb.Ping(ctx).Err(); err != nil {
			return err
		}
		ledger = cache.NewRedisLedger(rdb, cfg.Redis.TTL())
		logger.Info().Str("addr", cfg.Redis.Address).Msg("delivery ledger enabled")
	}

	objects, err := objectStore(cfg.Storage)
	if err != nil {
		return err
	}

	audioResolver := audio.NewResolver(generations, objects, logging.Component("audio"), audio.Options{
		HTTPTimeout: cfg.Delivery.HTTPTimeout,
	})

	sender := client.NewBroadcastClient(client.Options{
		Timeout:    cfg.Delivery.HTTPTimeout,
		RatePerSec: cfg.Delivery.RatePerSec,
		Breaker: client.BreakerOptions{
			Enabled:     cfg.Delivery.BreakerEnabled,
			Failures:    uint32(cfg.Delivery.BreakerFailures),
			OpenTimeout: cfg.Delivery.BreakerOpenTimeout,
		},
	}, logging.Component("client"))

	executor := service.NewExecutor(
		schedules,
		audioResolver,
		channel.NewResolver(channels),
		sender,
		service.Config{
			WindowPast:      cfg.Executor.WindowPast,
			WindowFuture:    cfg.Executor.WindowFuture,
			ExecutionBuffer: cfg.Executor.ExecutionBuffer,
			MinAudioBytes:   cfg.Executor.MinAudioBytes,
			HTTPTimeout:     cfg.Delivery.HTTPTimeout,
			RecentLimit:     cfg.Executor.RecentLimit,
		},
		logging.Component("executor"),
	).WithLedger(ledger)

	reconciler := service.NewReconciler(schedules, ledger, logging.Component("reconciler"))

	schedule, err := scheduler.Parse(cfg.Scheduler.Spec)
	if err != nil {
		return err
	}

	tickLog := logging.Component("tick")
	sched, err := scheduler.New(schedule, cfg.Scheduler.Spec, func(ctx context.Context) {
		summary, err := executor.RunOnce(ctx)
		if err != nil {
			tickLog.Error().Err(err).Str("run_id", summary.RunID).Msg("executor pass failed")
			return
		}
		if summary.Total > 0 {
			tickLog.Info().
				Str("run_id", summary.RunID).
				Int("executed", summary.ExecutedCount).
				Int("failed", summary.FailedCount).
				Int("deferred", summary.DeferredCount).
				Msg("executor pass finished")
		}
	}, logging.Component("scheduler"))
	if err != nil {
		return err
	}

	if cfg.Scheduler.AutoStart {
		sched.Start()
	}
	defer sched.Stop()

	srv := &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           api.Router(api.NewHandler(sched, executor, reconciler, logging.Component("http"))),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().
			Str("addr", cfg.Server.Address).
			Str("schedule", cfg.Scheduler.Spec).
			Bool("redis", cfg.Redis.Enabled()).
			Str("storage", cfg.Storage.Provider).
			Msg("broadcast dispatcher starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// objectStore returns nil when no provider is configured.
func objectStore(cfg config.StorageConfig) (audio.ObjectStore, error) {
	switch cfg.Provider {
	case "s3":
		return storage.NewS3Store(storage.S3Config{
			Endpoint:  cfg.Endpoint,
			Region:    cfg.Region,
			Bucket:    cfg.Bucket,
			AccessKey: cfg.AccessKey,
			SecretKey: cfg.SecretKey,
			PathStyle: cfg.PathStyle,
		})
	case "local":
		return storage.NewLocalStore(cfg.LocalDir), nil
	default:
		return nil, nil
	}
}
