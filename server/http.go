package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	"transcribe-api/config"
	"transcribe-api/constant"
	"transcribe-api/dto"
	jobHandler "transcribe-api/handler"
	"transcribe-api/pkg/rabbitmq"
	"transcribe-api/pkg/workerpool"
	"transcribe-api/repository"
	"transcribe-api/service"
	"transcribe-api/storage"
	"transcribe-api/transcriber"

	"github.com/gin-gonic/gin"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 30 * time.Second

func RunHttp(cfg *config.Config) error {
	ctx, cancel := signal.NotifyContext(setupLogger(cfg), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.Ctx(ctx).Info().Str("env", cfg.App.Environment).Bool("isProduction", cfg.App.Environment == constant.EnvironmentProduction.String()).Send()
	if cfg.App.Environment == constant.EnvironmentProduction.String() {
		gin.SetMode(gin.ReleaseMode)
	}

	repo, err := openRepository(ctx, cfg)
	if err != nil {
		return err
	}

	store, err := storage.NewFileStore(cfg.Storage.UploadsDir, cfg.Storage.TranscriptsDir)
	if err != nil {
		return err
	}

	minioClient, err := config.NewMinIOClient(cfg.MinIO)
	if err != nil {
		return fmt.Errorf("minio client: %w", err)
	}
	mirror := storage.NewMinIOMirror(minioClient, cfg.MinIO.Bucket)

	if err := service.Recover(ctx, repo, store); err != nil {
		return fmt.Errorf("recover: %w", err)
	}

	tr := transcriber.New(ctx, cfg.Transcriber)
	serviceDeps := jobHandler.ServiceDependencies{
		TranscriptionService: service.NewService(repo, store, tr, mirror, cfg.Transcriber),
	}

	g, gctx := errgroup.WithContext(ctx)

	dispatcher, stopWorkers, err := startWorkers(ctx, g, gctx, cfg, repo, serviceDeps)
	if err != nil {
		return err
	}
	defer stopWorkers()

	sweepCron := cron.New()
	sweeper := service.NewSweeper(repo, store, sweepCron)
	if err := sweeper.Schedule(gctx, cfg.Storage.SweepSchedule); err != nil {
		return fmt.Errorf("sweep schedule: %w", err)
	}
	sweepCron.Start()
	defer func() { <-sweepCron.Stop().Done() }()

	jobService := service.NewJobService(repo, store, dispatcher, mirror, cfg.Storage.CleanupOnDelete)
	handler := http.Server{
		Handler:           newRouter(ctx, jobService, cfg.Server.MaxUploadBytes()),
		Addr:              fmt.Sprintf(":%s", cfg.Server.HttpPort),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.Go(func() error {
		zerolog.Ctx(ctx).Info().Str("env", cfg.App.Environment).Str("addr", handler.Addr).Msg("start http server")
		if err := handler.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		zerolog.Ctx(ctx).Info().Msg("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		return handler.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("env", cfg.App.Environment).Msg("server stopped with error")
		return err
	}

	zerolog.Ctx(ctx).Info().Str("env", cfg.App.Environment).Msg("server shutdown")
	return nil
}

// startWorkers wires the dispatcher for the configured queue driver. The returned stop
// func drains in-flight work and must run after the errgroup has returned.
func startWorkers(
	ctx context.Context,
	g *errgroup.Group,
	gctx context.Context,
	cfg *config.Config,
	repo repository.JobRepository,
	deps jobHandler.ServiceDependencies,
) (service.Dispatcher, func(), error) {
	switch cfg.Queue.Driver {
	case constant.QueueDriverRabbitMQ:
		conn, err := config.NewRabbitMQConn(ctx, cfg.RabbitMQ)
		if err != nil {
			return nil, nil, fmt.Errorf("rabbitmq: %w", err)
		}
		publisher := rabbitmq.NewPublisher(conn, cfg.RabbitMQ)

		consumer := rabbitmq.NewConsumer(conn, cfg.RabbitMQ, cfg.Server.Workers, jobHandler.JobHandler)
		g.Go(func() error {
			err := consumer.Consume(gctx, deps)
			if err != nil && !errors.Is(err, context.Canceled) {
				zerolog.Ctx(ctx).Error().Err(err).Msg("transcription consumer error")
				return err
			}
			return nil
		})

		return publisher, func() {
			if err := publisher.Close(); err != nil {
				zerolog.Ctx(ctx).Warn().Err(err).Msg("failed to close publisher")
			}
			if err := conn.Close(); err != nil && !conn.IsClosed() {
				zerolog.Ctx(ctx).Error().Err(err).Msg("failed to close RabbitMQ connection")
				return
			}
			zerolog.Ctx(ctx).Info().Msg("RabbitMQ connection closed")
		}, nil

	default:
		pool := workerpool.NewPool(cfg.Server.Workers, cfg.Server.QueueSize, func(ctx context.Context, msg dto.JobMessage) error {
			return jobHandler.ProcessJob(ctx, msg, deps)
		})
		// Workers finish the job they hold on shutdown instead of failing it.
		pool.Start(context.WithoutCancel(ctx))

		g.Go(func() error {
			if err := service.RedispatchPending(gctx, repo, pool); err != nil && !errors.Is(err, context.Canceled) {
				zerolog.Ctx(ctx).Error().Err(err).Msg("failed to redispatch pending jobs")
			}
			return nil
		})

		return pool, func() {
			zerolog.Ctx(ctx).Info().Msg("waiting for workers to finish")
			pool.Stop()
		}, nil
	}
}

func openRepository(ctx context.Context, cfg *config.Config) (repository.JobRepository, error) {
	db, err := config.NewDatabase(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	repo := repository.NewRepo(db)
	if err := repo.Migrate(ctx); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return repo, nil
}

// RunMigrate creates or updates the job schema and exits.
func RunMigrate(cfg *config.Config) error {
	ctx := setupLogger(cfg)
	if _, err := openRepository(ctx, cfg); err != nil {
		return err
	}
	zerolog.Ctx(ctx).Info().Str("driver", string(cfg.Database.Driver)).Msg("database migrated")
	return nil
}

func setupLogger(cfg *config.Config) context.Context {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if cfg.App.Environment == constant.EnvironmentDevelop.String() {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	// Log to standard output
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	ctx := logger.WithContext(context.Background())

	return ctx
}
