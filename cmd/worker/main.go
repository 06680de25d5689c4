package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/arrajeevchandar/aerominds/internal/infra/archive"
	"github.com/arrajeevchandar/aerominds/internal/infra/colmap"
	"github.com/arrajeevchandar/aerominds/internal/infra/config"
	"github.com/arrajeevchandar/aerominds/internal/infra/email"
	"github.com/arrajeevchandar/aerominds/internal/infra/ffmpeg"
	"github.com/arrajeevchandar/aerominds/internal/infra/metrics"
	miniostorage "github.com/arrajeevchandar/aerominds/internal/infra/minio"
	"github.com/arrajeevchandar/aerominds/internal/infra/postgres"
	"github.com/arrajeevchandar/aerominds/internal/infra/rabbitmq"
	"github.com/arrajeevchandar/aerominds/internal/infra/tracing"
	"github.com/arrajeevchandar/aerominds/internal/meshing"
	"github.com/arrajeevchandar/aerominds/internal/usecase"
	"github.com/arrajeevchandar/aerominds/pkg/logger"
	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	fatalOnErr(err, "load config")

	log, err := logger.New(cfg.LogLevel)
	fatalOnErr(err, "init logger")
	defer func() { _ = log.Sync() }()

	log.Info("starting aerominds worker")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Tracing (non-fatal if Jaeger unavailable)
	tp, err := tracing.InitTracer(ctx, tracing.WorkerService, cfg.JaegerEndpoint)
	if err != nil {
		log.Warn("tracing init failed, continuing without tracing", zap.Error(err))
	} else {
		defer func() { _ = tp.Shutdown(context.Background()) }()
	}

	// Database
	fatalOnErr(postgres.RunMigrations(cfg.DatabaseURL), "run migrations")
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	fatalOnErr(err, "connect to postgres")
	defer pool.Close()

	// MinIO
	storage, err := miniostorage.NewStorage(miniostorage.StorageConfig{
		Endpoint:       cfg.MinIOEndpoint,
		AccessKey:      cfg.MinIOAccessKey,
		SecretKey:      cfg.MinIOSecretKey,
		UseSSL:         cfg.MinIOUseSSL,
		UploadBucket:   cfg.MinIOUploadBucket,
		ArtifactBucket: cfg.MinIOArtifactBucket,
	})
	fatalOnErr(err, "create minio storage")
	fatalOnErr(storage.EnsureBuckets(ctx), "ensure minio buckets")

	// RabbitMQ publisher connection
	rmqConn, err := amqp.Dial(cfg.RabbitMQURL)
	fatalOnErr(err, "connect to rabbitmq for publisher")
	defer rmqConn.Close()

	pub, err := rabbitmq.NewPublisher(rmqConn, cfg.RabbitMQExchange)
	fatalOnErr(err, "create rabbitmq publisher")

	statusPub := rabbitmq.NewStatusPublisher(pub, cfg.RabbitMQStatusRoutingKey)
	dlqPub := rabbitmq.NewDLQPublisher(pub, cfg.RabbitMQDLQ)

	// Reconstruction pipeline
	sampler, err := ffmpeg.NewSampler(cfg.SamplerConfig(), log)
	fatalOnErr(err, "create frame sampler")
	engine, err := colmap.NewEngine(cfg.EngineConfig(), log)
	fatalOnErr(err, "create colmap engine")
	builder := meshing.NewBuilder(cfg.MeshOptions(), log)
	pipeline := usecase.NewPipeline(sampler, engine, builder,
		usecase.WithLogger(log),
		usecase.WithObservers(metrics.NewStageObserver(), usecase.NewLogObserver(log)),
	)

	// Infra adapters
	repo := postgres.NewJobRepository(pool)
	zipper := archive.NewZipCreator()
	notifier := email.NewSMTPNotifier(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPFrom, log)

	// Use case
	uc := usecase.NewReconstructJobUseCase(
		repo, storage, pipeline, zipper,
		statusPub, dlqPub, notifier,
		log,
		usecase.ReconstructJobConfig{
			TempDir:          cfg.TempDir,
			MaxRetries:       cfg.MaxRetries,
			DefaultTargetFPS: cfg.TargetFPS,
			DefaultMeshName:  cfg.MeshName,
			KeepWorkspace:    cfg.KeepWorkspace,
		},
	)

	// Consumer (worker pool)
	consumer, err := rabbitmq.NewConsumer(rabbitmq.ConsumerConfig{
		URL:              cfg.RabbitMQURL,
		Queue:            cfg.RabbitMQJobQueue,
		Exchange:         cfg.RabbitMQExchange,
		DLQ:              cfg.RabbitMQDLQ,
		StatusQueue:      cfg.RabbitMQStatusQueue,
		JobRoutingKey:    cfg.RabbitMQJobRoutingKey,
		StatusRoutingKey: cfg.RabbitMQStatusRoutingKey,
		Prefetch:         cfg.RabbitMQPrefetch,
		WorkerCount:      cfg.WorkerCount,
		BaseDelayMs:      cfg.RetryBaseDelayMs,
	}, uc.Execute, log)
	fatalOnErr(err, "create consumer")

	// Metrics and health
	metricsSrv := metrics.StartMetricsServer(cfg.MetricsPort, map[string]metrics.HealthCheck{
		"postgres": pool.Ping,
		"minio":    storage.HealthCheck,
		"rabbitmq": consumer.HealthCheck,
	}, log)

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Info("received shutdown signal", zap.String("signal", sig.String()))
		cancel()
	}()

	log.Info("aerominds worker started, consuming messages")

	if err := consumer.Start(ctx); err != nil {
		log.Error("consumer error", zap.Error(err))
	}

	// Shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := multierr.Combine(metricsSrv.Shutdown(shutdownCtx), pub.Close(), consumer.Close()); err != nil {
		log.Warn("shutdown finished with errors", zap.Error(err))
	}
	log.Info("aerominds worker stopped")
}

func fatalOnErr(err error, msg string) {
	if err != nil {
		panic(msg + ": " + err.Error())
	}
}
