package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/hibiken/asynq"

	"github.com/schoolledger/feeledger/internal/app"
	"github.com/schoolledger/feeledger/internal/feeconfig"
	jobmetrics "github.com/schoolledger/feeledger/internal/jobs"
	"github.com/schoolledger/feeledger/internal/ledger"
	"github.com/schoolledger/feeledger/internal/observability"
	"github.com/schoolledger/feeledger/internal/platform/cache"
	"github.com/schoolledger/feeledger/internal/platform/db"
	"github.com/schoolledger/feeledger/internal/shared"
	"github.com/schoolledger/feeledger/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cache.Options{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	jobMetrics := jobmetrics.NewMetrics(metrics.Registerer())

	feeConfigRepo := feeconfig.NewRepository(pool)
	ledgerRepo := ledger.NewRepository(pool)
	ledgerService := ledger.NewService(ledger.ServiceParams{
		Store:       ledgerRepo,
		Roster:      ledger.NewPGRoster(pool),
		Rates:       feeConfigRepo,
		Idempotency: shared.NewIdempotencyStore(pool),
		Audit:       shared.NewAuditLogger(pool),
		Metrics:     ledger.NewMetrics(metrics.Registerer()),
		Logger:      logger,
		Options:     cfg.LedgerOptions(),
	})
	aggregator := ledger.NewAggregator(ledgerRepo, feeConfigRepo, cfg.Location())

	generateJob := jobs.NewGenerateDuesJob(ledgerService, shared.NewRedisLocker(redisClient), logger, jobMetrics, cfg.Location())
	integrityJob := jobs.NewLedgerIntegrityJob(aggregator, logger, jobMetrics)
	cleanupJob := jobs.NewIdempotencyCleanupJob(shared.NewIdempotencyStore(pool), cfg.IdempotencyRetention, logger, jobMetrics)

	monthlyTask, err := jobs.NewGenerateDuesTask(jobs.GenerateDuesPayload{Scope: string(ledger.ScopeMonthly)})
	if err != nil {
		logger.Error("build generate task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:      logger,
		Concurrency: cfg.WorkerConcurrency,
		Location:    cfg.Location(),
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskGenerateDues, Handler: generateJob.Handle},
			{Type: jobs.TaskLedgerIntegrity, Handler: integrityJob.Handle},
			{Type: jobs.TaskIdempotencyCleanup, Handler: cleanupJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.MonthlyCron, Task: monthlyTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: cfg.IntegrityCron, Task: jobs.NewLedgerIntegrityTask(), Options: []asynq.Option{asynq.MaxRetry(1)}},
			{Spec: cfg.IdempotencyCleanupCron, Task: jobs.NewIdempotencyCleanupTask(), Options: []asynq.Option{asynq.MaxRetry(1)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	metricsServer := &http.Server{Addr: cfg.WorkerMetricsAddr, Handler: metrics.Handler(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Info("starting worker metrics listener", slog.String("addr", cfg.WorkerMetricsAddr))
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("worker metrics listener", slog.Any("error", err))
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
