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
	"github.com/schoolledger/feeledger/internal/ledger"
	"github.com/schoolledger/feeledger/internal/observability"
	"github.com/schoolledger/feeledger/internal/platform/db"
	"github.com/schoolledger/feeledger/internal/shared"
	"github.com/schoolledger/feeledger/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
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

	dbpool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	metrics := observability.NewMetrics()
	auditLogger := shared.NewAuditLogger(dbpool)
	idempotencyStore := shared.NewIdempotencyStore(dbpool)

	feeConfigRepo := feeconfig.NewRepository(dbpool)
	feeConfigService := feeconfig.NewService(feeConfigRepo, auditLogger, logger)
	feeConfigHandler := feeconfig.NewHandler(logger, feeConfigService)

	ledgerRepo := ledger.NewRepository(dbpool)
	ledgerService := ledger.NewService(ledger.ServiceParams{
		Store:       ledgerRepo,
		Roster:      ledger.NewPGRoster(dbpool),
		Rates:       feeConfigRepo,
		Idempotency: idempotencyStore,
		Audit:       auditLogger,
		Metrics:     ledger.NewMetrics(metrics.Registerer()),
		Logger:      logger,
		Options:     cfg.LedgerOptions(),
	})
	aggregator := ledger.NewAggregator(ledgerRepo, feeConfigRepo, cfg.Location())
	ledgerHandler := ledger.NewHandler(logger, ledgerService, aggregator, cfg.Location())
	ledgerHandler.WithPaymentRateLimit(cfg.PaymentRateLimitPerMinute)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:           logger,
		Config:           cfg,
		Database:         dbpool,
		FeeConfigHandler: feeConfigHandler,
		LedgerHandler:    ledgerHandler,
		JobHandler:       jobHandler,
		Metrics:          metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr), slog.String("timezone", cfg.Timezone))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
