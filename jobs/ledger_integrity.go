package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/schoolledger/feeledger/internal/jobs"
	"github.com/schoolledger/feeledger/internal/ledger"
)

// IntegrityChecker scans the ledger for dues that do not reconcile.
type IntegrityChecker interface {
	CheckIntegrity(ctx context.Context) ([]ledger.IntegrityViolation, error)
}

// maxLoggedViolations bounds per-run log volume; the metric carries the full count.
const maxLoggedViolations = 50

// LedgerIntegrityJob verifies amount_due = amount_paid + amount_pending for
// every due.
type LedgerIntegrityJob struct {
	Checker IntegrityChecker
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewLedgerIntegrityJob initialises the integrity handler.
func NewLedgerIntegrityJob(checker IntegrityChecker, logger *slog.Logger, metrics *jobmetrics.Metrics) *LedgerIntegrityJob {
	return &LedgerIntegrityJob{Checker: checker, Logger: logger, Metrics: metrics}
}

// Handle executes the integrity scan.
func (j *LedgerIntegrityJob) Handle(ctx context.Context, _ *asynq.Task) error {
	_, err := j.Run(ctx)
	return err
}

// Run scans the ledger and returns the violations found.
func (j *LedgerIntegrityJob) Run(ctx context.Context) (violations []ledger.IntegrityViolation, resultErr error) {
	if j == nil || j.Checker == nil {
		return nil, errors.New("ledger integrity: handler not configured")
	}
	tracker := j.metrics().Track(TaskLedgerIntegrity)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger()
	start := time.Now()
	logger.Info("starting ledger integrity scan")

	violations, err := j.Checker.CheckIntegrity(ctx)
	if err != nil {
		logger.Error("scan failed", slog.Any("error", err))
		return nil, err
	}
	for i, v := range violations {
		if i == maxLoggedViolations {
			logger.Warn("further violations omitted", slog.Int("omitted", len(violations)-i))
			break
		}
		logger.Warn("ledger integrity violation", slog.Int64("due_id", v.DueID), slog.String("reason", v.Reason))
	}
	j.metrics().AddIntegrityViolations(len(violations))

	logger.Info("completed ledger integrity scan",
		slog.Int("violations", len(violations)),
		slog.Duration("duration", time.Since(start)),
	)
	return violations, nil
}

func (j *LedgerIntegrityJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskLedgerIntegrity))
	}
	return slog.Default().With(slog.String("job", TaskLedgerIntegrity))
}

func (j *LedgerIntegrityJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}
