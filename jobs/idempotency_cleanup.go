package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/schoolledger/feeledger/internal/jobs"
)

// DefaultIdempotencyRetention is how long a payment idempotency key blocks
// a replay.
const DefaultIdempotencyRetention = 30 * 24 * time.Hour

// KeyPruner deletes idempotency keys older than a retention window.
type KeyPruner interface {
	Cleanup(ctx context.Context, olderThan time.Duration) error
}

// IdempotencyCleanupJob prunes expired idempotency keys.
type IdempotencyCleanupJob struct {
	Pruner    KeyPruner
	Retention time.Duration
	Logger    *slog.Logger
	Metrics   *jobmetrics.Metrics
}

// NewIdempotencyCleanupJob initialises the cleanup handler. A non-positive
// retention falls back to DefaultIdempotencyRetention.
func NewIdempotencyCleanupJob(pruner KeyPruner, retention time.Duration, logger *slog.Logger, metrics *jobmetrics.Metrics) *IdempotencyCleanupJob {
	if retention <= 0 {
		retention = DefaultIdempotencyRetention
	}
	return &IdempotencyCleanupJob{Pruner: pruner, Retention: retention, Logger: logger, Metrics: metrics}
}

// Handle executes the cleanup.
func (j *IdempotencyCleanupJob) Handle(ctx context.Context, _ *asynq.Task) error {
	return j.Run(ctx)
}

// Run deletes keys older than the retention window.
func (j *IdempotencyCleanupJob) Run(ctx context.Context) (resultErr error) {
	if j == nil || j.Pruner == nil {
		return errors.New("idempotency cleanup: handler not configured")
	}
	metrics := j.Metrics
	if metrics == nil {
		metrics = defaultJobMetrics
	}
	tracker := metrics.Track(TaskIdempotencyCleanup)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()
	logger := j.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("job", TaskIdempotencyCleanup))
	if err := j.Pruner.Cleanup(ctx, j.Retention); err != nil {
		logger.Error("cleanup failed", slog.Any("error", err))
		return err
	}
	logger.Info("idempotency keys pruned", slog.Duration("retention", j.Retention))
	return nil
}
