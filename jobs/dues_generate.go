package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/schoolledger/feeledger/internal/jobs"
	"github.com/schoolledger/feeledger/internal/ledger"
	"github.com/schoolledger/feeledger/internal/shared"
)

// DuesGenerator is the part of the ledger service the generation job drives.
type DuesGenerator interface {
	GenerateDues(ctx context.Context, req ledger.GenerateRequest) (ledger.GenerateResult, error)
	ClassesWithRates(ctx context.Context, month, year int) ([]int64, error)
}

// Locker hands out exclusive run locks.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error)
}

const defaultGenerationLockTTL = 10 * time.Minute

// GenerateDuesJob runs scheduled and on-demand due generation.
type GenerateDuesJob struct {
	Service  DuesGenerator
	Locker   Locker
	Logger   *slog.Logger
	Metrics  *jobmetrics.Metrics
	Location *time.Location
	LockTTL  time.Duration
	clock    func() time.Time
}

// NewGenerateDuesJob initialises the generation handler.
func NewGenerateDuesJob(service DuesGenerator, locker Locker, logger *slog.Logger, metrics *jobmetrics.Metrics, loc *time.Location) *GenerateDuesJob {
	if loc == nil {
		loc = time.UTC
	}
	return &GenerateDuesJob{
		Service:  service,
		Locker:   locker,
		Logger:   logger,
		Metrics:  metrics,
		Location: loc,
		LockTTL:  defaultGenerationLockTTL,
		clock:    time.Now,
	}
}

// Handle decodes the task payload and runs the generation.
func (j *GenerateDuesJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Service == nil {
		return errors.New("generate dues: handler not configured")
	}
	var payload GenerateDuesPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("generate dues: decode payload: %v: %w", err, asynq.SkipRetry)
	}
	_, err := j.Run(ctx, payload)
	if errors.Is(err, shared.ErrValidation) {
		return fmt.Errorf("generate dues: %v: %w", err, asynq.SkipRetry)
	}
	return err
}

// Run resolves defaults, takes the period lock and generates. A held lock
// returns a zero result and no error.
func (j *GenerateDuesJob) Run(ctx context.Context, payload GenerateDuesPayload) (result ledger.GenerateResult, resultErr error) {
	tracker := j.metrics().Track(TaskGenerateDues)

	now := j.now()
	if payload.Month == 0 || payload.Year == 0 {
		payload.Month, payload.Year = int(now.Month()), now.Year()
	}
	if payload.Scope == "" {
		payload.Scope = string(ledger.ScopeMonthly)
	}
	logger := j.logger().With(
		slog.Int("month", payload.Month),
		slog.Int("year", payload.Year),
		slog.String("scope", payload.Scope),
	)

	key := shared.GenerationLockKey(payload.Year, payload.Month, payload.Scope)
	release, err := j.acquire(ctx, key)
	if errors.Is(err, shared.ErrLockHeld) {
		logger.Info("generation already running, skipping", slog.String("lock", key))
		tracker.Skip("lock_held")
		return ledger.GenerateResult{}, nil
	}
	defer func() {
		resultErr = tracker.End(resultErr)
	}()
	if err != nil {
		logger.Error("acquire generation lock", slog.Any("error", err))
		return ledger.GenerateResult{}, err
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("release generation lock", slog.Any("error", err))
		}
	}()

	classIDs := payload.ClassIDs
	if len(classIDs) == 0 {
		classIDs, err = j.Service.ClassesWithRates(ctx, payload.Month, payload.Year)
		if err != nil {
			logger.Error("resolve classes", slog.Any("error", err))
			return ledger.GenerateResult{}, err
		}
		if len(classIDs) == 0 {
			logger.Info("no classes have rates for the period")
			return ledger.GenerateResult{}, nil
		}
	}

	start := time.Now()
	result, err = j.Service.GenerateDues(ctx, ledger.GenerateRequest{
		ClassIDs:    classIDs,
		PeriodMonth: payload.Month,
		PeriodYear:  payload.Year,
		Scope:       ledger.Scope(payload.Scope),
	})
	if err != nil {
		logger.Error("generate dues failed", slog.Any("error", err))
		return ledger.GenerateResult{}, err
	}
	logger.Info("completed due generation",
		slog.Int("classes", len(classIDs)),
		slog.Int("created", result.CreatedCount),
		slog.Int("skipped", result.SkippedCount),
		slog.Duration("duration", time.Since(start)),
	)
	return result, nil
}

func (j *GenerateDuesJob) acquire(ctx context.Context, key string) (func(context.Context) error, error) {
	if j.Locker == nil {
		return func(context.Context) error { return nil }, nil
	}
	ttl := j.LockTTL
	if ttl <= 0 {
		ttl = defaultGenerationLockTTL
	}
	return j.Locker.Acquire(ctx, key, ttl)
}

func (j *GenerateDuesJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskGenerateDues))
	}
	return slog.Default().With(slog.String("job", TaskGenerateDues))
}

func (j *GenerateDuesJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *GenerateDuesJob) now() time.Time {
	loc := j.Location
	if loc == nil {
		loc = time.UTC
	}
	if j.clock != nil {
		return j.clock().In(loc)
	}
	return time.Now().In(loc)
}
