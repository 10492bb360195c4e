package ledger

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/schoolledger/feeledger/internal/shared"
)

// Options tunes ledger behaviour. Zero values fall back to defaults.
type Options struct {
	AcademicYearStartMonth int
	DueDay                 int
	GenerationConcurrency  int
	MaxRetries             int
	Location               *time.Location
}

func (o Options) withDefaults() Options {
	if o.AcademicYearStartMonth < 1 || o.AcademicYearStartMonth > 12 {
		o.AcademicYearStartMonth = 4
	}
	if o.DueDay < 1 {
		o.DueDay = 10
	}
	if o.GenerationConcurrency < 1 {
		o.GenerationConcurrency = 4
	}
	if o.MaxRetries < 1 {
		o.MaxRetries = 3
	}
	if o.Location == nil {
		o.Location = time.UTC
	}
	return o
}

// ServiceParams groups the collaborators of Service.
type ServiceParams struct {
	Store       Store
	Roster      Roster
	Rates       RateCard
	Idempotency IdempotencyGuard
	Audit       shared.AuditRecorder
	Metrics     *Metrics
	Logger      *slog.Logger
	Options     Options
}

// Service runs every ledger mutation: generation, payment allocation and due
// adjustment.
type Service struct {
	store   Store
	roster  Roster
	rates   RateCard
	idem    IdempotencyGuard
	audit   shared.AuditRecorder
	metrics *Metrics
	logger  *slog.Logger
	opts    Options
	clock   func() time.Time
}

// NewService builds Service instance.
func NewService(params ServiceParams) *Service {
	logger := params.Logger
	if logger == nil {
		logger = slog.Default()
	}
	opts := params.Options.withDefaults()
	return &Service{
		store:   params.Store,
		roster:  params.Roster,
		rates:   params.Rates,
		idem:    params.Idempotency,
		audit:   params.Audit,
		metrics: params.Metrics,
		logger:  logger,
		opts:    opts,
		clock:   time.Now,
	}
}

// WithClock overrides the clock used for defaults such as today's date.
func (s *Service) WithClock(clock func() time.Time) {
	if clock != nil {
		s.clock = clock
	}
}

func (s *Service) now() time.Time {
	return s.clock().In(s.opts.Location)
}

// withRetry runs fn in a ledger transaction, re-running it from a fresh read
// after each version conflict.
func (s *Service) withRetry(ctx context.Context, operation string, fn func(context.Context, TxStore) error) error {
	for attempt := 0; ; attempt++ {
		err := s.store.WithTx(ctx, fn)
		if !errors.Is(err, ErrVersionConflict) {
			return err
		}
		if attempt >= s.opts.MaxRetries {
			s.logger.Warn("ledger retries exhausted", slog.String("operation", operation), slog.Int("attempts", attempt+1))
			return ErrConcurrentModification
		}
		s.metrics.retried(operation)
		s.logger.Debug("ledger version conflict", slog.String("operation", operation), slog.Int("attempt", attempt+1))
	}
}

// guard claims an idempotency key and returns a release func to call when
// the guarded operation fails.
func (s *Service) guard(ctx context.Context, key string) (func(), error) {
	noop := func() {}
	if key == "" || s.idem == nil {
		return noop, nil
	}
	if err := s.idem.CheckAndInsert(ctx, key, shared.IdempotencyModulePayment); err != nil {
		return noop, err
	}
	return func() {
		if err := s.idem.Delete(context.WithoutCancel(ctx), key); err != nil {
			s.logger.Warn("release idempotency key", slog.String("key", key), slog.Any("error", err))
		}
	}, nil
}
