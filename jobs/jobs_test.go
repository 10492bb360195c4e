package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	jobmetrics "github.com/schoolledger/feeledger/internal/jobs"
	"github.com/schoolledger/feeledger/internal/ledger"
	"github.com/schoolledger/feeledger/internal/shared"
)

type stubGenerator struct {
	mu       sync.Mutex
	classes  []int64
	requests []ledger.GenerateRequest
	err      error
	block    chan struct{}
}

func (s *stubGenerator) GenerateDues(ctx context.Context, req ledger.GenerateRequest) (ledger.GenerateResult, error) {
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	if s.err != nil {
		return ledger.GenerateResult{}, s.err
	}
	return ledger.GenerateResult{CreatedCount: len(req.ClassIDs)}, nil
}

func (s *stubGenerator) ClassesWithRates(ctx context.Context, month, year int) ([]int64, error) {
	return s.classes, nil
}

func newRedisLocker(t *testing.T) (*shared.RedisLocker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return shared.NewRedisLocker(client), mr
}

func gatherCounter(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			matched := 0
			for _, lp := range m.GetLabel() {
				if labels[lp.GetName()] == lp.GetValue() {
					matched++
				}
			}
			if matched == len(labels) {
				return m.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func TestGenerateDuesJobDefaultsToCurrentMonthAndAllClasses(t *testing.T) {
	locker, mr := newRedisLocker(t)
	gen := &stubGenerator{classes: []int64{3, 5}}
	reg := prometheus.NewRegistry()
	ist := time.FixedZone("IST", 5*60*60+30*60)
	job := NewGenerateDuesJob(gen, locker, nil, jobmetrics.NewMetrics(reg), ist)
	// 20:00 UTC on 31 May is already 1 June in Kolkata.
	job.clock = func() time.Time { return time.Date(2025, 5, 31, 20, 0, 0, 0, time.UTC) }

	result, err := job.Run(context.Background(), GenerateDuesPayload{})
	require.NoError(t, err)
	require.Equal(t, 2, result.CreatedCount)
	require.Len(t, gen.requests, 1)
	req := gen.requests[0]
	require.Equal(t, []int64{3, 5}, req.ClassIDs)
	require.Equal(t, 6, req.PeriodMonth)
	require.Equal(t, 2025, req.PeriodYear)
	require.Equal(t, ledger.ScopeMonthly, req.Scope)

	require.False(t, mr.Exists(shared.GenerationLockKey(2025, 6, "monthly")), "lock released after the run")
	require.Equal(t, float64(1), gatherCounter(t, reg, "feeledger_jobs_total", map[string]string{"job": TaskGenerateDues, "status": "success"}))
}

func TestGenerateDuesJobSkipsWhenLockHeld(t *testing.T) {
	locker, mr := newRedisLocker(t)
	require.NoError(t, mr.Set(shared.GenerationLockKey(2025, 4, "monthly"), "other-worker"))
	gen := &stubGenerator{}
	reg := prometheus.NewRegistry()
	job := NewGenerateDuesJob(gen, locker, nil, jobmetrics.NewMetrics(reg), time.UTC)

	_, err := job.Run(context.Background(), GenerateDuesPayload{ClassIDs: []int64{5}, Month: 4, Year: 2025, Scope: "monthly"})
	require.NoError(t, err)
	require.Empty(t, gen.requests)
	require.Equal(t, float64(1), gatherCounter(t, reg, "feeledger_jobs_skipped_total", map[string]string{"job": TaskGenerateDues, "reason": "lock_held"}))

	got, err := mr.Get(shared.GenerationLockKey(2025, 4, "monthly"))
	require.NoError(t, err)
	require.Equal(t, "other-worker", got, "a skipped run never releases a foreign lock")
}

func TestGenerateDuesJobOverlappingRuns(t *testing.T) {
	locker, mr := newRedisLocker(t)
	gen := &stubGenerator{block: make(chan struct{})}
	job := NewGenerateDuesJob(gen, locker, nil, jobmetrics.NewMetrics(prometheus.NewRegistry()), time.UTC)
	payload := GenerateDuesPayload{ClassIDs: []int64{5}, Month: 4, Year: 2025, Scope: "monthly"}

	done := make(chan error, 1)
	go func() {
		_, err := job.Run(context.Background(), payload)
		done <- err
	}()
	require.Eventually(t, func() bool {
		return mr.Exists(shared.GenerationLockKey(2025, 4, "monthly"))
	}, time.Second, 10*time.Millisecond)

	_, err := job.Run(context.Background(), payload)
	require.NoError(t, err)

	close(gen.block)
	require.NoError(t, <-done)
	require.Len(t, gen.requests, 1)
}

func TestGenerateDuesHandleSkipsRetryOnBadInput(t *testing.T) {
	gen := &stubGenerator{err: ledger.ErrInvalidScope}
	job := NewGenerateDuesJob(gen, nil, nil, jobmetrics.NewMetrics(prometheus.NewRegistry()), time.UTC)

	err := job.Handle(context.Background(), asynq.NewTask(TaskGenerateDues, []byte(`{not json`)))
	require.ErrorIs(t, err, asynq.SkipRetry)

	task, err := NewGenerateDuesTask(GenerateDuesPayload{ClassIDs: []int64{5}, Month: 4, Year: 2025, Scope: "weekly"})
	require.NoError(t, err)
	err = job.Handle(context.Background(), task)
	require.ErrorIs(t, err, asynq.SkipRetry)

	gen.err = errors.New("database unavailable")
	task, err = NewGenerateDuesTask(GenerateDuesPayload{ClassIDs: []int64{5}, Month: 4, Year: 2025})
	require.NoError(t, err)
	err = job.Handle(context.Background(), task)
	require.Error(t, err)
	require.NotErrorIs(t, err, asynq.SkipRetry)
}

type stubChecker struct {
	violations []ledger.IntegrityViolation
	err        error
}

func (s stubChecker) CheckIntegrity(ctx context.Context) ([]ledger.IntegrityViolation, error) {
	return s.violations, s.err
}

func TestLedgerIntegrityJobCountsViolations(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := jobmetrics.NewMetrics(reg)
	job := NewLedgerIntegrityJob(stubChecker{violations: []ledger.IntegrityViolation{
		{DueID: 4, Reason: "due 4: amount_due 500 != paid 10 + pending 500"},
		{DueID: 9, Reason: "due 9: negative amounts"},
	}}, nil, metrics)

	require.NoError(t, job.Handle(context.Background(), NewLedgerIntegrityTask()))
	require.Equal(t, float64(2), gatherCounter(t, reg, "feeledger_ledger_integrity_violations_total", nil))

	failing := NewLedgerIntegrityJob(stubChecker{err: errors.New("boom")}, nil, metrics)
	_, err := failing.Run(context.Background())
	require.Error(t, err)
	require.Equal(t, float64(1), gatherCounter(t, reg, "feeledger_jobs_failures_total", map[string]string{"job": TaskLedgerIntegrity}))
}

type stubPruner struct {
	olderThan time.Duration
	err       error
}

func (s *stubPruner) Cleanup(ctx context.Context, olderThan time.Duration) error {
	s.olderThan = olderThan
	return s.err
}

func TestIdempotencyCleanupJob(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := jobmetrics.NewMetrics(reg)
	pruner := &stubPruner{}

	job := NewIdempotencyCleanupJob(pruner, 0, nil, metrics)
	require.NoError(t, job.Handle(context.Background(), NewIdempotencyCleanupTask()))
	require.Equal(t, DefaultIdempotencyRetention, pruner.olderThan)
	require.Equal(t, float64(1), gatherCounter(t, reg, "feeledger_jobs_total", map[string]string{"job": TaskIdempotencyCleanup, "status": "success"}))

	pruner.err = errors.New("pg down")
	require.Error(t, NewIdempotencyCleanupJob(pruner, time.Hour, nil, metrics).Run(context.Background()))
	require.Equal(t, time.Hour, pruner.olderThan)
}

type stubInspector struct {
	info *asynq.QueueInfo
	err  error
}

func (s stubInspector) GetQueueInfo(queue string) (*asynq.QueueInfo, error) {
	return s.info, s.err
}

func TestJobsHealthEndpoint(t *testing.T) {
	serve := func(inspector QueueInspector) *httptest.ResponseRecorder {
		r := chi.NewRouter()
		r.Route("/jobs", NewHandler(inspector, nil).MountRoutes)
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/jobs/health", nil))
		return rr
	}

	rr := serve(nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.JSONEq(t, `{"queue":"default","size":0,"pending":0,"active":0,"scheduled":0,"retry":0,"archived":0,"paused":false}`, rr.Body.String())

	rr = serve(stubInspector{info: &asynq.QueueInfo{Queue: QueueDefault, Size: 4, Pending: 3, Retry: 1}})
	require.Equal(t, http.StatusOK, rr.Code)
	var health QueueHealth
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &health))
	require.Equal(t, 3, health.Pending)
	require.Equal(t, 1, health.Retry)

	rr = serve(stubInspector{err: errors.New("redis down")})
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
}
