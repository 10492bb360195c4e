package feeconfig

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/schoolledger/feeledger/internal/shared"
)

type memoryConfigRepo struct {
	mu         sync.Mutex
	types      map[int64]FeeType
	rates      map[int64]FeeStructure
	dueRefs    map[int64]bool
	nextTypeID int64
	nextRateID int64
}

func newMemoryConfigRepo() *memoryConfigRepo {
	return &memoryConfigRepo{
		types:   make(map[int64]FeeType),
		rates:   make(map[int64]FeeStructure),
		dueRefs: make(map[int64]bool),
	}
}

func (r *memoryConfigRepo) ListFeeTypes(ctx context.Context) ([]FeeType, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]FeeType, 0, len(r.types))
	for _, ft := range r.types {
		out = append(out, ft)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r *memoryConfigRepo) GetFeeType(ctx context.Context, id int64) (FeeType, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ft, ok := r.types[id]
	if !ok {
		return FeeType{}, ErrFeeTypeNotFound
	}
	return ft, nil
}

func (r *memoryConfigRepo) InsertFeeType(ctx context.Context, name string, isRecurring bool) (FeeType, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextTypeID++
	now := time.Now()
	ft := FeeType{ID: r.nextTypeID, Name: name, IsRecurring: isRecurring, CreatedAt: now, UpdatedAt: now}
	r.types[ft.ID] = ft
	return ft, nil
}

func (r *memoryConfigRepo) UpdateFeeType(ctx context.Context, in FeeType) (FeeType, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.types[in.ID]; !ok {
		return FeeType{}, ErrFeeTypeNotFound
	}
	in.UpdatedAt = time.Now()
	r.types[in.ID] = in
	return in, nil
}

func (r *memoryConfigRepo) DeleteFeeType(ctx context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.types[id]; !ok {
		return ErrFeeTypeNotFound
	}
	delete(r.types, id)
	return nil
}

func (r *memoryConfigRepo) FeeTypeReferenced(ctx context.Context, id int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.dueRefs[id] {
		return true, nil
	}
	for _, rate := range r.rates {
		if rate.FeeTypeID == id {
			return true, nil
		}
	}
	return false, nil
}

func (r *memoryConfigRepo) UpsertRate(ctx context.Context, input RateInput) (FeeStructure, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, rate := range r.rates {
		if rate.ClassID == input.ClassID && rate.FeeTypeID == input.FeeTypeID && rate.AcademicYear == input.AcademicYear {
			rate.Amount = input.Amount
			r.rates[id] = rate
			return rate, nil
		}
	}
	r.nextRateID++
	rate := FeeStructure{ID: r.nextRateID, ClassID: input.ClassID, FeeTypeID: input.FeeTypeID, AcademicYear: input.AcademicYear, Amount: input.Amount}
	r.rates[rate.ID] = rate
	return rate, nil
}

func (r *memoryConfigRepo) GetRate(ctx context.Context, classID, feeTypeID int64, academicYear int) (FeeStructure, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rate := range r.rates {
		if rate.ClassID == classID && rate.FeeTypeID == feeTypeID && rate.AcademicYear == academicYear {
			return rate, nil
		}
	}
	return FeeStructure{}, ErrRateNotFound
}

func (r *memoryConfigRepo) ListRates(ctx context.Context, filter RateFilter) ([]FeeStructure, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []FeeStructure
	for _, rate := range r.rates {
		if filter.AcademicYear > 0 && rate.AcademicYear != filter.AcademicYear {
			continue
		}
		if filter.ClassID > 0 && rate.ClassID != filter.ClassID {
			continue
		}
		if filter.FeeTypeID > 0 && rate.FeeTypeID != filter.FeeTypeID {
			continue
		}
		out = append(out, rate)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memoryConfigRepo) UpdateRates(ctx context.Context, updates []RateUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range updates {
		if _, ok := r.rates[u.ID]; !ok {
			return ErrRateNotFound
		}
	}
	for _, u := range updates {
		rate := r.rates[u.ID]
		rate.Amount = u.Amount
		r.rates[u.ID] = rate
	}
	return nil
}

type recordingAudit struct {
	mu   sync.Mutex
	logs []shared.AuditLog
}

func (a *recordingAudit) Record(ctx context.Context, log shared.AuditLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logs = append(a.logs, log)
	return nil
}

func newTestService() (*Service, *memoryConfigRepo, *recordingAudit) {
	repo := newMemoryConfigRepo()
	audit := &recordingAudit{}
	return NewService(repo, audit, nil), repo, audit
}

func TestCreateFeeTypeRejectsEmptyAndDuplicateNames(t *testing.T) {
	svc, _, audit := newTestService()
	ctx := shared.ContextWithActor(context.Background(), 7)

	_, err := svc.CreateFeeType(ctx, "   ", true)
	require.ErrorIs(t, err, shared.ErrValidation)

	tuition, err := svc.CreateFeeType(ctx, " Tuition ", true)
	require.NoError(t, err)
	require.Equal(t, "Tuition", tuition.Name)

	_, err = svc.CreateFeeType(ctx, "TUITION", false)
	require.ErrorIs(t, err, ErrDuplicateFeeTypeName)
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.CreateFeeType(ctx, "Straße", false)
	require.NoError(t, err)
	_, err = svc.CreateFeeType(ctx, "STRASSE", false)
	require.ErrorIs(t, err, ErrDuplicateFeeTypeName)

	require.Len(t, audit.logs, 2)
	require.Equal(t, shared.AuditFeeTypeCreated, audit.logs[0].Action)
	require.Equal(t, int64(7), audit.logs[0].ActorID)
}

func TestDeleteFeeTypeRejectsReferencedType(t *testing.T) {
	svc, repo, _ := newTestService()
	ctx := context.Background()

	transport, err := svc.CreateFeeType(ctx, "Transport", true)
	require.NoError(t, err)
	_, err = svc.UpsertRate(ctx, RateInput{ClassID: 5, FeeTypeID: transport.ID, AcademicYear: 2025, Amount: decimal.NewFromInt(300)})
	require.NoError(t, err)

	err = svc.DeleteFeeType(ctx, transport.ID)
	require.ErrorIs(t, err, shared.ErrConflict)

	lab, err := svc.CreateFeeType(ctx, "Lab", false)
	require.NoError(t, err)
	repo.dueRefs[lab.ID] = true
	require.ErrorIs(t, svc.DeleteFeeType(ctx, lab.ID), ErrFeeTypeReferenced)

	library, err := svc.CreateFeeType(ctx, "Library", false)
	require.NoError(t, err)
	require.NoError(t, svc.DeleteFeeType(ctx, library.ID))
	require.ErrorIs(t, svc.DeleteFeeType(ctx, library.ID), shared.ErrNotFound)
}

func TestUpdateFeeTypeFreezesRecurrenceOnceReferenced(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	ft, err := svc.CreateFeeType(ctx, "Tuition", true)
	require.NoError(t, err)

	renamed, err := svc.UpdateFeeType(ctx, ft.ID, "Tuition Fee", true)
	require.NoError(t, err)
	require.Equal(t, "Tuition Fee", renamed.Name)

	_, err = svc.UpsertRate(ctx, RateInput{ClassID: 1, FeeTypeID: ft.ID, AcademicYear: 2025, Amount: decimal.NewFromInt(500)})
	require.NoError(t, err)

	_, err = svc.UpdateFeeType(ctx, ft.ID, "Tuition Fee", false)
	require.ErrorIs(t, err, ErrRecurrenceLocked)

	_, err = svc.UpdateFeeType(ctx, ft.ID, "Tuition", true)
	require.NoError(t, err)
}

func TestUpsertRateValidatesAndReplaces(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	ft, err := svc.CreateFeeType(ctx, "Tuition", true)
	require.NoError(t, err)

	_, err = svc.UpsertRate(ctx, RateInput{ClassID: 5, FeeTypeID: ft.ID, AcademicYear: 2025, Amount: decimal.NewFromInt(-1)})
	require.ErrorIs(t, err, ErrNegativeAmount)
	_, err = svc.UpsertRate(ctx, RateInput{ClassID: 0, FeeTypeID: ft.ID, AcademicYear: 2025, Amount: decimal.NewFromInt(1)})
	require.ErrorIs(t, err, shared.ErrValidation)
	_, err = svc.UpsertRate(ctx, RateInput{ClassID: 5, FeeTypeID: 99, AcademicYear: 2025, Amount: decimal.NewFromInt(1)})
	require.ErrorIs(t, err, shared.ErrNotFound)

	first, err := svc.UpsertRate(ctx, RateInput{ClassID: 5, FeeTypeID: ft.ID, AcademicYear: 2025, Amount: decimal.RequireFromString("500.004")})
	require.NoError(t, err)
	require.Equal(t, "500.00", first.Amount.StringFixed(2))

	second, err := svc.UpsertRate(ctx, RateInput{ClassID: 5, FeeTypeID: ft.ID, AcademicYear: 2025, Amount: decimal.NewFromInt(550)})
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)

	amount, err := svc.RateFor(ctx, 5, ft.ID, 2025)
	require.NoError(t, err)
	require.True(t, amount.Equal(decimal.NewFromInt(550)))

	_, err = svc.RateFor(ctx, 5, ft.ID, 2026)
	require.ErrorIs(t, err, ErrRateNotFound)
}

func TestBulkUpdateIsAllOrNothing(t *testing.T) {
	svc, repo, _ := newTestService()
	ctx := context.Background()

	ft, err := svc.CreateFeeType(ctx, "Tuition", true)
	require.NoError(t, err)
	a, err := svc.UpsertRate(ctx, RateInput{ClassID: 1, FeeTypeID: ft.ID, AcademicYear: 2025, Amount: decimal.NewFromInt(100)})
	require.NoError(t, err)
	b, err := svc.UpsertRate(ctx, RateInput{ClassID: 2, FeeTypeID: ft.ID, AcademicYear: 2025, Amount: decimal.NewFromInt(200)})
	require.NoError(t, err)

	err = svc.BulkUpdate(ctx, []RateUpdate{
		{ID: a.ID, Amount: decimal.NewFromInt(150)},
		{ID: b.ID, Amount: decimal.NewFromInt(-5)},
	})
	require.ErrorIs(t, err, ErrNegativeAmount)
	require.True(t, repo.rates[a.ID].Amount.Equal(decimal.NewFromInt(100)))

	err = svc.BulkUpdate(ctx, []RateUpdate{
		{ID: a.ID, Amount: decimal.NewFromInt(150)},
		{ID: 404, Amount: decimal.NewFromInt(10)},
	})
	require.ErrorIs(t, err, shared.ErrNotFound)
	require.True(t, repo.rates[a.ID].Amount.Equal(decimal.NewFromInt(100)))

	err = svc.BulkUpdate(ctx, []RateUpdate{
		{ID: a.ID, Amount: decimal.NewFromInt(1)},
		{ID: a.ID, Amount: decimal.NewFromInt(2)},
	})
	require.ErrorIs(t, err, ErrDuplicateRateID)

	require.ErrorIs(t, svc.BulkUpdate(ctx, nil), ErrEmptyBatch)

	require.NoError(t, svc.BulkUpdate(ctx, []RateUpdate{
		{ID: a.ID, Amount: decimal.NewFromInt(150)},
		{ID: b.ID, Amount: decimal.NewFromInt(250)},
	}))
	require.True(t, repo.rates[a.ID].Amount.Equal(decimal.NewFromInt(150)))
	require.True(t, repo.rates[b.ID].Amount.Equal(decimal.NewFromInt(250)))
}
