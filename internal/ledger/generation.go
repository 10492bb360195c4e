package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/schoolledger/feeledger/internal/feeconfig"
	"github.com/schoolledger/feeledger/internal/shared"
)

// GenerateRequest asks for dues of one period across a set of classes.
type GenerateRequest struct {
	ClassIDs    []int64
	PeriodMonth int
	PeriodYear  int
	Scope       Scope
	// DueDate overrides the configured due day when set.
	DueDate time.Time
}

// ClassGeneration is the per-class breakdown of a generation run.
type ClassGeneration struct {
	ClassID  int64 `json:"class_id"`
	Students int   `json:"students"`
	Created  int   `json:"created"`
	Skipped  int   `json:"skipped"`
}

// GenerateResult reports what a generation run created and skipped.
type GenerateResult struct {
	CreatedCount int               `json:"created_count"`
	SkippedCount int               `json:"skipped_count"`
	AcademicYear int               `json:"academic_year"`
	Classes      []ClassGeneration `json:"classes"`
}

type classInputs struct {
	students []Student
	rates    map[int64]decimal.Decimal
}

type plannedDue struct {
	classIdx int
	due      Due
}

func (r GenerateRequest) validate() ([]int64, error) {
	if len(r.ClassIDs) == 0 {
		return nil, ErrEmptyClassSet
	}
	if err := shared.ValidatePeriod(r.PeriodMonth, r.PeriodYear); err != nil {
		return nil, err
	}
	if !r.Scope.Valid() {
		return nil, ErrInvalidScope
	}
	seen := make(map[int64]struct{}, len(r.ClassIDs))
	classIDs := make([]int64, 0, len(r.ClassIDs))
	for _, id := range r.ClassIDs {
		if id <= 0 {
			return nil, fmt.Errorf("%w (got %d)", ErrInvalidClass, id)
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		classIDs = append(classIDs, id)
	}
	return classIDs, nil
}

// GenerateDues expands the rate card into dues for every active student of the
// requested classes. Existing dues are never touched; their keys are counted
// as skipped, so repeating a run is a no-op.
func (s *Service) GenerateDues(ctx context.Context, req GenerateRequest) (GenerateResult, error) {
	classIDs, err := req.validate()
	if err != nil {
		return GenerateResult{}, err
	}
	academicYear := shared.AcademicYearFor(req.PeriodMonth, req.PeriodYear, s.opts.AcademicYearStartMonth)

	feeTypes, err := s.rates.ListFeeTypes(ctx)
	if err != nil {
		return GenerateResult{}, fmt.Errorf("ledger: load fee types: %w", err)
	}
	eligible := make(map[int64]bool, len(feeTypes))
	for _, ft := range feeTypes {
		if req.Scope == ScopeAnnual || ft.IsRecurring {
			eligible[ft.ID] = true
		}
	}

	inputs, err := s.prefetch(ctx, classIDs, academicYear)
	if err != nil {
		return GenerateResult{}, err
	}

	dueDate := req.DueDate
	if dueDate.IsZero() {
		dueDate = shared.DueDateFor(req.PeriodMonth, req.PeriodYear, s.opts.DueDay, s.opts.Location)
	}
	dueDate = shared.DateOnly(dueDate)

	var plan []plannedDue
	for idx, in := range inputs {
		for _, st := range in.students {
			for feeTypeID, amount := range in.rates {
				if !eligible[feeTypeID] || !amount.IsPositive() {
					continue
				}
				plan = append(plan, plannedDue{classIdx: idx, due: Due{
					StudentID:     st.ID,
					FeeTypeID:     feeTypeID,
					PeriodMonth:   req.PeriodMonth,
					PeriodYear:    req.PeriodYear,
					AmountDue:     amount,
					AmountPaid:    decimal.Zero,
					AmountPending: amount,
					DueDate:       dueDate,
				}})
			}
		}
	}
	// Overlapping runs must lock keys in the same order.
	sort.Slice(plan, func(i, j int) bool {
		a, b := plan[i].due, plan[j].due
		if a.StudentID != b.StudentID {
			return a.StudentID < b.StudentID
		}
		return a.FeeTypeID < b.FeeTypeID
	})

	result := GenerateResult{AcademicYear: academicYear, Classes: make([]ClassGeneration, len(classIDs))}
	err = s.withRetry(ctx, "generate", func(ctx context.Context, tx TxStore) error {
		result.CreatedCount, result.SkippedCount = 0, 0
		for i, id := range classIDs {
			result.Classes[i] = ClassGeneration{ClassID: id, Students: len(inputs[i].students)}
		}
		for _, p := range plan {
			_, created, err := tx.InsertDue(ctx, p.due)
			if err != nil {
				return fmt.Errorf("ledger: insert due: %w", err)
			}
			if created {
				result.CreatedCount++
				result.Classes[p.classIdx].Created++
			} else {
				result.SkippedCount++
				result.Classes[p.classIdx].Skipped++
			}
		}
		return nil
	})
	if err != nil {
		return GenerateResult{}, err
	}

	s.metrics.addGenerated(result.CreatedCount, result.SkippedCount)
	s.logger.Info("dues generated",
		slog.Int("month", req.PeriodMonth),
		slog.Int("year", req.PeriodYear),
		slog.String("scope", string(req.Scope)),
		slog.Int("classes", len(classIDs)),
		slog.Int("created", result.CreatedCount),
		slog.Int("skipped", result.SkippedCount),
	)
	shared.RecordAfterCommit(ctx, s.audit, s.logger, shared.AuditLog{
		Action:   shared.AuditDuesGenerated,
		Entity:   "fee_dues",
		EntityID: strconv.Itoa(req.PeriodYear) + "-" + strconv.Itoa(req.PeriodMonth),
		Meta: map[string]any{
			"class_ids": classIDs,
			"scope":     string(req.Scope),
			"created":   result.CreatedCount,
			"skipped":   result.SkippedCount,
		},
	})
	return result, nil
}

// prefetch loads rosters and rates for every class concurrently before any
// write starts.
func (s *Service) prefetch(ctx context.Context, classIDs []int64, academicYear int) ([]classInputs, error) {
	inputs := make([]classInputs, len(classIDs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.GenerationConcurrency)
	for i, classID := range classIDs {
		g.Go(func() error {
			students, err := s.roster.ActiveStudents(gctx, classID)
			if err != nil {
				return fmt.Errorf("ledger: roster for class %d: %w", classID, err)
			}
			inputs[i].students = students
			return nil
		})
		g.Go(func() error {
			rates, err := s.rates.ListRates(gctx, feeconfig.RateFilter{AcademicYear: academicYear, ClassID: classID})
			if err != nil {
				return fmt.Errorf("ledger: rates for class %d: %w", classID, err)
			}
			byType := make(map[int64]decimal.Decimal, len(rates))
			for _, rate := range rates {
				byType[rate.FeeTypeID] = rate.Amount
			}
			inputs[i].rates = byType
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return inputs, nil
}

// ClassesWithRates returns every class holding at least one rate for the
// academic year containing the period. Scheduled runs use it when no class
// list is given.
func (s *Service) ClassesWithRates(ctx context.Context, month, year int) ([]int64, error) {
	if err := shared.ValidatePeriod(month, year); err != nil {
		return nil, err
	}
	academicYear := shared.AcademicYearFor(month, year, s.opts.AcademicYearStartMonth)
	rates, err := s.rates.ListRates(ctx, feeconfig.RateFilter{AcademicYear: academicYear})
	if err != nil {
		return nil, fmt.Errorf("ledger: list rates: %w", err)
	}
	seen := make(map[int64]struct{})
	var out []int64
	for _, rate := range rates {
		if _, ok := seen[rate.ClassID]; ok {
			continue
		}
		seen[rate.ClassID] = struct{}{}
		out = append(out, rate.ClassID)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}
