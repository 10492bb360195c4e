package feeconfig

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/cases"

	"github.com/schoolledger/feeledger/internal/shared"
)

// RepositoryPort defines data access methods for fee configuration.
type RepositoryPort interface {
	ListFeeTypes(ctx context.Context) ([]FeeType, error)
	GetFeeType(ctx context.Context, id int64) (FeeType, error)
	InsertFeeType(ctx context.Context, name string, isRecurring bool) (FeeType, error)
	UpdateFeeType(ctx context.Context, ft FeeType) (FeeType, error)
	DeleteFeeType(ctx context.Context, id int64) error
	FeeTypeReferenced(ctx context.Context, id int64) (bool, error)
	UpsertRate(ctx context.Context, input RateInput) (FeeStructure, error)
	GetRate(ctx context.Context, classID, feeTypeID int64, academicYear int) (FeeStructure, error)
	ListRates(ctx context.Context, filter RateFilter) ([]FeeStructure, error)
	UpdateRates(ctx context.Context, updates []RateUpdate) error
}

// Service owns the fee type catalog and the rate card.
type Service struct {
	repo   RepositoryPort
	audit  shared.AuditRecorder
	logger *slog.Logger
}

// NewService builds Service instance.
func NewService(repo RepositoryPort, audit shared.AuditRecorder, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, audit: audit, logger: logger}
}

// ListFeeTypes returns the catalog ordered by name.
func (s *Service) ListFeeTypes(ctx context.Context) ([]FeeType, error) {
	return s.repo.ListFeeTypes(ctx)
}

// GetFeeType returns one fee type.
func (s *Service) GetFeeType(ctx context.Context, id int64) (FeeType, error) {
	return s.repo.GetFeeType(ctx, id)
}

// CreateFeeType adds a fee type. Names are unique ignoring case.
func (s *Service) CreateFeeType(ctx context.Context, name string, isRecurring bool) (FeeType, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return FeeType{}, ErrFeeTypeNameRequired
	}
	if err := s.ensureUniqueName(ctx, 0, name); err != nil {
		return FeeType{}, err
	}
	ft, err := s.repo.InsertFeeType(ctx, name, isRecurring)
	if err != nil {
		return FeeType{}, err
	}
	shared.RecordAfterCommit(ctx, s.audit, s.logger, shared.AuditLog{
		Action:   shared.AuditFeeTypeCreated,
		Entity:   "fee_type",
		EntityID: strconv.FormatInt(ft.ID, 10),
		Meta:     map[string]any{"name": ft.Name, "is_recurring": ft.IsRecurring},
	})
	return ft, nil
}

// UpdateFeeType renames a fee type or flips its recurrence. Recurrence is
// frozen once any rate or due references the type.
func (s *Service) UpdateFeeType(ctx context.Context, id int64, name string, isRecurring bool) (FeeType, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return FeeType{}, ErrFeeTypeNameRequired
	}
	current, err := s.repo.GetFeeType(ctx, id)
	if err != nil {
		return FeeType{}, err
	}
	if err := s.ensureUniqueName(ctx, id, name); err != nil {
		return FeeType{}, err
	}
	if current.IsRecurring != isRecurring {
		referenced, err := s.repo.FeeTypeReferenced(ctx, id)
		if err != nil {
			return FeeType{}, err
		}
		if referenced {
			return FeeType{}, ErrRecurrenceLocked
		}
	}
	current.Name = name
	current.IsRecurring = isRecurring
	updated, err := s.repo.UpdateFeeType(ctx, current)
	if err != nil {
		return FeeType{}, err
	}
	shared.RecordAfterCommit(ctx, s.audit, s.logger, shared.AuditLog{
		Action:   shared.AuditFeeTypeUpdated,
		Entity:   "fee_type",
		EntityID: strconv.FormatInt(id, 10),
		Meta:     map[string]any{"name": updated.Name, "is_recurring": updated.IsRecurring},
	})
	return updated, nil
}

// DeleteFeeType removes an unreferenced fee type.
func (s *Service) DeleteFeeType(ctx context.Context, id int64) error {
	if _, err := s.repo.GetFeeType(ctx, id); err != nil {
		return err
	}
	referenced, err := s.repo.FeeTypeReferenced(ctx, id)
	if err != nil {
		return err
	}
	if referenced {
		return ErrFeeTypeReferenced
	}
	if err := s.repo.DeleteFeeType(ctx, id); err != nil {
		return err
	}
	shared.RecordAfterCommit(ctx, s.audit, s.logger, shared.AuditLog{
		Action:   shared.AuditFeeTypeDeleted,
		Entity:   "fee_type",
		EntityID: strconv.FormatInt(id, 10),
	})
	return nil
}

// UpsertRate creates or replaces the rate for (class, fee type, academic year).
func (s *Service) UpsertRate(ctx context.Context, input RateInput) (FeeStructure, error) {
	if input.ClassID <= 0 {
		return FeeStructure{}, ErrInvalidClass
	}
	if input.AcademicYear < shared.MinYear || input.AcademicYear > shared.MaxYear {
		return FeeStructure{}, ErrInvalidAcademicYear
	}
	if input.Amount.IsNegative() {
		return FeeStructure{}, ErrNegativeAmount
	}
	if _, err := s.repo.GetFeeType(ctx, input.FeeTypeID); err != nil {
		return FeeStructure{}, err
	}
	input.Amount = input.Amount.Round(2)
	rate, err := s.repo.UpsertRate(ctx, input)
	if err != nil {
		return FeeStructure{}, err
	}
	shared.RecordAfterCommit(ctx, s.audit, s.logger, shared.AuditLog{
		Action:   shared.AuditFeeRateUpserted,
		Entity:   "fee_structure",
		EntityID: strconv.FormatInt(rate.ID, 10),
		Meta: map[string]any{
			"class_id":      rate.ClassID,
			"fee_type_id":   rate.FeeTypeID,
			"academic_year": rate.AcademicYear,
			"amount":        rate.Amount.StringFixed(2),
		},
	})
	return rate, nil
}

// RateFor returns the configured amount or ErrRateNotFound.
func (s *Service) RateFor(ctx context.Context, classID, feeTypeID int64, academicYear int) (decimal.Decimal, error) {
	rate, err := s.repo.GetRate(ctx, classID, feeTypeID, academicYear)
	if err != nil {
		return decimal.Zero, err
	}
	return rate.Amount, nil
}

// ListRates returns rate rows matching filter.
func (s *Service) ListRates(ctx context.Context, filter RateFilter) ([]FeeStructure, error) {
	return s.repo.ListRates(ctx, filter)
}

// BulkUpdate changes several rate amounts atomically. Every entry is
// validated before anything is written.
func (s *Service) BulkUpdate(ctx context.Context, updates []RateUpdate) error {
	if len(updates) == 0 {
		return ErrEmptyBatch
	}
	seen := make(map[int64]struct{}, len(updates))
	normalised := make([]RateUpdate, 0, len(updates))
	for i, u := range updates {
		if u.Amount.IsNegative() {
			return fmt.Errorf("%w (entry %d, rate %d)", ErrNegativeAmount, i, u.ID)
		}
		if _, dup := seen[u.ID]; dup {
			return fmt.Errorf("%w (rate %d)", ErrDuplicateRateID, u.ID)
		}
		seen[u.ID] = struct{}{}
		normalised = append(normalised, RateUpdate{ID: u.ID, Amount: u.Amount.Round(2)})
	}
	if err := s.repo.UpdateRates(ctx, normalised); err != nil {
		return err
	}
	ids := make([]int64, 0, len(normalised))
	for _, u := range normalised {
		ids = append(ids, u.ID)
	}
	shared.RecordAfterCommit(ctx, s.audit, s.logger, shared.AuditLog{
		Action:   shared.AuditFeeRatesBulk,
		Entity:   "fee_structure",
		EntityID: "bulk",
		Meta:     map[string]any{"rate_ids": ids},
	})
	return nil
}

func (s *Service) ensureUniqueName(ctx context.Context, selfID int64, name string) error {
	types, err := s.repo.ListFeeTypes(ctx)
	if err != nil {
		return err
	}
	// Casers are stateful and not safe to share across goroutines.
	fold := cases.Fold()
	folded := fold.String(name)
	for _, ft := range types {
		if ft.ID == selfID {
			continue
		}
		if fold.String(ft.Name) == folded {
			return ErrDuplicateFeeTypeName
		}
	}
	return nil
}

// IsNotFound reports whether err means the fee type or rate is absent.
func IsNotFound(err error) bool {
	return errors.Is(err, shared.ErrNotFound)
}
