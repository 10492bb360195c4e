package feeconfig

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/schoolledger/feeledger/internal/platform/db"
	"github.com/schoolledger/feeledger/internal/shared"
)

type dbtx interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
}

// Repository provides PostgreSQL backed persistence for fee types and rates.
type Repository struct {
	pool *pgxpool.Pool
	db   dbtx
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool, db: pool}
}

const feeTypeColumns = `id, name, is_recurring, created_at, updated_at`

func scanFeeType(row pgx.Row) (FeeType, error) {
	var ft FeeType
	err := row.Scan(&ft.ID, &ft.Name, &ft.IsRecurring, &ft.CreatedAt, &ft.UpdatedAt)
	return ft, err
}

// ListFeeTypes returns all fee types ordered by name.
func (r *Repository) ListFeeTypes(ctx context.Context) ([]FeeType, error) {
	rows, err := r.db.Query(ctx, `SELECT `+feeTypeColumns+` FROM fee_types ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("feeconfig: list fee types: %w", err)
	}
	defer rows.Close()
	var out []FeeType
	for rows.Next() {
		ft, err := scanFeeType(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ft)
	}
	return out, rows.Err()
}

// GetFeeType loads a fee type by id.
func (r *Repository) GetFeeType(ctx context.Context, id int64) (FeeType, error) {
	ft, err := scanFeeType(r.db.QueryRow(ctx, `SELECT `+feeTypeColumns+` FROM fee_types WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return FeeType{}, ErrFeeTypeNotFound
	}
	if err != nil {
		return FeeType{}, fmt.Errorf("feeconfig: get fee type: %w", err)
	}
	return ft, nil
}

// InsertFeeType creates a fee type. The lower(name) unique index backs the
// service-level duplicate check.
func (r *Repository) InsertFeeType(ctx context.Context, name string, isRecurring bool) (FeeType, error) {
	ft, err := scanFeeType(r.db.QueryRow(ctx, `INSERT INTO fee_types (name, is_recurring, created_at, updated_at)
VALUES ($1, $2, NOW(), NOW()) RETURNING `+feeTypeColumns, name, isRecurring))
	if err != nil {
		if shared.IsUniqueViolation(err) {
			return FeeType{}, ErrDuplicateFeeTypeName
		}
		return FeeType{}, fmt.Errorf("feeconfig: insert fee type: %w", err)
	}
	return ft, nil
}

// UpdateFeeType writes the non-identity fields.
func (r *Repository) UpdateFeeType(ctx context.Context, in FeeType) (FeeType, error) {
	ft, err := scanFeeType(r.db.QueryRow(ctx, `UPDATE fee_types SET name=$2, is_recurring=$3, updated_at=NOW()
WHERE id=$1 RETURNING `+feeTypeColumns, in.ID, in.Name, in.IsRecurring))
	if errors.Is(err, pgx.ErrNoRows) {
		return FeeType{}, ErrFeeTypeNotFound
	}
	if err != nil {
		if shared.IsUniqueViolation(err) {
			return FeeType{}, ErrDuplicateFeeTypeName
		}
		return FeeType{}, fmt.Errorf("feeconfig: update fee type: %w", err)
	}
	return ft, nil
}

// DeleteFeeType removes a fee type. Foreign keys reject the delete when a rate
// or due was added after the reference check.
func (r *Repository) DeleteFeeType(ctx context.Context, id int64) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM fee_types WHERE id=$1`, id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return ErrFeeTypeReferenced
		}
		return fmt.Errorf("feeconfig: delete fee type: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrFeeTypeNotFound
	}
	return nil
}

// FeeTypeReferenced reports whether any rate or due points at the fee type.
func (r *Repository) FeeTypeReferenced(ctx context.Context, id int64) (bool, error) {
	var referenced bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM fee_structures WHERE fee_type_id=$1)
	OR EXISTS (SELECT 1 FROM fee_dues WHERE fee_type_id=$1)`, id).Scan(&referenced)
	if err != nil {
		return false, fmt.Errorf("feeconfig: fee type references: %w", err)
	}
	return referenced, nil
}

const rateColumns = `id, class_id, fee_type_id, academic_year, amount, updated_at`

func scanRate(row pgx.Row) (FeeStructure, error) {
	var fs FeeStructure
	err := row.Scan(&fs.ID, &fs.ClassID, &fs.FeeTypeID, &fs.AcademicYear, &fs.Amount, &fs.UpdatedAt)
	return fs, err
}

// UpsertRate inserts or replaces one rate card cell.
func (r *Repository) UpsertRate(ctx context.Context, input RateInput) (FeeStructure, error) {
	fs, err := scanRate(r.db.QueryRow(ctx, `INSERT INTO fee_structures (class_id, fee_type_id, academic_year, amount, updated_at)
VALUES ($1, $2, $3, $4, NOW())
ON CONFLICT (class_id, fee_type_id, academic_year) DO UPDATE SET amount = EXCLUDED.amount, updated_at = NOW()
RETURNING `+rateColumns, input.ClassID, input.FeeTypeID, input.AcademicYear, input.Amount))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return FeeStructure{}, ErrFeeTypeNotFound
		}
		return FeeStructure{}, fmt.Errorf("feeconfig: upsert rate: %w", err)
	}
	return fs, nil
}

// GetRate returns the rate for one cell.
func (r *Repository) GetRate(ctx context.Context, classID, feeTypeID int64, academicYear int) (FeeStructure, error) {
	fs, err := scanRate(r.db.QueryRow(ctx, `SELECT `+rateColumns+` FROM fee_structures
WHERE class_id=$1 AND fee_type_id=$2 AND academic_year=$3`, classID, feeTypeID, academicYear))
	if errors.Is(err, pgx.ErrNoRows) {
		return FeeStructure{}, ErrRateNotFound
	}
	if err != nil {
		return FeeStructure{}, fmt.Errorf("feeconfig: get rate: %w", err)
	}
	return fs, nil
}

// ListRates returns rate rows filtered by year, class and fee type.
func (r *Repository) ListRates(ctx context.Context, filter RateFilter) ([]FeeStructure, error) {
	var (
		where []string
		args  []any
	)
	if filter.AcademicYear > 0 {
		args = append(args, filter.AcademicYear)
		where = append(where, fmt.Sprintf("academic_year = $%d", len(args)))
	}
	if filter.ClassID > 0 {
		args = append(args, filter.ClassID)
		where = append(where, fmt.Sprintf("class_id = $%d", len(args)))
	}
	if filter.FeeTypeID > 0 {
		args = append(args, filter.FeeTypeID)
		where = append(where, fmt.Sprintf("fee_type_id = $%d", len(args)))
	}
	query := `SELECT ` + rateColumns + ` FROM fee_structures`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY academic_year, class_id, fee_type_id"

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("feeconfig: list rates: %w", err)
	}
	defer rows.Close()
	var out []FeeStructure
	for rows.Next() {
		fs, err := scanRate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, fs)
	}
	return out, rows.Err()
}

// UpdateRates applies every update in one transaction. An unknown id rolls
// the whole batch back.
func (r *Repository) UpdateRates(ctx context.Context, updates []RateUpdate) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		for _, u := range updates {
			tag, err := tx.Exec(ctx, `UPDATE fee_structures SET amount=$2, updated_at=NOW() WHERE id=$1`, u.ID, u.Amount)
			if err != nil {
				return fmt.Errorf("feeconfig: update rate %d: %w", u.ID, err)
			}
			if tag.RowsAffected() == 0 {
				return fmt.Errorf("%w (id %d)", ErrRateNotFound, u.ID)
			}
		}
		return nil
	})
}
