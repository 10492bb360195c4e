package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/schoolledger/feeledger/internal/feeconfig"
	"github.com/schoolledger/feeledger/internal/platform/db"
)

type dbtx interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
}

// Repository provides PostgreSQL backed persistence for dues and payments.
type Repository struct {
	pool *pgxpool.Pool
	db   dbtx
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool, db: pool}
}

// WithTx runs fn in a ReadCommitted transaction. Row version checks provide
// the per-due serialization; serialization failures and deadlocks surface as
// ErrVersionConflict so the caller retries.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxStore) error) error {
	err := db.WithReadCommittedTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{db: tx})
	})
	if isRetryable(err) {
		return ErrVersionConflict
	}
	return err
}

func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "40001" || pgErr.Code == "40P01"
}

type txRepo struct {
	db dbtx
}

const dueColumns = `id, student_id, fee_type_id, period_month, period_year, amount_due, amount_paid, amount_pending, due_date, version, created_at, updated_at`

func scanDue(row pgx.Row) (Due, error) {
	var d Due
	err := row.Scan(&d.ID, &d.StudentID, &d.FeeTypeID, &d.PeriodMonth, &d.PeriodYear,
		&d.AmountDue, &d.AmountPaid, &d.AmountPending, &d.DueDate, &d.Version, &d.CreatedAt, &d.UpdatedAt)
	return d, err
}

func collectDues(rows pgx.Rows, err error) ([]Due, error) {
	if err != nil {
		return nil, fmt.Errorf("ledger: query dues: %w", err)
	}
	defer rows.Close()
	var out []Due
	for rows.Next() {
		d, err := scanDue(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func getDue(ctx context.Context, q dbtx, id int64) (Due, error) {
	d, err := scanDue(q.QueryRow(ctx, `SELECT `+dueColumns+` FROM fee_dues WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Due{}, fmt.Errorf("%w (id %d)", ErrDueNotFound, id)
	}
	if err != nil {
		return Due{}, fmt.Errorf("ledger: get due: %w", err)
	}
	return d, nil
}

// GetDue loads one due.
func (r *Repository) GetDue(ctx context.Context, id int64) (Due, error) {
	return getDue(ctx, r.db, id)
}

// ListStudentDues returns a student's dues ordered by period.
func (r *Repository) ListStudentDues(ctx context.Context, studentID int64) ([]Due, error) {
	return collectDues(r.db.Query(ctx, `SELECT `+dueColumns+` FROM fee_dues WHERE student_id=$1
ORDER BY period_year, period_month, fee_type_id`, studentID))
}

// ListOutstandingDues returns every due with a positive pending amount.
func (r *Repository) ListOutstandingDues(ctx context.Context) ([]Due, error) {
	return collectDues(r.db.Query(ctx, `SELECT `+dueColumns+` FROM fee_dues WHERE amount_pending > 0 ORDER BY id`))
}

// ListDues pages through all dues by id.
func (r *Repository) ListDues(ctx context.Context, afterID int64, limit int) ([]Due, error) {
	return collectDues(r.db.Query(ctx, `SELECT `+dueColumns+` FROM fee_dues WHERE id > $1 ORDER BY id LIMIT $2`, afterID, limit))
}

const paymentColumns = `id, student_id, amount, mode, kind, payment_date, receipt_number, remarks, COALESCE(created_by, 0), created_at`

func (r *Repository) queryPayments(ctx context.Context, query string, args ...any) ([]Payment, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ledger: query payments: %w", err)
	}
	var (
		out []Payment
		ids []int64
	)
	for rows.Next() {
		var p Payment
		if err := rows.Scan(&p.ID, &p.StudentID, &p.Amount, &p.Mode, &p.Kind, &p.PaymentDate,
			&p.ReceiptNumber, &p.Remarks, &p.CreatedBy, &p.CreatedAt); err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, p)
		ids = append(ids, p.ID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return out, nil
	}

	allocRows, err := r.db.Query(ctx, `SELECT payment_id, due_id, fee_type_id, position, amount
FROM fee_payment_allocations WHERE payment_id = ANY($1) ORDER BY payment_id, position`, ids)
	if err != nil {
		return nil, fmt.Errorf("ledger: query allocations: %w", err)
	}
	defer allocRows.Close()
	byPayment := make(map[int64][]Allocation, len(ids))
	for allocRows.Next() {
		var (
			paymentID int64
			a         Allocation
		)
		if err := allocRows.Scan(&paymentID, &a.DueID, &a.FeeTypeID, &a.Position, &a.Amount); err != nil {
			return nil, err
		}
		byPayment[paymentID] = append(byPayment[paymentID], a)
	}
	if err := allocRows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Allocations = byPayment[out[i].ID]
		out[i].DueIDs = make([]int64, 0, len(out[i].Allocations))
		for _, a := range out[i].Allocations {
			out[i].DueIDs = append(out[i].DueIDs, a.DueID)
		}
	}
	return out, nil
}

// ListStudentPayments returns a student's payments in receipt order.
func (r *Repository) ListStudentPayments(ctx context.Context, studentID int64) ([]Payment, error) {
	return r.queryPayments(ctx, `SELECT `+paymentColumns+` FROM fee_payments WHERE student_id=$1 ORDER BY receipt_seq`, studentID)
}

// ListPaymentsBetween returns payments dated in [from, to).
func (r *Repository) ListPaymentsBetween(ctx context.Context, from, to time.Time) ([]Payment, error) {
	return r.queryPayments(ctx, `SELECT `+paymentColumns+` FROM fee_payments
WHERE payment_date >= $1 AND payment_date < $2 ORDER BY receipt_seq`, from, to)
}

func (t *txRepo) GetDue(ctx context.Context, id int64) (Due, error) {
	return getDue(ctx, t.db, id)
}

func (t *txRepo) FindDue(ctx context.Context, key DueKey) (Due, error) {
	d, err := scanDue(t.db.QueryRow(ctx, `SELECT `+dueColumns+` FROM fee_dues
WHERE student_id=$1 AND fee_type_id=$2 AND period_month=$3 AND period_year=$4`,
		key.StudentID, key.FeeTypeID, key.PeriodMonth, key.PeriodYear))
	if errors.Is(err, pgx.ErrNoRows) {
		return Due{}, ErrDueNotFound
	}
	if err != nil {
		return Due{}, fmt.Errorf("ledger: find due: %w", err)
	}
	return d, nil
}

func (t *txRepo) InsertDue(ctx context.Context, due Due) (Due, bool, error) {
	d, err := scanDue(t.db.QueryRow(ctx, `INSERT INTO fee_dues
	(student_id, fee_type_id, period_month, period_year, amount_due, amount_paid, amount_pending, due_date, version, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 1, NOW(), NOW())
ON CONFLICT (student_id, fee_type_id, period_month, period_year) DO NOTHING
RETURNING `+dueColumns,
		due.StudentID, due.FeeTypeID, due.PeriodMonth, due.PeriodYear,
		due.AmountDue, due.AmountPaid, due.AmountPending, due.DueDate))
	if errors.Is(err, pgx.ErrNoRows) {
		return Due{}, false, nil
	}
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return Due{}, false, fmt.Errorf("%w (id %d)", feeconfig.ErrFeeTypeNotFound, due.FeeTypeID)
		}
		return Due{}, false, err
	}
	return d, true, nil
}

func (t *txRepo) UpdateDue(ctx context.Context, due Due) (Due, error) {
	d, err := scanDue(t.db.QueryRow(ctx, `UPDATE fee_dues
SET amount_due=$3, amount_paid=$4, amount_pending=$5, due_date=$6, version=version+1, updated_at=NOW()
WHERE id=$1 AND version=$2
RETURNING `+dueColumns,
		due.ID, due.Version, due.AmountDue, due.AmountPaid, due.AmountPending, due.DueDate))
	if errors.Is(err, pgx.ErrNoRows) {
		return Due{}, ErrVersionConflict
	}
	if err != nil {
		return Due{}, fmt.Errorf("ledger: update due: %w", err)
	}
	return d, nil
}

func (t *txRepo) InsertPayment(ctx context.Context, p Payment) (Payment, error) {
	var createdBy any
	if p.CreatedBy > 0 {
		createdBy = p.CreatedBy
	}
	var seq int64
	if err := t.db.QueryRow(ctx, `SELECT nextval('fee_receipt_seq')`).Scan(&seq); err != nil {
		return Payment{}, fmt.Errorf("ledger: next receipt: %w", err)
	}
	p.ReceiptNumber = FormatReceiptNumber(seq)
	err := t.db.QueryRow(ctx, `INSERT INTO fee_payments
	(receipt_seq, receipt_number, student_id, amount, mode, kind, payment_date, remarks, created_by, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
RETURNING id, created_at`,
		seq, p.ReceiptNumber, p.StudentID, p.Amount, string(p.Mode), string(p.Kind), p.PaymentDate, p.Remarks, createdBy,
	).Scan(&p.ID, &p.CreatedAt)
	if err != nil {
		return Payment{}, fmt.Errorf("ledger: insert payment: %w", err)
	}
	for i := range p.Allocations {
		p.Allocations[i].Position = i
		a := p.Allocations[i]
		if _, err := t.db.Exec(ctx, `INSERT INTO fee_payment_allocations (payment_id, due_id, fee_type_id, position, amount)
VALUES ($1, $2, $3, $4, $5)`, p.ID, a.DueID, a.FeeTypeID, a.Position, a.Amount); err != nil {
			return Payment{}, fmt.Errorf("ledger: insert allocation: %w", err)
		}
	}
	return p, nil
}

var _ Store = (*Repository)(nil)
