package ledger

import (
	"context"
	"time"

	"github.com/schoolledger/feeledger/internal/feeconfig"
)

// Reader is the read-only view of the ledger used by the aggregator.
type Reader interface {
	GetDue(ctx context.Context, id int64) (Due, error)
	ListStudentDues(ctx context.Context, studentID int64) ([]Due, error)
	ListStudentPayments(ctx context.Context, studentID int64) ([]Payment, error)
	// ListPaymentsBetween returns payments dated in [from, to).
	ListPaymentsBetween(ctx context.Context, from, to time.Time) ([]Payment, error)
	ListOutstandingDues(ctx context.Context) ([]Due, error)
	// ListDues pages through every due ordered by id.
	ListDues(ctx context.Context, afterID int64, limit int) ([]Due, error)
}

// TxStore is the transactional write surface. Every method runs inside the
// transaction opened by Store.WithTx.
type TxStore interface {
	GetDue(ctx context.Context, id int64) (Due, error)
	FindDue(ctx context.Context, key DueKey) (Due, error)
	// InsertDue creates the due unless its key exists. created is false on a
	// key conflict and the returned Due is then zero.
	InsertDue(ctx context.Context, due Due) (Due, bool, error)
	// UpdateDue writes amounts and due date when due.Version still matches,
	// returning ErrVersionConflict otherwise.
	UpdateDue(ctx context.Context, due Due) (Due, error)
	// InsertPayment persists the payment and its allocations and assigns the
	// receipt number.
	InsertPayment(ctx context.Context, payment Payment) (Payment, error)
}

// Store owns due and payment records.
type Store interface {
	Reader
	WithTx(ctx context.Context, fn func(context.Context, TxStore) error) error
}

// Roster lists the active students of a class.
type Roster interface {
	ActiveStudents(ctx context.Context, classID int64) ([]Student, error)
}

// RateCard is the configuration consulted by generation and reporting.
type RateCard interface {
	ListFeeTypes(ctx context.Context) ([]feeconfig.FeeType, error)
	ListRates(ctx context.Context, filter feeconfig.RateFilter) ([]feeconfig.FeeStructure, error)
}

// IdempotencyGuard records client supplied request keys.
type IdempotencyGuard interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}
