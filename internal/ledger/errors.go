package ledger

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/schoolledger/feeledger/internal/shared"
)

var (
	ErrDueNotFound         = fmt.Errorf("%w: due", shared.ErrNotFound)
	ErrEmptyClassSet       = fmt.Errorf("%w: at least one class is required", shared.ErrValidation)
	ErrInvalidClass        = fmt.Errorf("%w: class id must be positive", shared.ErrValidation)
	ErrInvalidScope        = fmt.Errorf("%w: scope must be monthly or annual", shared.ErrValidation)
	ErrStudentRequired     = fmt.Errorf("%w: student id must be positive", shared.ErrValidation)
	ErrFeeTypeRequired     = fmt.Errorf("%w: fee type id must be positive", shared.ErrValidation)
	ErrInvalidAmount       = fmt.Errorf("%w: amount must be positive", shared.ErrValidation)
	ErrInvalidMode         = fmt.Errorf("%w: unsupported payment mode", shared.ErrValidation)
	ErrPaymentDateRequired = fmt.Errorf("%w: payment date is required", shared.ErrValidation)
	ErrNoDuesTargeted      = fmt.Errorf("%w: at least one due must be targeted", shared.ErrValidation)
	ErrDuplicateDue        = fmt.Errorf("%w: due targeted more than once", shared.ErrValidation)
	ErrDueStudentMismatch  = fmt.Errorf("%w: due belongs to another student", shared.ErrValidation)
	ErrAdjustNegative      = fmt.Errorf("%w: amount due must not be negative", shared.ErrValidation)
	ErrAdjustBelowPaid     = fmt.Errorf("%w: amount due cannot drop below amount paid", shared.ErrValidation)
	ErrAdjustUpward        = fmt.Errorf("%w: amount due can only be reduced", shared.ErrValidation)

	// ErrVersionConflict signals a lost compare-and-swap inside a transaction.
	// Services retry on it and surface ErrConcurrentModification when retries run out.
	ErrVersionConflict = errors.New("ledger: version conflict")

	ErrConcurrentModification = fmt.Errorf("%w: due changed concurrently, refetch and resubmit", shared.ErrConcurrentModification)
)

// OverpaymentError reports a payment larger than the pending total it targets.
type OverpaymentError struct {
	Amount  decimal.Decimal
	Pending decimal.Decimal
}

func (e *OverpaymentError) Error() string {
	return fmt.Sprintf("payment %s exceeds pending %s", e.Amount.StringFixed(2), e.Pending.StringFixed(2))
}

// Unwrap lets errors.Is match shared.ErrOverpayment.
func (e *OverpaymentError) Unwrap() error {
	return shared.ErrOverpayment
}
