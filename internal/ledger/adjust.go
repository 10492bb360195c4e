package ledger

import (
	"context"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/schoolledger/feeledger/internal/shared"
)

// UpdateDueAmount lowers a due's amount and optionally moves its due date.
// The amount may only go down and never below what has been paid, so a paid
// due cannot be re-opened. A zero newDueDate keeps the current date.
func (s *Service) UpdateDueAmount(ctx context.Context, dueID int64, newAmountDue decimal.Decimal, newDueDate time.Time) (Due, error) {
	newAmountDue = newAmountDue.Round(2)
	if newAmountDue.IsNegative() {
		return Due{}, ErrAdjustNegative
	}

	var (
		before Due
		after  Due
	)
	err := s.withRetry(ctx, "adjust", func(ctx context.Context, tx TxStore) error {
		due, err := tx.GetDue(ctx, dueID)
		if err != nil {
			return err
		}
		if newAmountDue.GreaterThan(due.AmountDue) {
			return ErrAdjustUpward
		}
		if newAmountDue.LessThan(due.AmountPaid) {
			return ErrAdjustBelowPaid
		}
		before = due
		due.AmountDue = newAmountDue
		due.AmountPending = newAmountDue.Sub(due.AmountPaid)
		if !newDueDate.IsZero() {
			due.DueDate = shared.DateOnly(newDueDate)
		}
		after, err = tx.UpdateDue(ctx, due)
		return err
	})
	if err != nil {
		return Due{}, err
	}

	shared.RecordAfterCommit(ctx, s.audit, s.logger, shared.AuditLog{
		Action:   shared.AuditDueAdjusted,
		Entity:   "fee_due",
		EntityID: strconv.FormatInt(dueID, 10),
		Meta: map[string]any{
			"amount_due_before": before.AmountDue.StringFixed(2),
			"amount_due_after":  after.AmountDue.StringFixed(2),
			"due_date":          after.DueDate.Format(time.DateOnly),
		},
	})
	return after, nil
}
