package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/schoolledger/feeledger/internal/shared"
)

// CollectRequest settles one or more named dues in the given order.
type CollectRequest struct {
	StudentID      int64
	DueIDs         []int64
	Amount         decimal.Decimal
	Mode           PaymentMode
	PaymentDate    time.Time
	Remarks        string
	IdempotencyKey string
}

// RecordRequest records a payment against (student, fee type, period),
// creating a self-settling due when none exists.
type RecordRequest struct {
	StudentID      int64
	FeeTypeID      int64
	PeriodMonth    int
	PeriodYear     int
	Amount         decimal.Decimal
	Mode           PaymentMode
	PaymentDate    time.Time
	Remarks        string
	IdempotencyKey string
}

// Allocate spreads amount over dues in order. Each due takes at most its
// pending amount and dues with nothing pending are left out. An amount larger
// than the combined pending fails with *OverpaymentError.
func Allocate(amount decimal.Decimal, dues []Due) ([]Allocation, error) {
	pending := decimal.Zero
	for _, d := range dues {
		if d.AmountPending.IsPositive() {
			pending = pending.Add(d.AmountPending)
		}
	}
	if amount.GreaterThan(pending) {
		return nil, &OverpaymentError{Amount: amount, Pending: pending}
	}
	remaining := amount
	var out []Allocation
	for _, d := range dues {
		if !remaining.IsPositive() {
			break
		}
		if !d.AmountPending.IsPositive() {
			continue
		}
		applied := decimal.Min(remaining, d.AmountPending)
		out = append(out, Allocation{DueID: d.ID, FeeTypeID: d.FeeTypeID, Position: len(out), Amount: applied})
		remaining = remaining.Sub(applied)
	}
	return out, nil
}

func validatePayment(studentID int64, amount decimal.Decimal, mode PaymentMode, date time.Time) error {
	if studentID <= 0 {
		return ErrStudentRequired
	}
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	if !mode.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidMode, mode)
	}
	if date.IsZero() {
		return ErrPaymentDateRequired
	}
	return nil
}

func (r CollectRequest) validate() error {
	if err := validatePayment(r.StudentID, r.Amount, r.Mode, r.PaymentDate); err != nil {
		return err
	}
	if len(r.DueIDs) == 0 {
		return ErrNoDuesTargeted
	}
	seen := make(map[int64]struct{}, len(r.DueIDs))
	for _, id := range r.DueIDs {
		if _, dup := seen[id]; dup {
			return fmt.Errorf("%w (due %d)", ErrDuplicateDue, id)
		}
		seen[id] = struct{}{}
	}
	return nil
}

func (r RecordRequest) validate() error {
	if err := validatePayment(r.StudentID, r.Amount, r.Mode, r.PaymentDate); err != nil {
		return err
	}
	if r.FeeTypeID <= 0 {
		return ErrFeeTypeRequired
	}
	return shared.ValidatePeriod(r.PeriodMonth, r.PeriodYear)
}

// CollectPayment applies a targeted payment. The due updates and the payment
// row commit together or not at all.
func (s *Service) CollectPayment(ctx context.Context, req CollectRequest) (Payment, error) {
	req.Amount = req.Amount.Round(2)
	req.Remarks = strings.TrimSpace(req.Remarks)
	if err := req.validate(); err != nil {
		s.metrics.paymentRejected("validation")
		return Payment{}, err
	}
	release, err := s.guard(ctx, req.IdempotencyKey)
	if err != nil {
		s.metrics.paymentRejected("duplicate")
		return Payment{}, err
	}

	var payment Payment
	err = s.withRetry(ctx, "collect", func(ctx context.Context, tx TxStore) error {
		dues := make([]Due, 0, len(req.DueIDs))
		for _, id := range req.DueIDs {
			due, err := tx.GetDue(ctx, id)
			if err != nil {
				return err
			}
			if due.StudentID != req.StudentID {
				return fmt.Errorf("%w (due %d)", ErrDueStudentMismatch, id)
			}
			dues = append(dues, due)
		}
		allocations, err := Allocate(req.Amount, dues)
		if err != nil {
			return err
		}
		byID := make(map[int64]Due, len(dues))
		for _, d := range dues {
			byID[d.ID] = d
		}
		dueIDs := make([]int64, 0, len(allocations))
		for _, a := range allocations {
			if err := applyAllocation(ctx, tx, byID[a.DueID], a.Amount); err != nil {
				return err
			}
			dueIDs = append(dueIDs, a.DueID)
		}
		payment, err = tx.InsertPayment(ctx, Payment{
			StudentID:   req.StudentID,
			DueIDs:      dueIDs,
			Amount:      req.Amount,
			Mode:        req.Mode,
			Kind:        KindCollect,
			PaymentDate: shared.DateOnly(req.PaymentDate),
			Remarks:     req.Remarks,
			Allocations: allocations,
			CreatedBy:   shared.ActorFromContext(ctx),
		})
		return err
	})
	if err != nil {
		release()
		s.rejected(err)
		return Payment{}, err
	}
	s.committed(ctx, payment, shared.AuditPaymentCollected)
	return payment, nil
}

// RecordPayment applies a free-form payment. An existing due for the key is
// settled like a single-due collection; otherwise a due with
// amount_due = amount_paid = amount is created alongside the payment.
func (s *Service) RecordPayment(ctx context.Context, req RecordRequest) (Payment, error) {
	req.Amount = req.Amount.Round(2)
	req.Remarks = strings.TrimSpace(req.Remarks)
	if err := req.validate(); err != nil {
		s.metrics.paymentRejected("validation")
		return Payment{}, err
	}
	release, err := s.guard(ctx, req.IdempotencyKey)
	if err != nil {
		s.metrics.paymentRejected("duplicate")
		return Payment{}, err
	}

	key := DueKey{StudentID: req.StudentID, FeeTypeID: req.FeeTypeID, PeriodMonth: req.PeriodMonth, PeriodYear: req.PeriodYear}
	var payment Payment
	err = s.withRetry(ctx, "record", func(ctx context.Context, tx TxStore) error {
		var allocations []Allocation
		due, err := tx.FindDue(ctx, key)
		switch {
		case errors.Is(err, ErrDueNotFound):
			due, created, err := tx.InsertDue(ctx, Due{
				StudentID:     req.StudentID,
				FeeTypeID:     req.FeeTypeID,
				PeriodMonth:   req.PeriodMonth,
				PeriodYear:    req.PeriodYear,
				AmountDue:     req.Amount,
				AmountPaid:    req.Amount,
				AmountPending: decimal.Zero,
				DueDate:       shared.DueDateFor(req.PeriodMonth, req.PeriodYear, s.opts.DueDay, s.opts.Location),
			})
			if err != nil {
				return err
			}
			if !created {
				// Lost the race to another writer; retry against its row.
				return ErrVersionConflict
			}
			allocations = []Allocation{{DueID: due.ID, FeeTypeID: due.FeeTypeID, Amount: req.Amount}}
		case err != nil:
			return err
		default:
			allocations, err = Allocate(req.Amount, []Due{due})
			if err != nil {
				return err
			}
			for _, a := range allocations {
				if err := applyAllocation(ctx, tx, due, a.Amount); err != nil {
					return err
				}
			}
		}
		dueIDs := make([]int64, 0, len(allocations))
		for _, a := range allocations {
			dueIDs = append(dueIDs, a.DueID)
		}
		payment, err = tx.InsertPayment(ctx, Payment{
			StudentID:   req.StudentID,
			DueIDs:      dueIDs,
			Amount:      req.Amount,
			Mode:        req.Mode,
			Kind:        KindRecord,
			PaymentDate: shared.DateOnly(req.PaymentDate),
			Remarks:     req.Remarks,
			Allocations: allocations,
			CreatedBy:   shared.ActorFromContext(ctx),
		})
		return err
	})
	if err != nil {
		release()
		s.rejected(err)
		return Payment{}, err
	}
	s.committed(ctx, payment, shared.AuditPaymentRecorded)
	return payment, nil
}

func applyAllocation(ctx context.Context, tx TxStore, due Due, amount decimal.Decimal) error {
	due.AmountPaid = due.AmountPaid.Add(amount)
	due.AmountPending = due.AmountPending.Sub(amount)
	if err := CheckInvariant(due); err != nil {
		return fmt.Errorf("ledger: %w", err)
	}
	_, err := tx.UpdateDue(ctx, due)
	return err
}

func (s *Service) rejected(err error) {
	switch {
	case errors.Is(err, shared.ErrOverpayment):
		s.metrics.paymentRejected("overpayment")
	case errors.Is(err, shared.ErrConcurrentModification):
		s.metrics.paymentRejected("concurrent_modification")
	case errors.Is(err, shared.ErrNotFound):
		s.metrics.paymentRejected("not_found")
	case errors.Is(err, shared.ErrValidation):
		s.metrics.paymentRejected("validation")
	default:
		s.metrics.paymentRejected("error")
		s.logger.Error("payment failed", slog.Any("error", err))
	}
}

func (s *Service) committed(ctx context.Context, payment Payment, action string) {
	s.metrics.paymentCommitted(payment.Kind, payment.Mode)
	s.logger.Info("payment committed",
		slog.String("receipt", payment.ReceiptNumber),
		slog.Int64("student_id", payment.StudentID),
		slog.String("amount", payment.Amount.StringFixed(2)),
		slog.String("kind", string(payment.Kind)),
	)
	shared.RecordAfterCommit(ctx, s.audit, s.logger, shared.AuditLog{
		Action:   action,
		Entity:   "fee_payment",
		EntityID: strconv.FormatInt(payment.ID, 10),
		Meta: map[string]any{
			"receipt_number": payment.ReceiptNumber,
			"student_id":     payment.StudentID,
			"due_ids":        payment.DueIDs,
			"amount":         payment.Amount.StringFixed(2),
			"mode":           string(payment.Mode),
		},
	})
}
