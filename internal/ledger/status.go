package ledger

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Status is the derived lifecycle state of a due.
type Status string

const (
	StatusPending Status = "pending"
	StatusPartial Status = "partial"
	StatusPaid    Status = "paid"
)

// DeriveStatus is the only place due status is computed.
func DeriveStatus(amountDue, amountPaid, amountPending decimal.Decimal) Status {
	switch {
	case !amountPending.IsPositive():
		return StatusPaid
	case amountPaid.IsPositive() && amountPaid.LessThan(amountDue):
		return StatusPartial
	default:
		return StatusPending
	}
}

// CheckInvariant verifies the reconciliation rules for a single due.
func CheckInvariant(d Due) error {
	if d.AmountPaid.IsNegative() || d.AmountPending.IsNegative() {
		return fmt.Errorf("due %d: negative amounts (paid %s, pending %s)", d.ID, d.AmountPaid, d.AmountPending)
	}
	if !d.AmountDue.Equal(d.AmountPaid.Add(d.AmountPending)) {
		return fmt.Errorf("due %d: amount_due %s != paid %s + pending %s", d.ID, d.AmountDue, d.AmountPaid, d.AmountPending)
	}
	return nil
}
