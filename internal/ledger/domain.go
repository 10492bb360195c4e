package ledger

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Scope selects which fee types a generation run covers.
type Scope string

const (
	// ScopeMonthly covers recurring fee types only.
	ScopeMonthly Scope = "monthly"
	// ScopeAnnual covers every fee type, recurring and one-time.
	ScopeAnnual Scope = "annual"
)

// Valid reports whether the scope is known.
func (s Scope) Valid() bool {
	return s == ScopeMonthly || s == ScopeAnnual
}

// PaymentMode is the instrument a payment was made with.
type PaymentMode string

const (
	ModeCash         PaymentMode = "cash"
	ModeOnline       PaymentMode = "online"
	ModeCheque       PaymentMode = "cheque"
	ModeBankTransfer PaymentMode = "bank_transfer"
	ModeUPI          PaymentMode = "upi"
	ModeCard         PaymentMode = "card"
)

// Valid reports whether the mode is accepted.
func (m PaymentMode) Valid() bool {
	switch m {
	case ModeCash, ModeOnline, ModeCheque, ModeBankTransfer, ModeUPI, ModeCard:
		return true
	}
	return false
}

// PaymentKind distinguishes targeted collections from free-form records.
type PaymentKind string

const (
	KindCollect PaymentKind = "collect"
	KindRecord  PaymentKind = "record"
)

// DueKey identifies the single due a student may hold for a fee type and period.
type DueKey struct {
	StudentID   int64
	FeeTypeID   int64
	PeriodMonth int
	PeriodYear  int
}

// Due is one generated obligation. AmountDue always equals AmountPaid plus
// AmountPending.
type Due struct {
	ID            int64           `json:"id"`
	StudentID     int64           `json:"student_id"`
	FeeTypeID     int64           `json:"fee_type_id"`
	PeriodMonth   int             `json:"period_month"`
	PeriodYear    int             `json:"period_year"`
	AmountDue     decimal.Decimal `json:"amount_due"`
	AmountPaid    decimal.Decimal `json:"amount_paid"`
	AmountPending decimal.Decimal `json:"amount_pending"`
	DueDate       time.Time       `json:"due_date"`
	Version       int64           `json:"version"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// Key returns the uniqueness key of the due.
func (d Due) Key() DueKey {
	return DueKey{StudentID: d.StudentID, FeeTypeID: d.FeeTypeID, PeriodMonth: d.PeriodMonth, PeriodYear: d.PeriodYear}
}

// Status derives the lifecycle state from the amounts.
func (d Due) Status() Status {
	return DeriveStatus(d.AmountDue, d.AmountPaid, d.AmountPending)
}

// Allocation is the share of a payment applied to one due.
type Allocation struct {
	DueID     int64           `json:"due_id"`
	FeeTypeID int64           `json:"fee_type_id"`
	Position  int             `json:"position"`
	Amount    decimal.Decimal `json:"amount"`
}

// Payment is an immutable receipt. Corrections are new payments.
type Payment struct {
	ID            int64           `json:"id"`
	StudentID     int64           `json:"student_id"`
	DueIDs        []int64         `json:"due_ids"`
	Amount        decimal.Decimal `json:"amount"`
	Mode          PaymentMode     `json:"mode"`
	Kind          PaymentKind     `json:"kind"`
	PaymentDate   time.Time       `json:"payment_date"`
	ReceiptNumber string          `json:"receipt_number"`
	Remarks       string          `json:"remarks,omitempty"`
	Allocations   []Allocation    `json:"allocations"`
	CreatedBy     int64           `json:"created_by,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Student is an active roster entry supplied by the directory service.
type Student struct {
	ID              int64  `json:"id"`
	Name            string `json:"name"`
	AdmissionNumber string `json:"admission_number"`
	ClassID         int64  `json:"class_id"`
	Section         string `json:"section"`
}

// FormatReceiptNumber renders a receipt sequence value.
func FormatReceiptNumber(seq int64) string {
	return fmt.Sprintf("RCPT-%06d", seq)
}
