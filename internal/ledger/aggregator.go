package ledger

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/schoolledger/feeledger/internal/shared"
)

// Totals sums the amounts of a set of dues.
type Totals struct {
	TotalDue     decimal.Decimal `json:"total_due"`
	TotalPaid    decimal.Decimal `json:"total_paid"`
	TotalPending decimal.Decimal `json:"total_pending"`
}

// Collection sums payments, split by mode.
type Collection struct {
	Total  decimal.Decimal                 `json:"total"`
	ByMode map[PaymentMode]decimal.Decimal `json:"by_mode"`
	Count  int                             `json:"count"`
}

// StudentTotalsOf folds dues into totals.
func StudentTotalsOf(dues []Due) Totals {
	t := Totals{TotalDue: decimal.Zero, TotalPaid: decimal.Zero, TotalPending: decimal.Zero}
	for _, d := range dues {
		t.TotalDue = t.TotalDue.Add(d.AmountDue)
		t.TotalPaid = t.TotalPaid.Add(d.AmountPaid)
		t.TotalPending = t.TotalPending.Add(d.AmountPending)
	}
	return t
}

// PendingByFeeType sums pending amounts per fee type name.
func PendingByFeeType(dues []Due, names map[int64]string) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal)
	for _, d := range dues {
		name := feeTypeName(names, d.FeeTypeID)
		out[name] = out[name].Add(d.AmountPending)
	}
	return out
}

// PaidByFeeType sums allocated payment amounts per fee type name.
func PaidByFeeType(payments []Payment, names map[int64]string) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal)
	for _, p := range payments {
		for _, a := range p.Allocations {
			name := feeTypeName(names, a.FeeTypeID)
			out[name] = out[name].Add(a.Amount)
		}
	}
	return out
}

// CollectionOf folds payments into a collection total.
func CollectionOf(payments []Payment) Collection {
	c := Collection{Total: decimal.Zero, ByMode: make(map[PaymentMode]decimal.Decimal)}
	for _, p := range payments {
		c.Total = c.Total.Add(p.Amount)
		c.ByMode[p.Mode] = c.ByMode[p.Mode].Add(p.Amount)
		c.Count++
	}
	return c
}

// PendingOf sums the pending amount of dues that still have something pending.
func PendingOf(dues []Due) decimal.Decimal {
	total := decimal.Zero
	for _, d := range dues {
		if d.AmountPending.IsPositive() {
			total = total.Add(d.AmountPending)
		}
	}
	return total
}

func feeTypeName(names map[int64]string, id int64) string {
	if name, ok := names[id]; ok {
		return name
	}
	return "fee_type_" + strconv.FormatInt(id, 10)
}

// Aggregator answers read-only questions about the ledger. Every call reads
// the store afresh and folds; nothing is cached.
type Aggregator struct {
	reader  Reader
	catalog RateCard
	loc     *time.Location
	clock   func() time.Time
}

// NewAggregator builds an Aggregator. catalog may be nil, in which case fee
// types are reported by id.
func NewAggregator(reader Reader, catalog RateCard, loc *time.Location) *Aggregator {
	if loc == nil {
		loc = time.UTC
	}
	return &Aggregator{reader: reader, catalog: catalog, loc: loc, clock: time.Now}
}

// WithClock overrides the clock used to resolve "today".
func (a *Aggregator) WithClock(clock func() time.Time) {
	if clock != nil {
		a.clock = clock
	}
}

// StudentTotals sums the student's dues.
func (a *Aggregator) StudentTotals(ctx context.Context, studentID int64) (Totals, error) {
	dues, err := a.reader.ListStudentDues(ctx, studentID)
	if err != nil {
		return Totals{}, err
	}
	return StudentTotalsOf(dues), nil
}

// FeeTypeBreakdown is the per fee type view of one student.
type FeeTypeBreakdown struct {
	Pending map[string]decimal.Decimal `json:"pending"`
	Paid    map[string]decimal.Decimal `json:"paid"`
}

// ByFeeType returns pending per fee type from dues and paid per fee type from
// payment history.
func (a *Aggregator) ByFeeType(ctx context.Context, studentID int64) (FeeTypeBreakdown, error) {
	dues, err := a.reader.ListStudentDues(ctx, studentID)
	if err != nil {
		return FeeTypeBreakdown{}, err
	}
	payments, err := a.reader.ListStudentPayments(ctx, studentID)
	if err != nil {
		return FeeTypeBreakdown{}, err
	}
	names, err := a.feeTypeNames(ctx)
	if err != nil {
		return FeeTypeBreakdown{}, err
	}
	return FeeTypeBreakdown{Pending: PendingByFeeType(dues, names), Paid: PaidByFeeType(payments, names)}, nil
}

// DailyCollection sums payments dated on the given day.
func (a *Aggregator) DailyCollection(ctx context.Context, date time.Time) (Collection, error) {
	from := shared.DateOnly(date.In(a.loc))
	payments, err := a.reader.ListPaymentsBetween(ctx, from, from.AddDate(0, 0, 1))
	if err != nil {
		return Collection{}, err
	}
	return CollectionOf(payments), nil
}

// YearToDateCollection sums payments dated in the calendar year.
func (a *Aggregator) YearToDateCollection(ctx context.Context, year int) (Collection, error) {
	from := time.Date(year, time.January, 1, 0, 0, 0, 0, a.loc)
	payments, err := a.reader.ListPaymentsBetween(ctx, from, from.AddDate(1, 0, 0))
	if err != nil {
		return Collection{}, err
	}
	return CollectionOf(payments), nil
}

// PendingAcrossSchool sums every outstanding due.
func (a *Aggregator) PendingAcrossSchool(ctx context.Context) (decimal.Decimal, error) {
	dues, err := a.reader.ListOutstandingDues(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	return PendingOf(dues), nil
}

// DueView is a due with its derived status and fee type name.
type DueView struct {
	Due
	FeeType string `json:"fee_type"`
	Status  Status `json:"status"`
}

// StudentLedger is everything the ledger holds for one student.
type StudentLedger struct {
	StudentID int64            `json:"student_id"`
	Dues      []DueView        `json:"dues"`
	Payments  []Payment        `json:"payments"`
	Totals    Totals           `json:"totals"`
	ByFeeType FeeTypeBreakdown `json:"by_fee_type"`
}

// StudentLedger returns the dues, payments and totals of a student.
func (a *Aggregator) StudentLedger(ctx context.Context, studentID int64) (StudentLedger, error) {
	if studentID <= 0 {
		return StudentLedger{}, ErrStudentRequired
	}
	dues, err := a.reader.ListStudentDues(ctx, studentID)
	if err != nil {
		return StudentLedger{}, err
	}
	payments, err := a.reader.ListStudentPayments(ctx, studentID)
	if err != nil {
		return StudentLedger{}, err
	}
	names, err := a.feeTypeNames(ctx)
	if err != nil {
		return StudentLedger{}, err
	}
	views := make([]DueView, 0, len(dues))
	for _, d := range dues {
		views = append(views, DueView{Due: d, FeeType: feeTypeName(names, d.FeeTypeID), Status: d.Status()})
	}
	if payments == nil {
		payments = []Payment{}
	}
	return StudentLedger{
		StudentID: studentID,
		Dues:      views,
		Payments:  payments,
		Totals:    StudentTotalsOf(dues),
		ByFeeType: FeeTypeBreakdown{Pending: PendingByFeeType(dues, names), Paid: PaidByFeeType(payments, names)},
	}, nil
}

// SummaryScope selects the window of an aggregate summary.
type SummaryScope string

const (
	SummaryToday      SummaryScope = "today"
	SummaryYear       SummaryScope = "year"
	SummaryAllPending SummaryScope = "all-pending"
)

// Summary is the answer to getAggregateSummary.
type Summary struct {
	Scope  SummaryScope                    `json:"scope"`
	AsOf   string                          `json:"as_of"`
	Total  decimal.Decimal                 `json:"total"`
	ByMode map[PaymentMode]decimal.Decimal `json:"by_mode,omitempty"`
	Count  int                             `json:"count"`
}

// Summary computes collection or outstanding totals. asOf defaults to now.
func (a *Aggregator) Summary(ctx context.Context, scope SummaryScope, asOf time.Time) (Summary, error) {
	if asOf.IsZero() {
		asOf = a.clock()
	}
	asOf = asOf.In(a.loc)
	out := Summary{Scope: scope, AsOf: asOf.Format(time.DateOnly)}
	switch scope {
	case SummaryToday:
		c, err := a.DailyCollection(ctx, asOf)
		if err != nil {
			return Summary{}, err
		}
		out.Total, out.ByMode, out.Count = c.Total, c.ByMode, c.Count
	case SummaryYear:
		c, err := a.YearToDateCollection(ctx, asOf.Year())
		if err != nil {
			return Summary{}, err
		}
		out.Total, out.ByMode, out.Count = c.Total, c.ByMode, c.Count
	case SummaryAllPending:
		dues, err := a.reader.ListOutstandingDues(ctx)
		if err != nil {
			return Summary{}, err
		}
		out.Total = PendingOf(dues)
		out.Count = len(dues)
	default:
		return Summary{}, fmt.Errorf("%w: unknown summary scope %q", shared.ErrValidation, scope)
	}
	return out, nil
}

// Defaulter is a student with an outstanding balance.
type Defaulter struct {
	StudentID     int64           `json:"student_id"`
	Pending       decimal.Decimal `json:"pending"`
	OpenDues      int             `json:"open_dues"`
	OldestDueDate time.Time       `json:"oldest_due_date"`
}

// DefaulterPage is one page of the debtor list.
type DefaulterPage struct {
	Defaulters []Defaulter       `json:"defaulters"`
	Pagination shared.Pagination `json:"pagination"`
	Total      decimal.Decimal   `json:"total_pending"`
}

// Defaulters lists students with pending dues, largest balance first.
func (a *Aggregator) Defaulters(ctx context.Context, page, perPage int) (DefaulterPage, error) {
	dues, err := a.reader.ListOutstandingDues(ctx)
	if err != nil {
		return DefaulterPage{}, err
	}
	byStudent := make(map[int64]*Defaulter)
	for _, d := range dues {
		if !d.AmountPending.IsPositive() {
			continue
		}
		row, ok := byStudent[d.StudentID]
		if !ok {
			row = &Defaulter{StudentID: d.StudentID, Pending: decimal.Zero, OldestDueDate: d.DueDate}
			byStudent[d.StudentID] = row
		}
		row.Pending = row.Pending.Add(d.AmountPending)
		row.OpenDues++
		if d.DueDate.Before(row.OldestDueDate) {
			row.OldestDueDate = d.DueDate
		}
	}
	all := make([]Defaulter, 0, len(byStudent))
	total := decimal.Zero
	for _, row := range byStudent {
		all = append(all, *row)
		total = total.Add(row.Pending)
	}
	sort.Slice(all, func(i, j int) bool {
		if c := all[i].Pending.Cmp(all[j].Pending); c != 0 {
			return c > 0
		}
		return all[i].StudentID < all[j].StudentID
	})
	p := shared.NewPagination(page, perPage, len(all))
	start, end := p.Bounds()
	return DefaulterPage{Defaulters: all[start:end], Pagination: p, Total: total}, nil
}

// IntegrityViolation describes a due breaking the reconciliation rules.
type IntegrityViolation struct {
	DueID  int64  `json:"due_id"`
	Reason string `json:"reason"`
}

const integrityBatch = 500

// CheckIntegrity scans every due and reports the ones whose amounts do not
// reconcile. A healthy ledger returns none.
func (a *Aggregator) CheckIntegrity(ctx context.Context) ([]IntegrityViolation, error) {
	var (
		out     []IntegrityViolation
		afterID int64
	)
	for {
		batch, err := a.reader.ListDues(ctx, afterID, integrityBatch)
		if err != nil {
			return nil, err
		}
		for _, d := range batch {
			if err := CheckInvariant(d); err != nil {
				out = append(out, IntegrityViolation{DueID: d.ID, Reason: err.Error()})
			}
			afterID = d.ID
		}
		if len(batch) < integrityBatch {
			return out, nil
		}
	}
}

func (a *Aggregator) feeTypeNames(ctx context.Context) (map[int64]string, error) {
	names := make(map[int64]string)
	if a.catalog == nil {
		return names, nil
	}
	types, err := a.catalog.ListFeeTypes(ctx)
	if err != nil {
		return nil, fmt.Errorf("ledger: load fee types: %w", err)
	}
	for _, ft := range types {
		names[ft.ID] = ft.Name
	}
	return names, nil
}
