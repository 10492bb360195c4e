package feeconfig

import (
	"time"

	"github.com/shopspring/decimal"
)

// FeeType is a catalog entry describing one kind of fee obligation.
type FeeType struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	IsRecurring bool      `json:"is_recurring"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// FeeStructure is one cell of the rate card: the amount charged to a class
// for a fee type in an academic year.
type FeeStructure struct {
	ID           int64           `json:"id"`
	ClassID      int64           `json:"class_id"`
	FeeTypeID    int64           `json:"fee_type_id"`
	AcademicYear int             `json:"academic_year"`
	Amount       decimal.Decimal `json:"amount"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// RateInput carries the fields of an upsert.
type RateInput struct {
	ClassID      int64
	FeeTypeID    int64
	AcademicYear int
	Amount       decimal.Decimal
}

// RateUpdate changes the amount of an existing rate row.
type RateUpdate struct {
	ID     int64           `json:"id"`
	Amount decimal.Decimal `json:"amount"`
}

// RateFilter narrows ListRates. Zero values mean "any".
type RateFilter struct {
	AcademicYear int
	ClassID      int64
	FeeTypeID    int64
}
