package feeconfig

import (
	"fmt"

	"github.com/schoolledger/feeledger/internal/shared"
)

var (
	ErrFeeTypeNotFound      = fmt.Errorf("%w: fee type", shared.ErrNotFound)
	ErrRateNotFound         = fmt.Errorf("%w: fee rate", shared.ErrNotFound)
	ErrFeeTypeNameRequired  = fmt.Errorf("%w: fee type name is required", shared.ErrValidation)
	ErrDuplicateFeeTypeName = fmt.Errorf("%w: fee type name already exists", shared.ErrValidation)
	ErrNegativeAmount       = fmt.Errorf("%w: amount must not be negative", shared.ErrValidation)
	ErrInvalidClass         = fmt.Errorf("%w: class id must be positive", shared.ErrValidation)
	ErrInvalidAcademicYear  = fmt.Errorf("%w: academic year out of range", shared.ErrValidation)
	ErrDuplicateRateID      = fmt.Errorf("%w: rate listed twice in batch", shared.ErrValidation)
	ErrEmptyBatch           = fmt.Errorf("%w: batch is empty", shared.ErrValidation)
	ErrFeeTypeReferenced    = fmt.Errorf("%w: fee type is referenced by rates or dues", shared.ErrConflict)
	ErrRecurrenceLocked     = fmt.Errorf("%w: recurrence cannot change once the fee type is referenced", shared.ErrConflict)
)
