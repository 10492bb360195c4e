package shared

import "errors"

// Error taxonomy shared by the fee configuration and ledger packages. Domain
// packages wrap these with fmt.Errorf("%w: ...") so callers can match with
// errors.Is regardless of the concrete message.
var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrValidation indicates malformed or out-of-range input.
	ErrValidation = errors.New("validation failed")
	// ErrConflict indicates a referential integrity or duplicate-submission conflict.
	ErrConflict = errors.New("conflict")
	// ErrOverpayment indicates a payment larger than the pending amount it targets.
	ErrOverpayment = errors.New("payment exceeds pending amount")
	// ErrConcurrentModification indicates the ledger kept changing underneath a write
	// after the bounded number of retries.
	ErrConcurrentModification = errors.New("concurrent modification")
)
