// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"

	"github.com/schoolledger/feeledger/internal/shared"
)

// ErrBadRequest marks bodies and parameters rejected before a request reaches a service.
var ErrBadRequest = errors.New("malformed request")

// RespondError maps domain errors to HTTP responses using RFC7807.
func RespondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, shared.ErrValidation), errors.Is(err, ErrBadRequest):
		Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, shared.ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, shared.ErrConcurrentModification):
		Problem(w, http.StatusConflict, "Concurrent Modification", err.Error())
	case errors.Is(err, shared.ErrConflict):
		Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, shared.ErrOverpayment):
		Problem(w, http.StatusUnprocessableEntity, "Overpayment", err.Error())
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
