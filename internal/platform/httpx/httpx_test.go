package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/schoolledger/feeledger/internal/shared"
)

func TestRespondErrorMapsTaxonomy(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{fmt.Errorf("%w: amount must be positive", shared.ErrValidation), http.StatusBadRequest},
		{fmt.Errorf("%w: bad json", ErrBadRequest), http.StatusBadRequest},
		{fmt.Errorf("%w: due 9", shared.ErrNotFound), http.StatusNotFound},
		{fmt.Errorf("%w: fee type in use", shared.ErrConflict), http.StatusConflict},
		{fmt.Errorf("ledger: %w", shared.ErrConcurrentModification), http.StatusConflict},
		{fmt.Errorf("%w: 900 > 500", shared.ErrOverpayment), http.StatusUnprocessableEntity},
		{errors.New("connection reset"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		rr := httptest.NewRecorder()
		RespondError(rr, tc.err)
		require.Equal(t, tc.status, rr.Code, tc.err.Error())
		require.Equal(t, "application/problem+json", rr.Header().Get("Content-Type"))

		var problem ProblemDetail
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &problem))
		require.Equal(t, tc.status, problem.Status)
		if tc.status == http.StatusInternalServerError {
			require.Empty(t, problem.Detail)
		}
	}
}

func TestDecodeJSONStrict(t *testing.T) {
	type body struct {
		Amount string `json:"amount"`
	}
	var dst body
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"amount":"10.00"}`))
	require.NoError(t, DecodeJSON(req, &dst))
	require.Equal(t, "10.00", dst.Amount)

	for _, raw := range []string{`{"amount":"1","extra":true}`, `{"amount":"1"} {}`, `not json`} {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(raw))
		require.ErrorIs(t, DecodeJSON(req, &dst), ErrBadRequest, raw)
	}
}

func TestValidatorUsesJSONNames(t *testing.T) {
	type dto struct {
		StudentID int64  `json:"student_id" validate:"required,gt=0"`
		Mode      string `json:"mode" validate:"oneof=cash upi"`
	}
	v := NewValidator()
	require.NoError(t, v.Struct(dto{StudentID: 1, Mode: "cash"}))

	err := v.Struct(dto{Mode: "barter"})
	require.ErrorIs(t, err, shared.ErrValidation)
	require.Contains(t, err.Error(), "mode failed oneof=cash upi")
	require.Contains(t, err.Error(), "student_id failed required")
}
