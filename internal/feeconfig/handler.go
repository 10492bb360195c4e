package feeconfig

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/schoolledger/feeledger/internal/platform/httpx"
)

// ConfigService is the subset of Service used by the HTTP layer.
type ConfigService interface {
	ListFeeTypes(ctx context.Context) ([]FeeType, error)
	CreateFeeType(ctx context.Context, name string, isRecurring bool) (FeeType, error)
	UpdateFeeType(ctx context.Context, id int64, name string, isRecurring bool) (FeeType, error)
	DeleteFeeType(ctx context.Context, id int64) error
	UpsertRate(ctx context.Context, input RateInput) (FeeStructure, error)
	RateFor(ctx context.Context, classID, feeTypeID int64, academicYear int) (decimal.Decimal, error)
	ListRates(ctx context.Context, filter RateFilter) ([]FeeStructure, error)
	BulkUpdate(ctx context.Context, updates []RateUpdate) error
}

// Handler exposes the settings surface for fee types and rates.
type Handler struct {
	logger    *slog.Logger
	service   ConfigService
	validator *httpx.Validator
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service ConfigService) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, validator: httpx.NewValidator()}
}

type feeTypeRequest struct {
	Name        string `json:"name" validate:"required,max=120"`
	IsRecurring bool   `json:"is_recurring"`
}

type rateRequest struct {
	ClassID      int64           `json:"class_id" validate:"required,gt=0"`
	FeeTypeID    int64           `json:"fee_type_id" validate:"required,gt=0"`
	AcademicYear int             `json:"academic_year" validate:"required,gte=2000,lte=2100"`
	Amount       decimal.Decimal `json:"amount"`
}

type bulkRateRequest struct {
	Rates []bulkRateEntry `json:"rates" validate:"required,min=1,dive"`
}

type bulkRateEntry struct {
	ID     int64           `json:"id" validate:"required,gt=0"`
	Amount decimal.Decimal `json:"amount"`
}

type rateForResponse struct {
	ClassID      int64           `json:"class_id"`
	FeeTypeID    int64           `json:"fee_type_id"`
	AcademicYear int             `json:"academic_year"`
	Amount       decimal.Decimal `json:"amount"`
}

func (h *Handler) handleListFeeTypes(w http.ResponseWriter, r *http.Request) {
	types, err := h.service.ListFeeTypes(r.Context())
	if err != nil {
		h.fail(w, "list fee types", err)
		return
	}
	if types == nil {
		types = []FeeType{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"fee_types": types})
}

func (h *Handler) handleCreateFeeType(w http.ResponseWriter, r *http.Request) {
	var req feeTypeRequest
	if err := h.decode(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	ft, err := h.service.CreateFeeType(r.Context(), req.Name, req.IsRecurring)
	if err != nil {
		h.fail(w, "create fee type", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, ft)
}

func (h *Handler) handleUpdateFeeType(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req feeTypeRequest
	if err := h.decode(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	ft, err := h.service.UpdateFeeType(r.Context(), id, req.Name, req.IsRecurring)
	if err != nil {
		h.fail(w, "update fee type", err)
		return
	}
	httpx.JSON(w, http.StatusOK, ft)
}

func (h *Handler) handleDeleteFeeType(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.DeleteFeeType(r.Context(), id); err != nil {
		h.fail(w, "delete fee type", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleUpsertRate(w http.ResponseWriter, r *http.Request) {
	var req rateRequest
	if err := h.decode(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	rate, err := h.service.UpsertRate(r.Context(), RateInput{
		ClassID:      req.ClassID,
		FeeTypeID:    req.FeeTypeID,
		AcademicYear: req.AcademicYear,
		Amount:       req.Amount,
	})
	if err != nil {
		h.fail(w, "upsert rate", err)
		return
	}
	httpx.JSON(w, http.StatusOK, rate)
}

func (h *Handler) handleBulkRates(w http.ResponseWriter, r *http.Request) {
	var req bulkRateRequest
	if err := h.decode(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	updates := make([]RateUpdate, 0, len(req.Rates))
	for _, entry := range req.Rates {
		updates = append(updates, RateUpdate{ID: entry.ID, Amount: entry.Amount})
	}
	if err := h.service.BulkUpdate(r.Context(), updates); err != nil {
		h.fail(w, "bulk update rates", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"updated": len(updates)})
}

// handleListRates lists the rate card. When class, fee type and year are all
// given it answers a single rate lookup instead.
func (h *Handler) handleListRates(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := RateFilter{}
	var err error
	if filter.AcademicYear, err = queryInt(q.Get("academic_year")); err != nil {
		httpx.RespondError(w, err)
		return
	}
	classID, err := queryInt(q.Get("class_id"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	feeTypeID, err := queryInt(q.Get("fee_type_id"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	filter.ClassID = int64(classID)
	filter.FeeTypeID = int64(feeTypeID)

	if filter.ClassID > 0 && filter.FeeTypeID > 0 && filter.AcademicYear > 0 {
		amount, err := h.service.RateFor(r.Context(), filter.ClassID, filter.FeeTypeID, filter.AcademicYear)
		if err != nil {
			h.fail(w, "rate lookup", err)
			return
		}
		httpx.JSON(w, http.StatusOK, rateForResponse{
			ClassID:      filter.ClassID,
			FeeTypeID:    filter.FeeTypeID,
			AcademicYear: filter.AcademicYear,
			Amount:       amount,
		})
		return
	}

	rates, err := h.service.ListRates(r.Context(), filter)
	if err != nil {
		h.fail(w, "list rates", err)
		return
	}
	if rates == nil {
		rates = []FeeStructure{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"rates": rates})
}

func (h *Handler) decode(r *http.Request, dst any) error {
	if err := httpx.DecodeJSON(r, dst); err != nil {
		return err
	}
	return h.validator.Struct(dst)
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	h.logger.Warn(op, slog.Any("error", err))
	httpx.RespondError(w, err)
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid id", httpx.ErrBadRequest)
	}
	return id, nil
}

func queryInt(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("%w: invalid integer %q", httpx.ErrBadRequest, raw)
	}
	return v, nil
}
