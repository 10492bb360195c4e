package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/schoolledger/feeledger/internal/platform/httpx"
	"github.com/schoolledger/feeledger/internal/shared"
)

// LedgerService is the mutating surface used by the HTTP layer.
type LedgerService interface {
	GenerateDues(ctx context.Context, req GenerateRequest) (GenerateResult, error)
	CollectPayment(ctx context.Context, req CollectRequest) (Payment, error)
	RecordPayment(ctx context.Context, req RecordRequest) (Payment, error)
	UpdateDueAmount(ctx context.Context, dueID int64, newAmountDue decimal.Decimal, newDueDate time.Time) (Due, error)
}

// LedgerReader is the read surface used by the HTTP layer.
type LedgerReader interface {
	StudentLedger(ctx context.Context, studentID int64) (StudentLedger, error)
	Summary(ctx context.Context, scope SummaryScope, asOf time.Time) (Summary, error)
	Defaulters(ctx context.Context, page, perPage int) (DefaulterPage, error)
}

// Handler exposes ledger endpoints.
type Handler struct {
	logger       *slog.Logger
	service      LedgerService
	reader       LedgerReader
	validator    *httpx.Validator
	loc          *time.Location
	now          func() time.Time
	paymentLimit int
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service LedgerService, reader LedgerReader, loc *time.Location) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Handler{
		logger:       logger,
		service:      service,
		reader:       reader,
		validator:    httpx.NewValidator(),
		loc:          loc,
		now:          time.Now,
		paymentLimit: 30,
	}
}

// WithPaymentRateLimit overrides the per-actor payment submission limit.
func (h *Handler) WithPaymentRateLimit(perMinute int) {
	if perMinute > 0 {
		h.paymentLimit = perMinute
	}
}

// WithNow overrides the clock used for default dates.
func (h *Handler) WithNow(now func() time.Time) {
	if now != nil {
		h.now = now
	}
}

// IdempotencyHeader carries the client supplied request key.
const IdempotencyHeader = "Idempotency-Key"

type generateRequest struct {
	ClassIDs []int64 `json:"class_ids" validate:"required,min=1,dive,gt=0"`
	Month    int     `json:"month" validate:"required,min=1,max=12"`
	Year     int     `json:"year" validate:"required,gte=2000,lte=2100"`
	Scope    string  `json:"scope" validate:"required,oneof=monthly annual"`
	DueDate  string  `json:"due_date,omitempty"`
}

type collectRequest struct {
	StudentID   int64           `json:"student_id" validate:"required,gt=0"`
	DueIDs      []int64         `json:"due_ids" validate:"required,min=1,dive,gt=0"`
	Amount      decimal.Decimal `json:"amount"`
	Mode        string          `json:"mode" validate:"required"`
	PaymentDate string          `json:"payment_date,omitempty"`
	Remarks     string          `json:"remarks,omitempty" validate:"max=500"`
}

type recordRequest struct {
	StudentID   int64           `json:"student_id" validate:"required,gt=0"`
	FeeTypeID   int64           `json:"fee_type_id" validate:"required,gt=0"`
	Month       int             `json:"month" validate:"required,min=1,max=12"`
	Year        int             `json:"year" validate:"required,gte=2000,lte=2100"`
	Amount      decimal.Decimal `json:"amount"`
	Mode        string          `json:"mode" validate:"required"`
	PaymentDate string          `json:"payment_date,omitempty"`
	Remarks     string          `json:"remarks,omitempty" validate:"max=500"`
}

type adjustRequest struct {
	AmountDue decimal.Decimal `json:"amount_due"`
	DueDate   string          `json:"due_date,omitempty"`
}

func (h *Handler) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := h.decode(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	dueDate, err := h.parseDate(req.DueDate, false)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	result, err := h.service.GenerateDues(r.Context(), GenerateRequest{
		ClassIDs:    req.ClassIDs,
		PeriodMonth: req.Month,
		PeriodYear:  req.Year,
		Scope:       Scope(req.Scope),
		DueDate:     dueDate,
	})
	if err != nil {
		h.fail(w, "generate dues", err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) handleAdjustDue(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req adjustRequest
	if err := h.decode(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	dueDate, err := h.parseDate(req.DueDate, false)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	due, err := h.service.UpdateDueAmount(r.Context(), id, req.AmountDue, dueDate)
	if err != nil {
		h.fail(w, "adjust due", err)
		return
	}
	httpx.JSON(w, http.StatusOK, DueView{Due: due, Status: due.Status()})
}

func (h *Handler) handleCollect(w http.ResponseWriter, r *http.Request) {
	key, err := shared.ParseIdempotencyKey(r.Header.Get(IdempotencyHeader))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req collectRequest
	if err := h.decode(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	date, err := h.parseDate(req.PaymentDate, true)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	payment, err := h.service.CollectPayment(r.Context(), CollectRequest{
		StudentID:      req.StudentID,
		DueIDs:         req.DueIDs,
		Amount:         req.Amount,
		Mode:           PaymentMode(strings.ToLower(req.Mode)),
		PaymentDate:    date,
		Remarks:        req.Remarks,
		IdempotencyKey: key,
	})
	if err != nil {
		h.fail(w, "collect payment", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, payment)
}

func (h *Handler) handleRecord(w http.ResponseWriter, r *http.Request) {
	key, err := shared.ParseIdempotencyKey(r.Header.Get(IdempotencyHeader))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req recordRequest
	if err := h.decode(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	date, err := h.parseDate(req.PaymentDate, true)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	payment, err := h.service.RecordPayment(r.Context(), RecordRequest{
		StudentID:      req.StudentID,
		FeeTypeID:      req.FeeTypeID,
		PeriodMonth:    req.Month,
		PeriodYear:     req.Year,
		Amount:         req.Amount,
		Mode:           PaymentMode(strings.ToLower(req.Mode)),
		PaymentDate:    date,
		Remarks:        req.Remarks,
		IdempotencyKey: key,
	})
	if err != nil {
		h.fail(w, "record payment", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, payment)
}

func (h *Handler) handleStudentLedger(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	ledger, err := h.reader.StudentLedger(r.Context(), id)
	if err != nil {
		h.fail(w, "student ledger", err)
		return
	}
	httpx.JSON(w, http.StatusOK, ledger)
}

func (h *Handler) handleSummary(w http.ResponseWriter, r *http.Request) {
	scope := SummaryScope(r.URL.Query().Get("scope"))
	if scope == "" {
		scope = SummaryToday
	}
	asOf, err := h.parseDate(r.URL.Query().Get("date"), false)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	summary, err := h.reader.Summary(r.Context(), scope, asOf)
	if err != nil {
		h.fail(w, "ledger summary", err)
		return
	}
	httpx.JSON(w, http.StatusOK, summary)
}

func (h *Handler) handleDefaulters(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	perPage, _ := strconv.Atoi(r.URL.Query().Get("per_page"))
	if perPage > 200 {
		perPage = 200
	}
	result, err := h.reader.Defaulters(r.Context(), page, perPage)
	if err != nil {
		h.fail(w, "defaulters", err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

// parseDate reads a YYYY-MM-DD date in the ledger's timezone. An empty value
// yields today when defaultToday is set and the zero time otherwise.
func (h *Handler) parseDate(raw string, defaultToday bool) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		if defaultToday {
			return shared.DateOnly(h.now().In(h.loc)), nil
		}
		return time.Time{}, nil
	}
	t, err := time.ParseInLocation(time.DateOnly, raw, h.loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: date must be YYYY-MM-DD", httpx.ErrBadRequest)
	}
	return t, nil
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
