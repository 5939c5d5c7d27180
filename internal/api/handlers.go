package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/wakala/loanengine/internal/domain"
	"github.com/wakala/loanengine/internal/ingestion"
	"github.com/wakala/loanengine/internal/payment"
	"github.com/wakala/loanengine/internal/repository"
	"github.com/wakala/loanengine/internal/risk"
	"github.com/wakala/loanengine/internal/servicing"
	"github.com/wakala/loanengine/internal/terms"
)

const maxBodyBytes = 1 << 20

// SnapshotReader serves stored collateral snapshots and the feeds they came
// from.
type SnapshotReader interface {
	Latest(ctx context.Context, asset string) (domain.CollateralSnapshot, error)
	ListFeeds(ctx context.Context) ([]domain.SnapshotFeed, error)
}

// Handlers groups all HTTP handler methods and their dependencies.
type Handlers struct {
	loans     *servicing.Service
	ingestion *ingestion.Service
	snapshots SnapshotReader
	log       *slog.Logger
}

// --- helpers ---

func encodeJSON(w http.ResponseWriter, status int, v any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(v)
}

func (h *Handlers) writeJSON(w http.ResponseWriter, status int, v any) {
	if err := encodeJSON(w, status, v); err != nil {
		h.log.Warn("encode response", slog.Int("status", status), slog.String("error", err.Error()))
	}
}

func (h *Handlers) writeError(w http.ResponseWriter, status int, msg string) {
	h.writeJSON(w, status, map[string]string{"error": msg})
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return domain.Invalid("invalid JSON body: %v", err)
	}
	return nil
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		t, err = time.Parse("2006-01-02", s)
		if err != nil {
			return time.Time{}, domain.Invalid("invalid date %q", s)
		}
	}
	return t.UTC(), nil
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 1 {
		return def
	}
	return v
}

// --- AssessRisk ---

type assessRequest struct {
	LoanAmount          decimal.Decimal  `json:"loan_amount"`
	CollateralAmount    decimal.Decimal  `json:"collateral_amount"`
	MonthlyIncome       *decimal.Decimal `json:"monthly_income"`
	CreditScore         *int             `json:"credit_score"`
	EmploymentStatus    *string          `json:"employment_status"`
	ExistingMonthlyDebt *decimal.Decimal `json:"existing_monthly_debt"`
}

func (h *Handlers) AssessRisk(w http.ResponseWriter, r *http.Request) {
	var req assessRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	in := risk.Input{
		LoanAmount:          req.LoanAmount,
		CollateralAmount:    req.CollateralAmount,
		MonthlyIncome:       risk.FromPtr(req.MonthlyIncome),
		CreditScore:         risk.FromPtr(req.CreditScore),
		ExistingMonthlyDebt: risk.FromPtr(req.ExistingMonthlyDebt),
	}
	if req.EmploymentStatus != nil {
		in.Employment = risk.Known(risk.EmploymentStatus(*req.EmploymentStatus))
	}

	h.writeJSON(w, http.StatusOK, risk.Assess(in))
}

// --- QuoteTerms / BuildSchedule ---

type termsRequest struct {
	Principal      decimal.Decimal `json:"principal"`
	AnnualRate     float64         `json:"annual_rate"`
	DurationMonths int             `json:"duration_months"`
	StartDate      string          `json:"start_date,omitempty"`
}

func (h *Handlers) QuoteTerms(w http.ResponseWriter, r *http.Request) {
	var req termsRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	t, err := terms.Calculate(req.Principal, req.AnnualRate, req.DurationMonths)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, t)
}

func (h *Handlers) BuildSchedule(w http.ResponseWriter, r *http.Request) {
	var req termsRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	start, err := parseTime(req.StartDate)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if start.IsZero() {
		start = time.Now().UTC()
	}
	rows, err := terms.Schedule(req.Principal, req.AnnualRate, req.DurationMonths, start)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"schedule": rows})
}

// --- Loans ---

func (h *Handlers) ApplyForLoan(w http.ResponseWriter, r *http.Request) {
	var app servicing.Application
	if err := decodeJSON(r, &app); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	res, err := h.loans.Apply(r.Context(), app)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, res)
}

func (h *Handlers) ListLoans(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := repository.LoanFilter{
		BorrowerID: q.Get("borrower_id"),
		Status:     q.Get("status"),
		Page:       parseIntDefault(q.Get("page"), 1),
		Limit:      parseIntDefault(q.Get("limit"), 50),
	}
	if filter.Limit > 200 {
		filter.Limit = 200
	}

	loans, total, err := h.loans.List(r.Context(), filter)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if loans == nil {
		loans = []domain.Loan{}
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"loans": loans,
		"total": total,
		"page":  filter.Page,
		"limit": filter.Limit,
	})
}

func (h *Handlers) GetLoan(w http.ResponseWriter, r *http.Request) {
	loan, err := h.loans.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, loan)
}

type confirmRequest struct {
	DepositedAmount decimal.Decimal `json:"deposited_amount"`
	TxReference     string          `json:"tx_reference"`
}

func (h *Handlers) ConfirmCollateral(w http.ResponseWriter, r *http.Request) {
	var req confirmRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	loan, err := h.loans.ConfirmDeposit(r.Context(), domain.EscrowConfirmation{
		LoanID:          chi.URLParam(r, "id"),
		DepositedAmount: req.DepositedAmount,
		TxReference:     strings.TrimSpace(req.TxReference),
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, loan)
}

type repaymentRequest struct {
	Amount      decimal.Decimal `json:"amount"`
	PayerID     string          `json:"payer_id"`
	PaymentDate string          `json:"payment_date,omitempty"`
}

func (h *Handlers) SubmitRepayment(w http.ResponseWriter, r *http.Request) {
	var req repaymentRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	date, err := parseTime(req.PaymentDate)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	res, err := h.loans.SubmitPayment(r.Context(), chi.URLParam(r, "id"), payment.Payment{
		Amount:  req.Amount,
		PayerID: strings.TrimSpace(req.PayerID),
		Date:    date,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, res)
}

func (h *Handlers) ListRepayments(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	recs, err := h.loans.Repayments(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if recs == nil {
		recs = []domain.RepaymentRecord{}
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"loan_id": id, "repayments": recs})
}

func (h *Handlers) LoanSchedule(w http.ResponseWriter, r *http.Request) {
	rows, err := h.loans.Schedule(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"schedule": rows})
}

func (h *Handlers) PayoffQuote(w http.ResponseWriter, r *http.Request) {
	at, err := parseTime(r.URL.Query().Get("date"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	quote, err := h.loans.Payoff(r.Context(), chi.URLParam(r, "id"), at)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, quote)
}

func (h *Handlers) Delinquency(w http.ResponseWriter, r *http.Request) {
	status, err := h.loans.Delinquency(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, status)
}

func (h *Handlers) ListIntents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	intents, err := h.loans.Intents(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if intents == nil {
		intents = []domain.CustodyIntent{}
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"loan_id": id, "intents": intents})
}

// --- Collateral ---

func (h *Handlers) IngestFeed(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid multipart form: "+err.Error())
		return
	}

	format := r.FormValue("format")
	if format == "" {
		h.writeError(w, http.StatusBadRequest, "format is required")
		return
	}

	file, _, err := r.FormFile("file")
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "file field is required: "+err.Error())
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "read file: "+err.Error())
		return
	}

	result, err := h.ingestion.IngestFeed(r.Context(), data, r.FormValue("source"), format)
	if err != nil {
		if errors.Is(err, domain.ErrValidation) {
			h.writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		h.writeServiceError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, result)
}

func (h *Handlers) LatestSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := h.snapshots.Latest(r.Context(), chi.URLParam(r, "asset"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, snap)
}

// ListFeeds returns ingested feed files, newest first.
func (h *Handlers) ListFeeds(w http.ResponseWriter, r *http.Request) {
	feeds, err := h.snapshots.ListFeeds(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if feeds == nil {
		feeds = []domain.SnapshotFeed{}
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"feeds": feeds, "total": len(feeds)})
}
