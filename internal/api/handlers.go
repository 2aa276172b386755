package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/capcall/riskengine/internal/domain"
	"github.com/capcall/riskengine/internal/ingestion"
	"github.com/capcall/riskengine/internal/matching"
	"github.com/capcall/riskengine/internal/repository"
	"github.com/capcall/riskengine/internal/workflow"
)

// Handlers groups all HTTP handler methods and their dependencies.
type Handlers struct {
	workflow    *workflow.Service
	ingestion   *ingestion.Service
	calls       *repository.CapitalCallRepo
	assessments *repository.AssessmentRepo
	payments    *repository.PaymentRepo
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zerolog.Ctx(r.Context()).Warn().Err(err).Msg("Encode response")
	}
}

func writeError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	writeJSON(w, r, status, map[string]string{"error": msg})
}

// writeServiceError maps service errors to status codes.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "not found")
	case errors.Is(err, workflow.ErrInvalidCapitalCall), errors.Is(err, workflow.ErrInvalidPayment):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, workflow.ErrAssessmentIncomplete):
		w.Header().Set("Retry-After", "5")
		writeJSON(w, r, http.StatusServiceUnavailable, map[string]any{"error": err.Error(), "retryable": true})
	default:
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("Request failed")
		writeError(w, r, http.StatusInternalServerError, err.Error())
	}
}

func parseDate(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		t, err = time.Parse(time.RFC3339, s)
		if err != nil {
			return nil, fmt.Errorf("invalid date %q", s)
		}
	}
	d := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return &d, nil
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

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

// --- request bodies ---

type capitalCallRequest struct {
	ID            string          `json:"id"`
	FundName      string          `json:"fund_name"`
	OwnerScope    string          `json:"owner_scope"`
	AmountDue     decimal.Decimal `json:"amount_due"`
	DueDate       string          `json:"due_date"`
	BankName      *string         `json:"bank_name"`
	AccountNumber *string         `json:"account_number"`
	RoutingNumber *string         `json:"routing_number"`
	WireReference *string         `json:"wire_reference"`
}

func (c capitalCallRequest) record() (domain.CapitalCallRecord, error) {
	due, err := parseDate(c.DueDate)
	if err != nil {
		return domain.CapitalCallRecord{}, err
	}
	if due == nil {
		return domain.CapitalCallRecord{}, errors.New("due_date is required")
	}
	return domain.CapitalCallRecord{
		ID:            c.ID,
		FundName:      strings.TrimSpace(c.FundName),
		OwnerScope:    strings.TrimSpace(c.OwnerScope),
		AmountDue:     c.AmountDue,
		DueDate:       *due,
		BankName:      c.BankName,
		AccountNumber: c.AccountNumber,
		RoutingNumber: c.RoutingNumber,
		WireReference: c.WireReference,
	}, nil
}

type paymentRequest struct {
	ID        string          `json:"id"`
	Amount    decimal.Decimal `json:"amount"`
	Date      string          `json:"date"`
	Reference *string         `json:"reference"`
}

func (p paymentRequest) payment() (domain.Payment, error) {
	date, err := parseDate(p.Date)
	if err != nil {
		return domain.Payment{}, err
	}
	return domain.Payment{ID: p.ID, Amount: p.Amount, Date: date, Reference: p.Reference}, nil
}

type candidateRequest struct {
	ID            string          `json:"id"`
	AmountDue     decimal.Decimal `json:"amount_due"`
	WireReference *string         `json:"wire_reference"`
	DueDate       string          `json:"due_date"`
}

type matchRequest struct {
	Payment    paymentRequest     `json:"payment"`
	Candidates []candidateRequest `json:"candidates"`
}

func (m matchRequest) parse() (domain.Payment, []domain.MatchCandidate, error) {
	p, err := m.Payment.payment()
	if err != nil {
		return p, nil, err
	}
	if !p.Amount.IsPositive() {
		return p, nil, errors.New("payment amount must be positive")
	}
	out := make([]domain.MatchCandidate, 0, len(m.Candidates))
	for i, c := range m.Candidates {
		if c.ID == "" {
			return p, nil, fmt.Errorf("candidate %d: id is required", i)
		}
		due, err := parseDate(c.DueDate)
		if err != nil {
			return p, nil, fmt.Errorf("candidate %s: %w", c.ID, err)
		}
		out = append(out, domain.MatchCandidate{ID: c.ID, AmountDue: c.AmountDue, WireReference: c.WireReference, DueDate: due})
	}
	return p, out, nil
}

// --- Health ---

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "healthy"})
}

// --- CreateCapitalCall ---

func (h *Handlers) CreateCapitalCall(w http.ResponseWriter, r *http.Request) {
	var req capitalCallRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	rec, err := req.record()
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	created, assessment, err := h.workflow.CreateCapitalCall(r.Context(), rec)
	if errors.Is(err, workflow.ErrAssessmentIncomplete) && created != nil {
		// The call is stored; only its assessment needs retrying.
		w.Header().Set("Retry-After", "5")
		writeJSON(w, r, http.StatusServiceUnavailable, map[string]any{
			"error":        err.Error(),
			"retryable":    true,
			"capital_call": created,
		})
		return
	}
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusCreated, map[string]any{
		"capital_call": created,
		"assessment":   assessment,
	})
}

// --- ListCapitalCalls ---

func (h *Handlers) ListCapitalCalls(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := repository.CapitalCallFilter{
		FundName:   q.Get("fund"),
		OwnerScope: q.Get("scope"),
		Status:     q.Get("status"),
		Page:       parseIntDefault(q.Get("page"), 1),
		Limit:      parseIntDefault(q.Get("limit"), 50),
	}
	if filter.Status != "" && !domain.CallStatus(filter.Status).Valid() {
		writeError(w, r, http.StatusBadRequest, "unknown status "+filter.Status)
		return
	}

	calls, total, err := h.calls.List(r.Context(), filter)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, map[string]any{
		"capital_calls": calls,
		"total":         total,
		"page":          filter.Page,
		"limit":         filter.Limit,
	})
}

// --- GetCapitalCall ---

func (h *Handlers) GetCapitalCall(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	rec, err := h.calls.GetByID(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	var assessment *domain.RiskAssessment
	switch a, err := h.assessments.GetByCapitalCallID(r.Context(), id); {
	case err == nil:
		assessment = a
	case !errors.Is(err, repository.ErrNotFound):
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, map[string]any{
		"capital_call": rec,
		"assessment":   assessment,
	})
}

// --- AssessCapitalCall ---

func (h *Handlers) AssessCapitalCall(w http.ResponseWriter, r *http.Request) {
	assessment, err := h.workflow.AssessCapitalCall(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, assessment)
}

// --- ListAssessments ---

func (h *Handlers) ListAssessments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := repository.AssessmentFilter{
		OverallRisk: strings.ToUpper(q.Get("risk")),
		FlaggedOnly: q.Get("flagged") == "true",
		Page:        parseIntDefault(q.Get("page"), 1),
		Limit:       parseIntDefault(q.Get("limit"), 50),
	}

	list, total, err := h.assessments.List(r.Context(), filter)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, map[string]any{
		"assessments": list,
		"total":       total,
		"page":        filter.Page,
		"limit":       filter.Limit,
	})
}

// --- GetAssessmentSummary ---

func (h *Handlers) GetAssessmentSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.assessments.GetSummary(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, summary)
}

// --- MatchPayment ---

func (h *Handlers) MatchPayment(w http.ResponseWriter, r *http.Request) {
	var req matchRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	p, candidates, err := req.parse()
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, r, http.StatusOK, map[string]any{"match": matching.MatchPayment(p, candidates)})
}

// --- RankPayment ---

// RankPayment ranks the candidates in the body, or every outstanding capital
// call when the body names none.
func (h *Handlers) RankPayment(w http.ResponseWriter, r *http.Request) {
	var req matchRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	p, candidates, err := req.parse()
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	var ranked []domain.MatchResult
	if len(req.Candidates) > 0 {
		ranked = matching.RankCandidates(p, candidates)
	} else if ranked, err = h.workflow.RankPayment(r.Context(), p); err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, map[string]any{"candidates": ranked})
}

// --- ReconcilePayments ---

func (h *Handlers) ReconcilePayments(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Payments []paymentRequest `json:"payments"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if len(req.Payments) == 0 {
		writeError(w, r, http.StatusBadRequest, "payments are required")
		return
	}

	payments := make([]domain.Payment, 0, len(req.Payments))
	for i, pr := range req.Payments {
		p, err := pr.payment()
		if err != nil {
			writeError(w, r, http.StatusBadRequest, fmt.Sprintf("payment %d: %v", i, err))
			return
		}
		payments = append(payments, p)
	}

	res, err := h.workflow.ReconcilePayments(r.Context(), payments)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, res)
}

// --- ImportStatement ---

func (h *Handlers) ImportStatement(w http.ResponseWriter, r *http.Request) {
	// Accept multipart form.
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid multipart form: "+err.Error())
		return
	}

	format := r.FormValue("format")
	if format == "" {
		writeError(w, r, http.StatusBadRequest, "format is required")
		return
	}

	file, _, err := r.FormFile("file")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "file field is required: "+err.Error())
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "read file: "+err.Error())
		return
	}

	result, err := h.ingestion.Import(r.Context(), data, format)
	if err != nil {
		writeError(w, r, http.StatusUnprocessableEntity, err.Error())
		return
	}

	writeJSON(w, r, http.StatusOK, result)
}

// --- ListMatches ---

func (h *Handlers) ListMatches(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := repository.MatchFilter{
		CapitalCallID: q.Get("capital_call_id"),
		Page:          parseIntDefault(q.Get("page"), 1),
		Limit:         parseIntDefault(q.Get("limit"), 50),
	}

	matches, total, err := h.payments.ListMatches(r.Context(), filter)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, map[string]any{
		"matches": matches,
		"total":   total,
		"page":    filter.Page,
		"limit":   filter.Limit,
	})
}
