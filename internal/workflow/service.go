// Package workflow is the caller side of the risk engine: it loads records,
// runs the detectors and matcher, and performs the status changes and audit
// writes the engine itself never makes.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/capcall/riskengine/internal/domain"
	"github.com/capcall/riskengine/internal/matching"
	"github.com/capcall/riskengine/internal/repository"
	"github.com/capcall/riskengine/internal/risk"
)

var (
	// ErrAssessmentIncomplete wraps a risk.AggregateError. Nothing was
	// written; the assessment can be retried.
	ErrAssessmentIncomplete = errors.New("risk assessment incomplete")

	ErrInvalidCapitalCall = errors.New("invalid capital call")
	ErrInvalidPayment     = errors.New("invalid payment")
)

type Options struct {
	MatchWorkers   int
	CandidateLimit int
}

// Service coordinates capital call assessment and payment reconciliation.
type Service struct {
	calls       *repository.CapitalCallRepo
	assessments *repository.AssessmentRepo
	payments    *repository.PaymentRepo
	engine      *risk.Engine
	opts        Options
	metrics     *instruments
	log         zerolog.Logger
	now         func() time.Time
}

func NewService(
	calls *repository.CapitalCallRepo,
	assessments *repository.AssessmentRepo,
	payments *repository.PaymentRepo,
	engine *risk.Engine,
	opts Options,
	log zerolog.Logger,
) (*Service, error) {
	ins, err := newInstruments()
	if err != nil {
		return nil, fmt.Errorf("create instruments: %w", err)
	}
	if opts.MatchWorkers < 1 {
		opts.MatchWorkers = 1
	}
	return &Service{
		calls:       calls,
		assessments: assessments,
		payments:    payments,
		engine:      engine,
		opts:        opts,
		metrics:     ins,
		log:         log.With().Str("component", "workflow").Logger(),
		now:         time.Now,
	}, nil
}

// CreateCapitalCall stores a new pending call and assesses it. The call is
// kept even when the assessment fails; the returned error then wraps
// ErrAssessmentIncomplete.
func (s *Service) CreateCapitalCall(ctx context.Context, rec domain.CapitalCallRecord) (*domain.CapitalCallRecord, *domain.RiskAssessment, error) {
	if err := validateCall(&rec); err != nil {
		return nil, nil, err
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	rec.Status = domain.StatusPending
	rec.CreatedAt = s.now().UTC()

	if err := s.calls.Insert(ctx, &rec); err != nil {
		return nil, nil, err
	}
	s.log.Info().
		Str("capital_call_id", rec.ID).
		Str("fund", rec.FundName).
		Str("amount", rec.AmountDue.StringFixed(2)).
		Msg("Capital call created")

	assessment, err := s.AssessCapitalCall(ctx, rec.ID)
	if err != nil {
		return &rec, nil, err
	}
	if assessment.ShouldFlag {
		rec.Status = domain.StatusFlagged
	}
	return &rec, assessment, nil
}

// AssessCapitalCall runs every detector and, only when all of them
// succeeded, stores the audit payload and flags a pending call whose risk is
// MEDIUM or HIGH. Re-running it with unchanged history leaves the same state.
func (s *Service) AssessCapitalCall(ctx context.Context, id string) (*domain.RiskAssessment, error) {
	rec, err := s.calls.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	result, err := s.engine.CheckAllAnomalies(ctx, rec)
	if err != nil {
		s.log.Warn().Err(err).
			Str("capital_call_id", id).
			Bool("retryable", risk.IsRetryable(err)).
			Msg("Risk assessment incomplete")
		return nil, fmt.Errorf("%w: %w", ErrAssessmentIncomplete, err)
	}

	hash, err := payloadHash(result)
	if err != nil {
		return nil, err
	}

	assessment := &domain.RiskAssessment{
		ID:            "RISK-" + rec.ID,
		CapitalCallID: rec.ID,
		OverallRisk:   result.OverallRisk,
		ShouldFlag:    result.ShouldFlag,
		Detail:        *result,
		PayloadHash:   hash,
		AssessedAt:    s.now().UTC(),
	}
	changed, err := s.assessments.Save(ctx, assessment)
	if err != nil {
		return nil, err
	}
	s.metrics.recordAssessment(ctx, result.OverallRisk)
	if changed {
		s.metrics.flagged.Add(ctx, 1)
	}

	s.log.Info().
		Str("capital_call_id", rec.ID).
		Str("overall_risk", string(result.OverallRisk)).
		Bool("should_flag", result.ShouldFlag).
		Int("fraud_score", result.Fraud.RiskScore).
		Str("payload_hash", hash).
		Msg("Risk assessment stored")

	return assessment, nil
}

// ReconcileResult summarises one reconciliation run.
type ReconcileResult struct {
	Matched        []domain.PaymentMatch `json:"matched"`
	Unmatched      []string              `json:"unmatched"`
	AlreadyMatched int                   `json:"already_matched"`
}

// ReconcilePayments stores the payments and matches each one against the
// outstanding capital calls. Matches are applied in payment order and a call
// taken by an earlier payment is withdrawn from later ones. Payments that
// were matched by an earlier run are skipped.
func (s *Service) ReconcilePayments(ctx context.Context, payments []domain.Payment) (*ReconcileResult, error) {
	for i := range payments {
		if err := validatePayment(&payments[i]); err != nil {
			return nil, fmt.Errorf("payment %d: %w", i, err)
		}
		if payments[i].ID == "" {
			payments[i].ID = uuid.NewString()
		}
	}
	if _, err := s.payments.InsertPayments(ctx, "", payments); err != nil {
		return nil, err
	}

	res := &ReconcileResult{Matched: []domain.PaymentMatch{}, Unmatched: []string{}}

	pending := make([]domain.Payment, 0, len(payments))
	for _, p := range payments {
		_, err := s.payments.GetMatchByPaymentID(ctx, p.ID)
		switch {
		case err == nil:
			res.AlreadyMatched++
		case errors.Is(err, repository.ErrNotFound):
			pending = append(pending, p)
		default:
			return nil, err
		}
	}
	if len(pending) == 0 {
		return res, nil
	}

	candidates, err := s.outstandingCandidates(ctx)
	if err != nil {
		return nil, err
	}

	batch, err := matching.MatchBatch(ctx, pending, candidates, s.opts.MatchWorkers)
	if err != nil {
		return nil, fmt.Errorf("match batch: %w", err)
	}

	taken := make(map[string]bool)
	for _, bm := range batch {
		m := bm.Match
		if m != nil && taken[m.CapitalCallID] {
			m = matching.MatchPayment(bm.Payment, remaining(candidates, taken))
		}
		if m == nil {
			res.Unmatched = append(res.Unmatched, bm.Payment.ID)
			s.metrics.unmatched.Add(ctx, 1)
			continue
		}

		pm := domain.PaymentMatch{
			PaymentID:     bm.Payment.ID,
			CapitalCallID: m.CapitalCallID,
			Confidence:    m.Confidence,
			MatchType:     m.MatchType,
			MatchedAt:     s.now().UTC(),
		}
		if _, err := s.payments.RecordMatch(ctx, &pm); err != nil {
			return nil, err
		}
		if _, err := s.calls.TransitionStatus(ctx, m.CapitalCallID, domain.StatusPaid,
			domain.StatusPending, domain.StatusApproved); err != nil {
			return nil, err
		}
		taken[m.CapitalCallID] = true
		res.Matched = append(res.Matched, pm)
		s.metrics.matched.Add(ctx, 1)

		s.log.Info().
			Str("payment_id", pm.PaymentID).
			Str("capital_call_id", pm.CapitalCallID).
			Float64("confidence", pm.Confidence).
			Str("match_type", string(pm.MatchType)).
			Msg("Payment matched")
	}

	s.log.Info().
		Int("matched", len(res.Matched)).
		Int("unmatched", len(res.Unmatched)).
		Int("already_matched", res.AlreadyMatched).
		Msg("Reconciliation finished")

	return res, nil
}

// RankPayment scores a payment against every outstanding call for manual
// resolution.
func (s *Service) RankPayment(ctx context.Context, payment domain.Payment) ([]domain.MatchResult, error) {
	if err := validatePayment(&payment); err != nil {
		return nil, err
	}
	candidates, err := s.outstandingCandidates(ctx)
	if err != nil {
		return nil, err
	}
	return matching.RankCandidates(payment, candidates), nil
}

func (s *Service) outstandingCandidates(ctx context.Context) ([]domain.MatchCandidate, error) {
	calls, err := s.calls.ListOutstanding(ctx, "", s.opts.CandidateLimit)
	if err != nil {
		return nil, err
	}
	out := make([]domain.MatchCandidate, len(calls))
	for i := range calls {
		out[i] = calls[i].MatchCandidate()
	}
	return out, nil
}

func remaining(candidates []domain.MatchCandidate, taken map[string]bool) []domain.MatchCandidate {
	out := make([]domain.MatchCandidate, 0, len(candidates))
	for _, c := range candidates {
		if !taken[c.ID] {
			out = append(out, c)
		}
	}
	return out
}

func validateCall(rec *domain.CapitalCallRecord) error {
	switch {
	case rec.FundName == "":
		return fmt.Errorf("%w: fund_name is required", ErrInvalidCapitalCall)
	case rec.OwnerScope == "":
		return fmt.Errorf("%w: owner_scope is required", ErrInvalidCapitalCall)
	case !rec.AmountDue.IsPositive():
		return fmt.Errorf("%w: amount_due must be positive", ErrInvalidCapitalCall)
	case rec.DueDate.IsZero():
		return fmt.Errorf("%w: due_date is required", ErrInvalidCapitalCall)
	}
	return nil
}

func validatePayment(p *domain.Payment) error {
	if !p.Amount.IsPositive() {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidPayment)
	}
	return nil
}
