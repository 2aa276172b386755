package workflow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capcall/riskengine/internal/domain"
	"github.com/capcall/riskengine/internal/repository"
	"github.com/capcall/riskengine/internal/risk"
)

type fixture struct {
	svc         *Service
	calls       *repository.CapitalCallRepo
	assessments *repository.AssessmentRepo
	payments    *repository.PaymentRepo
}

func newFixture(t *testing.T, wrap func(risk.HistoryReader) risk.HistoryReader) *fixture {
	t.Helper()
	db, err := repository.InitDB(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	f := &fixture{
		calls:       repository.NewCapitalCallRepo(db),
		assessments: repository.NewAssessmentRepo(db),
		payments:    repository.NewPaymentRepo(db),
	}
	var reader risk.HistoryReader = f.calls
	if wrap != nil {
		reader = wrap(reader)
	}

	f.svc, err = NewService(f.calls, f.assessments, f.payments, risk.NewEngine(reader),
		Options{MatchWorkers: 2, CandidateLimit: 100}, zerolog.Nop())
	require.NoError(t, err)
	f.svc.now = func() time.Time { return time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC) }
	return f
}

type failingReader struct {
	risk.HistoryReader
	err error
}

func (r failingReader) FindRecords(ctx context.Context, q risk.HistoryQuery) ([]domain.CapitalCallRecord, error) {
	if q.AllScopes {
		return nil, r.err
	}
	return r.HistoryReader.FindRecords(ctx, q)
}

func strp(s string) *string { return &s }

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

const fund = "Evergreen Growth Fund III"

func (f *fixture) seedHistory(t *testing.T) {
	t.Helper()
	for i, amt := range []string{"90000", "110000", "90000", "110000"} {
		c := &domain.CapitalCallRecord{
			ID:            "hist-" + string(rune('1'+i)),
			FundName:      fund,
			OwnerScope:    "investor-42",
			AmountDue:     decimal.RequireFromString(amt),
			DueDate:       date(2024, time.Month(1+i), 1),
			BankName:      strp("Harbor National Bank"),
			AccountNumber: strp("987654321012"),
			Status:        domain.StatusPaid,
			CreatedAt:     date(2024, 1, 1),
		}
		require.NoError(t, f.calls.Insert(context.Background(), c))
	}
}

func newCall(amount string, due time.Time) domain.CapitalCallRecord {
	return domain.CapitalCallRecord{
		FundName:      fund,
		OwnerScope:    "investor-42",
		AmountDue:     decimal.RequireFromString(amount),
		DueDate:       due,
		BankName:      strp("Harbor National Bank"),
		AccountNumber: strp("987654321012"),
		RoutingNumber: strp("021000021"),
		WireReference: strp("EGF3-CALL-09"),
	}
}

func TestCreateCapitalCall_LowRiskStaysPending(t *testing.T) {
	f := newFixture(t, nil)
	f.seedHistory(t)
	ctx := context.Background()

	rec, a, err := f.svc.CreateCapitalCall(ctx, newCall("100000", date(2024, 9, 1)))
	require.NoError(t, err)
	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, domain.RiskLow, a.OverallRisk)
	assert.False(t, a.ShouldFlag)

	stored, err := f.calls.GetByID(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, stored.Status)

	sa, err := f.assessments.GetByCapitalCallID(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "RISK-"+rec.ID, sa.ID)
	assert.Equal(t, a.PayloadHash, sa.PayloadHash)
	assert.True(t, sa.Detail.Complete())
}

func TestCreateCapitalCall_HighAmountIsFlagged(t *testing.T) {
	f := newFixture(t, nil)
	f.seedHistory(t)
	ctx := context.Background()

	rec, a, err := f.svc.CreateCapitalCall(ctx, newCall("140000", date(2024, 9, 1)))
	require.NoError(t, err)
	assert.Equal(t, domain.RiskHigh, a.OverallRisk)
	assert.True(t, a.ShouldFlag)
	assert.Equal(t, domain.StatusFlagged, rec.Status)

	stored, err := f.calls.GetByID(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFlagged, stored.Status)
}

func TestAssessCapitalCall_Idempotent(t *testing.T) {
	f := newFixture(t, nil)
	f.seedHistory(t)
	ctx := context.Background()

	call := newCall("100000", date(2024, 9, 1))
	call.BankName = strp("Offshore Holdings Ltd")
	rec, first, err := f.svc.CreateCapitalCall(ctx, call)
	require.NoError(t, err)
	require.True(t, first.ShouldFlag)

	second, err := f.svc.AssessCapitalCall(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Len(t, second.PayloadHash, 64)

	list, total, err := f.assessments.List(ctx, repository.AssessmentFilter{})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Len(t, list, 1)

	stored, err := f.calls.GetByID(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFlagged, stored.Status)
}

func TestAssessCapitalCall_IncompleteWritesNothing(t *testing.T) {
	boom := errors.New("replica lag")
	f := newFixture(t, func(r risk.HistoryReader) risk.HistoryReader {
		return failingReader{HistoryReader: r, err: boom}
	})
	f.seedHistory(t)
	ctx := context.Background()

	rec, a, err := f.svc.CreateCapitalCall(ctx, newCall("140000", date(2024, 9, 1)))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAssessmentIncomplete)
	assert.ErrorIs(t, err, boom)
	assert.True(t, risk.IsRetryable(err))
	assert.Nil(t, a)
	require.NotNil(t, rec)

	stored, err := f.calls.GetByID(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, stored.Status)

	_, err = f.assessments.GetByCapitalCallID(ctx, rec.ID)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestCreateCapitalCall_Validation(t *testing.T) {
	f := newFixture(t, nil)
	bad := newCall("0", date(2024, 9, 1))
	_, _, err := f.svc.CreateCapitalCall(context.Background(), bad)
	assert.ErrorIs(t, err, ErrInvalidCapitalCall)

	bad = newCall("10", time.Time{})
	_, _, err = f.svc.CreateCapitalCall(context.Background(), bad)
	assert.ErrorIs(t, err, ErrInvalidCapitalCall)
}

func TestAssessCapitalCall_NotFound(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.svc.AssessCapitalCall(context.Background(), "nope")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func (f *fixture) seedOutstanding(t *testing.T) {
	t.Helper()
	for _, c := range []*domain.CapitalCallRecord{
		{ID: "cc-a", FundName: fund, OwnerScope: "investor-42", AmountDue: decimal.RequireFromString("250000"),
			DueDate: date(2024, 3, 15), WireReference: strp("EGF3-CALL-07"), Status: domain.StatusApproved},
		{ID: "cc-b", FundName: fund, OwnerScope: "investor-7", AmountDue: decimal.RequireFromString("250000"),
			DueDate: date(2024, 3, 15), WireReference: strp("EGF3-CALL-07"), Status: domain.StatusApproved},
		{ID: "cc-c", FundName: fund, OwnerScope: "investor-9", AmountDue: decimal.RequireFromString("80000"),
			DueDate: date(2024, 4, 1), WireReference: strp("EGF3-CALL-08"), Status: domain.StatusPending},
	} {
		c.CreatedAt = date(2024, 1, 1)
		require.NoError(t, f.calls.Insert(context.Background(), c))
	}
}

func TestReconcilePayments(t *testing.T) {
	f := newFixture(t, nil)
	f.seedOutstanding(t)
	ctx := context.Background()

	d := date(2024, 3, 15)
	payments := []domain.Payment{
		{ID: "p-1", Amount: decimal.RequireFromString("250000"), Date: &d, Reference: strp("EGF3-CALL-07")},
		{ID: "p-2", Amount: decimal.RequireFromString("250000"), Date: &d, Reference: strp("EGF3-CALL-07")},
		{ID: "p-3", Amount: decimal.RequireFromString("80000")},
	}

	res, err := f.svc.ReconcilePayments(ctx, payments)
	require.NoError(t, err)
	require.Len(t, res.Matched, 2)
	assert.Equal(t, "cc-a", res.Matched[0].CapitalCallID)
	assert.Equal(t, domain.MatchExact, res.Matched[0].MatchType)
	assert.Equal(t, "cc-b", res.Matched[1].CapitalCallID, "a taken call is withdrawn from later payments")
	assert.Equal(t, []string{"p-3"}, res.Unmatched, "amount alone never clears the threshold")

	for _, id := range []string{"cc-a", "cc-b"} {
		c, err := f.calls.GetByID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusPaid, c.Status)
	}

	again, err := f.svc.ReconcilePayments(ctx, payments)
	require.NoError(t, err)
	assert.Equal(t, 2, again.AlreadyMatched)
	assert.Empty(t, again.Matched)
	assert.Equal(t, []string{"p-3"}, again.Unmatched)
}

func TestReconcilePayments_RejectsNonPositive(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.svc.ReconcilePayments(context.Background(), []domain.Payment{{Amount: decimal.Zero}})
	assert.ErrorIs(t, err, ErrInvalidPayment)
}

func TestRankPayment(t *testing.T) {
	f := newFixture(t, nil)
	f.seedOutstanding(t)

	ranked, err := f.svc.RankPayment(context.Background(), domain.Payment{
		Amount: decimal.RequireFromString("80000"), Reference: strp("EGF3-CALL-08"),
	})
	require.NoError(t, err)
	require.Len(t, ranked, 3)
	assert.Equal(t, "cc-c", ranked[0].CapitalCallID)
	assert.InDelta(t, 0.8, ranked[0].Confidence, 1e-9)
}

func TestPayloadHash_Deterministic(t *testing.T) {
	res := risk.Aggregate(
		&domain.AnomalyResult{Severity: domain.SeverityNone, HistoricalAverage: decimal.RequireFromString("100000.50")},
		&domain.DuplicateResult{Similarity: 0.5},
		&domain.FraudResult{Indicators: []string{}, Recommendations: []string{}},
	)
	h1, err := payloadHash(res)
	require.NoError(t, err)
	h2, err := payloadHash(res)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)

	res.Duplicate.Similarity = 0.51
	h3, err := payloadHash(res)
	require.NoError(t, err)
	assert.NotEqual(t, h1, h3)
}
